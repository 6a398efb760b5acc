package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func failSpan(span trace.Span, err error, msg string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
}

// incidents raises admin-visible records for partially applied purchases.
type incidents struct {
	repo      repository.InconsistencyRepository
	publisher *kafka.Publisher
}

func (i incidents) raise(ctx context.Context, kind models.InconsistencyKind, userID int64, orderID *int64, format string, args ...any) {
	rec := &models.Inconsistency{
		OrderID: orderID,
		UserID:  userID,
		Kind:    kind,
		Detail:  fmt.Sprintf(format, args...),
	}
	if err := i.repo.Record(ctx, rec); err != nil {
		slog.Error("failed to record inconsistency", "user_id", userID, "kind", kind, "detail", rec.Detail, "error", err)
	}
	event := kafka.Event{Type: kafka.EventInconsistency, UserID: userID, Text: fmt.Sprintf("%s: %s", kind, rec.Detail)}
	if orderID != nil {
		event.OrderID = *orderID
	}
	i.publisher.Publish(ctx, kafka.TopicAlerts, userID, event)
}

// compensated counts a compensating action and records what it undid.
func (i incidents) compensated(ctx context.Context, action string, kind models.InconsistencyKind, userID int64, orderID *int64, format string, args ...any) {
	observability.Compensations.WithLabelValues(action).Inc()
	i.raise(ctx, kind, userID, orderID, format, args...)
}

func orderRef(id int64) string {
	return fmt.Sprintf("order:%d", id)
}

func receiptRef(id int64) string {
	return fmt.Sprintf("receipt:%d", id)
}
