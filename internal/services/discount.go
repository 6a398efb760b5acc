package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var hundred = decimal.NewFromInt(100)

// DiscountedPrice applies percent off to price and rounds half away from zero
// to whole minor units.
func DiscountedPrice(price int64, percent int) int64 {
	if percent <= 0 {
		return price
	}
	if percent >= 100 {
		return 0
	}
	kept := decimal.NewFromInt(int64(100 - percent))
	return decimal.NewFromInt(price).Mul(kept).Div(hundred).Round(0).IntPart()
}

type DiscountService struct {
	codes repository.DiscountRepository
}

func NewDiscountService(codes repository.DiscountRepository) *DiscountService {
	return &DiscountService{codes: codes}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the code for the plan at now and hands out a reservation
// token. Nothing is consumed until Redeem.
func (s *DiscountService) Validate(ctx context.Context, code string, planID int64, now time.Time) (*models.Reservation, error) {
	tracer := otel.Tracer("discount-service")
	ctx, span := tracer.Start(ctx, "Validate")
	defer span.End()
	span.SetAttributes(attribute.String("code", code), attribute.Int64("plan_id", planID))

	d, err := s.codes.GetByCode(ctx, normalizeCode(code))
	if err != nil {
		failSpan(span, err, "code lookup failed")
		return nil, err
	}
	switch {
	case d.ExpiresAt != nil && !now.Before(*d.ExpiresAt):
		err = pkgerrors.ErrDiscountExpired
	case d.UsedCount >= d.MaxUsage:
		err = pkgerrors.ErrUsageExceeded
	case d.PlanID != nil && *d.PlanID != planID:
		err = pkgerrors.ErrPlanMismatch
	}
	if err != nil {
		failSpan(span, err, "code rejected")
		slog.Info("discount code rejected", "code", d.Code, "plan_id", planID, "reason", err)
		return nil, err
	}

	return &models.Reservation{Token: uuid.NewString(), CodeID: d.ID, Code: d.Code, Percent: d.Percent}, nil
}

// Redeem consumes one use of the reserved code. Redeeming the same token
// again is a no-op and reports applied == false.
func (s *DiscountService) Redeem(ctx context.Context, res *models.Reservation, orderID int64) (bool, error) {
	tracer := otel.Tracer("discount-service")
	ctx, span := tracer.Start(ctx, "Redeem")
	defer span.End()
	span.SetAttributes(attribute.Int64("discount_id", res.CodeID), attribute.Int64("order_id", orderID))

	applied, err := s.codes.Redeem(ctx, res.CodeID, res.Token, orderID)
	if err != nil {
		failSpan(span, err, "redeem failed")
		return false, err
	}
	return applied, nil
}

// Release gives back the use consumed by token, if any.
func (s *DiscountService) Release(ctx context.Context, token string) (bool, error) {
	tracer := otel.Tracer("discount-service")
	ctx, span := tracer.Start(ctx, "Release")
	defer span.End()

	released, err := s.codes.Release(ctx, token)
	if err != nil {
		failSpan(span, err, "release failed")
		return false, err
	}
	return released, nil
}

func (s *DiscountService) Create(ctx context.Context, code *models.DiscountCode) error {
	if code == nil {
		return pkgerrors.ErrNilEntity
	}
	code.Code = normalizeCode(code.Code)
	switch {
	case code.Code == "":
		return fmt.Errorf("%w: code is required", pkgerrors.ErrInvalidInput)
	case code.Percent < 1 || code.Percent > 100:
		return fmt.Errorf("%w: percent must be between 1 and 100", pkgerrors.ErrInvalidInput)
	case code.MaxUsage < 0:
		return fmt.Errorf("%w: max usage must not be negative", pkgerrors.ErrInvalidInput)
	}
	return s.codes.Create(ctx, code)
}

func (s *DiscountService) Get(ctx context.Context, code string) (*models.DiscountCode, error) {
	return s.codes.GetByCode(ctx, normalizeCode(code))
}
