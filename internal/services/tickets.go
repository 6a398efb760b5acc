package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// TicketService runs support conversations. The status enforces turns: the
// user writes while a ticket is open, waits while it is answered by an admin.
type TicketService struct {
	tickets   repository.TicketRepository
	publisher *kafka.Publisher
}

func NewTicketService(tickets repository.TicketRepository, publisher *kafka.Publisher) *TicketService {
	return &TicketService{tickets: tickets, publisher: publisher}
}

func (s *TicketService) Open(ctx context.Context, userID int64, subject, body string) (*models.Ticket, error) {
	tracer := otel.Tracer("ticket-service")
	ctx, span := tracer.Start(ctx, "Open")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID))

	subject, body = strings.TrimSpace(subject), strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: message is empty", pkgerrors.ErrInvalidInput)
	}
	if subject == "" {
		subject = firstLine(body)
	}

	ticket := &models.Ticket{UserID: userID, Subject: subject, Status: models.TicketOpen}
	msg := &models.TicketMessage{Sender: models.SenderUser, Body: body}
	if err := s.tickets.Create(ctx, ticket, msg); err != nil {
		failSpan(span, err, "failed to open ticket")
		return nil, err
	}

	slog.Info("ticket opened", "ticket_id", ticket.ID, "user_id", userID)
	s.publisher.Publish(ctx, kafka.TopicAlerts, userID, kafka.Event{
		Type:   kafka.EventTicketOpened,
		UserID: userID,
		Text:   fmt.Sprintf("ticket %d: %s", ticket.ID, subject),
	})
	return ticket, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 64 {
		s = string(r[:64])
	}
	return s
}

// Reply appends a message from sender. A user may write only after an admin
// answered, an admin only while the ticket is open.
func (s *TicketService) Reply(ctx context.Context, ticketID, userID int64, sender models.Sender, body string) (*models.TicketMessage, error) {
	tracer := otel.Tracer("ticket-service")
	ctx, span := tracer.Start(ctx, "Reply")
	defer span.End()
	span.SetAttributes(attribute.Int64("ticket_id", ticketID), attribute.String("sender", string(sender)))

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: message is empty", pkgerrors.ErrInvalidInput)
	}

	var from, to models.TicketStatus
	switch sender {
	case models.SenderUser:
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			failSpan(span, err, "ticket lookup failed")
			return nil, err
		}
		if ticket.UserID != userID {
			return nil, pkgerrors.ErrTicketNotFound
		}
		from, to = models.TicketAnswered, models.TicketOpen
	case models.SenderAdmin:
		from, to = models.TicketOpen, models.TicketAnswered
	default:
		return nil, fmt.Errorf("%w: unknown sender %q", pkgerrors.ErrInvalidInput, sender)
	}

	msg := &models.TicketMessage{TicketID: ticketID, Sender: sender, Body: body}
	if err := s.tickets.Append(ctx, msg, from, to); err != nil {
		failSpan(span, err, "append failed")
		return nil, err
	}
	slog.Info("ticket reply", "ticket_id", ticketID, "sender", sender, "status", to)

	if sender == models.SenderAdmin {
		owner, err := s.Owner(ctx, ticketID)
		if err != nil {
			slog.Error("failed to load ticket owner", "ticket_id", ticketID, "error", err)
			return msg, nil
		}
		s.publisher.Publish(ctx, kafka.TopicTickets, owner, kafka.Event{
			Type:   kafka.EventTicketAnswered,
			UserID: owner,
			Text:   fmt.Sprintf("Answer to ticket #%d:\n%s", ticketID, body),
		})
	}
	return msg, nil
}

// Close closes an open or answered ticket. Users may only close their own.
func (s *TicketService) Close(ctx context.Context, ticketID, userID int64, byAdmin bool) error {
	tracer := otel.Tracer("ticket-service")
	ctx, span := tracer.Start(ctx, "Close")
	defer span.End()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		failSpan(span, err, "ticket lookup failed")
		return err
	}
	if !byAdmin && ticket.UserID != userID {
		return pkgerrors.ErrTicketNotFound
	}
	if ticket.Status == models.TicketClosed {
		return fmt.Errorf("%w: ticket %d already closed", pkgerrors.ErrInvalidState, ticketID)
	}
	if err := s.tickets.SetStatus(ctx, ticketID, ticket.Status, models.TicketClosed); err != nil {
		failSpan(span, err, "close failed")
		return err
	}
	slog.Info("ticket closed", "ticket_id", ticketID, "by_admin", byAdmin)
	return nil
}

func (s *TicketService) ListByUser(ctx context.Context, userID int64) ([]models.Ticket, error) {
	return s.tickets.ListByUser(ctx, userID)
}

// Queue lists tickets waiting for an admin answer.
func (s *TicketService) Queue(ctx context.Context) ([]models.Ticket, error) {
	return s.tickets.ListByStatus(ctx, models.TicketOpen)
}

func (s *TicketService) Messages(ctx context.Context, ticketID, userID int64, byAdmin bool) ([]models.TicketMessage, error) {
	if !byAdmin {
		ticket, err := s.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		if ticket.UserID != userID {
			return nil, pkgerrors.ErrTicketNotFound
		}
	}
	return s.tickets.Messages(ctx, ticketID)
}

// Owner returns the user a ticket belongs to.
func (s *TicketService) Owner(ctx context.Context, ticketID int64) (int64, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	return ticket.UserID, nil
}
