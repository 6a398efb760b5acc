package repository

import (
	"context"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

type TicketRepository interface {
	Create(ctx context.Context, ticket *models.Ticket, first *models.TicketMessage) error
	GetByID(ctx context.Context, id int64) (*models.Ticket, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Ticket, error)
	ListByStatus(ctx context.Context, status models.TicketStatus) ([]models.Ticket, error)
	Messages(ctx context.Context, ticketID int64) ([]models.TicketMessage, error)
	// Append adds msg and moves the ticket from -> to, only if it is in from.
	Append(ctx context.Context, msg *models.TicketMessage, from, to models.TicketStatus) error
	SetStatus(ctx context.Context, id int64, from, to models.TicketStatus) error
}
