package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
)

type TicketRepository struct {
	b *backend
}

func (r *TicketRepository) Create(_ context.Context, ticket *models.Ticket, opening *models.TicketMessage) error {
	if ticket == nil || opening == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	now := time.Now()
	t := *ticket
	t.ID = r.b.nextID(tableTickets)
	t.CreatedAt, t.UpdatedAt = now, now
	if err := insert(txn, tableTickets, &t); err != nil {
		return err
	}
	m := *opening
	m.ID = r.b.nextID(tableMessages)
	m.TicketID = t.ID
	m.CreatedAt = now
	if err := insert(txn, tableMessages, &m); err != nil {
		return err
	}
	txn.Commit()
	*ticket, *opening = t, m
	return nil
}

func (r *TicketRepository) GetByID(_ context.Context, id int64) (*models.Ticket, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	t, err := first[models.Ticket](txn, tableTickets, "id", id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, pkgerrors.ErrTicketNotFound
	}
	out := *t
	return &out, nil
}

func (r *TicketRepository) ListByUser(_ context.Context, userID int64) ([]models.Ticket, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	tickets, err := all[models.Ticket](txn, tableTickets, "user", userID)
	if err != nil {
		return nil, err
	}
	sortByID(tickets, func(t *models.Ticket) int64 { return t.ID }, true)
	return values(tickets), nil
}

func (r *TicketRepository) ListByStatus(_ context.Context, status models.TicketStatus) ([]models.Ticket, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	tickets, err := all[models.Ticket](txn, tableTickets, "status", string(status))
	if err != nil {
		return nil, err
	}
	out := values(tickets)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *TicketRepository) Messages(_ context.Context, ticketID int64) ([]models.TicketMessage, error) {
	txn := r.b.db.Txn(false)
	defer txn.Abort()

	messages, err := all[models.TicketMessage](txn, tableMessages, "ticket", ticketID)
	if err != nil {
		return nil, err
	}
	sortByID(messages, func(m *models.TicketMessage) int64 { return m.ID }, false)
	return values(messages), nil
}

func (r *TicketRepository) Append(_ context.Context, msg *models.TicketMessage, from, to models.TicketStatus) error {
	if msg == nil {
		return pkgerrors.ErrNilEntity
	}
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	now := time.Now()
	if err := r.move(txn, msg.TicketID, from, to, now); err != nil {
		return err
	}
	m := *msg
	m.ID = r.b.nextID(tableMessages)
	m.CreatedAt = now
	if err := insert(txn, tableMessages, &m); err != nil {
		return err
	}
	txn.Commit()
	*msg = m
	return nil
}

func (r *TicketRepository) SetStatus(_ context.Context, id int64, from, to models.TicketStatus) error {
	txn := r.b.db.Txn(true)
	defer txn.Abort()

	if err := r.move(txn, id, from, to, time.Now()); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *TicketRepository) move(txn *memdb.Txn, id int64, from, to models.TicketStatus, at time.Time) error {
	t, err := first[models.Ticket](txn, tableTickets, "id", id)
	if err != nil {
		return err
	}
	if t == nil {
		return pkgerrors.ErrTicketNotFound
	}
	if t.Status != from {
		return fmt.Errorf("%w: ticket %d is not %s", pkgerrors.ErrInvalidState, id, from)
	}
	next := *t
	next.Status = to
	next.UpdatedAt = at
	return insert(txn, tableTickets, &next)
}
