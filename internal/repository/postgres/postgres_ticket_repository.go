package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const ticketTracer = "ticket-repository"

type PostgresTicketRepository struct {
	db *sql.DB
}

func NewPostgresTicketRepository(db *sql.DB) *PostgresTicketRepository {
	return &PostgresTicketRepository{db: db}
}

func (r *PostgresTicketRepository) Create(ctx context.Context, ticket *models.Ticket, first *models.TicketMessage) (err error) {
	if ticket == nil || first == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, ticketTracer, "CreateTicket", attribute.Int64("user_id", ticket.UserID))
	defer func() { done(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = dbTx.QueryRowContext(ctx,
		`INSERT INTO tickets (user_id, subject, status) VALUES ($1, $2, $3) RETURNING id, created_at, updated_at`,
		ticket.UserID, ticket.Subject, ticket.Status).Scan(&ticket.ID, &ticket.CreatedAt, &ticket.UpdatedAt)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to create ticket: %w", err))
		slog.Error("failed to create ticket", "method", "Create", "user_id", ticket.UserID, "error", err)
		return err
	}

	first.TicketID = ticket.ID
	if err = r.insertMessage(ctx, dbTx, first); err != nil {
		err = rollback(dbTx, err)
		return err
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("ticket opened", "method", "Create", "ticket_id", ticket.ID, "user_id", ticket.UserID)
	return nil
}

func (r *PostgresTicketRepository) insertMessage(ctx context.Context, dbTx *sql.Tx, msg *models.TicketMessage) error {
	err := dbTx.QueryRowContext(ctx,
		`INSERT INTO ticket_messages (ticket_id, sender, body) VALUES ($1, $2, $3) RETURNING id, created_at`,
		msg.TicketID, msg.Sender, msg.Body).Scan(&msg.ID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ticket message: %w", err)
	}
	return nil
}

func (r *PostgresTicketRepository) GetByID(ctx context.Context, id int64) (ticket *models.Ticket, err error) {
	ctx, done := observability.Track(ctx, ticketTracer, "GetTicketByID", attribute.Int64("ticket_id", id))
	defer func() { done(err) }()

	var t models.Ticket
	err = r.db.QueryRowContext(ctx, `SELECT id, user_id, subject, status, created_at, updated_at FROM tickets WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTicketNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket: %w", err)
	}
	return &t, nil
}

func (r *PostgresTicketRepository) ListByUser(ctx context.Context, userID int64) (tickets []models.Ticket, err error) {
	ctx, done := observability.Track(ctx, ticketTracer, "ListTicketsByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	return r.list(ctx, `SELECT id, user_id, subject, status, created_at, updated_at FROM tickets WHERE user_id = $1 ORDER BY id DESC`, userID)
}

func (r *PostgresTicketRepository) ListByStatus(ctx context.Context, status models.TicketStatus) (tickets []models.Ticket, err error) {
	ctx, done := observability.Track(ctx, ticketTracer, "ListTicketsByStatus", attribute.String("status", string(status)))
	defer func() { done(err) }()

	return r.list(ctx, `SELECT id, user_id, subject, status, created_at, updated_at FROM tickets WHERE status = $1 ORDER BY updated_at, id`, status)
}

func (r *PostgresTicketRepository) list(ctx context.Context, query string, arg any) ([]models.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		var t models.Ticket
		if err := rows.Scan(&t.ID, &t.UserID, &t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tickets: %w", err)
	}
	return tickets, nil
}

func (r *PostgresTicketRepository) Messages(ctx context.Context, ticketID int64) (messages []models.TicketMessage, err error) {
	ctx, done := observability.Track(ctx, ticketTracer, "GetTicketMessages", attribute.Int64("ticket_id", ticketID))
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, ticket_id, sender, body, created_at FROM ticket_messages WHERE ticket_id = $1 ORDER BY id`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get ticket messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.TicketMessage
		if err = rows.Scan(&m.ID, &m.TicketID, &m.Sender, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan ticket message: %w", err)
		}
		messages = append(messages, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ticket messages: %w", err)
	}
	return messages, nil
}

func (r *PostgresTicketRepository) Append(ctx context.Context, msg *models.TicketMessage, from, to models.TicketStatus) (err error) {
	if msg == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, ticketTracer, "AppendTicketMessage",
		attribute.Int64("ticket_id", msg.TicketID),
		attribute.String("sender", string(msg.Sender)),
	)
	defer func() { done(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx, `UPDATE tickets SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`, to, msg.TicketID, from)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to update ticket: %w", err))
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = rollback(dbTx, fmt.Errorf("%w: ticket %d is not %s", pkgerrors.ErrInvalidState, msg.TicketID, from))
		return err
	}

	if err = r.insertMessage(ctx, dbTx, msg); err != nil {
		err = rollback(dbTx, err)
		return err
	}

	if err = dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("ticket message appended", "method", "Append", "ticket_id", msg.TicketID, "sender", msg.Sender, "status", to)
	return nil
}

func (r *PostgresTicketRepository) SetStatus(ctx context.Context, id int64, from, to models.TicketStatus) (err error) {
	ctx, done := observability.Track(ctx, ticketTracer, "SetTicketStatus",
		attribute.Int64("ticket_id", id),
		attribute.String("to", string(to)),
	)
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE tickets SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err = r.GetByID(ctx, id); err != nil {
			return err
		}
		err = fmt.Errorf("%w: ticket %d is not %s", pkgerrors.ErrInvalidState, id, from)
		return err
	}
	slog.Info("ticket status changed", "method", "SetStatus", "ticket_id", id, "from", from, "to", to)
	return nil
}
