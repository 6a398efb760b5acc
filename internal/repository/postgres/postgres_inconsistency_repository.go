package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const inconsistencyTracer = "inconsistency-repository"

type PostgresInconsistencyRepository struct {
	db *sql.DB
}

func NewPostgresInconsistencyRepository(db *sql.DB) *PostgresInconsistencyRepository {
	return &PostgresInconsistencyRepository{db: db}
}

func (r *PostgresInconsistencyRepository) Record(ctx context.Context, rec *models.Inconsistency) (err error) {
	if rec == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, inconsistencyTracer, "RecordInconsistency",
		attribute.Int64("user_id", rec.UserID),
		attribute.String("kind", string(rec.Kind)),
	)
	defer func() { done(err) }()

	query := `INSERT INTO inconsistencies (order_id, user_id, kind, detail) VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, nullInt(rec.OrderID), rec.UserID, rec.Kind, rec.Detail).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		slog.Error("failed to record inconsistency", "method", "Record", "user_id", rec.UserID, "kind", rec.Kind, "error", err)
		return fmt.Errorf("failed to record inconsistency: %w", err)
	}
	slog.Warn("inconsistency recorded", "method", "Record", "id", rec.ID, "user_id", rec.UserID, "kind", rec.Kind, "detail", rec.Detail)
	return nil
}

func (r *PostgresInconsistencyRepository) ListUnresolved(ctx context.Context) (records []models.Inconsistency, err error) {
	ctx, done := observability.Track(ctx, inconsistencyTracer, "ListUnresolvedInconsistencies")
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, order_id, user_id, kind, detail, resolved, created_at FROM inconsistencies WHERE NOT resolved ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list inconsistencies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec     models.Inconsistency
			orderID sql.NullInt64
		)
		if err = rows.Scan(&rec.ID, &orderID, &rec.UserID, &rec.Kind, &rec.Detail, &rec.Resolved, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan inconsistency: %w", err)
		}
		rec.OrderID = intPtr(orderID)
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate inconsistencies: %w", err)
	}
	return records, nil
}

func (r *PostgresInconsistencyRepository) Resolve(ctx context.Context, id int64) (err error) {
	ctx, done := observability.Track(ctx, inconsistencyTracer, "ResolveInconsistency", attribute.Int64("id", id))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE inconsistencies SET resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve inconsistency: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = fmt.Errorf("inconsistency %d: %w", id, pkgerrors.ErrNotFound)
		return err
	}
	slog.Info("inconsistency resolved", "method", "Resolve", "id", id)
	return nil
}
