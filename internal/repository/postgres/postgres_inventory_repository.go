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

const inventoryTracer = "inventory-repository"

const unitColumns = `id, plan_id, payload, claimed, delivered, order_id, created_at, claimed_at`

type PostgresInventoryRepository struct {
	db *sql.DB
}

func NewPostgresInventoryRepository(db *sql.DB) *PostgresInventoryRepository {
	return &PostgresInventoryRepository{db: db}
}

func scanUnit(row scanner) (*models.InventoryUnit, error) {
	var (
		u         models.InventoryUnit
		orderID   sql.NullInt64
		claimedAt sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.PlanID, &u.Payload, &u.Claimed, &u.Delivered, &orderID, &u.CreatedAt, &claimedAt); err != nil {
		return nil, err
	}
	u.OrderID = intPtr(orderID)
	u.ClaimedAt = timePtr(claimedAt)
	return &u, nil
}

func (r *PostgresInventoryRepository) Add(ctx context.Context, planID int64, payloads []string) (added int, err error) {
	ctx, done := observability.Track(ctx, inventoryTracer, "AddInventory",
		attribute.Int64("plan_id", planID),
		attribute.Int("count", len(payloads)),
	)
	defer func() { done(err) }()

	if len(payloads) == 0 {
		return 0, nil
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	stmt, err := dbTx.PrepareContext(ctx, `INSERT INTO inventory_units (plan_id, payload) VALUES ($1, $2)`)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to prepare insert: %w", err))
		return 0, err
	}
	defer stmt.Close()

	for _, payload := range payloads {
		if _, err = stmt.ExecContext(ctx, planID, payload); err != nil {
			err = rollback(dbTx, fmt.Errorf("failed to insert inventory unit: %w", err))
			slog.Error("failed to add inventory", "method", "Add", "plan_id", planID, "error", err)
			return 0, err
		}
		added++
	}

	if err = dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("inventory added", "method", "Add", "plan_id", planID, "count", added)
	return added, nil
}

// Claim picks the oldest unclaimed unit. SKIP LOCKED lets concurrent claimers
// for the same plan move past a row another transaction is taking instead of
// waiting on it and then losing.
func (r *PostgresInventoryRepository) Claim(ctx context.Context, planID, orderID int64) (unit *models.InventoryUnit, err error) {
	ctx, done := observability.Track(ctx, inventoryTracer, "ClaimUnit",
		attribute.Int64("plan_id", planID),
		attribute.Int64("order_id", orderID),
	)
	defer func() { done(err) }()

	query := `
		UPDATE inventory_units SET claimed = TRUE, order_id = $2, claimed_at = now()
		WHERE id = (
			SELECT id FROM inventory_units
			WHERE plan_id = $1 AND NOT claimed
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + unitColumns
	unit, err = scanUnit(r.db.QueryRowContext(ctx, query, planID, orderID))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrOutOfStock
		slog.Warn("inventory exhausted", "method", "Claim", "plan_id", planID, "order_id", orderID)
		return nil, err
	case isUniqueViolation(err):
		err = fmt.Errorf("%w: order %d already holds a unit", pkgerrors.ErrInvalidState, orderID)
		return nil, err
	case err != nil:
		slog.Error("failed to claim unit", "method", "Claim", "plan_id", planID, "order_id", orderID, "error", err)
		return nil, fmt.Errorf("failed to claim unit: %w", err)
	}

	slog.Info("unit claimed", "method", "Claim", "unit_id", unit.ID, "plan_id", planID, "order_id", orderID)
	return unit, nil
}

func (r *PostgresInventoryRepository) MarkDelivered(ctx context.Context, unitID int64) (err error) {
	ctx, done := observability.Track(ctx, inventoryTracer, "MarkUnitDelivered", attribute.Int64("unit_id", unitID))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE inventory_units SET delivered = TRUE WHERE id = $1 AND claimed`, unitID)
	if err != nil {
		return fmt.Errorf("failed to mark unit delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = r.missingOrInvalid(ctx, unitID)
		return err
	}
	return nil
}

func (r *PostgresInventoryRepository) Release(ctx context.Context, unitID int64) (err error) {
	ctx, done := observability.Track(ctx, inventoryTracer, "ReleaseUnit", attribute.Int64("unit_id", unitID))
	defer func() { done(err) }()

	query := `UPDATE inventory_units SET claimed = FALSE, order_id = NULL, claimed_at = NULL WHERE id = $1 AND claimed AND NOT delivered`
	res, err := r.db.ExecContext(ctx, query, unitID)
	if err != nil {
		slog.Error("failed to release unit", "method", "Release", "unit_id", unitID, "error", err)
		return fmt.Errorf("failed to release unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = r.missingOrInvalid(ctx, unitID)
		return err
	}
	slog.Info("unit released", "method", "Release", "unit_id", unitID)
	return nil
}

func (r *PostgresInventoryRepository) missingOrInvalid(ctx context.Context, unitID int64) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_units WHERE id = $1)`, unitID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check unit: %w", err)
	}
	if !exists {
		return pkgerrors.ErrUnitNotFound
	}
	return pkgerrors.ErrInvalidState
}

func (r *PostgresInventoryRepository) GetByID(ctx context.Context, id int64) (unit *models.InventoryUnit, err error) {
	ctx, done := observability.Track(ctx, inventoryTracer, "GetUnitByID", attribute.Int64("unit_id", id))
	defer func() { done(err) }()

	unit, err = scanUnit(r.db.QueryRowContext(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUnitNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	return unit, nil
}

func (r *PostgresInventoryRepository) Stock(ctx context.Context, planID int64) (level models.StockLevel, err error) {
	ctx, done := observability.Track(ctx, inventoryTracer, "GetStock", attribute.Int64("plan_id", planID))
	defer func() { done(err) }()

	level.PlanID = planID
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE claimed) FROM inventory_units WHERE plan_id = $1`
	if err = r.db.QueryRowContext(ctx, query, planID).Scan(&level.Total, &level.Claimed); err != nil {
		return level, fmt.Errorf("failed to get stock: %w", err)
	}
	level.Available = level.Total - level.Claimed
	return level, nil
}
