package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

const orderTracer = "order-repository"

const orderColumns = `id, user_id, plan_id, base_price, price, discount_code_id, discount_token, discount_percent, state,
	payment_method, receipt_id, unit_id, created_at, expires_at, paid_at, fulfilled_at, updated_at`

type PostgresOrderRepository struct {
	db *sql.DB
}

func NewPostgresOrderRepository(db *sql.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o                   models.Order
		discountID          sql.NullInt64
		receiptID, unitID   sql.NullInt64
		paidAt, fulfilledAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.PlanID, &o.BasePrice, &o.Price, &discountID, &o.DiscountToken, &o.DiscountPercent,
		&o.State, &o.PaymentMethod, &receiptID, &unitID, &o.CreatedAt, &o.ExpiresAt, &paidAt, &fulfilledAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.DiscountCodeID = intPtr(discountID)
	o.ReceiptID = intPtr(receiptID)
	o.UnitID = intPtr(unitID)
	o.PaidAt = timePtr(paidAt)
	o.FulfilledAt = timePtr(fulfilledAt)
	return &o, nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func (r *PostgresOrderRepository) Create(ctx context.Context, order *models.Order) (err error) {
	if order == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, orderTracer, "CreateOrder",
		attribute.Int64("user_id", order.UserID),
		attribute.Int64("plan_id", order.PlanID),
	)
	defer func() { done(err) }()

	if order.State != models.OrderPending {
		err = fmt.Errorf("%w: new orders start pending", pkgerrors.ErrInvalidState)
		return err
	}

	query := `
		INSERT INTO orders (user_id, plan_id, base_price, price, discount_code_id, discount_token, discount_percent, state, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, order.UserID, order.PlanID, order.BasePrice, order.Price,
		nullInt(order.DiscountCodeID), order.DiscountToken, order.DiscountPercent, order.State, order.ExpiresAt).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		slog.Error("failed to create order", "method", "Create", "user_id", order.UserID, "plan_id", order.PlanID, "error", err)
		return fmt.Errorf("failed to create order: %w", err)
	}
	slog.Info("order created", "method", "Create", "order_id", order.ID, "user_id", order.UserID, "price", order.Price)
	return nil
}

func (r *PostgresOrderRepository) GetByID(ctx context.Context, id int64) (order *models.Order, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "GetOrderByID", attribute.Int64("order_id", id))
	defer func() { done(err) }()

	order, err = scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrOrderNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get order", "method", "GetByID", "order_id", id, "error", err)
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (r *PostgresOrderRepository) ListByUser(ctx context.Context, userID int64, limit int) (orders []models.Order, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "ListOrdersByUser", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY id DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return scanOrders(rows)
}

func (r *PostgresOrderRepository) ListByState(ctx context.Context, state models.OrderState, planID int64, limit int) (orders []models.Order, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "ListOrdersByState",
		attribute.String("state", string(state)),
		attribute.Int64("plan_id", planID),
	)
	defer func() { done(err) }()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE state = $1 AND ($2 = 0 OR plan_id = $2) ORDER BY id LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, state, planID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return scanOrders(rows)
}

func (r *PostgresOrderRepository) ListExpired(ctx context.Context, state models.OrderState, now time.Time, limit int) (orders []models.Order, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "ListExpiredOrders", attribute.String("state", string(state)))
	defer func() { done(err) }()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE state = $1 AND expires_at <= $2 ORDER BY expires_at, id LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, state, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	return scanOrders(rows)
}

// Transition is a compare-and-set on the state column; the WHERE clause makes
// racing transitions out of the same state mutually exclusive.
func (r *PostgresOrderRepository) Transition(ctx context.Context, id int64, from, to models.OrderState, patch models.OrderPatch) (order *models.Order, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "TransitionOrder",
		attribute.Int64("order_id", id),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	)
	defer func() { done(err) }()

	if !from.CanTransition(to) {
		err = fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidState, from, to)
		return nil, err
	}

	query := `
		UPDATE orders SET
			state = $1,
			payment_method = COALESCE(NULLIF($2, ''), payment_method),
			paid_at = COALESCE($3, paid_at),
			fulfilled_at = COALESCE($4, fulfilled_at),
			unit_id = COALESCE($5, unit_id),
			expires_at = COALESCE($6, expires_at),
			updated_at = now()
		WHERE id = $7 AND state = $8
		RETURNING ` + orderColumns
	order, err = scanOrder(r.db.QueryRowContext(ctx, query, to, string(patch.PaymentMethod),
		nullTime(patch.PaidAt), nullTime(patch.FulfilledAt), nullInt(patch.UnitID), nullTime(patch.ExpiresAt), id, from))
	if stderrors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			err = getErr
			return nil, err
		}
		err = fmt.Errorf("%w: order %d is not %s", pkgerrors.ErrInvalidState, id, from)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to transition order", "method", "Transition", "order_id", id, "from", from, "to", to, "error", err)
		return nil, fmt.Errorf("failed to transition order: %w", err)
	}

	observability.OrderTransitions.WithLabelValues(string(from), string(to)).Inc()
	slog.Info("order transitioned", "method", "Transition", "order_id", id, "from", from, "to", to)
	return order, nil
}

func (r *PostgresOrderRepository) SetReceipt(ctx context.Context, id int64, receiptID *int64) (err error) {
	ctx, done := observability.Track(ctx, orderTracer, "SetOrderReceipt", attribute.Int64("order_id", id))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE orders SET receipt_id = $1, updated_at = now() WHERE id = $2 AND state = 'pending'`, nullInt(receiptID), id)
	if err != nil {
		return fmt.Errorf("failed to link receipt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err = r.GetByID(ctx, id); err != nil {
			return err
		}
		err = fmt.Errorf("%w: order %d is not pending", pkgerrors.ErrInvalidState, id)
		return err
	}
	return nil
}

func (r *PostgresOrderRepository) CountByState(ctx context.Context) (counts map[models.OrderState]int64, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "CountOrdersByState")
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM orders GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts = make(map[models.OrderState]int64)
	for rows.Next() {
		var (
			state models.OrderState
			n     int64
		)
		if err = rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("failed to scan order count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

func (r *PostgresOrderRepository) Revenue(ctx context.Context) (revenue int64, err error) {
	ctx, done := observability.Track(ctx, orderTracer, "GetRevenue")
	defer func() { done(err) }()

	if err = r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(price), 0) FROM orders WHERE state IN ('paid', 'fulfilled')`).Scan(&revenue); err != nil {
		return 0, fmt.Errorf("failed to get revenue: %w", err)
	}
	return revenue, nil
}
