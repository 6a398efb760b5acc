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

const discountTracer = "discount-repository"

const discountColumns = `id, code, percent, plan_id, expires_at, max_usage, used_count, created_at`

type PostgresDiscountRepository struct {
	db *sql.DB
}

func NewPostgresDiscountRepository(db *sql.DB) *PostgresDiscountRepository {
	return &PostgresDiscountRepository{db: db}
}

func scanDiscount(row scanner) (*models.DiscountCode, error) {
	var (
		d         models.DiscountCode
		planID    sql.NullInt64
		expiresAt sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.Code, &d.Percent, &planID, &expiresAt, &d.MaxUsage, &d.UsedCount, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.PlanID = intPtr(planID)
	d.ExpiresAt = timePtr(expiresAt)
	return &d, nil
}

func (r *PostgresDiscountRepository) Create(ctx context.Context, code *models.DiscountCode) (err error) {
	if code == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, discountTracer, "CreateDiscount", attribute.String("code", code.Code))
	defer func() { done(err) }()

	query := `INSERT INTO discount_codes (code, percent, plan_id, expires_at, max_usage) VALUES ($1, $2, $3, $4, $5) RETURNING id, used_count, created_at`
	err = r.db.QueryRowContext(ctx, query, code.Code, code.Percent, nullInt(code.PlanID), nullTime(code.ExpiresAt), code.MaxUsage).
		Scan(&code.ID, &code.UsedCount, &code.CreatedAt)
	if isUniqueViolation(err) {
		err = fmt.Errorf("discount code %q: %w", code.Code, pkgerrors.ErrAlreadyExists)
		return err
	}
	if err != nil {
		slog.Error("failed to create discount code", "method", "Create", "code", code.Code, "error", err)
		return fmt.Errorf("failed to create discount code: %w", err)
	}
	slog.Info("discount code created", "method", "Create", "id", code.ID, "code", code.Code, "percent", code.Percent)
	return nil
}

func (r *PostgresDiscountRepository) GetByCode(ctx context.Context, code string) (d *models.DiscountCode, err error) {
	ctx, done := observability.Track(ctx, discountTracer, "GetDiscountByCode", attribute.String("code", code))
	defer func() { done(err) }()

	d, err = scanDiscount(r.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE code = $1`, code))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrDiscountNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return d, nil
}

func (r *PostgresDiscountRepository) GetByID(ctx context.Context, id int64) (d *models.DiscountCode, err error) {
	ctx, done := observability.Track(ctx, discountTracer, "GetDiscountByID", attribute.Int64("discount_id", id))
	defer func() { done(err) }()

	d, err = scanDiscount(r.db.QueryRowContext(ctx, `SELECT `+discountColumns+` FROM discount_codes WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrDiscountNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discount code: %w", err)
	}
	return d, nil
}

// Redeem records the token and bumps used_count in one transaction. The
// guarded UPDATE is the compare-and-swap: once used_count reaches max_usage
// every further redemption affects no rows.
func (r *PostgresDiscountRepository) Redeem(ctx context.Context, codeID int64, token string, orderID int64) (applied bool, err error) {
	ctx, done := observability.Track(ctx, discountTracer, "RedeemDiscount",
		attribute.Int64("discount_id", codeID),
		attribute.Int64("order_id", orderID),
	)
	defer func() { done(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	res, err := dbTx.ExecContext(ctx,
		`INSERT INTO discount_redemptions (token, code_id, order_id) VALUES ($1, $2, $3) ON CONFLICT (token) DO NOTHING`,
		token, codeID, orderID)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to record redemption: %w", err))
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if err = dbTx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		slog.Info("discount token already redeemed", "method", "Redeem", "discount_id", codeID, "order_id", orderID)
		return false, nil
	}

	res, err = dbTx.ExecContext(ctx,
		`UPDATE discount_codes SET used_count = used_count + 1 WHERE id = $1 AND used_count < max_usage`, codeID)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to increment usage: %w", err))
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = rollback(dbTx, pkgerrors.ErrUsageExceeded)
		slog.Warn("discount usage exceeded", "method", "Redeem", "discount_id", codeID, "order_id", orderID)
		return false, err
	}

	if err = dbTx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("discount redeemed", "method", "Redeem", "discount_id", codeID, "order_id", orderID)
	return true, nil
}

func (r *PostgresDiscountRepository) Release(ctx context.Context, token string) (released bool, err error) {
	ctx, done := observability.Track(ctx, discountTracer, "ReleaseDiscount")
	defer func() { done(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}

	var codeID int64
	err = dbTx.QueryRowContext(ctx, `DELETE FROM discount_redemptions WHERE token = $1 RETURNING code_id`, token).Scan(&codeID)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, nil)
		return false, err
	}
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to delete redemption: %w", err))
		return false, err
	}

	if _, err = dbTx.ExecContext(ctx, `UPDATE discount_codes SET used_count = used_count - 1 WHERE id = $1 AND used_count > 0`, codeID); err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to decrement usage: %w", err))
		return false, err
	}

	if err = dbTx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Info("discount redemption released", "method", "Release", "discount_id", codeID)
	return true, nil
}
