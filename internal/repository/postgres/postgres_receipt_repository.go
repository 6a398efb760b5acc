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

const receiptTracer = "receipt-repository"

const receiptColumns = `id, user_id, purpose, amount, status, file_ref, order_id, reviewed_by, reviewed_at, created_at`

type PostgresReceiptRepository struct {
	db *sql.DB
}

func NewPostgresReceiptRepository(db *sql.DB) *PostgresReceiptRepository {
	return &PostgresReceiptRepository{db: db}
}

func scanReceipt(row scanner) (*models.Receipt, error) {
	var (
		rc                  models.Receipt
		orderID, reviewedBy sql.NullInt64
		reviewedAt          sql.NullTime
	)
	err := row.Scan(&rc.ID, &rc.UserID, &rc.Purpose, &rc.Amount, &rc.Status, &rc.FileRef, &orderID, &reviewedBy, &reviewedAt, &rc.CreatedAt)
	if err != nil {
		return nil, err
	}
	rc.OrderID = intPtr(orderID)
	rc.ReviewedBy = intPtr(reviewedBy)
	rc.ReviewedAt = timePtr(reviewedAt)
	return &rc, nil
}

func (r *PostgresReceiptRepository) Create(ctx context.Context, receipt *models.Receipt) (err error) {
	if receipt == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, receiptTracer, "CreateReceipt",
		attribute.Int64("user_id", receipt.UserID),
		attribute.String("purpose", string(receipt.Purpose)),
	)
	defer func() { done(err) }()

	if receipt.Amount <= 0 {
		err = fmt.Errorf("%w: receipt amount must be positive", pkgerrors.ErrInvalidInput)
		return err
	}
	if receipt.Status == "" {
		receipt.Status = models.ReceiptPending
	}

	query := `
		INSERT INTO receipts (user_id, purpose, amount, status, file_ref, order_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, receipt.UserID, receipt.Purpose, receipt.Amount, receipt.Status,
		receipt.FileRef, nullInt(receipt.OrderID)).Scan(&receipt.ID, &receipt.CreatedAt)
	if err != nil {
		slog.Error("failed to create receipt", "method", "Create", "user_id", receipt.UserID, "error", err)
		return fmt.Errorf("failed to create receipt: %w", err)
	}
	slog.Info("receipt submitted", "method", "Create", "receipt_id", receipt.ID, "user_id", receipt.UserID, "amount", receipt.Amount)
	return nil
}

func (r *PostgresReceiptRepository) GetByID(ctx context.Context, id int64) (receipt *models.Receipt, err error) {
	ctx, done := observability.Track(ctx, receiptTracer, "GetReceiptByID", attribute.Int64("receipt_id", id))
	defer func() { done(err) }()

	receipt, err = scanReceipt(r.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrReceiptNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	return receipt, nil
}

func (r *PostgresReceiptRepository) ListPending(ctx context.Context, limit int) (receipts []models.Receipt, err error) {
	ctx, done := observability.Track(ctx, receiptTracer, "ListPendingReceipts")
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE status = 'pending' ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rc, scanErr := scanReceipt(rows)
		if scanErr != nil {
			err = fmt.Errorf("failed to scan receipt: %w", scanErr)
			return nil, err
		}
		receipts = append(receipts, *rc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipts: %w", err)
	}
	return receipts, nil
}

// Review only touches pending rows, so two admins approving the same receipt
// cannot both succeed.
func (r *PostgresReceiptRepository) Review(ctx context.Context, id int64, status models.ReceiptStatus, adminID int64, at time.Time) (receipt *models.Receipt, err error) {
	ctx, done := observability.Track(ctx, receiptTracer, "ReviewReceipt",
		attribute.Int64("receipt_id", id),
		attribute.String("status", string(status)),
	)
	defer func() { done(err) }()

	if status != models.ReceiptApproved && status != models.ReceiptRejected {
		err = fmt.Errorf("%w: cannot review receipt into %q", pkgerrors.ErrInvalidInput, status)
		return nil, err
	}

	query := `UPDATE receipts SET status = $1, reviewed_by = $2, reviewed_at = $3 WHERE id = $4 AND status = 'pending' RETURNING ` + receiptColumns
	receipt, err = scanReceipt(r.db.QueryRowContext(ctx, query, status, adminID, at, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		if _, err = r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		err = fmt.Errorf("%w: receipt %d already reviewed", pkgerrors.ErrInvalidState, id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to review receipt", "method", "Review", "receipt_id", id, "error", err)
		return nil, fmt.Errorf("failed to review receipt: %w", err)
	}
	slog.Info("receipt reviewed", "method", "Review", "receipt_id", id, "status", status, "admin_id", adminID)
	return receipt, nil
}

func (r *PostgresReceiptRepository) CountPending(ctx context.Context) (n int64, err error) {
	ctx, done := observability.Track(ctx, receiptTracer, "CountPendingReceipts")
	defer func() { done(err) }()

	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts WHERE status = 'pending'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count receipts: %w", err)
	}
	return n, nil
}
