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

const transactionTracer = "transaction-repository"

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

// Apply moves the balance and appends the ledger entry inside one database
// transaction. The conditional UPDATE holds the user row lock until commit, so
// entries for the same user are applied one at a time in arrival order.
func (r *PostgresTransactionRepository) Apply(ctx context.Context, tx *models.Transaction) (newBalance int64, err error) {
	if tx == nil {
		slog.Error("failed to apply transaction", "method", "Apply", "error", pkgerrors.ErrNilEntity)
		return 0, pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, transactionTracer, "ApplyTransaction",
		attribute.Int64("user_id", tx.UserID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("kind", string(tx.Kind)),
	)
	defer func() { done(err) }()

	if !tx.Kind.Valid() {
		err = fmt.Errorf("%w: unknown transaction kind %q", pkgerrors.ErrInvalidInput, tx.Kind)
		slog.Error("invalid transaction kind", "method", "Apply", "kind", tx.Kind, "error", err)
		return 0, err
	}
	if tx.Amount == 0 {
		err = fmt.Errorf("%w: amount must be non-zero", pkgerrors.ErrInvalidInput)
		slog.Error("invalid transaction amount", "method", "Apply", "amount", tx.Amount, "error", err)
		return 0, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "Apply", "error", err)
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	updateQuery := `UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2 AND balance + $1 >= 0 RETURNING balance`
	err = dbTx.QueryRowContext(ctx, updateQuery, tx.Amount, tx.UserID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		var exists bool
		if qErr := dbTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, tx.UserID).Scan(&exists); qErr != nil {
			err = rollback(dbTx, fmt.Errorf("failed to check user: %w", qErr))
			return 0, err
		}
		if !exists {
			err = rollback(dbTx, pkgerrors.ErrUserNotFound)
			return 0, err
		}
		err = rollback(dbTx, pkgerrors.ErrInsufficientFunds)
		slog.Warn("insufficient funds", "method", "Apply", "user_id", tx.UserID, "amount", tx.Amount)
		return 0, err
	}
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to update balance: %w", err))
		slog.Error("failed to update balance", "method", "Apply", "user_id", tx.UserID, "error", err)
		return 0, err
	}

	insertQuery := `INSERT INTO transactions (user_id, amount, kind, description, reference) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err = dbTx.QueryRowContext(ctx, insertQuery, tx.UserID, tx.Amount, tx.Kind, tx.Description, tx.Reference).
		Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		err = rollback(dbTx, fmt.Errorf("failed to create transaction: %w", err))
		slog.Error("failed to create transaction", "method", "Apply", "user_id", tx.UserID, "error", err)
		return 0, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "Apply", "error", err)
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction applied", "method", "Apply", "id", tx.ID, "user_id", tx.UserID, "amount", tx.Amount, "kind", tx.Kind, "balance", newBalance)
	return newBalance, nil
}

func (r *PostgresTransactionRepository) Balance(ctx context.Context, userID int64) (balance int64, err error) {
	ctx, done := observability.Track(ctx, transactionTracer, "GetBalance", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return 0, err
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "Balance", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func (r *PostgresTransactionRepository) Sum(ctx context.Context, userID int64) (sum int64, err error) {
	ctx, done := observability.Track(ctx, transactionTracer, "SumTransactions", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		slog.Error("failed to sum transactions", "method", "Sum", "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return sum, nil
}

func (r *PostgresTransactionRepository) History(ctx context.Context, userID int64, limit int) (history []models.Transaction, err error) {
	ctx, done := observability.Track(ctx, transactionTracer, "GetTransactionHistory", attribute.Int64("user_id", userID))
	defer func() { done(err) }()

	query := `SELECT id, user_id, amount, kind, description, reference, created_at FROM transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to get transaction history", "method", "History", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get transaction history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tx models.Transaction
		if err = rows.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.Kind, &tx.Description, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		history = append(history, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return history, nil
}
