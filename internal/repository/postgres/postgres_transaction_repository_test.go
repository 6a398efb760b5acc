package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/postgres"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const (
	updateBalanceQuery = `UPDATE users SET balance = balance + $1, updated_at = now() WHERE id = $2 AND balance + $1 >= 0 RETURNING balance`
	userExistsQuery    = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	insertEntryQuery   = `INSERT INTO transactions (user_id, amount, kind, description, reference) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
)

func TestPostgresTransactionRepository_Apply(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("NilTransaction", func(t *testing.T) {
		balance, err := repo.Apply(ctx, nil)
		assert.Zero(t, balance)
		assert.ErrorIs(t, err, pkgerrors.ErrNilEntity)
	})

	t.Run("InvalidKind", func(t *testing.T) {
		_, err := repo.Apply(ctx, &models.Transaction{UserID: 1, Amount: 500, Kind: "gift"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		_, err := repo.Apply(ctx, &models.Transaction{UserID: 1, Amount: 0, Kind: models.KindTopup})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
		assert.Contains(t, err.Error(), "amount must be non-zero")
	})

	t.Run("Success", func(t *testing.T) {
		tx := &models.Transaction{UserID: 1, Amount: -45000, Kind: models.KindPurchaseDebit, Description: "order 7", Reference: "order:7"}
		createdAt := time.Now().UTC()
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
			WithArgs(tx.Amount, tx.UserID).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(55000))
		mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
			WithArgs(tx.UserID, tx.Amount, tx.Kind, tx.Description, tx.Reference).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(12, createdAt))
		mock.ExpectCommit()

		balance, err := repo.Apply(ctx, tx)
		assert.NoError(t, err)
		assert.Equal(t, int64(55000), balance)
		assert.Equal(t, int64(12), tx.ID)
		assert.WithinDuration(t, createdAt, tx.CreatedAt, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
			WithArgs(int64(-100), int64(1)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta(userExistsQuery)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectRollback()

		_, err := repo.Apply(ctx, &models.Transaction{UserID: 1, Amount: -100, Kind: models.KindPurchaseDebit})
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
			WithArgs(int64(100), int64(9)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery(regexp.QuoteMeta(userExistsQuery)).
			WithArgs(int64(9)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := repo.Apply(ctx, &models.Transaction{UserID: 9, Amount: 100, Kind: models.KindTopup})
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsertError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
			WithArgs(int64(100), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
		mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO transactions`)).
			WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback()

		_, err := repo.Apply(ctx, &models.Transaction{UserID: 1, Amount: 100, Kind: models.KindTopup})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
			WithArgs(int64(100), int64(1)).
			WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback().WillReturnError(fmt.Errorf("rollback error"))

		_, err := repo.Apply(ctx, &models.Transaction{UserID: 1, Amount: 100, Kind: models.KindTopup})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.Contains(t, err.Error(), "failed to update balance")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CommitError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta(updateBalanceQuery)).
			WithArgs(int64(100), int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(100))
		mock.ExpectQuery(regexp.QuoteMeta(insertEntryQuery)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))
		mock.ExpectCommit().WillReturnError(fmt.Errorf("commit error"))

		_, err := repo.Apply(ctx, &models.Transaction{UserID: 1, Amount: 100, Kind: models.KindTopup})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to commit transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_BalanceAndSum(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("Balance", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(700))
		balance, err := repo.Balance(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(700), balance)
	})

	t.Run("BalanceUnknownUser", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1`)).
			WithArgs(int64(2)).
			WillReturnError(sql.ErrNoRows)
		_, err := repo.Balance(ctx, 2)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
	})

	t.Run("Sum", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT COALESCE(SUM(amount), 0) FROM transactions WHERE user_id = $1`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(700))
		sum, err := repo.Sum(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(700), sum)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTransactionRepository_History(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	query := `SELECT id, user_id, amount, kind, description, reference, created_at FROM transactions WHERE user_id = $1 ORDER BY id DESC LIMIT $2`

	t.Run("Success", func(t *testing.T) {
		now := time.Now().UTC()
		rows := sqlmock.NewRows([]string{"id", "user_id", "amount", "kind", "description", "reference", "created_at"}).
			AddRow(2, 1, -300, "purchase_debit", "order 1", "order:1", now).
			AddRow(1, 1, 1000, "topup", "top-up receipt 1", "receipt:1", now.Add(-time.Hour))
		mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs(int64(1), 10).WillReturnRows(rows)

		history, err := repo.History(ctx, 1, 10)
		assert.NoError(t, err)
		assert.Len(t, history, 2)
		assert.Equal(t, models.KindPurchaseDebit, history[0].Kind)
		assert.Equal(t, "receipt:1", history[1].Reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("QueryError", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs(int64(1), 10).WillReturnError(fmt.Errorf("database error"))

		history, err := repo.History(ctx, 1, 10)
		assert.Nil(t, history)
		assert.Contains(t, err.Error(), "failed to get transaction history")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
