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

const userTracer = "user-repository"

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func (r *PostgresUserRepository) Upsert(ctx context.Context, user *models.User) (err error) {
	if user == nil {
		slog.Error("failed to upsert user", "method", "Upsert", "error", pkgerrors.ErrNilEntity)
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, userTracer, "UpsertUser", attribute.Int64("user_id", user.ID))
	defer func() { done(err) }()

	if user.ID == 0 {
		err = fmt.Errorf("%w: user id is required", pkgerrors.ErrInvalidInput)
		return err
	}

	query := `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name, updated_at = now()
		RETURNING balance, banned, created_at, updated_at`
	err = r.db.QueryRowContext(ctx, query, user.ID, user.DisplayName).
		Scan(&user.Balance, &user.Banned, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		slog.Error("failed to upsert user", "method", "Upsert", "user_id", user.ID, "error", err)
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	slog.Debug("user upserted", "method", "Upsert", "user_id", user.ID)
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (user *models.User, err error) {
	ctx, done := observability.Track(ctx, userTracer, "GetUserByID", attribute.Int64("user_id", id))
	defer func() { done(err) }()

	query := `SELECT id, display_name, balance, banned, created_at, updated_at FROM users WHERE id = $1`
	var u models.User
	err = r.db.QueryRowContext(ctx, query, id).
		Scan(&u.ID, &u.DisplayName, &u.Balance, &u.Banned, &u.CreatedAt, &u.UpdatedAt)
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
		err = pkgerrors.ErrUserNotFound
		return nil, err
	case err != nil:
		slog.Error("failed to get user", "method", "GetByID", "user_id", id, "error", err)
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) List(ctx context.Context) (users []models.User, err error) {
	ctx, done := observability.Track(ctx, userTracer, "ListUsers")
	defer func() { done(err) }()

	rows, err := r.db.QueryContext(ctx, `SELECT id, display_name, balance, banned, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		slog.Error("failed to list users", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u models.User
		if err = rows.Scan(&u.ID, &u.DisplayName, &u.Balance, &u.Banned, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

func (r *PostgresUserRepository) SetBanned(ctx context.Context, id int64, banned bool) (err error) {
	ctx, done := observability.Track(ctx, userTracer, "SetUserBanned", attribute.Int64("user_id", id))
	defer func() { done(err) }()

	res, err := r.db.ExecContext(ctx, `UPDATE users SET banned = $1, updated_at = now() WHERE id = $2`, banned, id)
	if err != nil {
		slog.Error("failed to update ban flag", "method", "SetBanned", "user_id", id, "error", err)
		return fmt.Errorf("failed to update ban flag: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = pkgerrors.ErrUserNotFound
		return err
	}
	slog.Info("user ban flag updated", "method", "SetBanned", "user_id", id, "banned", banned)
	return nil
}

func (r *PostgresUserRepository) Count(ctx context.Context) (n int64, err error) {
	ctx, done := observability.Track(ctx, userTracer, "CountUsers")
	defer func() { done(err) }()

	if err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
