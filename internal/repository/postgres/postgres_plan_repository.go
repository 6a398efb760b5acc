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

const planTracer = "plan-repository"

type PostgresPlanRepository struct {
	db *sql.DB
}

func NewPostgresPlanRepository(db *sql.DB) *PostgresPlanRepository {
	return &PostgresPlanRepository{db: db}
}

func (r *PostgresPlanRepository) Create(ctx context.Context, plan *models.Plan) (err error) {
	if plan == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, planTracer, "CreatePlan", attribute.String("name", plan.Name))
	defer func() { done(err) }()

	query := `INSERT INTO plans (name, price, duration_days, traffic, active) VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`
	err = r.db.QueryRowContext(ctx, query, plan.Name, plan.Price, plan.DurationDays, plan.Traffic, plan.Active).
		Scan(&plan.ID, &plan.CreatedAt)
	if err != nil {
		slog.Error("failed to create plan", "method", "Create", "name", plan.Name, "error", err)
		return fmt.Errorf("failed to create plan: %w", err)
	}
	slog.Info("plan created", "method", "Create", "plan_id", plan.ID, "name", plan.Name, "price", plan.Price)
	return nil
}

func (r *PostgresPlanRepository) Update(ctx context.Context, plan *models.Plan) (err error) {
	if plan == nil {
		return pkgerrors.ErrNilEntity
	}
	ctx, done := observability.Track(ctx, planTracer, "UpdatePlan", attribute.Int64("plan_id", plan.ID))
	defer func() { done(err) }()

	query := `UPDATE plans SET name = $1, price = $2, duration_days = $3, traffic = $4, active = $5 WHERE id = $6`
	res, err := r.db.ExecContext(ctx, query, plan.Name, plan.Price, plan.DurationDays, plan.Traffic, plan.Active, plan.ID)
	if err != nil {
		slog.Error("failed to update plan", "method", "Update", "plan_id", plan.ID, "error", err)
		return fmt.Errorf("failed to update plan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = pkgerrors.ErrPlanNotFound
		return err
	}
	slog.Info("plan updated", "method", "Update", "plan_id", plan.ID, "active", plan.Active)
	return nil
}

func (r *PostgresPlanRepository) GetByID(ctx context.Context, id int64) (plan *models.Plan, err error) {
	ctx, done := observability.Track(ctx, planTracer, "GetPlanByID", attribute.Int64("plan_id", id))
	defer func() { done(err) }()

	query := `SELECT id, name, price, duration_days, traffic, active, created_at FROM plans WHERE id = $1`
	var p models.Plan
	err = r.db.QueryRowContext(ctx, query, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.Traffic, &p.Active, &p.CreatedAt)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrPlanNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get plan", "method", "GetByID", "plan_id", id, "error", err)
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &p, nil
}

func (r *PostgresPlanRepository) List(ctx context.Context, activeOnly bool) (plans []models.Plan, err error) {
	ctx, done := observability.Track(ctx, planTracer, "ListPlans")
	defer func() { done(err) }()

	query := `SELECT id, name, price, duration_days, traffic, active, created_at FROM plans WHERE active OR NOT $1 ORDER BY price, id`
	rows, err := r.db.QueryContext(ctx, query, activeOnly)
	if err != nil {
		slog.Error("failed to list plans", "method", "List", "error", err)
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p models.Plan
		if err = rows.Scan(&p.ID, &p.Name, &p.Price, &p.DurationDays, &p.Traffic, &p.Active, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans: %w", err)
	}
	return plans, nil
}
