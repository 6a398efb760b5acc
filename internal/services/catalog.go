package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	plansCacheKey = "catalog:plans"
	planCacheTTL  = 10 * time.Minute
)

func planCacheKey(id int64) string {
	return fmt.Sprintf("plan:%d", id)
}

// CatalogService serves plans through a Redis read-through cache that is
// dropped on every edit.
type CatalogService struct {
	plans       repository.PlanRepository
	redisClient redis.RedisClient
}

func NewCatalogService(plans repository.PlanRepository, redisClient redis.RedisClient) *CatalogService {
	return &CatalogService{plans: plans, redisClient: redisClient}
}

func (s *CatalogService) ListActive(ctx context.Context) ([]models.Plan, error) {
	tracer := otel.Tracer("catalog-service")
	ctx, span := tracer.Start(ctx, "ListActive")
	defer span.End()

	var plans []models.Plan
	if s.fromCache(ctx, plansCacheKey, &plans) {
		return plans, nil
	}
	plans, err := s.plans.List(ctx, true)
	if err != nil {
		failSpan(span, err, "failed to list plans")
		return nil, err
	}
	s.toCache(ctx, plansCacheKey, plans)
	return plans, nil
}

func (s *CatalogService) ListAll(ctx context.Context) ([]models.Plan, error) {
	return s.plans.List(ctx, false)
}

func (s *CatalogService) Get(ctx context.Context, id int64) (*models.Plan, error) {
	tracer := otel.Tracer("catalog-service")
	ctx, span := tracer.Start(ctx, "GetPlan")
	defer span.End()
	span.SetAttributes(attribute.Int64("plan_id", id))

	var plan models.Plan
	if s.fromCache(ctx, planCacheKey(id), &plan) {
		return &plan, nil
	}
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		failSpan(span, err, "plan not found")
		return nil, err
	}
	s.toCache(ctx, planCacheKey(id), p)
	return p, nil
}

// Purchasable returns the plan only if it is on sale.
func (s *CatalogService) Purchasable(ctx context.Context, id int64) (*models.Plan, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, pkgerrors.ErrPlanInactive
	}
	return p, nil
}

func validatePlan(p *models.Plan) error {
	switch {
	case p == nil:
		return pkgerrors.ErrNilEntity
	case p.Name == "":
		return fmt.Errorf("%w: plan name is required", pkgerrors.ErrInvalidInput)
	case p.Price < 0:
		return fmt.Errorf("%w: plan price must not be negative", pkgerrors.ErrInvalidInput)
	case p.DurationDays <= 0:
		return fmt.Errorf("%w: plan duration must be positive", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func (s *CatalogService) Create(ctx context.Context, plan *models.Plan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}
	if err := s.plans.Create(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx, plan.ID)
	return nil
}

func (s *CatalogService) Update(ctx context.Context, plan *models.Plan) error {
	if err := validatePlan(plan); err != nil {
		return err
	}
	if err := s.plans.Update(ctx, plan); err != nil {
		return err
	}
	s.invalidate(ctx, plan.ID)
	return nil
}

func (s *CatalogService) SetActive(ctx context.Context, id int64, active bool) error {
	p, err := s.plans.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Active = active
	return s.Update(ctx, p)
}

// Seed creates the given plans when the catalog is empty. It reports how many
// were created.
func (s *CatalogService) Seed(ctx context.Context, plans []models.Plan) (int, error) {
	existing, err := s.plans.List(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		slog.Info("catalog already populated, skipping seed", "plans", len(existing))
		return 0, nil
	}
	for i := range plans {
		if err := s.Create(ctx, &plans[i]); err != nil {
			return i, fmt.Errorf("failed to seed plan %q: %w", plans[i].Name, err)
		}
	}
	slog.Info("catalog seeded", "plans", len(plans))
	return len(plans), nil
}

func (s *CatalogService) fromCache(ctx context.Context, key string, dst any) bool {
	raw, err := s.redisClient.Get(ctx, key)
	if err != nil {
		if !stderrors.Is(err, redis.ErrKeyNotFound) {
			slog.Error("failed to read plan cache", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		slog.Error("failed to unmarshal cached plans", "key", key, "error", err)
		return false
	}
	return true
}

func (s *CatalogService) toCache(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal plans for cache", "key", key, "error", err)
		return
	}
	if err := s.redisClient.Set(ctx, key, string(raw), planCacheTTL); err != nil {
		slog.Error("failed to cache plans", "key", key, "error", err)
	}
}

func (s *CatalogService) invalidate(ctx context.Context, id int64) {
	for _, key := range []string{plansCacheKey, planCacheKey(id)} {
		if err := s.redisClient.Del(ctx, key); err != nil {
			slog.Error("failed to invalidate plan cache", "key", key, "error", err)
		}
	}
}
