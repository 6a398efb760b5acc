package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	stderrors "errors"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/observability"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// RestockHook runs after units are added to a plan.
type RestockHook func(ctx context.Context, planID int64)

type InventoryService struct {
	units     repository.InventoryRepository
	plans     repository.PlanRepository
	publisher *kafka.Publisher
	threshold int64
	onRestock RestockHook
}

func NewInventoryService(units repository.InventoryRepository, plans repository.PlanRepository, publisher *kafka.Publisher, lowStockThreshold int64) *InventoryService {
	return &InventoryService{units: units, plans: plans, publisher: publisher, threshold: lowStockThreshold}
}

// OnRestock sets the hook used to fulfil orders waiting for stock.
func (s *InventoryService) OnRestock(hook RestockHook) {
	s.onRestock = hook
}

// Claim binds the oldest free unit of the plan to the order.
func (s *InventoryService) Claim(ctx context.Context, planID, orderID int64) (*models.InventoryUnit, error) {
	tracer := otel.Tracer("inventory-service")
	ctx, span := tracer.Start(ctx, "Claim")
	defer span.End()
	span.SetAttributes(attribute.Int64("plan_id", planID), attribute.Int64("order_id", orderID))

	unit, err := s.units.Claim(ctx, planID, orderID)
	if err != nil {
		status := "error"
		if stderrors.Is(err, pkgerrors.ErrOutOfStock) {
			status = "out_of_stock"
		}
		observability.InventoryClaims.WithLabelValues(status).Inc()
		failSpan(span, err, "claim failed")
		return nil, err
	}
	observability.InventoryClaims.WithLabelValues("success").Inc()
	s.checkLevel(ctx, planID)
	return unit, nil
}

// Release puts a claimed but undelivered unit back in the pool.
func (s *InventoryService) Release(ctx context.Context, unitID int64) error {
	tracer := otel.Tracer("inventory-service")
	ctx, span := tracer.Start(ctx, "Release")
	defer span.End()
	span.SetAttributes(attribute.Int64("unit_id", unitID))

	if err := s.units.Release(ctx, unitID); err != nil {
		failSpan(span, err, "release failed")
		slog.Error("failed to release unit", "unit_id", unitID, "error", err)
		return err
	}
	slog.Info("unit returned to pool", "unit_id", unitID)
	return nil
}

func (s *InventoryService) MarkDelivered(ctx context.Context, unitID int64) error {
	return s.units.MarkDelivered(ctx, unitID)
}

func (s *InventoryService) Unit(ctx context.Context, unitID int64) (*models.InventoryUnit, error) {
	return s.units.GetByID(ctx, unitID)
}

// Add uploads payloads for the plan and then runs the restock hook.
func (s *InventoryService) Add(ctx context.Context, planID int64, payloads []string) (int, error) {
	tracer := otel.Tracer("inventory-service")
	ctx, span := tracer.Start(ctx, "Add")
	defer span.End()
	span.SetAttributes(attribute.Int64("plan_id", planID), attribute.Int("count", len(payloads)))

	if _, err := s.plans.GetByID(ctx, planID); err != nil {
		failSpan(span, err, "plan lookup failed")
		return 0, err
	}

	clean := make([]string, 0, len(payloads))
	for _, p := range payloads {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, p)
		}
	}
	if len(clean) == 0 {
		err := fmt.Errorf("%w: no payloads to add", pkgerrors.ErrInvalidInput)
		failSpan(span, err, "empty upload")
		return 0, err
	}

	added, err := s.units.Add(ctx, planID, clean)
	if err != nil {
		failSpan(span, err, "failed to add inventory")
		return 0, err
	}
	s.checkLevel(ctx, planID)
	slog.Info("inventory restocked", "plan_id", planID, "added", added)

	if s.onRestock != nil {
		s.onRestock(ctx, planID)
	}
	return added, nil
}

func (s *InventoryService) Stock(ctx context.Context, planID int64) (models.StockLevel, error) {
	return s.units.Stock(ctx, planID)
}

// StockAll reports the stock level of every plan, active or not.
func (s *InventoryService) StockAll(ctx context.Context) ([]models.StockLevel, error) {
	plans, err := s.plans.List(ctx, false)
	if err != nil {
		return nil, err
	}
	levels := make([]models.StockLevel, 0, len(plans))
	for _, p := range plans {
		level, err := s.units.Stock(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// checkLevel updates the gauge and alerts once when stock crosses below the
// threshold.
func (s *InventoryService) checkLevel(ctx context.Context, planID int64) {
	level, err := s.units.Stock(ctx, planID)
	if err != nil {
		slog.Error("failed to read stock level", "plan_id", planID, "error", err)
		return
	}
	observability.InventoryAvailable.WithLabelValues(strconv.FormatInt(planID, 10)).Set(float64(level.Available))

	if s.threshold > 0 && level.Available == s.threshold-1 {
		slog.Warn("low stock", "plan_id", planID, "available", level.Available, "threshold", s.threshold)
		s.publisher.Publish(ctx, kafka.TopicAlerts, planID, kafka.Event{
			Type:   kafka.EventLowStock,
			PlanID: planID,
			Amount: level.Available,
			Text:   fmt.Sprintf("plan %d has %d units left", planID, level.Available),
		})
	}
}
