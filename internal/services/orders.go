package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const backlogBatch = 100

// OrderTTL holds how long an order may wait for payment and, once paid, for
// a unit.
type OrderTTL struct {
	Pending     time.Duration
	Fulfillment time.Duration
}

// OrderService coordinates a purchase across the discount codes, the ledger
// and the inventory pool. Each step commits on its own; a failure after an
// earlier step committed is compensated and recorded as an inconsistency.
type OrderService struct {
	orders    repository.OrderRepository
	receipts  repository.ReceiptRepository
	users     repository.UserRepository
	catalog   *CatalogService
	ledger    *LedgerService
	inventory *InventoryService
	discounts *DiscountService
	locker    redis.Locker
	publisher *kafka.Publisher
	incidents incidents
	ttl       OrderTTL
	now       func() time.Time
}

func NewOrderService(
	store *repository.Store,
	catalog *CatalogService,
	ledger *LedgerService,
	inventory *InventoryService,
	discounts *DiscountService,
	locker redis.Locker,
	publisher *kafka.Publisher,
	ttl OrderTTL,
) *OrderService {
	s := &OrderService{
		orders:    store.Orders,
		receipts:  store.Receipts,
		users:     store.Users,
		catalog:   catalog,
		ledger:    ledger,
		inventory: inventory,
		discounts: discounts,
		locker:    locker,
		publisher: publisher,
		incidents: incidents{repo: store.Inconsistencies, publisher: publisher},
		ttl:       ttl,
		now:       time.Now,
	}
	inventory.OnRestock(func(ctx context.Context, planID int64) {
		if _, err := s.FulfillBacklog(ctx, planID); err != nil {
			slog.Error("backlog fulfillment failed", "plan_id", planID, "error", err)
		}
	})
	return s
}

// SetClock replaces the time source.
func (s *OrderService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *OrderService) lock(ctx context.Context, orderID int64) (func(), error) {
	return s.locker.Lock(ctx, fmt.Sprintf("order:%d", orderID))
}

func (s *OrderService) emit(ctx context.Context, typ kafka.EventType, order *models.Order, text string) {
	s.publisher.Publish(ctx, kafka.TopicOrders, order.UserID, kafka.Event{
		Type:    typ,
		UserID:  order.UserID,
		OrderID: order.ID,
		PlanID:  order.PlanID,
		Amount:  order.Price,
		Text:    text,
	})
}

// owned loads the order and hides orders of other users.
func (s *OrderService) owned(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, pkgerrors.ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) payable(order *models.Order, now time.Time) error {
	if order.State != models.OrderPending {
		return fmt.Errorf("%w: order %d is %s", pkgerrors.ErrInvalidState, order.ID, order.State)
	}
	if !now.Before(order.ExpiresAt) {
		return fmt.Errorf("%w: order %d", pkgerrors.ErrOrderExpired, order.ID)
	}
	return nil
}

// CreateOrder prices the plan for the user, applying the code if given, and
// stores a pending order. The code is validated but not consumed.
func (s *OrderService) CreateOrder(ctx context.Context, userID, planID int64, code string) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "CreateOrder")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("plan_id", planID))

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		failSpan(span, err, "user lookup failed")
		return nil, err
	}
	if user.Banned {
		failSpan(span, pkgerrors.ErrUserBanned, "user is banned")
		return nil, pkgerrors.ErrUserBanned
	}
	plan, err := s.catalog.Purchasable(ctx, planID)
	if err != nil {
		failSpan(span, err, "plan not purchasable")
		return nil, err
	}

	now := s.now()
	order := &models.Order{
		UserID:    userID,
		PlanID:    planID,
		BasePrice: plan.Price,
		Price:     plan.Price,
		State:     models.OrderPending,
		ExpiresAt: now.Add(s.ttl.Pending),
	}
	if code != "" {
		res, err := s.discounts.Validate(ctx, code, planID, now)
		if err != nil {
			return nil, err
		}
		order.DiscountCodeID = &res.CodeID
		order.DiscountToken = res.Token
		order.DiscountPercent = res.Percent
		order.Price = DiscountedPrice(plan.Price, res.Percent)
	}

	if err := s.orders.Create(ctx, order); err != nil {
		failSpan(span, err, "failed to create order")
		return nil, err
	}
	slog.Info("order created", "order_id", order.ID, "user_id", userID, "plan_id", planID, "price", order.Price, "discount_percent", order.DiscountPercent)
	s.emit(ctx, kafka.EventOrderCreated, order, "")
	return order, nil
}

// PayWithWallet redeems the discount, debits the wallet and marks the order
// paid. On InsufficientFunds the order stays pending and a redemption made by
// this call is released.
func (s *OrderService) PayWithWallet(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "PayWithWallet")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.Int64("order_id", orderID))

	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		failSpan(span, err, "order is locked")
		return nil, err
	}
	defer unlock()

	order, err := s.owned(ctx, userID, orderID)
	if err != nil {
		failSpan(span, err, "order lookup failed")
		return nil, err
	}
	now := s.now()
	if err := s.payable(order, now); err != nil {
		failSpan(span, err, "order not payable")
		return nil, err
	}
	if order.ReceiptID != nil {
		err := fmt.Errorf("%w: order %d awaits receipt review", pkgerrors.ErrInvalidState, order.ID)
		failSpan(span, err, "receipt pending")
		return nil, err
	}

	var redeemed bool
	if res := order.Reservation(); res != nil {
		if redeemed, err = s.discounts.Redeem(ctx, res, order.ID); err != nil {
			failSpan(span, err, "discount redemption failed")
			return nil, err
		}
	}

	if order.Price > 0 {
		_, err = s.ledger.AdjustWithReference(ctx, userID, -order.Price, models.KindPurchaseDebit,
			fmt.Sprintf("order %d", order.ID), orderRef(order.ID))
		if err != nil {
			if redeemed {
				s.releaseDiscount(ctx, order)
			}
			failSpan(span, err, "wallet debit failed")
			return nil, err
		}
	}

	paidAt := now
	expiresAt := now.Add(s.ttl.Fulfillment)
	paid, err := s.orders.Transition(ctx, order.ID, models.OrderPending, models.OrderPaid, models.OrderPatch{
		PaymentMethod: models.PaymentWallet,
		PaidAt:        &paidAt,
		ExpiresAt:     &expiresAt,
	})
	if err != nil {
		failSpan(span, err, "transition to paid failed")
		s.refund(ctx, order, "payment of order %d could not be recorded: %v", order.ID, err)
		if redeemed {
			s.releaseDiscount(ctx, order)
		}
		return nil, err
	}

	slog.Info("order paid from wallet", "order_id", paid.ID, "user_id", userID, "price", paid.Price)
	s.emit(ctx, kafka.EventOrderPaid, paid, "")
	return paid, nil
}

// PayWithReceipt links a pending order-payment receipt to the order. The
// discount is redeemed now so the price holds until review.
func (s *OrderService) PayWithReceipt(ctx context.Context, userID, orderID, receiptID int64) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "PayWithReceipt")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID), attribute.Int64("receipt_id", receiptID))

	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		failSpan(span, err, "order is locked")
		return nil, err
	}
	defer unlock()

	order, err := s.owned(ctx, userID, orderID)
	if err != nil {
		failSpan(span, err, "order lookup failed")
		return nil, err
	}
	if err := s.payable(order, s.now()); err != nil {
		failSpan(span, err, "order not payable")
		return nil, err
	}
	if order.ReceiptID != nil {
		err := fmt.Errorf("%w: order %d already has receipt %d", pkgerrors.ErrInvalidState, order.ID, *order.ReceiptID)
		failSpan(span, err, "receipt already linked")
		return nil, err
	}

	receipt, err := s.receipts.GetByID(ctx, receiptID)
	if err != nil {
		failSpan(span, err, "receipt lookup failed")
		return nil, err
	}
	if receipt.UserID != userID || receipt.Purpose != models.PurposeOrderPayment ||
		receipt.Status != models.ReceiptPending || receipt.OrderID == nil || *receipt.OrderID != order.ID {
		err := fmt.Errorf("%w: receipt %d cannot pay order %d", pkgerrors.ErrInvalidState, receiptID, order.ID)
		failSpan(span, err, "receipt mismatch")
		return nil, err
	}

	var redeemed bool
	if res := order.Reservation(); res != nil {
		if redeemed, err = s.discounts.Redeem(ctx, res, order.ID); err != nil {
			failSpan(span, err, "discount redemption failed")
			return nil, err
		}
	}
	if err := s.orders.SetReceipt(ctx, order.ID, &receiptID); err != nil {
		if redeemed {
			s.releaseDiscount(ctx, order)
		}
		failSpan(span, err, "failed to link receipt")
		return nil, err
	}
	order.ReceiptID = &receiptID
	slog.Info("receipt linked to order", "order_id", order.ID, "receipt_id", receiptID, "amount", receipt.Amount)
	return order, nil
}

// settleReceipt applies an approved order-payment receipt. The caller holds
// the order lock. The receipt is already approved, so the money always lands
// somewhere: on the order if it can still be paid, otherwise in the wallet.
func (s *OrderService) settleReceipt(ctx context.Context, receipt *models.Receipt) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "SettleReceipt")
	defer span.End()
	span.SetAttributes(attribute.Int64("receipt_id", receipt.ID))

	if receipt.OrderID == nil {
		err := fmt.Errorf("%w: receipt %d is not linked to an order", pkgerrors.ErrInvalidState, receipt.ID)
		failSpan(span, err, "unlinked receipt")
		s.creditReceipt(ctx, receipt, receipt.Amount, "unlinked order receipt %d", receipt.ID)
		s.incidents.compensated(ctx, "credit_receipt", models.InconsistencyRefunded, receipt.UserID, nil,
			"receipt %d approved without an order, %d credited to wallet", receipt.ID, receipt.Amount)
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, *receipt.OrderID)
	if err != nil {
		failSpan(span, err, "order lookup failed")
		s.creditReceipt(ctx, receipt, receipt.Amount, "receipt %d could not settle order %d", receipt.ID, *receipt.OrderID)
		s.incidents.compensated(ctx, "credit_receipt", models.InconsistencyRefunded, receipt.UserID, receipt.OrderID,
			"order %d could not be loaded for receipt %d, %d credited to wallet: %v", *receipt.OrderID, receipt.ID, receipt.Amount, err)
		return nil, err
	}

	if order.State != models.OrderPending || order.ReceiptID == nil || *order.ReceiptID != receipt.ID {
		s.creditReceipt(ctx, receipt, receipt.Amount, "receipt %d approved for order %d in state %s", receipt.ID, order.ID, order.State)
		s.incidents.raise(ctx, models.InconsistencyRefunded, order.UserID, &order.ID,
			"receipt %d approved after order left pending (%s), %d credited to wallet", receipt.ID, order.State, receipt.Amount)
		return order, nil
	}

	if receipt.Amount < order.Price {
		s.creditReceipt(ctx, receipt, receipt.Amount, "underpaid receipt %d for order %d", receipt.ID, order.ID)
		if err := s.orders.SetReceipt(ctx, order.ID, nil); err != nil {
			slog.Error("failed to unlink underpaid receipt", "order_id", order.ID, "receipt_id", receipt.ID, "error", err)
		}
		order.ReceiptID = nil
		slog.Warn("receipt below order price, amount credited to wallet", "order_id", order.ID, "receipt_id", receipt.ID, "amount", receipt.Amount, "price", order.Price)
		return order, nil
	}

	now := s.now()
	expiresAt := now.Add(s.ttl.Fulfillment)
	paid, err := s.orders.Transition(ctx, order.ID, models.OrderPending, models.OrderPaid, models.OrderPatch{
		PaymentMethod: models.PaymentReceipt,
		PaidAt:        &now,
		ExpiresAt:     &expiresAt,
	})
	if err != nil {
		failSpan(span, err, "transition to paid failed")
		s.creditReceipt(ctx, receipt, receipt.Amount, "receipt %d could not pay order %d", receipt.ID, order.ID)
		s.incidents.compensated(ctx, "credit_receipt", models.InconsistencyRefunded, order.UserID, &order.ID,
			"order %d could not be marked paid by receipt %d: %v", order.ID, receipt.ID, err)
		return nil, err
	}
	if over := receipt.Amount - paid.Price; over > 0 {
		s.creditReceipt(ctx, receipt, over, "overpayment on order %d", order.ID)
	}
	slog.Info("order paid by receipt", "order_id", paid.ID, "receipt_id", receipt.ID, "amount", receipt.Amount)
	s.emit(ctx, kafka.EventOrderPaid, paid, "")

	fulfilled, _, err := s.fulfill(ctx, paid)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrOutOfStock) {
			s.reportUnfulfilled(ctx, paid)
		}
		slog.Warn("order paid by receipt but not fulfilled", "order_id", paid.ID, "error", err)
		return paid, nil
	}
	return fulfilled, nil
}

// unlinkReceipt detaches a rejected receipt. The discount use stays with the
// order so a later payment keeps the same price.
func (s *OrderService) unlinkReceipt(ctx context.Context, orderID, receiptID int64) {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		slog.Error("failed to lock order for receipt unlink", "order_id", orderID, "receipt_id", receiptID, "error", err)
		return
	}
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil || order.ReceiptID == nil || *order.ReceiptID != receiptID || order.State != models.OrderPending {
		return
	}
	if err := s.orders.SetReceipt(ctx, orderID, nil); err != nil {
		slog.Error("failed to unlink rejected receipt", "order_id", orderID, "receipt_id", receiptID, "error", err)
	}
}

func (s *OrderService) creditReceipt(ctx context.Context, receipt *models.Receipt, amount int64, format string, args ...any) {
	_, err := s.ledger.AdjustWithReference(ctx, receipt.UserID, amount, models.KindTopup, fmt.Sprintf(format, args...), receiptRef(receipt.ID))
	if err != nil {
		s.incidents.raise(ctx, models.InconsistencyCompensateFailed, receipt.UserID, receipt.OrderID,
			"failed to credit %d from receipt %d: %v", amount, receipt.ID, err)
	}
}

// Fulfill claims a unit for a paid order and marks the order fulfilled. On
// OutOfStock the order stays paid and admins are alerted.
func (s *OrderService) Fulfill(ctx context.Context, orderID int64) (*models.Order, *models.InventoryUnit, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "Fulfill")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID))

	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		failSpan(span, err, "order is locked")
		return nil, nil, err
	}
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		failSpan(span, err, "order lookup failed")
		return nil, nil, err
	}
	fulfilled, unit, err := s.fulfill(ctx, order)
	if err != nil {
		if stderrors.Is(err, pkgerrors.ErrOutOfStock) {
			s.reportUnfulfilled(ctx, order)
		}
		failSpan(span, err, "fulfillment failed")
		return nil, nil, err
	}
	return fulfilled, unit, nil
}

// fulfill expects the caller to hold the order lock.
func (s *OrderService) fulfill(ctx context.Context, order *models.Order) (*models.Order, *models.InventoryUnit, error) {
	if order.State != models.OrderPaid {
		return nil, nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrInvalidState, order.ID, order.State)
	}

	unit, err := s.inventory.Claim(ctx, order.PlanID, order.ID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	fulfilled, err := s.orders.Transition(ctx, order.ID, models.OrderPaid, models.OrderFulfilled, models.OrderPatch{
		UnitID:      &unit.ID,
		FulfilledAt: &now,
	})
	if err != nil {
		if relErr := s.inventory.Release(ctx, unit.ID); relErr != nil {
			s.incidents.raise(ctx, models.InconsistencyReleaseFailed, order.UserID, &order.ID,
				"unit %d claimed for order %d could not be released: %v", unit.ID, order.ID, relErr)
		} else {
			s.incidents.compensated(ctx, "release_unit", models.InconsistencyUnfulfilled, order.UserID, &order.ID,
				"unit %d released after order %d failed to complete: %v", unit.ID, order.ID, err)
		}
		return nil, nil, err
	}

	if err := s.inventory.MarkDelivered(ctx, unit.ID); err != nil {
		s.incidents.raise(ctx, models.InconsistencyCompensateFailed, order.UserID, &order.ID,
			"unit %d of fulfilled order %d not marked delivered: %v", unit.ID, order.ID, err)
	} else {
		unit.Delivered = true
	}

	slog.Info("order fulfilled", "order_id", fulfilled.ID, "user_id", fulfilled.UserID, "unit_id", unit.ID)
	s.emit(ctx, kafka.EventOrderFulfilled, fulfilled, unit.Payload)
	return fulfilled, unit, nil
}

func (s *OrderService) reportUnfulfilled(ctx context.Context, order *models.Order) {
	s.publisher.Publish(ctx, kafka.TopicAlerts, order.PlanID, kafka.Event{
		Type:    kafka.EventOutOfStock,
		UserID:  order.UserID,
		OrderID: order.ID,
		PlanID:  order.PlanID,
		Text:    fmt.Sprintf("order %d is paid but plan %d is out of stock", order.ID, order.PlanID),
	})
	s.incidents.raise(ctx, models.InconsistencyUnfulfilled, order.UserID, &order.ID,
		"order %d paid, plan %d out of stock", order.ID, order.PlanID)
}

// Purchase creates an order, pays it from the wallet and fulfills it. When
// the plan is out of stock the paid order is returned with ErrOutOfStock.
func (s *OrderService) Purchase(ctx context.Context, userID, planID int64, code string) (*models.Order, *models.InventoryUnit, error) {
	order, err := s.CreateOrder(ctx, userID, planID, code)
	if err != nil {
		return nil, nil, err
	}
	paid, err := s.PayWithWallet(ctx, userID, order.ID)
	if err != nil {
		return order, nil, err
	}
	fulfilled, unit, err := s.Fulfill(ctx, paid.ID)
	if err != nil {
		return paid, nil, err
	}
	return fulfilled, unit, nil
}

// Cancel cancels a pending order of the user and gives the discount use back.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "Cancel")
	defer span.End()
	span.SetAttributes(attribute.Int64("order_id", orderID))

	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		failSpan(span, err, "order is locked")
		return nil, err
	}
	defer unlock()

	order, err := s.owned(ctx, userID, orderID)
	if err != nil {
		failSpan(span, err, "order lookup failed")
		return nil, err
	}
	if order.ReceiptID != nil {
		err := fmt.Errorf("%w: order %d awaits receipt review", pkgerrors.ErrInvalidState, order.ID)
		failSpan(span, err, "receipt pending")
		return nil, err
	}
	cancelled, err := s.orders.Transition(ctx, order.ID, models.OrderPending, models.OrderCancelled, models.OrderPatch{})
	if err != nil {
		failSpan(span, err, "cancel failed")
		return nil, err
	}
	s.releaseDiscount(ctx, order)
	slog.Info("order cancelled", "order_id", order.ID, "user_id", userID)
	s.emit(ctx, kafka.EventOrderCancelled, cancelled, "")
	return cancelled, nil
}

func (s *OrderService) Get(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	return s.owned(ctx, userID, orderID)
}

func (s *OrderService) GetAny(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// Delivered returns the unit bound to a fulfilled order of the user.
func (s *OrderService) Delivered(ctx context.Context, userID, orderID int64) (*models.InventoryUnit, error) {
	order, err := s.owned(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.State != models.OrderFulfilled || order.UnitID == nil {
		return nil, fmt.Errorf("%w: order %d is %s", pkgerrors.ErrInvalidState, order.ID, order.State)
	}
	return s.inventory.Unit(ctx, *order.UnitID)
}

func (s *OrderService) History(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "History")
	defer span.End()

	orders, err := s.orders.ListByUser(ctx, userID, limit)
	if err != nil {
		failSpan(span, err, "failed to list orders")
		return nil, err
	}
	return orders, nil
}

// FulfillBacklog fulfills paid orders of the plan, oldest first, until stock
// runs out. It returns the number of orders fulfilled.
func (s *OrderService) FulfillBacklog(ctx context.Context, planID int64) (int, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "FulfillBacklog")
	defer span.End()
	span.SetAttributes(attribute.Int64("plan_id", planID))

	waiting, err := s.orders.ListByState(ctx, models.OrderPaid, planID, backlogBatch)
	if err != nil {
		failSpan(span, err, "failed to list paid orders")
		return 0, err
	}

	done := 0
	for _, o := range waiting {
		_, _, err := s.fulfillOne(ctx, o.ID)
		if stderrors.Is(err, pkgerrors.ErrOutOfStock) {
			break
		}
		if err != nil {
			slog.Warn("backlog order skipped", "order_id", o.ID, "error", err)
			continue
		}
		done++
	}
	if done > 0 {
		slog.Info("backlog fulfilled", "plan_id", planID, "orders", done, "waiting", len(waiting))
	}
	return done, nil
}

func (s *OrderService) fulfillOne(ctx context.Context, orderID int64) (*models.Order, *models.InventoryUnit, error) {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return s.fulfill(ctx, order)
}

// ExpireStale cancels pending orders past their payment window and expires
// paid orders that waited too long for a unit, refunding them. Pending orders
// with a receipt under review are left alone.
func (s *OrderService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	tracer := otel.Tracer("order-service")
	ctx, span := tracer.Start(ctx, "ExpireStale")
	defer span.End()

	count := 0
	pending, err := s.orders.ListExpired(ctx, models.OrderPending, now, backlogBatch)
	if err != nil {
		failSpan(span, err, "failed to list stale pending orders")
		return 0, err
	}
	for _, o := range pending {
		ok, err := s.expireOne(ctx, o.ID, models.OrderPending, now)
		if err != nil {
			slog.Warn("failed to cancel stale order", "order_id", o.ID, "error", err)
			continue
		}
		if ok {
			count++
		}
	}

	paid, err := s.orders.ListExpired(ctx, models.OrderPaid, now, backlogBatch)
	if err != nil {
		failSpan(span, err, "failed to list stale paid orders")
		return count, err
	}
	for _, o := range paid {
		ok, err := s.expireOne(ctx, o.ID, models.OrderPaid, now)
		if err != nil {
			slog.Warn("failed to expire paid order", "order_id", o.ID, "error", err)
			continue
		}
		if ok {
			count++
		}
	}

	if count > 0 {
		slog.Info("stale orders swept", "count", count)
	}
	return count, nil
}

func (s *OrderService) expireOne(ctx context.Context, orderID int64, from models.OrderState, now time.Time) (bool, error) {
	unlock, err := s.lock(ctx, orderID)
	if err != nil {
		return false, err
	}
	defer unlock()

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return false, err
	}
	if order.State != from || now.Before(order.ExpiresAt) {
		return false, nil
	}

	if from == models.OrderPending {
		if order.ReceiptID != nil {
			receipt, err := s.receipts.GetByID(ctx, *order.ReceiptID)
			if err != nil {
				return false, err
			}
			if receipt.Status == models.ReceiptPending {
				return false, nil
			}
		}
		cancelled, err := s.orders.Transition(ctx, order.ID, models.OrderPending, models.OrderCancelled, models.OrderPatch{})
		if err != nil {
			return false, err
		}
		s.releaseDiscount(ctx, order)
		s.emit(ctx, kafka.EventOrderCancelled, cancelled, "payment window closed")
		return true, nil
	}

	expired, err := s.orders.Transition(ctx, order.ID, models.OrderPaid, models.OrderExpired, models.OrderPatch{})
	if err != nil {
		return false, err
	}
	s.refund(ctx, order, "order %d expired without a unit after %s", order.ID, s.ttl.Fulfillment)
	s.releaseDiscount(ctx, order)
	s.emit(ctx, kafka.EventOrderExpired, expired, "refunded")
	return true, nil
}

// refund credits the order price back to the wallet and records why.
func (s *OrderService) refund(ctx context.Context, order *models.Order, format string, args ...any) {
	detail := fmt.Sprintf(format, args...)
	if order.Price > 0 {
		_, err := s.ledger.AdjustWithReference(ctx, order.UserID, order.Price, models.KindRefund,
			fmt.Sprintf("refund for order %d", order.ID), orderRef(order.ID))
		if err != nil {
			s.incidents.raise(ctx, models.InconsistencyCompensateFailed, order.UserID, &order.ID,
				"refund of %d failed (%s): %v", order.Price, detail, err)
			return
		}
	}
	s.incidents.compensated(ctx, "refund", models.InconsistencyRefunded, order.UserID, &order.ID,
		"%d refunded: %s", order.Price, detail)
}

func (s *OrderService) releaseDiscount(ctx context.Context, order *models.Order) {
	if order.DiscountToken == "" {
		return
	}
	if _, err := s.discounts.Release(ctx, order.DiscountToken); err != nil {
		s.incidents.raise(ctx, models.InconsistencyCompensateFailed, order.UserID, &order.ID,
			"discount use of order %d not released: %v", order.ID, err)
	}
}
