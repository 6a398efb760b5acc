package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// systemReviewer marks receipts rejected by the service itself.
const systemReviewer int64 = 0

type ReceiptService struct {
	receipts  repository.ReceiptRepository
	users     repository.UserRepository
	orders    *OrderService
	ledger    *LedgerService
	publisher *kafka.Publisher
	incidents incidents
	now       func() time.Time
}

func NewReceiptService(store *repository.Store, orders *OrderService, ledger *LedgerService, publisher *kafka.Publisher) *ReceiptService {
	return &ReceiptService{
		receipts:  store.Receipts,
		users:     store.Users,
		orders:    orders,
		ledger:    ledger,
		publisher: publisher,
		incidents: incidents{repo: store.Inconsistencies, publisher: publisher},
		now:       time.Now,
	}
}

func (s *ReceiptService) emit(ctx context.Context, typ kafka.EventType, r *models.Receipt, text string) {
	event := kafka.Event{Type: typ, UserID: r.UserID, ReceiptID: r.ID, Amount: r.Amount, Text: text}
	if r.OrderID != nil {
		event.OrderID = *r.OrderID
	}
	s.publisher.Publish(ctx, kafka.TopicReceipts, r.UserID, event)
}

// Submit stores a receipt uploaded by the user. An order-payment receipt is
// linked to its order right away; if linking fails the receipt is rejected.
func (s *ReceiptService) Submit(ctx context.Context, userID int64, purpose models.ReceiptPurpose, amount int64, fileRef string, orderID *int64) (*models.Receipt, error) {
	tracer := otel.Tracer("receipt-service")
	ctx, span := tracer.Start(ctx, "Submit")
	defer span.End()
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("purpose", string(purpose)), attribute.Int64("amount", amount))

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		failSpan(span, err, "user lookup failed")
		return nil, err
	}
	if user.Banned {
		return nil, pkgerrors.ErrUserBanned
	}
	switch purpose {
	case models.PurposeWalletTopup:
		orderID = nil
	case models.PurposeOrderPayment:
		if orderID == nil {
			return nil, fmt.Errorf("%w: order payment receipt needs an order", pkgerrors.ErrInvalidInput)
		}
	default:
		return nil, fmt.Errorf("%w: unknown receipt purpose %q", pkgerrors.ErrInvalidInput, purpose)
	}
	if fileRef == "" {
		return nil, fmt.Errorf("%w: receipt file is required", pkgerrors.ErrInvalidInput)
	}

	receipt := &models.Receipt{
		UserID:  userID,
		Purpose: purpose,
		Amount:  amount,
		Status:  models.ReceiptPending,
		FileRef: fileRef,
		OrderID: orderID,
	}
	if err := s.receipts.Create(ctx, receipt); err != nil {
		failSpan(span, err, "failed to store receipt")
		return nil, err
	}

	if purpose == models.PurposeOrderPayment {
		if _, err := s.orders.PayWithReceipt(ctx, userID, *orderID, receipt.ID); err != nil {
			failSpan(span, err, "failed to link receipt")
			if _, rejErr := s.receipts.Review(ctx, receipt.ID, models.ReceiptRejected, systemReviewer, s.now()); rejErr != nil {
				slog.Error("failed to reject unlinked receipt", "receipt_id", receipt.ID, "error", rejErr)
			}
			return nil, err
		}
	}

	slog.Info("receipt submitted", "receipt_id", receipt.ID, "user_id", userID, "purpose", purpose, "amount", amount)
	s.emit(ctx, kafka.EventReceiptSubmitted, receipt, "")
	return receipt, nil
}

// Approve reviews the receipt first, so a second approval fails with
// InvalidState before anything is credited. An order-payment receipt is
// reviewed and settled under the order lock; a busy order leaves the receipt
// pending.
func (s *ReceiptService) Approve(ctx context.Context, receiptID, adminID int64) (*models.Receipt, error) {
	tracer := otel.Tracer("receipt-service")
	ctx, span := tracer.Start(ctx, "Approve")
	defer span.End()
	span.SetAttributes(attribute.Int64("receipt_id", receiptID), attribute.Int64("admin_id", adminID))

	current, err := s.receipts.GetByID(ctx, receiptID)
	if err != nil {
		failSpan(span, err, "receipt lookup failed")
		return nil, err
	}
	if current.Purpose == models.PurposeOrderPayment && current.OrderID != nil {
		unlock, err := s.orders.lock(ctx, *current.OrderID)
		if err != nil {
			failSpan(span, err, "order is locked")
			slog.Warn("receipt approval deferred", "receipt_id", receiptID, "order_id", *current.OrderID, "error", err)
			return nil, err
		}
		defer unlock()
	}

	receipt, err := s.receipts.Review(ctx, receiptID, models.ReceiptApproved, adminID, s.now())
	if err != nil {
		failSpan(span, err, "review failed")
		slog.Warn("receipt approval refused", "receipt_id", receiptID, "admin_id", adminID, "error", err)
		return nil, err
	}

	switch receipt.Purpose {
	case models.PurposeWalletTopup:
		_, err := s.ledger.AdjustWithReference(ctx, receipt.UserID, receipt.Amount, models.KindTopup,
			fmt.Sprintf("top-up receipt %d", receipt.ID), receiptRef(receipt.ID))
		if err != nil {
			failSpan(span, err, "top-up credit failed")
			s.incidents.raise(ctx, models.InconsistencyCompensateFailed, receipt.UserID, nil,
				"receipt %d approved but %d not credited: %v", receipt.ID, receipt.Amount, err)
			return nil, err
		}
	case models.PurposeOrderPayment:
		if _, err := s.orders.settleReceipt(ctx, receipt); err != nil {
			failSpan(span, err, "order settlement failed")
			return nil, err
		}
	}

	slog.Info("receipt approved", "receipt_id", receipt.ID, "admin_id", adminID, "user_id", receipt.UserID, "amount", receipt.Amount)
	s.emit(ctx, kafka.EventReceiptApproved, receipt, "")
	return receipt, nil
}

// Reject closes the receipt without touching the ledger. A linked order is
// unlinked and stays pending so the user can pay again.
func (s *ReceiptService) Reject(ctx context.Context, receiptID, adminID int64) (*models.Receipt, error) {
	tracer := otel.Tracer("receipt-service")
	ctx, span := tracer.Start(ctx, "Reject")
	defer span.End()
	span.SetAttributes(attribute.Int64("receipt_id", receiptID), attribute.Int64("admin_id", adminID))

	receipt, err := s.receipts.Review(ctx, receiptID, models.ReceiptRejected, adminID, s.now())
	if err != nil {
		failSpan(span, err, "review failed")
		return nil, err
	}
	if receipt.OrderID != nil {
		s.orders.unlinkReceipt(ctx, *receipt.OrderID, receipt.ID)
	}

	slog.Info("receipt rejected", "receipt_id", receipt.ID, "admin_id", adminID, "user_id", receipt.UserID)
	s.emit(ctx, kafka.EventReceiptRejected, receipt, "")
	return receipt, nil
}

func (s *ReceiptService) Get(ctx context.Context, receiptID int64) (*models.Receipt, error) {
	return s.receipts.GetByID(ctx, receiptID)
}

func (s *ReceiptService) ListPending(ctx context.Context, limit int) ([]models.Receipt, error) {
	tracer := otel.Tracer("receipt-service")
	ctx, span := tracer.Start(ctx, "ListPending")
	defer span.End()

	receipts, err := s.receipts.ListPending(ctx, limit)
	if err != nil {
		failSpan(span, err, "failed to list receipts")
		return nil, err
	}
	return receipts, nil
}
