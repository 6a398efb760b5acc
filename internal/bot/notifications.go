package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
)

// Notifier pushes a message to a chat user outside of a request.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// LogNotifier only logs. It is used when no chat transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, userID int64, text string) error {
	slog.Info("notification", "user_id", userID, "text", text)
	return nil
}

type userLister interface {
	List(ctx context.Context) ([]models.User, error)
}

// Notifications turns domain events into chat messages. Each method is a
// kafka.Handler for one topic.
type Notifications struct {
	notifier Notifier
	users    userLister
	admins   []int64
}

func NewNotifications(notifier Notifier, users userLister, admins []int64) *Notifications {
	return &Notifications{notifier: notifier, users: users, admins: admins}
}

// Handlers maps every topic to its handler.
func (n *Notifications) Handlers() map[string]kafka.Handler {
	return map[string]kafka.Handler{
		kafka.TopicOrders:     n.Orders,
		kafka.TopicReceipts:   n.Receipts,
		kafka.TopicAlerts:     n.Alerts,
		kafka.TopicBroadcasts: n.Broadcasts,
		kafka.TopicTickets:    n.Tickets,
	}
}

func (n *Notifications) Orders(ctx context.Context, e kafka.Event) error {
	var text string
	switch e.Type {
	case kafka.EventOrderPaid:
		text = fmt.Sprintf("Order #%d is paid.", e.OrderID)
	case kafka.EventOrderFulfilled:
		text = fmt.Sprintf("Order #%d is ready:\n\n%s", e.OrderID, e.Text)
	case kafka.EventOrderCancelled:
		text = fmt.Sprintf("Order #%d was cancelled.", e.OrderID)
	case kafka.EventOrderExpired:
		text = fmt.Sprintf("Order #%d could not be delivered in time and %s was refunded to your wallet.", e.OrderID, formatMoney(e.Amount))
	default:
		return nil
	}
	return n.notifier.Notify(ctx, e.UserID, text)
}

func (n *Notifications) Receipts(ctx context.Context, e kafka.Event) error {
	var text string
	switch e.Type {
	case kafka.EventReceiptApproved:
		text = fmt.Sprintf("Receipt #%d for %s was approved.", e.ReceiptID, formatMoney(e.Amount))
	case kafka.EventReceiptRejected:
		text = fmt.Sprintf("Receipt #%d was rejected. Contact support if this is a mistake.", e.ReceiptID)
	case kafka.EventReceiptSubmitted:
		return n.toAdmins(ctx, fmt.Sprintf("New receipt #%d from user %d for %s. /receipts", e.ReceiptID, e.UserID, formatMoney(e.Amount)))
	default:
		return nil
	}
	return n.notifier.Notify(ctx, e.UserID, text)
}

func (n *Notifications) Tickets(ctx context.Context, e kafka.Event) error {
	if e.Type != kafka.EventTicketAnswered {
		return nil
	}
	return n.notifier.Notify(ctx, e.UserID, e.Text)
}

func (n *Notifications) Alerts(ctx context.Context, e kafka.Event) error {
	return n.toAdmins(ctx, fmt.Sprintf("[%s] %s", e.Type, e.Text))
}

func (n *Notifications) toAdmins(ctx context.Context, text string) error {
	var lastErr error
	for _, id := range n.admins {
		if err := n.notifier.Notify(ctx, id, text); err != nil {
			slog.Error("failed to notify admin", "admin_id", id, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// Broadcasts sends the text to every user that is not banned.
func (n *Notifications) Broadcasts(ctx context.Context, e kafka.Event) error {
	if e.Type != kafka.EventBroadcast {
		return nil
	}
	users, err := n.users.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list broadcast recipients: %w", err)
	}
	sent, failed := 0, 0
	for _, u := range users {
		if u.Banned {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := n.notifier.Notify(ctx, u.ID, e.Text); err != nil {
			failed++
			continue
		}
		sent++
	}
	slog.Info("broadcast delivered", "admin_id", e.UserID, "sent", sent, "failed", failed)
	return nil
}
