package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/memory"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *repository.Store {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)
	return store
}

func TestOrderRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	order := &models.Order{UserID: 1, PlanID: 3, Price: 100, State: models.OrderPending, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, store.Orders.Create(ctx, order))
	assert.Equal(t, int64(1), order.ID)

	assert.ErrorIs(t, store.Orders.Create(ctx, &models.Order{State: models.OrderPaid}), pkgerrors.ErrInvalidState)

	paidAt := now
	paid, err := store.Orders.Transition(ctx, order.ID, models.OrderPending, models.OrderPaid, models.OrderPatch{
		PaymentMethod: models.PaymentWallet,
		PaidAt:        &paidAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.State)
	assert.Equal(t, models.PaymentWallet, paid.PaymentMethod)

	_, err = store.Orders.Transition(ctx, order.ID, models.OrderPending, models.OrderCancelled, models.OrderPatch{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	_, err = store.Orders.Transition(ctx, order.ID, models.OrderPaid, models.OrderPending, models.OrderPatch{})
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	_, err = store.Orders.Transition(ctx, 99, models.OrderPending, models.OrderPaid, models.OrderPatch{})
	assert.ErrorIs(t, err, pkgerrors.ErrOrderNotFound)

	receiptID := int64(5)
	assert.ErrorIs(t, store.Orders.SetReceipt(ctx, order.ID, &receiptID), pkgerrors.ErrInvalidState)

	// The stored copy is not shared with callers.
	paid.State = models.OrderCancelled
	got, err := store.Orders.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.State)
}

func TestOrderRepository_Listings(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	for i, planID := range []int64{1, 2, 1} {
		o := &models.Order{UserID: 7, PlanID: planID, Price: 100, State: models.OrderPending, ExpiresAt: now.Add(time.Duration(i)*time.Hour - 30*time.Minute)}
		require.NoError(t, store.Orders.Create(ctx, o))
	}

	byUser, err := store.Orders.ListByUser(ctx, 7, 2)
	require.NoError(t, err)
	require.Len(t, byUser, 2)
	assert.Equal(t, int64(3), byUser[0].ID)

	forPlan, err := store.Orders.ListByState(ctx, models.OrderPending, 1, 10)
	require.NoError(t, err)
	require.Len(t, forPlan, 2)
	assert.Equal(t, int64(1), forPlan[0].ID)
	assert.Equal(t, int64(3), forPlan[1].ID)

	expired, err := store.Orders.ListExpired(ctx, models.OrderPending, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].ID)

	counts, err := store.Orders.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[models.OrderPending])
}

func TestDiscountRepository_RedeemAndRelease(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	code := &models.DiscountCode{Code: "SPRING", Percent: 15, MaxUsage: 1}
	require.NoError(t, store.Discounts.Create(ctx, code))
	assert.ErrorIs(t, store.Discounts.Create(ctx, &models.DiscountCode{Code: "SPRING", Percent: 5, MaxUsage: 1}), pkgerrors.ErrAlreadyExists)

	applied, err := store.Discounts.Redeem(ctx, code.ID, "a", 1)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = store.Discounts.Redeem(ctx, code.ID, "b", 2)
	assert.ErrorIs(t, err, pkgerrors.ErrUsageExceeded)

	released, err := store.Discounts.Release(ctx, "a")
	require.NoError(t, err)
	assert.True(t, released)

	applied, err = store.Discounts.Redeem(ctx, code.ID, "b", 2)
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := store.Discounts.GetByCode(ctx, "SPRING")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
}

func TestLedgerRepository_Apply(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.Users.Upsert(ctx, &models.User{ID: 1, DisplayName: "a"}))

	balance, err := store.Ledger.Apply(ctx, &models.Transaction{UserID: 1, Amount: 500, Kind: models.KindTopup})
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)

	_, err = store.Ledger.Apply(ctx, &models.Transaction{UserID: 1, Amount: -501, Kind: models.KindPurchaseDebit})
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
	_, err = store.Ledger.Apply(ctx, &models.Transaction{UserID: 2, Amount: 5, Kind: models.KindTopup})
	assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)

	sum, err := store.Ledger.Sum(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sum)

	// Upsert keeps the balance of a known user.
	u := &models.User{ID: 1, DisplayName: "renamed"}
	require.NoError(t, store.Users.Upsert(ctx, u))
	assert.Equal(t, int64(500), u.Balance)
}

func TestTicketRepository_Turns(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	ticket := &models.Ticket{UserID: 1, Subject: "hi", Status: models.TicketOpen}
	require.NoError(t, store.Tickets.Create(ctx, ticket, &models.TicketMessage{Sender: models.SenderUser, Body: "hello"}))

	err := store.Tickets.Append(ctx, &models.TicketMessage{TicketID: ticket.ID, Sender: models.SenderUser, Body: "again"},
		models.TicketAnswered, models.TicketOpen)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)

	require.NoError(t, store.Tickets.Append(ctx, &models.TicketMessage{TicketID: ticket.ID, Sender: models.SenderAdmin, Body: "yes?"},
		models.TicketOpen, models.TicketAnswered))

	msgs, err := store.Tickets.Messages(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Body)

	answered, err := store.Tickets.ListByStatus(ctx, models.TicketAnswered)
	require.NoError(t, err)
	assert.Len(t, answered, 1)
}
