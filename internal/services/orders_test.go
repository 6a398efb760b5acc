package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/memory"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unresolved(t *testing.T, env *testEnv, kind models.InconsistencyKind) []models.Inconsistency {
	t.Helper()
	all, err := env.admin.Inconsistencies(env.ctx)
	require.NoError(t, err)
	var out []models.Inconsistency
	for _, rec := range all {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

func usedCount(t *testing.T, env *testEnv, code string) int {
	t.Helper()
	d, err := env.discounts.Get(env.ctx, code)
	require.NoError(t, err)
	return d.UsedCount
}

func TestOrderService_PurchaseWithDiscount(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 100000)
	p := env.plan(t, 50000, 1)
	env.code(t, "SAVE10", 10, 5, nil)

	order, unit, err := env.orders.Purchase(env.ctx, 1, p.ID, "save10")
	require.NoError(t, err)

	assert.Equal(t, models.OrderFulfilled, order.State)
	assert.Equal(t, models.PaymentWallet, order.PaymentMethod)
	assert.Equal(t, int64(50000), order.BasePrice)
	assert.Equal(t, int64(45000), order.Price)
	require.NotNil(t, unit)
	assert.True(t, unit.Delivered)
	require.NotNil(t, order.UnitID)
	assert.Equal(t, unit.ID, *order.UnitID)

	assert.Equal(t, int64(55000), env.balance(t, 1))
	assert.Equal(t, 1, usedCount(t, env, "SAVE10"))
	env.assertLedgerConsistent(t, 1)

	level, err := env.inventory.Stock(env.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), level.Claimed)

	fulfilled := env.events.ofType(kafka.EventOrderFulfilled)
	require.Len(t, fulfilled, 1)
	assert.Equal(t, unit.Payload, fulfilled[0].Text)

	delivered, err := env.orders.Delivered(env.ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, unit.ID, delivered.ID)
}

func TestOrderService_OutOfStockKeepsOrderPaid(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 10000)
	p := env.plan(t, 4000, 0)

	order, unit, err := env.orders.Purchase(env.ctx, 1, p.ID, "")
	assert.ErrorIs(t, err, pkgerrors.ErrOutOfStock)
	assert.Nil(t, unit)
	require.NotNil(t, order)
	assert.Equal(t, models.OrderPaid, order.State)

	stored, err := env.orders.Get(env.ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, stored.State)
	assert.Equal(t, int64(6000), env.balance(t, 1))

	history, err := env.ledger.History(env.ctx, 1, 10)
	require.NoError(t, err)
	for _, tx := range history {
		assert.NotEqual(t, models.KindRefund, tx.Kind)
	}

	assert.Len(t, env.events.ofType(kafka.EventOutOfStock), 1)
	assert.Len(t, unresolved(t, env, models.InconsistencyUnfulfilled), 1)

	t.Run("RestockFulfillsBacklog", func(t *testing.T) {
		_, err := env.inventory.Add(env.ctx, p.ID, []string{"vless://late"})
		require.NoError(t, err)

		got, err := env.orders.Get(env.ctx, 1, order.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderFulfilled, got.State)

		delivered, err := env.orders.Delivered(env.ctx, 1, order.ID)
		require.NoError(t, err)
		assert.Equal(t, "vless://late", delivered.Payload)
	})
}

func TestOrderService_InsufficientFundsReleasesRedemption(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 1000)
	p := env.plan(t, 5000, 1)
	env.code(t, "HALF", 50, 1, nil)

	order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "HALF")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), order.Price)
	assert.Equal(t, 0, usedCount(t, env, "HALF"))

	_, err = env.orders.PayWithWallet(env.ctx, 1, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)

	stored, err := env.orders.Get(env.ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, stored.State)
	assert.Equal(t, 0, usedCount(t, env, "HALF"))
	assert.Equal(t, int64(1000), env.balance(t, 1))

	_, err = env.ledger.Adjust(env.ctx, 1, 2000, models.KindTopup, "top-up")
	require.NoError(t, err)

	paid, err := env.orders.PayWithWallet(env.ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, paid.State)
	assert.Equal(t, 1, usedCount(t, env, "HALF"))
	assert.Equal(t, int64(500), env.balance(t, 1))
	env.assertLedgerConsistent(t, 1)
}

func TestOrderService_CreateOrder(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 0)
	p := env.plan(t, 5000, 0)

	t.Run("UnknownPlan", func(t *testing.T) {
		_, err := env.orders.CreateOrder(env.ctx, 1, 404, "")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("InactivePlan", func(t *testing.T) {
		off := env.plan(t, 100, 0)
		require.NoError(t, env.catalog.SetActive(env.ctx, off.ID, false))
		_, err := env.orders.CreateOrder(env.ctx, 1, off.ID, "")
		assert.ErrorIs(t, err, pkgerrors.ErrPlanInactive)
	})

	t.Run("BadCode", func(t *testing.T) {
		_, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "MISSING")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("BannedUser", func(t *testing.T) {
		env.user(t, 2, 0)
		require.NoError(t, env.users.SetBanned(env.ctx, 2, true))
		_, err := env.orders.CreateOrder(env.ctx, 2, p.ID, "")
		assert.ErrorIs(t, err, pkgerrors.ErrUserBanned)
	})

	t.Run("PendingWindow", func(t *testing.T) {
		order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.OrderPending, order.State)
		assert.Equal(t, env.now.Add(testTTL.Pending), order.ExpiresAt)
	})
}

func TestOrderService_FreeOrderSkipsDebit(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 0)
	p := env.plan(t, 3000, 1)
	env.code(t, "FREE", 100, 1, nil)

	order, _, err := env.orders.Purchase(env.ctx, 1, p.ID, "FREE")
	require.NoError(t, err)
	assert.Equal(t, models.OrderFulfilled, order.State)
	assert.Equal(t, int64(0), order.Price)

	history, err := env.ledger.History(env.ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOrderService_OtherUsersOrderIsHidden(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 5000)
	env.user(t, 2, 5000)
	p := env.plan(t, 1000, 1)

	order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "")
	require.NoError(t, err)

	_, err = env.orders.Get(env.ctx, 2, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	_, err = env.orders.PayWithWallet(env.ctx, 2, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	_, err = env.orders.Cancel(env.ctx, 2, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	assert.Equal(t, int64(5000), env.balance(t, 2))
}

func TestOrderService_PayTwiceFails(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 5000)
	p := env.plan(t, 1000, 0)

	order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "")
	require.NoError(t, err)
	_, err = env.orders.PayWithWallet(env.ctx, 1, order.ID)
	require.NoError(t, err)

	_, err = env.orders.PayWithWallet(env.ctx, 1, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	assert.Equal(t, int64(4000), env.balance(t, 1))
}

func TestOrderService_Cancel(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 5000)
	p := env.plan(t, 1000, 1)
	env.code(t, "TEN", 10, 1, nil)

	order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "TEN")
	require.NoError(t, err)

	cancelled, err := env.orders.Cancel(env.ctx, 1, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, cancelled.State)
	assert.Equal(t, 0, usedCount(t, env, "TEN"))
	assert.Len(t, env.events.ofType(kafka.EventOrderCancelled), 1)

	_, err = env.orders.Cancel(env.ctx, 1, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	_, err = env.orders.PayWithWallet(env.ctx, 1, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)

	t.Run("PaidOrderCannotBeCancelled", func(t *testing.T) {
		order, _, err := env.orders.Purchase(env.ctx, 1, p.ID, "")
		require.NoError(t, err)
		_, err = env.orders.Cancel(env.ctx, 1, order.ID)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidState)
	})
}

func TestOrderService_ExpiredPendingOrderIsNotPayable(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 5000)
	p := env.plan(t, 1000, 1)

	order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "")
	require.NoError(t, err)

	env.now = env.now.Add(testTTL.Pending)
	_, err = env.orders.PayWithWallet(env.ctx, 1, order.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrOrderExpired)
	assert.NotErrorIs(t, err, pkgerrors.ErrDiscountExpired)
	assert.Equal(t, int64(5000), env.balance(t, 1))
}

func TestOrderService_ExpireStale(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 10000)
	p := env.plan(t, 3000, 0)
	env.code(t, "FIVE", 5, 2, nil)

	pending, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "")
	require.NoError(t, err)
	waiting, _, err := env.orders.Purchase(env.ctx, 1, p.ID, "FIVE")
	require.ErrorIs(t, err, pkgerrors.ErrOutOfStock)
	assert.Equal(t, int64(7150), env.balance(t, 1))
	assert.Equal(t, 1, usedCount(t, env, "FIVE"))

	n, err := env.orders.ExpireStale(env.ctx, env.now)
	require.NoError(t, err)
	assert.Zero(t, n)

	env.now = env.now.Add(2 * time.Hour)
	n, err = env.orders.ExpireStale(env.ctx, env.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.orders.Get(env.ctx, 1, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, got.State)
	got, err = env.orders.Get(env.ctx, 1, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPaid, got.State)

	env.now = env.now.Add(testTTL.Fulfillment)
	n, err = env.orders.ExpireStale(env.ctx, env.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = env.orders.Get(env.ctx, 1, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderExpired, got.State)
	assert.Equal(t, int64(10000), env.balance(t, 1))
	assert.Equal(t, 0, usedCount(t, env, "FIVE"))
	assert.Len(t, unresolved(t, env, models.InconsistencyRefunded), 1)
	assert.Len(t, env.events.ofType(kafka.EventOrderExpired), 1)
	env.assertLedgerConsistent(t, 1)

	n, err = env.orders.ExpireStale(env.ctx, env.now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrderService_ConcurrentPurchasesOfLastUnit(t *testing.T) {
	env := newTestEnv(t)
	p := env.plan(t, 1000, 1)
	for id := int64(1); id <= 8; id++ {
		env.user(t, id, 1000)
	}

	type result struct {
		order *models.Order
		err   error
	}
	results := make(chan result, 8)
	for id := int64(1); id <= 8; id++ {
		go func(id int64) {
			order, _, err := env.orders.Purchase(env.ctx, id, p.ID, "")
			results <- result{order, err}
		}(id)
	}

	fulfilled, waiting := 0, 0
	for i := 0; i < 8; i++ {
		r := <-results
		switch {
		case r.err == nil:
			assert.Equal(t, models.OrderFulfilled, r.order.State)
			fulfilled++
		case errors.Is(r.err, pkgerrors.ErrOutOfStock):
			assert.Equal(t, models.OrderPaid, r.order.State)
			waiting++
		default:
			t.Errorf("unexpected purchase error: %v", r.err)
		}
	}
	assert.Equal(t, 1, fulfilled)
	assert.Equal(t, 7, waiting)
	for id := int64(1); id <= 8; id++ {
		env.assertLedgerConsistent(t, id)
	}
}

// failingOrders fails the transition into one state while passing every other
// call through to the memory repository.
type failingOrders struct {
	repository.OrderRepository
	failInto models.OrderState
}

var errStoreDown = errors.New("store unavailable")

func (f *failingOrders) Transition(ctx context.Context, id int64, from, to models.OrderState, patch models.OrderPatch) (*models.Order, error) {
	if to == f.failInto {
		return nil, errStoreDown
	}
	return f.OrderRepository.Transition(ctx, id, from, to, patch)
}

func newFailingEnv(t *testing.T, failInto models.OrderState) *testEnv {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)
	store.Orders = &failingOrders{OrderRepository: store.Orders, failInto: failInto}
	return newTestEnvWithStore(t, store)
}

func TestOrderService_PaidTransitionFailureRefunds(t *testing.T) {
	env := newFailingEnv(t, models.OrderPaid)
	env.user(t, 1, 5000)
	p := env.plan(t, 2000, 1)
	env.code(t, "TWENTY", 20, 1, nil)

	order, err := env.orders.CreateOrder(env.ctx, 1, p.ID, "TWENTY")
	require.NoError(t, err)

	_, err = env.orders.PayWithWallet(env.ctx, 1, order.ID)
	assert.ErrorIs(t, err, errStoreDown)

	assert.Equal(t, int64(5000), env.balance(t, 1))
	assert.Equal(t, 0, usedCount(t, env, "TWENTY"))
	env.assertLedgerConsistent(t, 1)

	history, err := env.ledger.History(env.ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.KindRefund, history[0].Kind)
	assert.Equal(t, int64(1600), history[0].Amount)
	assert.Equal(t, models.KindPurchaseDebit, history[1].Kind)

	refunds := unresolved(t, env, models.InconsistencyRefunded)
	require.Len(t, refunds, 1)
	require.NotNil(t, refunds[0].OrderID)
	assert.Equal(t, order.ID, *refunds[0].OrderID)
}

func TestOrderService_FulfilledTransitionFailureReleasesUnit(t *testing.T) {
	env := newFailingEnv(t, models.OrderFulfilled)
	env.user(t, 1, 5000)
	p := env.plan(t, 2000, 2)

	order, unit, err := env.orders.Purchase(env.ctx, 1, p.ID, "")
	assert.ErrorIs(t, err, errStoreDown)
	assert.Nil(t, unit)
	assert.Equal(t, models.OrderPaid, order.State)

	level, err := env.inventory.Stock(env.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), level.Available)
	assert.Len(t, unresolved(t, env, models.InconsistencyUnfulfilled), 1)
	assert.Equal(t, int64(3000), env.balance(t, 1))
}
