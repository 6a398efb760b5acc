package service

import (
	"sync"
	"testing"

	"github.com/honeynil/SubscriptionShopBot/internal/models"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerService_Adjust(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 0)

	t.Run("Credit", func(t *testing.T) {
		balance, err := env.ledger.Adjust(env.ctx, 1, 1000, models.KindTopup, "top-up")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance)
	})

	t.Run("Debit", func(t *testing.T) {
		balance, err := env.ledger.Adjust(env.ctx, 1, -400, models.KindPurchaseDebit, "order")
		require.NoError(t, err)
		assert.Equal(t, int64(600), balance)
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		_, err := env.ledger.Adjust(env.ctx, 1, -601, models.KindPurchaseDebit, "order")
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.Equal(t, int64(600), env.balance(t, 1))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		_, err := env.ledger.Adjust(env.ctx, 99, 10, models.KindTopup, "x")
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})

	t.Run("ZeroAmount", func(t *testing.T) {
		_, err := env.ledger.Adjust(env.ctx, 1, 0, models.KindAdminAdjust, "noop")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	env.assertLedgerConsistent(t, 1)

	history, err := env.ledger.History(env.ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(-400), history[0].Amount)
	assert.Equal(t, int64(1000), history[1].Amount)
}

func TestLedgerService_ConcurrentAdjustmentsMatchLedger(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, 1, 500)

	var wg sync.WaitGroup
	var mu sync.Mutex
	refused := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(25)
			kind := models.KindTopup
			if i%2 == 0 {
				amount, kind = -60, models.KindPurchaseDebit
			}
			if _, err := env.ledger.Adjust(env.ctx, 1, amount, kind, "load"); err != nil {
				assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
				mu.Lock()
				refused++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	balance := env.balance(t, 1)
	assert.GreaterOrEqual(t, balance, int64(0))
	env.assertLedgerConsistent(t, 1)

	history, err := env.ledger.History(env.ctx, 1, 100)
	require.NoError(t, err)
	assert.Len(t, history, 41-refused)
}
