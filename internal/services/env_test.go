package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/memory"
	"github.com/stretchr/testify/require"
)

// recorder keeps every event published through the local producer.
type recorder struct {
	mu     sync.Mutex
	events []kafka.Event
}

func (r *recorder) handle(_ context.Context, e kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ofType(typ kafka.EventType) []kafka.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []kafka.Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	ctx       context.Context
	store     *repository.Store
	events    *recorder
	now       time.Time
	ledger    *LedgerService
	inventory *InventoryService
	discounts *DiscountService
	catalog   *CatalogService
	orders    *OrderService
	receipts  *ReceiptService
	tickets   *TicketService
	users     *UserService
	admin     *AdminService
}

var testTTL = OrderTTL{Pending: time.Hour, Fulfillment: 72 * time.Hour}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)
	return newTestEnvWithStore(t, store)
}

func newTestEnvWithStore(t *testing.T, store *repository.Store) *testEnv {
	t.Helper()

	events := &recorder{}
	local := kafka.NewLocalProducer()
	for _, topic := range []string{kafka.TopicOrders, kafka.TopicReceipts, kafka.TopicAlerts, kafka.TopicBroadcasts, kafka.TopicTickets} {
		local.Subscribe(topic, events.handle)
	}
	publisher := kafka.NewPublisher(local).WithRetry(1, time.Millisecond)
	redisClient := redis.NewMemoryClient()
	locker := redis.NewRedisLocker(redisClient, 10*time.Second, 10*time.Second)

	env := &testEnv{
		ctx:    context.Background(),
		store:  store,
		events: events,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.catalog = NewCatalogService(store.Plans, redisClient)
	env.ledger = NewLedgerService(store.Ledger, locker)
	env.inventory = NewInventoryService(store.Inventory, store.Plans, publisher, 2)
	env.discounts = NewDiscountService(store.Discounts)
	env.orders = NewOrderService(store, env.catalog, env.ledger, env.inventory, env.discounts, locker, publisher, testTTL)
	env.orders.SetClock(func() time.Time { return env.now })
	env.receipts = NewReceiptService(store, env.orders, env.ledger, publisher)
	env.receipts.now = func() time.Time { return env.now }
	env.tickets = NewTicketService(store.Tickets, publisher)
	env.users = NewUserService(store.Users)
	env.admin = NewAdminService(store, env.ledger, env.inventory, publisher)
	return env
}

func (e *testEnv) user(t *testing.T, id, balance int64) {
	t.Helper()
	_, err := e.users.Register(e.ctx, id, "user")
	require.NoError(t, err)
	if balance > 0 {
		_, err = e.ledger.Adjust(e.ctx, id, balance, models.KindTopup, "initial")
		require.NoError(t, err)
	}
}

func (e *testEnv) plan(t *testing.T, price int64, units int) *models.Plan {
	t.Helper()
	p := &models.Plan{Name: "plan", Price: price, DurationDays: 30, Traffic: "100GB", Active: true}
	require.NoError(t, e.catalog.Create(e.ctx, p))
	if units > 0 {
		payloads := make([]string, units)
		for i := range payloads {
			payloads[i] = "vless://unit-" + string(rune('a'+i%26))
		}
		_, err := e.inventory.Add(e.ctx, p.ID, payloads)
		require.NoError(t, err)
	}
	return p
}

func (e *testEnv) code(t *testing.T, code string, percent, maxUsage int, planID *int64) *models.DiscountCode {
	t.Helper()
	d := &models.DiscountCode{Code: code, Percent: percent, MaxUsage: maxUsage, PlanID: planID}
	require.NoError(t, e.discounts.Create(e.ctx, d))
	return d
}

func (e *testEnv) balance(t *testing.T, userID int64) int64 {
	t.Helper()
	b, err := e.ledger.Balance(e.ctx, userID)
	require.NoError(t, err)
	return b
}

func (e *testEnv) assertLedgerConsistent(t *testing.T, userID int64) {
	t.Helper()
	rec, err := e.ledger.Reconcile(e.ctx, userID)
	require.NoError(t, err)
	require.True(t, rec.Consistent(), "cached %d, ledger %d", rec.Cached, rec.Computed)
}
