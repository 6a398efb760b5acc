package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/honeynil/SubscriptionShopBot/internal/api"
	"github.com/honeynil/SubscriptionShopBot/internal/handler"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/auth"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/kafka"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/memory"
	service "github.com/honeynil/SubscriptionShopBot/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type apiEnv struct {
	t        *testing.T
	server   *httptest.Server
	token    string
	users    *service.UserService
	receipts *service.ReceiptService
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	store, err := memory.NewStore()
	require.NoError(t, err)

	publisher := kafka.NewPublisher(kafka.NewLocalProducer()).WithRetry(1, time.Millisecond)
	redisClient := redis.NewMemoryClient()
	locker := redis.NewRedisLocker(redisClient, 10*time.Second, 10*time.Second)

	catalog := service.NewCatalogService(store.Plans, redisClient)
	ledger := service.NewLedgerService(store.Ledger, locker)
	inventory := service.NewInventoryService(store.Inventory, store.Plans, publisher, 1)
	discounts := service.NewDiscountService(store.Discounts)
	orders := service.NewOrderService(store, catalog, ledger, inventory, discounts, locker, publisher,
		service.OrderTTL{Pending: time.Hour, Fulfillment: 72 * time.Hour})

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	adminAuth := auth.NewAdminAuth(777, "admin", string(hash), "secret", redisClient)

	env := &apiEnv{
		t:        t,
		users:    service.NewUserService(store.Users),
		receipts: service.NewReceiptService(store, orders, ledger, publisher),
	}
	h := handler.NewHandler(handler.Services{
		Auth:      adminAuth,
		Admin:     service.NewAdminService(store, ledger, inventory, publisher),
		Catalog:   catalog,
		Inventory: inventory,
		Discounts: discounts,
		Receipts:  env.receipts,
		Orders:    orders,
		Users:     env.users,
		Ledger:    ledger,
		Tickets:   service.NewTicketService(store.Tickets, publisher),
	})
	env.server = httptest.NewServer(api.SetupRouter(h, adminAuth, nil))
	t.Cleanup(env.server.Close)
	return env
}

func (e *apiEnv) do(method, path string, body any, out any) int {
	e.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(e.t, err)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *apiEnv) login() {
	e.t.Helper()
	var resp map[string]string
	require.Equal(e.t, http.StatusOK, e.do("POST", "/admin/login", map[string]string{"username": "admin", "password": "hunter2"}, &resp))
	e.token = resp["token"]
}

func TestRouter_Auth(t *testing.T) {
	env := newAPIEnv(t)

	assert.Equal(t, http.StatusOK, env.do("GET", "/healthz", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.do("GET", "/admin/stats", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, env.do("POST", "/admin/login", map[string]string{"username": "admin", "password": "nope"}, nil))

	env.login()
	var stats models.Stats
	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/stats", nil, &stats))
	assert.Zero(t, stats.Users)
}

func TestRouter_CatalogAndInventory(t *testing.T) {
	env := newAPIEnv(t)
	env.login()

	var plan models.Plan
	status := env.do("POST", "/admin/plans", map[string]any{
		"name": "Basic", "price": 5000, "duration_days": 30, "traffic": "50GB", "active": true,
	}, &plan)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, int64(1), plan.ID)

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/admin/plans", map[string]any{"name": "", "price": 1}, nil))

	var added map[string]int
	assert.Equal(t, http.StatusCreated, env.do("POST", "/admin/plans/1/inventory", map[string]any{"payloads": []string{"a", " ", "b"}}, &added))
	assert.Equal(t, 2, added["added"])
	assert.Equal(t, http.StatusNotFound, env.do("POST", "/admin/plans/9/inventory", map[string]any{"payloads": []string{"a"}}, nil))

	var levels []models.StockLevel
	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/stock", nil, &levels))
	require.Len(t, levels, 1)
	assert.Equal(t, int64(2), levels[0].Available)

	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/admin/discounts", map[string]any{"code": "X", "percent": 150, "max_usage": 1}, nil))
	var code models.DiscountCode
	assert.Equal(t, http.StatusCreated, env.do("POST", "/admin/discounts", map[string]any{"code": "spring", "percent": 15, "max_usage": 3}, &code))
	assert.Equal(t, "SPRING", code.Code)
	assert.Equal(t, http.StatusConflict, env.do("POST", "/admin/discounts", map[string]any{"code": "SPRING", "percent": 5, "max_usage": 1}, nil))
	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/discounts/spring", nil, &code))
	assert.Equal(t, http.StatusNotFound, env.do("GET", "/admin/discounts/missing", nil, nil))
}

func TestRouter_WalletAndReceipts(t *testing.T) {
	env := newAPIEnv(t)
	env.login()
	ctx := context.Background()

	assert.Equal(t, http.StatusNotFound, env.do("POST", "/admin/users/5/adjust", map[string]int64{"amount": 100}, nil))

	_, err := env.users.Register(ctx, 5, "eve")
	require.NoError(t, err)

	var balance map[string]int64
	assert.Equal(t, http.StatusOK, env.do("POST", "/admin/users/5/adjust", map[string]any{"amount": 100}, &balance))
	assert.Equal(t, int64(100), balance["balance"])
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/admin/users/5/adjust", map[string]any{"amount": -500}, nil))

	var history []models.Transaction
	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/users/5/transactions", nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "manual adjustment", history[0].Description)
	assert.Equal(t, "admin:777", history[0].Reference)

	var rec service.Reconciliation
	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/users/5/reconcile", nil, &rec))
	assert.Equal(t, int64(100), rec.Computed)
	assert.Zero(t, rec.Drift)

	_, err = env.receipts.Submit(ctx, 5, models.PurposeWalletTopup, 4900, "file-1", nil)
	require.NoError(t, err)

	var pending []models.Receipt
	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/receipts", nil, &pending))
	require.Len(t, pending, 1)

	var receipt models.Receipt
	assert.Equal(t, http.StatusOK, env.do("POST", "/admin/receipts/1/approve", nil, &receipt))
	assert.Equal(t, models.ReceiptApproved, receipt.Status)
	require.NotNil(t, receipt.ReviewedBy)
	assert.Equal(t, int64(777), *receipt.ReviewedBy)
	assert.Equal(t, http.StatusConflict, env.do("POST", "/admin/receipts/1/reject", nil, nil))

	assert.Equal(t, http.StatusOK, env.do("GET", "/admin/users/5/reconcile", nil, &rec))
	assert.Equal(t, int64(5000), rec.Cached)

	assert.Equal(t, http.StatusNoContent, env.do("POST", "/admin/users/5/ban", nil, nil))
	assert.Equal(t, http.StatusNoContent, env.do("DELETE", "/admin/users/5/ban", nil, nil))
	assert.Equal(t, http.StatusNotFound, env.do("POST", "/admin/users/6/ban", nil, nil))

	assert.Equal(t, http.StatusNotFound, env.do("GET", "/admin/orders/99", nil, nil))
	assert.Equal(t, http.StatusAccepted, env.do("POST", "/admin/broadcasts", map[string]string{"text": "hello"}, nil))
	assert.Equal(t, http.StatusBadRequest, env.do("POST", "/admin/broadcasts", map[string]string{"text": " "}, nil))
}
