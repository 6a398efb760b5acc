package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis"
	"github.com/honeynil/SubscriptionShopBot/internal/infrastructure/redis/mocks"
	"github.com/honeynil/SubscriptionShopBot/internal/models"
	"github.com/honeynil/SubscriptionShopBot/internal/repository/memory"
	pkgerrors "github.com/honeynil/SubscriptionShopBot/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogWithMock(t *testing.T) (*CatalogService, *mocks.MockRedisClient) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	store, err := memory.NewStore()
	require.NoError(t, err)
	mockRedis := mocks.NewMockRedisClient(ctrl)
	return NewCatalogService(store.Plans, mockRedis), mockRedis
}

func TestCatalogService_GetReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	svc, mockRedis := newCatalogWithMock(t)

	mockRedis.EXPECT().Del(ctx, plansCacheKey).Return(nil)
	mockRedis.EXPECT().Del(ctx, "plan:1").Return(nil)
	plan := &models.Plan{Name: "Month", Price: 29900, DurationDays: 30, Active: true}
	require.NoError(t, svc.Create(ctx, plan))

	t.Run("Miss", func(t *testing.T) {
		mockRedis.EXPECT().Get(gomock.Any(), "plan:1").Return("", redis.ErrKeyNotFound)
		mockRedis.EXPECT().Set(gomock.Any(), "plan:1", gomock.Any(), planCacheTTL).Return(nil)

		got, err := svc.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Month", got.Name)
	})

	t.Run("Hit", func(t *testing.T) {
		cached, err := json.Marshal(models.Plan{ID: 1, Name: "Cached", Price: 100, DurationDays: 30, Active: true})
		require.NoError(t, err)
		mockRedis.EXPECT().Get(gomock.Any(), "plan:1").Return(string(cached), nil)

		got, err := svc.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Cached", got.Name)
	})

	t.Run("RedisDownFallsBackToStore", func(t *testing.T) {
		mockRedis.EXPECT().Get(gomock.Any(), "plan:1").Return("", errors.New("connection refused"))
		mockRedis.EXPECT().Set(gomock.Any(), "plan:1", gomock.Any(), planCacheTTL).Return(errors.New("connection refused"))

		got, err := svc.Get(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Month", got.Name)
	})

	t.Run("UnknownPlan", func(t *testing.T) {
		mockRedis.EXPECT().Get(gomock.Any(), "plan:9").Return("", redis.ErrKeyNotFound)

		_, err := svc.Get(ctx, 9)
		assert.ErrorIs(t, err, pkgerrors.ErrNotFound)
	})
}

func TestCatalogService_SetActiveInvalidates(t *testing.T) {
	ctx := context.Background()
	svc, mockRedis := newCatalogWithMock(t)

	mockRedis.EXPECT().Del(gomock.Any(), gomock.Any()).Return(nil).Times(4)
	plan := &models.Plan{Name: "Year", Price: 199900, DurationDays: 365, Active: true}
	require.NoError(t, svc.Create(ctx, plan))
	require.NoError(t, svc.SetActive(ctx, plan.ID, false))

	mockRedis.EXPECT().Get(gomock.Any(), plansCacheKey).Return("", redis.ErrKeyNotFound)
	mockRedis.EXPECT().Set(gomock.Any(), plansCacheKey, gomock.Any(), planCacheTTL).Return(nil)
	active, err := svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	mockRedis.EXPECT().Get(gomock.Any(), planCacheKey(plan.ID)).Return("", redis.ErrKeyNotFound)
	mockRedis.EXPECT().Set(gomock.Any(), planCacheKey(plan.ID), gomock.Any(), planCacheTTL).Return(nil)
	_, err = svc.Purchasable(ctx, plan.ID)
	assert.ErrorIs(t, err, pkgerrors.ErrPlanInactive)
}

func TestCatalogService_Validation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCatalogWithMock(t)

	tests := []struct {
		name string
		plan *models.Plan
	}{
		{"NoName", &models.Plan{Price: 100, DurationDays: 30}},
		{"NegativePrice", &models.Plan{Name: "x", Price: -1, DurationDays: 30}},
		{"NoDuration", &models.Plan{Name: "x", Price: 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, svc.Create(ctx, tt.plan), pkgerrors.ErrInvalidInput)
		})
	}
	assert.ErrorIs(t, svc.Create(ctx, nil), pkgerrors.ErrNilEntity)
}

func TestCatalogService_Seed(t *testing.T) {
	ctx := context.Background()
	svc, mockRedis := newCatalogWithMock(t)
	mockRedis.EXPECT().Del(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	plans := []models.Plan{
		{Name: "Month", Price: 29900, DurationDays: 30, Active: true},
		{Name: "Year", Price: 199900, DurationDays: 365, Active: true},
	}
	n, err := svc.Seed(ctx, plans)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.Seed(ctx, plans)
	require.NoError(t, err)
	assert.Zero(t, n)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
