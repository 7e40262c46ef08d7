package handler

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/adapter/storage"
	"github.com/rl1809/inventory-requests/internal/auth"
	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/core/service"
	"github.com/rl1809/inventory-requests/internal/metrics"
)

type testEnv struct {
	store    *storage.SQLStore
	requests *service.RequestService
	items    *service.ItemService
	tokens   *auth.Tokens
	metrics  *metrics.Metrics
	registry *prometheus.Registry

	adminToken string
	userToken  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := storage.OpenSQLite(":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	logger := zap.NewNop()

	requests := service.NewRequestService(store, store, store, storage.NewLocalGuard(), m, logger,
		service.RequestServiceConfig{EventQueueSize: 100})
	t.Cleanup(requests.Close)

	env := &testEnv{
		store:    store,
		requests: requests,
		items:    service.NewItemService(store, store, logger),
		tokens:   auth.NewTokens("test-secret", time.Hour),
		metrics:  m,
		registry: reg,
	}

	now := time.Now().UTC()
	require.NoError(t, store.CreateUser(ctx, domain.User{ID: "admin-1", Username: "boss", IsAdmin: true, CreatedAt: now}))
	require.NoError(t, store.CreateUser(ctx, domain.User{ID: "user-1", Username: "maria", CreatedAt: now}))

	env.adminToken, err = env.tokens.Sign(domain.Identity{UserID: "admin-1", IsAdmin: true})
	require.NoError(t, err)
	env.userToken, err = env.tokens.Sign(domain.Identity{UserID: "user-1"})
	require.NoError(t, err)
	return env
}

func (e *testEnv) seedItem(t *testing.T, d domain.InventoryDomain, id string, qty int, serials ...string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, e.store.CreateItem(context.Background(), domain.Item{
		ID:            id,
		Domain:        d,
		Description:   "item " + id,
		UnitPrice:     decimal.RequireFromString("10"),
		Quantity:      qty,
		SerialNumbers: serials,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
}

func (e *testEnv) quantity(t *testing.T, d domain.InventoryDomain, id string) int {
	t.Helper()
	item, err := e.store.GetItem(context.Background(), d, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item.Quantity
}
