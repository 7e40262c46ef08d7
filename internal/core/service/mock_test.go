package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

type itemKey struct {
	domain domain.InventoryDomain
	id     string
}

// Mock store covering every repository port, with the same conditional
// semantics as the real adapters.
type mockStore struct {
	mu        sync.Mutex
	items     map[itemKey]domain.Item
	requests  map[string]domain.InventoryRequest
	movements []domain.Movement
	users     map[string]domain.User

	getItemErr error
	commitErr  error
	// createErr fails the next CreateRequest only
	createErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		items:    make(map[itemKey]domain.Item),
		requests: make(map[string]domain.InventoryRequest),
		users:    make(map[string]domain.User),
	}
}

func (m *mockStore) putItem(item domain.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey{item.Domain, item.ID}] = copyItem(item)
}

func (m *mockStore) item(d domain.InventoryDomain, id string) domain.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyItem(m.items[itemKey{d, id}])
}

func (m *mockStore) request(id string) domain.InventoryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[id]
}

func (m *mockStore) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func copyItem(item domain.Item) domain.Item {
	item.SerialNumbers = append([]string(nil), item.SerialNumbers...)
	item.Categories = append([]string(nil), item.Categories...)
	return item
}

func (m *mockStore) GetItem(ctx context.Context, d domain.InventoryDomain, itemID string) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.getItemErr != nil {
		return nil, m.getItemErr
	}
	item, ok := m.items[itemKey{d, itemID}]
	if !ok {
		return nil, nil
	}
	c := copyItem(item)
	return &c, nil
}

func (m *mockStore) ListItems(ctx context.Context, d domain.InventoryDomain) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Item
	for k, item := range m.items {
		if k.domain == d {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) CreateItem(ctx context.Context, item domain.Item) error {
	m.putItem(item)
	return nil
}

func (m *mockStore) UpdateItem(ctx context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := itemKey{item.Domain, item.ID}
	if _, ok := m.items[k]; !ok {
		return domain.ErrNotFound
	}
	m.items[k] = copyItem(item)
	return nil
}

func (m *mockStore) DeleteItem(ctx context.Context, d domain.InventoryDomain, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemKey{d, itemID})
	return nil
}

func (m *mockStore) CreateRequest(ctx context.Context, req domain.InventoryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createErr; err != nil {
		m.createErr = nil
		return err
	}
	m.requests[req.ID] = req
	return nil
}

func (m *mockStore) GetRequest(ctx context.Context, requestID string) (*domain.InventoryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[requestID]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (m *mockStore) ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.InventoryRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.InventoryRequest
	for _, r := range m.requests {
		if filter.State != "" && r.State != filter.State {
			continue
		}
		if filter.RequesterID != "" && r.RequesterID != filter.RequesterID {
			continue
		}
		if !filter.RequestedBefore.IsZero() && !r.RequestedAt.Before(filter.RequestedBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return out, nil
}

func (m *mockStore) CommitDecision(ctx context.Context, processed domain.InventoryRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.commitErr != nil {
		return m.commitErr
	}

	current, ok := m.requests[processed.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.State != domain.StatePending {
		return domain.ErrAlreadyProcessed
	}

	if processed.State == domain.StateApproved {
		k := itemKey{processed.Domain, processed.ItemID}
		item, ok := m.items[k]
		if !ok {
			return domain.ErrNotFound
		}
		item = copyItem(item)

		if processed.MovementType == domain.MovementExit {
			if item.Quantity < processed.Quantity {
				return domain.ErrInsufficientStock
			}
			if len(item.MissingSerials(processed.SerialNumbers)) > 0 {
				return domain.ErrInvalidSerials
			}
			remove := make(map[string]bool)
			for _, s := range processed.SerialNumbers {
				remove[s] = true
			}
			kept := item.SerialNumbers[:0]
			for _, s := range item.SerialNumbers {
				if !remove[s] {
					kept = append(kept, s)
				}
			}
			item.SerialNumbers = kept
		} else {
			item.SerialNumbers = append(item.SerialNumbers, processed.SerialNumbers...)
		}
		item.Quantity += processed.QuantityDelta()
		m.items[k] = item

		m.movements = append(m.movements, domain.Movement{
			ID:          fmt.Sprintf("mv-%d", len(m.movements)+1),
			Domain:      processed.Domain,
			ItemID:      processed.ItemID,
			Type:        processed.MovementType,
			Quantity:    processed.Quantity,
			RequestID:   processed.ID,
			PerformedBy: processed.ApproverID,
			CreatedAt:   *processed.ApprovedAt,
		})
	}

	m.requests[processed.ID] = processed
	return nil
}

func (m *mockStore) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Movement
	for _, mv := range m.movements {
		if filter.ItemID != "" && mv.ItemID != filter.ItemID {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (m *mockStore) CreateUser(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	return nil
}

func (m *mockStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *mockStore) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *mockStore) UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string)
	for _, id := range userIDs {
		if u, ok := m.users[id]; ok {
			out[id] = u.Username
		}
	}
	return out, nil
}

// Mock RequestGuard
type mockGuard struct {
	mu          sync.Mutex
	idempotency map[string]bool
	leases      map[string]string
}

func newMockGuard() *mockGuard {
	return &mockGuard{
		idempotency: make(map[string]bool),
		leases:      make(map[string]string),
	}
}

func (g *mockGuard) SetIdempotency(ctx context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idempotency[key] {
		return false, nil
	}
	g.idempotency[key] = true
	return true, nil
}

func (g *mockGuard) ClearIdempotency(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.idempotency, key)
	return nil
}

func (g *mockGuard) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, held := g.leases[key]; held {
		return false, nil
	}
	g.leases[key] = token
	return true, nil
}

func (g *mockGuard) ReleaseLease(ctx context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.leases[key] == token {
		delete(g.leases, key)
	}
	return nil
}
