package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/metrics"
)

const adminID = "admin-1"

func newTestRequestService(store *mockStore) (*RequestService, *mockGuard) {
	guard := newMockGuard()
	svc := NewRequestService(store, store, store, guard, metrics.New(nil), nil, RequestServiceConfig{EventQueueSize: 100})

	var tick atomic.Int64
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		return base.Add(time.Duration(tick.Add(1)) * time.Second)
	}
	return svc, guard
}

func seedItem(store *mockStore, d domain.InventoryDomain, id string, qty int, serials ...string) {
	store.putItem(domain.Item{ID: id, Domain: d, Description: id, Quantity: qty, SerialNumbers: serials})
}

func exitInput(itemID string, qty int, serials ...string) CreateRequestInput {
	return CreateRequestInput{
		MovementType:    domain.MovementExit,
		Domain:          domain.DomainInterior,
		ItemID:          itemID,
		Quantity:        qty,
		ReasonRequested: "site install",
		SerialNumbers:   serials,
	}
}

func TestCreateRequest_Success(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 3)
	svc, _ := newTestRequestService(store)

	req, err := svc.CreateRequest(context.Background(), CreateRequestInput{
		MovementType:    domain.MovementEntry,
		Domain:          domain.DomainInterior,
		ItemID:          "item-x",
		Quantity:        10,
		ReasonRequested: "restock",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, req.ID)
	assert.Equal(t, domain.StatePending, req.State)
	assert.False(t, req.RequestedAt.IsZero())
	assert.Empty(t, req.RequesterID)
	assert.Equal(t, *req, store.request(req.ID))
}

func TestCreateRequest_ItemNotFound(t *testing.T) {
	store := newMockStore()
	svc, _ := newTestRequestService(store)

	_, err := svc.CreateRequest(context.Background(), exitInput("missing", 1))
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	assert.Equal(t, 0, store.requestCount())
}

func TestCreateRequest_WrongPartitionIsNotFound(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainExterior, "item-y", 5)
	svc, _ := newTestRequestService(store)

	_, err := svc.CreateRequest(context.Background(), exitInput("item-y", 1))
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestCreateRequest_InsufficientStockIsNotPersisted(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-y", 2)
	svc, _ := newTestRequestService(store)

	_, err := svc.CreateRequest(context.Background(), exitInput("item-y", 5))
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "got %v", err)
	assert.Equal(t, 0, store.requestCount())
}

func TestCreateRequest_InvalidSerials(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-z", 2, "SN001", "SN002")
	svc, _ := newTestRequestService(store)

	_, err := svc.CreateRequest(context.Background(), exitInput("item-z", 1, "SN404"))
	assert.True(t, errors.Is(err, domain.ErrInvalidSerials), "got %v", err)
	assert.Contains(t, err.Error(), "SN404")

	// one bad serial rejects the whole request
	_, err = svc.CreateRequest(context.Background(), exitInput("item-z", 2, "SN001", "SN404"))
	assert.True(t, errors.Is(err, domain.ErrInvalidSerials), "got %v", err)
	assert.Equal(t, 0, store.requestCount())

	_, err = svc.CreateRequest(context.Background(), exitInput("item-z", 2, "SN001", "SN002"))
	assert.NoError(t, err)
}

func TestCreateRequest_EntrySerialAlreadyHeld(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-z", 1, "SN001")
	svc, _ := newTestRequestService(store)

	in := exitInput("item-z", 1, "SN001")
	in.MovementType = domain.MovementEntry
	_, err := svc.CreateRequest(context.Background(), in)
	assert.True(t, errors.Is(err, domain.ErrInvalidSerials), "got %v", err)
}

func TestCreateRequest_ValidationErrors(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 10)
	svc, _ := newTestRequestService(store)

	tests := []struct {
		name   string
		mutate func(in *CreateRequestInput)
	}{
		{"missing movement type", func(in *CreateRequestInput) { in.MovementType = "" }},
		{"unknown movement type", func(in *CreateRequestInput) { in.MovementType = "TRANSFER" }},
		{"unknown domain", func(in *CreateRequestInput) { in.Domain = "WAREHOUSE" }},
		{"missing item", func(in *CreateRequestInput) { in.ItemID = "" }},
		{"zero quantity", func(in *CreateRequestInput) { in.Quantity = 0 }},
		{"negative quantity", func(in *CreateRequestInput) { in.Quantity = -2 }},
		{"missing reason", func(in *CreateRequestInput) { in.ReasonRequested = "" }},
		{"duplicate serials", func(in *CreateRequestInput) { in.SerialNumbers = []string{"A", "A"} }},
		{"empty serial", func(in *CreateRequestInput) { in.SerialNumbers = []string{""} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := exitInput("item-x", 1)
			tt.mutate(&in)

			_, err := svc.CreateRequest(context.Background(), in)
			assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
		})
	}
	assert.Equal(t, 0, store.requestCount())
}

func TestCreateRequest_DuplicateIdempotencyKey(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 10)
	svc, _ := newTestRequestService(store)

	in := exitInput("item-x", 1)
	in.IdempotencyKey = "key-1"

	_, err := svc.CreateRequest(context.Background(), in)
	require.NoError(t, err)

	_, err = svc.CreateRequest(context.Background(), in)
	assert.True(t, errors.Is(err, domain.ErrDuplicateRequest), "got %v", err)
	assert.Equal(t, 1, store.requestCount())
}

func TestCreateRequest_PersistFailureFreesIdempotencyKey(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 10)
	svc, _ := newTestRequestService(store)

	in := exitInput("item-x", 1)
	in.IdempotencyKey = "key-1"

	store.createErr = errors.New("db down")
	_, err := svc.CreateRequest(context.Background(), in)
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrDuplicateRequest))
	assert.Equal(t, 0, store.requestCount())

	req, err := svc.CreateRequest(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, req.State)
	assert.Equal(t, 1, store.requestCount())

	_, err = svc.CreateRequest(context.Background(), in)
	assert.True(t, errors.Is(err, domain.ErrDuplicateRequest), "got %v", err)
}

func TestProcess_ApproveEntry(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 3)
	seedItem(store, domain.DomainExterior, "item-x", 7)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, CreateRequestInput{
		MovementType:    domain.MovementEntry,
		Domain:          domain.DomainInterior,
		ItemID:          "item-x",
		Quantity:        10,
		ReasonRequested: "restock",
		SerialNumbers:   []string{"SN100"},
	})
	require.NoError(t, err)

	processed, err := svc.Process(ctx, req.ID, domain.ActionApprove, "", adminID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateApproved, processed.State)
	assert.Equal(t, adminID, processed.ApproverID)
	require.NotNil(t, processed.ApprovedAt)

	item := store.item(domain.DomainInterior, "item-x")
	assert.Equal(t, 13, item.Quantity)
	assert.Equal(t, []string{"SN100"}, item.SerialNumbers)

	// the same id in the other partition is untouched
	assert.Equal(t, 7, store.item(domain.DomainExterior, "item-x").Quantity)
	assert.Len(t, store.movements, 1)
}

func TestProcess_ApproveExitRemovesSerials(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-z", 3, "SN001", "SN002", "SN003")
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-z", 2, "SN001", "SN003"))
	require.NoError(t, err)

	_, err = svc.Process(ctx, req.ID, domain.ActionApprove, "", adminID)
	require.NoError(t, err)

	item := store.item(domain.DomainInterior, "item-z")
	assert.Equal(t, 1, item.Quantity)
	assert.Equal(t, []string{"SN002"}, item.SerialNumbers)
}

func TestProcess_Reject(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 4)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-x", 2))
	require.NoError(t, err)

	processed, err := svc.Process(ctx, req.ID, domain.ActionReject, "duplicate", adminID)
	require.NoError(t, err)

	assert.Equal(t, domain.StateRejected, processed.State)
	assert.Equal(t, "duplicate", store.request(req.ID).ReasonRejected)
	assert.Equal(t, adminID, store.request(req.ID).ApproverID)
	assert.Equal(t, 4, store.item(domain.DomainInterior, "item-x").Quantity)
	assert.Empty(t, store.movements)
}

func TestProcess_SecondCallAlwaysAlreadyProcessed(t *testing.T) {
	for _, first := range []domain.Action{domain.ActionApprove, domain.ActionReject} {
		for _, second := range []domain.Action{domain.ActionApprove, domain.ActionReject} {
			t.Run(string(first)+"_then_"+string(second), func(t *testing.T) {
				store := newMockStore()
				seedItem(store, domain.DomainInterior, "item-x", 10)
				svc, _ := newTestRequestService(store)
				ctx := context.Background()

				req, err := svc.CreateRequest(ctx, exitInput("item-x", 2))
				require.NoError(t, err)

				_, err = svc.Process(ctx, req.ID, first, "no", adminID)
				require.NoError(t, err)
				qty := store.item(domain.DomainInterior, "item-x").Quantity

				_, err = svc.Process(ctx, req.ID, second, "no", adminID)
				assert.True(t, errors.Is(err, domain.ErrAlreadyProcessed), "got %v", err)
				assert.Equal(t, qty, store.item(domain.DomainInterior, "item-x").Quantity)
			})
		}
	}
}

func TestProcess_NotFound(t *testing.T) {
	svc, _ := newTestRequestService(newMockStore())

	_, err := svc.Process(context.Background(), "nope", domain.ActionApprove, "", adminID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestProcess_ItemDeletedBeforeApproval(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 10)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-x", 2))
	require.NoError(t, err)
	require.NoError(t, store.DeleteItem(ctx, domain.DomainInterior, "item-x"))

	_, err = svc.Process(ctx, req.ID, domain.ActionApprove, "", adminID)
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	assert.Equal(t, domain.StatePending, store.request(req.ID).State)
}

func TestProcess_InvalidAction(t *testing.T) {
	svc, _ := newTestRequestService(newMockStore())

	_, err := svc.Process(context.Background(), "req-1", "MAYBE", "", adminID)
	assert.True(t, errors.Is(err, domain.ErrValidation), "got %v", err)
}

func TestProcess_LeaseHeld(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 10)
	svc, guard := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-x", 2))
	require.NoError(t, err)

	ok, _ := guard.AcquireLease(ctx, processLeasePrefix+req.ID, "someone-else", time.Minute)
	require.True(t, ok)

	_, err = svc.Process(ctx, req.ID, domain.ActionApprove, "", adminID)
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)
	assert.False(t, errors.Is(err, domain.ErrAlreadyProcessed))
	assert.Equal(t, domain.StatePending, store.request(req.ID).State)
}

func TestProcess_RetryAfterFailedLeaseHolder(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 5)
	svc, guard := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-x", 5))
	require.NoError(t, err)

	// Another caller holds the lease and ends without a decision
	leaseKey := processLeasePrefix + req.ID
	ok, _ := guard.AcquireLease(ctx, leaseKey, "holder", time.Minute)
	require.True(t, ok)

	_, err = svc.Process(ctx, req.ID, domain.ActionReject, "cancelled", adminID)
	assert.True(t, errors.Is(err, domain.ErrConflict), "got %v", err)

	require.NoError(t, guard.ReleaseLease(ctx, leaseKey, "holder"))
	assert.Equal(t, domain.StatePending, store.request(req.ID).State)

	processed, err := svc.Process(ctx, req.ID, domain.ActionReject, "cancelled", adminID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, processed.State)
}

func TestProcess_CommitFailureLeavesPending(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 10)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-x", 2))
	require.NoError(t, err)

	store.commitErr = errors.New("connection reset")
	_, err = svc.Process(ctx, req.ID, domain.ActionApprove, "", adminID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit decision")
	assert.Equal(t, domain.StatePending, store.request(req.ID).State)
	assert.Equal(t, 10, store.item(domain.DomainInterior, "item-x").Quantity)
}

func TestProcess_StaleApprovalInsufficientStock(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 5)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	first, err := svc.CreateRequest(ctx, exitInput("item-x", 3))
	require.NoError(t, err)
	second, err := svc.CreateRequest(ctx, exitInput("item-x", 3))
	require.NoError(t, err)

	_, err = svc.Process(ctx, first.ID, domain.ActionApprove, "", adminID)
	require.NoError(t, err)

	_, err = svc.Process(ctx, second.ID, domain.ActionApprove, "", adminID)
	assert.True(t, errors.Is(err, domain.ErrInsufficientStock), "got %v", err)
	assert.Equal(t, domain.StatePending, store.request(second.ID).State)
	assert.Equal(t, 2, store.item(domain.DomainInterior, "item-x").Quantity)
}

func TestProcess_ConcurrentExitApprovals(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 5)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		req, err := svc.CreateRequest(ctx, exitInput("item-x", 3))
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}

	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := svc.Process(ctx, id, domain.ActionApprove, "", adminID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
	assert.Equal(t, int32(1), insufficientCount.Load())
	assert.Equal(t, 2, store.item(domain.DomainInterior, "item-x").Quantity)
}

func TestProcess_ConcurrentSameRequest(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-x", 100)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-x", 1))
	require.NoError(t, err)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 20

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := domain.ActionApprove
			if i%2 == 1 {
				action = domain.ActionReject
			}
			_, err := svc.Process(ctx, req.ID, action, "dup", adminID)
			if err == nil {
				successCount.Add(1)
				return
			}
			if !errors.Is(err, domain.ErrAlreadyProcessed) && !errors.Is(err, domain.ErrConflict) {
				t.Errorf("expected ErrAlreadyProcessed or ErrConflict, got: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load())
	qty := store.item(domain.DomainInterior, "item-x").Quantity
	assert.Contains(t, []int{99, 100}, qty)
}

func TestListPending_OrderAndEnrichment(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-a", 10)
	seedItem(store, domain.DomainExterior, "item-b", 10)
	require.NoError(t, store.CreateUser(context.Background(), domain.User{ID: "u-1", Username: "maria"}))
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	older, err := svc.CreateRequest(ctx, CreateRequestInput{
		MovementType: domain.MovementExit, Domain: domain.DomainInterior, ItemID: "item-a",
		Quantity: 1, ReasonRequested: "a", RequesterID: "u-1",
	})
	require.NoError(t, err)
	newer, err := svc.CreateRequest(ctx, CreateRequestInput{
		MovementType: domain.MovementEntry, Domain: domain.DomainExterior, ItemID: "item-b",
		Quantity: 1, ReasonRequested: "b",
	})
	require.NoError(t, err)
	done, err := svc.CreateRequest(ctx, exitInput("item-a", 1))
	require.NoError(t, err)
	_, err = svc.Process(ctx, done.ID, domain.ActionReject, "", adminID)
	require.NoError(t, err)

	// item-b disappears; its request is still listed with no item
	require.NoError(t, store.DeleteItem(ctx, domain.DomainExterior, "item-b"))

	views, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)

	assert.Equal(t, newer.ID, views[0].Request.ID)
	assert.Nil(t, views[0].Item)
	assert.Empty(t, views[0].RequesterName)

	assert.Equal(t, older.ID, views[1].Request.ID)
	require.NotNil(t, views[1].Item)
	assert.Equal(t, "item-a", views[1].Item.ID)
	assert.Equal(t, "maria", views[1].RequesterName)

	again, err := svc.ListPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, views, again)
}

func TestListPending_ItemLookupErrorIsTolerated(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-a", 10)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, exitInput("item-a", 1))
	require.NoError(t, err)

	store.getItemErr = errors.New("timeout")
	views, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Nil(t, views[0].Item)
}

func TestListForRequester(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-a", 10)
	require.NoError(t, store.CreateUser(context.Background(), domain.User{ID: adminID, Username: "boss", IsAdmin: true}))
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	in := exitInput("item-a", 1)
	in.RequesterID = "u-1"
	mine, err := svc.CreateRequest(ctx, in)
	require.NoError(t, err)
	_, err = svc.CreateRequest(ctx, exitInput("item-a", 1))
	require.NoError(t, err)

	_, err = svc.Process(ctx, mine.ID, domain.ActionApprove, "", adminID)
	require.NoError(t, err)

	views, err := svc.ListForRequester(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, mine.ID, views[0].Request.ID)
	assert.Equal(t, "boss", views[0].ApproverName)
	assert.Equal(t, 9, views[0].Item.Quantity)

	_, err = svc.ListForRequester(ctx, "")
	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestListStale(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-a", 10)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	_, err := svc.CreateRequest(ctx, exitInput("item-a", 1))
	require.NoError(t, err)

	stale, err := svc.ListStale(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, stale, 1)

	stale, err = svc.ListStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestEventsQueued(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-a", 10)
	svc, _ := newTestRequestService(store)
	ctx := context.Background()

	req, err := svc.CreateRequest(ctx, exitInput("item-a", 2))
	require.NoError(t, err)
	_, err = svc.Process(ctx, req.ID, domain.ActionApprove, "", adminID)
	require.NoError(t, err)

	created := <-svc.Events()
	approved := <-svc.Events()

	assert.Equal(t, domain.EventRequestCreated, created.Type)
	assert.Equal(t, domain.EventRequestApproved, approved.Type)
	assert.Equal(t, req.ID, approved.Request.ID)
	assert.Equal(t, domain.StateApproved, approved.Request.State)

	svc.Close()
	_, open := <-svc.Events()
	assert.False(t, open)
}

func TestEventsDroppedWhenQueueFull(t *testing.T) {
	store := newMockStore()
	seedItem(store, domain.DomainInterior, "item-a", 10)
	svc := NewRequestService(store, store, store, newMockGuard(), nil, nil, RequestServiceConfig{EventQueueSize: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.CreateRequest(ctx, exitInput("item-a", 1))
		require.NoError(t, err)
	}
	assert.Len(t, svc.events, 1)
}
