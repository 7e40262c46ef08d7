package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/adapter/storage"
	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/core/service"
	"github.com/rl1809/inventory-requests/internal/port"
)

const (
	approverID    = "stress-admin"
	initialStock  = 20
	totalRequests = 50
	exitQuantity  = 3
	queueSize     = 100
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	store, err := storage.OpenSQLite(":memory:", logger)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Redis is optional; without it leases are held in-process
	var guard port.RequestGuard = storage.NewLocalGuard()
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rdb.Close()
		guard = storage.NewRedisAdapter(rdb)
	}

	itemService := service.NewItemService(store, store, logger)
	requestService := service.NewRequestService(store, store, store, guard, nil, logger, service.RequestServiceConfig{
		EventQueueSize: queueSize,
	})
	defer requestService.Close()

	// Drain the event queue in background
	go func() {
		for range requestService.Events() {
		}
	}()

	item, err := itemService.CreateItem(ctx, domain.DomainExterior, service.ItemInput{
		Description: "stress test pallet",
		Quantity:    initialStock,
	})
	if err != nil {
		log.Fatalf("failed to seed item: %v", err)
	}

	// Open every request up front; stock is only checked again on approval
	ids := make([]string, 0, totalRequests)
	for i := 0; i < totalRequests; i++ {
		req, err := requestService.CreateRequest(ctx, service.CreateRequestInput{
			MovementType:    domain.MovementExit,
			Domain:          domain.DomainExterior,
			ItemID:          item.ID,
			Quantity:        exitQuantity,
			ReasonRequested: fmt.Sprintf("stress-%d", i),
		})
		if err != nil {
			log.Fatalf("failed to create request %d: %v", i, err)
		}
		ids = append(ids, req.ID)
	}

	// Counters
	var successCount atomic.Int32
	var insufficientCount atomic.Int32
	var otherCount atomic.Int32

	// Approve concurrently
	var wg sync.WaitGroup
	start := time.Now()

	for _, id := range ids {
		wg.Add(1)
		go func(requestID string) {
			defer wg.Done()

			_, err := requestService.Process(ctx, requestID, domain.ActionApprove, "", approverID)
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				insufficientCount.Add(1)
			default:
				otherCount.Add(1)
			}
		}(id)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := int(successCount.Load())
	insufficient := int(insufficientCount.Load())
	other := int(otherCount.Load())
	wantSuccess := initialStock / exitQuantity

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d (EXIT x%d)\n", totalRequests, exitQuantity)
	fmt.Printf("Approved:         %d\n", success)
	fmt.Printf("Insufficient:     %d\n", insufficient)
	fmt.Printf("Other Errors:     %d\n", other)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == wantSuccess && insufficient == totalRequests-wantSuccess {
		fmt.Printf("PASS: Exactly %d approvals succeeded, %d were refused\n", wantSuccess, totalRequests-wantSuccess)
	} else {
		fmt.Printf("FAIL: Expected %d approved/%d refused, got %d/%d (other %d)\n",
			wantSuccess, totalRequests-wantSuccess, success, insufficient, other)
	}

	// Verify final stock
	final, err := store.GetItem(ctx, domain.DomainExterior, item.ID)
	if err != nil {
		log.Fatalf("failed to read item: %v", err)
	}
	wantStock := initialStock - success*exitQuantity
	fmt.Printf("Final Stock:      %d\n", final.Quantity)

	if final.Quantity == wantStock && final.Quantity >= 0 {
		fmt.Printf("PASS: Stock is %d and never went negative\n", wantStock)
	} else {
		fmt.Printf("FAIL: Expected stock %d, got %d\n", wantStock, final.Quantity)
	}
}
