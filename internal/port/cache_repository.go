package port

import (
	"context"
	"time"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

type RequestGuard interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency frees a key whose request was never stored
	ClearIdempotency(ctx context.Context, key string) error

	// AcquireLease takes a short-lived exclusive lease, returns false if held by someone else
	AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease only if it is still owned by token
	ReleaseLease(ctx context.Context, key, token string) error
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.RequestEvent) error
}
