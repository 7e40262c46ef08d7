package port

import (
	"context"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

type ItemRepository interface {
	// GetItem returns nil, nil when the item does not exist in the partition
	GetItem(ctx context.Context, d domain.InventoryDomain, itemID string) (*domain.Item, error)

	ListItems(ctx context.Context, d domain.InventoryDomain) ([]domain.Item, error)

	CreateItem(ctx context.Context, item domain.Item) error

	// UpdateItem replaces descriptive fields, quantity and serials; ErrNotFound if missing
	UpdateItem(ctx context.Context, item domain.Item) error

	DeleteItem(ctx context.Context, d domain.InventoryDomain, itemID string) error
}

type RequestRepository interface {
	CreateRequest(ctx context.Context, req domain.InventoryRequest) error

	// GetRequest returns nil, nil when the request does not exist
	GetRequest(ctx context.Context, requestID string) (*domain.InventoryRequest, error)

	// ListRequests returns matching requests ordered newest first by RequestedAt
	ListRequests(ctx context.Context, filter domain.RequestFilter) ([]domain.InventoryRequest, error)

	// CommitDecision writes a processed request and, for approvals, applies the
	// stock and serial change plus a movement record in the same transaction.
	// The state write only matches a PENDING row and the EXIT decrement only
	// matches quantity >= requested; a miss rolls everything back.
	CommitDecision(ctx context.Context, processed domain.InventoryRequest) error
}

type MovementRepository interface {
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error)
}

type UserRepository interface {
	CreateUser(ctx context.Context, user domain.User) error

	GetUser(ctx context.Context, userID string) (*domain.User, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// UsernamesByID resolves display names; unknown IDs are absent from the map
	UsernamesByID(ctx context.Context, userIDs []string) (map[string]string, error)
}

// Store is everything a storage backend provides.
type Store interface {
	ItemRepository
	RequestRepository
	MovementRepository
	UserRepository

	Migrate(ctx context.Context) error
	Close() error
}
