package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/port"
)

// ItemService is the plain CRUD surface over both partitions. Stock changes
// made here bypass the request workflow.
type ItemService struct {
	items     port.ItemRepository
	movements port.MovementRepository
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

func NewItemService(items port.ItemRepository, movements port.MovementRepository, logger *zap.Logger) *ItemService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ItemService{
		items:     items,
		movements: movements,
		logger:    logger.Named("items"),
		validate:  newValidator(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *ItemService) CreateItem(ctx context.Context, d domain.InventoryDomain, in ItemInput) (*domain.Item, error) {
	item, err := s.buildItem(d, uuid.NewString(), in)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = s.now()
	item.UpdatedAt = item.CreatedAt

	if err := s.items.CreateItem(ctx, *item); err != nil {
		return nil, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info("item created",
		zap.String("domain", string(d)),
		zap.String("item_id", item.ID),
		zap.Int("quantity", item.Quantity))
	return item, nil
}

func (s *ItemService) GetItem(ctx context.Context, d domain.InventoryDomain, itemID string) (*domain.Item, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown inventory domain %q", domain.ErrValidation, d)
	}

	item, err := s.items.GetItem(ctx, d, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s item %s", domain.ErrNotFound, d, itemID)
	}
	return item, nil
}

func (s *ItemService) ListItems(ctx context.Context, d domain.InventoryDomain) ([]domain.Item, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown inventory domain %q", domain.ErrValidation, d)
	}
	return s.items.ListItems(ctx, d)
}

func (s *ItemService) UpdateItem(ctx context.Context, d domain.InventoryDomain, itemID string, in ItemInput) (*domain.Item, error) {
	existing, err := s.GetItem(ctx, d, itemID)
	if err != nil {
		return nil, err
	}

	item, err := s.buildItem(d, itemID, in)
	if err != nil {
		return nil, err
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = s.now()

	if err := s.items.UpdateItem(ctx, *item); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	s.logger.Info("item updated",
		zap.String("domain", string(d)),
		zap.String("item_id", itemID),
		zap.Int("quantity_before", existing.Quantity),
		zap.Int("quantity_after", item.Quantity))
	return item, nil
}

func (s *ItemService) DeleteItem(ctx context.Context, d domain.InventoryDomain, itemID string) error {
	if _, err := s.GetItem(ctx, d, itemID); err != nil {
		return err
	}
	if err := s.items.DeleteItem(ctx, d, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	s.logger.Info("item deleted", zap.String("domain", string(d)), zap.String("item_id", itemID))
	return nil
}

func (s *ItemService) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	if filter.Domain != "" && !filter.Domain.Valid() {
		return nil, fmt.Errorf("%w: unknown inventory domain %q", domain.ErrValidation, filter.Domain)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: 'to' is before 'from'", domain.ErrValidation)
	}
	return s.movements.ListMovements(ctx, filter)
}

func (s *ItemService) buildItem(d domain.InventoryDomain, id string, in ItemInput) (*domain.Item, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: unknown inventory domain %q", domain.ErrValidation, d)
	}
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}

	price := decimal.Zero
	if in.UnitPrice != "" {
		var err error
		price, err = decimal.NewFromString(in.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: UnitPrice: %v", domain.ErrValidation, err)
		}
		if price.IsNegative() {
			return nil, fmt.Errorf("%w: UnitPrice must not be negative", domain.ErrValidation)
		}
	}

	return &domain.Item{
		ID:            id,
		Domain:        d,
		Brand:         in.Brand,
		Model:         in.Model,
		Description:   in.Description,
		Supplier:      in.Supplier,
		Unit:          in.Unit,
		UnitPrice:     price.Round(2),
		Quantity:      in.Quantity,
		SerialNumbers: in.SerialNumbers,
		Categories:    in.Categories,
	}, nil
}
