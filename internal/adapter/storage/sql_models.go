package storage

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

const (
	interiorItemTable    = "inventory_items"
	exteriorItemTable    = "inventory_exterior_items"
	interiorSerialsTable = "inventory_item_serials"
	exteriorSerialsTable = "inventory_exterior_item_serials"
)

// Both partitions share the same row shape; the table is picked per call.
func itemTable(d domain.InventoryDomain) string {
	if d == domain.DomainExterior {
		return exteriorItemTable
	}
	return interiorItemTable
}

func serialsTable(d domain.InventoryDomain) string {
	if d == domain.DomainExterior {
		return exteriorSerialsTable
	}
	return interiorSerialsTable
}

type itemRow struct {
	ID          string          `gorm:"primaryKey;size:36"`
	Brand       string          `gorm:"size:128"`
	Model       string          `gorm:"size:128"`
	Description string          `gorm:"size:512;not null"`
	Supplier    string          `gorm:"size:128"`
	Unit        string          `gorm:"size:32"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Quantity    int             `gorm:"not null;default:0"`
	Categories  datatypes.JSONSlice[string]
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type serialRow struct {
	ItemID string `gorm:"primaryKey;size:36"`
	Serial string `gorm:"primaryKey;size:128"`
}

type requestRow struct {
	ID              string    `gorm:"primaryKey;size:36"`
	MovementType    string    `gorm:"size:8;not null"`
	Domain          string    `gorm:"size:16;not null"`
	ItemID          string    `gorm:"size:36;not null"`
	Quantity        int       `gorm:"not null"`
	RequesterID     string    `gorm:"size:36;index:idx_inventory_requests_requester"`
	State           string    `gorm:"size:16;not null;index:idx_inventory_requests_state"`
	RequestedAt     time.Time `gorm:"not null;index:idx_inventory_requests_requested_at"`
	ReasonRequested string    `gorm:"size:1024;not null"`
	ReasonRejected  string    `gorm:"size:1024"`
	ApproverID      string    `gorm:"size:36"`
	ApprovedAt      *time.Time
	SerialNumbers   datatypes.JSONSlice[string]
}

func (requestRow) TableName() string { return "inventory_requests" }

type movementRow struct {
	ID          string    `gorm:"primaryKey;size:36"`
	Domain      string    `gorm:"size:16;not null;index:idx_inventory_movements_item,priority:1"`
	ItemID      string    `gorm:"size:36;not null;index:idx_inventory_movements_item,priority:2"`
	Type        string    `gorm:"size:8;not null"`
	Quantity    int       `gorm:"not null"`
	RequestID   string    `gorm:"size:36;not null"`
	PerformedBy string    `gorm:"size:36"`
	CreatedAt   time.Time `gorm:"index:idx_inventory_movements_created_at"`
}

func (movementRow) TableName() string { return "inventory_movements" }

type userRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Username  string `gorm:"size:64;not null;uniqueIndex:idx_users_username"`
	IsAdmin   bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (userRow) TableName() string { return "users" }

func toItemRow(item domain.Item) itemRow {
	return itemRow{
		ID:          item.ID,
		Brand:       item.Brand,
		Model:       item.Model,
		Description: item.Description,
		Supplier:    item.Supplier,
		Unit:        item.Unit,
		UnitPrice:   item.UnitPrice,
		Quantity:    item.Quantity,
		Categories:  datatypes.JSONSlice[string](item.Categories),
		CreatedAt:   item.CreatedAt,
		UpdatedAt:   item.UpdatedAt,
	}
}

func (r itemRow) toDomain(d domain.InventoryDomain, serials []string) domain.Item {
	return domain.Item{
		ID:            r.ID,
		Domain:        d,
		Brand:         r.Brand,
		Model:         r.Model,
		Description:   r.Description,
		Supplier:      r.Supplier,
		Unit:          r.Unit,
		UnitPrice:     r.UnitPrice,
		Quantity:      r.Quantity,
		SerialNumbers: serials,
		Categories:    []string(r.Categories),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

func toRequestRow(r domain.InventoryRequest) requestRow {
	return requestRow{
		ID:              r.ID,
		MovementType:    string(r.MovementType),
		Domain:          string(r.Domain),
		ItemID:          r.ItemID,
		Quantity:        r.Quantity,
		RequesterID:     r.RequesterID,
		State:           string(r.State),
		RequestedAt:     r.RequestedAt,
		ReasonRequested: r.ReasonRequested,
		ReasonRejected:  r.ReasonRejected,
		ApproverID:      r.ApproverID,
		ApprovedAt:      r.ApprovedAt,
		SerialNumbers:   datatypes.JSONSlice[string](r.SerialNumbers),
	}
}

func (r requestRow) toDomain() domain.InventoryRequest {
	req := domain.InventoryRequest{
		ID:              r.ID,
		MovementType:    domain.MovementType(r.MovementType),
		Domain:          domain.InventoryDomain(r.Domain),
		ItemID:          r.ItemID,
		Quantity:        r.Quantity,
		RequesterID:     r.RequesterID,
		State:           domain.RequestState(r.State),
		RequestedAt:     r.RequestedAt.UTC(),
		ReasonRequested: r.ReasonRequested,
		ReasonRejected:  r.ReasonRejected,
		ApproverID:      r.ApproverID,
		SerialNumbers:   []string(r.SerialNumbers),
	}
	if r.ApprovedAt != nil {
		t := r.ApprovedAt.UTC()
		req.ApprovedAt = &t
	}
	return req
}

func (r movementRow) toDomain() domain.Movement {
	return domain.Movement{
		ID:          r.ID,
		Domain:      domain.InventoryDomain(r.Domain),
		ItemID:      r.ItemID,
		Type:        domain.MovementType(r.Type),
		Quantity:    r.Quantity,
		RequestID:   r.RequestID,
		PerformedBy: r.PerformedBy,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

func (r userRow) toDomain() domain.User {
	return domain.User{ID: r.ID, Username: r.Username, IsAdmin: r.IsAdmin, CreatedAt: r.CreatedAt.UTC()}
}
