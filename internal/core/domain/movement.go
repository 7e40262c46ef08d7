package domain

import "time"

// Movement is the audit record written when an approved request changes stock.
type Movement struct {
	ID          string
	Domain      InventoryDomain
	ItemID      string
	Type        MovementType
	Quantity    int
	RequestID   string
	PerformedBy string
	CreatedAt   time.Time
}

type MovementFilter struct {
	Domain InventoryDomain
	ItemID string
	From   time.Time
	To     time.Time
}
