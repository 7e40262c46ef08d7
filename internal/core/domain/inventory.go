package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// InventoryDomain selects one of the two item partitions.
type InventoryDomain string

const (
	DomainInterior InventoryDomain = "INTERIOR"
	DomainExterior InventoryDomain = "EXTERIOR"
)

func (d InventoryDomain) Valid() bool {
	return d == DomainInterior || d == DomainExterior
}

// ParseInventoryDomain accepts either case ("interior", "EXTERIOR").
func ParseInventoryDomain(s string) (InventoryDomain, error) {
	d := InventoryDomain(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: unknown inventory domain %q", ErrValidation, s)
	}
	return d, nil
}

type Item struct {
	ID            string
	Domain        InventoryDomain
	Brand         string
	Model         string
	Description   string
	Supplier      string
	Unit          string
	UnitPrice     decimal.Decimal
	Quantity      int
	SerialNumbers []string
	Categories    []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MissingSerials returns the serials not held by the item, in input order.
func (i *Item) MissingSerials(serials []string) []string {
	held := make(map[string]struct{}, len(i.SerialNumbers))
	for _, s := range i.SerialNumbers {
		held[s] = struct{}{}
	}

	var missing []string
	for _, s := range serials {
		if _, ok := held[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

// HeldSerials returns the serials already held by the item, in input order.
func (i *Item) HeldSerials(serials []string) []string {
	missing := i.MissingSerials(serials)
	if len(missing) == len(serials) {
		return nil
	}

	absent := make(map[string]struct{}, len(missing))
	for _, s := range missing {
		absent[s] = struct{}{}
	}

	var held []string
	for _, s := range serials {
		if _, ok := absent[s]; !ok {
			held = append(held, s)
		}
	}
	return held
}
