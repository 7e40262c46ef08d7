package domain

import "time"

type MovementType string

const (
	MovementEntry MovementType = "ENTRY"
	MovementExit  MovementType = "EXIT"
)

type RequestState string

const (
	StatePending  RequestState = "PENDING"
	StateApproved RequestState = "APPROVED"
	StateRejected RequestState = "REJECTED"
)

func (s RequestState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

type InventoryRequest struct {
	ID              string
	MovementType    MovementType
	Domain          InventoryDomain
	ItemID          string
	Quantity        int
	RequesterID     string // empty for anonymous requests
	State           RequestState
	RequestedAt     time.Time
	ReasonRequested string
	ReasonRejected  string
	ApproverID      string
	ApprovedAt      *time.Time
	SerialNumbers   []string
}

// QuantityDelta is the signed change an approval applies to the item.
func (r InventoryRequest) QuantityDelta() int {
	if r.MovementType == MovementExit {
		return -r.Quantity
	}
	return r.Quantity
}

type RequestFilter struct {
	State       RequestState
	RequesterID string
	// RequestedBefore, when set, keeps only requests submitted before it.
	RequestedBefore time.Time
}

// RequestView is a request enriched for listing. Item is nil when the
// referenced item could not be resolved.
type RequestView struct {
	Request       InventoryRequest
	RequesterName string
	ApproverName  string
	Item          *Item
}
