package domain

import "time"

type EventType string

const (
	EventRequestCreated  EventType = "request.created"
	EventRequestApproved EventType = "request.approved"
	EventRequestRejected EventType = "request.rejected"
)

type RequestEvent struct {
	Type       EventType
	Request    InventoryRequest
	OccurredAt time.Time
}
