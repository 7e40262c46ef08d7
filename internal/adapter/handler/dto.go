package handler

import (
	"time"

	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/core/service"
)

// Wire types shared by the HTTP API and the JSON-coded gRPC service.

type CreateRequestBody struct {
	MovementType    string   `json:"movementType"`
	Domain          string   `json:"domain"`
	ItemID          string   `json:"itemId"`
	Quantity        int      `json:"quantity"`
	ReasonRequested string   `json:"reasonRequested"`
	SerialNumbers   []string `json:"serialNumbers,omitempty"`
	IdempotencyKey  string   `json:"idempotencyKey,omitempty"`
}

func (b CreateRequestBody) toInput(requesterID string) service.CreateRequestInput {
	// unknown domains fall through to the validator
	d, err := domain.ParseInventoryDomain(b.Domain)
	if err != nil {
		d = domain.InventoryDomain(b.Domain)
	}

	return service.CreateRequestInput{
		MovementType:    domain.MovementType(upper(b.MovementType)),
		Domain:          d,
		ItemID:          b.ItemID,
		Quantity:        b.Quantity,
		ReasonRequested: b.ReasonRequested,
		SerialNumbers:   b.SerialNumbers,
		RequesterID:     requesterID,
		IdempotencyKey:  b.IdempotencyKey,
	}
}

type ProcessBody struct {
	Action       string `json:"action"`
	RejectReason string `json:"rejectReason,omitempty"`
}

type ProcessRequestMessage struct {
	RequestID    string `json:"requestId"`
	Action       string `json:"action"`
	RejectReason string `json:"rejectReason,omitempty"`
}

type Empty struct{}

type RequestResponse struct {
	ID              string        `json:"id"`
	MovementType    string        `json:"movementType"`
	Domain          string        `json:"domain"`
	ItemID          string        `json:"itemId"`
	Quantity        int           `json:"quantity"`
	RequesterID     string        `json:"requesterId,omitempty"`
	RequesterName   string        `json:"requesterName,omitempty"`
	State           string        `json:"state"`
	RequestedAt     time.Time     `json:"requestedAt"`
	ReasonRequested string        `json:"reasonRequested"`
	ReasonRejected  string        `json:"reasonRejected,omitempty"`
	ApproverID      string        `json:"approverId,omitempty"`
	ApproverName    string        `json:"approverName,omitempty"`
	ApprovedAt      *time.Time    `json:"approvedAt,omitempty"`
	SerialNumbers   []string      `json:"serialNumbers"`
	Item            *ItemResponse `json:"item"`
}

type RequestList struct {
	Requests []RequestResponse `json:"requests"`
}

type ItemBody struct {
	Brand         string   `json:"brand"`
	Model         string   `json:"model"`
	Description   string   `json:"description"`
	Supplier      string   `json:"supplier"`
	Unit          string   `json:"unit"`
	UnitPrice     string   `json:"unitPrice"`
	Quantity      int      `json:"quantity"`
	SerialNumbers []string `json:"serialNumbers"`
	Categories    []string `json:"categories"`
}

func (b ItemBody) toInput() service.ItemInput {
	return service.ItemInput{
		Brand:         b.Brand,
		Model:         b.Model,
		Description:   b.Description,
		Supplier:      b.Supplier,
		Unit:          b.Unit,
		UnitPrice:     b.UnitPrice,
		Quantity:      b.Quantity,
		SerialNumbers: b.SerialNumbers,
		Categories:    b.Categories,
	}
}

type ItemResponse struct {
	ID            string    `json:"id"`
	Domain        string    `json:"domain"`
	Brand         string    `json:"brand"`
	Model         string    `json:"model"`
	Description   string    `json:"description"`
	Supplier      string    `json:"supplier"`
	Unit          string    `json:"unit"`
	UnitPrice     string    `json:"unitPrice"`
	Quantity      int       `json:"quantity"`
	SerialNumbers []string  `json:"serialNumbers"`
	Categories    []string  `json:"categories"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type MovementResponse struct {
	ID          string    `json:"id"`
	Domain      string    `json:"domain"`
	ItemID      string    `json:"itemId"`
	Type        string    `json:"type"`
	Quantity    int       `json:"quantity"`
	RequestID   string    `json:"requestId"`
	PerformedBy string    `json:"performedBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func toRequestResponse(r domain.InventoryRequest) RequestResponse {
	return RequestResponse{
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
		SerialNumbers:   orEmpty(r.SerialNumbers),
	}
}

func toRequestViews(views []domain.RequestView) []RequestResponse {
	out := make([]RequestResponse, len(views))
	for i, v := range views {
		resp := toRequestResponse(v.Request)
		resp.RequesterName = v.RequesterName
		resp.ApproverName = v.ApproverName
		if v.Item != nil {
			item := toItemResponse(*v.Item)
			resp.Item = &item
		}
		out[i] = resp
	}
	return out
}

func toItemResponse(item domain.Item) ItemResponse {
	return ItemResponse{
		ID:            item.ID,
		Domain:        string(item.Domain),
		Brand:         item.Brand,
		Model:         item.Model,
		Description:   item.Description,
		Supplier:      item.Supplier,
		Unit:          item.Unit,
		UnitPrice:     item.UnitPrice.StringFixed(2),
		Quantity:      item.Quantity,
		SerialNumbers: orEmpty(item.SerialNumbers),
		Categories:    orEmpty(item.Categories),
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
}

func toMovementResponse(m domain.Movement) MovementResponse {
	return MovementResponse{
		ID:          m.ID,
		Domain:      string(m.Domain),
		ItemID:      m.ItemID,
		Type:        string(m.Type),
		Quantity:    m.Quantity,
		RequestID:   m.RequestID,
		PerformedBy: m.PerformedBy,
		CreatedAt:   m.CreatedAt,
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
