package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/metrics"
	"github.com/rl1809/inventory-requests/internal/port"
)

const (
	idempotencyKeyPrefix = "inventory-request:create:"
	processLeasePrefix   = "inventory-request:process:"
	defaultLeaseTTL      = 30 * time.Second
)

type RequestService struct {
	items    port.ItemRepository
	requests port.RequestRepository
	users    port.UserRepository
	guard    port.RequestGuard
	metrics  *metrics.Metrics
	logger   *zap.Logger

	validate *validator.Validate
	events   chan domain.RequestEvent
	leaseTTL time.Duration
	now      func() time.Time
}

type RequestServiceConfig struct {
	EventQueueSize int
	LeaseTTL       time.Duration
}

func NewRequestService(
	items port.ItemRepository,
	requests port.RequestRepository,
	users port.UserRepository,
	guard port.RequestGuard,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg RequestServiceConfig,
) *RequestService {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaultLeaseTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RequestService{
		items:    items,
		requests: requests,
		users:    users,
		guard:    guard,
		metrics:  m,
		logger:   logger.Named("requests"),
		validate: newValidator(),
		events:   make(chan domain.RequestEvent, cfg.EventQueueSize),
		leaseTTL: cfg.LeaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateRequest validates the input against the current item state and
// persists a PENDING request. Nothing is written when validation fails.
func (s *RequestService) CreateRequest(ctx context.Context, in CreateRequestInput) (*domain.InventoryRequest, error) {
	req, err := s.createRequest(ctx, in)
	s.metrics.ObserveCreated(string(in.MovementType), outcome(err))
	if err != nil {
		s.logger.Info("request refused",
			zap.String("movement_type", string(in.MovementType)),
			zap.String("domain", string(in.Domain)),
			zap.String("item_id", in.ItemID),
			zap.Int("quantity", in.Quantity),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("request created",
		zap.String("request_id", req.ID),
		zap.String("movement_type", string(req.MovementType)),
		zap.String("domain", string(req.Domain)),
		zap.String("item_id", req.ItemID),
		zap.Int("quantity", req.Quantity),
		zap.String("requester_id", req.RequesterID))
	s.emit(domain.EventRequestCreated, *req)
	return req, nil
}

func (s *RequestService) createRequest(ctx context.Context, in CreateRequestInput) (*domain.InventoryRequest, error) {
	if err := validateStruct(s.validate, in); err != nil {
		return nil, err
	}

	item, err := s.items.GetItem(ctx, in.Domain, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item == nil {
		return nil, fmt.Errorf("%w: %s item %s", domain.ErrNotFound, in.Domain, in.ItemID)
	}

	if err := checkStock(item, in.MovementType, in.Quantity); err != nil {
		return nil, err
	}
	if err := checkSerials(item, in.MovementType, in.SerialNumbers); err != nil {
		return nil, err
	}

	idempotencyKey := ""
	if in.IdempotencyKey != "" {
		idempotencyKey = idempotencyKeyPrefix + in.IdempotencyKey
		ok, err := s.guard.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: idempotency key %q already used", domain.ErrDuplicateRequest, in.IdempotencyKey)
		}
	}

	req := domain.InventoryRequest{
		ID:              uuid.NewString(),
		MovementType:    in.MovementType,
		Domain:          in.Domain,
		ItemID:          in.ItemID,
		Quantity:        in.Quantity,
		RequesterID:     in.RequesterID,
		State:           domain.StatePending,
		RequestedAt:     s.now(),
		ReasonRequested: in.ReasonRequested,
		SerialNumbers:   in.SerialNumbers,
	}

	if err := s.requests.CreateRequest(ctx, req); err != nil {
		// nothing was stored, so the key must stay usable for a retry
		if idempotencyKey != "" {
			if clearErr := s.guard.ClearIdempotency(context.WithoutCancel(ctx), idempotencyKey); clearErr != nil {
				s.logger.Warn("clear idempotency key failed",
					zap.String("idempotency_key", in.IdempotencyKey),
					zap.Error(clearErr))
			}
		}
		return nil, fmt.Errorf("persist request: %w", err)
	}
	return &req, nil
}

// ListPending returns all PENDING requests, newest first, enriched with the
// requester's name and the current item snapshot.
func (s *RequestService) ListPending(ctx context.Context) ([]domain.RequestView, error) {
	reqs, err := s.requests.ListRequests(ctx, domain.RequestFilter{State: domain.StatePending})
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return s.enrich(ctx, reqs)
}

// ListForRequester returns every request submitted by requesterID, newest first,
// enriched with the approver's name and the current item snapshot.
func (s *RequestService) ListForRequester(ctx context.Context, requesterID string) ([]domain.RequestView, error) {
	if requesterID == "" {
		return nil, fmt.Errorf("%w: requester id is required", domain.ErrValidation)
	}

	reqs, err := s.requests.ListRequests(ctx, domain.RequestFilter{RequesterID: requesterID})
	if err != nil {
		return nil, fmt.Errorf("list requests for %s: %w", requesterID, err)
	}
	return s.enrich(ctx, reqs)
}

// ListStale returns PENDING requests submitted more than olderThan ago.
func (s *RequestService) ListStale(ctx context.Context, olderThan time.Duration) ([]domain.InventoryRequest, error) {
	return s.requests.ListRequests(ctx, domain.RequestFilter{
		State:           domain.StatePending,
		RequestedBefore: s.now().Add(-olderThan),
	})
}

// Process applies an administrator's decision to a PENDING request. It is not
// idempotent: callers that lost the response must re-read the request before
// trying again.
func (s *RequestService) Process(ctx context.Context, requestID string, action domain.Action, rejectReason, approverID string) (*domain.InventoryRequest, error) {
	processed, err := s.process(ctx, requestID, action, rejectReason, approverID)
	s.metrics.ObserveProcessed(string(action), outcome(err))
	if err != nil {
		s.logger.Info("process refused",
			zap.String("request_id", requestID),
			zap.String("action", string(action)),
			zap.String("approver_id", approverID),
			zap.Error(err))
		return nil, err
	}

	eventType := domain.EventRequestApproved
	if processed.State == domain.StateRejected {
		eventType = domain.EventRequestRejected
	}

	s.logger.Info("request processed",
		zap.String("request_id", processed.ID),
		zap.String("state", string(processed.State)),
		zap.String("item_id", processed.ItemID),
		zap.Int("quantity_delta", stockDelta(*processed)),
		zap.String("approver_id", processed.ApproverID))
	s.emit(eventType, *processed)
	return processed, nil
}

func (s *RequestService) process(ctx context.Context, requestID string, action domain.Action, rejectReason, approverID string) (*domain.InventoryRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", domain.ErrValidation)
	}
	if action != domain.ActionApprove && action != domain.ActionReject {
		return nil, fmt.Errorf("%w: action must be one of [APPROVE REJECT], got %q", domain.ErrValidation, action)
	}

	leaseKey := processLeasePrefix + requestID
	token := uuid.NewString()
	ok, err := s.guard.AcquireLease(ctx, leaseKey, token, s.leaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire process lease: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: request %s is being processed, retry shortly", domain.ErrConflict, requestID)
	}
	defer func() {
		if err := s.guard.ReleaseLease(context.WithoutCancel(ctx), leaseKey, token); err != nil {
			s.logger.Warn("release process lease failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}()

	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	if req == nil {
		return nil, fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
	}
	if req.State != domain.StatePending {
		return nil, fmt.Errorf("%w: request %s is %s", domain.ErrAlreadyProcessed, req.ID, req.State)
	}

	processed := *req
	decidedAt := s.now()
	processed.ApproverID = approverID
	processed.ApprovedAt = &decidedAt

	if action == domain.ActionReject {
		processed.State = domain.StateRejected
		processed.ReasonRejected = rejectReason
	} else {
		// Early re-validation for a precise message; the conditional writes in
		// CommitDecision are what actually guard against concurrent approvals.
		item, err := s.items.GetItem(ctx, req.Domain, req.ItemID)
		if err != nil {
			return nil, fmt.Errorf("get item: %w", err)
		}
		if item == nil {
			return nil, fmt.Errorf("%w: %s item %s", domain.ErrNotFound, req.Domain, req.ItemID)
		}
		if err := checkStock(item, req.MovementType, req.Quantity); err != nil {
			return nil, err
		}
		if req.MovementType == domain.MovementExit {
			if err := checkSerials(item, req.MovementType, req.SerialNumbers); err != nil {
				return nil, err
			}
		}
		processed.State = domain.StateApproved
	}

	if err := s.requests.CommitDecision(ctx, processed); err != nil {
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("commit decision: %w", err)
	}
	return &processed, nil
}

func (s *RequestService) enrich(ctx context.Context, reqs []domain.InventoryRequest) ([]domain.RequestView, error) {
	ids := make([]string, 0, len(reqs)*2)
	for _, r := range reqs {
		if r.RequesterID != "" {
			ids = append(ids, r.RequesterID)
		}
		if r.ApproverID != "" {
			ids = append(ids, r.ApproverID)
		}
	}

	names := map[string]string{}
	if len(ids) > 0 {
		var err error
		names, err = s.users.UsernamesByID(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve usernames: %w", err)
		}
	}

	type itemKey struct {
		domain domain.InventoryDomain
		id     string
	}
	items := make(map[itemKey]*domain.Item)

	views := make([]domain.RequestView, 0, len(reqs))
	for _, r := range reqs {
		key := itemKey{r.Domain, r.ItemID}
		item, seen := items[key]
		if !seen {
			var err error
			item, err = s.items.GetItem(ctx, r.Domain, r.ItemID)
			if err != nil {
				s.logger.Warn("item unavailable for request",
					zap.String("request_id", r.ID),
					zap.String("item_id", r.ItemID),
					zap.Error(err))
				item = nil
			}
			items[key] = item
		}

		views = append(views, domain.RequestView{
			Request:       r,
			RequesterName: names[r.RequesterID],
			ApproverName:  names[r.ApproverID],
			Item:          item,
		})
	}
	return views, nil
}

// Events exposes the audit event queue to the publishing workers.
func (s *RequestService) Events() <-chan domain.RequestEvent {
	return s.events
}

func (s *RequestService) Close() {
	close(s.events)
}

// emit never blocks a request: when the queue is full the event is dropped,
// the database remains the record of truth.
func (s *RequestService) emit(t domain.EventType, req domain.InventoryRequest) {
	ev := domain.RequestEvent{Type: t, Request: req, OccurredAt: s.now()}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event queue full, dropping event",
			zap.String("event", string(t)),
			zap.String("request_id", req.ID))
	}
}

func stockDelta(r domain.InventoryRequest) int {
	if r.State != domain.StateApproved {
		return 0
	}
	return r.QuantityDelta()
}

func isDomainError(err error) bool {
	for _, target := range []error{
		domain.ErrNotFound,
		domain.ErrInsufficientStock,
		domain.ErrInvalidSerials,
		domain.ErrAlreadyProcessed,
		domain.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
