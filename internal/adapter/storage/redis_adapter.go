package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

const (
	idempotencyKeyTTL = 24 * time.Hour
	eventStream       = "inventory-requests:events"
	eventStreamMaxLen = 100000
)

// Deletes the lease only while it still carries our token, so a lease that
// expired and was taken by another caller is left alone.
var releaseLeaseScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
	stream string
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client, stream: eventStream}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ClearIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, key, token, ttl).Result()
}

func (r *RedisAdapter) ReleaseLease(ctx context.Context, key, token string) error {
	return releaseLeaseScript.Run(ctx, r.client, []string{key}, token).Err()
}

// Publish appends the event to a capped stream for downstream consumers.
func (r *RedisAdapter) Publish(ctx context.Context, event domain.RequestEvent) error {
	payload, err := json.Marshal(newEventPayload(event))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: eventStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"type":       string(event.Type),
			"request_id": event.Request.ID,
			"payload":    payload,
		},
	}).Err()
}

type eventPayload struct {
	Type         string     `json:"type"`
	RequestID    string     `json:"requestId"`
	MovementType string     `json:"movementType"`
	Domain       string     `json:"domain"`
	ItemID       string     `json:"itemId"`
	Quantity     int        `json:"quantity"`
	State        string     `json:"state"`
	RequesterID  string     `json:"requesterId,omitempty"`
	ApproverID   string     `json:"approverId,omitempty"`
	ApprovedAt   *time.Time `json:"approvedAt,omitempty"`
	OccurredAt   time.Time  `json:"occurredAt"`
}

func newEventPayload(e domain.RequestEvent) eventPayload {
	return eventPayload{
		Type:         string(e.Type),
		RequestID:    e.Request.ID,
		MovementType: string(e.Request.MovementType),
		Domain:       string(e.Request.Domain),
		ItemID:       e.Request.ItemID,
		Quantity:     e.Request.Quantity,
		State:        string(e.Request.State),
		RequesterID:  e.Request.RequesterID,
		ApproverID:   e.Request.ApproverID,
		ApprovedAt:   e.Request.ApprovedAt,
		OccurredAt:   e.OccurredAt,
	}
}
