package storage

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/core/domain"
)

const localSweepInterval = time.Minute

// LocalGuard is the single-process stand-in for RedisAdapter. Expired keys
// are swept from the map at most once per localSweepInterval.
type LocalGuard struct {
	mu        sync.Mutex
	entries   map[string]localEntry
	now       func() time.Time
	lastSweep time.Time
}

type localEntry struct {
	value     string
	expiresAt time.Time
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{
		entries: make(map[string]localEntry),
		now:     time.Now,
	}
}

func (g *LocalGuard) SetIdempotency(ctx context.Context, key string) (bool, error) {
	return g.setNX(key, "1", idempotencyKeyTTL), nil
}

func (g *LocalGuard) ClearIdempotency(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.entries, key)
	return nil
}

func (g *LocalGuard) AcquireLease(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return g.setNX(key, token, ttl), nil
}

func (g *LocalGuard) ReleaseLease(ctx context.Context, key, token string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[key]; ok && e.value == token {
		delete(g.entries, key)
	}
	return nil
}

func (g *LocalGuard) setNX(key, value string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if now.Sub(g.lastSweep) >= localSweepInterval {
		g.sweep(now)
	}
	if e, ok := g.entries[key]; ok && now.Before(e.expiresAt) {
		return false
	}
	g.entries[key] = localEntry{value: value, expiresAt: now.Add(ttl)}
	return true
}

func (g *LocalGuard) sweep(now time.Time) {
	for k, e := range g.entries {
		if !now.Before(e.expiresAt) {
			delete(g.entries, k)
		}
	}
	g.lastSweep = now
}

// LogPublisher writes audit events to the log when no stream is configured.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(ctx context.Context, event domain.RequestEvent) error {
	p.logger.Info("request event",
		zap.String("type", string(event.Type)),
		zap.String("request_id", event.Request.ID),
		zap.String("state", string(event.Request.State)),
		zap.String("item_id", event.Request.ItemID),
		zap.Int("quantity", event.Request.Quantity),
		zap.Time("occurred_at", event.OccurredAt))
	return nil
}
