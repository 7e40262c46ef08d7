package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-requests/internal/core/domain"
	"github.com/rl1809/inventory-requests/internal/metrics"
)

type StaleLister interface {
	ListStale(ctx context.Context, olderThan time.Duration) ([]domain.InventoryRequest, error)
}

// StaleReport counts PENDING requests that have waited longer than After.
type StaleReport struct {
	requests StaleLister
	metrics  *metrics.Metrics
	logger   *zap.Logger
	After    time.Duration
	Timeout  time.Duration
}

func NewStaleReport(requests StaleLister, m *metrics.Metrics, logger *zap.Logger, after time.Duration) *StaleReport {
	return &StaleReport{
		requests: requests,
		metrics:  m,
		logger:   logger.Named("stale-report"),
		After:    after,
		Timeout:  30 * time.Second,
	}
}

func (r *StaleReport) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()

	if _, err := r.RunOnce(ctx); err != nil {
		r.logger.Error("stale request report failed", zap.Error(err))
	}
}

func (r *StaleReport) RunOnce(ctx context.Context) (int, error) {
	stale, err := r.requests.ListStale(ctx, r.After)
	if err != nil {
		return 0, err
	}

	r.metrics.SetPendingStale(len(stale))
	if len(stale) == 0 {
		return 0, nil
	}

	oldest := stale[len(stale)-1]
	r.logger.Warn("requests waiting for approval",
		zap.Int("count", len(stale)),
		zap.Duration("older_than", r.After),
		zap.String("oldest_request_id", oldest.ID),
		zap.Time("oldest_requested_at", oldest.RequestedAt))
	return len(stale), nil
}

// Start registers the report on schedule and starts the cron runner.
func Start(schedule string, report *StaleReport) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddJob(schedule, report); err != nil {
		return nil, fmt.Errorf("register stale report %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}
