// ABOUTME: Polling consumer that hands queued webhook deal IDs to the sync runner in batches
// ABOUTME: Acknowledges a batch on success and records a failed attempt on every message otherwise
package queue

import (
	"context"
	"strings"
	"time"

	"github.com/BLEND360/hubspot-deals-export/metrics"
	"go.uber.org/zap"
)

// Handler reconciles a batch of deal IDs.
type Handler func(ctx context.Context, dealIDs []string) error

// ConsumerConfig tunes polling.
type ConsumerConfig struct {
	// BatchSize caps the messages handled together.
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

// Consumer drains a Queue into a Handler.
type Consumer struct {
	q       *Queue
	handle  Handler
	cfg     ConsumerConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewConsumer(q *Queue, handle Handler, cfg ConsumerConfig, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{q: q, handle: handle, cfg: cfg, logger: logger, metrics: m}
}

// Run drains the queue every interval until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		for {
			n, err := c.Drain(ctx)
			if err != nil {
				c.logger.Error("webhook batch failed", zap.Error(err))
				break
			}
			if n < c.cfg.BatchSize {
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Drain handles one batch of pending messages and returns how many it took.
// A handler error is returned after the batch is nacked.
func (c *Consumer) Drain(ctx context.Context) (int, error) {
	defer c.reportDepth()

	entries, err := c.q.Peek(c.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	ids := collectDealIDs(entries)
	c.logger.Info("processing webhook batch", zap.Int("messages", len(entries)), zap.Int("deals", len(ids)))

	if err := c.handle(ctx, ids); err != nil {
		dead, nackErr := c.q.Nack(entries, err, c.cfg.MaxAttempts)
		if nackErr != nil {
			return len(entries), nackErr
		}
		if dead > 0 {
			c.logger.Warn("webhook messages dead-lettered", zap.Int("count", dead))
		}
		return len(entries), err
	}
	return len(entries), c.q.Ack(entries)
}

func (c *Consumer) reportDepth() {
	if n, err := c.q.Depth(); err == nil {
		c.metrics.SetQueueDepth(n)
	}
}

// collectDealIDs flattens the batch in arrival order, dropping blanks and
// repeats.
func collectDealIDs(entries []Entry) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		for _, id := range e.DealIDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
