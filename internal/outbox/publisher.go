// Package outbox drains the durable event outbox into Redis pub/sub.
//
// Events are written to the outbox table inside settlement transactions;
// this package owns the other half of the pattern: claim a batch, publish
// each event to its channel ("<type>.<symbol>"), and flip the published
// flag, all in one autonomous transaction. Delivery is at-least-once and
// per-channel ordered.
package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	partialDelay  = 10 * time.Millisecond
	emptyDelayMin = 100 * time.Millisecond
	emptyDelayMax = time.Second
)

// Store is the claim-and-flip surface, implemented by the store package.
type Store interface {
	PublishBatch(ctx context.Context, limit int, publish func(ctx context.Context, channel string, payload []byte) error) (int, error)
}

// Publisher runs one or more workers draining the outbox. Workers never
// claim the same rows (the claim uses SKIP LOCKED), so scaling workers
// scales throughput without duplicating deliveries.
type Publisher struct {
	store     Store
	rdb       *redis.Client
	batchSize int
	workers   int
	logger    *slog.Logger
}

// New builds a publisher delivering through the given Redis client.
func New(st Store, rdb *redis.Client, batchSize, workers int, logger *slog.Logger) *Publisher {
	return &Publisher{
		store:     st,
		rdb:       rdb,
		batchSize: batchSize,
		workers:   workers,
		logger:    logger.With("component", "publisher"),
	}
}

// Start launches the worker loops.
func (p *Publisher) Start(ctx context.Context, wg *sync.WaitGroup) {
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.run(ctx, worker)
		}(i)
	}
	p.logger.Info("publisher started", "workers", p.workers, "batch_size", p.batchSize)
}

// run drains batches with adaptive pacing: a full batch means the outbox is
// backed up, so go again immediately; a partial batch yields briefly; an
// empty outbox backs off up to a second so an idle market costs little.
func (p *Publisher) run(ctx context.Context, worker int) {
	logger := p.logger.With("worker", worker)
	emptyDelay := emptyDelayMin

	for {
		if ctx.Err() != nil {
			logger.Info("publisher worker stopped")
			return
		}

		n, err := p.store.PublishBatch(ctx, p.batchSize, p.deliver)
		if err != nil {
			logger.Error("publish batch failed", "error", err)
			if !sleep(ctx, emptyDelayMax) {
				return
			}
			continue
		}

		var delay time.Duration
		switch {
		case n >= p.batchSize:
			delay = 0
			emptyDelay = emptyDelayMin
		case n > 0:
			delay = partialDelay
			emptyDelay = emptyDelayMin
		default:
			delay = emptyDelay
			emptyDelay = min(emptyDelay*2, emptyDelayMax)
		}

		if delay > 0 && !sleep(ctx, delay) {
			return
		}
	}
}

// deliver publishes one event payload to its Redis channel.
func (p *Publisher) deliver(ctx context.Context, channel string, payload []byte) error {
	return p.rdb.Publish(ctx, channel, payload).Err()
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
