package dispatch

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	defaultCapacity    = 16
	defaultSendTimeout = 250 * time.Millisecond
)

// Queue is the bounded FIFO hand-off between the scheduler (single
// producer) and the relayer (single consumer). Routes come out in the
// order they went in.
//
// A full queue never blocks the trading tick indefinitely: Send waits at
// most the configured timeout, then drops the route. A stale opportunity
// is worth less than nothing once its pools have moved on.
type Queue struct {
	routes      chan domain.ArbitrageRoute
	done        chan struct{}
	closeOnce   sync.Once
	sendTimeout time.Duration
	dropped     atomic.Uint64
	logger      *slog.Logger
}

// Config sizes the queue.
type Config struct {
	// Capacity is the number of undelivered routes the queue holds.
	Capacity int
	// SendTimeout bounds how long Send waits on a full queue.
	SendTimeout time.Duration
}

// NewQueue builds the queue. Zero config fields fall back to defaults.
func NewQueue(cfg Config, logger *slog.Logger) *Queue {
	if cfg.Capacity <= 0 {
		cfg.Capacity = defaultCapacity
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	return &Queue{
		routes:      make(chan domain.ArbitrageRoute, cfg.Capacity),
		done:        make(chan struct{}),
		sendTimeout: cfg.SendTimeout,
		logger:      logger.With(slog.String("component", "dispatch")),
	}
}

// Send enqueues a route, waiting up to the send timeout for space. On
// timeout the route is dropped and ErrQueueFull returned; callers treat
// that as a lost tick, not a fault. Send must not be called after Close.
func (q *Queue) Send(route domain.ArbitrageRoute) error {
	select {
	case <-q.done:
		return domain.ErrQueueClosed
	default:
	}

	timer := time.NewTimer(q.sendTimeout)
	defer timer.Stop()

	select {
	case q.routes <- route:
		return nil
	case <-q.done:
		return domain.ErrQueueClosed
	case <-timer.C:
		q.dropped.Add(1)
		q.logger.Warn("queue full, dropping route",
			slog.String("route_id", route.ID),
			slog.Int64("profit_atoms", route.ProfitAtoms),
			slog.Uint64("dropped_total", q.dropped.Load()),
		)
		return domain.ErrQueueFull
	}
}

// Receive returns the consumer side. The channel closes after Close once
// the producer is done; consumers drain whatever was already delivered.
func (q *Queue) Receive() <-chan domain.ArbitrageRoute {
	return q.routes
}

// Close ends the queue. Only the producer may call it, and only after its
// final Send has returned; delivered routes remain readable. Safe to call
// more than once.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
		close(q.routes)
	})
}

// Len reports the number of undelivered routes.
func (q *Queue) Len() int { return len(q.routes) }

// Dropped reports how many routes were discarded on a full queue.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
