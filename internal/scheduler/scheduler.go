package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// State is the scheduler's position in its tick cycle.
type State string

const (
	StateIdle        State = "idle"
	StateSolving     State = "solving"
	StateDispatching State = "dispatching"
	StateBackoff     State = "backoff"
)

const (
	defaultTickInterval = 60 * time.Second
	defaultBackoffBase  = 5 * time.Second
	backoffCapFactor    = 4
)

// Solver is invoked once per trading tick with a fresh cache snapshot.
type Solver interface {
	Solve(snapshot domain.PoolCacheSnapshot) (domain.ArbitrageRoute, error)
}

// Dispatcher is the producer half of the opportunity channel. The
// scheduler owns it: it is the only sender and closes it on shutdown.
type Dispatcher interface {
	Send(route domain.ArbitrageRoute) error
	Close()
}

// Config times the trading tick.
type Config struct {
	// TickInterval separates solver invocations.
	TickInterval time.Duration
	// BackoffBase is the first delay after a failed tick; it doubles per
	// consecutive failure up to BackoffCap and resets on a healthy tick.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// tickOutcome summarizes one tick for the run loop.
type tickOutcome int

const (
	outcomeDispatched tickOutcome = iota
	outcomeIdle
	outcomeAbandoned
	outcomeBackoff
	outcomeClosed
)

// Scheduler drives the trading tick: snapshot the cache, solve, hand any
// feasible route to the opportunity channel. A single tick's failure
// never stops the loop; persistent failures pace themselves through the
// Backoff state instead of thrashing.
type Scheduler struct {
	cfg    Config
	cache  domain.PoolCache
	solver Solver
	queue  Dispatcher
	logger *slog.Logger

	state   State
	backoff time.Duration

	// onTransition, when set, observes every state change.
	onTransition func(from, to State)
}

// New creates a scheduler. Zero config fields fall back to defaults.
func New(cfg Config, cache domain.PoolCache, solver Solver, queue Dispatcher, logger *slog.Logger) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = backoffCapFactor * cfg.BackoffBase
	}
	return &Scheduler{
		cfg:     cfg,
		cache:   cache,
		solver:  solver,
		queue:   queue,
		logger:  logger.With(slog.String("component", "scheduler")),
		state:   StateIdle,
		backoff: cfg.BackoffBase,
	}
}

// Run executes trading ticks until ctx is cancelled. The first tick fires
// immediately so a restarted process does not sit idle for a full
// interval. On return the opportunity channel is closed so the consumer
// can drain and exit.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Duration("backoff_base", s.cfg.BackoffBase),
		slog.Duration("backoff_cap", s.cfg.BackoffCap),
	)
	defer s.logger.Info("scheduler stopped")
	defer s.queue.Close()

	if done, err := s.step(ctx); done {
		return err
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if done, err := s.step(ctx); done {
				return err
			}
		}
	}
}

// step runs one tick and absorbs its outcome: healthy ticks reset the
// backoff, failed ticks escalate it and wait it out before the loop
// resumes. done is true only on shutdown.
func (s *Scheduler) step(ctx context.Context) (done bool, err error) {
	tickID := uuid.New().String()
	switch s.tick(ctx, tickID) {
	case outcomeDispatched, outcomeIdle:
		s.backoff = s.cfg.BackoffBase
	case outcomeAbandoned:
		// Channel congestion is the consumer's pace, not a solver fault;
		// neither reset nor escalate.
	case outcomeClosed:
		return true, nil
	case outcomeBackoff:
		delay := s.backoff
		s.backoff = min(2*s.backoff, s.cfg.BackoffCap)
		s.logger.Warn("tick failed, backing off",
			slog.String("tick_id", tickID),
			slog.Duration("delay", delay),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return true, ctx.Err()
		case <-timer.C:
		}
		s.transition(tickID, StateIdle)
	}
	return false, nil
}

// tick runs one pass of the state machine. It never returns an error:
// every failure maps to a state so the loop survives it.
func (s *Scheduler) tick(ctx context.Context, tickID string) tickOutcome {
	s.transition(tickID, StateSolving)

	snapshot, err := s.cache.Snapshot()
	if err != nil {
		s.logger.Warn("cache snapshot failed",
			slog.String("tick_id", tickID),
			slog.String("error", err.Error()),
		)
		s.transition(tickID, StateBackoff)
		return outcomeBackoff
	}

	route, err := s.solver.Solve(snapshot)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInfeasible):
		// Expected on most ticks; markets are rarely out of line.
		s.logger.Debug("no profitable route",
			slog.String("tick_id", tickID),
			slog.Int("pools", snapshot.Len()),
		)
		s.transition(tickID, StateIdle)
		return outcomeIdle
	default:
		s.logger.Warn("solve failed",
			slog.String("tick_id", tickID),
			slog.Int("pools", snapshot.Len()),
			slog.String("error", err.Error()),
		)
		s.transition(tickID, StateBackoff)
		return outcomeBackoff
	}

	route.ID = tickID
	route.SolvedAt = time.Now().UTC()
	s.transition(tickID, StateDispatching)

	err = s.queue.Send(route)
	s.transition(tickID, StateIdle)
	switch {
	case err == nil:
		s.logger.Info("route dispatched",
			slog.String("tick_id", tickID),
			slog.String("path", route.Path()),
			slog.Int("hops", route.HopCount()),
			slog.Uint64("input_atoms", route.InputAmount),
			slog.Int64("profit_atoms", route.ProfitAtoms),
			slog.Uint64("max_slot", route.MaxSlot),
		)
		return outcomeDispatched
	case errors.Is(err, domain.ErrQueueClosed):
		s.logger.Info("opportunity channel closed, stopping",
			slog.String("tick_id", tickID),
		)
		return outcomeClosed
	default:
		// Queue full: the route is stale by the next tick, drop it here
		// and let the tick end. The next one proceeds independently.
		s.logger.Warn("dispatch failed, tick abandoned",
			slog.String("tick_id", tickID),
			slog.String("error", err.Error()),
		)
		return outcomeAbandoned
	}
}

// transition moves the state machine and emits the audit event.
func (s *Scheduler) transition(tickID string, to State) {
	from := s.state
	s.state = to
	if s.onTransition != nil {
		s.onTransition(from, to)
	}
	s.logger.Debug("state transition",
		slog.String("tick_id", tickID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
}
