package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	// solveWarmup bounds how long solve mode waits for the full pool set
	// before solving over whatever has been observed so far.
	solveWarmup = 30 * time.Second

	// solvePollEvery spaces the cache fill checks during warmup.
	solvePollEvery = 250 * time.Millisecond
)

// RunMode starts the full pipeline: pool feed, trading scheduler, wallet
// rebalancing loop, and the route relayer. It blocks until the context is
// cancelled or one subsystem fails hard, whichever comes first.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode",
		slog.Int("pools", len(a.cfg.Pools)),
		slog.Bool("simulate", a.cfg.Relayer.Simulate),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Feed.Run(ctx)
	})

	// The scheduler owns the opportunity queue: it closes the channel on
	// exit so the relayer drains and stops.
	g.Go(func() error {
		return deps.Scheduler.Run(ctx)
	})

	g.Go(func() error {
		return deps.Wallet.Run(ctx)
	})

	g.Go(func() error {
		return deps.Relayer.Run(ctx)
	})

	return g.Wait()
}

// SolveMode runs the pipeline once: observe the configured pools, solve for
// the best route over one snapshot, print the result, and exit. No key
// material is loaded and no funds move.
func (a *App) SolveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting solve mode",
		slog.Int("pools", len(a.cfg.Pools)),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := deps.Feed.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		defer cancel()
		return a.solveOnce(ctx, deps, os.Stdout)
	})

	return g.Wait()
}

// solveOnce waits for pool observations, solves over one snapshot, and
// writes the outcome to w. An infeasible market is a normal result, not an
// error.
func (a *App) solveOnce(ctx context.Context, deps *Dependencies, w io.Writer) error {
	warmup := time.NewTimer(solveWarmup)
	defer warmup.Stop()
	poll := time.NewTicker(solvePollEvery)
	defer poll.Stop()

wait:
	for deps.Cache.Len() < len(a.cfg.Pools) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-warmup.C:
			a.logger.WarnContext(ctx, "solve mode: warmup expired before all pools reported",
				slog.Int("observed", deps.Cache.Len()),
				slog.Int("configured", len(a.cfg.Pools)),
			)
			break wait
		case <-poll.C:
		}
	}

	if deps.Cache.Len() == 0 {
		return fmt.Errorf("app: no pool observations within %s warmup: %w",
			solveWarmup, domain.ErrEmptySnapshot)
	}
	snapshot, err := deps.Cache.Snapshot()
	if err != nil {
		return fmt.Errorf("app: snapshot: %w", err)
	}

	route, err := deps.Solver.Solve(snapshot)
	switch {
	case err == nil:
		out, merr := json.MarshalIndent(route, "", "  ")
		if merr != nil {
			return fmt.Errorf("app: encode route: %w", merr)
		}
		fmt.Fprintln(w, string(out))
		return nil
	case errors.Is(err, domain.ErrInfeasible), errors.Is(err, domain.ErrNumerical):
		fmt.Fprintf(w, "no profitable route across %d pools: %v\n", snapshot.Len(), err)
		return nil
	default:
		return fmt.Errorf("app: solve: %w", err)
	}
}
