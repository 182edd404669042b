package relayer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	defaultMaxRouteAge    = 30 * time.Second
	defaultProbeLamports  = 1_000
	defaultConfirmTimeout = 45 * time.Second
	drainTimeout          = 5 * time.Second
)

// KeyPool hands out single-use explorer wallets. Implemented by the wallet
// manager.
type KeyPool interface {
	ClaimExplorer() (solana.PublicKey, solana.PrivateKey, error)
	ReleaseExplorer(account solana.PublicKey)
}

// Prober submits and confirms the live-mode probe transaction. Implemented
// by the Solana RPC client.
type Prober interface {
	TransferLamports(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error
}

// Config controls route execution.
type Config struct {
	// Simulate skips network submission and only logs the execution plan.
	// Explorer wallets are still claimed and retired, so the key lifecycle
	// behaves identically in both modes.
	Simulate bool
	// MaxRouteAge drops routes solved too long ago to still be live.
	MaxRouteAge time.Duration
	// ProbeLamports is the size of the live-mode self-transfer probe.
	ProbeLamports  uint64
	ConfirmTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRouteAge <= 0 {
		c.MaxRouteAge = defaultMaxRouteAge
	}
	if c.ProbeLamports == 0 {
		c.ProbeLamports = defaultProbeLamports
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	return c
}

// Relayer reads solved routes from the opportunity channel and executes
// them, one at a time, each on a fresh explorer wallet. A claimed explorer
// is always handed back as used: success, failure, and simulation all
// retire the key.
type Relayer struct {
	routes <-chan domain.ArbitrageRoute
	pool   KeyPool
	chain  Prober
	cfg    Config
	logger *slog.Logger
}

// NewRelayer creates a relayer consuming routes until the channel closes.
func NewRelayer(routes <-chan domain.ArbitrageRoute, pool KeyPool, chain Prober, cfg Config, logger *slog.Logger) *Relayer {
	return &Relayer{
		routes: routes,
		pool:   pool,
		chain:  chain,
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "relayer")),
	}
}

// Run processes routes until the context is cancelled, at which point it
// drains any routes already buffered in the channel and returns. A closed
// channel ends the run cleanly.
func (r *Relayer) Run(ctx context.Context) error {
	r.logger.Info("relayer started",
		slog.Bool("simulate", r.cfg.Simulate),
		slog.Duration("max_route_age", r.cfg.MaxRouteAge),
	)
	defer r.logger.Info("relayer stopped")

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()

		case route, ok := <-r.routes:
			if !ok {
				// Channel closed; shut down.
				return nil
			}
			r.process(ctx, route)
		}
	}
}

// process executes a single route through the claim, submit, retire
// pipeline.
func (r *Relayer) process(ctx context.Context, route domain.ArbitrageRoute) {
	log := r.logger.With(
		slog.String("route_id", route.ID),
		slog.String("path", route.Path()),
		slog.Int("hops", route.HopCount()),
		slog.Int64("profit_atoms", route.ProfitAtoms),
	)

	// 1. Staleness check: reserves have moved on since the solve.
	if age := time.Since(route.SolvedAt); age > r.cfg.MaxRouteAge {
		log.Warn("route expired, skipping",
			slog.Duration("age", age),
		)
		return
	}

	// 2. Claim a single-use explorer wallet.
	account, key, err := r.pool.ClaimExplorer()
	if err != nil {
		log.Warn("no explorer available, dropping route",
			slog.String("error", err.Error()),
		)
		return
	}
	// The key is spent from here on, whatever happens below.
	defer r.pool.ReleaseExplorer(account)

	log = log.With(slog.String("explorer", account.String()))

	// 3. Submit, or log the plan in simulate mode.
	if r.cfg.Simulate {
		log.Info("route simulated",
			slog.Uint64("input_atoms", route.InputAmount),
			slog.Uint64("max_slot", route.MaxSlot),
		)
		return
	}

	if err := r.probe(ctx, key); err != nil {
		log.Error("probe submission failed",
			slog.String("error", err.Error()),
		)
		return
	}

	log.Info("route executed",
		slog.Uint64("input_atoms", route.InputAmount),
	)
}

// probe submits a self-transfer on the explorer key and waits for it to
// confirm, proving the key is live and funded before real instructions
// ride on it.
func (r *Relayer) probe(ctx context.Context, key solana.PrivateKey) error {
	sig, err := r.chain.TransferLamports(ctx, key, key.PublicKey(), r.cfg.ProbeLamports)
	if err != nil {
		return fmt.Errorf("relayer: submit probe: %w", err)
	}
	if err := r.chain.WaitForConfirmation(ctx, sig, r.cfg.ConfirmTimeout); err != nil {
		return fmt.Errorf("relayer: confirm probe: %w", err)
	}
	return nil
}

// drain processes routes already buffered in the channel after context
// cancellation so solved opportunities are not silently dropped.
func (r *Relayer) drain() {
	for {
		select {
		case route, ok := <-r.routes:
			if !ok {
				return
			}
			r.logger.Warn("draining route after shutdown",
				slog.String("route_id", route.ID),
			)
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			r.process(drainCtx, route)
			cancel()
		default:
			return
		}
	}
}
