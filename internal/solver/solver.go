package solver

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

const (
	defaultMaxHops           = 4
	defaultMinProfitLamports = 10_000
	defaultMaxIterations     = 96

	// maxInputAtoms caps route sizing at one billion SOL, far past any
	// fundable amount; keeps float-to-uint64 conversions in range.
	maxInputAtoms = 1e18
)

// Config bounds the route search.
type Config struct {
	// SettlementMint is the token every candidate cycle starts and ends
	// in; profit is denominated in it.
	SettlementMint solana.PublicKey
	// MaxHops caps cycle length. Enumeration cost grows steeply with it.
	MaxHops int
	// MinProfitLamports is the feasibility floor after fees.
	MinProfitLamports int64
	// MaxIterations bounds the input refinement per cycle.
	MaxIterations int
}

// SolveError is the failure result of one solve. Err is one of the domain
// sentinels (ErrInfeasible, ErrNumerical); classify with errors.Is.
type SolveError struct {
	Reason string
	Err    error
}

func (e *SolveError) Error() string { return fmt.Sprintf("solve: %s: %v", e.Reason, e.Err) }
func (e *SolveError) Unwrap() error { return e.Err }

func infeasible(reason string) *SolveError {
	return &SolveError{Reason: reason, Err: domain.ErrInfeasible}
}

func numerical(reason string) *SolveError {
	return &SolveError{Reason: reason, Err: domain.ErrNumerical}
}

// Solver sizes maximum-profit cyclic routes over a pool snapshot.
//
// Pools are quoted as constant-product curves with an input fee;
// concentrated-liquidity pools arrive from the feed already converted to
// virtual reserves around their current sqrt-price, so all DEX kinds
// price through the same curve here.
type Solver struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a solver. Zero config fields fall back to package defaults.
func New(cfg Config, logger *slog.Logger) *Solver {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = defaultMaxHops
	}
	if cfg.MinProfitLamports <= 0 {
		cfg.MinProfitLamports = defaultMinProfitLamports
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	return &Solver{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "solver")),
	}
}

// Solve returns the single best route in the snapshot. It is a pure
// function of the snapshot, so identical snapshots produce identical
// routes. The caller stamps ID and SolvedAt on dispatch.
//
// Returns ErrInfeasible (wrapped) when no cycle clears the profit floor,
// ErrNumerical when degenerate pool data kept every candidate from being
// priced.
func (s *Solver) Solve(snapshot domain.PoolCacheSnapshot) (domain.ArbitrageRoute, error) {
	if snapshot.Len() == 0 {
		return domain.ArbitrageRoute{}, infeasible("empty snapshot")
	}
	graph := newTokenGraph(snapshot.Entries)
	cycles := graph.cycles(s.cfg.SettlementMint, s.cfg.MaxHops)
	if len(cycles) == 0 {
		return domain.ArbitrageRoute{}, infeasible("no cycle through settlement mint")
	}
	s.logger.Debug("sizing candidate cycles",
		slog.Int("pools", snapshot.Len()),
		slog.Int("cycles", len(cycles)),
	)

	var (
		best   domain.ArbitrageRoute
		found  bool
		numErr error
	)
	for _, cyc := range cycles {
		route, err := s.sizeCycle(snapshot.Entries, cyc)
		if err != nil {
			// A degenerate cycle must not hide profitable ones; keep
			// going and surface the numerical failure only if nothing
			// feasible remains.
			if errors.Is(err, domain.ErrNumerical) && numErr == nil {
				numErr = err
			}
			continue
		}
		if route.ProfitAtoms < s.cfg.MinProfitLamports {
			continue
		}
		if !found || betterRoute(route, best) {
			best, found = route, true
		}
	}
	if !found {
		if numErr != nil {
			return domain.ArbitrageRoute{}, numErr
		}
		return domain.ArbitrageRoute{}, infeasible("no cycle clears the profit floor")
	}
	return best, nil
}

// sizeCycle finds the input that maximizes net output over one cycle and
// prices every hop at that input with exact pool rounding.
func (s *Solver) sizeCycle(pools []domain.PoolState, cyc []edge) (domain.ArbitrageRoute, error) {
	composed := identityQuote()
	for _, e := range cyc {
		hop, err := hopQuote(e, pools[e.pool])
		if err != nil {
			return domain.ArbitrageRoute{}, err
		}
		composed = composed.then(hop)
	}
	if !composed.finite() {
		return domain.ArbitrageRoute{}, numerical("composed quote is not finite")
	}
	if composed.marginalRate() <= 1 {
		return domain.ArbitrageRoute{}, infeasible("cycle loses at the margin")
	}

	guess := composed.optimum()
	if math.IsNaN(guess) || math.IsInf(guess, 0) || guess <= 0 {
		return domain.ArbitrageRoute{}, numerical("optimal input is not finite")
	}
	hi := 2 * guess
	if hi > maxInputAtoms {
		hi = maxInputAtoms
	}
	// Refine on the exact integer objective around the analytic optimum;
	// per-hop flooring shifts the true maximum off the float solution.
	net := func(x float64) float64 {
		in := uint64(x)
		if in == 0 {
			return math.Inf(-1)
		}
		return float64(cycleOut(pools, cyc, in)) - float64(in)
	}
	input := uint64(goldenSection(net, 1, hi, s.cfg.MaxIterations))
	if input == 0 {
		input = 1
	}

	hops, out := priceCycle(pools, cyc, input)
	profit := int64(out) - int64(input)
	if profit <= 0 {
		return domain.ArbitrageRoute{}, infeasible("cycle not profitable at size")
	}
	return domain.ArbitrageRoute{
		Hops:           hops,
		SettlementMint: s.cfg.SettlementMint,
		InputAmount:    input,
		ProfitAtoms:    profit,
		MaxSlot:        maxSlot(pools, cyc),
		Status:         domain.RouteFeasible,
	}, nil
}

// betterRoute orders candidates by profit, then hop count, then first-pool
// address, so the winner is reproducible across runs.
func betterRoute(a, b domain.ArbitrageRoute) bool {
	if a.ProfitAtoms != b.ProfitAtoms {
		return a.ProfitAtoms > b.ProfitAtoms
	}
	if len(a.Hops) != len(b.Hops) {
		return len(a.Hops) < len(b.Hops)
	}
	pa, pb := a.Hops[0].Pool, b.Hops[0].Pool
	return bytes.Compare(pa[:], pb[:]) < 0
}

func maxSlot(pools []domain.PoolState, cyc []edge) uint64 {
	var newest uint64
	for _, e := range cyc {
		if slot := pools[e.pool].Slot; slot > newest {
			newest = slot
		}
	}
	return newest
}
