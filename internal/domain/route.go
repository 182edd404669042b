package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// RouteStatus tags the solver's verdict on a route.
type RouteStatus string

const (
	RouteFeasible   RouteStatus = "feasible"
	RouteInfeasible RouteStatus = "infeasible"
	RouteDegenerate RouteStatus = "degenerate"
)

// RouteHop is one pool traversal within an arbitrage route.
type RouteHop struct {
	Pool       solana.PublicKey
	Dex        DexKind
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	AmountIn   uint64
	AmountOut  uint64
	FeeBps     uint16
}

// ArbitrageRoute is a cyclic trade returning to the settlement mint. The
// solver produces it without ID or timestamps so that identical snapshots
// yield identical routes; the scheduler stamps ID and SolvedAt on dispatch.
type ArbitrageRoute struct {
	ID             string
	Hops           []RouteHop
	SettlementMint solana.PublicKey
	InputAmount    uint64 // settlement atoms tendered into the first hop
	ProfitAtoms    int64  // net settlement atoms received after the cycle
	MaxSlot        uint64 // newest pool observation backing the route
	Status         RouteStatus
	SolvedAt       time.Time
}

// HopCount returns the number of pool traversals in the route.
func (r ArbitrageRoute) HopCount() int { return len(r.Hops) }

// Path renders the route's mint path for logging, e.g. "So11>EPjF>4k3D>So11".
func (r ArbitrageRoute) Path() string {
	if len(r.Hops) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(shortKey(r.Hops[0].InputMint))
	for _, h := range r.Hops {
		b.WriteByte('>')
		b.WriteString(shortKey(h.OutputMint))
	}
	return b.String()
}

// shortKey abbreviates a public key to its first four base58 characters.
func shortKey(pk solana.PublicKey) string {
	s := pk.String()
	if len(s) > 4 {
		return s[:4]
	}
	return s
}

// String returns a compact human-readable summary.
func (r ArbitrageRoute) String() string {
	return fmt.Sprintf("route(%s hops=%d in=%d profit=%d)", r.Status, len(r.Hops), r.InputAmount, r.ProfitAtoms)
}
