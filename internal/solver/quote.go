package solver

import (
	"math"
	"math/big"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// bpsDenominator is the basis-point scale pool fees are quoted in.
const bpsDenominator = 10_000

// mobius holds the parameters of a swap function f(x) = a*x / (b + c*x).
// A constant-product pool with an input fee is linear-fractional in the
// input amount, and linear-fractional functions are closed under
// composition, so an entire cycle collapses to three parameters.
type mobius struct {
	a, b, c float64
}

// identityQuote is the neutral element of composition: f(x) = x.
func identityQuote() mobius { return mobius{a: 1, b: 1, c: 0} }

// then returns the composition g(f(x)).
func (f mobius) then(g mobius) mobius {
	return mobius{
		a: f.a * g.a,
		b: f.b * g.b,
		c: f.c*g.b + f.a*g.c,
	}
}

// eval returns f(x).
func (f mobius) eval(x float64) float64 { return f.a * x / (f.b + f.c*x) }

// marginalRate is f'(0), the output per unit input for an infinitesimal
// trade. A cycle is worth sizing only when this exceeds 1.
func (f mobius) marginalRate() float64 { return f.a / f.b }

// optimum returns the input maximizing f(x) - x, from the first-order
// condition a*b = (b + c*x)^2.
func (f mobius) optimum() float64 {
	if f.c == 0 {
		return math.Inf(1)
	}
	return (math.Sqrt(f.a*f.b) - f.b) / f.c
}

func (f mobius) finite() bool {
	for _, v := range [...]float64{f.a, f.b, f.c} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// hopQuote returns the float swap function of one hop,
// f(x) = outR*phi*x / (inR + phi*x), phi being the fee complement. Pools
// quoting a fee at or above the full notional cannot be priced.
func hopQuote(e edge, p domain.PoolState) (mobius, error) {
	if p.FeeBps >= bpsDenominator {
		return mobius{}, numerical("pool " + p.Address.String() + " fee consumes the full notional")
	}
	in, out := e.reserves(p)
	phi := float64(bpsDenominator-int(p.FeeBps)) / bpsDenominator
	return mobius{a: float64(out) * phi, b: float64(in), c: phi}, nil
}

// goldenSection maximizes net over [lo, hi] with a fixed evaluation
// budget. net is concave up to integer flooring on this bracket, so the
// bracket shrinks geometrically; the budget bounds per-cycle solve time.
func goldenSection(net func(float64) float64, lo, hi float64, iterations int) float64 {
	const invPhi = 0.6180339887498949
	x1 := hi - invPhi*(hi-lo)
	x2 := lo + invPhi*(hi-lo)
	f1, f2 := net(x1), net(x2)
	for i := 0; i < iterations && hi-lo > 1; i++ {
		if f1 >= f2 {
			hi, x2, f2 = x2, x1, f1
			x1 = hi - invPhi*(hi-lo)
			f1 = net(x1)
		} else {
			lo, x1, f1 = x1, x2, f2
			x2 = lo + invPhi*(hi-lo)
			f2 = net(x2)
		}
	}
	return (lo + hi) / 2
}

// swapOut prices one hop with exact pool rounding:
// floor(outR*xe / (inR*10000 + xe)), xe = x*(10000-fee). The 64-bit
// reserve products overflow uint64, hence big.Int.
func swapOut(x, inReserve, outReserve uint64, feeBps uint16) uint64 {
	if x == 0 || inReserve == 0 || outReserve == 0 || feeBps >= bpsDenominator {
		return 0
	}
	xe := new(big.Int).Mul(new(big.Int).SetUint64(x), big.NewInt(int64(bpsDenominator-feeBps)))
	den := new(big.Int).Mul(new(big.Int).SetUint64(inReserve), big.NewInt(bpsDenominator))
	den.Add(den, xe)
	out := new(big.Int).Mul(new(big.Int).SetUint64(outReserve), xe)
	out.Quo(out, den)
	return out.Uint64()
}

// cycleOut runs the integer quote chain over a cycle and returns the
// final output for input x.
func cycleOut(pools []domain.PoolState, cyc []edge, x uint64) uint64 {
	amt := x
	for _, e := range cyc {
		in, out := e.reserves(pools[e.pool])
		amt = swapOut(amt, in, out, pools[e.pool].FeeBps)
		if amt == 0 {
			return 0
		}
	}
	return amt
}

// priceCycle rebuilds the per-hop amounts at the chosen input.
func priceCycle(pools []domain.PoolState, cyc []edge, x uint64) ([]domain.RouteHop, uint64) {
	hops := make([]domain.RouteHop, 0, len(cyc))
	amt := x
	for _, e := range cyc {
		p := pools[e.pool]
		in, out := e.reserves(p)
		got := swapOut(amt, in, out, p.FeeBps)
		hops = append(hops, domain.RouteHop{
			Pool:       p.Address,
			Dex:        p.Dex,
			InputMint:  e.inMint(p),
			OutputMint: e.outMint(p),
			AmountIn:   amt,
			AmountOut:  got,
			FeeBps:     p.FeeBps,
		})
		amt = got
	}
	return hops, amt
}
