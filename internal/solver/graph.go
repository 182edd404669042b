package solver

import (
	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// edge is one tradable direction through a pool. pool indexes the
// snapshot entry; baseToQuote selects which side is paid in.
type edge struct {
	pool        int
	baseToQuote bool
}

func (e edge) inMint(p domain.PoolState) solana.PublicKey {
	if e.baseToQuote {
		return p.BaseMint
	}
	return p.QuoteMint
}

func (e edge) outMint(p domain.PoolState) solana.PublicKey {
	if e.baseToQuote {
		return p.QuoteMint
	}
	return p.BaseMint
}

func (e edge) reserves(p domain.PoolState) (in, out uint64) {
	if e.baseToQuote {
		return p.BaseReserve, p.QuoteReserve
	}
	return p.QuoteReserve, p.BaseReserve
}

// tokenGraph indexes snapshot pools by input mint. Adjacency lists keep
// snapshot order, which is sorted by pool address, so traversal order is
// a pure function of the snapshot.
type tokenGraph struct {
	pools []domain.PoolState
	adj   map[solana.PublicKey][]edge
}

func newTokenGraph(entries []domain.PoolState) *tokenGraph {
	g := &tokenGraph{pools: entries, adj: make(map[solana.PublicKey][]edge, len(entries)*2)}
	for i, p := range entries {
		if p.BaseReserve == 0 || p.QuoteReserve == 0 {
			continue // drained pool quotes nothing
		}
		if p.BaseMint.Equals(p.QuoteMint) {
			continue
		}
		g.adj[p.BaseMint] = append(g.adj[p.BaseMint], edge{pool: i, baseToQuote: true})
		g.adj[p.QuoteMint] = append(g.adj[p.QuoteMint], edge{pool: i, baseToQuote: false})
	}
	return g
}

// cycles enumerates simple cycles that start and end at origin, visiting
// each pool and each intermediate mint at most once, up to maxHops hops.
// Enumeration order is deterministic because adjacency lists are.
func (g *tokenGraph) cycles(origin solana.PublicKey, maxHops int) [][]edge {
	var (
		found    [][]edge
		path     []edge
		usedPool = make(map[int]bool)
		seen     = make(map[solana.PublicKey]bool)
	)
	var walk func(from solana.PublicKey)
	walk = func(from solana.PublicKey) {
		for _, e := range g.adj[from] {
			if usedPool[e.pool] {
				continue
			}
			next := e.outMint(g.pools[e.pool])
			if next.Equals(origin) {
				if len(path) >= 1 {
					cyc := make([]edge, len(path)+1)
					copy(cyc, path)
					cyc[len(path)] = e
					found = append(found, cyc)
				}
				continue
			}
			if len(path)+1 >= maxHops || seen[next] {
				continue
			}
			usedPool[e.pool] = true
			seen[next] = true
			path = append(path, e)
			walk(next)
			path = path[:len(path)-1]
			delete(seen, next)
			delete(usedPool, e.pool)
		}
	}
	seen[origin] = true
	walk(origin)
	return found
}
