package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// DexKind identifies the protocol a liquidity pool belongs to. The kind
// selects the quote function used when pricing a hop through the pool.
type DexKind string

const (
	DexRaydium     DexKind = "raydium"
	DexRaydiumCpmm DexKind = "raydium-cpmm"
	DexRaydiumClmm DexKind = "raydium-clmm"
	DexOrca        DexKind = "orca"
)

// Valid reports whether k is one of the supported DEX kinds.
func (k DexKind) Valid() bool {
	switch k {
	case DexRaydium, DexRaydiumCpmm, DexRaydiumClmm, DexOrca:
		return true
	}
	return false
}

// PoolState is the last observed state of a single on-chain liquidity pool.
// Reserves are token atoms. For concentrated-liquidity pools the feed stores
// virtual reserves derived around the current price, so a single
// constant-product quote applies locally to every kind.
type PoolState struct {
	Address      solana.PublicKey
	Dex          DexKind
	BaseMint     solana.PublicKey
	QuoteMint    solana.PublicKey
	BaseReserve  uint64
	QuoteReserve uint64
	FeeBps       uint16
	Slot         uint64 // sequence number, monotonically non-decreasing per address
	ObservedAt   time.Time
}

// PoolCacheSnapshot is an immutable point-in-time copy of the pool cache,
// ordered by pool address ascending. It is owned by the solver invocation
// that requested it and is never mutated after creation.
type PoolCacheSnapshot struct {
	TakenAt time.Time
	Entries []PoolState
}

// Len returns the number of pools in the snapshot.
func (s PoolCacheSnapshot) Len() int { return len(s.Entries) }
