package feed

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
	platform "github.com/alanyoungcy/solbot/internal/platform/solana"
)

// PoolSpec is the static description of one watched pool. Mints, vaults
// and fee come from configuration; only reserves move at runtime.
type PoolSpec struct {
	Address   solana.PublicKey
	Dex       domain.DexKind
	BaseMint  solana.PublicKey
	QuoteMint solana.PublicKey
	// Vault accounts hold the pool's token balances. Constant-product
	// kinds are watched through their vaults; concentrated kinds are
	// watched through the pool account itself.
	BaseVault  solana.PublicKey
	QuoteVault solana.PublicKey
	FeeBps     uint16
}

// concentrated reports whether reserves are derived from liquidity and
// sqrt-price instead of read from vault balances.
func (s PoolSpec) concentrated() bool {
	return s.Dex == domain.DexOrca || s.Dex == domain.DexRaydiumClmm
}

func (s PoolSpec) validate() error {
	if s.Address.IsZero() {
		return fmt.Errorf("feed: pool address missing")
	}
	if !s.Dex.Valid() {
		return fmt.Errorf("feed: pool %s: unknown dex kind %q", s.Address, s.Dex)
	}
	if s.BaseMint.IsZero() || s.QuoteMint.IsZero() {
		return fmt.Errorf("feed: pool %s: mint missing", s.Address)
	}
	if s.BaseMint.Equals(s.QuoteMint) {
		return fmt.Errorf("feed: pool %s: base and quote mint are the same", s.Address)
	}
	if !s.concentrated() {
		if s.BaseVault.IsZero() || s.QuoteVault.IsZero() {
			return fmt.Errorf("feed: pool %s: vault missing", s.Address)
		}
		if s.BaseVault.Equals(s.QuoteVault) {
			return fmt.Errorf("feed: pool %s: base and quote vault are the same", s.Address)
		}
	}
	return nil
}

// AccountStream is the subscription surface of the WebSocket client.
type AccountStream interface {
	Connect(ctx context.Context) error
	SubscribeAccounts(ctx context.Context, accounts ...solana.PublicKey) error
	OnAccountUpdate(handler platform.AccountUpdateHandler)
	Close() error
}

type poolSide int

const (
	sideBase poolSide = iota
	sideQuote
	sidePoolState
)

// watchTarget maps a subscribed account back to the pool and role it
// reports on.
type watchTarget struct {
	pool solana.PublicKey
	side poolSide
}

// poolAssembly accumulates per-side vault observations until both sides of
// a pool have been seen at least once.
type poolAssembly struct {
	spec PoolSpec

	baseReserve  uint64
	quoteReserve uint64
	baseSlot     uint64
	quoteSlot    uint64
	haveBase     bool
	haveQuote    bool
}

// PoolFeed turns raw account notifications into PoolState updates. It is
// the only cache writer: every decoded update lands in the pool cache,
// where the slot gate discards stale and duplicate arrivals.
type PoolFeed struct {
	stream AccountStream
	cache  domain.PoolCache
	logger *slog.Logger

	mu    sync.Mutex
	pools map[solana.PublicKey]*poolAssembly
	watch map[solana.PublicKey]watchTarget
}

// NewPoolFeed validates the pool set, indexes the accounts to watch, and
// registers the update handler on the stream.
func NewPoolFeed(stream AccountStream, cache domain.PoolCache, specs []PoolSpec, logger *slog.Logger) (*PoolFeed, error) {
	f := &PoolFeed{
		stream: stream,
		cache:  cache,
		logger: logger.With(slog.String("component", "feed")),
		pools:  make(map[solana.PublicKey]*poolAssembly, len(specs)),
		watch:  make(map[solana.PublicKey]watchTarget),
	}

	watch := func(account solana.PublicKey, target watchTarget) error {
		if prev, ok := f.watch[account]; ok {
			return fmt.Errorf("feed: account %s watched by pools %s and %s", account, prev.pool, target.pool)
		}
		f.watch[account] = target
		return nil
	}

	for _, spec := range specs {
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, ok := f.pools[spec.Address]; ok {
			return nil, fmt.Errorf("feed: pool %s configured twice", spec.Address)
		}
		f.pools[spec.Address] = &poolAssembly{spec: spec}

		if spec.concentrated() {
			if err := watch(spec.Address, watchTarget{pool: spec.Address, side: sidePoolState}); err != nil {
				return nil, err
			}
			continue
		}
		if err := watch(spec.BaseVault, watchTarget{pool: spec.Address, side: sideBase}); err != nil {
			return nil, err
		}
		if err := watch(spec.QuoteVault, watchTarget{pool: spec.Address, side: sideQuote}); err != nil {
			return nil, err
		}
	}

	stream.OnAccountUpdate(f.handleUpdate)
	return f, nil
}

// Run connects the stream, subscribes the watched accounts, and blocks
// until ctx is cancelled. Reconnection and subscription restore are the
// stream's responsibility.
func (f *PoolFeed) Run(ctx context.Context) error {
	if err := f.stream.Connect(ctx); err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer f.stream.Close()

	if err := f.stream.SubscribeAccounts(ctx, f.watchedAccounts()...); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}

	f.logger.Info("pool feed started",
		slog.Int("pools", len(f.pools)),
		slog.Int("accounts", len(f.watch)),
	)

	<-ctx.Done()
	f.logger.Info("pool feed stopped")
	return ctx.Err()
}

// watchedAccounts returns the subscription set in address order.
func (f *PoolFeed) watchedAccounts() []solana.PublicKey {
	f.mu.Lock()
	defer f.mu.Unlock()

	accounts := make([]solana.PublicKey, 0, len(f.watch))
	for account := range f.watch {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i][:], accounts[j][:]) < 0
	})
	return accounts
}

// handleUpdate decodes one account notification and publishes the pool it
// belongs to once both sides are known. Decode failures are logged and
// skipped; the feed never stops over one bad account payload.
func (f *PoolFeed) handleUpdate(u platform.AccountUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target, ok := f.watch[u.Account]
	if !ok {
		return
	}
	asm := f.pools[target.pool]

	switch target.side {
	case sidePoolState:
		liquidity, sqrtPrice, err := parseConcentratedState(asm.spec.Dex, u.Data)
		if err != nil {
			f.logger.Warn("pool account decode failed",
				slog.String("pool", target.pool.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		base, quote, err := virtualReserves(liquidity, sqrtPrice)
		if err != nil {
			f.logger.Warn("virtual reserve derivation failed",
				slog.String("pool", target.pool.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		asm.baseReserve, asm.quoteReserve = base, quote
		asm.baseSlot, asm.quoteSlot = u.Slot, u.Slot
		asm.haveBase, asm.haveQuote = true, true

	case sideBase:
		amount, err := parseTokenAmount(u.Data)
		if err != nil {
			f.logger.Warn("vault decode failed",
				slog.String("pool", target.pool.String()),
				slog.String("vault", u.Account.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		asm.baseReserve, asm.baseSlot, asm.haveBase = amount, u.Slot, true

	case sideQuote:
		amount, err := parseTokenAmount(u.Data)
		if err != nil {
			f.logger.Warn("vault decode failed",
				slog.String("pool", target.pool.String()),
				slog.String("vault", u.Account.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		asm.quoteReserve, asm.quoteSlot, asm.haveQuote = amount, u.Slot, true
	}

	if asm.haveBase && asm.haveQuote {
		f.publish(asm)
	}
}

// publish upserts the assembled pool state. The state's slot is the newest
// of the two sides, so a pool never reports older than its freshest vault.
func (f *PoolFeed) publish(asm *poolAssembly) {
	slot := asm.baseSlot
	if asm.quoteSlot > slot {
		slot = asm.quoteSlot
	}

	f.cache.Upsert(asm.spec.Address, domain.PoolState{
		Address:      asm.spec.Address,
		Dex:          asm.spec.Dex,
		BaseMint:     asm.spec.BaseMint,
		QuoteMint:    asm.spec.QuoteMint,
		BaseReserve:  asm.baseReserve,
		QuoteReserve: asm.quoteReserve,
		FeeBps:       asm.spec.FeeBps,
		Slot:         slot,
		ObservedAt:   time.Now().UTC(),
	})

	f.logger.Debug("pool state published",
		slog.String("pool", asm.spec.Address.String()),
		slog.Uint64("base_reserve", asm.baseReserve),
		slog.Uint64("quote_reserve", asm.quoteReserve),
		slog.Uint64("slot", slot),
	)
}
