package wallet

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
)

const (
	defaultRebalanceInterval = 60 * time.Second
	defaultExplorerTarget    = 5
	defaultCreateBatch       = 3
	defaultExplorerFund      = 10_000_000  // 0.01 SOL per explorer
	defaultBankTarget        = 100_000_000 // 0.1 SOL working capital
	defaultBankMin           = 50_000_000  // top up below 0.05 SOL
	defaultDust              = 10_000
	defaultFeeReserve        = 5_000
	defaultConfirmTimeout    = 45 * time.Second
)

// ChainClient is the on-chain surface the manager needs: balances and
// awaited lamport transfers.
type ChainClient interface {
	Balance(ctx context.Context, account solana.PublicKey) (uint64, error)
	TransferLamports(ctx context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error
}

// Config holds the rebalancing thresholds. All amounts are lamports.
type Config struct {
	RebalanceInterval time.Duration
	// ExplorerTarget is the desired number of active explorer keys;
	// CreateBatch caps how many are created per tick.
	ExplorerTarget int
	CreateBatch    int
	// ExplorerFundLamports is moved from a bank to each new explorer.
	ExplorerFundLamports uint64
	// Banks are topped up to BankTargetLamports whenever they fall below
	// BankMinLamports.
	BankTargetLamports uint64
	BankMinLamports    uint64
	// DustLamports is the smallest sweep worth paying a fee for.
	DustLamports uint64
	// FeeReserveLamports is left behind on every transfer to cover the
	// transaction fee.
	FeeReserveLamports uint64
	ConfirmTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.RebalanceInterval <= 0 {
		c.RebalanceInterval = defaultRebalanceInterval
	}
	if c.ExplorerTarget <= 0 {
		c.ExplorerTarget = defaultExplorerTarget
	}
	if c.CreateBatch <= 0 {
		c.CreateBatch = defaultCreateBatch
	}
	if c.ExplorerFundLamports == 0 {
		c.ExplorerFundLamports = defaultExplorerFund
	}
	if c.BankTargetLamports == 0 {
		c.BankTargetLamports = defaultBankTarget
	}
	if c.BankMinLamports == 0 {
		c.BankMinLamports = defaultBankMin
	}
	if c.DustLamports == 0 {
		c.DustLamports = defaultDust
	}
	if c.FeeReserveLamports == 0 {
		c.FeeReserveLamports = defaultFeeReserve
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = defaultConfirmTimeout
	}
	return c
}

// Manager owns the HODL / Bank / Explorer key hierarchy. HODL and Bank
// key material arrives through Initialize from the runtime secret source
// and lives only in process memory; Explorer keypairs are generated here
// and discarded once retired. Funds only ever move along the hierarchy:
// HODL tops up Banks, Banks fund Explorers, Explorers sweep back to the
// Bank that funded them.
type Manager struct {
	cfg    Config
	chain  ChainClient
	logger *slog.Logger

	// rebalanceMu gives ticks exclusivity: a tick that fires while the
	// previous one is still transferring is skipped, not queued.
	rebalanceMu sync.Mutex

	mu        sync.Mutex
	hodl      []*domain.WalletRecord
	banks     []*domain.WalletRecord
	explorers map[solana.PublicKey]*domain.WalletRecord
	keys      map[solana.PublicKey]solana.PrivateKey
	ready     []solana.PublicKey // FIFO of fundable, unclaimed explorers
	claimed   map[solana.PublicKey]bool

	feesPaid      uint64
	dustAbandoned uint64
}

// NewManager creates an empty manager; call Initialize before Run.
func NewManager(cfg Config, chain ChainClient, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:       cfg.withDefaults(),
		chain:     chain,
		logger:    logger.With(slog.String("component", "wallet")),
		explorers: make(map[solana.PublicKey]*domain.WalletRecord),
		keys:      make(map[solana.PublicKey]solana.PrivateKey),
		claimed:   make(map[solana.PublicKey]bool),
	}
}

// Initialize loads the HODL and Bank key material and establishes the
// initial record set. It performs no network calls; a missing tier is
// fatal to startup.
func (m *Manager) Initialize(hodlKeys, bankKeys []solana.PrivateKey) error {
	if len(hodlKeys) == 0 {
		return fmt.Errorf("wallet: no hodl keys provided: %w", domain.ErrKeysMissing)
	}
	if len(bankKeys) == 0 {
		return fmt.Errorf("wallet: no bank keys provided: %w", domain.ErrKeysMissing)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, key := range hodlKeys {
		pk := key.PublicKey()
		m.hodl = append(m.hodl, &domain.WalletRecord{
			PublicKey: pk,
			Tier:      domain.TierHodl,
			Status:    domain.WalletActive,
			CreatedAt: now,
		})
		m.keys[pk] = key
	}
	for _, key := range bankKeys {
		pk := key.PublicKey()
		m.banks = append(m.banks, &domain.WalletRecord{
			PublicKey: pk,
			Tier:      domain.TierBank,
			Status:    domain.WalletActive,
			CreatedAt: now,
		})
		m.keys[pk] = key
	}

	m.logger.Info("custody initialized",
		slog.Int("hodl_keys", len(m.hodl)),
		slog.Int("bank_keys", len(m.banks)),
	)
	return nil
}

// Run executes wallet ticks until ctx is cancelled. Tick failures are
// logged and retried on the next interval; only cancellation ends the
// loop.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.Info("wallet manager started",
		slog.Duration("rebalance_interval", m.cfg.RebalanceInterval),
		slog.Int("explorer_target", m.cfg.ExplorerTarget),
	)
	defer m.logger.Info("wallet manager stopped")

	if err := m.Rebalance(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}

	ticker := time.NewTicker(m.cfg.RebalanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Rebalance(ctx); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// Rebalance performs one wallet tick: sweep retiring explorers, top up
// thin banks, fund new explorers. Steps are independently fallible; the
// first failure ends the tick early and the next tick retries. Only one
// rebalance runs at a time; an overlapping call is skipped.
func (m *Manager) Rebalance(ctx context.Context) error {
	if !m.rebalanceMu.TryLock() {
		m.logger.Info("rebalance already running, tick skipped")
		return domain.ErrRebalanceBusy
	}
	defer m.rebalanceMu.Unlock()

	// 1. Sweep retiring explorers back to their funding banks.
	if err := m.sweepRetiring(ctx); err != nil {
		m.logger.Warn("sweep step failed, ending tick",
			slog.String("error", err.Error()),
		)
		return err
	}

	// 2. Top up banks that dropped below minimum working capital.
	if err := m.topUpBanks(ctx); err != nil {
		m.logger.Warn("bank top-up step failed, ending tick",
			slog.String("error", err.Error()),
		)
		return err
	}

	// 3. Create and fund explorers up to the concurrency target.
	if err := m.spawnExplorers(ctx); err != nil {
		m.logger.Warn("explorer funding step failed, ending tick",
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// sweepRetiring returns every retiring explorer's balance (minus the fee
// reserve) to the bank that funded it and marks the record retired.
// Remainders below the dust threshold are abandoned rather than swept at
// a loss. A failed sweep leaves the record retiring for the next tick.
func (m *Manager) sweepRetiring(ctx context.Context) error {
	for _, rec := range m.retiringExplorers() {
		balance, err := m.chain.Balance(ctx, rec.PublicKey)
		if err != nil {
			return fmt.Errorf("wallet: sweep balance %s: %w", rec.PublicKey, err)
		}

		if balance <= m.cfg.FeeReserveLamports || balance-m.cfg.FeeReserveLamports < m.cfg.DustLamports {
			m.retire(rec, balance)
			continue
		}

		amount := balance - m.cfg.FeeReserveLamports
		if err := m.transfer(ctx, domain.Transfer{
			Source:      rec.PublicKey,
			Destination: rec.FundedBy,
			Lamports:    amount,
			FeeLamports: m.cfg.FeeReserveLamports,
			Purpose:     "sweep",
		}); err != nil {
			return fmt.Errorf("wallet: sweep %s: %w", rec.PublicKey, err)
		}
		m.retire(rec, 0)
	}
	return nil
}

// topUpBanks restores each underfunded bank to its target with a single
// HODL transfer sized to the deficit.
func (m *Manager) topUpBanks(ctx context.Context) error {
	for _, bank := range m.bankRecords() {
		balance, err := m.chain.Balance(ctx, bank.PublicKey)
		if err != nil {
			return fmt.Errorf("wallet: bank balance %s: %w", bank.PublicKey, err)
		}
		if balance >= m.cfg.BankMinLamports {
			continue
		}
		deficit := m.cfg.BankTargetLamports - balance

		funded := false
		for _, hodl := range m.hodlRecords() {
			hodlBalance, err := m.chain.Balance(ctx, hodl.PublicKey)
			if err != nil {
				return fmt.Errorf("wallet: hodl balance %s: %w", hodl.PublicKey, err)
			}
			if hodlBalance < deficit+m.cfg.FeeReserveLamports {
				continue
			}
			if err := m.transfer(ctx, domain.Transfer{
				Source:      hodl.PublicKey,
				Destination: bank.PublicKey,
				Lamports:    deficit,
				FeeLamports: m.cfg.FeeReserveLamports,
				Purpose:     "bank-topup",
			}); err != nil {
				return fmt.Errorf("wallet: top up bank %s: %w", bank.PublicKey, err)
			}
			m.mu.Lock()
			bank.LastFunded = deficit
			bank.FundingCount++
			m.mu.Unlock()
			funded = true
			break
		}
		if !funded {
			m.logger.Warn("no hodl key can cover bank deficit",
				slog.String("bank", bank.PublicKey.String()),
				slog.Uint64("deficit_lamports", deficit),
			)
		}
	}
	return nil
}

// spawnExplorers generates fresh keypairs and funds them from banks until
// the active count reaches the target, at most CreateBatch per tick. An
// explorer is funded exactly once, at creation.
func (m *Manager) spawnExplorers(ctx context.Context) error {
	need := m.cfg.ExplorerTarget - m.activeExplorerCount()
	if need <= 0 {
		return nil
	}
	if need > m.cfg.CreateBatch {
		need = m.cfg.CreateBatch
	}

	for i := 0; i < need; i++ {
		funder, err := m.pickFundingBank(ctx)
		if err != nil {
			return err
		}
		if funder == nil {
			m.logger.Warn("no bank can fund a new explorer",
				slog.Uint64("required_lamports", m.cfg.ExplorerFundLamports+m.cfg.FeeReserveLamports),
			)
			return nil
		}

		fresh := solana.NewWallet()
		if err := m.transfer(ctx, domain.Transfer{
			Source:      funder.PublicKey,
			Destination: fresh.PublicKey(),
			Lamports:    m.cfg.ExplorerFundLamports,
			FeeLamports: m.cfg.FeeReserveLamports,
			Purpose:     "explorer-fund",
		}); err != nil {
			// Nothing reached the new key, so its record never exists.
			return fmt.Errorf("wallet: fund explorer: %w", err)
		}

		m.mu.Lock()
		rec := &domain.WalletRecord{
			PublicKey:    fresh.PublicKey(),
			Tier:         domain.TierExplorer,
			Status:       domain.WalletActive,
			FundedBy:     funder.PublicKey,
			LastFunded:   m.cfg.ExplorerFundLamports,
			FundingCount: 1,
			CreatedAt:    time.Now().UTC(),
		}
		m.explorers[rec.PublicKey] = rec
		m.keys[rec.PublicKey] = fresh.PrivateKey
		m.ready = append(m.ready, rec.PublicKey)
		m.mu.Unlock()

		m.logger.Info("explorer funded",
			slog.String("explorer", rec.PublicKey.String()),
			slog.String("bank", funder.PublicKey.String()),
			slog.Uint64("lamports", rec.LastFunded),
		)
	}
	return nil
}

// pickFundingBank returns the first bank able to cover an explorer grant
// plus the fee reserve, or nil when none can.
func (m *Manager) pickFundingBank(ctx context.Context) (*domain.WalletRecord, error) {
	for _, bank := range m.bankRecords() {
		balance, err := m.chain.Balance(ctx, bank.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("wallet: bank balance %s: %w", bank.PublicKey, err)
		}
		if balance >= m.cfg.ExplorerFundLamports+m.cfg.FeeReserveLamports {
			return bank, nil
		}
	}
	return nil, nil
}

// transfer logs the intended movement, submits it, and waits for
// confirmation before counting it complete.
func (m *Manager) transfer(ctx context.Context, t domain.Transfer) error {
	m.logger.Info("transfer initiated",
		slog.String("purpose", t.Purpose),
		slog.String("source", t.Source.String()),
		slog.String("destination", t.Destination.String()),
		slog.Uint64("lamports", t.Lamports),
		slog.Uint64("fee_lamports", t.FeeLamports),
	)

	m.mu.Lock()
	key, ok := m.keys[t.Source]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("wallet: no key held for %s: %w", t.Source, domain.ErrUnknownAccount)
	}

	sig, err := m.chain.TransferLamports(ctx, key, t.Destination, t.Lamports)
	if err != nil {
		return err
	}
	if err := m.chain.WaitForConfirmation(ctx, sig, m.cfg.ConfirmTimeout); err != nil {
		return err
	}

	t.Signature = sig
	t.At = time.Now().UTC()
	m.mu.Lock()
	m.feesPaid += t.FeeLamports
	m.mu.Unlock()

	m.logger.Info("transfer confirmed",
		slog.String("purpose", t.Purpose),
		slog.String("signature", sig.String()),
		slog.Uint64("lamports", t.Lamports),
	)
	return nil
}

// retire finalizes an explorer record and drops its key material.
// remainder is whatever stays behind unswept (dust or the fee reserve).
func (m *Manager) retire(rec *domain.WalletRecord, remainder uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	rec.Status = domain.WalletRetired
	rec.RetiredAt = &now
	delete(m.keys, rec.PublicKey)
	delete(m.claimed, rec.PublicKey)

	if remainder > 0 {
		m.dustAbandoned += remainder
		m.logger.Info("explorer retired, dust abandoned",
			slog.String("explorer", rec.PublicKey.String()),
			slog.Uint64("abandoned_lamports", remainder),
		)
		return
	}
	m.logger.Info("explorer retired",
		slog.String("explorer", rec.PublicKey.String()),
	)
}

// --------------------------------------------------------------------------
// Snapshot accessors
// --------------------------------------------------------------------------

func (m *Manager) retiringExplorers() []*domain.WalletRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.WalletRecord
	for _, rec := range m.explorers {
		if rec.Status == domain.WalletRetiring {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PublicKey[:], out[j].PublicKey[:]) < 0
	})
	return out
}

func (m *Manager) bankRecords() []*domain.WalletRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.WalletRecord, len(m.banks))
	copy(out, m.banks)
	return out
}

func (m *Manager) hodlRecords() []*domain.WalletRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.WalletRecord, len(m.hodl))
	copy(out, m.hodl)
	return out
}

func (m *Manager) activeExplorerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, rec := range m.explorers {
		if rec.Status == domain.WalletActive {
			count++
		}
	}
	return count
}

// Records returns a copy of every wallet record, HODL first, then banks,
// then explorers ordered by public key.
func (m *Manager) Records() []domain.WalletRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.WalletRecord, 0, len(m.hodl)+len(m.banks)+len(m.explorers))
	for _, rec := range m.hodl {
		out = append(out, *rec)
	}
	for _, rec := range m.banks {
		out = append(out, *rec)
	}
	keys := make([]solana.PublicKey, 0, len(m.explorers))
	for pk := range m.explorers {
		keys = append(keys, pk)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	for _, pk := range keys {
		out = append(out, *m.explorers[pk])
	}
	return out
}

// Ledger reports cumulative custody losses: transaction fees paid and
// dust abandoned in retired explorers. Together with live balances this
// lets an auditor check fund conservation.
func (m *Manager) Ledger() (feesPaid, dustAbandoned uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.feesPaid, m.dustAbandoned
}
