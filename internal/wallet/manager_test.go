package wallet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type transferCall struct {
	from     solana.PublicKey
	to       solana.PublicKey
	lamports uint64
}

// fakeChain keeps lamport accounting in memory. Every transfer costs the
// configured fee on top of the moved amount, like the real system program.
type fakeChain struct {
	mu        sync.Mutex
	balances  map[solana.PublicKey]uint64
	fee       uint64
	transfers []transferCall

	failSendsFrom map[solana.PublicKey]error
	balanceGate   chan struct{} // when set, Balance blocks until closed
}

func newFakeChain(fee uint64) *fakeChain {
	return &fakeChain{
		balances:      make(map[solana.PublicKey]uint64),
		fee:           fee,
		failSendsFrom: make(map[solana.PublicKey]error),
	}
}

func (f *fakeChain) Balance(_ context.Context, pk solana.PublicKey) (uint64, error) {
	if f.balanceGate != nil {
		<-f.balanceGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[pk], nil
}

func (f *fakeChain) TransferLamports(_ context.Context, from solana.PrivateKey, to solana.PublicKey, lamports uint64) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	src := from.PublicKey()
	if err, ok := f.failSendsFrom[src]; ok {
		return solana.Signature{}, err
	}
	need := lamports + f.fee
	if f.balances[src] < need {
		return solana.Signature{}, fmt.Errorf("insufficient funds: have %d, need %d", f.balances[src], need)
	}
	f.balances[src] -= need
	f.balances[to] += lamports
	f.transfers = append(f.transfers, transferCall{from: src, to: to, lamports: lamports})
	return solana.Signature{}, nil
}

func (f *fakeChain) WaitForConfirmation(context.Context, solana.Signature, time.Duration) error {
	return nil
}

func (f *fakeChain) setBalance(pk solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[pk] = lamports
}

func (f *fakeChain) totalHeld(records []domain.WalletRecord) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for _, rec := range records {
		total += f.balances[rec.PublicKey]
	}
	return total
}

func (f *fakeChain) transfersTo(pk solana.PublicKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, t := range f.transfers {
		if t.to.Equals(pk) {
			count++
		}
	}
	return count
}

// newTestManager wires a manager over a fake chain with one HODL and one
// Bank key at the given starting balances.
func newTestManager(t *testing.T, chain *fakeChain, hodlLamports, bankLamports uint64) (*Manager, solana.PublicKey, solana.PublicKey) {
	t.Helper()

	hodl := solana.NewWallet()
	bank := solana.NewWallet()
	chain.setBalance(hodl.PublicKey(), hodlLamports)
	chain.setBalance(bank.PublicKey(), bankLamports)

	m := NewManager(Config{}, chain, testLogger())
	if err := m.Initialize([]solana.PrivateKey{hodl.PrivateKey}, []solana.PrivateKey{bank.PrivateKey}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return m, hodl.PublicKey(), bank.PublicKey()
}

// assertConserved checks the custody equation: what the wallets hold now,
// plus fees paid and dust written off, equals the starting total.
func assertConserved(t *testing.T, chain *fakeChain, m *Manager, initial uint64) {
	t.Helper()
	held := chain.totalHeld(m.Records())
	fees, dust := m.Ledger()
	if got := held + fees + dust; got != initial {
		t.Errorf("custody not conserved: held %d + fees %d + dust %d = %d, want %d",
			held, fees, dust, got, initial)
	}
}

func activeExplorers(m *Manager) []domain.WalletRecord {
	var out []domain.WalletRecord
	for _, rec := range m.Records() {
		if rec.Tier == domain.TierExplorer && rec.Status == domain.WalletActive {
			out = append(out, rec)
		}
	}
	return out
}

func TestInitialize_RequiresBothTiers(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	m := NewManager(Config{}, newFakeChain(defaultFeeReserve), testLogger())
	if err := m.Initialize(nil, []solana.PrivateKey{key}); !errors.Is(err, domain.ErrKeysMissing) {
		t.Errorf("Initialize(no hodl) error = %v, want ErrKeysMissing", err)
	}
	if err := m.Initialize([]solana.PrivateKey{key}, nil); !errors.Is(err, domain.ErrKeysMissing) {
		t.Errorf("Initialize(no bank) error = %v, want ErrKeysMissing", err)
	}
}

func TestRebalance_FundsExplorersUpToTarget(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, bank := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	// First tick creates a full batch, second tick tops out the target.
	if err := m.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance() #1 error = %v", err)
	}
	if got := len(activeExplorers(m)); got != defaultCreateBatch {
		t.Fatalf("active explorers after tick 1 = %d, want %d", got, defaultCreateBatch)
	}

	if err := m.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance() #2 error = %v", err)
	}
	if got := len(activeExplorers(m)); got != defaultExplorerTarget {
		t.Fatalf("active explorers after tick 2 = %d, want %d", got, defaultExplorerTarget)
	}

	// A third tick has nothing to do.
	if err := m.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance() #3 error = %v", err)
	}
	if got := len(activeExplorers(m)); got != defaultExplorerTarget {
		t.Errorf("active explorers after tick 3 = %d, want %d", got, defaultExplorerTarget)
	}

	for _, rec := range activeExplorers(m) {
		if !rec.FundedBy.Equals(bank) {
			t.Errorf("explorer %s FundedBy = %s, want %s", rec.PublicKey, rec.FundedBy, bank)
		}
		if rec.LastFunded != defaultExplorerFund {
			t.Errorf("explorer %s LastFunded = %d, want %d", rec.PublicKey, rec.LastFunded, defaultExplorerFund)
		}
		if rec.FundingCount != 1 {
			t.Errorf("explorer %s FundingCount = %d, want 1", rec.PublicKey, rec.FundingCount)
		}
	}
}

func TestRebalance_ConservesFundsModuloFees(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	const hodlStart, bankStart = 1_000_000_000, 60_000_000
	m, _, _ := newTestManager(t, chain, hodlStart, bankStart)
	const initial = hodlStart + bankStart

	ctx := context.Background()

	// Tick 1: fund a batch of explorers straight from the bank.
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() #1 error = %v", err)
	}
	assertConserved(t, chain, m, initial)

	// Tick 2: the drained bank is topped up from HODL, then more
	// explorers are funded.
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() #2 error = %v", err)
	}
	assertConserved(t, chain, m, initial)

	// Use two explorers and hand them back; tick 3 sweeps them.
	for i := 0; i < 2; i++ {
		pk, _, err := m.ClaimExplorer()
		if err != nil {
			t.Fatalf("ClaimExplorer() error = %v", err)
		}
		m.ReleaseExplorer(pk)
	}
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() #3 error = %v", err)
	}
	assertConserved(t, chain, m, initial)

	// Swept explorers end empty: the fee reserve covered the fee exactly.
	for _, rec := range m.Records() {
		if rec.Tier == domain.TierExplorer && rec.Status == domain.WalletRetired {
			if bal := chain.balances[rec.PublicKey]; bal != 0 {
				t.Errorf("retired explorer %s holds %d lamports, want 0", rec.PublicKey, bal)
			}
		}
	}

	fees, _ := m.Ledger()
	if fees == 0 {
		t.Error("Ledger() fees = 0, want accumulated transfer fees")
	}
}

func TestRebalance_ExplorerFundedExactlyOnce(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, _ := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	ctx := context.Background()
	for tick := 0; tick < 4; tick++ {
		if err := m.Rebalance(ctx); err != nil {
			t.Fatalf("Rebalance() tick %d error = %v", tick, err)
		}
		// Retire one explorer per tick so replacements keep being made.
		if pk, _, err := m.ClaimExplorer(); err == nil {
			m.ReleaseExplorer(pk)
		}
	}

	for _, rec := range m.Records() {
		if rec.Tier != domain.TierExplorer {
			continue
		}
		if rec.FundingCount != 1 {
			t.Errorf("explorer %s FundingCount = %d, want 1", rec.PublicKey, rec.FundingCount)
		}
		if got := chain.transfersTo(rec.PublicKey); got > 1 {
			t.Errorf("explorer %s received %d funding transfers, want at most 1", rec.PublicKey, got)
		}
	}
}

func TestRebalance_BankTopUpIsSingleTransfer(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	const bankStart = 20_000_000 // below the 50M minimum
	m, hodl, bank := newTestManager(t, chain, 1_000_000_000, bankStart)

	if err := m.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance() error = %v", err)
	}

	var topUps []transferCall
	for _, tr := range chain.transfers {
		if tr.from.Equals(hodl) {
			topUps = append(topUps, tr)
		}
	}
	if len(topUps) != 1 {
		t.Fatalf("hodl made %d transfers, want exactly 1", len(topUps))
	}
	if want := defaultBankTarget - bankStart; topUps[0].lamports != uint64(want) {
		t.Errorf("top-up = %d lamports, want deficit %d", topUps[0].lamports, want)
	}
	if !topUps[0].to.Equals(bank) {
		t.Errorf("top-up destination = %s, want bank %s", topUps[0].to, bank)
	}
}

func TestRebalance_SweepAbandonsDust(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, bank := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	ctx := context.Background()
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() error = %v", err)
	}

	pk, _, err := m.ClaimExplorer()
	if err != nil {
		t.Fatalf("ClaimExplorer() error = %v", err)
	}
	m.ReleaseExplorer(pk)

	// The trade spent almost everything: what is left cannot cover the
	// fee reserve plus a dust-worthy sweep.
	const remainder = 12_000
	chain.setBalance(pk, remainder)

	bankBefore := chain.balances[bank]
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() sweep tick error = %v", err)
	}

	if got := chain.transfersTo(bank); got != 0 {
		t.Errorf("bank received %d sweep transfers for dust, want 0", got)
	}
	if chain.balances[bank] < bankBefore {
		t.Error("bank balance decreased during dust abandonment")
	}
	_, dust := m.Ledger()
	if dust != remainder {
		t.Errorf("Ledger() dust = %d, want %d", dust, remainder)
	}

	for _, rec := range m.Records() {
		if rec.PublicKey.Equals(pk) {
			if rec.Status != domain.WalletRetired {
				t.Errorf("dusty explorer status = %s, want retired", rec.Status)
			}
			if rec.RetiredAt == nil {
				t.Error("RetiredAt not set on retired explorer")
			}
		}
	}
}

func TestRebalance_FailedSweepRetriesNextTick(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, bank := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	ctx := context.Background()
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() error = %v", err)
	}

	pk, _, err := m.ClaimExplorer()
	if err != nil {
		t.Fatalf("ClaimExplorer() error = %v", err)
	}
	m.ReleaseExplorer(pk)

	chain.failSendsFrom[pk] = errors.New("rpc: node unavailable")
	if err := m.Rebalance(ctx); err == nil {
		t.Fatal("Rebalance() with failing sweep returned nil, want error")
	}

	// Still retiring: the funds were not moved and not written off.
	for _, rec := range m.Records() {
		if rec.PublicKey.Equals(pk) && rec.Status != domain.WalletRetiring {
			t.Fatalf("explorer status after failed sweep = %s, want retiring", rec.Status)
		}
	}

	delete(chain.failSendsFrom, pk)
	sweptBefore := chain.transfersTo(bank)
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() retry tick error = %v", err)
	}
	if got := chain.transfersTo(bank); got != sweptBefore+1 {
		t.Errorf("bank sweep transfers = %d, want %d", got, sweptBefore+1)
	}
}

func TestRebalance_OverlappingTickSkipped(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, _ := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	ctx := context.Background()
	if err := m.Rebalance(ctx); err != nil {
		t.Fatalf("Rebalance() error = %v", err)
	}
	pk, _, err := m.ClaimExplorer()
	if err != nil {
		t.Fatalf("ClaimExplorer() error = %v", err)
	}
	m.ReleaseExplorer(pk)

	// Gate the chain so the first tick parks inside its sweep step.
	gate := make(chan struct{})
	chain.balanceGate = gate

	done := make(chan error, 1)
	go func() { done <- m.Rebalance(ctx) }()

	// Give the goroutine time to take the tick lock and block.
	time.Sleep(20 * time.Millisecond)
	if err := m.Rebalance(ctx); !errors.Is(err, domain.ErrRebalanceBusy) {
		t.Errorf("overlapping Rebalance() error = %v, want ErrRebalanceBusy", err)
	}

	close(gate)
	if err := <-done; err != nil {
		t.Fatalf("gated Rebalance() error = %v", err)
	}
}

func TestClaimExplorer_FIFOUntilExhausted(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, _ := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	if err := m.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance() error = %v", err)
	}

	// Funding order is the claim order.
	var fundedOrder []solana.PublicKey
	for _, tr := range chain.transfers {
		fundedOrder = append(fundedOrder, tr.to)
	}

	for i, want := range fundedOrder {
		pk, key, err := m.ClaimExplorer()
		if err != nil {
			t.Fatalf("ClaimExplorer() #%d error = %v", i, err)
		}
		if !pk.Equals(want) {
			t.Errorf("claim #%d = %s, want %s (funding order)", i, pk, want)
		}
		if !key.PublicKey().Equals(pk) {
			t.Errorf("claim #%d returned key for %s, want %s", i, key.PublicKey(), pk)
		}
	}

	if _, _, err := m.ClaimExplorer(); !errors.Is(err, domain.ErrNoExplorer) {
		t.Fatalf("ClaimExplorer() on empty pool error = %v, want ErrNoExplorer", err)
	}

	// A released explorer is retiring, never reissued.
	m.ReleaseExplorer(fundedOrder[0])
	if _, _, err := m.ClaimExplorer(); !errors.Is(err, domain.ErrNoExplorer) {
		t.Errorf("ClaimExplorer() after release error = %v, want ErrNoExplorer", err)
	}
}

func TestReleaseExplorer_UnclaimedIsNoOp(t *testing.T) {
	chain := newFakeChain(defaultFeeReserve)
	m, _, _ := newTestManager(t, chain, 1_000_000_000, defaultBankTarget)

	if err := m.Rebalance(context.Background()); err != nil {
		t.Fatalf("Rebalance() error = %v", err)
	}

	explorers := activeExplorers(m)
	if len(explorers) == 0 {
		t.Fatal("no active explorers after rebalance")
	}
	m.ReleaseExplorer(explorers[0].PublicKey)

	for _, rec := range activeExplorers(m) {
		if rec.PublicKey.Equals(explorers[0].PublicKey) {
			return // still active, as it should be
		}
	}
	t.Error("unclaimed explorer was retired by ReleaseExplorer")
}
