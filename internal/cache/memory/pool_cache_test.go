package memory

import (
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func poolAt(addr byte, slot uint64, baseReserve uint64) domain.PoolState {
	var pk solana.PublicKey
	pk[0] = addr
	pk[31] = addr
	return domain.PoolState{
		Address:      pk,
		Dex:          domain.DexRaydiumCpmm,
		BaseReserve:  baseReserve,
		QuoteReserve: 1_000_000,
		FeeBps:       25,
		Slot:         slot,
		ObservedAt:   time.Unix(int64(slot), 0).UTC(),
	}
}

func snapshotOf(t *testing.T, c *PoolCache) domain.PoolCacheSnapshot {
	t.Helper()
	snap, err := c.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return snap
}

func TestUpsert_MonotonicUnderReordering(t *testing.T) {
	// Whatever order updates arrive in, the stored state must equal the
	// one with the highest slot seen so far.
	slots := []uint64{5, 1, 9, 3, 9, 2, 7, 9, 8}
	perms := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		c := NewPoolCache(testLogger())
		shuffled := append([]uint64(nil), slots...)
		perms.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})

		for _, s := range shuffled {
			c.Upsert(poolAt(1, s, s*100).Address, poolAt(1, s, s*100))
		}

		snap := snapshotOf(t, c)
		if len(snap.Entries) != 1 {
			t.Fatalf("trial %d: entries = %d, want 1", trial, len(snap.Entries))
		}
		got := snap.Entries[0]
		if got.Slot != 9 {
			t.Errorf("trial %d: slot = %d, want 9", trial, got.Slot)
		}
		if got.BaseReserve != 900 {
			t.Errorf("trial %d: base reserve = %d, want 900 (state of newest slot)", trial, got.BaseReserve)
		}
	}
}

func TestUpsert_EqualSlotIsNoOp(t *testing.T) {
	c := NewPoolCache(testLogger())
	first := poolAt(1, 10, 111)
	dup := poolAt(1, 10, 999)

	c.Upsert(first.Address, first)
	c.Upsert(dup.Address, dup)

	snap := snapshotOf(t, c)
	if snap.Entries[0].BaseReserve != 111 {
		t.Errorf("duplicate slot overwrote state: base reserve = %d, want 111", snap.Entries[0].BaseReserve)
	}
}

func TestSnapshot_OrderedByAddress(t *testing.T) {
	c := NewPoolCache(testLogger())
	for _, b := range []byte{9, 3, 7, 1, 5} {
		p := poolAt(b, 1, 100)
		c.Upsert(p.Address, p)
	}

	snap := snapshotOf(t, c)
	if len(snap.Entries) != 5 {
		t.Fatalf("entries = %d, want 5", len(snap.Entries))
	}
	for i := 1; i < len(snap.Entries); i++ {
		if !lessKey(snap.Entries[i-1].Address, snap.Entries[i].Address) {
			t.Errorf("entries not sorted at %d: %s >= %s", i,
				snap.Entries[i-1].Address, snap.Entries[i].Address)
		}
	}
}

func lessKey(a, b solana.PublicKey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func TestSnapshot_IsolatedFromLaterWrites(t *testing.T) {
	c := NewPoolCache(testLogger())
	p := poolAt(1, 1, 100)
	c.Upsert(p.Address, p)

	snap := snapshotOf(t, c)

	newer := poolAt(1, 2, 555)
	c.Upsert(newer.Address, newer)

	if snap.Entries[0].BaseReserve != 100 {
		t.Errorf("snapshot mutated by later write: base reserve = %d, want 100", snap.Entries[0].BaseReserve)
	}
	fresh := snapshotOf(t, c)
	if fresh.Entries[0].BaseReserve != 555 {
		t.Errorf("later snapshot missing write: base reserve = %d, want 555", fresh.Entries[0].BaseReserve)
	}
}

func TestUpsert_ConcurrentWritersConverge(t *testing.T) {
	c := NewPoolCache(testLogger())
	const writers = 8
	const updates = 200

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1; i <= updates; i++ {
				p := poolAt(byte(w), uint64(i), uint64(i))
				c.Upsert(p.Address, p)
			}
		}(w)
	}
	wg.Wait()

	snap := snapshotOf(t, c)
	if len(snap.Entries) != writers {
		t.Fatalf("entries = %d, want %d", len(snap.Entries), writers)
	}
	for _, e := range snap.Entries {
		if e.Slot != updates {
			t.Errorf("pool %s: slot = %d, want %d", e.Address, e.Slot, updates)
		}
	}
	if c.Len() != writers {
		t.Errorf("Len() = %d, want %d", c.Len(), writers)
	}
}

func TestEntriesNeverDeleted(t *testing.T) {
	c := NewPoolCache(testLogger())
	old := poolAt(1, 1, 100)
	old.ObservedAt = time.Now().UTC().Add(-time.Hour)
	c.Upsert(old.Address, old)

	snap := snapshotOf(t, c)
	if len(snap.Entries) != 1 {
		t.Fatalf("stale entry dropped: entries = %d, want 1", len(snap.Entries))
	}
	if age := snap.Entries[0].Age(snap.TakenAt); age < 59*time.Minute {
		t.Errorf("age = %v, want about an hour", age)
	}
}
