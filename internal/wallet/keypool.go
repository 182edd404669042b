package wallet

import (
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// ClaimExplorer hands out the oldest funded, unclaimed explorer key.
// The caller owns the key until ReleaseExplorer; a claimed explorer is
// never swept while out. Returns ErrNoExplorer when the pool is empty.
func (m *Manager) ClaimExplorer() (solana.PublicKey, solana.PrivateKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.ready) > 0 {
		pk := m.ready[0]
		m.ready = m.ready[1:]

		rec, ok := m.explorers[pk]
		if !ok || rec.Status != domain.WalletActive {
			continue
		}
		key, ok := m.keys[pk]
		if !ok {
			continue
		}

		m.claimed[pk] = true
		m.logger.Debug("explorer claimed",
			slog.String("explorer", pk.String()),
		)
		return pk, key, nil
	}
	return solana.PublicKey{}, nil, domain.ErrNoExplorer
}

// ReleaseExplorer returns a claimed key and marks the record retiring:
// a used explorer is never reissued, whatever the outcome of its trade.
// The next wallet tick sweeps its remaining balance home.
func (m *Manager) ReleaseExplorer(pk solana.PublicKey) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.claimed[pk] {
		return
	}
	delete(m.claimed, pk)

	rec, ok := m.explorers[pk]
	if !ok || rec.Status != domain.WalletActive {
		return
	}
	rec.Status = domain.WalletRetiring
	m.logger.Info("explorer retiring",
		slog.String("explorer", pk.String()),
		slog.String("funding_bank", rec.FundedBy.String()),
	)
}
