package domain

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// KeyTier classifies a signing key by risk exposure and lifecycle.
type KeyTier string

const (
	// TierHodl keys are long-lived cold-custody keys. They fund Bank keys
	// and never sign trade transactions.
	TierHodl KeyTier = "hodl"
	// TierBank keys hold working capital and fund Explorer keys.
	TierBank KeyTier = "bank"
	// TierExplorer keys are ephemeral per-session signing keys, retired
	// after a single use.
	TierExplorer KeyTier = "explorer"
)

// WalletStatus is the lifecycle state of a wallet record.
type WalletStatus string

const (
	WalletActive   WalletStatus = "active"
	WalletRetiring WalletStatus = "retiring"
	WalletRetired  WalletStatus = "retired"
)

// WalletRecord tracks one key the tier manager is responsible for. Explorer
// records carry FundedBy so remaining funds can always be swept back to the
// Bank wallet that funded them.
type WalletRecord struct {
	PublicKey    solana.PublicKey
	Tier         KeyTier
	Status       WalletStatus
	FundedBy     solana.PublicKey // zero for HODL and Bank records
	LastFunded   uint64           // lamports moved in the most recent funding
	FundingCount int              // times this record has been funded
	CreatedAt    time.Time
	RetiredAt    *time.Time
}

// Transfer describes one completed lamport movement between tracked wallets.
// Every transfer is logged before it is considered complete.
type Transfer struct {
	Source      solana.PublicKey
	Destination solana.PublicKey
	Lamports    uint64
	FeeLamports uint64
	Purpose     string // "sweep", "bank-topup", "explorer-fund"
	Signature   solana.Signature
	At          time.Time
}
