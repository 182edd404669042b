// Package config defines the top-level configuration for the solana
// arbitrage bot and provides validation helpers. Key material is never part
// of this surface: it arrives through the environment only (see Secrets).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SOLBOT_* environment
// variables.
type Config struct {
	Solana    SolanaConfig    `toml:"solana"`
	Pools     []PoolConfig    `toml:"pools"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Wallet    WalletConfig    `toml:"wallet"`
	Relayer   RelayerConfig   `toml:"relayer"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// SolanaConfig holds node endpoints and confirmation parameters.
type SolanaConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	WSURL          string   `toml:"ws_url"`
	Commitment     string   `toml:"commitment"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
}

// PoolConfig is the static description of one watched pool. Reserves are
// streamed at runtime; everything here is fixed per pool.
type PoolConfig struct {
	Address   string `toml:"address"`
	Dex       string `toml:"dex"`
	BaseMint  string `toml:"base_mint"`
	QuoteMint string `toml:"quote_mint"`
	// Vaults are required for constant-product kinds and unused for
	// concentrated kinds, which are watched through the pool account.
	BaseVault  string `toml:"base_vault"`
	QuoteVault string `toml:"quote_vault"`
	FeeBps     int    `toml:"fee_bps"`
}

// SchedulerConfig holds the trading-tick parameters.
type SchedulerConfig struct {
	TickInterval        duration `toml:"tick_interval"`
	BackoffBase         duration `toml:"backoff_base"`
	BackoffMax          duration `toml:"backoff_max"`
	MaxHops             int      `toml:"max_hops"`
	SettlementMint      string   `toml:"settlement_mint"`
	MinProfitLamports   uint64   `toml:"min_profit_lamports"`
	SolverMaxIterations int      `toml:"solver_max_iterations"`
}

// DispatchConfig holds the opportunity channel parameters.
type DispatchConfig struct {
	QueueCapacity int      `toml:"queue_capacity"`
	SendTimeout   duration `toml:"send_timeout"`
}

// WalletConfig holds the custody thresholds. All amounts are lamports.
// Private keys are NOT configured here; they come from SOLBOT_HODL_KEYS /
// SOLBOT_BANK_KEYS or the encrypted keyfile at KeyfilePath.
type WalletConfig struct {
	RebalanceInterval    duration `toml:"rebalance_interval"`
	ExplorerTarget       int      `toml:"explorer_target"`
	ExplorerCreateBatch  int      `toml:"explorer_create_batch"`
	ExplorerFundLamports uint64   `toml:"explorer_fund_lamports"`
	BankTargetLamports   uint64   `toml:"bank_target_lamports"`
	BankMinLamports      uint64   `toml:"bank_min_lamports"`
	DustLamports         uint64   `toml:"dust_lamports"`
	FeeReserveLamports   uint64   `toml:"fee_reserve_lamports"`
	KeyfilePath          string   `toml:"keyfile_path"`
}

// RelayerConfig holds route execution parameters.
type RelayerConfig struct {
	Simulate      bool     `toml:"simulate"`
	MaxRouteAge   duration `toml:"max_route_age"`
	ProbeLamports uint64   `toml:"probe_lamports"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// wrappedSOL is the canonical settlement mint.
const wrappedSOL = "So11111111111111111111111111111111111111112"

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:         "https://api.mainnet-beta.solana.com",
			WSURL:          "wss://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			ConfirmTimeout: duration{45 * time.Second},
		},
		Scheduler: SchedulerConfig{
			TickInterval:        duration{60 * time.Second},
			BackoffBase:         duration{5 * time.Second},
			BackoffMax:          duration{20 * time.Second},
			MaxHops:             4,
			SettlementMint:      wrappedSOL,
			MinProfitLamports:   10_000,
			SolverMaxIterations: 96,
		},
		Dispatch: DispatchConfig{
			QueueCapacity: 16,
			SendTimeout:   duration{250 * time.Millisecond},
		},
		Wallet: WalletConfig{
			RebalanceInterval:    duration{60 * time.Second},
			ExplorerTarget:       5,
			ExplorerCreateBatch:  3,
			ExplorerFundLamports: 10_000_000,
			BankTargetLamports:   100_000_000,
			BankMinLamports:      50_000_000,
			DustLamports:         10_000,
			FeeReserveLamports:   5_000,
		},
		Relayer: RelayerConfig{
			Simulate:      true,
			MaxRouteAge:   duration{30 * time.Second},
			ProbeLamports: 1_000,
		},
		Mode:     "run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"run":   true, // full pipeline: feed, scheduler, wallet manager, relayer
	"solve": true, // one-shot: snapshot, solve, print, exit
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validCommitments enumerates the accepted Solana commitment levels.
var validCommitments = map[string]bool{
	"processed": true,
	"confirmed": true,
	"finalized": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: run, solve)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Solana endpoints
	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.Solana.WSURL == "" {
		errs = append(errs, "solana: ws_url must not be empty")
	}
	if !validCommitments[strings.ToLower(c.Solana.Commitment)] {
		errs = append(errs, fmt.Sprintf("solana: unknown commitment %q (valid: processed, confirmed, finalized)", c.Solana.Commitment))
	}
	if c.Solana.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "solana: confirm_timeout must be positive")
	}

	// Pools
	if len(c.Pools) == 0 {
		errs = append(errs, "pools: at least one pool must be configured")
	}
	for i, pool := range c.Pools {
		errs = append(errs, pool.validate(i)...)
	}

	// Scheduler
	if c.Scheduler.TickInterval.Duration <= 0 {
		errs = append(errs, "scheduler: tick_interval must be positive")
	}
	if c.Scheduler.BackoffBase.Duration <= 0 {
		errs = append(errs, "scheduler: backoff_base must be positive")
	}
	if c.Scheduler.BackoffMax.Duration < c.Scheduler.BackoffBase.Duration {
		errs = append(errs, "scheduler: backoff_max must not be below backoff_base")
	}
	if c.Scheduler.MaxHops < 2 {
		errs = append(errs, fmt.Sprintf("scheduler: max_hops must be >= 2, got %d", c.Scheduler.MaxHops))
	}
	if !validPubkey(c.Scheduler.SettlementMint) {
		errs = append(errs, fmt.Sprintf("scheduler: settlement_mint %q is not a valid base58 public key", c.Scheduler.SettlementMint))
	}
	if c.Scheduler.SolverMaxIterations < 1 {
		errs = append(errs, "scheduler: solver_max_iterations must be >= 1")
	}

	// Dispatch
	if c.Dispatch.QueueCapacity < 1 {
		errs = append(errs, "dispatch: queue_capacity must be >= 1")
	}
	if c.Dispatch.SendTimeout.Duration <= 0 {
		errs = append(errs, "dispatch: send_timeout must be positive")
	}

	// Wallet
	if c.Wallet.RebalanceInterval.Duration <= 0 {
		errs = append(errs, "wallet: rebalance_interval must be positive")
	}
	if c.Wallet.ExplorerTarget < 1 {
		errs = append(errs, "wallet: explorer_target must be >= 1")
	}
	if c.Wallet.ExplorerCreateBatch < 1 {
		errs = append(errs, "wallet: explorer_create_batch must be >= 1")
	}
	if c.Wallet.ExplorerFundLamports == 0 {
		errs = append(errs, "wallet: explorer_fund_lamports must be > 0")
	}
	if c.Wallet.BankMinLamports > c.Wallet.BankTargetLamports {
		errs = append(errs, "wallet: bank_min_lamports must not exceed bank_target_lamports")
	}
	if c.Wallet.ExplorerFundLamports+c.Wallet.FeeReserveLamports > c.Wallet.BankTargetLamports {
		errs = append(errs, "wallet: a bank at target must afford at least one explorer grant plus the fee reserve")
	}
	if c.Wallet.DustLamports == 0 {
		errs = append(errs, "wallet: dust_lamports must be > 0")
	}

	// Relayer
	if c.Relayer.MaxRouteAge.Duration <= 0 {
		errs = append(errs, "relayer: max_route_age must be positive")
	}
	if !c.Relayer.Simulate && c.Relayer.ProbeLamports == 0 {
		errs = append(errs, "relayer: probe_lamports must be > 0 in live mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// validate checks one pool entry; i is its index for error messages.
func (p PoolConfig) validate(i int) []string {
	var errs []string

	prefix := fmt.Sprintf("pools[%d]", i)
	if !validPubkey(p.Address) {
		errs = append(errs, fmt.Sprintf("%s: address %q is not a valid base58 public key", prefix, p.Address))
	}
	kind := domain.DexKind(p.Dex)
	if !kind.Valid() {
		errs = append(errs, fmt.Sprintf("%s: unknown dex %q (valid: raydium, raydium-cpmm, raydium-clmm, orca)", prefix, p.Dex))
		return errs
	}
	if !validPubkey(p.BaseMint) {
		errs = append(errs, fmt.Sprintf("%s: base_mint %q is not a valid base58 public key", prefix, p.BaseMint))
	}
	if !validPubkey(p.QuoteMint) {
		errs = append(errs, fmt.Sprintf("%s: quote_mint %q is not a valid base58 public key", prefix, p.QuoteMint))
	}
	if p.BaseMint == p.QuoteMint {
		errs = append(errs, prefix+": base_mint and quote_mint must differ")
	}
	if p.FeeBps < 0 || p.FeeBps >= 10_000 {
		errs = append(errs, fmt.Sprintf("%s: fee_bps must be in [0, 10000), got %d", prefix, p.FeeBps))
	}

	concentrated := kind == domain.DexOrca || kind == domain.DexRaydiumClmm
	if !concentrated {
		if !validPubkey(p.BaseVault) {
			errs = append(errs, fmt.Sprintf("%s: base_vault is required for dex %q", prefix, p.Dex))
		}
		if !validPubkey(p.QuoteVault) {
			errs = append(errs, fmt.Sprintf("%s: quote_vault is required for dex %q", prefix, p.Dex))
		}
	}
	return errs
}

// validPubkey reports whether s decodes as a base58 Solana public key.
func validPubkey(s string) bool {
	if s == "" {
		return false
	}
	_, err := solana.PublicKeyFromBase58(s)
	return err == nil
}
