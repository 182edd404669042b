package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load builds the final Config: built-in defaults, then the TOML file at
// path (skipped when path is empty), then SOLBOT_* environment variable
// overrides. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SOLBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators adjust deployments without touching the
// TOML file. Key material is handled separately by LoadSecrets and never
// passes through Config.
func applyEnvOverrides(cfg *Config) {
	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SOLBOT_RPC_URL")
	setStr(&cfg.Solana.WSURL, "SOLBOT_WS_URL")
	setStr(&cfg.Solana.Commitment, "SOLBOT_COMMITMENT")
	setDuration(&cfg.Solana.ConfirmTimeout, "SOLBOT_CONFIRM_TIMEOUT")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.TickInterval, "SOLBOT_TICK_INTERVAL")
	setDuration(&cfg.Scheduler.BackoffBase, "SOLBOT_BACKOFF_BASE")
	setDuration(&cfg.Scheduler.BackoffMax, "SOLBOT_BACKOFF_MAX")
	setInt(&cfg.Scheduler.MaxHops, "SOLBOT_MAX_HOPS")
	setStr(&cfg.Scheduler.SettlementMint, "SOLBOT_SETTLEMENT_MINT")
	setUint64(&cfg.Scheduler.MinProfitLamports, "SOLBOT_MIN_PROFIT_LAMPORTS")
	setInt(&cfg.Scheduler.SolverMaxIterations, "SOLBOT_SOLVER_MAX_ITERATIONS")

	// ── Dispatch ──
	setInt(&cfg.Dispatch.QueueCapacity, "SOLBOT_QUEUE_CAPACITY")
	setDuration(&cfg.Dispatch.SendTimeout, "SOLBOT_SEND_TIMEOUT")

	// ── Wallet ──
	setDuration(&cfg.Wallet.RebalanceInterval, "SOLBOT_WALLET_REBALANCE_INTERVAL")
	setInt(&cfg.Wallet.ExplorerTarget, "SOLBOT_WALLET_EXPLORER_TARGET")
	setInt(&cfg.Wallet.ExplorerCreateBatch, "SOLBOT_WALLET_EXPLORER_CREATE_BATCH")
	setUint64(&cfg.Wallet.ExplorerFundLamports, "SOLBOT_WALLET_EXPLORER_FUND_LAMPORTS")
	setUint64(&cfg.Wallet.BankTargetLamports, "SOLBOT_WALLET_BANK_TARGET_LAMPORTS")
	setUint64(&cfg.Wallet.BankMinLamports, "SOLBOT_WALLET_BANK_MIN_LAMPORTS")
	setUint64(&cfg.Wallet.DustLamports, "SOLBOT_WALLET_DUST_LAMPORTS")
	setUint64(&cfg.Wallet.FeeReserveLamports, "SOLBOT_WALLET_FEE_RESERVE_LAMPORTS")
	setStr(&cfg.Wallet.KeyfilePath, "SOLBOT_WALLET_KEYFILE_PATH")

	// ── Relayer ──
	setBool(&cfg.Relayer.Simulate, "SOLBOT_SIMULATE")
	setDuration(&cfg.Relayer.MaxRouteAge, "SOLBOT_MAX_ROUTE_AGE")
	setUint64(&cfg.Relayer.ProbeLamports, "SOLBOT_PROBE_LAMPORTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLBOT_MODE")
	setStr(&cfg.LogLevel, "SOLBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
