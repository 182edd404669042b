package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/alanyoungcy/solbot/internal/cache/memory"
	"github.com/alanyoungcy/solbot/internal/config"
	"github.com/alanyoungcy/solbot/internal/crypto"
	"github.com/alanyoungcy/solbot/internal/dispatch"
	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/feed"
	platform "github.com/alanyoungcy/solbot/internal/platform/solana"
	"github.com/alanyoungcy/solbot/internal/relayer"
	"github.com/alanyoungcy/solbot/internal/scheduler"
	"github.com/alanyoungcy/solbot/internal/solver"
	"github.com/alanyoungcy/solbot/internal/wallet"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
// Custody-side fields (Queue, Wallet, Scheduler, Relayer) are nil for modes
// that never move funds.
type Dependencies struct {
	// Chain access
	RPC    *platform.Client
	Stream *platform.WSClient

	// Market state
	Cache  domain.PoolCache
	Feed   *feed.PoolFeed
	Solver *solver.Solver

	// Custody and execution
	Queue     *dispatch.Queue
	Wallet    *wallet.Manager
	Scheduler *scheduler.Scheduler
	Relayer   *relayer.Relayer
}

// needsCustody returns true for modes that move funds and therefore require
// key material.
func needsCustody(mode string) bool {
	switch mode {
	case "run":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, secrets config.Secrets, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain clients ---
	deps.RPC = platform.NewClient(cfg.Solana.RPCURL, commitmentLevel(cfg.Solana.Commitment), logger)

	deps.Stream = platform.NewWSClient(cfg.Solana.WSURL, cfg.Solana.Commitment)
	closers = append(closers, func() { _ = deps.Stream.Close() })

	// --- Pool cache and feed ---
	deps.Cache = memory.NewPoolCache(logger)

	specs, err := poolSpecs(cfg.Pools)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: pools: %w", err)
	}
	deps.Feed, err = feed.NewPoolFeed(deps.Stream, deps.Cache, specs, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: feed: %w", err)
	}

	// --- Solver ---
	settlement, err := solana.PublicKeyFromBase58(cfg.Scheduler.SettlementMint)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: settlement_mint: %w", err)
	}
	deps.Solver = solver.New(solver.Config{
		SettlementMint:    settlement,
		MaxHops:           cfg.Scheduler.MaxHops,
		MinProfitLamports: int64(cfg.Scheduler.MinProfitLamports),
		MaxIterations:     cfg.Scheduler.SolverMaxIterations,
	}, logger)

	// --- Custody and execution (only for modes that move funds) ---
	if needsCustody(cfg.Mode) {
		deps.Queue = dispatch.NewQueue(dispatch.Config{
			Capacity:    cfg.Dispatch.QueueCapacity,
			SendTimeout: cfg.Dispatch.SendTimeout.Duration,
		}, logger)

		manager := wallet.NewManager(wallet.Config{
			RebalanceInterval:    cfg.Wallet.RebalanceInterval.Duration,
			ExplorerTarget:       cfg.Wallet.ExplorerTarget,
			CreateBatch:          cfg.Wallet.ExplorerCreateBatch,
			ExplorerFundLamports: cfg.Wallet.ExplorerFundLamports,
			BankTargetLamports:   cfg.Wallet.BankTargetLamports,
			BankMinLamports:      cfg.Wallet.BankMinLamports,
			DustLamports:         cfg.Wallet.DustLamports,
			FeeReserveLamports:   cfg.Wallet.FeeReserveLamports,
			ConfirmTimeout:       cfg.Solana.ConfirmTimeout.Duration,
		}, deps.RPC, logger)

		hodl, bank, err := loadKeyMaterial(cfg, secrets)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: key material: %w", err)
		}
		if err := manager.Initialize(hodl, bank); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet manager: %w", err)
		}
		deps.Wallet = manager

		deps.Scheduler = scheduler.New(scheduler.Config{
			TickInterval: cfg.Scheduler.TickInterval.Duration,
			BackoffBase:  cfg.Scheduler.BackoffBase.Duration,
			BackoffCap:   cfg.Scheduler.BackoffMax.Duration,
		}, deps.Cache, deps.Solver, deps.Queue, logger)

		deps.Relayer = relayer.NewRelayer(deps.Queue.Receive(), manager, deps.RPC, relayer.Config{
			Simulate:       cfg.Relayer.Simulate,
			MaxRouteAge:    cfg.Relayer.MaxRouteAge.Duration,
			ProbeLamports:  cfg.Relayer.ProbeLamports,
			ConfirmTimeout: cfg.Solana.ConfirmTimeout.Duration,
		}, logger)
	}

	return deps, cleanup, nil
}

// loadKeyMaterial resolves HODL and Bank private keys from the runtime
// secret source: the raw SOLBOT_*_KEYS lists when set, the encrypted keyfile
// otherwise. Keys never come from the TOML configuration and are never
// written back anywhere.
func loadKeyMaterial(cfg *config.Config, secrets config.Secrets) (hodl, bank []solana.PrivateKey, err error) {
	if len(secrets.HodlKeys) > 0 || len(secrets.BankKeys) > 0 {
		if hodl, err = decodeKeyList("SOLBOT_HODL_KEYS", secrets.HodlKeys); err != nil {
			return nil, nil, err
		}
		if bank, err = decodeKeyList("SOLBOT_BANK_KEYS", secrets.BankKeys); err != nil {
			return nil, nil, err
		}
		return hodl, bank, nil
	}

	if cfg.Wallet.KeyfilePath != "" {
		if secrets.KeyfilePassphrase == "" {
			return nil, nil, fmt.Errorf("keyfile %s: SOLBOT_KEYFILE_PASSPHRASE is not set: %w",
				cfg.Wallet.KeyfilePath, domain.ErrKeysMissing)
		}
		if hodl, bank, err = crypto.LoadKeyfile(cfg.Wallet.KeyfilePath, secrets.KeyfilePassphrase); err != nil {
			return nil, nil, err
		}
		return hodl, bank, nil
	}

	return nil, nil, fmt.Errorf("set SOLBOT_HODL_KEYS and SOLBOT_BANK_KEYS or wallet.keyfile_path: %w",
		domain.ErrKeysMissing)
}

// decodeKeyList parses a list of base58 private keys. Error messages carry
// the variable name and index, never the key material itself.
func decodeKeyList(name string, encoded []string) ([]solana.PrivateKey, error) {
	keys := make([]solana.PrivateKey, 0, len(encoded))
	for i, raw := range encoded {
		key, err := solana.PrivateKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: invalid private key: %w", name, i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// poolSpecs converts the validated pool config entries into feed specs.
func poolSpecs(pools []config.PoolConfig) ([]feed.PoolSpec, error) {
	specs := make([]feed.PoolSpec, 0, len(pools))
	for i, p := range pools {
		spec := feed.PoolSpec{
			Dex:    domain.DexKind(p.Dex),
			FeeBps: uint16(p.FeeBps),
		}
		var err error
		if spec.Address, err = solana.PublicKeyFromBase58(p.Address); err != nil {
			return nil, fmt.Errorf("pools[%d]: address: %w", i, err)
		}
		if spec.BaseMint, err = solana.PublicKeyFromBase58(p.BaseMint); err != nil {
			return nil, fmt.Errorf("pools[%d]: base_mint: %w", i, err)
		}
		if spec.QuoteMint, err = solana.PublicKeyFromBase58(p.QuoteMint); err != nil {
			return nil, fmt.Errorf("pools[%d]: quote_mint: %w", i, err)
		}
		if p.BaseVault != "" {
			if spec.BaseVault, err = solana.PublicKeyFromBase58(p.BaseVault); err != nil {
				return nil, fmt.Errorf("pools[%d]: base_vault: %w", i, err)
			}
		}
		if p.QuoteVault != "" {
			if spec.QuoteVault, err = solana.PublicKeyFromBase58(p.QuoteVault); err != nil {
				return nil, fmt.Errorf("pools[%d]: quote_vault: %w", i, err)
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// commitmentLevel maps the config string onto the RPC client's type. The
// value is validated by config.Validate; confirmed is the fallback.
func commitmentLevel(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}
