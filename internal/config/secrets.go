package config

import (
	"net/url"
	"os"
	"strings"
)

// Secrets carries the runtime-provided key material. It is read from the
// environment only; there are no TOML fields for private keys, so a
// checked-in or archived config file can never contain them.
type Secrets struct {
	// HodlKeys and BankKeys are base58-encoded private keys. When both are
	// empty the wallet manager falls back to the encrypted keyfile at
	// Wallet.KeyfilePath, unlocked with KeyfilePassphrase.
	HodlKeys          []string
	BankKeys          []string
	KeyfilePassphrase string
}

// LoadSecrets reads key material from the environment. Call it after Load
// so values from a .env file are visible.
func LoadSecrets() Secrets {
	return Secrets{
		HodlKeys:          splitList(os.Getenv("SOLBOT_HODL_KEYS")),
		BankKeys:          splitList(os.Getenv("SOLBOT_BANK_KEYS")),
		KeyfilePassphrase: os.Getenv("SOLBOT_KEYFILE_PASSPHRASE"),
	}
}

// splitList parses a comma-separated environment value into its non-empty
// trimmed elements.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// RedactedConfig returns a copy of cfg safe for logging. The config holds
// no key material, but node URLs often smuggle provider API keys in their
// query or userinfo parts, so those are stripped.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	out.Solana.RPCURL = redactURL(cfg.Solana.RPCURL)
	out.Solana.WSURL = redactURL(cfg.Solana.WSURL)

	// Copy the pool slice so callers cannot mutate the original through
	// the redacted copy.
	if cfg.Pools != nil {
		out.Pools = make([]PoolConfig, len(cfg.Pools))
		copy(out.Pools, cfg.Pools)
	}

	return out
}

const redacted = "***"

// redactURL masks credential-bearing parts of an endpoint URL while keeping
// the host readable.
func redactURL(s string) string {
	if s == "" {
		return s
	}
	u, err := url.Parse(s)
	if err != nil {
		return redacted
	}
	if u.User != nil {
		u.User = url.User(redacted)
	}
	if u.RawQuery != "" {
		u.RawQuery = "redacted=" + redacted
	}
	return u.String()
}
