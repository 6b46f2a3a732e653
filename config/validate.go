package config

import (
	"errors"
	"fmt"
	"strings"
)

// MinHMACSecretBytes is the shortest accepted token signing secret.
const MinHMACSecretBytes = 16

var ErrSecretRequired = errors.New("auth.hmac_secret required when auth is enabled")

func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("listen_address required")
	}
	switch c.Storage.Backend {
	case "memory":
	case "leveldb", "bolt", "bbolt":
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("storage: data_dir required for backend %q", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	switch c.Index.Driver {
	case "sqlite":
	case "postgres":
		if strings.TrimSpace(c.Index.DSN) == "" {
			return fmt.Errorf("index: dsn required for postgres")
		}
	default:
		return fmt.Errorf("index: unknown driver %q", c.Index.Driver)
	}
	switch c.Ledger.Kind {
	case "memory":
	case "erc20":
		if strings.TrimSpace(c.Ledger.RPCURL) == "" {
			return fmt.Errorf("ledger: rpc_url required for erc20")
		}
		if strings.TrimSpace(c.Ledger.KeystorePath) == "" {
			return fmt.Errorf("ledger: keystore_path required for erc20")
		}
	default:
		return fmt.Errorf("ledger: unknown kind %q", c.Ledger.Kind)
	}
	if c.Auth.Enabled {
		if strings.TrimSpace(c.Auth.HMACSecret) == "" {
			return ErrSecretRequired
		}
		if len(c.Auth.HMACSecret) < MinHMACSecretBytes {
			return fmt.Errorf("auth.hmac_secret shorter than %d bytes", MinHMACSecretBytes)
		}
	}
	seen := make(map[string]struct{}, len(c.RateLimits))
	for i, limit := range c.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rate_limits[%d]: id required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rate_limits[%d]: duplicate id %q", i, id)
		}
		seen[id] = struct{}{}
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limits[%d]: requests_per_minute must be positive", i)
		}
		if limit.Burst < 0 {
			return fmt.Errorf("rate_limits[%d]: burst must not be negative", i)
		}
	}
	if c.Quota.MaxRequestsPerEpoch > 0 && c.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: epoch_seconds required")
	}
	if !validLevel(c.Logging.Level) {
		return fmt.Errorf("logging: unknown level %q", c.Logging.Level)
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0,1]")
	}
	return nil
}

func validLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}
