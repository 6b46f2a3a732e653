package config

// Storage selects the State Store backend.
type Storage struct {
	Backend string `toml:"backend" yaml:"backend"`
}

// Index configures the party index projection.
type Index struct {
	Driver string `toml:"driver" yaml:"driver"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

// Audit configures the call and event audit trail.
type Audit struct {
	Path string `toml:"path" yaml:"path"`
}

// Ledger selects the Token Ledger implementation. The erc20 ledger signs
// vault transfers with keys derived from the operator keystore.
type Ledger struct {
	Kind                  string `toml:"kind" yaml:"kind"`
	RPCURL                string `toml:"rpc_url" yaml:"rpc_url"`
	KeystorePath          string `toml:"keystore_path" yaml:"keystore_path"`
	KeystorePassphraseEnv string `toml:"keystore_passphrase_env" yaml:"keystore_passphrase_env"`
	ReceiptTimeoutSeconds uint32 `toml:"receipt_timeout_seconds" yaml:"receipt_timeout_seconds"`
}

type Auth struct {
	Enabled          bool   `toml:"enabled" yaml:"enabled"`
	HMACSecret       string `toml:"hmac_secret" yaml:"hmac_secret"`
	Issuer           string `toml:"issuer" yaml:"issuer"`
	Audience         string `toml:"audience" yaml:"audience"`
	ScopeClaim       string `toml:"scope_claim" yaml:"scope_claim"`
	ClockSkewSeconds uint32 `toml:"clock_skew_seconds" yaml:"clock_skew_seconds"`
	TokenTTLSeconds  uint32 `toml:"token_ttl_seconds" yaml:"token_ttl_seconds"`
}

// RateLimit is the token bucket applied to one route key.
type RateLimit struct {
	ID                string  `toml:"id" yaml:"id"`
	RequestsPerMinute float64 `toml:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int     `toml:"burst" yaml:"burst"`
}

type CORS struct {
	AllowedOrigins   []string `toml:"allowed_origins" yaml:"allowed_origins"`
	AllowCredentials bool     `toml:"allow_credentials" yaml:"allow_credentials"`
}

type Logging struct {
	Level      string `toml:"level" yaml:"level"`
	File       string `toml:"file" yaml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" yaml:"max_age_days"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	Headers     string  `toml:"headers" yaml:"headers"`
	Traces      bool    `toml:"traces" yaml:"traces"`
	Metrics     bool    `toml:"metrics" yaml:"metrics"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
}

// Escrow holds the escrow manager policy switches.
type Escrow struct {
	// ClearDisputeOnResolve clears the dispute flag after a resolution.
	ClearDisputeOnResolve bool `toml:"clear_dispute_on_resolve" yaml:"clear_dispute_on_resolve"`
	EmitReadEvents        bool `toml:"emit_read_events" yaml:"emit_read_events"`
}

// Pauses seeds the module pause switches.
type Pauses struct {
	Escrow bool `toml:"escrow" yaml:"escrow"`
	Users  bool `toml:"users" yaml:"users"`
}

// Quota bounds how many engagements and registrations one originator may
// create per epoch. Zero disables the quota.
type Quota struct {
	MaxRequestsPerEpoch uint32 `toml:"max_requests_per_epoch" yaml:"max_requests_per_epoch"`
	EpochSeconds        uint32 `toml:"epoch_seconds" yaml:"epoch_seconds"`
}
