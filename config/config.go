package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddress string      `toml:"listen_address" yaml:"listen_address"`
	DataDir       string      `toml:"data_dir" yaml:"data_dir"`
	Environment   string      `toml:"environment" yaml:"environment"`
	Storage       Storage     `toml:"storage" yaml:"storage"`
	Index         Index       `toml:"index" yaml:"index"`
	Audit         Audit       `toml:"audit" yaml:"audit"`
	Ledger        Ledger      `toml:"ledger" yaml:"ledger"`
	Auth          Auth        `toml:"auth" yaml:"auth"`
	RateLimits    []RateLimit `toml:"rate_limits" yaml:"rate_limits"`
	CORS          CORS        `toml:"cors" yaml:"cors"`
	Logging       Logging     `toml:"logging" yaml:"logging"`
	Telemetry     Telemetry   `toml:"telemetry" yaml:"telemetry"`
	Escrow        Escrow      `toml:"escrow" yaml:"escrow"`
	Pauses        Pauses      `toml:"pauses" yaml:"pauses"`
	Quota         Quota       `toml:"quota" yaml:"quota"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		ListenAddress: ":8080",
		DataDir:       "./engagement-data",
		Environment:   "local",
		Storage:       Storage{Backend: "leveldb"},
		Index:         Index{Driver: "sqlite"},
		Ledger:        Ledger{Kind: "memory", ReceiptTimeoutSeconds: 120},
		Auth: Auth{
			Enabled:          true,
			Issuer:           "engagementd",
			Audience:         "engagement-rpc",
			ScopeClaim:       "scope",
			ClockSkewSeconds: 120,
			TokenTTLSeconds:  3600,
		},
		RateLimits: []RateLimit{
			{ID: "rpc", RequestsPerMinute: 600, Burst: 60},
			{ID: "escrows", RequestsPerMinute: 1200, Burst: 120},
			{ID: "events", RequestsPerMinute: 30, Burst: 5},
		},
		CORS:    CORS{AllowedOrigins: []string{}},
		Logging: Logging{Level: "info"},
		Quota:   Quota{MaxRequestsPerEpoch: 0, EpochSeconds: 3600},
	}
}

// Load reads the configuration at path. Files ending in .yaml or .yml are
// decoded as YAML, anything else as TOML. A missing file is created with
// defaults and a fresh token secret. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	var cfg *Config
	switch {
	case strings.TrimSpace(path) == "":
		cfg = Default()
	default:
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			created, err := createDefault(path)
			if err != nil {
				return nil, err
			}
			cfg = created
		} else if err != nil {
			return nil, err
		} else {
			decoded, err := decodeFile(path)
			if err != nil {
				return nil, err
			}
			cfg = decoded
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	cfg := Default()
	if isYAML(path) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = def.ListenAddress
	}
	if strings.TrimSpace(c.Storage.Backend) == "" {
		c.Storage.Backend = "memory"
	}
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if strings.TrimSpace(c.Index.Driver) == "" {
		c.Index.Driver = def.Index.Driver
	}
	c.Index.Driver = strings.ToLower(strings.TrimSpace(c.Index.Driver))
	if strings.TrimSpace(c.Ledger.Kind) == "" {
		c.Ledger.Kind = def.Ledger.Kind
	}
	c.Ledger.Kind = strings.ToLower(strings.TrimSpace(c.Ledger.Kind))
	if c.Ledger.ReceiptTimeoutSeconds == 0 {
		c.Ledger.ReceiptTimeoutSeconds = def.Ledger.ReceiptTimeoutSeconds
	}
	if c.Auth.ScopeClaim == "" {
		c.Auth.ScopeClaim = def.Auth.ScopeClaim
	}
	if c.Auth.TokenTTLSeconds == 0 {
		c.Auth.TokenTTLSeconds = def.Auth.TokenTTLSeconds
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Quota.MaxRequestsPerEpoch > 0 && c.Quota.EpochSeconds == 0 {
		c.Quota.EpochSeconds = def.Quota.EpochSeconds
	}
	if c.CORS.AllowedOrigins == nil {
		c.CORS.AllowedOrigins = []string{}
	}
}

// createDefault writes a default configuration to path.
func createDefault(path string) (*Config, error) {
	secret, err := randomSecret()
	if err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.Auth.HMACSecret = secret
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
