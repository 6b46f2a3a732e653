package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ENGAGEMENT_"

type envBinding struct {
	name  string
	apply func(c *Config, value string) error
}

func stringVar(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, value string) error {
		*dst(c) = value
		return nil
	}
}

func boolVar(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, value string) error {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		*dst(c) = parsed
		return nil
	}
}

func uint32Var(dst func(*Config) *uint32) func(*Config, string) error {
	return func(c *Config, value string) error {
		parsed, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		*dst(c) = uint32(parsed)
		return nil
	}
}

var envBindings = []envBinding{
	{"LISTEN_ADDRESS", stringVar(func(c *Config) *string { return &c.ListenAddress })},
	{"DATA_DIR", stringVar(func(c *Config) *string { return &c.DataDir })},
	{"ENV", stringVar(func(c *Config) *string { return &c.Environment })},
	{"STORAGE_BACKEND", stringVar(func(c *Config) *string { return &c.Storage.Backend })},
	{"INDEX_DRIVER", stringVar(func(c *Config) *string { return &c.Index.Driver })},
	{"INDEX_DSN", stringVar(func(c *Config) *string { return &c.Index.DSN })},
	{"AUDIT_PATH", stringVar(func(c *Config) *string { return &c.Audit.Path })},
	{"LEDGER_KIND", stringVar(func(c *Config) *string { return &c.Ledger.Kind })},
	{"LEDGER_RPC_URL", stringVar(func(c *Config) *string { return &c.Ledger.RPCURL })},
	{"LEDGER_KEYSTORE", stringVar(func(c *Config) *string { return &c.Ledger.KeystorePath })},
	{"AUTH_ENABLED", boolVar(func(c *Config) *bool { return &c.Auth.Enabled })},
	{"AUTH_HMAC_SECRET", stringVar(func(c *Config) *string { return &c.Auth.HMACSecret })},
	{"AUTH_ISSUER", stringVar(func(c *Config) *string { return &c.Auth.Issuer })},
	{"AUTH_AUDIENCE", stringVar(func(c *Config) *string { return &c.Auth.Audience })},
	{"LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FILE", stringVar(func(c *Config) *string { return &c.Logging.File })},
	{"OTEL_ENDPOINT", stringVar(func(c *Config) *string { return &c.Telemetry.Endpoint })},
	{"OTEL_HEADERS", stringVar(func(c *Config) *string { return &c.Telemetry.Headers })},
	{"OTEL_TRACES", boolVar(func(c *Config) *bool { return &c.Telemetry.Traces })},
	{"OTEL_METRICS", boolVar(func(c *Config) *bool { return &c.Telemetry.Metrics })},
	{"ESCROW_CLEAR_DISPUTE_ON_RESOLVE", boolVar(func(c *Config) *bool { return &c.Escrow.ClearDisputeOnResolve })},
	{"ESCROW_EMIT_READ_EVENTS", boolVar(func(c *Config) *bool { return &c.Escrow.EmitReadEvents })},
	{"PAUSE_ESCROW", boolVar(func(c *Config) *bool { return &c.Pauses.Escrow })},
	{"PAUSE_USERS", boolVar(func(c *Config) *bool { return &c.Pauses.Users })},
	{"QUOTA_MAX_REQUESTS", uint32Var(func(c *Config) *uint32 { return &c.Quota.MaxRequestsPerEpoch })},
	{"QUOTA_EPOCH_SECONDS", uint32Var(func(c *Config) *uint32 { return &c.Quota.EpochSeconds })},
}

// applyEnv overlays ENGAGEMENT_* variables. Empty values are ignored.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	for _, binding := range envBindings {
		value, ok := lookup(EnvPrefix + binding.name)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if err := binding.apply(c, value); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, binding.name, err)
		}
	}
	return nil
}
