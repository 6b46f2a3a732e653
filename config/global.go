package config

import (
	"path/filepath"
	"time"

	"engagement/native/common"
	"engagement/native/escrow"
	"engagement/native/users"
)

// EscrowConfig returns the escrow manager policy.
func (c *Config) EscrowConfig() escrow.Config {
	return escrow.Config{
		ClearDisputeOnResolve: c.Escrow.ClearDisputeOnResolve,
		EmitReadEvents:        c.Escrow.EmitReadEvents,
	}
}

// PauseMap seeds common.NewPauses.
func (c *Config) PauseMap() map[string]bool {
	return map[string]bool{
		escrow.ModuleName: c.Pauses.Escrow,
		users.ModuleName:  c.Pauses.Users,
	}
}

// CreateQuota is the per-originator quota on escrow_initialize and
// user_register.
func (c *Config) CreateQuota() common.Quota {
	return common.Quota{
		MaxRequestsPerEpoch: c.Quota.MaxRequestsPerEpoch,
		EpochSeconds:        c.Quota.EpochSeconds,
	}
}

// IndexDSN defaults the sqlite index into the data directory.
func (c *Config) IndexDSN() string {
	if c.Index.DSN != "" || c.Index.Driver != "sqlite" {
		return c.Index.DSN
	}
	if c.Storage.Backend == "memory" {
		return "file:engagement-index?mode=memory&cache=shared"
	}
	return filepath.Join(c.DataDir, "index.db")
}

// AuditPath defaults the audit database into the data directory.
func (c *Config) AuditPath() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	if c.Storage.Backend == "memory" {
		return ":memory:"
	}
	return filepath.Join(c.DataDir, "audit.db")
}

func (c *Config) ClockSkew() time.Duration {
	return time.Duration(c.Auth.ClockSkewSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Auth.TokenTTLSeconds) * time.Second
}

func (c *Config) ReceiptTimeout() time.Duration {
	return time.Duration(c.Ledger.ReceiptTimeoutSeconds) * time.Second
}
