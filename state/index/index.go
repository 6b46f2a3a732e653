// Package index maintains a relational projection of escrows by party so
// callers can list the engagements an address takes part in. It is fed from
// the event bus.
package index

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"engagement/core/events"
	"engagement/crypto"
	"engagement/native/escrow"
)

// Roles a party can hold in an engagement, named after the event attributes.
const (
	RoleClient          = "client"
	RoleServiceProvider = "service_provider"
	RolePlatform        = "platform_address"
	RoleReleaseSigner   = "release_signer"
	RoleDisputeResolver = "dispute_resolver"
)

var roles = []string{RoleClient, RoleServiceProvider, RolePlatform, RoleReleaseSigner, RoleDisputeResolver}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var ErrUnknownRole = errors.New("index: unknown role")

// Entry is one (engagement, role) row.
type Entry struct {
	EngagementID string `gorm:"primaryKey;size:128"`
	Role         string `gorm:"primaryKey;size:32;index:idx_party_role,priority:2"`
	Party        string `gorm:"size:64;index:idx_party_role,priority:1"`
	Amount       string `gorm:"size:80"`
	PlatformFee  uint32
	DisputeFlag  bool
	Distributed  bool
	Sequence     uint64 `gorm:"index"`
	UpdatedAt    time.Time
}

// TableName pins the table name independent of gorm's pluralisation.
func (Entry) TableName() string { return "escrow_parties" }

// Index projects escrow events into the party table.
type Index struct {
	db *gorm.DB
}

// Open connects to the index database. driver is "sqlite" or "postgres".
func Open(driver, dsn string) (*Index, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		if strings.TrimSpace(dsn) == "" {
			dsn = "file::memory:?cache=shared"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("index: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	return New(db)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB) (*Index, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	return &Index{db: db}, nil
}

// Close releases the underlying connection pool.
func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Upsert replaces the rows of esc unless a newer sequence is already stored.
func (i *Index) Upsert(ctx context.Context, esc *escrow.Escrow) error {
	if esc == nil {
		return nil
	}
	parties := map[string][20]byte{
		RoleClient:          esc.Client,
		RoleServiceProvider: esc.ServiceProvider,
		RolePlatform:        esc.PlatformAddress,
		RoleReleaseSigner:   esc.ReleaseSigner,
		RoleDisputeResolver: esc.DisputeResolver,
	}
	amount := "0"
	if esc.Amount != nil {
		amount = esc.Amount.String()
	}
	rows := make([]Entry, 0, len(roles))
	for _, role := range roles {
		rows = append(rows, Entry{
			EngagementID: esc.EngagementID,
			Role:         role,
			Party:        crypto.FormatIdentity(parties[role]),
			Amount:       amount,
			PlatformFee:  esc.PlatformFee,
			DisputeFlag:  esc.DisputeFlag,
			Distributed:  esc.Distributed,
			Sequence:     esc.Sequence,
			UpdatedAt:    time.Unix(esc.UpdatedAt, 0).UTC(),
		})
	}
	return i.replace(ctx, esc.EngagementID, esc.Sequence, rows)
}

func (i *Index) replace(ctx context.Context, engagementID string, sequence uint64, rows []Entry) error {
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current Entry
		err := tx.Where("engagement_id = ?", engagementID).Order("sequence desc").Limit(1).Find(&current).Error
		if err != nil {
			return err
		}
		if current.EngagementID != "" && current.Sequence >= sequence {
			return nil
		}
		if err := tx.Where("engagement_id = ?", engagementID).Delete(&Entry{}).Error; err != nil {
			return err
		}
		return tx.Create(&rows).Error
	})
}

// HandleEvent applies an escrow event published on the bus. Events without
// the full party set are ignored.
func (i *Index) HandleEvent(ctx context.Context, evt events.Event) error {
	payload, ok := events.Payload(evt)
	if !ok || !strings.HasPrefix(payload.Type, "escrow.") || payload.Type == escrow.EventTypeEscrowRead {
		return nil
	}
	id := payload.Attr("engagement_id")
	if id == "" {
		return nil
	}
	fee, _ := strconv.ParseUint(payload.Attr("platform_fee_bps"), 10, 32)
	rows := make([]Entry, 0, len(roles))
	for _, role := range roles {
		party := payload.Attr(role)
		if party == "" {
			return nil
		}
		rows = append(rows, Entry{
			EngagementID: id,
			Role:         role,
			Party:        party,
			Amount:       payload.Attr("amount"),
			PlatformFee:  uint32(fee),
			DisputeFlag:  payload.Attr("dispute_flag") == "true",
			Distributed:  payload.Attr("distributed") == "true",
			Sequence:     payload.Sequence,
			UpdatedAt:    time.Unix(payload.Timestamp, 0).UTC(),
		})
	}
	return i.replace(ctx, id, payload.Sequence, rows)
}

// List returns the engagements in which party holds role. An empty role
// matches every role.
func (i *Index) List(ctx context.Context, party, role string, limit, offset int) ([]Entry, error) {
	if role != "" && !validRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	query := i.db.WithContext(ctx).Where("party = ?", party)
	if role != "" {
		query = query.Where("role = ?", role)
	}
	var out []Entry
	err := query.Order("sequence desc").Order("engagement_id").Order("role").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

func validRole(role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
