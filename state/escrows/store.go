// Package escrows stores escrow records as RLP under escrow/<engagement_id>.
package escrows

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"engagement/native/escrow"
	"engagement/state"
)

const keyPrefix = "escrow/"

var errNilRecord = errors.New("escrows: nil record")

type storedMilestone struct {
	Description string
	Status      string
	Flag        bool
}

// storedEscrow is the persisted layout. RLP has no signed integers, so
// timestamps are stored unsigned.
type storedEscrow struct {
	EngagementID    string
	Client          [20]byte
	ServiceProvider [20]byte
	PlatformAddress [20]byte
	ReleaseSigner   [20]byte
	DisputeResolver [20]byte
	Amount          *big.Int
	PlatformFee     uint32
	Milestones      []storedMilestone
	DisputeFlag     bool
	Distributed     bool
	CreatedAt       uint64
	UpdatedAt       uint64
	Sequence        uint64
	Version         uint64
}

func newStoredEscrow(esc *escrow.Escrow) *storedEscrow {
	out := &storedEscrow{
		EngagementID:    esc.EngagementID,
		Client:          esc.Client,
		ServiceProvider: esc.ServiceProvider,
		PlatformAddress: esc.PlatformAddress,
		ReleaseSigner:   esc.ReleaseSigner,
		DisputeResolver: esc.DisputeResolver,
		Amount:          new(big.Int),
		PlatformFee:     esc.PlatformFee,
		DisputeFlag:     esc.DisputeFlag,
		Distributed:     esc.Distributed,
		CreatedAt:       clampUnix(esc.CreatedAt),
		UpdatedAt:       clampUnix(esc.UpdatedAt),
		Sequence:        esc.Sequence,
		Version:         esc.Version,
	}
	if esc.Amount != nil {
		out.Amount.Set(esc.Amount)
	}
	out.Milestones = make([]storedMilestone, len(esc.Milestones))
	for i, m := range esc.Milestones {
		out.Milestones[i] = storedMilestone{Description: m.Description, Status: m.Status, Flag: m.Flag}
	}
	return out
}

func (s *storedEscrow) toEscrow() *escrow.Escrow {
	esc := &escrow.Escrow{
		EngagementID:    s.EngagementID,
		Client:          s.Client,
		ServiceProvider: s.ServiceProvider,
		PlatformAddress: s.PlatformAddress,
		ReleaseSigner:   s.ReleaseSigner,
		DisputeResolver: s.DisputeResolver,
		Amount:          new(big.Int),
		PlatformFee:     s.PlatformFee,
		DisputeFlag:     s.DisputeFlag,
		Distributed:     s.Distributed,
		CreatedAt:       int64(s.CreatedAt),
		UpdatedAt:       int64(s.UpdatedAt),
		Sequence:        s.Sequence,
		Version:         s.Version,
	}
	if s.Amount != nil {
		esc.Amount.Set(s.Amount)
	}
	esc.Milestones = make([]escrow.Milestone, len(s.Milestones))
	for i, m := range s.Milestones {
		esc.Milestones[i] = escrow.Milestone{Description: m.Description, Status: m.Status, Flag: m.Flag}
	}
	return esc
}

func clampUnix(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func key(id string) []byte { return []byte(keyPrefix + id) }

// Store persists escrows and rejects writes whose version does not follow the
// stored one.
type Store struct {
	mgr *state.Manager
	mu  sync.Mutex
}

// NewStore creates a store over mgr.
func NewStore(mgr *state.Manager) *Store {
	return &Store{mgr: mgr}
}

// EscrowGet loads the escrow stored for id.
func (s *Store) EscrowGet(_ context.Context, id string) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := s.mgr.KVGet(key(id), &stored)
	if err != nil {
		return nil, false, fmt.Errorf("escrows: decode %s: %w", id, err)
	}
	if !ok {
		return nil, false, nil
	}
	return stored.toEscrow(), true, nil
}

// EscrowPut writes esc. A new record must carry version 1; an update must
// carry the stored version plus one.
func (s *Store) EscrowPut(_ context.Context, esc *escrow.Escrow) error {
	if esc == nil {
		return errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current storedEscrow
	ok, err := s.mgr.KVGet(key(esc.EngagementID), &current)
	if err != nil {
		return fmt.Errorf("escrows: decode %s: %w", esc.EngagementID, err)
	}
	var expected uint64 = 1
	if ok {
		expected = current.Version + 1
	}
	if esc.Version != expected {
		return escrow.ErrConcurrentUpdate
	}
	return s.mgr.KVPut(key(esc.EngagementID), newStoredEscrow(esc))
}

// Encode returns the canonical RLP encoding of esc.
func Encode(esc *escrow.Escrow) ([]byte, error) {
	if esc == nil {
		return nil, errNilRecord
	}
	return rlp.EncodeToBytes(newStoredEscrow(esc))
}

// Digest returns the BLAKE3 hash of the canonical encoding of esc.
func Digest(esc *escrow.Escrow) ([32]byte, error) {
	encoded, err := Encode(esc)
	if err != nil {
		return [32]byte{}, err
	}
	return blake3.Sum256(encoded), nil
}
