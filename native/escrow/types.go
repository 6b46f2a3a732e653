package escrow

import (
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// BasisPointScale is the denominator of every fee rate.
	BasisPointScale = 10_000
	// ProtocolFeeBps is the fixed protocol commission (0.3%).
	ProtocolFeeBps = 30

	MaxEngagementIDLength = 128
	MaxMilestoneText      = 256
	MaxMilestones         = 64
)

// Milestone is a unit of work inside an engagement. Description is fixed at
// creation, Status is free-form provider text and Flag is the client's
// completion attestation.
type Milestone struct {
	Description string
	Status      string
	Flag        bool
}

// Escrow captures the parties, value and progress of a single engagement.
// Funding is not tracked on the record: the vault balance for the engagement
// is the source of truth.
type Escrow struct {
	EngagementID    string
	Client          [20]byte
	ServiceProvider [20]byte
	PlatformAddress [20]byte
	ReleaseSigner   [20]byte
	DisputeResolver [20]byte
	Amount          *big.Int
	PlatformFee     uint32
	Milestones      []Milestone
	DisputeFlag     bool
	Distributed     bool
	CreatedAt       int64
	UpdatedAt       int64
	Sequence        uint64
	Version         uint64
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	if e.Milestones != nil {
		clone.Milestones = append([]Milestone(nil), e.Milestones...)
	}
	return &clone
}

// Completed reports whether every milestone carries the client flag. An
// escrow without milestones is never complete.
func (e *Escrow) Completed() bool {
	if e == nil || len(e.Milestones) == 0 {
		return false
	}
	for _, m := range e.Milestones {
		if !m.Flag {
			return false
		}
	}
	return true
}

// Params is the full mutable definition of an escrow, used both at
// initialisation and for wholesale property replacement.
type Params struct {
	EngagementID    string
	Client          [20]byte
	ServiceProvider [20]byte
	PlatformAddress [20]byte
	ReleaseSigner   [20]byte
	DisputeResolver [20]byte
	Amount          *big.Int
	PlatformFee     uint32
	Milestones      []Milestone
}

// NormalizeEngagementID trims the identifier and enforces its length bounds.
func NormalizeEngagementID(id string) (string, error) {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return "", newError(CodeInvalidEngagementID, "engagement id required")
	}
	if len(trimmed) > MaxEngagementIDLength {
		return "", newError(CodeInvalidEngagementID, fmt.Sprintf("engagement id exceeds %d bytes", MaxEngagementIDLength))
	}
	return trimmed, nil
}

// NormalizeMilestoneText trims surrounding whitespace, applies NFC
// normalisation and bounds the length of operator-facing milestone strings.
// The conversion is lossy: stored text may differ byte-wise from the input.
func NormalizeMilestoneText(value string) (string, error) {
	if !utf8.ValidString(value) {
		return "", newError(CodeInvalidMilestone, "milestone text must be valid UTF-8")
	}
	normalized := norm.NFC.String(strings.TrimSpace(value))
	if len(normalized) > MaxMilestoneText {
		return "", newError(CodeInvalidMilestone, fmt.Sprintf("milestone text exceeds %d bytes", MaxMilestoneText))
	}
	return normalized, nil
}

// SanitizeParams validates p and returns a normalised copy.
func SanitizeParams(p Params) (Params, error) {
	id, err := NormalizeEngagementID(p.EngagementID)
	if err != nil {
		return Params{}, err
	}
	out := p
	out.EngagementID = id
	if p.Amount == nil || p.Amount.Sign() == 0 {
		return Params{}, ErrAmountCannotBeZero
	}
	if p.Amount.Sign() < 0 {
		return Params{}, newError(CodeInvalidAmount, "amount must be positive")
	}
	if p.PlatformFee > BasisPointScale {
		return Params{}, newError(CodeInvalidPlatformFee, fmt.Sprintf("platform fee %d bps out of range", p.PlatformFee))
	}
	if p.PlatformFee+ProtocolFeeBps > BasisPointScale {
		return Params{}, ErrInvalidFeeConfiguration
	}
	if len(p.Milestones) > MaxMilestones {
		return Params{}, newError(CodeInvalidMilestone, fmt.Sprintf("at most %d milestones allowed", MaxMilestones))
	}
	out.Amount = cloneBigInt(p.Amount)
	out.Milestones = make([]Milestone, len(p.Milestones))
	for i, m := range p.Milestones {
		desc, err := NormalizeMilestoneText(m.Description)
		if err != nil {
			return Params{}, err
		}
		status, err := NormalizeMilestoneText(m.Status)
		if err != nil {
			return Params{}, err
		}
		out.Milestones[i] = Milestone{Description: desc, Status: status, Flag: m.Flag}
	}
	return out, nil
}

func (p Params) apply(esc *Escrow) {
	esc.EngagementID = p.EngagementID
	esc.Client = p.Client
	esc.ServiceProvider = p.ServiceProvider
	esc.PlatformAddress = p.PlatformAddress
	esc.ReleaseSigner = p.ReleaseSigner
	esc.DisputeResolver = p.DisputeResolver
	esc.Amount = cloneBigInt(p.Amount)
	esc.PlatformFee = p.PlatformFee
	esc.Milestones = append([]Milestone(nil), p.Milestones...)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
