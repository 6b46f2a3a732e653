package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"engagement/crypto"
	"engagement/native/escrow"
)

// decodeParams accepts either a single parameter object or a one-element
// positional array holding it.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	raw := bytes.TrimSpace(req.Params)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return invalidParams("parameter object required")
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return invalidParams(err.Error())
		}
		if len(list) != 1 {
			return invalidParams("exactly one parameter object expected")
		}
		raw = list[0]
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func parseAddress(field, value string) ([20]byte, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, invalidParams(field + " required")
	}
	addr, err := crypto.ParseIdentity(trimmed)
	if err != nil {
		return [20]byte{}, invalidParams(fmt.Sprintf("%s: %v", field, err))
	}
	return addr, nil
}

// parseAmount reads a base-10 (or 0x-prefixed) integer. Sign and zero checks
// are left to the managers so their error codes reach the caller.
func parseAmount(field, value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams(field + " required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 0)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("%s: invalid integer %q", field, trimmed))
	}
	return amount, nil
}

func requireID(id string) (string, *RPCError) {
	normalized, err := escrow.NormalizeEngagementID(id)
	if err != nil {
		return "", invalidParams(err.Error())
	}
	return normalized, nil
}

type milestoneJSON struct {
	Description string `json:"description"`
	Status      string `json:"status"`
	Flag        bool   `json:"flag"`
}

// escrowParamsJSON is the full escrow definition shared by initialize and
// changeProperties.
type escrowParamsJSON struct {
	ID              string          `json:"id"`
	Client          string          `json:"client"`
	ServiceProvider string          `json:"serviceProvider"`
	PlatformAddress string          `json:"platformAddress"`
	Amount          string          `json:"amount"`
	PlatformFeeBps  uint32          `json:"platformFeeBps"`
	Milestones      []milestoneJSON `json:"milestones"`
	ReleaseSigner   string          `json:"releaseSigner"`
	DisputeResolver string          `json:"disputeResolver"`
}

func (p escrowParamsJSON) toParams() (escrow.Params, *RPCError) {
	var out escrow.Params
	var rpcErr *RPCError
	out.EngagementID = p.ID
	fields := []struct {
		name  string
		value string
		dst   *[20]byte
	}{
		{"client", p.Client, &out.Client},
		{"serviceProvider", p.ServiceProvider, &out.ServiceProvider},
		{"platformAddress", p.PlatformAddress, &out.PlatformAddress},
		{"releaseSigner", p.ReleaseSigner, &out.ReleaseSigner},
		{"disputeResolver", p.DisputeResolver, &out.DisputeResolver},
	}
	for _, f := range fields {
		if *f.dst, rpcErr = parseAddress(f.name, f.value); rpcErr != nil {
			return escrow.Params{}, rpcErr
		}
	}
	if out.Amount, rpcErr = parseAmount("amount", p.Amount); rpcErr != nil {
		return escrow.Params{}, rpcErr
	}
	out.PlatformFee = p.PlatformFeeBps
	out.Milestones = make([]escrow.Milestone, len(p.Milestones))
	for i, m := range p.Milestones {
		out.Milestones[i] = escrow.Milestone{Description: m.Description, Status: m.Status, Flag: m.Flag}
	}
	return out, nil
}

type escrowJSON struct {
	EngagementID    string          `json:"engagementId"`
	Client          string          `json:"client"`
	ServiceProvider string          `json:"serviceProvider"`
	PlatformAddress string          `json:"platformAddress"`
	ReleaseSigner   string          `json:"releaseSigner"`
	DisputeResolver string          `json:"disputeResolver"`
	Amount          string          `json:"amount"`
	PlatformFeeBps  uint32          `json:"platformFeeBps"`
	Milestones      []milestoneJSON `json:"milestones"`
	DisputeFlag     bool            `json:"disputeFlag"`
	Distributed     bool            `json:"distributed"`
	CreatedAt       int64           `json:"createdAt"`
	UpdatedAt       int64           `json:"updatedAt"`
	Sequence        uint64          `json:"sequence"`
	Vault           string          `json:"vault,omitempty"`
}

func formatEscrowJSON(esc *escrow.Escrow, vault *[20]byte) escrowJSON {
	out := escrowJSON{
		EngagementID:    esc.EngagementID,
		Client:          crypto.FormatIdentity(esc.Client),
		ServiceProvider: crypto.FormatIdentity(esc.ServiceProvider),
		PlatformAddress: crypto.FormatIdentity(esc.PlatformAddress),
		ReleaseSigner:   crypto.FormatIdentity(esc.ReleaseSigner),
		DisputeResolver: crypto.FormatIdentity(esc.DisputeResolver),
		Amount:          "0",
		PlatformFeeBps:  esc.PlatformFee,
		Milestones:      make([]milestoneJSON, len(esc.Milestones)),
		DisputeFlag:     esc.DisputeFlag,
		Distributed:     esc.Distributed,
		CreatedAt:       esc.CreatedAt,
		UpdatedAt:       esc.UpdatedAt,
		Sequence:        esc.Sequence,
	}
	if esc.Amount != nil {
		out.Amount = esc.Amount.String()
	}
	for i, m := range esc.Milestones {
		out.Milestones[i] = milestoneJSON{Description: m.Description, Status: m.Status, Flag: m.Flag}
	}
	if vault != nil {
		out.Vault = crypto.FormatIdentity(*vault)
	}
	return out
}

func formatAddress(addr [20]byte) string { return crypto.FormatIdentity(addr) }

var (
	errNoTokens = errors.New("token service not configured")
	errNoIndex  = errors.New("party index not configured")
	errNoUsers  = errors.New("user registry not configured")
)
