package escrow

import (
	"math/big"
	"strconv"

	"engagement/core/types"
	"engagement/crypto"
)

const (
	EventTypeEscrowInitialized       = "escrow.initialized"
	EventTypeEscrowFunded            = "escrow.funded"
	EventTypeEscrowDistributed       = "escrow.distributed"
	EventTypeEscrowPropertiesChanged = "escrow.properties_changed"
	EventTypeEscrowRead              = "escrow.read"
	EventTypeMilestoneStatusChanged  = "escrow.milestone.status_changed"
	EventTypeMilestoneFlagChanged    = "escrow.milestone.flag_changed"
	EventTypeDisputeFlagged          = "escrow.dispute.flagged"
	EventTypeDisputeResolved         = "escrow.dispute.resolved"
)

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// NewInitializedEvent returns the payload emitted once an escrow is stored.
func NewInitializedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowInitialized, e, nil)
}

// NewFundedEvent describes a deposit into the engagement vault.
func NewFundedEvent(e *Escrow, signer, asset [20]byte, deposit, vaultBalance *big.Int) *types.Event {
	return newEscrowEvent(EventTypeEscrowFunded, e, map[string]string{
		"signer":        crypto.FormatIdentity(signer),
		"asset":         crypto.FormatIdentity(asset),
		"deposit":       cloneBigInt(deposit).String(),
		"vault_balance": cloneBigInt(vaultBalance).String(),
	})
}

// NewDistributedEvent describes the three-way payout of a completed escrow.
func NewDistributedEvent(e *Escrow, asset, protocolRecipient [20]byte, split FeeSplit) *types.Event {
	return newEscrowEvent(EventTypeEscrowDistributed, e, map[string]string{
		"asset":              crypto.FormatIdentity(asset),
		"protocol_recipient": crypto.FormatIdentity(protocolRecipient),
		"protocol_fee":       cloneBigInt(split.Protocol).String(),
		"platform_fee":       cloneBigInt(split.Platform).String(),
		"provider_amount":    cloneBigInt(split.Provider).String(),
	})
}

func NewPropertiesChangedEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowPropertiesChanged, e, nil)
}

func NewReadEvent(e *Escrow) *types.Event {
	return newEscrowEvent(EventTypeEscrowRead, e, nil)
}

func NewMilestoneStatusChangedEvent(e *Escrow, index int) *types.Event {
	return newEscrowEvent(EventTypeMilestoneStatusChanged, e, map[string]string{
		"milestone_index":  strconv.Itoa(index),
		"milestone_status": e.Milestones[index].Status,
	})
}

func NewMilestoneFlagChangedEvent(e *Escrow, index int) *types.Event {
	return newEscrowEvent(EventTypeMilestoneFlagChanged, e, map[string]string{
		"milestone_index": strconv.Itoa(index),
		"milestone_flag":  strconv.FormatBool(e.Milestones[index].Flag),
	})
}

func NewDisputeFlaggedEvent(e *Escrow, caller [20]byte) *types.Event {
	return newEscrowEvent(EventTypeDisputeFlagged, e, map[string]string{
		"caller": crypto.FormatIdentity(caller),
	})
}

func NewDisputeResolvedEvent(e *Escrow, asset [20]byte, clientFunds, providerFunds *big.Int) *types.Event {
	return newEscrowEvent(EventTypeDisputeResolved, e, map[string]string{
		"asset":                  crypto.FormatIdentity(asset),
		"client_funds":           cloneBigInt(clientFunds).String(),
		"service_provider_funds": cloneBigInt(providerFunds).String(),
	})
}

func newEscrowEvent(eventType string, e *Escrow, extra map[string]string) *types.Event {
	attrs := map[string]string{}
	if e != nil {
		attrs["engagement_id"] = e.EngagementID
		attrs["client"] = crypto.FormatIdentity(e.Client)
		attrs["service_provider"] = crypto.FormatIdentity(e.ServiceProvider)
		attrs["platform_address"] = crypto.FormatIdentity(e.PlatformAddress)
		attrs["release_signer"] = crypto.FormatIdentity(e.ReleaseSigner)
		attrs["dispute_resolver"] = crypto.FormatIdentity(e.DisputeResolver)
		attrs["amount"] = cloneBigInt(e.Amount).String()
		attrs["platform_fee_bps"] = strconv.FormatUint(uint64(e.PlatformFee), 10)
		attrs["milestones"] = strconv.Itoa(len(e.Milestones))
		attrs["dispute_flag"] = strconv.FormatBool(e.DisputeFlag)
		attrs["distributed"] = strconv.FormatBool(e.Distributed)
	}
	for k, v := range extra {
		attrs[k] = v
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
