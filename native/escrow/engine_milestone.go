package escrow

import (
	"context"
	"fmt"

	"engagement/core/types"
)

// ChangeMilestoneStatus replaces the status text of the milestone at index.
// Only the service provider may report progress.
func (e *Engine) ChangeMilestoneStatus(ctx context.Context, engagementID string, index int, newStatus string, serviceProvider [20]byte) error {
	var status string
	return e.updateMilestone(ctx, engagementID, index, func(esc *Escrow) error {
		if serviceProvider != esc.ServiceProvider {
			return ErrOnlyServiceProviderChangeMilstoneStatus
		}
		if err := e.requireAuth(ctx, serviceProvider); err != nil {
			return err
		}
		normalized, err := NormalizeMilestoneText(newStatus)
		if err != nil {
			return err
		}
		status = normalized
		return nil
	}, func(m *Milestone) {
		m.Status = status
	}, NewMilestoneStatusChangedEvent)
}

// ChangeMilestoneFlag sets the completion attestation of the milestone at
// index. Only the client may attest.
func (e *Engine) ChangeMilestoneFlag(ctx context.Context, engagementID string, index int, newFlag bool, client [20]byte) error {
	return e.updateMilestone(ctx, engagementID, index, func(esc *Escrow) error {
		if client != esc.Client {
			return ErrOnlyClientChangeMilstoneFlag
		}
		return e.requireAuth(ctx, client)
	}, func(m *Milestone) {
		m.Flag = newFlag
	}, NewMilestoneFlagChangedEvent)
}

// updateMilestone rewrites the whole milestone list with exactly one entry
// changed.
func (e *Engine) updateMilestone(ctx context.Context, engagementID string, index int, authorize func(*Escrow) error, mutate func(*Milestone), event func(*Escrow, int) *types.Event) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard(); err != nil {
		return err
	}
	id, err := NormalizeEngagementID(engagementID)
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	esc, err := e.loadEscrow(ctx, id)
	if err != nil {
		return err
	}
	if esc.EngagementID != id {
		return newError(CodeEscrowNotInitialized, fmt.Sprintf("stored id %q", esc.EngagementID))
	}
	if err := authorize(esc); err != nil {
		return err
	}
	if esc.Distributed {
		return ErrEscrowAlreadyCompleted
	}
	if len(esc.Milestones) == 0 {
		return ErrNoMileStoneDefined
	}
	if index < 0 || index >= len(esc.Milestones) {
		return newError(CodeInvalidMileStoneIndex, fmt.Sprintf("index %d outside [0,%d)", index, len(esc.Milestones)))
	}
	milestones := append([]Milestone(nil), esc.Milestones...)
	mutate(&milestones[index])
	esc.Milestones = milestones
	seq, err := e.commit(ctx, esc, nil)
	if err != nil {
		return err
	}
	e.emit(event(esc, index), seq)
	return nil
}
