package escrow

import (
	"context"
	"math/big"
)

// ChangeDisputeFlag freezes the escrow for arbitration. Only the configured
// dispute resolver may raise the flag. Distributed escrows may still be
// flagged so the resolver can return whatever remains in the vault.
func (e *Engine) ChangeDisputeFlag(ctx context.Context, engagementID string, caller [20]byte) error {
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
	if caller != esc.DisputeResolver {
		return ErrOnlyDisputeResolverCanExecuteThisFunction
	}
	if err := e.requireAuth(ctx, caller); err != nil {
		return err
	}
	if esc.DisputeFlag {
		return ErrEscrowAlreadyInDispute
	}
	esc.DisputeFlag = true
	seq, err := e.commit(ctx, esc, nil)
	if err != nil {
		return err
	}
	e.emit(NewDisputeFlaggedEvent(esc, caller), seq)
	return nil
}

// ResolvingDisputes pays clientFunds to the client and serviceProviderFunds to
// the service provider out of the vault. The split is at the resolver's
// discretion and may leave a remainder in the vault. The dispute flag stays
// set unless the engine is configured to clear it.
func (e *Engine) ResolvingDisputes(ctx context.Context, engagementID string, resolver, asset [20]byte, clientFunds, serviceProviderFunds *big.Int) error {
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
	if err := e.requireAuth(ctx, resolver); err != nil {
		return err
	}
	if resolver != esc.DisputeResolver {
		return ErrOnlyDisputeResolverCanExecuteThisFunction
	}
	if !esc.DisputeFlag {
		return ErrEscrowNotInDispute
	}
	toClient := cloneBigInt(clientFunds)
	toProvider := cloneBigInt(serviceProviderFunds)
	if toClient.Sign() < 0 || toProvider.Sign() < 0 {
		return newError(CodeInvalidAmount, "resolution amounts must not be negative")
	}
	vault, balance, err := e.vaultBalance(ctx, esc, asset)
	if err != nil {
		return err
	}
	total := new(big.Int).Add(toClient, toProvider)
	if total.Cmp(balance) > 0 {
		return ErrInsufficientFundsForResolution
	}

	s := e.newSettlement(asset)
	s.add(vault, esc.Client, toClient)
	s.add(vault, esc.ServiceProvider, toProvider)
	if e.cfg.ClearDisputeOnResolve {
		esc.DisputeFlag = false
	}
	seq, err := e.commit(ctx, esc, s)
	if err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(esc, asset, toClient, toProvider), seq)
	return nil
}
