package escrow

import (
	"context"
	"math/big"
)

// InitializeEscrow stores a new escrow for p.EngagementID. Anyone may
// originate an engagement, so no authorization is required. The id must not
// be in use.
func (e *Engine) InitializeEscrow(ctx context.Context, p Params) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	if err := e.guard(); err != nil {
		return "", err
	}
	params, err := SanitizeParams(p)
	if err != nil {
		return "", err
	}
	unlock := e.locks.Lock(params.EngagementID)
	defer unlock()

	_, exists, err := e.state.EscrowGet(ctx, params.EngagementID)
	if err != nil {
		return "", err
	}
	if exists {
		return "", newError(CodeEscrowAlreadyInitialized, params.EngagementID)
	}
	esc := &Escrow{CreatedAt: e.now()}
	params.apply(esc)
	esc.DisputeFlag = false
	seq, err := e.commit(ctx, esc, nil)
	if err != nil {
		return "", err
	}
	e.emit(NewInitializedEvent(esc), seq)
	return esc.EngagementID, nil
}

// FundEscrow moves amountToDeposit of asset from signer into the engagement
// vault. Deposits accumulate until the vault holds the escrow amount and may
// never exceed what is still outstanding; the live vault balance is the only
// funding record.
func (e *Engine) FundEscrow(ctx context.Context, engagementID string, signer, asset [20]byte, amountToDeposit *big.Int) error {
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
	if err := e.requireAuth(ctx, signer); err != nil {
		return err
	}
	if signer != esc.ReleaseSigner {
		return ErrOnlySignerCanFundEscrow
	}
	if esc.DisputeFlag {
		return ErrEscrowOpenedForDisputeResolution
	}
	if esc.Distributed {
		return ErrEscrowAlreadyCompleted
	}
	vault, balance, err := e.vaultBalance(ctx, esc, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(esc.Amount) >= 0 {
		return ErrEscrowFullyFunded
	}
	if amountToDeposit == nil || amountToDeposit.Sign() == 0 {
		return ErrAmountCannotBeZero
	}
	if amountToDeposit.Sign() < 0 {
		return newError(CodeInvalidAmount, "deposit must be positive")
	}
	outstanding := new(big.Int).Sub(esc.Amount, balance)
	if amountToDeposit.Cmp(outstanding) > 0 {
		return ErrAmountToDepositGreatherThanEscrowAmount
	}
	signerBalance, err := e.ledger.Balance(ctx, asset, signer)
	if err != nil {
		return err
	}
	if signerBalance == nil || signerBalance.Cmp(amountToDeposit) < 0 {
		return ErrSignerInsufficientFunds
	}

	s := e.newSettlement(asset)
	s.add(signer, vault, amountToDeposit)
	seq, err := e.commit(ctx, esc, s)
	if err != nil {
		return err
	}
	e.emit(NewFundedEvent(esc, signer, asset, amountToDeposit, new(big.Int).Add(balance, amountToDeposit)), seq)
	return nil
}

// DistributeEscrowEarnings pays out a completed escrow: the protocol fee to
// protocolFeeRecipient, the platform fee to the platform address and the
// remainder to the service provider, in that order.
func (e *Engine) DistributeEscrowEarnings(ctx context.Context, engagementID string, releaseSigner, asset, protocolFeeRecipient [20]byte) error {
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
	if err := e.requireAuth(ctx, releaseSigner); err != nil {
		return err
	}
	if releaseSigner != esc.ReleaseSigner {
		return ErrOnlyReleaseSignerCanClaimEarnings
	}
	if len(esc.Milestones) == 0 {
		return ErrNoMileStoneDefined
	}
	if !esc.Completed() {
		return ErrEscrowNotCompleted
	}
	if esc.DisputeFlag {
		return ErrInvalidState
	}
	if esc.Distributed {
		return ErrEscrowAlreadyCompleted
	}
	vault, balance, err := e.vaultBalance(ctx, esc, asset)
	if err != nil {
		return err
	}
	if balance.Cmp(esc.Amount) < 0 {
		return ErrEscrowBalanceNotSufficienteToSendEarnings
	}
	split, err := SplitEarnings(esc.Amount, esc.PlatformFee)
	if err != nil {
		return err
	}

	s := e.newSettlement(asset)
	s.add(vault, protocolFeeRecipient, split.Protocol)
	s.add(vault, esc.PlatformAddress, split.Platform)
	s.add(vault, esc.ServiceProvider, split.Provider)
	esc.Distributed = true
	seq, err := e.commit(ctx, esc, s)
	if err != nil {
		return err
	}
	e.emit(NewDistributedEvent(esc, asset, protocolFeeRecipient, split), seq)
	return nil
}

// ChangeEscrowProperties replaces every mutable field of the escrow. The
// supplied platform address must match the stored one before authorization
// is attempted. The dispute flag is always reset.
func (e *Engine) ChangeEscrowProperties(ctx context.Context, p Params) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard(); err != nil {
		return err
	}
	id, err := NormalizeEngagementID(p.EngagementID)
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(id)
	defer unlock()

	esc, err := e.loadEscrow(ctx, id)
	if err != nil {
		return err
	}
	if p.PlatformAddress != esc.PlatformAddress {
		return ErrOnlyPlatformAddressExecuteThisFunction
	}
	if err := e.requireAuth(ctx, esc.PlatformAddress); err != nil {
		return err
	}
	if esc.Distributed {
		return ErrEscrowAlreadyCompleted
	}
	p.EngagementID = id
	params, err := SanitizeParams(p)
	if err != nil {
		return err
	}
	params.apply(esc)
	esc.DisputeFlag = false
	seq, err := e.commit(ctx, esc, nil)
	if err != nil {
		return err
	}
	e.emit(NewPropertiesChangedEvent(esc), seq)
	return nil
}

// GetEscrowByID returns a copy of the stored escrow.
func (e *Engine) GetEscrowByID(ctx context.Context, engagementID string) (*Escrow, error) {
	esc, err := e.loadEscrow(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	if e.cfg.EmitReadEvents {
		e.emit(NewReadEvent(esc), esc.Sequence)
	}
	return esc.Clone(), nil
}

// VaultAddress returns the custody account of the engagement.
func (e *Engine) VaultAddress(engagementID string) ([20]byte, error) {
	if e == nil || e.ledger == nil {
		return [20]byte{}, errNilLedger
	}
	id, err := NormalizeEngagementID(engagementID)
	if err != nil {
		return [20]byte{}, err
	}
	return e.ledger.VaultAddress(id)
}

// VaultBalance returns the live asset balance held for the engagement.
func (e *Engine) VaultBalance(ctx context.Context, engagementID string, asset [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	esc, err := e.loadEscrow(ctx, engagementID)
	if err != nil {
		return nil, err
	}
	_, balance, err := e.vaultBalance(ctx, esc, asset)
	return balance, err
}
