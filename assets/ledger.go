// Package assets implements the asset transfer services that custody
// engagement funds.
package assets

import (
	"errors"
	"math/big"
)

var (
	ErrInsufficientBalance   = errors.New("assets: insufficient balance")
	ErrInsufficientAllowance = errors.New("assets: insufficient allowance")
	ErrInvalidAmount         = errors.New("assets: invalid amount")
	ErrAllowanceExpired      = errors.New("assets: expiration ledger already passed")
	ErrNoSigner              = errors.New("assets: no signing key for account")
)

// Transfer is one leg of a settlement.
type Transfer struct {
	From   [20]byte
	To     [20]byte
	Amount *big.Int
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}
