package escrow

import (
	"math/big"

	"github.com/holiman/uint256"
)

// FeeSplit is the three-way distribution of an escrow amount.
type FeeSplit struct {
	Protocol *big.Int
	Platform *big.Int
	Provider *big.Int
}

// Total returns the sum of all legs.
func (s FeeSplit) Total() *big.Int {
	total := new(big.Int).Add(cloneBigInt(s.Protocol), cloneBigInt(s.Platform))
	return total.Add(total, cloneBigInt(s.Provider))
}

// SplitEarnings computes the protocol, platform and provider shares of amount.
// Both commissions round down; the provider receives the remainder so the legs
// always sum to amount. A negative remainder fails closed.
func SplitEarnings(amount *big.Int, platformFeeBps uint32) (FeeSplit, error) {
	if amount == nil || amount.Sign() == 0 {
		return FeeSplit{}, ErrAmountCannotBeZero
	}
	if amount.Sign() < 0 {
		return FeeSplit{}, newError(CodeInvalidAmount, "amount must be positive")
	}
	if platformFeeBps > BasisPointScale {
		return FeeSplit{}, ErrInvalidPlatformFee
	}
	total, overflow := uint256.FromBig(amount)
	if overflow {
		return FeeSplit{}, newError(CodeInvalidAmount, "amount exceeds 256 bits")
	}
	protocol, err := bpsShare(total, ProtocolFeeBps)
	if err != nil {
		return FeeSplit{}, err
	}
	platform, err := bpsShare(total, platformFeeBps)
	if err != nil {
		return FeeSplit{}, err
	}
	fees, overflow := new(uint256.Int).AddOverflow(protocol, platform)
	if overflow {
		return FeeSplit{}, ErrInvalidFeeConfiguration
	}
	provider, underflow := new(uint256.Int).SubOverflow(total, fees)
	if underflow {
		return FeeSplit{}, ErrInvalidFeeConfiguration
	}
	return FeeSplit{
		Protocol: protocol.ToBig(),
		Platform: platform.ToBig(),
		Provider: provider.ToBig(),
	}, nil
}

func bpsShare(amount *uint256.Int, bps uint32) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(amount, uint256.NewInt(uint64(bps)))
	if overflow {
		return nil, newError(CodeInvalidAmount, "fee computation overflow")
	}
	return product.Div(product, uint256.NewInt(BasisPointScale)), nil
}
