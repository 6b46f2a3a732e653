package main

import (
	"fmt"
	"math/big"
	"strings"

	"engagement/crypto"
)

type mint struct {
	asset  [20]byte
	owner  [20]byte
	amount *big.Int
}

// mintFlags collects -dev-mint asset:owner:amount values.
type mintFlags []mint

func (m *mintFlags) String() string {
	parts := make([]string, len(*m))
	for i, entry := range *m {
		parts[i] = fmt.Sprintf("%s:%s:%s", crypto.FormatIdentity(entry.asset), crypto.FormatIdentity(entry.owner), entry.amount)
	}
	return strings.Join(parts, ",")
}

func (m *mintFlags) Set(value string) error {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return fmt.Errorf("expected asset:owner:amount, got %q", value)
	}
	asset, err := crypto.ParseIdentity(parts[0])
	if err != nil {
		return fmt.Errorf("asset: %w", err)
	}
	owner, err := crypto.ParseIdentity(parts[1])
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(parts[2]), 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be a positive integer, got %q", parts[2])
	}
	*m = append(*m, mint{asset: asset, owner: owner, amount: amount})
	return nil
}
