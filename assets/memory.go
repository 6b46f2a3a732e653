package assets

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"engagement/crypto"
)

type allowanceKey struct {
	asset   [20]byte
	owner   [20]byte
	spender [20]byte
}

type allowance struct {
	amount     *big.Int
	expiration uint64
}

// MemLedger is an in-process multi-asset ledger. It backs development nodes
// and tests; balances are lost on restart.
type MemLedger struct {
	mu         sync.RWMutex
	balances   map[[20]byte]map[[20]byte]*big.Int
	allowances map[allowanceKey]allowance
	sequence   func() uint64
}

// NewMemLedger creates an empty ledger. sequence reports the current ledger
// sequence used for allowance expiry; nil disables expiry.
func NewMemLedger(sequence func() uint64) *MemLedger {
	return &MemLedger{
		balances:   make(map[[20]byte]map[[20]byte]*big.Int),
		allowances: make(map[allowanceKey]allowance),
		sequence:   sequence,
	}
}

// Mint credits amount of asset to owner.
func (l *MemLedger) Mint(asset, owner [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(asset, owner, amount)
	return nil
}

func (l *MemLedger) Balance(_ context.Context, asset, owner [20]byte) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceOf(asset, owner)), nil
}

func (l *MemLedger) Transfer(_ context.Context, asset, from, to [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balanceOf(asset, from).Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance,
			crypto.FormatIdentity(from), l.balanceOf(asset, from), amount)
	}
	l.debit(asset, from, amount)
	l.credit(asset, to, amount)
	return nil
}

// TransferBatch applies every leg or none.
func (l *MemLedger) TransferBatch(_ context.Context, asset [20]byte, legs []Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pending := make(map[[20]byte]*big.Int)
	for _, leg := range legs {
		if err := validAmount(leg.Amount); err != nil {
			return err
		}
		available, ok := pending[leg.From]
		if !ok {
			available = new(big.Int).Set(l.balanceOf(asset, leg.From))
		}
		if available.Cmp(leg.Amount) < 0 {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, crypto.FormatIdentity(leg.From))
		}
		pending[leg.From] = available.Sub(available, leg.Amount)
		incoming, ok := pending[leg.To]
		if !ok {
			incoming = new(big.Int).Set(l.balanceOf(asset, leg.To))
		}
		pending[leg.To] = incoming.Add(incoming, leg.Amount)
	}
	for _, leg := range legs {
		l.debit(asset, leg.From, leg.Amount)
		l.credit(asset, leg.To, leg.Amount)
	}
	return nil
}

func (l *MemLedger) Allowance(_ context.Context, asset, owner, spender [20]byte) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entry, ok := l.allowances[allowanceKey{asset, owner, spender}]
	if !ok || l.expired(entry) {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(entry.amount), nil
}

// Approve sets the allowance of spender over owner's asset until
// expirationLedger. A zero amount revokes the allowance.
func (l *MemLedger) Approve(_ context.Context, asset, owner, spender [20]byte, amount *big.Int, expirationLedger uint64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := allowanceKey{asset, owner, spender}
	if amount.Sign() == 0 {
		delete(l.allowances, key)
		return nil
	}
	if l.sequence != nil && expirationLedger < l.sequence() {
		return ErrAllowanceExpired
	}
	l.allowances[key] = allowance{amount: new(big.Int).Set(amount), expiration: expirationLedger}
	return nil
}

// VaultAddress derives the custody identity of an engagement.
func (l *MemLedger) VaultAddress(engagementID string) ([20]byte, error) {
	return crypto.VaultAddress(engagementID), nil
}

func (l *MemLedger) expired(entry allowance) bool {
	return l.sequence != nil && entry.expiration < l.sequence()
}

func (l *MemLedger) balanceOf(asset, owner [20]byte) *big.Int {
	if holders, ok := l.balances[asset]; ok {
		if bal, ok := holders[owner]; ok {
			return bal
		}
	}
	return big.NewInt(0)
}

func (l *MemLedger) credit(asset, owner [20]byte, amount *big.Int) {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[[20]byte]*big.Int)
		l.balances[asset] = holders
	}
	bal, ok := holders[owner]
	if !ok {
		bal = big.NewInt(0)
	}
	holders[owner] = new(big.Int).Add(bal, amount)
}

func (l *MemLedger) debit(asset, owner [20]byte, amount *big.Int) {
	l.credit(asset, owner, new(big.Int).Neg(amount))
}
