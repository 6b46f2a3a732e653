package assets

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"engagement/crypto"
)

const erc20ABI = `[
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
 {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
 {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transferFrom","outputs":[{"name":"","type":"bool"}],"type":"function"},
 {"constant":false,"inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

// ERC20Config configures the Ethereum-backed ledger.
type ERC20Config struct {
	RPCURL         string
	ReceiptTimeout time.Duration
}

// ERC20Ledger moves ERC-20 tokens through an Ethereum JSON-RPC endpoint. Each
// engagement vault is an externally owned account whose key is derived from
// the operator master key. Deposits are pulled from the signer with
// transferFrom, so signers approve the vault before funding.
type ERC20Ledger struct {
	backend bind.ContractBackend
	waiter  bind.DeployBackend
	abi     abi.ABI
	master  *crypto.PrivateKey
	chainID *big.Int
	timeout time.Duration

	mu     sync.Mutex
	vaults map[[20]byte]*crypto.PrivateKey
	bound  map[[20]byte]*bind.BoundContract
}

// DialERC20Ledger connects to cfg.RPCURL and resolves the chain id.
func DialERC20Ledger(ctx context.Context, cfg ERC20Config, master *crypto.PrivateKey) (*ERC20Ledger, error) {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return nil, errors.New("assets: rpc url is required")
	}
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("assets: dial rpc: %w", err)
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("assets: fetch chain id: %w", err)
	}
	return NewERC20Ledger(client, client, chainID, master, cfg.ReceiptTimeout)
}

// NewERC20Ledger builds a ledger over an existing backend.
func NewERC20Ledger(backend bind.ContractBackend, waiter bind.DeployBackend, chainID *big.Int, master *crypto.PrivateKey, receiptTimeout time.Duration) (*ERC20Ledger, error) {
	if master == nil {
		return nil, errors.New("assets: master key is required")
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("assets: parse abi: %w", err)
	}
	if receiptTimeout <= 0 {
		receiptTimeout = 2 * time.Minute
	}
	return &ERC20Ledger{
		backend: backend,
		waiter:  waiter,
		abi:     parsed,
		master:  master,
		chainID: new(big.Int).Set(chainID),
		timeout: receiptTimeout,
		vaults:  make(map[[20]byte]*crypto.PrivateKey),
		bound:   make(map[[20]byte]*bind.BoundContract),
	}, nil
}

func (l *ERC20Ledger) contract(asset [20]byte) *bind.BoundContract {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.bound[asset]; ok {
		return c
	}
	c := bind.NewBoundContract(common.Address(asset), l.abi, l.backend, l.backend, l.backend)
	l.bound[asset] = c
	return c
}

// VaultAddress derives (and remembers) the vault key of an engagement.
func (l *ERC20Ledger) VaultAddress(engagementID string) ([20]byte, error) {
	key, err := crypto.DeriveVaultKey(l.master, engagementID)
	if err != nil {
		return [20]byte{}, err
	}
	addr := key.PubKey().Address().Raw()
	l.mu.Lock()
	l.vaults[addr] = key
	l.mu.Unlock()
	return addr, nil
}

func (l *ERC20Ledger) signer(addr [20]byte) (*crypto.PrivateKey, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key, ok := l.vaults[addr]
	return key, ok
}

func (l *ERC20Ledger) callUint(ctx context.Context, asset [20]byte, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := l.contract(asset).Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("assets: %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("assets: %s: unexpected output", method)
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("assets: %s: unexpected output type %T", method, out[0])
	}
	return value, nil
}

func (l *ERC20Ledger) Balance(ctx context.Context, asset, owner [20]byte) (*big.Int, error) {
	return l.callUint(ctx, asset, "balanceOf", common.Address(owner))
}

func (l *ERC20Ledger) Allowance(ctx context.Context, asset, owner, spender [20]byte) (*big.Int, error) {
	return l.callUint(ctx, asset, "allowance", common.Address(owner), common.Address(spender))
}

// Transfer sends from a vault with transfer, or pulls into a vault with
// transferFrom when from is an external account.
func (l *ERC20Ledger) Transfer(ctx context.Context, asset, from, to [20]byte, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if key, ok := l.signer(from); ok {
		balance, err := l.Balance(ctx, asset, from)
		if err != nil {
			return err
		}
		if balance.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		return l.transact(ctx, asset, key, "transfer", common.Address(to), amount)
	}
	key, ok := l.signer(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSigner, crypto.FormatIdentity(from))
	}
	allowed, err := l.Allowance(ctx, asset, from, to)
	if err != nil {
		return err
	}
	if allowed.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	return l.transact(ctx, asset, key, "transferFrom", common.Address(from), common.Address(to), amount)
}

// Approve submits approve on behalf of a vault. External owners approve
// directly on chain; expirationLedger has no ERC-20 equivalent and is ignored.
func (l *ERC20Ledger) Approve(ctx context.Context, asset, owner, spender [20]byte, amount *big.Int, _ uint64) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	key, ok := l.signer(owner)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSigner, crypto.FormatIdentity(owner))
	}
	return l.transact(ctx, asset, key, "approve", common.Address(spender), amount)
}

func (l *ERC20Ledger) transact(ctx context.Context, asset [20]byte, key *crypto.PrivateKey, method string, args ...interface{}) error {
	opts, err := bind.NewKeyedTransactorWithChainID(key.PrivateKey, l.chainID)
	if err != nil {
		return fmt.Errorf("assets: transactor: %w", err)
	}
	opts.Context = ctx
	tx, err := l.contract(asset).Transact(opts, method, args...)
	if err != nil {
		return fmt.Errorf("assets: %s tx: %w", method, err)
	}
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, l.waiter, tx)
	if err != nil {
		return fmt.Errorf("assets: wait %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return fmt.Errorf("assets: %s reverted in tx %s", method, tx.Hash().Hex())
	}
	return nil
}
