package escrow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"engagement/assets"
	"engagement/core/events"
	"engagement/core/types"
	"engagement/native/common"
)

// ModuleName is the pause-switch key guarding every mutating escrow call.
const ModuleName = "escrow"

var (
	errNilState  = errors.New("escrow engine: state not configured")
	errNilLedger = errors.New("escrow engine: ledger not configured")
	errNilAuth   = errors.New("escrow engine: authorizer not configured")
)

// Authorizer verifies that the current call was authorised by identity.
type Authorizer interface {
	RequireAuth(ctx context.Context, identity [20]byte) error
}

// Ledger is the asset transfer service holding engagement funds. Every
// engagement custodies its funds in its own vault account.
type Ledger interface {
	Balance(ctx context.Context, asset, owner [20]byte) (*big.Int, error)
	Transfer(ctx context.Context, asset, from, to [20]byte, amount *big.Int) error
	Allowance(ctx context.Context, asset, owner, spender [20]byte) (*big.Int, error)
	Approve(ctx context.Context, asset, owner, spender [20]byte, amount *big.Int, expirationLedger uint64) error
	VaultAddress(engagementID string) ([20]byte, error)
}

// BatchLedger is implemented by ledgers that can apply several transfers
// atomically. The engine prefers it over compensating transfers.
type BatchLedger interface {
	TransferBatch(ctx context.Context, asset [20]byte, legs []assets.Transfer) error
}

type engineState interface {
	EscrowGet(ctx context.Context, id string) (*Escrow, bool, error)
	EscrowPut(ctx context.Context, esc *Escrow) error
}

// Config carries the policy switches of the engine.
type Config struct {
	// ClearDisputeOnResolve clears the dispute flag after a successful
	// resolution so the escrow may be funded and distributed again.
	ClearDisputeOnResolve bool
	// EmitReadEvents publishes escrow.read telemetry from GetEscrowByID.
	EmitReadEvents bool
}

// Engine implements the escrow, milestone and dispute managers on top of an
// injected state store, ledger and authorizer. Every mutating call holds the
// engagement lock for its whole read-validate-transfer-write sequence.
type Engine struct {
	state   engineState
	ledger  Ledger
	auth    Authorizer
	emitter events.Emitter
	pauses  common.PauseView
	logger  *slog.Logger
	cfg     Config
	locks   *keyedMutex
	nowFn   func() int64
	seqFn   func() uint64
	seq     atomic.Uint64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	e := &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		locks:   newKeyedMutex(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	return e
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the asset transfer service.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetAuthorizer configures the authorization service.
func (e *Engine) SetAuthorizer(auth Authorizer) { e.auth = auth }

// SetPauses configures the module pause view consulted by mutating calls.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetConfig replaces the policy switches.
func (e *Engine) SetConfig(cfg Config) { e.cfg = cfg }

// Config returns the active policy switches.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetSequenceFunc installs the ledger sequence source. Without one the engine
// counts committed mutations in memory.
func (e *Engine) SetSequenceFunc(next func() uint64) { e.seqFn = next }

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event, seq uint64) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	event.ID = uuid.NewString()
	event.Sequence = seq
	event.Timestamp = e.now()
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) nextSequence() uint64 {
	if e.seqFn != nil {
		return e.seqFn()
	}
	return e.seq.Add(1)
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.ledger == nil:
		return errNilLedger
	case e.auth == nil:
		return errNilAuth
	}
	return nil
}

func (e *Engine) guard() error {
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return wrapError(CodeModulePaused, err)
	}
	return nil
}

func (e *Engine) requireAuth(ctx context.Context, identity [20]byte) error {
	if err := e.auth.RequireAuth(ctx, identity); err != nil {
		return wrapError(CodeUnauthorized, err)
	}
	return nil
}

func (e *Engine) loadEscrow(ctx context.Context, id string) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeEngagementID(id)
	if err != nil {
		return nil, err
	}
	esc, ok, err := e.state.EscrowGet(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("escrow engine: load %s: %w", normalized, err)
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// storeEscrow stamps the write with a fresh sequence and bumps the record
// version checked by the store.
func (e *Engine) storeEscrow(ctx context.Context, esc *Escrow) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	seq := e.nextSequence()
	esc.Sequence = seq
	esc.UpdatedAt = e.now()
	esc.Version++
	if err := e.state.EscrowPut(ctx, esc); err != nil {
		esc.Version--
		if errors.Is(err, ErrConcurrentUpdate) {
			return 0, err
		}
		return 0, fmt.Errorf("escrow engine: store %s: %w", esc.EngagementID, err)
	}
	return seq, nil
}

func (e *Engine) vaultBalance(ctx context.Context, esc *Escrow, asset [20]byte) ([20]byte, *big.Int, error) {
	vault, err := e.ledger.VaultAddress(esc.EngagementID)
	if err != nil {
		return [20]byte{}, nil, fmt.Errorf("escrow engine: vault address: %w", err)
	}
	balance, err := e.ledger.Balance(ctx, asset, vault)
	if err != nil {
		return [20]byte{}, nil, fmt.Errorf("escrow engine: vault balance: %w", err)
	}
	return vault, cloneBigInt(balance), nil
}

// settlement applies the transfers of one call. Ledgers that support batches
// apply them atomically; otherwise applied legs are reversed on failure.
type settlement struct {
	engine  *Engine
	asset   [20]byte
	legs    []assets.Transfer
	applied []assets.Transfer
}

func (e *Engine) newSettlement(asset [20]byte) *settlement {
	return &settlement{engine: e, asset: asset}
}

func (s *settlement) add(from, to [20]byte, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	s.legs = append(s.legs, assets.Transfer{From: from, To: to, Amount: cloneBigInt(amount)})
}

func (s *settlement) execute(ctx context.Context) error {
	if len(s.legs) == 0 {
		return nil
	}
	if batch, ok := s.engine.ledger.(BatchLedger); ok {
		if err := batch.TransferBatch(ctx, s.asset, s.legs); err != nil {
			return transferError(err)
		}
		s.applied = append(s.applied[:0], s.legs...)
		return nil
	}
	for _, leg := range s.legs {
		if err := s.engine.ledger.Transfer(ctx, s.asset, leg.From, leg.To, leg.Amount); err != nil {
			s.revert(ctx)
			return transferError(err)
		}
		s.applied = append(s.applied, leg)
	}
	return nil
}

// revert moves applied legs back in reverse order. Failures are logged since
// the caller already returns the original error.
func (s *settlement) revert(ctx context.Context) {
	for i := len(s.applied) - 1; i >= 0; i-- {
		leg := s.applied[i]
		if err := s.engine.ledger.Transfer(ctx, s.asset, leg.To, leg.From, leg.Amount); err != nil {
			s.engine.logger.Error("escrow transfer reversal failed",
				"asset", fmt.Sprintf("%x", s.asset),
				"from", fmt.Sprintf("%x", leg.To),
				"to", fmt.Sprintf("%x", leg.From),
				"amount", leg.Amount.String(),
				"error", err)
		}
	}
	s.applied = nil
}

func transferError(err error) error {
	switch {
	case errors.Is(err, assets.ErrInsufficientAllowance):
		return wrapError(CodeNotEnoughAllowance, err)
	case errors.Is(err, assets.ErrInsufficientBalance):
		return wrapError(CodeContractInsufficientFunds, err)
	default:
		return wrapError(CodeTransferFailed, err)
	}
}

// commit persists esc after the settlement succeeded and undoes the transfers
// when the write fails, so a failed call changes neither balances nor state.
func (e *Engine) commit(ctx context.Context, esc *Escrow, s *settlement) (uint64, error) {
	if s != nil {
		if err := s.execute(ctx); err != nil {
			return 0, err
		}
	}
	seq, err := e.storeEscrow(ctx, esc)
	if err != nil {
		if s != nil {
			s.revert(ctx)
		}
		return 0, err
	}
	return seq, nil
}
