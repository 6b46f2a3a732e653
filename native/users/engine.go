// Package users implements the participant registry: registration with a
// sequential id and a name lookup used as the login check.
package users

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"engagement/core/events"
	"engagement/core/types"
	"engagement/crypto"
	"engagement/native/common"
)

// ModuleName is the pause-switch key guarding registration.
const ModuleName = "users"

const EventTypeUserRegistered = "user.registered"

var (
	ErrUnauthorized = errors.New("users: unauthorized")
	errNilState     = errors.New("users engine: state not configured")
)

// Authorizer verifies that the current call was authorised by identity.
type Authorizer interface {
	RequireAuth(ctx context.Context, identity [20]byte) error
}

type engineState interface {
	UserGet(ctx context.Context, address [20]byte) (*User, bool, error)
	// UserCreate assigns the next id and stores u. It reports false when
	// the address is already registered.
	UserCreate(ctx context.Context, u *User) (bool, error)
}

type userEvent struct {
	evt *types.Event
}

func (e userEvent) EventType() string { return e.evt.Type }
func (e userEvent) Event() *types.Event { return e.evt }

type Engine struct {
	state   engineState
	auth    Authorizer
	pauses  common.PauseView
	emitter events.Emitter
	nowFn   func() int64
	seqFn   func() uint64
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		seqFn:   func() uint64 { return 0 },
	}
}

func (e *Engine) SetState(state engineState) { e.state = state }
func (e *Engine) SetAuthorizer(auth Authorizer) { e.auth = auth }
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }
func (e *Engine) SetNowFunc(now func() int64) { e.nowFn = now }
func (e *Engine) SetSequenceFunc(f func() uint64) { e.seqFn = f }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) requireAuth(ctx context.Context, address [20]byte) error {
	if e.auth == nil {
		return ErrUnauthorized
	}
	if err := e.auth.RequireAuth(ctx, address); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// Register records address under name and email. It returns false without
// error when the address is already registered.
func (e *Engine) Register(ctx context.Context, address [20]byte, name, email string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return false, err
	}
	if err := e.requireAuth(ctx, address); err != nil {
		return false, err
	}
	normalizedName, err := normalizeName(name)
	if err != nil {
		return false, err
	}
	normalizedEmail, err := normalizeEmail(email)
	if err != nil {
		return false, err
	}
	if _, exists, err := e.state.UserGet(ctx, address); err != nil {
		return false, err
	} else if exists {
		return false, nil
	}
	seq := e.seqFn()
	user := &User{
		Address:              address,
		Name:                 normalizedName,
		Email:                normalizedEmail,
		Registered:           true,
		RegisteredAt:         e.nowFn(),
		RegistrationSequence: seq,
	}
	created, err := e.state.UserCreate(ctx, user)
	if err != nil || !created {
		return false, err
	}
	e.emitter.Emit(userEvent{evt: &types.Event{
		ID:        uuid.NewString(),
		Type:      EventTypeUserRegistered,
		Sequence:  seq,
		Timestamp: user.RegisteredAt,
		Attributes: map[string]string{
			"address": crypto.FormatIdentity(address),
			"user_id": strconv.FormatUint(user.ID, 10),
		},
	}})
	return true, nil
}

// Login returns the registered name of address, or NotFoundName.
func (e *Engine) Login(ctx context.Context, address [20]byte) (string, error) {
	if e == nil || e.state == nil {
		return "", errNilState
	}
	if err := e.requireAuth(ctx, address); err != nil {
		return "", err
	}
	user, ok, err := e.state.UserGet(ctx, address)
	if err != nil {
		return "", err
	}
	if !ok {
		return NotFoundName, nil
	}
	return user.Name, nil
}

// Get returns the stored user record.
func (e *Engine) Get(ctx context.Context, address [20]byte) (*User, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, errNilState
	}
	return e.state.UserGet(ctx, address)
}
