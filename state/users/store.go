// Package users stores registry records under user/<address> and the
// registration counter under user/counter.
package users

import (
	"context"
	"fmt"
	"sync"

	"engagement/crypto"
	"engagement/native/users"
	"engagement/state"
)

var counterKey = []byte("user/counter")

type storedUser struct {
	ID                   uint64
	Address              [20]byte
	Name                 string
	Email                string
	Registered           bool
	RegisteredAt         uint64
	RegistrationSequence uint64
}

func key(address [20]byte) []byte {
	return []byte("user/" + crypto.FormatIdentity(address))
}

type Store struct {
	mgr *state.Manager
	mu  sync.Mutex
}

func NewStore(mgr *state.Manager) *Store {
	return &Store{mgr: mgr}
}

func (s *Store) UserGet(_ context.Context, address [20]byte) (*users.User, bool, error) {
	var stored storedUser
	ok, err := s.mgr.KVGet(key(address), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &users.User{
		ID:                   stored.ID,
		Address:              stored.Address,
		Name:                 stored.Name,
		Email:                stored.Email,
		Registered:           stored.Registered,
		RegisteredAt:         int64(stored.RegisteredAt),
		RegistrationSequence: stored.RegistrationSequence,
	}, true, nil
}

// UserCreate bumps the counter and writes u with the new id.
func (s *Store) UserCreate(_ context.Context, u *users.User) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	exists, err := s.mgr.KVGet(key(u.Address), nil)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	var counter uint64
	if _, err := s.mgr.KVGet(counterKey, &counter); err != nil {
		return false, fmt.Errorf("users: read counter: %w", err)
	}
	counter++
	registeredAt := uint64(0)
	if u.RegisteredAt > 0 {
		registeredAt = uint64(u.RegisteredAt)
	}
	record := storedUser{
		ID:                   counter,
		Address:              u.Address,
		Name:                 u.Name,
		Email:                u.Email,
		Registered:           true,
		RegisteredAt:         registeredAt,
		RegistrationSequence: u.RegistrationSequence,
	}
	if err := s.mgr.KVPut(key(u.Address), record); err != nil {
		return false, err
	}
	if err := s.mgr.KVPut(counterKey, counter); err != nil {
		return false, fmt.Errorf("users: write counter: %w", err)
	}
	u.ID = counter
	u.Registered = true
	return true, nil
}

// Count returns the number of registered users.
func (s *Store) Count() (uint64, error) {
	var counter uint64
	_, err := s.mgr.KVGet(counterKey, &counter)
	return counter, err
}
