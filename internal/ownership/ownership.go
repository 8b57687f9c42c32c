// Package ownership binds each equipment record to exactly one responsible
// address. The binding is soulbound: it is minted once at registration and can
// never be transferred, approved away or burned. It records accountability,
// not a tradable asset.
package ownership

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrNotFound     = errors.New("ownership: no binding for equipment")
	ErrAlreadyBound = errors.New("ownership: equipment already bound")
	ErrInvalidInput = errors.New("ownership: invalid input")
	ErrSoulbound    = errors.New("ownership: binding is non-transferable and not burnable")
)

// Ledger tracks the equipment → owner bindings.
type Ledger struct {
	mu     sync.RWMutex
	owners map[uint64]string
}

// NewLedger creates an empty ownership ledger.
func NewLedger() *Ledger {
	return &Ledger{owners: make(map[uint64]string)}
}

// Mint binds equipmentID to owner. Called exactly once per equipment, at
// registration time.
func (l *Ledger) Mint(equipmentID uint64, owner string) error {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return fmt.Errorf("%w: owner address is required", ErrInvalidInput)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.owners[equipmentID]; ok {
		return fmt.Errorf("%w: equipment %d", ErrAlreadyBound, equipmentID)
	}
	l.owners[equipmentID] = owner
	return nil
}

// OwnerOf returns the bound owner address.
func (l *Ledger) OwnerOf(equipmentID uint64) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	owner, ok := l.owners[equipmentID]
	if !ok {
		return "", fmt.Errorf("%w: equipment %d", ErrNotFound, equipmentID)
	}
	return owner, nil
}

// Transfer always fails: the binding cannot move to another address.
func (l *Ledger) Transfer(equipmentID uint64, to string) error {
	return l.refuse(equipmentID)
}

// Approve always fails: no delegate may be authorized over the binding.
func (l *Ledger) Approve(equipmentID uint64, delegate string) error {
	return l.refuse(equipmentID)
}

// Burn always fails: the binding outlives every lifecycle state.
func (l *Ledger) Burn(equipmentID uint64) error {
	return l.refuse(equipmentID)
}

func (l *Ledger) refuse(equipmentID uint64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.owners[equipmentID]; !ok {
		return fmt.Errorf("%w: equipment %d", ErrNotFound, equipmentID)
	}
	return fmt.Errorf("%w: equipment %d", ErrSoulbound, equipmentID)
}
