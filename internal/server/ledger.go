package server

import (
	"errors"
	"fmt"
	"sync"

	"oscillate/internal/dataType"
)

var ErrInvalidLedger = errors.New("invalid ledger")

// Ledger guards a peer's chain. Readers always get a copy, so a merge is
// never observed half applied.
type Ledger struct {
	mu    sync.RWMutex
	chain *dataType.Chain
}

func NewLedger() *Ledger {
	return &Ledger{chain: dataType.NewChain()}
}

// Append adds name unless it is already present. It reports whether the chain grew.
func (l *Ledger) Append(name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.chain.Contains(name) {
		return false, nil
	}
	if err := l.chain.Put(name); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) IsValid(candidate *dataType.Chain) bool {
	return candidate.Validate() == nil
}

// Merge folds candidate into the local chain and reports whether it changed.
func (l *Ledger) Merge(candidate *dataType.Chain) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed, err := l.chain.Merge(candidate)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidLedger, err)
	}
	return changed, nil
}

func (l *Ledger) Snapshot() *dataType.Chain {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.Clone()
}

func (l *Ledger) ChainID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.ID
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chain.Len()
}
