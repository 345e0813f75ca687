package evm

import (
	"fmt"
	"sync"
)

// NonceManager hands out the signer's sequential transaction nonces. The
// chain requires a strictly increasing, gap-free sequence per signer, so all
// execution against the signer must flow through one serialized caller; the
// manager's lock protects against accidental concurrent use, it does not
// make interleaved callers correct.
//
// The base nonce is fetched from the chain once per CreateBatch invocation
// via Reset; the local counter is valid only for that single sequential
// call.
type NonceManager struct {
	mu   sync.Mutex
	next uint64
	// last nonce handed out, tracked so only the most recent acquisition
	// can be rolled back
	lastAcquired uint64
	outstanding  bool
}

// NewNonceManager creates an uninitialized manager; Reset must be called
// before Acquire.
func NewNonceManager() *NonceManager {
	return &NonceManager{}
}

// Reset seeds the counter from the signer's pending nonce on chain.
func (m *NonceManager) Reset(base uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = base
	m.outstanding = false
}

// Acquire returns the next nonce and advances the counter.
func (m *NonceManager) Acquire() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.next
	m.next++
	m.lastAcquired = n
	m.outstanding = true
	return n
}

// Commit marks the most recent nonce as consumed on chain. After a commit
// the nonce can no longer be rolled back.
func (m *NonceManager) Commit(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outstanding && m.lastAcquired == n {
		m.outstanding = false
	}
}

// Rollback returns the most recent nonce to the pool after a failed
// submission, so the next item reuses it instead of leaving a gap. Only the
// latest acquisition can be rolled back.
func (m *NonceManager) Rollback(n uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.outstanding || m.lastAcquired != n {
		return fmt.Errorf("nonce %d is not the outstanding acquisition", n)
	}
	m.next = n
	m.outstanding = false
	return nil
}
