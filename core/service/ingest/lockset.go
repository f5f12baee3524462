package ingest

import "sync"

// LockSet is the process-wide in-flight message registry. It keeps two
// sync workers in the same process from racing on one message; the
// ProcessedEmail unique constraint covers races across processes.
type LockSet struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLockSet allocates an empty registry. One instance exists per
// process, built in bootstrap and injected.
func NewLockSet() *LockSet {
	return &LockSet{held: make(map[string]struct{})}
}

// TryAcquire claims the key. False means another worker in this process
// holds it; the caller skips the message.
func (s *LockSet) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.held[key]; taken {
		return false
	}
	s.held[key] = struct{}{}
	return true
}

// Release drops the claim. Releasing an unheld key is a no-op.
func (s *LockSet) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
}

// Len reports how many messages are currently in flight.
func (s *LockSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.held)
}
