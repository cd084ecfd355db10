package upstream

import (
	"fmt"
	"sync"
)

// keyspace derives the logical conversation key currently in use. A reset
// bumps the generation; runs tracked under the prior generation are orphaned
// rather than reconciled (the protocol has no upstream cancellation).
type keyspace struct {
	mu         sync.Mutex
	base       string
	generation int
}

func newKeyspace(base string) *keyspace {
	return &keyspace{base: base}
}

// Current returns the active session key: the base key, or the base key with
// a numeric suffix once a reset has occurred.
func (k *keyspace) Current() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.keyLocked()
}

// Reset increments the generation and returns the new key.
func (k *keyspace) Reset() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.generation++
	return k.keyLocked()
}

// Generation returns the number of resets performed so far.
func (k *keyspace) Generation() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generation
}

func (k *keyspace) keyLocked() string {
	if k.generation == 0 {
		return k.base
	}
	return fmt.Sprintf("%s-%d", k.base, k.generation)
}
