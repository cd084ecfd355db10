package upstream

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/vango-go/voicebridge/pkg/core"
)

// outcome is what a pending request eventually resolves to: a payload or an
// error, never both.
type outcome struct {
	payload json.RawMessage
	err     error
}

type pendingRequest struct {
	id        string
	createdAt time.Time
	done      chan outcome
	timer     *time.Timer
}

// correlator turns fire-and-forget framed exchanges into awaitable calls. A
// request ID appears in the pending set at most once; resolution, timeout and
// abandonment all remove the entry under one mutex, so whichever path wins
// makes the others no-ops.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingRequest)}
}

// register parks a completion handle under id with its own deadline. Each
// entry owns its timer; there is no global sweep.
func (c *correlator) register(id string, deadline time.Duration) <-chan outcome {
	entry := &pendingRequest{
		id:        id,
		createdAt: time.Now(),
		done:      make(chan outcome, 1),
	}
	entry.timer = time.AfterFunc(deadline, func() {
		c.fail(id, core.NewTimeoutError("no response within deadline for request "+id))
	})

	c.mu.Lock()
	c.pending[id] = entry
	c.mu.Unlock()
	return entry.done
}

// resolve fulfills the pending request with a success payload. Late or
// duplicate resolutions are no-ops.
func (c *correlator) resolve(id string, payload json.RawMessage) bool {
	entry := c.take(id)
	if entry == nil {
		return false
	}
	entry.done <- outcome{payload: payload}
	return true
}

// fail fulfills the pending request with an error. Late failures are no-ops.
func (c *correlator) fail(id string, err error) bool {
	entry := c.take(id)
	if entry == nil {
		return false
	}
	entry.done <- outcome{err: err}
	return true
}

// forget removes local bookkeeping for an abandoned call without fulfilling
// it. The peer is not notified.
func (c *correlator) forget(id string) {
	c.take(id)
}

// take removes and returns the entry, stopping its timer. Returns nil if the
// entry was already claimed by another path.
func (c *correlator) take(id string) *pendingRequest {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	entry.timer.Stop()
	return entry
}

func (c *correlator) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
