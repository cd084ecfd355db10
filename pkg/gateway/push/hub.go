package push

import (
	"encoding/json"
	"sync"
)

// SendFunc delivers one serialized event to a listener. A non-nil error marks
// the listener dead; the hub drops it and keeps delivering to the rest.
type SendFunc func(event string, data []byte) error

// Hub fans finalized results out to every currently subscribed listener
// (typically browser tabs holding an open push channel).
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]SendFunc
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]SendFunc)}
}

// Subscribe registers a listener and returns its handle.
func (h *Hub) Subscribe(send SendFunc) int {
	if h == nil || send == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	id := h.next
	h.subs[id] = send
	return id
}

// Unsubscribe removes a listener. Unknown handles are no-ops.
func (h *Hub) Unsubscribe(id int) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Count returns the number of open listeners.
func (h *Hub) Count() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Publish serializes v once and writes it to every open listener. Listeners
// whose send fails are unsubscribed; delivery to the others continues.
func (h *Hub) Publish(event string, v any) (delivered int, err error) {
	if h == nil {
		return 0, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	targets := make(map[int]SendFunc, len(h.subs))
	for id, send := range h.subs {
		targets[id] = send
	}
	h.mu.Unlock()

	var dead []int
	for id, send := range targets {
		if sendErr := send(event, data); sendErr != nil {
			dead = append(dead, id)
			continue
		}
		delivered++
	}

	if len(dead) > 0 {
		h.mu.Lock()
		for _, id := range dead {
			delete(h.subs, id)
		}
		h.mu.Unlock()
	}
	return delivered, nil
}
