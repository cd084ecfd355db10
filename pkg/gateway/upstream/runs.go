package upstream

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/vango-go/voicebridge/pkg/gateway/upstream/protocol"
)

// fallbackResultText stands in for a run that reached its end with no
// assistant content.
const fallbackResultText = "(no response)"

// Result is the finalized outcome of one run, addressed by its task ID.
type Result struct {
	TaskID string `json:"taskId"`
	Text   string `json:"text"`
}

// run is one upstream streaming agent turn. The run ID is assigned by the
// gateway; the task ID is issued locally, once, and is stable for the run's
// lifetime.
type run struct {
	taskID     string
	runID      string
	requestID  string
	sessionKey string
	text       string
	live       bool
}

// runTracker reconstructs coherent assistant turns out of streamed events.
// Request-ID keys and run-ID keys are different identifier spaces; a
// placeholder registered under a request ID is atomically moved to its run ID
// once the ack names it.
type runTracker struct {
	mu        sync.Mutex
	byRequest map[string]*run
	byRun     map[string]*run
}

func newRunTracker() *runTracker {
	return &runTracker{
		byRequest: make(map[string]*run),
		byRun:     make(map[string]*run),
	}
}

// trackRequest pre-registers a placeholder for a conversational request that
// is expected to produce a run. Returns the caller-visible task ID.
func (t *runTracker) trackRequest(requestID, sessionKey string) string {
	r := &run{
		taskID:     uuid.NewString(),
		requestID:  requestID,
		sessionKey: sessionKey,
	}
	t.mu.Lock()
	t.byRequest[requestID] = r
	t.mu.Unlock()
	return r.taskID
}

// rekeyFromPayload inspects a successful response payload for a run ID and,
// when the request has a placeholder, moves it under the run-ID key. Called
// on the inbound dispatch path before the correlator resolves the caller, so
// no event can observe the intermediate state.
func (t *runTracker) rekeyFromPayload(requestID string, payload json.RawMessage) bool {
	if len(payload) == 0 {
		return false
	}
	var ack struct {
		RunID string `json:"runId"`
	}
	if err := json.Unmarshal(payload, &ack); err != nil || ack.RunID == "" {
		return false
	}
	return t.rekey(requestID, ack.RunID)
}

func (t *runTracker) rekey(requestID, runID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byRequest[requestID]
	if !ok {
		return false
	}
	if _, exists := t.byRun[runID]; exists {
		// The run already materialized from an event; keep the task ID that
		// was issued first.
		delete(t.byRequest, requestID)
		return false
	}
	delete(t.byRequest, requestID)
	r.runID = runID
	t.byRun[runID] = r
	return true
}

// observe applies one agent event. It returns a finalized Result when the
// event is the run's terminal lifecycle phase.
func (t *runTracker) observe(ev protocol.AgentEvent, data protocol.AgentData, currentKey string) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.byRun[ev.RunID]
	if !ok {
		// Only a turn-start for the current session generation may create a
		// run on the spot (turns initiated by the upstream side itself).
		// Everything else is an orphan and is dropped.
		if ev.Stream != protocol.StreamLifecycle || data.Phase != protocol.PhaseStart || ev.SessionKey != currentKey {
			return Result{}, false
		}
		r = &run{
			taskID:     uuid.NewString(),
			runID:      ev.RunID,
			sessionKey: ev.SessionKey,
			live:       true,
		}
		t.byRun[ev.RunID] = r
	}

	switch ev.Stream {
	case protocol.StreamAssistant:
		// Latest snapshot wins: the gateway re-sends the full growing text
		// each tick, so replace rather than concatenate.
		r.text = data.Text
	case protocol.StreamLifecycle:
		switch data.Phase {
		case protocol.PhaseStart:
			r.live = true
		case protocol.PhaseEnd:
			delete(t.byRun, r.runID)
			if r.requestID != "" {
				delete(t.byRequest, r.requestID)
			}
			text := r.text
			if text == "" {
				text = fallbackResultText
			}
			return Result{TaskID: r.taskID, Text: text}, true
		}
	}
	return Result{}, false
}

// taskForRequest reports the task ID issued for a pending request, if any.
func (t *runTracker) taskForRequest(requestID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.byRequest[requestID]; ok {
		return r.taskID, true
	}
	for _, r := range t.byRun {
		if r.requestID == requestID {
			return r.taskID, true
		}
	}
	return "", false
}

// reset abandons every tracked run. In-flight upstream turns from the prior
// generation will later be dropped by the session-key match in observe.
func (t *runTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byRequest = make(map[string]*run)
	t.byRun = make(map[string]*run)
}

func (t *runTracker) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byRequest) + len(t.byRun)
}
