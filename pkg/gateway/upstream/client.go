// Package upstream owns the single persistent connection to the agent
// gateway: the challenge/connect handshake, request/response correlation,
// streaming run tracking and the fixed-delay reconnect loop.
package upstream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vango-go/voicebridge/pkg/core"
	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/push"
	"github.com/vango-go/voicebridge/pkg/gateway/upstream/protocol"
)

// ConnState is the supervisor's connection lifecycle state.
type ConnState string

const (
	StateDisconnected      ConnState = "disconnected"
	StateConnecting        ConnState = "connecting"
	StateAwaitingChallenge ConnState = "awaiting_challenge"
	StateAuthenticated     ConnState = "authenticated"
)

// ResultEvent is the hub event name finalized runs are published under.
const ResultEvent = "result"

// Client multiplexes concurrent logical requests and streaming agent runs
// over one gateway WebSocket connection. All inbound frames are dispatched
// sequentially by a single read loop; outbound writes serialize through one
// write mutex.
type Client struct {
	cfg config.Config
	log *slog.Logger
	hub *push.Hub

	pending *correlator
	runs    *runTracker
	keys    *keyspace

	dialer *websocket.Dialer

	mu          sync.Mutex
	conn        *websocket.Conn
	state       ConnState
	handshakeID string
	lastErr     error

	writeMu sync.Mutex
}

func New(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		log:     logger,
		hub:     push.NewHub(),
		pending: newCorrelator(),
		runs:    newRunTracker(),
		keys:    newKeyspace(cfg.SessionKeyBase),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		state:   StateDisconnected,
	}
}

// Run drives the connection for the process lifetime: connect, serve the
// read loop until the transport fails, then reconnect after a fixed delay.
// It returns only when ctx is done.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.mu.Lock()
			c.lastErr = err
			c.mu.Unlock()
			c.log.Warn("gateway connection lost", "error", err, "reconnect_in", c.cfg.ReconnectDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

// connectOnce performs one connection attempt and serves its read loop until
// the connection dies. It is a no-op when an attempt is already in progress
// or an authenticated connection exists.
func (c *Client) connectOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	defer c.teardown()

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+c.cfg.GatewayToken)

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.GatewayURL, header)
	if err != nil {
		if resp != nil {
			return core.NewTransportError("gateway dial failed: " + resp.Status)
		}
		return core.NewTransportError("gateway dial failed: " + err.Error())
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateAwaitingChallenge
	c.mu.Unlock()

	// Unblock the read loop when ctx is cancelled.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	// The handshake must complete before any application traffic; bound it
	// with a read deadline that is lifted once authenticated.
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))

	c.log.Debug("gateway transport open, awaiting challenge", "url", c.cfg.GatewayURL)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return core.NewTransportError("gateway read failed: " + err.Error())
		}
		if err := c.dispatch(data); err != nil {
			return err
		}
	}
}

// teardown drops all connection-local state. Pending requests and runs are
// deliberately left alone: they expire on their own deadlines, so a reconnect
// finishing before a deadline could still serve a delayed response.
func (c *Client) teardown() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.handshakeID = ""
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// dispatch routes one inbound frame. Frames that fail decode are logged and
// dropped; only handshake rejection and transport-level failures tear the
// connection down.
func (c *Client) dispatch(data []byte) error {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		c.log.Warn("dropping undecodable gateway frame", "error", err)
		return nil
	}

	switch m := msg.(type) {
	case protocol.Heartbeat:
		return nil
	case protocol.Challenge:
		return c.handleChallenge(m)
	case protocol.Response:
		return c.handleResponse(m)
	case protocol.AgentEvent:
		c.handleAgentEvent(m)
		return nil
	default:
		return nil
	}
}

func (c *Client) handleChallenge(challenge protocol.Challenge) error {
	id := uuid.NewString()

	c.mu.Lock()
	conn := c.conn
	c.handshakeID = id
	c.mu.Unlock()
	if conn == nil {
		return core.NewTransportError("challenge received without transport")
	}

	req := protocol.Request{
		Type:   protocol.TypeRequest,
		ID:     id,
		Method: protocol.MethodConnect,
		Params: protocol.ConnectParams{
			MinProtocol: c.cfg.MinProtocol,
			MaxProtocol: c.cfg.MaxProtocol,
			Client: protocol.ClientInfo{
				ID:       c.cfg.ClientID,
				Version:  c.cfg.ClientVersion,
				Platform: c.cfg.Platform,
				Mode:     c.cfg.Mode,
			},
			Role:   c.cfg.Role,
			Scopes: c.cfg.Scopes,
			Caps:   c.cfg.Caps,
			Auth:   protocol.ConnectAuth{Token: c.cfg.GatewayToken},
		},
	}

	c.log.Debug("answering gateway challenge", "nonce_len", len(challenge.Nonce))
	if err := c.writeJSON(conn, req); err != nil {
		return core.NewTransportError("send connect request: " + err.Error())
	}
	return nil
}

func (c *Client) handleResponse(res protocol.Response) error {
	c.mu.Lock()
	handshakeID := c.handshakeID
	conn := c.conn
	c.mu.Unlock()

	if handshakeID != "" && res.ID == handshakeID {
		if !res.OK {
			msg := "gateway rejected connect handshake"
			if res.Error != nil {
				msg = msg + ": " + res.Error.Message
			}
			return core.NewAuthenticationError(msg)
		}
		c.mu.Lock()
		c.state = StateAuthenticated
		c.handshakeID = ""
		c.mu.Unlock()
		if conn != nil {
			_ = conn.SetReadDeadline(time.Time{})
		}
		c.log.Info("gateway connection authenticated")
		return nil
	}

	if res.OK {
		// Re-key a placeholder run before the caller is released so agent
		// events can never race the two-phase registration.
		c.runs.rekeyFromPayload(res.ID, res.Payload)
		c.pending.resolve(res.ID, res.Payload)
		return nil
	}

	message := "gateway request failed"
	code := ""
	var payload any
	if res.Error != nil {
		message = res.Error.Message
		code = res.Error.Code
		if len(res.Error.Data) > 0 {
			payload = json.RawMessage(res.Error.Data)
		}
	}
	c.pending.fail(res.ID, core.NewUpstreamError(message, code, payload))
	return nil
}

func (c *Client) handleAgentEvent(ev protocol.AgentEvent) {
	data, err := protocol.DecodeAgentData(ev)
	if err != nil {
		c.log.Warn("dropping malformed agent event", "run_id", ev.RunID, "error", err)
		return
	}

	result, done := c.runs.observe(ev, data, c.keys.Current())
	if !done {
		return
	}
	delivered, err := c.hub.Publish(ResultEvent, result)
	if err != nil {
		c.log.Error("publish finalized run", "task_id", result.TaskID, "error", err)
		return
	}
	c.log.Info("run finalized", "task_id", result.TaskID, "listeners", delivered)
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(v)
}

// SendRequest issues one logical request and waits for its matching response,
// its deadline, or ctx cancellation. Calls made while the connection is not
// authenticated fail immediately; nothing is queued.
func (c *Client) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.sendWithID(ctx, uuid.NewString(), method, params)
}

func (c *Client) sendWithID(ctx context.Context, id, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()
	if state != StateAuthenticated || conn == nil {
		return nil, core.NewNotConnectedError("gateway connection is not authenticated")
	}

	done := c.pending.register(id, c.timeoutFor(method))

	frame := protocol.Request{Type: protocol.TypeRequest, ID: id, Method: method, Params: params}
	if err := c.writeJSON(conn, frame); err != nil {
		c.pending.forget(id)
		return nil, core.NewNotConnectedError("gateway write failed: " + err.Error())
	}

	select {
	case out := <-done:
		return out.payload, out.err
	case <-ctx.Done():
		// Abandoning a call removes local bookkeeping only; the peer is
		// never notified.
		c.pending.forget(id)
		return nil, ctx.Err()
	}
}

// timeoutFor picks the per-method deadline: conversational turns wait out
// model latency, metadata queries do not.
func (c *Client) timeoutFor(method string) time.Duration {
	if method == protocol.MethodChatSend {
		return c.cfg.ChatTimeout
	}
	return c.cfg.RequestTimeout
}

// SendChat starts a conversational turn on the current session key. The
// returned task ID is the handle the run's eventual result is published
// under. The request ID doubles as the idempotency key.
func (c *Client) SendChat(ctx context.Context, message string) (string, json.RawMessage, error) {
	if strings.TrimSpace(message) == "" {
		return "", nil, core.NewInvalidRequestError("message must not be empty")
	}
	if !c.IsConnected() {
		return "", nil, core.NewNotConnectedError("gateway connection is not authenticated")
	}

	id := uuid.NewString()
	sessionKey := c.keys.Current()

	// Placeholder first: the ack that names the run ID re-keys it on the
	// dispatch path.
	taskID := c.runs.trackRequest(id, sessionKey)

	payload, err := c.sendWithID(ctx, id, protocol.MethodChatSend, protocol.ChatSendParams{
		SessionKey:     sessionKey,
		Message:        message,
		IdempotencyKey: id,
	})
	if err != nil {
		return "", nil, err
	}
	return taskID, payload, nil
}

// History fetches prior turns for the current session key.
func (c *Client) History(ctx context.Context, limit int) (json.RawMessage, error) {
	return c.SendRequest(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: c.keys.Current(),
		Limit:      limit,
	})
}

// ListSessions lists known conversations.
func (c *Client) ListSessions(ctx context.Context, limit int, includeGlobal bool) (json.RawMessage, error) {
	return c.SendRequest(ctx, protocol.MethodSessionsList, protocol.SessionsListParams{
		Limit:         limit,
		IncludeGlobal: includeGlobal,
	})
}

// ResetSession starts a new conversation generation and abandons every
// tracked run from the prior one. Returns the new session key.
func (c *Client) ResetSession() string {
	key := c.keys.Reset()
	c.runs.reset()
	c.log.Info("session reset", "session_key", key)
	return key
}

// SessionKey returns the logical conversation key currently in use.
func (c *Client) SessionKey() string {
	return c.keys.Current()
}

// IsConnected reports whether the connection is authenticated and usable.
func (c *Client) IsConnected() bool {
	return c.State() == StateAuthenticated
}

// State returns the supervisor's current lifecycle state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent connection failure, or nil.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe registers a downstream listener for finalized results.
func (c *Client) Subscribe(send push.SendFunc) int {
	return c.hub.Subscribe(send)
}

// Unsubscribe removes a downstream listener.
func (c *Client) Unsubscribe(id int) {
	c.hub.Unsubscribe(id)
}
