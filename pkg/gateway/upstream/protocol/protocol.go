package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Frame type discriminators.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Event names delivered by the gateway.
const (
	EventChallenge = "connect.challenge"
	EventAgent     = "agent"
	EventTick      = "tick"
	EventHealth    = "health"
)

// Request methods issued by the relay.
const (
	MethodConnect      = "connect"
	MethodChatSend     = "chat.send"
	MethodChatHistory  = "chat.history"
	MethodSessionsList = "sessions.list"
)

// Agent event stream kinds and lifecycle phases.
const (
	StreamAssistant = "assistant"
	StreamLifecycle = "lifecycle"

	PhaseStart = "start"
	PhaseEnd   = "end"
)

// DecodeError describes a frame that failed tagged decode. Unknown shapes
// become one of these at the boundary instead of propagating as nil fields.
type DecodeError struct {
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badFrame(message, param string) *DecodeError {
	return &DecodeError{Message: message, Param: param}
}

// Request is an outbound framed call. ID is unique for the process lifetime
// and doubles as the idempotency token the gateway deduplicates on.
type Request struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// ResponseError is an explicit error payload on a matched response.
type ResponseError struct {
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response answers a prior Request, matched solely by ID.
type Response struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// Challenge is the gateway's pre-auth nonce event. No application traffic may
// flow before the connect exchange it triggers completes.
type Challenge struct {
	Nonce string `json:"nonce"`
}

// AgentEvent is one streamed tick of an upstream run.
type AgentEvent struct {
	RunID      string          `json:"runId"`
	Stream     string          `json:"stream"`
	Data       json.RawMessage `json:"data,omitempty"`
	SessionKey string          `json:"sessionKey,omitempty"`
}

// AgentData is the decoded data of an AgentEvent. Assistant events carry the
// full text so far (snapshots, not deltas); lifecycle events carry a phase.
type AgentData struct {
	Text  string `json:"text,omitempty"`
	Phase string `json:"phase,omitempty"`
}

// Heartbeat marks tick/health events; they are consumed and never dispatched.
type Heartbeat struct {
	Event string
}

// ClientInfo identifies this relay in the connect handshake.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"`
}

// ConnectAuth carries the static bearer credential.
type ConnectAuth struct {
	Token string `json:"token"`
}

// ConnectParams is the handshake request body answering a Challenge.
type ConnectParams struct {
	MinProtocol int         `json:"minProtocol"`
	MaxProtocol int         `json:"maxProtocol"`
	Client      ClientInfo  `json:"client"`
	Role        string      `json:"role"`
	Scopes      []string    `json:"scopes"`
	Caps        []string    `json:"caps"`
	Auth        ConnectAuth `json:"auth"`
}

// ChatSendParams starts a conversational turn.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatHistoryParams requests prior turns for a session key.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit,omitempty"`
}

// SessionsListParams lists known conversations.
type SessionsListParams struct {
	Limit         int  `json:"limit,omitempty"`
	IncludeGlobal bool `json:"includeGlobal,omitempty"`
}

type serverEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// DecodeServerMessage validates and decodes one inbound frame into a
// Response, Challenge, AgentEvent or Heartbeat. Unknown types and events are
// decode errors, not silent passes.
func DecodeServerMessage(data []byte) (any, error) {
	var envelope serverEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badFrame("invalid json frame", "")
	}

	switch strings.TrimSpace(envelope.Type) {
	case "":
		return nil, badFrame("missing type", "type")
	case TypeResponse:
		if strings.TrimSpace(envelope.ID) == "" {
			return nil, badFrame("res frame missing id", "id")
		}
		return Response{
			Type:    TypeResponse,
			ID:      envelope.ID,
			OK:      envelope.OK,
			Payload: envelope.Payload,
			Error:   envelope.Error,
		}, nil
	case TypeEvent:
		return decodeServerEvent(envelope)
	default:
		return nil, badFrame(fmt.Sprintf("unknown frame type %q", envelope.Type), "type")
	}
}

func decodeServerEvent(envelope serverEnvelope) (any, error) {
	switch strings.TrimSpace(envelope.Event) {
	case "":
		return nil, badFrame("event frame missing event", "event")
	case EventChallenge:
		var challenge Challenge
		if len(envelope.Payload) > 0 {
			if err := json.Unmarshal(envelope.Payload, &challenge); err != nil {
				return nil, badFrame("invalid connect.challenge payload", "payload")
			}
		}
		if strings.TrimSpace(challenge.Nonce) == "" {
			return nil, badFrame("connect.challenge missing nonce", "payload.nonce")
		}
		return challenge, nil
	case EventAgent:
		var agent AgentEvent
		if err := json.Unmarshal(envelope.Payload, &agent); err != nil {
			return nil, badFrame("invalid agent payload", "payload")
		}
		if strings.TrimSpace(agent.RunID) == "" {
			return nil, badFrame("agent event missing runId", "payload.runId")
		}
		switch agent.Stream {
		case StreamAssistant, StreamLifecycle:
		default:
			return nil, badFrame(fmt.Sprintf("unknown agent stream %q", agent.Stream), "payload.stream")
		}
		return agent, nil
	case EventTick, EventHealth:
		return Heartbeat{Event: envelope.Event}, nil
	default:
		return nil, badFrame(fmt.Sprintf("unknown event %q", envelope.Event), "event")
	}
}

// DecodeAgentData decodes an AgentEvent's data field. A lifecycle event must
// carry a known phase; assistant events may carry empty text.
func DecodeAgentData(ev AgentEvent) (AgentData, error) {
	var data AgentData
	if len(ev.Data) > 0 {
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return AgentData{}, badFrame("invalid agent data", "payload.data")
		}
	}
	if ev.Stream == StreamLifecycle {
		switch data.Phase {
		case PhaseStart, PhaseEnd:
		default:
			return AgentData{}, badFrame(fmt.Sprintf("unknown lifecycle phase %q", data.Phase), "payload.data.phase")
		}
	}
	return data, nil
}
