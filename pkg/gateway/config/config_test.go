package config

import (
	"strings"
	"testing"
	"time"
)

var relayEnvKeys = []string{
	"VOICEBRIDGE_GATEWAY_URL",
	"VOICEBRIDGE_GATEWAY_TOKEN",
	"VOICEBRIDGE_CLIENT_ID",
	"VOICEBRIDGE_CLIENT_VERSION",
	"VOICEBRIDGE_PLATFORM",
	"VOICEBRIDGE_MODE",
	"VOICEBRIDGE_ROLE",
	"VOICEBRIDGE_SCOPES",
	"VOICEBRIDGE_CAPS",
	"VOICEBRIDGE_MIN_PROTOCOL",
	"VOICEBRIDGE_MAX_PROTOCOL",
	"VOICEBRIDGE_SESSION_KEY",
	"VOICEBRIDGE_RECONNECT_DELAY",
	"VOICEBRIDGE_REQUEST_TIMEOUT",
	"VOICEBRIDGE_CHAT_TIMEOUT",
	"VOICEBRIDGE_HANDSHAKE_TIMEOUT",
	"VOICEBRIDGE_WRITE_TIMEOUT",
	"VOICEBRIDGE_ADDR",
	"VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD",
}

func clearRelayEnv(t *testing.T) {
	t.Helper()
	for _, key := range relayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("VOICEBRIDGE_GATEWAY_URL", "wss://gateway.example.com/ws")
	t.Setenv("VOICEBRIDGE_GATEWAY_TOKEN", "vb_tok_test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.ClientID != "voicebridge" {
		t.Fatalf("ClientID = %q, want voicebridge", cfg.ClientID)
	}
	if cfg.SessionKeyBase != "voice" {
		t.Fatalf("SessionKeyBase = %q, want voice", cfg.SessionKeyBase)
	}
	if cfg.ReconnectDelay != 5*time.Second {
		t.Fatalf("ReconnectDelay = %v, want 5s", cfg.ReconnectDelay)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Fatalf("RequestTimeout = %v, want 15s", cfg.RequestTimeout)
	}
	if cfg.ChatTimeout != 120*time.Second {
		t.Fatalf("ChatTimeout = %v, want 120s", cfg.ChatTimeout)
	}
	if cfg.MinProtocol != 1 || cfg.MaxProtocol != 1 {
		t.Fatalf("protocol bounds = %d..%d, want 1..1", cfg.MinProtocol, cfg.MaxProtocol)
	}
	if len(cfg.Scopes) != 1 || cfg.Scopes[0] != "chat" {
		t.Fatalf("Scopes = %v, want [chat]", cfg.Scopes)
	}
	if cfg.Addr != ":8090" {
		t.Fatalf("Addr = %q, want :8090", cfg.Addr)
	}
}

func TestLoadFromEnv_RequiresGatewayURLAndToken(t *testing.T) {
	clearRelayEnv(t)

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "VOICEBRIDGE_GATEWAY_URL") {
		t.Fatalf("expected gateway URL error, got %v", err)
	}

	t.Setenv("VOICEBRIDGE_GATEWAY_URL", "wss://gateway.example.com/ws")
	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "VOICEBRIDGE_GATEWAY_TOKEN") {
		t.Fatalf("expected gateway token error, got %v", err)
	}
}

func TestLoadFromEnv_RejectsNonWebSocketScheme(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("VOICEBRIDGE_GATEWAY_URL", "https://gateway.example.com/ws")
	t.Setenv("VOICEBRIDGE_GATEWAY_TOKEN", "vb_tok_test")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "ws or wss") {
		t.Fatalf("expected scheme error, got %v", err)
	}
}

func TestLoadFromEnv_RejectsChatTimeoutBelowRequestTimeout(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("VOICEBRIDGE_GATEWAY_URL", "wss://gateway.example.com/ws")
	t.Setenv("VOICEBRIDGE_GATEWAY_TOKEN", "vb_tok_test")
	t.Setenv("VOICEBRIDGE_CHAT_TIMEOUT", "5s")

	if _, err := LoadFromEnv(); err == nil || !strings.Contains(err.Error(), "VOICEBRIDGE_CHAT_TIMEOUT") {
		t.Fatalf("expected chat timeout error, got %v", err)
	}
}

func TestLoadFromEnv_CSVScopesAndCaps(t *testing.T) {
	clearRelayEnv(t)
	t.Setenv("VOICEBRIDGE_GATEWAY_URL", "ws://127.0.0.1:9900/ws")
	t.Setenv("VOICEBRIDGE_GATEWAY_TOKEN", "vb_tok_test")
	t.Setenv("VOICEBRIDGE_SCOPES", "chat, sessions ,")
	t.Setenv("VOICEBRIDGE_CAPS", "stream")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if len(cfg.Scopes) != 2 || cfg.Scopes[0] != "chat" || cfg.Scopes[1] != "sessions" {
		t.Fatalf("Scopes = %v, want [chat sessions]", cfg.Scopes)
	}
	if len(cfg.Caps) != 1 || cfg.Caps[0] != "stream" {
		t.Fatalf("Caps = %v, want [stream]", cfg.Caps)
	}
}
