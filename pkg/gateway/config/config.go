package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every knob the relay reads from the environment. All values
// are validated once at startup; components receive the struct by value and
// never consult the environment themselves.
type Config struct {
	// Gateway connection.
	GatewayURL   string
	GatewayToken string

	// Handshake identity.
	ClientID      string
	ClientVersion string
	Platform      string
	Mode          string
	Role          string
	Scopes        []string
	Caps          []string
	MinProtocol   int
	MaxProtocol   int

	// Logical conversation key; resets append a numeric suffix.
	SessionKeyBase string

	// Fixed-delay reconnect. Deliberately no backoff or jitter: the upstream
	// peer is a single trusted service, not an open Internet target.
	ReconnectDelay time.Duration

	// Per-method deadlines. Metadata queries get the short deadline,
	// conversational turns the long one (model latency).
	RequestTimeout time.Duration
	ChatTimeout    time.Duration

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// Local status/push surface.
	Addr                string
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		GatewayURL:          strings.TrimSpace(os.Getenv("VOICEBRIDGE_GATEWAY_URL")),
		GatewayToken:        strings.TrimSpace(os.Getenv("VOICEBRIDGE_GATEWAY_TOKEN")),
		ClientID:            envOr("VOICEBRIDGE_CLIENT_ID", "voicebridge"),
		ClientVersion:       envOr("VOICEBRIDGE_CLIENT_VERSION", "dev"),
		Platform:            envOr("VOICEBRIDGE_PLATFORM", "linux"),
		Mode:                envOr("VOICEBRIDGE_MODE", "backend"),
		Role:                envOr("VOICEBRIDGE_ROLE", "operator"),
		Scopes:              splitCSV(envOr("VOICEBRIDGE_SCOPES", "chat")),
		Caps:                splitCSV(os.Getenv("VOICEBRIDGE_CAPS")),
		MinProtocol:         envIntOr("VOICEBRIDGE_MIN_PROTOCOL", 1),
		MaxProtocol:         envIntOr("VOICEBRIDGE_MAX_PROTOCOL", 1),
		SessionKeyBase:      envOr("VOICEBRIDGE_SESSION_KEY", "voice"),
		ReconnectDelay:      envDurationOr("VOICEBRIDGE_RECONNECT_DELAY", 5*time.Second),
		RequestTimeout:      envDurationOr("VOICEBRIDGE_REQUEST_TIMEOUT", 15*time.Second),
		ChatTimeout:         envDurationOr("VOICEBRIDGE_CHAT_TIMEOUT", 120*time.Second),
		HandshakeTimeout:    envDurationOr("VOICEBRIDGE_HANDSHAKE_TIMEOUT", 10*time.Second),
		WriteTimeout:        envDurationOr("VOICEBRIDGE_WRITE_TIMEOUT", 5*time.Second),
		Addr:                envOr("VOICEBRIDGE_ADDR", ":8090"),
		ShutdownGracePeriod: envDurationOr("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if cfg.GatewayURL == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_GATEWAY_URL must be set")
	}
	u, err := url.Parse(cfg.GatewayURL)
	if err != nil {
		return Config{}, fmt.Errorf("VOICEBRIDGE_GATEWAY_URL is not a valid URL: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
	default:
		return Config{}, fmt.Errorf("VOICEBRIDGE_GATEWAY_URL must use ws or wss scheme")
	}
	if cfg.GatewayToken == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_GATEWAY_TOKEN must be set")
	}
	if cfg.MinProtocol <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MIN_PROTOCOL must be > 0")
	}
	if cfg.MaxProtocol < cfg.MinProtocol {
		return Config{}, fmt.Errorf("VOICEBRIDGE_MAX_PROTOCOL must be >= VOICEBRIDGE_MIN_PROTOCOL")
	}
	if cfg.SessionKeyBase == "" {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SESSION_KEY must not be empty")
	}
	if cfg.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_RECONNECT_DELAY must be > 0")
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ChatTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_CHAT_TIMEOUT must be > 0")
	}
	if cfg.ChatTimeout < cfg.RequestTimeout {
		return Config{}, fmt.Errorf("VOICEBRIDGE_CHAT_TIMEOUT must be >= VOICEBRIDGE_REQUEST_TIMEOUT")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.WriteTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
