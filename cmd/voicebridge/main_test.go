package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/vango-go/voicebridge/pkg/gateway/config"
	"github.com/vango-go/voicebridge/pkg/gateway/upstream"
)

func testClientConfig() config.Config {
	return config.Config{
		GatewayURL:       "ws://127.0.0.1:1/ws",
		GatewayToken:     "vb_tok_test",
		ClientID:         "voicebridge-test",
		SessionKeyBase:   "voice",
		ReconnectDelay:   time.Second,
		RequestTimeout:   time.Second,
		ChatTimeout:      2 * time.Second,
		HandshakeTimeout: time.Second,
		WriteTimeout:     time.Second,
	}
}

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, relayDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		newClient: func(cfg config.Config, logger *slog.Logger) *upstream.Client {
			t.Fatalf("newClient should not be called when config load fails")
			return nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if stderr.String() == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Addr: "127.0.0.1:9999"}
	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
}

func TestStatusHandler_HealthzReportsDisconnected(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := upstream.New(testClientConfig(), logger)
	handler := buildStatusHandler(client, logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d, want 503 while disconnected", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["connected"] != false {
		t.Fatalf("connected=%v, want false", body["connected"])
	}
	if body["sessionKey"] != "voice" {
		t.Fatalf("sessionKey=%v, want voice", body["sessionKey"])
	}
}

func TestStatusHandler_SessionResetReturnsNewKey(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := upstream.New(testClientConfig(), logger)
	handler := buildStatusHandler(client, logger)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/session/reset", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["sessionKey"] != "voice-1" {
		t.Fatalf("sessionKey=%q, want voice-1", body["sessionKey"])
	}
	if client.SessionKey() != "voice-1" {
		t.Fatalf("client session key=%q, want voice-1", client.SessionKey())
	}
}
