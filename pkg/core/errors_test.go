package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ErrorString(t *testing.T) {
	err := NewTimeoutError("no response within deadline")
	want := "timeout_error: no response within deadline"
	if got := err.Error(); got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}

	withCode := NewUpstreamError("rejected", "bad_session", nil)
	want = "upstream_error: rejected (code: bad_session)"
	if got := withCode.Error(); got != want {
		t.Fatalf("Error()=%q, want %q", got, want)
	}
}

func TestIsType_MatchesWrappedErrors(t *testing.T) {
	inner := NewNotConnectedError("gateway connection is down")
	wrapped := fmt.Errorf("chat.send: %w", inner)

	if !IsNotConnected(wrapped) {
		t.Fatalf("expected wrapped error to match not_connected_error")
	}
	if IsTimeout(wrapped) {
		t.Fatalf("did not expect wrapped error to match timeout_error")
	}
	if IsType(errors.New("plain"), ErrNotConnected) {
		t.Fatalf("plain error must not match any relay type")
	}
}

func TestNewUpstreamError_CarriesPayload(t *testing.T) {
	payload := map[string]any{"detail": "quota exceeded"}
	err := NewUpstreamError("quota exceeded", "quota", payload)
	if err.Type != ErrUpstream {
		t.Fatalf("type=%s, want %s", err.Type, ErrUpstream)
	}
	got, ok := err.Upstream.(map[string]any)
	if !ok || got["detail"] != "quota exceeded" {
		t.Fatalf("upstream payload not carried verbatim: %#v", err.Upstream)
	}
}
