package upstream

import "testing"

func TestKeyspace_CurrentIsBaseUntilReset(t *testing.T) {
	k := newKeyspace("voice")
	if got := k.Current(); got != "voice" {
		t.Fatalf("Current()=%q, want voice", got)
	}
	if k.Generation() != 0 {
		t.Fatalf("Generation()=%d, want 0", k.Generation())
	}
}

func TestKeyspace_ResetAppendsIncrementingSuffix(t *testing.T) {
	k := newKeyspace("voice")

	if got := k.Reset(); got != "voice-1" {
		t.Fatalf("Reset()=%q, want voice-1", got)
	}
	if got := k.Current(); got != "voice-1" {
		t.Fatalf("Current()=%q, want voice-1", got)
	}
	if got := k.Reset(); got != "voice-2" {
		t.Fatalf("Reset()=%q, want voice-2", got)
	}
	if k.Generation() != 2 {
		t.Fatalf("Generation()=%d, want 2", k.Generation())
	}
}

func TestKeyspace_GenerationsProduceDistinctKeys(t *testing.T) {
	k := newKeyspace("voice")
	seen := map[string]bool{k.Current(): true}
	for i := 0; i < 5; i++ {
		key := k.Reset()
		if seen[key] {
			t.Fatalf("key %q repeated across generations", key)
		}
		seen[key] = true
	}
}
