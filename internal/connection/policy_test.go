package connection

import (
	"testing"
	"time"
)

func TestReconnectPolicy_Delay(t *testing.T) {
	p := ReconnectPolicy{BaseDelay: 5000 * time.Millisecond, MaxDelay: 30000 * time.Millisecond, MaxAttempts: 10}

	want := []time.Duration{
		5000 * time.Millisecond,
		10000 * time.Millisecond,
		20000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
		30000 * time.Millisecond,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestReconnectPolicy_Monotonic(t *testing.T) {
	p := ReconnectPolicy{BaseDelay: 3 * time.Millisecond, MaxDelay: time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 200; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %v decreased from %v", attempt, d, prev)
		}
		if d > p.MaxDelay {
			t.Fatalf("Delay(%d) = %v exceeds cap %v", attempt, d, p.MaxDelay)
		}
		prev = d
	}
}

func TestReconnectPolicy_NoCapDoesNotOverflow(t *testing.T) {
	p := ReconnectPolicy{BaseDelay: time.Second}

	if d := p.Delay(500); d <= 0 {
		t.Errorf("Delay(500) = %v, want positive", d)
	}
	if d := p.Delay(0); d != time.Second {
		t.Errorf("Delay(0) = %v, want base", d)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Policy.BaseDelay != 5*time.Second {
		t.Errorf("BaseDelay = %v, want 5s", cfg.Policy.BaseDelay)
	}
	if cfg.Policy.MaxDelay != 30*time.Second {
		t.Errorf("MaxDelay = %v, want 30s", cfg.Policy.MaxDelay)
	}
	if cfg.Policy.MaxAttempts != 10 {
		t.Errorf("MaxAttempts = %d, want 10", cfg.Policy.MaxAttempts)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
}
