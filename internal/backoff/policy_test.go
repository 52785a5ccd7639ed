package backoff

import (
	"testing"
	"time"
)

func TestPolicyDelay(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		attempt  int
		expected time.Duration
	}{
		{
			name:     "first retry uses base",
			policy:   Policy{Base: 100 * time.Millisecond, Max: 10 * time.Second},
			attempt:  0,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "second retry doubles",
			policy:   Policy{Base: 100 * time.Millisecond, Max: 10 * time.Second},
			attempt:  1,
			expected: 200 * time.Millisecond,
		},
		{
			name:     "fifth retry",
			policy:   Policy{Base: 100 * time.Millisecond, Max: 10 * time.Second},
			attempt:  4,
			expected: 1600 * time.Millisecond,
		},
		{
			name:     "clamped to max",
			policy:   Policy{Base: 100 * time.Millisecond, Max: 500 * time.Millisecond},
			attempt:  10,
			expected: 500 * time.Millisecond,
		},
		{
			name:     "negative attempt treated as zero",
			policy:   Policy{Base: time.Second, Max: time.Minute},
			attempt:  -3,
			expected: time.Second,
		},
		{
			name:     "zero base",
			policy:   Policy{Max: time.Minute},
			attempt:  3,
			expected: 0,
		},
		{
			name:     "no cap",
			policy:   Policy{Base: time.Second},
			attempt:  3,
			expected: 8 * time.Second,
		},
		{
			name:     "huge attempt does not overflow",
			policy:   Policy{Base: time.Second, Max: time.Minute},
			attempt:  500,
			expected: time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Delay(tt.attempt); got != tt.expected {
				t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestPolicyDelay_UncappedOverflow(t *testing.T) {
	p := Policy{Base: time.Second}
	if got := p.Delay(200); got <= 0 {
		t.Errorf("Delay(200) = %v, want positive duration", got)
	}
}

func TestPolicySchedule(t *testing.T) {
	p := Policy{Base: time.Second, Max: 3 * time.Second}
	got := p.Schedule(4)
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(got) != len(want) {
		t.Fatalf("Schedule(4) len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Schedule(4)[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if s := p.Schedule(1); s != nil {
		t.Errorf("Schedule(1) = %v, want nil", s)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Base != time.Second {
		t.Errorf("Base = %v, want 1s", p.Base)
	}
	if p.Max != 60*time.Second {
		t.Errorf("Max = %v, want 60s", p.Max)
	}
}
