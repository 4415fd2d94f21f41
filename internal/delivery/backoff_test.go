package delivery

import (
	"testing"
	"time"
)

func TestBackoffMonotonicAndBounded(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 3 * time.Second}

	prev := time.Duration(0)
	for attempt := 0; attempt < 64; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > b.Max {
			t.Fatalf("delay %v exceeds max %v at attempt %d", d, b.Max, attempt)
		}
		prev = d
	}
	if got := b.Delay(0); got != 100*time.Millisecond {
		t.Fatalf("Delay(0) = %v, want initial", got)
	}
	if got := b.Delay(3); got != 800*time.Millisecond {
		t.Fatalf("Delay(3) = %v, want 800ms", got)
	}
	if got := b.Delay(100); got != b.Max {
		t.Fatalf("Delay(100) = %v, want max %v", got, b.Max)
	}
}

func TestBackoffDeterministic(t *testing.T) {
	b := Backoff{Initial: 50 * time.Millisecond, Multiplier: 1.5, Max: 10 * time.Second}
	for attempt := 0; attempt < 20; attempt++ {
		if b.Delay(attempt) != b.Delay(attempt) {
			t.Fatalf("Delay(%d) not deterministic", attempt)
		}
	}
}

func TestBackoffNegativeAttemptClamped(t *testing.T) {
	b := Backoff{Initial: time.Second, Multiplier: 2, Max: time.Minute}
	if got := b.Delay(-3); got != time.Second {
		t.Fatalf("Delay(-3) = %v, want initial", got)
	}
}
