package delivery

import (
	"math"
	"time"
)

// Backoff computes reconnection delay advice. It is pure and deterministic:
// Delay(attempt) = min(Initial * Multiplier^attempt, Max), monotonically
// non-decreasing in attempt (Multiplier must be >= 1, enforced at layer
// construction).
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// Delay returns the advised wait before reconnection attempt n (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if math.IsInf(d, 1) || d > float64(b.Max) {
		return b.Max
	}
	if d < float64(b.Initial) {
		return b.Initial
	}
	return time.Duration(d)
}
