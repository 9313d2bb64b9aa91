package realtime

import (
	"math"
	"math/rand"
	"time"
)

// backoff computes reconnect delays: exponential from base, capped at max,
// plus up to 50% jitter of base. The attempt count resets once a
// connection has stayed up for stableAfter.
type backoff struct {
	base        time.Duration
	max         time.Duration
	maxAttempts int // 0 means unlimited
	stableAfter time.Duration

	attempt     int
	connectedAt time.Time
}

func (b *backoff) exhausted() bool {
	return b.maxAttempts > 0 && b.attempt >= b.maxAttempts
}

func (b *backoff) markConnected(now time.Time) {
	b.connectedAt = now
}

func (b *backoff) next(now time.Time) time.Duration {
	if !b.connectedAt.IsZero() && now.Sub(b.connectedAt) > b.stableAfter {
		b.attempt = 0
	}
	b.connectedAt = time.Time{}

	jitter := rand.Float64() * float64(b.base) * 0.5
	delay := math.Min(float64(b.base)*math.Pow(2, float64(b.attempt))+jitter, float64(b.max))
	b.attempt++
	return time.Duration(delay)
}

func (b *backoff) reset() {
	b.attempt = 0
	b.connectedAt = time.Time{}
}
