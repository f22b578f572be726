package relay

import (
	"time"

	"golang.org/x/time/rate"
)

// verdict is the outcome of a throttle check.
type verdict int

const (
	allowed verdict = iota
	tooSoon
	overCeiling
)

// throttle holds the per-connection rate state: a burst-of-one limiter that
// enforces the minimum spacing between accepted messages, and a fixed window
// counter that caps the number of accepted messages per window.
type throttle struct {
	spacing *rate.Limiter

	ceiling     int
	window      time.Duration
	count       int
	windowStart time.Time
}

func newThrottle(minInterval time.Duration, ceiling int, window time.Duration) *throttle {
	t := &throttle{
		ceiling: ceiling,
		window:  window,
	}
	if minInterval > 0 {
		t.spacing = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return t
}

// check reports whether a message submitted at now may be accepted. It does
// not change any state; call accept once the message is actually broadcast.
func (t *throttle) check(now time.Time) verdict {
	if t.spacing != nil && t.spacing.TokensAt(now) < 1 {
		return tooSoon
	}
	if t.ceiling > 0 && !t.windowExpired(now) && t.count >= t.ceiling {
		return overCeiling
	}
	return allowed
}

// accept records an accepted message at now.
func (t *throttle) accept(now time.Time) {
	if t.spacing != nil {
		t.spacing.AllowN(now, 1)
	}
	if t.windowExpired(now) {
		t.count = 0
		t.windowStart = now
	}
	t.count++
}

func (t *throttle) windowExpired(now time.Time) bool {
	if t.windowStart.IsZero() {
		return true
	}
	return t.window > 0 && now.Sub(t.windowStart) >= t.window
}
