package syncsvc

import (
	"math/rand"
	"time"
)

const maxBackoff = 5 * time.Minute

// backoff implements §4.10's backoff(attempt) = min(retryDelay × 2^attempt,
// 5min) ± 20% jitter, so a thundering herd of replicas reconnecting together
// doesn't retry in lockstep.
func backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := float64(d) * 0.2
	delta := (rand.Float64()*2 - 1) * jitter
	out := time.Duration(float64(d) + delta)
	if out < 0 {
		out = 0
	}
	return out
}
