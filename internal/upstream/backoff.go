package upstream

import (
	"math/rand"
	"time"
)

// backoff computes a jittered reconnect delay in [min, max], doubling
// through a small set of multipliers the way the teacher's
// connection.Backoff does, plus up to 250ms of jitter to avoid
// synchronized reconnect storms against the upstream.
func backoff(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	mul := 1 << rand.Intn(4) // 1, 2, 4, 8
	d := min*time.Duration(mul) + time.Duration(rand.Intn(250))*time.Millisecond
	if d > max {
		d = max
	}
	return d
}
