package agent

import (
	"math/rand"
	"time"
)

// backoffDelay computes the capped exponential reconnect delay for the
// given attempt (1-based): base doubling per attempt up to max, plus up to
// 50% jitter so a fleet of clients does not reconnect in lockstep.
func backoffDelay(attempt int, base, max time.Duration, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}
	if delay > max {
		delay = max
	}

	if rng != nil && delay > 0 {
		delay += time.Duration(rng.Int63n(int64(delay)/2 + 1))
	}
	return delay
}
