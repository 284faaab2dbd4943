package jobs

import (
	"math/rand/v2"
	"time"
)

// RetryDelay computes the wait before attempt's next run: base doubled per
// prior attempt, capped at max, with ±12.5% jitter so a burst of failures
// does not retry in lockstep.
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
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

	jitter := time.Duration(rand.Int64N(int64(delay)/4+1)) - delay/8
	delay += jitter
	if delay < base {
		delay = base
	}
	if delay > max {
		delay = max
	}
	return delay
}
