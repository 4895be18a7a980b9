package engine

import (
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tonimelisma/synckit/opqueue"
)

// backoffFor returns the Nth exponential backoff step (spec §4.2 "Retry &
// backoff": delay = baseDelay × multiplier^(attempt−1), capped at maxDelay),
// grounded on the teacher's calcBackoff (internal/graph/client.go) but built
// on sethvargo/go-retry's Backoff rather than a hand-rolled power function.
func backoffFor(baseDelay, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	b, err := retry.NewExponential(baseDelay)
	if err != nil {
		return maxDelay
	}

	b = retry.WithCappedDuration(maxDelay, b)

	var delay time.Duration

	for i := 0; i < attempt; i++ {
		d, stop := b.Next()
		if stop {
			return maxDelay
		}

		delay = d
	}

	return delay
}

// eligible reports whether op has waited out its backoff window since the
// last failed attempt. Operations that have never failed (RetryCount == 0)
// are always eligible.
func eligible(op opqueue.Operation, baseDelay, maxDelay time.Duration, now time.Time) bool {
	if op.RetryCount == 0 || op.LastAttemptAt.IsZero() {
		return true
	}

	delay := backoffFor(baseDelay, maxDelay, op.RetryCount)

	return now.Sub(op.LastAttemptAt) >= delay
}
