package tracker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// NewRetryPolicy returns the exponential backoff schedule a swarm
// should drive TrackerError retries through, per spec.md §7: back off
// exponentially on transport errors, capped at 30 minutes between
// attempts, with no overall deadline (the swarm keeps retrying for as
// long as the torrent stays active).
func NewRetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Minute
	b.MaxElapsedTime = 0 // never give up on its own; the caller decides when to stop
	return b
}
