// Package seatlock serializes seat-claiming and seat-releasing transitions
// for one streamer id at a time. The lock is advisory: it linearizes
// coordinator operations per streamer but cannot stop a holder that outlives
// its TTL, so holders keep their critical sections short and the Redis
// implementation extends the TTL while the guard is alive.
package seatlock

import (
	"context"
	"errors"
)

// ErrAcquireTimeout is returned when the lock could not be claimed within the
// configured wait. Callers must treat it as a hard failure of the operation:
// proceeding without the lock would break the single-seat invariant.
var ErrAcquireTimeout = errors.New("seatlock: acquisition timed out")

// Guard represents a held lock. Release is idempotent and must be called on
// every exit path, typically via defer.
type Guard interface {
	Release()
}

// Locker hands out per-streamer mutual exclusion.
type Locker interface {
	Acquire(ctx context.Context, streamerID int64) (Guard, error)
}
