package presence

import (
	"context"
	"errors"
	"time"
)

// Role tags a participant id. The same user id may exist on both sides, so
// every presence operation is keyed by (role, id).
type Role string

const (
	RoleStreamer Role = "streamer"
	RoleViewer   Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleStreamer || r == RoleViewer
}

// Peer returns the opposite role.
func (r Role) Peer() Role {
	if r == RoleStreamer {
		return RoleViewer
	}
	return RoleStreamer
}

// ErrPairConflict is returned by Pair when either side is already bound to a
// different peer. Re-pairing the same couple is a no-op, not a conflict.
var ErrPairConflict = errors.New("presence: participant already paired with a different peer")

// Store records who is online, their transport session bindings and the
// current streamer/viewer pairings. Individual operations are safe for
// concurrent use, but the store provides no cross-operation atomicity:
// multi-step transitions must be serialized by the seat lock.
type Store interface {
	// MarkOnline upserts the presence record with last_seen = now.
	MarkOnline(ctx context.Context, role Role, id int64, now time.Time) error

	// Touch refreshes last_seen for an existing record; absent ids are ignored.
	Touch(ctx context.Context, role Role, id int64, now time.Time) error

	// RemoveOnline deletes the presence record. No-op if absent.
	RemoveOnline(ctx context.Context, role Role, id int64) error

	// RemoveOrphan deletes the presence record only while no session is
	// bound, in one atomic step. Cleans up records left behind by lost
	// sessions without erasing a record a concurrent connect just wrote.
	RemoveOrphan(ctx context.Context, role Role, id int64) error

	// BindSession overwrites the participant's transport session binding.
	BindSession(ctx context.Context, role Role, id int64, sessionID string) error

	// LookupSession returns the bound session id, or "" when none is bound.
	LookupSession(ctx context.Context, role Role, id int64) (string, error)

	// UnbindSession removes the session binding. No-op if absent.
	UnbindSession(ctx context.Context, role Role, id int64) error

	// Pair sets both directional pairing links. Returns ErrPairConflict when
	// either participant is already paired with somebody else.
	Pair(ctx context.Context, streamerID, viewerID int64) error

	// Unpair removes the pairing keyed by streamer id, both directions.
	Unpair(ctx context.Context, streamerID int64) error

	// UnpairByViewer removes the pairing keyed by viewer id, both directions.
	UnpairByViewer(ctx context.Context, viewerID int64) error

	// ViewerOf resolves the viewer currently seated with a streamer.
	ViewerOf(ctx context.Context, streamerID int64) (int64, bool, error)

	// StreamerOf resolves the streamer a viewer is currently seated with.
	StreamerOf(ctx context.Context, viewerID int64) (int64, bool, error)

	// ListStale pages through ids whose last_seen is before cutoff and calls
	// fn for each. The walk is bounded by the store size at each page fetch
	// and tolerates concurrent mutation; an id mutated mid-walk may be
	// skipped or included, never repeated forever.
	ListStale(ctx context.Context, role Role, cutoff time.Time, pageSize int, fn func(id int64) error) error

	// ListFreeStreamers returns online streamer ids with no paired viewer.
	ListFreeStreamers(ctx context.Context) ([]int64, error)
}
