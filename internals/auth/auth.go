// Package auth is the collaborator boundary for authentication and streamer
// existence. Token issuance lives in the account service; the coordinator
// only verifies.
package auth

import (
	"context"
	"errors"

	"github.com/solostream/coordinator/internals/presence"
)

var (
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrTokenExpired = errors.New("auth: token expired")
)

// Identity is the authenticated participant a token resolves to.
type Identity struct {
	UserID int64
	Role   presence.Role
}

// Resolver maps a transport-provided token to a participant identity.
type Resolver interface {
	Resolve(ctx context.Context, token string) (Identity, error)
}

// Directory answers whether a streamer id exists in the persisted user store.
type Directory interface {
	StreamerExists(ctx context.Context, streamerID int64) (bool, error)
}

// AllowAllDirectory accepts any streamer id. Useful when the persisted store
// sits behind another service that already validated the id.
type AllowAllDirectory struct{}

func (AllowAllDirectory) StreamerExists(context.Context, int64) (bool, error) {
	return true, nil
}

// StaticDirectory accepts a fixed id set. Used in tests.
type StaticDirectory map[int64]struct{}

func NewStaticDirectory(ids ...int64) StaticDirectory {
	d := make(StaticDirectory, len(ids))
	for _, id := range ids {
		d[id] = struct{}{}
	}
	return d
}

func (d StaticDirectory) StreamerExists(_ context.Context, streamerID int64) (bool, error) {
	_, ok := d[streamerID]
	return ok, nil
}
