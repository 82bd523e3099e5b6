// Package coordinator implements the connect/disconnect/ping state machine
// that pairs exactly one viewer with exactly one streamer. All seat-claiming
// and seat-releasing transitions for a streamer are serialized by that
// streamer's seat lock; refresh-only operations stay lock-free.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appmetrics "github.com/solostream/coordinator/internals/metrics"
	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
	"github.com/solostream/coordinator/internals/seatlock"
)

// Disconnect reasons carried in viewers:disconnected / streamers:disconnected
// payloads.
const (
	ReasonSecondConnect = "second_connect"
	ReasonInactive      = "inactive"
	ReasonClientClosed  = "client_closed"
)

// Outcome is the result of a viewer connect attempt. A refused seat is an
// expected outcome, not an error: hard failures (lock timeout, store outage)
// travel on the error channel instead.
type Outcome int

const (
	OutcomeSeated Outcome = iota
	OutcomeSeatUnavailable
)

func (o Outcome) String() string {
	if o == OutcomeSeated {
		return "seated"
	}
	return "seat_unavailable"
}

// Event payloads.
type StreamerEvent struct {
	StreamerID int64 `json:"streamer_id"`
}

type ViewerEvent struct {
	ViewerID int64 `json:"viewer_id"`
}

type DisconnectedEvent struct {
	Reason string `json:"reason"`
}

// Coordinator drives presence, session and pairing transitions against the
// shared store, under per-streamer seat locks, and emits lifecycle events
// through the notifier.
type Coordinator struct {
	store    presence.Store
	locks    seatlock.Locker
	notifier notify.Notifier
	logger   *zap.Logger

	now func() time.Time
}

func New(store presence.Store, locks seatlock.Locker, notifier notify.Notifier, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		locks:    locks,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// ConnectStreamer marks a streamer online and binds its transport session.
// A prior session for the same streamer is evicted first: the second
// connection always wins, so a page refresh or a reconnecting client never
// fights its own stale socket for the identity.
func (c *Coordinator) ConnectStreamer(ctx context.Context, streamerID int64, sessionID string) error {
	guard, err := c.locks.Acquire(ctx, streamerID)
	if err != nil {
		return fmt.Errorf("acquire seat lock for streamer %d: %w", streamerID, err)
	}
	defer guard.Release()

	prior, err := c.store.LookupSession(ctx, presence.RoleStreamer, streamerID)
	if err != nil {
		return err
	}
	if prior == sessionID {
		// Same session reconnecting; just refresh last_seen.
		return c.store.MarkOnline(ctx, presence.RoleStreamer, streamerID, c.now())
	}
	if prior != "" {
		c.evictSession(ctx, prior, notify.EventStreamerDisconnected)
	}

	if err := c.store.MarkOnline(ctx, presence.RoleStreamer, streamerID, c.now()); err != nil {
		return err
	}
	if err := c.store.BindSession(ctx, presence.RoleStreamer, streamerID, sessionID); err != nil {
		return err
	}

	c.broadcast(ctx, notify.EventStreamerConnected, StreamerEvent{StreamerID: streamerID})
	c.unicast(ctx, sessionID, notify.EventConnectOK, nil)

	appmetrics.RecordConnect(string(presence.RoleStreamer))
	c.logger.Info("Streamer connected",
		zap.Int64("streamerID", streamerID),
		zap.String("sessionID", sessionID),
	)
	return nil
}

// ConnectViewer seats a viewer with a streamer. The streamer's seat lock is
// taken, not the viewer's: seat capacity is a property of the streamer, and
// two viewers racing for the same seat must be serialized there.
func (c *Coordinator) ConnectViewer(ctx context.Context, streamerID, viewerID int64, sessionID string) (Outcome, error) {
	guard, err := c.locks.Acquire(ctx, streamerID)
	if err != nil {
		return OutcomeSeatUnavailable, fmt.Errorf("acquire seat lock for streamer %d: %w", streamerID, err)
	}
	defer guard.Release()

	seatedViewer, seated, err := c.store.ViewerOf(ctx, streamerID)
	if err != nil {
		return OutcomeSeatUnavailable, err
	}
	if seated && seatedViewer != viewerID {
		appmetrics.SeatConflictsTotal.Inc()
		c.logger.Info("Seat refused, streamer already paired",
			zap.Int64("streamerID", streamerID),
			zap.Int64("viewerID", viewerID),
			zap.Int64("seatedViewerID", seatedViewer),
		)
		return OutcomeSeatUnavailable, nil
	}

	// Tear down any previous session or pairing this viewer still holds,
	// including a stale pairing with a different streamer.
	if err := c.disconnectViewer(ctx, viewerID, "", ReasonSecondConnect, streamerID); err != nil {
		return OutcomeSeatUnavailable, err
	}

	// Session first, then the online record: RemoveOrphan checks the session
	// binding, so once the online record exists it is already protected.
	if err := c.store.BindSession(ctx, presence.RoleViewer, viewerID, sessionID); err != nil {
		return OutcomeSeatUnavailable, err
	}
	if err := c.store.MarkOnline(ctx, presence.RoleViewer, viewerID, c.now()); err != nil {
		c.rollbackViewer(ctx, viewerID)
		return OutcomeSeatUnavailable, err
	}
	if err := c.store.Pair(ctx, streamerID, viewerID); err != nil {
		if errors.Is(err, presence.ErrPairConflict) {
			// Lost a cross-streamer race after the gate; undo our writes so
			// the transition applies nothing.
			c.rollbackViewer(ctx, viewerID)
			appmetrics.SeatConflictsTotal.Inc()
			return OutcomeSeatUnavailable, nil
		}
		c.rollbackViewer(ctx, viewerID)
		return OutcomeSeatUnavailable, err
	}
	appmetrics.ActivePairings.Inc()

	streamerSID, err := c.store.LookupSession(ctx, presence.RoleStreamer, streamerID)
	if err == nil && streamerSID != "" {
		c.unicast(ctx, streamerSID, notify.EventViewerConnected, ViewerEvent{ViewerID: viewerID})
	}
	c.unicast(ctx, sessionID, notify.EventViewerConnected, StreamerEvent{StreamerID: streamerID})
	c.broadcast(ctx, notify.EventStreamerBusy, StreamerEvent{StreamerID: streamerID})

	appmetrics.RecordConnect(string(presence.RoleViewer))
	c.logger.Info("Viewer seated",
		zap.Int64("streamerID", streamerID),
		zap.Int64("viewerID", viewerID),
		zap.String("sessionID", sessionID),
	)
	return OutcomeSeated, nil
}

// Ping refreshes last_seen. It never resurrects a swept participant and never
// touches the pairing, so it needs no lock: concurrent refreshes commute.
func (c *Coordinator) Ping(ctx context.Context, role presence.Role, id int64) error {
	return c.store.Touch(ctx, role, id, c.now())
}

// DisconnectStreamer takes the streamer fully offline: presence, session
// binding and pairing. Idempotent; disconnecting an offline streamer is a
// no-op.
func (c *Coordinator) DisconnectStreamer(ctx context.Context, streamerID int64, reason string) error {
	return c.disconnectStreamer(ctx, streamerID, "", reason)
}

// DisconnectStreamerSession disconnects only while sessionID is still the
// streamer's bound session. Transports use this on socket close so a socket
// evicted by a second connect cannot tear down its successor's state.
func (c *Coordinator) DisconnectStreamerSession(ctx context.Context, streamerID int64, sessionID, reason string) error {
	return c.disconnectStreamer(ctx, streamerID, sessionID, reason)
}

func (c *Coordinator) disconnectStreamer(ctx context.Context, streamerID int64, ifSession, reason string) error {
	guard, err := c.locks.Acquire(ctx, streamerID)
	if err != nil {
		return fmt.Errorf("acquire seat lock for streamer %d: %w", streamerID, err)
	}
	defer guard.Release()

	sid, err := c.store.LookupSession(ctx, presence.RoleStreamer, streamerID)
	if err != nil {
		return err
	}
	if ifSession != "" && sid != ifSession {
		// The session was already superseded; its state is not ours to touch.
		return nil
	}
	viewerID, seated, err := c.store.ViewerOf(ctx, streamerID)
	if err != nil {
		return err
	}
	if sid == "" && !seated {
		// Already offline, or a presence record orphaned by a lost session.
		// Dropping the record keeps the sweep from re-listing it forever.
		return c.store.RemoveOrphan(ctx, presence.RoleStreamer, streamerID)
	}
	if seated {
		if err := c.store.Unpair(ctx, streamerID); err != nil {
			return err
		}
		appmetrics.ActivePairings.Dec()
		if vsid, verr := c.store.LookupSession(ctx, presence.RoleViewer, viewerID); verr == nil && vsid != "" {
			c.unicast(ctx, vsid, notify.EventStreamerDisconnected, DisconnectedEvent{Reason: reason})
		}
	}

	if err := c.store.RemoveOnline(ctx, presence.RoleStreamer, streamerID); err != nil {
		return err
	}
	if err := c.store.UnbindSession(ctx, presence.RoleStreamer, streamerID); err != nil {
		return err
	}

	if sid != "" {
		c.unicast(ctx, sid, notify.EventStreamerDisconnected, DisconnectedEvent{Reason: reason})
		c.closeSession(ctx, sid, reason)
	}
	c.broadcast(ctx, notify.EventStreamerDisconnected, StreamerEvent{StreamerID: streamerID})

	appmetrics.RecordDisconnect(string(presence.RoleStreamer), reason)
	c.logger.Info("Streamer disconnected",
		zap.Int64("streamerID", streamerID),
		zap.String("reason", reason),
	)
	return nil
}

// DisconnectViewer frees the viewer's seat and takes it offline. The paired
// streamer's lock serializes this against competing seat claims.
func (c *Coordinator) DisconnectViewer(ctx context.Context, viewerID int64, reason string) error {
	return c.disconnectViewer(ctx, viewerID, "", reason, 0)
}

// DisconnectViewerSession is the session-guarded variant; see
// DisconnectStreamerSession.
func (c *Coordinator) DisconnectViewerSession(ctx context.Context, viewerID int64, sessionID, reason string) error {
	return c.disconnectViewer(ctx, viewerID, sessionID, reason, 0)
}

// disconnectViewer is the shared teardown path. heldStreamerID names a
// streamer whose seat lock the caller already holds (0 when none): when the
// viewer's pairing points at that same streamer the lock is not reacquired.
func (c *Coordinator) disconnectViewer(ctx context.Context, viewerID int64, ifSession, reason string, heldStreamerID int64) error {
	streamerID, paired, err := c.store.StreamerOf(ctx, viewerID)
	if err != nil {
		return err
	}
	for paired && streamerID != heldStreamerID {
		guard, err := c.locks.Acquire(ctx, streamerID)
		if err != nil {
			return fmt.Errorf("acquire seat lock for streamer %d: %w", streamerID, err)
		}
		locked := streamerID

		// Re-read under the lock; the pairing may have moved while we waited.
		streamerID, paired, err = c.store.StreamerOf(ctx, viewerID)
		if err != nil {
			guard.Release()
			return err
		}
		if !paired || streamerID == locked {
			defer guard.Release()
			break
		}
		// Paired with a different streamer now; chase it.
		guard.Release()
	}

	sid, err := c.store.LookupSession(ctx, presence.RoleViewer, viewerID)
	if err != nil {
		return err
	}
	if ifSession != "" && sid != ifSession {
		return nil
	}
	if sid == "" && !paired {
		// Same orphaned-record cleanup as the streamer path. This path holds
		// no lock, so the removal itself must re-check the session binding:
		// a connect that seats this viewer in between binds its session
		// before marking it online, and RemoveOrphan then leaves it alone.
		return c.store.RemoveOrphan(ctx, presence.RoleViewer, viewerID)
	}

	if err := c.store.RemoveOnline(ctx, presence.RoleViewer, viewerID); err != nil {
		return err
	}
	if err := c.store.UnbindSession(ctx, presence.RoleViewer, viewerID); err != nil {
		return err
	}

	if paired {
		if err := c.store.UnpairByViewer(ctx, viewerID); err != nil {
			return err
		}
		appmetrics.ActivePairings.Dec()

		if ssid, serr := c.store.LookupSession(ctx, presence.RoleStreamer, streamerID); serr == nil && ssid != "" {
			c.unicast(ctx, ssid, notify.EventViewerDisconnected, DisconnectedEvent{Reason: reason})
		}
		// The seat is open again; lobby listings may include the streamer.
		c.broadcast(ctx, notify.EventStreamerFree, StreamerEvent{StreamerID: streamerID})
	}

	if sid != "" {
		c.unicast(ctx, sid, notify.EventViewerDisconnected, DisconnectedEvent{Reason: reason})
		c.closeSession(ctx, sid, reason)
	}

	appmetrics.RecordDisconnect(string(presence.RoleViewer), reason)
	c.logger.Info("Viewer disconnected",
		zap.Int64("viewerID", viewerID),
		zap.String("reason", reason),
	)
	return nil
}

// PairedViewer resolves a streamer's currently seated viewer. Used by the
// chat subsystem to address the other half of the conversation.
func (c *Coordinator) PairedViewer(ctx context.Context, streamerID int64) (int64, bool, error) {
	return c.store.ViewerOf(ctx, streamerID)
}

// FreeStreamers lists online streamers with an open seat.
func (c *Coordinator) FreeStreamers(ctx context.Context) ([]int64, error) {
	return c.store.ListFreeStreamers(ctx)
}

// rollbackViewer undoes the presence and session writes of a failed viewer
// connect so the transition applies nothing.
func (c *Coordinator) rollbackViewer(ctx context.Context, viewerID int64) {
	if err := c.store.RemoveOnline(ctx, presence.RoleViewer, viewerID); err != nil {
		c.logger.Warn("Failed to roll back viewer presence", zap.Int64("viewerID", viewerID), zap.Error(err))
	}
	if err := c.store.UnbindSession(ctx, presence.RoleViewer, viewerID); err != nil {
		c.logger.Warn("Failed to roll back viewer session", zap.Int64("viewerID", viewerID), zap.Error(err))
	}
}

// evictSession notifies a superseded session and force-disconnects it.
func (c *Coordinator) evictSession(ctx context.Context, sessionID string, event notify.Event) {
	appmetrics.SecondConnectEvictionsTotal.Inc()
	c.unicast(ctx, sessionID, event, DisconnectedEvent{Reason: ReasonSecondConnect})
	c.closeSession(ctx, sessionID, ReasonSecondConnect)
	c.logger.Info("Evicted superseded session", zap.String("sessionID", sessionID))
}

// Notification emits are fire-and-forget: the transition already happened and
// a receiver that raced away must not fail it.

func (c *Coordinator) unicast(ctx context.Context, sessionID string, event notify.Event, payload any) {
	if err := c.notifier.Unicast(ctx, sessionID, event, payload); err != nil {
		c.logger.Warn("Failed to emit event",
			zap.String("event", string(event)),
			zap.String("sessionID", sessionID),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) broadcast(ctx context.Context, event notify.Event, payload any) {
	if err := c.notifier.Broadcast(ctx, notify.ChannelLobby, event, payload); err != nil {
		c.logger.Warn("Failed to broadcast event",
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) closeSession(ctx context.Context, sessionID, reason string) {
	if err := c.notifier.CloseSession(ctx, sessionID, reason); err != nil {
		c.logger.Warn("Failed to close session",
			zap.String("sessionID", sessionID),
			zap.Error(err),
		)
	}
}
