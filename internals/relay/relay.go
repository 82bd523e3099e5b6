// Package relay forwards WebRTC signaling payloads between the two halves of
// a pairing. It is stateless beyond presence lookups: media never passes
// through here, only offer/answer/ICE metadata.
package relay

import (
	"context"
	"encoding/json"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	appmetrics "github.com/solostream/coordinator/internals/metrics"
	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
)

type Kind string

const (
	KindOffer  Kind = "offer"
	KindAnswer Kind = "answer"
	KindICE    Kind = "ice"
)

func (k Kind) Valid() bool {
	return k == KindOffer || k == KindAnswer || k == KindICE
}

func (k Kind) event() notify.Event {
	switch k {
	case KindOffer:
		return notify.EventWebRTCOffer
	case KindAnswer:
		return notify.EventWebRTCAnswer
	default:
		return notify.EventWebRTCICE
	}
}

// DescriptionPayload carries an SDP offer or answer.
type DescriptionPayload struct {
	SDP webrtc.SessionDescription `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate.
type CandidatePayload struct {
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Relay resolves the peer of a signaling sender and unicasts the payload to
// the peer's session. Undeliverable payloads are dropped silently: signaling
// for a peer that already left is a normal disconnect race, not a failure.
type Relay struct {
	store    presence.Store
	notifier notify.Notifier
	logger   *zap.Logger
}

func New(store presence.Store, notifier notify.Notifier, logger *zap.Logger) *Relay {
	return &Relay{store: store, notifier: notifier, logger: logger}
}

// Forward relays one payload from (fromRole, fromID) to its paired peer.
// Only store failures surface as errors.
func (r *Relay) Forward(ctx context.Context, kind Kind, fromRole presence.Role, fromID int64, payload json.RawMessage) error {
	if !r.validPayload(kind, payload) {
		r.drop(kind, fromRole, fromID, "malformed payload")
		return nil
	}

	var (
		peerID int64
		paired bool
		err    error
	)
	peerRole := fromRole.Peer()
	if fromRole == presence.RoleStreamer {
		peerID, paired, err = r.store.ViewerOf(ctx, fromID)
	} else {
		peerID, paired, err = r.store.StreamerOf(ctx, fromID)
	}
	if err != nil {
		return err
	}
	if !paired {
		r.drop(kind, fromRole, fromID, "no paired peer")
		return nil
	}

	peerSID, err := r.store.LookupSession(ctx, peerRole, peerID)
	if err != nil {
		return err
	}
	if peerSID == "" {
		r.drop(kind, fromRole, fromID, "peer has no session")
		return nil
	}

	if err := r.notifier.Unicast(ctx, peerSID, kind.event(), payload); err != nil {
		r.logger.Warn("Failed to relay payload",
			zap.String("kind", string(kind)),
			zap.String("peerSessionID", peerSID),
			zap.Error(err),
		)
		return nil
	}

	appmetrics.RecordRelay(string(kind), false)
	return nil
}

// validPayload checks the payload decodes into the expected WebRTC shape.
// Garbage is dropped here instead of being bounced off the peer.
func (r *Relay) validPayload(kind Kind, payload json.RawMessage) bool {
	switch kind {
	case KindOffer, KindAnswer:
		var p DescriptionPayload
		return json.Unmarshal(payload, &p) == nil && p.SDP.SDP != ""
	case KindICE:
		var p CandidatePayload
		return json.Unmarshal(payload, &p) == nil
	default:
		return false
	}
}

func (r *Relay) drop(kind Kind, fromRole presence.Role, fromID int64, why string) {
	appmetrics.RecordRelay(string(kind), true)
	r.logger.Debug("Dropping signaling payload",
		zap.String("kind", string(kind)),
		zap.String("fromRole", string(fromRole)),
		zap.Int64("fromID", fromID),
		zap.String("reason", why),
	)
}
