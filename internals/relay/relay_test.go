package relay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
)

type sentMessage struct {
	sessionID string
	event     notify.Event
	payload   any
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (c *captureNotifier) Broadcast(context.Context, string, notify.Event, any) error {
	return nil
}

func (c *captureNotifier) Unicast(_ context.Context, sessionID string, event notify.Event, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentMessage{sessionID, event, payload})
	return nil
}

func (c *captureNotifier) CloseSession(context.Context, string, string) error { return nil }

func (c *captureNotifier) messages() []sentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMessage(nil), c.sent...)
}

const offerJSON = `{"sdp":{"type":"offer","sdp":"v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\n"}}`

func pairedFixture(t *testing.T) (*Relay, *captureNotifier) {
	t.Helper()
	ctx := context.Background()
	store := presence.NewMemoryStore()
	store.BindSession(ctx, presence.RoleStreamer, 5, "a1")
	store.BindSession(ctx, presence.RoleViewer, 7, "b1")
	if err := store.Pair(ctx, 5, 7); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	notifier := &captureNotifier{}
	return New(store, notifier, zap.NewNop()), notifier
}

func TestForward_OfferReachesPairedViewer(t *testing.T) {
	relay, notifier := pairedFixture(t)

	payload := json.RawMessage(offerJSON)
	if err := relay.Forward(context.Background(), KindOffer, presence.RoleStreamer, 5, payload); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	sent := notifier.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].sessionID != "b1" {
		t.Errorf("delivered to %q, want b1", sent[0].sessionID)
	}
	if sent[0].event != notify.EventWebRTCOffer {
		t.Errorf("event %q, want %q", sent[0].event, notify.EventWebRTCOffer)
	}
}

func TestForward_AnswerReachesPairedStreamer(t *testing.T) {
	relay, notifier := pairedFixture(t)

	payload := json.RawMessage(`{"sdp":{"type":"answer","sdp":"v=0\r\n"}}`)
	if err := relay.Forward(context.Background(), KindAnswer, presence.RoleViewer, 7, payload); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	sent := notifier.messages()
	if len(sent) != 1 || sent[0].sessionID != "a1" || sent[0].event != notify.EventWebRTCAnswer {
		t.Fatalf("answer delivery: got %+v", sent)
	}
}

func TestForward_ICECandidate(t *testing.T) {
	relay, notifier := pairedFixture(t)

	payload := json.RawMessage(`{"candidate":{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host","sdpMid":"0"}}`)
	if err := relay.Forward(context.Background(), KindICE, presence.RoleViewer, 7, payload); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	sent := notifier.messages()
	if len(sent) != 1 || sent[0].event != notify.EventWebRTCICE {
		t.Fatalf("ice delivery: got %+v", sent)
	}
}

func TestForward_UnpairedSenderDropsSilently(t *testing.T) {
	store := presence.NewMemoryStore()
	store.BindSession(context.Background(), presence.RoleStreamer, 5, "a1")
	notifier := &captureNotifier{}
	relay := New(store, notifier, zap.NewNop())

	err := relay.Forward(context.Background(), KindOffer, presence.RoleStreamer, 5, json.RawMessage(offerJSON))
	if err != nil {
		t.Fatalf("Forward for unpaired sender must not error: %v", err)
	}
	if len(notifier.messages()) != 0 {
		t.Errorf("unpaired signaling was delivered: %+v", notifier.messages())
	}
}

func TestForward_PeerWithoutSessionDropsSilently(t *testing.T) {
	ctx := context.Background()
	store := presence.NewMemoryStore()
	store.BindSession(ctx, presence.RoleStreamer, 5, "a1")
	store.Pair(ctx, 5, 7) // viewer 7 paired but its socket is gone

	notifier := &captureNotifier{}
	relay := New(store, notifier, zap.NewNop())

	if err := relay.Forward(ctx, KindOffer, presence.RoleStreamer, 5, json.RawMessage(offerJSON)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(notifier.messages()) != 0 {
		t.Errorf("payload for a sessionless peer was delivered: %+v", notifier.messages())
	}
}

func TestForward_MalformedPayloadDropped(t *testing.T) {
	relay, notifier := pairedFixture(t)

	cases := []struct {
		name    string
		kind    Kind
		payload string
	}{
		{"not json", KindOffer, `{"sdp":`},
		{"empty sdp", KindOffer, `{"sdp":{"type":"offer","sdp":""}}`},
		{"wrong shape", KindAnswer, `42`},
		{"ice not json", KindICE, `{{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := relay.Forward(context.Background(), tc.kind, presence.RoleStreamer, 5, json.RawMessage(tc.payload))
			if err != nil {
				t.Fatalf("malformed payload must drop, not error: %v", err)
			}
		})
	}
	if len(notifier.messages()) != 0 {
		t.Errorf("malformed payloads were delivered: %+v", notifier.messages())
	}
}

func TestForward_UnknownKindDropped(t *testing.T) {
	relay, notifier := pairedFixture(t)

	if err := relay.Forward(context.Background(), Kind("renegotiate"), presence.RoleStreamer, 5, json.RawMessage(offerJSON)); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(notifier.messages()) != 0 {
		t.Errorf("unknown kind was delivered: %+v", notifier.messages())
	}
}

func TestKind_Valid(t *testing.T) {
	for _, k := range []Kind{KindOffer, KindAnswer, KindICE} {
		if !k.Valid() {
			t.Errorf("%q should be valid", k)
		}
	}
	if Kind("media").Valid() {
		t.Error("unknown kind should be invalid")
	}
}
