package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type stubSession struct {
	id string

	mu        sync.Mutex
	delivered []Message
	kicked    string
}

func (s *stubSession) ID() string { return s.id }

func (s *stubSession) Deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, msg)
}

func (s *stubSession) Kick(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kicked = reason
}

func (s *stubSession) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.delivered...)
}

func (s *stubSession) kickReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kicked
}

func TestHubNotifier_UnicastDeliversToOneSession(t *testing.T) {
	hub := NewHub(zap.NewNop())
	n := NewHubNotifier(hub, zap.NewNop())

	a := &stubSession{id: "a"}
	b := &stubSession{id: "b"}
	hub.Register(a)
	hub.Register(b)

	if err := n.Unicast(context.Background(), "a", EventConnectOK, nil); err != nil {
		t.Fatalf("Unicast: %v", err)
	}

	if got := a.messages(); len(got) != 1 || got[0].Event != EventConnectOK {
		t.Errorf("session a: got %+v", got)
	}
	if got := b.messages(); len(got) != 0 {
		t.Errorf("session b should receive nothing, got %+v", got)
	}
}

func TestHubNotifier_UnicastToUnknownSessionIsNotAnError(t *testing.T) {
	n := NewHubNotifier(NewHub(zap.NewNop()), zap.NewNop())

	if err := n.Unicast(context.Background(), "ghost", EventConnectOK, nil); err != nil {
		t.Errorf("unicast to a departed session: %v", err)
	}
}

func TestHubNotifier_BroadcastReachesChannelMembersOnly(t *testing.T) {
	hub := NewHub(zap.NewNop())
	n := NewHubNotifier(hub, zap.NewNop())

	inLobby := &stubSession{id: "a"}
	outside := &stubSession{id: "b"}
	hub.Register(inLobby)
	hub.Register(outside)
	hub.Join("a", ChannelLobby)

	payload := map[string]int64{"streamer_id": 5}
	if err := n.Broadcast(context.Background(), ChannelLobby, EventStreamerConnected, payload); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	got := inLobby.messages()
	if len(got) != 1 || got[0].Event != EventStreamerConnected {
		t.Fatalf("lobby member: got %+v", got)
	}
	var decoded map[string]int64
	if err := json.Unmarshal(got[0].Data, &decoded); err != nil || decoded["streamer_id"] != 5 {
		t.Errorf("payload: got %s (%v)", got[0].Data, err)
	}
	if len(outside.messages()) != 0 {
		t.Error("non-member received a lobby broadcast")
	}
}

func TestHub_JoinRequiresRegisteredSession(t *testing.T) {
	hub := NewHub(zap.NewNop())
	n := NewHubNotifier(hub, zap.NewNop())

	hub.Join("ghost", ChannelLobby)
	if err := n.Broadcast(context.Background(), ChannelLobby, EventStreamerConnected, nil); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	// Nothing to assert beyond not panicking: the ghost never joined.
}

func TestHub_UnregisterIgnoresSupersededSession(t *testing.T) {
	hub := NewHub(zap.NewNop())

	old := &stubSession{id: "a"}
	hub.Register(old)
	replacement := &stubSession{id: "a"}
	hub.Register(replacement)

	hub.Unregister(old)

	got, ok := hub.Get("a")
	if !ok {
		t.Fatal("replacement session was dropped with the old one")
	}
	if got != Session(replacement) {
		t.Error("hub holds the wrong session for id a")
	}
}

func TestHubNotifier_CloseSessionKicks(t *testing.T) {
	hub := NewHub(zap.NewNop())
	n := NewHubNotifier(hub, zap.NewNop())

	s := &stubSession{id: "a"}
	hub.Register(s)

	if err := n.CloseSession(context.Background(), "a", "second_connect"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}
	if got := s.kickReason(); got != "second_connect" {
		t.Errorf("kick reason: got %q, want second_connect", got)
	}
	if err := n.CloseSession(context.Background(), "ghost", "x"); err != nil {
		t.Errorf("closing an unknown session: %v", err)
	}
}
