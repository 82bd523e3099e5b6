package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Event string

const (
	EventConnectOK Event = "connect:ok"

	EventStreamerConnected    Event = "streamers:connected"
	EventStreamerDisconnected Event = "streamers:disconnected"
	EventStreamerBusy         Event = "streamers:busy"
	EventStreamerFree         Event = "streamers:free"

	EventViewerConnected    Event = "viewers:connected"
	EventViewerDisconnected Event = "viewers:disconnected"

	EventWebRTCOffer  Event = "webrtc:offer"
	EventWebRTCAnswer Event = "webrtc:answer"
	EventWebRTCICE    Event = "webrtc:ice"

	EventError Event = "error"
)

// ChannelLobby receives the streamer availability feed: connected,
// disconnected, busy and free events.
const ChannelLobby = "lobby"

// Message is the wire envelope delivered to transport sessions.
type Message struct {
	Event     Event           `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

func NewMessage(event Event, payload any) (Message, error) {
	msg := Message{Event: event, Timestamp: time.Now()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// Notifier publishes lifecycle and signaling events. Broadcast fans out to
// every session subscribed to a named channel; Unicast targets one transport
// session; CloseSession force-disconnects a session after delivery of any
// pending messages.
type Notifier interface {
	Broadcast(ctx context.Context, channel string, event Event, payload any) error
	Unicast(ctx context.Context, sessionID string, event Event, payload any) error
	CloseSession(ctx context.Context, sessionID, reason string) error
}
