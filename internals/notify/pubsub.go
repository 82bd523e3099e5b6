package notify

import (
	"context"
	"encoding/json"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventsChannel is the Redis pub/sub channel carrying cross-instance
// notifications. Every coordinator instance subscribes once.
const EventsChannel = "coord:events"

type envelope struct {
	InstanceID string  `json:"instance_id"`
	Channel    string  `json:"channel,omitempty"`
	SessionID  string  `json:"session_id,omitempty"`
	Close      bool    `json:"close,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Message    Message `json:"message"`
}

// RedisNotifier delivers to the local hub and republishes every emit over
// Redis pub/sub so sibling instances can deliver to sessions connected to
// them. Envelopes from this instance are ignored on receipt: local delivery
// already happened synchronously.
type RedisNotifier struct {
	local      *HubNotifier
	redis      *redis.Client
	instanceID string
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRedisNotifier(client *redis.Client, hub *Hub, logger *zap.Logger) *RedisNotifier {
	ctx, cancel := context.WithCancel(context.Background())

	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			instanceID = "unknown"
		} else {
			instanceID = hostname
		}
	}

	n := &RedisNotifier{
		local:      NewHubNotifier(hub, logger),
		redis:      client,
		instanceID: instanceID,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	go n.listen()

	logger.Info("Notifier pub/sub initialized",
		zap.String("instance_id", instanceID),
	)
	return n
}

func (n *RedisNotifier) Broadcast(ctx context.Context, channel string, event Event, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	n.deliverLocal(envelope{Channel: channel, Message: msg})
	return n.publish(ctx, envelope{InstanceID: n.instanceID, Channel: channel, Message: msg})
}

func (n *RedisNotifier) Unicast(ctx context.Context, sessionID string, event Event, payload any) error {
	msg, err := NewMessage(event, payload)
	if err != nil {
		return err
	}
	n.deliverLocal(envelope{SessionID: sessionID, Message: msg})
	return n.publish(ctx, envelope{InstanceID: n.instanceID, SessionID: sessionID, Message: msg})
}

func (n *RedisNotifier) CloseSession(ctx context.Context, sessionID, reason string) error {
	n.deliverLocal(envelope{SessionID: sessionID, Close: true, Reason: reason})
	return n.publish(ctx, envelope{InstanceID: n.instanceID, SessionID: sessionID, Close: true, Reason: reason})
}

func (n *RedisNotifier) publish(ctx context.Context, env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		n.logger.Error("Failed to marshal pub/sub envelope", zap.Error(err))
		return err
	}
	if err := n.redis.Publish(ctx, EventsChannel, data).Err(); err != nil {
		n.logger.Error("Failed to publish notification",
			zap.String("channel", EventsChannel),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (n *RedisNotifier) listen() {
	sub := n.redis.Subscribe(n.ctx, EventsChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-n.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			n.handle(msg)
		}
	}
}

func (n *RedisNotifier) handle(redisMsg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(redisMsg.Payload), &env); err != nil {
		n.logger.Warn("Failed to unmarshal pub/sub envelope", zap.Error(err))
		return
	}
	if env.InstanceID == n.instanceID {
		return
	}
	n.deliverLocal(env)
}

func (n *RedisNotifier) deliverLocal(env envelope) {
	ctx := context.Background()
	switch {
	case env.Close:
		_ = n.local.CloseSession(ctx, env.SessionID, env.Reason)
	case env.SessionID != "":
		if s, ok := n.local.hub.Get(env.SessionID); ok {
			s.Deliver(env.Message)
		}
	case env.Channel != "":
		for _, s := range n.local.hub.channelSessions(env.Channel) {
			s.Deliver(env.Message)
		}
	}
}

func (n *RedisNotifier) Close() {
	n.cancel()
}
