package server

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/solostream/coordinator/internals/auth"
	"github.com/solostream/coordinator/internals/config"
	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
)

func newUnwiredClient() *Client {
	cfg := config.TransportConfig{RateLimitPerSec: 100, RateLimitBurst: 200}
	return newClient("s1", auth.Identity{UserID: 5, Role: presence.RoleStreamer}, nil, cfg, zap.NewNop())
}

func TestClient_DeliverDuringKickDoesNotPanic(t *testing.T) {
	for i := 0; i < 200; i++ {
		c := newUnwiredClient()

		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					c.Deliver(notify.Message{Event: notify.EventConnectOK, Timestamp: time.Now()})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			c.Kick("second_connect")
		}()

		close(start)
		wg.Wait()

		// Late deliveries after the close are silently ignored.
		c.Deliver(notify.Message{Event: notify.EventConnectOK, Timestamp: time.Now()})
	}
}

func TestClient_KickIsIdempotent(t *testing.T) {
	c := newUnwiredClient()

	c.Kick("first")
	c.Kick("second")

	if reason, _ := c.kickReason.Load().(string); reason != "second" {
		t.Errorf("kick reason: got %q, want second", reason)
	}
	c.Deliver(notify.Message{Event: notify.EventConnectOK, Timestamp: time.Now()})
}
