package sweep

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/solostream/coordinator/internals/coordinator"
	"github.com/solostream/coordinator/internals/notify"
	"github.com/solostream/coordinator/internals/presence"
	"github.com/solostream/coordinator/internals/seatlock"
)

type nopNotifier struct{}

func (nopNotifier) Broadcast(context.Context, string, notify.Event, any) error { return nil }
func (nopNotifier) Unicast(context.Context, string, notify.Event, any) error   { return nil }
func (nopNotifier) CloseSession(context.Context, string, string) error         { return nil }

func newTestSweeper(t *testing.T) (*Sweeper, *coordinator.Coordinator, *presence.MemoryStore) {
	t.Helper()
	store := presence.NewMemoryStore()
	coord := coordinator.New(store, seatlock.NewMemoryLocker(2*time.Second), nopNotifier{}, zap.NewNop())
	sweeper := New(store, coord, 5*time.Second, 2*time.Minute, 100, zap.NewNop())
	return sweeper, coord, store
}

func TestSweepOnce_EvictsOnlyStaleParticipants(t *testing.T) {
	ctx := context.Background()
	sweeper, _, store := newTestSweeper(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	store.MarkOnline(ctx, presence.RoleStreamer, 1, base.Add(-3*time.Minute))
	store.MarkOnline(ctx, presence.RoleStreamer, 2, base.Add(-30*time.Second))
	store.MarkOnline(ctx, presence.RoleViewer, 9, base.Add(-10*time.Minute))

	sweeper.now = func() time.Time { return base }
	sweeper.SweepOnce(ctx)

	free, _ := store.ListFreeStreamers(ctx)
	if len(free) != 1 || free[0] != 2 {
		t.Errorf("online streamers after sweep: got %v, want [2]", free)
	}

	var viewers []int64
	store.ListStale(ctx, presence.RoleViewer, base.Add(time.Hour), 100, func(id int64) error {
		viewers = append(viewers, id)
		return nil
	})
	if len(viewers) != 0 {
		t.Errorf("stale viewer survived the sweep: %v", viewers)
	}
}

func TestSweepOnce_StaleViewerFreesItsStreamer(t *testing.T) {
	ctx := context.Background()
	sweeper, coord, store := newTestSweeper(t)

	if err := coord.ConnectStreamer(ctx, 5, "a1"); err != nil {
		t.Fatalf("ConnectStreamer: %v", err)
	}
	if outcome, err := coord.ConnectViewer(ctx, 5, 7, "b1"); err != nil || outcome != coordinator.OutcomeSeated {
		t.Fatalf("ConnectViewer: %v/%v", outcome, err)
	}

	// The streamer keeps pinging, the viewer goes dark.
	future := time.Now().Add(5 * time.Minute)
	store.Touch(ctx, presence.RoleStreamer, 5, future)

	sweeper.now = func() time.Time { return future }
	sweeper.SweepOnce(ctx)

	if _, seated, _ := store.ViewerOf(ctx, 5); seated {
		t.Error("streamer should be unpaired after its viewer was swept")
	}
	free, _ := store.ListFreeStreamers(ctx)
	if len(free) != 1 || free[0] != 5 {
		t.Errorf("streamer should be free again: %v", free)
	}
	if sid, _ := store.LookupSession(ctx, presence.RoleViewer, 7); sid != "" {
		t.Errorf("swept viewer kept its session binding: %q", sid)
	}
}

func TestSweepOnce_StaleStreamerReleasesSeatedViewer(t *testing.T) {
	ctx := context.Background()
	sweeper, coord, store := newTestSweeper(t)

	coord.ConnectStreamer(ctx, 5, "a1")
	coord.ConnectViewer(ctx, 5, 7, "b1")

	future := time.Now().Add(5 * time.Minute)
	store.Touch(ctx, presence.RoleViewer, 7, future)

	sweeper.now = func() time.Time { return future }
	sweeper.SweepOnce(ctx)

	if _, paired, _ := store.StreamerOf(ctx, 7); paired {
		t.Error("viewer should be unpaired after its streamer was swept")
	}
	if sid, _ := store.LookupSession(ctx, presence.RoleViewer, 7); sid != "b1" {
		t.Errorf("surviving viewer lost its session: %q", sid)
	}
}

func TestSweepOnce_FreshParticipantsUntouched(t *testing.T) {
	ctx := context.Background()
	sweeper, coord, store := newTestSweeper(t)

	coord.ConnectStreamer(ctx, 5, "a1")
	coord.ConnectViewer(ctx, 5, 7, "b1")

	sweeper.SweepOnce(ctx)

	if viewerID, seated, _ := store.ViewerOf(ctx, 5); !seated || viewerID != 7 {
		t.Errorf("fresh pairing disturbed: %d/%v", viewerID, seated)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	sweeper, _, _ := newTestSweeper(t)
	sweeper.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
