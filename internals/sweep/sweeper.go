// Package sweep evicts participants that disappeared without a clean
// disconnect: crashed clients, dropped sockets, lost disconnect events. It
// reuses the coordinator's locked disconnect transitions, so it needs no
// synchronization of its own against live traffic.
package sweep

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/solostream/coordinator/internals/coordinator"
	appmetrics "github.com/solostream/coordinator/internals/metrics"
	"github.com/solostream/coordinator/internals/presence"
)

type Sweeper struct {
	store presence.Store
	coord *coordinator.Coordinator

	interval   time.Duration
	staleAfter time.Duration
	pageSize   int
	logger     *zap.Logger

	now func() time.Time
}

func New(store presence.Store, coord *coordinator.Coordinator, interval, staleAfter time.Duration, pageSize int, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      store,
		coord:      coord,
		interval:   interval,
		staleAfter: staleAfter,
		pageSize:   pageSize,
		logger:     logger,
		now:        time.Now,
	}
}

// Run sweeps on a fixed interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs one eviction pass over both roles. The stale listing is a
// point-in-time snapshot: a participant that pings between the listing and
// its disconnect is evicted anyway and has to reconnect. The window is at
// most one pass wide.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	started := time.Now()
	cutoff := s.now().Add(-s.staleAfter)

	s.sweepRole(ctx, presence.RoleStreamer, cutoff)
	s.sweepRole(ctx, presence.RoleViewer, cutoff)

	appmetrics.SweepDurationSeconds.Observe(time.Since(started).Seconds())
}

func (s *Sweeper) sweepRole(ctx context.Context, role presence.Role, cutoff time.Time) {
	var evicted int
	err := s.store.ListStale(ctx, role, cutoff, s.pageSize, func(id int64) error {
		var derr error
		if role == presence.RoleStreamer {
			derr = s.coord.DisconnectStreamer(ctx, id, coordinator.ReasonInactive)
		} else {
			derr = s.coord.DisconnectViewer(ctx, id, coordinator.ReasonInactive)
		}
		if derr != nil {
			// Keep walking; the next pass retries this id.
			s.logger.Warn("Failed to evict stale participant",
				zap.String("role", string(role)),
				zap.Int64("id", id),
				zap.Error(derr),
			)
			return nil
		}
		evicted++
		appmetrics.RecordSweepEviction(string(role))
		s.logger.Info("Evicted stale participant",
			zap.String("role", string(role)),
			zap.Int64("id", id),
		)
		return nil
	})
	if err != nil {
		s.logger.Error("Stale listing failed",
			zap.String("role", string(role)),
			zap.Error(err),
		)
	}
	if evicted > 0 {
		s.logger.Info("Sweep pass finished",
			zap.String("role", string(role)),
			zap.Int("evicted", evicted),
		)
	}
}
