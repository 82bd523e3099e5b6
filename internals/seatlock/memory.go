package seatlock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a per-streamer mutex table for tests and single-instance
// deployments without Redis. There is no TTL: an in-process holder cannot
// crash without taking the whole process with it.
type MemoryLocker struct {
	mu    sync.Mutex
	seats map[int64]chan struct{}
	wait  time.Duration
}

func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{
		seats: make(map[int64]chan struct{}),
		wait:  wait,
	}
}

func (l *MemoryLocker) slot(streamerID int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot, ok := l.seats[streamerID]
	if !ok {
		slot = make(chan struct{}, 1)
		l.seats[streamerID] = slot
	}
	return slot
}

func (l *MemoryLocker) Acquire(ctx context.Context, streamerID int64) (Guard, error) {
	slot := l.slot(streamerID)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		return &memoryGuard{slot: slot}, nil
	case <-timer.C:
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryGuard struct {
	slot chan struct{}
	once sync.Once
}

func (g *memoryGuard) Release() {
	g.once.Do(func() {
		<-g.slot
	})
}
