package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used in tests and single-instance
// deployments without Redis. It mirrors the Redis layout: one online map per
// role, one session map per role, and a forward/reverse pairing pair.
type MemoryStore struct {
	mu       sync.RWMutex
	online   map[Role]map[int64]time.Time
	sessions map[Role]map[int64]string
	seatedBy map[int64]int64 // streamer -> viewer
	seatedAt map[int64]int64 // viewer -> streamer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		online: map[Role]map[int64]time.Time{
			RoleStreamer: {},
			RoleViewer:   {},
		},
		sessions: map[Role]map[int64]string{
			RoleStreamer: {},
			RoleViewer:   {},
		},
		seatedBy: make(map[int64]int64),
		seatedAt: make(map[int64]int64),
	}
}

func (s *MemoryStore) MarkOnline(_ context.Context, role Role, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[role][id] = now
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, role Role, id int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.online[role][id]; ok {
		s.online[role][id] = now
	}
	return nil
}

func (s *MemoryStore) RemoveOnline(_ context.Context, role Role, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.online[role], id)
	return nil
}

func (s *MemoryStore) RemoveOrphan(_ context.Context, role Role, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, bound := s.sessions[role][id]; bound {
		return nil
	}
	delete(s.online[role], id)
	return nil
}

func (s *MemoryStore) BindSession(_ context.Context, role Role, id int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[role][id] = sessionID
	return nil
}

func (s *MemoryStore) LookupSession(_ context.Context, role Role, id int64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[role][id], nil
}

func (s *MemoryStore) UnbindSession(_ context.Context, role Role, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[role], id)
	return nil
}

func (s *MemoryStore) Pair(_ context.Context, streamerID, viewerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.seatedBy[streamerID]; ok && cur != viewerID {
		return ErrPairConflict
	}
	if cur, ok := s.seatedAt[viewerID]; ok && cur != streamerID {
		return ErrPairConflict
	}
	s.seatedBy[streamerID] = viewerID
	s.seatedAt[viewerID] = streamerID
	return nil
}

func (s *MemoryStore) Unpair(_ context.Context, streamerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if viewerID, ok := s.seatedBy[streamerID]; ok {
		delete(s.seatedBy, streamerID)
		delete(s.seatedAt, viewerID)
	}
	return nil
}

func (s *MemoryStore) UnpairByViewer(_ context.Context, viewerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if streamerID, ok := s.seatedAt[viewerID]; ok {
		delete(s.seatedAt, viewerID)
		delete(s.seatedBy, streamerID)
	}
	return nil
}

func (s *MemoryStore) ViewerOf(_ context.Context, streamerID int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	viewerID, ok := s.seatedBy[streamerID]
	return viewerID, ok, nil
}

func (s *MemoryStore) StreamerOf(_ context.Context, viewerID int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	streamerID, ok := s.seatedAt[viewerID]
	return streamerID, ok, nil
}

func (s *MemoryStore) ListStale(_ context.Context, role Role, cutoff time.Time, _ int, fn func(id int64) error) error {
	// Snapshot under the read lock, invoke fn outside it: fn typically drives
	// a disconnect that writes back into the store.
	s.mu.RLock()
	stale := make([]int64, 0)
	for id, lastSeen := range s.online[role] {
		if lastSeen.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })
	for _, id := range stale {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) ListFreeStreamers(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	free := make([]int64, 0)
	for id := range s.online[RoleStreamer] {
		if _, seated := s.seatedBy[id]; !seated {
			free = append(free, id)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })
	return free, nil
}
