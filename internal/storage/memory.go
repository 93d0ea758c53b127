package storage

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/dharsanguruparan/ProgressDrop/internal/model"
)

// MemoryStore keeps sessions in a map guarded by an RWMutex, so progress
// polls can read concurrently while writers take the lock alone. Finished
// sessions expire ttl after their last update, and once maxSessions is
// reached the least recently updated finished session makes room for a new
// one. In-flight sessions are never evicted.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*model.UploadSession
	ttl         time.Duration
	maxSessions int
	now         func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore(ttl time.Duration, maxSessions int) *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]*model.UploadSession),
		ttl:         ttl,
		maxSessions: maxSessions,
		now:         time.Now,
	}
}

// Create inserts a new session.
func (m *MemoryStore) Create(_ context.Context, s *model.UploadSession) error {
	m.mu.Lock()
	// defer runs when Create returns, so every early return still unlocks.
	defer m.mu.Unlock()
	if rec, ok := m.sessions[s.ID]; ok && !m.expired(rec) {
		return ErrExists
	}
	m.insertLocked(s)
	return nil
}

// Put inserts or replaces a session.
func (m *MemoryStore) Put(_ context.Context, s *model.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(s)
	return nil
}

// Get returns a session copy.
func (m *MemoryStore) Get(_ context.Context, id string) (*model.UploadSession, error) {
	// Read lock: any number of pollers may hold it at once.
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[id]
	if !ok || m.expired(rec) {
		return nil, ErrNotFound
	}
	// Hand out a copy so callers cannot mutate the stored record.
	copy := *rec
	return &copy, nil
}

// Update mutates a copy and swaps it in only when fn succeeds.
func (m *MemoryStore) Update(_ context.Context, id string, fn func(*model.UploadSession) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[id]
	if !ok || m.expired(rec) {
		return ErrNotFound
	}
	// fn works on a copy; the map only sees it once fn has succeeded.
	next := *rec
	if err := fn(&next); err != nil {
		return err
	}
	m.sessions[id] = &next
	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the next sweep.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes expired sessions every interval until ctx is cancelled.
func (m *MemoryStore) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.removeExpired(); n > 0 {
				log.Printf("evicted %d expired upload sessions", n)
			}
		}
	}
}

func (m *MemoryStore) removeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeExpiredLocked()
}

func (m *MemoryStore) removeExpiredLocked() int {
	removed := 0
	for id, rec := range m.sessions {
		if m.expired(rec) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) insertLocked(s *model.UploadSession) {
	if _, ok := m.sessions[s.ID]; !ok && m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.makeRoomLocked()
	}
	rec := *s
	m.sessions[s.ID] = &rec
}

func (m *MemoryStore) makeRoomLocked() {
	if m.removeExpiredLocked() > 0 {
		return
	}
	var (
		victim string
		oldest time.Time
	)
	for id, rec := range m.sessions {
		if !rec.Finished() {
			continue
		}
		if victim == "" || rec.UpdatedAt.Before(oldest) {
			victim, oldest = id, rec.UpdatedAt
		}
	}
	if victim != "" {
		delete(m.sessions, victim)
	}
}

func (m *MemoryStore) expired(rec *model.UploadSession) bool {
	if m.ttl <= 0 || !rec.Finished() {
		return false
	}
	return m.now().Sub(rec.UpdatedAt) > m.ttl
}
