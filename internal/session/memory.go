package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

// MemoryStore keeps snapshots in process memory. It round-trips sessions
// through the snapshot codec so behavior matches the SQL stores, and it
// hands out copies so callers cannot mutate stored state.
type MemoryStore struct {
	extrasTracker
	mu        sync.RWMutex
	snapshots map[string][]byte
	updated   map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: map[string][]byte{},
		updated:   map[string]time.Time{},
	}
}

func (s *MemoryStore) Save(ctx context.Context, sess *models.Session) error {
	if err := validateID(sess.ID); err != nil {
		return err
	}
	data, err := s.encode(sess)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[sess.ID] = data
	s.updated[sess.ID] = time.Now()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*models.Session, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.snapshots[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.decode(id, data)
}

func (s *MemoryStore) List(ctx context.Context, limit, offset int) ([]ListEntry, error) {
	s.mu.RLock()
	entries := make([]ListEntry, 0, len(s.snapshots))
	for id, data := range s.snapshots {
		snap, err := DecodeSnapshot(id, data)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		entries = append(entries, ListEntry{
			ID:        id,
			ModelID:   snap.Session.ModelID,
			Mode:      string(snap.Session.Mode),
			UpdatedAt: s.updated[id],
		})
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt.After(entries[j].UpdatedAt) })
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snapshots[id]; !ok {
		return ErrNotFound
	}
	delete(s.snapshots, id)
	delete(s.updated, id)
	s.forget(id)
	return nil
}
