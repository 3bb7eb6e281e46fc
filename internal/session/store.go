package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

// ErrNotFound is returned when a session id has no stored snapshot.
var ErrNotFound = errors.New("session not found")

// ListEntry is one row of a session listing.
type ListEntry struct {
	ID        string    `json:"id"`
	ModelID   string    `json:"model_id"`
	Mode      string    `json:"mode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists sessions. List returns most recently updated first.
type Store interface {
	Save(ctx context.Context, sess *models.Session) error
	Load(ctx context.Context, id string) (*models.Session, error)
	List(ctx context.Context, limit, offset int) ([]ListEntry, error)
	Delete(ctx context.Context, id string) error
}

// validateID rejects empty ids and ids with surrounding whitespace since
// those would silently produce distinct storage keys.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(id) != id {
		return fmt.Errorf("session id has surrounding whitespace: %q", id)
	}
	return nil
}

// extrasTracker remembers unknown snapshot fields seen at load time so a
// later save writes them back. Backends embed it.
type extrasTracker struct {
	mu     sync.Mutex
	extras map[string]map[string]json.RawMessage
}

func (t *extrasTracker) remember(id string, extras map[string]json.RawMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.extras == nil {
		t.extras = map[string]map[string]json.RawMessage{}
	}
	if len(extras) == 0 {
		delete(t.extras, id)
		return
	}
	t.extras[id] = extras
}

func (t *extrasTracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.extras, id)
}

// encode builds the snapshot bytes for a session, reattaching any unknown
// fields remembered from a previous load.
func (t *extrasTracker) encode(sess *models.Session) ([]byte, error) {
	snap := SnapshotSession(sess)
	t.mu.Lock()
	snap.extras = t.extras[sess.ID]
	t.mu.Unlock()
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return data, nil
}

// decode parses snapshot bytes and remembers their unknown fields.
func (t *extrasTracker) decode(id string, data []byte) (*models.Session, error) {
	snap, err := DecodeSnapshot(id, data)
	if err != nil {
		return nil, err
	}
	t.remember(id, snap.extras)
	return snap.Session, nil
}
