// Package session persists agent sessions as versioned snapshots. Stores
// share one snapshot codec; backends differ only in where the bytes go.
package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

// SnapshotVersion is the current snapshot format version. Loading a
// snapshot from a newer version fails rather than silently dropping
// fields it does not understand.
const SnapshotVersion = 1

// Snapshot wraps a session for persistence. Top-level fields written by
// newer minor revisions are preserved across a load/save round trip.
type Snapshot struct {
	Version int
	SavedAt time.Time
	Session *models.Session

	// extras holds unrecognized top-level fields verbatim.
	extras map[string]json.RawMessage
}

// SnapshotSession wraps a session in a current-version snapshot.
func SnapshotSession(sess *models.Session) *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		SavedAt: time.Now().UTC(),
		Session: sess,
	}
}

// snapshotWire is the flat on-disk shape: session fields live at the top
// level next to version and savedAt.
type snapshotWire struct {
	Version         int                     `json:"version"`
	SavedAt         string                  `json:"savedAt"`
	SessionID       string                  `json:"sessionId,omitempty"`
	ParentSessionID string                  `json:"parentSessionId,omitempty"`
	SubagentType    string                  `json:"subagentType,omitempty"`
	ModelID         string                  `json:"modelId,omitempty"`
	Mode            models.Mode             `json:"mode,omitempty"`
	PendingPlan     string                  `json:"pendingPlan,omitempty"`
	History         []models.HistoryMessage `json:"history"`
	MentionedSkills []string                `json:"mentionedSkills,omitempty"`
	FileHandles     *models.FileHandleTable `json:"fileHandles,omitempty"`
	CreatedAt       *time.Time              `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time              `json:"updatedAt,omitempty"`
}

// MarshalJSON emits the flat snapshot with any preserved unknown fields.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	sess := s.Session
	if sess == nil {
		sess = &models.Session{}
	}
	wire := snapshotWire{
		Version:         s.Version,
		SavedAt:         s.SavedAt.UTC().Format(time.RFC3339Nano),
		SessionID:       sess.ID,
		ParentSessionID: sess.ParentID,
		SubagentType:    sess.SubagentType,
		ModelID:         sess.ModelID,
		Mode:            sess.Mode,
		PendingPlan:     sess.PendingPlan,
		History:         sess.History,
		MentionedSkills: sess.MentionedSkills,
	}
	if sess.FileHandles.NextID != 0 || len(sess.FileHandles.ByID) > 0 {
		handles := sess.FileHandles.Clone()
		wire.FileHandles = &handles
	}
	if !sess.CreatedAt.IsZero() {
		created := sess.CreatedAt
		wire.CreatedAt = &created
	}
	if !sess.UpdatedAt.IsZero() {
		updated := sess.UpdatedAt
		wire.UpdatedAt = &updated
	}

	base, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	if len(s.extras) == 0 {
		return base, nil
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(base, &out); err != nil {
		return nil, err
	}
	for k, v := range s.extras {
		if _, known := out[k]; !known {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// snapshotKeys are the top-level names the codec owns; everything else
// is preserved verbatim for the next save.
var snapshotKeys = []string{
	"version", "savedAt", "sessionId", "parentSessionId", "subagentType",
	"modelId", "mode", "pendingPlan", "history", "mentionedSkills",
	"fileHandles", "createdAt", "updatedAt",
}

// UnmarshalJSON decodes a flat snapshot, keeping unrecognized top-level
// fields for the next save.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if _, ok := raw["version"]; !ok {
		return fmt.Errorf("snapshot has no version")
	}

	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.Version = wire.Version
	if s.Version > SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d (current %d)", s.Version, SnapshotVersion)
	}
	if wire.SavedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, wire.SavedAt)
		if err != nil {
			return fmt.Errorf("snapshot savedAt: %w", err)
		}
		s.SavedAt = t
	}

	s.Session = &models.Session{
		ID:              wire.SessionID,
		ParentID:        wire.ParentSessionID,
		SubagentType:    wire.SubagentType,
		ModelID:         wire.ModelID,
		Mode:            wire.Mode,
		PendingPlan:     wire.PendingPlan,
		History:         wire.History,
		MentionedSkills: wire.MentionedSkills,
	}
	if wire.FileHandles != nil {
		s.Session.FileHandles = *wire.FileHandles
	}
	if wire.CreatedAt != nil {
		s.Session.CreatedAt = *wire.CreatedAt
	}
	if wire.UpdatedAt != nil {
		s.Session.UpdatedAt = *wire.UpdatedAt
	}

	for _, key := range snapshotKeys {
		delete(raw, key)
	}
	if len(raw) > 0 {
		s.extras = raw
	}
	return nil
}

// EncodeSnapshot serializes a session for storage.
func EncodeSnapshot(sess *models.Session) ([]byte, error) {
	data, err := json.Marshal(SnapshotSession(sess))
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	return data, nil
}

// DecodeSnapshot parses stored snapshot bytes. id is only used for error
// context.
func DecodeSnapshot(id string, data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &snap, nil
}
