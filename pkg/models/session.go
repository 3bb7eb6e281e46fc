package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode selects the agent's working posture for a run.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeBuild Mode = "build"
)

// FileHandleTable maps small numeric handles to filesystem paths so the
// model can refer to previously opened files without repeating paths.
type FileHandleTable struct {
	NextID int            `json:"next_id"`
	ByID   map[int]string `json:"by_id,omitempty"`
}

// Assign allocates a handle for path, reusing an existing handle if the
// path is already registered.
func (t *FileHandleTable) Assign(path string) int {
	if t.ByID == nil {
		t.ByID = map[int]string{}
	}
	for id, p := range t.ByID {
		if p == path {
			return id
		}
	}
	if t.NextID == 0 {
		t.NextID = 1
	}
	id := t.NextID
	t.NextID++
	t.ByID[id] = path
	return id
}

// Path resolves a handle back to its path.
func (t *FileHandleTable) Path(id int) (string, bool) {
	p, ok := t.ByID[id]
	return p, ok
}

// Clone returns a deep copy of the table.
func (t FileHandleTable) Clone() FileHandleTable {
	clone := FileHandleTable{NextID: t.NextID}
	if len(t.ByID) > 0 {
		clone.ByID = make(map[int]string, len(t.ByID))
		for id, p := range t.ByID {
			clone.ByID[id] = p
		}
	}
	return clone
}

// Session holds mutable conversation state. The run loop owns the session
// for the duration of a run and is the sole writer of History; message
// order is append-only within a run.
type Session struct {
	ID              string           `json:"id"`
	ParentID        string           `json:"parent_id,omitempty"`
	SubagentType    string           `json:"subagent_type,omitempty"`
	ModelID         string           `json:"model_id,omitempty"`
	Mode            Mode             `json:"mode,omitempty"`
	PendingPlan     string           `json:"pending_plan,omitempty"`
	MentionedSkills []string         `json:"mentioned_skills,omitempty"`
	FileHandles     FileHandleTable  `json:"file_handles"`
	History         []HistoryMessage `json:"history"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// NewSession creates a session in build mode with a fresh id.
func NewSession(modelID string) *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		ModelID:   modelID,
		Mode:      ModeBuild,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a message to the history.
func (s *Session) Append(msg HistoryMessage) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	s.History = append(s.History, msg)
	s.UpdatedAt = time.Now()
}

// GetHistory returns a copy of the conversation history. Callers may
// mutate the returned slice without affecting the session.
func (s *Session) GetHistory() []HistoryMessage {
	out := make([]HistoryMessage, len(s.History))
	copy(out, s.History)
	return out
}

// LastAssistantMode reports the mode recorded on the most recent
// assistant message, if any.
func (s *Session) LastAssistantMode() (Mode, bool) {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == RoleAssistant {
			if s.History[i].Mode == "" {
				return "", false
			}
			return s.History[i].Mode, true
		}
	}
	return "", false
}
