package session

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

func TestSnapshotRoundTrip(t *testing.T) {
	sess := models.NewSession("claude-sonnet-4-20250514")
	sess.Mode = models.ModePlan
	sess.ParentID = "parent-1"
	sess.SubagentType = "researcher"
	sess.PendingPlan = "draft the migration"
	sess.MentionedSkills = []string{"sql"}
	sess.FileHandles.Assign("notes/a.txt")
	sess.Append(models.HistoryMessage{
		Role:  models.RoleUser,
		Parts: []models.Part{models.TextPart("hello")},
	})

	data, err := EncodeSnapshot(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	snap, err := DecodeSnapshot(sess.ID, data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Version != SnapshotVersion {
		t.Errorf("version = %d", snap.Version)
	}
	if snap.SavedAt.IsZero() || time.Since(snap.SavedAt) > time.Minute {
		t.Errorf("savedAt = %s", snap.SavedAt)
	}
	got := snap.Session
	if got.ID != sess.ID || got.Mode != models.ModePlan {
		t.Errorf("session = %+v", got)
	}
	if got.ParentID != "parent-1" || got.SubagentType != "researcher" {
		t.Errorf("lineage = %q/%q", got.ParentID, got.SubagentType)
	}
	if got.PendingPlan != "draft the migration" {
		t.Errorf("pendingPlan = %q", got.PendingPlan)
	}
	if len(got.MentionedSkills) != 1 || got.MentionedSkills[0] != "sql" {
		t.Errorf("mentionedSkills = %v", got.MentionedSkills)
	}
	if path, ok := got.FileHandles.Path(1); !ok || path != "notes/a.txt" {
		t.Errorf("fileHandles = %+v", got.FileHandles)
	}
	if len(got.History) != 1 || got.History[0].Text() != "hello" {
		t.Errorf("history = %+v", got.History)
	}
}

func TestSnapshotWireFormatIsFlat(t *testing.T) {
	sess := models.NewSession("gpt-5")
	sess.PendingPlan = "plan"
	sess.Append(models.HistoryMessage{
		Role:  models.RoleUser,
		Parts: []models.Part{models.TextPart("hi")},
	})

	data, err := EncodeSnapshot(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for _, key := range []string{"version", "savedAt", "sessionId", "modelId", "pendingPlan", "history"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing top-level key %q", key)
		}
	}
	for _, key := range []string{"session", "saved_at", "session_id", "model_id", "pending_plan"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unexpected key %q", key)
		}
	}
	var id string
	if err := json.Unmarshal(raw["sessionId"], &id); err != nil || id != sess.ID {
		t.Errorf("sessionId = %s (err %v)", raw["sessionId"], err)
	}
	var savedAt string
	if err := json.Unmarshal(raw["savedAt"], &savedAt); err != nil {
		t.Fatalf("savedAt: %v", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, savedAt); err != nil {
		t.Errorf("savedAt %q not ISO-8601: %v", savedAt, err)
	}
}

func TestSnapshotPreservesUnknownFields(t *testing.T) {
	sess := models.NewSession("gpt-5")
	data, err := EncodeSnapshot(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Simulate a newer minor revision having written an extra top-level
	// field.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw["future_field"] = json.RawMessage(`{"keep":"me"}`)
	annotated, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	snap, err := DecodeSnapshot(sess.ID, annotated)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	out, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("unmarshal round trip: %v", err)
	}
	if string(roundTripped["future_field"]) != `{"keep":"me"}` {
		t.Errorf("future_field = %s", roundTripped["future_field"])
	}
}

func TestSnapshotRejectsNewerVersion(t *testing.T) {
	_, err := DecodeSnapshot("s1", []byte(`{"version":2,"sessionId":"s1","history":[]}`))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "unsupported snapshot version 2") {
		t.Errorf("error = %v", err)
	}
}

func TestSnapshotRequiresVersion(t *testing.T) {
	if _, err := DecodeSnapshot("s1", []byte(`{"sessionId":"s1","history":[]}`)); err == nil ||
		!strings.Contains(err.Error(), "no version") {
		t.Errorf("missing version error = %v", err)
	}
	if _, err := DecodeSnapshot("s1", []byte(`not json`)); err == nil {
		t.Error("expected error for invalid json")
	}

	// sessionId is optional on the wire; the caller validates ids.
	snap, err := DecodeSnapshot("s1", []byte(`{"version":1,"history":[]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Session == nil || snap.Session.ID != "" {
		t.Errorf("session = %+v", snap.Session)
	}
}
