package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spindlehq/spindle/pkg/models"
)

func TestMemoryStoreSaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := models.NewSession("claude-sonnet-4-20250514")
	sess.Append(models.HistoryMessage{
		Role:  models.RoleUser,
		Parts: []models.Part{models.TextPart("hi")},
	})
	if err := store.Save(ctx, sess); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != sess.ID || len(got.History) != 1 {
		t.Errorf("loaded = %+v", got)
	}

	// Loaded session is a copy; mutating it must not leak into the store.
	got.Append(models.HistoryMessage{Role: models.RoleUser, Parts: []models.Part{models.TextPart("extra")}})
	again, err := store.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(again.History) != 1 {
		t.Errorf("store leaked mutation, history len = %d", len(again.History))
	}

	if err := store.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("load after delete = %v", err)
	}
	if err := store.Delete(ctx, sess.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v", err)
	}
}

func TestMemoryStoreListMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	ids := make([]string, 3)
	for i := range ids {
		sess := models.NewSession(fmt.Sprintf("model-%d", i))
		ids[i] = sess.ID
		if err := store.Save(ctx, sess); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := store.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries", len(entries))
	}
	for i, e := range entries {
		if e.ID != ids[2-i] {
			t.Errorf("entry %d = %s, want %s", i, e.ID, ids[2-i])
		}
	}
	if entries[0].ModelID != "model-2" {
		t.Errorf("newest model = %s", entries[0].ModelID)
	}

	page, err := store.List(ctx, 1, 1)
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[1] {
		t.Errorf("page = %+v", page)
	}

	empty, err := store.List(ctx, 10, 99)
	if err != nil || empty != nil {
		t.Errorf("offset past end = %v, %v", empty, err)
	}
}

func TestMemoryStoreValidatesIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Save(ctx, &models.Session{}); err == nil {
		t.Error("saved session with empty id")
	}
	if err := store.Save(ctx, &models.Session{ID: " padded "}); err == nil {
		t.Error("saved session with padded id")
	}
	if _, err := store.Load(ctx, ""); err == nil {
		t.Error("loaded empty id")
	}
	if err := store.Delete(ctx, "\tx"); err == nil {
		t.Error("deleted whitespace id")
	}
}

func TestMemoryStorePreservesUnknownSnapshotFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := models.NewSession("gpt-5")
	data, err := EncodeSnapshot(sess)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	raw["future_field"] = json.RawMessage(`42`)
	annotated, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	store.snapshots[sess.ID] = annotated
	store.updated[sess.ID] = time.Now()

	loaded, err := store.Load(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := store.Save(ctx, loaded); err != nil {
		t.Fatalf("save: %v", err)
	}

	var saved map[string]json.RawMessage
	if err := json.Unmarshal(store.snapshots[sess.ID], &saved); err != nil {
		t.Fatalf("unmarshal saved: %v", err)
	}
	if string(saved["future_field"]) != `42` {
		t.Errorf("future_field = %s", saved["future_field"])
	}
}
