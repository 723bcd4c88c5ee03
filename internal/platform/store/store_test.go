package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type note struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func backends(t *testing.T) map[string]DocumentStore {
	t.Helper()
	fs, err := OpenFileStore(filepath.Join(t.TempDir(), "data", "data.json"))
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}
	return map[string]DocumentStore{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "c1", "notes", "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_PutKeepsInsertionOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			col := NewCollection[note](s, "notes")
			for _, id := range []string{"b", "a", "c"} {
				if err := col.Put(ctx, "c1", id, &note{ID: id, Text: id}); err != nil {
					t.Fatalf("put %s: %v", id, err)
				}
			}
			// Replacing keeps the original position.
			if err := col.Put(ctx, "c1", "b", &note{ID: "b", Text: "updated"}); err != nil {
				t.Fatalf("replace: %v", err)
			}

			items, err := col.List(ctx, "c1")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(items) != 3 {
				t.Fatalf("expected 3 items, got %d", len(items))
			}
			got := []string{items[0].ID, items[1].ID, items[2].ID}
			want := []string{"b", "a", "c"}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("order = %v, want %v", got, want)
				}
			}
			if items[0].Text != "updated" {
				t.Errorf("expected replaced body, got %q", items[0].Text)
			}
		})
	}
}

func TestStore_CentersAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			col := NewCollection[note](s, "notes")
			col.Put(ctx, "c1", "x", &note{ID: "x"})

			items, err := col.List(ctx, "c2")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(items) != 0 {
				t.Errorf("expected no items in c2, got %d", len(items))
			}
			if _, err := col.Get(ctx, "c2", "x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound across centers, got %v", err)
			}
		})
	}
}

func TestCollection_PutRequiresID(t *testing.T) {
	col := NewCollection[note](NewMemoryStore(), "notes")
	if err := col.Put(context.Background(), "c1", "", &note{}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestFileStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")

	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	col := NewCollection[note](s, "notes")
	col.Put(ctx, "c1", "1", &note{ID: "1", Text: "first"})
	col.Put(ctx, "c1", "2", &note{ID: "2", Text: "second"})

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	items, err := NewCollection[note](reopened, "notes").List(ctx, "c1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].Text != "first" || items[1].Text != "second" {
		t.Errorf("unexpected items after reopen: %+v", items)
	}
}

func TestFileStore_RejectsInvalidJSON(t *testing.T) {
	s, err := OpenFileStore(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(context.Background(), "c1", "notes", "1", []byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenFileStore(path); err == nil {
		t.Error("expected error for corrupt data file")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc, _ := json.Marshal(note{ID: "1", Text: "a"})
	s.Put(ctx, "c1", "notes", "1", doc)

	got, _ := s.Get(ctx, "c1", "notes", "1")
	got[0] = 'X'

	again, _ := s.Get(ctx, "c1", "notes", "1")
	if again[0] != '{' {
		t.Error("caller mutation leaked into the store")
	}
}

func TestFileStore_Ping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	s, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}
	os.Remove(path)
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail once the data file is gone")
	}
}
