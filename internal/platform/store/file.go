package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileEntry keeps the id next to the raw body so insertion order survives a
// round trip through the file.
type fileEntry struct {
	ID  string          `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

type fileLayout struct {
	Centers map[string]map[string][]fileEntry `json:"centers"`
}

// FileStore keeps every document in a single JSON file. The whole file is
// rewritten on each Put through a temp file and rename, so a crash never
// leaves a half-written file behind.
type FileStore struct {
	mu     sync.RWMutex
	path   string
	layout fileLayout
}

// OpenFileStore loads path, creating an empty file (and its directory) when
// it does not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, layout: fileLayout{Centers: map[string]map[string][]fileEntry{}}}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		if err := s.flush(); err != nil {
			return nil, err
		}
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read data file %s: %w", path, err)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.layout); err != nil {
			return nil, fmt.Errorf("parse data file %s: %w", path, err)
		}
	}
	if s.layout.Centers == nil {
		s.layout.Centers = map[string]map[string][]fileEntry{}
	}
	return s, nil
}

// Ping reports whether the backing file is still reachable.
func (s *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("data file: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Get(_ context.Context, center, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.layout.Centers[center][collection] {
		if e.ID == id {
			return append([]byte(nil), e.Doc...), nil
		}
	}
	return nil, ErrNotFound
}

func (s *FileStore) Put(_ context.Context, center, collection, id string, doc []byte) error {
	if !json.Valid(doc) {
		return fmt.Errorf("%s/%s: document is not valid JSON", collection, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cols, ok := s.layout.Centers[center]
	if !ok {
		cols = map[string][]fileEntry{}
		s.layout.Centers[center] = cols
	}
	entries := cols[collection]
	body := json.RawMessage(append([]byte(nil), doc...))

	replaced := false
	for i := range entries {
		if entries[i].ID == id {
			entries[i].Doc = body
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, fileEntry{ID: id, Doc: body})
	}
	cols[collection] = entries
	return s.flush()
}

func (s *FileStore) List(_ context.Context, center, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.layout.Centers[center][collection]
	out := make([][]byte, 0, len(entries))
	for _, e := range entries {
		out = append(out, append([]byte(nil), e.Doc...))
	}
	return out, nil
}

// flush must be called with the write lock held (or before the store is shared).
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.layout, "", "  ")
	if err != nil {
		return fmt.Errorf("encode data file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".data-*.json")
	if err != nil {
		return fmt.Errorf("create temp data file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp data file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}
