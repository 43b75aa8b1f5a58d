package lock_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tiliavir/timesheet-fiscal/internal/store"
)

// memStore is an in-memory store that, like Drive, happily creates several
// files with the same name in a folder.
type memStore struct {
	mu      sync.Mutex
	seq     int
	clock   time.Time
	files   map[string]memFile
	folders map[string]string // "parent/name" -> id

	// beforeCreate runs (unlocked) at the start of every Create.
	beforeCreate func()
	// failDeletes makes the next n Delete calls fail.
	failDeletes int
	deletes     int
}

type memFile struct {
	store.File
	folder  string
	content []byte
}

func newMemStore() *memStore {
	return &memStore{
		clock:   time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		files:   map[string]memFile{},
		folders: map[string]string{},
	}
}

func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) EnsureFolder(_ context.Context, parentID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := parentID + "/" + name
	if id, ok := s.folders[key]; ok {
		return id, nil
	}
	s.seq++
	id := fmt.Sprintf("folder-%d", s.seq)
	s.folders[key] = id
	return id, nil
}

func (s *memStore) List(_ context.Context, folderID, name string) ([]store.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.File
	for _, f := range s.files {
		if f.folder == folderID && (name == "" || f.Name == name) {
			out = append(out, f.File)
		}
	}
	return out, nil
}

// put inserts a file directly, bypassing hooks.
func (s *memStore) put(folderID, name string, content []byte, created time.Time) store.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f := memFile{
		File:    store.File{ID: fmt.Sprintf("file-%03d", s.seq), Name: name, CreatedTime: created, ModifiedTime: created},
		folder:  folderID,
		content: content,
	}
	s.files[f.ID] = f
	return f.File
}

func (s *memStore) Create(_ context.Context, folderID, name string, content []byte) (store.File, error) {
	if hook := s.beforeCreate; hook != nil {
		hook()
	}
	s.mu.Lock()
	now := s.tick()
	s.mu.Unlock()
	return s.put(folderID, name, content, now), nil
}

func (s *memStore) Upload(_ context.Context, fileID string, content []byte) (store.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return store.File{}, store.ErrNotFound
	}
	f.content = content
	f.ModifiedTime = s.tick()
	s.files[fileID] = f
	return f.File, nil
}

func (s *memStore) Download(_ context.Context, fileID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[fileID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return f.content, nil
}

func (s *memStore) Delete(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if s.failDeletes > 0 {
		s.failDeletes--
		return fmt.Errorf("transient delete failure")
	}
	if _, ok := s.files[fileID]; !ok {
		return store.ErrNotFound
	}
	delete(s.files, fileID)
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
