// Package state persists the last known on/off state of switches across
// restarts, in a gob file replaced atomically with renameio.
package state

import (
	"bytes"
	"encoding/gob"
	"os"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

const (
	// DefaultSaveInterval is the minimum time between conditional saves.
	DefaultSaveInterval = 30 * time.Second
	// RetrySaveInterval is the delay before a failed save is retried.
	RetrySaveInterval = 2 * time.Second
)

// Store maps device ids to their last known on/off state.
// It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	path     string
	interval time.Duration
	states   map[string]bool
	modified bool
	nextSave time.Time
	now      func() time.Time
}

// New creates an empty store saving to path. An empty path keeps the store
// in memory only.
func New(path string) *Store {
	return &Store{
		path:     path,
		interval: DefaultSaveInterval,
		states:   make(map[string]bool),
		now:      time.Now,
	}
}

// WithSaveInterval sets the minimum time between conditional saves.
func (s *Store) WithSaveInterval(d time.Duration) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
	return s
}

// Load replaces the store's contents with the file's. A missing file leaves
// the store empty and is not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read state")
	}
	states := make(map[string]bool)
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&states); err != nil {
		return errors.Wrapf(err, "decode state %s", s.path)
	}
	s.states = states
	s.modified = false
	return nil
}

// Get returns the last known state of id.
func (s *Store) Get(id string) (on, known bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	on, known = s.states[id]
	return on, known
}

// Set records the state of id.
func (s *Store) Set(id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.states[id]; ok && prev == on {
		return
	}
	s.states[id] = on
	s.modified = true
}

// Modified reports whether there are changes not yet saved.
func (s *Store) Modified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modified
}

// Save writes the store now, modified or not.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// SaveConditional saves the store if it was modified and the save interval
// has passed since the last save. A failed save is retried after
// RetrySaveInterval.
func (s *Store) SaveConditional() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modified || s.now().Before(s.nextSave) {
		return nil
	}
	return s.save()
}

func (s *Store) save() error {
	if s.path == "" {
		s.modified = false
		return nil
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(s.states)
	if err == nil {
		err = renameio.WriteFile(s.path, buf.Bytes(), 0o600)
	}
	if err != nil {
		s.nextSave = s.now().Add(RetrySaveInterval)
		return errors.Wrapf(err, "save state %s", s.path)
	}
	s.modified = false
	s.nextSave = s.now().Add(s.interval)
	return nil
}
