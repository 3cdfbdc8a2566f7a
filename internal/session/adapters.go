package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MemoryAdapter keeps the last saved list in process memory
type MemoryAdapter struct {
	sessions []Session
	saves    int
	mu       sync.Mutex
}

// NewMemoryAdapter creates an empty in-memory adapter
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{}
}

// Load returns the last saved list
func (a *MemoryAdapter) Load(_ context.Context) ([]Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Session(nil), a.sessions...), nil
}

// Save replaces the held list
func (a *MemoryAdapter) Save(_ context.Context, sessions []Session) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append([]Session(nil), sessions...)
	a.saves++
	return nil
}

// Saves returns how many times Save has been called
func (a *MemoryAdapter) Saves() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saves
}

// Close is a no-op
func (a *MemoryAdapter) Close() error { return nil }

// FileAdapter stores the session list as indented JSON
type FileAdapter struct {
	path string
}

// SessionsFile is the file name used inside the storage directory
const SessionsFile = "sessions.json"

// NewFileAdapter creates an adapter writing to dir/sessions.json, creating dir if needed
func NewFileAdapter(dir string) (*FileAdapter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileAdapter{path: filepath.Join(dir, SessionsFile)}, nil
}

// Path returns the file location
func (a *FileAdapter) Path() string {
	return a.path
}

// Load reads the file; a missing file is an empty list
func (a *FileAdapter) Load(_ context.Context) ([]Session, error) {
	data, err := os.ReadFile(a.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", a.path, err)
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	return sessions, nil
}

// Save writes the list through a temporary file and renames it into place
func (a *FileAdapter) Save(_ context.Context, sessions []Session) error {
	if sessions == nil {
		sessions = []Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode sessions: %w", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write sessions: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("failed to replace sessions file: %w", err)
	}
	return nil
}

// Close is a no-op
func (a *FileAdapter) Close() error { return nil }
