package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// FileStore keeps one JSON file per key.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore stores records under dir. An empty dir selects
// <user config dir>/gaze-tracer/calibrations.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			configDir = filepath.Join(os.Getenv("HOME"), ".config")
		}
		dir = filepath.Join(configDir, "gaze-tracer", "calibrations")
	}
	return &FileStore{dir: dir}
}

// Dir returns the storage directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(k Key) string {
	name := unsafeChars.ReplaceAllString(k.UserID, "_") + "-" + unsafeChars.ReplaceAllString(k.Fingerprint, "_")
	return filepath.Join(s.dir, name+".json")
}

// Load reads the record for k.
func (s *FileStore) Load(_ context.Context, k Key) (*Record, error) {
	if err := validKey(k); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(k))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", s.path(k), err)
	}
	return &r, nil
}

// LoadLatest returns the newest record saved for userID on any device.
func (s *FileStore) LoadLatest(_ context.Context, userID string) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("invalid user id %q", userID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := unsafeChars.ReplaceAllString(userID, "_") + "-"
	matches, err := filepath.Glob(filepath.Join(s.dir, prefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("list calibrations: %w", err)
	}
	var latest *Record
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read calibration: %w", err)
		}
		var r Record
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse calibration %s: %w", path, err)
		}
		// "a-b" and "a" share a file prefix.
		if r.UserID != userID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = &r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

// Save writes the record for k, replacing any previous one. The file is
// written to a temporary name first and renamed into place.
func (s *FileStore) Save(_ context.Context, k Key, r *Record) error {
	if err := validKey(k); err != nil {
		return err
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode calibration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	path := s.path(k)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}
