// Package jsonfile implements file-backed stores that survive between runs.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hay-kot/dockhand/internal/core/session"
)

// sessionFile is the root JSON structure stored on disk.
type sessionFile struct {
	Session   session.Session `json:"session"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionStore implements session.Store using a JSON file for persistence.
// Several dockhand processes may share the file; writes are serialized with
// an flock on a sibling lock file.
type SessionStore struct {
	path string
	mu   sync.RWMutex
}

// NewSessionStore creates a new JSON file session store at the given path.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// lockPath returns the path to the lock file.
func (s *SessionStore) lockPath() string {
	return s.path + ".lock"
}

// withSharedLock executes fn while holding a shared (read) file lock.
func (s *SessionStore) withSharedLock(fn func() error) error {
	return s.withFileLock(syscall.LOCK_SH, fn)
}

// withExclusiveLock executes fn while holding an exclusive (write) file lock.
func (s *SessionStore) withExclusiveLock(fn func() error) error {
	return s.withFileLock(syscall.LOCK_EX, fn)
}

// withFileLock acquires a file lock, executes fn, then releases the lock.
func (s *SessionStore) withFileLock(lockType int, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(s.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	if err := syscall.Flock(int(f.Fd()), lockType); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN) //nolint:errcheck

	return fn()
}

// Load returns the stored session. Returns session.ErrNotFound if the file
// is missing or holds an empty session.
func (s *SessionStore) Load(ctx context.Context) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var file sessionFile
	err := s.withSharedLock(func() error {
		var err error
		file, err = s.load()
		return err
	})
	if err != nil {
		return session.Session{}, err
	}

	if file.Session.IsEmpty() {
		return session.Session{}, session.ErrNotFound
	}

	return file.Session, nil
}

// Save replaces the stored session.
func (s *SessionStore) Save(ctx context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withExclusiveLock(func() error {
		return s.save(sessionFile{Session: sess, UpdatedAt: time.Now()})
	})
}

// Clear removes the stored session.
func (s *SessionStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withExclusiveLock(func() error {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	})
}

// load reads the session file from disk.
// Returns an empty sessionFile if the file doesn't exist.
func (s *SessionStore) load() (sessionFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return sessionFile{}, nil
		}
		return sessionFile{}, fmt.Errorf("read session file: %w", err)
	}

	if len(data) == 0 {
		return sessionFile{}, nil
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return sessionFile{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return file, nil
}

// save writes the session file to disk atomically. Tokens are credentials,
// so the file is only readable by the owner.
func (s *SessionStore) save(file sessionFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp) // best effort cleanup
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
