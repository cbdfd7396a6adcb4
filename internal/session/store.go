// Package session keeps per-session lifecycle flags as marker files.
//
// A flag's existence is the whole state. Every operation is a single
// filesystem call (exclusive create, lstat, remove), so two hook processes for
// the same session cannot corrupt each other; at worst one observes the
// other's completed operation.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// EnvStateDir overrides the flag directory.
const EnvStateDir = "AOPS_SESSION_STATE_DIR"

const (
	flagPrefix = "deferred-"
	flagSuffix = ".flag"
	maxIDChars = 40
)

// DefaultDir returns the flag directory from the environment, or a directory
// under the system temp dir.
func DefaultDir() string {
	if d := strings.TrimSpace(os.Getenv(EnvStateDir)); d != "" {
		return d
	}
	return filepath.Join(os.TempDir(), "aops-session")
}

// FlagStore is the narrow interface the lifecycle coordinator depends on.
type FlagStore interface {
	Exists(sessionID string) (bool, error)
	Create(sessionID string) (created bool, err error)
	Delete(sessionID string) error
}

// FileStore stores flags as files in Dir.
type FileStore struct {
	Dir string
}

// NewFileStore returns a store rooted at dir ("" uses DefaultDir).
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}
	return &FileStore{Dir: dir}
}

// FlagName derives the flag file name for a session. The readable prefix is
// sanitized; the hash suffix keeps distinct IDs distinct.
func FlagName(sessionID string) string {
	var sb strings.Builder
	for _, r := range sessionID {
		if sb.Len() >= maxIDChars {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	sum := sha256.Sum256([]byte(sessionID))
	return flagPrefix + sb.String() + "-" + hex.EncodeToString(sum[:6]) + flagSuffix
}

// Path is the flag file for sessionID.
func (s *FileStore) Path(sessionID string) string {
	return filepath.Join(s.Dir, FlagName(sessionID))
}

// Exists reports whether the session's flag is set.
func (s *FileStore) Exists(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrNoSession
	}
	info, err := os.Lstat(s.Path(sessionID))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat flag: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is %s", ErrCorrupt, s.Path(sessionID), info.Mode().Type())
	}
	return true, nil
}

type flagRecord struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Create sets the flag. created is false when it was already set.
func (s *FileStore) Create(sessionID string) (bool, error) {
	if sessionID == "" {
		return false, ErrNoSession
	}
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return false, fmt.Errorf("create state dir: %w", err)
	}

	f, err := os.OpenFile(s.Path(sessionID), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create flag: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // flag exists; content is informational
	}()

	// Only existence matters. The record helps `aops session` listings.
	_ = json.NewEncoder(f).Encode(flagRecord{SessionID: sessionID, CreatedAt: time.Now().UTC()}) //nolint:errcheck
	return true, nil
}

// Delete clears the flag. Clearing an unset flag is not an error.
func (s *FileStore) Delete(sessionID string) error {
	if sessionID == "" {
		return ErrNoSession
	}
	err := os.Remove(s.Path(sessionID))
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("remove flag: %w", err)
}

// Flag describes one flag file on disk.
type Flag struct {
	Path      string
	SessionID string
	CreatedAt time.Time
}

// List returns every flag in the store, oldest first. Unreadable records are
// listed with whatever could be recovered.
func (s *FileStore) List() ([]Flag, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	var flags []Flag
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, flagPrefix) || !strings.HasSuffix(name, flagSuffix) {
			continue
		}
		fl := Flag{Path: filepath.Join(s.Dir, name)}
		if data, err := os.ReadFile(fl.Path); err == nil {
			var rec flagRecord
			if json.Unmarshal(data, &rec) == nil {
				fl.SessionID = rec.SessionID
				fl.CreatedAt = rec.CreatedAt
			}
		}
		if fl.CreatedAt.IsZero() {
			if info, err := e.Info(); err == nil {
				fl.CreatedAt = info.ModTime().UTC()
			}
		}
		flags = append(flags, fl)
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i].CreatedAt.Before(flags[j].CreatedAt) })
	return flags, nil
}
