// Package eventlog appends one JSON line per hook invocation. It is pure
// observability: every failure is swallowed after logging so it can never
// change a decision.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/academicops/aops/internal/log"
)

// EnvDir overrides the log directory.
const EnvDir = "AOPS_EVENT_LOG_DIR"

// DefaultDir is ~/.local/state/aops/events, or the temp dir when there is no
// home. It stays out of ~/.aops so the home directory never reads as a project.
func DefaultDir() string {
	if d := strings.TrimSpace(os.Getenv(EnvDir)); d != "" {
		return d
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state", "aops", "events")
	}
	return filepath.Join(os.TempDir(), "aops-events")
}

// Record is one invocation.
type Record struct {
	ID        string    `json:"id"`
	Time      time.Time `json:"time"`
	Event     string    `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Target    string    `json:"target,omitempty"`
	Decision  string    `json:"decision"`
	Status    string    `json:"status"`
	Rule      string    `json:"rule,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Error     string    `json:"error,omitempty"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Extra     any       `json:"extra,omitempty"`
}

// NewID returns a fresh invocation ID.
func NewID() string {
	return uuid.NewString()
}

// Logger writes records under Dir, one file per day and session.
type Logger struct {
	Dir     string
	Enabled bool
	now     func() time.Time
}

// New returns a Logger. dir "" uses DefaultDir.
func New(dir string, enabled bool) *Logger {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Logger{Dir: dir, Enabled: enabled, now: time.Now}
}

// Path is the file a record for sessionID lands in.
func (l *Logger) Path(sessionID string, at time.Time) string {
	sid := sanitize(sessionID)
	if sid == "" {
		sid = "nosession"
	}
	return filepath.Join(l.Dir, at.Format("2006-01-02")+"-"+sid+".jsonl")
}

// Append writes rec. It returns the error for tests and callers that care,
// but has already logged it.
func (l *Logger) Append(rec Record) error {
	if l == nil || !l.Enabled {
		return nil
	}
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Time.IsZero() {
		rec.Time = l.now().UTC()
	}
	if err := appendJSONL(l.Path(rec.SessionID, rec.Time), rec); err != nil {
		log.Warn("event log write failed", "dir", l.Dir, "error", err)
		return err
	}
	return nil
}

// appendJSONL appends one JSON line and syncs it.
func appendJSONL(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return f.Sync()
}

// Recent returns records from files dated on or after since, oldest first.
// Lines that do not parse are skipped.
func (l *Logger) Recent(since time.Time) ([]Record, error) {
	entries, err := os.ReadDir(l.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read log dir: %w", err)
	}
	day := since.UTC().Format("2006-01-02")

	var recs []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") || len(name) < len(day) || name[:len(day)] < day {
			continue
		}
		got, err := readJSONL(filepath.Join(l.Dir, name))
		if err != nil {
			log.Debug("skipping unreadable event log", "file", name, "error", err)
			continue
		}
		for _, r := range got {
			if !r.Time.Before(since) {
				recs = append(recs, r)
			}
		}
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Time.Before(recs[j].Time) })
	return recs, nil
}

func readJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	var recs []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var r Record
		if json.Unmarshal(sc.Bytes(), &r) == nil {
			recs = append(recs, r)
		}
	}
	return recs, sc.Err()
}

func sanitize(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if sb.Len() >= 64 {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}
