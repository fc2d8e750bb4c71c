package httpapi

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// trailEntry is one recorded API request.
type trailEntry struct {
	Time       time.Time `json:"time"`
	User       string    `json:"user"`
	Role       string    `json:"role,omitempty"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Status     int       `json:"status"`
	TraceID    string    `json:"trace_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

// auditTrail keeps the most recent API requests in a bounded ring and
// mirrors them to an optional sink.
type auditTrail struct {
	mu      sync.Mutex
	entries []trailEntry
	max     int
	sink    trailSink
}

type trailSink interface {
	Write(entry trailEntry) error
}

func newAuditTrail(max int, sink trailSink) *auditTrail {
	if max <= 0 {
		max = 200
	}
	return &auditTrail{max: max, sink: sink}
}

func (t *auditTrail) add(entry trailEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if len(t.entries) > t.max {
		t.entries = t.entries[len(t.entries)-t.max:]
	}
	if t.sink != nil {
		// The ring is authoritative; sink failures must not affect requests.
		_ = t.sink.Write(entry)
	}
}

func (t *auditTrail) list() []trailEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]trailEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *auditTrail) listLimit(limit int) []trailEntry {
	if limit <= 0 || limit > t.max {
		limit = t.max
	}
	all := t.list()
	if len(all) <= limit {
		return all
	}
	return all[len(all)-limit:]
}

// fileTrailSink appends trail entries as JSONL.
type fileTrailSink struct {
	mu   sync.Mutex
	file *os.File
}

func newFileTrailSink(path string) (*fileTrailSink, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileTrailSink{file: f}, nil
}

func (s *fileTrailSink) Write(entry trailEntry) error {
	if s == nil || s.file == nil {
		return nil
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}
