package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// maxRecent bounds the in-memory ring of completed traces.
const maxRecent = 100

// Record is the persisted form of a completed trace.
type Record struct {
	TraceID   string                 `json:"trace_id"`
	Tool      string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	StartTime string                 `json:"start_time"`
	TotalMs   int64                  `json:"total_ms"`
	Entries   []Entry                `json:"entries"`
}

// Store keeps recent traces in memory and appends each completed trace to a
// JSONL file. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	recent []Record
	path   string // empty disables persistence
}

// NewStore creates a Store persisting to traces.jsonl under dir. An empty dir
// keeps traces in memory only.
func NewStore(dir string) *Store {
	s := &Store{}
	if dir != "" {
		s.path = filepath.Join(dir, "traces.jsonl")
	}
	return s
}

// Save records a completed trace.
func (s *Store) Save(c *Context) error {
	rec := Record{
		TraceID:   c.TraceID,
		Tool:      c.Tool,
		Arguments: c.Arguments,
		StartTime: c.StartTime.Format(time.RFC3339),
		TotalMs:   c.TotalMs(),
		Entries:   c.Entries,
	}

	s.mu.Lock()
	s.recent = append(s.recent, rec)
	if len(s.recent) > maxRecent {
		s.recent = s.recent[len(s.recent)-maxRecent:]
	}
	path := s.path
	s.mu.Unlock()

	if path == "" {
		return nil
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(data, '\n'))
	return err
}

// Recent returns up to count most recent traces, oldest first.
func (s *Store) Recent(count int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if count <= 0 || count > len(s.recent) {
		count = len(s.recent)
	}
	out := make([]Record, count)
	copy(out, s.recent[len(s.recent)-count:])
	return out
}

// Get returns the most recent trace with the given ID.
func (s *Store) Get(traceID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.recent) - 1; i >= 0; i-- {
		if s.recent[i].TraceID == traceID {
			return s.recent[i], true
		}
	}
	return Record{}, false
}
