// Package trace provides per-call structured event logs. Every unified
// operation gets its own Context; components append timestamped events to it,
// and the Store persists completed traces for post-hoc debugging of which
// backend path a call took.
package trace

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/flutter-control/pkg/logger"
)

// NewID generates a short random trace ID.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Entry is a single trace event. ElapsedMs is relative to the start of the
// operation.
type Entry struct {
	ElapsedMs int64  `json:"elapsed_ms"`
	Event     string `json:"event"`
	Detail    string `json:"detail"`
}

// Context collects the events of one logical operation. Never shared across
// operations; no concurrent writers.
type Context struct {
	TraceID   string                 `json:"trace_id"`
	Tool      string                 `json:"tool_name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	StartTime time.Time              `json:"start_time"`
	Entries   []Entry                `json:"entries"`

	now func() time.Time // test hook
}

// New creates a Context for one operation.
func New(tool string, arguments map[string]interface{}) *Context {
	return &Context{
		TraceID:   NewID(),
		Tool:      tool,
		Arguments: arguments,
		StartTime: time.Now(),
		now:       time.Now,
	}
}

// Log appends an event and mirrors it to the process log.
func (c *Context) Log(event, detail string) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	elapsed := now().Sub(c.StartTime).Milliseconds()
	c.Entries = append(c.Entries, Entry{ElapsedMs: elapsed, Event: event, Detail: detail})
	logger.Debug("[%s] %6dms %-16s %s", c.TraceID, elapsed, event, detail)
}

// TotalMs returns the elapsed time since the operation started.
func (c *Context) TotalMs() int64 {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	return now().Sub(c.StartTime).Milliseconds()
}
