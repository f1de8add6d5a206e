package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewID_ShortAndUnique(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 8 {
		t.Errorf("id length = %d, want 8", len(a))
	}
	if a == b {
		t.Errorf("ids must differ, got %s twice", a)
	}
}

func TestContext_LogElapsed(t *testing.T) {
	c := New("tap", map[string]interface{}{"text": "Increment"})
	base := c.StartTime
	current := base
	c.now = func() time.Time { return current }

	c.Log("BACKEND_SEL", "order=[maestro,driver]")
	current = base.Add(120 * time.Millisecond)
	c.Log("TRY_MAESTRO", "")

	if len(c.Entries) != 2 {
		t.Fatalf("entries = %v", c.Entries)
	}
	if c.Entries[0].ElapsedMs != 0 {
		t.Errorf("first elapsed = %d", c.Entries[0].ElapsedMs)
	}
	if c.Entries[1].ElapsedMs != 120 {
		t.Errorf("second elapsed = %d", c.Entries[1].ElapsedMs)
	}
	if c.TotalMs() != 120 {
		t.Errorf("total = %d", c.TotalMs())
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := NewStore("")

	c := New("tap", nil)
	c.Log("TRY_MAESTRO", "")
	if err := s.Save(c); err != nil {
		t.Fatalf("Save: %v", err)
	}

	rec, ok := s.Get(c.TraceID)
	if !ok {
		t.Fatal("trace not found")
	}
	if rec.Tool != "tap" || len(rec.Entries) != 1 {
		t.Errorf("record = %+v", rec)
	}

	if _, ok := s.Get("ffffffff"); ok {
		t.Error("unknown id must not resolve")
	}
}

func TestStore_RecentOrderAndBound(t *testing.T) {
	s := NewStore("")

	for i := 0; i < maxRecent+10; i++ {
		c := New(fmt.Sprintf("op-%d", i), nil)
		if err := s.Save(c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	all := s.Recent(0)
	if len(all) != maxRecent {
		t.Fatalf("recent = %d, want ring bound %d", len(all), maxRecent)
	}
	if all[len(all)-1].Tool != fmt.Sprintf("op-%d", maxRecent+9) {
		t.Errorf("last = %s, want newest", all[len(all)-1].Tool)
	}

	lastTwo := s.Recent(2)
	if len(lastTwo) != 2 || lastTwo[0].Tool >= lastTwo[1].Tool {
		t.Errorf("recent(2) = %v, want oldest first", lastTwo)
	}
}

func TestStore_PersistsJSONL(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)

	for _, tool := range []string{"tap", "assert_visible"} {
		c := New(tool, nil)
		c.Log("TRY_MAESTRO", "")
		if err := s.Save(c); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	f, err := os.Open(filepath.Join(dir, "traces.jsonl"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var tools []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		tools = append(tools, rec.Tool)
	}
	if len(tools) != 2 || tools[0] != "tap" || tools[1] != "assert_visible" {
		t.Errorf("tools = %v", tools)
	}
}
