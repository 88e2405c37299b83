package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"

	"github.com/kingrea/crucible/internal/event"
)

func testEvent(id string) event.Event {
	return event.Event{
		ID:        id,
		Type:      event.TypeActivityUpdate,
		ProjectID: 1,
		Timestamp: 1700000000000,
		Fields:    map[string]any{"message": "hello"},
	}
}

func TestEmitAssignsSequenceNumbers(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Emit(testEvent("evt-1"))
	j.Emit(testEvent("evt-2"))
	j.Emit(testEvent("evt-3"))

	if j.LastSeq() != 3 {
		t.Fatalf("expected last seq 3, got %d", j.LastSeq())
	}
	entries := j.Since(1)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after seq 1, got %d", len(entries))
	}
	if entries[0].Seq != 2 || entries[1].Seq != 3 {
		t.Fatalf("unexpected sequence order: %d, %d", entries[0].Seq, entries[1].Seq)
	}
	if entries[0].Event.ID != "evt-2" {
		t.Fatalf("unexpected event: %s", entries[0].Event.ID)
	}
}

func TestSinceBeyondTailIsEmpty(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Emit(testEvent("evt-1"))
	if got := j.Since(5); len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}

func TestEmitAppendsJSONLines(t *testing.T) {
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	j.Emit(testEvent("evt-1"))
	j.Emit(testEvent("evt-2"))

	file, err := os.Open(j.Path())
	if err != nil {
		t.Fatalf("open journal file: %v", err)
	}
	defer file.Close()

	var lines int
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %d is not a valid entry: %v", lines+1, err)
		}
		lines++
		if entry.Seq != int64(lines) {
			t.Fatalf("line %d has seq %d", lines, entry.Seq)
		}
	}
	if lines != 2 {
		t.Fatalf("expected 2 journal lines, got %d", lines)
	}
}
