// Package journal persists the event stream to an append-only file of JSON
// lines. Each entry gets a monotonically increasing sequence number so
// observers that fell behind can request everything after the last sequence
// they saw. The journal is also kept in memory (bounded) to serve those tail
// reads without re-parsing the file.
package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kingrea/crucible/internal/event"
)

const defaultTailLimit = 512

// Entry is one journaled event with its sequence number.
type Entry struct {
	Seq   int64       `json:"seq"`
	Event event.Event `json:"event"`
}

// Journal appends events durably and serves bounded tail reads.
type Journal struct {
	mu      sync.Mutex
	path    string
	nextSeq int64
	tail    []Entry
	limit   int
}

// Open creates (or reuses) the journal file under dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("journal: ensure dir: %w", err)
	}
	return &Journal{
		path:  filepath.Join(dir, "events.log"),
		limit: defaultTailLimit,
	}, nil
}

// Emit implements event.Sink: the entry is assigned the next sequence number,
// appended to the file, and retained in the in-memory tail. Write failures
// are swallowed after the in-memory append; the live stream must not stall on
// disk trouble.
func (j *Journal) Emit(evt event.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextSeq++
	entry := Entry{Seq: j.nextSeq, Event: evt}
	j.tail = append(j.tail, entry)
	if len(j.tail) > j.limit {
		j.tail = j.tail[len(j.tail)-j.limit:]
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer file.Close()
	file.Write(append(line, '\n'))
}

// Since returns the retained entries with sequence numbers greater than seq,
// oldest first.
func (j *Journal) Since(seq int64) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.tail {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}

// LastSeq returns the most recently assigned sequence number.
func (j *Journal) LastSeq() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextSeq
}

// Path returns the file backing this journal.
func (j *Journal) Path() string {
	return j.path
}
