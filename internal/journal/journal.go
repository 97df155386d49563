// Package journal implements the retention journal (spec.md §4.2, component
// C2): an append-ordered, size-capped log of delivered records. Persistence
// is a newline-delimited JSON file, rewritten via a tmpfile-then-rename
// whenever pruning runs, following the teacher's config-loading idiom of
// "read whole file, decode, operate in memory" (cmd/server/main.go) rather
// than the Redis-backed stores used elsewhere in the teacher's stack — the
// journal has a single owner (the event loop) and no need for a shared
// store (SPEC_FULL.md §2).
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"
)

// Entry is one journaled delivery record (spec.md §3 "JournalEntry").
type Entry struct {
	RecordID       string `json:"record_id"`
	Classification string `json:"classification"`
	EventID        string `json:"event_id"`
	TimestampUnix  int64  `json:"ts"`
}

// sizeOf approximates the on-disk footprint of an entry's encoded line, used
// for the size-cap check without re-marshaling the whole file on every
// append.
func sizeOf(e Entry) int64 {
	b, err := json.Marshal(e)
	if err != nil {
		return 0
	}
	return int64(len(b)) + 1 // newline
}

// Deleter is the per-entry deletion capability a pruned entry's retention
// copy is handed to, wired by cmd/telempostd to *retention.Writer.DeleteByID.
// Modeled as an interface rather than the teacher's raw callback fields so
// the journal never holds onto a bare function pointer with no owner (spec.md
// §4.2 "prune_entry_callback").
type Deleter interface {
	DeleteByID(recordID string) error
}

// Journal is the in-memory, disk-backed view of the retention log. All
// mutation happens on the event-loop goroutine (spec.md §5 "single owner");
// the mutex exists only so concurrent reads (e.g. the admin API's
// /debug/state handler) don't race the loop.
type Journal struct {
	mu sync.Mutex

	path   string
	tmpDir string
	capKB  int64

	entries        []Entry
	latestRecordID string

	deleter Deleter // nil when retention is disabled.
	index   *lru.Cache[string, int]
}

// Open loads path if present (recovering prior state, spec.md §4.2 "open")
// or starts fresh. tmpDir is used as scratch space during prune. deleter may
// be nil, in which case pruned entries simply drop from the journal with no
// retention-copy cleanup (spec.md §3 "when retention_enabled is false... the
// journal still records an entry" but arms no callback).
func Open(path, tmpDir string, capKB int64, deleter Deleter) (*Journal, error) {
	if err := os.MkdirAll(tmpDir, 0750); err != nil {
		return nil, fmt.Errorf("journal: create tmpdir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("journal: create journal dir: %w", err)
	}

	idx, err := lru.New[string, int](4096)
	if err != nil {
		return nil, fmt.Errorf("journal: create index: %w", err)
	}

	j := &Journal{
		path:    path,
		tmpDir:  tmpDir,
		capKB:   capKB,
		deleter: deleter,
		index:   idx,
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return j, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			log.Printf("journal: skipping corrupt entry while recovering %s: %v", path, err)
			continue
		}
		j.entries = append(j.entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("journal: read %s: %w", path, err)
	}
	j.rebuildIndex()
	if len(j.entries) > 0 {
		j.latestRecordID = j.entries[len(j.entries)-1].RecordID
	}

	return j, nil
}

func (j *Journal) rebuildIndex() {
	j.index.Purge()
	for i, e := range j.entries {
		j.index.Add(e.RecordID, i)
	}
}

// Append generates a fresh record_id, appends an entry, and persists it
// (spec.md §4.2 "append"). latest_record_id is updated before Append
// returns, so the pipeline can read it back immediately for the retention
// copy (spec.md §4.2 invariant).
func (j *Journal) Append(classification, eventID string, tsUnix int64) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	recordID := uuid.NewString()
	entry := Entry{
		RecordID:       recordID,
		Classification: classification,
		EventID:        eventID,
		TimestampUnix:  tsUnix,
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return "", fmt.Errorf("journal: open for append: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("journal: encode entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("journal: write entry: %w", err)
	}

	j.index.Add(recordID, len(j.entries))
	j.entries = append(j.entries, entry)
	j.latestRecordID = recordID

	return recordID, nil
}

// LatestRecordID returns the record_id of the most recent Append.
func (j *Journal) LatestRecordID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.latestRecordID
}

// Prune drops the oldest entries until the journal's encoded size is at or
// under capKB, invoking the deleter (if set) for each dropped entry's
// record_id (spec.md §4.2 "prune"). The rewrite goes through a tmpfile in
// tmpDir, renamed into place, so a crash mid-prune never leaves a
// half-written journal.
func (j *Journal) Prune() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.capKB < 0 {
		return nil
	}
	capBytes := j.capKB * 1024

	var total int64
	for _, e := range j.entries {
		total += sizeOf(e)
	}
	if total <= capBytes {
		return nil
	}

	keepFrom := 0
	for total > capBytes && keepFrom < len(j.entries) {
		dropped := j.entries[keepFrom]
		total -= sizeOf(dropped)
		if j.deleter != nil {
			if err := j.deleter.DeleteByID(dropped.RecordID); err != nil {
				log.Printf("journal: prune: deleting retention copy for %s: %v", dropped.RecordID, err)
			}
		}
		keepFrom++
	}

	kept := append([]Entry{}, j.entries[keepFrom:]...)
	if err := j.rewrite(kept); err != nil {
		return fmt.Errorf("journal: prune rewrite: %w", err)
	}

	j.entries = kept
	j.rebuildIndex()
	return nil
}

func (j *Journal) rewrite(entries []Entry) error {
	tmp, err := os.CreateTemp(j.tmpDir, "journal-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			tmp.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, j.path)
}

// Len reports the number of entries currently held, for metrics/debug use.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Close releases the journal. The on-disk file is already durable after
// every Append/Prune, so Close has nothing left to flush; it exists to match
// the teacher's open/close resource lifecycle (spec.md §4.2 "close").
func (j *Journal) Close() error {
	return nil
}
