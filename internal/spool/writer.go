// Package spool implements the spool writer (spec.md §4.5, component C5):
// records that can't be sent right now are written to disk for the external
// spool-retry drainer to pick up later, bounded by a configured size cap.
package spool

import (
	"fmt"
	"log"
	"os"
	"sync"
	"syscall"

	"github.com/clearlinux/telempostd/internal/record"
)

// Writer tracks the spool directory's estimated size and writes rejected or
// failed records into it (spec.md §4.5). Like journal.Journal, it has a
// single owner (the event loop); the mutex only protects metrics/debug
// reads.
type Writer struct {
	mu sync.Mutex

	dir       string
	maxKB     int64 // -1 disables the cap
	bytesUsed int64
}

// New returns a Writer rooted at dir with the given cap in KB. maxKB == -1
// disables the cap (spec.md §6 "spool_max_size... -1 disables cap").
func New(dir string, maxKB int64) *Writer {
	return &Writer{dir: dir, maxKB: maxKB}
}

// BytesUsed reports the writer's running estimate of spool directory size.
func (w *Writer) BytesUsed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesUsed
}

// Write spools rec under dir. If the cap is exceeded the record is dropped
// silently (spec.md §4.5 "pre-check... drop silently"); spool_bytes_used is
// left unchanged on a drop (spec.md §3 invariant).
func (w *Writer) Write(rec record.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxKB != -1 && w.bytesUsed >= w.maxKB*1024 {
		log.Printf("spool: directory full (%d bytes used, cap %d KB), dropping record", w.bytesUsed, w.maxKB)
		return
	}

	if err := os.MkdirAll(w.dir, 0750); err != nil {
		log.Printf("spool: creating spool dir: %v", err)
		return
	}

	f, err := os.CreateTemp(w.dir, "*")
	if err != nil {
		log.Printf("spool: creating spool file: %v", err)
		return
	}
	path := f.Name()

	if err := writeRecord(f, rec); err != nil {
		f.Close()
		os.Remove(path)
		log.Printf("spool: writing spool file: %v", err)
		return
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		log.Printf("spool: closing spool file: %v", err)
		return
	}

	added, err := blockSize(path)
	if err != nil {
		// The write succeeded; a stat failure here is surprising but not a
		// reason to unlink a file we just wrote (spec.md §4.5 "the stat
		// should not fail here unless it is ENOMEM" in the original).
		log.Printf("spool: stat spool file %s: %v", path, err)
		return
	}
	w.bytesUsed += added
}

// writeRecord writes rec in the same "Key: Value" header block plus body
// shape record.Read expects, so a spooled record can be re-ingested by the
// external spool-retry drainer exactly like a freshly staged one (spec.md
// §4.5, §6).
func writeRecord(f *os.File, rec record.Record) error {
	for _, h := range rec.Headers {
		if _, err := fmt.Fprintf(f, "%s\n", h.Line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(f, "%s\n", rec.Body)
	return err
}

// blockSize returns st_blocks*512 for path, matching the original daemon's
// spool accounting (spec.md §4.5, §3 "spool_bytes_used").
func blockSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		return int64(sys.Blocks) * 512, nil
	}
	// Non-POSIX fallback: approximate with the reported file size.
	return fi.Size(), nil
}
