// Package retention implements the local copy writer (spec.md §4.3,
// component C3): persisting a record's body under its journal-assigned
// record_id when retention is enabled, best-effort.
package retention

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/clearlinux/telempostd/internal/crypto"
	"github.com/clearlinux/telempostd/internal/platform/paths"
)

// Writer persists retention copies under dir. If a Keyring is set, bodies
// are sealed at rest with the keyring's active master key instead of
// written as plaintext (SPEC_FULL.md §4 "Retention-at-rest encryption").
type Writer struct {
	dir     string
	keyring *crypto.Keyring
}

// New returns a Writer rooted at dir. keyring may be nil, in which case
// retention copies are written as plaintext exactly as spec.md §4.3
// describes.
func New(dir string, keyring *crypto.Keyring) *Writer {
	return &Writer{dir: dir, keyring: keyring}
}

// Write persists body under dir/recordID. Failure is logged and swallowed:
// retention is best-effort and must never block delivery (spec.md §4.3, §7
// "Transient I/O").
func (w *Writer) Write(recordID string, body []byte) {
	if recordID == "" {
		return
	}

	path, err := paths.SafeJoin(w.dir, recordID)
	if err != nil {
		log.Printf("retention: refusing unsafe record id %q: %v", recordID, err)
		return
	}

	content, writeErr := w.encode(recordID, body)
	if writeErr != nil {
		log.Printf("retention: sealing record %s: %v", recordID, writeErr)
		return
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		log.Printf("retention: creating directory for %s: %v", recordID, err)
		return
	}

	if err := os.WriteFile(path, content, 0640); err != nil {
		log.Printf("retention: writing local copy for %s: %v", recordID, err)
		return
	}
}

// DeleteByID removes the retention copy for recordID. It is supplied to the
// journal as the prune-entry deletion capability (spec.md §4.2).
func (w *Writer) DeleteByID(recordID string) error {
	path, err := paths.SafeJoin(w.dir, recordID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("retention: delete %s: %w", recordID, err)
	}
	return nil
}

func (w *Writer) encode(recordID string, body []byte) ([]byte, error) {
	if w.keyring == nil {
		return append(append([]byte{}, body...), '\n'), nil
	}

	sealed, dekNonce, dekCiphertext, dekTag, _, err := crypto.SealRecordBody(w.keyring, recordID, body)
	if err != nil {
		return nil, err
	}
	line := crypto.EncodeEnvelope(sealed, dekNonce, dekCiphertext, dekTag)
	return []byte(line + "\n"), nil
}
