package crypto

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// SealedRecord is a retention copy body sealed with a per-record DEK: the
// master key id that wraps the DEK, plus the body's nonce, ciphertext and
// tag. EncodeEnvelope writes it to disk together with the wrapped DEK.
type SealedRecord struct {
	KID        string
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// SealRecordBody wraps a fresh per-record DEK with the keyring's active
// master key and uses it to seal body, so the retention local copy written
// by internal/retention is never stored in plaintext when a keyring is
// configured. aad binds the ciphertext to the record_id it was written
// under, so a sealed file cannot be silently swapped with another.
func SealRecordBody(kr *Keyring, recordID string, body []byte) (SealedRecord, []byte, []byte, []byte, string, error) {
	dek, err := GenerateDEK()
	if err != nil {
		return SealedRecord{}, nil, nil, nil, "", fmt.Errorf("crypto: generate DEK: %w", err)
	}

	aad := []byte(recordID)
	kid, dekNonce, dekCiphertext, dekTag, err := kr.WrapDEK(dek, aad)
	if err != nil {
		return SealedRecord{}, nil, nil, nil, "", fmt.Errorf("crypto: wrap DEK: %w", err)
	}

	nonce, ciphertext, tag, err := EncryptGCM(dek, body, aad)
	if err != nil {
		return SealedRecord{}, nil, nil, nil, "", fmt.Errorf("crypto: seal body: %w", err)
	}

	return SealedRecord{KID: kid, Nonce: nonce, Ciphertext: ciphertext, Tag: tag}, dekNonce, dekCiphertext, dekTag, kid, nil
}

// OpenRecordBody reverses SealRecordBody given the wrapped DEK alongside it.
func OpenRecordBody(kr *Keyring, recordID string, sealed SealedRecord, dekNonce, dekCiphertext, dekTag []byte) ([]byte, error) {
	dek, err := kr.UnwrapDEK(sealed.KID, dekNonce, dekCiphertext, dekTag, []byte(recordID))
	if err != nil {
		return nil, fmt.Errorf("crypto: unwrap DEK: %w", err)
	}
	return DecryptGCM(dek, sealed.Nonce, sealed.Ciphertext, sealed.Tag, []byte(recordID))
}

// EncodeEnvelope serializes a SealedRecord plus its wrapped DEK into a single
// line so the retention writer can store one file per record_id unchanged
// from spec.md §4.3 ("RECORD_RETENTION_DIR/{record_id}"). The line is
// "kid:dekNonce:dekCiphertext:dekTag:nonce:ciphertext:tag", with kid as-is
// and the other six fields base64.
func EncodeEnvelope(sealed SealedRecord, dekNonce, dekCiphertext, dekTag []byte) string {
	parts := [][]byte{dekNonce, dekCiphertext, dekTag, sealed.Nonce, sealed.Ciphertext, sealed.Tag}
	enc := make([]string, 0, len(parts)+1)
	enc = append(enc, sealed.KID)
	for _, p := range parts {
		enc = append(enc, base64.StdEncoding.EncodeToString(p))
	}
	return strings.Join(enc, ":")
}

// DecodeEnvelope reverses EncodeEnvelope.
func DecodeEnvelope(line string) (sealed SealedRecord, dekNonce, dekCiphertext, dekTag []byte, err error) {
	fields := strings.Split(strings.TrimSpace(line), ":")
	if len(fields) != 7 {
		return SealedRecord{}, nil, nil, nil, fmt.Errorf("crypto: malformed envelope, expected 7 fields, got %d", len(fields))
	}
	decoded := make([][]byte, 6)
	for i, f := range fields[1:] {
		b, derr := base64.StdEncoding.DecodeString(f)
		if derr != nil {
			return SealedRecord{}, nil, nil, nil, fmt.Errorf("crypto: malformed envelope field %d: %w", i, derr)
		}
		decoded[i] = b
	}
	sealed = SealedRecord{
		KID:        fields[0],
		Nonce:      decoded[3],
		Ciphertext: decoded[4],
		Tag:        decoded[5],
	}
	return sealed, decoded[0], decoded[1], decoded[2], nil
}
