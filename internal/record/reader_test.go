package record_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlinux/telempostd/internal/record"
)

func writeStaged(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0640))
	return p
}

func TestRead_WellFormed(t *testing.T) {
	dir := t.TempDir()
	p := writeStaged(t, dir, "rec1", "Classification: org.example.test\nEvent-Id: evt-1\nSeverity: 1\nRecord-Version: 1\n{\"k\":\"v\"}\n")

	rec, err := record.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "org.example.test", rec.HeaderValue(record.HeaderClassification))
	assert.Equal(t, "evt-1", rec.HeaderValue(record.HeaderEventID))
	assert.Equal(t, `{"k":"v"}`, rec.Body)
}

func TestRead_NoTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	p := writeStaged(t, dir, "rec2", "Classification: c\nEvent-Id: e\nSeverity: 2\nRecord-Version: 1\nbody-no-newline")

	rec, err := record.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "body-no-newline", rec.Body)
}

func TestRead_EmptyBody(t *testing.T) {
	dir := t.TempDir()
	p := writeStaged(t, dir, "rec3", "Classification: c\nEvent-Id: e\nSeverity: 2\nRecord-Version: 1\n")

	rec, err := record.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "", rec.Body)
}

func TestRead_MalformedHeader(t *testing.T) {
	dir := t.TempDir()
	p := writeStaged(t, dir, "rec4", "not-a-header-line\nEvent-Id: e\nSeverity: 2\nRecord-Version: 1\nbody\n")

	_, err := record.Read(p)
	assert.Error(t, err)
}

func TestRead_Truncated(t *testing.T) {
	dir := t.TempDir()
	p := writeStaged(t, dir, "rec5", "Classification: c\nEvent-Id: e\n")

	_, err := record.Read(p)
	assert.Error(t, err)
}

func TestRead_MissingFile(t *testing.T) {
	_, err := record.Read("/nonexistent/path/to/record")
	assert.Error(t, err)
}
