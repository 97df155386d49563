package retention_test

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlinux/telempostd/internal/crypto"
	"github.com/clearlinux/telempostd/internal/retention"
)

func TestWriter_Plaintext(t *testing.T) {
	dir := t.TempDir()
	w := retention.New(dir, nil)

	w.Write("rec-1", []byte("hello body"))

	data, err := os.ReadFile(filepath.Join(dir, "rec-1"))
	require.NoError(t, err)
	assert.Equal(t, "hello body\n", string(data))
}

func TestWriter_DeleteByID(t *testing.T) {
	dir := t.TempDir()
	w := retention.New(dir, nil)

	w.Write("rec-2", []byte("body"))
	require.NoError(t, w.DeleteByID("rec-2"))

	_, err := os.Stat(filepath.Join(dir, "rec-2"))
	assert.True(t, os.IsNotExist(err))

	// deleting an already-absent id is not an error.
	assert.NoError(t, w.DeleteByID("rec-2"))
}

func TestWriter_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	w := retention.New(dir, nil)

	w.Write("../escape", []byte("body"))

	_, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriter_Sealed(t *testing.T) {
	dir := t.TempDir()

	key, _ := crypto.GenerateDEK()
	keys := []map[string]string{{"kid": "key-1", "material": base64.StdEncoding.EncodeToString(key)}}
	keysJSON, _ := json.Marshal(keys)
	t.Setenv("TELEMPOSTD_MASTER_KEYS", string(keysJSON))
	t.Setenv("TELEMPOSTD_ACTIVE_MASTER_KID", "key-1")

	kr := crypto.NewKeyring()
	require.NoError(t, kr.LoadFromEnv())

	w := retention.New(dir, kr)
	w.Write("rec-3", []byte("sensitive payload"))

	data, err := os.ReadFile(filepath.Join(dir, "rec-3"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sensitive payload")

	sealed, dekNonce, dekCiphertext, dekTag, err := crypto.DecodeEnvelope(string(data))
	require.NoError(t, err)
	opened, err := crypto.OpenRecordBody(kr, "rec-3", sealed, dekNonce, dekCiphertext, dekTag)
	require.NoError(t, err)
	assert.Equal(t, "sensitive payload", string(opened))
}
