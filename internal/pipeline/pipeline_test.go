package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearlinux/telempostd/internal/config"
	"github.com/clearlinux/telempostd/internal/journal"
	"github.com/clearlinux/telempostd/internal/pipeline"
	"github.com/clearlinux/telempostd/internal/poster"
	"github.com/clearlinux/telempostd/internal/spool"
)

type recordingRetention struct {
	writes map[string]string
}

func (r *recordingRetention) Write(recordID string, body []byte) {
	if r.writes == nil {
		r.writes = map[string]string{}
	}
	r.writes[recordID] = string(body)
}

func writeStaged(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := "Classification: org.example.test\nEvent-Id: 11112222-3333-4444-5555-666677778888\nSeverity: 1\nRecord-Version: 1\nbody payload"
	require.NoError(t, os.WriteFile(path, []byte(content), 0640))
	return path
}

func newTestPipeline(t *testing.T, cfg config.Config, serverURL string) (*pipeline.Pipeline, *journal.Journal, *spool.Writer, *recordingRetention) {
	t.Helper()
	dir := t.TempDir()
	j, err := journal.Open(filepath.Join(dir, "journal.log"), filepath.Join(dir, "tmp"), -1, nil)
	require.NoError(t, err)

	sp := spool.New(filepath.Join(dir, "spool"), -1)
	p := poster.New(serverURL, cfg.TIDHeader, "")
	ret := &recordingRetention{}
	state := pipeline.NewState(cfg)

	pl := pipeline.New(cfg, j, ret, sp, p, state)
	return pl, j, sp, ret
}

func baseConfig() config.Config {
	cfg := config.Defaults()
	cfg.RateLimitEnabled = false
	cfg.ServerDeliveryOn = true
	cfg.RecordRetentionOn = true
	return cfg
}

func TestPipeline_ParseFailureReturnsFalse(t *testing.T) {
	cfg := baseConfig()
	pl, _, _, _ := newTestPipeline(t, cfg, "http://unused")

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.record")
	require.NoError(t, os.WriteFile(path, []byte("not a valid record"), 0640))

	ok := pl.Process(context.Background(), path)
	assert.False(t, ok, "parse failure must not unlink the staged file")
}

func TestPipeline_SuccessfulSendUnlinksAndWritesRetention(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	pl, _, _, ret := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path)
	assert.True(t, ok)
	assert.Len(t, ret.writes, 1)
}

func TestPipeline_DeliveryDisabledReturnsTrueWithoutSending(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.ServerDeliveryOn = false
	pl, _, _, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path)
	assert.True(t, ok)
	assert.False(t, called, "server delivery gate must prevent any send attempt")
}

func TestPipeline_SendFailureSpoolsAndArmsBypass(t *testing.T) {
	sendCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCount++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RateLimitStrategy = "spool"
	pl, _, sp, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path)
	assert.True(t, ok)
	assert.Greater(t, sp.BytesUsed(), int64(0), "failed send with spool strategy must spool the record")
	assert.False(t, pl.State.BypassUntil.IsZero(), "a genuine send failure must arm bypass_until")

	// A second record should now land directly in spool via the bypass
	// window without attempting delivery.
	path2 := writeStaged(t, dir, "r2")
	beforeBytes := sp.BytesUsed()
	ok2 := pl.Process(context.Background(), path2)
	assert.True(t, ok2)
	assert.Greater(t, sp.BytesUsed(), beforeBytes)
	assert.Equal(t, 1, sendCount, "the record inside the bypass window must not be sent")
}

func TestPipeline_SendFailureDropStrategyDrops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RateLimitStrategy = "drop"
	pl, _, sp, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path)
	assert.True(t, ok)
	assert.Equal(t, int64(0), sp.BytesUsed(), "drop strategy must not write to spool")
}

func TestPipeline_RateLimitBlocksSendWhenOverBurst(t *testing.T) {
	sendCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RateLimitEnabled = true
	cfg.RecordBurstLimit = 0
	cfg.RecordWindowLength = 5
	cfg.RateLimitStrategy = "drop"
	pl, _, _, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path)
	assert.True(t, ok, "blocked-by-rate-limit still unlinks (drop strategy)")
	assert.Equal(t, 0, sendCount, "record burst limit of 0 must block the send")
}

func TestPipeline_RateLimitRejectionSpoolsWithoutArmingBypass(t *testing.T) {
	sendCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RateLimitEnabled = true
	cfg.RecordBurstLimit = 0
	cfg.RecordWindowLength = 5
	cfg.RateLimitStrategy = "spool"
	pl, _, sp, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path1 := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path1)
	assert.True(t, ok)
	assert.Greater(t, sp.BytesUsed(), int64(0), "rate-limited record must still spool")
	assert.Equal(t, 0, sendCount, "record burst limit of 0 must block the send attempt")
	assert.True(t, pl.State.BypassUntil.IsZero(), "rate-limit rejection alone must never arm bypass_until (scenario S2)")
}

func TestPipeline_BothBurstsDisabledSelfDisablesRateLimit(t *testing.T) {
	sendCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RateLimitEnabled = true
	cfg.RecordBurstLimit = -1
	cfg.ByteBurstLimit = -1
	pl, _, _, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path1 := writeStaged(t, dir, "r1")
	path2 := writeStaged(t, dir, "r2")

	pl.Process(context.Background(), path1)
	pl.Process(context.Background(), path2)
	assert.Equal(t, 2, sendCount, "with both burst axes disabled, rate limiting should self-disable and allow sends")
}

func TestPipeline_RetentionDisabledWritesNoCopy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.RecordRetentionOn = false
	pl, _, _, ret := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	ok := pl.Process(context.Background(), path)
	assert.True(t, ok)
	assert.Empty(t, ret.writes)
}

func TestPipeline_JournalLatestRecordIDAdvances(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := baseConfig()
	pl, j, _, _ := newTestPipeline(t, cfg, srv.URL)

	dir := t.TempDir()
	path := writeStaged(t, dir, "r1")

	pl.Process(context.Background(), path)
	assert.NotEmpty(t, j.LatestRecordID())
}
