package poster_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clearlinux/telempostd/internal/poster"
	"github.com/clearlinux/telempostd/internal/record"
)

func sampleRecord() record.Record {
	var rec record.Record
	rec.Headers[record.HeaderClassification] = record.Header{Line: "Classification: org.example.test", Key: "Classification", Value: "org.example.test"}
	rec.Headers[record.HeaderEventID] = record.Header{Line: "Event-Id: 11112222-3333-4444-5555-666677778888", Key: "Event-Id", Value: "11112222-3333-4444-5555-666677778888"}
	rec.Headers[2] = record.Header{Line: "Severity: 1", Key: "Severity", Value: "1"}
	rec.Headers[3] = record.Header{Line: "Record-Version: 1", Key: "Record-Version", Value: "1"}
	rec.Body = "payload"
	return rec
}

func TestPoster_SendSuccessOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "org.example.test", r.Header.Get("Classification"))
		assert.Equal(t, "1", r.Header.Get("Severity"))
		assert.Equal(t, "1", r.Header.Get("Record-Version"))
		assert.Equal(t, "application/text", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := poster.New(srv.URL, "tid-header-value", "")
	ok := p.Send(context.Background(), sampleRecord(), "machine-123")
	assert.True(t, ok)
}

func TestPoster_SendSuccessOn201(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := poster.New(srv.URL, "", "")
	ok := p.Send(context.Background(), sampleRecord(), "")
	assert.True(t, ok)
}

func TestPoster_FailsOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := poster.New(srv.URL, "", "")
	ok := p.Send(context.Background(), sampleRecord(), "")
	assert.False(t, ok)
}

func TestPoster_FailsOnUnreachableServer(t *testing.T) {
	p := poster.New("http://127.0.0.1:1", "", "")
	ok := p.Send(context.Background(), sampleRecord(), "")
	assert.False(t, ok)
}

func TestPoster_IgnoresMissingCAFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := poster.New(srv.URL, "", "/nonexistent/ca.pem")
	ok := p.Send(context.Background(), sampleRecord(), "")
	assert.True(t, ok)
}
