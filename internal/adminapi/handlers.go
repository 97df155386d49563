// Package adminapi is telempostd's operational HTTP surface: liveness,
// Prometheus metrics, and a bearer-gated state snapshot for operators.
// Grounded in the teacher's internal/api health/debug handlers and
// cmd/hlsd's chi router assembly (SPEC_FULL.md §4 "Admin HTTP surface"),
// trimmed down from the teacher's full VMS REST API to the handful of
// routes this daemon's operators actually need.
package adminapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/clearlinux/telempostd/internal/auth"
	"github.com/clearlinux/telempostd/internal/journal"
	"github.com/clearlinux/telempostd/internal/metrics"
	"github.com/clearlinux/telempostd/internal/pipeline"
)

// Deps wires the collaborators the admin surface reads from. It never
// mutates the pipeline or journal, only observes them.
type Deps struct {
	Pipeline  *pipeline.Pipeline
	Journal   *journal.Journal
	Metrics   *metrics.Collector
	Validator TokenValidator      // nil disables the bearer-gated routes
	Blacklist auth.TokenBlacklist // nil skips revocation checks
}

// NewRouter assembles the admin chi router: RequestID/Logger/Recoverer
// middleware the way cmd/hlsd/main.go wires its own router, then the three
// routes SPEC_FULL.md's admin surface section describes.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(10 * time.Second))

	r.Get("/healthz", d.handleHealthz)

	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	if d.Validator != nil {
		r.Group(func(r chi.Router) {
			r.Use(RequireOperator(d.Validator, d.Blacklist))
			r.Get("/debug/state", d.handleDebugState)
		})
	}

	return r
}

// handleHealthz reports liveness: the process is up and the journal handle
// is open. It never touches the network or the staging directory, so it
// stays cheap enough to be polled aggressively.
func (d Deps) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if d.Journal == nil {
		http.Error(w, "journal not open", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// stateSnapshot is the JSON shape returned by /debug/state.
type stateSnapshot struct {
	BypassActive   bool      `json:"bypass_active"`
	BypassUntil    time.Time `json:"bypass_until,omitempty"`
	SpoolBytesUsed int64     `json:"spool_bytes_used"`
	JournalEntries int       `json:"journal_entries"`
	LatestRecordID string    `json:"latest_record_id,omitempty"`
}

// handleDebugState reports DaemonState for operators: bypass window, spool
// footprint, journal size (spec.md §3 "DaemonState"). Gated behind
// RequireOperator since it can reveal operational details about collector
// health.
func (d Deps) handleDebugState(w http.ResponseWriter, r *http.Request) {
	snap := stateSnapshot{}
	now := time.Now()

	if d.Pipeline != nil && d.Pipeline.State != nil {
		until := d.Pipeline.State.BypassUntilSnapshot()
		snap.BypassUntil = until
		snap.BypassActive = now.Before(until)
	}
	if d.Pipeline != nil && d.Pipeline.Spool != nil {
		snap.SpoolBytesUsed = d.Pipeline.Spool.BytesUsed()
	}
	if d.Journal != nil {
		snap.JournalEntries = d.Journal.Len()
		snap.LatestRecordID = d.Journal.LatestRecordID()
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}
