// Package pipeline implements the per-record policy pipeline (spec.md §4.7,
// component C7): the fixed-order orchestration of record parsing, journaling,
// retention, rate limiting, delivery, and spooling that the event loop (C8)
// runs once per staged file.
package pipeline

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/clearlinux/telempostd/internal/config"
	"github.com/clearlinux/telempostd/internal/journal"
	"github.com/clearlinux/telempostd/internal/poster"
	"github.com/clearlinux/telempostd/internal/ratelimit"
	"github.com/clearlinux/telempostd/internal/record"
	"github.com/clearlinux/telempostd/internal/spool"
)

// bypassDuration is how long a send failure arms the direct-spool window
// for (spec.md §3 "Default duration: 1800 s after a failed send").
const bypassDuration = 1800 * time.Second

// RetentionWriter is the capability C3 exposes to the pipeline. Modeled as
// an interface so tests can substitute a no-op or recording double without
// touching disk.
type RetentionWriter interface {
	Write(recordID string, body []byte)
}

// Clock abstracts "now" so tests can drive the rate limiter and bypass
// window deterministically instead of sleeping on wall-clock time.
type Clock func() time.Time

// State is the mutable, process-wide rate-limit and bypass bookkeeping
// DaemonState owns (spec.md §3 "DaemonState"). It has a single real owner,
// the event loop goroutine; the mutex exists so admin-API status reads don't
// race it.
type State struct {
	mu sync.Mutex

	BypassUntil      time.Time
	RecordWindow     ratelimit.Window
	ByteWindow       ratelimit.Window
	rateLimitEnabled bool
}

// NewState returns a State with rate limiting armed according to cfg.
func NewState(cfg config.Config) *State {
	return &State{rateLimitEnabled: cfg.RateLimitEnabled}
}

func (s *State) inBypassWindow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Before(s.BypassUntil)
}

// BypassUntilSnapshot returns the current bypass_until deadline under lock,
// for observers (internal/adminapi's /debug/state) that must not race the
// event loop's armBypass writes.
func (s *State) BypassUntilSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.BypassUntil
}

func (s *State) armBypass(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.BypassUntil = now.Add(bypassDuration)
}

func (s *State) rateLimitStillEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimitEnabled
}

func (s *State) disableRateLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimitEnabled = false
}

// Metrics is the subset of internal/metrics.Collector the pipeline reports
// outcomes to. Modeled as an interface so pipeline tests don't need a live
// Prometheus registry, and so a nil Metrics (the zero value) is always safe
// to call through.
type Metrics interface {
	RecordSent()
	RecordSpooled()
	RecordDropped()
}

type noopMetrics struct{}

func (noopMetrics) RecordSent()    {}
func (noopMetrics) RecordSpooled() {}
func (noopMetrics) RecordDropped() {}

// Pipeline wires C1 (record.Read) through C6 (poster.Poster) behind the
// fixed order spec.md §4.7 describes.
type Pipeline struct {
	Config    config.Config
	Journal   *journal.Journal
	Retention RetentionWriter // nil when retention is disabled
	Spool     *spool.Writer
	Poster    *poster.Poster
	State     *State
	Now       Clock
	Metrics   Metrics // nil is safe; New fills in a no-op
}

// New builds a Pipeline. retention may be nil (spec.md §3 invariant: "when
// retention_enabled is false, no local copy is written").
func New(cfg config.Config, j *journal.Journal, retention RetentionWriter, sp *spool.Writer, p *poster.Poster, state *State) *Pipeline {
	return &Pipeline{
		Config:    cfg,
		Journal:   j,
		Retention: retention,
		Spool:     sp,
		Poster:    p,
		State:     state,
		Now:       time.Now,
		Metrics:   noopMetrics{},
	}
}

// Process runs the fixed-order pipeline on the staged file at path and
// reports whether the caller may unlink it (spec.md §4.7: "a single boolean
// meaning the caller may unlink the staged file. It is false only when C1
// failed."). Every other path — drop, spool, bypass, delivery-disabled,
// successful send — returns true, per SPEC_FULL.md's resolution of the
// "unlink on spool" ambiguity: the staged file is consumed exactly once
// regardless of where the record ultimately lands.
func (p *Pipeline) Process(ctx context.Context, path string) bool {
	rec, err := record.Read(path)
	if err != nil {
		log.Printf("pipeline: %s: %v", path, err)
		return false
	}

	now := p.now()

	classification := rec.HeaderValue(record.HeaderClassification)
	eventID := rec.HeaderValue(record.HeaderEventID)
	recordID, err := p.Journal.Append(classification, eventID, now.Unix())
	if err != nil {
		// Journal append is not in spec.md's "transient I/O, best-effort"
		// category (that's retention only) but a crash here must not wedge
		// the staging directory: log and keep processing without a
		// retention copy, matching the original's "journal append happens
		// before send; a crash between the two is accepted" tolerance
		// (spec.md §5 "Ordering").
		log.Printf("pipeline: %s: journal append failed: %v", path, err)
	}

	if p.Retention != nil && p.Config.RecordRetentionOn && recordID != "" {
		p.Retention.Write(recordID, []byte(rec.Body))
	}

	if !p.Config.ServerDeliveryOn {
		return true
	}

	if p.State.inBypassWindow(now) {
		log.Printf("pipeline: %s: inside direct-spool window, spooling", path)
		p.Spool.Write(rec)
		p.metrics().RecordSpooled()
		return true
	}

	// Window sanity (spec.md §4.7 step 6, "if either window length is -1,
	// fatal") is enforced once at startup by config.Config.Validate() rather
	// than on every record: window lengths are part of the immutable config
	// snapshot, so a value that was valid at startup cannot become -1 at
	// runtime.
	minute := now.Minute()

	rateLimitEnabled := p.State.rateLimitStillEnabled()
	recordBurstEnabled := false
	byteBurstEnabled := false
	recordPassed := true
	bytePassed := true

	if rateLimitEnabled {
		recordBurstEnabled = ratelimit.BurstEnabled(p.Config.RecordBurstLimit)
		byteBurstEnabled = ratelimit.BurstEnabled(p.Config.ByteBurstLimit)

		if recordBurstEnabled {
			recordPassed, err = p.State.RecordWindow.Check(minute, p.Config.RecordBurstLimit, p.Config.RecordWindowLength, 1)
			if err != nil {
				log.Printf("pipeline: %s: record rate check: %v", path, err)
				recordPassed = false
			}
		}
		if byteBurstEnabled {
			bytePassed, err = p.State.ByteWindow.Check(minute, p.Config.ByteBurstLimit, p.Config.ByteWindowLength, uint64(len(rec.Body)))
			if err != nil {
				log.Printf("pipeline: %s: byte rate check: %v", path, err)
				bytePassed = false
			}
		}
		if !recordBurstEnabled && !byteBurstEnabled {
			// Both axes disabled: rate limiting disables itself for the
			// remainder of the process (spec.md §4.4).
			p.State.disableRateLimit()
			rateLimitEnabled = false
		}
	}

	attempted := !rateLimitEnabled || (recordPassed && bytePassed)
	sent := false
	if attempted {
		sent = p.Poster.Send(ctx, rec, p.Config.MachineIDOverride)
	}

	switch {
	case sent:
		if recordBurstEnabled {
			p.State.RecordWindow.Update(minute, p.Config.RecordWindowLength, 1)
		}
		if byteBurstEnabled {
			p.State.ByteWindow.Update(minute, p.Config.ByteWindowLength, uint64(len(rec.Body)))
		}
		p.metrics().RecordSent()
		return true
	case p.Config.RateLimitStrategy == "spool":
		// Only a genuine send failure arms the direct-spool bypass window.
		// A rate-limit rejection (attempted == false) routes to spool the
		// same way but must not arm it — see SPEC_FULL.md's resolution of
		// the "bypass semantics ambiguity" and scenario S2.
		if attempted {
			p.State.armBypass(now)
		}
		p.Spool.Write(rec)
		p.metrics().RecordSpooled()
		return true
	default:
		log.Printf("pipeline: %s: dropped (strategy=drop)", path)
		p.metrics().RecordDropped()
		return true
	}
}

func (p *Pipeline) metrics() Metrics {
	if p.Metrics == nil {
		return noopMetrics{}
	}
	return p.Metrics
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
