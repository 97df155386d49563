// Package daemon implements the event loop (spec.md §4.8, component C8):
// startup directory scan, then a multiplexed loop over filesystem watch
// events, signals, and a tick that drains the spool and prunes the journal.
//
// The original daemon polls a signalfd and an inotify fd side by side
// (telempostdaemon.c run_daemon). Go has no direct equivalent of either, so
// this is built the way the teacher's own internal/license.Manager.
// StartWatcher does it: fsnotify for the primary signal, with os/signal.Notify
// standing in for signalfd and a time.Ticker driving the periodic tick.
// fsnotify has no IN_CLOSE_WRITE bit; the closest approximation is reacting
// to Create and Write events (see DESIGN.md for the documented gap). A file
// still being written can be processed on its first event; if it does not
// parse yet it stays in StageDir and is retried on its next Write event. The
// tick does not rescan StageDir.
package daemon

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clearlinux/telempostd/internal/journal"
	"github.com/clearlinux/telempostd/internal/notify"
	"github.com/clearlinux/telempostd/internal/pipeline"
)

// Gauges is the subset of internal/metrics.Collector the event loop updates
// once per tick. Modeled as an interface, like pipeline.Metrics, so a nil
// Gauges is always safe to call through and daemon tests don't need a live
// Prometheus registry.
type Gauges interface {
	SetBypassActive(active bool)
	SetSpoolBytesUsed(n int64)
	SetJournalEntries(n int)
}

// Daemon owns the watch, the pipeline, and the tick schedule.
type Daemon struct {
	StageDir   string
	TickPeriod time.Duration

	Pipeline *pipeline.Pipeline
	Journal  *journal.Journal
	Drainer  notify.Drainer
	Gauges   Gauges // nil disables gauge reporting
}

// Run blocks until ctx is canceled or a SIGINT/SIGTERM is received, matching
// the original's signal-driven clean exit (spec.md §4.8, §6 "Signals").
func (d *Daemon) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(d.StageDir); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGPIPE)
	defer signal.Stop(sigCh)

	d.scanExisting(ctx)

	ticker := time.NewTicker(d.tickPeriod())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				log.Printf("daemon: received %v, shutting down", sig)
				return nil
			default:
				// SIGHUP/SIGPIPE are blocked by os/signal.Notify's mere
				// registration and simply absorbed here (spec.md §6
				// "ignored but absorbed").
				log.Printf("daemon: ignoring signal %v", sig)
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			d.handleEvent(ctx, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("daemon: watch error: %v", err)

		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Daemon) tickPeriod() time.Duration {
	if d.TickPeriod <= 0 {
		return 60 * time.Second
	}
	return d.TickPeriod
}

// handleEvent reacts to a Create or Write event for a non-directory entry,
// the closest available approximation of IN_CLOSE_WRITE (spec.md §4.8
// "Watch event").
func (d *Daemon) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if isDotfile(event.Name) {
		return
	}

	fi, err := os.Stat(event.Name)
	if err != nil {
		// The file may already be gone (rename/remove race, or it was
		// consumed by a prior event on the same path); nothing to process.
		return
	}
	if fi.IsDir() {
		return
	}

	d.process(ctx, event.Name)
}

// scanExisting runs the pipeline over every file already present in
// StageDir at startup, catching files that landed before the watch was
// armed (spec.md §4.8 "This catches files that landed before the watch was
// armed").
func (d *Daemon) scanExisting(ctx context.Context) {
	entries, err := os.ReadDir(d.StageDir)
	if err != nil {
		log.Printf("daemon: scanning %s: %v", d.StageDir, err)
		return
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || isDotfile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		d.process(ctx, filepath.Join(d.StageDir, name))
	}
}

func (d *Daemon) process(ctx context.Context, path string) {
	if d.Pipeline.Process(ctx, path) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("daemon: unlinking %s: %v", path, err)
		}
	}
}

// tick runs the periodic maintenance pass: wake the external spool-retry
// drainer, then prune the journal (spec.md §4.8 "Every iteration, if at
// least spool_process_period_s seconds have elapsed...").
func (d *Daemon) tick(ctx context.Context) {
	if d.Drainer != nil {
		if err := d.Drainer.Drain(ctx); err != nil {
			log.Printf("daemon: spool-drain notify failed: %v", err)
		}
	}
	if err := d.Journal.Prune(); err != nil {
		log.Printf("daemon: journal prune failed: %v", err)
	}
	d.reportGauges()
}

// reportGauges pushes the current bypass/spool/journal state to the
// configured metrics collector, if any. Run once per tick rather than once
// per record: these are point-in-time gauges, not per-record counters.
func (d *Daemon) reportGauges() {
	if d.Gauges == nil || d.Pipeline == nil {
		return
	}
	d.Gauges.SetBypassActive(time.Now().Before(d.Pipeline.State.BypassUntilSnapshot()))
	if d.Pipeline.Spool != nil {
		d.Gauges.SetSpoolBytesUsed(d.Pipeline.Spool.BytesUsed())
	}
	if d.Journal != nil {
		d.Gauges.SetJournalEntries(d.Journal.Len())
	}
}

func isDotfile(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".")
}
