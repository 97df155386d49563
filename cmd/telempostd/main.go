// telempostd is the post-stage of the telemetry pipeline: it watches a
// staging directory for records produced by upstream probes and delivers,
// spools, or drops each one per the policy pipeline in internal/pipeline.
//
// Structured the way the teacher's cmd/server/main.go wires its
// dependencies end to end before starting the long-running loop, adapted
// from a multi-tenant VMS control plane down to this daemon's single
// event loop plus an optional admin HTTP surface.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clearlinux/telempostd/internal/adminapi"
	"github.com/clearlinux/telempostd/internal/auth"
	"github.com/clearlinux/telempostd/internal/config"
	"github.com/clearlinux/telempostd/internal/crypto"
	"github.com/clearlinux/telempostd/internal/daemon"
	"github.com/clearlinux/telempostd/internal/journal"
	"github.com/clearlinux/telempostd/internal/metrics"
	"github.com/clearlinux/telempostd/internal/notify"
	"github.com/clearlinux/telempostd/internal/pipeline"
	"github.com/clearlinux/telempostd/internal/platform/paths"
	"github.com/clearlinux/telempostd/internal/poster"
	"github.com/clearlinux/telempostd/internal/retention"
	"github.com/clearlinux/telempostd/internal/spool"
	"github.com/clearlinux/telempostd/internal/tokens"
)

func main() {
	cfgPath := paths.ResolveConfigPath(os.Getenv("TELEMPOSTD_CONFIG"))
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("telempostd: loading config %s: %v", cfgPath, err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("telempostd: invalid config: %v", err)
	}

	if err := paths.EnsureDirs(cfg.StageDir, cfg.SpoolDir, cfg.RetentionDir, cfg.JournalTmp); err != nil {
		log.Fatalf("telempostd: preparing data directories: %v", err)
	}

	keyring := loadKeyringOrNil()

	retentionWriter := retention.New(cfg.RetentionDir, keyring)

	var deleter journal.Deleter
	if cfg.RecordRetentionOn {
		deleter = retentionWriter
	}

	j, err := journal.Open(cfg.JournalPath, cfg.JournalTmp, cfg.JournalCapKB, deleter)
	if err != nil {
		log.Fatalf("telempostd: opening journal: %v", err)
	}
	defer j.Close()

	sp := spool.New(cfg.SpoolDir, cfg.SpoolMaxSizeKB)
	p := poster.New(cfg.ServerAddr, cfg.TIDHeader, cfg.CAInfo)
	state := pipeline.NewState(cfg)

	collector := metrics.NewCollector()

	pl := pipeline.New(cfg, j, pipelineRetention(cfg, retentionWriter), sp, p, state)
	pl.Metrics = collector

	drainer, err := buildDrainer(cfg.Notify)
	if err != nil {
		log.Fatalf("telempostd: configuring spool-drain notifier: %v", err)
	}
	if closer, ok := drainer.(interface{ Close() }); ok {
		defer closer.Close()
	}

	d := &daemon.Daemon{
		StageDir:   cfg.StageDir,
		TickPeriod: time.Duration(cfg.SpoolProcessTimeSec) * time.Second,
		Pipeline:   pl,
		Journal:    j,
		Drainer:    drainer,
		Gauges:     collector,
	}

	var adminSrv *http.Server
	if cfg.Admin.Enabled {
		adminSrv = startAdminServer(cfg, pl, j, collector)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = adminSrv.Shutdown(ctx)
		}()
	}

	log.Printf("telempostd: watching %s, delivering to %s", cfg.StageDir, cfg.ServerAddr)
	if err := d.Run(context.Background()); err != nil {
		log.Fatalf("telempostd: event loop: %v", err)
	}
	log.Println("telempostd: clean shutdown")
}

// pipelineRetention adapts *retention.Writer to pipeline.RetentionWriter,
// returning nil when retention is disabled (spec.md §3 invariant: "when
// retention_enabled is false, no local copy is written").
func pipelineRetention(cfg config.Config, w *retention.Writer) pipeline.RetentionWriter {
	if !cfg.RecordRetentionOn {
		return nil
	}
	return w
}

// loadKeyringOrNil loads the retention-at-rest master keyring from the
// environment. A keyring is optional hardening (SPEC_FULL.md §4
// "Retention-at-rest encryption"); its absence is not a startup error.
func loadKeyringOrNil() *crypto.Keyring {
	kr := crypto.NewKeyring()
	if err := kr.LoadFromEnv(); err != nil {
		if !errors.Is(err, crypto.ErrNoMasterKeys) {
			log.Printf("telempostd: retention keyring not loaded, writing retention copies as plaintext: %v", err)
		}
		return nil
	}
	return kr
}

// buildDrainer returns the notify.Drainer the event loop calls on every
// tick to wake the external spool-retry process (spec.md §4.8).
func buildDrainer(cfg config.NotifyConfig) (notify.Drainer, error) {
	switch cfg.Driver {
	case "", "none":
		return notify.NoopDrainer{}, nil
	case "nats":
		subject := cfg.NATSSubject
		if subject == "" {
			subject = "telempostd.spool.tick"
		}
		return notify.NewNATSDrainer(cfg.NATSURL, subject)
	default:
		return nil, fmt.Errorf("unknown notify driver %q", cfg.Driver)
	}
}

// startAdminServer starts the admin HTTP surface in the background and
// returns the *http.Server so main can shut it down on exit.
func startAdminServer(cfg config.Config, pl *pipeline.Pipeline, j *journal.Journal, collector *metrics.Collector) *http.Server {
	deps := adminapi.Deps{
		Pipeline: pl,
		Journal:  j,
		Metrics:  collector,
	}

	if cfg.Admin.SigningKey != "" {
		deps.Validator = tokens.NewManager(cfg.Admin.SigningKey)
		if cfg.Admin.RedisAddr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Admin.RedisAddr})
			deps.Blacklist = auth.NewRedisBlacklist(rdb)
		}
	}

	srv := &http.Server{
		Addr:    cfg.Admin.ListenAddr,
		Handler: adminapi.NewRouter(deps),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("telempostd: admin server: %v", err)
		}
	}()
	log.Printf("telempostd: admin surface listening on %s", cfg.Admin.ListenAddr)
	return srv
}
