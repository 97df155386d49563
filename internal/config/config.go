// Package config loads telempostd's configuration once at startup, the way
// cmd/server in the teacher repo reads config/default.yaml with
// gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clearlinux/telempostd/internal/platform/paths"
)

// Config is the immutable configuration snapshot read once at startup
// (spec.md §6 "Configuration options").
type Config struct {
	RateLimitEnabled    bool   `yaml:"rate_limit_enabled"`
	RecordBurstLimit    int64  `yaml:"record_burst_limit"`
	RecordWindowLength  int    `yaml:"record_window_length"`
	ByteBurstLimit      int64  `yaml:"byte_burst_limit"`
	ByteWindowLength    int    `yaml:"byte_window_length"`
	RateLimitStrategy   string `yaml:"rate_limit_strategy"`
	SpoolMaxSizeKB      int64  `yaml:"spool_max_size"`
	SpoolProcessTimeSec int    `yaml:"spool_process_time"`
	ServerAddr          string `yaml:"server_addr"`
	CAInfo              string `yaml:"cainfo"`
	TIDHeader           string `yaml:"tid_header"`
	RecordRetentionOn   bool   `yaml:"record_retention_enabled"`
	ServerDeliveryOn    bool   `yaml:"record_server_delivery_enabled"`
	MachineIDOverride   string `yaml:"machine_id_override"`

	StageDir     string `yaml:"stage_dir"`
	SpoolDir     string `yaml:"spool_dir"`
	RetentionDir string `yaml:"retention_dir"`
	JournalPath  string `yaml:"journal_path"`
	JournalTmp   string `yaml:"journal_tmpdir"`
	JournalCapKB int64  `yaml:"journal_cap_kb"`

	Admin  AdminConfig  `yaml:"admin"`
	Notify NotifyConfig `yaml:"notify"`
}

// AdminConfig configures the operational HTTP surface (internal/adminapi).
type AdminConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
	SigningKey string `yaml:"signing_key"`
	RedisAddr  string `yaml:"redis_addr"`
}

// NotifyConfig configures how the spool-retry daemon is woken on each tick.
type NotifyConfig struct {
	Driver      string `yaml:"driver"` // "" (none) or "nats"
	NATSURL     string `yaml:"nats_url"`
	NATSSubject string `yaml:"nats_subject"`
}

// Defaults returns the configuration spec.md assumes absent an override.
func Defaults() Config {
	return Config{
		RateLimitEnabled:    true,
		RecordBurstLimit:    -1,
		RecordWindowLength:  5,
		ByteBurstLimit:      -1,
		ByteWindowLength:    5,
		RateLimitStrategy:   "spool",
		SpoolMaxSizeKB:      -1,
		SpoolProcessTimeSec: 60,
		ServerAddr:          "https://telemetry.example.com/v2/post",
		TIDHeader:           "X-Telemetry-Machine-ID: unknown",
		RecordRetentionOn:   false,
		ServerDeliveryOn:    true,
		StageDir:            paths.DefaultStageDir,
		SpoolDir:            paths.DefaultSpoolDir,
		RetentionDir:        paths.DefaultRetentionDir,
		JournalPath:         paths.DefaultJournalPath,
		JournalTmp:          paths.DefaultJournalTmp,
		JournalCapKB:        10 * 1024,
		Admin: AdminConfig{
			ListenAddr: "127.0.0.1:9090",
		},
	}
}

// Load reads and unmarshals the YAML configuration at path, falling back to
// Defaults() for anything the file does not set. A missing file is not an
// error: the daemon runs with defaults, matching the teacher's "error
// handling ignored for brevity" tolerance for config reads in cmd/server.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate enforces the window-length fatal-config-error rule from
// spec.md §4.4 ("W = -1 is a fatal configuration error") up front, at load
// time, rather than only discovering it mid-pipeline.
func (c Config) Validate() error {
	// Window length is always checked, independent of RateLimitEnabled: the
	// policy pipeline's "window sanity" step (spec.md §4.7 step 6) runs
	// before the rate-limit-enabled branch, not inside it.
	if c.RecordWindowLength < 1 || c.RecordWindowLength > 60 {
		return fmt.Errorf("config: record_window_length must be in [1,60], got %d", c.RecordWindowLength)
	}
	if c.ByteWindowLength < 1 || c.ByteWindowLength > 60 {
		return fmt.Errorf("config: byte_window_length must be in [1,60], got %d", c.ByteWindowLength)
	}
	if c.RateLimitStrategy != "spool" && c.RateLimitStrategy != "drop" {
		return fmt.Errorf("config: rate_limit_strategy must be \"spool\" or \"drop\", got %q", c.RateLimitStrategy)
	}
	return nil
}
