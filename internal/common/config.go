package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/inscribo/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Queue       QueueConfig     `toml:"queue"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Catalog     CatalogConfig   `toml:"catalog"`
	Submitter   SubmitterConfig `toml:"submitter"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Notify      NotifyConfig    `toml:"notify"`

	// Tiers overrides individual tier policies; unlisted tiers keep the
	// built-in defaults.
	Tiers map[string]models.TierPolicy `toml:"tiers"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

// QueueConfig controls the scheduling pass and dispatcher bounds.
type QueueConfig struct {
	PassInterval string `toml:"pass_interval"` // e.g. "5s" - how often the scheduler runs a pass
	MaxInflight  int    `toml:"max_inflight" validate:"gte=1"` // system-wide concurrency ceiling across entries
	// PriorityK and PriorityW are the tunable constants in
	// effectivePriority = rank*K - slaUrgency*W. W > K*maxRank guarantees
	// an SLA-breaching entry overtakes any fresh entry.
	PriorityK float64 `toml:"priority_k"`
	PriorityW float64 `toml:"priority_w"`
	// StaleSweepSchedule is a cron expression for the stale-claim sweep.
	StaleSweepSchedule string `toml:"stale_sweep_schedule"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs
}

// CatalogConfig points at the directory descriptor files.
type CatalogConfig struct {
	Dir string `toml:"dir"` // Directory containing descriptor TOML files
}

// SubmitterConfig controls the chromedp form submitter.
type SubmitterConfig struct {
	AttemptTimeout  string `toml:"attempt_timeout"`   // per-directory submission timeout, e.g. "60s"
	Headless        bool   `toml:"headless"`          // run Chrome headless
	DomainInterval  string `toml:"domain_interval"`   // min interval between submissions to one domain
	SettleWait      string `toml:"settle_wait"`       // wait after submit before checking success markers
}

// WebSocketConfig contains configuration for WebSocket status streaming.
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events, e.g. {"entry_progress": "500ms"}.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// NotifyConfig configures completion notification delivery.
type NotifyConfig struct {
	SMTPEnabled bool   `toml:"smtp_enabled"`
	SMTPHost    string `toml:"smtp_host"`
	SMTPPort    int    `toml:"smtp_port"`
	SMTPUser    string `toml:"smtp_user"`
	SMTPPass    string `toml:"smtp_pass"`
	From        string `toml:"from"`
	FromName    string `toml:"from_name"`
	// MinPriority suppresses SMTP notifications below this priority; lower
	// tiers only get the push/pull status surfaces.
	MinPriority int `toml:"min_priority"`
}

// DefaultConfig returns the configuration defaults applied before any file
// or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "localhost",
			Port: 8085,
		},
		Queue: QueueConfig{
			PassInterval:       "5s",
			MaxInflight:        8,
			PriorityK:          10,
			PriorityW:          50,
			StaleSweepSchedule: "*/5 * * * *",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/inscribo",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Catalog: CatalogConfig{
			Dir: "./catalog",
		},
		Submitter: SubmitterConfig{
			AttemptTimeout: "60s",
			Headless:       true,
			DomainInterval: "2s",
			SettleWait:     "3s",
		},
		Notify: NotifyConfig{
			SMTPPort:    587,
			FromName:    "Inscribo",
			MinPriority: 3,
		},
	}
}

// LoadConfig loads configuration from defaults, then the TOML file (if
// present), then environment overrides. The tier policy table and priority
// constants are validated here; a bad table prevents startup.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies INSCRIBO_* environment variables over the file
// configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INSCRIBO_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("INSCRIBO_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("INSCRIBO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("INSCRIBO_DATA_DIR"); v != "" {
		cfg.Storage.Badger.Path = v
	}
	if v := os.Getenv("INSCRIBO_CATALOG_DIR"); v != "" {
		cfg.Catalog.Dir = v
	}
}

// Validate checks structural validity plus the derived tier policy table.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.ParseDuration(c.Queue.PassInterval); err != nil {
		return fmt.Errorf("invalid queue.pass_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.Submitter.AttemptTimeout); err != nil {
		return fmt.Errorf("invalid submitter.attempt_timeout: %w", err)
	}
	if c.Queue.PriorityK <= 0 || c.Queue.PriorityW <= 0 {
		return fmt.Errorf("queue.priority_k and queue.priority_w must be positive")
	}

	if err := c.TierPolicies().Validate(); err != nil {
		return fmt.Errorf("invalid tier policy table: %w", err)
	}

	return nil
}

// TierPolicies merges configured tier overrides over the built-in defaults.
func (c *Config) TierPolicies() models.TierPolicyTable {
	table := models.DefaultTierPolicies()
	for name, policy := range c.Tiers {
		tier := models.Tier(name)
		if policy.Tier == "" {
			policy.Tier = tier
		}
		table[tier] = policy
	}
	return table
}

// PassInterval returns the parsed scheduler pass interval.
func (c *Config) PassInterval() time.Duration {
	d, err := time.ParseDuration(c.Queue.PassInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// IsDevelopment returns true when running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}
