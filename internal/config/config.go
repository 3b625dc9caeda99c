package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for curfew.
type Config struct {
	Daemon     DaemonConfig            `toml:"daemon"`
	Store      StoreConfig             `toml:"store"`
	Database   DatabaseConfig          `toml:"database"`
	Policy     PolicyConfig            `toml:"policy"`
	Usage      UsageConfig             `toml:"usage"`
	Auth       AuthConfig              `toml:"auth"`
	Identities []IdentityConfig        `toml:"identities"`
	Writers    map[string]WriterConfig `toml:"writers"`
}

// DaemonConfig holds process-level settings.
type DaemonConfig struct {
	StateDir        string `toml:"state_dir" validate:"required"`
	LogDir          string `toml:"log_dir" validate:"required"`
	LogLevel        string `toml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MetricsTextfile string `toml:"metrics_textfile,omitempty"`
	Workers         int    `toml:"workers" validate:"gte=1,lte=16"`
	// PolicyOnly and UsageOnly disable the other loop (both false runs both).
	PolicyOnly bool `toml:"policy_only"`
	UsageOnly  bool `toml:"usage_only"`
}

// StoreConfig represents configuration for the state document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type StoreConfig struct {
	Type string `toml:"type" validate:"oneof=filesystem memory"` // "filesystem" (default) or "memory"
	Dir  string `toml:"dir,omitempty"`                          // only used for type=filesystem; defaults to daemon.state_dir
}

// DatabaseConfig represents configuration for the history database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"` // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"`                 // only used for type=sqlite
}

// PolicyConfig configures the remote policy source and the poll loop.
// Source is a tagged union: "https" uses URL, "s3" uses the S3* fields.
type PolicyConfig struct {
	Source string `toml:"source" validate:"oneof=https s3 none"`
	URL    string `toml:"url,omitempty"`

	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Key      string `toml:"s3_key,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"`

	// CredentialFile holds the age-encrypted bearer credential (https) or
	// "ACCESS_KEY:SECRET_KEY" pair (s3). IdentityFile is the age identity
	// that decrypts it.
	CredentialFile string `toml:"credential_file,omitempty"`
	IdentityFile   string `toml:"identity_file,omitempty"`

	PollInterval   time.Duration `toml:"poll_interval" validate:"gte=1s"`
	PollJitter     time.Duration `toml:"poll_jitter" validate:"gte=0"`
	BackoffBase    time.Duration `toml:"backoff_base" validate:"gt=0"`
	BackoffCap     time.Duration `toml:"backoff_cap" validate:"gt=0"`
	RequestTimeout time.Duration `toml:"request_timeout" validate:"gt=0"`
	MaxBodyBytes   int64         `toml:"max_body_bytes" validate:"gt=0"`

	// Targets lists the managed targets. Empty means every target the
	// platform has a writer for.
	Targets    []string `toml:"targets,omitempty"`
	WatchDrift bool     `toml:"watch_drift"`
}

// UsageConfig configures the usage tracking loop.
type UsageConfig struct {
	TickInterval      time.Duration `toml:"tick_interval" validate:"gte=1s"`
	IdleThreshold     time.Duration `toml:"idle_threshold" validate:"gt=0"`
	TamperFactor      float64       `toml:"tamper_factor" validate:"gt=1"`
	DriftTolerance    time.Duration `toml:"drift_tolerance" validate:"gt=0"`
	HistoryDays       int           `toml:"history_days" validate:"gte=1"`
	Timezone          string        `toml:"timezone,omitempty"`
	ExemptAccounts    []string      `toml:"exempt_accounts,omitempty"`
	EnforcementAction string        `toml:"enforcement_action" validate:"oneof=lock logout shutdown"`
	BackoffCap        time.Duration `toml:"backoff_cap" validate:"gt=0"`
}

// AuthConfig configures admin password lockout.
type AuthConfig struct {
	MaxAttempts int           `toml:"max_attempts" validate:"gte=1"`
	Lockout     time.Duration `toml:"lockout" validate:"gt=0"`
}

// IdentityConfig describes one tracked person.
type IdentityConfig struct {
	ID            string                   `toml:"id" validate:"required,max=64"`
	Name          string                   `toml:"name"`
	Aliases       []string                 `toml:"aliases" validate:"required,min=1,dive,required"`
	WeekdayBudget time.Duration            `toml:"weekday_budget" validate:"gte=0"`
	WeekendBudget time.Duration            `toml:"weekend_budget" validate:"gte=0"`
	Custom        map[string]time.Duration `toml:"custom,omitempty"`
	Warnings      []time.Duration          `toml:"warnings,omitempty" validate:"dive,gt=0"`
	GracePeriod   time.Duration            `toml:"grace_period" validate:"gte=0"`
}

// WriterConfig overrides where a target's writer puts its policy.
// Only the fields relevant to the running platform are used.
type WriterConfig struct {
	Path        string `toml:"path,omitempty"`         // linux JSON file or macOS plist
	RegistryKey string `toml:"registry_key,omitempty"` // windows, relative to HKLM
}

// NewConfig creates a new Config with the default values rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		Daemon: DaemonConfig{
			StateDir: baseDir,
			LogDir:   filepath.Join(baseDir, "log"),
			LogLevel: "info",
			Workers:  2,
		},
		Store: StoreConfig{Type: "filesystem"},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: baseDir,
		},
		Policy: PolicyConfig{
			Source:         "none",
			PollInterval:   300 * time.Second,
			PollJitter:     60 * time.Second,
			BackoffBase:    15 * time.Second,
			BackoffCap:     30 * time.Minute,
			RequestTimeout: 30 * time.Second,
			MaxBodyBytes:   4 << 20,
			WatchDrift:     true,
		},
		Usage: UsageConfig{
			TickInterval:      10 * time.Second,
			IdleThreshold:     2 * time.Minute,
			TamperFactor:      3,
			DriftTolerance:    5 * time.Second,
			HistoryDays:       90,
			EnforcementAction: "lock",
			BackoffCap:        time.Minute,
		},
		Auth: AuthConfig{
			MaxAttempts: 5,
			Lockout:     15 * time.Minute,
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. Fields missing from the
// input keep the defaults from NewConfig.
func (m *Manager) Read(r io.Reader, baseDir string) (*Config, error) {
	cfg := NewConfig(baseDir)
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads and validates a Config from the specified file path.
func ReadFromFile(path, baseDir string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
