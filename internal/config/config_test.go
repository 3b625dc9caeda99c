package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfig = `
[daemon]
log_level = "debug"
metrics_textfile = "/var/lib/node_exporter/curfew.prom"

[policy]
source = "https"
url = "https://policy.example.com/home.json"
poll_interval = "10m"
poll_jitter = "1m"

[usage]
tick_interval = "10s"
timezone = "UTC"
exempt_accounts = ["root", "parent"]
enforcement_action = "logout"

[[identities]]
id = "alice"
name = "Alice"
aliases = ["alice", "alice-school"]
weekday_budget = "2h"
weekend_budget = "4h"
warnings = ["15m", "5m"]
grace_period = "1m"

[identities.custom]
"2026-12-25" = "6h"
friday = "3h"

[writers.chromium]
path = "/tmp/chrome/policy.json"
`

func TestManager_Read(t *testing.T) {
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(sampleConfig), "/var/lib/curfew")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Daemon.StateDir != "/var/lib/curfew" {
		t.Errorf("Daemon.StateDir = %q, want default %q", cfg.Daemon.StateDir, "/var/lib/curfew")
	}
	if cfg.Daemon.LogLevel != "debug" {
		t.Errorf("Daemon.LogLevel = %q, want %q", cfg.Daemon.LogLevel, "debug")
	}
	if cfg.Policy.PollInterval != 10*time.Minute {
		t.Errorf("Policy.PollInterval = %v, want 10m", cfg.Policy.PollInterval)
	}
	if cfg.Policy.BackoffCap != 30*time.Minute {
		t.Errorf("Policy.BackoffCap = %v, want default 30m", cfg.Policy.BackoffCap)
	}
	if cfg.Usage.EnforcementAction != "logout" {
		t.Errorf("Usage.EnforcementAction = %q, want %q", cfg.Usage.EnforcementAction, "logout")
	}
	if len(cfg.Identities) != 1 {
		t.Fatalf("len(Identities) = %d, want 1", len(cfg.Identities))
	}
	alice := cfg.Identities[0]
	if alice.WeekdayBudget != 2*time.Hour {
		t.Errorf("WeekdayBudget = %v, want 2h", alice.WeekdayBudget)
	}
	if len(alice.Warnings) != 2 || alice.Warnings[0] != 15*time.Minute {
		t.Errorf("Warnings = %v, want [15m 5m]", alice.Warnings)
	}
	if alice.Custom["friday"] != 3*time.Hour {
		t.Errorf("Custom[friday] = %v, want 3h", alice.Custom["friday"])
	}
	if cfg.Writers["chromium"].Path != "/tmp/chrome/policy.json" {
		t.Errorf("Writers[chromium].Path = %q", cfg.Writers["chromium"].Path)
	}

	if err := Validate(cfg); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("/srv/curfew")
	original.Policy.Source = "s3"
	original.Policy.S3Bucket = "family-policies"
	original.Policy.S3Key = "home/policy.json"
	original.Identities = []IdentityConfig{
		{ID: "bob", Aliases: []string{"bob"}, WeekdayBudget: 90 * time.Minute, Warnings: []time.Duration{10 * time.Minute}},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf, "/elsewhere")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.Daemon.StateDir != "/srv/curfew" {
		t.Errorf("Daemon.StateDir = %q, want %q", got.Daemon.StateDir, "/srv/curfew")
	}
	if got.Policy.S3Bucket != "family-policies" {
		t.Errorf("Policy.S3Bucket = %q, want %q", got.Policy.S3Bucket, "family-policies")
	}
	if got.Usage.TickInterval != 10*time.Second {
		t.Errorf("Usage.TickInterval = %v, want 10s", got.Usage.TickInterval)
	}
	if len(got.Identities) != 1 || got.Identities[0].WeekdayBudget != 90*time.Minute {
		t.Errorf("Identities = %+v", got.Identities)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/curfew")

	if cfg.Daemon.LogDir != filepath.Join("/data/curfew", "log") {
		t.Errorf("Daemon.LogDir = %q", cfg.Daemon.LogDir)
	}
	if cfg.Policy.PollInterval != 300*time.Second {
		t.Errorf("Policy.PollInterval = %v, want 300s", cfg.Policy.PollInterval)
	}
	if cfg.Policy.PollJitter != 60*time.Second {
		t.Errorf("Policy.PollJitter = %v, want 60s", cfg.Policy.PollJitter)
	}
	if cfg.Usage.HistoryDays != 90 {
		t.Errorf("Usage.HistoryDays = %d, want 90", cfg.Usage.HistoryDays)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate(NewConfig()) error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "plain http rejected",
			mutate:  func(c *Config) { c.Policy.Source = "https"; c.Policy.URL = "http://policy.example.com/p.json" },
			wantErr: "must use https",
		},
		{
			name:    "s3 without key",
			mutate:  func(c *Config) { c.Policy.Source = "s3"; c.Policy.S3Bucket = "b" },
			wantErr: "requires s3_bucket and s3_key",
		},
		{
			name:    "credential without identity",
			mutate:  func(c *Config) { c.Policy.CredentialFile = "/etc/curfew/token.age" },
			wantErr: "must be set together",
		},
		{
			name:    "unknown enforcement action",
			mutate:  func(c *Config) { c.Usage.EnforcementAction = "hibernate" },
			wantErr: "EnforcementAction",
		},
		{
			name: "alias shared by two identities",
			mutate: func(c *Config) {
				c.Identities = []IdentityConfig{
					{ID: "a", Aliases: []string{"kid"}},
					{ID: "b", Aliases: []string{"kid"}},
				}
			},
			wantErr: "mapped to both",
		},
		{
			name: "bad custom key",
			mutate: func(c *Config) {
				c.Identities = []IdentityConfig{
					{ID: "a", Aliases: []string{"a"}, Custom: map[string]time.Duration{"someday": time.Hour}},
				}
			},
			wantErr: "neither a date nor a weekday",
		},
		{
			name: "exempt account also tracked",
			mutate: func(c *Config) {
				c.Identities = []IdentityConfig{{ID: "a", Aliases: []string{"a"}}}
				c.Usage.ExemptAccounts = []string{"a"}
			},
			wantErr: "also an alias",
		},
		{
			name: "alias shared in a different case",
			mutate: func(c *Config) {
				c.Identities = []IdentityConfig{
					{ID: "a", Aliases: []string{"Kid"}},
					{ID: "b", Aliases: []string{"kid"}},
				}
			},
			wantErr: "mapped to both",
		},
		{
			name: "exempt account tracked in a different case",
			mutate: func(c *Config) {
				c.Identities = []IdentityConfig{{ID: "a", Aliases: []string{"alice"}}}
				c.Usage.ExemptAccounts = []string{"Alice"}
			},
			wantErr: "also an alias",
		},
		{
			name:    "jitter larger than interval",
			mutate:  func(c *Config) { c.Policy.PollJitter = 10 * time.Minute },
			wantErr: "poll_jitter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("/data/curfew")
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates new config file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "etc", "curfew.toml")
		if err := Init(path, NewConfig("/data/curfew")); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path, "/ignored")
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Daemon.StateDir != "/data/curfew" {
			t.Errorf("Daemon.StateDir = %q, want %q", got.Daemon.StateDir, "/data/curfew")
		}
	})

	t.Run("refuses to overwrite", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "curfew.toml")
		if err := os.WriteFile(path, []byte("# existing\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := Init(path, NewConfig("/data/curfew")); err == nil {
			t.Error("Init() expected error for existing file")
		}
	})
}
