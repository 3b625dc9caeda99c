package app

import (
	"path/filepath"
	"testing"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestGetDefaults(t *testing.T) {
	t.Run("uses env vars when set", func(t *testing.T) {
		t.Setenv("CURFEW_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("CURFEW_HOME", "/custom/curfew")

		defaults := GetDefaults()

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/curfew" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/curfew")
		}
		want := filepath.Join("/custom/curfew", "log")
		if defaults["log_dir"] != want {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], want)
		}
	})
}

func TestDefaultsFor(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		env        map[string]string
		wantConfig string
		wantBase   string
	}{
		{
			name:       "linux",
			goos:       "linux",
			wantConfig: "/etc/curfew/curfew.toml",
			wantBase:   "/var/lib/curfew",
		},
		{
			name:       "darwin",
			goos:       "darwin",
			wantConfig: "/etc/curfew/curfew.toml",
			wantBase:   "/Library/Application Support/curfew",
		},
		{
			name:       "windows program data",
			goos:       "windows",
			env:        map[string]string{"ProgramData": `D:\ProgramData`},
			wantConfig: `D:\ProgramData\curfew\curfew.toml`,
			wantBase:   `D:\ProgramData\curfew`,
		},
		{
			name:       "windows fallback",
			goos:       "windows",
			wantConfig: `C:\ProgramData\curfew\curfew.toml`,
			wantBase:   `C:\ProgramData\curfew`,
		},
		{
			name:       "env overrides platform",
			goos:       "darwin",
			env:        map[string]string{"CURFEW_HOME": "/tmp/curfew"},
			wantConfig: "/etc/curfew/curfew.toml",
			wantBase:   "/tmp/curfew",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := defaultsFor(tt.goos, envOf(tt.env))
			if got["config_path"] != tt.wantConfig {
				t.Errorf("config_path = %q, want %q", got["config_path"], tt.wantConfig)
			}
			if got["base_dir"] != tt.wantBase {
				t.Errorf("base_dir = %q, want %q", got["base_dir"], tt.wantBase)
			}
		})
	}
}
