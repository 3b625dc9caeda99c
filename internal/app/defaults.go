package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - CURFEW_CONFIG_PATH: config file location (default: /etc/curfew/curfew.toml)
//   - CURFEW_HOME: base directory for state and history (default: /var/lib/curfew)
//
// The defaults are machine-wide; Windows uses %ProgramData%\curfew for both.
func GetDefaults() map[string]string {
	return defaultsFor(runtime.GOOS, os.Getenv)
}

func defaultsFor(goos string, getenv func(string) string) map[string]string {
	configPath, baseDir := platformPaths(goos, getenv)
	if path := getenv("CURFEW_CONFIG_PATH"); path != "" {
		configPath = path
	}
	if path := getenv("CURFEW_HOME"); path != "" {
		baseDir = path
	}
	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}
}

func platformPaths(goos string, getenv func(string) string) (configPath, baseDir string) {
	switch goos {
	case "windows":
		root := getenv("ProgramData")
		if root == "" {
			root = `C:\ProgramData`
		}
		dir := root + `\curfew`
		return dir + `\curfew.toml`, dir
	case "darwin":
		return "/etc/curfew/curfew.toml", "/Library/Application Support/curfew"
	default:
		return "/etc/curfew/curfew.toml", "/var/lib/curfew"
	}
}
