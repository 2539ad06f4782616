package core

import (
	"os"
	"path/filepath"
	"runtime"
)

// AppName is the application name used in data directory paths.
const AppName = "AssetEditor"

// GetDataDirectory returns where history and logs live when DATA_DIR is unset.
//
//   - Windows: %APPDATA%\AssetEditor
//   - elsewhere: ~/.asseteditor
//
// It does not create the directory; see EnsureDir.
func GetDataDirectory() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, AppName)
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".asseteditor"
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Roaming", AppName)
	}
	return filepath.Join(home, ".asseteditor")
}

// EnsureDir creates dir (owner-only permissions) if it is missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0700)
}

// EnsureDirs creates the data and output directories named by the config.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.DataDir, filepath.Dir(c.DatabasePath), c.OutputDir} {
		if dir == "" {
			continue
		}
		if err := EnsureDir(dir); err != nil {
			return err
		}
	}
	return nil
}
