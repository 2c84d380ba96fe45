package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.buddychat.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".buddychat")
}

// DBPath returns the app-owned buddychat.db path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "buddychat.db")
}

// LockPath returns the daemon lock file path.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "LOCK")
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "buddyd.log")
}

// ConfigPath returns the config file path.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// EnsureDir creates the data directory tree with proper permissions.
func EnsureDir(dataDir string) error {
	dirs := []string{
		dataDir,
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
