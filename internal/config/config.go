package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the daemon configuration file.
type Config struct {
	ListenAddr string       `toml:"listen_addr"`
	JWTSecret  string       `toml:"jwt_secret"`
	Notify     NotifyConfig `toml:"notifications"`
}

// NotifyConfig holds the notification fan-out tunables. Preview length and
// toast duration are cosmetic product constants, not correctness invariants.
type NotifyConfig struct {
	PreviewLength   int  `toml:"preview_length"`
	ToastDurationMS int  `toml:"toast_duration_ms"`
	PersistSeen     bool `toml:"persist_seen"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ListenAddr: ":8080",
		JWTSecret:  "",
		Notify: NotifyConfig{
			PreviewLength:   50,
			ToastDurationMS: 4000,
			PersistSeen:     true,
		},
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// Returns defaults and error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return Default(), err
	}
	if cfg.Notify.PreviewLength <= 0 {
		cfg.Notify.PreviewLength = 50
	}
	if cfg.Notify.ToastDurationMS <= 0 {
		cfg.Notify.ToastDurationMS = 4000
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
