// Package config provides configuration management for wavyctl.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration options. Every field can come from the
// TOML file; the common ones can be overridden by flags.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Stream        Stream        `toml:"stream"`
	Events        Events        `toml:"events"`
	Observability Observability `toml:"observability"`
	History       History       `toml:"history"`
}

// Paths controls where the wavy executables are found.
type Paths struct {
	ProjectRoot string   `toml:"project_root"` // skips marker discovery
	Base        string   `toml:"base"`         // search anchor, default: executable dir
	BuildDir    string   `toml:"build_dir"`
	Markers     []string `toml:"markers"`
}

// Stream holds process lifecycle settings.
type Stream struct {
	Manifest    string   `toml:"manifest"`
	GracePeriod Duration `toml:"grace_period"`
	TailLines   int      `toml:"tail_lines"`
}

// Events sizes the observer queue.
type Events struct {
	Buffer int `toml:"buffer"`
}

// Observability
type Observability struct {
	MetricsAddr string `toml:"metrics_addr"` // empty = disabled
	LogFormat   string `toml:"log_format"`   // json, text
	LogLevel    string `toml:"log_level"`
	Verbose     bool   `toml:"verbose"`
}

// History configures the run history database.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Duration is a time.Duration that reads and writes as "5s" in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: Paths{
			BuildDir: "build",
			Markers:  []string{".wavy_root", ".git"},
		},
		Stream: Stream{
			Manifest:    "index.m3u8",
			GracePeriod: Duration(5 * time.Second),
			TailLines:   20,
		},
		Events: Events{
			Buffer: 1024,
		},
		Observability: Observability{
			MetricsAddr: "",
			LogFormat:   "text",
			LogLevel:    "info",
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath(),
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/wavy/wavyctl.toml.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "wavyctl.toml"
	}
	return filepath.Join(dir, "wavy", "wavyctl.toml")
}

func defaultHistoryPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "wavy", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "wavy-history.db"
	}
	return filepath.Join(home, ".local", "state", "wavy", "history.db")
}

// Load reads the TOML file at path over the defaults. A missing file is
// not an error. An empty path selects DefaultPath.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
