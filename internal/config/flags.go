package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// BindFlags registers the global overrides on fs. Values default to the
// ones already in cfg, so call it after Load.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	// Observability
	fs.StringVar(&cfg.Observability.LogFormat, "log-format", cfg.Observability.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.Observability.LogLevel, "log-level", cfg.Observability.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVarP(&cfg.Observability.Verbose, "verbose", "v", cfg.Observability.Verbose, "Verbose logging")
	fs.StringVar(&cfg.Observability.MetricsAddr, "metrics", cfg.Observability.MetricsAddr, "Prometheus metrics address (empty disables)")

	// Paths
	fs.StringVar(&cfg.Paths.ProjectRoot, "project-root", cfg.Paths.ProjectRoot, "Project root (skips .wavy_root/.git discovery)")
	fs.StringVar(&cfg.Paths.BuildDir, "build-dir", cfg.Paths.BuildDir, "Executable directory relative to the project root")

	// Process lifecycle
	fs.Var(durationValue{&cfg.Stream.GracePeriod}, "grace-period", "Time between SIGTERM and SIGKILL")
	fs.IntVar(&cfg.Events.Buffer, "event-buffer", cfg.Events.Buffer, "Queued events before status messages are dropped")

	// History
	fs.BoolVar(&cfg.History.Enabled, "history", cfg.History.Enabled, "Record runs in the history database")
}

// ApplyFlags copies the flags explicitly set on parsed onto cfg. It lets a
// command register flags before the config file is known and still have
// the command line win over the file.
func ApplyFlags(parsed *pflag.FlagSet, cfg *Config) error {
	target := pflag.NewFlagSet("apply", pflag.ContinueOnError)
	BindFlags(target, cfg)

	var errs []error
	parsed.Visit(func(f *pflag.Flag) {
		if target.Lookup(f.Name) == nil {
			return
		}
		if err := target.Set(f.Name, f.Value.String()); err != nil {
			errs = append(errs, fmt.Errorf("--%s: %w", f.Name, err))
		}
	})
	return errors.Join(errs...)
}

// durationValue adapts Duration to pflag.Value.
type durationValue struct{ d *Duration }

func (v durationValue) String() string {
	if v.d == nil {
		return "0s"
	}
	return time.Duration(*v.d).String()
}

func (v durationValue) Set(s string) error {
	return v.d.UnmarshalText([]byte(s))
}

func (v durationValue) Type() string { return "duration" }
