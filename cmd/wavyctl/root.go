package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
	"github.com/randomizedcoder/go-wavy-control/internal/logging"
	"github.com/randomizedcoder/go-wavy-control/internal/resolver"
)

// commandContext carries the loaded configuration to every subcommand.
type commandContext struct {
	configPath string

	// staged receives the persistent flags while cobra parses; the
	// values explicitly set are copied onto the loaded file config.
	staged *config.Config
	cfg    *config.Config
}

func newRootCommand() *cobra.Command {
	cc := &commandContext{staged: config.DefaultConfig()}

	rootCmd := &cobra.Command{
		Use:           "wavyctl",
		Short:         "Control the wavy segmenter, dispatcher and playback client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["skipConfigLoad"] == "true" {
				return nil
			}
			return cc.load(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cc.configPath, "config", "c", "", "Configuration file (default "+config.DefaultPath()+")")
	config.BindFlags(pf, cc.staged)

	rootCmd.AddCommand(
		newStreamCommand(cc),
		newPlayCommand(cc),
		newCheckCommand(cc),
		newHistoryCommand(cc),
		newClearCommand(cc),
		newVersionCommand(),
	)
	return rootCmd
}

// load reads the config file, applies the flags given on the command line
// and validates the result.
func (c *commandContext) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if err := config.ApplyFlags(cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// logger builds the process logger. The dashboard owns the terminal, so
// logs are discarded while it runs.
func (c *commandContext) logger(dashboard bool) *slog.Logger {
	var logger *slog.Logger
	if dashboard {
		logger = logging.Discard()
	} else {
		o := c.cfg.Observability
		logger = logging.New(os.Stderr, logging.Options{Format: o.LogFormat, Level: o.LogLevel, Verbose: o.Verbose})
	}
	logging.SetDefault(logger)
	return logger
}

func (c *commandContext) resolver() *resolver.Resolver {
	p := c.cfg.Paths
	return resolver.New(resolver.Options{
		Root:     p.ProjectRoot,
		Base:     p.Base,
		Markers:  p.Markers,
		BuildDir: p.BuildDir,
	})
}
