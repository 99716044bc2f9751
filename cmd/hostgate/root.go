package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// appConfig is resolved before any subcommand runs.
var appConfig = defaultConfig()

var rootCmd = &cobra.Command{
	Use:   "hostgate",
	Short: "waPC host for WebAssembly guests",
	Long: `hostgate - Load WebAssembly modules that speak the waPC protocol and
invoke them from the command line, an interactive shell, or over HTTP.

Guests start with no capabilities. Host call namespaces (kv, http, fs) are
enabled explicitly with flags or a YAML config file; time, stream and
resources are always available.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML config file; explicit flags override it")
	flags.String("log-level", "info", "Log level: debug, info, warn, error")
	flags.String("log-format", "console", "Log format: console, json")
	flags.Bool("no-cache", false, "Disable compilation cache")

	flags.Duration("timeout", 30*time.Second, "Invocation timeout")
	flags.String("memory", "256mb", "Memory limit: 1mb, 16mb, 64mb, 256mb, 1gb")
	flags.Bool("kv", false, "Enable key-value store")
	flags.StringSlice("allow-host", nil, "Allow HTTP to host (repeatable)")
	flags.StringSlice("mount", nil, "Mount filesystem virtual:host:mode (repeatable)")
	flags.Float64("rate", 0, "Host calls per second per instance (0 = unlimited)")
	flags.Int("burst", 10, "Host call burst when --rate is set")
}

func setup(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	if cfg.Rate.PerSecond > 0 && cfg.Rate.Burst == 0 {
		cfg.Rate.Burst, _ = cmd.Flags().GetInt("burst")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	installLogger(logger)
	logger.Debug("configuration loaded",
		zap.String("config", path),
		zap.Duration("timeout", cfg.Timeout),
		zap.Bool("kv", cfg.KV.Enabled),
		zap.Strings("allow_hosts", cfg.HTTP.AllowHosts),
		zap.Strings("mounts", cfg.FS.Mounts))

	appConfig = cfg
	return nil
}
