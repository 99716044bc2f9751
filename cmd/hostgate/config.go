package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/caffeineduck/hostgate/executor"
	"github.com/caffeineduck/hostgate/hostfunc"
)

// Config is the file form of the command line. Flags that were set
// explicitly override the values loaded from --config.
type Config struct {
	Module  string        `yaml:"module"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Memory  string        `yaml:"memory" validate:"omitempty,oneof=1mb 16mb 64mb 256mb 1gb"`
	NoCache bool          `yaml:"no_cache"`

	Log   LogConfig   `yaml:"log"`
	Rate  RateConfig  `yaml:"rate"`
	KV    KVConfig    `yaml:"kv"`
	HTTP  HTTPConfig  `yaml:"http"`
	FS    FSConfig    `yaml:"fs"`
	Serve ServeConfig `yaml:"serve"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// RateConfig limits host calls per instance. Zero disables the limit.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

type KVConfig struct {
	Enabled      bool `yaml:"enabled"`
	MaxKeySize   int  `yaml:"max_key_size" validate:"gte=0"`
	MaxValueSize int  `yaml:"max_value_size" validate:"gte=0"`
	MaxEntries   int  `yaml:"max_entries" validate:"gte=0"`
}

type HTTPConfig struct {
	AllowHosts   []string      `yaml:"allow_hosts" validate:"dive,required"`
	MaxURLLength int           `yaml:"max_url_length" validate:"gte=0"`
	MaxBodySize  int64         `yaml:"max_body_size" validate:"gte=0"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
}

type FSConfig struct {
	Mounts      []string `yaml:"mounts" validate:"dive,mount"`
	MaxFileSize int64    `yaml:"max_file_size" validate:"gte=0"`
}

type ServeConfig struct {
	Port int           `yaml:"port" validate:"gte=0,lte=65535"`
	TTL  time.Duration `yaml:"ttl" validate:"gte=0"`
}

func defaultConfig() Config {
	return Config{
		Timeout: 30 * time.Second,
		Memory:  "256mb",
		Log:     LogConfig{Level: "info", Format: "console"},
		KV: KVConfig{
			MaxKeySize:   hostfunc.DefaultKVMaxKeySize,
			MaxValueSize: hostfunc.DefaultKVMaxValueSize,
			MaxEntries:   hostfunc.DefaultKVMaxEntries,
		},
		HTTP: HTTPConfig{
			MaxURLLength: hostfunc.DefaultMaxURLLength,
			MaxBodySize:  hostfunc.DefaultMaxBodySize,
			Timeout:      hostfunc.DefaultRequestTimeout,
		},
		FS:    FSConfig{MaxFileSize: 10 * 1024 * 1024},
		Serve: ServeConfig{Port: 8080, TTL: 15 * time.Minute},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("mount", func(fl validator.FieldLevel) bool {
		_, err := parseMount(fl.Field().String())
		return err == nil
	})
	return v
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyFlags copies every flag the user set onto cfg.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()

	if flags.Changed("timeout") {
		cfg.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("memory") {
		cfg.Memory, _ = flags.GetString("memory")
		cfg.Memory = strings.ToLower(cfg.Memory)
	}
	if flags.Changed("no-cache") {
		cfg.NoCache, _ = flags.GetBool("no-cache")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-format") {
		cfg.Log.Format, _ = flags.GetString("log-format")
	}
	if flags.Changed("rate") {
		cfg.Rate.PerSecond, _ = flags.GetFloat64("rate")
	}
	if flags.Changed("burst") {
		cfg.Rate.Burst, _ = flags.GetInt("burst")
	}
	if flags.Changed("kv") {
		cfg.KV.Enabled, _ = flags.GetBool("kv")
	}
	if flags.Changed("allow-host") {
		cfg.HTTP.AllowHosts, _ = flags.GetStringSlice("allow-host")
	}
	if flags.Changed("mount") {
		cfg.FS.Mounts, _ = flags.GetStringSlice("mount")
	}
	if flags.Changed("port") {
		cfg.Serve.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("ttl") {
		cfg.Serve.TTL, _ = flags.GetDuration("ttl")
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func parseMount(spec string) (hostfunc.Mount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return hostfunc.Mount{}, fmt.Errorf("invalid mount spec %q (expected virtual:host:mode)", spec)
	}

	mode, err := hostfunc.ParseMountMode(parts[2])
	if err != nil {
		return hostfunc.Mount{}, err
	}

	return hostfunc.Mount{
		VirtualPath: parts[0],
		HostPath:    parts[1],
		Mode:        mode,
	}, nil
}

func parseMemoryLimit(s string) uint32 {
	switch strings.ToLower(s) {
	case "1mb":
		return executor.MemoryLimit1MB
	case "16mb":
		return executor.MemoryLimit16MB
	case "64mb":
		return executor.MemoryLimit64MB
	case "256mb":
		return executor.MemoryLimit256MB
	case "1gb":
		return executor.MemoryLimit1GB
	default:
		return 0 // use default
	}
}
