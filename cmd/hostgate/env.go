package main

import (
	"fmt"
	"io"
	"os"

	"github.com/caffeineduck/hostgate/executor"
	"github.com/caffeineduck/hostgate/hostfunc"
)

// hostEnv is what every command needs to run guests.
type hostEnv struct {
	exec    *executor.Executor
	limiter *hostfunc.Limiter
}

func newHostEnv(cfg Config, precompile ...[]byte) (*hostEnv, error) {
	registry, limiter, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	var execOpts []executor.ExecutorOption
	if !cfg.NoCache {
		execOpts = append(execOpts, executor.WithDiskCache())
	}
	if pages := parseMemoryLimit(cfg.Memory); pages > 0 {
		execOpts = append(execOpts, executor.WithMemoryLimit(pages))
	}
	if len(precompile) > 0 {
		execOpts = append(execOpts, executor.WithPrecompile(precompile...))
	}

	exec, err := executor.New(registry, execOpts...)
	if err != nil {
		return nil, err
	}
	return &hostEnv{exec: exec, limiter: limiter}, nil
}

func buildRegistry(cfg Config) (*hostfunc.Registry, *hostfunc.Limiter, error) {
	registry := hostfunc.NewRegistry(hostfunc.Recover(), hostfunc.Logging(nil))

	var limiter *hostfunc.Limiter
	if cfg.Rate.PerSecond > 0 {
		limiter = hostfunc.NewLimiter(cfg.Rate.PerSecond, cfg.Rate.Burst)
		registry.Use(limiter.Middleware())
	}

	hostfunc.Clock{}.Register(registry)
	hostfunc.Stream{}.Register(registry)
	hostfunc.Resources{}.Register(registry)

	if cfg.KV.Enabled {
		hostfunc.NewKV(hostfunc.KVConfig{
			MaxKeySize:   cfg.KV.MaxKeySize,
			MaxValueSize: cfg.KV.MaxValueSize,
			MaxEntries:   cfg.KV.MaxEntries,
		}).Register(registry)
	}

	if len(cfg.HTTP.AllowHosts) > 0 {
		hostfunc.NewHTTP(hostfunc.HTTPConfig{
			AllowedHosts:   cfg.HTTP.AllowHosts,
			MaxURLLength:   cfg.HTTP.MaxURLLength,
			MaxBodySize:    cfg.HTTP.MaxBodySize,
			RequestTimeout: cfg.HTTP.Timeout,
		}).Register(registry)
	}

	if len(cfg.FS.Mounts) > 0 {
		mounts := make([]hostfunc.Mount, 0, len(cfg.FS.Mounts))
		for _, spec := range cfg.FS.Mounts {
			m, err := parseMount(spec)
			if err != nil {
				return nil, nil, err
			}
			mounts = append(mounts, m)
		}
		hostfunc.NewFS(mounts, hostfunc.WithMaxFileSize(cfg.FS.MaxFileSize)).Register(registry)
	}

	return registry, limiter, nil
}

func (e *hostEnv) instanceOpts(cfg Config, guestOut io.Writer) []executor.InstanceOption {
	return []executor.InstanceOption{
		executor.WithTimeout(cfg.Timeout),
		executor.WithStdout(guestOut),
		executor.WithStderr(guestOut),
	}
}

// forget drops per-instance state kept outside the instance.
func (e *hostEnv) forget(inst *executor.Instance) {
	if e.limiter != nil {
		e.limiter.Forget(inst.ID())
	}
}

func (e *hostEnv) Close() error {
	return e.exec.Close()
}

// readModule returns the module named by args or, failing that, the config.
func readModule(cfg Config, args []string) ([]byte, error) {
	path := cfg.Module
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		return nil, fmt.Errorf("module path required")
	}
	wasm, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module: %w", err)
	}
	return wasm, nil
}

// readPayload interprets "@path" as a file, "-" as stdin and anything else
// as the literal payload.
func readPayload(spec string, stdin io.Reader) ([]byte, error) {
	switch {
	case spec == "":
		return nil, nil
	case spec == "-":
		return io.ReadAll(stdin)
	case len(spec) > 1 && spec[0] == '@':
		b, err := os.ReadFile(spec[1:])
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return b, nil
	default:
		return []byte(spec), nil
	}
}
