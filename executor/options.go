package executor

import (
	"io"
	"time"

	"github.com/caffeineduck/hostgate/bridge"
	"github.com/caffeineduck/hostgate/resource"
)

// ExecutorOption configures the Executor at creation time.
type ExecutorOption func(*executorConfig)

type executorConfig struct {
	diskCache        bool
	cacheDir         string
	precompile       [][]byte
	memoryLimitPages uint32 // Max memory pages (each page = 64KB), 0 = default (4GB)
	console          bridge.ConsoleLogger
}

func defaultExecutorConfig() executorConfig {
	return executorConfig{}
}

// WithDiskCache enables persistent compilation cache for faster CLI startup.
// Optionally provide a custom directory; otherwise uses ~/.cache/hostgate or
// XDG_CACHE_HOME/hostgate.
//
// Examples:
//
//	executor.New(registry, executor.WithDiskCache())            // default dir
//	executor.New(registry, executor.WithDiskCache("/tmp/cache")) // custom dir
func WithDiskCache(dir ...string) ExecutorOption {
	return func(c *executorConfig) {
		c.diskCache = true
		if len(dir) > 0 && dir[0] != "" {
			c.cacheDir = dir[0]
		}
	}
}

// WithPrecompile compiles the given modules at Executor creation time.
func WithPrecompile(modules ...[]byte) ExecutorOption {
	return func(c *executorConfig) {
		c.precompile = append(c.precompile, modules...)
	}
}

// WithMemoryLimit sets the maximum memory available to guest modules.
// Each page is 64KB. Default is 0 (no limit, up to 4GB).
func WithMemoryLimit(pages uint32) ExecutorOption {
	return func(c *executorConfig) {
		c.memoryLimitPages = pages
	}
}

// WithConsole receives the text guests write with __console_log. The default
// writes to the bridge package logger.
func WithConsole(l bridge.ConsoleLogger) ExecutorOption {
	return func(c *executorConfig) {
		c.console = l
	}
}

// Memory limit constants for convenience.
const (
	MemoryLimit1MB   uint32 = 16    // 1 MB
	MemoryLimit16MB  uint32 = 256   // 16 MB
	MemoryLimit64MB  uint32 = 1024  // 64 MB
	MemoryLimit256MB uint32 = 4096  // 256 MB
	MemoryLimit1GB   uint32 = 16384 // 1 GB
)

// InstanceOption configures an Instance.
type InstanceOption func(*instanceConfig)

type instanceConfig struct {
	timeout time.Duration
	table   *resource.Table
	stdout  io.Writer
	stderr  io.Writer
	env     map[string]string
}

func defaultInstanceConfig() instanceConfig {
	return instanceConfig{
		timeout: 30 * time.Second,
	}
}

// WithTimeout bounds each invocation. A timed-out instance is closed. Zero
// disables the bound.
func WithTimeout(d time.Duration) InstanceOption {
	return func(c *instanceConfig) {
		c.timeout = d
	}
}

// WithTable shares t with the instance instead of giving it a private table.
// Closing the instance leaves t's resources open.
func WithTable(t *resource.Table) InstanceOption {
	return func(c *instanceConfig) {
		c.table = t
	}
}

// WithStdout routes the guest's WASI stdout.
func WithStdout(w io.Writer) InstanceOption {
	return func(c *instanceConfig) {
		c.stdout = w
	}
}

// WithStderr routes the guest's WASI stderr.
func WithStderr(w io.Writer) InstanceOption {
	return func(c *instanceConfig) {
		c.stderr = w
	}
}

// WithEnv sets a WASI environment variable.
func WithEnv(key, value string) InstanceOption {
	return func(c *instanceConfig) {
		if c.env == nil {
			c.env = make(map[string]string)
		}
		c.env[key] = value
	}
}
