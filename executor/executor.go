package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostgate/bridge"
	"github.com/caffeineduck/hostgate/hostfunc"
)

// ErrExecutorClosed is returned by operations on a closed Executor.
var ErrExecutorClosed = errors.New("executor closed")

// Executor owns a wazero runtime with the waPC host module and WASI
// installed, and caches compiled guest modules by content hash.
type Executor struct {
	runtime  wazero.Runtime
	cache    wazero.CompilationCache
	compiled map[string]wazero.CompiledModule
	registry *hostfunc.Registry
	nextID   atomic.Uint64

	mu        sync.RWMutex
	instances map[*Instance]struct{}
	closed    bool
}

// New creates an Executor that routes guest host calls to registry. A nil
// registry rejects every host call.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) (*Executor, error) {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if registry == nil {
		registry = hostfunc.NewRegistry()
	}

	ctx := context.Background()

	var cache wazero.CompilationCache
	var err error

	if cfg.diskCache {
		cacheDir := cfg.cacheDir
		if cacheDir == "" {
			cacheDir = DefaultCacheDir()
		}
		cache, err = wazero.NewCompilationCacheWithDir(cacheDir)
		if err != nil {
			return nil, fmt.Errorf("create disk cache: %w", err)
		}
	}

	rtConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cache != nil {
		rtConfig = rtConfig.WithCompilationCache(cache)
	}
	if cfg.memoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	cleanup := func() {
		rt.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		cleanup()
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	host := bridge.NewHost(registry, cfg.console)
	if _, err := host.Instantiate(ctx, rt); err != nil {
		cleanup()
		return nil, err
	}

	e := &Executor{
		runtime:   rt,
		cache:     cache,
		compiled:  make(map[string]wazero.CompiledModule),
		instances: make(map[*Instance]struct{}),
		registry:  registry,
	}

	for _, wasm := range cfg.precompile {
		if _, err := e.Compile(ctx, wasm); err != nil {
			e.Close()
			return nil, fmt.Errorf("precompile: %w", err)
		}
	}

	Logger().Debug("executor ready",
		zap.Bool("disk_cache", cache != nil),
		zap.Uint32("memory_limit_pages", cfg.memoryLimitPages))
	return e, nil
}

// Registry returns the host call registry guests are wired to.
func (e *Executor) Registry() *hostfunc.Registry { return e.registry }

// Compile returns the compiled form of wasm, compiling it on first use.
func (e *Executor) Compile(ctx context.Context, wasm []byte) (wazero.CompiledModule, error) {
	sum := sha256.Sum256(wasm)
	key := hex.EncodeToString(sum[:])

	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrExecutorClosed
	}
	if compiled, ok := e.compiled[key]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrExecutorClosed
	}
	if compiled, ok := e.compiled[key]; ok {
		return compiled, nil
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, fmt.Errorf("compile module: %w", err)
	}
	def, ok := compiled.ExportedFunctions()[guestCallExport]
	if !ok {
		compiled.Close(ctx)
		return nil, ErrNoGuestCall
	}
	if !slices.Equal(def.ParamTypes(), guestCallParams) || !slices.Equal(def.ResultTypes(), guestCallResults) {
		compiled.Close(ctx)
		return nil, fmt.Errorf("%w with signature (i32, i32) -> i32", ErrNoGuestCall)
	}

	e.compiled[key] = compiled
	Logger().Debug("compiled module", zap.String("sha256", key[:12]))
	return compiled, nil
}

// Close releases all resources held by the Executor, including every
// instance created from it that is still open.
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	open := make([]*Instance, 0, len(e.instances))
	for inst := range e.instances {
		open = append(open, inst)
	}
	e.instances = nil
	e.mu.Unlock()

	var errs []error
	for _, inst := range open {
		if err := inst.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	ctx := context.Background()
	if err := e.runtime.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if e.cache != nil {
		if err := e.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Executor) track(inst *Instance) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrExecutorClosed
	}
	e.instances[inst] = struct{}{}
	return nil
}

func (e *Executor) untrack(inst *Instance) {
	e.mu.Lock()
	delete(e.instances, inst)
	e.mu.Unlock()
}

// DefaultCacheDir is where WithDiskCache stores compiled modules when no
// directory is given.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "hostgate")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "hostgate")
	}
	return filepath.Join(os.TempDir(), "hostgate-cache")
}
