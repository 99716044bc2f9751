// Package bench measures where time goes when a host drives waPC guests.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. ./bench/
package bench

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/caffeineduck/hostgate/bridge"
	"github.com/caffeineduck/hostgate/executor"
	"github.com/caffeineduck/hostgate/hostfunc"
	"github.com/caffeineduck/hostgate/internal/guestmem"
	"github.com/caffeineduck/hostgate/internal/wasmtest"
	"github.com/caffeineduck/hostgate/resource"
)

func newRegistry() *hostfunc.Registry {
	registry := hostfunc.NewRegistry(hostfunc.Recover())
	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
	return registry
}

// --- Cold start (new executor each time) ---

func BenchmarkColdStart(b *testing.B) {
	registry := newRegistry()
	wasm := wasmtest.Echo()
	for b.Loop() {
		exec, _ := executor.New(registry)
		inst, _ := exec.NewInstance(context.Background(), wasm)
		inst.Invoke(context.Background(), "echo", nil)
		exec.Close()
	}
}

// --- Warm start (reuse executor, new instance each time) ---

func BenchmarkWarmInstance(b *testing.B) {
	exec, _ := executor.New(newRegistry(), executor.WithPrecompile(wasmtest.Echo()))
	defer exec.Close()
	wasm := wasmtest.Echo()

	for b.Loop() {
		inst, _ := exec.NewInstance(context.Background(), wasm)
		inst.Invoke(context.Background(), "echo", nil)
		inst.Close()
	}
}

// --- Steady state (one instance, many invocations) ---

func BenchmarkInvoke(b *testing.B) {
	for _, size := range []int{0, 64, 4096} {
		b.Run(fmt.Sprintf("payload=%d", size), func(b *testing.B) {
			exec, _ := executor.New(newRegistry())
			defer exec.Close()
			inst, err := exec.NewInstance(context.Background(), wasmtest.Echo())
			if err != nil {
				b.Fatal(err)
			}
			payload := make([]byte, size)

			b.SetBytes(int64(size))
			for b.Loop() {
				if _, err := inst.Invoke(context.Background(), "echo", payload); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkInvoke_HostCall(b *testing.B) {
	exec, _ := executor.New(newRegistry())
	defer exec.Close()
	inst, err := exec.NewInstance(context.Background(), wasmtest.Proxy("kv", "get"))
	if err != nil {
		b.Fatal(err)
	}
	payload := []byte(`{"key":"missing"}`)

	for b.Loop() {
		if _, err := inst.Invoke(context.Background(), "get", payload); err != nil {
			b.Fatal(err)
		}
	}
}

// --- Protocol without a guest ---

func BenchmarkBridgeHostCall(b *testing.B) {
	host := bridge.NewHost(bridge.HostCallerFunc(func(_ context.Context, call *bridge.Call) ([]byte, error) {
		return call.Payload, nil
	}), nil)
	st := bridge.NewState(1, nil)
	mem := make(guestmem.Bytes, 1024)
	copy(mem[0:], "kv")
	copy(mem[16:], "get")
	copy(mem[64:], `{"key":"k"}`)

	for b.Loop() {
		if host.HostCall(context.Background(), st, mem, 0, 0, 0, 2, 16, 3, 64, 11) != 1 {
			b.Fatal("host call failed")
		}
	}
}

type noop struct{ resource.Base }

func BenchmarkTableAddTake(b *testing.B) {
	table := resource.NewTable()
	r := &noop{}
	for b.Loop() {
		id, _ := table.Add(r)
		resource.Take[*noop](table, id)
	}
}

func BenchmarkTableGetParallel(b *testing.B) {
	table := resource.NewTable()
	id, _ := table.Add(&noop{})
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			resource.Get[*noop](table, id)
		}
	})
}

// =============================================================================
// MEMORY USAGE
// =============================================================================

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	exec, _ := executor.New(newRegistry())

	var instances []*executor.Instance
	for range 50 {
		inst, err := exec.NewInstance(context.Background(), wasmtest.Echo())
		if err != nil {
			t.Fatal(err)
		}
		inst.Invoke(context.Background(), "echo", []byte("x"))
		instances = append(instances, inst)
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	for _, inst := range instances {
		inst.Close()
	}
	exec.Close()

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d KB", before/1024)
	t.Logf("Memory with 50 instances: %d KB", after/1024)
	t.Logf("Memory after GC: %d KB", afterGC/1024)
}

// =============================================================================
// DISK CACHE (simulates CLI usage)
// =============================================================================

func TestDiskCacheBenefit(t *testing.T) {
	cacheDir, _ := os.MkdirTemp("", "hostgate-bench-cache")
	defer os.RemoveAll(cacheDir)

	registry := newRegistry()
	wasm := wasmtest.Proxy("kv", "get")

	var times []time.Duration

	// Simulate 5 separate CLI invocations (each creates new executor)
	for range 5 {
		start := time.Now()

		exec, err := executor.New(registry, executor.WithDiskCache(cacheDir))
		if err != nil {
			t.Fatal(err)
		}
		inst, err := exec.NewInstance(context.Background(), wasm)
		if err != nil {
			t.Fatal(err)
		}
		inst.Invoke(context.Background(), "get", []byte(`{"key":"k"}`))
		exec.Close()

		times = append(times, time.Since(start))
	}

	for i, d := range times {
		label := "cached"
		if i == 0 {
			label = "compile"
		}
		t.Logf("Call %d (%s): %v", i+1, label, d)
	}
}
