package executor

import (
	"sync"

	"github.com/caffeineduck/hostgate/hostfunc"
)

// Shared executor for tests, so each test does not pay for a new runtime.
var (
	testExecutor     *Executor
	testExecutorOnce sync.Once
	testExecutorErr  error
)

// GetTestExecutor returns a shared executor whose registry carries the
// kv, time, stream and resources namespaces.
// The executor is created once and reused.
func GetTestExecutor() (*Executor, error) {
	testExecutorOnce.Do(func() {
		registry := hostfunc.NewRegistry(hostfunc.Recover())
		hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
		hostfunc.Clock{}.Register(registry)
		hostfunc.Stream{}.Register(registry)
		hostfunc.Resources{}.Register(registry)
		testExecutor, testExecutorErr = New(registry)
	})
	return testExecutor, testExecutorErr
}

// CloseTestExecutor closes the shared test executor.
// Call this in TestMain if needed, but typically not necessary.
func CloseTestExecutor() {
	if testExecutor != nil {
		testExecutor.Close()
		testExecutor = nil
		testExecutorOnce = sync.Once{}
	}
}
