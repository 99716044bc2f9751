// Package executor runs untrusted waPC guest modules on wazero.
//
// # Overview
//
// An [Executor] owns the runtime, installs WASI and the bridge's "wapc" host
// module, and caches compiled modules by content hash. Each [Instance] is one
// guest with its own bridge state and, unless shared, its own resource table.
//
// # Basic Usage
//
//	registry := hostfunc.NewRegistry(hostfunc.Recover())
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
//
//	exec, err := executor.New(registry)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer exec.Close()
//
//	inst, err := exec.NewInstance(ctx, wasm, executor.WithTimeout(5*time.Second))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close()
//
//	out, err := inst.Invoke(ctx, "hello", []byte("world"))
//
// # Errors
//
// A guest that answers with __guest_error yields a [*GuestError]. Traps are
// wrapped errors from wazero. An invocation that exceeds its timeout returns
// [ErrTimeout] and closes the instance; later calls return
// [ErrInstanceClosed].
package executor
