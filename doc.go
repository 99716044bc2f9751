// Package hostgate hosts WebAssembly guests that speak the waPC protocol.
//
// # Overview
//
// A guest is a core WebAssembly module that imports the "wapc" host module
// and exports __guest_call. The host delivers an operation name and payload,
// the guest answers with a response or an error, and while it runs it can
// call back into the host through __host_call. Host calls are routed by
// namespace and operation to handlers in a [hostfunc.Registry]. Handlers
// that hand out long-lived objects (open files, HTTP bodies) store them in
// the instance's [resource.Table] and give the guest an integer id.
//
// Guests start with no capabilities. The kv, http and fs namespaces exist
// only when registered.
//
// # Basic Usage
//
//	registry := hostfunc.NewRegistry(hostfunc.Recover())
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
//
//	exec, _ := executor.New(registry)
//	defer exec.Close()
//
//	inst, _ := exec.NewInstance(ctx, wasm, executor.WithTimeout(5*time.Second))
//	defer inst.Close()
//
//	out, err := inst.Invoke(ctx, "greet", []byte(`{"name":"world"}`))
//
// # Enabling Capabilities
//
//	// HTTP access
//	hostfunc.NewHTTP(hostfunc.HTTPConfig{
//	    AllowedHosts: []string{"api.example.com"},
//	}).Register(registry)
//
//	// Filesystem access
//	hostfunc.NewFS([]hostfunc.Mount{
//	    {VirtualPath: "/data", HostPath: "./input", Mode: hostfunc.MountReadOnly},
//	}).Register(registry)
//
// See the [bridge], [executor], [hostfunc] and [resource] packages for
// detailed API documentation.
package hostgate
