// Package hostfunc provides the host call handlers guests reach through
// __host_call.
//
// Handlers are keyed by namespace and operation. Payloads and responses are
// JSON; failures are resource.Error values whose rendered text the guest
// reads back as the host error.
//
// # Registry
//
//	registry := hostfunc.NewRegistry(hostfunc.Recover(), hostfunc.Logging(logger))
//	registry.Register("app", "greet", hostfunc.JSON(
//	    func(ctx context.Context, call *hostfunc.Call, req GreetRequest) (GreetResponse, error) {
//	        return GreetResponse{Text: "hello " + req.Name}, nil
//	    }))
//
// # Built-in Capabilities
//
// Nothing is enabled by default. Each capability registers its namespace:
//
//	hostfunc.NewKV(hostfunc.DefaultKVConfig()).Register(registry)
//	hostfunc.NewFS([]hostfunc.Mount{{VirtualPath: "/data", HostPath: "./input"}}).Register(registry)
//	hostfunc.NewHTTP(hostfunc.HTTPConfig{AllowedHosts: []string{"api.example.com"}}).Register(registry)
//	hostfunc.Stream{}.Register(registry)
//
// fs/open and http/open store handles in the calling instance's resource
// table and return their IDs. stream/read and stream/close operate on any
// handle; fs/fread and fs/fwrite require a file handle.
package hostfunc
