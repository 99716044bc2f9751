package hostfunc

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"

	"github.com/caffeineduck/hostgate/bridge"
	"github.com/caffeineduck/hostgate/resource"
)

// Call is one guest host call: instance identity, routing keys, raw payload
// and the resource table the instance sees.
type Call = bridge.Call

// Handler services one namespace/operation pair.
type Handler func(ctx context.Context, call *Call) ([]byte, error)

// Registry routes host calls by namespace and operation. It implements
// bridge.HostCaller.
type Registry struct {
	mu         sync.RWMutex
	funcs      map[string]Handler
	middleware []Middleware
}

// NewRegistry creates a registry. Middleware executes in the order given,
// the first one outermost.
func NewRegistry(mw ...Middleware) *Registry {
	return &Registry{funcs: make(map[string]Handler), middleware: mw}
}

func key(namespace, operation string) string {
	return namespace + "/" + operation
}

// Register installs fn for namespace/operation, replacing any previous
// handler.
func (r *Registry) Register(namespace, operation string, fn Handler) {
	r.mu.Lock()
	r.funcs[key(namespace, operation)] = fn
	r.mu.Unlock()
}

// Use appends middleware to the chain.
func (r *Registry) Use(mw ...Middleware) {
	r.mu.Lock()
	r.middleware = append(r.middleware, mw...)
	r.mu.Unlock()
}

// Get returns the handler for namespace/operation without middleware.
func (r *Registry) Get(namespace, operation string) (Handler, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[key(namespace, operation)]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered "namespace/operation" keys, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Namespaces returns the distinct registered namespaces, sorted.
func (r *Registry) Namespaces() []string {
	var out []string
	for _, k := range r.List() {
		ns, _, _ := strings.Cut(k, "/")
		if len(out) == 0 || out[len(out)-1] != ns {
			out = append(out, ns)
		}
	}
	return out
}

// HostCall dispatches call through the middleware chain.
func (r *Registry) HostCall(ctx context.Context, call *Call) ([]byte, error) {
	r.mu.RLock()
	fn, ok := r.funcs[key(call.Namespace, call.Operation)]
	mw := r.middleware
	r.mu.RUnlock()

	if !ok {
		fn = func(context.Context, *Call) ([]byte, error) {
			return nil, resource.Errorf(resource.ClassNotFound,
				"no handler for %s/%s", call.Namespace, call.Operation)
		}
	}
	for i := len(mw) - 1; i >= 0; i-- {
		fn = mw[i](fn)
	}
	return fn(ctx, call)
}

// JSON adapts a typed function to a Handler. An empty payload decodes to the
// zero request.
func JSON[Req, Resp any](fn func(ctx context.Context, call *Call, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, call *Call) ([]byte, error) {
		var req Req
		if len(call.Payload) > 0 {
			if err := json.Unmarshal(call.Payload, &req); err != nil {
				return nil, resource.Errorf(resource.ClassInvalidArgument, "invalid payload: %v", err)
			}
		}
		resp, err := fn(ctx, call, req)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(resp)
		if err != nil {
			return nil, resource.Errorf(resource.ClassInternal, "encode response: %v", err)
		}
		return b, nil
	}
}

// Capability is a group of handlers installed together under one namespace.
type Capability interface {
	Register(r *Registry)
}

func invalid(format string, args ...any) error {
	return resource.Errorf(resource.ClassInvalidArgument, format, args...)
}

func denied(format string, args ...any) error {
	return resource.Errorf(resource.ClassPermissionDenied, format, args...)
}

func notFound(format string, args ...any) error {
	return resource.Errorf(resource.ClassNotFound, format, args...)
}
