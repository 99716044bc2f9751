package bridge

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// ModuleName is the import module guests use for the host functions.
const ModuleName = "wapc"

var i32 = api.ValueTypeI32

// Instantiate registers the waPC host module in rt. Guests must be called
// with a context carrying their State (see WithState).
func (h *Host) Instantiate(ctx context.Context, rt wazero.Runtime) (api.Module, error) {
	b := rt.NewHostModuleBuilder(ModuleName)

	export := func(name string, fn api.GoModuleFunc, params, results []api.ValueType) {
		b.NewFunctionBuilder().
			WithGoModuleFunction(fn, params, results).
			WithName(name).
			Export(name)
	}

	export("__guest_request", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		logIgnored(st, "__guest_request",
			h.GuestRequest(st, mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
	}, []api.ValueType{i32, i32}, nil)

	export("__console_log", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		logIgnored(st, "__console_log",
			h.ConsoleLog(st, mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
	}, []api.ValueType{i32, i32}, nil)

	export("__host_call", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		var p [8]uint32
		for i := range p {
			p[i] = api.DecodeU32(stack[i])
		}
		r := h.HostCall(ctx, st, mod.Memory(), p[0], p[1], p[2], p[3], p[4], p[5], p[6], p[7])
		stack[0] = api.EncodeI32(r)
	}, []api.ValueType{i32, i32, i32, i32, i32, i32, i32, i32}, []api.ValueType{i32})

	export("__host_response_len", func(ctx context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeI32(h.HostResponseLen(mustState(ctx)))
	}, nil, []api.ValueType{i32})

	export("__host_response", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		logIgnored(st, "__host_response", h.HostResponse(st, mod.Memory(), api.DecodeU32(stack[0])))
	}, []api.ValueType{i32}, nil)

	export("__host_error_len", func(ctx context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeI32(h.HostErrorLen(mustState(ctx)))
	}, nil, []api.ValueType{i32})

	export("__host_error", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		logIgnored(st, "__host_error", h.HostError(st, mod.Memory(), api.DecodeU32(stack[0])))
	}, []api.ValueType{i32}, nil)

	export("__guest_response", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		logIgnored(st, "__guest_response",
			h.GuestResponse(st, mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
	}, []api.ValueType{i32, i32}, nil)

	export("__guest_error", func(ctx context.Context, mod api.Module, stack []uint64) {
		st := mustState(ctx)
		logIgnored(st, "__guest_error",
			h.GuestError(st, mod.Memory(), api.DecodeU32(stack[0]), api.DecodeU32(stack[1])))
	}, []api.ValueType{i32, i32}, nil)

	mod, err := b.Instantiate(ctx)
	if err != nil {
		return nil, fmt.Errorf("instantiate %s host module: %w", ModuleName, err)
	}
	return mod, nil
}

// mustState panics when a guest calls a host function outside an
// invocation context. wazero turns the panic into an error from the guest
// call that triggered it.
func mustState(ctx context.Context) *State {
	st := StateFrom(ctx)
	if st == nil {
		panic("bridge: no instance state in context")
	}
	return st
}

func logIgnored(st *State, export string, err error) {
	if err == nil {
		return
	}
	Logger().Warn("guest memory access ignored",
		zap.Uint64("instance", st.ID()),
		zap.String("export", export),
		zap.Error(err))
}
