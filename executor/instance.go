package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/caffeineduck/hostgate/bridge"
	"github.com/caffeineduck/hostgate/hostfunc"
	"github.com/caffeineduck/hostgate/resource"
)

const guestCallExport = "__guest_call"

var (
	guestCallParams  = []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	guestCallResults = []api.ValueType{api.ValueTypeI32}
)

var (
	ErrInstanceClosed = errors.New("instance closed")
	ErrInstanceBusy   = errors.New("instance busy")
	ErrNoGuestCall    = errors.New("module does not export " + guestCallExport)
	ErrTimeout        = errors.New("timeout")
)

// GuestError is an error the guest reported with __guest_error.
type GuestError struct {
	Operation string
	Message   string
}

func (e *GuestError) Error() string {
	return fmt.Sprintf("guest error in %s: %s", e.Operation, e.Message)
}

// Instance is one instantiated guest module with its own bridge state.
// Invocations are serialized.
type Instance struct {
	exec      *Executor
	cfg       instanceConfig
	state     *bridge.State
	module    api.Module
	guestCall api.Function
	ownsTable bool

	mu     sync.Mutex
	execMu sync.Mutex
	closed bool
}

// NewInstance compiles wasm (cached) and instantiates it.
func (e *Executor) NewInstance(ctx context.Context, wasm []byte, opts ...InstanceOption) (*Instance, error) {
	cfg := defaultInstanceConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	compiled, err := e.Compile(ctx, wasm)
	if err != nil {
		return nil, err
	}

	table := cfg.table
	ownsTable := table == nil
	if ownsTable {
		table = resource.NewTable()
	}

	id := e.nextID.Add(1)
	st := bridge.NewState(id, table)

	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions("_initialize", "_start")
	if cfg.stdout != nil {
		moduleConfig = moduleConfig.WithStdout(cfg.stdout)
	}
	if cfg.stderr != nil {
		moduleConfig = moduleConfig.WithStderr(cfg.stderr)
	}
	for k, v := range cfg.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	// Start functions may already issue host calls.
	ctx = bridge.WithState(ctx, st)
	mod, err := e.runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if err != nil || mod == nil {
		if ownsTable {
			table.CloseAll()
		}
		if err == nil {
			// wazero reports exit code 0 from a start function as success
			// but does not return the closed module.
			err = errors.New("module exited during start")
		}
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	if init := mod.ExportedFunction("wapc_init"); init != nil {
		if _, err := init.Call(ctx); err != nil {
			mod.Close(context.Background())
			if ownsTable {
				table.CloseAll()
			}
			return nil, fmt.Errorf("wapc_init: %w", err)
		}
	}

	inst := &Instance{
		exec:      e,
		cfg:       cfg,
		state:     st,
		module:    mod,
		guestCall: mod.ExportedFunction(guestCallExport),
		ownsTable: ownsTable,
	}
	if err := e.track(inst); err != nil {
		inst.Close()
		return nil, err
	}
	Logger().Debug("instance started", zap.Uint64("instance", id))
	return inst, nil
}

// ID returns the instance identity passed to host call handlers.
func (i *Instance) ID() uint64 { return i.state.ID() }

// Table returns the resource table the instance's host calls use.
func (i *Instance) Table() *resource.Table { return i.state.Table() }

// Resources lists the open handles in the instance's table.
func (i *Instance) Resources() []hostfunc.ResourceEntry {
	return hostfunc.ListResources(i.state.Table())
}

// Invoke delivers op and payload to the guest's __guest_call and returns the
// guest's response. It waits for any invocation already in flight.
func (i *Instance) Invoke(ctx context.Context, op string, payload []byte) ([]byte, error) {
	i.execMu.Lock()
	defer i.execMu.Unlock()
	return i.invoke(ctx, op, payload)
}

// TryInvoke is Invoke but fails with ErrInstanceBusy instead of waiting.
func (i *Instance) TryInvoke(ctx context.Context, op string, payload []byte) ([]byte, error) {
	if !i.execMu.TryLock() {
		return nil, ErrInstanceBusy
	}
	defer i.execMu.Unlock()
	return i.invoke(ctx, op, payload)
}

func (i *Instance) invoke(ctx context.Context, op string, payload []byte) ([]byte, error) {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return nil, ErrInstanceClosed
	}

	start := time.Now()
	if i.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.timeout)
		defer cancel()
	}

	i.state.SetGuestRequest(bridge.Invocation{Operation: op, Payload: payload})
	defer i.state.ClearGuestRequest()

	res, err := i.guestCall.Call(bridge.WithState(ctx, i.state),
		api.EncodeU32(uint32(len(op))), api.EncodeU32(uint32(len(payload))))

	log := Logger().With(
		zap.Uint64("instance", i.ID()),
		zap.String("operation", op),
		zap.Duration("elapsed", time.Since(start)))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// wazero closes the module once the context is done.
			i.Close()
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				log.Warn("invocation timed out")
				return nil, fmt.Errorf("%w after %v", ErrTimeout, i.cfg.timeout)
			}
			log.Warn("invocation canceled")
			return nil, fmt.Errorf("invocation canceled: %w", ctxErr)
		}
		log.Warn("invocation failed", zap.Error(err))
		return nil, fmt.Errorf("guest call failed: %w", err)
	}

	if len(res) != 1 {
		return nil, resource.Errorf(resource.ClassProtocolViolation,
			"%s returned %d values", guestCallExport, len(res))
	}
	switch api.DecodeI32(res[0]) {
	case 1:
		resp, _ := i.state.GuestResponse()
		if resp == nil {
			resp = []byte{}
		}
		log.Debug("invocation succeeded", zap.Int("response", len(resp)))
		return resp, nil
	case 0:
		msg, _ := i.state.GuestError()
		log.Debug("invocation returned guest error", zap.String("error", msg))
		return nil, &GuestError{Operation: op, Message: msg}
	default:
		return nil, resource.Errorf(resource.ClassProtocolViolation,
			"%s returned %d", guestCallExport, api.DecodeI32(res[0]))
	}
}

// Close shuts the guest down and closes every resource left in a table the
// instance owns. A shared table is left to its owner.
func (i *Instance) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	err := i.module.Close(context.Background())
	if i.ownsTable {
		i.state.Table().CloseAll()
	}
	i.exec.untrack(i)
	Logger().Debug("instance closed", zap.Uint64("instance", i.ID()))
	return err
}
