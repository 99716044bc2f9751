package bridge

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/caffeineduck/hostgate/internal/guestmem"
	"github.com/caffeineduck/hostgate/resource"
)

// Call is one outbound request from the guest.
type Call struct {
	InstanceID uint64
	Binding    string
	Namespace  string
	Operation  string
	Payload    []byte
	Table      *resource.Table
}

// HostCaller services guest host calls. The returned error's text is what
// the guest reads back through __host_error.
type HostCaller interface {
	HostCall(ctx context.Context, call *Call) ([]byte, error)
}

// HostCallerFunc adapts a function to HostCaller.
type HostCallerFunc func(ctx context.Context, call *Call) ([]byte, error)

// HostCall calls f.
func (f HostCallerFunc) HostCall(ctx context.Context, call *Call) ([]byte, error) {
	return f(ctx, call)
}

// ConsoleLogger receives text the guest writes with __console_log.
type ConsoleLogger interface {
	ConsoleLog(instanceID uint64, msg string)
}

// ConsoleLoggerFunc adapts a function to ConsoleLogger.
type ConsoleLoggerFunc func(instanceID uint64, msg string)

// ConsoleLog calls f.
func (f ConsoleLoggerFunc) ConsoleLog(instanceID uint64, msg string) { f(instanceID, msg) }

// ZapConsole writes guest console lines to the package logger.
var ZapConsole ConsoleLogger = ConsoleLoggerFunc(func(id uint64, msg string) {
	Logger().Named("guest").Info(msg, zap.Uint64("instance", id))
})

// Host implements the waPC host functions. A Host is stateless apart from its
// collaborators; per-instance data lives in State.
type Host struct {
	caller  HostCaller
	console ConsoleLogger
}

// NewHost creates a Host. A nil console falls back to ZapConsole. A nil
// caller rejects every host call as NotFound.
func NewHost(caller HostCaller, console ConsoleLogger) *Host {
	if console == nil {
		console = ZapConsole
	}
	return &Host{caller: caller, console: console}
}

// GuestRequest copies the pending invocation into guest memory: payload at
// ptr and operation name at opPtr.
func (h *Host) GuestRequest(st *State, mem guestmem.Memory, opPtr, ptr uint32) error {
	inv, ok := st.GuestRequest()
	if !ok {
		return nil
	}
	if err := guestmem.WriteRegion(mem, ptr, inv.Payload); err != nil {
		return err
	}
	return guestmem.WriteRegion(mem, opPtr, []byte(inv.Operation))
}

// ConsoleLog forwards guest text to the console collaborator.
func (h *Host) ConsoleLog(st *State, mem guestmem.Memory, ptr, length uint32) error {
	msg, err := guestmem.ReadString(mem, ptr, length)
	if err != nil {
		return err
	}
	h.console.ConsoleLog(st.ID(), msg)
	return nil
}

// HostCall reads binding, namespace, operation and payload from guest
// memory and dispatches them. It returns 1 when a response was staged and 0
// when an error was.
func (h *Host) HostCall(ctx context.Context, st *State, mem guestmem.Memory,
	bdPtr, bdLen, nsPtr, nsLen, opPtr, opLen, ptr, length uint32,
) int32 {
	st.beginHostCall()

	call, err := readCall(st, mem, bdPtr, bdLen, nsPtr, nsLen, opPtr, opLen, ptr, length)
	if err != nil {
		Logger().Warn("host call rejected",
			zap.Uint64("instance", st.ID()), zap.Error(err))
		st.SetHostError(err.Error())
		return 0
	}

	resp, err := h.dispatch(ctx, call)
	if err != nil {
		st.SetHostError(err.Error())
		return 0
	}
	if resp == nil {
		resp = []byte{}
	}
	st.SetHostResponse(resp)
	return 1
}

func readCall(st *State, mem guestmem.Memory,
	bdPtr, bdLen, nsPtr, nsLen, opPtr, opLen, ptr, length uint32,
) (*Call, error) {
	payload, err := guestmem.ReadRegion(mem, ptr, length)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	binding, err := guestmem.ReadString(mem, bdPtr, bdLen)
	if err != nil {
		return nil, fmt.Errorf("binding: %w", err)
	}
	namespace, err := guestmem.ReadString(mem, nsPtr, nsLen)
	if err != nil {
		return nil, fmt.Errorf("namespace: %w", err)
	}
	operation, err := guestmem.ReadString(mem, opPtr, opLen)
	if err != nil {
		return nil, fmt.Errorf("operation: %w", err)
	}
	return &Call{
		InstanceID: st.ID(),
		Binding:    binding,
		Namespace:  namespace,
		Operation:  operation,
		Payload:    payload,
		Table:      st.Table(),
	}, nil
}

func (h *Host) dispatch(ctx context.Context, call *Call) (resp []byte, err error) {
	if h.caller == nil {
		return nil, resource.Errorf(resource.ClassNotFound,
			"no handler for %s/%s", call.Namespace, call.Operation)
	}
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("host call handler panicked",
				zap.Uint64("instance", call.InstanceID),
				zap.String("namespace", call.Namespace),
				zap.String("operation", call.Operation),
				zap.Any("panic", r))
			resp = nil
			err = resource.Errorf(resource.ClassInternal, "handler panic: %v", r)
		}
	}()
	return h.caller.HostCall(ctx, call)
}

// HostResponseLen returns the staged response length, 0 if none.
func (h *Host) HostResponseLen(st *State) int32 {
	b, _ := st.HostResponse()
	return int32(len(b))
}

// HostResponse copies the staged response to ptr.
func (h *Host) HostResponse(st *State, mem guestmem.Memory, ptr uint32) error {
	b, ok := st.HostResponse()
	if !ok {
		return nil
	}
	return guestmem.WriteRegion(mem, ptr, b)
}

// HostErrorLen returns the staged error length in bytes, 0 if none.
func (h *Host) HostErrorLen(st *State) int32 {
	msg, _ := st.HostError()
	return int32(len(msg))
}

// HostError copies the staged error text to ptr.
func (h *Host) HostError(st *State, mem guestmem.Memory, ptr uint32) error {
	msg, ok := st.HostError()
	if !ok {
		return nil
	}
	return guestmem.WriteRegion(mem, ptr, []byte(msg))
}

// GuestResponse stages the guest's final result.
func (h *Host) GuestResponse(st *State, mem guestmem.Memory, ptr, length uint32) error {
	b, err := guestmem.ReadRegion(mem, ptr, length)
	if err != nil {
		return err
	}
	st.SetGuestResponse(b)
	return nil
}

// GuestError stages the guest's final error. Invalid UTF-8 is replaced
// rather than rejected so the error still reaches the caller.
func (h *Host) GuestError(st *State, mem guestmem.Memory, ptr, length uint32) error {
	b, err := guestmem.ReadRegion(mem, ptr, length)
	if err != nil {
		return err
	}
	st.SetGuestError(strings.ToValidUTF8(string(b), "�"))
	return nil
}
