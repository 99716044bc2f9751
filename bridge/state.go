package bridge

import (
	"context"
	"sync"

	"github.com/caffeineduck/hostgate/resource"
)

// Phase is the position of an instance in the host-call state machine.
type Phase int

const (
	// PhaseIdle means no host call has been made yet.
	PhaseIdle Phase = iota
	// PhaseRequestStaged means a host call is being dispatched.
	PhaseRequestStaged
	// PhaseCompletedOK means the last host call staged a response.
	PhaseCompletedOK
	// PhaseCompletedErr means the last host call staged an error.
	PhaseCompletedErr
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRequestStaged:
		return "request-staged"
	case PhaseCompletedOK:
		return "completed-ok"
	case PhaseCompletedErr:
		return "completed-err"
	default:
		return "unknown"
	}
}

// Invocation is an inbound call delivered to the guest.
type Invocation struct {
	Operation string
	Payload   []byte
}

// State is the per-instance session state shared by the bridge's host
// functions. It is created once per guest instance and lives as long as the
// instance does.
//
// The host response and host error slots are mutually exclusive: staging one
// clears the other.
type State struct {
	id    uint64
	table *resource.Table

	mu           sync.Mutex
	phase        Phase
	guestRequest *Invocation

	hostResponse    []byte
	hasHostResponse bool
	hostError       string
	hasHostError    bool

	guestResponse    []byte
	hasGuestResponse bool
	guestError       string
	hasGuestError    bool
}

// NewState creates the state for instance id. table may be shared between
// instances.
func NewState(id uint64, table *resource.Table) *State {
	if table == nil {
		table = resource.NewTable()
	}
	return &State{id: id, table: table}
}

// ID returns the instance identity.
func (s *State) ID() uint64 { return s.id }

// Table returns the resource table visible to host-call handlers.
func (s *State) Table() *resource.Table { return s.table }

// Phase returns the current host-call phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SetGuestRequest stages an inbound invocation and clears any result the
// guest produced for the previous one.
func (s *State) SetGuestRequest(inv Invocation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestRequest = &inv
	s.guestResponse, s.hasGuestResponse = nil, false
	s.guestError, s.hasGuestError = "", false
}

// ClearGuestRequest drops the pending inbound invocation.
func (s *State) ClearGuestRequest() {
	s.mu.Lock()
	s.guestRequest = nil
	s.mu.Unlock()
}

// GuestRequest returns the pending inbound invocation, if any.
func (s *State) GuestRequest() (Invocation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.guestRequest == nil {
		return Invocation{}, false
	}
	return *s.guestRequest, true
}

// beginHostCall clears both result slots for a new call.
func (s *State) beginHostCall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostResponse, s.hasHostResponse = nil, false
	s.hostError, s.hasHostError = "", false
	s.phase = PhaseRequestStaged
}

// SetHostResponse stages a successful host-call result.
func (s *State) SetHostResponse(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostResponse, s.hasHostResponse = b, true
	s.hostError, s.hasHostError = "", false
	s.phase = PhaseCompletedOK
}

// SetHostError stages a failed host-call message.
func (s *State) SetHostError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hostError, s.hasHostError = msg, true
	s.hostResponse, s.hasHostResponse = nil, false
	s.phase = PhaseCompletedErr
}

// HostResponse returns the staged host-call result.
func (s *State) HostResponse() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostResponse, s.hasHostResponse
}

// HostError returns the staged host-call error message.
func (s *State) HostError() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hostError, s.hasHostError
}

// SetGuestResponse stages the guest's result for the inbound invocation.
func (s *State) SetGuestResponse(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestResponse, s.hasGuestResponse = b, true
}

// SetGuestError stages the guest's error for the inbound invocation.
func (s *State) SetGuestError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guestError, s.hasGuestError = msg, true
}

// GuestResponse returns what the guest staged with __guest_response.
func (s *State) GuestResponse() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestResponse, s.hasGuestResponse
}

// GuestError returns what the guest staged with __guest_error.
func (s *State) GuestError() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guestError, s.hasGuestError
}

type stateKey struct{}

// WithState attaches s to ctx. The bridge's host functions look the state up
// from the context the guest was called with.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFrom returns the state attached by WithState, or nil.
func StateFrom(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}
