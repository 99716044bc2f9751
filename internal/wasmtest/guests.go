package wasmtest

import "strings"

// Memory layout used by the canned guests.
const (
	OpAt      = 0
	NameAt    = 1024
	PayloadAt = 4096
	ScratchAt = 32768
)

var guestCall = Func{Name: "__guest_call", Params: types(2), Results: types(1)}

func withBody(f Func, body ...Instr) Func {
	f.Body = body
	return f
}

// Forwarder exports every waPC import under its name without the leading
// underscores, so tests can call the host functions directly.
func Forwarder() []byte {
	m := New()
	for _, imp := range WAPC {
		f := Func{Name: strings.TrimPrefix(imp.Name, "__"), Params: imp.Params, Results: imp.Results}
		for i := range imp.Params {
			f.Body = append(f.Body, LocalGet(uint32(i)))
		}
		f.Body = append(f.Body, Call(imp.Name))
		m.Func(f)
	}
	return m.Build()
}

// Echo answers every invocation with its payload.
func Echo() []byte {
	return New().Func(withBody(guestCall,
		Const(OpAt), Const(PayloadAt), Call("__guest_request"),
		Const(PayloadAt), LocalGet(1), Call("__guest_response"),
		Const(1),
	)).Build()
}

// Fail answers every invocation with an error whose text is the operation
// name.
func Fail() []byte {
	return New().Func(withBody(guestCall,
		Const(OpAt), Const(PayloadAt), Call("__guest_request"),
		Const(OpAt), LocalGet(0), Call("__guest_error"),
		Const(0),
	)).Build()
}

// Proxy logs the operation name to the console and forwards the payload to
// the host function ns/op. The host response or error becomes the guest's
// result.
func Proxy(ns, op string) []byte {
	nsAt := int32(NameAt)
	opAt := nsAt + int32(len(ns))
	return New().
		Data(uint32(nsAt), []byte(ns+op)).
		Func(withBody(guestCall,
			Const(OpAt), Const(PayloadAt), Call("__guest_request"),
			Const(OpAt), LocalGet(0), Call("__console_log"),
			Const(nsAt), Const(0),
			Const(nsAt), Const(int32(len(ns))),
			Const(opAt), Const(int32(len(op))),
			Const(PayloadAt), LocalGet(1),
			Call("__host_call"),
			IfElse(
				[]Instr{
					Const(ScratchAt), Call("__host_response"),
					Const(ScratchAt), Call("__host_response_len"), Call("__guest_response"),
					Const(1),
				},
				[]Instr{
					Const(ScratchAt), Call("__host_error"),
					Const(ScratchAt), Call("__host_error_len"), Call("__guest_error"),
					Const(0),
				},
			),
		)).Build()
}

// Trap traps on every invocation.
func Trap() []byte {
	return New().Func(withBody(guestCall, Unreachable())).Build()
}

// Spinner never returns from an invocation.
func Spinner() []byte {
	return New().Func(withBody(guestCall, Spin(), Const(0))).Build()
}

// NoGuestCall is a valid module that lacks the __guest_call export.
func NoGuestCall() []byte {
	return New().Func(Func{Name: "noop"}).Build()
}
