// Package bridge implements the waPC host side of the guest/host invocation
// protocol over guest linear memory.
//
// # Overview
//
// The host registers a "wapc" import module with nine functions. A guest
// issues an outbound call with __host_call, passing pointers to its binding,
// namespace, operation and payload. The host copies those regions out,
// dispatches them to a [HostCaller] and stages the outcome in a per-instance
// [State]. The guest then asks for the staged length and copies the bytes
// into a buffer it allocated.
//
//	st := bridge.NewState(1, resource.NewTable())
//	host := bridge.NewHost(registry, nil)
//	if _, err := host.Instantiate(ctx, rt); err != nil {
//	    return err
//	}
//	ctx = bridge.WithState(ctx, st)
//	// call guest exports with ctx
//
// # Error Slots
//
// Each __host_call clears the previous response and error before dispatch.
// Exactly one of them is populated afterwards. Malformed guest pointers are
// reported as a ProtocolViolation error in the error slot; they never reach
// host memory.
package bridge
