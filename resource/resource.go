package resource

import (
	"context"
	"reflect"
)

// ID references a resource in a Table. IDs carry no OS-level meaning.
type ID uint32

// Resource is a host-owned capability that can be stored in a Table.
//
// Close is the only required method. It is called after the resource has been
// removed from the table through Table.Close and must let the resource release
// internal state (for example cancel pending work). Operations that are
// already running still hold their own reference and must tolerate it.
//
// The remaining capability operations are optional interfaces (Namer, Reader,
// ReturnReader, Writer, Shutdowner, FDHolder). Callers go through the package
// level helpers, which report NotSupported for operations a kind lacks.
type Resource interface {
	Close()
}

// Base can be embedded to get a no-op Close.
type Base struct{}

// Close does nothing.
func (Base) Close() {}

// Namer overrides the diagnostic name of a resource.
type Namer interface {
	Name() string
}

// Reader is implemented by readable streams.
type Reader interface {
	Read(ctx context.Context, buf []byte) (int, error)
}

// ReturnReader is a read that hands the buffer back so callers can pool it.
type ReturnReader interface {
	ReadReturn(ctx context.Context, buf []byte) (int, []byte, error)
}

// Writer is implemented by writable streams.
type Writer interface {
	Write(ctx context.Context, buf []byte) (int, error)
}

// Shutdowner is implemented by resources that support a graceful async
// shutdown, such as half-closing a connection.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// FDHolder is implemented by resources backed by an OS file descriptor.
type FDHolder interface {
	BackingFD() (uintptr, bool)
}

// Name returns r's diagnostic name: Namer.Name when implemented and non-empty,
// otherwise the concrete Go type name.
func Name(r Resource) string {
	if n, ok := r.(Namer); ok {
		if name := n.Name(); name != "" {
			return name
		}
	}
	return reflect.TypeOf(r).String()
}

// Read reads into buf. Kinds may implement either Reader or ReturnReader.
func Read(ctx context.Context, r Resource, buf []byte) (int, error) {
	switch rr := r.(type) {
	case Reader:
		return rr.Read(ctx, buf)
	case ReturnReader:
		n, _, err := rr.ReadReturn(ctx, buf)
		return n, err
	}
	return 0, NotSupported()
}

// ReadReturn reads into buf and returns the buffer for reuse.
func ReadReturn(ctx context.Context, r Resource, buf []byte) (int, []byte, error) {
	switch rr := r.(type) {
	case ReturnReader:
		return rr.ReadReturn(ctx, buf)
	case Reader:
		n, err := rr.Read(ctx, buf)
		return n, buf, err
	}
	return 0, buf, NotSupported()
}

// Write writes buf to r.
func Write(ctx context.Context, r Resource, buf []byte) (int, error) {
	if w, ok := r.(Writer); ok {
		return w.Write(ctx, buf)
	}
	return 0, NotSupported()
}

// Shutdown gracefully shuts r down.
func Shutdown(ctx context.Context, r Resource) error {
	if s, ok := r.(Shutdowner); ok {
		return s.Shutdown(ctx)
	}
	return NotSupported()
}

// BackingFD returns the descriptor behind r, if any.
func BackingFD(r Resource) (uintptr, bool) {
	if f, ok := r.(FDHolder); ok {
		return f.BackingFD()
	}
	return 0, false
}
