// Package guestmem copies bytes between host buffers and guest linear memory.
//
// Pointers and lengths come from untrusted guest code. Every access is bounds
// checked against the memory's current size before any byte is touched, and
// an out-of-range region is reported as a ProtocolViolation error.
package guestmem

import (
	"unicode/utf8"

	"github.com/caffeineduck/hostgate/resource"
)

// Memory is the subset of wazero's api.Memory used here.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// ReadRegion returns a host-owned copy of guest memory [ptr, ptr+length).
func ReadRegion(mem Memory, ptr, length uint32) ([]byte, error) {
	if err := checkBounds(mem, ptr, uint64(length)); err != nil {
		return nil, err
	}
	if length == 0 {
		return []byte{}, nil
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, outOfBounds(ptr, uint64(length), mem.Size())
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// WriteRegion copies b into guest memory starting at ptr.
func WriteRegion(mem Memory, ptr uint32, b []byte) error {
	if err := checkBounds(mem, ptr, uint64(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if !mem.Write(ptr, b) {
		return outOfBounds(ptr, uint64(len(b)), mem.Size())
	}
	return nil
}

// ReadString reads a region that must hold valid UTF-8.
func ReadString(mem Memory, ptr, length uint32) (string, error) {
	b, err := ReadRegion(mem, ptr, length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", resource.TypeError("invalid utf-8 in guest string")
	}
	return string(b), nil
}

func checkBounds(mem Memory, ptr uint32, length uint64) error {
	if mem == nil {
		return resource.NewError(resource.ClassProtocolViolation, "guest exports no memory")
	}
	size := mem.Size()
	if uint64(ptr)+length > uint64(size) {
		return outOfBounds(ptr, length, size)
	}
	return nil
}

func outOfBounds(ptr uint32, length uint64, size uint32) error {
	return resource.Errorf(resource.ClassProtocolViolation,
		"memory access out of bounds: ptr=%d len=%d size=%d", ptr, length, size)
}
