package guestmem

// Bytes is a Memory backed by a plain slice. It mirrors wazero's bounds
// semantics and lets protocol code run without a guest instance.
type Bytes []byte

// Size returns the slice length.
func (b Bytes) Size() uint32 { return uint32(len(b)) }

// Read returns a view of b[offset:offset+byteCount].
func (b Bytes) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(b)) {
		return nil, false
	}
	return b[offset:end:end], true
}

// Write copies v into b at offset.
func (b Bytes) Write(offset uint32, v []byte) bool {
	end := uint64(offset) + uint64(len(v))
	if end > uint64(len(b)) {
		return false
	}
	copy(b[offset:], v)
	return true
}
