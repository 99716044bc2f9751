package wasmtest

// Instr encodes one instruction. Calls are resolved against the module at
// build time.
type Instr func(m *Module) []byte

// LocalGet pushes parameter i.
func LocalGet(i uint32) Instr {
	return func(*Module) []byte { return append([]byte{0x20}, uleb(i)...) }
}

// Const pushes an i32 constant.
func Const(v int32) Instr {
	return func(*Module) []byte { return append([]byte{0x41}, sleb(v)...) }
}

// Call calls an imported or defined function by name.
func Call(fn string) Instr {
	return func(m *Module) []byte { return append([]byte{0x10}, uleb(m.index(fn))...) }
}

// Drop discards the top of the stack.
func Drop() Instr {
	return func(*Module) []byte { return []byte{0x1a} }
}

// Unreachable traps.
func Unreachable() Instr {
	return func(*Module) []byte { return []byte{0x00} }
}

// Spin loops forever.
func Spin() Instr {
	return func(*Module) []byte { return []byte{0x03, 0x40, 0x0c, 0x00, 0x0b} }
}

// IfElse pops a condition and runs then or els, each leaving one i32.
func IfElse(then, els []Instr) Instr {
	return func(m *Module) []byte {
		out := []byte{0x04, 0x7f}
		for _, in := range then {
			out = append(out, in(m)...)
		}
		out = append(out, 0x05)
		for _, in := range els {
			out = append(out, in(m)...)
		}
		return append(out, 0x0b)
	}
}
