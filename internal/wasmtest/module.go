// Package wasmtest assembles small WebAssembly modules for tests.
//
// Modules import the waPC host functions, export one memory, and define
// functions from a handful of instructions. That is enough to drive the
// bridge end to end without an external compiler.
package wasmtest

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

const i32 = api.ValueTypeI32

// WAPC lists the waPC host imports with their signatures.
var WAPC = []Func{
	{Name: "__guest_request", Params: types(2)},
	{Name: "__console_log", Params: types(2)},
	{Name: "__host_call", Params: types(8), Results: types(1)},
	{Name: "__host_response_len", Results: types(1)},
	{Name: "__host_response", Params: types(1)},
	{Name: "__host_error_len", Results: types(1)},
	{Name: "__host_error", Params: types(1)},
	{Name: "__guest_response", Params: types(2)},
	{Name: "__guest_error", Params: types(2)},
}

func types(n int) []api.ValueType {
	out := make([]api.ValueType, n)
	for i := range out {
		out[i] = i32
	}
	return out
}

// Func is an imported or defined function. Defined functions are exported
// under Name.
type Func struct {
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Body    []Instr
}

type segment struct {
	offset uint32
	data   []byte
}

// Module is a module under construction.
type Module struct {
	importModule string
	imports      []Func
	funcs        []Func
	data         []segment
	pages        uint32
}

// New creates a module with one page of exported memory that imports every
// waPC host function from module "wapc".
func New() *Module {
	return &Module{importModule: "wapc", imports: WAPC, pages: 1}
}

// Pages sets the initial memory size in 64KiB pages.
func (m *Module) Pages(n uint32) *Module {
	m.pages = n
	return m
}

// Data places b in memory at offset when the module is instantiated.
func (m *Module) Data(offset uint32, b []byte) *Module {
	m.data = append(m.data, segment{offset: offset, data: b})
	return m
}

// Func defines and exports a function.
func (m *Module) Func(f Func) *Module {
	m.funcs = append(m.funcs, f)
	return m
}

func (m *Module) index(fn string) uint32 {
	for i, f := range m.imports {
		if f.Name == fn {
			return uint32(i)
		}
	}
	for i, f := range m.funcs {
		if f.Name == fn {
			return uint32(len(m.imports) + i)
		}
	}
	panic(fmt.Sprintf("wasmtest: unknown function %q", fn))
}

// Build encodes the module.
func (m *Module) Build() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	all := append(append([]Func{}, m.imports...), m.funcs...)
	var typeSec []byte
	for _, f := range all {
		typeSec = append(typeSec, 0x60)
		typeSec = append(typeSec, valueTypes(f.Params)...)
		typeSec = append(typeSec, valueTypes(f.Results)...)
	}
	out = append(out, section(0x01, vec(len(all), typeSec))...)

	var importSec []byte
	for i, f := range m.imports {
		importSec = append(importSec, name(m.importModule)...)
		importSec = append(importSec, name(f.Name)...)
		importSec = append(importSec, 0x00)
		importSec = append(importSec, uleb(uint32(i))...)
	}
	out = append(out, section(0x02, vec(len(m.imports), importSec))...)

	var funcSec []byte
	for i := range m.funcs {
		funcSec = append(funcSec, uleb(uint32(len(m.imports)+i))...)
	}
	out = append(out, section(0x03, vec(len(m.funcs), funcSec))...)

	memSec := append([]byte{0x00}, uleb(m.pages)...)
	out = append(out, section(0x05, vec(1, memSec))...)

	exportSec := append(name("memory"), 0x02, 0x00)
	for _, f := range m.funcs {
		exportSec = append(exportSec, name(f.Name)...)
		exportSec = append(exportSec, 0x00)
		exportSec = append(exportSec, uleb(m.index(f.Name))...)
	}
	out = append(out, section(0x07, vec(len(m.funcs)+1, exportSec))...)

	var codeSec []byte
	for _, f := range m.funcs {
		body := []byte{0x00} // no locals
		for _, in := range f.Body {
			body = append(body, in(m)...)
		}
		body = append(body, 0x0b)
		codeSec = append(codeSec, uleb(uint32(len(body)))...)
		codeSec = append(codeSec, body...)
	}
	out = append(out, section(0x0a, vec(len(m.funcs), codeSec))...)

	if len(m.data) > 0 {
		var dataSec []byte
		for _, s := range m.data {
			dataSec = append(dataSec, 0x00, 0x41)
			dataSec = append(dataSec, sleb(int32(s.offset))...)
			dataSec = append(dataSec, 0x0b)
			dataSec = append(dataSec, uleb(uint32(len(s.data)))...)
			dataSec = append(dataSec, s.data...)
		}
		out = append(out, section(0x0b, vec(len(m.data), dataSec))...)
	}
	return out
}

func valueTypes(ts []api.ValueType) []byte {
	b := make([]byte, len(ts))
	for i, t := range ts {
		b[i] = byte(t)
	}
	return vec(len(ts), b)
}
