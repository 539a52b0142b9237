// Package wasmbin assembles small WebAssembly binaries in memory.
//
// It covers the subset hermes needs to exercise hosts without binary
// fixtures: function types, function imports, one memory, exports, data
// segments, a start function and raw instruction bodies.
package wasmbin

import (
	"encoding/binary"
	"math"
)

// ValType is a core WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
	F32 ValType = 0x7D
	F64 ValType = 0x7C
)

const (
	magic   uint32 = 0x6D736100 // \0asm
	version uint32 = 1

	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secMemory   byte = 5
	secExport   byte = 7
	secStart    byte = 8
	secCode     byte = 10
	secData     byte = 11

	kindFunc   byte = 0x00
	kindMemory byte = 0x02

	funcTypeByte byte = 0x60
)

type funcType struct {
	params  []ValType
	results []ValType
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

type function struct {
	typ    uint32
	locals []ValType
	body   []byte
}

type export struct {
	name string
	kind byte
	idx  uint32
}

type segment struct {
	offset uint32
	data   []byte
}

// Module is a module under construction. Imports must be added before any
// function so that function indices stay stable.
type Module struct {
	start   *uint32
	memory  *[2]uint32
	types   []funcType
	imports []importFunc
	funcs   []function
	exports []export
	data    []segment
	hasMax  bool
}

// New returns an empty module.
func New() *Module {
	return &Module{}
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if equal(t.params, params) && equal(t.results, results) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import declares an imported function and returns its function index.
func (m *Module) Import(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmbin: imports must precede functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Func defines a function and returns its index. body is the instruction
// sequence without the trailing end opcode.
func (m *Module) Func(params, results []ValType, locals []ValType, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{
		typ:    m.typeIndex(params, results),
		locals: locals,
		body:   Code(body...),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Memory declares memory 0 with a minimum size in pages and an optional max.
func (m *Module) Memory(minPages uint32, maxPages ...uint32) *Module {
	lim := [2]uint32{minPages}
	if len(maxPages) > 0 {
		lim[1] = maxPages[0]
		m.hasMax = true
	}
	m.memory = &lim
	return m
}

// Export exports the function at idx under name.
func (m *Module) Export(name string, idx uint32) *Module {
	m.exports = append(m.exports, export{name: name, kind: kindFunc, idx: idx})
	return m
}

// ExportMemory exports memory 0 under name.
func (m *Module) ExportMemory(name string) *Module {
	m.exports = append(m.exports, export{name: name, kind: kindMemory})
	return m
}

// Data places bytes at offset in memory 0 during instantiation.
func (m *Module) Data(offset uint32, data []byte) *Module {
	m.data = append(m.data, segment{offset: offset, data: data})
	return m
}

// Start marks the function at idx as the start function.
func (m *Module) Start(idx uint32) *Module {
	m.start = &idx
	return m
}

// Bytes encodes the module.
func (m *Module) Bytes() []byte {
	out := make([]byte, 8, 256)
	binary.LittleEndian.PutUint32(out[0:], magic)
	binary.LittleEndian.PutUint32(out[4:], version)

	if len(m.types) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.types)))
		for _, t := range m.types {
			sec = append(sec, funcTypeByte)
			sec = appendValTypes(sec, t.params)
			sec = appendValTypes(sec, t.results)
		}
		out = appendSection(out, secType, sec)
	}

	if len(m.imports) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.imports)))
		for _, imp := range m.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, kindFunc)
			sec = appendU32(sec, imp.typ)
		}
		out = appendSection(out, secImport, sec)
	}

	if len(m.funcs) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			sec = appendU32(sec, f.typ)
		}
		out = appendSection(out, secFunction, sec)
	}

	if m.memory != nil {
		sec := appendU32(nil, 1)
		if m.hasMax {
			sec = append(sec, 0x01)
			sec = appendU32(sec, m.memory[0])
			sec = appendU32(sec, m.memory[1])
		} else {
			sec = append(sec, 0x00)
			sec = appendU32(sec, m.memory[0])
		}
		out = appendSection(out, secMemory, sec)
	}

	if len(m.exports) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.exports)))
		for _, e := range m.exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = appendU32(sec, e.idx)
		}
		out = appendSection(out, secExport, sec)
	}

	if m.start != nil {
		out = appendSection(out, secStart, appendU32(nil, *m.start))
	}

	if len(m.funcs) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.funcs)))
		for _, f := range m.funcs {
			var body []byte
			body = appendU32(body, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = appendU32(body, 1)
				body = append(body, byte(l))
			}
			body = append(body, f.body...)
			body = append(body, opEnd)
			sec = appendU32(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		out = appendSection(out, secCode, sec)
	}

	if len(m.data) > 0 {
		var sec []byte
		sec = appendU32(sec, uint32(len(m.data)))
		for _, d := range m.data {
			sec = append(sec, 0x00) // active, memory 0
			sec = append(sec, I32Const(int32(d.offset))...)
			sec = append(sec, opEnd)
			sec = appendU32(sec, uint32(len(d.data)))
			sec = append(sec, d.data...)
		}
		out = appendSection(out, secData, sec)
	}

	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = appendU32(out, uint32(len(content)))
	return append(out, content...)
}

func appendName(out []byte, s string) []byte {
	out = appendU32(out, uint32(len(s)))
	return append(out, s...)
}

func appendValTypes(out []byte, ts []ValType) []byte {
	out = appendU32(out, uint32(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func appendU32(out []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func appendS64(out []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

func equal(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Types is shorthand for a value type list.
func Types(ts ...ValType) []ValType {
	return ts
}

const (
	opUnreachable byte = 0x00
	opLoop        byte = 0x03
	opEnd         byte = 0x0B
	opBr          byte = 0x0C
	opCall        byte = 0x10
	opDrop        byte = 0x1A
	opLocalGet    byte = 0x20
	opMemorySize  byte = 0x3F
	opMemoryGrow  byte = 0x40
	opI32Const    byte = 0x41
	opI64Const    byte = 0x42
	opF64Const    byte = 0x44
	opI32Add      byte = 0x6A
	opI32Mul      byte = 0x6C
	opF64Add      byte = 0xA0
	opBlockVoid   byte = 0x40
)

// Code concatenates instruction fragments.
func Code(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func I32Const(v int32) []byte { return appendS64([]byte{opI32Const}, int64(v)) }
func I64Const(v int64) []byte { return appendS64([]byte{opI64Const}, v) }

func F64Const(v float64) []byte {
	out := []byte{opF64Const, 0, 0, 0, 0, 0, 0, 0, 0}
	binary.LittleEndian.PutUint64(out[1:], math.Float64bits(v))
	return out
}

func LocalGet(idx uint32) []byte { return appendU32([]byte{opLocalGet}, idx) }
func Call(idx uint32) []byte     { return appendU32([]byte{opCall}, idx) }

func Unreachable() []byte { return []byte{opUnreachable} }
func Drop() []byte        { return []byte{opDrop} }
func I32Add() []byte      { return []byte{opI32Add} }
func I32Mul() []byte      { return []byte{opI32Mul} }
func F64Add() []byte      { return []byte{opF64Add} }
func MemorySize() []byte  { return []byte{opMemorySize, 0x00} }
func MemoryGrow() []byte  { return []byte{opMemoryGrow, 0x00} }

// Spin is an infinite loop.
func Spin() []byte {
	return []byte{opLoop, opBlockVoid, opBr, 0x00, opEnd}
}
