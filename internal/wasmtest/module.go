// Package wasmtest assembles small WebAssembly modules for tests.
//
// The builder covers the subset of the binary format the bridge tests need:
// function types with multiple results, function imports, one exported
// memory, mutable globals, exported functions and active data segments.
// Imports must be declared before functions so that indices stay stable.
package wasmtest

import (
	"bytes"
)

// ValType is a WebAssembly value type
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	kindFunc   = 0x00
	kindMemory = 0x02
	kindGlobal = 0x03
)

type funcType struct {
	params  []ValType
	results []ValType
}

type function struct {
	name   string
	locals []ValType
	body   []byte
	typ    uint32
}

type global struct {
	name    string
	init    int64
	typ     ValType
	mutable bool
}

type segment struct {
	data   []byte
	offset uint32
}

type importFunc struct {
	module string
	name   string
	typ    uint32
}

// Module is a module under construction
type Module struct {
	types    []funcType
	imports  []importFunc
	funcs    []function
	globals  []global
	data     []segment
	memPages uint32
}

// New returns a module with one exported memory of the given initial size
func New(memPages uint32) *Module {
	return &Module{memPages: memPages}
}

func (m *Module) typeIndex(params, results []ValType) uint32 {
	for i, t := range m.types {
		if bytes.Equal(valBytes(t.params), valBytes(params)) && bytes.Equal(valBytes(t.results), valBytes(results)) {
			return uint32(i)
		}
	}
	m.types = append(m.types, funcType{params: params, results: results})
	return uint32(len(m.types) - 1)
}

// Import declares an imported function and returns its function index
func (m *Module) Import(module, name string, params, results []ValType) uint32 {
	if len(m.funcs) > 0 {
		panic("wasmtest: imports must precede functions")
	}
	m.imports = append(m.imports, importFunc{module: module, name: name, typ: m.typeIndex(params, results)})
	return uint32(len(m.imports) - 1)
}

// Global declares a global and returns its index. A non-empty name exports it.
func (m *Module) Global(name string, typ ValType, mutable bool, init int64) uint32 {
	m.globals = append(m.globals, global{name: name, typ: typ, mutable: mutable, init: init})
	return uint32(len(m.globals) - 1)
}

// Data places bytes in memory at offset
func (m *Module) Data(offset uint32, data []byte) {
	m.data = append(m.data, segment{offset: offset, data: data})
}

// Func defines a function and returns its index. A non-empty name exports
// it. Locals follow the parameters in the local index space.
func (m *Module) Func(name string, params, results, locals []ValType, body ...[]byte) uint32 {
	m.funcs = append(m.funcs, function{
		name:   name,
		typ:    m.typeIndex(params, results),
		locals: locals,
		body:   bytes.Join(body, nil),
	})
	return uint32(len(m.imports) + len(m.funcs) - 1)
}

// Bytes encodes the module
func (m *Module) Bytes() []byte {
	var w bytes.Buffer
	w.Write([]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00})

	var sec bytes.Buffer
	section := func(id byte) {
		w.WriteByte(id)
		writeU32(&w, uint32(sec.Len()))
		w.Write(sec.Bytes())
		sec.Reset()
	}

	writeU32(&sec, uint32(len(m.types)))
	for _, t := range m.types {
		sec.WriteByte(0x60)
		writeVals(&sec, t.params)
		writeVals(&sec, t.results)
	}
	section(sectionType)

	if len(m.imports) > 0 {
		writeU32(&sec, uint32(len(m.imports)))
		for _, imp := range m.imports {
			writeName(&sec, imp.module)
			writeName(&sec, imp.name)
			sec.WriteByte(kindFunc)
			writeU32(&sec, imp.typ)
		}
		section(sectionImport)
	}

	writeU32(&sec, uint32(len(m.funcs)))
	for _, f := range m.funcs {
		writeU32(&sec, f.typ)
	}
	section(sectionFunction)

	writeU32(&sec, 1)
	sec.WriteByte(0x00)
	writeU32(&sec, m.memPages)
	section(sectionMemory)

	if len(m.globals) > 0 {
		writeU32(&sec, uint32(len(m.globals)))
		for _, g := range m.globals {
			sec.WriteByte(byte(g.typ))
			if g.mutable {
				sec.WriteByte(1)
			} else {
				sec.WriteByte(0)
			}
			if g.typ == I64 {
				sec.Write(I64Const(g.init))
			} else {
				sec.Write(I32Const(int32(g.init)))
			}
			sec.WriteByte(opEnd)
		}
		section(sectionGlobal)
	}

	var exports bytes.Buffer
	n := uint32(1)
	writeName(&exports, "memory")
	exports.WriteByte(kindMemory)
	writeU32(&exports, 0)
	for i, f := range m.funcs {
		if f.name == "" {
			continue
		}
		writeName(&exports, f.name)
		exports.WriteByte(kindFunc)
		writeU32(&exports, uint32(len(m.imports)+i))
		n++
	}
	for i, g := range m.globals {
		if g.name == "" {
			continue
		}
		writeName(&exports, g.name)
		exports.WriteByte(kindGlobal)
		writeU32(&exports, uint32(i))
		n++
	}
	writeU32(&sec, n)
	sec.Write(exports.Bytes())
	section(sectionExport)

	writeU32(&sec, uint32(len(m.funcs)))
	for _, f := range m.funcs {
		var body bytes.Buffer
		writeU32(&body, uint32(len(f.locals)))
		for _, l := range f.locals {
			writeU32(&body, 1)
			body.WriteByte(byte(l))
		}
		body.Write(f.body)
		body.WriteByte(opEnd)
		writeU32(&sec, uint32(body.Len()))
		sec.Write(body.Bytes())
	}
	section(sectionCode)

	if len(m.data) > 0 {
		writeU32(&sec, uint32(len(m.data)))
		for _, d := range m.data {
			sec.WriteByte(0x00)
			sec.Write(I32Const(int32(d.offset)))
			sec.WriteByte(opEnd)
			writeU32(&sec, uint32(len(d.data)))
			sec.Write(d.data)
		}
		section(sectionData)
	}

	return w.Bytes()
}

func valBytes(vs []ValType) []byte {
	out := make([]byte, len(vs))
	for i, v := range vs {
		out[i] = byte(v)
	}
	return out
}

func writeVals(w *bytes.Buffer, vs []ValType) {
	writeU32(w, uint32(len(vs)))
	w.Write(valBytes(vs))
}

func writeName(w *bytes.Buffer, s string) {
	writeU32(w, uint32(len(s)))
	w.WriteString(s)
}

func writeU32(w *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.WriteByte(b)
		if v == 0 {
			return
		}
	}
}

func writeS64(w *bytes.Buffer, v int64) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			w.WriteByte(b)
			return
		}
		w.WriteByte(b | 0x80)
	}
}
