package wasmtest

import "bytes"

const (
	opUnreachable = 0x00
	opEnd         = 0x0b
	opCall        = 0x10
	opDrop        = 0x1a
	opLocalGet    = 0x20
	opLocalSet    = 0x21
	opGlobalGet   = 0x23
	opGlobalSet   = 0x24
	opI32Load     = 0x28
	opI32Store    = 0x36
	opI64Store    = 0x37
	opI32Store8   = 0x3a
	opI32Const    = 0x41
	opI64Const    = 0x42
	opI32Ne       = 0x47
	opI32Add      = 0x6a
	opI32Sub      = 0x6b
	opI32And      = 0x71
	opI32WrapI64  = 0xa7
	opI64ExtendU  = 0xad
	opPrefixFC    = 0xfc
	fcMemoryCopy  = 10
)

func op(code byte, imm ...uint32) []byte {
	var w bytes.Buffer
	w.WriteByte(code)
	for _, v := range imm {
		writeU32(&w, v)
	}
	return w.Bytes()
}

func LocalGet(i uint32) []byte  { return op(opLocalGet, i) }
func LocalSet(i uint32) []byte  { return op(opLocalSet, i) }
func GlobalGet(i uint32) []byte { return op(opGlobalGet, i) }
func GlobalSet(i uint32) []byte { return op(opGlobalSet, i) }
func Call(fn uint32) []byte     { return op(opCall, fn) }

// Memory access with a static offset. Alignment hints are natural.
func I32Load(offset uint32) []byte   { return op(opI32Load, 2, offset) }
func I32Store(offset uint32) []byte  { return op(opI32Store, 2, offset) }
func I64Store(offset uint32) []byte  { return op(opI64Store, 3, offset) }
func I32Store8(offset uint32) []byte { return op(opI32Store8, 0, offset) }

func I32Const(v int32) []byte {
	var w bytes.Buffer
	w.WriteByte(opI32Const)
	writeS64(&w, int64(v))
	return w.Bytes()
}

func I64Const(v int64) []byte {
	var w bytes.Buffer
	w.WriteByte(opI64Const)
	writeS64(&w, v)
	return w.Bytes()
}

var (
	Unreachable = []byte{opUnreachable}
	Drop        = []byte{opDrop}
	I32Add      = []byte{opI32Add}
	I32Sub      = []byte{opI32Sub}
	I32And      = []byte{opI32And}
	I32Ne       = []byte{opI32Ne}
	I32WrapI64  = []byte{opI32WrapI64}
	I64ExtendU  = []byte{opI64ExtendU}
	// MemoryCopy pops dest, src and length
	MemoryCopy = []byte{opPrefixFC, fcMemoryCopy, 0x00, 0x00}
)
