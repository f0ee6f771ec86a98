package nvm

import (
	"bytes"
	"encoding/binary"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/position"
)

type encoder struct {
	code    []byte
	funcOff map[string]uint32
	// call sites referencing functions not yet emitted
	callRefs  []ref
	labelOff  map[ir.Label]uint32
	labelRefs []labelRef
}

type ref struct {
	offset int
	fn     string
}

type labelRef struct {
	offset int
	label  ir.Label
}

// Emit encodes the program into NVM image bytes.
func Emit(prog *ir.Program) ([]byte, error) {
	e := &encoder{funcOff: make(map[string]uint32)}

	for _, fn := range prog.Funcs {
		if err := e.encodeFunc(fn); err != nil {
			return nil, err
		}
	}
	for _, r := range e.callRefs {
		off, ok := e.funcOff[r.fn]
		if !ok {
			return nil, codegenErr("call to unknown function %q", r.fn)
		}
		binary.LittleEndian.PutUint32(e.code[r.offset:], off)
	}

	var out bytes.Buffer
	out.WriteString(Magic)
	out.WriteByte(byte(FormatVersion.Major()))
	out.WriteByte(byte(FormatVersion.Minor()))
	writeU16(&out, 0) // reserved
	writeU32(&out, e.funcOff[prog.Funcs[0].Name])

	writeU32(&out, uint32(len(prog.Consts)))
	for _, c := range prog.Consts {
		if len(c) > 1<<30 {
			return nil, codegenErr("string constant too large for image")
		}
		writeU32(&out, uint32(len(c)))
		out.WriteString(c)
	}

	writeU32(&out, uint32(len(prog.Funcs)))
	for _, fn := range prog.Funcs {
		if fn.NumSlots > NoSlotWord-1 {
			return nil, codegenErr("function %s needs %d slots, more than the format allows", fn.Name, fn.NumSlots)
		}
		writeU32(&out, e.funcOff[fn.Name])
		writeU16(&out, uint16(fn.NumSlots))
		writeU16(&out, uint16(fn.Params))
		writeU16(&out, uint16(len(fn.Name)))
		out.WriteString(fn.Name)
	}

	writeU32(&out, uint32(len(e.code)))
	out.Write(e.code)
	return out.Bytes(), nil
}

func (e *encoder) encodeFunc(fn *ir.Func) error {
	e.funcOff[fn.Name] = uint32(len(e.code))
	e.labelOff = make(map[ir.Label]uint32)
	e.labelRefs = e.labelRefs[:0]

	for _, instr := range fn.Code {
		if err := e.encodeInstr(instr); err != nil {
			return err
		}
	}
	for _, r := range e.labelRefs {
		off, ok := e.labelOff[r.label]
		if !ok {
			return codegenErr("unresolved label %s in %s", r.label, fn.Name)
		}
		binary.LittleEndian.PutUint32(e.code[r.offset:], off)
	}
	return nil
}

func (e *encoder) encodeInstr(instr ir.Instr) error {
	switch in := instr.(type) {
	case *ir.ConstInt:
		e.op(OpConst)
		e.slot(in.Dst)
		e.i64(in.Val)
	case *ir.ConstStr:
		e.op(OpStr)
		e.slot(in.Dst)
		e.u32(uint32(in.Index))
	case *ir.Mov:
		e.op(OpMov)
		e.slot(in.Dst)
		e.slot(in.Src)
	case *ir.Bin:
		e.op(OpBin)
		e.code = append(e.code, byte(in.Op))
		e.slot(in.Dst)
		e.slot(in.A)
		e.slot(in.B)
	case *ir.Neg:
		e.op(OpNeg)
		e.slot(in.Dst)
		e.slot(in.Src)
	case *ir.Not:
		e.op(OpNot)
		e.slot(in.Dst)
		e.slot(in.Src)
	case *ir.Addr:
		e.op(OpAddr)
		e.slot(in.Dst)
		e.slot(in.Base)
	case *ir.Load:
		e.op(OpLoad)
		e.slot(in.Dst)
		e.slot(in.Ptr)
	case *ir.Store:
		e.op(OpStore)
		e.slot(in.Ptr)
		e.slot(in.Src)
	case *ir.Jmp:
		e.op(OpJmp)
		e.labelRefs = append(e.labelRefs, labelRef{offset: len(e.code), label: in.Target})
		e.u32(0)
	case *ir.Jz:
		e.op(OpJz)
		e.slot(in.Cond)
		e.labelRefs = append(e.labelRefs, labelRef{offset: len(e.code), label: in.Target})
		e.u32(0)
	case *ir.Mark:
		e.labelOff[in.L] = uint32(len(e.code))
	case *ir.Call:
		if len(in.Args) > 255 {
			return codegenErr("call to %s has too many arguments", in.Fn)
		}
		e.op(OpCall)
		e.slot(in.Dst)
		e.callRefs = append(e.callRefs, ref{offset: len(e.code), fn: in.Fn})
		e.u32(0)
		e.code = append(e.code, byte(len(in.Args)))
		for _, arg := range in.Args {
			e.slot(arg)
		}
	case *ir.Intr:
		if len(in.Args) > 255 {
			return codegenErr("intrinsic call has too many arguments")
		}
		e.op(OpIntr)
		e.slot(in.Dst)
		e.code = append(e.code, byte(in.ID), byte(len(in.Args)))
		for _, arg := range in.Args {
			e.slot(arg)
		}
	case *ir.Ret:
		e.op(OpRet)
		e.slot(in.Src)
	default:
		return codegenErr("unknown instruction %T", instr)
	}
	return nil
}

func (e *encoder) op(b byte) { e.code = append(e.code, b) }

func (e *encoder) slot(s ir.Slot) {
	if s == ir.NoSlot {
		e.u16(NoSlotWord)
		return
	}
	e.u16(uint16(s))
}

func (e *encoder) u16(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	e.code = append(e.code, b[:]...)
}

func (e *encoder) u32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.code = append(e.code, b[:]...)
}

func (e *encoder) i64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	e.code = append(e.code, b[:]...)
}

func writeU16(out *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	out.Write(b[:])
}

func writeU32(out *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	out.Write(b[:])
}

func codegenErr(format string, args ...interface{}) error {
	return diagnostics.New(diagnostics.CodegenError, position.Position{}, format, args...)
}
