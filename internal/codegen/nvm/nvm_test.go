package nvm

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/ir"
)

func sampleProgram() *ir.Program {
	// main: prints a constant, loops once, calls double(21)
	mainFn := &ir.Func{
		Name:     "main",
		NumSlots: 4,
		Params:   0,
		Code: []ir.Instr{
			&ir.ConstInt{Dst: 0, Val: 21},
			&ir.ConstStr{Dst: 1, Index: 0},
			&ir.Intr{Dst: ir.NoSlot, ID: 3, Args: []ir.Slot{1}},
			&ir.Mark{L: 0},
			&ir.Jz{Cond: 0, Target: 1},
			&ir.Call{Dst: 2, Fn: "double", Args: []ir.Slot{0}},
			&ir.ConstInt{Dst: 3, Val: 0},
			&ir.Mov{Dst: 0, Src: 3},
			&ir.Jmp{Target: 0},
			&ir.Mark{L: 1},
			&ir.Ret{Src: 2},
		},
	}
	doubleFn := &ir.Func{
		Name:     "double",
		NumSlots: 2,
		Params:   1,
		Code: []ir.Instr{
			&ir.Bin{Op: ir.Add, Dst: 1, A: 0, B: 0},
			&ir.Ret{Src: 1},
		},
	}
	return &ir.Program{
		Funcs:  []*ir.Func{mainFn, doubleFn},
		Consts: []string{"hello"},
	}
}

func TestHeader(t *testing.T) {
	image, err := Emit(sampleProgram())
	be.Err(t, err, nil)

	img, err := Decode(image)
	be.Err(t, err, nil)
	be.Equal(t, img.Version.Major(), FormatVersion.Major())
	be.Equal(t, img.Version.Minor(), FormatVersion.Minor())
	be.Equal(t, img.Entry, uint32(0))
	be.Equal(t, len(img.Consts), 1)
	be.Equal(t, img.Consts[0], "hello")

	be.Equal(t, len(img.Funcs), 2)
	be.Equal(t, img.Funcs[0].Name, "main")
	be.Equal(t, img.Funcs[0].Slots, uint16(4))
	be.Equal(t, img.Funcs[0].Params, uint16(0))
	be.Equal(t, img.Funcs[1].Name, "double")
	be.Equal(t, img.Funcs[1].Params, uint16(1))
	be.True(t, img.Funcs[1].Offset > img.Funcs[0].Offset)
}

func TestDisassemble(t *testing.T) {
	image, err := Emit(sampleProgram())
	be.Err(t, err, nil)

	text, err := Disassemble(image)
	be.Err(t, err, nil)

	be.True(t, strings.HasPrefix(text, "fn main:"))
	be.True(t, strings.Contains(text, "fn double: ; slots=2 params=1"))
	be.True(t, strings.Contains(text, "const s0, 21"))
	be.True(t, strings.Contains(text, `str s1, #0 ; "hello"`))
	be.True(t, strings.Contains(text, "call s2, double (s0)"))
	be.True(t, strings.Contains(text, "add s1, s0, s0"))
	be.True(t, strings.Contains(text, "ret s1"))
}

func TestDisassembleLabels(t *testing.T) {
	image, err := Emit(sampleProgram())
	be.Err(t, err, nil)

	text, err := Disassemble(image)
	be.Err(t, err, nil)

	// the loop head label precedes the jz that exits the loop
	be.True(t, strings.Contains(text, "L0:\n    jz s0, L1"))
	be.True(t, strings.Contains(text, "jmp L0"))
	be.True(t, strings.Contains(text, "L1:\n    ret s2"))
}

func TestVoidSlotsRender(t *testing.T) {
	prog := &ir.Program{
		Funcs: []*ir.Func{{
			Name:     "main",
			NumSlots: 1,
			Code: []ir.Instr{
				&ir.ConstInt{Dst: 0, Val: 7},
				&ir.Intr{Dst: ir.NoSlot, ID: 1, Args: []ir.Slot{0}},
				&ir.Ret{Src: ir.NoSlot},
			},
		}},
	}
	image, err := Emit(prog)
	be.Err(t, err, nil)

	text, err := Disassemble(image)
	be.Err(t, err, nil)
	be.True(t, strings.Contains(text, "intr _, Println (s0)"))
	be.True(t, strings.Contains(text, "\n    ret\n"))
}

func TestRejectsBadMagic(t *testing.T) {
	image, err := Emit(sampleProgram())
	be.Err(t, err, nil)

	image[0] = 'X'
	_, err = Decode(image)
	be.Err(t, err)
	be.True(t, diagnostics.IsKind(err, diagnostics.CodegenError))
}

func TestRejectsNewerVersion(t *testing.T) {
	image, err := Emit(sampleProgram())
	be.Err(t, err, nil)

	image[4] = byte(FormatVersion.Major() + 1)
	_, err = Decode(image)
	be.Err(t, err)
	be.True(t, strings.Contains(err.Error(), "format version"))

	// a newer minor within the same major is also too new to trust
	image[4] = byte(FormatVersion.Major())
	image[5] = byte(FormatVersion.Minor() + 1)
	_, err = Decode(image)
	be.Err(t, err)
}

func TestRejectsTruncated(t *testing.T) {
	image, err := Emit(sampleProgram())
	be.Err(t, err, nil)

	_, err = Decode(image[:len(image)-3])
	be.Err(t, err)
	be.True(t, diagnostics.IsKind(err, diagnostics.CodegenError))
}

func TestUnknownCallTarget(t *testing.T) {
	prog := &ir.Program{
		Funcs: []*ir.Func{{
			Name:     "main",
			NumSlots: 1,
			Code: []ir.Instr{
				&ir.Call{Dst: 0, Fn: "missing", Args: nil},
				&ir.Ret{Src: 0},
			},
		}},
	}
	_, err := Emit(prog)
	be.Err(t, err)
	be.True(t, diagnostics.IsKind(err, diagnostics.CodegenError))
}
