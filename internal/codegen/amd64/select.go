package amd64

import (
	"fmt"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/position"
)

// Frame fixes how virtual slots map to the stack. Slot i of a
// function with n slots lives at [rbp - 8*(n-i)], so addresses grow
// with the slot number, which the IR's Addr contract requires for
// array slot runs. The frame is established by push rbp; mov rbp,
// rsp; sub rsp, size, with size rounded up to 16 bytes.
type Frame struct {
	NumSlots int
}

// SlotDisp returns the rbp-relative displacement of a slot.
func (f *Frame) SlotDisp(s ir.Slot) int32 {
	return -8 * int32(f.NumSlots-int(s))
}

// Size returns the 16-byte aligned frame size in bytes.
func (f *Frame) Size() int32 {
	return int32((f.NumSlots*8 + 15) &^ 15)
}

// LoadSlot reads a slot into a register.
func (f *Frame) LoadSlot(a *Assembler, r Reg, s ir.Slot) {
	a.MovRegMem(r, RBP, f.SlotDisp(s))
}

// StoreSlot writes a register into a slot.
func (f *Frame) StoreSlot(a *Assembler, s ir.Slot, r Reg) {
	a.MovMemReg(RBP, f.SlotDisp(s), r)
}

// Platform supplies the pieces that differ between the two native
// targets: the stdio intrinsic code sequences, the once-per-image
// runtime helper routines they call, and the final exit sequence.
type Platform interface {
	// Intrinsic emits the code for one intrinsic call site. Argument
	// values and the destination live in fr's slots.
	Intrinsic(a *Assembler, fr *Frame, in *ir.Intr) error
	// Helpers emits the shared runtime routines once, after all
	// functions. Implementations label them and call them from
	// Intrinsic sequences.
	Helpers(a *Assembler) error
	// Exit emits process termination with the status in rax.
	Exit(a *Assembler)
}

// FuncLabel names a compiled function in the assembler's label
// namespace.
func FuncLabel(name string) string { return "fn." + name }

func localLabel(fn string, l ir.Label) string {
	return fmt.Sprintf("%s.%s", fn, l)
}

// EmitProgram emits the whole program: an entry stub that calls main
// and exits with its return value, then every function, then the
// platform's helper routines. The returned bytes still carry
// unresolved container fixups.
func EmitProgram(a *Assembler, prog *ir.Program, p Platform) ([]byte, error) {
	// entry stub: the container's entry point lands here
	a.Label("entry")
	a.Call(FuncLabel("main"))
	p.Exit(a)

	for _, fn := range prog.Funcs {
		if err := emitFunc(a, fn, p); err != nil {
			return nil, err
		}
	}
	if err := p.Helpers(a); err != nil {
		return nil, err
	}
	return a.Finalize()
}

// Calling convention, private to this compiler: the caller pushes
// argument values right to left, so argument i sits at [rbp+16+8i]
// in the callee, and pops them after the call returns. The return
// value travels in rax. rbx is preserved by not being used at all;
// every IR value lives in the frame between instructions.
func emitFunc(a *Assembler, fn *ir.Func, p Platform) error {
	fr := &Frame{NumSlots: fn.NumSlots}

	a.Label(FuncLabel(fn.Name))
	a.Push(RBP)
	a.MovRegReg(RBP, RSP)
	if fr.Size() > 0 {
		a.SubRegImm(RSP, fr.Size())
	}
	// spill incoming arguments into their parameter slots
	for i := 0; i < fn.Params; i++ {
		a.MovRegMem(RAX, RBP, int32(16+8*i))
		fr.StoreSlot(a, ir.Slot(i), RAX)
	}

	for _, instr := range fn.Code {
		if err := emitInstr(a, fr, fn, instr, p); err != nil {
			return err
		}
	}
	return nil
}

func emitInstr(a *Assembler, fr *Frame, fn *ir.Func, instr ir.Instr, p Platform) error {
	switch in := instr.(type) {
	case *ir.ConstInt:
		a.MovRegImm(RAX, in.Val)
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.ConstStr:
		a.MovRegConstAddr(RAX, in.Index)
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.Mov:
		fr.LoadSlot(a, RAX, in.Src)
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.Bin:
		emitBin(a, fr, in)
	case *ir.Neg:
		fr.LoadSlot(a, RAX, in.Src)
		a.NegReg(RAX)
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.Not:
		fr.LoadSlot(a, RAX, in.Src)
		a.CmpRegImm(RAX, 0)
		a.SetCond(CondE)
		a.MovzxRaxAl()
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.Addr:
		a.Lea(RAX, RBP, fr.SlotDisp(in.Base))
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.Load:
		fr.LoadSlot(a, RAX, in.Ptr)
		a.MovRegMem(RAX, RAX, 0)
		fr.StoreSlot(a, in.Dst, RAX)
	case *ir.Store:
		fr.LoadSlot(a, RAX, in.Ptr)
		fr.LoadSlot(a, RCX, in.Src)
		a.MovMemReg(RAX, 0, RCX)
	case *ir.Jmp:
		a.Jmp(localLabel(fn.Name, in.Target))
	case *ir.Jz:
		fr.LoadSlot(a, RAX, in.Cond)
		a.TestRegReg(RAX, RAX)
		a.Jcc(CondE, localLabel(fn.Name, in.Target))
	case *ir.Mark:
		a.Label(localLabel(fn.Name, in.L))
	case *ir.Call:
		for i := len(in.Args) - 1; i >= 0; i-- {
			fr.LoadSlot(a, RAX, in.Args[i])
			a.Push(RAX)
		}
		a.Call(FuncLabel(in.Fn))
		if n := len(in.Args); n > 0 {
			a.AddRegImm(RSP, int32(8*n))
		}
		if in.Dst != ir.NoSlot {
			fr.StoreSlot(a, in.Dst, RAX)
		}
	case *ir.Intr:
		return p.Intrinsic(a, fr, in)
	case *ir.Ret:
		if in.Src != ir.NoSlot {
			fr.LoadSlot(a, RAX, in.Src)
		}
		a.Leave()
		a.Ret()
	default:
		return diagnostics.New(diagnostics.CodegenError, position.Position{}, "unknown instruction %T", instr)
	}
	return nil
}

func emitBin(a *Assembler, fr *Frame, in *ir.Bin) {
	fr.LoadSlot(a, RAX, in.A)
	fr.LoadSlot(a, RCX, in.B)

	switch in.Op {
	case ir.Add:
		a.AddRegReg(RAX, RCX)
	case ir.Sub:
		a.SubRegReg(RAX, RCX)
	case ir.Mul:
		a.IMulRegReg(RAX, RCX)
	case ir.Div:
		a.Cqo()
		a.IDivReg(RCX)
	case ir.Mod:
		a.Cqo()
		a.IDivReg(RCX)
		a.MovRegReg(RAX, RDX)
	case ir.Eq, ir.Ne, ir.Lt, ir.Le, ir.Gt, ir.Ge:
		a.CmpRegReg(RAX, RCX)
		a.SetCond(cmpCond(in.Op))
		a.MovzxRaxAl()
	case ir.And, ir.Or:
		// normalize both operands to 0/1 before combining
		a.CmpRegImm(RAX, 0)
		a.SetCond(CondNE)
		a.MovzxRaxAl()
		a.CmpRegImm(RCX, 0)
		// setne cl
		a.emit(0x0F, 0x95, 0xC1)
		// movzx rcx, cl
		a.emit(0x48, 0x0F, 0xB6, 0xC9)
		if in.Op == ir.And {
			a.AndRegReg(RAX, RCX)
		} else {
			a.OrRegReg(RAX, RCX)
		}
	}
	fr.StoreSlot(a, in.Dst, RAX)
}

func cmpCond(op ir.Op) Cond {
	switch op {
	case ir.Eq:
		return CondE
	case ir.Ne:
		return CondNE
	case ir.Lt:
		return CondL
	case ir.Le:
		return CondLE
	case ir.Gt:
		return CondG
	}
	return CondGE
}
