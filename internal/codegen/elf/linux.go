// Package elf emits statically linked Linux ELF64 executables. The
// image is a single rwx PT_LOAD segment holding an entry stub, the
// compiled functions, a small syscall-based runtime, and the string
// constants. stdio intrinsics lower to read/write/exit syscalls; no
// external code is linked.
package elf

import (
	"github.com/perin-lang/perin/internal/codegen/amd64"
	"github.com/perin-lang/perin/internal/intrinsics"
	"github.com/perin-lang/perin/internal/ir"
)

// Linux syscall numbers.
const (
	sysRead  = 0
	sysWrite = 1
	sysExit  = 60
)

// Scratch buffer layout, one per image, in the data area:
// a length-prefixed line buffer for ReadLine, a 32-byte region the
// integer printer fills backward, and one spare byte for single
// character writes.
const (
	bufLineLen  = 0
	bufLineData = 8
	bufLineCap  = 1024
	bufItoa     = bufLineData + bufLineCap
	bufItoaEnd  = bufItoa + 32
	bufMisc     = bufItoaEnd
	// BufSize is the total scratch buffer size reserved in the image.
	BufSize = bufMisc + 8
)

// platform implements amd64.Platform with Linux syscalls.
type platform struct{}

// Intrinsic calls the matching runtime routine. Arguments travel in
// rdi, results come back in rax.
func (platform) Intrinsic(a *amd64.Assembler, fr *amd64.Frame, in *ir.Intr) error {
	switch in.ID {
	case intrinsics.Print:
		fr.LoadSlot(a, amd64.RDI, in.Args[0])
		a.Call("rt.print_i64")
	case intrinsics.Println:
		fr.LoadSlot(a, amd64.RDI, in.Args[0])
		a.Call("rt.println_i64")
	case intrinsics.PrintStr:
		fr.LoadSlot(a, amd64.RDI, in.Args[0])
		a.Call("rt.print_str")
	case intrinsics.PrintlnStr:
		fr.LoadSlot(a, amd64.RDI, in.Args[0])
		a.Call("rt.println_str")
	case intrinsics.PrintChar:
		fr.LoadSlot(a, amd64.RDI, in.Args[0])
		a.Call("rt.print_char")
	case intrinsics.ReadInt:
		a.Call("rt.read_int")
	case intrinsics.ReadChar:
		a.Call("rt.read_char")
	case intrinsics.ReadLine:
		a.Call("rt.read_line")
	case intrinsics.Flush:
		// write(2) is unbuffered; nothing to do
	}
	if in.Dst != ir.NoSlot {
		fr.StoreSlot(a, in.Dst, amd64.RAX)
	}
	return nil
}

// Exit terminates the process with the status held in rax.
func (platform) Exit(a *amd64.Assembler) {
	a.MovRegReg(amd64.RDI, amd64.RAX)
	a.MovRegImm(amd64.RAX, sysExit)
	a.Syscall()
}

// Helpers emits the syscall runtime. The routines use r8-r10 for
// state because syscall clobbers rcx and r11.
func (platform) Helpers(a *amd64.Assembler) error {
	emitPrintI64(a)
	emitNewline(a)
	emitPrintlnI64(a)
	emitPrintStr(a)
	emitPrintlnStr(a)
	emitPrintChar(a)
	emitReadChar(a)
	emitReadInt(a)
	emitReadLine(a)
	return nil
}

// write(1, rsi, rdx)
func emitWriteStdout(a *amd64.Assembler) {
	a.MovRegImm(amd64.RAX, sysWrite)
	a.MovRegImm(amd64.RDI, 1)
	a.Syscall()
}

// rt.print_i64: renders the value in rdi as signed decimal and
// writes it to stdout. Digits are produced backward from the end of
// the itoa region.
func emitPrintI64(a *amd64.Assembler) {
	a.Label("rt.print_i64")
	a.MovRegReg(amd64.RAX, amd64.RDI)
	a.MovRegBufAddr(amd64.R9)
	a.AddRegImm(amd64.R9, bufItoaEnd-1)
	a.MovRegImm(amd64.R10, 0)

	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondGE, "rt.print_i64.pos")
	a.NegReg(amd64.RAX)
	a.MovRegImm(amd64.R10, 1)
	a.Label("rt.print_i64.pos")

	a.MovRegImm(amd64.R8, 10)
	a.Label("rt.print_i64.loop")
	a.Cqo()
	a.IDivReg(amd64.R8)
	a.AddRegImm(amd64.RDX, '0')
	a.MovMemReg8(amd64.R9, 0, amd64.RDX)
	a.DecReg(amd64.R9)
	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondNE, "rt.print_i64.loop")

	a.CmpRegImm(amd64.R10, 0)
	a.Jcc(amd64.CondE, "rt.print_i64.nosign")
	a.MovRegImm(amd64.RCX, '-')
	a.MovMemReg8(amd64.R9, 0, amd64.RCX)
	a.DecReg(amd64.R9)
	a.Label("rt.print_i64.nosign")

	// start = r9+1, end = itoa region end
	a.Lea(amd64.RSI, amd64.R9, 1)
	a.MovRegBufAddr(amd64.RDX)
	a.AddRegImm(amd64.RDX, bufItoaEnd)
	a.SubRegReg(amd64.RDX, amd64.RSI)
	emitWriteStdout(a)
	a.Ret()
}

// rt.newline: writes a single '\n'.
func emitNewline(a *amd64.Assembler) {
	a.Label("rt.newline")
	a.MovRegBufAddr(amd64.RSI)
	a.AddRegImm(amd64.RSI, bufMisc)
	a.MovRegImm(amd64.RCX, '\n')
	a.MovMemReg8(amd64.RSI, 0, amd64.RCX)
	a.MovRegImm(amd64.RDX, 1)
	emitWriteStdout(a)
	a.Ret()
}

func emitPrintlnI64(a *amd64.Assembler) {
	a.Label("rt.println_i64")
	a.Call("rt.print_i64")
	a.Call("rt.newline")
	a.Ret()
}

// rt.print_str: rdi holds a string handle, a pointer to an 8-byte
// length followed by the bytes.
func emitPrintStr(a *amd64.Assembler) {
	a.Label("rt.print_str")
	a.MovRegMem(amd64.RDX, amd64.RDI, 0)
	a.Lea(amd64.RSI, amd64.RDI, 8)
	emitWriteStdout(a)
	a.Ret()
}

func emitPrintlnStr(a *amd64.Assembler) {
	a.Label("rt.println_str")
	a.Call("rt.print_str")
	a.Call("rt.newline")
	a.Ret()
}

// rt.print_char: writes the low byte of rdi.
func emitPrintChar(a *amd64.Assembler) {
	a.Label("rt.print_char")
	a.MovRegBufAddr(amd64.RSI)
	a.AddRegImm(amd64.RSI, bufMisc)
	a.MovMemReg8(amd64.RSI, 0, amd64.RDI)
	a.MovRegImm(amd64.RDX, 1)
	emitWriteStdout(a)
	a.Ret()
}

// rt.read_char: reads one byte from stdin into rax, -1 on EOF.
func emitReadChar(a *amd64.Assembler) {
	a.Label("rt.read_char")
	a.MovRegImm(amd64.RAX, sysRead)
	a.MovRegImm(amd64.RDI, 0)
	a.MovRegBufAddr(amd64.RSI)
	a.AddRegImm(amd64.RSI, bufMisc)
	a.MovRegImm(amd64.RDX, 1)
	a.Syscall()
	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondG, "rt.read_char.got")
	a.MovRegImm(amd64.RAX, -1)
	a.Ret()
	a.Label("rt.read_char.got")
	a.MovRegBufAddr(amd64.RSI)
	a.MovzxRegMem8(amd64.RAX, amd64.RSI, bufMisc)
	a.Ret()
}

// rt.read_int: skips leading non-digits, then accumulates a signed
// decimal number until the first non-digit byte.
func emitReadInt(a *amd64.Assembler) {
	a.Label("rt.read_int")
	a.MovRegImm(amd64.R8, 0) // accumulator
	a.MovRegImm(amd64.R9, 0) // negative flag

	a.Label("rt.read_int.skip")
	a.Call("rt.read_char")
	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondL, "rt.read_int.done") // EOF
	a.CmpRegImm(amd64.RAX, '-')
	a.Jcc(amd64.CondNE, "rt.read_int.digit0")
	a.MovRegImm(amd64.R9, 1)
	a.Jmp("rt.read_int.loop")
	a.Label("rt.read_int.digit0")
	a.CmpRegImm(amd64.RAX, '0')
	a.Jcc(amd64.CondL, "rt.read_int.skip")
	a.CmpRegImm(amd64.RAX, '9')
	a.Jcc(amd64.CondG, "rt.read_int.skip")
	a.Jmp("rt.read_int.accum")

	a.Label("rt.read_int.loop")
	a.Call("rt.read_char")
	a.CmpRegImm(amd64.RAX, '0')
	a.Jcc(amd64.CondL, "rt.read_int.done")
	a.CmpRegImm(amd64.RAX, '9')
	a.Jcc(amd64.CondG, "rt.read_int.done")
	a.Label("rt.read_int.accum")
	a.SubRegImm(amd64.RAX, '0')
	a.MovRegImm(amd64.RCX, 10)
	a.IMulRegReg(amd64.R8, amd64.RCX)
	a.AddRegReg(amd64.R8, amd64.RAX)
	a.Jmp("rt.read_int.loop")

	a.Label("rt.read_int.done")
	a.CmpRegImm(amd64.R9, 0)
	a.Jcc(amd64.CondE, "rt.read_int.ret")
	a.NegReg(amd64.R8)
	a.Label("rt.read_int.ret")
	a.MovRegReg(amd64.RAX, amd64.R8)
	a.Ret()
}

// rt.read_line: reads bytes until newline or EOF into the line
// buffer, stores the length prefix, and returns the handle.
func emitReadLine(a *amd64.Assembler) {
	a.Label("rt.read_line")
	a.MovRegImm(amd64.R8, 0) // count

	a.Label("rt.read_line.loop")
	a.Call("rt.read_char")
	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondL, "rt.read_line.done")
	a.CmpRegImm(amd64.RAX, '\n')
	a.Jcc(amd64.CondE, "rt.read_line.done")
	a.MovRegBufAddr(amd64.R9)
	a.AddRegImm(amd64.R9, bufLineData)
	a.AddRegReg(amd64.R9, amd64.R8)
	a.MovMemReg8(amd64.R9, 0, amd64.RAX)
	a.IncReg(amd64.R8)
	a.CmpRegImm(amd64.R8, bufLineCap)
	a.Jcc(amd64.CondL, "rt.read_line.loop")

	a.Label("rt.read_line.done")
	a.MovRegBufAddr(amd64.R9)
	a.MovMemReg(amd64.R9, bufLineLen, amd64.R8)
	a.MovRegReg(amd64.RAX, amd64.R9)
	a.Ret()
}
