// Package pe emits Windows PE32+ console executables. Code goes into
// .text, the kernel32 import tables into .idata, and the string
// constants plus the runtime scratch buffer into .data. stdio
// intrinsics lower to GetStdHandle/WriteFile/ReadFile calls through
// the import address table; process exit goes through ExitProcess
// with main's return value.
package pe

import (
	"github.com/perin-lang/perin/internal/codegen/amd64"
	"github.com/perin-lang/perin/internal/intrinsics"
	"github.com/perin-lang/perin/internal/ir"
)

// imports are the kernel32 functions the runtime needs, in IAT order.
var imports = []string{
	"GetStdHandle",
	"WriteFile",
	"ReadFile",
	"ExitProcess",
	"FlushFileBuffers",
}

const (
	stdOutputHandle = -11
	stdInputHandle  = -10
)

// Scratch buffer layout in .data: a length-prefixed line buffer, the
// integer printer's digit region, a spare byte for single character
// I/O, and the DWORD out-parameters WriteFile and ReadFile fill in.
const (
	bufLineLen  = 0
	bufLineData = 8
	bufLineCap  = 1024
	bufItoa     = bufLineData + bufLineCap
	bufItoaEnd  = bufItoa + 32
	bufMisc     = bufItoaEnd
	bufWritten  = bufMisc + 8
	bufRead     = bufWritten + 8
	// BufSize is the total scratch buffer size reserved in .data.
	BufSize = bufRead + 8
)

// platform implements amd64.Platform on the Win64 ABI. The internal
// helper convention matches the ELF backend: argument in rdi, result
// in rax. rdi is callee saved under Win64, so it survives the API
// calls the helpers make.
type platform struct{}

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
		a.Call("rt.flush")
	}
	if in.Dst != ir.NoSlot {
		fr.StoreSlot(a, in.Dst, amd64.RAX)
	}
	return nil
}

// Exit calls ExitProcess with the status held in rax. The stub is
// entered with rsp 8 off a 16-byte boundary, so sub 40 realigns for
// the call.
func (platform) Exit(a *amd64.Assembler) {
	a.MovRegReg(amd64.RCX, amd64.RAX)
	a.SubRegImm(amd64.RSP, 40)
	a.CallImport("ExitProcess")
	// not reached
	a.Ret()
}

func (platform) Helpers(a *amd64.Assembler) error {
	emitWrite(a)
	emitPrintI64(a)
	emitNewline(a)
	emitPrintlnI64(a)
	emitPrintStr(a)
	emitPrintlnStr(a)
	emitPrintChar(a)
	emitReadChar(a)
	emitReadInt(a)
	emitReadLine(a)
	emitFlush(a)
	return nil
}

// apiPrologue forces 16-byte stack alignment and reserves shadow
// space plus one stack argument slot. Alignment at entry varies with
// the caller's pushed argument count, so it is reimposed here rather
// than assumed.
func apiPrologue(a *amd64.Assembler) {
	a.Push(amd64.RBP)
	a.MovRegReg(amd64.RBP, amd64.RSP)
	a.AndRegImm(amd64.RSP, -16)
	a.SubRegImm(amd64.RSP, 48)
}

func apiEpilogue(a *amd64.Assembler) {
	a.MovRegReg(amd64.RSP, amd64.RBP)
	a.Pop(amd64.RBP)
}

// zeroStackArg clears the fifth argument slot at [rsp+32].
func zeroStackArg(a *amd64.Assembler) {
	a.XorRegReg(amd64.RAX, amd64.RAX)
	a.MovMemReg(amd64.RSP, 32, amd64.RAX)
}

// rt.write: WriteFile(stdout, rsi, rdx). r12/r13 carry the buffer
// across the GetStdHandle call; Win64 preserves them.
func emitWrite(a *amd64.Assembler) {
	a.Label("rt.write")
	a.MovRegReg(amd64.R12, amd64.RSI)
	a.MovRegReg(amd64.R13, amd64.RDX)
	apiPrologue(a)
	a.MovRegImm(amd64.RCX, stdOutputHandle)
	a.CallImport("GetStdHandle")
	a.MovRegReg(amd64.RCX, amd64.RAX)
	a.MovRegReg(amd64.RDX, amd64.R12)
	a.MovRegReg(amd64.R8, amd64.R13)
	a.MovRegBufAddr(amd64.R9)
	a.AddRegImm(amd64.R9, bufWritten)
	zeroStackArg(a)
	a.CallImport("WriteFile")
	apiEpilogue(a)
	a.Ret()
}

// rt.print_i64: same digit algorithm as the ELF runtime, with the
// final write going through WriteFile.
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

	a.Lea(amd64.RSI, amd64.R9, 1)
	a.MovRegBufAddr(amd64.RDX)
	a.AddRegImm(amd64.RDX, bufItoaEnd)
	a.SubRegReg(amd64.RDX, amd64.RSI)
	a.Call("rt.write")
	a.Ret()
}

func emitNewline(a *amd64.Assembler) {
	a.Label("rt.newline")
	a.MovRegBufAddr(amd64.RSI)
	a.AddRegImm(amd64.RSI, bufMisc)
	a.MovRegImm(amd64.RCX, '\n')
	a.MovMemReg8(amd64.RSI, 0, amd64.RCX)
	a.MovRegImm(amd64.RDX, 1)
	a.Call("rt.write")
	a.Ret()
}

func emitPrintlnI64(a *amd64.Assembler) {
	a.Label("rt.println_i64")
	a.Call("rt.print_i64")
	a.Call("rt.newline")
	a.Ret()
}

func emitPrintStr(a *amd64.Assembler) {
	a.Label("rt.print_str")
	a.MovRegMem(amd64.RDX, amd64.RDI, 0)
	a.Lea(amd64.RSI, amd64.RDI, 8)
	a.Call("rt.write")
	a.Ret()
}

func emitPrintlnStr(a *amd64.Assembler) {
	a.Label("rt.println_str")
	a.Call("rt.print_str")
	a.Call("rt.newline")
	a.Ret()
}

func emitPrintChar(a *amd64.Assembler) {
	a.Label("rt.print_char")
	a.MovRegBufAddr(amd64.RSI)
	a.AddRegImm(amd64.RSI, bufMisc)
	a.MovMemReg8(amd64.RSI, 0, amd64.RDI)
	a.MovRegImm(amd64.RDX, 1)
	a.Call("rt.write")
	a.Ret()
}

// rt.read_char: ReadFile(stdin, buf, 1). Returns the byte in rax,
// or -1 on EOF or error.
func emitReadChar(a *amd64.Assembler) {
	a.Label("rt.read_char")
	apiPrologue(a)
	a.MovRegImm(amd64.RCX, stdInputHandle)
	a.CallImport("GetStdHandle")
	a.MovRegReg(amd64.RCX, amd64.RAX)
	a.MovRegBufAddr(amd64.RDX)
	a.AddRegImm(amd64.RDX, bufMisc)
	a.MovRegImm(amd64.R8, 1)
	a.MovRegBufAddr(amd64.R9)
	a.AddRegImm(amd64.R9, bufRead)
	zeroStackArg(a)
	a.CallImport("ReadFile")
	apiEpilogue(a)

	a.TestRegReg(amd64.RAX, amd64.RAX)
	a.Jcc(amd64.CondE, "rt.read_char.eof")
	// ReadFile only writes the low DWORD; the rest of the field
	// stays zero, so a 64-bit load of the count is safe
	a.MovRegBufAddr(amd64.RCX)
	a.MovRegMem(amd64.RAX, amd64.RCX, bufRead)
	a.TestRegReg(amd64.RAX, amd64.RAX)
	a.Jcc(amd64.CondE, "rt.read_char.eof")
	a.MovzxRegMem8(amd64.RAX, amd64.RCX, bufMisc)
	a.Ret()
	a.Label("rt.read_char.eof")
	a.MovRegImm(amd64.RAX, -1)
	a.Ret()
}

func emitReadInt(a *amd64.Assembler) {
	a.Label("rt.read_int")
	a.MovRegImm(amd64.R14, 0) // accumulator
	a.MovRegImm(amd64.R15, 0) // negative flag

	a.Label("rt.read_int.skip")
	a.Call("rt.read_char")
	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondL, "rt.read_int.done")
	a.CmpRegImm(amd64.RAX, '-')
	a.Jcc(amd64.CondNE, "rt.read_int.digit0")
	a.MovRegImm(amd64.R15, 1)
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
	a.IMulRegReg(amd64.R14, amd64.RCX)
	a.AddRegReg(amd64.R14, amd64.RAX)
	a.Jmp("rt.read_int.loop")

	a.Label("rt.read_int.done")
	a.CmpRegImm(amd64.R15, 0)
	a.Jcc(amd64.CondE, "rt.read_int.ret")
	a.NegReg(amd64.R14)
	a.Label("rt.read_int.ret")
	a.MovRegReg(amd64.RAX, amd64.R14)
	a.Ret()
}

// rt.read_line: fills the line buffer until newline or EOF and
// returns its handle. A trailing carriage return from console input
// is stripped.
func emitReadLine(a *amd64.Assembler) {
	a.Label("rt.read_line")
	a.MovRegImm(amd64.R14, 0) // count

	a.Label("rt.read_line.loop")
	a.Call("rt.read_char")
	a.CmpRegImm(amd64.RAX, 0)
	a.Jcc(amd64.CondL, "rt.read_line.done")
	a.CmpRegImm(amd64.RAX, '\n')
	a.Jcc(amd64.CondE, "rt.read_line.done")
	a.MovRegBufAddr(amd64.R9)
	a.AddRegImm(amd64.R9, bufLineData)
	a.AddRegReg(amd64.R9, amd64.R14)
	a.MovMemReg8(amd64.R9, 0, amd64.RAX)
	a.IncReg(amd64.R14)
	a.CmpRegImm(amd64.R14, bufLineCap)
	a.Jcc(amd64.CondL, "rt.read_line.loop")

	a.Label("rt.read_line.done")
	a.CmpRegImm(amd64.R14, 0)
	a.Jcc(amd64.CondE, "rt.read_line.store")
	a.MovRegBufAddr(amd64.R9)
	a.AddRegImm(amd64.R9, bufLineData-1)
	a.AddRegReg(amd64.R9, amd64.R14)
	a.MovzxRegMem8(amd64.RAX, amd64.R9, 0)
	a.CmpRegImm(amd64.RAX, '\r')
	a.Jcc(amd64.CondNE, "rt.read_line.store")
	a.DecReg(amd64.R14)
	a.Label("rt.read_line.store")
	a.MovRegBufAddr(amd64.R9)
	a.MovMemReg(amd64.R9, bufLineLen, amd64.R14)
	a.MovRegReg(amd64.RAX, amd64.R9)
	a.Ret()
}

func emitFlush(a *amd64.Assembler) {
	a.Label("rt.flush")
	apiPrologue(a)
	a.MovRegImm(amd64.RCX, stdOutputHandle)
	a.CallImport("GetStdHandle")
	a.MovRegReg(amd64.RCX, amd64.RAX)
	a.CallImport("FlushFileBuffers")
	apiEpilogue(a)
	a.Ret()
}
