// Package amd64 provides the byte-level x86-64 assembler and the
// shared instruction selection used by both native backends. The
// container writers (ELF and PE) differ only in how they implement
// the stdio intrinsics and in how they place code and data; the
// machine code for everything else is emitted here.
package amd64

import (
	"encoding/binary"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/position"
)

// Reg is an x86-64 general purpose register.
type Reg int

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond is a condition code used by setcc and jcc.
type Cond int

const (
	CondE  Cond = 0x4
	CondNE Cond = 0x5
	CondL  Cond = 0xC
	CondGE Cond = 0xD
	CondLE Cond = 0xE
	CondG  Cond = 0xF
	CondS  Cond = 0x8
)

// FixupKind classifies the patches applied after layout is known.
type FixupKind int

const (
	// FixupConstAddr patches an imm64 with the absolute address of
	// a string constant in the data section.
	FixupConstAddr FixupKind = iota
	// FixupBufAddr patches an imm64 with the absolute address of
	// the backend's scratch buffer.
	FixupBufAddr
	// FixupImport patches a rel32 displacement to an import table
	// entry, used by the PE backend's FF 15 indirect calls.
	FixupImport
)

// Fixup is one pending patch into the code stream.
type Fixup struct {
	Kind   FixupKind
	Offset int    // where the imm64/rel32 field starts
	Index  int    // constant index for FixupConstAddr
	Name   string // import name for FixupImport
}

type labelFixup struct {
	offset int // where the rel32 field starts
	label  string
}

// Assembler accumulates machine code and resolves label references.
type Assembler struct {
	buf    []byte
	labels map[string]int
	refs   []labelFixup
	fixups []Fixup
}

// New creates an empty assembler.
func New() *Assembler {
	return &Assembler{labels: make(map[string]int)}
}

// Len returns the number of bytes emitted so far.
func (a *Assembler) Len() int { return len(a.buf) }

// Fixups returns the container-level patches the backend must apply
// once section addresses are known.
func (a *Assembler) Fixups() []Fixup { return a.fixups }

func (a *Assembler) emit(bs ...byte) {
	a.buf = append(a.buf, bs...)
}

func (a *Assembler) emit32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.buf = append(a.buf, b[:]...)
}

func (a *Assembler) emit64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	a.buf = append(a.buf, b[:]...)
}

// rex builds a REX prefix. w selects 64-bit operands, r and b extend
// the reg and rm fields.
func rex(w bool, r, b Reg) byte {
	p := byte(0x40)
	if w {
		p |= 0x08
	}
	if r >= R8 {
		p |= 0x04
	}
	if b >= R8 {
		p |= 0x01
	}
	return p
}

func modrm(mod, reg, rm byte) byte {
	return mod<<6 | (reg&7)<<3 | (rm & 7)
}

// memOperand emits a ModRM byte (and SIB/displacement) addressing
// [base+disp].
func (a *Assembler) memOperand(reg, base Reg, disp int32) {
	rm := byte(base & 7)
	needSIB := base == RSP || base == R12
	switch {
	case disp == 0 && base != RBP && base != R13:
		a.emit(modrm(0, byte(reg), rm))
		if needSIB {
			a.emit(0x24)
		}
	case disp >= -128 && disp <= 127:
		a.emit(modrm(1, byte(reg), rm))
		if needSIB {
			a.emit(0x24)
		}
		a.emit(byte(disp))
	default:
		a.emit(modrm(2, byte(reg), rm))
		if needSIB {
			a.emit(0x24)
		}
		a.emit32(uint32(disp))
	}
}

// MovRegImm loads a 64-bit immediate: mov r, imm64.
func (a *Assembler) MovRegImm(r Reg, v int64) {
	a.emit(rex(true, 0, r), 0xB8+byte(r&7))
	a.emit64(uint64(v))
}

// MovRegConstAddr loads the absolute address of string constant idx.
// The imm64 is patched by the container writer.
func (a *Assembler) MovRegConstAddr(r Reg, idx int) {
	a.emit(rex(true, 0, r), 0xB8+byte(r&7))
	a.fixups = append(a.fixups, Fixup{Kind: FixupConstAddr, Offset: len(a.buf), Index: idx})
	a.emit64(0)
}

// MovRegBufAddr loads the absolute address of the scratch buffer.
func (a *Assembler) MovRegBufAddr(r Reg) {
	a.emit(rex(true, 0, r), 0xB8+byte(r&7))
	a.fixups = append(a.fixups, Fixup{Kind: FixupBufAddr, Offset: len(a.buf)})
	a.emit64(0)
}

// MovRegReg copies src into dst: mov dst, src.
func (a *Assembler) MovRegReg(dst, src Reg) {
	a.emit(rex(true, src, dst), 0x89, modrm(3, byte(src), byte(dst)))
}

// MovRegMem loads dst from [base+disp].
func (a *Assembler) MovRegMem(dst, base Reg, disp int32) {
	a.emit(rex(true, dst, base), 0x8B)
	a.memOperand(dst, base, disp)
}

// MovMemReg stores src to [base+disp].
func (a *Assembler) MovMemReg(base Reg, disp int32, src Reg) {
	a.emit(rex(true, src, base), 0x89)
	a.memOperand(src, base, disp)
}

// MovMemReg8 stores the low byte of src to [base+disp].
func (a *Assembler) MovMemReg8(base Reg, disp int32, src Reg) {
	if src >= R8 || base >= R8 || src >= RSP {
		a.emit(rex(false, src, base))
	}
	a.emit(0x88)
	a.memOperand(src, base, disp)
}

// MovzxRegMem8 zero-extends a byte load from [base+disp] into dst.
func (a *Assembler) MovzxRegMem8(dst, base Reg, disp int32) {
	a.emit(rex(true, dst, base), 0x0F, 0xB6)
	a.memOperand(dst, base, disp)
}

// Lea computes dst = base + disp.
func (a *Assembler) Lea(dst, base Reg, disp int32) {
	a.emit(rex(true, dst, base), 0x8D)
	a.memOperand(dst, base, disp)
}

// AddRegReg: add dst, src.
func (a *Assembler) AddRegReg(dst, src Reg) {
	a.emit(rex(true, src, dst), 0x01, modrm(3, byte(src), byte(dst)))
}

// SubRegReg: sub dst, src.
func (a *Assembler) SubRegReg(dst, src Reg) {
	a.emit(rex(true, src, dst), 0x29, modrm(3, byte(src), byte(dst)))
}

// IMulRegReg: imul dst, src.
func (a *Assembler) IMulRegReg(dst, src Reg) {
	a.emit(rex(true, dst, src), 0x0F, 0xAF, modrm(3, byte(dst), byte(src)))
}

// AndRegReg: and dst, src.
func (a *Assembler) AndRegReg(dst, src Reg) {
	a.emit(rex(true, src, dst), 0x21, modrm(3, byte(src), byte(dst)))
}

// OrRegReg: or dst, src.
func (a *Assembler) OrRegReg(dst, src Reg) {
	a.emit(rex(true, src, dst), 0x09, modrm(3, byte(src), byte(dst)))
}

// XorRegReg: xor dst, src.
func (a *Assembler) XorRegReg(dst, src Reg) {
	a.emit(rex(true, src, dst), 0x31, modrm(3, byte(src), byte(dst)))
}

// CmpRegReg: cmp a, b.
func (a *Assembler) CmpRegReg(x, y Reg) {
	a.emit(rex(true, y, x), 0x39, modrm(3, byte(y), byte(x)))
}

// TestRegReg: test x, y.
func (a *Assembler) TestRegReg(x, y Reg) {
	a.emit(rex(true, y, x), 0x85, modrm(3, byte(y), byte(x)))
}

// AddRegImm: add r, imm32 (sign extended).
func (a *Assembler) AddRegImm(r Reg, v int32) {
	a.emit(rex(true, 0, r), 0x81, modrm(3, 0, byte(r)))
	a.emit32(uint32(v))
}

// SubRegImm: sub r, imm32 (sign extended).
func (a *Assembler) SubRegImm(r Reg, v int32) {
	a.emit(rex(true, 0, r), 0x81, modrm(3, 5, byte(r)))
	a.emit32(uint32(v))
}

// CmpRegImm: cmp r, imm32 (sign extended).
func (a *Assembler) CmpRegImm(r Reg, v int32) {
	a.emit(rex(true, 0, r), 0x81, modrm(3, 7, byte(r)))
	a.emit32(uint32(v))
}

// AndRegImm: and r, imm32 (sign extended).
func (a *Assembler) AndRegImm(r Reg, v int32) {
	a.emit(rex(true, 0, r), 0x81, modrm(3, 4, byte(r)))
	a.emit32(uint32(v))
}

// NegReg: neg r.
func (a *Assembler) NegReg(r Reg) {
	a.emit(rex(true, 0, r), 0xF7, modrm(3, 3, byte(r)))
}

// Cqo sign-extends rax into rdx:rax.
func (a *Assembler) Cqo() {
	a.emit(0x48, 0x99)
}

// IDivReg: idiv r, dividing rdx:rax.
func (a *Assembler) IDivReg(r Reg) {
	a.emit(rex(true, 0, r), 0xF7, modrm(3, 7, byte(r)))
}

// IncReg: inc r.
func (a *Assembler) IncReg(r Reg) {
	a.emit(rex(true, 0, r), 0xFF, modrm(3, 0, byte(r)))
}

// DecReg: dec r.
func (a *Assembler) DecReg(r Reg) {
	a.emit(rex(true, 0, r), 0xFF, modrm(3, 1, byte(r)))
}

// SetCond sets al to 0 or 1 from the flags: setcc al.
func (a *Assembler) SetCond(c Cond) {
	a.emit(0x0F, 0x90+byte(c), 0xC0)
}

// MovzxRaxAl zero-extends al into rax.
func (a *Assembler) MovzxRaxAl() {
	a.emit(0x48, 0x0F, 0xB6, 0xC0)
}

// Push: push r.
func (a *Assembler) Push(r Reg) {
	if r >= R8 {
		a.emit(0x41)
	}
	a.emit(0x50 + byte(r&7))
}

// Pop: pop r.
func (a *Assembler) Pop(r Reg) {
	if r >= R8 {
		a.emit(0x41)
	}
	a.emit(0x58 + byte(r&7))
}

// Leave restores the caller frame: mov rsp, rbp; pop rbp.
func (a *Assembler) Leave() {
	a.emit(0xC9)
}

// Ret returns to the caller.
func (a *Assembler) Ret() {
	a.emit(0xC3)
}

// Syscall issues the Linux syscall instruction.
func (a *Assembler) Syscall() {
	a.emit(0x0F, 0x05)
}

// Label binds a name to the current offset.
func (a *Assembler) Label(name string) {
	a.labels[name] = len(a.buf)
}

// LabelOffset returns the bound offset of a label.
func (a *Assembler) LabelOffset(name string) (int, bool) {
	off, ok := a.labels[name]
	return off, ok
}

// Jmp emits an unconditional rel32 jump to a label.
func (a *Assembler) Jmp(label string) {
	a.emit(0xE9)
	a.refs = append(a.refs, labelFixup{offset: len(a.buf), label: label})
	a.emit32(0)
}

// Jcc emits a conditional rel32 jump to a label.
func (a *Assembler) Jcc(c Cond, label string) {
	a.emit(0x0F, 0x80+byte(c))
	a.refs = append(a.refs, labelFixup{offset: len(a.buf), label: label})
	a.emit32(0)
}

// Call emits a rel32 call to a label.
func (a *Assembler) Call(label string) {
	a.emit(0xE8)
	a.refs = append(a.refs, labelFixup{offset: len(a.buf), label: label})
	a.emit32(0)
}

// CallImport emits an indirect call through an import table entry:
// ff 15 rel32. The displacement is patched by the PE writer.
func (a *Assembler) CallImport(name string) {
	a.emit(0xFF, 0x15)
	a.fixups = append(a.fixups, Fixup{Kind: FixupImport, Offset: len(a.buf), Name: name})
	a.emit32(0)
}

// Finalize resolves all label references and returns the code bytes.
// An unbound label is a CodegenError.
func (a *Assembler) Finalize() ([]byte, error) {
	for _, ref := range a.refs {
		target, ok := a.labels[ref.label]
		if !ok {
			return nil, diagnostics.New(diagnostics.CodegenError, position.Position{}, "unresolved label %q", ref.label)
		}
		rel := int64(target) - int64(ref.offset) - 4
		if rel < -1<<31 || rel >= 1<<31 {
			return nil, diagnostics.New(diagnostics.CodegenError, position.Position{}, "jump to %q out of rel32 range", ref.label)
		}
		binary.LittleEndian.PutUint32(a.buf[ref.offset:], uint32(int32(rel)))
	}
	return a.buf, nil
}

// PatchImm64 overwrites an 8-byte field, used by container writers to
// resolve address fixups.
func PatchImm64(code []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(code[offset:], v)
}

// PatchRel32 overwrites a 4-byte field with a rip-relative
// displacement. next is the offset of the instruction end.
func PatchRel32(code []byte, offset int, target, next int64) error {
	rel := target - next
	if rel < -1<<31 || rel >= 1<<31 {
		return diagnostics.New(diagnostics.CodegenError, position.Position{}, "rip displacement out of range")
	}
	binary.LittleEndian.PutUint32(code[offset:], uint32(int32(rel)))
	return nil
}
