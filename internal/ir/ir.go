// Package ir defines the flat intermediate representation shared by
// every backend. A program is a list of functions; a function is a
// linear instruction sequence operating on numbered virtual slots,
// with explicit labels for branches. Branch targets never cross a
// function boundary.
//
// Slot model: every slot is one 64-bit word. Parameters arrive in
// slots 0..len(Params)-1. Local variables and intermediate results
// each occupy a fresh slot; fixed arrays occupy a contiguous run of
// slots, addresses increasing with the slot number. The Addr
// instruction materializes the address of a slot under that layout,
// so element i of an array based at slot b lives at addr(b) + i*8.
// How slots map to registers or stack offsets is each backend's
// decision alone.
package ir

import (
	"fmt"
	"strings"

	"github.com/perin-lang/perin/internal/intrinsics"
)

// Slot names one virtual storage slot. NoSlot marks an absent
// operand, such as the destination of a void call.
type Slot int

const NoSlot Slot = -1

func (s Slot) String() string {
	if s == NoSlot {
		return "_"
	}
	return fmt.Sprintf("s%d", int(s))
}

// Label names a branch target within one function.
type Label int

func (l Label) String() string { return fmt.Sprintf("L%d", int(l)) }

// Op enumerates the binary operators the IR supports. The comparison
// ops yield 0 or 1; And and Or treat any nonzero operand as true and
// yield 0 or 1, with both operands always evaluated.
type Op int

const (
	Add Op = iota
	Sub
	Mul
	Div
	Mod
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	And
	Or
)

var opNames = map[Op]string{
	Add: "add", Sub: "sub", Mul: "mul", Div: "div", Mod: "mod",
	Eq: "eq", Ne: "ne", Lt: "lt", Le: "le", Gt: "gt", Ge: "ge",
	And: "and", Or: "or",
}

func (op Op) String() string { return opNames[op] }

// Instr is the interface implemented by all IR instructions.
type Instr interface {
	isInstr()
	String() string
}

// ConstInt loads an integer immediate into a slot.
type ConstInt struct {
	Dst Slot
	Val int64
}

// ConstStr loads a string handle into a slot. Index refers to the
// program's constant pool; each backend decides what the handle is
// at run time (a data address for the native targets).
type ConstStr struct {
	Dst   Slot
	Index int
}

// Mov copies one slot to another.
type Mov struct {
	Dst, Src Slot
}

// Bin applies a binary operator: Dst = A op B.
type Bin struct {
	Op   Op
	Dst  Slot
	A, B Slot
}

// Neg arithmetic negation: Dst = -Src.
type Neg struct {
	Dst, Src Slot
}

// Not logical negation: Dst = 1 if Src == 0 else 0.
type Not struct {
	Dst, Src Slot
}

// Addr materializes the address of a slot: Dst = &slot(Base).
type Addr struct {
	Dst  Slot
	Base Slot
}

// Load reads through an address held in a slot: Dst = *Ptr.
type Load struct {
	Dst, Ptr Slot
}

// Store writes through an address held in a slot: *Ptr = Src.
type Store struct {
	Ptr, Src Slot
}

// Jmp branches unconditionally.
type Jmp struct {
	Target Label
}

// Jz branches when Cond is zero.
type Jz struct {
	Cond   Slot
	Target Label
}

// Mark places a label at this position in the stream.
type Mark struct {
	L Label
}

// Call invokes a compiled function. Args are copied into the callee's
// parameter slots by the backend. Dst is NoSlot for void callees.
type Call struct {
	Dst  Slot
	Fn   string
	Args []Slot
}

// Intr invokes a stdio intrinsic by its fixed id.
type Intr struct {
	Dst  Slot
	ID   intrinsics.ID
	Args []Slot
}

// Ret returns from the function. Src is NoSlot for void returns.
type Ret struct {
	Src Slot
}

func (*ConstInt) isInstr() {}
func (*ConstStr) isInstr() {}
func (*Mov) isInstr()      {}
func (*Bin) isInstr()      {}
func (*Neg) isInstr()      {}
func (*Not) isInstr()      {}
func (*Addr) isInstr()     {}
func (*Load) isInstr()     {}
func (*Store) isInstr()    {}
func (*Jmp) isInstr()      {}
func (*Jz) isInstr()       {}
func (*Mark) isInstr()     {}
func (*Call) isInstr()     {}
func (*Intr) isInstr()     {}
func (*Ret) isInstr()      {}

func (i *ConstInt) String() string { return fmt.Sprintf("%s = const %d", i.Dst, i.Val) }
func (i *ConstStr) String() string { return fmt.Sprintf("%s = str #%d", i.Dst, i.Index) }
func (i *Mov) String() string      { return fmt.Sprintf("%s = %s", i.Dst, i.Src) }
func (i *Bin) String() string      { return fmt.Sprintf("%s = %s %s, %s", i.Dst, i.Op, i.A, i.B) }
func (i *Neg) String() string      { return fmt.Sprintf("%s = neg %s", i.Dst, i.Src) }
func (i *Not) String() string      { return fmt.Sprintf("%s = not %s", i.Dst, i.Src) }
func (i *Addr) String() string     { return fmt.Sprintf("%s = addr %s", i.Dst, i.Base) }
func (i *Load) String() string     { return fmt.Sprintf("%s = load %s", i.Dst, i.Ptr) }
func (i *Store) String() string    { return fmt.Sprintf("store %s, %s", i.Ptr, i.Src) }
func (i *Jmp) String() string      { return fmt.Sprintf("jmp %s", i.Target) }
func (i *Jz) String() string       { return fmt.Sprintf("jz %s, %s", i.Cond, i.Target) }
func (i *Mark) String() string     { return fmt.Sprintf("%s:", i.L) }

func (i *Call) String() string {
	return fmt.Sprintf("%s = call %s(%s)", i.Dst, i.Fn, joinSlots(i.Args))
}

func (i *Intr) String() string {
	return fmt.Sprintf("%s = intr %s(%s)", i.Dst, i.ID, joinSlots(i.Args))
}

func (i *Ret) String() string {
	if i.Src == NoSlot {
		return "ret"
	}
	return fmt.Sprintf("ret %s", i.Src)
}

func joinSlots(slots []Slot) string {
	parts := make([]string, len(slots))
	for i, s := range slots {
		parts[i] = s.String()
	}
	return strings.Join(parts, ", ")
}

// Func is one lowered function.
type Func struct {
	Name     string
	NumSlots int // total slots, parameters included
	Params   int // parameter count, slots 0..Params-1
	Code     []Instr
}

// Program is a lowered compilation unit. Funcs[0] is always main.
// Consts is the string constant pool shared by all functions.
type Program struct {
	Funcs  []*Func
	Consts []string
}

// Lookup returns the function with the given name.
func (p *Program) Lookup(name string) *Func {
	for _, fn := range p.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// String renders the program in a readable listing form, one
// instruction per line. Used by tests and debug output only; the NVM
// assembly rendering is produced from bytecode, not from here.
func (p *Program) String() string {
	var sb strings.Builder
	for _, fn := range p.Funcs {
		fmt.Fprintf(&sb, "func %s slots=%d params=%d\n", fn.Name, fn.NumSlots, fn.Params)
		for _, instr := range fn.Code {
			if _, isMark := instr.(*Mark); isMark {
				fmt.Fprintf(&sb, "%s\n", instr)
			} else {
				fmt.Fprintf(&sb, "  %s\n", instr)
			}
		}
	}
	return sb.String()
}
