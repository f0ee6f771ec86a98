package ir

import (
	"github.com/perin-lang/perin/internal/parser"
	"github.com/perin-lang/perin/internal/resolver"
	"github.com/perin-lang/perin/internal/types"
)

// Lower translates a resolved program into IR. It is deterministic
// and total over well-typed input; the resolver has already rejected
// everything this pass cannot express.
func Lower(prog *resolver.Program) *Program {
	l := &lowerer{
		info:       prog.Info,
		constIndex: make(map[string]int),
	}

	out := &Program{}
	// main first, so backends can treat Funcs[0] as the entry point
	out.Funcs = append(out.Funcs, l.lowerFunc(prog.Main))
	for _, fn := range prog.Funcs {
		if fn == prog.Main {
			continue
		}
		out.Funcs = append(out.Funcs, l.lowerFunc(fn))
	}
	out.Consts = l.consts
	return out
}

type lowerer struct {
	info       *resolver.Info
	consts     []string
	constIndex map[string]int

	// per-function state
	code      []Instr
	slots     map[*resolver.Symbol]Slot
	nextSlot  Slot
	nextLabel Label
}

// sizeInWords is the number of 64-bit slots a value of type t
// occupies in the frame.
func sizeInWords(t types.Type) int {
	if arr, ok := t.(*types.Array); ok {
		return int(arr.Len) * sizeInWords(arr.Elem)
	}
	return 1
}

func (l *lowerer) lowerFunc(fn *resolver.Func) *Func {
	l.code = nil
	l.slots = make(map[*resolver.Symbol]Slot)
	l.nextSlot = 0
	l.nextLabel = 0

	for _, p := range fn.Params {
		l.slots[p] = l.alloc(1)
	}
	l.lowerBlock(fn.Decl.Body)

	// a function may fall off its end; give it a well-defined return
	if n := len(l.code); n == 0 || !isRet(l.code[n-1]) {
		if types.Equal(fn.Return, types.Void) {
			l.emit(&Ret{Src: NoSlot})
		} else {
			zero := l.alloc(1)
			l.emit(&ConstInt{Dst: zero, Val: 0})
			l.emit(&Ret{Src: zero})
		}
	}

	return &Func{
		Name:     fn.Name,
		NumSlots: int(l.nextSlot),
		Params:   len(fn.Params),
		Code:     l.code,
	}
}

func isRet(instr Instr) bool {
	_, ok := instr.(*Ret)
	return ok
}

func (l *lowerer) emit(instr Instr) {
	l.code = append(l.code, instr)
}

// alloc reserves n consecutive slots and returns the first.
func (l *lowerer) alloc(n int) Slot {
	s := l.nextSlot
	l.nextSlot += Slot(n)
	return s
}

func (l *lowerer) newLabel() Label {
	lb := l.nextLabel
	l.nextLabel++
	return lb
}

func (l *lowerer) constIdx(s string) int {
	if idx, ok := l.constIndex[s]; ok {
		return idx
	}
	idx := len(l.consts)
	l.consts = append(l.consts, s)
	l.constIndex[s] = idx
	return idx
}

func (l *lowerer) lowerBlock(block *parser.Block) {
	for _, stmt := range block.Stmts {
		l.lowerStmt(stmt)
	}
}

func (l *lowerer) lowerStmt(stmt parser.Statement) {
	switch s := stmt.(type) {
	case *parser.VarDecl:
		sym := l.info.Defs[s]
		base := l.alloc(sizeInWords(sym.Type))
		l.slots[sym] = base
		if s.Init != nil {
			v := l.lowerExpr(s.Init)
			l.emit(&Mov{Dst: base, Src: v})
		}
	case *parser.Assign:
		l.lowerAssign(s)
	case *parser.If:
		cond := l.lowerExpr(s.Cond)
		if s.Else == nil {
			end := l.newLabel()
			l.emit(&Jz{Cond: cond, Target: end})
			l.lowerBlock(s.Then)
			l.emit(&Mark{L: end})
		} else {
			elseL := l.newLabel()
			end := l.newLabel()
			l.emit(&Jz{Cond: cond, Target: elseL})
			l.lowerBlock(s.Then)
			l.emit(&Jmp{Target: end})
			l.emit(&Mark{L: elseL})
			l.lowerBlock(s.Else)
			l.emit(&Mark{L: end})
		}
	case *parser.For:
		if s.Init != nil {
			l.lowerStmt(s.Init)
		}
		head := l.newLabel()
		end := l.newLabel()
		l.emit(&Mark{L: head})
		cond := l.lowerExpr(s.Cond)
		l.emit(&Jz{Cond: cond, Target: end})
		l.lowerBlock(s.Body)
		if s.Step != nil {
			l.lowerStmt(s.Step)
		}
		l.emit(&Jmp{Target: head})
		l.emit(&Mark{L: end})
	case *parser.Return:
		if s.Value == nil {
			l.emit(&Ret{Src: NoSlot})
		} else {
			v := l.lowerExpr(s.Value)
			l.emit(&Ret{Src: v})
		}
	case *parser.ExprStmt:
		l.lowerExpr(s.X)
	case *parser.Block:
		l.lowerBlock(s)
	}
}

func (l *lowerer) lowerAssign(assign *parser.Assign) {
	// a scalar variable target needs no address computation
	if ident, ok := assign.Lhs.(*parser.Ident); ok {
		sym := l.info.Uses[ident]
		v := l.lowerExpr(assign.Rhs)
		l.emit(&Mov{Dst: l.slots[sym], Src: v})
		return
	}
	addr := l.lowerAddr(assign.Lhs)
	v := l.lowerExpr(assign.Rhs)
	l.emit(&Store{Ptr: addr, Src: v})
}

// lowerExpr lowers an expression and returns the slot holding its
// value. Void calls return NoSlot; the resolver guarantees such a
// value is never consumed.
func (l *lowerer) lowerExpr(expr parser.Expression) Slot {
	switch e := expr.(type) {
	case *parser.IntLit:
		dst := l.alloc(1)
		l.emit(&ConstInt{Dst: dst, Val: e.Value})
		return dst
	case *parser.StringLit:
		dst := l.alloc(1)
		l.emit(&ConstStr{Dst: dst, Index: l.constIdx(e.Value)})
		return dst
	case *parser.Ident:
		return l.slots[l.info.Uses[e]]
	case *parser.Binary:
		a := l.lowerExpr(e.Left)
		b := l.lowerExpr(e.Right)
		dst := l.alloc(1)
		l.emit(&Bin{Op: binOp(e.Op), Dst: dst, A: a, B: b})
		return dst
	case *parser.Unary:
		src := l.lowerExpr(e.X)
		dst := l.alloc(1)
		if e.Op == parser.OpNeg {
			l.emit(&Neg{Dst: dst, Src: src})
		} else {
			l.emit(&Not{Dst: dst, Src: src})
		}
		return dst
	case *parser.AddrOf:
		return l.lowerAddr(e.X)
	case *parser.Deref:
		ptr := l.lowerExpr(e.X)
		dst := l.alloc(1)
		l.emit(&Load{Dst: dst, Ptr: ptr})
		return dst
	case *parser.Index:
		addr := l.lowerAddr(e)
		dst := l.alloc(1)
		l.emit(&Load{Dst: dst, Ptr: addr})
		return dst
	case *parser.Call:
		return l.lowerCall(e)
	}
	return NoSlot
}

func (l *lowerer) lowerCall(call *parser.Call) Slot {
	target := l.info.Calls[call]
	args := make([]Slot, len(call.Args))
	for i, arg := range call.Args {
		args[i] = l.lowerExpr(arg)
	}
	dst := NoSlot
	if !types.Equal(target.Result, types.Void) {
		dst = l.alloc(1)
	}
	if target.Intrinsic {
		l.emit(&Intr{Dst: dst, ID: target.ID, Args: args})
	} else {
		l.emit(&Call{Dst: dst, Fn: target.Func.Name, Args: args})
	}
	return dst
}

// lowerAddr lowers an lvalue to a slot holding its address.
func (l *lowerer) lowerAddr(expr parser.Expression) Slot {
	switch e := expr.(type) {
	case *parser.Ident:
		dst := l.alloc(1)
		l.emit(&Addr{Dst: dst, Base: l.slots[l.info.Uses[e]]})
		return dst
	case *parser.Deref:
		return l.lowerExpr(e.X)
	case *parser.Index:
		base := l.lowerAddr(e.Base)
		idx := l.lowerExpr(e.Idx)

		elemType := l.info.Types[e.Base].(*types.Array).Elem
		size := l.alloc(1)
		l.emit(&ConstInt{Dst: size, Val: int64(sizeInWords(elemType)) * 8})
		off := l.alloc(1)
		l.emit(&Bin{Op: Mul, Dst: off, A: idx, B: size})
		addr := l.alloc(1)
		l.emit(&Bin{Op: Add, Dst: addr, A: base, B: off})
		return addr
	}
	return NoSlot
}

func binOp(op parser.BinOp) Op {
	switch op {
	case parser.OpAdd:
		return Add
	case parser.OpSub:
		return Sub
	case parser.OpMul:
		return Mul
	case parser.OpDiv:
		return Div
	case parser.OpMod:
		return Mod
	case parser.OpEq:
		return Eq
	case parser.OpNe:
		return Ne
	case parser.OpLt:
		return Lt
	case parser.OpLe:
		return Le
	case parser.OpGt:
		return Gt
	case parser.OpGe:
		return Ge
	case parser.OpAnd:
		return And
	}
	return Or
}
