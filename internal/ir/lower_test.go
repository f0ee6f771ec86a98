package ir

import (
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/perin-lang/perin/internal/parser"
	"github.com/perin-lang/perin/internal/resolver"
)

func lower(t *testing.T, src string) *Program {
	t.Helper()
	file, err := parser.Parse(src, "test.per")
	be.Err(t, err, nil)
	prog, err := resolver.Resolve(file, nil)
	be.Err(t, err, nil)
	return Lower(prog)
}

func TestMainComesFirst(t *testing.T) {
	prog := lower(t, `package main
fn helper() -> i64 {
    return 1
}
fn main() -> i64 {
    return helper()
}
`)
	be.Equal(t, prog.Funcs[0].Name, "main")
	be.Equal(t, prog.Funcs[1].Name, "helper")
}

func TestArithmetic(t *testing.T) {
	prog := lower(t, `package main
fn main() -> i64 {
    var x: i64 = 2
    var y: i64 = 3
    return x + y * 2
}
`)
	main := prog.Funcs[0]
	listing := prog.String()
	be.True(t, strings.Contains(listing, "mul"))
	be.True(t, strings.Contains(listing, "add"))
	// the last instruction returns a value
	ret := main.Code[len(main.Code)-1].(*Ret)
	be.True(t, ret.Src != NoSlot)
}

func TestFreshSlots(t *testing.T) {
	prog := lower(t, `package main
fn main() -> i64 {
    var a: i64 = 1 + 2
    var b: i64 = 3 + 4
    return a + b
}
`)
	// no destination slot is written by two unrelated instructions
	seen := make(map[Slot]int)
	for _, instr := range prog.Funcs[0].Code {
		switch i := instr.(type) {
		case *ConstInt:
			seen[i.Dst]++
		case *Bin:
			seen[i.Dst]++
		}
	}
	for slot, n := range seen {
		if n != 1 {
			t.Errorf("slot %s written %d times", slot, n)
		}
	}
}

func TestIfElseShape(t *testing.T) {
	prog := lower(t, `package main
fn main() -> i64 {
    var x: i64 = 1
    if x > 0 {
        x = 2
    } else {
        x = 3
    }
    return x
}
`)
	var jz, jmp, marks int
	for _, instr := range prog.Funcs[0].Code {
		switch instr.(type) {
		case *Jz:
			jz++
		case *Jmp:
			jmp++
		case *Mark:
			marks++
		}
	}
	be.Equal(t, jz, 1)
	be.Equal(t, jmp, 1)
	be.Equal(t, marks, 2)
}

func TestForLoopShape(t *testing.T) {
	prog := lower(t, `package main
fn main() -> i64 {
    var sum: i64 = 0
    for var i: i64 = 0; i < 5; i = i + 1 {
        sum = sum + i
    }
    return sum
}
`)
	code := prog.Funcs[0].Code

	// loop head label precedes the conditional exit, and the
	// back edge jumps to the head
	var headIdx, jzIdx, jmpIdx = -1, -1, -1
	var head Label
	for i, instr := range code {
		switch in := instr.(type) {
		case *Mark:
			if headIdx == -1 {
				headIdx = i
				head = in.L
			}
		case *Jz:
			jzIdx = i
		case *Jmp:
			jmpIdx = i
			be.Equal(t, in.Target, head)
		}
	}
	be.True(t, headIdx >= 0)
	be.True(t, headIdx < jzIdx)
	be.True(t, jzIdx < jmpIdx)
}

func TestArrayAddressing(t *testing.T) {
	prog := lower(t, `package main
fn main() -> i64 {
    var arr: [i64; 3]
    arr[0] = 5
    arr[1] = arr[0] + 1
    return arr[1]
}
`)
	main := prog.Funcs[0]
	// the array occupies 3 consecutive slots plus the scalar temps
	be.True(t, main.NumSlots >= 3)

	var addrs, stores, loads, muls int
	for _, instr := range main.Code {
		switch instr.(type) {
		case *Addr:
			addrs++
		case *Store:
			stores++
		case *Load:
			loads++
		case *Bin:
			if instr.(*Bin).Op == Mul {
				muls++
			}
		}
	}
	be.Equal(t, stores, 2)
	be.Equal(t, loads, 2)
	be.True(t, addrs >= 4)
	be.True(t, muls >= 4) // one index scaling per element access
}

func TestPointerOps(t *testing.T) {
	prog := lower(t, `package main
fn swap(a: *i64, b: *i64) {
    var tmp: i64 = *a
    *a = *b
    *b = tmp
}
fn main() -> i64 {
    var x: i64 = 10
    var y: i64 = 20
    swap(&x, &y)
    return x
}
`)
	swap := prog.Lookup("swap")
	be.Equal(t, swap.Params, 2)

	var loads, stores int
	for _, instr := range swap.Code {
		switch instr.(type) {
		case *Load:
			loads++
		case *Store:
			stores++
		}
	}
	be.Equal(t, loads, 2)
	be.Equal(t, stores, 2)

	// void function ends in a bare return
	ret := swap.Code[len(swap.Code)-1].(*Ret)
	be.Equal(t, ret.Src, NoSlot)
}

func TestStringConstantPool(t *testing.T) {
	prog := lower(t, `package main
import "stdio"
fn main() -> i64 {
    stdio.PrintlnStr("hello")
    stdio.PrintlnStr("world")
    stdio.PrintlnStr("hello")
    return 0
}
`)
	be.Equal(t, prog.Consts, []string{"hello", "world"})
}

func TestIntrinsicLowering(t *testing.T) {
	prog := lower(t, `package main
import "stdio"
fn main() -> i64 {
    var n: i64 = stdio.ReadInt()
    stdio.Println(n)
    return 0
}
`)
	var intrs []*Intr
	for _, instr := range prog.Funcs[0].Code {
		if in, ok := instr.(*Intr); ok {
			intrs = append(intrs, in)
		}
	}
	be.Equal(t, len(intrs), 2)
	be.True(t, intrs[0].Dst != NoSlot) // ReadInt produces a value
	be.Equal(t, intrs[1].Dst, NoSlot)  // Println is void
}

func TestImplicitReturn(t *testing.T) {
	prog := lower(t, `package main
fn main() -> i64 {
    var x: i64 = 1
}
`)
	code := prog.Funcs[0].Code
	ret := code[len(code)-1].(*Ret)
	be.True(t, ret.Src != NoSlot)
	ci := code[len(code)-2].(*ConstInt)
	be.Equal(t, ci.Val, int64(0))
}
