package resolver

import (
	"testing"

	"github.com/nalgeon/be"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/parser"
	"github.com/perin-lang/perin/internal/types"
)

const mathSrc = `package math

pub fn Abs(x: i64) -> i64 {
    if x < 0 {
        return 0 - x
    }
    return x
}

fn internal(x: i64) -> i64 {
    return x
}
`

func modules(t *testing.T) map[string]*parser.File {
	t.Helper()
	mathMod, err := parser.Parse(mathSrc, "math.per")
	be.Err(t, err, nil)
	return map[string]*parser.File{"math": mathMod}
}

func resolve(t *testing.T, src string) *Program {
	t.Helper()
	file, err := parser.Parse(src, "test.per")
	be.Err(t, err, nil)
	prog, err := Resolve(file, modules(t))
	be.Err(t, err, nil)
	return prog
}

func resolveErr(t *testing.T, src string) error {
	t.Helper()
	file, err := parser.Parse(src, "test.per")
	be.Err(t, err, nil)
	_, err = Resolve(file, modules(t))
	be.Err(t, err)
	return err
}

func TestSimpleProgram(t *testing.T) {
	prog := resolve(t, `package main
import "stdio"

fn main() -> i64 {
    var x: i64 = 2
    var y: i64 = 3
    stdio.Println(x + y * 2)
    return 0
}
`)
	be.Equal(t, prog.Main.Name, "main")
	be.True(t, types.Equal(prog.Main.Return, types.I64))
}

func TestForwardReference(t *testing.T) {
	resolve(t, `package main
fn main() -> i64 {
    return later(2)
}
fn later(x: i64) -> i64 {
    return x * 2
}
`)
}

func TestShadowing(t *testing.T) {
	prog := resolve(t, `package main
fn main() -> i64 {
    var x: i64 = 1
    if x > 0 {
        var x: i64 = 2
        x = 3
    }
    return x
}
`)
	be.True(t, prog != nil)
}

func TestInference(t *testing.T) {
	prog := resolve(t, `package main
fn main() -> i64 {
    var x = 41
    var s = "hi"
    return x
}
`)
	fn := prog.Main
	x := fn.Decl.Body.Stmts[0].(*parser.VarDecl)
	be.True(t, types.Equal(prog.Info.Defs[x].Type, types.I64))
	s := fn.Decl.Body.Stmts[1].(*parser.VarDecl)
	be.True(t, types.Equal(prog.Info.Defs[s].Type, types.String))
}

func TestPointers(t *testing.T) {
	resolve(t, `package main
import "stdio"

fn swap(a: *i64, b: *i64) {
    var tmp: i64 = *a
    *a = *b
    *b = tmp
}

fn main() -> i64 {
    var x: i64 = 10
    var y: i64 = 20
    swap(&x, &y)
    stdio.Println(x)
    return 0
}
`)
}

func TestArrays(t *testing.T) {
	resolve(t, `package main
import "stdio"

fn main() -> i64 {
    var arr: [i64; 3]
    arr[0] = 5
    arr[1] = arr[0] + 1
    stdio.Println(arr[1])
    var p: *i64 = &arr[0]
    return *p
}
`)
}

func TestModuleCall(t *testing.T) {
	prog := resolve(t, `package main
import "math"

fn main() -> i64 {
    return math.Abs(0 - 5)
}
`)
	// math's functions are part of the compiled program
	found := false
	for _, fn := range prog.Funcs {
		if fn.Name == "math.Abs" {
			found = true
		}
	}
	be.True(t, found)
}

func TestTypeErrors(t *testing.T) {
	cases := []string{
		// mismatched initializer
		"package main\nfn main() -> i64 {\n var x: i64 = \"s\"\n return 0\n}\n",
		// undefined variable
		"package main\nfn main() -> i64 {\n return y\n}\n",
		// redeclaration in same scope
		"package main\nfn main() -> i64 {\n var x: i64 = 1\n var x: i64 = 2\n return x\n}\n",
		// assignment type mismatch
		"package main\nfn main() -> i64 {\n var x: i64 = 1\n x = \"s\"\n return x\n}\n",
		// non-lvalue assignment target
		"package main\nfn main() -> i64 {\n var x: i64\n x + 1 = 2\n return x\n}\n",
		// address of non-lvalue
		"package main\nfn main() -> i64 {\n var p: *i64 = &(1 + 2)\n return 0\n}\n",
		// dereferencing a non-pointer
		"package main\nfn main() -> i64 {\n var x: i64 = 1\n return *x\n}\n",
		// indexing a non-array
		"package main\nfn main() -> i64 {\n var x: i64 = 1\n return x[0]\n}\n",
		// arity mismatch
		"package main\nfn f(a: i64) -> i64 {\n return a\n}\nfn main() -> i64 {\n return f(1, 2)\n}\n",
		// argument type mismatch
		"package main\nfn f(a: i64) -> i64 {\n return a\n}\nfn main() -> i64 {\n return f(\"s\")\n}\n",
		// wrong return type
		"package main\nfn main() -> i64 {\n return \"s\"\n}\n",
		// arithmetic on strings
		"package main\nfn main() -> i64 {\n var s: string = \"a\"\n return s + s\n}\n",
		// unknown stdio function
		"package main\nimport \"stdio\"\nfn main() -> i64 {\n stdio.Foo(1)\n return 0\n}\n",
		// wrong intrinsic argument type
		"package main\nimport \"stdio\"\nfn main() -> i64 {\n stdio.Println(\"s\")\n return 0\n}\n",
		// missing main
		"package main\nfn other() -> i64 {\n return 0\n}\n",
		// main with parameters
		"package main\nfn main(x: i64) -> i64 {\n return x\n}\n",
		// calling a private module function
		"package main\nimport \"math\"\nfn main() -> i64 {\n return math.internal(1)\n}\n",
		// unknown module function
		"package main\nimport \"math\"\nfn main() -> i64 {\n return math.Bogus(1)\n}\n",
		// module used without import
		"package main\nfn main() -> i64 {\n return math.Abs(1)\n}\n",
	}
	for _, src := range cases {
		err := resolveErr(t, src)
		be.True(t, diagnostics.IsKind(err, diagnostics.TypeError))
	}
}

func TestModuleErrors(t *testing.T) {
	err := resolveErr(t, "package main\nimport \"bogus\"\nfn main() -> i64 {\n return 0\n}\n")
	be.True(t, diagnostics.IsKind(err, diagnostics.ModuleError))
}

func TestModuleToModuleCallRejected(t *testing.T) {
	badMath, err := parser.Parse(`package math
pub fn Twice(x: i64) -> i64 {
    return Abs(x) * 2
}
pub fn Abs(x: i64) -> i64 {
    return x
}
`, "math.per")
	be.Err(t, err, nil)

	file, err := parser.Parse("package main\nimport \"math\"\nfn main() -> i64 {\n return math.Twice(1)\n}\n", "test.per")
	be.Err(t, err, nil)

	_, err = Resolve(file, map[string]*parser.File{"math": badMath})
	be.True(t, diagnostics.IsKind(err, diagnostics.ModuleError))
}

func TestMainImplicitResult(t *testing.T) {
	prog := resolve(t, `package main
import "stdio"

fn main() {
    stdio.Println(8)
    return 0
}
`)
	be.True(t, types.Equal(prog.Main.Return, types.I64))
}
