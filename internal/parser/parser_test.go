package parser

import (
	"testing"

	"github.com/nalgeon/be"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/types"
)

func parseFile(t *testing.T, src string) *File {
	t.Helper()
	file, err := Parse(src, "test.per")
	be.Err(t, err, nil)
	return file
}

func TestPackageAndImports(t *testing.T) {
	file := parseFile(t, "package main\n\nimport \"stdio\"\nimport \"math\"\n")
	be.Equal(t, file.Package, "main")
	be.Equal(t, len(file.Imports), 2)
	be.Equal(t, file.Imports[0].Name, "stdio")
	be.Equal(t, file.Imports[1].Name, "math")
}

func TestFunctionDecl(t *testing.T) {
	file := parseFile(t, `package main
pub fn add(a: i64, b: i64) -> i64 {
    return a + b
}
fn side() {
    return
}
`)
	be.Equal(t, len(file.Functions), 2)

	add := file.Functions[0]
	be.Equal(t, add.Name, "add")
	be.True(t, add.Public)
	be.Equal(t, len(add.Params), 2)
	be.Equal(t, add.Params[0].Name, "a")
	be.True(t, types.Equal(add.Params[0].Type, types.I64))
	be.True(t, types.Equal(add.Return, types.I64))

	side := file.Functions[1]
	be.True(t, !side.Public)
	be.True(t, types.Equal(side.Return, types.Void))
}

func TestTypeSyntax(t *testing.T) {
	file := parseFile(t, `package main
fn f(p: *i64, s: string, a: [i64; 3], pp: **i64) -> *i64 {
    return p
}
`)
	params := file.Functions[0].Params
	be.True(t, types.Equal(params[0].Type, &types.Pointer{Elem: types.I64}))
	be.True(t, types.Equal(params[1].Type, types.String))
	be.True(t, types.Equal(params[2].Type, &types.Array{Elem: types.I64, Len: 3}))
	be.True(t, types.Equal(params[3].Type, &types.Pointer{Elem: &types.Pointer{Elem: types.I64}}))
}

func TestPrecedence(t *testing.T) {
	cases := []struct{ src, want string }{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"(1 + 2) * 3", "((1 + 2) * 3)"},
		{"a < b == c", "((a < b) == c)"},
		{"a && b || c && d", "((a && b) || (c && d))"},
		{"1 + 2 < 3 * 4", "((1 + 2) < (3 * 4))"},
		{"-a * b", "((-a) * b)"},
		{"!a && b", "((!a) && b)"},
		{"*p + 1", "((*p) + 1)"},
		{"&x == p", "((&x) == p)"},
		{"10 - 3 - 2", "((10 - 3) - 2)"},
	}
	for _, tc := range cases {
		file := parseFile(t, "package main\nfn f() -> i64 {\n return "+tc.src+"\n}\n")
		ret := file.Functions[0].Body.Stmts[0].(*Return)
		be.Equal(t, ret.Value.String(), tc.want)
	}
}

func TestVarDecl(t *testing.T) {
	file := parseFile(t, `package main
fn main() -> i64 {
    var x: i64 = 2
    var arr: [i64; 3]
    var inferred = 7
    return x
}
`)
	stmts := file.Functions[0].Body.Stmts

	x := stmts[0].(*VarDecl)
	be.True(t, types.Equal(x.Type, types.I64))
	be.Equal(t, x.Init.(*IntLit).Value, int64(2))

	arr := stmts[1].(*VarDecl)
	be.True(t, types.Equal(arr.Type, &types.Array{Elem: types.I64, Len: 3}))
	be.True(t, arr.Init == nil)

	inf := stmts[2].(*VarDecl)
	be.True(t, inf.Type == nil)
	be.Equal(t, inf.Init.(*IntLit).Value, int64(7))
}

func TestAssignTargets(t *testing.T) {
	file := parseFile(t, `package main
fn f(p: *i64) {
    x = 1
    arr[0] = 2
    *p = 3
}
`)
	stmts := file.Functions[0].Body.Stmts
	_, isIdent := stmts[0].(*Assign).Lhs.(*Ident)
	be.True(t, isIdent)
	_, isIndex := stmts[1].(*Assign).Lhs.(*Index)
	be.True(t, isIndex)
	_, isDeref := stmts[2].(*Assign).Lhs.(*Deref)
	be.True(t, isDeref)
}

func TestIfElse(t *testing.T) {
	file := parseFile(t, `package main
fn f(x: i64) -> i64 {
    if x > 0 {
        return 1
    } else {
        return 0
    }
}
`)
	stmt := file.Functions[0].Body.Stmts[0].(*If)
	be.Equal(t, stmt.Cond.String(), "(x > 0)")
	be.True(t, stmt.Else != nil)
}

func TestForLoop(t *testing.T) {
	file := parseFile(t, `package main
fn f() {
    for var i: i64 = 0; i < 5; i = i + 1 {
        stdio.Println(i)
    }
}
`)
	loop := file.Functions[0].Body.Stmts[0].(*For)
	init := loop.Init.(*VarDecl)
	be.Equal(t, init.Name, "i")
	be.Equal(t, loop.Cond.String(), "(i < 5)")
	step := loop.Step.(*Assign)
	be.Equal(t, step.Rhs.String(), "(i + 1)")
	be.Equal(t, len(loop.Body.Stmts), 1)
}

func TestForWithoutInitAndStep(t *testing.T) {
	file := parseFile(t, `package main
fn f(n: i64) {
    for ; n > 0 ; {
        n = n - 1
    }
}
`)
	loop := file.Functions[0].Body.Stmts[0].(*For)
	be.True(t, loop.Init == nil)
	be.True(t, loop.Step == nil)
}

func TestModuleCall(t *testing.T) {
	file := parseFile(t, `package main
fn main() -> i64 {
    stdio.Println(40 + 2)
    return sum(1, 2)
}
`)
	stmts := file.Functions[0].Body.Stmts

	call := stmts[0].(*ExprStmt).X.(*Call)
	be.Equal(t, call.Module, "stdio")
	be.Equal(t, call.Name, "Println")
	be.Equal(t, len(call.Args), 1)

	plain := stmts[1].(*Return).Value.(*Call)
	be.Equal(t, plain.Module, "")
	be.Equal(t, plain.Name, "sum")
	be.Equal(t, len(plain.Args), 2)
}

func TestOptionalSemicolons(t *testing.T) {
	file := parseFile(t, "package main\nfn f() -> i64 {\n    var x: i64 = 1;\n    return x;\n}\n")
	be.Equal(t, len(file.Functions[0].Body.Stmts), 2)
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"package main\nfn f( {\n}\n",
		"package main\nfn f() {\n    var x\n}\n",
		"package main\nfn f() {\n    return (1 + \n}\n",
		"package main\nfn f() {\n    var a: [i64; n]\n}\n",
		"package main\nfn f() {\n    if x > 0 {\n",
		"fn f() {}\n",
	}
	for _, src := range cases {
		_, err := Parse(src, "test.per")
		be.True(t, diagnostics.IsKind(err, diagnostics.ParseError))
	}
}
