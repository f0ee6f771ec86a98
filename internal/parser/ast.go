package parser

import (
	"fmt"
	"strings"

	"github.com/perin-lang/perin/internal/position"
	"github.com/perin-lang/perin/internal/types"
)

// Node is the base interface for all AST nodes.
type Node interface {
	Pos() position.Position
	String() string
}

// Statement represents all statement nodes.
type Statement interface {
	Node
	statementNode()
}

// Expression represents all expression nodes.
type Expression interface {
	Node
	expressionNode()
}

// File is the root of the AST for one compiled source file.
type File struct {
	Package   string
	PkgPos    position.Position
	Imports   []*Import
	Functions []*FuncDecl
}

func (f *File) Pos() position.Position { return f.PkgPos }
func (f *File) String() string         { return fmt.Sprintf("package %s", f.Package) }

// Import is a single import declaration.
type Import struct {
	Name    string
	NamePos position.Position
}

func (i *Import) Pos() position.Position { return i.NamePos }
func (i *Import) String() string         { return fmt.Sprintf("import %q", i.Name) }

// Param is one function parameter.
type Param struct {
	Name    string
	NamePos position.Position
	Type    types.Type
}

// FuncDecl is a function declaration with its body.
type FuncDecl struct {
	Name    string
	NamePos position.Position
	Params  []Param
	Return  types.Type
	Body    *Block
	Public  bool
}

func (f *FuncDecl) Pos() position.Position { return f.NamePos }
func (f *FuncDecl) String() string         { return fmt.Sprintf("fn %s", f.Name) }
func (f *FuncDecl) statementNode()         {}

// Block is a brace-delimited statement list.
type Block struct {
	LBrace position.Position
	Stmts  []Statement
}

func (b *Block) Pos() position.Position { return b.LBrace }
func (b *Block) String() string         { return fmt.Sprintf("{%d stmts}", len(b.Stmts)) }
func (b *Block) statementNode()         {}

// VarDecl declares a local variable, optionally initialized.
type VarDecl struct {
	Name    string
	NamePos position.Position
	Type    types.Type // nil when inferred from Init
	Init    Expression // nil when only declared
}

func (v *VarDecl) Pos() position.Position { return v.NamePos }
func (v *VarDecl) String() string         { return fmt.Sprintf("var %s", v.Name) }
func (v *VarDecl) statementNode()         {}

// Assign stores the value of Rhs into the lvalue Lhs.
type Assign struct {
	Lhs Expression
	Rhs Expression
}

func (a *Assign) Pos() position.Position { return a.Lhs.Pos() }
func (a *Assign) String() string         { return fmt.Sprintf("%s = %s", a.Lhs, a.Rhs) }
func (a *Assign) statementNode()         {}

// If is a conditional with an optional else block.
type If struct {
	IfPos position.Position
	Cond  Expression
	Then  *Block
	Else  *Block // nil when absent
}

func (i *If) Pos() position.Position { return i.IfPos }
func (i *If) String() string         { return fmt.Sprintf("if %s", i.Cond) }
func (i *If) statementNode()         {}

// For is the three-clause loop, the only loop construct.
type For struct {
	ForPos position.Position
	Init   Statement // nil allowed
	Cond   Expression
	Step   Statement // nil allowed
	Body   *Block
}

func (f *For) Pos() position.Position { return f.ForPos }
func (f *For) String() string         { return fmt.Sprintf("for %s", f.Cond) }
func (f *For) statementNode()         {}

// Return exits the enclosing function, optionally with a value.
type Return struct {
	RetPos position.Position
	Value  Expression // nil for bare return
}

func (r *Return) Pos() position.Position { return r.RetPos }
func (r *Return) String() string {
	if r.Value == nil {
		return "return"
	}
	return fmt.Sprintf("return %s", r.Value)
}
func (r *Return) statementNode() {}

// ExprStmt is a standalone expression used as a statement,
// in practice always a call.
type ExprStmt struct {
	X Expression
}

func (e *ExprStmt) Pos() position.Position { return e.X.Pos() }
func (e *ExprStmt) String() string         { return e.X.String() }
func (e *ExprStmt) statementNode()         {}

// Ident is a bare identifier reference.
type Ident struct {
	Name    string
	NamePos position.Position
}

func (i *Ident) Pos() position.Position { return i.NamePos }
func (i *Ident) String() string         { return i.Name }
func (i *Ident) expressionNode()        {}

// IntLit is a decimal integer literal.
type IntLit struct {
	Value  int64
	LitPos position.Position
}

func (l *IntLit) Pos() position.Position { return l.LitPos }
func (l *IntLit) String() string         { return fmt.Sprintf("%d", l.Value) }
func (l *IntLit) expressionNode()        {}

// StringLit is a double-quoted string literal, escapes decoded.
type StringLit struct {
	Value  string
	LitPos position.Position
}

func (l *StringLit) Pos() position.Position { return l.LitPos }
func (l *StringLit) String() string         { return fmt.Sprintf("%q", l.Value) }
func (l *StringLit) expressionNode()        {}

// BinOp enumerates binary operators.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
)

var binOpNames = map[BinOp]string{
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%",
	OpEq: "==", OpNe: "!=", OpLt: "<", OpLe: "<=", OpGt: ">", OpGe: ">=",
	OpAnd: "&&", OpOr: "||",
}

func (op BinOp) String() string { return binOpNames[op] }

// Binary applies a binary operator to two operands.
type Binary struct {
	Op    BinOp
	Left  Expression
	Right Expression
}

func (b *Binary) Pos() position.Position { return b.Left.Pos() }
func (b *Binary) String() string         { return fmt.Sprintf("(%s %s %s)", b.Left, b.Op, b.Right) }
func (b *Binary) expressionNode()        {}

// UnOp enumerates unary operators other than & and *.
type UnOp int

const (
	OpNeg UnOp = iota
	OpNot
)

func (op UnOp) String() string {
	if op == OpNeg {
		return "-"
	}
	return "!"
}

// Unary applies arithmetic negation or logical not.
type Unary struct {
	Op    UnOp
	OpPos position.Position
	X     Expression
}

func (u *Unary) Pos() position.Position { return u.OpPos }
func (u *Unary) String() string         { return fmt.Sprintf("(%s%s)", u.Op, u.X) }
func (u *Unary) expressionNode()        {}

// AddrOf takes the address of an lvalue.
type AddrOf struct {
	OpPos position.Position
	X     Expression
}

func (a *AddrOf) Pos() position.Position { return a.OpPos }
func (a *AddrOf) String() string         { return fmt.Sprintf("(&%s)", a.X) }
func (a *AddrOf) expressionNode()        {}

// Deref loads through a pointer, or stores when used as an
// assignment target.
type Deref struct {
	OpPos position.Position
	X     Expression
}

func (d *Deref) Pos() position.Position { return d.OpPos }
func (d *Deref) String() string         { return fmt.Sprintf("(*%s)", d.X) }
func (d *Deref) expressionNode()        {}

// Index selects one array element.
type Index struct {
	Base Expression
	Idx  Expression
}

func (i *Index) Pos() position.Position { return i.Base.Pos() }
func (i *Index) String() string         { return fmt.Sprintf("%s[%s]", i.Base, i.Idx) }
func (i *Index) expressionNode()        {}

// Call invokes a function. Module is empty for plain calls and holds
// the qualifier for module calls such as stdio.Println.
type Call struct {
	Module  string
	Name    string
	NamePos position.Position
	Args    []Expression
}

func (c *Call) Pos() position.Position { return c.NamePos }

func (c *Call) String() string {
	var sb strings.Builder
	if c.Module != "" {
		sb.WriteString(c.Module)
		sb.WriteByte('.')
	}
	sb.WriteString(c.Name)
	sb.WriteByte('(')
	for i, a := range c.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	sb.WriteByte(')')
	return sb.String()
}
func (c *Call) expressionNode() {}

// Target returns the qualified callee name for diagnostics.
func (c *Call) Target() string {
	if c.Module == "" {
		return c.Name
	}
	return c.Module + "." + c.Name
}
