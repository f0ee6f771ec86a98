// Package resolver implements name resolution and type checking.
// It walks the AST once per function body, after a first pass that
// registers every function signature, so forward references within a
// file always resolve. The annotated result is recorded in a side
// table; the AST itself is never mutated.
package resolver

import (
	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/intrinsics"
	"github.com/perin-lang/perin/internal/parser"
	"github.com/perin-lang/perin/internal/position"
	"github.com/perin-lang/perin/internal/types"
)

// SymbolKind is the storage class of a resolved name.
type SymbolKind int

const (
	SymLocal SymbolKind = iota
	SymParam
)

// Symbol is a name bound to a type and a storage class.
type Symbol struct {
	Name string
	Kind SymbolKind
	Type types.Type
	Pos  position.Position
}

// Func is one function selected for compilation. Module functions
// carry their qualified name, for example "math.Abs".
type Func struct {
	Name   string
	Decl   *parser.FuncDecl
	Params []*Symbol
	Return types.Type
}

// Target is the resolved callee of a call site: either a fixed stdio
// intrinsic or a compiled function.
type Target struct {
	Intrinsic bool
	ID        intrinsics.ID
	Func      *Func
	Result    types.Type
}

// Info carries the annotations produced by resolution, keyed by AST
// node. Lowering consumes these instead of re-deriving types.
type Info struct {
	Types map[parser.Expression]types.Type
	Uses  map[*parser.Ident]*Symbol
	Defs  map[*parser.VarDecl]*Symbol
	Calls map[*parser.Call]*Target
}

// Program is the fully resolved compilation unit: the main file's
// functions plus every function of each imported non-stdio module.
type Program struct {
	Funcs []*Func
	Main  *Func
	Info  *Info
}

// scopeRec is one record in the scope arena. Parent is an index into
// the arena, -1 for the outermost scope.
type scopeRec struct {
	parent  int
	symbols map[string]*Symbol
}

type resolver struct {
	info   *Info
	funcs  map[string]*Func // qualified name -> function
	order  []*Func
	scopes []scopeRec
	cur    int

	// set while checking a module function body; plain and qualified
	// calls are rejected there, stdio excepted
	inModule string
	imports  map[string]bool
}

// Resolve type-checks the main file together with its imported
// modules. The modules map holds the parsed source of every non-stdio
// module the file may import, keyed by module name.
func Resolve(file *parser.File, modules map[string]*parser.File) (*Program, error) {
	r := &resolver{
		info: &Info{
			Types: make(map[parser.Expression]types.Type),
			Uses:  make(map[*parser.Ident]*Symbol),
			Defs:  make(map[*parser.VarDecl]*Symbol),
			Calls: make(map[*parser.Call]*Target),
		},
		funcs:   make(map[string]*Func),
		imports: make(map[string]bool),
	}

	imported := make(map[string]*parser.File)
	for _, imp := range file.Imports {
		if imp.Name == "stdio" {
			r.imports["stdio"] = true
			continue
		}
		mod, ok := modules[imp.Name]
		if !ok {
			return nil, diagnostics.New(diagnostics.ModuleError, imp.Pos(), "unknown module %q", imp.Name)
		}
		if r.imports[imp.Name] {
			return nil, diagnostics.New(diagnostics.ModuleError, imp.Pos(), "module %q imported twice", imp.Name)
		}
		r.imports[imp.Name] = true
		imported[imp.Name] = mod
	}

	// First pass: register every signature before checking any body,
	// so functions may call functions declared later in the file.
	if err := r.declareFile("", file); err != nil {
		return nil, err
	}
	for name, mod := range imported {
		if err := r.declareFile(name, mod); err != nil {
			return nil, err
		}
	}

	for _, fn := range r.order {
		if err := r.checkFunc(fn); err != nil {
			return nil, err
		}
	}

	main, ok := r.funcs["main"]
	if !ok {
		return nil, diagnostics.New(diagnostics.TypeError, file.Pos(), "missing main function")
	}
	if len(main.Params) != 0 || !types.Equal(main.Return, types.I64) {
		return nil, diagnostics.New(diagnostics.TypeError, main.Decl.Pos(), "main must take no parameters and return i64")
	}

	return &Program{Funcs: r.order, Main: main, Info: r.info}, nil
}

func (r *resolver) declareFile(module string, file *parser.File) error {
	for _, decl := range file.Functions {
		name := decl.Name
		if module != "" {
			name = module + "." + decl.Name
		}
		if _, exists := r.funcs[name]; exists {
			return diagnostics.New(diagnostics.TypeError, decl.Pos(), "function %q redeclared", name)
		}
		fn := &Func{Name: name, Decl: decl, Return: decl.Return}
		if name == "main" && types.Equal(fn.Return, types.Void) {
			// main without a declared result still yields the
			// process exit code
			fn.Return = types.I64
		}
		for _, p := range decl.Params {
			if isArray(p.Type) {
				return diagnostics.New(diagnostics.TypeError, p.NamePos, "arrays cannot be passed as parameters, pass a pointer to an element instead")
			}
			fn.Params = append(fn.Params, &Symbol{Name: p.Name, Kind: SymParam, Type: p.Type, Pos: p.NamePos})
		}
		if isArray(decl.Return) {
			return diagnostics.New(diagnostics.TypeError, decl.Pos(), "arrays cannot be returned from functions")
		}
		r.funcs[name] = fn
		r.order = append(r.order, fn)
	}
	return nil
}

func isArray(t types.Type) bool {
	_, ok := t.(*types.Array)
	return ok
}

// Scope arena. Scopes form a tree through parent indices; lookup is
// iterative upward traversal.

func (r *resolver) pushScope() {
	r.scopes = append(r.scopes, scopeRec{parent: r.cur, symbols: make(map[string]*Symbol)})
	r.cur = len(r.scopes) - 1
}

func (r *resolver) popScope() {
	r.cur = r.scopes[r.cur].parent
}

func (r *resolver) declare(sym *Symbol) error {
	sc := &r.scopes[r.cur]
	if _, exists := sc.symbols[sym.Name]; exists {
		return diagnostics.New(diagnostics.TypeError, sym.Pos, "%q redeclared in this scope", sym.Name)
	}
	sc.symbols[sym.Name] = sym
	return nil
}

func (r *resolver) lookup(name string) *Symbol {
	for i := r.cur; i >= 0; i = r.scopes[i].parent {
		if sym, ok := r.scopes[i].symbols[name]; ok {
			return sym
		}
	}
	return nil
}

func (r *resolver) checkFunc(fn *Func) error {
	r.scopes = r.scopes[:0]
	r.cur = -1
	r.inModule = moduleOf(fn.Name)

	r.pushScope()
	for _, p := range fn.Params {
		if err := r.declare(p); err != nil {
			return err
		}
	}
	if err := r.checkBlock(fn, fn.Decl.Body); err != nil {
		return err
	}
	r.popScope()
	return nil
}

func moduleOf(qualified string) string {
	for i := 0; i < len(qualified); i++ {
		if qualified[i] == '.' {
			return qualified[:i]
		}
	}
	return ""
}

func (r *resolver) checkBlock(fn *Func, block *parser.Block) error {
	r.pushScope()
	defer r.popScope()
	for _, stmt := range block.Stmts {
		if err := r.checkStmt(fn, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *resolver) checkStmt(fn *Func, stmt parser.Statement) error {
	switch s := stmt.(type) {
	case *parser.VarDecl:
		return r.checkVarDecl(s)
	case *parser.Assign:
		return r.checkAssign(s)
	case *parser.If:
		cond, err := r.checkExpr(s.Cond)
		if err != nil {
			return err
		}
		if !types.IsI64(cond) {
			return diagnostics.New(diagnostics.TypeError, s.Cond.Pos(), "if condition must be i64, got %s", cond)
		}
		if err := r.checkBlock(fn, s.Then); err != nil {
			return err
		}
		if s.Else != nil {
			return r.checkBlock(fn, s.Else)
		}
		return nil
	case *parser.For:
		// the init clause scopes over cond, step, and body
		r.pushScope()
		defer r.popScope()
		if s.Init != nil {
			if err := r.checkStmt(fn, s.Init); err != nil {
				return err
			}
		}
		cond, err := r.checkExpr(s.Cond)
		if err != nil {
			return err
		}
		if !types.IsI64(cond) {
			return diagnostics.New(diagnostics.TypeError, s.Cond.Pos(), "for condition must be i64, got %s", cond)
		}
		if s.Step != nil {
			if err := r.checkStmt(fn, s.Step); err != nil {
				return err
			}
		}
		return r.checkBlock(fn, s.Body)
	case *parser.Return:
		if s.Value == nil {
			if !types.Equal(fn.Return, types.Void) {
				return diagnostics.New(diagnostics.TypeError, s.Pos(), "missing return value in %s, want %s", fn.Name, fn.Return)
			}
			return nil
		}
		got, err := r.checkExpr(s.Value)
		if err != nil {
			return err
		}
		if !types.Equal(got, fn.Return) {
			return diagnostics.New(diagnostics.TypeError, s.Value.Pos(), "cannot return %s from %s, want %s", got, fn.Name, fn.Return)
		}
		return nil
	case *parser.ExprStmt:
		_, err := r.checkExpr(s.X)
		return err
	case *parser.Block:
		return r.checkBlock(fn, s)
	}
	return diagnostics.New(diagnostics.TypeError, stmt.Pos(), "unsupported statement")
}

func (r *resolver) checkVarDecl(decl *parser.VarDecl) error {
	t := decl.Type
	if decl.Init != nil {
		got, err := r.checkExpr(decl.Init)
		if err != nil {
			return err
		}
		if isArray(got) {
			return diagnostics.New(diagnostics.TypeError, decl.Init.Pos(), "arrays cannot be assigned as a whole")
		}
		if t == nil {
			t = got
		} else if !types.Equal(t, got) {
			return diagnostics.New(diagnostics.TypeError, decl.Init.Pos(), "cannot initialize %s variable %q with %s", t, decl.Name, got)
		}
	}
	if types.Equal(t, types.Void) {
		return diagnostics.New(diagnostics.TypeError, decl.Pos(), "variable %q cannot have void type", decl.Name)
	}
	sym := &Symbol{Name: decl.Name, Kind: SymLocal, Type: t, Pos: decl.NamePos}
	if err := r.declare(sym); err != nil {
		return err
	}
	r.info.Defs[decl] = sym
	return nil
}

func (r *resolver) checkAssign(assign *parser.Assign) error {
	lt, err := r.checkLvalue(assign.Lhs)
	if err != nil {
		return err
	}
	rt, err := r.checkExpr(assign.Rhs)
	if err != nil {
		return err
	}
	if isArray(lt) {
		return diagnostics.New(diagnostics.TypeError, assign.Lhs.Pos(), "arrays cannot be assigned as a whole")
	}
	if !types.Equal(lt, rt) {
		return diagnostics.New(diagnostics.TypeError, assign.Rhs.Pos(), "cannot assign %s to %s", rt, lt)
	}
	return nil
}

// checkLvalue checks an assignment target or address-of operand:
// an identifier, an array element, or a pointer dereference.
func (r *resolver) checkLvalue(expr parser.Expression) (types.Type, error) {
	switch expr.(type) {
	case *parser.Ident, *parser.Index, *parser.Deref:
		return r.checkExpr(expr)
	}
	return nil, diagnostics.New(diagnostics.TypeError, expr.Pos(), "%s is not assignable", expr)
}

func (r *resolver) checkExpr(expr parser.Expression) (types.Type, error) {
	t, err := r.exprType(expr)
	if err != nil {
		return nil, err
	}
	r.info.Types[expr] = t
	return t, nil
}

func (r *resolver) exprType(expr parser.Expression) (types.Type, error) {
	switch e := expr.(type) {
	case *parser.IntLit:
		return types.I64, nil
	case *parser.StringLit:
		return types.String, nil
	case *parser.Ident:
		sym := r.lookup(e.Name)
		if sym == nil {
			return nil, diagnostics.New(diagnostics.TypeError, e.Pos(), "undefined: %s", e.Name)
		}
		r.info.Uses[e] = sym
		return sym.Type, nil
	case *parser.Unary:
		t, err := r.checkExpr(e.X)
		if err != nil {
			return nil, err
		}
		if !types.IsI64(t) {
			return nil, diagnostics.New(diagnostics.TypeError, e.X.Pos(), "operator %s requires i64, got %s", e.Op, t)
		}
		return types.I64, nil
	case *parser.AddrOf:
		t, err := r.checkLvalue(e.X)
		if err != nil {
			return nil, err
		}
		return &types.Pointer{Elem: t}, nil
	case *parser.Deref:
		t, err := r.checkExpr(e.X)
		if err != nil {
			return nil, err
		}
		ptr, ok := t.(*types.Pointer)
		if !ok {
			return nil, diagnostics.New(diagnostics.TypeError, e.X.Pos(), "cannot dereference %s", t)
		}
		return ptr.Elem, nil
	case *parser.Index:
		base, err := r.checkExpr(e.Base)
		if err != nil {
			return nil, err
		}
		arr, ok := base.(*types.Array)
		if !ok {
			return nil, diagnostics.New(diagnostics.TypeError, e.Base.Pos(), "cannot index %s", base)
		}
		idx, err := r.checkExpr(e.Idx)
		if err != nil {
			return nil, err
		}
		if !types.IsI64(idx) {
			return nil, diagnostics.New(diagnostics.TypeError, e.Idx.Pos(), "array index must be i64, got %s", idx)
		}
		return arr.Elem, nil
	case *parser.Binary:
		return r.checkBinary(e)
	case *parser.Call:
		return r.checkCall(e)
	}
	return nil, diagnostics.New(diagnostics.TypeError, expr.Pos(), "unsupported expression")
}

func (r *resolver) checkBinary(e *parser.Binary) (types.Type, error) {
	lt, err := r.checkExpr(e.Left)
	if err != nil {
		return nil, err
	}
	rt, err := r.checkExpr(e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case parser.OpAdd, parser.OpSub, parser.OpMul, parser.OpDiv, parser.OpMod,
		parser.OpAnd, parser.OpOr,
		parser.OpLt, parser.OpLe, parser.OpGt, parser.OpGe:
		if !types.IsI64(lt) || !types.IsI64(rt) {
			return nil, diagnostics.New(diagnostics.TypeError, e.Pos(), "operator %s requires i64 operands, got %s and %s", e.Op, lt, rt)
		}
		return types.I64, nil
	case parser.OpEq, parser.OpNe:
		if !types.Equal(lt, rt) {
			return nil, diagnostics.New(diagnostics.TypeError, e.Pos(), "operator %s requires matching operand types, got %s and %s", e.Op, lt, rt)
		}
		switch lt.(type) {
		case *types.Pointer:
			return types.I64, nil
		}
		if types.IsI64(lt) {
			return types.I64, nil
		}
		return nil, diagnostics.New(diagnostics.TypeError, e.Pos(), "operator %s is not defined on %s", e.Op, lt)
	}
	return nil, diagnostics.New(diagnostics.TypeError, e.Pos(), "unsupported operator %s", e.Op)
}

func (r *resolver) checkCall(call *parser.Call) (types.Type, error) {
	if r.inModule != "" {
		// Library functions cannot call other library functions,
		// neither in their own module nor across modules. Only
		// stdio intrinsics are reachable from module code.
		if call.Module != "stdio" {
			return nil, diagnostics.New(diagnostics.ModuleError, call.Pos(), "module %s: calls between library functions are not supported, cannot call %s", r.inModule, call.Target())
		}
	}

	if call.Module == "stdio" {
		if !r.imports["stdio"] && r.inModule == "" {
			return nil, diagnostics.New(diagnostics.TypeError, call.Pos(), "module stdio is not imported")
		}
		sig, ok := intrinsics.Lookup(call.Name)
		if !ok {
			return nil, diagnostics.New(diagnostics.TypeError, call.Pos(), "stdio has no function %s", call.Name)
		}
		if err := r.checkArgs(call, sig.Params); err != nil {
			return nil, err
		}
		r.info.Calls[call] = &Target{Intrinsic: true, ID: sig.ID, Result: sig.Result}
		return sig.Result, nil
	}

	if call.Module != "" {
		if !r.imports[call.Module] {
			return nil, diagnostics.New(diagnostics.TypeError, call.Pos(), "module %s is not imported", call.Module)
		}
		fn, ok := r.funcs[call.Target()]
		if !ok {
			return nil, diagnostics.New(diagnostics.TypeError, call.Pos(), "module %s has no function %s", call.Module, call.Name)
		}
		if !fn.Decl.Public {
			return nil, diagnostics.New(diagnostics.TypeError, call.Pos(), "%s is not public", call.Target())
		}
		return r.finishCall(call, fn)
	}

	fn, ok := r.funcs[call.Name]
	if !ok {
		return nil, diagnostics.New(diagnostics.TypeError, call.Pos(), "undefined function %s", call.Name)
	}
	return r.finishCall(call, fn)
}

func (r *resolver) finishCall(call *parser.Call, fn *Func) (types.Type, error) {
	params := make([]types.Type, len(fn.Params))
	for i, p := range fn.Params {
		params[i] = p.Type
	}
	if err := r.checkArgs(call, params); err != nil {
		return nil, err
	}
	r.info.Calls[call] = &Target{Func: fn, Result: fn.Return}
	return fn.Return, nil
}

func (r *resolver) checkArgs(call *parser.Call, params []types.Type) error {
	if len(call.Args) != len(params) {
		return diagnostics.New(diagnostics.TypeError, call.Pos(), "%s takes %d arguments, got %d", call.Target(), len(params), len(call.Args))
	}
	for i, arg := range call.Args {
		got, err := r.checkExpr(arg)
		if err != nil {
			return err
		}
		if !types.Equal(got, params[i]) {
			return diagnostics.New(diagnostics.TypeError, arg.Pos(), "argument %d of %s: cannot use %s as %s", i+1, call.Target(), got, params[i])
		}
	}
	return nil
}
