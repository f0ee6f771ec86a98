// Package parser implements the Perin recursive descent parser.
// It consumes the lexer's token stream and produces one AST per
// compiled file, stopping at the first grammar violation.
package parser

import (
	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/lexer"
	"github.com/perin-lang/perin/internal/position"
	"github.com/perin-lang/perin/internal/types"
)

// Parser holds the token stream and the cursor into it.
type Parser struct {
	tokens []lexer.Token
	idx    int
}

// Parse tokenizes src and parses it into a File.
func Parse(src, filename string) (*File, error) {
	tokens, err := lexer.NewWithFilename(src, filename).Tokenize()
	if err != nil {
		return nil, err
	}
	return New(tokens).ParseFile()
}

// New creates a parser over an already-lexed token sequence.
// The sequence must be terminated by an EOF token.
func New(tokens []lexer.Token) *Parser {
	return &Parser{tokens: tokens}
}

// current returns the token under the cursor.
func (p *Parser) current() lexer.Token {
	return p.tokens[p.idx]
}

// peek returns the token after the cursor.
func (p *Parser) peek() lexer.Token {
	if p.idx+1 >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.idx+1]
}

// next advances the cursor. The EOF token is sticky.
func (p *Parser) next() {
	if p.idx < len(p.tokens)-1 {
		p.idx++
	}
}

func (p *Parser) currentIs(tt lexer.TokenType) bool { return p.current().Type == tt }

// accept consumes the current token if it has the given type.
func (p *Parser) accept(tt lexer.TokenType) bool {
	if p.currentIs(tt) {
		p.next()
		return true
	}
	return false
}

// expect consumes a token of the given type or fails.
func (p *Parser) expect(tt lexer.TokenType) (lexer.Token, error) {
	tok := p.current()
	if tok.Type != tt {
		return tok, p.errf("expected %s, got %s", tt, describe(tok))
	}
	p.next()
	return tok, nil
}

// skipNewlines consumes any run of newline tokens.
func (p *Parser) skipNewlines() {
	for p.currentIs(lexer.TokenNewline) {
		p.next()
	}
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return diagnostics.New(diagnostics.ParseError, p.current().Pos, format, args...)
}

func describe(tok lexer.Token) string {
	switch tok.Type {
	case lexer.TokenEOF:
		return "end of file"
	case lexer.TokenNewline:
		return "newline"
	default:
		return "'" + tok.Literal + "'"
	}
}

// ParseFile parses a whole source file:
// a package clause, imports, then function declarations.
func (p *Parser) ParseFile() (*File, error) {
	p.skipNewlines()

	pkgTok, err := p.expect(lexer.TokenPackage)
	if err != nil {
		return nil, err
	}
	nameTok, err := p.expect(lexer.TokenIdentifier)
	if err != nil {
		return nil, err
	}
	file := &File{Package: nameTok.Literal, PkgPos: pkgTok.Pos}
	if err := p.endOfStatement(); err != nil {
		return nil, err
	}

	p.skipNewlines()
	for p.currentIs(lexer.TokenImport) {
		imp, err := p.parseImport()
		if err != nil {
			return nil, err
		}
		file.Imports = append(file.Imports, imp)
		p.skipNewlines()
	}

	for !p.currentIs(lexer.TokenEOF) {
		fn, err := p.parseFuncDecl()
		if err != nil {
			return nil, err
		}
		file.Functions = append(file.Functions, fn)
		p.skipNewlines()
	}
	return file, nil
}

func (p *Parser) parseImport() (*Import, error) {
	if _, err := p.expect(lexer.TokenImport); err != nil {
		return nil, err
	}
	tok, err := p.expect(lexer.TokenString)
	if err != nil {
		return nil, err
	}
	if err := p.endOfStatement(); err != nil {
		return nil, err
	}
	return &Import{Name: tok.Literal, NamePos: tok.Pos}, nil
}

func (p *Parser) parseFuncDecl() (*FuncDecl, error) {
	public := p.accept(lexer.TokenPub)

	if _, err := p.expect(lexer.TokenFn); err != nil {
		return nil, err
	}
	nameTok, err := p.expect(lexer.TokenIdentifier)
	if err != nil {
		return nil, err
	}
	fn := &FuncDecl{Name: nameTok.Literal, NamePos: nameTok.Pos, Public: public, Return: types.Void}

	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	for !p.currentIs(lexer.TokenRParen) {
		if len(fn.Params) > 0 {
			if _, err := p.expect(lexer.TokenComma); err != nil {
				return nil, err
			}
		}
		pname, err := p.expect(lexer.TokenIdentifier)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenColon); err != nil {
			return nil, err
		}
		ptype, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fn.Params = append(fn.Params, Param{Name: pname.Literal, NamePos: pname.Pos, Type: ptype})
	}
	p.next() // consume )

	if p.accept(lexer.TokenArrow) {
		ret, err := p.parseType()
		if err != nil {
			return nil, err
		}
		fn.Return = ret
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	fn.Body = body
	return fn, nil
}

// parseType parses i64, string, *T, and [T; N] type syntax.
// The array length must be a literal integer.
func (p *Parser) parseType() (types.Type, error) {
	switch p.current().Type {
	case lexer.TokenIdentifier:
		tok := p.current()
		p.next()
		switch tok.Literal {
		case "i64":
			return types.I64, nil
		case "string":
			return types.String, nil
		case "void":
			return types.Void, nil
		}
		return nil, diagnostics.New(diagnostics.ParseError, tok.Pos, "unknown type %q", tok.Literal)
	case lexer.TokenStar:
		p.next()
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		return &types.Pointer{Elem: elem}, nil
	case lexer.TokenLBracket:
		p.next()
		elem, err := p.parseType()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenSemicolon); err != nil {
			return nil, err
		}
		lenTok, err := p.expect(lexer.TokenInteger)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRBracket); err != nil {
			return nil, err
		}
		if lenTok.IntVal <= 0 {
			return nil, diagnostics.New(diagnostics.ParseError, lenTok.Pos, "array length must be positive, got %d", lenTok.IntVal)
		}
		return &types.Array{Elem: elem, Len: lenTok.IntVal}, nil
	}
	return nil, p.errf("expected type, got %s", describe(p.current()))
}

func (p *Parser) parseBlock() (*Block, error) {
	lbrace, err := p.expect(lexer.TokenLBrace)
	if err != nil {
		return nil, err
	}
	block := &Block{LBrace: lbrace.Pos}
	p.skipNewlines()
	for !p.currentIs(lexer.TokenRBrace) {
		if p.currentIs(lexer.TokenEOF) {
			return nil, p.errf("unexpected end of file, expected '}'")
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		block.Stmts = append(block.Stmts, stmt)
		if err := p.endOfStatement(); err != nil {
			return nil, err
		}
		p.skipNewlines()
	}
	p.next() // consume }
	return block, nil
}

// endOfStatement consumes the statement terminator: an optional
// semicolon followed by a newline, or a closing brace or EOF left
// for the caller.
func (p *Parser) endOfStatement() error {
	p.accept(lexer.TokenSemicolon)
	switch p.current().Type {
	case lexer.TokenNewline:
		p.next()
		return nil
	case lexer.TokenRBrace, lexer.TokenEOF:
		return nil
	}
	return p.errf("expected end of statement, got %s", describe(p.current()))
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.current().Type {
	case lexer.TokenVar:
		return p.parseVarDecl()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenReturn:
		return p.parseReturn()
	case lexer.TokenLBrace:
		return p.parseBlock()
	}
	return p.parseSimpleStatement()
}

func (p *Parser) parseVarDecl() (*VarDecl, error) {
	p.next() // consume var
	nameTok, err := p.expect(lexer.TokenIdentifier)
	if err != nil {
		return nil, err
	}
	decl := &VarDecl{Name: nameTok.Literal, NamePos: nameTok.Pos}

	if p.accept(lexer.TokenColon) {
		decl.Type, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}
	if p.accept(lexer.TokenAssign) {
		decl.Init, err = p.parseExpression()
		if err != nil {
			return nil, err
		}
	}
	if decl.Type == nil && decl.Init == nil {
		return nil, diagnostics.New(diagnostics.ParseError, nameTok.Pos, "variable %q needs a type or an initializer", nameTok.Literal)
	}
	return decl, nil
}

func (p *Parser) parseIf() (*If, error) {
	ifTok := p.current()
	p.next()
	cond, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	stmt := &If{IfPos: ifTok.Pos, Cond: cond, Then: then}
	if p.accept(lexer.TokenElse) {
		stmt.Else, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

// parseFor parses the three-clause loop. Init and step may be empty:
// for ; cond ; { ... } is legal.
func (p *Parser) parseFor() (*For, error) {
	forTok := p.current()
	p.next()
	stmt := &For{ForPos: forTok.Pos}

	var err error
	if !p.currentIs(lexer.TokenSemicolon) {
		if p.currentIs(lexer.TokenVar) {
			stmt.Init, err = p.parseVarDecl()
		} else {
			stmt.Init, err = p.parseSimpleStatement()
		}
		if err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(lexer.TokenSemicolon); err != nil {
		return nil, err
	}

	stmt.Cond, err = p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.TokenSemicolon); err != nil {
		return nil, err
	}

	if !p.currentIs(lexer.TokenLBrace) {
		stmt.Step, err = p.parseSimpleStatement()
		if err != nil {
			return nil, err
		}
	}

	stmt.Body, err = p.parseBlock()
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseReturn() (*Return, error) {
	retTok := p.current()
	p.next()
	stmt := &Return{RetPos: retTok.Pos}
	switch p.current().Type {
	case lexer.TokenNewline, lexer.TokenSemicolon, lexer.TokenRBrace, lexer.TokenEOF:
		return stmt, nil
	}
	value, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	stmt.Value = value
	return stmt, nil
}

// parseSimpleStatement parses either an assignment or a bare
// expression statement.
func (p *Parser) parseSimpleStatement() (Statement, error) {
	lhs, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if p.accept(lexer.TokenAssign) {
		rhs, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		return &Assign{Lhs: lhs, Rhs: rhs}, nil
	}
	return &ExprStmt{X: lhs}, nil
}

// Binary operator precedence, loosest first: || then && then
// equality, relational, additive, multiplicative.

func (p *Parser) parseExpression() (Expression, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.currentIs(lexer.TokenOr) {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expression, error) {
	left, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for p.currentIs(lexer.TokenAnd) {
		p.next()
		right, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseEquality() (Expression, error) {
	left, err := p.parseRelational()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.current().Type {
		case lexer.TokenEq:
			op = OpEq
		case lexer.TokenNe:
			op = OpNe
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseRelational()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseRelational() (Expression, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.current().Type {
		case lexer.TokenLt:
			op = OpLt
		case lexer.TokenLe:
			op = OpLe
		case lexer.TokenGt:
			op = OpGt
		case lexer.TokenGe:
			op = OpGe
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseAdditive() (Expression, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.current().Type {
		case lexer.TokenPlus:
			op = OpAdd
		case lexer.TokenMinus:
			op = OpSub
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseMultiplicative() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinOp
		switch p.current().Type {
		case lexer.TokenStar:
			op = OpMul
		case lexer.TokenSlash:
			op = OpDiv
		case lexer.TokenPercent:
			op = OpMod
		default:
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
}

// parseUnary handles - ! & and *, all binding tighter than any
// binary operator.
func (p *Parser) parseUnary() (Expression, error) {
	tok := p.current()
	switch tok.Type {
	case lexer.TokenMinus:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNeg, OpPos: tok.Pos, X: x}, nil
	case lexer.TokenNot:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: OpNot, OpPos: tok.Pos, X: x}, nil
	case lexer.TokenAmpersand:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &AddrOf{OpPos: tok.Pos, X: x}, nil
	case lexer.TokenStar:
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Deref{OpPos: tok.Pos, X: x}, nil
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary expression followed by any number of
// index suffixes.
func (p *Parser) parsePostfix() (Expression, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.currentIs(lexer.TokenLBracket) {
		p.next()
		idx, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRBracket); err != nil {
			return nil, err
		}
		x = &Index{Base: x, Idx: idx}
	}
	return x, nil
}

func (p *Parser) parsePrimary() (Expression, error) {
	tok := p.current()
	switch tok.Type {
	case lexer.TokenInteger:
		p.next()
		return &IntLit{Value: tok.IntVal, LitPos: tok.Pos}, nil
	case lexer.TokenString:
		p.next()
		return &StringLit{Value: tok.Literal, LitPos: tok.Pos}, nil
	case lexer.TokenLParen:
		p.next()
		x, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.TokenRParen); err != nil {
			return nil, err
		}
		return x, nil
	case lexer.TokenIdentifier:
		p.next()
		// module.Func(args) is a qualified call, distinguished from
		// plain calls by the dotted name.
		if p.currentIs(lexer.TokenDot) {
			p.next()
			fnTok, err := p.expect(lexer.TokenIdentifier)
			if err != nil {
				return nil, err
			}
			return p.parseCall(tok.Literal, fnTok.Literal, tok.Pos)
		}
		if p.currentIs(lexer.TokenLParen) {
			return p.parseCall("", tok.Literal, tok.Pos)
		}
		return &Ident{Name: tok.Literal, NamePos: tok.Pos}, nil
	}
	return nil, p.errf("expected expression, got %s", describe(tok))
}

func (p *Parser) parseCall(module, name string, pos position.Position) (Expression, error) {
	if _, err := p.expect(lexer.TokenLParen); err != nil {
		return nil, err
	}
	call := &Call{Module: module, Name: name, NamePos: pos}
	p.skipNewlines()
	for !p.currentIs(lexer.TokenRParen) {
		if len(call.Args) > 0 {
			if _, err := p.expect(lexer.TokenComma); err != nil {
				return nil, err
			}
			p.skipNewlines()
		}
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		p.skipNewlines()
	}
	p.next() // consume )
	return call, nil
}
