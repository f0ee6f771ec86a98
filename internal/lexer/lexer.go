// Package lexer implements the Perin lexical analyzer.
// It turns source text into a finite token stream; a fresh Lexer is
// created per compilation and is not restartable mid-stream.
package lexer

import (
	"fmt"
	"strconv"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/position"
)

// TokenType represents the type of a token.
type TokenType int

// String returns a string representation of the token type.
func (tt TokenType) String() string {
	if name, ok := tokenNames[tt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(tt))
}

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenNewline

	// Literals
	TokenIdentifier
	TokenInteger
	TokenString

	// Keywords
	TokenPackage
	TokenImport
	TokenFn
	TokenVar
	TokenIf
	TokenElse
	TokenFor
	TokenReturn
	TokenPub

	// Operators
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenAssign
	TokenEq
	TokenNe
	TokenLt
	TokenLe
	TokenGt
	TokenGe
	TokenAnd
	TokenOr
	TokenNot
	TokenAmpersand
	TokenArrow

	// Delimiters
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenSemicolon
	TokenColon
	TokenDot
)

// tokenNames provides string representations for token types.
var tokenNames = map[TokenType]string{
	TokenEOF:     "EOF",
	TokenNewline: "NEWLINE",

	TokenIdentifier: "IDENTIFIER",
	TokenInteger:    "INTEGER",
	TokenString:     "STRING",

	TokenPackage: "PACKAGE",
	TokenImport:  "IMPORT",
	TokenFn:      "FN",
	TokenVar:     "VAR",
	TokenIf:      "IF",
	TokenElse:    "ELSE",
	TokenFor:     "FOR",
	TokenReturn:  "RETURN",
	TokenPub:     "PUB",

	TokenPlus:      "PLUS",
	TokenMinus:     "MINUS",
	TokenStar:      "STAR",
	TokenSlash:     "SLASH",
	TokenPercent:   "PERCENT",
	TokenAssign:    "ASSIGN",
	TokenEq:        "EQ",
	TokenNe:        "NE",
	TokenLt:        "LT",
	TokenLe:        "LE",
	TokenGt:        "GT",
	TokenGe:        "GE",
	TokenAnd:       "AND",
	TokenOr:        "OR",
	TokenNot:       "NOT",
	TokenAmpersand: "AMPERSAND",
	TokenArrow:     "ARROW",

	TokenLParen:    "LPAREN",
	TokenRParen:    "RPAREN",
	TokenLBrace:    "LBRACE",
	TokenRBrace:    "RBRACE",
	TokenLBracket:  "LBRACKET",
	TokenRBracket:  "RBRACKET",
	TokenComma:     "COMMA",
	TokenSemicolon: "SEMICOLON",
	TokenColon:     "COLON",
	TokenDot:       "DOT",
}

// keywords maps identifier spellings to their keyword token types.
var keywords = map[string]TokenType{
	"package": TokenPackage,
	"import":  TokenImport,
	"fn":      TokenFn,
	"var":     TokenVar,
	"if":      TokenIf,
	"else":    TokenElse,
	"for":     TokenFor,
	"return":  TokenReturn,
	"pub":     TokenPub,
}

// Token represents a lexical token with position information.
type Token struct {
	Type    TokenType
	Literal string
	IntVal  int64 // decoded value for TokenInteger
	Pos     position.Position
}

// String returns a string representation of the token.
func (t Token) String() string {
	return fmt.Sprintf("{Type: %s, Literal: %q, Pos: %s}", t.Type, t.Literal, t.Pos)
}

// Lexer scans Perin source text byte by byte.
type Lexer struct {
	input    string
	filename string
	position int  // current position in input (points to current char)
	readPos  int  // reading position in input (after current char)
	ch       byte // current char under examination
	line     int
	column   int
}

// New creates a new lexer instance.
func New(input string) *Lexer {
	return NewWithFilename(input, "<input>")
}

// NewWithFilename creates a new lexer instance with a filename for
// error reporting.
func NewWithFilename(input, filename string) *Lexer {
	l := &Lexer{
		input:    input,
		filename: filename,
		line:     1,
		column:   0,
	}
	l.readChar()
	return l
}

// readChar reads the next character and advances position. Line and
// column always describe the character now under examination.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // NUL represents end of input
	} else {
		l.ch = l.input[l.readPos]
	}
	l.position = l.readPos
	l.readPos++
	l.column++
}

// peekChar returns the next character without advancing position.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\r' {
		l.readChar()
	}
}

// currentPos returns the position of the character under examination.
func (l *Lexer) currentPos() position.Position {
	return position.Position{
		Filename: l.filename,
		Line:     l.line,
		Column:   l.column,
		Offset:   l.position,
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

func (l *Lexer) readIdentifier() string {
	start := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[start:l.position]
}

func (l *Lexer) readNumber() string {
	start := l.position
	for isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.position]
}

// readString consumes a double-quoted string literal, decoding the
// \n \t \r \\ \" escapes. The opening quote is the current char.
func (l *Lexer) readString(pos position.Position) (string, error) {
	var out []byte
	for {
		l.readChar()
		switch l.ch {
		case '"':
			l.readChar()
			return string(out), nil
		case 0, '\n':
			return "", diagnostics.New(diagnostics.LexError, pos, "unterminated string literal")
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '\\':
				out = append(out, '\\')
			case '"':
				out = append(out, '"')
			case 0:
				return "", diagnostics.New(diagnostics.LexError, pos, "unterminated string literal")
			default:
				out = append(out, l.ch)
			}
		default:
			out = append(out, l.ch)
		}
	}
}

// skipLineComment consumes a // comment up to but excluding the newline.
func (l *Lexer) skipLineComment() {
	for l.ch != '\n' && l.ch != 0 {
		l.readChar()
	}
}

// NextToken scans the input and returns the next token.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()

	for l.ch == '/' && l.peekChar() == '/' {
		l.skipLineComment()
		l.skipWhitespace()
	}

	pos := l.currentPos()

	newToken := func(tt TokenType, lit string) Token {
		return Token{Type: tt, Literal: lit, Pos: pos}
	}

	var tok Token
	switch l.ch {
	case 0:
		return newToken(TokenEOF, ""), nil
	case '\n':
		tok = newToken(TokenNewline, "\n")
	case '+':
		tok = newToken(TokenPlus, "+")
	case '-':
		if l.peekChar() == '>' {
			l.readChar()
			tok = newToken(TokenArrow, "->")
		} else {
			tok = newToken(TokenMinus, "-")
		}
	case '*':
		tok = newToken(TokenStar, "*")
	case '/':
		tok = newToken(TokenSlash, "/")
	case '%':
		tok = newToken(TokenPercent, "%")
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
			tok = newToken(TokenEq, "==")
		} else {
			tok = newToken(TokenAssign, "=")
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = newToken(TokenNe, "!=")
		} else {
			tok = newToken(TokenNot, "!")
		}
	case '<':
		if l.peekChar() == '=' {
			l.readChar()
			tok = newToken(TokenLe, "<=")
		} else {
			tok = newToken(TokenLt, "<")
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = newToken(TokenGe, ">=")
		} else {
			tok = newToken(TokenGt, ">")
		}
	case '&':
		if l.peekChar() == '&' {
			l.readChar()
			tok = newToken(TokenAnd, "&&")
		} else {
			tok = newToken(TokenAmpersand, "&")
		}
	case '|':
		if l.peekChar() == '|' {
			l.readChar()
			tok = newToken(TokenOr, "||")
		} else {
			return Token{}, diagnostics.New(diagnostics.LexError, pos, "unexpected character %q", string(l.ch))
		}
	case '(':
		tok = newToken(TokenLParen, "(")
	case ')':
		tok = newToken(TokenRParen, ")")
	case '{':
		tok = newToken(TokenLBrace, "{")
	case '}':
		tok = newToken(TokenRBrace, "}")
	case '[':
		tok = newToken(TokenLBracket, "[")
	case ']':
		tok = newToken(TokenRBracket, "]")
	case ',':
		tok = newToken(TokenComma, ",")
	case ';':
		tok = newToken(TokenSemicolon, ";")
	case ':':
		tok = newToken(TokenColon, ":")
	case '.':
		tok = newToken(TokenDot, ".")
	case '"':
		s, err := l.readString(pos)
		if err != nil {
			return Token{}, err
		}
		// readString leaves the lexer past the closing quote.
		return Token{Type: TokenString, Literal: s, Pos: pos}, nil
	default:
		if isLetter(l.ch) || l.ch == '_' {
			lit := l.readIdentifier()
			if kw, ok := keywords[lit]; ok {
				return Token{Type: kw, Literal: lit, Pos: pos}, nil
			}
			return Token{Type: TokenIdentifier, Literal: lit, Pos: pos}, nil
		}
		if isDigit(l.ch) {
			lit := l.readNumber()
			val, err := strconv.ParseInt(lit, 10, 64)
			if err != nil {
				return Token{}, diagnostics.New(diagnostics.LexError, pos, "integer literal %s out of range", lit)
			}
			return Token{Type: TokenInteger, Literal: lit, IntVal: val, Pos: pos}, nil
		}
		return Token{}, diagnostics.New(diagnostics.LexError, pos, "unexpected character %q", string(l.ch))
	}

	l.readChar()
	return tok, nil
}

// Tokenize scans the whole input and returns the token sequence,
// terminated by a TokenEOF entry.
func (l *Lexer) Tokenize() ([]Token, error) {
	var tokens []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
