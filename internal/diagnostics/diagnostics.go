// Package diagnostics defines the compile error type shared by every
// stage of the Perin compiler. All errors are terminal: the pipeline
// stops at the first one and no output file is produced.
package diagnostics

import (
	"fmt"

	"github.com/perin-lang/perin/internal/position"
)

// Kind classifies a compile error by the stage that produced it.
type Kind int

const (
	LexError Kind = iota
	ParseError
	TypeError
	ModuleError
	CodegenError
)

// String returns the human-readable name of the error kind.
func (k Kind) String() string {
	switch k {
	case LexError:
		return "lex error"
	case ParseError:
		return "parse error"
	case TypeError:
		return "type error"
	case ModuleError:
		return "module error"
	case CodegenError:
		return "codegen error"
	default:
		return "error"
	}
}

// CompileError is a terminal compilation failure with source location.
type CompileError struct {
	Kind    Kind
	Message string
	Pos     position.Position
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename, e.Pos.Line, e.Pos.Column, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New creates a CompileError of the given kind at pos.
func New(kind Kind, pos position.Position, format string, args ...interface{}) *CompileError {
	return &CompileError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Pos:     pos,
	}
}

// IsKind reports whether err is a CompileError of the given kind.
func IsKind(err error, kind Kind) bool {
	ce, ok := err.(*CompileError)
	return ok && ce.Kind == kind
}
