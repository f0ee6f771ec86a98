// Package types defines the Perin type system. Types are compared
// structurally; two array types with the same element type and length
// are equal regardless of where they were written.
package types

import "fmt"

// Type is the interface implemented by all Perin types.
type Type interface {
	typeNode()
	String() string
}

// Basic is a non-composite type.
type Basic int

const (
	Void Basic = iota
	I64
	String
)

func (b Basic) typeNode() {}

func (b Basic) String() string {
	switch b {
	case Void:
		return "void"
	case I64:
		return "i64"
	case String:
		return "string"
	}
	return fmt.Sprintf("basic(%d)", int(b))
}

// Array is a fixed-length array type.
type Array struct {
	Elem Type
	Len  int64
}

func (a *Array) typeNode()      {}
func (a *Array) String() string { return fmt.Sprintf("[%s; %d]", a.Elem, a.Len) }

// Pointer is a pointer to a single element.
type Pointer struct {
	Elem Type
}

func (p *Pointer) typeNode()      {}
func (p *Pointer) String() string { return "*" + p.Elem.String() }

// Equal reports structural equality of two types.
func Equal(a, b Type) bool {
	switch x := a.(type) {
	case Basic:
		y, ok := b.(Basic)
		return ok && x == y
	case *Array:
		y, ok := b.(*Array)
		return ok && x.Len == y.Len && Equal(x.Elem, y.Elem)
	case *Pointer:
		y, ok := b.(*Pointer)
		return ok && Equal(x.Elem, y.Elem)
	}
	return false
}

// IsI64 reports whether t is the i64 type.
func IsI64(t Type) bool { return Equal(t, I64) }

// IsString reports whether t is the string type.
func IsString(t Type) bool { return Equal(t, String) }
