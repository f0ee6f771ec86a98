package types

import (
	"testing"

	"github.com/nalgeon/be"
)

func TestStructuralEquality(t *testing.T) {
	be.True(t, Equal(I64, I64))
	be.True(t, !Equal(I64, String))
	be.True(t, Equal(&Array{Elem: I64, Len: 10}, &Array{Elem: I64, Len: 10}))
	be.True(t, !Equal(&Array{Elem: I64, Len: 10}, &Array{Elem: I64, Len: 11}))
	be.True(t, !Equal(&Array{Elem: I64, Len: 10}, I64))
	be.True(t, Equal(&Pointer{Elem: I64}, &Pointer{Elem: I64}))
	be.True(t, !Equal(&Pointer{Elem: I64}, &Pointer{Elem: String}))
	be.True(t, Equal(
		&Pointer{Elem: &Array{Elem: I64, Len: 3}},
		&Pointer{Elem: &Array{Elem: I64, Len: 3}},
	))
}

func TestStringRendering(t *testing.T) {
	be.Equal(t, I64.String(), "i64")
	be.Equal(t, String.String(), "string")
	be.Equal(t, Void.String(), "void")
	be.Equal(t, (&Array{Elem: I64, Len: 3}).String(), "[i64; 3]")
	be.Equal(t, (&Pointer{Elem: I64}).String(), "*i64")
}
