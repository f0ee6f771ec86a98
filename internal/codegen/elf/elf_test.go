package elf

import (
	"bytes"
	debugelf "debug/elf"
	"testing"

	"github.com/nalgeon/be"

	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/parser"
	"github.com/perin-lang/perin/internal/resolver"
)

func compile(t *testing.T, src string) []byte {
	t.Helper()
	file, err := parser.Parse(src, "test.per")
	be.Err(t, err, nil)
	prog, err := resolver.Resolve(file, nil)
	be.Err(t, err, nil)
	image, err := Emit(ir.Lower(prog))
	be.Err(t, err, nil)
	return image
}

const scenario = `package main
import "stdio"

fn main() -> i64 {
    var x: i64 = 2
    var y: i64 = 3
    stdio.Println(x + y * 2)
    return 0
}
`

func TestImageParses(t *testing.T) {
	image := compile(t, scenario)

	f, err := debugelf.NewFile(bytes.NewReader(image))
	be.Err(t, err, nil)
	defer f.Close()

	be.Equal(t, f.Class, debugelf.ELFCLASS64)
	be.Equal(t, f.Machine, debugelf.EM_X86_64)
	be.Equal(t, f.Type, debugelf.ET_EXEC)
	be.Equal(t, f.Entry, uint64(codeVaddr))
}

func TestSingleLoadSegmentCoversEntry(t *testing.T) {
	image := compile(t, scenario)

	f, err := debugelf.NewFile(bytes.NewReader(image))
	be.Err(t, err, nil)
	defer f.Close()

	var loads []*debugelf.Prog
	for _, p := range f.Progs {
		if p.Type == debugelf.PT_LOAD {
			loads = append(loads, p)
		}
	}
	be.Equal(t, len(loads), 1)

	seg := loads[0]
	be.True(t, seg.Vaddr <= f.Entry)
	be.True(t, f.Entry < seg.Vaddr+seg.Memsz)
	be.True(t, seg.Flags&debugelf.PF_X != 0)
	be.True(t, seg.Flags&debugelf.PF_W != 0)
}

func TestStringConstantsInImage(t *testing.T) {
	image := compile(t, `package main
import "stdio"
fn main() -> i64 {
    stdio.PrintlnStr("ahoy there")
    return 0
}
`)
	be.True(t, bytes.Contains(image, []byte("ahoy there")))
}

func TestEntryStubCallsMainThenExits(t *testing.T) {
	image := compile(t, scenario)
	code := image[codeOffset:]

	// call rel32 to main, then mov rdi,rax; mov rax,60; syscall
	be.Equal(t, code[0], byte(0xE8))
	be.Equal(t, code[5], byte(0x48)) // mov rdi, rax
	be.Equal(t, code[6], byte(0x89))
	be.Equal(t, code[7], byte(0xC7))
	// exit syscall number load ends with 0f 05
	idx := bytes.Index(code[:64], []byte{0x0F, 0x05})
	be.True(t, idx > 0)
}

func TestDeterministicOutput(t *testing.T) {
	a := compile(t, scenario)
	b := compile(t, scenario)
	be.True(t, bytes.Equal(a, b))
}
