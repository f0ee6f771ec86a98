package pe

import (
	"bytes"
	debugpe "debug/pe"
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

	f, err := debugpe.NewFile(bytes.NewReader(image))
	be.Err(t, err, nil)
	defer f.Close()

	be.Equal(t, f.Machine, uint16(debugpe.IMAGE_FILE_MACHINE_AMD64))

	opt, ok := f.OptionalHeader.(*debugpe.OptionalHeader64)
	be.True(t, ok)
	be.Equal(t, opt.Magic, uint16(0x20B))
	be.Equal(t, opt.ImageBase, uint64(imageBase))
	be.Equal(t, opt.AddressOfEntryPoint, uint32(textRVA))
	be.Equal(t, opt.Subsystem, uint16(debugpe.IMAGE_SUBSYSTEM_WINDOWS_CUI))
}

func TestSections(t *testing.T) {
	image := compile(t, scenario)

	f, err := debugpe.NewFile(bytes.NewReader(image))
	be.Err(t, err, nil)
	defer f.Close()

	names := make([]string, len(f.Sections))
	for i, s := range f.Sections {
		names[i] = s.Name
	}
	be.Equal(t, names, []string{".text", ".idata", ".data"})

	text := f.Sections[0]
	be.Equal(t, text.VirtualAddress, uint32(textRVA))
	be.True(t, text.Characteristics&0x20000000 != 0) // executable
}

func TestKernel32Imports(t *testing.T) {
	image := compile(t, scenario)

	f, err := debugpe.NewFile(bytes.NewReader(image))
	be.Err(t, err, nil)
	defer f.Close()

	syms, err := f.ImportedSymbols()
	be.Err(t, err, nil)

	want := map[string]bool{}
	for _, imp := range imports {
		want[imp+":KERNEL32.dll"] = false
	}
	for _, s := range syms {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("import %s missing", name)
		}
	}
}

func TestStringConstantsInImage(t *testing.T) {
	image := compile(t, `package main
import "stdio"
fn main() -> i64 {
    stdio.PrintlnStr("windward")
    return 0
}
`)
	be.True(t, bytes.Contains(image, []byte("windward")))
}

func TestDeterministicOutput(t *testing.T) {
	a := compile(t, scenario)
	b := compile(t, scenario)
	be.True(t, bytes.Equal(a, b))
}

func TestNoUnpatchedPlaceholders(t *testing.T) {
	image := compile(t, scenario)

	f, err := debugpe.NewFile(bytes.NewReader(image))
	be.Err(t, err, nil)
	defer f.Close()

	code, err := f.Sections[0].Data()
	be.Err(t, err, nil)

	// every ff 15 site must carry a displacement landing inside the
	// image, never the zero placeholder
	for i := 0; i+6 <= len(code); i++ {
		if code[i] == 0xFF && code[i+1] == 0x15 {
			disp := int32(uint32(code[i+2]) | uint32(code[i+3])<<8 | uint32(code[i+4])<<16 | uint32(code[i+5])<<24)
			if disp == 0 {
				t.Fatalf("unpatched import call at offset %d", i)
			}
		}
	}
}
