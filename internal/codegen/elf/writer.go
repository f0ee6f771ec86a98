package elf

import (
	"bytes"
	"encoding/binary"

	"github.com/perin-lang/perin/internal/codegen/amd64"
	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/position"
)

// Image layout: headers in the first page, code at file offset
// 0x1000 mapped to 0x401000, data directly after the code. One rwx
// PT_LOAD segment maps the whole file at 0x400000; the data area
// must be writable for the read buffer.
const (
	baseVaddr  = 0x400000
	codeOffset = 0x1000
	codeVaddr  = baseVaddr + codeOffset

	ehdrSize = 64
	phdrSize = 56
)

// Emit compiles the program into ELF64 executable bytes.
func Emit(prog *ir.Program) ([]byte, error) {
	a := amd64.New()
	code, err := amd64.EmitProgram(a, prog, platform{})
	if err != nil {
		return nil, err
	}

	// keep the data area 8-aligned behind the code
	for len(code)%8 != 0 {
		code = append(code, 0xCC)
	}

	data, constOffs := layoutConsts(prog.Consts)
	bufOff := len(data)
	data = append(data, make([]byte, BufSize)...)
	dataVaddr := uint64(codeVaddr + len(code))

	for _, f := range a.Fixups() {
		switch f.Kind {
		case amd64.FixupConstAddr:
			amd64.PatchImm64(code, f.Offset, dataVaddr+uint64(constOffs[f.Index]))
		case amd64.FixupBufAddr:
			amd64.PatchImm64(code, f.Offset, dataVaddr+uint64(bufOff))
		case amd64.FixupImport:
			return nil, diagnostics.New(diagnostics.CodegenError, position.Position{}, "import call in ELF image")
		}
	}

	fileSize := uint64(codeOffset + len(code) + len(data))

	var out bytes.Buffer
	out.Write(elfHeader())
	out.Write(programHeader(fileSize))
	out.Write(make([]byte, codeOffset-ehdrSize-phdrSize))
	out.Write(code)
	out.Write(data)
	return out.Bytes(), nil
}

// layoutConsts builds the constant area: each string is an 8-byte
// little endian length followed by the bytes, padded so the next
// entry stays 8-aligned. Returns the area and each entry's offset.
func layoutConsts(consts []string) ([]byte, []int) {
	var data []byte
	offs := make([]int, len(consts))
	for i, s := range consts {
		offs[i] = len(data)
		var lenField [8]byte
		binary.LittleEndian.PutUint64(lenField[:], uint64(len(s)))
		data = append(data, lenField[:]...)
		data = append(data, s...)
		for len(data)%8 != 0 {
			data = append(data, 0)
		}
	}
	return data, offs
}

func elfHeader() []byte {
	h := make([]byte, ehdrSize)
	copy(h, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1, 0})
	binary.LittleEndian.PutUint16(h[16:], 2)    // ET_EXEC
	binary.LittleEndian.PutUint16(h[18:], 0x3E) // EM_X86_64
	binary.LittleEndian.PutUint32(h[20:], 1)    // EV_CURRENT
	binary.LittleEndian.PutUint64(h[24:], codeVaddr)
	binary.LittleEndian.PutUint64(h[32:], ehdrSize) // e_phoff
	binary.LittleEndian.PutUint64(h[40:], 0)        // e_shoff
	binary.LittleEndian.PutUint32(h[48:], 0)        // e_flags
	binary.LittleEndian.PutUint16(h[52:], ehdrSize)
	binary.LittleEndian.PutUint16(h[54:], phdrSize)
	binary.LittleEndian.PutUint16(h[56:], 1) // e_phnum
	return h
}

func programHeader(fileSize uint64) []byte {
	h := make([]byte, phdrSize)
	binary.LittleEndian.PutUint32(h[0:], 1)  // PT_LOAD
	binary.LittleEndian.PutUint32(h[4:], 7)  // rwx
	binary.LittleEndian.PutUint64(h[8:], 0)  // p_offset
	binary.LittleEndian.PutUint64(h[16:], baseVaddr)
	binary.LittleEndian.PutUint64(h[24:], baseVaddr)
	binary.LittleEndian.PutUint64(h[32:], fileSize)
	binary.LittleEndian.PutUint64(h[40:], fileSize)
	binary.LittleEndian.PutUint64(h[48:], 0x1000) // p_align
	return h
}
