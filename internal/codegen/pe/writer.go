package pe

import (
	"bytes"
	"encoding/binary"

	"github.com/perin-lang/perin/internal/codegen/amd64"
	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/position"
)

const (
	imageBase = 0x140000000
	sectAlign = 0x1000
	fileAlign = 0x200

	textRVA = 0x1000

	dosSize     = 128
	coffSize    = 24 // signature + COFF header
	optSize     = 240
	sectHdrSize = 40
	numSections = 3
	headersSize = dosSize + coffSize + optSize + numSections*sectHdrSize // 512
)

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}

// Emit compiles the program into PE32+ executable bytes.
func Emit(prog *ir.Program) ([]byte, error) {
	a := amd64.New()
	code, err := amd64.EmitProgram(a, prog, platform{})
	if err != nil {
		return nil, err
	}

	data, constOffs := layoutConsts(prog.Consts)
	bufOff := len(data)
	data = append(data, make([]byte, BufSize)...)

	idataRVA := alignUp(textRVA+uint32(len(code)), sectAlign)
	idata, iatOff := buildImports(idataRVA)
	iatRVA := idataRVA + iatOff
	dataRVA := alignUp(idataRVA+uint32(len(idata)), sectAlign)

	iatIndex := make(map[string]int, len(imports))
	for i, name := range imports {
		iatIndex[name] = i
	}

	for _, f := range a.Fixups() {
		switch f.Kind {
		case amd64.FixupConstAddr:
			amd64.PatchImm64(code, f.Offset, imageBase+uint64(dataRVA)+uint64(constOffs[f.Index]))
		case amd64.FixupBufAddr:
			amd64.PatchImm64(code, f.Offset, imageBase+uint64(dataRVA)+uint64(bufOff))
		case amd64.FixupImport:
			idx, ok := iatIndex[f.Name]
			if !ok {
				return nil, diagnostics.New(diagnostics.CodegenError, position.Position{}, "unknown import %q", f.Name)
			}
			target := int64(iatRVA) + int64(8*idx)
			next := int64(textRVA) + int64(f.Offset) + 4
			if err := amd64.PatchRel32(code, f.Offset, target, next); err != nil {
				return nil, err
			}
		}
	}

	textRaw := alignUp(uint32(len(code)), fileAlign)
	idataRaw := alignUp(uint32(len(idata)), fileAlign)
	dataRaw := alignUp(uint32(len(data)), fileAlign)

	textPtr := uint32(headersSize)
	idataPtr := textPtr + textRaw
	dataPtr := idataPtr + idataRaw

	sizeOfImage := alignUp(dataRVA+uint32(len(data)), sectAlign)

	var out bytes.Buffer
	out.Write(dosHeader())
	writeCOFF(&out)
	writeOptional(&out, optionalLayout{
		sizeOfCode:  textRaw,
		sizeOfData:  idataRaw + dataRaw,
		entryRVA:    textRVA,
		sizeOfImage: sizeOfImage,
		importRVA:   idataRVA,
		iatRVA:      iatRVA,
	})
	writeSection(&out, ".text", uint32(len(code)), textRVA, textRaw, textPtr, 0x60000020)
	writeSection(&out, ".idata", uint32(len(idata)), idataRVA, idataRaw, idataPtr, 0xC0000040)
	writeSection(&out, ".data", uint32(len(data)), dataRVA, dataRaw, dataPtr, 0xC0000040)

	writePadded(&out, code, textRaw)
	writePadded(&out, idata, idataRaw)
	writePadded(&out, data, dataRaw)
	return out.Bytes(), nil
}

func writePadded(out *bytes.Buffer, b []byte, raw uint32) {
	out.Write(b)
	out.Write(make([]byte, int(raw)-len(b)))
}

// layoutConsts builds the .data constant area: an 8-byte little
// endian length then the bytes, each entry 8-aligned.
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

// buildImports lays out the .idata section: import directory table,
// lookup table, address table, hint/name entries, and the dll name.
// Returns the section bytes and the IAT's offset within it.
func buildImports(rva uint32) ([]byte, uint32) {
	n := len(imports)
	idtOff := uint32(0)
	iltOff := uint32(2 * 20)
	iatOff := iltOff + uint32(8*(n+1))
	namesOff := iatOff + uint32(8*(n+1))

	// hint/name entries, 2-aligned
	var names []byte
	nameRVAs := make([]uint32, n)
	for i, imp := range imports {
		nameRVAs[i] = rva + namesOff + uint32(len(names))
		names = append(names, 0, 0) // hint
		names = append(names, imp...)
		names = append(names, 0)
		if len(names)%2 != 0 {
			names = append(names, 0)
		}
	}
	dllNameRVA := rva + namesOff + uint32(len(names))
	names = append(names, "KERNEL32.dll"...)
	names = append(names, 0, 0)

	size := namesOff + uint32(len(names))
	idata := make([]byte, size)

	// directory entry for KERNEL32 followed by the null terminator
	binary.LittleEndian.PutUint32(idata[idtOff:], rva+iltOff)
	binary.LittleEndian.PutUint32(idata[idtOff+12:], dllNameRVA)
	binary.LittleEndian.PutUint32(idata[idtOff+16:], rva+iatOff)

	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint64(idata[iltOff+uint32(8*i):], uint64(nameRVAs[i]))
		binary.LittleEndian.PutUint64(idata[iatOff+uint32(8*i):], uint64(nameRVAs[i]))
	}
	copy(idata[namesOff:], names)
	return idata, iatOff
}

// dosHeader returns the MZ header and the real-mode stub.
func dosHeader() []byte {
	h := make([]byte, dosSize)
	h[0] = 'M'
	h[1] = 'Z'
	binary.LittleEndian.PutUint16(h[2:], 0x90)  // bytes in last page
	binary.LittleEndian.PutUint16(h[4:], 3)     // pages
	binary.LittleEndian.PutUint16(h[8:], 4)     // header paragraphs
	binary.LittleEndian.PutUint16(h[24:], 0x40) // relocation table offset
	binary.LittleEndian.PutUint32(h[60:], dosSize)

	stub := []byte{
		0x0E, 0x1F, 0xBA, 0x0E, 0x00, 0xB4, 0x09, 0xCD,
		0x21, 0xB8, 0x01, 0x4C, 0xCD, 0x21,
	}
	copy(h[64:], stub)
	copy(h[64+len(stub):], "This program cannot be run in DOS mode.\r\n$")
	return h
}

func writeCOFF(out *bytes.Buffer) {
	out.WriteString("PE\x00\x00")
	var h [20]byte
	binary.LittleEndian.PutUint16(h[0:], 0x8664) // machine
	binary.LittleEndian.PutUint16(h[2:], numSections)
	binary.LittleEndian.PutUint16(h[16:], optSize)
	// executable image, relocations stripped, large address aware
	binary.LittleEndian.PutUint16(h[18:], 0x0023)
	out.Write(h[:])
}

type optionalLayout struct {
	sizeOfCode  uint32
	sizeOfData  uint32
	entryRVA    uint32
	sizeOfImage uint32
	importRVA   uint32
	iatRVA      uint32
}

func writeOptional(out *bytes.Buffer, lo optionalLayout) {
	h := make([]byte, optSize)
	binary.LittleEndian.PutUint16(h[0:], 0x20B) // PE32+
	h[2] = 14                                   // linker major
	binary.LittleEndian.PutUint32(h[4:], lo.sizeOfCode)
	binary.LittleEndian.PutUint32(h[8:], lo.sizeOfData)
	binary.LittleEndian.PutUint32(h[16:], lo.entryRVA)
	binary.LittleEndian.PutUint32(h[20:], textRVA) // base of code
	binary.LittleEndian.PutUint64(h[24:], imageBase)
	binary.LittleEndian.PutUint32(h[32:], sectAlign)
	binary.LittleEndian.PutUint32(h[36:], fileAlign)
	binary.LittleEndian.PutUint16(h[40:], 6) // OS major
	binary.LittleEndian.PutUint16(h[48:], 6) // subsystem major
	binary.LittleEndian.PutUint32(h[56:], lo.sizeOfImage)
	binary.LittleEndian.PutUint32(h[60:], headersSize)
	binary.LittleEndian.PutUint16(h[68:], 3) // console subsystem
	binary.LittleEndian.PutUint64(h[72:], 0x100000) // stack reserve
	binary.LittleEndian.PutUint64(h[80:], 0x1000)   // stack commit
	binary.LittleEndian.PutUint64(h[88:], 0x100000) // heap reserve
	binary.LittleEndian.PutUint64(h[96:], 0x1000)   // heap commit
	binary.LittleEndian.PutUint32(h[108:], 16)      // rva and sizes

	// data directories: import table and IAT
	dirs := 112
	binary.LittleEndian.PutUint32(h[dirs+8:], lo.importRVA)
	binary.LittleEndian.PutUint32(h[dirs+12:], 2*20)
	binary.LittleEndian.PutUint32(h[dirs+12*8:], lo.iatRVA)
	binary.LittleEndian.PutUint32(h[dirs+12*8+4:], uint32(8*(len(imports)+1)))
	out.Write(h[:])
}

func writeSection(out *bytes.Buffer, name string, vsize, rva, raw, ptr, chars uint32) {
	h := make([]byte, sectHdrSize)
	copy(h, name)
	binary.LittleEndian.PutUint32(h[8:], vsize)
	binary.LittleEndian.PutUint32(h[12:], rva)
	binary.LittleEndian.PutUint32(h[16:], raw)
	binary.LittleEndian.PutUint32(h[20:], ptr)
	binary.LittleEndian.PutUint32(h[36:], chars)
	out.Write(h[:])
}
