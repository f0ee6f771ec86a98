package nvm

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/intrinsics"
	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/position"
)

// Image is a decoded NVM file header plus its raw instruction stream.
type Image struct {
	Version *semver.Version
	Entry   uint32
	Consts  []string
	Funcs   []ImageFunc
	Code    []byte
}

// ImageFunc is one function record from the image's function table.
type ImageFunc struct {
	Name   string
	Offset uint32
	Slots  uint16
	Params uint16
}

func formatErr(format string, args ...interface{}) error {
	return diagnostics.New(diagnostics.CodegenError, position.Position{}, format, args...)
}

// Decode parses an NVM image and validates its format version.
func Decode(image []byte) (*Image, error) {
	r := &reader{buf: image}

	magic := r.bytes(4)
	if r.err != nil || string(magic) != Magic {
		return nil, formatErr("not an NVM image")
	}
	major := r.u8()
	minor := r.u8()
	r.u16() // reserved

	version := semver.New(uint64(major), uint64(minor), 0, "", "")
	constraint, err := semver.NewConstraint(fmt.Sprintf(">= %d.0.0, <= %s", FormatVersion.Major(), FormatVersion))
	if err != nil {
		return nil, err
	}
	if !constraint.Check(version) {
		return nil, formatErr("unsupported bytecode format version %s, this reader handles up to %s", version, FormatVersion)
	}

	img := &Image{Version: version, Entry: r.u32()}

	nconsts := r.u32()
	for i := uint32(0); i < nconsts && r.err == nil; i++ {
		n := r.u32()
		img.Consts = append(img.Consts, string(r.bytes(int(n))))
	}

	nfuncs := r.u32()
	for i := uint32(0); i < nfuncs && r.err == nil; i++ {
		fn := ImageFunc{Offset: r.u32(), Slots: r.u16(), Params: r.u16()}
		nameLen := r.u16()
		fn.Name = string(r.bytes(int(nameLen)))
		img.Funcs = append(img.Funcs, fn)
	}

	codeLen := r.u32()
	img.Code = r.bytes(int(codeLen))
	if r.err != nil {
		return nil, formatErr("truncated NVM image")
	}
	return img, nil
}

// Disassemble renders the image's instruction stream as assembly
// text, one instruction per line, with function headers and symbolic
// labels for branch targets. The text is derived from the bytecode
// alone, so it can never drift from what the file actually contains.
func Disassemble(image []byte) (string, error) {
	img, err := Decode(image)
	if err != nil {
		return "", err
	}

	// decode every instruction once to find the branch targets
	targets := make(map[uint32]string)
	if err := img.scan(func(off uint32, d decoded) {
		if d.op == OpJmp || d.op == OpJz {
			if _, ok := targets[d.target]; !ok {
				targets[d.target] = ""
			}
		}
	}); err != nil {
		return "", err
	}
	var ordered []uint32
	for off := range targets {
		ordered = append(ordered, off)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	for i, off := range ordered {
		targets[off] = fmt.Sprintf("L%d", i)
	}

	funcAt := make(map[uint32]ImageFunc)
	for _, fn := range img.Funcs {
		funcAt[fn.Offset] = fn
	}
	callName := func(off uint32) string {
		if fn, ok := funcAt[off]; ok {
			return fn.Name
		}
		return fmt.Sprintf("0x%x", off)
	}

	var sb strings.Builder
	err = img.scan(func(off uint32, d decoded) {
		if fn, ok := funcAt[off]; ok {
			fmt.Fprintf(&sb, "\nfn %s: ; slots=%d params=%d\n", fn.Name, fn.Slots, fn.Params)
		}
		if name, ok := targets[off]; ok {
			fmt.Fprintf(&sb, "%s:\n", name)
		}
		sb.WriteString("    ")
		sb.WriteString(d.render(img, targets, callName))
		sb.WriteByte('\n')
	})
	if err != nil {
		return "", err
	}
	return strings.TrimPrefix(sb.String(), "\n"), nil
}

// decoded is one decoded instruction.
type decoded struct {
	op     byte
	binOp  byte
	dst    uint16
	a, b   uint16
	imm    int64
	index  uint32
	target uint32
	id     byte
	args   []uint16
}

func slotName(w uint16) string {
	if w == NoSlotWord {
		return "_"
	}
	return fmt.Sprintf("s%d", w)
}

func (d decoded) render(img *Image, targets map[uint32]string, callName func(uint32) string) string {
	switch d.op {
	case OpConst:
		return fmt.Sprintf("const %s, %d", slotName(d.dst), d.imm)
	case OpStr:
		lit := ""
		if int(d.index) < len(img.Consts) {
			lit = fmt.Sprintf(" ; %q", img.Consts[d.index])
		}
		return fmt.Sprintf("str %s, #%d%s", slotName(d.dst), d.index, lit)
	case OpMov:
		return fmt.Sprintf("mov %s, %s", slotName(d.dst), slotName(d.a))
	case OpBin:
		return fmt.Sprintf("%s %s, %s, %s", ir.Op(d.binOp), slotName(d.dst), slotName(d.a), slotName(d.b))
	case OpNeg:
		return fmt.Sprintf("neg %s, %s", slotName(d.dst), slotName(d.a))
	case OpNot:
		return fmt.Sprintf("not %s, %s", slotName(d.dst), slotName(d.a))
	case OpAddr:
		return fmt.Sprintf("addr %s, %s", slotName(d.dst), slotName(d.a))
	case OpLoad:
		return fmt.Sprintf("load %s, %s", slotName(d.dst), slotName(d.a))
	case OpStore:
		return fmt.Sprintf("store %s, %s", slotName(d.dst), slotName(d.a))
	case OpJmp:
		return fmt.Sprintf("jmp %s", targets[d.target])
	case OpJz:
		return fmt.Sprintf("jz %s, %s", slotName(d.a), targets[d.target])
	case OpCall:
		return fmt.Sprintf("call %s, %s (%s)", slotName(d.dst), callName(d.target), slotList(d.args))
	case OpIntr:
		return fmt.Sprintf("intr %s, %s (%s)", slotName(d.dst), intrinsics.ID(d.id), slotList(d.args))
	case OpRet:
		if d.dst == NoSlotWord {
			return "ret"
		}
		return fmt.Sprintf("ret %s", slotName(d.dst))
	}
	return fmt.Sprintf("db 0x%02x", d.op)
}

func slotList(args []uint16) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = slotName(a)
	}
	return strings.Join(parts, ", ")
}

// scan walks the instruction stream, invoking fn for each decoded
// instruction with its byte offset.
func (img *Image) scan(fn func(off uint32, d decoded)) error {
	r := &reader{buf: img.Code}
	for r.pos < len(r.buf) {
		off := uint32(r.pos)
		d := decoded{op: r.u8()}
		switch d.op {
		case OpConst:
			d.dst = r.u16()
			d.imm = int64(r.u64())
		case OpStr:
			d.dst = r.u16()
			d.index = r.u32()
		case OpMov, OpNeg, OpNot, OpAddr, OpLoad, OpStore:
			d.dst = r.u16()
			d.a = r.u16()
		case OpBin:
			d.binOp = r.u8()
			d.dst = r.u16()
			d.a = r.u16()
			d.b = r.u16()
		case OpJmp:
			d.target = r.u32()
		case OpJz:
			d.a = r.u16()
			d.target = r.u32()
		case OpCall:
			d.dst = r.u16()
			d.target = r.u32()
			argc := r.u8()
			for i := byte(0); i < argc; i++ {
				d.args = append(d.args, r.u16())
			}
		case OpIntr:
			d.dst = r.u16()
			d.id = r.u8()
			argc := r.u8()
			for i := byte(0); i < argc; i++ {
				d.args = append(d.args, r.u16())
			}
		case OpRet:
			d.dst = r.u16()
		default:
			return formatErr("invalid opcode 0x%02x at offset %d", d.op, off)
		}
		if r.err != nil {
			return formatErr("truncated instruction at offset %d", off)
		}
		fn(off, d)
	}
	return nil
}

// reader is a bounds-checked little endian cursor.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil || r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("short read")
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *reader) u32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}
