// Package nvm emits Novaria bytecode and its textual disassembly.
// The on-disk format is this backend's persisted contract:
//
//	magic   "NVM1"
//	version u8 major, u8 minor, u16 reserved
//	entry   u32 byte offset of main's first instruction in the code
//	consts  u32 count, then per constant: u32 length + bytes
//	funcs   u32 count, then per function:
//	        u32 code offset, u16 slots, u16 params,
//	        u16 name length + name bytes
//	code    u32 length, then the instruction stream
//
// All fields are little endian. Instructions are one opcode byte
// followed by fixed-width operands: slots are u16 (0xFFFF marks an
// absent slot), immediates are i64, constant indexes and jump
// targets are u32. Jump targets are byte offsets into the code
// stream. The operation set mirrors the compiler's IR one to one,
// so the assembly rendering is derived from the bytecode alone and
// the two can never diverge.
package nvm

import "github.com/Masterminds/semver/v3"

// Magic identifies an NVM image.
const Magic = "NVM1"

// FormatVersion is the bytecode format version this compiler writes.
// Readers accept any image with the same major version and a minor
// version no newer than their own.
var FormatVersion = semver.MustParse("1.0.0")

// NoSlotWord encodes an absent slot operand.
const NoSlotWord = 0xFFFF

// Opcodes.
const (
	OpConst byte = 0x01 // dst:u16 imm:i64
	OpStr   byte = 0x02 // dst:u16 idx:u32
	OpMov   byte = 0x03 // dst:u16 src:u16

	OpBin byte = 0x10 // op:u8 dst:u16 a:u16 b:u16
	OpNeg byte = 0x11 // dst:u16 src:u16
	OpNot byte = 0x12 // dst:u16 src:u16

	OpAddr  byte = 0x20 // dst:u16 base:u16
	OpLoad  byte = 0x21 // dst:u16 ptr:u16
	OpStore byte = 0x22 // ptr:u16 src:u16

	OpJmp byte = 0x30 // target:u32
	OpJz  byte = 0x31 // cond:u16 target:u32

	OpCall byte = 0x40 // dst:u16 target:u32 argc:u8 args:u16*
	OpIntr byte = 0x41 // dst:u16 id:u8 argc:u8 args:u16*

	OpRet byte = 0x50 // src:u16
)
