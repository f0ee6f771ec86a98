package compiler

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nalgeon/be"

	"github.com/perin-lang/perin/internal/diagnostics"
)

func write(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	be.Err(t, os.WriteFile(path, []byte(src), 0o644), nil)
	return path
}

const exprProgram = `package main
import "stdio"

fn main() {
    var x: i64 = 2
    var y: i64 = 3
    stdio.Println(x + y * 2)
    return 0
}
`

const swapProgram = `package main
import "stdio"

fn swap(a: *i64, b: *i64) {
    var t: i64 = *a
    *a = *b
    *b = t
}

fn main() -> i64 {
    var x: i64 = 10
    var y: i64 = 20
    stdio.Println(x)
    stdio.Println(y)
    swap(&x, &y)
    stdio.Println(x)
    stdio.Println(y)
    return 0
}
`

const arrayProgram = `package main
import "stdio"

fn main() -> i64 {
    var arr: [i64; 3]
    arr[0] = 5
    arr[1] = arr[0] + 1
    stdio.Println(arr[1])
    return 0
}
`

const loopProgram = `package main
import "stdio"

fn main() -> i64 {
    for var i: i64 = 0; i < 5; i = i + 1 {
        stdio.Println(i)
    }
    return 0
}
`

func TestCompileELF(t *testing.T) {
	src := write(t, "add.per", exprProgram)

	out, err := Compile(src, TargetELF)
	be.Err(t, err, nil)
	be.Equal(t, out, strings.TrimSuffix(src, ".per"))

	image, err := os.ReadFile(out)
	be.Err(t, err, nil)
	be.True(t, bytes.HasPrefix(image, []byte{0x7f, 'E', 'L', 'F'}))

	info, err := os.Stat(out)
	be.Err(t, err, nil)
	be.True(t, info.Mode()&0o100 != 0)
}

func TestCompilePE(t *testing.T) {
	src := write(t, "swap.per", swapProgram)

	out, err := Compile(src, TargetPE)
	be.Err(t, err, nil)
	be.True(t, strings.HasSuffix(out, "swap.exe"))

	image, err := os.ReadFile(out)
	be.Err(t, err, nil)
	be.True(t, bytes.HasPrefix(image, []byte("MZ")))
}

func TestCompileNVM(t *testing.T) {
	src := write(t, "arr.per", arrayProgram)

	out, err := Compile(src, TargetNVM)
	be.Err(t, err, nil)
	be.True(t, strings.HasSuffix(out, "arr.bin"))

	image, err := os.ReadFile(out)
	be.Err(t, err, nil)
	be.True(t, bytes.HasPrefix(image, []byte("NVM1")))
}

func TestCompileNVMCode(t *testing.T) {
	src := write(t, "loop.per", loopProgram)

	out, err := Compile(src, TargetNVMCode)
	be.Err(t, err, nil)
	be.True(t, strings.HasSuffix(out, "loop.asm"))

	text, err := os.ReadFile(out)
	be.Err(t, err, nil)
	be.True(t, strings.HasPrefix(string(text), "fn main:"))
	be.True(t, strings.Contains(string(text), "jmp L0"))
}

func TestFailedCompileLeavesNoArtifact(t *testing.T) {
	src := write(t, "bad.per", `package main
import "stdio"

fn main() -> i64 {
    stdio.Foo(1)
    return 0
}
`)

	_, err := Compile(src, TargetELF)
	be.Err(t, err)
	be.True(t, diagnostics.IsKind(err, diagnostics.TypeError))

	_, statErr := os.Stat(OutputPath(src, TargetELF))
	be.True(t, os.IsNotExist(statErr))
}

func TestEmbeddedMathModule(t *testing.T) {
	src := write(t, "abs.per", `package main
import "stdio"
import "math"

fn main() -> i64 {
    stdio.Println(math.Abs(-42))
    stdio.Println(math.Pow(2, 10))
    return 0
}
`)

	out, err := Compile(src, TargetELF)
	be.Err(t, err, nil)

	image, err := os.ReadFile(out)
	be.Err(t, err, nil)
	be.True(t, bytes.HasPrefix(image, []byte{0x7f, 'E', 'L', 'F'}))
}

func TestEmbeddedStringModule(t *testing.T) {
	src := write(t, "up.per", `package main
import "stdio"
import "string"

fn main() -> i64 {
    stdio.PrintChar(string.ToUpper(104))
    return 0
}
`)

	_, err := Compile(src, TargetNVM)
	be.Err(t, err, nil)
}

func TestSourceDirModuleShadowsEmbedded(t *testing.T) {
	dir := t.TempDir()
	be.Err(t, os.WriteFile(filepath.Join(dir, "math.per"), []byte(`package math

pub fn Abs(x: i64) -> i64 {
    return 7
}
`), 0o644), nil)
	src := filepath.Join(dir, "main.per")
	be.Err(t, os.WriteFile(src, []byte(`package main
import "stdio"
import "math"

fn main() -> i64 {
    stdio.Println(math.Abs(1))
    return 0
}
`), 0o644), nil)

	// the local math.per lacks Pow, so resolving a Pow call proves
	// the source directory won over the embedded module
	_, err := Compile(src, TargetNVM)
	be.Err(t, err, nil)

	bad := filepath.Join(dir, "pow.per")
	be.Err(t, os.WriteFile(bad, []byte(`package main
import "math"

fn main() -> i64 {
    return math.Pow(2, 3)
}
`), 0o644), nil)
	_, err = Compile(bad, TargetNVM)
	be.Err(t, err)
	be.True(t, diagnostics.IsKind(err, diagnostics.TypeError))
}

func TestMissingModule(t *testing.T) {
	src := write(t, "missing.per", `package main
import "nosuch"

fn main() -> i64 {
    return 0
}
`)

	_, err := Compile(src, TargetELF)
	be.Err(t, err)
	be.True(t, diagnostics.IsKind(err, diagnostics.ModuleError))
}

func TestOutputPath(t *testing.T) {
	be.Equal(t, OutputPath("prog.per", TargetELF), "prog")
	be.Equal(t, OutputPath("prog.per", TargetPE), "prog.exe")
	be.Equal(t, OutputPath("prog.per", TargetNVM), "prog.bin")
	be.Equal(t, OutputPath("prog.per", TargetNVMCode), "prog.asm")
	be.Equal(t, OutputPath("prog", TargetELF), "prog.out")
}
