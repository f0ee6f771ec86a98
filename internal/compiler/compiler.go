// Package compiler drives the pipeline from one source file to one
// output artifact: parse, load imported modules, resolve, lower to IR,
// then hand the program to the selected backend. Nothing is written
// until every stage has succeeded, so a failed compile leaves no
// partial artifact behind.
package compiler

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/perin-lang/perin/internal/codegen/elf"
	"github.com/perin-lang/perin/internal/codegen/nvm"
	"github.com/perin-lang/perin/internal/codegen/pe"
	"github.com/perin-lang/perin/internal/diagnostics"
	"github.com/perin-lang/perin/internal/ir"
	"github.com/perin-lang/perin/internal/parser"
	"github.com/perin-lang/perin/internal/position"
	"github.com/perin-lang/perin/internal/resolver"
	"github.com/perin-lang/perin/stdlib"
)

// Target selects the output artifact format.
type Target int

const (
	TargetELF Target = iota
	TargetPE
	TargetNVM
	TargetNVMCode
)

var targetNames = map[Target]string{
	TargetELF:     "elf",
	TargetPE:      "pe",
	TargetNVM:     "novaria",
	TargetNVMCode: "nvm-code",
}

func (t Target) String() string { return targetNames[t] }

// OutputPath derives the artifact name from the source name. ELF
// executables drop the extension, the rest swap it per target.
func OutputPath(srcPath string, target Target) string {
	base := strings.TrimSuffix(srcPath, ".per")
	switch target {
	case TargetPE:
		return base + ".exe"
	case TargetNVM:
		return base + ".bin"
	case TargetNVMCode:
		return base + ".asm"
	}
	if base == srcPath {
		// source had no .per extension, do not overwrite it
		return base + ".out"
	}
	return base
}

// Compile builds srcPath for the given target, writing the artifact
// next to the source. It returns the output path.
func Compile(srcPath string, target Target) (string, error) {
	src, err := os.ReadFile(srcPath)
	if err != nil {
		return "", err
	}
	artifact, err := Build(string(src), srcPath, target)
	if err != nil {
		return "", err
	}

	out := OutputPath(srcPath, target)
	if target == TargetELF {
		return out, elf.WriteExecutable(out, artifact)
	}
	return out, os.WriteFile(out, artifact, 0o644)
}

// Build compiles source text through the full pipeline and returns the
// artifact bytes without touching the filesystem, except to load
// modules imported from the source's directory.
func Build(src, srcPath string, target Target) ([]byte, error) {
	file, err := parser.Parse(src, srcPath)
	if err != nil {
		return nil, err
	}
	modules := make(map[string]*parser.File)
	if err := loadModules(file, filepath.Dir(srcPath), modules); err != nil {
		return nil, err
	}
	prog, err := resolver.Resolve(file, modules)
	if err != nil {
		return nil, err
	}
	code := ir.Lower(prog)

	switch target {
	case TargetELF:
		return elf.Emit(code)
	case TargetPE:
		return pe.Emit(code)
	case TargetNVM:
		return nvm.Emit(code)
	case TargetNVMCode:
		image, err := nvm.Emit(code)
		if err != nil {
			return nil, err
		}
		text, err := nvm.Disassemble(image)
		if err != nil {
			return nil, err
		}
		return []byte(text), nil
	}
	return nil, diagnostics.New(diagnostics.CodegenError, position.Position{Filename: srcPath}, "unknown target %d", target)
}

// loadModules parses every imported non-stdio module into modules,
// looking in the source directory first and falling back to the
// embedded library. Transitive imports are followed; the map doubles
// as the visited set, so import cycles terminate.
func loadModules(file *parser.File, dir string, modules map[string]*parser.File) error {
	for _, imp := range file.Imports {
		if imp.Name == "stdio" {
			continue
		}
		if _, ok := modules[imp.Name]; ok {
			continue
		}

		var src, from string
		path := filepath.Join(dir, imp.Name+".per")
		if data, err := os.ReadFile(path); err == nil {
			src, from = string(data), path
		} else if embedded, ok := stdlib.Source(imp.Name); ok {
			src, from = embedded, imp.Name+".per"
		} else {
			return diagnostics.New(diagnostics.ModuleError, imp.Pos(), "could not find module %q", imp.Name)
		}

		mod, err := parser.Parse(src, from)
		if err != nil {
			return err
		}
		modules[imp.Name] = mod
		if err := loadModules(mod, dir, modules); err != nil {
			return err
		}
	}
	return nil
}
