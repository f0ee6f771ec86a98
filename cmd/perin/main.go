// Package main provides the entry point for the Perin compiler.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/perin-lang/perin/internal/compiler"
)

var version = "0.1.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "show version information")
		showHelp    = flag.Bool("help", false, "show help information")
		wantELF     = flag.Bool("elf", false, "emit a Linux ELF64 executable")
		wantPE      = flag.Bool("pe", false, "emit a Windows PE32+ executable")
		wantNVM     = flag.Bool("novaria", false, "emit an NVM bytecode image")
		wantAsm     = flag.Bool("nvm-code", false, "emit NVM bytecode disassembly")
		watchMode   = flag.Bool("watch", false, "recompile whenever the source changes")
	)

	flag.Usage = showUsage
	flag.Parse()

	if *showVersion {
		fmt.Printf("Perin Compiler v%s\n", version)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: expected exactly one input file")
		showUsage()
		os.Exit(1)
	}
	inputFile := args[0]

	target, err := pickTarget(*wantELF, *wantPE, *wantNVM, *wantAsm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *watchMode {
		if err := watch(inputFile, target); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if !build(inputFile, target) {
		os.Exit(1)
	}
}

// pickTarget maps the mutually exclusive target flags to one target.
// With no flag set the native format of the build platform wins.
func pickTarget(elf, pe, nvm, asm bool) (compiler.Target, error) {
	set := 0
	for _, f := range []bool{elf, pe, nvm, asm} {
		if f {
			set++
		}
	}
	if set > 1 {
		return 0, fmt.Errorf("at most one of --elf, --pe, --novaria, --nvm-code may be given")
	}
	switch {
	case elf:
		return compiler.TargetELF, nil
	case pe:
		return compiler.TargetPE, nil
	case nvm:
		return compiler.TargetNVM, nil
	case asm:
		return compiler.TargetNVMCode, nil
	}
	if runtime.GOOS == "windows" {
		return compiler.TargetPE, nil
	}
	return compiler.TargetELF, nil
}

func build(inputFile string, target compiler.Target) bool {
	out, err := compiler.Compile(inputFile, target)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return false
	}
	fmt.Printf("Compilation successful: %s\n", out)
	return true
}

// watch rebuilds on every change to the source file or a sibling .per
// module. The directory is watched rather than the file itself because
// editors often replace files on save.
func watch(inputFile string, target compiler.Target) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(inputFile)
	if err := w.Add(dir); err != nil {
		return err
	}

	build(inputFile, target)
	fmt.Printf("Watching %s for changes...\n", dir)

	const settle = 100 * time.Millisecond
	var pending *time.Timer
	rebuild := make(chan struct{}, 1)

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(ev.Name) != ".per" {
				continue
			}
			// coalesce the burst of events a single save produces
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(settle, func() {
				select {
				case rebuild <- struct{}{}:
				default:
				}
			})
		case <-rebuild:
			build(inputFile, target)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		}
	}
}

func showUsage() {
	fmt.Println("Perin Compiler")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("    perin [OPTIONS] <INPUT_FILE.per>")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("    --version     Show version information")
	fmt.Println("    --help        Show this help message")
	fmt.Println("    --elf         Emit a Linux ELF64 executable (default off Windows)")
	fmt.Println("    --pe          Emit a Windows PE32+ executable (default on Windows)")
	fmt.Println("    --novaria     Emit an NVM bytecode image (.bin)")
	fmt.Println("    --nvm-code    Emit NVM bytecode disassembly (.asm)")
	fmt.Println("    --watch       Recompile whenever the source changes")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("    perin hello.per")
	fmt.Println("    perin --novaria hello.per")
	fmt.Println("    perin --watch --nvm-code hello.per")
}
