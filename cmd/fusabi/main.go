package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/fusabi-lang/fusabi/internal/config"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/vm"
	"github.com/fusabi-lang/fusabi/pkg/fusabi"
)

const usage = `fusabi - the Fusabi scripting system

Usage:
  fusabi run <file%[1]s>      compile and evaluate a script
  fusabi repl               start an interactive session
  fusabi grind <file%[1]s>    compile to %[2]s bytecode (-d dumps the disassembly)
  fusabi exec <file%[2]s>   run compiled bytecode
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, usage, config.SourceFileExt, config.BytecodeFileExt)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = cmdRun(os.Args[2:])
	case "repl":
		err = cmdRepl()
	case "grind":
		err = cmdGrind(os.Args[2:])
	case "exec":
		err = cmdExec(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, usage, config.SourceFileExt, config.BytecodeFileExt)
		os.Exit(2)
	}
	if err != nil {
		reportError(err)
		os.Exit(1)
	}
}

// newEngine builds an engine from the nearest fusabi.yml (defaults when
// absent).
func newEngine(dir string) (*fusabi.Engine, error) {
	project, err := config.LoadProject(dir)
	if err != nil {
		return nil, err
	}
	enabled := project.AsyncEnabled()
	return fusabi.New(fusabi.Config{
		MaxStackDepth:      project.Engine.MaxStackDepth,
		MaxInstructions:    project.Engine.MaxInstructions,
		EnableAsync:        &enabled,
		AsyncWorkerThreads: project.Async.WorkerThreads,
		DebugInfo:          project.Engine.DebugInfo,
		StrictMatches:      project.Engine.StrictMatches,
	}), nil
}

func cmdRun(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("run wants exactly one file")
	}
	path := args[0]
	engine, err := newEngine(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.EvalFile(path)
	printWarnings(engine)
	if err != nil {
		return decorateWithSource(err, path)
	}
	if !result.IsUnit() {
		fmt.Println(result.Inspect())
	}
	return nil
}

func cmdRepl() error {
	engine, err := newEngine(".")
	if err != nil {
		return err
	}
	defer engine.Close()

	fmt.Println("fusabi repl - :quit to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == ":quit" || line == ":q" {
			return nil
		}

		// The engine's environment accumulates, so each input extends
		// the previous ones.
		result, evalErr := engine.Eval(line)
		printWarnings(engine)
		if evalErr != nil {
			fmt.Fprintln(os.Stderr, renderError(evalErr, line))
			continue
		}
		if !result.IsUnit() {
			fmt.Println(result.Inspect())
		}
	}
}

func cmdGrind(args []string) error {
	dump := false
	var path string
	for _, a := range args {
		if a == "-d" {
			dump = true
			continue
		}
		path = a
	}
	if path == "" {
		return fmt.Errorf("grind wants a source file")
	}

	engine, err := newEngine(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer engine.Close()

	chunk, meta, err := engine.CompileFile(path)
	printWarnings(engine)
	if err != nil {
		return decorateWithSource(err, path)
	}

	if dump {
		fmt.Print(vm.Disassemble(chunk))
	}

	data, err := vm.Serialize(chunk, meta)
	if err != nil {
		return err
	}
	out := config.TrimSourceExt(path) + config.BytecodeFileExt
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%d bytes)\n", out, len(data))
	return nil
}

func cmdExec(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("exec wants exactly one %s file", config.BytecodeFileExt)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	engine, err := newEngine(filepath.Dir(args[0]))
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := engine.ExecuteBytes(data)
	if err != nil {
		return err
	}
	if !result.IsUnit() {
		fmt.Println(result.Inspect())
	}
	return nil
}

func printWarnings(engine *fusabi.Engine) {
	for _, w := range engine.Warnings() {
		fmt.Fprintf(os.Stderr, "%swarning%s: %s\n", color("33"), colorReset(), w)
	}
}

// decorateWithSource re-renders diagnostic errors with a source excerpt
// and caret when the source file is readable.
func decorateWithSource(err error, path string) error {
	source, readErr := os.ReadFile(path)
	if readErr != nil {
		return err
	}
	return fmt.Errorf("%s", renderError(err, string(source)))
}

func renderError(err error, source string) string {
	if de, ok := err.(*diagnostics.DiagnosticError); ok {
		return color("31") + de.Render(source) + colorReset()
	}
	return color("31") + err.Error() + colorReset()
}

func reportError(err error) {
	fmt.Fprintln(os.Stderr, color("31")+err.Error()+colorReset())
}

func color(code string) string {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return "\x1b[" + code + "m"
	}
	return ""
}

func colorReset() string {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return "\x1b[0m"
	}
	return ""
}
