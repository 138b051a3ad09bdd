// Package fusabi is the host embedding API: an Engine that compiles and
// executes Fusabi source, exchanges values with scripts through the host
// registry, and exposes the bytecode pipeline to tools.
package fusabi

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fusabi-lang/fusabi/internal/asyncrt"
	"github.com/fusabi-lang/fusabi/internal/modules"
	"github.com/fusabi-lang/fusabi/internal/pipeline"
	"github.com/fusabi-lang/fusabi/internal/typesystem"
	"github.com/fusabi-lang/fusabi/internal/vm"
)

// Value is the runtime value type exchanged with scripts.
type Value = vm.Value

// HostFunc is the native-function signature: pure functions return
// synchronously; blocking work must go through RegisterAsync instead of
// stalling the VM thread.
type HostFunc = func(machine *vm.VM, args []Value) (Value, error)

// Config enumerates the engine configuration surface.
type Config struct {
	// MaxStackDepth bounds the frame depth (default 1024).
	MaxStackDepth uint32

	// MaxInstructions bounds executed instructions per entry point;
	// 0 means unbounded (the default).
	MaxInstructions uint64

	// EnableAsync toggles the async runtime (default true).
	EnableAsync *bool

	// AsyncWorkerThreads bounds the join concurrency of the parallel combinators (default: logical CPUs).
	AsyncWorkerThreads uint32

	// DebugInfo keeps per-instruction source spans (default false).
	DebugInfo bool

	// StrictMatches turns the non-exhaustive-match warning into a
	// compile error.
	StrictMatches bool
}

// Engine owns one VM, its registry, type environment and module loader.
// The environment accumulates across Eval calls, which is what the REPL
// binds to.
type Engine struct {
	registry   *vm.HostRegistry
	runtime    *asyncrt.Runtime
	machine    *vm.VM
	inferencer *typesystem.Inferencer
	env        *typesystem.TypeEnv
	loader     *modules.Loader
	opts       vm.CompilerOptions

	// globalVersions persists top-level shadowing across Eval calls, so
	// re-binding a name gives it a fresh slot instead of mutating the
	// view of closures compiled earlier.
	globalVersions map[string]int

	warnings []string
}

// New creates an engine with the given configuration.
func New(cfg Config) *Engine {
	registry := vm.NewHostRegistry()
	vm.RegisterBuiltins(registry)

	var rt *asyncrt.Runtime
	if cfg.EnableAsync == nil || *cfg.EnableAsync {
		workers := int(cfg.AsyncWorkerThreads)
		if workers <= 0 {
			workers = runtime.NumCPU()
		}
		rt = asyncrt.New(workers)
		vm.RegisterAsyncBuiltins(registry)
	}

	dus := typesystem.NewDuRegistry()
	inferencer := typesystem.NewInferencer(dus)
	env := typesystem.BaseEnv(inferencer)

	maxFrames := int(cfg.MaxStackDepth)
	machine := vm.New(registry, rt, dus, vm.Config{
		MaxFrames:       maxFrames,
		MaxInstructions: cfg.MaxInstructions,
	})

	return &Engine{
		registry:       registry,
		runtime:        rt,
		machine:        machine,
		inferencer:     inferencer,
		env:            env,
		loader:         modules.NewLoader(),
		globalVersions: make(map[string]int),
		opts: vm.CompilerOptions{
			StrictMatches: cfg.StrictMatches,
			DebugInfo:     cfg.DebugInfo,
		},
	}
}

// Close shuts the async executor down. The engine is unusable afterwards.
func (e *Engine) Close() {
	if e.runtime != nil {
		e.runtime.Close()
	}
}

// Machine exposes the underlying VM (output redirection, host interop).
func (e *Engine) Machine() *vm.VM { return e.machine }

// Warnings drains compile and registration warnings collected since the
// previous call.
func (e *Engine) Warnings() []string {
	w := append(e.warnings, e.registry.Warnings()...)
	e.warnings = nil
	return w
}

func (e *Engine) compile(source, file string) (*vm.Chunk, error) {
	opts := e.opts
	opts.Natives = e.registry.Names()
	opts.GlobalVersions = e.globalVersions

	ctx := pipeline.NewContext(source, file)
	ctx.Inferencer = e.inferencer
	ctx.Env = e.env
	ctx.Opts = opts

	ctx = pipeline.New(pipeline.ParseProcessor{}).Run(ctx)
	if ctx.Failed() {
		return nil, ctx.Errors[0]
	}

	// Process #load directives in textual order first, so loaded names
	// are bound before this program's own declarations infer.
	if len(ctx.Program.Directives) > 0 {
		fromDir := filepath.Dir(file)
		for _, d := range ctx.Program.Directives {
			if err := e.runLoaded(d.Path, fromDir); err != nil {
				return nil, err
			}
		}
	}

	ctx = pipeline.New(
		pipeline.InferProcessor{},
		pipeline.CompileProcessor{},
	).Run(ctx)

	e.warnings = append(e.warnings, ctx.Warnings...)
	if ctx.Failed() {
		return nil, ctx.Errors[0]
	}
	return ctx.Chunk, nil
}

// runLoaded loads, compiles and executes a #load target (and its own
// dependencies), memoizing execution per canonical path.
func (e *Engine) runLoaded(path, fromDir string) error {
	files, err := e.loader.Load(path, fromDir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Executed {
			continue
		}
		chunk, cErr := e.compileLoaded(f)
		if cErr != nil {
			return &modules.LoadError{Kind: modules.DownstreamError, Path: f.Path, Err: cErr}
		}
		if _, rErr := e.machine.Run(chunk); rErr != nil {
			return &modules.LoadError{Kind: modules.DownstreamError, Path: f.Path, Err: rErr}
		}
		f.Executed = true
	}
	return nil
}

func (e *Engine) compileLoaded(f *modules.LoadedFile) (*vm.Chunk, error) {
	opts := e.opts
	opts.Natives = e.registry.Names()
	opts.GlobalVersions = e.globalVersions

	ctx := pipeline.NewContext(f.Source, f.Path)
	ctx.Program = f.Program
	ctx.Inferencer = e.inferencer
	ctx.Env = e.env
	ctx.Opts = opts

	ctx = pipeline.New(
		pipeline.InferProcessor{},
		pipeline.CompileProcessor{},
	).Run(ctx)

	e.warnings = append(e.warnings, ctx.Warnings...)
	if ctx.Failed() {
		return nil, ctx.Errors[0]
	}
	return ctx.Chunk, nil
}

// Eval parses, infers, compiles and executes source text.
func (e *Engine) Eval(source string) (Value, error) {
	chunk, err := e.compile(source, "<eval>")
	if err != nil {
		return vm.UnitVal(), err
	}
	return e.machine.Run(chunk)
}

// EvalFile evaluates a source file, resolving #load relative to it.
func (e *Engine) EvalFile(path string) (Value, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return vm.UnitVal(), &modules.LoadError{Kind: modules.IoError, Path: path, Err: err}
	}
	chunk, cErr := e.compile(string(source), path)
	if cErr != nil {
		return vm.UnitVal(), cErr
	}
	return e.machine.Run(chunk)
}

// Compile produces a chunk without executing it.
func (e *Engine) Compile(source string) (*vm.Chunk, error) {
	return e.compile(source, "<compile>")
}

// CompileFile compiles a file and builds its .fzb metadata.
func (e *Engine) CompileFile(path string) (*vm.Chunk, vm.Metadata, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, vm.Metadata{}, &modules.LoadError{Kind: modules.IoError, Path: path, Err: err}
	}
	chunk, cErr := e.compile(string(source), path)
	if cErr != nil {
		return nil, vm.Metadata{}, cErr
	}

	meta := vm.Metadata{
		ModuleName: filepath.Base(path),
		SourceHash: vm.HashSource(string(source)),
		Timestamp:  time.Now().Unix(),
		Exports:    e.loader.Registry.Exports(),
	}
	return chunk, meta, nil
}

// Execute runs an already-compiled chunk.
func (e *Engine) Execute(chunk *vm.Chunk) (Value, error) {
	return e.machine.Run(chunk)
}

// ExecuteBytes validates and runs a serialized .fzb image.
func (e *Engine) ExecuteBytes(data []byte) (Value, error) {
	chunk, _, err := vm.Deserialize(data)
	if err != nil {
		return vm.UnitVal(), err
	}
	return e.machine.Run(chunk)
}

// Call invokes a top-level bound function by name with host values.
func (e *Engine) Call(name string, args ...interface{}) (interface{}, error) {
	slot := vm.GlobalSlotName(name, e.globalVersions[name])
	callee, ok := e.machine.Globals().Get(slot)
	if !ok {
		if native, found := e.registry.Lookup(name); found {
			callee = vm.ObjVal(native)
		} else {
			return nil, fmt.Errorf("no binding named %q", name)
		}
	}

	converted := make([]Value, len(args))
	for i, a := range args {
		v, err := ToValue(a)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		converted[i] = v
	}
	result, err := e.machine.CallValue(callee, converted)
	if err != nil {
		return nil, err
	}
	return FromValue(result), nil
}

// Register installs a host function. Duplicate registration overwrites
// and records a warning. Scripts see the name with a fully generic
// scheme; the boundary is dynamically checked.
func (e *Engine) Register(name string, arity int, fn HostFunc) {
	e.registry.Register(name, arity, fn)
	e.env.Set(name, e.genericScheme(arity, false))
}

// RegisterAsync installs a host function whose result is an async value.
func (e *Engine) RegisterAsync(name string, arity int, fn HostFunc) {
	e.registry.Register(name, arity, fn)
	e.env.Set(name, e.genericScheme(arity, true))
}

func (e *Engine) genericScheme(arity int, async bool) typesystem.Scheme {
	vars := make([]typesystem.Type, arity+1)
	ids := make([]int, arity+1)
	for i := range vars {
		v := e.inferencer.Fresh()
		vars[i] = v
		ids[i] = v.ID
	}
	result := vars[arity]
	if async {
		result = typesystem.TAsync(result)
	}
	parts := append(append([]typesystem.Type(nil), vars[:arity]...), result)
	return typesystem.Scheme{Vars: ids, Body: typesystem.Arrows(parts...)}
}
