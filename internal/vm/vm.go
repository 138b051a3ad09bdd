package vm

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fusabi-lang/fusabi/internal/asyncrt"
	"github.com/fusabi-lang/fusabi/internal/typesystem"
)

// Initial sizes for stack and frames.
const (
	initialStackSize = 2048
	maxStackSize     = 1 << 20
)

// DefaultMaxFrames is the default call-depth limit.
const DefaultMaxFrames = 1024

// Config carries the resource limits the host may set.
type Config struct {
	// MaxFrames bounds the call depth; exceeding it raises StackOverflow.
	MaxFrames int
	// MaxInstructions bounds instructions per execution; 0 is unbounded.
	// Exceeding it raises ResourceExhausted.
	MaxInstructions uint64
}

// Globals is the per-VM global table. Forked VMs (async tasks) share it;
// it is read-mostly once the top-level script has run.
type Globals struct {
	mu sync.RWMutex
	m  map[string]Value
}

func NewGlobals() *Globals {
	return &Globals{m: make(map[string]Value)}
}

func (g *Globals) Get(name string) (Value, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	v, ok := g.m[name]
	return v, ok
}

func (g *Globals) Set(name string, v Value) {
	g.mu.Lock()
	g.m[name] = v
	g.mu.Unlock()
}

// CallFrame is a single ongoing call: the closure being executed, its
// instruction pointer and where its locals start on the value stack.
type CallFrame struct {
	closure *ObjClosure
	ip      int
	base    int
}

// VM is the stack machine. An instance is single-threaded; async tasks run
// on forked instances sharing globals, registry and runtime.
type VM struct {
	stack []Value
	sp    int

	frames     []CallFrame
	frameCount int

	globals  *Globals
	registry *HostRegistry
	runtime  *asyncrt.Runtime
	dus      *typesystem.DuRegistry

	// Open upvalues sorted by stack location, highest first.
	openUpvalues *ObjUpvalue

	maxFrames       int
	maxInstructions uint64
	instrCount      uint64

	out io.Writer
}

// New creates a VM. runtime may be nil when async is disabled.
func New(registry *HostRegistry, runtime *asyncrt.Runtime, dus *typesystem.DuRegistry, cfg Config) *VM {
	maxFrames := cfg.MaxFrames
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	return &VM{
		stack:           make([]Value, initialStackSize),
		frames:          make([]CallFrame, 64),
		globals:         NewGlobals(),
		registry:        registry,
		runtime:         runtime,
		dus:             dus,
		maxFrames:       maxFrames,
		maxInstructions: cfg.MaxInstructions,
		out:             os.Stdout,
	}
}

// SetOutput redirects print builtins.
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

// Globals exposes the global table (for the engine and the REPL).
func (vm *VM) Globals() *Globals { return vm.globals }

// Runtime exposes the async runtime handle.
func (vm *VM) Runtime() *asyncrt.Runtime { return vm.runtime }

// Registry exposes the host registry handle.
func (vm *VM) Registry() *HostRegistry { return vm.registry }

// Fork creates a VM for an async task: fresh stack and frames, shared
// globals, registry, runtime and type registry.
func (vm *VM) Fork() *VM {
	forked := New(vm.registry, vm.runtime, vm.dus, Config{
		MaxFrames:       vm.maxFrames,
		MaxInstructions: vm.maxInstructions,
	})
	forked.globals = vm.globals
	forked.out = vm.out
	return forked
}

// Run executes a script chunk to completion.
func (vm *VM) Run(chunk *Chunk) (Value, error) {
	script := &ObjClosure{Chunk: chunk}
	vm.sp = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
	vm.instrCount = 0

	if err := vm.pushFrame(script, 0); err != nil {
		return UnitVal(), err
	}
	return vm.exec(0)
}

// CallValue invokes a callable from host code (natives re-entering the
// VM). Closures are curried, so arguments apply one at a time.
func (vm *VM) CallValue(callee Value, args []Value) (Value, error) {
	result := callee
	for _, arg := range args {
		r, err := vm.call1(result, arg)
		if err != nil {
			return UnitVal(), err
		}
		result = r
	}
	return result, nil
}

func (vm *VM) call1(callee, arg Value) (Value, error) {
	switch fn := callee.Obj.(type) {
	case *NativeFn, *ObjPartial:
		_ = fn
		// Natives apply without touching the frame stack.
		return vm.applyNative(callee, []Value{arg})
	}
	if callee.Type != ValObj {
		return UnitVal(), newVmError(ErrNotCallable, "cannot call %s", callee.KindName())
	}
	closure, ok := callee.Obj.(*ObjClosure)
	if !ok {
		return UnitVal(), newVmError(ErrNotCallable, "cannot call %s", callee.KindName())
	}

	saved := vm.frameCount
	savedSp := vm.sp
	if err := vm.push(callee); err != nil {
		return UnitVal(), err
	}
	if err := vm.push(arg); err != nil {
		return UnitVal(), err
	}
	if closure.Chunk.Arity != 1 {
		vm.sp = savedSp
		return UnitVal(), newVmError(ErrArity, "%s expects %d arguments", closure.Inspect(), closure.Chunk.Arity)
	}
	if err := vm.pushFrame(closure, vm.sp-1); err != nil {
		vm.sp = savedSp
		return UnitVal(), err
	}
	result, err := vm.exec(saved)
	if err != nil {
		vm.sp = savedSp
		vm.frameCount = saved
		return UnitVal(), err
	}
	vm.sp = savedSp
	return result, nil
}

// applyNative applies arguments to a native or a partial application,
// building partials until the declared arity is reached.
func (vm *VM) applyNative(callee Value, args []Value) (Value, error) {
	var fn *NativeFn
	var have []Value
	switch o := callee.Obj.(type) {
	case *NativeFn:
		fn = o
	case *ObjPartial:
		fn = o.Fn
		have = o.Args
	default:
		return UnitVal(), newVmError(ErrNotCallable, "cannot call %s", callee.KindName())
	}

	all := make([]Value, 0, len(have)+len(args))
	all = append(all, have...)
	all = append(all, args...)

	if len(all) < fn.Arity {
		return ObjVal(&ObjPartial{Fn: fn, Args: all}), nil
	}
	if len(all) > fn.Arity {
		// Apply the first arity args, then keep applying the result.
		result, err := fn.Fn(vm, all[:fn.Arity])
		if err != nil {
			return UnitVal(), err
		}
		return vm.CallValue(result, all[fn.Arity:])
	}
	return fn.Fn(vm, all)
}

// --- stack primitives ---

func (vm *VM) push(v Value) error {
	if vm.sp >= len(vm.stack) {
		if vm.sp >= maxStackSize {
			return newVmError(ErrStackOverflow, "value stack limit exceeded")
		}
		grown := make([]Value, len(vm.stack)*2)
		copy(grown, vm.stack[:vm.sp])
		vm.stack = grown
	}
	vm.stack[vm.sp] = v
	vm.sp++
	return nil
}

func (vm *VM) pop() (Value, error) {
	if vm.sp <= 0 {
		return UnitVal(), newVmError(ErrStackUnderflow, "pop on empty stack")
	}
	vm.sp--
	return vm.stack[vm.sp], nil
}

func (vm *VM) peek(distance int) (Value, error) {
	idx := vm.sp - 1 - distance
	if idx < 0 {
		return UnitVal(), newVmError(ErrStackUnderflow, "peek below stack base")
	}
	return vm.stack[idx], nil
}

func (vm *VM) pushFrame(closure *ObjClosure, base int) error {
	if vm.frameCount >= vm.maxFrames {
		return newVmError(ErrStackOverflow, "call depth exceeded (%d frames)", vm.maxFrames)
	}
	if vm.frameCount >= len(vm.frames) {
		grown := make([]CallFrame, len(vm.frames)*2)
		copy(grown, vm.frames[:vm.frameCount])
		vm.frames = grown
	}
	vm.frames[vm.frameCount] = CallFrame{closure: closure, base: base}
	vm.frameCount++
	return nil
}

// --- upvalues ---

// captureUpvalue creates or reuses an open upvalue for a stack location.
// The open list is sorted by location, highest first, and deduplicated
// per slot.
func (vm *VM) captureUpvalue(location int) *ObjUpvalue {
	var prev *ObjUpvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Location > location {
		prev = uv
		uv = uv.Next
	}
	if uv != nil && uv.Location == location {
		return uv
	}
	created := &ObjUpvalue{Location: location, Next: uv}
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at stack index >= from: the
// stack slot is copied into the upvalue exactly once.
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Location >= from {
		uv := vm.openUpvalues
		uv.Closed = vm.stack[uv.Location]
		uv.Location = -1
		vm.openUpvalues = uv.Next
		uv.Next = nil
	}
}

// --- error decoration ---

// decorate attaches the current span and a stack trace to a VM error and
// tears the failing frames down, closing their upvalues.
func (vm *VM) decorate(err error, target int) error {
	ve, ok := err.(*VmError)
	if !ok {
		ve = newVmError(ErrHost, "%s", err.Error())
	}
	if vm.frameCount > 0 {
		frame := &vm.frames[vm.frameCount-1]
		if ve.Span.Line == 0 && frame.ip > 0 {
			ve.Span = frame.closure.Chunk.SpanAt(frame.ip - 1)
		}
		for i := vm.frameCount - 1; i >= target; i-- {
			f := &vm.frames[i]
			name := f.closure.Chunk.Name
			if name == "" {
				name = "<anonymous>"
			}
			file := f.closure.Chunk.File
			if file == "" {
				file = "<script>"
			}
			span := f.closure.Chunk.SpanAt(maxInt(f.ip-1, 0))
			ve.Trace = append(ve.Trace, fmt.Sprintf("at %s (%s:%d)", name, file, span.Line))
		}
	}
	// The stack is never left corrupted under error: every frame above
	// the target is torn down and its upvalues closed.
	for i := vm.frameCount - 1; i >= target && i >= 0; i-- {
		vm.closeUpvalues(vm.frames[i].base)
	}
	vm.frameCount = target
	return ve
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
