// Package pipeline chains the compilation stages: lex+parse, type
// inference, bytecode compilation. The engine, the loader and the CLI all
// drive the same pipeline so every entry point shares one compilation
// path.
package pipeline

import (
	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/lexer"
	"github.com/fusabi-lang/fusabi/internal/parser"
	"github.com/fusabi-lang/fusabi/internal/typesystem"
	"github.com/fusabi-lang/fusabi/internal/vm"
)

// Context flows through the pipeline, accumulating results and
// diagnostics from every stage.
type Context struct {
	Source string
	File   string

	Program    *ast.Program
	Inferencer *typesystem.Inferencer
	Env        *typesystem.TypeEnv
	ResultType typesystem.Type
	Opts       vm.CompilerOptions
	Chunk      *vm.Chunk

	Errors   []*diagnostics.DiagnosticError
	Warnings []string
}

// NewContext creates a pipeline context for one source unit.
func NewContext(source, file string) *Context {
	return &Context{Source: source, File: file}
}

// Failed reports whether any stage recorded errors.
func (c *Context) Failed() bool { return len(c.Errors) > 0 }

// Processor is one stage.
type Processor interface {
	Process(*Context) *Context
}

// Pipeline is a processor sequence.
type Pipeline struct {
	processors []Processor
}

func New(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Run executes the stages in order, stopping at the first stage that
// records errors: later stages would only cascade.
func (p *Pipeline) Run(ctx *Context) *Context {
	for _, proc := range p.processors {
		ctx = proc.Process(ctx)
		if ctx.Failed() {
			return ctx
		}
	}
	return ctx
}

// ParseProcessor lexes and parses the source.
type ParseProcessor struct{}

func (ParseProcessor) Process(ctx *Context) *Context {
	if ctx.Program != nil {
		return ctx
	}
	lex := lexer.New(ctx.Source)
	p := parser.New(lex)
	ctx.Program = p.ParseProgram()
	ctx.Program.File = ctx.File
	ctx.Errors = append(ctx.Errors, p.Errors()...)
	return ctx
}

// InferProcessor runs Hindley–Milner inference over the program. The
// inferencer and environment persist across contexts (the REPL and module
// loading accumulate bindings).
type InferProcessor struct{}

func (InferProcessor) Process(ctx *Context) *Context {
	ctx.ResultType = ctx.Inferencer.InferProgram(ctx.Program, ctx.Env)
	ctx.Errors = append(ctx.Errors, ctx.Inferencer.TakeErrors()...)
	return ctx
}

// CompileProcessor translates the typed AST into a chunk. It refuses to
// run when inference recorded errors.
type CompileProcessor struct{}

func (CompileProcessor) Process(ctx *Context) *Context {
	opts := ctx.Opts
	opts.File = ctx.File
	chunk, errs, warnings := vm.Compile(ctx.Program, ctx.Inferencer.Dus, opts)
	ctx.Chunk = chunk
	ctx.Errors = append(ctx.Errors, errs...)
	ctx.Warnings = append(ctx.Warnings, warnings...)
	return ctx
}
