package vm

import (
	"fmt"
	"strings"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
	"github.com/fusabi-lang/fusabi/internal/token"
	"github.com/fusabi-lang/fusabi/internal/typesystem"
)

// Local represents a local variable during compilation. The slot index is
// relative to the frame base.
type Local struct {
	Name       string
	Slot       int
	IsCaptured bool
}

// Limits of the operand widths.
const (
	maxLocals    = 256
	maxConstants = 65536
)

// CompilerOptions configure one compilation.
type CompilerOptions struct {
	// StrictMatches turns the non-exhaustive-match warning into an error.
	StrictMatches bool
	// DebugInfo keeps per-instruction source spans in emitted chunks.
	DebugInfo bool
	// File is the source file name recorded in chunks.
	File string
	// Natives lists registered host-function names, so `open` can resolve
	// module prefixes against them.
	Natives map[string]bool
	// GlobalVersions persists top-level shadowing across compilations
	// (the REPL): re-binding a name defines a new versioned slot, so
	// closures compiled earlier keep their view. Nil means a fresh map.
	GlobalVersions map[string]int
}

// rootState is shared by the whole compiler tree for one program.
type rootState struct {
	dus      *typesystem.DuRegistry
	opts     CompilerOptions
	errors   []*diagnostics.DiagnosticError
	warnings []string
	versions map[string]int
	opens    []string // module prefixes brought in by `open`
}

// defineGlobal allocates the storage name for a top-level binding. The
// first binding of a name owns the plain name; re-bindings shadow into a
// fresh versioned slot.
func (r *rootState) defineGlobal(name string) string {
	r.versions[name]++
	return GlobalSlotName(name, r.versions[name])
}

// latestGlobal maps a source name onto its current storage slot; false
// when the name was never bound.
func (r *rootState) latestGlobal(name string) (string, bool) {
	v := r.versions[name]
	if v == 0 {
		return "", false
	}
	return GlobalSlotName(name, v), true
}

// GlobalSlotName renders the storage name for the nth binding of a
// top-level name.
func GlobalSlotName(name string, version int) string {
	if version <= 1 {
		return name
	}
	return fmt.Sprintf("%s@%d", name, version)
}

// Compiler compiles one function (or the top-level script) to a chunk.
type Compiler struct {
	chunk     *Chunk
	enclosing *Compiler
	root      *rootState

	locals     []Local
	localCount int
	maxLocal   int

	// temps counts expression results currently sitting on the stack
	// above the locals, so a let or match in operand position allocates
	// its slots at the true stack height.
	temps int

	upvalues []UpvalueSpec
	upnames  []string
}

// slotBase is the stack slot (frame-relative) where the next pushed value
// will land.
func (c *Compiler) slotBase() int { return c.localCount + c.temps }

// Compile translates a type-checked program into a script chunk. The DU
// registry must be the one the inferencer populated.
func Compile(prog *ast.Program, dus *typesystem.DuRegistry, opts CompilerOptions) (*Chunk, []*diagnostics.DiagnosticError, []string) {
	versions := opts.GlobalVersions
	if versions == nil {
		versions = make(map[string]int)
	}
	root := &rootState{
		dus:      dus,
		opts:     opts,
		versions: versions,
	}
	c := &Compiler{
		chunk: NewChunk("<script>"),
		root:  root,
	}
	c.chunk.File = opts.File

	hasResult := false
	for i, decl := range prog.Decls {
		last := i == len(prog.Decls)-1
		hasResult = c.compileDecl(decl, "", last)
	}
	if !hasResult {
		c.emitConst(UnitVal(), Span{})
	}
	c.emitOp(OP_RETURN, Span{})
	c.chunk.LocalCount = c.maxLocal
	if !opts.DebugInfo {
		c.chunk.Debug = nil
	}

	return c.chunk, root.errors, root.warnings
}

func (c *Compiler) errorAt(tok token.Token, code diagnostics.ErrorCode, args ...interface{}) {
	c.root.errors = append(c.root.errors,
		diagnostics.NewPhaseError(diagnostics.PhaseCompiler, code, tok, args...))
}

func spanOf(tok token.Token) Span { return Span{Line: tok.Line, Col: tok.Column} }

// --- emission helpers ---

func (c *Compiler) emitOp(op Opcode, span Span) {
	c.chunk.WriteOp(op, span)
}

func (c *Compiler) emitU8(op Opcode, operand uint8, span Span) {
	c.chunk.WriteOp(op, span)
	c.chunk.WriteU8(operand, span)
}

func (c *Compiler) emitU16(op Opcode, operand uint16, span Span) {
	c.chunk.WriteOp(op, span)
	c.chunk.WriteU16(operand, span)
}

func (c *Compiler) addConst(v Value, tok token.Token) int {
	idx := c.chunk.AddConstant(v)
	if idx >= maxConstants {
		c.errorAt(tok, diagnostics.ErrC003, maxConstants)
		return 0
	}
	return idx
}

func (c *Compiler) emitConst(v Value, span Span) {
	idx := c.chunk.AddConstant(v)
	c.emitU16(OP_LOAD_CONST, uint16(idx), span)
}

func (c *Compiler) symbolConst(name string, tok token.Token) uint16 {
	return uint16(c.addConst(ObjVal(&ObjSymbol{Name: name}), tok))
}

// emitJump emits a jump with a placeholder offset and returns the operand
// offset for patching.
func (c *Compiler) emitJump(op Opcode, span Span) int {
	c.chunk.WriteOp(op, span)
	pos := c.chunk.Len()
	c.chunk.WriteI16(0, span)
	return pos
}

// patchJump points a previously emitted jump at the current position. The
// offset is relative to the ip after the operand.
func (c *Compiler) patchJump(operandPos int) {
	offset := c.chunk.Len() - (operandPos + 2)
	c.chunk.PatchI16(operandPos, int16(offset))
}

// --- scope helpers ---

// declareLocal claims the value just pushed as a named local. The slot is
// the value's actual stack position, accounting for transients.
func (c *Compiler) declareLocal(name string, tok token.Token) int {
	slot := c.slotBase()
	if slot >= maxLocals {
		c.errorAt(tok, diagnostics.ErrC002, maxLocals)
		return 0
	}
	c.locals = append(c.locals, Local{Name: name, Slot: slot})
	c.localCount++
	if slot+1 > c.maxLocal {
		c.maxLocal = slot + 1
	}
	return slot
}

// truncateLocals drops locals down to n entries (slots become free again).
func (c *Compiler) truncateLocals(n int) {
	c.locals = c.locals[:n]
	c.localCount = n
}

func (c *Compiler) resolveLocal(name string) int {
	if name == "_" {
		return -1
	}
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].Name == name {
			return c.locals[i].Slot
		}
	}
	return -1
}

func (c *Compiler) resolveUpvalue(name string) int {
	if c.enclosing == nil {
		return -1
	}
	if slot := c.enclosing.resolveLocal(name); slot >= 0 {
		c.enclosing.locals[slot].IsCaptured = true
		return c.addUpvalue(name, uint8(slot), true)
	}
	if idx := c.enclosing.resolveUpvalue(name); idx >= 0 {
		return c.addUpvalue(name, uint8(idx), false)
	}
	return -1
}

func (c *Compiler) addUpvalue(name string, index uint8, isLocal bool) int {
	for i, uv := range c.upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	c.upvalues = append(c.upvalues, UpvalueSpec{IsLocal: isLocal, Index: index})
	c.upnames = append(c.upnames, name)
	return len(c.upvalues) - 1
}

// resolveGlobalName maps an unqualified name through shadowing versions
// and `open` prefixes.
func (c *Compiler) resolveGlobalName(name string) string {
	if slot, bound := c.root.latestGlobal(name); bound {
		return slot
	}
	if c.root.opts.Natives[name] {
		return name
	}
	for i := len(c.root.opens) - 1; i >= 0; i-- {
		qualified := c.root.opens[i] + "." + name
		if slot, bound := c.root.latestGlobal(qualified); bound {
			return slot
		}
		if c.root.opts.Natives[qualified] {
			return qualified
		}
	}
	return name
}

// --- declarations ---

// compileDecl emits one top-level declaration; it reports whether a result
// value was left on the stack (only for a trailing expression).
func (c *Compiler) compileDecl(decl ast.Decl, prefix string, last bool) bool {
	switch d := decl.(type) {
	case *ast.LetDecl:
		c.compileGlobalLet(d, prefix)
		return false

	case *ast.ModuleDecl:
		for _, inner := range d.Decls {
			c.compileDecl(inner, prefix+d.Name+".", false)
		}
		return false

	case *ast.OpenDecl:
		c.root.opens = append(c.root.opens, strings.Join(d.Path, "."))
		return false

	case *ast.TypeDecl:
		// Registered during inference; nothing to emit.
		return false

	case *ast.ExprDecl:
		c.compileExpr(d.Expr, false)
		if last {
			return true
		}
		c.emitOp(OP_POP, spanOf(d.Token))
		return false
	}
	return false
}

func (c *Compiler) compileGlobalLet(d *ast.LetDecl, prefix string) {
	if d.Rec {
		// Allocate every slot first so mutually recursive bodies resolve
		// the group's names to this generation.
		slots := make([]string, len(d.Bindings))
		for i, b := range d.Bindings {
			slots[i] = c.root.defineGlobal(prefix + b.Name)
		}
		for i, b := range d.Bindings {
			c.compileNamedValue(b.Value, prefix+b.Name)
			idx := c.symbolConst(slots[i], b.Token)
			c.emitU16(OP_STORE_GLOBAL, idx, spanOf(b.Token))
		}
		return
	}
	for _, b := range d.Bindings {
		full := prefix + b.Name
		// The right-hand side compiles before the slot is allocated, so
		// it sees the previous binding of the same name.
		c.compileNamedValue(b.Value, full)
		idx := c.symbolConst(c.root.defineGlobal(full), b.Token)
		c.emitU16(OP_STORE_GLOBAL, idx, spanOf(b.Token))
	}
}

// compileNamedValue compiles a binding's right-hand side, naming lambda
// chunks after the binding for stack traces.
func (c *Compiler) compileNamedValue(value ast.Expr, name string) {
	if lam, ok := value.(*ast.Lambda); ok {
		c.compileLambda(lam, name)
		return
	}
	c.compileExpr(value, false)
}

// --- expressions ---

func (c *Compiler) compileExpr(expr ast.Expr, tail bool) {
	switch e := expr.(type) {
	case *ast.IntLit:
		c.emitConst(IntVal(e.Value), spanOf(e.Token))
	case *ast.FloatLit:
		c.emitConst(FloatVal(e.Value), spanOf(e.Token))
	case *ast.BoolLit:
		c.emitConst(BoolVal(e.Value), spanOf(e.Token))
	case *ast.StringLit:
		c.emitConst(StrVal(e.Value), spanOf(e.Token))
	case *ast.UnitLit:
		c.emitConst(UnitVal(), spanOf(e.Token))

	case *ast.Ident:
		c.compileIdent(e)

	case *ast.Lambda:
		c.compileLambda(e, "")

	case *ast.Apply:
		c.compileApply(e, tail)

	case *ast.LetExpr:
		c.compileLetExpr(e, tail)

	case *ast.IfExpr:
		c.compileIf(e, tail)

	case *ast.MatchExpr:
		c.compileMatch(e, tail)

	case *ast.SequenceExpr:
		c.compileExpr(e.First, false)
		c.emitOp(OP_POP, spanOf(e.Token))
		c.compileExpr(e.Second, tail)

	case *ast.BinaryExpr:
		c.compileBinary(e)

	case *ast.UnaryExpr:
		c.compileExpr(e.Operand, false)
		c.emitOp(OP_NEG, spanOf(e.Token))

	case *ast.TupleLit:
		for _, el := range e.Elems {
			c.compileExpr(el, false)
			c.temps++
		}
		c.temps -= len(e.Elems)
		c.emitU8(OP_MAKE_TUPLE, uint8(len(e.Elems)), spanOf(e.Token))

	case *ast.ListLit:
		for _, el := range e.Elems {
			c.compileExpr(el, false)
			c.temps++
		}
		c.temps -= len(e.Elems)
		c.emitU16(OP_MAKE_LIST, uint16(len(e.Elems)), spanOf(e.Token))

	case *ast.ArrayLit:
		for _, el := range e.Elems {
			c.compileExpr(el, false)
			c.temps++
		}
		c.temps -= len(e.Elems)
		c.emitU16(OP_MAKE_ARRAY, uint16(len(e.Elems)), spanOf(e.Token))

	case *ast.RecordLit:
		for _, f := range e.Fields {
			idx := c.symbolConst(f.Name, f.Token)
			c.emitU16(OP_LOAD_CONST, idx, spanOf(f.Token))
			c.temps++
			c.compileExpr(f.Value, false)
			c.temps++
		}
		c.temps -= 2 * len(e.Fields)
		c.emitU8(OP_MAKE_RECORD, uint8(len(e.Fields)), spanOf(e.Token))

	case *ast.RecordUpdate:
		c.compileExpr(e.Base, false)
		c.temps++
		for _, f := range e.Fields {
			idx := c.symbolConst(f.Name, f.Token)
			c.emitU16(OP_LOAD_CONST, idx, spanOf(f.Token))
			c.temps++
			c.compileExpr(f.Value, false)
			c.temps++
		}
		c.temps -= 2*len(e.Fields) + 1
		c.emitU8(OP_RECORD_UPDATE, uint8(len(e.Fields)), spanOf(e.Token))

	case *ast.FieldAccess:
		c.compileExpr(e.Target, false)
		idx := c.symbolConst(e.Field, e.Token)
		c.emitU16(OP_GET_FIELD, idx, spanOf(e.Token))

	case *ast.IndexGet:
		c.compileExpr(e.Target, false)
		c.temps++
		c.compileExpr(e.Index, false)
		c.temps--
		c.emitU8(OP_ARRAY_OP, ArrGet, spanOf(e.Token))

	case *ast.IndexSet:
		c.compileExpr(e.Target, false)
		c.temps++
		c.compileExpr(e.Index, false)
		c.temps++
		c.compileExpr(e.Value, false)
		c.temps -= 2
		c.emitU8(OP_ARRAY_OP, ArrSet, spanOf(e.Token))

	case *ast.VariantExpr:
		tag := c.symbolConst(e.TypeName+"."+e.Variant, e.Token)
		c.emitU16(OP_LOAD_CONST, tag, spanOf(e.Token))
		c.temps++
		for _, arg := range e.Args {
			c.compileExpr(arg, false)
			c.temps++
		}
		c.temps -= len(e.Args) + 1
		c.emitU8(OP_MAKE_VARIANT, uint8(len(e.Args)), spanOf(e.Token))

	case *ast.TypeScopeExpr:
		c.compileExpr(e.Body, tail)

	default:
		c.errorAt(expr.Tok(), diagnostics.ErrC001, "unsupported expression")
	}
}

func (c *Compiler) compileIdent(e *ast.Ident) {
	span := spanOf(e.Token)
	if !e.Qualified() {
		if slot := c.resolveLocal(e.Name); slot >= 0 {
			c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
			return
		}
		if idx := c.resolveUpvalue(e.Name); idx >= 0 {
			c.emitU8(OP_LOAD_UPVALUE, uint8(idx), span)
			return
		}
		name := c.resolveGlobalName(e.Name)
		c.emitU16(OP_LOAD_GLOBAL, c.symbolConst(name, e.Token), span)
		return
	}
	full := strings.Join(e.Path, ".") + "." + e.Name
	if slot, bound := c.root.latestGlobal(full); bound {
		full = slot
	}
	c.emitU16(OP_LOAD_GLOBAL, c.symbolConst(full, e.Token), span)
}

func (c *Compiler) compileLambda(e *ast.Lambda, name string) {
	fc := &Compiler{
		chunk:     NewChunk(name),
		enclosing: c,
		root:      c.root,
	}
	fc.chunk.Arity = 1
	fc.chunk.File = c.chunk.File
	fc.declareLocal(e.Param, e.Token)
	fc.compileExpr(e.Body, true)
	fc.emitOp(OP_RETURN, spanOf(e.Token))
	fc.chunk.LocalCount = fc.maxLocal
	fc.chunk.UpvalueSpecs = fc.upvalues
	if !c.root.opts.DebugInfo {
		fc.chunk.Debug = nil
	}

	idx := c.addConst(ObjVal(fc.chunk), e.Token)
	c.emitU16(OP_MAKE_CLOSURE, uint16(idx), spanOf(e.Token))
	for _, spec := range fc.upvalues {
		c.chunk.WriteOp(OP_CAPTURE_UPVALUE, spanOf(e.Token))
		var isLocal uint8
		if spec.IsLocal {
			isLocal = 1
		}
		c.chunk.WriteU8(isLocal, spanOf(e.Token))
		c.chunk.WriteU8(spec.Index, spanOf(e.Token))
	}
}

func (c *Compiler) compileApply(e *ast.Apply, tail bool) {
	// `float n` lowers to the dedicated conversion instruction when the
	// name is not shadowed.
	if id, ok := e.Fn.(*ast.Ident); ok && !id.Qualified() && id.Name == "float" {
		if c.resolveLocal("float") < 0 && c.resolveUpvalue("float") < 0 {
			c.compileExpr(e.Arg, false)
			c.emitOp(OP_INT_TO_FLOAT, spanOf(e.Token))
			return
		}
	}
	c.compileExpr(e.Fn, false)
	c.temps++
	c.compileExpr(e.Arg, false)
	c.temps--
	// Calls in tail position are not frame-reusing: unbounded recursion
	// must fail with StackOverflow at the configured frame depth instead
	// of looping forever. OP_TAIL_CALL remains available to hosts that
	// emit their own bytecode.
	_ = tail
	c.emitU8(OP_CALL, 1, spanOf(e.Token))
}

func (c *Compiler) compileLetExpr(e *ast.LetExpr, tail bool) {
	base := c.slotBase()
	savedLocals := len(c.locals)
	span := spanOf(e.Token)

	if e.Rec {
		// Placeholder Unit in each slot so every name is visible while
		// the right-hand sides compile; closures capture the slots and
		// observe the later stores.
		for _, b := range e.Bindings {
			c.emitConst(UnitVal(), spanOf(b.Token))
			c.declareLocal(b.Name, b.Token)
		}
		for i, b := range e.Bindings {
			c.compileNamedValue(b.Value, b.Name)
			c.emitU8(OP_STORE_LOCAL, uint8(base+i), spanOf(b.Token))
		}
	} else {
		for _, b := range e.Bindings {
			c.compileNamedValue(b.Value, b.Name)
			c.declareLocal(b.Name, b.Token)
		}
	}

	c.compileExpr(e.Body, tail)

	// Scope exit: close captured slots, then squash the locals so only
	// the body result remains.
	k := len(e.Bindings)
	c.emitU16(OP_CLOSE_UPVALUE, uint16(base), span)
	c.emitU8(OP_STORE_LOCAL, uint8(base), span)
	for i := 0; i < k-1; i++ {
		c.emitOp(OP_POP, span)
	}
	c.truncateLocals(savedLocals)
}

func (c *Compiler) compileIf(e *ast.IfExpr, tail bool) {
	span := spanOf(e.Token)
	c.compileExpr(e.Cond, false)
	elseJump := c.emitJump(OP_JUMP_IF_FALSE, span)
	c.compileExpr(e.Then, tail)
	endJump := c.emitJump(OP_JUMP, span)
	c.patchJump(elseJump)
	if e.Else != nil {
		c.compileExpr(e.Else, tail)
	} else {
		c.emitConst(UnitVal(), span)
	}
	c.patchJump(endJump)
}

func (c *Compiler) compileBinary(e *ast.BinaryExpr) {
	span := spanOf(e.Token)

	// && and || short-circuit.
	switch e.Op {
	case token.AND:
		c.compileExpr(e.Left, false)
		failJump := c.emitJump(OP_JUMP_IF_FALSE, span)
		c.compileExpr(e.Right, false)
		endJump := c.emitJump(OP_JUMP, span)
		c.patchJump(failJump)
		c.emitConst(BoolVal(false), span)
		c.patchJump(endJump)
		return
	case token.OR:
		c.compileExpr(e.Left, false)
		c.emitOp(OP_NOT, span)
		rightJump := c.emitJump(OP_JUMP_IF_FALSE, span)
		c.compileExpr(e.Right, false)
		endJump := c.emitJump(OP_JUMP, span)
		c.patchJump(rightJump)
		c.emitConst(BoolVal(true), span)
		c.patchJump(endJump)
		return
	}

	c.compileExpr(e.Left, false)
	c.temps++
	c.compileExpr(e.Right, false)
	c.temps--
	switch e.Op {
	case token.PLUS:
		c.emitOp(OP_ADD, span)
	case token.MINUS:
		c.emitOp(OP_SUB, span)
	case token.ASTERISK:
		c.emitOp(OP_MUL, span)
	case token.SLASH:
		c.emitOp(OP_DIV, span)
	case token.PERCENT:
		c.emitOp(OP_MOD, span)
	case token.ASSIGN:
		c.emitOp(OP_EQ, span)
	case token.NOT_EQ:
		c.emitOp(OP_NEQ, span)
	case token.LT:
		c.emitOp(OP_LT, span)
	case token.LTE:
		c.emitOp(OP_LTE, span)
	case token.GT:
		c.emitOp(OP_GT, span)
	case token.GTE:
		c.emitOp(OP_GTE, span)
	case token.CONS:
		c.emitOp(OP_CONS, span)
	default:
		c.errorAt(e.Token, diagnostics.ErrC001, string(e.Op))
	}
}
