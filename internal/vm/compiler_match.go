package vm

import (
	"fmt"
	"strings"

	"github.com/fusabi-lang/fusabi/internal/ast"
	"github.com/fusabi-lang/fusabi/internal/diagnostics"
)

// Match compilation. The scrutinee is evaluated once into a local; each
// arm pre-allocates one slot per pattern sub-value, then interleaves
// discriminator tests with extraction into those slots. Every test leaves
// the stack at the arm baseline, so a failed test can jump to a cleanup
// label that pops a statically known count and falls through to the next
// arm. A synthetic MatchFailure arm terminates the chain unless a
// wildcard-style arm makes it unreachable.
func (c *Compiler) compileMatch(e *ast.MatchExpr, tail bool) {
	span := spanOf(e.Token)

	c.checkExhaustiveness(e)

	// Scrutinee becomes an anonymous local.
	savedLocals := len(c.locals)
	c.compileExpr(e.Scrutinee, false)
	scrutSlot := c.declareLocal("", e.Token)

	var endJumps []int
	for _, arm := range e.Arms {
		endJumps = append(endJumps, c.compileArm(arm, scrutSlot, tail))
	}

	// No arm matched.
	c.emitOp(OP_MATCH_FAIL, span)

	for _, j := range endJumps {
		c.patchJump(j)
	}

	// Squash the scrutinee slot: [scrut, result] -> [result].
	c.emitU16(OP_CLOSE_UPVALUE, uint16(scrutSlot), span)
	c.emitU8(OP_STORE_LOCAL, uint8(scrutSlot), span)
	c.truncateLocals(savedLocals)
}

// compileArm emits one arm and returns the operand offset of its jump to
// the match end.
func (c *Compiler) compileArm(arm *ast.MatchArm, scrutSlot int, tail bool) int {
	span := spanOf(arm.Token)
	base := c.slotBase()
	savedLocals := len(c.locals)
	slots := countPatternSlots(arm.Pattern)

	// Pre-allocate every sub-value slot so the stack height at any test
	// is the arm baseline.
	for i := 0; i < slots; i++ {
		c.emitConst(UnitVal(), span)
		c.declareLocal("", arm.Token)
	}

	var failJumps []int
	next := base
	c.compilePatternInto(arm.Pattern, scrutSlot, &next, &failJumps)

	if arm.Guard != nil {
		c.compileExpr(arm.Guard, false)
		failJumps = append(failJumps, c.emitJump(OP_JUMP_IF_FALSE, spanOf(arm.Guard.Tok())))
	}

	// Body. Pattern variables became named locals during compilePatternInto.
	c.compileExpr(arm.Body, tail)

	// Squash arm slots, keeping the body result.
	if slots > 0 {
		c.emitU16(OP_CLOSE_UPVALUE, uint16(base), span)
		c.emitU8(OP_STORE_LOCAL, uint8(base), span)
		for i := 0; i < slots-1; i++ {
			c.emitOp(OP_POP, span)
		}
	}
	endJump := c.emitJump(OP_JUMP, span)

	// Cleanup: tests or guard failed; discard the arm's slots.
	for _, j := range failJumps {
		c.patchJump(j)
	}
	for i := 0; i < slots; i++ {
		c.emitOp(OP_POP, span)
	}
	c.truncateLocals(savedLocals)
	return endJump
}

// countPatternSlots counts the sub-value slots a pattern needs: one per
// proper descendant of the pattern tree (the root reuses the scrutinee
// slot).
func countPatternSlots(pat ast.Pattern) int {
	n := 0
	var walk func(p ast.Pattern)
	count := func(children ...ast.Pattern) {
		for _, ch := range children {
			n++
			walk(ch)
		}
	}
	walk = func(p ast.Pattern) {
		switch q := p.(type) {
		case *ast.TuplePat:
			count(q.Elems...)
		case *ast.ConsPat:
			count(q.Head, q.Tail)
		case *ast.VariantPat:
			count(q.Args...)
		case *ast.RecordPat:
			for _, f := range q.Fields {
				count(f.Pat)
			}
		}
	}
	walk(pat)
	return n
}

// compilePatternInto tests the value in slot against the pattern,
// extracting sub-values into pre-allocated slots starting at *next.
// Failed tests jump via failJumps; variable patterns rename their slot.
func (c *Compiler) compilePatternInto(pat ast.Pattern, slot int, next *int, failJumps *[]int) {
	switch p := pat.(type) {
	case *ast.WildcardPat:
		// Always matches.

	case *ast.VarPat:
		// The slot already holds the value; name it.
		c.nameSlot(slot, p.Name)

	case *ast.LitPat:
		span := spanOf(p.Token)
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		idx := c.addConst(litValue(p), p.Token)
		c.emitU16(OP_MATCH_LIT, uint16(idx), span)
		*failJumps = append(*failJumps, c.emitJump(OP_JUMP_IF_FALSE, span))

	case *ast.NilPat:
		span := spanOf(p.Token)
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		c.emitU8(OP_LIST_OP, ListIsNil, span)
		*failJumps = append(*failJumps, c.emitJump(OP_JUMP_IF_FALSE, span))

	case *ast.ConsPat:
		span := spanOf(p.Token)
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		c.emitU8(OP_LIST_OP, ListIsNil, span)
		c.emitOp(OP_NOT, span)
		*failJumps = append(*failJumps, c.emitJump(OP_JUMP_IF_FALSE, span))

		headSlot := c.takeSlot(next)
		tailSlot := c.takeSlot(next)
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		c.emitU8(OP_LIST_OP, ListHead, span)
		c.emitU8(OP_STORE_LOCAL, uint8(headSlot), span)
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		c.emitU8(OP_LIST_OP, ListTail, span)
		c.emitU8(OP_STORE_LOCAL, uint8(tailSlot), span)

		c.compilePatternInto(p.Head, headSlot, next, failJumps)
		c.compilePatternInto(p.Tail, tailSlot, next, failJumps)

	case *ast.TuplePat:
		span := spanOf(p.Token)
		n := len(p.Elems)
		childSlots := make([]int, n)
		for i := range p.Elems {
			childSlots[i] = c.takeSlot(next)
		}
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		c.emitU8(OP_DESTRUCT, uint8(n), span)
		// Destruct pushes field 0 first, so stores pop in reverse.
		for i := n - 1; i >= 0; i-- {
			c.emitU8(OP_STORE_LOCAL, uint8(childSlots[i]), span)
		}
		for i, sub := range p.Elems {
			c.compilePatternInto(sub, childSlots[i], next, failJumps)
		}

	case *ast.VariantPat:
		span := spanOf(p.Token)
		c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
		tag := c.symbolConst(p.TypeName+"."+p.Variant, p.Token)
		c.emitU16(OP_MATCH_TAG, tag, span)
		*failJumps = append(*failJumps, c.emitJump(OP_JUMP_IF_FALSE, span))

		n := len(p.Args)
		if n > 0 {
			childSlots := make([]int, n)
			for i := range p.Args {
				childSlots[i] = c.takeSlot(next)
			}
			c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
			c.emitU8(OP_DESTRUCT, uint8(n), span)
			for i := n - 1; i >= 0; i-- {
				c.emitU8(OP_STORE_LOCAL, uint8(childSlots[i]), span)
			}
			for i, sub := range p.Args {
				c.compilePatternInto(sub, childSlots[i], next, failJumps)
			}
		}

	case *ast.RecordPat:
		span := spanOf(p.Token)
		for _, f := range p.Fields {
			childSlot := c.takeSlot(next)
			c.emitU8(OP_LOAD_LOCAL, uint8(slot), span)
			c.emitU16(OP_GET_FIELD, c.symbolConst(f.Name, f.Token), span)
			c.emitU8(OP_STORE_LOCAL, uint8(childSlot), span)
			c.compilePatternInto(f.Pat, childSlot, next, failJumps)
		}
	}
}

func (c *Compiler) takeSlot(next *int) int {
	slot := *next
	*next = slot + 1
	return slot
}

func (c *Compiler) nameSlot(slot int, name string) {
	for i := range c.locals {
		if c.locals[i].Slot == slot {
			c.locals[i].Name = name
			return
		}
	}
}

func litValue(p *ast.LitPat) Value {
	switch lit := p.Value.(type) {
	case *ast.IntLit:
		return IntVal(lit.Value)
	case *ast.FloatLit:
		return FloatVal(lit.Value)
	case *ast.BoolLit:
		return BoolVal(lit.Value)
	case *ast.StringLit:
		return StrVal(lit.Value)
	}
	return UnitVal()
}

// --- exhaustiveness ---

// checkExhaustiveness emits a warning (or an error under StrictMatches)
// for matches where no arm is irrefutable and the discriminator space is
// not covered.
func (c *Compiler) checkExhaustiveness(e *ast.MatchExpr) {
	covered := make(map[string]bool)
	boolsCovered := make(map[bool]bool)
	nilCovered, consCovered := false, false
	var duName string

	for _, arm := range e.Arms {
		if arm.Guard != nil {
			continue
		}
		if irrefutable(arm.Pattern) {
			return
		}
		switch p := arm.Pattern.(type) {
		case *ast.VariantPat:
			allIrrefutable := true
			for _, sub := range p.Args {
				if !irrefutable(sub) {
					allIrrefutable = false
				}
			}
			if allIrrefutable {
				covered[p.Variant] = true
				duName = p.TypeName
			}
		case *ast.NilPat:
			nilCovered = true
		case *ast.ConsPat:
			if irrefutable(p.Head) && irrefutable(p.Tail) {
				consCovered = true
			}
		case *ast.LitPat:
			if b, ok := p.Value.(*ast.BoolLit); ok {
				boolsCovered[b.Value] = true
			}
		}
	}

	if nilCovered && consCovered {
		return
	}
	if boolsCovered[true] && boolsCovered[false] {
		return
	}
	if duName != "" {
		if def, ok := c.root.dus.Type(duName); ok {
			var missing []string
			for _, v := range def.Variants {
				if !covered[v.Name] {
					missing = append(missing, v.Name)
				}
			}
			if len(missing) == 0 {
				return
			}
			c.reportNonExhaustive(e, strings.Join(missing, ", "))
			return
		}
	}
	c.reportNonExhaustive(e, "_")
}

func (c *Compiler) reportNonExhaustive(e *ast.MatchExpr, missing string) {
	if c.root.opts.StrictMatches {
		c.errorAt(e.Token, diagnostics.ErrC004, missing)
		return
	}
	c.root.warnings = append(c.root.warnings, fmt.Sprintf(
		"%d:%d: match expression is not exhaustive; missing: %s",
		e.Token.Line, e.Token.Column, missing))
}

// irrefutable reports whether a pattern matches every value of its type.
func irrefutable(p ast.Pattern) bool {
	switch q := p.(type) {
	case *ast.WildcardPat, *ast.VarPat:
		return true
	case *ast.TuplePat:
		for _, sub := range q.Elems {
			if !irrefutable(sub) {
				return false
			}
		}
		return true
	case *ast.RecordPat:
		for _, f := range q.Fields {
			if !irrefutable(f.Pat) {
				return false
			}
		}
		return true
	case *ast.LitPat:
		_, isUnit := q.Value.(*ast.UnitLit)
		return isUnit
	}
	return false
}
