package vm_test

import (
	"strings"
	"testing"

	"github.com/fusabi-lang/fusabi/internal/vm"
)

// runChunk executes a hand-assembled chunk on a bare machine.
func runChunk(t *testing.T, chunk *vm.Chunk) vm.Value {
	t.Helper()
	if err := vm.ValidateChunk(chunk); err != nil {
		t.Fatalf("chunk does not validate: %v", err)
	}
	machine := newMachine(nil, vm.Config{})
	result, err := machine.Run(chunk)
	if err != nil {
		t.Fatalf("runtime error: %v", err)
	}
	return result
}

func TestOpcodeDupAndPop(t *testing.T) {
	chunk := vm.NewChunk("dup")
	span := vm.Span{}
	seven := chunk.AddConstant(vm.IntVal(7))
	chunk.WriteOp(vm.OP_LOAD_CONST, span)
	chunk.WriteU16(uint16(seven), span)
	chunk.WriteOp(vm.OP_DUP, span)
	chunk.WriteOp(vm.OP_ADD, span)
	chunk.WriteOp(vm.OP_RETURN, span)

	testIntValue(t, runChunk(t, chunk), 14)
}

func TestOpcodeNopIsInert(t *testing.T) {
	chunk := vm.NewChunk("nop")
	span := vm.Span{}
	one := chunk.AddConstant(vm.IntVal(1))
	chunk.WriteOp(vm.OP_NOP, span)
	chunk.WriteOp(vm.OP_LOAD_CONST, span)
	chunk.WriteU16(uint16(one), span)
	chunk.WriteOp(vm.OP_NOP, span)
	chunk.WriteOp(vm.OP_RETURN, span)

	testIntValue(t, runChunk(t, chunk), 1)
}

func TestOpcodeBindLocalKeepsTop(t *testing.T) {
	// BIND_LOCAL copies the top into a slot without popping: afterwards
	// both the slot and the stack top hold the value.
	chunk := vm.NewChunk("bind")
	chunk.LocalCount = 1
	span := vm.Span{}
	zero := chunk.AddConstant(vm.IntVal(0))
	five := chunk.AddConstant(vm.IntVal(5))

	chunk.WriteOp(vm.OP_LOAD_CONST, span) // placeholder local 0
	chunk.WriteU16(uint16(zero), span)
	chunk.WriteOp(vm.OP_LOAD_CONST, span)
	chunk.WriteU16(uint16(five), span)
	chunk.WriteOp(vm.OP_BIND_LOCAL, span)
	chunk.WriteU8(0, span)
	chunk.WriteOp(vm.OP_LOAD_LOCAL, span)
	chunk.WriteU8(0, span)
	chunk.WriteOp(vm.OP_ADD, span) // top (5) + local copy (5)
	chunk.WriteOp(vm.OP_RETURN, span)

	testIntValue(t, runChunk(t, chunk), 10)
}

func TestOpcodeBooleanOps(t *testing.T) {
	cases := []struct {
		op   vm.Opcode
		a, b bool
		want bool
	}{
		{vm.OP_AND, true, true, true},
		{vm.OP_AND, true, false, false},
		{vm.OP_OR, false, false, false},
		{vm.OP_OR, false, true, true},
	}
	for _, tc := range cases {
		chunk := vm.NewChunk("bool")
		span := vm.Span{}
		a := chunk.AddConstant(vm.BoolVal(tc.a))
		b := chunk.AddConstant(vm.BoolVal(tc.b))
		chunk.WriteOp(vm.OP_LOAD_CONST, span)
		chunk.WriteU16(uint16(a), span)
		chunk.WriteOp(vm.OP_LOAD_CONST, span)
		chunk.WriteU16(uint16(b), span)
		chunk.WriteOp(tc.op, span)
		chunk.WriteOp(vm.OP_RETURN, span)

		testBoolValue(t, runChunk(t, chunk), tc.want)
	}
}

func TestOpcodeStoreUpvalue(t *testing.T) {
	// An upvalue behaves as a mutable cell for STORE_UPVALUE; the write
	// lands in the still-open stack slot.
	inner := vm.NewChunk("cell")
	inner.Arity = 1
	inner.LocalCount = 1
	inner.UpvalueSpecs = []vm.UpvalueSpec{{IsLocal: true, Index: 0}}
	span := vm.Span{}
	nine := inner.AddConstant(vm.IntVal(9))
	inner.WriteOp(vm.OP_LOAD_CONST, span)
	inner.WriteU16(uint16(nine), span)
	inner.WriteOp(vm.OP_STORE_UPVALUE, span)
	inner.WriteU8(0, span)
	inner.WriteOp(vm.OP_LOAD_UPVALUE, span)
	inner.WriteU8(0, span)
	inner.WriteOp(vm.OP_RETURN, span)

	script := vm.NewChunk("<script>")
	script.LocalCount = 1
	one := script.AddConstant(vm.IntVal(1))
	unit := script.AddConstant(vm.UnitVal())
	fn := script.AddConstant(vm.ObjVal(inner))

	script.WriteOp(vm.OP_LOAD_CONST, span) // local 0 = 1, captured below
	script.WriteU16(uint16(one), span)
	script.WriteOp(vm.OP_MAKE_CLOSURE, span)
	script.WriteU16(uint16(fn), span)
	script.WriteOp(vm.OP_CAPTURE_UPVALUE, span)
	script.WriteU8(1, span) // is_local
	script.WriteU8(0, span) // index
	script.WriteOp(vm.OP_LOAD_CONST, span)
	script.WriteU16(uint16(unit), span)
	script.WriteOp(vm.OP_CALL, span)
	script.WriteU8(1, span)
	script.WriteOp(vm.OP_RETURN, span)

	testIntValue(t, runChunk(t, script), 9)
}

func TestDisassembleMentionsMnemonics(t *testing.T) {
	chunk, _, _ := compile(t, `let f x = x + 1 in f 41`)
	out := vm.Disassemble(chunk)
	for _, mnemonic := range []string{"MAKE_CLOSURE", "CALL", "RETURN", "LOAD_CONST", "ADD"} {
		if !strings.Contains(out, mnemonic) {
			t.Errorf("disassembly missing %s:\n%s", mnemonic, out)
		}
	}
}
