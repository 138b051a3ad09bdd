package vm_test

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/fusabi-lang/fusabi/internal/vm"
)

func roundTrip(t *testing.T, source string) (*vm.Chunk, *vm.Chunk, *vm.Metadata) {
	t.Helper()
	chunk, _, _ := compile(t, source)
	meta := vm.Metadata{
		ModuleName: "main",
		SourceHash: vm.HashSource(source),
		Timestamp:  1700000000,
		Deps:       []string{"lib/util.fz"},
		Exports:    []string{"Main.answer"},
	}
	data, err := vm.Serialize(chunk, meta)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	decoded, decodedMeta, err := vm.Deserialize(data)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	return chunk, decoded, decodedMeta
}

func chunksEqual(a, b *vm.Chunk) bool {
	if !bytes.Equal(a.Code, b.Code) {
		return false
	}
	if a.Arity != b.Arity || len(a.UpvalueSpecs) != len(b.UpvalueSpecs) {
		return false
	}
	if !reflect.DeepEqual(a.UpvalueSpecs, b.UpvalueSpecs) {
		return false
	}
	if len(a.Constants) != len(b.Constants) {
		return false
	}
	for i := range a.Constants {
		ca, cb := a.Constants[i], b.Constants[i]
		na, aok := ca.Obj.(*vm.Chunk)
		nb, bok := cb.Obj.(*vm.Chunk)
		if aok != bok {
			return false
		}
		if aok {
			if !chunksEqual(na, nb) {
				return false
			}
			continue
		}
		if !ca.Equals(cb) {
			return false
		}
	}
	return true
}

func TestSerializeRoundTripIdentity(t *testing.T) {
	source := `
let rec fact n = if n <= 1 then 1 else n * fact (n - 1)
let greeting = "hello"
let pi = 3.14
fact 5`
	original, decoded, meta := roundTrip(t, source)

	if !chunksEqual(original, decoded) {
		t.Fatal("deserialize(serialize(chunk)) is not identity")
	}
	if meta.ModuleName != "main" || meta.Timestamp != 1700000000 {
		t.Fatalf("metadata mangled: %+v", meta)
	}
	if len(meta.Deps) != 1 || meta.Deps[0] != "lib/util.fz" {
		t.Fatalf("deps mangled: %+v", meta.Deps)
	}
	if meta.SourceHash != vm.HashSource(source) {
		t.Fatal("source hash mangled")
	}
}

func TestRoundTrippedChunkRuns(t *testing.T) {
	source := `let add x y = x + y in add 20 22`
	_, decoded, _ := roundTrip(t, source)

	machine := newMachine(nil, vm.Config{})
	result, err := machine.Run(decoded)
	if err != nil {
		t.Fatalf("decoded chunk failed to run: %v", err)
	}
	testIntValue(t, result, 42)
}

func TestDebugSpansSurviveRoundTrip(t *testing.T) {
	original, decoded, _ := roundTrip(t, "let x = 1\nx + 1")
	if len(original.Debug) == 0 {
		t.Fatal("compile helper should keep debug info")
	}
	if !reflect.DeepEqual(original.Debug, decoded.Debug) {
		t.Fatal("debug spans mangled")
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	chunk, _, _ := compile(t, `1`)
	data, err := vm.Serialize(chunk, vm.Metadata{ModuleName: "m"})
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 'X'
	if _, _, err := vm.Deserialize(data); err == nil {
		t.Fatal("bad magic must be rejected")
	}
}

func TestDeserializeRejectsBadVersion(t *testing.T) {
	chunk, _, _ := compile(t, `1`)
	data, _ := vm.Serialize(chunk, vm.Metadata{ModuleName: "m"})
	data[4] = 99
	if _, _, err := vm.Deserialize(data); err == nil {
		t.Fatal("unsupported version must be rejected")
	}
}

func TestDeserializeRejectsTruncation(t *testing.T) {
	chunk, _, _ := compile(t, `let f x = x + 1 in f 1`)
	data, _ := vm.Serialize(chunk, vm.Metadata{ModuleName: "m"})
	for _, cut := range []int{5, 12, len(data) / 2, len(data) - 1} {
		if _, _, err := vm.Deserialize(data[:cut]); err == nil {
			t.Fatalf("truncation at %d must be rejected", cut)
		}
	}
}

func TestValidateRejectsOutOfRangeConstant(t *testing.T) {
	chunk := vm.NewChunk("bad")
	span := vm.Span{}
	chunk.WriteOp(vm.OP_LOAD_CONST, span)
	chunk.WriteU16(7, span) // no constants at all
	chunk.WriteOp(vm.OP_RETURN, span)
	if err := vm.ValidateChunk(chunk); err == nil {
		t.Fatal("constant index out of range must be rejected")
	}
}

func TestValidateRejectsWildJump(t *testing.T) {
	chunk := vm.NewChunk("bad")
	span := vm.Span{}
	chunk.WriteOp(vm.OP_JUMP, span)
	chunk.WriteI16(1000, span)
	chunk.WriteOp(vm.OP_RETURN, span)
	if err := vm.ValidateChunk(chunk); err == nil {
		t.Fatal("jump outside the code section must be rejected")
	}
}
