package vm

// Opcode is a single VM instruction. The byte values below are the
// canonical encoding of the .fzb format: one opcode byte followed by
// little-endian operands.
type Opcode byte

const (
	OP_NOP Opcode = 0x00

	// Stack and slots
	OP_LOAD_CONST    Opcode = 0x01 // u16: push constants[k]
	OP_LOAD_LOCAL    Opcode = 0x02 // u8: push locals[k]
	OP_STORE_LOCAL   Opcode = 0x03 // u8: pop -> locals[k]
	OP_LOAD_UPVALUE  Opcode = 0x04 // u8: push upvalue[k]
	OP_STORE_UPVALUE Opcode = 0x05 // u8: pop -> upvalue[k]
	OP_POP           Opcode = 0x06
	OP_DUP           Opcode = 0x07

	// Arithmetic
	OP_ADD Opcode = 0x10
	OP_SUB Opcode = 0x11
	OP_MUL Opcode = 0x12
	OP_DIV Opcode = 0x13
	OP_MOD Opcode = 0x14

	// Comparison
	OP_EQ  Opcode = 0x20
	OP_NEQ Opcode = 0x21
	OP_LT  Opcode = 0x22
	OP_LTE Opcode = 0x23
	OP_GT  Opcode = 0x24
	OP_GTE Opcode = 0x25

	// Boolean
	OP_AND Opcode = 0x26
	OP_OR  Opcode = 0x27
	OP_NOT Opcode = 0x28

	// Control flow
	OP_JUMP          Opcode = 0x30 // i16: ip += offset
	OP_JUMP_IF_FALSE Opcode = 0x31 // i16: pop Bool; if false, ip += offset
	OP_CALL          Opcode = 0x32 // u8: call callee with n args
	OP_RETURN        Opcode = 0x33
	OP_TAIL_CALL     Opcode = 0x34 // u8: reuse current frame for call

	// Data
	OP_MAKE_TUPLE   Opcode = 0x40 // u8: pop n, push Tuple
	OP_MAKE_LIST    Opcode = 0x41 // u16: pop n, push List
	OP_CONS         Opcode = 0x42 // pop tail, head; push Cons
	OP_MAKE_ARRAY   Opcode = 0x43 // u16: pop n, push Array
	OP_MAKE_RECORD  Opcode = 0x44 // u8: pop 2n name/value pairs, push Record
	OP_MAKE_VARIANT Opcode = 0x45 // u8: pop n fields + tag symbol, push Variant
	OP_GET_FIELD    Opcode = 0x46 // u16: pop record, push field constants[k]
	OP_ARRAY_OP     Opcode = 0x47 // u8 sub-op: Get / Set / Length
	OP_LIST_OP      Opcode = 0x48 // u8 sub-op: Head / Tail / IsNil

	// Pattern matching
	OP_MATCH_TAG  Opcode = 0x50 // u16: pop value, test variant tag constants[k], push Bool
	OP_MATCH_LIT  Opcode = 0x51 // u16: pop value, test equality with constants[k], push Bool
	OP_BIND_LOCAL Opcode = 0x52 // u8: copy top into locals[k] without popping
	OP_DESTRUCT   Opcode = 0x53 // u8: expand top (tuple or variant) into n slots

	// Closures
	OP_MAKE_CLOSURE    Opcode = 0x60 // u16: build Closure from chunk at constants[k]
	OP_CAPTURE_UPVALUE Opcode = 0x61 // u8,u8: (is_local, index) append upvalue
	OP_CLOSE_UPVALUE   Opcode = 0x62 // u16: close open upvalues at stack index >= k

	// Extensions within the reserved gaps of the canonical table.
	OP_RECORD_UPDATE Opcode = 0x63 // u8: pop 2n pairs + base record, push updated copy
	OP_LOAD_GLOBAL   Opcode = 0x64 // u16: push globals[constants[k]]
	OP_STORE_GLOBAL  Opcode = 0x65 // u16: pop -> globals[constants[k]]
	OP_INT_TO_FLOAT  Opcode = 0x66 // pop Int, push Float
	OP_MATCH_FAIL    Opcode = 0x67 // raise MatchFailure
	OP_NEG           Opcode = 0x68 // pop number, push its negation
)

// Array sub-ops for OP_ARRAY_OP.
const (
	ArrGet    byte = 0 // [arr, idx] -> [elem]
	ArrSet    byte = 1 // [arr, idx, v] -> [unit], mutates in place
	ArrLength byte = 2 // [arr] -> [len]
)

// List sub-ops for OP_LIST_OP.
const (
	ListHead  byte = 0
	ListTail  byte = 1
	ListIsNil byte = 2
)

// opcodeNames maps opcodes to mnemonics for the disassembler.
var opcodeNames = map[Opcode]string{
	OP_NOP:             "NOP",
	OP_LOAD_CONST:      "LOAD_CONST",
	OP_LOAD_LOCAL:      "LOAD_LOCAL",
	OP_STORE_LOCAL:     "STORE_LOCAL",
	OP_LOAD_UPVALUE:    "LOAD_UPVALUE",
	OP_STORE_UPVALUE:   "STORE_UPVALUE",
	OP_POP:             "POP",
	OP_DUP:             "DUP",
	OP_ADD:             "ADD",
	OP_SUB:             "SUB",
	OP_MUL:             "MUL",
	OP_DIV:             "DIV",
	OP_MOD:             "MOD",
	OP_EQ:              "EQ",
	OP_NEQ:             "NEQ",
	OP_LT:              "LT",
	OP_LTE:             "LTE",
	OP_GT:              "GT",
	OP_GTE:             "GTE",
	OP_AND:             "AND",
	OP_OR:              "OR",
	OP_NOT:             "NOT",
	OP_JUMP:            "JUMP",
	OP_JUMP_IF_FALSE:   "JUMP_IF_FALSE",
	OP_CALL:            "CALL",
	OP_RETURN:          "RETURN",
	OP_TAIL_CALL:       "TAIL_CALL",
	OP_MAKE_TUPLE:      "MAKE_TUPLE",
	OP_MAKE_LIST:       "MAKE_LIST",
	OP_CONS:            "CONS",
	OP_MAKE_ARRAY:      "MAKE_ARRAY",
	OP_MAKE_RECORD:     "MAKE_RECORD",
	OP_MAKE_VARIANT:    "MAKE_VARIANT",
	OP_GET_FIELD:       "GET_FIELD",
	OP_ARRAY_OP:        "ARRAY_OP",
	OP_LIST_OP:         "LIST_OP",
	OP_MATCH_TAG:       "MATCH_TAG",
	OP_MATCH_LIT:       "MATCH_LIT",
	OP_BIND_LOCAL:      "BIND_LOCAL",
	OP_DESTRUCT:        "DESTRUCT",
	OP_MAKE_CLOSURE:    "MAKE_CLOSURE",
	OP_CAPTURE_UPVALUE: "CAPTURE_UPVALUE",
	OP_CLOSE_UPVALUE:   "CLOSE_UPVALUE",
	OP_RECORD_UPDATE:   "RECORD_UPDATE",
	OP_LOAD_GLOBAL:     "LOAD_GLOBAL",
	OP_STORE_GLOBAL:    "STORE_GLOBAL",
	OP_INT_TO_FLOAT:    "INT_TO_FLOAT",
	OP_MATCH_FAIL:      "MATCH_FAIL",
	OP_NEG:             "NEG",
}

// operandWidth returns the total operand byte count for an opcode.
func operandWidth(op Opcode) int {
	switch op {
	case OP_LOAD_CONST, OP_JUMP, OP_JUMP_IF_FALSE, OP_MAKE_LIST, OP_MAKE_ARRAY,
		OP_GET_FIELD, OP_MATCH_TAG, OP_MATCH_LIT, OP_MAKE_CLOSURE,
		OP_CLOSE_UPVALUE, OP_LOAD_GLOBAL, OP_STORE_GLOBAL:
		return 2
	case OP_LOAD_LOCAL, OP_STORE_LOCAL, OP_LOAD_UPVALUE, OP_STORE_UPVALUE,
		OP_CALL, OP_TAIL_CALL, OP_MAKE_TUPLE, OP_MAKE_RECORD, OP_MAKE_VARIANT,
		OP_ARRAY_OP, OP_LIST_OP, OP_BIND_LOCAL, OP_DESTRUCT, OP_RECORD_UPDATE:
		return 1
	case OP_CAPTURE_UPVALUE:
		return 2
	}
	return 0
}
