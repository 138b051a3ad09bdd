package vm

import (
	"fmt"
	"strings"
)

// Disassemble renders a chunk (and its nested function chunks) as
// human-readable mnemonics; used by `fusabi grind -d` and tests.
func Disassemble(chunk *Chunk) string {
	var sb strings.Builder
	disassembleInto(&sb, chunk, "")
	return sb.String()
}

func disassembleInto(sb *strings.Builder, chunk *Chunk, indent string) {
	name := chunk.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(sb, "%s== %s (arity %d, locals %d, upvalues %d) ==\n",
		indent, name, chunk.Arity, chunk.LocalCount, len(chunk.UpvalueSpecs))

	ip := 0
	for ip < len(chunk.Code) {
		op := Opcode(chunk.Code[ip])
		mnemonic, known := opcodeNames[op]
		if !known {
			fmt.Fprintf(sb, "%s%04d  ??? 0x%02x\n", indent, ip, byte(op))
			ip++
			continue
		}

		fmt.Fprintf(sb, "%s%04d  %-16s", indent, ip, mnemonic)
		width := operandWidth(op)
		switch op {
		case OP_LOAD_CONST, OP_GET_FIELD, OP_MATCH_TAG, OP_MATCH_LIT,
			OP_MAKE_CLOSURE, OP_LOAD_GLOBAL, OP_STORE_GLOBAL:
			k := chunk.ReadU16(ip + 1)
			if int(k) < len(chunk.Constants) {
				fmt.Fprintf(sb, "%d (%s)", k, chunk.Constants[k].Inspect())
			} else {
				fmt.Fprintf(sb, "%d (!)", k)
			}
		case OP_JUMP, OP_JUMP_IF_FALSE:
			offset := chunk.ReadI16(ip + 1)
			fmt.Fprintf(sb, "%+d -> %04d", offset, ip+3+int(offset))
		case OP_MAKE_LIST, OP_MAKE_ARRAY, OP_CLOSE_UPVALUE:
			fmt.Fprintf(sb, "%d", chunk.ReadU16(ip+1))
		case OP_CAPTURE_UPVALUE:
			fmt.Fprintf(sb, "is_local=%d index=%d", chunk.Code[ip+1], chunk.Code[ip+2])
		case OP_ARRAY_OP:
			fmt.Fprintf(sb, "%s", [...]string{"GET", "SET", "LENGTH"}[chunk.Code[ip+1]])
		case OP_LIST_OP:
			fmt.Fprintf(sb, "%s", [...]string{"HEAD", "TAIL", "IS_NIL"}[chunk.Code[ip+1]])
		default:
			if width == 1 {
				fmt.Fprintf(sb, "%d", chunk.Code[ip+1])
			}
		}
		sb.WriteByte('\n')
		ip += 1 + width
	}

	for _, c := range chunk.Constants {
		if c.Type == ValObj {
			if nested, ok := c.Obj.(*Chunk); ok {
				disassembleInto(sb, nested, indent+"  ")
			}
		}
	}
}
