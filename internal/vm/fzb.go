package vm

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
)

// The .fzb bytecode file format, little-endian throughout:
//
//	Offset Size   Field
//	0      4      Magic  : "FZB\x01"
//	4      1      Version: u8 (current = 1)
//	5      4      Flags  : u32 (bit 0 = has-debug, bit 2 = has-source-map)
//	9      4      Metadata length : u32
//	13     N      Metadata (module_name, source_hash[32], timestamp, deps, exports)
//	+      4      Constant pool count : u32
//	+      …      Constants, tagged
//	+      4      Code length : u32
//	+      M      Instruction stream
//	+      4      Debug info length : u32 (0 if absent)
//	+      …      Debug spans parallel to instructions

var fzbMagic = [4]byte{'F', 'Z', 'B', 0x01}

const fzbVersion byte = 1

const (
	flagHasDebug     uint32 = 1 << 0
	flagHasSourceMap uint32 = 1 << 2
)

// Constant tags.
const (
	constTagInt    byte = 0
	constTagBool   byte = 1
	constTagString byte = 2
	constTagSymbol byte = 3
	constTagChunk  byte = 4
	constTagFloat  byte = 5
	constTagUnit   byte = 6
)

// Metadata describes the compiled module.
type Metadata struct {
	ModuleName string
	SourceHash [32]byte
	Timestamp  int64
	Deps       []string
	Exports    []string
}

// HashSource fills the metadata hash from source text.
func HashSource(source string) [32]byte {
	return sha256.Sum256([]byte(source))
}

// --- serialization ---

type fzbWriter struct {
	buf bytes.Buffer
}

func (w *fzbWriter) u8(v byte)    { w.buf.WriteByte(v) }
func (w *fzbWriter) u32(v uint32) { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *fzbWriter) i64(v int64)  { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *fzbWriter) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}
func (w *fzbWriter) bytesRaw(b []byte) { w.buf.Write(b) }

// Serialize encodes a chunk with its metadata.
func Serialize(chunk *Chunk, meta Metadata) ([]byte, error) {
	w := &fzbWriter{}
	w.bytesRaw(fzbMagic[:])
	w.u8(fzbVersion)

	var flags uint32
	if len(chunk.Debug) > 0 {
		flags |= flagHasDebug
	}
	w.u32(flags)

	// Metadata block, length-prefixed.
	mw := &fzbWriter{}
	mw.str(meta.ModuleName)
	mw.bytesRaw(meta.SourceHash[:])
	mw.i64(meta.Timestamp)
	mw.u32(uint32(len(meta.Deps)))
	for _, d := range meta.Deps {
		mw.str(d)
	}
	mw.u32(uint32(len(meta.Exports)))
	for _, e := range meta.Exports {
		mw.str(e)
	}
	w.u32(uint32(mw.buf.Len()))
	w.bytesRaw(mw.buf.Bytes())

	if err := writeChunkBody(w, chunk); err != nil {
		return nil, err
	}
	return w.buf.Bytes(), nil
}

func writeChunkBody(w *fzbWriter, chunk *Chunk) error {
	w.u32(uint32(len(chunk.Constants)))
	for _, c := range chunk.Constants {
		if err := writeConstant(w, c); err != nil {
			return err
		}
	}
	w.u32(uint32(len(chunk.Code)))
	w.bytesRaw(chunk.Code)

	if len(chunk.Debug) > 0 {
		w.u32(uint32(len(chunk.Debug) * 8))
		for _, s := range chunk.Debug {
			w.u32(uint32(s.Line))
			w.u32(uint32(s.Col))
		}
	} else {
		w.u32(0)
	}
	return nil
}

func writeConstant(w *fzbWriter, v Value) error {
	switch v.Type {
	case ValInt:
		w.u8(constTagInt)
		w.i64(v.AsInt())
		return nil
	case ValBool:
		w.u8(constTagBool)
		if v.AsBool() {
			w.u8(1)
		} else {
			w.u8(0)
		}
		return nil
	case ValFloat:
		w.u8(constTagFloat)
		_ = binary.Write(&w.buf, binary.LittleEndian, v.AsFloat())
		return nil
	case ValUnit:
		w.u8(constTagUnit)
		return nil
	case ValObj:
		switch o := v.Obj.(type) {
		case *ObjString:
			w.u8(constTagString)
			w.str(o.Value)
			return nil
		case *ObjSymbol:
			w.u8(constTagSymbol)
			w.str(o.Name)
			return nil
		case *Chunk:
			w.u8(constTagChunk)
			w.str(o.Name)
			w.u8(byte(o.Arity))
			w.u8(byte(o.LocalCount))
			w.u8(byte(len(o.UpvalueSpecs)))
			for _, spec := range o.UpvalueSpecs {
				if spec.IsLocal {
					w.u8(1)
				} else {
					w.u8(0)
				}
				w.u8(spec.Index)
			}
			return writeChunkBody(w, o)
		}
	}
	// The constant pool holds only deep-clone-safe values.
	return fmt.Errorf("unserializable constant of kind %s", v.KindName())
}

// --- deserialization ---

type fzbReader struct {
	data []byte
	pos  int
}

func (r *fzbReader) remain() int { return len(r.data) - r.pos }

func (r *fzbReader) u8() (byte, error) {
	if r.remain() < 1 {
		return 0, fmt.Errorf("truncated bytecode at offset %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *fzbReader) u32() (uint32, error) {
	if r.remain() < 4 {
		return 0, fmt.Errorf("truncated bytecode at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *fzbReader) i64() (int64, error) {
	if r.remain() < 8 {
		return 0, fmt.Errorf("truncated bytecode at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return int64(v), nil
}

func (r *fzbReader) f64() (float64, error) {
	bits, err := r.i64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

func (r *fzbReader) str() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	if uint32(r.remain()) < n {
		return "", fmt.Errorf("truncated string at offset %d", r.pos)
	}
	s := string(r.data[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

func (r *fzbReader) take(n int) ([]byte, error) {
	if r.remain() < n {
		return nil, fmt.Errorf("truncated bytecode at offset %d", r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// Deserialize decodes and validates a .fzb image.
func Deserialize(data []byte) (*Chunk, *Metadata, error) {
	r := &fzbReader{data: data}

	magic, err := r.take(4)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(magic, fzbMagic[:]) {
		return nil, nil, fmt.Errorf("invalid magic number, expected FZB\\x01")
	}
	version, err := r.u8()
	if err != nil {
		return nil, nil, err
	}
	if version != fzbVersion {
		return nil, nil, fmt.Errorf("unsupported bytecode version %d (this build supports %d)", version, fzbVersion)
	}
	if _, err = r.u32(); err != nil { // flags
		return nil, nil, err
	}

	metaLen, err := r.u32()
	if err != nil {
		return nil, nil, err
	}
	metaEnd := r.pos + int(metaLen)
	meta := &Metadata{}
	if meta.ModuleName, err = r.str(); err != nil {
		return nil, nil, err
	}
	hash, err := r.take(32)
	if err != nil {
		return nil, nil, err
	}
	copy(meta.SourceHash[:], hash)
	if meta.Timestamp, err = r.i64(); err != nil {
		return nil, nil, err
	}
	depCount, err := r.u32()
	if err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < depCount; i++ {
		d, dErr := r.str()
		if dErr != nil {
			return nil, nil, dErr
		}
		meta.Deps = append(meta.Deps, d)
	}
	expCount, err := r.u32()
	if err != nil {
		return nil, nil, err
	}
	for i := uint32(0); i < expCount; i++ {
		e, eErr := r.str()
		if eErr != nil {
			return nil, nil, eErr
		}
		meta.Exports = append(meta.Exports, e)
	}
	if r.pos != metaEnd {
		return nil, nil, fmt.Errorf("metadata length mismatch")
	}

	chunk := NewChunk(meta.ModuleName)
	if err := readChunkBody(r, chunk); err != nil {
		return nil, nil, err
	}
	if err := ValidateChunk(chunk); err != nil {
		return nil, nil, err
	}
	return chunk, meta, nil
}

func readChunkBody(r *fzbReader, chunk *Chunk) error {
	constCount, err := r.u32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < constCount; i++ {
		c, cErr := readConstant(r)
		if cErr != nil {
			return cErr
		}
		chunk.Constants = append(chunk.Constants, c)
	}

	codeLen, err := r.u32()
	if err != nil {
		return err
	}
	code, err := r.take(int(codeLen))
	if err != nil {
		return err
	}
	chunk.Code = append([]byte(nil), code...)

	debugLen, err := r.u32()
	if err != nil {
		return err
	}
	if debugLen > 0 {
		if debugLen%8 != 0 {
			return fmt.Errorf("malformed debug section")
		}
		n := int(debugLen / 8)
		for i := 0; i < n; i++ {
			line, lErr := r.u32()
			if lErr != nil {
				return lErr
			}
			col, cErr := r.u32()
			if cErr != nil {
				return cErr
			}
			chunk.Debug = append(chunk.Debug, Span{Line: int(line), Col: int(col)})
		}
	}
	return nil
}

func readConstant(r *fzbReader) (Value, error) {
	tag, err := r.u8()
	if err != nil {
		return UnitVal(), err
	}
	switch tag {
	case constTagInt:
		v, err := r.i64()
		return IntVal(v), err
	case constTagBool:
		b, err := r.u8()
		return BoolVal(b == 1), err
	case constTagFloat:
		f, err := r.f64()
		return FloatVal(f), err
	case constTagUnit:
		return UnitVal(), nil
	case constTagString:
		s, err := r.str()
		return StrVal(s), err
	case constTagSymbol:
		s, err := r.str()
		return ObjVal(&ObjSymbol{Name: s}), err
	case constTagChunk:
		name, err := r.str()
		if err != nil {
			return UnitVal(), err
		}
		arity, err := r.u8()
		if err != nil {
			return UnitVal(), err
		}
		localCount, err := r.u8()
		if err != nil {
			return UnitVal(), err
		}
		upCount, err := r.u8()
		if err != nil {
			return UnitVal(), err
		}
		nested := NewChunk(name)
		nested.Arity = int(arity)
		nested.LocalCount = int(localCount)
		for i := 0; i < int(upCount); i++ {
			isLocal, uErr := r.u8()
			if uErr != nil {
				return UnitVal(), uErr
			}
			index, uErr := r.u8()
			if uErr != nil {
				return UnitVal(), uErr
			}
			nested.UpvalueSpecs = append(nested.UpvalueSpecs, UpvalueSpec{IsLocal: isLocal == 1, Index: index})
		}
		if err := readChunkBody(r, nested); err != nil {
			return UnitVal(), err
		}
		return ObjVal(nested), nil
	}
	return UnitVal(), fmt.Errorf("unknown constant tag %d", tag)
}

// ValidateChunk checks a decoded chunk before execution: every opcode is
// known and its operands are present, every constant-pool operand indexes
// the pool, and every jump lands inside the code section. Local and upvalue
// indices are not checked. Nested chunks validate recursively.
func ValidateChunk(chunk *Chunk) error {
	ip := 0
	for ip < len(chunk.Code) {
		op := Opcode(chunk.Code[ip])
		width := operandWidth(op)
		if _, known := opcodeNames[op]; !known {
			return fmt.Errorf("unknown opcode 0x%02x at offset %d", byte(op), ip)
		}
		if ip+1+width > len(chunk.Code) {
			return fmt.Errorf("truncated operands for %s at offset %d", opcodeNames[op], ip)
		}

		switch op {
		case OP_LOAD_CONST, OP_GET_FIELD, OP_MATCH_TAG, OP_MATCH_LIT,
			OP_MAKE_CLOSURE, OP_LOAD_GLOBAL, OP_STORE_GLOBAL:
			k := int(chunk.ReadU16(ip + 1))
			if k >= len(chunk.Constants) {
				return fmt.Errorf("constant index %d out of range at offset %d", k, ip)
			}
			if op == OP_MAKE_CLOSURE {
				if _, ok := chunk.Constants[k].Obj.(*Chunk); !ok {
					return fmt.Errorf("MAKE_CLOSURE constant %d is not a chunk", k)
				}
			}
		case OP_JUMP, OP_JUMP_IF_FALSE:
			offset := int(chunk.ReadI16(ip + 1))
			dest := ip + 1 + width + offset
			if dest < 0 || dest > len(chunk.Code) {
				return fmt.Errorf("jump to %d outside code section at offset %d", dest, ip)
			}
		}
		ip += 1 + width
	}

	for _, c := range chunk.Constants {
		if c.Type == ValObj {
			if nested, ok := c.Obj.(*Chunk); ok {
				if err := ValidateChunk(nested); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
