// Package vm implements the Fusabi bytecode virtual machine: the runtime
// value universe, chunks, the compiler from typed AST to bytecode, the
// stack machine itself, the host-function registry and the .fzb codec.
package vm

import (
	"fmt"
	"math"
	"strings"
)

// ValueType identifies the tag of a Value.
type ValueType uint8

const (
	ValUnit ValueType = iota
	ValInt
	ValFloat
	ValBool
	ValObj // heap object (string, tuple, list, array, record, ...)
)

// Value is a stack-allocated tagged union. Small primitives live in Data;
// everything else hangs off Obj.
type Value struct {
	Type ValueType
	Data uint64 // int64 bits, float64 bits, or bool (0/1)
	Obj  Object
}

// Constructors

func UnitVal() Value { return Value{Type: ValUnit} }

func IntVal(v int64) Value { return Value{Type: ValInt, Data: uint64(v)} }

func FloatVal(v float64) Value { return Value{Type: ValFloat, Data: math.Float64bits(v)} }

func BoolVal(v bool) Value {
	var data uint64
	if v {
		data = 1
	}
	return Value{Type: ValBool, Data: data}
}

func ObjVal(o Object) Value { return Value{Type: ValObj, Obj: o} }

func StrVal(s string) Value { return ObjVal(&ObjString{Value: s}) }

// Accessors

func (v Value) AsInt() int64     { return int64(v.Data) }
func (v Value) AsFloat() float64 { return math.Float64frombits(v.Data) }
func (v Value) AsBool() bool     { return v.Data == 1 }

func (v Value) IsUnit() bool  { return v.Type == ValUnit }
func (v Value) IsInt() bool   { return v.Type == ValInt }
func (v Value) IsFloat() bool { return v.Type == ValFloat }
func (v Value) IsBool() bool  { return v.Type == ValBool }
func (v Value) IsObj() bool   { return v.Type == ValObj }

// AsString returns the string payload; the second result is false for
// non-string values.
func (v Value) AsString() (string, bool) {
	if v.Type == ValObj {
		if s, ok := v.Obj.(*ObjString); ok {
			return s.Value, true
		}
	}
	return "", false
}

// Equals implements the language's equality: structural on records,
// variants, tuples, lists and strings; identity on arrays and closures.
func (v Value) Equals(other Value) bool {
	if v.Type != other.Type {
		return false
	}
	switch v.Type {
	case ValUnit:
		return true
	case ValInt, ValBool:
		return v.Data == other.Data
	case ValFloat:
		return v.AsFloat() == other.AsFloat()
	case ValObj:
		return objectsEqual(v.Obj, other.Obj)
	}
	return false
}

func objectsEqual(a, b Object) bool {
	switch ao := a.(type) {
	case *ObjString:
		bo, ok := b.(*ObjString)
		return ok && ao.Value == bo.Value
	case *ObjSymbol:
		bo, ok := b.(*ObjSymbol)
		return ok && ao.Name == bo.Name
	case *ObjTuple:
		bo, ok := b.(*ObjTuple)
		if !ok || len(ao.Elems) != len(bo.Elems) {
			return false
		}
		for i := range ao.Elems {
			if !ao.Elems[i].Equals(bo.Elems[i]) {
				return false
			}
		}
		return true
	case *ObjList:
		bo, ok := b.(*ObjList)
		if !ok {
			return false
		}
		x, y := ao, bo
		for x != nil && y != nil {
			if !x.Head.Equals(y.Head) {
				return false
			}
			x, y = x.Tail, y.Tail
		}
		return x == nil && y == nil
	case *ObjRecord:
		bo, ok := b.(*ObjRecord)
		if !ok || len(ao.Fields) != len(bo.Fields) {
			return false
		}
		for name, av := range ao.Fields {
			bv, exists := bo.Fields[name]
			if !exists || !av.Equals(bv) {
				return false
			}
		}
		return true
	case *ObjVariant:
		bo, ok := b.(*ObjVariant)
		if !ok || ao.TypeName != bo.TypeName || ao.Variant != bo.Variant ||
			len(ao.Fields) != len(bo.Fields) {
			return false
		}
		for i := range ao.Fields {
			if !ao.Fields[i].Equals(bo.Fields[i]) {
				return false
			}
		}
		return true
	}
	// Arrays, closures, natives, tasks, channel handles: identity.
	return a == b
}

// Inspect renders a value for the REPL and error messages.
func (v Value) Inspect() string {
	switch v.Type {
	case ValUnit:
		return "()"
	case ValInt:
		return fmt.Sprintf("%d", v.AsInt())
	case ValFloat:
		return fmt.Sprintf("%g", v.AsFloat())
	case ValBool:
		return fmt.Sprintf("%t", v.AsBool())
	case ValObj:
		if v.Obj != nil {
			return v.Obj.Inspect()
		}
		return "[]"
	}
	return "<?>"
}

// KindName names a value's runtime kind for error messages.
func (v Value) KindName() string {
	switch v.Type {
	case ValUnit:
		return "Unit"
	case ValInt:
		return "Int"
	case ValFloat:
		return "Float"
	case ValBool:
		return "Bool"
	case ValObj:
		switch o := v.Obj.(type) {
		case *ObjString:
			return "String"
		case *ObjSymbol:
			return "Symbol"
		case *ObjTuple:
			return "Tuple"
		case *ObjList:
			return "List"
		case *ObjArray:
			return "Array"
		case *ObjRecord:
			return "Record"
		case *ObjVariant:
			return o.TypeName
		case *ObjClosure, *NativeFn, *ObjPartial:
			return "Function"
		case *ObjTask:
			return "Async"
		case *ObjSender:
			return "ChannelSender"
		case *ObjReceiver:
			return "ChannelReceiver"
		case *Chunk:
			return "Chunk"
		}
	}
	return "Unknown"
}

// listToString renders a cons list.
func listToString(l *ObjList) string {
	var sb strings.Builder
	sb.WriteByte('[')
	first := true
	for n := l; n != nil; n = n.Tail {
		if !first {
			sb.WriteString("; ")
		}
		first = false
		sb.WriteString(n.Head.Inspect())
	}
	sb.WriteByte(']')
	return sb.String()
}
