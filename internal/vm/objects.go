package vm

import (
	"fmt"
	"strings"

	"github.com/fusabi-lang/fusabi/internal/asyncrt"
)

// ObjectType names an object's runtime class.
type ObjectType string

// Object is the interface of heap values.
type Object interface {
	Type() ObjectType
	Inspect() string
}

// ObjString is an immutable string.
type ObjString struct {
	Value string
}

func (o *ObjString) Type() ObjectType { return "STRING" }
func (o *ObjString) Inspect() string  { return fmt.Sprintf("%q", o.Value) }

// ObjSymbol is an interned name used for record fields and variant tags in
// constant pools. Distinct from strings so the .fzb codec can tag it.
type ObjSymbol struct {
	Name string
}

func (o *ObjSymbol) Type() ObjectType { return "SYMBOL" }
func (o *ObjSymbol) Inspect() string  { return o.Name }

// ObjTuple is an immutable fixed-arity product.
type ObjTuple struct {
	Elems []Value
}

func (o *ObjTuple) Type() ObjectType { return "TUPLE" }
func (o *ObjTuple) Inspect() string {
	parts := make([]string, len(o.Elems))
	for i, e := range o.Elems {
		parts[i] = e.Inspect()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ObjList is a cons cell; the empty list is the nil pointer, so Cons is
// O(1) and tails are structurally shared.
type ObjList struct {
	Head Value
	Tail *ObjList
}

func (o *ObjList) Type() ObjectType { return "LIST" }
func (o *ObjList) Inspect() string {
	if o == nil {
		return "[]"
	}
	return listToString(o)
}

// ListVal wraps a cons cell (or nil for the empty list) as a Value.
func ListVal(l *ObjList) Value {
	return Value{Type: ValObj, Obj: l}
}

// AsList extracts a cons list; ok is false for non-lists.
func (v Value) AsList() (*ObjList, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	l, ok := v.Obj.(*ObjList)
	return l, ok
}

// ObjArray is a shared-mutable ordered sequence: mutation is visible
// through every alias.
type ObjArray struct {
	Elems []Value
}

func (o *ObjArray) Type() ObjectType { return "ARRAY" }
func (o *ObjArray) Inspect() string {
	parts := make([]string, len(o.Elems))
	for i, e := range o.Elems {
		parts[i] = e.Inspect()
	}
	return "[|" + strings.Join(parts, "; ") + "|]"
}

// ObjRecord has a field set fixed at construction; updates produce a new
// record sharing untouched field values.
type ObjRecord struct {
	Fields map[string]Value
	Order  []string
}

func (o *ObjRecord) Type() ObjectType { return "RECORD" }
func (o *ObjRecord) Inspect() string {
	parts := make([]string, len(o.Order))
	for i, name := range o.Order {
		parts[i] = name + " = " + o.Fields[name].Inspect()
	}
	return "{ " + strings.Join(parts, "; ") + " }"
}

// ObjVariant is a discriminated-union inhabitant. Matching always uses the
// (TypeName, Variant) pair together.
type ObjVariant struct {
	TypeName string
	Variant  string
	Fields   []Value
}

func (o *ObjVariant) Type() ObjectType { return "VARIANT" }
func (o *ObjVariant) Inspect() string {
	if len(o.Fields) == 0 {
		return o.Variant
	}
	parts := make([]string, len(o.Fields))
	for i, f := range o.Fields {
		parts[i] = f.Inspect()
	}
	return o.Variant + " (" + strings.Join(parts, ", ") + ")"
}

// UpvalueSpec tells MakeClosure where a captured variable lives: in the
// enclosing frame's locals or in that frame's own upvalues.
type UpvalueSpec struct {
	IsLocal bool
	Index   uint8
}

// ObjClosure pairs a chunk with its captured upvalues. Invariant:
// len(Upvalues) == len(Chunk.UpvalueSpecs).
type ObjClosure struct {
	Chunk    *Chunk
	Upvalues []*ObjUpvalue
}

func (o *ObjClosure) Type() ObjectType { return "CLOSURE" }
func (o *ObjClosure) Inspect() string {
	name := o.Chunk.Name
	if name == "" {
		name = "<anonymous>"
	}
	return "<fn " + name + ">"
}

// ObjUpvalue is a captured variable: open while it points at a live stack
// slot, closed once it owns the value.
type ObjUpvalue struct {
	// Location is the absolute stack index while open, -1 once closed.
	Location int
	Closed   Value

	// Next links the VM's open-upvalue list, sorted by location
	// (highest first).
	Next *ObjUpvalue
}

// NativeFn points into the host registry.
type NativeFn struct {
	Name  string
	Arity int
	Fn    func(vm *VM, args []Value) (Value, error)
}

func (o *NativeFn) Type() ObjectType { return "NATIVE" }
func (o *NativeFn) Inspect() string  { return "<native " + o.Name + ">" }

// ObjPartial is a native function applied to fewer arguments than its
// arity; script closures never need this because currying makes them
// unary.
type ObjPartial struct {
	Fn   *NativeFn
	Args []Value
}

func (o *ObjPartial) Type() ObjectType { return "PARTIAL" }
func (o *ObjPartial) Inspect() string {
	return fmt.Sprintf("<partial %s %d/%d>", o.Fn.Name, len(o.Args), o.Fn.Arity)
}

// ObjTask is an async value: an opaque reference into the task table.
type ObjTask struct {
	Task *asyncrt.Task
}

func (o *ObjTask) Type() ObjectType { return "ASYNC" }
func (o *ObjTask) Inspect() string  { return "<async " + o.Task.Poll().String() + ">" }

// ObjSender and ObjReceiver are the two halves of a bounded channel.
type ObjSender struct {
	Ch *asyncrt.Channel
}

func (o *ObjSender) Type() ObjectType { return "SENDER" }
func (o *ObjSender) Inspect() string  { return "<channel sender>" }

type ObjReceiver struct {
	Ch *asyncrt.Channel
}

func (o *ObjReceiver) Type() ObjectType { return "RECEIVER" }
func (o *ObjReceiver) Inspect() string  { return "<channel receiver>" }
