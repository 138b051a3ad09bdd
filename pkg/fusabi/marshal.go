package fusabi

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/fusabi-lang/fusabi/internal/vm"
)

// Tagged is the host-side shape of a discriminated-union value: the type
// name, the case name and the case fields.
type Tagged struct {
	Type   string
	Case   string
	Fields []interface{}
}

// ToValue converts a host value into the runtime value universe:
// integers, floats, booleans, strings, nil (unit), slices (lists), maps
// with string keys (records) and Tagged data (variants).
func ToValue(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return vm.UnitVal(), nil
	case Value:
		return x, nil
	case bool:
		return vm.BoolVal(x), nil
	case int:
		return vm.IntVal(int64(x)), nil
	case int32:
		return vm.IntVal(int64(x)), nil
	case int64:
		return vm.IntVal(x), nil
	case float32:
		return vm.FloatVal(float64(x)), nil
	case float64:
		return vm.FloatVal(x), nil
	case string:
		return vm.StrVal(x), nil
	case Tagged:
		fields := make([]Value, len(x.Fields))
		for i, f := range x.Fields {
			fv, err := ToValue(f)
			if err != nil {
				return vm.UnitVal(), err
			}
			fields[i] = fv
		}
		return vm.ObjVal(&vm.ObjVariant{TypeName: x.Type, Variant: x.Case, Fields: fields}), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var list *vm.ObjList
		for i := rv.Len() - 1; i >= 0; i-- {
			ev, err := ToValue(rv.Index(i).Interface())
			if err != nil {
				return vm.UnitVal(), err
			}
			list = &vm.ObjList{Head: ev, Tail: list}
		}
		return vm.ListVal(list), nil

	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return vm.UnitVal(), fmt.Errorf("map keys must be strings, got %s", rv.Type().Key())
		}
		fields := make(map[string]Value, rv.Len())
		order := make([]string, 0, rv.Len())
		for _, key := range rv.MapKeys() {
			fv, err := ToValue(rv.MapIndex(key).Interface())
			if err != nil {
				return vm.UnitVal(), err
			}
			fields[key.String()] = fv
			order = append(order, key.String())
		}
		sort.Strings(order)
		return vm.ObjVal(&vm.ObjRecord{Fields: fields, Order: order}), nil
	}
	return vm.UnitVal(), fmt.Errorf("cannot convert %T to a script value", v)
}

// FromValue converts a runtime value back into host data: lists become
// slices, tuples become slices, records become maps, variants become
// Tagged.
func FromValue(v Value) interface{} {
	switch v.Type {
	case vm.ValUnit:
		return nil
	case vm.ValInt:
		return v.AsInt()
	case vm.ValFloat:
		return v.AsFloat()
	case vm.ValBool:
		return v.AsBool()
	}

	switch o := v.Obj.(type) {
	case *vm.ObjString:
		return o.Value
	case *vm.ObjList:
		var out []interface{}
		for n := o; n != nil; n = n.Tail {
			out = append(out, FromValue(n.Head))
		}
		return out
	case *vm.ObjTuple:
		out := make([]interface{}, len(o.Elems))
		for i, e := range o.Elems {
			out[i] = FromValue(e)
		}
		return out
	case *vm.ObjArray:
		out := make([]interface{}, len(o.Elems))
		for i, e := range o.Elems {
			out[i] = FromValue(e)
		}
		return out
	case *vm.ObjRecord:
		out := make(map[string]interface{}, len(o.Fields))
		for name, f := range o.Fields {
			out[name] = FromValue(f)
		}
		return out
	case *vm.ObjVariant:
		fields := make([]interface{}, len(o.Fields))
		for i, f := range o.Fields {
			fields[i] = FromValue(f)
		}
		return Tagged{Type: o.TypeName, Case: o.Variant, Fields: fields}
	}
	return v.Inspect()
}
