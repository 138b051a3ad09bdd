package vm

import (
	"fmt"
	"strings"
)

// RegisterBuiltins installs the synchronous standard natives. The type
// schemes these implement live in typesystem.BaseEnv; the two must stay in
// step.
func RegisterBuiltins(reg *HostRegistry) {
	registerCore(reg)
	registerList(reg)
	registerArray(reg)
	registerOption(reg)
	registerResult(reg)
	registerString(reg)
}

// Variant helpers for the built-in Option and Result types.

func someVal(v Value) Value {
	return ObjVal(&ObjVariant{TypeName: "Option", Variant: "Some", Fields: []Value{v}})
}

func noneVal() Value {
	return ObjVal(&ObjVariant{TypeName: "Option", Variant: "None"})
}

func okVal(v Value) Value {
	return ObjVal(&ObjVariant{TypeName: "Result", Variant: "Ok", Fields: []Value{v}})
}

func errVal(v Value) Value {
	return ObjVal(&ObjVariant{TypeName: "Result", Variant: "Error", Fields: []Value{v}})
}

// asVariant matches a variant by type and case.
func asVariant(v Value, typeName, variant string) (*ObjVariant, bool) {
	if v.Type != ValObj {
		return nil, false
	}
	obj, ok := v.Obj.(*ObjVariant)
	if !ok || obj.TypeName != typeName || obj.Variant != variant {
		return nil, false
	}
	return obj, true
}

// displayString renders a value the way print does: strings bare,
// everything else via Inspect.
func displayString(v Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.Inspect()
}

func registerCore(reg *HostRegistry) {
	reg.Register("ignore", 1, func(vm *VM, args []Value) (Value, error) {
		return UnitVal(), nil
	})
	reg.Register("not", 1, func(vm *VM, args []Value) (Value, error) {
		if !args[0].IsBool() {
			return UnitVal(), newVmError(ErrTypeMismatch, "not on %s", args[0].KindName())
		}
		return BoolVal(!args[0].AsBool()), nil
	})
	reg.Register("fst", 1, func(vm *VM, args []Value) (Value, error) {
		tup, ok := args[0].Obj.(*ObjTuple)
		if args[0].Type != ValObj || !ok || len(tup.Elems) < 1 {
			return UnitVal(), newVmError(ErrTypeMismatch, "fst on %s", args[0].KindName())
		}
		return tup.Elems[0], nil
	})
	reg.Register("snd", 1, func(vm *VM, args []Value) (Value, error) {
		tup, ok := args[0].Obj.(*ObjTuple)
		if args[0].Type != ValObj || !ok || len(tup.Elems) < 2 {
			return UnitVal(), newVmError(ErrTypeMismatch, "snd on %s", args[0].KindName())
		}
		return tup.Elems[1], nil
	})
	reg.Register("string", 1, func(vm *VM, args []Value) (Value, error) {
		return StrVal(displayString(args[0])), nil
	})
	reg.Register("int", 1, func(vm *VM, args []Value) (Value, error) {
		switch {
		case args[0].IsFloat():
			return IntVal(int64(args[0].AsFloat())), nil
		case args[0].IsInt():
			return args[0], nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "int of %s", args[0].KindName())
	})
	reg.Register("float", 1, func(vm *VM, args []Value) (Value, error) {
		switch {
		case args[0].IsInt():
			return FloatVal(float64(args[0].AsInt())), nil
		case args[0].IsFloat():
			return args[0], nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "float of %s", args[0].KindName())
	})
	reg.Register("print", 1, func(vm *VM, args []Value) (Value, error) {
		fmt.Fprint(vm.out, displayString(args[0]))
		return UnitVal(), nil
	})
	reg.Register("printfn", 1, func(vm *VM, args []Value) (Value, error) {
		fmt.Fprintln(vm.out, displayString(args[0]))
		return UnitVal(), nil
	})
	reg.Register("failwith", 1, func(vm *VM, args []Value) (Value, error) {
		msg, _ := args[0].AsString()
		return UnitVal(), newVmError(ErrHost, "%s", msg)
	})
}

func registerList(reg *HostRegistry) {
	reg.Register("List.map", 2, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[1].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.map on %s", args[1].KindName())
		}
		var head, tail *ObjList
		for n := list; n != nil; n = n.Tail {
			mapped, err := vm.CallValue(args[0], []Value{n.Head})
			if err != nil {
				return UnitVal(), err
			}
			cell := &ObjList{Head: mapped}
			if tail == nil {
				head = cell
			} else {
				tail.Tail = cell
			}
			tail = cell
		}
		return ListVal(head), nil
	})

	reg.Register("List.filter", 2, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[1].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.filter on %s", args[1].KindName())
		}
		var head, tail *ObjList
		for n := list; n != nil; n = n.Tail {
			keep, err := vm.CallValue(args[0], []Value{n.Head})
			if err != nil {
				return UnitVal(), err
			}
			if keep.IsBool() && keep.AsBool() {
				cell := &ObjList{Head: n.Head}
				if tail == nil {
					head = cell
				} else {
					tail.Tail = cell
				}
				tail = cell
			}
		}
		return ListVal(head), nil
	})

	reg.Register("List.fold", 3, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[2].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.fold on %s", args[2].KindName())
		}
		acc := args[1]
		for n := list; n != nil; n = n.Tail {
			next, err := vm.CallValue(args[0], []Value{acc, n.Head})
			if err != nil {
				return UnitVal(), err
			}
			acc = next
		}
		return acc, nil
	})

	reg.Register("List.length", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.length on %s", args[0].KindName())
		}
		var count int64
		for n := list; n != nil; n = n.Tail {
			count++
		}
		return IntVal(count), nil
	})

	reg.Register("List.reverse", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.reverse on %s", args[0].KindName())
		}
		var out *ObjList
		for n := list; n != nil; n = n.Tail {
			out = &ObjList{Head: n.Head, Tail: out}
		}
		return ListVal(out), nil
	})

	reg.Register("List.head", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok || list == nil {
			return UnitVal(), newVmError(ErrHost, "List.head of empty list")
		}
		return list.Head, nil
	})

	reg.Register("List.tail", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok || list == nil {
			return UnitVal(), newVmError(ErrHost, "List.tail of empty list")
		}
		return ListVal(list.Tail), nil
	})

	reg.Register("List.isEmpty", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.isEmpty on %s", args[0].KindName())
		}
		return BoolVal(list == nil), nil
	})

	reg.Register("List.append", 2, func(vm *VM, args []Value) (Value, error) {
		a, okA := args[0].AsList()
		b, okB := args[1].AsList()
		if !okA || !okB {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.append on %s and %s", args[0].KindName(), args[1].KindName())
		}
		if a == nil {
			return ListVal(b), nil
		}
		// Copy the prefix; share the second list structurally.
		var head, tail *ObjList
		for n := a; n != nil; n = n.Tail {
			cell := &ObjList{Head: n.Head}
			if tail == nil {
				head = cell
			} else {
				tail.Tail = cell
			}
			tail = cell
		}
		tail.Tail = b
		return ListVal(head), nil
	})

	reg.Register("List.iter", 2, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[1].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.iter on %s", args[1].KindName())
		}
		for n := list; n != nil; n = n.Tail {
			if _, err := vm.CallValue(args[0], []Value{n.Head}); err != nil {
				return UnitVal(), err
			}
		}
		return UnitVal(), nil
	})

	reg.Register("List.tryHead", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "List.tryHead on %s", args[0].KindName())
		}
		if list == nil {
			return noneVal(), nil
		}
		return someVal(list.Head), nil
	})
}

func registerArray(reg *HostRegistry) {
	asArray := func(v Value, op string) (*ObjArray, error) {
		arr, ok := v.Obj.(*ObjArray)
		if v.Type != ValObj || !ok {
			return nil, newVmError(ErrTypeMismatch, "%s on %s", op, v.KindName())
		}
		return arr, nil
	}

	reg.Register("Array.length", 1, func(vm *VM, args []Value) (Value, error) {
		arr, err := asArray(args[0], "Array.length")
		if err != nil {
			return UnitVal(), err
		}
		return IntVal(int64(len(arr.Elems))), nil
	})

	reg.Register("Array.get", 2, func(vm *VM, args []Value) (Value, error) {
		arr, idx, err := checkArrayIndex(args[0], args[1])
		if err != nil {
			return UnitVal(), err
		}
		return arr.Elems[idx], nil
	})

	reg.Register("Array.set", 3, func(vm *VM, args []Value) (Value, error) {
		arr, idx, err := checkArrayIndex(args[0], args[1])
		if err != nil {
			return UnitVal(), err
		}
		arr.Elems[idx] = args[2]
		return UnitVal(), nil
	})

	reg.Register("Array.create", 2, func(vm *VM, args []Value) (Value, error) {
		if !args[0].IsInt() || args[0].AsInt() < 0 {
			return UnitVal(), newVmError(ErrTypeMismatch, "Array.create size must be a non-negative Int")
		}
		n := int(args[0].AsInt())
		elems := make([]Value, n)
		for i := range elems {
			elems[i] = args[1]
		}
		return ObjVal(&ObjArray{Elems: elems}), nil
	})

	reg.Register("Array.ofList", 1, func(vm *VM, args []Value) (Value, error) {
		list, ok := args[0].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "Array.ofList on %s", args[0].KindName())
		}
		var elems []Value
		for n := list; n != nil; n = n.Tail {
			elems = append(elems, n.Head)
		}
		return ObjVal(&ObjArray{Elems: elems}), nil
	})

	reg.Register("Array.toList", 1, func(vm *VM, args []Value) (Value, error) {
		arr, err := asArray(args[0], "Array.toList")
		if err != nil {
			return UnitVal(), err
		}
		var out *ObjList
		for i := len(arr.Elems) - 1; i >= 0; i-- {
			out = &ObjList{Head: arr.Elems[i], Tail: out}
		}
		return ListVal(out), nil
	})

	reg.Register("Array.map", 2, func(vm *VM, args []Value) (Value, error) {
		arr, err := asArray(args[1], "Array.map")
		if err != nil {
			return UnitVal(), err
		}
		out := make([]Value, len(arr.Elems))
		for i, e := range arr.Elems {
			mapped, err := vm.CallValue(args[0], []Value{e})
			if err != nil {
				return UnitVal(), err
			}
			out[i] = mapped
		}
		return ObjVal(&ObjArray{Elems: out}), nil
	})
}

func registerOption(reg *HostRegistry) {
	reg.Register("Option.defaultValue", 2, func(vm *VM, args []Value) (Value, error) {
		if some, ok := asVariant(args[1], "Option", "Some"); ok {
			return some.Fields[0], nil
		}
		if _, ok := asVariant(args[1], "Option", "None"); ok {
			return args[0], nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "Option.defaultValue on %s", args[1].KindName())
	})

	reg.Register("Option.map", 2, func(vm *VM, args []Value) (Value, error) {
		if some, ok := asVariant(args[1], "Option", "Some"); ok {
			mapped, err := vm.CallValue(args[0], []Value{some.Fields[0]})
			if err != nil {
				return UnitVal(), err
			}
			return someVal(mapped), nil
		}
		if _, ok := asVariant(args[1], "Option", "None"); ok {
			return noneVal(), nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "Option.map on %s", args[1].KindName())
	})

	reg.Register("Option.isSome", 1, func(vm *VM, args []Value) (Value, error) {
		_, ok := asVariant(args[0], "Option", "Some")
		return BoolVal(ok), nil
	})

	reg.Register("Option.isNone", 1, func(vm *VM, args []Value) (Value, error) {
		_, ok := asVariant(args[0], "Option", "None")
		return BoolVal(ok), nil
	})
}

func registerResult(reg *HostRegistry) {
	reg.Register("Result.map", 2, func(vm *VM, args []Value) (Value, error) {
		if okv, ok := asVariant(args[1], "Result", "Ok"); ok {
			mapped, err := vm.CallValue(args[0], []Value{okv.Fields[0]})
			if err != nil {
				return UnitVal(), err
			}
			return okVal(mapped), nil
		}
		if _, ok := asVariant(args[1], "Result", "Error"); ok {
			return args[1], nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "Result.map on %s", args[1].KindName())
	})

	reg.Register("Result.mapError", 2, func(vm *VM, args []Value) (Value, error) {
		if errv, ok := asVariant(args[1], "Result", "Error"); ok {
			mapped, err := vm.CallValue(args[0], []Value{errv.Fields[0]})
			if err != nil {
				return UnitVal(), err
			}
			return errVal(mapped), nil
		}
		if _, ok := asVariant(args[1], "Result", "Ok"); ok {
			return args[1], nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "Result.mapError on %s", args[1].KindName())
	})

	reg.Register("Result.defaultValue", 2, func(vm *VM, args []Value) (Value, error) {
		if okv, ok := asVariant(args[1], "Result", "Ok"); ok {
			return okv.Fields[0], nil
		}
		if _, ok := asVariant(args[1], "Result", "Error"); ok {
			return args[0], nil
		}
		return UnitVal(), newVmError(ErrTypeMismatch, "Result.defaultValue on %s", args[1].KindName())
	})
}

func registerString(reg *HostRegistry) {
	asStr := func(v Value, op string) (string, error) {
		s, ok := v.AsString()
		if !ok {
			return "", newVmError(ErrTypeMismatch, "%s on %s", op, v.KindName())
		}
		return s, nil
	}

	reg.Register("String.length", 1, func(vm *VM, args []Value) (Value, error) {
		s, err := asStr(args[0], "String.length")
		if err != nil {
			return UnitVal(), err
		}
		return IntVal(int64(len(s))), nil
	})

	reg.Register("String.concat", 2, func(vm *VM, args []Value) (Value, error) {
		sep, err := asStr(args[0], "String.concat")
		if err != nil {
			return UnitVal(), err
		}
		list, ok := args[1].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "String.concat on %s", args[1].KindName())
		}
		var parts []string
		for n := list; n != nil; n = n.Tail {
			s, sErr := asStr(n.Head, "String.concat")
			if sErr != nil {
				return UnitVal(), sErr
			}
			parts = append(parts, s)
		}
		return StrVal(strings.Join(parts, sep)), nil
	})

	reg.Register("String.split", 2, func(vm *VM, args []Value) (Value, error) {
		sep, err := asStr(args[0], "String.split")
		if err != nil {
			return UnitVal(), err
		}
		s, err := asStr(args[1], "String.split")
		if err != nil {
			return UnitVal(), err
		}
		parts := strings.Split(s, sep)
		var out *ObjList
		for i := len(parts) - 1; i >= 0; i-- {
			out = &ObjList{Head: StrVal(parts[i]), Tail: out}
		}
		return ListVal(out), nil
	})

	reg.Register("String.toUpper", 1, func(vm *VM, args []Value) (Value, error) {
		s, err := asStr(args[0], "String.toUpper")
		if err != nil {
			return UnitVal(), err
		}
		return StrVal(strings.ToUpper(s)), nil
	})

	reg.Register("String.toLower", 1, func(vm *VM, args []Value) (Value, error) {
		s, err := asStr(args[0], "String.toLower")
		if err != nil {
			return UnitVal(), err
		}
		return StrVal(strings.ToLower(s)), nil
	})
}
