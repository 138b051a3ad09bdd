package vm

import (
	"strings"

	"github.com/fusabi-lang/fusabi/internal/typesystem"
)

// exec runs frames until frameCount drops back to target, returning the
// value produced by the frame that was on top when it was called.
func (vm *VM) exec(target int) (Value, error) {
	for {
		frame := &vm.frames[vm.frameCount-1]
		code := frame.closure.Chunk.Code

		if frame.ip >= len(code) {
			// Control fell off the end; implicit unit return.
			result := UnitVal()
			done, err := vm.doReturn(result, target)
			if err != nil {
				return UnitVal(), vm.decorate(err, target)
			}
			if done {
				return result, nil
			}
			continue
		}

		if vm.maxInstructions > 0 {
			vm.instrCount++
			if vm.instrCount > vm.maxInstructions {
				return UnitVal(), vm.decorate(
					newVmError(ErrResourceExhausted, "instruction budget exceeded (%d)", vm.maxInstructions), target)
			}
		}

		op := Opcode(code[frame.ip])
		frame.ip++

		var err error
		switch op {
		case OP_NOP:

		case OP_LOAD_CONST:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			err = vm.push(frame.closure.Chunk.Constants[k])

		case OP_LOAD_LOCAL:
			k := int(code[frame.ip])
			frame.ip++
			err = vm.push(vm.stack[frame.base+k])

		case OP_STORE_LOCAL:
			k := int(code[frame.ip])
			frame.ip++
			var v Value
			if v, err = vm.pop(); err == nil {
				vm.stack[frame.base+k] = v
			}

		case OP_LOAD_UPVALUE:
			k := int(code[frame.ip])
			frame.ip++
			uv := frame.closure.Upvalues[k]
			if uv.Location >= 0 {
				err = vm.push(vm.stack[uv.Location])
			} else {
				err = vm.push(uv.Closed)
			}

		case OP_STORE_UPVALUE:
			k := int(code[frame.ip])
			frame.ip++
			var v Value
			if v, err = vm.pop(); err == nil {
				uv := frame.closure.Upvalues[k]
				if uv.Location >= 0 {
					vm.stack[uv.Location] = v
				} else {
					uv.Closed = v
				}
			}

		case OP_POP:
			_, err = vm.pop()

		case OP_DUP:
			var v Value
			if v, err = vm.peek(0); err == nil {
				err = vm.push(v)
			}

		case OP_ADD, OP_SUB, OP_MUL, OP_DIV, OP_MOD:
			err = vm.binaryArith(op)

		case OP_NEG:
			var v Value
			if v, err = vm.pop(); err == nil {
				switch {
				case v.IsInt():
					err = vm.push(IntVal(-v.AsInt()))
				case v.IsFloat():
					err = vm.push(FloatVal(-v.AsFloat()))
				default:
					err = newVmError(ErrTypeMismatch, "cannot negate %s", v.KindName())
				}
			}

		case OP_EQ, OP_NEQ:
			var b, a Value
			if b, err = vm.pop(); err != nil {
				break
			}
			if a, err = vm.pop(); err != nil {
				break
			}
			eq := a.Equals(b)
			if op == OP_NEQ {
				eq = !eq
			}
			err = vm.push(BoolVal(eq))

		case OP_LT, OP_LTE, OP_GT, OP_GTE:
			err = vm.binaryCompare(op)

		case OP_AND, OP_OR:
			var b, a Value
			if b, err = vm.pop(); err != nil {
				break
			}
			if a, err = vm.pop(); err != nil {
				break
			}
			if !a.IsBool() || !b.IsBool() {
				err = newVmError(ErrTypeMismatch, "boolean operator on %s and %s", a.KindName(), b.KindName())
				break
			}
			if op == OP_AND {
				err = vm.push(BoolVal(a.AsBool() && b.AsBool()))
			} else {
				err = vm.push(BoolVal(a.AsBool() || b.AsBool()))
			}

		case OP_NOT:
			var v Value
			if v, err = vm.pop(); err != nil {
				break
			}
			if !v.IsBool() {
				err = newVmError(ErrTypeMismatch, "not on %s", v.KindName())
				break
			}
			err = vm.push(BoolVal(!v.AsBool()))

		case OP_JUMP:
			offset := int(frame.closure.Chunk.ReadI16(frame.ip))
			frame.ip += 2 + offset

		case OP_JUMP_IF_FALSE:
			offset := int(frame.closure.Chunk.ReadI16(frame.ip))
			frame.ip += 2
			var v Value
			if v, err = vm.pop(); err != nil {
				break
			}
			if !v.IsBool() {
				err = newVmError(ErrTypeMismatch, "condition is %s, not Bool", v.KindName())
				break
			}
			if !v.AsBool() {
				frame.ip += offset
			}

		case OP_CALL:
			n := int(code[frame.ip])
			frame.ip++
			err = vm.callValue(n)

		case OP_TAIL_CALL:
			n := int(code[frame.ip])
			frame.ip++
			var result Value
			var done bool
			result, done, err = vm.tailCall(n, target)
			if err == nil && done {
				return result, nil
			}

		case OP_RETURN:
			var result Value
			if result, err = vm.pop(); err != nil {
				break
			}
			var done bool
			done, err = vm.doReturn(result, target)
			if err == nil && done {
				return result, nil
			}

		case OP_MAKE_TUPLE:
			n := int(code[frame.ip])
			frame.ip++
			elems := make([]Value, n)
			copy(elems, vm.stack[vm.sp-n:vm.sp])
			vm.sp -= n
			err = vm.push(ObjVal(&ObjTuple{Elems: elems}))

		case OP_MAKE_LIST:
			n := int(frame.closure.Chunk.ReadU16(frame.ip))
			frame.ip += 2
			var list *ObjList
			for i := n - 1; i >= 0; i-- {
				list = &ObjList{Head: vm.stack[vm.sp-n+i], Tail: list}
			}
			vm.sp -= n
			err = vm.push(ListVal(list))

		case OP_CONS:
			var tailV, headV Value
			if tailV, err = vm.pop(); err != nil {
				break
			}
			if headV, err = vm.pop(); err != nil {
				break
			}
			tail, ok := tailV.AsList()
			if !ok {
				err = newVmError(ErrTypeMismatch, "cons onto %s", tailV.KindName())
				break
			}
			err = vm.push(ListVal(&ObjList{Head: headV, Tail: tail}))

		case OP_MAKE_ARRAY:
			n := int(frame.closure.Chunk.ReadU16(frame.ip))
			frame.ip += 2
			elems := make([]Value, n)
			copy(elems, vm.stack[vm.sp-n:vm.sp])
			vm.sp -= n
			err = vm.push(ObjVal(&ObjArray{Elems: elems}))

		case OP_MAKE_RECORD:
			n := int(code[frame.ip])
			frame.ip++
			err = vm.makeRecord(n)

		case OP_MAKE_VARIANT:
			n := int(code[frame.ip])
			frame.ip++
			err = vm.makeVariant(n)

		case OP_GET_FIELD:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			err = vm.getField(frame.closure.Chunk.Constants[k])

		case OP_ARRAY_OP:
			sub := code[frame.ip]
			frame.ip++
			err = vm.arrayOp(sub)

		case OP_LIST_OP:
			sub := code[frame.ip]
			frame.ip++
			err = vm.listOp(sub)

		case OP_MATCH_TAG:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			var v Value
			if v, err = vm.pop(); err != nil {
				break
			}
			sym, _ := frame.closure.Chunk.Constants[k].Obj.(*ObjSymbol)
			matched := false
			if variant, ok := v.Obj.(*ObjVariant); v.Type == ValObj && ok && sym != nil {
				matched = sym.Name == variant.TypeName+"."+variant.Variant
			}
			err = vm.push(BoolVal(matched))

		case OP_MATCH_LIT:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			var v Value
			if v, err = vm.pop(); err != nil {
				break
			}
			err = vm.push(BoolVal(v.Equals(frame.closure.Chunk.Constants[k])))

		case OP_BIND_LOCAL:
			k := int(code[frame.ip])
			frame.ip++
			var v Value
			if v, err = vm.peek(0); err == nil {
				vm.stack[frame.base+k] = v
			}

		case OP_DESTRUCT:
			n := int(code[frame.ip])
			frame.ip++
			err = vm.destruct(n)

		case OP_MAKE_CLOSURE:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			chunk, ok := frame.closure.Chunk.Constants[k].Obj.(*Chunk)
			if !ok {
				err = newVmError(ErrTypeMismatch, "closure constant is not a chunk")
				break
			}
			closure := &ObjClosure{
				Chunk:    chunk,
				Upvalues: make([]*ObjUpvalue, 0, len(chunk.UpvalueSpecs)),
			}
			err = vm.push(ObjVal(closure))

		case OP_CAPTURE_UPVALUE:
			isLocal := code[frame.ip] == 1
			index := int(code[frame.ip+1])
			frame.ip += 2
			var top Value
			if top, err = vm.peek(0); err != nil {
				break
			}
			closure, ok := top.Obj.(*ObjClosure)
			if !ok {
				err = newVmError(ErrTypeMismatch, "capture target is not a closure")
				break
			}
			if isLocal {
				closure.Upvalues = append(closure.Upvalues, vm.captureUpvalue(frame.base+index))
			} else {
				closure.Upvalues = append(closure.Upvalues, frame.closure.Upvalues[index])
			}

		case OP_CLOSE_UPVALUE:
			k := int(frame.closure.Chunk.ReadU16(frame.ip))
			frame.ip += 2
			vm.closeUpvalues(frame.base + k)

		case OP_RECORD_UPDATE:
			n := int(code[frame.ip])
			frame.ip++
			err = vm.recordUpdate(n)

		case OP_LOAD_GLOBAL:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			err = vm.loadGlobal(frame.closure.Chunk.Constants[k])

		case OP_STORE_GLOBAL:
			k := frame.closure.Chunk.ReadU16(frame.ip)
			frame.ip += 2
			sym, _ := frame.closure.Chunk.Constants[k].Obj.(*ObjSymbol)
			var v Value
			if v, err = vm.pop(); err == nil && sym != nil {
				vm.globals.Set(sym.Name, v)
			}

		case OP_INT_TO_FLOAT:
			var v Value
			if v, err = vm.pop(); err != nil {
				break
			}
			switch {
			case v.IsInt():
				err = vm.push(FloatVal(float64(v.AsInt())))
			case v.IsFloat():
				err = vm.push(v)
			default:
				err = newVmError(ErrTypeMismatch, "cannot convert %s to Float", v.KindName())
			}

		case OP_MATCH_FAIL:
			err = newVmError(ErrMatchFailure, "no pattern matched the value")

		default:
			err = newVmError(ErrHost, "unknown opcode 0x%02x", byte(op))
		}

		if err != nil {
			return UnitVal(), vm.decorate(err, target)
		}
	}
}

// doReturn pops the current frame, closes its upvalues and pushes the
// result onto the caller's stack. It reports whether execution reached the
// target depth.
func (vm *VM) doReturn(result Value, target int) (bool, error) {
	frame := &vm.frames[vm.frameCount-1]
	vm.closeUpvalues(frame.base)
	vm.frameCount--
	if vm.frameCount == target {
		return true, nil
	}
	// Remove the frame's locals and the callee slot, then push the result:
	// stack height after return == height before call - n - 1 + 1.
	vm.sp = frame.base - 1
	if err := vm.push(result); err != nil {
		return false, err
	}
	return false, nil
}

// callValue dispatches OP_CALL: [..., callee, arg1..argn] on the stack.
func (vm *VM) callValue(n int) error {
	callee, err := vm.peek(n)
	if err != nil {
		return err
	}
	if callee.Type != ValObj {
		return newVmError(ErrNotCallable, "cannot call %s", callee.KindName())
	}

	switch fn := callee.Obj.(type) {
	case *ObjClosure:
		if fn.Chunk.Arity != n {
			return newVmError(ErrArity, "%s expects %d arguments, got %d", fn.Inspect(), fn.Chunk.Arity, n)
		}
		return vm.pushFrame(fn, vm.sp-n)

	case *NativeFn, *ObjPartial:
		args := make([]Value, n)
		copy(args, vm.stack[vm.sp-n:vm.sp])
		vm.sp -= n + 1
		result, err := vm.applyNative(callee, args)
		if err != nil {
			return err
		}
		return vm.push(result)
	}
	return newVmError(ErrNotCallable, "cannot call %s", callee.KindName())
}

// tailCall reuses the current frame for the call when the callee is a
// closure; natives complete the frame immediately. The bool result is true
// when execution reached the target depth, with the produced value.
func (vm *VM) tailCall(n int, target int) (Value, bool, error) {
	frame := &vm.frames[vm.frameCount-1]
	if frame.base == 0 {
		// The script frame has no callee slot below it to reuse.
		return UnitVal(), false, vm.callValue(n)
	}

	callee, err := vm.peek(n)
	if err != nil {
		return UnitVal(), false, err
	}
	if closure, ok := callee.Obj.(*ObjClosure); callee.Type == ValObj && ok {
		if closure.Chunk.Arity != n {
			return UnitVal(), false, newVmError(ErrArity, "%s expects %d arguments, got %d", closure.Inspect(), closure.Chunk.Arity, n)
		}
		vm.closeUpvalues(frame.base)
		// Slide callee and arguments into the current frame's slots.
		vm.stack[frame.base-1] = callee
		for i := 0; i < n; i++ {
			vm.stack[frame.base+i] = vm.stack[vm.sp-n+i]
		}
		vm.sp = frame.base + n
		frame.closure = closure
		frame.ip = 0
		return UnitVal(), false, nil
	}

	// Native in tail position: complete the call, then return its result.
	args := make([]Value, n)
	copy(args, vm.stack[vm.sp-n:vm.sp])
	vm.sp -= n + 1
	result, err := vm.applyNative(callee, args)
	if err != nil {
		return UnitVal(), false, err
	}
	done, err := vm.doReturn(result, target)
	if err != nil {
		return UnitVal(), false, err
	}
	return result, done, nil
}

// --- data helpers ---

func (vm *VM) binaryArith(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}

	if a.IsInt() && b.IsInt() {
		x, y := a.AsInt(), b.AsInt()
		switch op {
		case OP_ADD:
			return vm.push(IntVal(x + y))
		case OP_SUB:
			return vm.push(IntVal(x - y))
		case OP_MUL:
			return vm.push(IntVal(x * y))
		case OP_DIV:
			if y == 0 {
				return newVmError(ErrDivisionByZero, "integer division by zero")
			}
			return vm.push(IntVal(x / y))
		case OP_MOD:
			if y == 0 {
				return newVmError(ErrDivisionByZero, "integer modulo by zero")
			}
			return vm.push(IntVal(x % y))
		}
	}
	if a.IsFloat() && b.IsFloat() {
		x, y := a.AsFloat(), b.AsFloat()
		switch op {
		case OP_ADD:
			return vm.push(FloatVal(x + y))
		case OP_SUB:
			return vm.push(FloatVal(x - y))
		case OP_MUL:
			return vm.push(FloatVal(x * y))
		case OP_DIV:
			// IEEE-754: division by zero yields an infinity.
			return vm.push(FloatVal(x / y))
		case OP_MOD:
			return newVmError(ErrTypeMismatch, "modulo on Float")
		}
	}
	return newVmError(ErrTypeMismatch, "arithmetic on %s and %s", a.KindName(), b.KindName())
}

func (vm *VM) binaryCompare(op Opcode) error {
	b, err := vm.pop()
	if err != nil {
		return err
	}
	a, err := vm.pop()
	if err != nil {
		return err
	}

	var cmp int
	switch {
	case a.IsInt() && b.IsInt():
		x, y := a.AsInt(), b.AsInt()
		cmp = compareOrdered(x < y, x == y)
	case a.IsFloat() && b.IsFloat():
		x, y := a.AsFloat(), b.AsFloat()
		cmp = compareOrdered(x < y, x == y)
	default:
		sa, okA := a.AsString()
		sb, okB := b.AsString()
		if !okA || !okB {
			return newVmError(ErrTypeMismatch, "comparison on %s and %s", a.KindName(), b.KindName())
		}
		cmp = strings.Compare(sa, sb)
	}

	switch op {
	case OP_LT:
		return vm.push(BoolVal(cmp < 0))
	case OP_LTE:
		return vm.push(BoolVal(cmp <= 0))
	case OP_GT:
		return vm.push(BoolVal(cmp > 0))
	default:
		return vm.push(BoolVal(cmp >= 0))
	}
}

func compareOrdered(less, equal bool) int {
	if less {
		return -1
	}
	if equal {
		return 0
	}
	return 1
}

func (vm *VM) makeRecord(n int) error {
	start := vm.sp - 2*n
	if start < 0 {
		return newVmError(ErrStackUnderflow, "record construction")
	}
	fields := make(map[string]Value, n)
	order := make([]string, 0, n)
	for i := 0; i < n; i++ {
		sym, ok := vm.stack[start+2*i].Obj.(*ObjSymbol)
		if !ok {
			return newVmError(ErrTypeMismatch, "record field name is not a symbol")
		}
		fields[sym.Name] = vm.stack[start+2*i+1]
		order = append(order, sym.Name)
	}
	vm.sp = start
	return vm.push(ObjVal(&ObjRecord{Fields: fields, Order: order}))
}

func (vm *VM) recordUpdate(n int) error {
	start := vm.sp - 2*n
	baseIdx := start - 1
	if baseIdx < 0 {
		return newVmError(ErrStackUnderflow, "record update")
	}
	base, ok := vm.stack[baseIdx].Obj.(*ObjRecord)
	if !ok {
		return newVmError(ErrTypeMismatch, "record update on %s", vm.stack[baseIdx].KindName())
	}

	// The field set is fixed at construction; updates produce a new
	// record sharing the untouched values.
	fields := make(map[string]Value, len(base.Fields))
	for name, v := range base.Fields {
		fields[name] = v
	}
	for i := 0; i < n; i++ {
		sym, okSym := vm.stack[start+2*i].Obj.(*ObjSymbol)
		if !okSym {
			return newVmError(ErrTypeMismatch, "record field name is not a symbol")
		}
		if _, exists := fields[sym.Name]; !exists {
			return newVmError(ErrUnknownField, "record has no field %q", sym.Name)
		}
		fields[sym.Name] = vm.stack[start+2*i+1]
	}
	vm.sp = baseIdx
	return vm.push(ObjVal(&ObjRecord{Fields: fields, Order: base.Order}))
}

func (vm *VM) makeVariant(n int) error {
	start := vm.sp - n
	tagIdx := start - 1
	if tagIdx < 0 {
		return newVmError(ErrStackUnderflow, "variant construction")
	}
	sym, ok := vm.stack[tagIdx].Obj.(*ObjSymbol)
	if !ok {
		return newVmError(ErrTypeMismatch, "variant tag is not a symbol")
	}
	dot := strings.LastIndex(sym.Name, ".")
	if dot < 0 {
		return newVmError(ErrTypeMismatch, "malformed variant tag %q", sym.Name)
	}
	typeName, variant := sym.Name[:dot], sym.Name[dot+1:]

	if def, known := vm.lookupVariantDef(variant); known {
		if vdef, found := def.Variant(variant); found && vdef.Arity != n {
			return newVmError(ErrArity, "%s.%s expects %d fields, got %d", typeName, variant, vdef.Arity, n)
		}
	}

	fields := make([]Value, n)
	copy(fields, vm.stack[start:vm.sp])
	vm.sp = tagIdx
	return vm.push(ObjVal(&ObjVariant{TypeName: typeName, Variant: variant, Fields: fields}))
}

func (vm *VM) lookupVariantDef(variant string) (*typesystem.DuDef, bool) {
	if vm.dus == nil {
		return nil, false
	}
	return vm.dus.Owner(variant)
}

func (vm *VM) getField(nameConst Value) error {
	sym, ok := nameConst.Obj.(*ObjSymbol)
	if !ok {
		return newVmError(ErrTypeMismatch, "field name is not a symbol")
	}
	v, err := vm.pop()
	if err != nil {
		return err
	}
	rec, ok := v.Obj.(*ObjRecord)
	if v.Type != ValObj || !ok {
		return newVmError(ErrTypeMismatch, "field access on %s", v.KindName())
	}
	field, exists := rec.Fields[sym.Name]
	if !exists {
		return newVmError(ErrUnknownField, "record has no field %q", sym.Name)
	}
	return vm.push(field)
}

func (vm *VM) arrayOp(sub byte) error {
	switch sub {
	case ArrGet:
		idxV, err := vm.pop()
		if err != nil {
			return err
		}
		arrV, err := vm.pop()
		if err != nil {
			return err
		}
		arr, idx, err := checkArrayIndex(arrV, idxV)
		if err != nil {
			return err
		}
		return vm.push(arr.Elems[idx])

	case ArrSet:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		idxV, err := vm.pop()
		if err != nil {
			return err
		}
		arrV, err := vm.pop()
		if err != nil {
			return err
		}
		arr, idx, err := checkArrayIndex(arrV, idxV)
		if err != nil {
			return err
		}
		// In-place mutation, visible through every alias.
		arr.Elems[idx] = v
		return vm.push(UnitVal())

	case ArrLength:
		arrV, err := vm.pop()
		if err != nil {
			return err
		}
		arr, ok := arrV.Obj.(*ObjArray)
		if arrV.Type != ValObj || !ok {
			return newVmError(ErrTypeMismatch, "array length of %s", arrV.KindName())
		}
		return vm.push(IntVal(int64(len(arr.Elems))))
	}
	return newVmError(ErrHost, "unknown array sub-op %d", sub)
}

func checkArrayIndex(arrV, idxV Value) (*ObjArray, int, error) {
	arr, ok := arrV.Obj.(*ObjArray)
	if arrV.Type != ValObj || !ok {
		return nil, 0, newVmError(ErrTypeMismatch, "indexing into %s", arrV.KindName())
	}
	if !idxV.IsInt() {
		return nil, 0, newVmError(ErrTypeMismatch, "array index is %s, not Int", idxV.KindName())
	}
	idx := int(idxV.AsInt())
	if idx < 0 || idx >= len(arr.Elems) {
		return nil, 0, newVmError(ErrIndexOutOfBounds, "index %d out of bounds for array of length %d", idx, len(arr.Elems))
	}
	return arr, idx, nil
}

func (vm *VM) listOp(sub byte) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	list, ok := v.AsList()
	if !ok {
		return newVmError(ErrTypeMismatch, "list operation on %s", v.KindName())
	}
	switch sub {
	case ListHead:
		if list == nil {
			return newVmError(ErrHost, "head of empty list")
		}
		return vm.push(list.Head)
	case ListTail:
		if list == nil {
			return newVmError(ErrHost, "tail of empty list")
		}
		return vm.push(ListVal(list.Tail))
	case ListIsNil:
		return vm.push(BoolVal(list == nil))
	}
	return newVmError(ErrHost, "unknown list sub-op %d", sub)
}

func (vm *VM) destruct(n int) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	var elems []Value
	switch o := v.Obj.(type) {
	case *ObjTuple:
		elems = o.Elems
	case *ObjVariant:
		elems = o.Fields
	default:
		return newVmError(ErrTypeMismatch, "cannot destructure %s", v.KindName())
	}
	if len(elems) != n {
		return newVmError(ErrTypeMismatch, "destructure arity %d on value with %d fields", n, len(elems))
	}
	for _, e := range elems {
		if err := vm.push(e); err != nil {
			return err
		}
	}
	return nil
}

func (vm *VM) loadGlobal(nameConst Value) error {
	sym, ok := nameConst.Obj.(*ObjSymbol)
	if !ok {
		return newVmError(ErrTypeMismatch, "global name is not a symbol")
	}
	if v, found := vm.globals.Get(sym.Name); found {
		return vm.push(v)
	}
	if vm.registry != nil {
		if native, found := vm.registry.Lookup(sym.Name); found {
			return vm.push(ObjVal(native))
		}
	}
	return newVmError(ErrHost, "undefined name %q", sym.Name)
}
