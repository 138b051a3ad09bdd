package vm

import (
	"context"
	"errors"
	"time"

	"github.com/fusabi-lang/fusabi/internal/asyncrt"
)

// RegisterAsyncBuiltins installs the Async builder, the runtime surface
// and the channel operations. Task bodies never run on the calling VM
// thread: each one executes a forked VM on the runtime's executor.
func RegisterAsyncBuiltins(reg *HostRegistry) {
	registerAsyncBuilder(reg)
	registerAsyncOps(reg)
	registerChannels(reg)
}

func asTask(v Value, op string) (*ObjTask, error) {
	if v.Type == ValObj {
		if t, ok := v.Obj.(*ObjTask); ok {
			return t, nil
		}
	}
	return nil, newVmError(ErrTypeMismatch, "%s on %s, expected Async", op, v.KindName())
}

func needRuntime(vm *VM) (*asyncrt.Runtime, error) {
	if vm.runtime == nil {
		return nil, newVmError(ErrHost, "async support is disabled")
	}
	return vm.runtime, nil
}

// payloadToValue maps a task payload back into the value universe.
func payloadToValue(p interface{}) Value {
	switch v := p.(type) {
	case nil:
		return UnitVal()
	case Value:
		return v
	case asyncrt.TimeoutResult:
		if !v.Completed {
			return noneVal()
		}
		return someVal(payloadToValue(v.Value))
	case asyncrt.ReceiveResult:
		if !v.Ok {
			return noneVal()
		}
		return someVal(payloadToValue(v.Value))
	case []interface{}:
		var out *ObjList
		for i := len(v) - 1; i >= 0; i-- {
			out = &ObjList{Head: payloadToValue(v[i]), Tail: out}
		}
		return ListVal(out)
	}
	return UnitVal()
}

// joinTask blocks until the task is terminal and maps failure states onto
// the error taxonomy: Cancelled to ErrCancelled, Failed to ErrHost.
func joinTask(rt *asyncrt.Runtime, t *asyncrt.Task) (Value, error) {
	payload, err := rt.BlockOn(t)
	if err != nil {
		if errors.Is(err, asyncrt.ErrCancelled) {
			return UnitVal(), newVmError(ErrCancelled, "task cancelled")
		}
		return UnitVal(), newVmError(ErrHost, "%s", err.Error())
	}
	return payloadToValue(payload), nil
}

// runThunkAsync runs `fn args` on a forked VM inside the executor and
// joins the Async value it produces.
func runThunkAsync(vm *VM, rt *asyncrt.Runtime, fn Value, args []Value) (Value, error) {
	forked := vm.Fork()
	result, err := forked.CallValue(fn, args)
	if err != nil {
		return UnitVal(), err
	}
	inner, err := asTask(result, "async body")
	if err != nil {
		return UnitVal(), err
	}
	return joinTask(rt, inner.Task)
}

func registerAsyncBuilder(reg *HostRegistry) {
	// Async.Return: an already-completed task.
	reg.Register("Async.Return", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		return ObjVal(&ObjTask{Task: rt.Completed(args[0])}), nil
	})

	reg.Register("Async.ReturnFrom", 1, func(vm *VM, args []Value) (Value, error) {
		if _, err := asTask(args[0], "Async.ReturnFrom"); err != nil {
			return UnitVal(), err
		}
		return args[0], nil
	})

	reg.Register("Async.Zero", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		return ObjVal(&ObjTask{Task: rt.Completed(UnitVal())}), nil
	})

	// Async.Delay: register a task at once that evaluates the thunk on the
	// executor.
	reg.Register("Async.Delay", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		thunk := args[0]
		task := rt.Spawn(func(ctx context.Context) (interface{}, error) {
			v, err := runThunkAsync(vm, rt, thunk, []Value{UnitVal()})
			if err != nil {
				return nil, err
			}
			return v, nil
		})
		return ObjVal(&ObjTask{Task: task}), nil
	})

	// Async.Bind: sequence a task into a continuation.
	reg.Register("Async.Bind", 2, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		source, err := asTask(args[0], "Async.Bind")
		if err != nil {
			return UnitVal(), err
		}
		cont := args[1]
		task := rt.Spawn(func(ctx context.Context) (interface{}, error) {
			v, err := joinTask(rt, source.Task)
			if err != nil {
				return nil, err
			}
			out, err := runThunkAsync(vm, rt, cont, []Value{v})
			if err != nil {
				return nil, err
			}
			return out, nil
		})
		return ObjVal(&ObjTask{Task: task}), nil
	})

	// Async.Combine: run the first for effect, then the second.
	reg.Register("Async.Combine", 2, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		first, err := asTask(args[0], "Async.Combine")
		if err != nil {
			return UnitVal(), err
		}
		second, err := asTask(args[1], "Async.Combine")
		if err != nil {
			return UnitVal(), err
		}
		task := rt.Spawn(func(ctx context.Context) (interface{}, error) {
			if _, err := joinTask(rt, first.Task); err != nil {
				return nil, err
			}
			v, err := joinTask(rt, second.Task)
			if err != nil {
				return nil, err
			}
			return v, nil
		})
		return ObjVal(&ObjTask{Task: task}), nil
	})
}

func registerAsyncOps(reg *HostRegistry) {
	// Async.run parks the calling VM thread until the task settles.
	reg.Register("Async.run", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		t, err := asTask(args[0], "Async.run")
		if err != nil {
			return UnitVal(), err
		}
		return joinTask(rt, t.Task)
	})

	// Tasks start eagerly on spawn, so start is identity on the handle.
	reg.Register("Async.start", 1, func(vm *VM, args []Value) (Value, error) {
		if _, err := asTask(args[0], "Async.start"); err != nil {
			return UnitVal(), err
		}
		return args[0], nil
	})

	reg.Register("Async.cancel", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		t, err := asTask(args[0], "Async.cancel")
		if err != nil {
			return UnitVal(), err
		}
		rt.Cancel(t.Task)
		return UnitVal(), nil
	})

	reg.Register("Async.sleep", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		if !args[0].IsInt() {
			return UnitVal(), newVmError(ErrTypeMismatch, "Async.sleep wants milliseconds")
		}
		task := rt.After(time.Duration(args[0].AsInt())*time.Millisecond, UnitVal())
		return ObjVal(&ObjTask{Task: task}), nil
	})

	reg.Register("Async.parallel", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		list, ok := args[0].AsList()
		if !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "Async.parallel on %s", args[0].KindName())
		}
		var tasks []*asyncrt.Task
		for n := list; n != nil; n = n.Tail {
			t, tErr := asTask(n.Head, "Async.parallel")
			if tErr != nil {
				return UnitVal(), tErr
			}
			tasks = append(tasks, t.Task)
		}
		return ObjVal(&ObjTask{Task: rt.Parallel(tasks)}), nil
	})

	reg.Register("Async.parallel2", 2, func(vm *VM, args []Value) (Value, error) {
		return parallelTuple(vm, args)
	})
	reg.Register("Async.parallel3", 3, func(vm *VM, args []Value) (Value, error) {
		return parallelTuple(vm, args)
	})

	reg.Register("Async.withTimeout", 2, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		if !args[0].IsInt() {
			return UnitVal(), newVmError(ErrTypeMismatch, "Async.withTimeout wants milliseconds")
		}
		t, err := asTask(args[1], "Async.withTimeout")
		if err != nil {
			return UnitVal(), err
		}
		wrapped := rt.WithTimeout(time.Duration(args[0].AsInt())*time.Millisecond, t.Task)
		return ObjVal(&ObjTask{Task: wrapped}), nil
	})

	// Async.catch is the only reification of failure into a value: the
	// task's outcome becomes Ok or Error.
	reg.Register("Async.catch", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		t, err := asTask(args[0], "Async.catch")
		if err != nil {
			return UnitVal(), err
		}
		task := rt.Spawn(func(ctx context.Context) (interface{}, error) {
			v, joinErr := joinTask(rt, t.Task)
			if joinErr != nil {
				ve, _ := joinErr.(*VmError)
				msg := joinErr.Error()
				if ve != nil {
					msg = ve.Message
				}
				return errVal(StrVal(msg)), nil
			}
			return okVal(v), nil
		})
		return ObjVal(&ObjTask{Task: task}), nil
	})
}

func parallelTuple(vm *VM, args []Value) (Value, error) {
	rt, err := needRuntime(vm)
	if err != nil {
		return UnitVal(), err
	}
	tasks := make([]*asyncrt.Task, len(args))
	for i, a := range args {
		t, tErr := asTask(a, "Async.parallel")
		if tErr != nil {
			return UnitVal(), tErr
		}
		tasks[i] = t.Task
	}
	joined := rt.Parallel(tasks)
	task := rt.Spawn(func(ctx context.Context) (interface{}, error) {
		payload, joinErr := rt.BlockOn(joined)
		if joinErr != nil {
			return nil, joinErr
		}
		parts, _ := payload.([]interface{})
		elems := make([]Value, len(parts))
		for i, p := range parts {
			elems[i] = payloadToValue(p)
		}
		return ObjVal(&ObjTuple{Elems: elems}), nil
	})
	return ObjVal(&ObjTask{Task: task}), nil
}

func registerChannels(reg *HostRegistry) {
	reg.Register("Channel.create", 1, func(vm *VM, args []Value) (Value, error) {
		if _, err := needRuntime(vm); err != nil {
			return UnitVal(), err
		}
		if !args[0].IsInt() || args[0].AsInt() < 0 {
			return UnitVal(), newVmError(ErrTypeMismatch, "Channel.create wants a non-negative capacity")
		}
		ch := asyncrt.NewChannel(int(args[0].AsInt()))
		return ObjVal(&ObjTuple{Elems: []Value{
			ObjVal(&ObjSender{Ch: ch}),
			ObjVal(&ObjReceiver{Ch: ch}),
		}}), nil
	})

	reg.Register("Channel.send", 2, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		sender, ok := args[0].Obj.(*ObjSender)
		if args[0].Type != ValObj || !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "Channel.send on %s", args[0].KindName())
		}
		return ObjVal(&ObjTask{Task: rt.Send(sender.Ch, args[1])}), nil
	})

	reg.Register("Channel.receive", 1, func(vm *VM, args []Value) (Value, error) {
		rt, err := needRuntime(vm)
		if err != nil {
			return UnitVal(), err
		}
		receiver, ok := args[0].Obj.(*ObjReceiver)
		if args[0].Type != ValObj || !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "Channel.receive on %s", args[0].KindName())
		}
		return ObjVal(&ObjTask{Task: rt.Receive(receiver.Ch)}), nil
	})

	reg.Register("Channel.close", 1, func(vm *VM, args []Value) (Value, error) {
		sender, ok := args[0].Obj.(*ObjSender)
		if args[0].Type != ValObj || !ok {
			return UnitVal(), newVmError(ErrTypeMismatch, "Channel.close on %s", args[0].KindName())
		}
		sender.Ch.CloseChannel()
		return UnitVal(), nil
	})
}
