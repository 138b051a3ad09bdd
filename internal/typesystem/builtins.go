package typesystem

// BaseEnv builds the initial type environment: schemes for every native
// the VM registers, plus the Async and Channel surface. Constructor
// schemes for Option and Result are installed here too.
func BaseEnv(in *Inferencer) *TypeEnv {
	env := NewTypeEnv()

	// forall helpers: gen allocates quantified variables for one scheme.
	gen := func(n int, mk func(vs []Type) Type) Scheme {
		vars := make([]Type, n)
		ids := make([]int, n)
		for i := 0; i < n; i++ {
			v := in.Fresh()
			vars[i] = v
			ids[i] = v.ID
		}
		return Scheme{Vars: ids, Body: mk(vars)}
	}
	mono := func(t Type) Scheme { return Scheme{Body: t} }

	// Constructors.
	env.Set("Some", gen(1, func(v []Type) Type { return Arrows(v[0], TOption(v[0])) }))
	env.Set("None", gen(1, func(v []Type) Type { return TOption(v[0]) }))
	env.Set("Ok", gen(2, func(v []Type) Type { return Arrows(v[0], TResult(v[0], v[1])) }))
	env.Set("Error", gen(2, func(v []Type) Type { return Arrows(v[1], TResult(v[0], v[1])) }))

	// Core functions.
	env.Set("ignore", gen(1, func(v []Type) Type { return Arrows(v[0], TUnit) }))
	env.Set("not", mono(Arrows(TBool, TBool)))
	env.Set("fst", gen(2, func(v []Type) Type { return Arrows(TTuple{Elems: []Type{v[0], v[1]}}, v[0]) }))
	env.Set("snd", gen(2, func(v []Type) Type { return Arrows(TTuple{Elems: []Type{v[0], v[1]}}, v[1]) }))
	env.Set("string", gen(1, func(v []Type) Type { return Arrows(v[0], TString) }))
	env.Set("int", mono(Arrows(TFloat, TInt)))
	env.Set("float", mono(Arrows(TInt, TFloat)))
	env.Set("print", gen(1, func(v []Type) Type { return Arrows(v[0], TUnit) }))
	env.Set("printfn", gen(1, func(v []Type) Type { return Arrows(v[0], TUnit) }))
	env.Set("failwith", gen(1, func(v []Type) Type { return Arrows(TString, v[0]) }))

	// List module.
	env.Set("List.map", gen(2, func(v []Type) Type {
		return Arrows(Arrows(v[0], v[1]), TList(v[0]), TList(v[1]))
	}))
	env.Set("List.filter", gen(1, func(v []Type) Type {
		return Arrows(Arrows(v[0], TBool), TList(v[0]), TList(v[0]))
	}))
	env.Set("List.fold", gen(2, func(v []Type) Type {
		return Arrows(Arrows(v[1], v[0], v[1]), v[1], TList(v[0]), v[1])
	}))
	env.Set("List.length", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), TInt) }))
	env.Set("List.reverse", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), TList(v[0])) }))
	env.Set("List.head", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), v[0]) }))
	env.Set("List.tail", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), TList(v[0])) }))
	env.Set("List.isEmpty", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), TBool) }))
	env.Set("List.append", gen(1, func(v []Type) Type {
		return Arrows(TList(v[0]), TList(v[0]), TList(v[0]))
	}))
	env.Set("List.iter", gen(1, func(v []Type) Type {
		return Arrows(Arrows(v[0], TUnit), TList(v[0]), TUnit)
	}))
	env.Set("List.tryHead", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), TOption(v[0])) }))

	// Array module.
	env.Set("Array.length", gen(1, func(v []Type) Type { return Arrows(TArray(v[0]), TInt) }))
	env.Set("Array.get", gen(1, func(v []Type) Type { return Arrows(TArray(v[0]), TInt, v[0]) }))
	env.Set("Array.set", gen(1, func(v []Type) Type {
		return Arrows(TArray(v[0]), TInt, v[0], TUnit)
	}))
	env.Set("Array.create", gen(1, func(v []Type) Type { return Arrows(TInt, v[0], TArray(v[0])) }))
	env.Set("Array.ofList", gen(1, func(v []Type) Type { return Arrows(TList(v[0]), TArray(v[0])) }))
	env.Set("Array.toList", gen(1, func(v []Type) Type { return Arrows(TArray(v[0]), TList(v[0])) }))
	env.Set("Array.map", gen(2, func(v []Type) Type {
		return Arrows(Arrows(v[0], v[1]), TArray(v[0]), TArray(v[1]))
	}))

	// Option module.
	env.Set("Option.defaultValue", gen(1, func(v []Type) Type {
		return Arrows(v[0], TOption(v[0]), v[0])
	}))
	env.Set("Option.map", gen(2, func(v []Type) Type {
		return Arrows(Arrows(v[0], v[1]), TOption(v[0]), TOption(v[1]))
	}))
	env.Set("Option.isSome", gen(1, func(v []Type) Type { return Arrows(TOption(v[0]), TBool) }))
	env.Set("Option.isNone", gen(1, func(v []Type) Type { return Arrows(TOption(v[0]), TBool) }))

	// Result module.
	env.Set("Result.map", gen(3, func(v []Type) Type {
		return Arrows(Arrows(v[0], v[1]), TResult(v[0], v[2]), TResult(v[1], v[2]))
	}))
	env.Set("Result.mapError", gen(3, func(v []Type) Type {
		return Arrows(Arrows(v[1], v[2]), TResult(v[0], v[1]), TResult(v[0], v[2]))
	}))
	env.Set("Result.defaultValue", gen(2, func(v []Type) Type {
		return Arrows(v[0], TResult(v[0], v[1]), v[0])
	}))

	// String module.
	env.Set("String.length", mono(Arrows(TString, TInt)))
	env.Set("String.concat", mono(Arrows(TString, TList(TString), TString)))
	env.Set("String.split", mono(Arrows(TString, TString, TList(TString))))
	env.Set("String.toUpper", mono(Arrows(TString, TString)))
	env.Set("String.toLower", mono(Arrows(TString, TString)))

	// The Async computation-expression builder is a set of qualified names
	// (Async.Bind, Async.Return, ...) that the CE translation calls directly.
	bindS := gen(2, func(v []Type) Type {
		return Arrows(TAsync(v[0]), Arrows(v[0], TAsync(v[1])), TAsync(v[1]))
	})
	retS := gen(1, func(v []Type) Type { return Arrows(v[0], TAsync(v[0])) })
	retFromS := gen(1, func(v []Type) Type { return Arrows(TAsync(v[0]), TAsync(v[0])) })
	delayS := gen(1, func(v []Type) Type { return Arrows(Arrows(TUnit, TAsync(v[0])), TAsync(v[0])) })
	zeroS := mono(Arrows(TUnit, TAsync(TUnit)))
	combineS := gen(1, func(v []Type) Type {
		return Arrows(TAsync(TUnit), TAsync(v[0]), TAsync(v[0]))
	})
	// Builder methods must stay polymorphic across uses, so Async binds
	// through qualified names rather than one monomorphic record value.
	env.Set("Async.Bind", bindS)
	env.Set("Async.Return", retS)
	env.Set("Async.ReturnFrom", retFromS)
	env.Set("Async.Delay", delayS)
	env.Set("Async.Zero", zeroS)
	env.Set("Async.Combine", combineS)

	// Async runtime surface.
	env.Set("Async.run", gen(1, func(v []Type) Type { return Arrows(TAsync(v[0]), v[0]) }))
	env.Set("Async.start", gen(1, func(v []Type) Type { return Arrows(TAsync(v[0]), TAsync(v[0])) }))
	env.Set("Async.cancel", gen(1, func(v []Type) Type { return Arrows(TAsync(v[0]), TUnit) }))
	env.Set("Async.sleep", mono(Arrows(TInt, TAsync(TUnit))))
	env.Set("Async.parallel", gen(1, func(v []Type) Type {
		return Arrows(TList(TAsync(v[0])), TAsync(TList(v[0])))
	}))
	env.Set("Async.parallel2", gen(2, func(v []Type) Type {
		return Arrows(TAsync(v[0]), TAsync(v[1]), TAsync(TTuple{Elems: []Type{v[0], v[1]}}))
	}))
	env.Set("Async.parallel3", gen(3, func(v []Type) Type {
		return Arrows(TAsync(v[0]), TAsync(v[1]), TAsync(v[2]),
			TAsync(TTuple{Elems: []Type{v[0], v[1], v[2]}}))
	}))
	env.Set("Async.withTimeout", gen(1, func(v []Type) Type {
		return Arrows(TInt, TAsync(v[0]), TAsync(TOption(v[0])))
	}))
	env.Set("Async.catch", gen(1, func(v []Type) Type {
		return Arrows(TAsync(v[0]), TAsync(TResult(v[0], TString)))
	}))

	// Channels.
	env.Set("Channel.create", gen(1, func(v []Type) Type {
		return Arrows(TInt, TTuple{Elems: []Type{TSender(v[0]), TReceiver(v[0])}})
	}))
	env.Set("Channel.send", gen(1, func(v []Type) Type {
		return Arrows(TSender(v[0]), v[0], TAsync(TUnit))
	}))
	env.Set("Channel.receive", gen(1, func(v []Type) Type {
		return Arrows(TReceiver(v[0]), TAsync(TOption(v[0])))
	}))
	env.Set("Channel.close", gen(1, func(v []Type) Type { return Arrows(TSender(v[0]), TUnit) }))

	return env
}
