package typesystem

import (
	"sort"

	"golang.org/x/exp/maps"
)

// TypeEnv is a lexically scoped environment of schemes.
type TypeEnv struct {
	vars   map[string]Scheme
	parent *TypeEnv
}

func NewTypeEnv() *TypeEnv {
	return &TypeEnv{vars: make(map[string]Scheme)}
}

// Child creates a nested scope.
func (e *TypeEnv) Child() *TypeEnv {
	return &TypeEnv{vars: make(map[string]Scheme), parent: e}
}

// Set binds a scheme in the current scope.
func (e *TypeEnv) Set(name string, s Scheme) {
	e.vars[name] = s
}

// Lookup finds a scheme through the scope chain.
func (e *TypeEnv) Lookup(name string) (Scheme, bool) {
	for env := e; env != nil; env = env.parent {
		if s, ok := env.vars[name]; ok {
			return s, true
		}
	}
	return Scheme{}, false
}

// Names returns the names bound in this scope only, sorted.
func (e *TypeEnv) Names() []string {
	names := maps.Keys(e.vars)
	sort.Strings(names)
	return names
}

// FreeTypeVariables collects the free variables of every scheme in scope.
func (e *TypeEnv) FreeTypeVariables(acc map[int]bool) {
	for env := e; env != nil; env = env.parent {
		for _, s := range env.vars {
			s.FreeTypeVariables(acc)
		}
	}
}

// ApplySubst rewrites every scheme in scope under a substitution. Used
// after solving a constraint touches variables shared with the env.
func (e *TypeEnv) ApplySubst(sub Subst) {
	for env := e; env != nil; env = env.parent {
		for name, s := range env.vars {
			env.vars[name] = s.Apply(sub)
		}
	}
}

// Generalize quantifies the variables of t that are not free in env.
func Generalize(env *TypeEnv, t Type) Scheme {
	envFree := make(map[int]bool)
	env.FreeTypeVariables(envFree)
	tFree := make(map[int]bool)
	t.FreeTypeVariables(tFree)

	var vars []int
	for id := range tFree {
		if !envFree[id] {
			vars = append(vars, id)
		}
	}
	sort.Ints(vars)
	return Scheme{Vars: vars, Body: t}
}
