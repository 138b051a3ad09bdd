// Package modules implements the module registry and the #load file
// loader: binding tables with qualified lookup, path resolution,
// memoization per canonical path and cycle detection.
package modules

import "strings"

// Module is a named binding table, possibly with nested modules.
type Module struct {
	Name     string
	Bindings []string
	Nested   []*Module
}

func (m *Module) nested(name string) *Module {
	for _, n := range m.Nested {
		if n.Name == name {
			return n
		}
	}
	return nil
}

func (m *Module) hasBinding(name string) bool {
	for _, b := range m.Bindings {
		if b == name {
			return true
		}
	}
	return false
}

// Registry stores top-level modules by name.
type Registry struct {
	modules map[string]*Module
}

func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register adds (or merges) a top-level module.
func (r *Registry) Register(m *Module) {
	if existing, ok := r.modules[m.Name]; ok {
		existing.Bindings = append(existing.Bindings, m.Bindings...)
		existing.Nested = append(existing.Nested, m.Nested...)
		return
	}
	r.modules[m.Name] = m
}

// Lookup finds a module by top-level name.
func (r *Registry) Lookup(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Resolve walks a qualified path to a binding and returns the flattened
// global name: (["Geometry"; "Circle"], "area") -> "Geometry.Circle.area".
func (r *Registry) Resolve(path []string, name string) (string, bool) {
	if len(path) == 0 {
		return "", false
	}
	m, ok := r.modules[path[0]]
	if !ok {
		return "", false
	}
	for _, seg := range path[1:] {
		if m = m.nested(seg); m == nil {
			return "", false
		}
	}
	if !m.hasBinding(name) {
		return "", false
	}
	return strings.Join(path, ".") + "." + name, true
}

// Exports flattens every binding of a module, qualified.
func (r *Registry) Exports() []string {
	var out []string
	var walk func(prefix string, m *Module)
	walk = func(prefix string, m *Module) {
		for _, b := range m.Bindings {
			out = append(out, prefix+m.Name+"."+b)
		}
		for _, n := range m.Nested {
			walk(prefix+m.Name+".", n)
		}
	}
	for _, m := range r.modules {
		walk("", m)
	}
	return out
}
