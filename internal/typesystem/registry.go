package typesystem

// DuVariantDef is one case of a discriminated union: its name and the
// number of fields it carries.
type DuVariantDef struct {
	Name  string
	Arity int
}

// DuDef is a registered discriminated-union definition.
type DuDef struct {
	Name     string
	Params   []string
	Variants []DuVariantDef
}

// Variant finds a case by name.
func (d *DuDef) Variant(name string) (DuVariantDef, bool) {
	for _, v := range d.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return DuVariantDef{}, false
}

// DuRegistry stores discriminated-union definitions by type name and
// indexes variants by constructor name. Shared between inference (for
// constructor schemes), the compiler (for exhaustiveness) and the VM (for
// the field-count invariant).
type DuRegistry struct {
	types   map[string]*DuDef
	ownerOf map[string]*DuDef
}

func NewDuRegistry() *DuRegistry {
	r := &DuRegistry{
		types:   make(map[string]*DuDef),
		ownerOf: make(map[string]*DuDef),
	}
	// Base environment type constructors.
	r.Register(&DuDef{
		Name:   "Option",
		Params: []string{"a"},
		Variants: []DuVariantDef{
			{Name: "Some", Arity: 1},
			{Name: "None", Arity: 0},
		},
	})
	r.Register(&DuDef{
		Name:   "Result",
		Params: []string{"a", "e"},
		Variants: []DuVariantDef{
			{Name: "Ok", Arity: 1},
			{Name: "Error", Arity: 1},
		},
	})
	return r
}

// Register adds (or replaces) a definition.
func (r *DuRegistry) Register(def *DuDef) {
	r.types[def.Name] = def
	for _, v := range def.Variants {
		r.ownerOf[v.Name] = def
	}
}

// Type finds a definition by type name.
func (r *DuRegistry) Type(name string) (*DuDef, bool) {
	d, ok := r.types[name]
	return d, ok
}

// Owner finds the definition owning a constructor name.
func (r *DuRegistry) Owner(variant string) (*DuDef, bool) {
	d, ok := r.ownerOf[variant]
	return d, ok
}
