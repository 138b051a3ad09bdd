package typesystem

import "fmt"

// UnifyError describes why two types failed to unify. The caller attaches
// source position information.
type UnifyError struct {
	Expected Type
	Found    Type
	Occurs   bool
	Reason   string
}

func (e *UnifyError) Error() string {
	if e.Occurs {
		return fmt.Sprintf("occurs check: cannot construct the infinite type %s = %s", e.Expected, e.Found)
	}
	if e.Reason != "" {
		return fmt.Sprintf("type mismatch: expected %s, found %s (%s)", e.Expected, e.Found, e.Reason)
	}
	return fmt.Sprintf("type mismatch: expected %s, found %s", e.Expected, e.Found)
}

// Unify finds a substitution making t1 and t2 equal. Arrow, tuple, list,
// array, record and variant types decompose structurally; variables bind
// subject to the occurs check.
func Unify(t1, t2 Type) (Subst, error) {
	switch a := t1.(type) {
	case TVar:
		return Bind(a, t2)

	case TCon:
		switch b := t2.(type) {
		case TVar:
			return Bind(b, t1)
		case TCon:
			if a.Name == b.Name {
				return Subst{}, nil
			}
		}
		return nil, &UnifyError{Expected: t1, Found: t2}

	case TApp:
		switch b := t2.(type) {
		case TVar:
			return Bind(b, t1)
		case TApp:
			if a.Name != b.Name || len(a.Args) != len(b.Args) {
				return nil, &UnifyError{Expected: t1, Found: t2}
			}
			return unifyAll(a.Args, b.Args)
		}
		return nil, &UnifyError{Expected: t1, Found: t2}

	case TArrow:
		switch b := t2.(type) {
		case TVar:
			return Bind(b, t1)
		case TArrow:
			s1, err := Unify(a.From, b.From)
			if err != nil {
				return nil, err
			}
			s2, err := Unify(a.To.Apply(s1), b.To.Apply(s1))
			if err != nil {
				return nil, err
			}
			return s1.Compose(s2), nil
		}
		return nil, &UnifyError{Expected: t1, Found: t2}

	case TTuple:
		switch b := t2.(type) {
		case TVar:
			return Bind(b, t1)
		case TTuple:
			if len(a.Elems) != len(b.Elems) {
				return nil, &UnifyError{Expected: t1, Found: t2, Reason: "tuple arity"}
			}
			return unifyAll(a.Elems, b.Elems)
		}
		return nil, &UnifyError{Expected: t1, Found: t2}

	case TRecord:
		switch b := t2.(type) {
		case TVar:
			return Bind(b, t1)
		case TRecord:
			if len(a.Fields) != len(b.Fields) {
				return nil, &UnifyError{Expected: t1, Found: t2, Reason: "record fields"}
			}
			s := Subst{}
			for name, fa := range a.Fields {
				fb, ok := b.Fields[name]
				if !ok {
					return nil, &UnifyError{Expected: t1, Found: t2, Reason: "missing field " + name}
				}
				s2, err := Unify(fa.Apply(s), fb.Apply(s))
				if err != nil {
					return nil, err
				}
				s = s.Compose(s2)
			}
			return s, nil
		}
		return nil, &UnifyError{Expected: t1, Found: t2}
	}
	return nil, &UnifyError{Expected: t1, Found: t2}
}

func unifyAll(as, bs []Type) (Subst, error) {
	s := Subst{}
	for i := range as {
		s2, err := Unify(as[i].Apply(s), bs[i].Apply(s))
		if err != nil {
			return nil, err
		}
		s = s.Compose(s2)
	}
	return s, nil
}

// Bind binds a type variable to a type, failing the occurs check when the
// variable appears free on the other side.
func Bind(v TVar, t Type) (Subst, error) {
	if tv, ok := t.(TVar); ok && tv.ID == v.ID {
		return Subst{}, nil
	}
	free := make(map[int]bool)
	t.FreeTypeVariables(free)
	if free[v.ID] {
		return nil, &UnifyError{Expected: v, Found: t, Occurs: true}
	}
	return Subst{v.ID: t}, nil
}
