package properties

import "fmt"

// Referent is anything that names a stored document by class and key.
type Referent interface {
	ClassName() string
	Key() string
}

// Ref is the in-memory value of a reference: a lookup, never an owning
// pointer. Documents are resolved on demand through the identity cache.
type Ref struct {
	class string
	key   string
}

// NewRef builds a reference to key in class.
func NewRef(class, key string) Ref {
	return Ref{class: class, key: key}
}

func (r Ref) ClassName() string { return r.class }
func (r Ref) Key() string       { return r.key }
func (r Ref) IsZero() bool      { return r.key == "" }

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s", r.class, r.key)
}

// Reference points at a single document of class target.
func Reference(target string, opts ...Option) *Property {
	c := codec{
		typeName: "reference",
		check: func(p *Property, v any) bool {
			_, ok := p.toRef(v)
			return ok
		},
		standardize: func(p *Property, v any) (any, error) {
			ref, ok := p.toRef(v)
			if !ok {
				return nil, mismatch("reference to "+p.target, v)
			}
			return ref, nil
		},
		toStore: func(p *Property, v any) (any, error) {
			ref, ok := p.toRef(v)
			if !ok {
				return nil, mismatch("reference to "+p.target, v)
			}
			return ref.key, nil
		},
		fromStore: func(p *Property, w any) (any, error) {
			key, ok := w.(string)
			if !ok || key == "" {
				return nil, mismatch("reference key", w)
			}
			return NewRef(p.target, key), nil
		},
	}
	p := newProperty(KindReference, c, opts)
	p.target = target
	return p
}

// MultiReference points at a set of documents of class target. Order is
// kept and duplicates are dropped.
func MultiReference(target string, opts ...Option) *Property {
	c := codec{
		typeName: "multi-reference",
		check: func(p *Property, v any) bool {
			_, ok := p.toRefs(v)
			return ok
		},
		standardize: func(p *Property, v any) (any, error) {
			refs, ok := p.toRefs(v)
			if !ok {
				return nil, mismatch("references to "+p.target, v)
			}
			return refs, nil
		},
		toStore: func(p *Property, v any) (any, error) {
			refs, ok := p.toRefs(v)
			if !ok {
				return nil, mismatch("references to "+p.target, v)
			}
			keys := make([]any, len(refs))
			for i, ref := range refs {
				keys[i] = ref.key
			}
			return keys, nil
		},
		fromStore: func(p *Property, w any) (any, error) {
			items, ok := asSlice(w)
			if !ok {
				return nil, mismatch("reference keys", w)
			}
			refs := make([]Ref, 0, len(items))
			for _, item := range items {
				key, ok := item.(string)
				if !ok || key == "" {
					return nil, mismatch("reference key", item)
				}
				refs = appendUnique(refs, NewRef(p.target, key))
			}
			return refs, nil
		},
		zero: func() any { return []Ref{} },
	}
	p := newProperty(KindMultiReference, c, opts)
	p.target = target
	return p
}

// BackReference is the synthetic collection registered on the target of a
// reference. It lists the documents of class source whose sourceField points
// here. It is computed, never assigned and never written to the record.
func BackReference(source, sourceField string) *Property {
	c := codec{
		typeName: "back-reference",
		check: func(p *Property, v any) bool {
			_, ok := p.toRefs(v)
			return ok
		},
		standardize: func(p *Property, v any) (any, error) {
			refs, ok := p.toRefs(v)
			if !ok {
				return nil, mismatch("references to "+p.target, v)
			}
			return refs, nil
		},
		toStore:   func(*Property, any) (any, error) { return nil, nil },
		fromStore: func(*Property, any) (any, error) { return []Ref{}, nil },
		zero:      func() any { return []Ref{} },
	}
	p := newProperty(KindBackReference, c, nil)
	p.target = source
	p.sourceField = sourceField
	return p
}

func (p *Property) toRef(v any) (Ref, bool) {
	switch t := v.(type) {
	case Ref:
		if t.key == "" {
			return Ref{}, false
		}
		if t.class == "" {
			t.class = p.target
		}
		return t, p.AcceptsClass(t.class)
	case string:
		if t == "" {
			return Ref{}, false
		}
		return NewRef(p.target, t), true
	case Referent:
		if t.Key() == "" || !p.AcceptsClass(t.ClassName()) {
			return Ref{}, false
		}
		return NewRef(t.ClassName(), t.Key()), true
	}
	return Ref{}, false
}

func (p *Property) toRefs(v any) ([]Ref, bool) {
	if refs, ok := v.([]Ref); ok {
		out := make([]Ref, 0, len(refs))
		for _, r := range refs {
			ref, ok := p.toRef(r)
			if !ok {
				return nil, false
			}
			out = appendUnique(out, ref)
		}
		return out, true
	}
	items, ok := asSlice(v)
	if !ok {
		return nil, false
	}
	out := make([]Ref, 0, len(items))
	for _, item := range items {
		ref, ok := p.toRef(item)
		if !ok {
			return nil, false
		}
		out = appendUnique(out, ref)
	}
	return out, true
}

func appendUnique(refs []Ref, ref Ref) []Ref {
	for _, r := range refs {
		if r == ref {
			return refs
		}
	}
	return append(refs, ref)
}

// ContainsKey reports whether refs holds a reference to key.
func ContainsKey(refs []Ref, key string) bool {
	for _, r := range refs {
		if r.key == key {
			return true
		}
	}
	return false
}

// RemoveKey returns refs without any reference to key.
func RemoveKey(refs []Ref, key string) []Ref {
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if r.key != key {
			out = append(out, r)
		}
	}
	return out
}
