package properties

import "fmt"

// List holds an ordered list of JSON compatible values. The default is an
// empty list.
func List(opts ...Option) *Property {
	c := codec{
		typeName: "list",
		check: func(_ *Property, v any) bool {
			_, ok := asSlice(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			s, ok := asSlice(v)
			if !ok {
				return nil, mismatch("list", v)
			}
			return cloneValue(s), nil
		},
		zero: func() any { return []any{} },
	}
	c.toStore = c.standardize
	c.fromStore = c.standardize
	return newProperty(KindList, c, opts)
}

// Dict holds a string keyed map. The default is an empty map.
func Dict(opts ...Option) *Property {
	c := codec{
		typeName: "dict",
		check: func(_ *Property, v any) bool {
			_, ok := asMap(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			m, ok := asMap(v)
			if !ok {
				return nil, mismatch("dict", v)
			}
			return cloneValue(m), nil
		},
		zero: func() any { return map[string]any{} },
	}
	c.toStore = c.standardize
	c.fromStore = c.standardize
	return newProperty(KindDict, c, opts)
}

// Embedded holds a nested document described by fields. It is stored inline
// as a map; it has no key and no links of its own.
func Embedded(fields map[string]*Property, opts ...Option) *Property {
	c := codec{
		typeName:    "embedded",
		check:       func(p *Property, v any) bool { return checkEmbedded(p.fields, v) },
		standardize: func(p *Property, v any) (any, error) { return standardizeEmbedded(p.fields, v) },
		toStore:     func(p *Property, v any) (any, error) { return embeddedToStore(p.fields, v) },
		fromStore:   func(p *Property, w any) (any, error) { return embeddedFromStore(p.fields, w) },
	}
	p := newProperty(KindEmbedded, c, opts)
	p.fields = copyFields(fields)
	return p
}

// EmbeddedList holds a list of nested documents sharing one shape.
func EmbeddedList(fields map[string]*Property, opts ...Option) *Property {
	c := codec{
		typeName: "embedded-list",
		check: func(p *Property, v any) bool {
			items, ok := asSlice(v)
			if !ok {
				return false
			}
			for _, item := range items {
				if item != nil && !checkEmbedded(p.fields, item) {
					return false
				}
			}
			return true
		},
		standardize: func(p *Property, v any) (any, error) {
			return mapItems(v, func(item any) (any, error) { return standardizeEmbedded(p.fields, item) })
		},
		toStore: func(p *Property, v any) (any, error) {
			return mapItems(v, func(item any) (any, error) { return embeddedToStore(p.fields, item) })
		},
		fromStore: func(p *Property, w any) (any, error) {
			return mapItems(w, func(item any) (any, error) { return embeddedFromStore(p.fields, item) })
		},
		zero: func() any { return []any{} },
	}
	p := newProperty(KindList, c, opts)
	p.fields = copyFields(fields)
	return p
}

func copyFields(fields map[string]*Property) map[string]*Property {
	out := make(map[string]*Property, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func mapItems(v any, fn func(any) (any, error)) (any, error) {
	items, ok := asSlice(v)
	if !ok {
		return nil, mismatch("list", v)
	}
	out := make([]any, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		converted, err := fn(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out[i] = converted
	}
	return out, nil
}

func checkEmbedded(fields map[string]*Property, v any) bool {
	m, ok := asMap(v)
	if !ok {
		return false
	}
	for name, fp := range fields {
		val, present := m[name]
		if !present || val == nil {
			continue
		}
		if !fp.Validate(val) {
			return false
		}
	}
	return true
}

func standardizeEmbedded(fields map[string]*Property, v any) (any, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, mismatch("embedded", v)
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if _, declared := fields[k]; !declared {
			out[k] = cloneValue(val)
		}
	}
	for name, fp := range fields {
		val, present := m[name]
		if !present {
			out[name] = fp.DefaultValue()
			continue
		}
		std, err := fp.Standardize(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = std
	}
	return out, nil
}

func embeddedToStore(fields map[string]*Property, v any) (any, error) {
	m, ok := asMap(v)
	if !ok {
		return nil, mismatch("embedded", v)
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if _, declared := fields[k]; !declared {
			out[k] = cloneValue(val)
		}
	}
	for name, fp := range fields {
		val := m[name]
		if val == nil && fp.Required() {
			return nil, &ValidationError{Field: name, Value: nil, Reason: "required"}
		}
		wire, err := fp.ToStore(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = wire
	}
	return out, nil
}

func embeddedFromStore(fields map[string]*Property, w any) (any, error) {
	m, ok := asMap(w)
	if !ok {
		return nil, mismatch("embedded", w)
	}
	out := make(map[string]any, len(m))
	for k, val := range m {
		if _, declared := fields[k]; !declared {
			out[k] = cloneValue(val)
		}
	}
	for name, fp := range fields {
		val, err := fp.FromStore(m[name])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}
