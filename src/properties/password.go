package properties

// Hasher turns a plaintext password into a storable record and checks a
// plaintext against one.
type Hasher interface {
	Hash(plain string) (map[string]any, error)
	Verify(plain string, record map[string]any) bool
}

// Password stores a salted hash instead of the plaintext. Assigning a string
// hashes it; assigning an existing hash record keeps it.
func Password(h Hasher, opts ...Option) *Property {
	c := codec{
		typeName: "password",
		check: func(_ *Property, v any) bool {
			switch t := v.(type) {
			case string:
				return t != ""
			default:
				m, ok := asMap(v)
				if !ok {
					return false
				}
				_, ok = m["hash"]
				return ok
			}
		},
		standardize: func(p *Property, v any) (any, error) {
			if plain, ok := v.(string); ok {
				if p.hasher == nil {
					return nil, mismatch("password record", v)
				}
				return p.hasher.Hash(plain)
			}
			m, ok := asMap(v)
			if !ok {
				return nil, mismatch("password record", v)
			}
			return cloneValue(m), nil
		},
		fromStore: func(_ *Property, w any) (any, error) {
			m, ok := asMap(w)
			if !ok {
				return nil, mismatch("password record", w)
			}
			return cloneValue(m), nil
		},
	}
	c.toStore = c.fromStore
	p := newProperty(KindScalar, c, opts)
	p.hasher = h
	return p
}

// CheckPassword verifies plain against the record held by a password field.
func (p *Property) CheckPassword(plain string, record any) bool {
	if p.hasher == nil {
		return false
	}
	m, ok := asMap(record)
	if !ok {
		return false
	}
	return p.hasher.Verify(plain, m)
}
