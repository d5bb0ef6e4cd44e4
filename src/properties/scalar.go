package properties

import (
	"reflect"
	"time"
)

// Any accepts every value unchanged. It is the property used for fields
// that need no coercion.
func Any(opts ...Option) *Property {
	return newProperty(KindScalar, codec{typeName: "any"}, opts)
}

// String stores text. Numbers and booleans are converted to their text form.
func String(opts ...Option) *Property {
	c := codec{
		typeName: "string",
		check: func(_ *Property, v any) bool {
			_, ok := toString(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			s, ok := toString(v)
			if !ok {
				return nil, mismatch("string", v)
			}
			return s, nil
		},
	}
	c.toStore = c.standardize
	c.fromStore = c.standardize
	return newProperty(KindScalar, c, opts)
}

// Number stores any numeric value as a float64. Numeric strings are accepted.
func Number(opts ...Option) *Property {
	c := codec{
		typeName: "number",
		check: func(_ *Property, v any) bool {
			_, ok := toFloat(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			f, ok := toFloat(v)
			if !ok {
				return nil, mismatch("number", v)
			}
			return f, nil
		},
	}
	c.toStore = c.standardize
	c.fromStore = c.standardize
	return newProperty(KindScalar, c, opts)
}

// Integer stores whole numbers as int64.
func Integer(opts ...Option) *Property {
	c := codec{
		typeName: "integer",
		check: func(_ *Property, v any) bool {
			_, ok := toInt(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			i, ok := toInt(v)
			if !ok {
				return nil, mismatch("integer", v)
			}
			return i, nil
		},
	}
	c.toStore = c.standardize
	c.fromStore = c.standardize
	return newProperty(KindScalar, c, opts)
}

// Boolean stores a bool. Non-zero numbers are true.
func Boolean(opts ...Option) *Property {
	c := codec{
		typeName: "boolean",
		check: func(_ *Property, v any) bool {
			_, ok := toBool(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			b, ok := toBool(v)
			if !ok {
				return nil, mismatch("boolean", v)
			}
			return b, nil
		},
	}
	c.toStore = c.standardize
	c.fromStore = c.standardize
	return newProperty(KindScalar, c, opts)
}

// DateTime stores a UTC time as RFC 3339 text. It accepts time.Time values
// and unix timestamps; the default is the current time.
func DateTime(opts ...Option) *Property {
	c := codec{
		typeName: "datetime",
		check: func(_ *Property, v any) bool {
			_, ok := toTime(v)
			return ok
		},
		standardize: func(_ *Property, v any) (any, error) {
			t, ok := toTime(v)
			if !ok {
				return nil, mismatch("datetime", v)
			}
			return t, nil
		},
		toStore: func(_ *Property, v any) (any, error) {
			t, ok := toTime(v)
			if !ok {
				return nil, mismatch("datetime", v)
			}
			return t.Format(time.RFC3339Nano), nil
		},
		zero: func() any {
			return time.Now().UTC().Round(0)
		},
	}
	c.fromStore = c.standardize
	return newProperty(KindScalar, c, opts)
}

// Enum restricts values to a fixed set and stores the position in the set.
func Enum(values []any, opts ...Option) *Property {
	allowed := make([]any, len(values))
	copy(allowed, values)

	indexOf := func(v any) int {
		if v == nil || !reflect.TypeOf(v).Comparable() {
			return -1
		}
		for i, a := range allowed {
			if a == v {
				return i
			}
		}
		return -1
	}

	c := codec{
		typeName: "enum",
		check: func(_ *Property, v any) bool {
			return indexOf(v) >= 0
		},
		standardize: func(_ *Property, v any) (any, error) {
			if indexOf(v) < 0 {
				return nil, mismatch("enum", v)
			}
			return v, nil
		},
		toStore: func(_ *Property, v any) (any, error) {
			i := indexOf(v)
			if i < 0 {
				return nil, mismatch("enum", v)
			}
			return int64(i), nil
		},
		fromStore: func(_ *Property, w any) (any, error) {
			i, ok := toInt(w)
			if !ok || i < 0 || int(i) >= len(allowed) {
				return nil, mismatch("enum", w)
			}
			return allowed[i], nil
		},
	}
	return newProperty(KindScalar, c, opts)
}
