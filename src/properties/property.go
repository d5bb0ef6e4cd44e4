package properties

import (
	"fmt"

	"github.com/expr-lang/expr"
	"go.uber.org/multierr"
)

// Kind classifies a property for the schema compiler and the synchronizer.
type Kind int

const (
	KindScalar Kind = iota
	KindList
	KindDict
	KindEmbedded
	KindReference
	KindMultiReference
	KindBackReference
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindDict:
		return "dict"
	case KindEmbedded:
		return "embedded"
	case KindReference:
		return "reference"
	case KindMultiReference:
		return "multi-reference"
	case KindBackReference:
		return "back-reference"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Validator reports whether a value is acceptable. Validators only see
// non-nil values.
type Validator func(value any) bool

// Option configures a property at construction time.
type Option func(*Property)

// codec holds the per-type behaviour of a property. Every constructor fills
// in the entries it needs; nil entries fall back to identity.
type codec struct {
	typeName    string
	check       func(p *Property, v any) bool
	standardize func(p *Property, v any) (any, error)
	toStore     func(p *Property, v any) (any, error)
	fromStore   func(p *Property, w any) (any, error)
	zero        func() any
}

// Property describes one document field: requiredness, uniqueness, its
// default, validators and the conversions between the in-memory value and
// the JSON compatible value written to the store.
//
// A Property is immutable once built. Options that fail (a bad expression
// for instance) are reported by Err and surface when the schema is compiled.
type Property struct {
	kind        Kind
	required    bool
	unique      bool
	indexed     bool
	strict      bool
	hasDefault  bool
	def         any
	validators  []Validator
	target      string
	collection  string
	sourceField string
	accepts     func(class string) bool
	fields      map[string]*Property
	hasher      Hasher
	codec       codec
	err         error
}

func newProperty(kind Kind, c codec, opts []Option) *Property {
	p := &Property{kind: kind, codec: c}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Required rejects nil values on save.
func Required() Option {
	return func(p *Property) { p.required = true }
}

// Unique asks the engine to enforce uniqueness of the field within its class.
func Unique() Option {
	return func(p *Property) { p.unique = true }
}

// Indexed writes the stored value of the field as a secondary index entry.
func Indexed() Option {
	return func(p *Property) { p.indexed = true }
}

// Strict makes resolving a dangling reference an error instead of a nil.
func Strict() Option {
	return func(p *Property) { p.strict = true }
}

// Default sets the default value. A func() any is called each time a
// default is needed; maps and slices are copied so defaults are never shared.
func Default(v any) Option {
	return func(p *Property) {
		p.def = v
		p.hasDefault = true
	}
}

// Validators appends validators run after the type check.
func Validators(fns ...Validator) Option {
	return func(p *Property) {
		for _, fn := range fns {
			if fn != nil {
				p.validators = append(p.validators, fn)
			}
		}
	}
}

// WithCollection names the back-reference field registered on the target
// class of a reference.
func WithCollection(name string) Option {
	return func(p *Property) { p.collection = name }
}

// Expr adds a validator written as an expr-lang boolean expression over the
// variable `value`, e.g. `len(value) > 3 && value != "root"`.
func Expr(src string) Option {
	return func(p *Property) {
		program, err := expr.Compile(src,
			expr.Env(map[string]any{}),
			expr.AllowUndefinedVariables(),
			expr.AsBool(),
		)
		if err != nil {
			p.err = multierr.Append(p.err, fmt.Errorf("%w: expression %q: %v", ErrDefinition, src, err))
			return
		}
		p.validators = append(p.validators, func(v any) bool {
			out, err := expr.Run(program, map[string]any{"value": v})
			if err != nil {
				return false
			}
			ok, _ := out.(bool)
			return ok
		})
	}
}

func (p *Property) Kind() Kind          { return p.kind }
func (p *Property) Required() bool      { return p.required }
func (p *Property) Unique() bool        { return p.unique }
func (p *Property) Indexed() bool       { return p.indexed }
func (p *Property) Strict() bool        { return p.strict }
func (p *Property) Target() string      { return p.target }
func (p *Property) Collection() string  { return p.collection }
func (p *Property) SourceField() string { return p.sourceField }
func (p *Property) TypeName() string    { return p.codec.typeName }
func (p *Property) Err() error          { return p.err }

// Fields returns the shape of an embedded property.
func (p *Property) Fields() map[string]*Property {
	out := make(map[string]*Property, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// IsReference reports whether the property holds forward references.
func (p *Property) IsReference() bool {
	return p.kind == KindReference || p.kind == KindMultiReference
}

// Validate accepts nil unless the property is required, then applies the
// type check and every validator.
func (p *Property) Validate(v any) bool {
	if v == nil {
		return !p.required
	}
	if p.codec.check != nil && !p.codec.check(p, v) {
		return false
	}
	for _, fn := range p.validators {
		if !fn(v) {
			return false
		}
	}
	return true
}

// Standardize coerces v into the canonical in-memory representation.
func (p *Property) Standardize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if p.codec.standardize == nil {
		return v, nil
	}
	return p.codec.standardize(p, v)
}

// ToStore converts an in-memory value to its wire form.
func (p *Property) ToStore(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if p.codec.toStore == nil {
		return cloneValue(v), nil
	}
	return p.codec.toStore(p, v)
}

// FromStore converts a wire value back. An absent (nil) value yields the
// default so fields added after documents were written read transparently.
func (p *Property) FromStore(w any) (any, error) {
	if w == nil {
		return p.DefaultValue(), nil
	}
	if p.codec.fromStore == nil {
		return cloneValue(w), nil
	}
	return p.codec.fromStore(p, w)
}

// DefaultValue returns a fresh default.
func (p *Property) DefaultValue() any {
	var v any
	switch {
	case p.hasDefault:
		if fn, ok := p.def.(func() any); ok {
			v = fn()
		} else {
			v = cloneValue(p.def)
		}
	case p.codec.zero != nil:
		return p.codec.zero()
	}
	if v == nil || p.codec.standardize == nil {
		return v
	}
	if std, err := p.codec.standardize(p, v); err == nil {
		return std
	}
	return v
}

// AcceptsClass reports whether a referent of class may be stored in a
// reference property.
func (p *Property) AcceptsClass(class string) bool {
	if p.accepts != nil {
		return p.accepts(class)
	}
	return class == "" || class == p.target
}

// WithClassResolver returns a copy of a reference property whose class check
// delegates to fn. The schema registry uses it to let subclasses through.
func (p *Property) WithClassResolver(fn func(class string) bool) *Property {
	cp := *p
	cp.accepts = fn
	return &cp
}
