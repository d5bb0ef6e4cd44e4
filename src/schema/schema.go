package schema

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"syndrkit/src/properties"
)

var (
	ErrEmptyName          = errors.New("class name is empty")
	ErrDuplicateClass     = errors.New("class already defined")
	ErrDuplicateBucket    = errors.New("bucket already used by another class")
	ErrUnknownTarget      = errors.New("reference target class is not defined")
	ErrCollectionConflict = errors.New("collection name collides with an existing field")
	ErrBadField           = errors.New("invalid field declaration")
)

// Definition is what a caller declares for one document class. Parents are
// already compiled schemas; the first listed parent is the closest.
type Definition struct {
	Name     string
	Bucket   string
	Abstract bool
	Embedded bool
	Parents  []*Schema
	Fields   map[string]*properties.Property
}

// Schema is the merged field table of one document class. It is fixed once
// compiled except for back-reference fields, which the registry adds when a
// later class declares a reference with a collection name.
type Schema struct {
	name      string
	bucket    string
	abstract  bool
	embedded  bool
	parents   []*Schema
	ancestors []string
	declared  map[string]*properties.Property

	mu     sync.RWMutex
	fields map[string]*properties.Property
}

// Compile merges the declared fields of def with its ancestors. Ancestors are
// visited breadth first and the closest declaration of a field wins.
func Compile(def Definition) (*Schema, error) {
	if def.Name == "" {
		return nil, ErrEmptyName
	}

	var errs error
	for _, name := range sortedNames(def.Fields) {
		p := def.Fields[name]
		switch {
		case name == "":
			errs = multierr.Append(errs, fmt.Errorf("%w: empty field name in %s", ErrBadField, def.Name))
		case p == nil:
			errs = multierr.Append(errs, fmt.Errorf("%w: %s.%s has no property", ErrBadField, def.Name, name))
		case p.Err() != nil:
			errs = multierr.Append(errs, fmt.Errorf("%s.%s: %w", def.Name, name, p.Err()))
		case p.Kind() == properties.KindBackReference:
			errs = multierr.Append(errs, fmt.Errorf("%w: %s.%s: back-references are registered, not declared", ErrBadField, def.Name, name))
		case def.Embedded && p.IsReference() && p.Collection() != "":
			errs = multierr.Append(errs, fmt.Errorf("%w: embedded %s.%s cannot own a collection", ErrBadField, def.Name, name))
		}
	}
	if errs != nil {
		return nil, errs
	}

	bucket := def.Bucket
	if bucket == "" && !def.Abstract && !def.Embedded {
		bucket = def.Name
	}
	if def.Abstract || def.Embedded {
		bucket = ""
	}

	s := &Schema{
		name:     def.Name,
		bucket:   bucket,
		abstract: def.Abstract,
		embedded: def.Embedded,
		parents:  append([]*Schema(nil), def.Parents...),
		declared: make(map[string]*properties.Property, len(def.Fields)),
		fields:   make(map[string]*properties.Property),
	}
	for name, p := range def.Fields {
		s.declared[name] = p
	}

	lineage := walkParents(def.Parents)
	s.ancestors = make([]string, 0, len(lineage))
	for _, p := range lineage {
		s.ancestors = append(s.ancestors, p.name)
	}

	// Farthest first, so closer ancestors overwrite.
	for i := len(lineage) - 1; i >= 0; i-- {
		for name, p := range lineage[i].own() {
			s.fields[name] = p
		}
	}
	for name, p := range s.declared {
		s.fields[name] = p
	}
	return s, nil
}

// walkParents returns every ancestor once, in breadth first order.
func walkParents(parents []*Schema) []*Schema {
	var all []*Schema
	seen := make(map[*Schema]bool)
	frontier := parents
	for len(frontier) > 0 {
		var next []*Schema
		for _, p := range frontier {
			if p == nil || seen[p] {
				continue
			}
			seen[p] = true
			all = append(all, p)
			next = append(next, p.parents...)
		}
		frontier = next
	}
	return all
}

func (s *Schema) Name() string        { return s.name }
func (s *Schema) Bucket() string      { return s.bucket }
func (s *Schema) Abstract() bool      { return s.abstract }
func (s *Schema) Embedded() bool      { return s.embedded }
func (s *Schema) Parents() []*Schema  { return append([]*Schema(nil), s.parents...) }
func (s *Schema) Ancestors() []string { return append([]string(nil), s.ancestors...) }

// IsA reports whether the class is name or descends from it.
func (s *Schema) IsA(name string) bool {
	if s.name == name {
		return true
	}
	for _, a := range s.ancestors {
		if a == name {
			return true
		}
	}
	return false
}

// Field returns the property for name.
func (s *Schema) Field(name string) (*properties.Property, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.fields[name]
	return p, ok
}

func (s *Schema) Has(name string) bool {
	_, ok := s.Field(name)
	return ok
}

// Declared returns the fields declared on the class itself.
func (s *Schema) Declared() map[string]*properties.Property {
	out := make(map[string]*properties.Property, len(s.declared))
	for k, v := range s.declared {
		out[k] = v
	}
	return out
}

// Fields returns every field name, sorted.
func (s *Schema) Fields() []string {
	return s.names(func(*properties.Property) bool { return true })
}

func (s *Schema) UniqueFields() []string {
	return s.names(func(p *properties.Property) bool { return p.Unique() })
}

func (s *Schema) IndexedFields() []string {
	return s.names(func(p *properties.Property) bool { return p.Indexed() })
}

// ReferenceFields lists single and multi reference fields.
func (s *Schema) ReferenceFields() []string {
	return s.names(func(p *properties.Property) bool { return p.IsReference() })
}

func (s *Schema) BackReferenceFields() []string {
	return s.names(func(p *properties.Property) bool { return p.Kind() == properties.KindBackReference })
}

// PlainFields lists everything that is neither a reference nor a back-reference.
func (s *Schema) PlainFields() []string {
	return s.names(func(p *properties.Property) bool {
		return !p.IsReference() && p.Kind() != properties.KindBackReference
	})
}

// AsProperty turns an embedded schema into a field usable by other classes.
func (s *Schema) AsProperty(opts ...properties.Option) *properties.Property {
	return properties.Embedded(s.snapshot(), opts...)
}

// EmbeddedList turns an embedded schema into a list field.
func (s *Schema) EmbeddedList(opts ...properties.Option) *properties.Property {
	return properties.EmbeddedList(s.snapshot(), opts...)
}

func (s *Schema) String() string {
	return s.name
}

func (s *Schema) names(keep func(*properties.Property) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.fields))
	for name, p := range s.fields {
		if keep(p) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Schema) snapshot() map[string]*properties.Property {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*properties.Property, len(s.fields))
	for k, v := range s.fields {
		out[k] = v
	}
	return out
}

// own returns the declared fields plus registered back-references.
func (s *Schema) own() map[string]*properties.Property {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*properties.Property, len(s.declared))
	for k, v := range s.fields {
		if v.Kind() == properties.KindBackReference {
			out[k] = v
		}
	}
	for k, v := range s.declared {
		out[k] = v
	}
	return out
}

func (s *Schema) addField(name string, p *properties.Property) {
	s.mu.Lock()
	s.fields[name] = p
	s.mu.Unlock()
}

func sortedNames(fields map[string]*properties.Property) []string {
	out := make([]string, 0, len(fields))
	for name := range fields {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
