package schema

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"syndrkit/src/properties"
)

// Registry holds every defined class by name and by bucket. It replaces
// module level registries: one is built per engine and passed around.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*Schema
	byBucket map[string]*Schema
	logger   *zap.SugaredLogger
}

func NewRegistry(logger *zap.SugaredLogger) *Registry {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Registry{
		byName:   make(map[string]*Schema),
		byBucket: make(map[string]*Schema),
		logger:   logger,
	}
}

// Define compiles def and registers it. Reference fields declared on the
// class with a collection name add a back-reference field to their target,
// so targets must be defined first. Nothing is registered on error.
func (r *Registry) Define(def Definition) (*Schema, error) {
	if def.Name == "" {
		return nil, ErrEmptyName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, def.Name)
	}

	fields := make(map[string]*properties.Property, len(def.Fields))
	for name, p := range def.Fields {
		if p != nil && p.IsReference() {
			p = p.WithClassResolver(r.isA(p.Target()))
		}
		fields[name] = p
	}
	def.Fields = fields

	s, err := Compile(def)
	if err != nil {
		return nil, err
	}
	if s.bucket != "" {
		if owner, taken := r.byBucket[s.bucket]; taken {
			return nil, fmt.Errorf("%w: %s is used by %s", ErrDuplicateBucket, s.bucket, owner.name)
		}
	}

	type registration struct {
		target     *Schema
		collection string
		prop       *properties.Property
	}
	var pending []registration
	claimed := make(map[string]string)

	for _, name := range sortedNames(s.declared) {
		p := s.declared[name]
		if !p.IsReference() || p.Collection() == "" {
			continue
		}
		target, ok := r.byName[p.Target()]
		if p.Target() == s.name {
			target, ok = s, true
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s points at %s", ErrUnknownTarget, s.name, name, p.Target())
		}

		collection := p.Collection()
		slot := target.name + "." + collection
		if other, dup := claimed[slot]; dup {
			return nil, fmt.Errorf("%w: %s already claimed by %s.%s", ErrCollectionConflict, slot, s.name, other)
		}
		claimed[slot] = name

		for _, t := range r.withDescendants(target, s) {
			if t.Has(collection) {
				return nil, fmt.Errorf("%w: %s.%s (from %s.%s)", ErrCollectionConflict, t.name, collection, s.name, name)
			}
		}

		back := properties.BackReference(s.name, name).WithClassResolver(r.isA(s.name))
		pending = append(pending, registration{target: target, collection: collection, prop: back})
	}

	r.byName[s.name] = s
	if s.bucket != "" {
		r.byBucket[s.bucket] = s
	}
	for _, reg := range pending {
		for _, t := range r.withDescendants(reg.target, s) {
			t.addField(reg.collection, reg.prop)
		}
		r.logger.Debugw("registered collection",
			"class", reg.target.name,
			"collection", reg.collection,
			"source", s.name,
			"field", reg.prop.SourceField())
	}

	r.logger.Debugw("defined class", "class", s.name, "bucket", s.bucket, "fields", len(s.fields))
	return s, nil
}

// MustDefine is Define for package level class declarations.
func (r *Registry) MustDefine(def Definition) *Schema {
	s, err := r.Define(def)
	if err != nil {
		panic(err)
	}
	return s
}

func (r *Registry) Lookup(name string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

func (r *Registry) ByBucket(bucket string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byBucket[bucket]
	return s, ok
}

// Names lists the defined classes, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// isA builds the class check used by reference fields so that instances of a
// subclass are accepted where the parent is expected.
func (r *Registry) isA(target string) func(class string) bool {
	return func(class string) bool {
		if class == "" || class == target {
			return true
		}
		s, ok := r.Lookup(class)
		return ok && s.IsA(target)
	}
}

// withDescendants returns target plus every known class inheriting from it.
// pending is the class being defined, which is not registered yet.
// Callers hold r.mu.
func (r *Registry) withDescendants(target, pending *Schema) []*Schema {
	out := []*Schema{target}
	for _, s := range r.byName {
		if s != target && s.IsA(target.name) {
			out = append(out, s)
		}
	}
	if pending != target && pending.IsA(target.name) {
		if _, registered := r.byName[pending.name]; !registered {
			out = append(out, pending)
		}
	}
	return out
}
