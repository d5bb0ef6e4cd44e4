package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"syndrkit/src/cache"
	"syndrkit/src/helpers"
	"syndrkit/src/properties"
	"syndrkit/src/schema"
	"syndrkit/src/store"
)

// Registry ties the schemas, the identity cache and the store together. One
// registry is built at start up and every class hangs off it.
type Registry struct {
	store   store.Store
	schemas *schema.Registry
	cache   *cache.Cache[*Document]
	unique  *Uniqueness
	logger  *zap.SugaredLogger
	keygen  func() string

	mu      sync.RWMutex
	classes map[string]*Class
}

type Option func(*Registry)

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithKeyGenerator replaces the uuid based key generator.
func WithKeyGenerator(fn func() string) Option {
	return func(r *Registry) {
		if fn != nil {
			r.keygen = fn
		}
	}
}

// WithSchemas shares an existing schema registry.
func WithSchemas(schemas *schema.Registry) Option {
	return func(r *Registry) {
		if schemas != nil {
			r.schemas = schemas
		}
	}
}

func NewRegistry(st store.Store, opts ...Option) *Registry {
	r := &Registry{
		store:   st,
		cache:   cache.New[*Document](),
		logger:  zap.NewNop().Sugar(),
		keygen:  helpers.GenerateKey,
		classes: make(map[string]*Class),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.schemas == nil {
		r.schemas = schema.NewRegistry(r.logger)
	}
	r.unique = &Uniqueness{store: st, logger: r.logger}
	return r
}

// Define compiles and registers a document class.
func (r *Registry) Define(def schema.Definition) (*Class, error) {
	s, err := r.schemas.Define(def)
	if err != nil {
		return nil, fmt.Errorf("failed to define class %s: %w", def.Name, err)
	}
	c := &Class{registry: r, schema: s}

	r.mu.Lock()
	r.classes[s.Name()] = c
	r.mu.Unlock()
	return c, nil
}

// MustDefine is Define for package level class declarations.
func (r *Registry) MustDefine(def schema.Definition) *Class {
	c, err := r.Define(def)
	if err != nil {
		panic(err)
	}
	return c
}

func (r *Registry) Class(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// ClassForBucket finds the class stored in bucket.
func (r *Registry) ClassForBucket(bucket string) (*Class, bool) {
	s, ok := r.schemas.ByBucket(bucket)
	if !ok {
		return nil, false
	}
	return r.Class(s.Name())
}

func (r *Registry) Schemas() *schema.Registry { return r.schemas }
func (r *Registry) Store() store.Store        { return r.store }
func (r *Registry) Uniqueness() *Uniqueness   { return r.unique }

// Load fetches the document a reference points at.
func (r *Registry) Load(ctx context.Context, ref properties.Ref, opts ...LoadOption) (*Document, error) {
	c, ok := r.Class(ref.ClassName())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownClass, ref.ClassName())
	}
	return c.Load(ctx, ref.Key(), opts...)
}

// peer returns the live instance for ref, loading it when it is not cached.
// Unlike Load it also hands out instances that were never saved, so that
// references between new documents can be kept in sync.
func (r *Registry) peer(ctx context.Context, ref properties.Ref) (*Document, error) {
	if doc, ok := r.cache.Get(ref.ClassName(), ref.Key()); ok && doc.state != StateDeleted {
		return doc, nil
	}
	return r.Load(ctx, ref)
}

// exists reports whether ref names a live document. References to a class
// without a bucket cannot be checked and count as live.
func (r *Registry) exists(ctx context.Context, ref properties.Ref) (bool, error) {
	if doc, ok := r.cache.Get(ref.ClassName(), ref.Key()); ok && doc.state != StateDeleted {
		return true, nil
	}
	c, ok := r.Class(ref.ClassName())
	if !ok || c.schema.Bucket() == "" {
		return true, nil
	}
	b := c.bucket()
	if _, err := b.Get(ctx, ref.Key()); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, storeErr("get", b.Name(), ref.Key(), err)
	}
	return true, nil
}

// bucketOf maps a class name to its bucket, falling back to fallback's
// bucket when the class is unknown.
func (r *Registry) bucketOf(class, fallback string) string {
	if c, ok := r.Class(class); ok && c.schema.Bucket() != "" {
		return c.schema.Bucket()
	}
	if c, ok := r.Class(fallback); ok {
		return c.schema.Bucket()
	}
	return class
}

// classOf maps a bucket back to a class name, falling back to fallback.
func (r *Registry) classOf(bucket, fallback string) string {
	if s, ok := r.schemas.ByBucket(bucket); ok {
		return s.Name()
	}
	return fallback
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, store.ErrNotFound)
}
