package engine

import (
	"context"
	"fmt"

	"syndrkit/src/schema"
	"syndrkit/src/store"
)

// Class is a defined document class bound to its registry.
type Class struct {
	registry *Registry
	schema   *schema.Schema
}

type loadOptions struct {
	fresh bool
}

// LoadOption tunes Load.
type LoadOption func(*loadOptions)

// Fresh reloads a cached instance from the store before returning it.
func Fresh() LoadOption {
	return func(o *loadOptions) { o.fresh = true }
}

func (c *Class) Name() string           { return c.schema.Name() }
func (c *Class) Schema() *schema.Schema { return c.schema }
func (c *Class) Registry() *Registry    { return c.registry }

func (c *Class) bucket() store.Bucket {
	return c.registry.store.Bucket(c.schema.Bucket())
}

func (c *Class) instantiable() error {
	if c.schema.Abstract() || c.schema.Embedded() || c.schema.Bucket() == "" {
		return fmt.Errorf("%w: %s", ErrAbstractClass, c.Name())
	}
	return nil
}

// New builds a document with a generated key.
func (c *Class) New(fields map[string]any) (*Document, error) {
	return c.NewWithKey("", fields)
}

// NewWithKey builds a document with the given key, or a generated one when key
// is empty. The document enters the identity cache right away; a second
// instance for a cached key is refused.
func (c *Class) NewWithKey(key string, fields map[string]any) (*Document, error) {
	if err := c.instantiable(); err != nil {
		return nil, err
	}
	if key == "" {
		key = c.registry.keygen()
	}
	if _, ok := c.registry.cache.Get(c.Name(), key); ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateInstance, c.Name(), key)
	}

	doc := newDocument(c, key)
	doc.unclaimed = true
	if err := doc.Merge(fields); err != nil {
		return nil, err
	}
	if _, stored := c.registry.cache.PutIfAbsent(c.Name(), key, doc); !stored {
		return nil, fmt.Errorf("%w: %s/%s", ErrDuplicateInstance, c.Name(), key)
	}
	return doc, nil
}

// Load returns the live instance for key. A cached instance is returned as is
// unless Fresh is given; otherwise the record is read, deserialized and
// cached.
func (c *Class) Load(ctx context.Context, key string, opts ...LoadOption) (*Document, error) {
	if err := c.instantiable(); err != nil {
		return nil, err
	}
	var o loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if doc, ok := c.registry.cache.Get(c.Name(), key); ok {
		if doc.state == StateNew {
			return nil, &NotFoundError{Class: c.Name(), Key: key}
		}
		c.registry.logger.Debugw("identity cache hit", "class", c.Name(), "key", key)
		if o.fresh {
			if err := doc.Reload(ctx); err != nil {
				return nil, err
			}
		}
		return doc, nil
	}

	rec, links, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	return c.materialize(ctx, key, rec, links)
}

// fetch reads the record and link set of key.
func (c *Class) fetch(ctx context.Context, key string) (store.Record, []store.Link, error) {
	b := c.bucket()
	rec, err := b.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, nil, &NotFoundError{Class: c.Name(), Key: key}
		}
		return nil, nil, storeErr("get", b.Name(), key, err)
	}
	links, err := b.Links(ctx, key)
	if err != nil {
		return nil, nil, storeErr("links", b.Name(), key, err)
	}
	return rec, links, nil
}

// materialize builds a persisted instance from stored data and caches it. If
// another instance won the race into the cache, that one is returned.
func (c *Class) materialize(ctx context.Context, key string, rec store.Record, links []store.Link) (*Document, error) {
	doc := newDocument(c, key)
	if err := doc.fill(rec, links); err != nil {
		return nil, err
	}
	if err := doc.dropDangling(ctx); err != nil {
		return nil, err
	}
	doc.state = StatePersisted
	doc.snapshot(false)

	winner, _ := c.registry.cache.PutIfAbsent(c.Name(), key, doc)
	return winner, nil
}

// Exists reports whether key is stored.
func (c *Class) Exists(ctx context.Context, key string) (bool, error) {
	if err := c.instantiable(); err != nil {
		return false, err
	}
	if doc, ok := c.registry.cache.Get(c.Name(), key); ok && doc.state == StatePersisted {
		return true, nil
	}
	b := c.bucket()
	if _, err := b.Get(ctx, key); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, storeErr("get", b.Name(), key, err)
	}
	return true, nil
}

// Search runs a store search over the class bucket and returns the matching
// documents, reusing cached instances.
func (c *Class) Search(ctx context.Context, query string) ([]*Document, error) {
	if err := c.instantiable(); err != nil {
		return nil, err
	}
	hits, err := c.registry.store.Search(ctx, c.schema.Bucket(), query)
	if err != nil {
		return nil, storeErr("search", c.schema.Bucket(), "", err)
	}

	docs := make([]*Document, 0, len(hits))
	for _, hit := range hits {
		if doc, ok := c.registry.cache.Get(c.Name(), hit.Key); ok && doc.state == StatePersisted {
			docs = append(docs, doc)
			continue
		}
		links, err := c.bucket().Links(ctx, hit.Key)
		if err != nil {
			return nil, storeErr("links", c.schema.Bucket(), hit.Key, err)
		}
		doc, err := c.materialize(ctx, hit.Key, hit.Record, links)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// IndexLookup loads the documents whose indexed field lies in [start, end].
// A nil end asks for an exact match. Bounds are converted like field values.
func (c *Class) IndexLookup(ctx context.Context, field string, start, end any) ([]*Document, error) {
	if err := c.instantiable(); err != nil {
		return nil, err
	}
	p, ok := c.schema.Field(field)
	if !ok {
		return nil, &FieldError{Class: c.Name(), Field: field, Err: ErrUnknownField}
	}
	bound := func(v any) (any, error) {
		if v == nil {
			return nil, nil
		}
		std, err := p.Standardize(v)
		if err != nil {
			return nil, &FieldError{Class: c.Name(), Field: field, Err: err}
		}
		return p.ToStore(std)
	}
	lo, err := bound(start)
	if err != nil {
		return nil, err
	}
	hi, err := bound(end)
	if err != nil {
		return nil, err
	}

	keys, err := c.registry.store.IndexLookup(ctx, c.schema.Bucket(), field, lo, hi)
	if err != nil {
		return nil, storeErr("index", c.schema.Bucket(), "", err)
	}
	docs := make([]*Document, 0, len(keys))
	for _, key := range keys {
		doc, err := c.Load(ctx, key)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Evict drops the cached instance for key.
func (c *Class) Evict(key string) bool {
	return c.registry.cache.Evict(c.Name(), key)
}
