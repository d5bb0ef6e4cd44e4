package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"syndrkit/src/store"
)

type entry struct {
	record  store.Record
	links   []store.Link
	indexes []store.Index
}

// Store keeps every bucket in memory. It backs tests and embedded use.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]map[string]*entry
	closed  bool
}

func New() *Store {
	return &Store{buckets: make(map[string]map[string]*entry)}
}

func (s *Store) Bucket(name string) store.Bucket {
	return &bucket{store: s, name: name}
}

func (s *Store) Search(ctx context.Context, bucketName, query string) ([]store.Hit, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	q, err := store.CompileQuery(query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	candidates := make(map[string]store.Record)
	for key, e := range s.buckets[bucketName] {
		if e.record != nil {
			candidates[key] = e.record
		}
	}
	hits, err := q.Filter(candidates)
	s.mu.RUnlock()
	return hits, err
}

func (s *Store) IndexLookup(ctx context.Context, bucketName, field string, start, end any) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, e := range s.buckets[bucketName] {
		for _, idx := range e.indexes {
			if idx.Field == field && store.InRange(idx.Value, start, end) {
				keys = append(keys, key)
				break
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *Store) check(ctx context.Context) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

type bucket struct {
	store *Store
	name  string
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) Get(ctx context.Context, key string) (store.Record, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	e, ok := b.store.buckets[b.name][key]
	if !ok || e.record == nil {
		return nil, fmt.Errorf("%s/%s: %w", b.name, key, store.ErrNotFound)
	}
	return e.record.Clone(), nil
}

func (b *bucket) Put(ctx context.Context, key string, rec store.Record) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	if rec == nil {
		rec = store.Record{}
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.entry(key).record = rec.Clone()
	return nil
}

func (b *bucket) Delete(ctx context.Context, key string) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	delete(b.store.buckets[b.name], key)
	return nil
}

func (b *bucket) Links(ctx context.Context, key string) ([]store.Link, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	e, ok := b.store.buckets[b.name][key]
	if !ok {
		return nil, nil
	}
	return append([]store.Link(nil), e.links...), nil
}

func (b *bucket) SetLinks(ctx context.Context, key string, links []store.Link) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.entry(key).links = store.UniqueLinks(links)
	return nil
}

func (b *bucket) Indexes(ctx context.Context, key string) ([]store.Index, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	e, ok := b.store.buckets[b.name][key]
	if !ok {
		return nil, nil
	}
	return append([]store.Index(nil), e.indexes...), nil
}

func (b *bucket) SetIndexes(ctx context.Context, key string, indexes []store.Index) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.entry(key).indexes = append([]store.Index(nil), indexes...)
	return nil
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	keys := make([]string, 0, len(b.store.buckets[b.name]))
	for key, e := range b.store.buckets[b.name] {
		if e.record != nil {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// entry returns the entry for key, creating it. Callers hold the write lock.
func (b *bucket) entry(key string) *entry {
	keys, ok := b.store.buckets[b.name]
	if !ok {
		keys = make(map[string]*entry)
		b.store.buckets[b.name] = keys
	}
	e, ok := keys[key]
	if !ok {
		e = &entry{}
		keys[key] = e
	}
	return e
}
