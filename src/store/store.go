package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound = errors.New("key not found")
	ErrClosed   = errors.New("store is closed")
	ErrBadQuery = errors.New("invalid query")
)

// Record is the flat JSON compatible value stored under one key.
type Record map[string]any

// Clone copies the record and every nested map or slice.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Record:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// Link is named metadata pointing from one key to a key in another bucket.
type Link struct {
	Bucket string `bson:"bucket" json:"bucket"`
	Key    string `bson:"key" json:"key"`
	Tag    string `bson:"tag" json:"tag"`
}

func (l Link) String() string {
	return fmt.Sprintf("%s/%s#%s", l.Bucket, l.Key, l.Tag)
}

// Index is one secondary index entry.
type Index struct {
	Field string `bson:"field" json:"field"`
	Value any    `bson:"value" json:"value"`
}

// Hit is one search result.
type Hit struct {
	Key    string
	Record Record
}

// Bucket is one keyspace of the store. Every call is atomic for its key and
// nothing more.
type Bucket interface {
	Name() string
	Get(ctx context.Context, key string) (Record, error)
	Put(ctx context.Context, key string, rec Record) error
	// Delete removes the record with its links and indexes. A missing key is
	// not an error.
	Delete(ctx context.Context, key string) error
	Links(ctx context.Context, key string) ([]Link, error)
	SetLinks(ctx context.Context, key string, links []Link) error
	Indexes(ctx context.Context, key string) ([]Index, error)
	SetIndexes(ctx context.Context, key string, indexes []Index) error
	Keys(ctx context.Context) ([]string, error)
}

// Store is the key/value collaborator the engine persists documents into.
type Store interface {
	Bucket(name string) Bucket
	// Search returns the records of bucket matching query, ordered by key.
	Search(ctx context.Context, bucket, query string) ([]Hit, error)
	// IndexLookup returns the keys whose index entry for field lies in
	// [start, end]. A nil end asks for an exact match on start.
	IndexLookup(ctx context.Context, bucket, field string, start, end any) ([]string, error)
	Close() error
}

// SortLinks orders links so that stored sets compare equal.
func SortLinks(links []Link) []Link {
	out := append([]Link(nil), links...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bucket != out[j].Bucket {
			return out[i].Bucket < out[j].Bucket
		}
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// UniqueLinks drops repeated links and sorts the rest.
func UniqueLinks(links []Link) []Link {
	seen := make(map[Link]bool, len(links))
	out := make([]Link, 0, len(links))
	for _, l := range links {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return SortLinks(out)
}

// CheckContext returns a wrapped error once ctx is done. Implementations call
// it before each operation.
func CheckContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("store call cancelled: %w", err)
	}
	return nil
}
