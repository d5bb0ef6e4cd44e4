package boltstore

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.etcd.io/bbolt"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"syndrkit/src/helpers"
	"syndrkit/src/store"
)

var (
	// recordsBucket holds the BSON encoded record of every key, nested
	// under the top level bucket named after the store bucket.
	recordsBucket = []byte("records")

	// linksBucket holds the link set of every key.
	linksBucket = []byte("links")

	// indexesBucket holds the secondary index entries of every key.
	indexesBucket = []byte("indexes")
)

// Store keeps every store bucket in one bbolt file.
type Store struct {
	db     *bbolt.DB
	path   string
	logger *zap.SugaredLogger
	closed atomic.Bool
}

type linkSet struct {
	Links []store.Link `bson:"links"`
}

type indexSet struct {
	Indexes []store.Index `bson:"indexes"`
}

// Open opens or creates the bbolt file at path.
func Open(path string, timeout time.Duration, logger *zap.SugaredLogger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if timeout <= 0 {
		timeout = time.Second
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}
	logger.Infow("opened bolt store", "path", path)
	return &Store{db: db, path: path, logger: logger}, nil
}

func (s *Store) Bucket(name string) store.Bucket {
	return &bucket{store: s, name: []byte(name)}
}

func (s *Store) Search(ctx context.Context, bucketName, query string) ([]store.Hit, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	q, err := store.CompileQuery(query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]store.Record)
	err = s.db.View(func(tx *bbolt.Tx) error {
		records := nested(tx, []byte(bucketName), recordsBucket)
		if records == nil {
			return nil
		}
		return records.ForEach(func(k, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("%s/%s: %w", bucketName, k, err)
			}
			candidates[string(k)] = rec
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return q.Filter(candidates)
}

func (s *Store) IndexLookup(ctx context.Context, bucketName, field string, start, end any) ([]string, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		indexes := nested(tx, []byte(bucketName), indexesBucket)
		if indexes == nil {
			return nil
		}
		return indexes.ForEach(func(k, v []byte) error {
			set, err := decodeIndexes(v)
			if err != nil {
				return err
			}
			for _, idx := range set {
				if idx.Field == field && store.InRange(idx.Value, start, end) {
					keys = append(keys, string(k))
					break
				}
			}
			return nil
		})
	})
	return keys, err
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Infow("closing bolt store", "path", s.path)
	return s.db.Close()
}

func (s *Store) check(ctx context.Context) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}
	if s.closed.Load() {
		return store.ErrClosed
	}
	return nil
}

// nested returns the child bucket of a store bucket, or nil when either is
// missing.
func nested(tx *bbolt.Tx, name, child []byte) *bbolt.Bucket {
	top := tx.Bucket(name)
	if top == nil {
		return nil
	}
	return top.Bucket(child)
}

// create returns the child bucket of a store bucket, creating both.
func create(tx *bbolt.Tx, name, child []byte) (*bbolt.Bucket, error) {
	top, err := tx.CreateBucketIfNotExists(name)
	if err != nil {
		return nil, err
	}
	return top.CreateBucketIfNotExists(child)
}

type bucket struct {
	store *Store
	name  []byte
}

func (b *bucket) Name() string { return string(b.name) }

func (b *bucket) Get(ctx context.Context, key string) (store.Record, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	var rec store.Record
	err := b.store.db.View(func(tx *bbolt.Tx) error {
		records := nested(tx, b.name, recordsBucket)
		if records == nil {
			return store.ErrNotFound
		}
		v := records.Get([]byte(key))
		if v == nil {
			return store.ErrNotFound
		}
		var err error
		rec, err = decodeRecord(v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", b.name, key, err)
	}
	return rec, nil
}

func (b *bucket) Put(ctx context.Context, key string, rec store.Record) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	data, err := helpers.EncodeBSON(rec)
	if err != nil {
		return err
	}
	return b.store.db.Update(func(tx *bbolt.Tx) error {
		records, err := create(tx, b.name, recordsBucket)
		if err != nil {
			return err
		}
		return records.Put([]byte(key), data)
	})
}

func (b *bucket) Delete(ctx context.Context, key string) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	return b.store.db.Update(func(tx *bbolt.Tx) error {
		for _, child := range [][]byte{recordsBucket, linksBucket, indexesBucket} {
			if sub := nested(tx, b.name, child); sub != nil {
				if err := sub.Delete([]byte(key)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (b *bucket) Links(ctx context.Context, key string) ([]store.Link, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	var links []store.Link
	err := b.store.db.View(func(tx *bbolt.Tx) error {
		sub := nested(tx, b.name, linksBucket)
		if sub == nil {
			return nil
		}
		v := sub.Get([]byte(key))
		if v == nil {
			return nil
		}
		var set linkSet
		if err := bson.Unmarshal(v, &set); err != nil {
			return fmt.Errorf("error decoding links: %w", err)
		}
		links = set.Links
		return nil
	})
	return links, err
}

func (b *bucket) SetLinks(ctx context.Context, key string, links []store.Link) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	data, err := bson.Marshal(linkSet{Links: store.UniqueLinks(links)})
	if err != nil {
		return fmt.Errorf("error encoding links: %w", err)
	}
	return b.store.db.Update(func(tx *bbolt.Tx) error {
		sub, err := create(tx, b.name, linksBucket)
		if err != nil {
			return err
		}
		return sub.Put([]byte(key), data)
	})
}

func (b *bucket) Indexes(ctx context.Context, key string) ([]store.Index, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	var indexes []store.Index
	err := b.store.db.View(func(tx *bbolt.Tx) error {
		sub := nested(tx, b.name, indexesBucket)
		if sub == nil {
			return nil
		}
		v := sub.Get([]byte(key))
		if v == nil {
			return nil
		}
		var err error
		indexes, err = decodeIndexes(v)
		return err
	})
	return indexes, err
}

func (b *bucket) SetIndexes(ctx context.Context, key string, indexes []store.Index) error {
	if err := b.store.check(ctx); err != nil {
		return err
	}
	data, err := bson.Marshal(indexSet{Indexes: indexes})
	if err != nil {
		return fmt.Errorf("error encoding indexes: %w", err)
	}
	return b.store.db.Update(func(tx *bbolt.Tx) error {
		sub, err := create(tx, b.name, indexesBucket)
		if err != nil {
			return err
		}
		return sub.Put([]byte(key), data)
	})
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	var keys []string
	err := b.store.db.View(func(tx *bbolt.Tx) error {
		records := nested(tx, b.name, recordsBucket)
		if records == nil {
			return nil
		}
		return records.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

func decodeRecord(v []byte) (store.Record, error) {
	m, err := helpers.DecodeBSON(v)
	if err != nil {
		return nil, err
	}
	return store.Record(m), nil
}

func decodeIndexes(v []byte) ([]store.Index, error) {
	var set indexSet
	if err := bson.Unmarshal(v, &set); err != nil {
		return nil, fmt.Errorf("error decoding indexes: %w", err)
	}
	for i := range set.Indexes {
		set.Indexes[i].Value = helpers.NormalizeBSON(set.Indexes[i].Value)
	}
	return set.Indexes, nil
}
