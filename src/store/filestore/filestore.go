package filestore

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/natefinch/atomic"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"syndrkit/src/helpers"
	"syndrkit/src/store"
)

const (
	lockFileName = "LOCK"
	dataExt      = ".bson"
	filePerms    = 0o644
	dirPerms     = 0o755
)

var ErrLocked = errors.New("data directory is locked by another process")

// document is the content of one data file.
type document struct {
	Present bool           `bson:"present"`
	Record  map[string]any `bson:"record"`
	Links   []store.Link   `bson:"links"`
	Indexes []store.Index  `bson:"indexes"`
}

// Option configures Open.
type Option func(*Store)

// WithJournal appends every mutation to dated journal files under dir.
func WithJournal(dir string, maxSize int64, retentionDays int) Option {
	return func(s *Store) {
		s.journalDir = dir
		s.journalMaxSize = maxSize
		s.retentionDays = retentionDays
	}
}

// WithLockTimeout bounds how long Open waits for the directory lock.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) { s.lockTimeout = d }
}

// Store keeps one BSON file per key, one directory per bucket. Files are
// replaced atomically and the directory is locked against other processes.
type Store struct {
	mu     sync.RWMutex
	dir    string
	lock   *os.File
	logger *zap.SugaredLogger
	closed bool

	journal        *Journal
	journalDir     string
	journalMaxSize int64
	retentionDays  int
	lockTimeout    time.Duration
}

// Open locks dir, creating it if needed.
func Open(dir string, logger *zap.SugaredLogger, opts ...Option) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Store{dir: dir, logger: logger, lockTimeout: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	lock, err := acquireLock(filepath.Join(dir, lockFileName), s.lockTimeout)
	if err != nil {
		return nil, err
	}
	s.lock = lock

	if s.journalDir != "" {
		journal, err := NewJournal(filepath.Join(s.journalDir, "syndrkit.journal"), s.journalMaxSize, s.retentionDays)
		if err != nil {
			releaseLock(lock)
			return nil, err
		}
		if removed, err := journal.CleanupOldJournals(); err != nil {
			logger.Warnw("journal cleanup failed", "dir", s.journalDir, "error", err)
		} else if removed > 0 {
			logger.Infow("removed old journal files", "count", removed)
		}
		s.journal = journal
	}

	logger.Infow("opened file store", "dir", dir, "journal", s.journalDir)
	return s, nil
}

func acquireLock(path string, timeout time.Duration) (*os.File, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePerms)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}

	deadline := time.Now().Add(timeout)
	const retryInterval = 10 * time.Millisecond
	for {
		err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) || time.Now().After(deadline) {
			_ = file.Close()
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		time.Sleep(retryInterval)
	}
}

func releaseLock(file *os.File) {
	_ = unix.Flock(int(file.Fd()), unix.LOCK_UN)
	_ = file.Close()
}

func (s *Store) Bucket(name string) store.Bucket {
	return &bucket{store: s, name: name}
}

func (s *Store) Search(ctx context.Context, bucketName, query string) ([]store.Hit, error) {
	q, err := store.CompileQuery(query)
	if err != nil {
		return nil, err
	}
	candidates := make(map[string]store.Record)
	err = s.scan(ctx, bucketName, func(key string, doc *document) {
		if doc.Present {
			candidates[key] = store.Record(doc.Record)
		}
	})
	if err != nil {
		return nil, err
	}
	return q.Filter(candidates)
}

func (s *Store) IndexLookup(ctx context.Context, bucketName, field string, start, end any) ([]string, error) {
	var keys []string
	err := s.scan(ctx, bucketName, func(key string, doc *document) {
		for _, idx := range doc.Indexes {
			if idx.Field == field && store.InRange(idx.Value, start, end) {
				keys = append(keys, key)
				return
			}
		}
	})
	sort.Strings(keys)
	return keys, err
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.journal != nil {
		err = s.journal.Close()
	}
	releaseLock(s.lock)
	s.logger.Infow("closed file store", "dir", s.dir)
	return err
}

// Journal returns the operation journal, or nil when journaling is off.
func (s *Store) Journal() *Journal {
	return s.journal
}

func (s *Store) check(ctx context.Context) error {
	if err := store.CheckContext(ctx); err != nil {
		return err
	}
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// scan visits every data file of a bucket in key order.
func (s *Store) scan(ctx context.Context, bucketName string, visit func(key string, doc *document)) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return err
	}

	dir := s.bucketDir(bucketName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list bucket %s: %w", bucketName, err)
	}

	type item struct {
		key  string
		file string
	}
	var items []item
	for _, e := range entries {
		key, ok := decodeKey(e.Name())
		if e.IsDir() || !ok {
			continue
		}
		items = append(items, item{key: key, file: filepath.Join(dir, e.Name())})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].key < items[j].key })

	for _, it := range items {
		doc, err := readDocument(it.file)
		if err != nil {
			return err
		}
		if doc != nil {
			visit(it.key, doc)
		}
	}
	return nil
}

func (s *Store) bucketDir(name string) string {
	escaped := url.PathEscape(name)
	if strings.HasPrefix(escaped, ".") || escaped == "" {
		escaped = "%2E" + strings.TrimPrefix(escaped, ".")
	}
	return filepath.Join(s.dir, "buckets", escaped)
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key)) + dataExt
}

func decodeKey(name string) (string, bool) {
	if !strings.HasSuffix(name, dataExt) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, dataExt))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

// readDocument returns nil when the file does not exist.
func readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var doc document
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", path, err)
	}
	if doc.Record != nil {
		if m, ok := helpers.NormalizeBSON(doc.Record).(map[string]any); ok {
			doc.Record = m
		}
	}
	for i := range doc.Indexes {
		doc.Indexes[i].Value = helpers.NormalizeBSON(doc.Indexes[i].Value)
	}
	return &doc, nil
}

func writeDocument(path string, doc *document) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("failed to create bucket directory: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

type bucket struct {
	store *Store
	name  string
}

func (b *bucket) Name() string { return b.name }

func (b *bucket) path(key string) string {
	return filepath.Join(b.store.bucketDir(b.name), encodeKey(key))
}

func (b *bucket) read(ctx context.Context, key string) (*document, error) {
	b.store.mu.RLock()
	defer b.store.mu.RUnlock()
	if err := b.store.check(ctx); err != nil {
		return nil, err
	}
	return readDocument(b.path(key))
}

// update applies fn to the document for key under the write lock and writes
// the result back. The journal entry is written first.
func (b *bucket) update(ctx context.Context, command, key string, fn func(doc *document)) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if err := b.store.check(ctx); err != nil {
		return err
	}

	path := b.path(key)
	doc, err := readDocument(path)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &document{}
	}
	fn(doc)

	if err := b.store.record(command, b.name, key); err != nil {
		return err
	}
	return writeDocument(path, doc)
}

func (s *Store) record(command, bucket, key string) error {
	if s.journal == nil {
		return nil
	}
	if err := s.journal.AddEntry(command, bucket, key); err != nil {
		return fmt.Errorf("failed to journal %s %s/%s: %w", command, bucket, key, err)
	}
	return nil
}

func (b *bucket) Get(ctx context.Context, key string) (store.Record, error) {
	doc, err := b.read(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc == nil || !doc.Present {
		return nil, fmt.Errorf("%s/%s: %w", b.name, key, store.ErrNotFound)
	}
	if doc.Record == nil {
		return store.Record{}, nil
	}
	return store.Record(doc.Record), nil
}

func (b *bucket) Put(ctx context.Context, key string, rec store.Record) error {
	return b.update(ctx, "PUT", key, func(doc *document) {
		doc.Present = true
		doc.Record = rec.Clone()
		if doc.Record == nil {
			doc.Record = map[string]any{}
		}
	})
}

func (b *bucket) Delete(ctx context.Context, key string) error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	if err := b.store.check(ctx); err != nil {
		return err
	}
	if err := b.store.record("DELETE", b.name, key); err != nil {
		return err
	}
	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s/%s: %w", b.name, key, err)
	}
	return nil
}

func (b *bucket) Links(ctx context.Context, key string) ([]store.Link, error) {
	doc, err := b.read(ctx, key)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.Links, nil
}

func (b *bucket) SetLinks(ctx context.Context, key string, links []store.Link) error {
	return b.update(ctx, "LINKS", key, func(doc *document) {
		doc.Links = store.UniqueLinks(links)
	})
}

func (b *bucket) Indexes(ctx context.Context, key string) ([]store.Index, error) {
	doc, err := b.read(ctx, key)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.Indexes, nil
}

func (b *bucket) SetIndexes(ctx context.Context, key string, indexes []store.Index) error {
	return b.update(ctx, "INDEXES", key, func(doc *document) {
		doc.Indexes = append([]store.Index(nil), indexes...)
	})
}

func (b *bucket) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := b.store.scan(ctx, b.name, func(key string, doc *document) {
		if doc.Present {
			keys = append(keys, key)
		}
	})
	return keys, err
}
