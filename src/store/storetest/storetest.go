// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"syndrkit/src/store"
)

// Run exercises a fresh store returned by open. The store is closed by Run.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		_, err := s.Bucket("users").Get(context.Background(), "nobody")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("PutGetDelete", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		b := s.Bucket("users")

		rec := store.Record{
			"name":  "alice",
			"age":   float64(30),
			"count": int64(4),
			"tags":  []any{"a", "b"},
			"meta":  map[string]any{"admin": true},
			"none":  nil,
		}
		require.NoError(t, b.Put(ctx, "k1", rec))

		// Callers cannot alias stored data.
		rec["name"] = "mallory"

		got, err := b.Get(ctx, "k1")
		require.NoError(t, err)
		want := store.Record{
			"name":  "alice",
			"age":   float64(30),
			"count": int64(4),
			"tags":  []any{"a", "b"},
			"meta":  map[string]any{"admin": true},
			"none":  nil,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("record mismatch (-want +got):\n%s", diff)
		}

		got["name"] = "changed"
		again, err := b.Get(ctx, "k1")
		require.NoError(t, err)
		require.Equal(t, "alice", again["name"])

		keys, err := b.Keys(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"k1"}, keys)

		require.NoError(t, b.Delete(ctx, "k1"))
		require.NoError(t, b.Delete(ctx, "k1"))
		_, err = b.Get(ctx, "k1")
		require.ErrorIs(t, err, store.ErrNotFound)

		keys, err = b.Keys(ctx)
		require.NoError(t, err)
		require.Empty(t, keys)
	})

	t.Run("LinksAndIndexes", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		b := s.Bucket("comments")

		require.NoError(t, b.Put(ctx, "c1", store.Record{"body": "hi"}))
		links := []store.Link{
			{Bucket: "users", Key: "u1", Tag: "author"},
			{Bucket: "posts", Key: "p1", Tag: "post"},
			{Bucket: "users", Key: "u1", Tag: "author"},
		}
		require.NoError(t, b.SetLinks(ctx, "c1", links))

		got, err := b.Links(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []store.Link{
			{Bucket: "posts", Key: "p1", Tag: "post"},
			{Bucket: "users", Key: "u1", Tag: "author"},
		}, got)

		require.NoError(t, b.SetIndexes(ctx, "c1", []store.Index{{Field: "score", Value: int64(5)}}))
		idx, err := b.Indexes(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, []store.Index{{Field: "score", Value: int64(5)}}, idx)

		require.NoError(t, b.Delete(ctx, "c1"))
		got, err = b.Links(ctx, "c1")
		require.NoError(t, err)
		require.Empty(t, got)
		idx, err = b.Indexes(ctx, "c1")
		require.NoError(t, err)
		require.Empty(t, idx)
	})

	t.Run("SearchAndIndexLookup", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		ctx := context.Background()
		b := s.Bucket("users")

		for key, age := range map[string]int64{"a": 20, "b": 35, "c": 50} {
			require.NoError(t, b.Put(ctx, key, store.Record{"age": age, "name": key}))
			require.NoError(t, b.SetIndexes(ctx, key, []store.Index{
				{Field: "age", Value: age},
				{Field: "name", Value: key},
			}))
		}

		hits, err := s.Search(ctx, "users", "age > 30")
		require.NoError(t, err)
		require.Len(t, hits, 2)
		require.Equal(t, "b", hits[0].Key)
		require.Equal(t, "c", hits[1].Key)
		require.Equal(t, "c", hits[1].Record["name"])

		hits, err = s.Search(ctx, "users", `key == "a"`)
		require.NoError(t, err)
		require.Len(t, hits, 1)

		all, err := s.Search(ctx, "users", "")
		require.NoError(t, err)
		require.Len(t, all, 3)

		_, err = s.Search(ctx, "users", "age >")
		require.ErrorIs(t, err, store.ErrBadQuery)

		keys, err := s.IndexLookup(ctx, "users", "age", 30, 50)
		require.NoError(t, err)
		require.Equal(t, []string{"b", "c"}, keys)

		keys, err = s.IndexLookup(ctx, "users", "name", "a", nil)
		require.NoError(t, err)
		require.Equal(t, []string{"a"}, keys)
	})

	t.Run("CancelledContext", func(t *testing.T) {
		s := open(t)
		defer s.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := s.Bucket("users").Put(ctx, "k", store.Record{})
		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("Closed", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Close())

		_, err := s.Bucket("users").Get(context.Background(), "k")
		require.ErrorIs(t, err, store.ErrClosed)
	})
}
