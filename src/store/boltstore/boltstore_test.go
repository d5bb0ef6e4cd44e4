package boltstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"syndrkit/src/store"
	"syndrkit/src/store/storetest"
)

func TestBoltStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "data.db"), time.Second, nil)
		require.NoError(t, err)
		return s
	})
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.db")
	ctx := context.Background()

	s, err := Open(path, time.Second, nil)
	require.NoError(t, err)
	b := s.Bucket("users")
	require.NoError(t, b.Put(ctx, "u1", store.Record{"name": "alice"}))
	require.NoError(t, b.SetLinks(ctx, "u1", []store.Link{{Bucket: "posts", Key: "p1", Tag: "posts"}}))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = Open(path, time.Second, nil)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Bucket("users").Get(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice", rec["name"])

	links, err := s.Bucket("users").Links(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []store.Link{{Bucket: "posts", Key: "p1", Tag: "posts"}}, links)
}
