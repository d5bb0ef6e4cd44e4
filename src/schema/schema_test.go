package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"syndrkit/src/properties"
)

func TestCompileClosestAncestorWins(t *testing.T) {
	base, err := Compile(Definition{
		Name:     "Base",
		Abstract: true,
		Fields: map[string]*properties.Property{
			"title": properties.String(),
			"score": properties.Number(),
		},
	})
	require.NoError(t, err)
	require.Empty(t, base.Bucket())

	mid, err := Compile(Definition{
		Name:    "Mid",
		Parents: []*Schema{base},
		Fields: map[string]*properties.Property{
			"score": properties.Integer(),
		},
	})
	require.NoError(t, err)

	other, err := Compile(Definition{
		Name:    "Other",
		Parents: []*Schema{base},
		Fields: map[string]*properties.Property{
			"title": properties.Boolean(),
		},
	})
	require.NoError(t, err)

	leaf, err := Compile(Definition{
		Name:    "Leaf",
		Parents: []*Schema{mid, other},
		Fields: map[string]*properties.Property{
			"extra": properties.List(),
		},
	})
	require.NoError(t, err)

	require.Equal(t, []string{"extra", "score", "title"}, leaf.Fields())
	require.Equal(t, []string{"Mid", "Other", "Base"}, leaf.Ancestors())

	score, _ := leaf.Field("score")
	require.Equal(t, "integer", score.TypeName())
	title, _ := leaf.Field("title")
	require.Equal(t, "boolean", title.TypeName())

	require.True(t, leaf.IsA("Base"))
	require.False(t, mid.IsA("Other"))
	require.Equal(t, "Leaf", leaf.Bucket())
	require.Len(t, leaf.Declared(), 1)
}

func TestCompileClassifiesFields(t *testing.T) {
	s, err := Compile(Definition{
		Name:   "Post",
		Bucket: "posts",
		Fields: map[string]*properties.Property{
			"slug":   properties.String(properties.Unique(), properties.Indexed()),
			"author": properties.Reference("User"),
			"tags":   properties.MultiReference("Tag"),
			"body":   properties.String(),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "posts", s.Bucket())
	require.Equal(t, []string{"slug"}, s.UniqueFields())
	require.Equal(t, []string{"slug"}, s.IndexedFields())
	require.Equal(t, []string{"author", "tags"}, s.ReferenceFields())
	require.Equal(t, []string{"body", "slug"}, s.PlainFields())
	require.Empty(t, s.BackReferenceFields())
}

func TestCompileRejectsBadFields(t *testing.T) {
	_, err := Compile(Definition{Name: ""})
	require.ErrorIs(t, err, ErrEmptyName)

	_, err = Compile(Definition{
		Name:   "Bad",
		Fields: map[string]*properties.Property{"x": properties.String(properties.Expr("value +"))},
	})
	require.ErrorIs(t, err, properties.ErrDefinition)

	_, err = Compile(Definition{
		Name:   "Bad",
		Fields: map[string]*properties.Property{"x": properties.BackReference("A", "b")},
	})
	require.ErrorIs(t, err, ErrBadField)

	_, err = Compile(Definition{
		Name:     "Address",
		Embedded: true,
		Fields: map[string]*properties.Property{
			"owner": properties.Reference("User", properties.WithCollection("addresses")),
		},
	})
	require.ErrorIs(t, err, ErrBadField)
}

func TestRegistryBackReferences(t *testing.T) {
	r := NewRegistry(nil)
	user := r.MustDefine(Definition{
		Name: "User",
		Fields: map[string]*properties.Property{
			"username": properties.String(properties.Unique()),
		},
	})
	admin := r.MustDefine(Definition{Name: "Admin", Parents: []*Schema{user}})

	_, err := r.Define(Definition{
		Name: "Comment",
		Fields: map[string]*properties.Property{
			"author": properties.Reference("User", properties.WithCollection("comments")),
		},
	})
	require.NoError(t, err)

	comments, ok := user.Field("comments")
	require.True(t, ok)
	require.Equal(t, properties.KindBackReference, comments.Kind())
	require.Equal(t, "Comment", comments.Target())
	require.Equal(t, "author", comments.SourceField())
	require.Equal(t, []string{"comments"}, user.BackReferenceFields())

	// Subclasses see the collection too.
	require.True(t, admin.Has("comments"))

	// References accept subclasses of their target.
	c, _ := r.Lookup("Comment")
	author, _ := c.Field("author")
	require.True(t, author.AcceptsClass("Admin"))
	require.False(t, author.AcceptsClass("Comment"))

	s, ok := r.ByBucket("User")
	require.True(t, ok)
	require.Same(t, user, s)
	require.Equal(t, []string{"Admin", "Comment", "User"}, r.Names())
}

func TestRegistryErrors(t *testing.T) {
	r := NewRegistry(nil)
	r.MustDefine(Definition{
		Name: "User",
		Fields: map[string]*properties.Property{
			"name": properties.String(),
		},
	})

	_, err := r.Define(Definition{Name: "User"})
	require.ErrorIs(t, err, ErrDuplicateClass)

	_, err = r.Define(Definition{Name: "Person", Bucket: "User"})
	require.ErrorIs(t, err, ErrDuplicateBucket)

	_, err = r.Define(Definition{
		Name: "Post",
		Fields: map[string]*properties.Property{
			"author": properties.Reference("Writer", properties.WithCollection("posts")),
		},
	})
	require.ErrorIs(t, err, ErrUnknownTarget)
	_, ok := r.Lookup("Post")
	require.False(t, ok)

	_, err = r.Define(Definition{
		Name: "Badge",
		Fields: map[string]*properties.Property{
			"holder": properties.Reference("User", properties.WithCollection("name")),
		},
	})
	require.ErrorIs(t, err, ErrCollectionConflict)

	_, err = r.Define(Definition{
		Name: "Like",
		Fields: map[string]*properties.Property{
			"by":   properties.Reference("User", properties.WithCollection("likes")),
			"also": properties.MultiReference("User", properties.WithCollection("likes")),
		},
	})
	require.ErrorIs(t, err, ErrCollectionConflict)

	r.MustDefine(Definition{
		Name: "Follow",
		Fields: map[string]*properties.Property{
			"of": properties.Reference("User", properties.WithCollection("followers")),
		},
	})
	_, err = r.Define(Definition{
		Name: "Fan",
		Fields: map[string]*properties.Property{
			"of": properties.Reference("User", properties.WithCollection("followers")),
		},
	})
	require.ErrorIs(t, err, ErrCollectionConflict)
}

func TestRegistrySelfReference(t *testing.T) {
	r := NewRegistry(nil)
	node := r.MustDefine(Definition{
		Name: "Node",
		Fields: map[string]*properties.Property{
			"parent": properties.Reference("Node", properties.WithCollection("children")),
		},
	})
	require.Equal(t, []string{"children"}, node.BackReferenceFields())
}

func TestEmbeddedSchemaAsProperty(t *testing.T) {
	r := NewRegistry(nil)
	address := r.MustDefine(Definition{
		Name:     "Address",
		Embedded: true,
		Fields: map[string]*properties.Property{
			"city": properties.String(properties.Required()),
		},
	})
	require.Empty(t, address.Bucket())

	p := address.AsProperty()
	require.Equal(t, properties.KindEmbedded, p.Kind())
	require.True(t, p.Validate(map[string]any{"city": "Oslo"}))
	require.Contains(t, p.Fields(), "city")
}
