package properties

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidateNil(t *testing.T) {
	require.True(t, String().Validate(nil))
	require.False(t, String(Required()).Validate(nil))
}

func TestStandardize(t *testing.T) {
	tests := []struct {
		name string
		prop *Property
		in   any
		want any
	}{
		{name: "string from string", prop: String(), in: "abc", want: "abc"},
		{name: "string from bytes", prop: String(), in: []byte("abc"), want: "abc"},
		{name: "string from int", prop: String(), in: 42, want: "42"},
		{name: "number from int", prop: Number(), in: 3, want: float64(3)},
		{name: "number from text", prop: Number(), in: " 2.5 ", want: 2.5},
		{name: "integer from float", prop: Integer(), in: float64(7), want: int64(7)},
		{name: "integer from text", prop: Integer(), in: "12", want: int64(12)},
		{name: "boolean from text", prop: Boolean(), in: "true", want: true},
		{name: "boolean from number", prop: Boolean(), in: 0, want: false},
		{name: "enum", prop: Enum([]any{"red", "green"}), in: "green", want: "green"},
		{name: "any", prop: Any(), in: struct{}{}, want: struct{}{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, tt.prop.Validate(tt.in))
			got, err := tt.prop.Standardize(tt.in)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestStandardizeMismatch(t *testing.T) {
	tests := []struct {
		name string
		prop *Property
		in   any
	}{
		{name: "number", prop: Number(), in: "many"},
		{name: "integer fraction", prop: Integer(), in: 1.5},
		{name: "integer overflow", prop: Integer(), in: float64(1 << 63)},
		{name: "boolean", prop: Boolean(), in: []any{}},
		{name: "datetime", prop: DateTime(), in: "yesterday"},
		{name: "enum", prop: Enum([]any{"a"}), in: "b"},
		{name: "list", prop: List(), in: "abc"},
		{name: "dict", prop: Dict(), in: []any{1}},
		{name: "reference", prop: Reference("User"), in: 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.False(t, tt.prop.Validate(tt.in))
			_, err := tt.prop.Standardize(tt.in)
			require.Error(t, err)

			var mismatchErr *TypeMismatchError
			require.True(t, errors.As(err, &mismatchErr))
			require.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestValidators(t *testing.T) {
	p := String(Validators(NoSpaces, MaxLength(5)))
	require.True(t, p.Validate("alice"))
	require.False(t, p.Validate("al ice"))
	require.False(t, p.Validate("alexandra"))

	e := String(Validators(Email))
	require.True(t, e.Validate("alice@example.com"))
	require.True(t, e.Validate(""))
	require.False(t, e.Validate("alice@"))

	u := String(Validators(URL))
	require.True(t, u.Validate("https://example.com/a?b=c"))
	require.False(t, u.Validate("example"))

	o := Any(Validators(OneOf("a", 1)))
	require.True(t, o.Validate(1))
	require.False(t, o.Validate([]any{1}))
	require.True(t, String(Validators(MinLength(2))).Validate("ab"))
}

func TestExprValidator(t *testing.T) {
	p := String(Expr(`len(value) > 3 && value != "root"`))
	require.NoError(t, p.Err())
	require.True(t, p.Validate("alice"))
	require.False(t, p.Validate("bob"))
	require.False(t, p.Validate("root"))

	n := Number(Expr(`value >= 0`))
	require.True(t, n.Validate(1.5))
	require.False(t, n.Validate(-2.0))

	bad := String(Expr(`value +`))
	require.ErrorIs(t, bad.Err(), ErrDefinition)
}

func TestDefaults(t *testing.T) {
	require.Equal(t, float64(3), Number(Default(3)).DefaultValue())
	require.Nil(t, String().DefaultValue())
	require.Equal(t, []any{}, List().DefaultValue())
	require.Equal(t, map[string]any{}, Dict().DefaultValue())
	require.Equal(t, []Ref{}, MultiReference("User").DefaultValue())

	// Mutable defaults are never shared between documents.
	p := List(Default([]any{"a"}))
	first := p.DefaultValue().([]any)
	first[0] = "changed"
	require.Equal(t, []any{"a"}, p.DefaultValue())

	calls := 0
	counter := Integer(Default(func() any { calls++; return calls }))
	require.Equal(t, int64(1), counter.DefaultValue())
	require.Equal(t, int64(2), counter.DefaultValue())

	now := time.Now().UTC()
	dt := DateTime().DefaultValue().(time.Time)
	require.WithinDuration(t, now, dt, time.Second)
}

func TestFromStoreAbsentUsesDefault(t *testing.T) {
	p := String(Default("guest"))
	got, err := p.FromStore(nil)
	require.NoError(t, err)
	require.Equal(t, "guest", got)
}

func TestDateTimeWire(t *testing.T) {
	p := DateTime()
	in := time.Date(2024, 3, 1, 12, 30, 0, 500, time.FixedZone("x", 3600))

	std, err := p.Standardize(in)
	require.NoError(t, err)
	wire, err := p.ToStore(std)
	require.NoError(t, err)
	require.Equal(t, "2024-03-01T11:30:00.0000005Z", wire)

	back, err := p.FromStore(wire)
	require.NoError(t, err)
	require.True(t, in.Equal(back.(time.Time)))

	fromUnix, err := p.Standardize(int64(0))
	require.NoError(t, err)
	require.True(t, time.Unix(0, 0).Equal(fromUnix.(time.Time)))
}

func TestEnumWire(t *testing.T) {
	p := Enum([]any{"draft", "published"})
	wire, err := p.ToStore("published")
	require.NoError(t, err)
	require.Equal(t, int64(1), wire)

	back, err := p.FromStore(int32(1))
	require.NoError(t, err)
	require.Equal(t, "published", back)

	_, err = p.FromStore(int64(5))
	require.ErrorIs(t, err, ErrTypeMismatch)
	require.False(t, p.Validate([]any{"draft"}))
}

func TestEmbedded(t *testing.T) {
	address := Embedded(map[string]*Property{
		"city": String(Required()),
		"zip":  Integer(Default(0)),
	})

	require.True(t, address.Validate(map[string]any{"city": "Oslo"}))
	require.False(t, address.Validate(map[string]any{"zip": "abc"}))

	std, err := address.Standardize(map[string]any{"city": "Oslo", "extra": true})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"city": "Oslo", "zip": int64(0), "extra": true}, std)

	_, err = address.ToStore(map[string]any{"zip": 1})
	require.ErrorIs(t, err, ErrValidation)

	list := EmbeddedList(map[string]*Property{"n": Integer()})
	got, err := list.Standardize([]any{map[string]any{"n": "4"}})
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"n": int64(4)}}, got)
	require.Equal(t, KindList, list.Kind())
}

type fakeReferent struct{ class, key string }

func (f fakeReferent) ClassName() string { return f.class }
func (f fakeReferent) Key() string       { return f.key }

func TestReference(t *testing.T) {
	p := Reference("User", WithCollection("comments"))
	require.True(t, p.IsReference())
	require.Equal(t, "comments", p.Collection())

	got, err := p.Standardize(fakeReferent{class: "User", key: "u1"})
	require.NoError(t, err)
	require.Equal(t, NewRef("User", "u1"), got)

	got, err = p.Standardize("u2")
	require.NoError(t, err)
	require.Equal(t, NewRef("User", "u2"), got)

	require.False(t, p.Validate(fakeReferent{class: "Post", key: "p1"}))

	admin := p.WithClassResolver(func(class string) bool { return class == "User" || class == "Admin" })
	require.True(t, admin.Validate(fakeReferent{class: "Admin", key: "a1"}))
	require.False(t, p.Validate(fakeReferent{class: "Admin", key: "a1"}))

	wire, err := p.ToStore(NewRef("User", "u1"))
	require.NoError(t, err)
	require.Equal(t, "u1", wire)

	back, err := p.FromStore("u1")
	require.NoError(t, err)
	require.Equal(t, NewRef("User", "u1"), back)
}

func TestMultiReference(t *testing.T) {
	p := MultiReference("B", WithCollection("owner_of"))

	got, err := p.Standardize([]any{"b1", NewRef("B", "b2"), "b1"})
	require.NoError(t, err)
	require.Equal(t, []Ref{NewRef("B", "b1"), NewRef("B", "b2")}, got)

	wire, err := p.ToStore(got)
	require.NoError(t, err)
	require.Equal(t, []any{"b1", "b2"}, wire)

	back, err := p.FromStore([]any{"b1", "b2"})
	require.NoError(t, err)
	require.Equal(t, got, back)

	refs := got.([]Ref)
	require.True(t, ContainsKey(refs, "b2"))
	require.Equal(t, []Ref{NewRef("B", "b1")}, RemoveKey(refs, "b2"))
}

func TestBackReferenceNeverStored(t *testing.T) {
	p := BackReference("Comment", "author")
	require.Equal(t, KindBackReference, p.Kind())
	require.Equal(t, "Comment", p.Target())
	require.Equal(t, "author", p.SourceField())

	wire, err := p.ToStore([]Ref{NewRef("Comment", "c1")})
	require.NoError(t, err)
	require.Nil(t, wire)
}

type plainHasher struct{}

func (plainHasher) Hash(plain string) (map[string]any, error) {
	return map[string]any{"hash": "x" + plain}, nil
}

func (plainHasher) Verify(plain string, record map[string]any) bool {
	return record["hash"] == "x"+plain
}

func TestPassword(t *testing.T) {
	p := Password(plainHasher{}, Required())
	require.False(t, p.Validate(""))

	std, err := p.Standardize("secret")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"hash": "xsecret"}, std)

	// An already hashed record is kept as is.
	again, err := p.Standardize(std)
	require.NoError(t, err)
	assert.Equal(t, std, again)

	require.True(t, p.CheckPassword("secret", std))
	require.False(t, p.CheckPassword("guess", std))
}

func TestRoundTripLaw(t *testing.T) {
	roundTrip := func(t *rapid.T, p *Property, v any) (any, any) {
		std, err := p.Standardize(v)
		if err != nil {
			t.Fatalf("standardize %v: %v", v, err)
		}
		wire, err := p.ToStore(std)
		if err != nil {
			t.Fatalf("to store %v: %v", std, err)
		}
		back, err := p.FromStore(wire)
		if err != nil {
			t.Fatalf("from store %v: %v", wire, err)
		}
		return std, back
	}

	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		std, back := roundTrip(t, String(), s)
		if std != back {
			t.Fatalf("string: %v != %v", std, back)
		}

		f := rapid.Float64Range(-1e12, 1e12).Draw(t, "f")
		std, back = roundTrip(t, Number(), f)
		if std != back {
			t.Fatalf("number: %v != %v", std, back)
		}

		i := rapid.Int64().Draw(t, "i")
		std, back = roundTrip(t, Integer(), i)
		if std != back {
			t.Fatalf("integer: %v != %v", std, back)
		}

		secs := rapid.Int64Range(0, 4102444800).Draw(t, "secs")
		nanos := rapid.Int64Range(0, 999999999).Draw(t, "nanos")
		std, back = roundTrip(t, DateTime(), time.Unix(secs, nanos))
		if !std.(time.Time).Equal(back.(time.Time)) {
			t.Fatalf("datetime: %v != %v", std, back)
		}

		keys := rapid.SliceOfN(rapid.StringMatching(`[a-z0-9]{1,8}`), 0, 5).Draw(t, "keys")
		items := make([]any, len(keys))
		for n, k := range keys {
			items[n] = k
		}
		std, back = roundTrip(t, MultiReference("B"), items)
		if !refsEqual(std.([]Ref), back.([]Ref)) {
			t.Fatalf("multi-reference: %v != %v", std, back)
		}

		choice := rapid.IntRange(0, 2).Draw(t, "choice")
		values := []any{"a", "b", "c"}
		std, back = roundTrip(t, Enum(values), values[choice])
		if std != back {
			t.Fatalf("enum: %v != %v", std, back)
		}
	})
}

func refsEqual(a, b []Ref) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
