package auth

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"syndrkit/src/helpers"
	"syndrkit/src/properties"
)

func testHasher() *Argon2Hasher {
	h := NewArgon2Hasher()
	h.Memory = 1024
	h.Threads = 1
	return h
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher()
	rec, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.Equal(t, MethodArgon2id, rec["method"])
	assert.NotContains(t, rec, "password")

	assert.True(t, h.Verify("hunter2", rec))
	assert.False(t, h.Verify("hunter3", rec))

	other, err := h.Hash("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, rec["salt"], other["salt"])
}

func TestVerifyAfterStoreRoundTrip(t *testing.T) {
	h := testHasher()
	rec, err := h.Hash("s3cret")
	require.NoError(t, err)

	raw, err := helpers.EncodeBSON(map[string]any{"password": rec})
	require.NoError(t, err)
	back, err := helpers.DecodeBSON(raw)
	require.NoError(t, err)

	stored, ok := back["password"].(map[string]any)
	require.True(t, ok)
	assert.True(t, h.Verify("s3cret", stored))

	// JSON decoding yields float64 parameters.
	stored["time"] = float64(1)
	assert.True(t, h.Verify("s3cret", stored))
}

func TestParseRecord(t *testing.T) {
	h := testHasher()
	h.rand = bytes.NewReader(bytes.Repeat([]byte{7}, 16))
	rec, err := h.Hash("pw")
	require.NoError(t, err)

	ph, err := ParseRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{7}, 16), ph.Salt)
	assert.Equal(t, uint32(1024), ph.Memory)
	assert.Equal(t, uint8(1), ph.Threads)
	assert.Len(t, ph.Hash, 32)

	_, err = ParseRecord(map[string]any{"method": "md5"})
	require.ErrorIs(t, err, ErrUnsupportedMethod)

	broken := ph.Record()
	broken["salt"] = "***"
	_, err = ParseRecord(broken)
	require.ErrorIs(t, err, ErrBadRecord)
	assert.False(t, h.Verify("pw", broken))

	broken = ph.Record()
	broken["threads"] = int64(0)
	_, err = ParseRecord(broken)
	require.ErrorIs(t, err, ErrBadRecord)
}

func TestPasswordProperty(t *testing.T) {
	p := properties.Password(testHasher(), properties.Required())
	require.True(t, p.Validate("letmein"))
	require.False(t, p.Validate(""))

	v, err := p.Standardize("letmein")
	require.NoError(t, err)
	rec, ok := v.(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, rec, "letmein")

	assert.True(t, p.CheckPassword("letmein", v))
	assert.False(t, p.CheckPassword("letmeout", v))
}

func TestSlowEqual(t *testing.T) {
	assert.True(t, SlowEqual([]byte("abc"), []byte("abc")))
	assert.False(t, SlowEqual([]byte("abc"), []byte("abd")))
	assert.False(t, SlowEqual([]byte("abc"), []byte("ab")))
}
