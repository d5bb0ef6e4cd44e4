package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"math"

	"golang.org/x/crypto/argon2"
)

const MethodArgon2id = "argon2id"

// PasswordHash is the decoded form of a stored password record.
type PasswordHash struct {
	Hash    []byte
	Salt    []byte
	Method  string // "argon2id"
	Time    uint32 // time parameter for Argon2
	Memory  uint32 // memory parameter in KiB
	Threads uint8  // threads parameter
	KeyLen  uint32 // length of the hash in bytes
}

// Argon2Hasher hashes password fields with argon2id.
type Argon2Hasher struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int

	rand io.Reader
}

func NewArgon2Hasher() *Argon2Hasher {
	return &Argon2Hasher{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
		rand:    rand.Reader,
	}
}

// Hash salts and hashes plain and returns the record to store.
func (h *Argon2Hasher) Hash(plain string) (map[string]any, error) {
	r := h.rand
	if r == nil {
		r = rand.Reader
	}
	salt := make([]byte, h.SaltLen)
	if _, err := io.ReadFull(r, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	ph := PasswordHash{
		Hash:    argon2.IDKey([]byte(plain), salt, h.Time, h.Memory, h.Threads, h.KeyLen),
		Salt:    salt,
		Method:  MethodArgon2id,
		Time:    h.Time,
		Memory:  h.Memory,
		Threads: h.Threads,
		KeyLen:  h.KeyLen,
	}
	return ph.Record(), nil
}

// Verify hashes plain with the parameters and salt of record and compares
// the result in constant time.
func (h *Argon2Hasher) Verify(plain string, record map[string]any) bool {
	ph, err := ParseRecord(record)
	if err != nil {
		return false
	}
	hash := argon2.IDKey([]byte(plain), ph.Salt, ph.Time, ph.Memory, ph.Threads, ph.KeyLen)
	return SlowEqual(hash, ph.Hash)
}

// Record encodes the hash as a JSON compatible map.
func (ph PasswordHash) Record() map[string]any {
	return map[string]any{
		"hash":    base64.StdEncoding.EncodeToString(ph.Hash),
		"salt":    base64.StdEncoding.EncodeToString(ph.Salt),
		"method":  ph.Method,
		"time":    int64(ph.Time),
		"memory":  int64(ph.Memory),
		"threads": int64(ph.Threads),
		"keylen":  int64(ph.KeyLen),
	}
}

// ParseRecord decodes a stored password record.
func ParseRecord(record map[string]any) (PasswordHash, error) {
	var ph PasswordHash
	method, _ := record["method"].(string)
	if method != MethodArgon2id {
		return ph, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	ph.Method = method

	var err error
	if ph.Hash, err = decodeBytes(record, "hash"); err != nil {
		return ph, err
	}
	if ph.Salt, err = decodeBytes(record, "salt"); err != nil {
		return ph, err
	}

	params := map[string]uint64{}
	for _, name := range []string{"time", "memory", "threads", "keylen"} {
		n, ok := toUint(record[name])
		if !ok {
			return ph, fmt.Errorf("%w: bad %s", ErrBadRecord, name)
		}
		params[name] = n
	}
	if params["threads"] == 0 || params["threads"] > 255 || params["keylen"] == 0 {
		return ph, fmt.Errorf("%w: bad parameters", ErrBadRecord)
	}
	ph.Time = uint32(params["time"])
	ph.Memory = uint32(params["memory"])
	ph.Threads = uint8(params["threads"])
	ph.KeyLen = uint32(params["keylen"])
	return ph, nil
}

func decodeBytes(record map[string]any, name string) ([]byte, error) {
	s, ok := record[name].(string)
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrBadRecord, name)
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBadRecord, name, err)
	}
	return b, nil
}

// toUint accepts the integer shapes a record can come back with from the
// different stores.
func toUint(v any) (uint64, bool) {
	switch t := v.(type) {
	case int:
		return uint64(t), t >= 0 && int64(t) <= math.MaxUint32
	case int32:
		return uint64(t), t >= 0
	case int64:
		return uint64(t), t >= 0 && t <= math.MaxUint32
	case uint32:
		return uint64(t), true
	case float64:
		return uint64(t), t >= 0 && t <= math.MaxUint32 && t == float64(uint64(t))
	}
	return 0, false
}

// Constant-time comparison to prevent timing attacks
func SlowEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}

	return result == 0
}
