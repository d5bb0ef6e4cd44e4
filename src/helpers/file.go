package helpers

import (
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileExists checks if a file exists and is not a directory
func FileExists(filename string) (bool, error) {
	info, err := os.Stat(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("error checking file %s for existence: %w", filename, err)
	}

	return !info.IsDir(), nil
}

// EncodeBSON encodes a map into a BSON document.
func EncodeBSON(data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	bsonData, err := bson.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("error encoding BSON: %w", err)
	}
	return bsonData, nil
}

// DecodeBSON decodes a BSON document back into plain Go values. Nested
// documents come back as map[string]any and arrays as []any so callers never
// see driver specific types.
func DecodeBSON(bsonData []byte) (map[string]any, error) {
	var decoded map[string]any
	if err := bson.Unmarshal(bsonData, &decoded); err != nil {
		return nil, fmt.Errorf("error decoding BSON: %w", err)
	}

	out := make(map[string]any, len(decoded))
	for k, v := range decoded {
		out[k] = NormalizeBSON(v)
	}
	return out, nil
}

// NormalizeBSON converts driver primitives into the plain values used by
// records: documents to maps, arrays to slices, int32 to int64 and BSON
// datetimes to UTC times.
func NormalizeBSON(v any) any {
	switch t := v.(type) {
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = NormalizeBSON(e.Value)
		}
		return m
	case primitive.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = NormalizeBSON(e)
		}
		return m
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = NormalizeBSON(e)
		}
		return m
	case primitive.A:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = NormalizeBSON(e)
		}
		return s
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = NormalizeBSON(e)
		}
		return s
	case int32:
		return int64(t)
	case int:
		return int64(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case primitive.Null, primitive.Undefined:
		return nil
	default:
		return v
	}
}
