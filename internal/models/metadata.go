package models

import (
	"fmt"
	"slices"
	"sort"
)

// Well-known metadata keys.
const (
	KeyType          = "type"
	KeyContentLength = "content_length"
	KeySiloType      = "silo_type"
	KeySuccess       = "success"
	KeyApproved      = "approved"
	KeyRecordName    = "record_name"
	KeySource        = "source"
	KeyUpdatedAt     = "updated_at"
	KeySourceDoc     = "source_doc"
	KeyExtractedAt   = "extracted_at"
	KeySequence      = "sequence"
	KeyFilename      = "filename"
)

// Metadata is a string-keyed map whose values are limited to string, float64, bool
// and []string. Use NormalizeMetadata to coerce decoded or caller-built maps.
type Metadata map[string]any

// NormalizeMetadata returns a copy of m with every value coerced into the closed value
// set. Integer and float kinds become float64, []any of strings becomes []string and nil
// values are dropped. Any other value kind is an error.
func NormalizeMetadata(m map[string]any) (Metadata, error) {
	out := make(Metadata, len(m))
	for k, v := range m {
		nv, ok, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("metadata key %q: %w", k, err)
		}
		if ok {
			out[k] = nv
		}
	}
	return out, nil
}

func normalizeValue(v any) (any, bool, error) {
	switch x := v.(type) {
	case nil:
		return nil, false, nil
	case string, bool, float64:
		return x, true, nil
	case float32:
		return float64(x), true, nil
	case int:
		return float64(x), true, nil
	case int8:
		return float64(x), true, nil
	case int16:
		return float64(x), true, nil
	case int32:
		return float64(x), true, nil
	case int64:
		return float64(x), true, nil
	case uint:
		return float64(x), true, nil
	case uint8:
		return float64(x), true, nil
	case uint16:
		return float64(x), true, nil
	case uint32:
		return float64(x), true, nil
	case uint64:
		return float64(x), true, nil
	case []string:
		return slices.Clone(x), true, nil
	case []any:
		list := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, false, fmt.Errorf("list values must be strings, got %T", item)
			}
			list = append(list, s)
		}
		return list, true, nil
	default:
		return nil, false, fmt.Errorf("unsupported value type %T", v)
	}
}

// Clone returns a shallow copy with list values copied.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		if list, ok := v.([]string); ok {
			v = slices.Clone(list)
		}
		out[k] = v
	}
	return out
}

// Merge returns a copy of m overlaid with every key of patch.
func (m Metadata) Merge(patch Metadata) Metadata {
	out := m.Clone()
	for k, v := range patch.Clone() {
		out[k] = v
	}
	return out
}

// String returns the string value of key, or "" when absent or not a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Bool reports whether key holds the boolean true.
func (m Metadata) Bool(key string) bool {
	b, _ := m[key].(bool)
	return b
}

// Matches reports whether every key of filter is present in m with an equal value.
func (m Metadata) Matches(filter Metadata) bool {
	for k, want := range filter {
		got, ok := m[k]
		if !ok || !valueEqual(got, want) {
			return false
		}
	}
	return true
}

// Keys returns the metadata keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueEqual(a, b any) bool {
	switch x := a.(type) {
	case []string:
		y, ok := b.([]string)
		return ok && slices.Equal(x, y)
	case string, bool, float64:
		return a == b
	default:
		return false
	}
}

// IsSuccess reports whether metadata marks a document as a success case.
func (m Metadata) IsSuccess() bool {
	return m.Bool(KeySuccess) || m.Bool(KeyApproved)
}
