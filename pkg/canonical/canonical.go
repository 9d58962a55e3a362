// Package canonical produces the byte-exact serialization that is signed by
// the engine. It is not RFC 8785 (JCS): number formatting follows
// ECMAScript's Number#toString() and tombstones are filtered before
// sorting, both of which diverge from the generic JCS contract. Downstream
// verifiers re-serialize fetched records with this exact algorithm before
// checking a signature, so nothing here may change casually.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is an arbitrary JSON object with at least an id and a
// last_modified timestamp. Tombstones carry Deleted == true.
type Record map[string]interface{}

// ID returns the record's "id" field, or "" if absent/not a string.
func (r Record) ID() string {
	v, _ := r["id"].(string)
	return v
}

// Deleted reports whether this record is a tombstone.
func (r Record) Deleted() bool {
	v, _ := r["deleted"].(bool)
	return v
}

// Encode returns the UTF-8 bytes of {"data":[...],"last_modified":"<ts>"}.
//
// Records with deleted == true are dropped before sorting. The remaining
// records are sorted ascending by id (byte-wise). Object keys at every depth
// are emitted sorted. Separators are "," and ":" with no whitespace.
// Non-ASCII runes are escaped \uXXXX with lowercase hex digits; '/' is left
// unescaped.
func Encode(records []Record, lastModified int64) ([]byte, error) {
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		if r.Deleted() {
			continue
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].ID() < kept[j].ID()
	})

	var buf bytes.Buffer
	buf.WriteString(`{"data":[`)
	for i, r := range kept {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(map[string]interface{}(r))
		if err != nil {
			return nil, fmt.Errorf("canonical: record %q: %w", r.ID(), err)
		}
		buf.Write(b)
	}
	buf.WriteString(`],"last_modified":`)
	b, err := marshalValue(formatTimestamp(lastModified))
	if err != nil {
		return nil, err
	}
	buf.Write(b)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// formatTimestamp renders last_modified as the string the wire format
// requires ("<int>" not a bare number).
func formatTimestamp(ts int64) string {
	return fmt.Sprintf("%d", ts)
}

// marshalValue renders v using sorted keys, ECMAScript-compatible number
// formatting and \uXXXX escaping for non-ASCII runes. v must be a value
// produced by encoding/json unmarshaling (map[string]interface{},
// []interface{}, string, bool, nil) or a plain Go numeric/string type.
func marshalValue(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case string:
		return marshalString(t), nil
	case json.Number:
		return []byte(numberString(t)), nil
	case float64:
		return []byte(numberString(json.Number(fmt.Sprintf("%v", t)))), nil
	case int:
		return []byte(fmt.Sprintf("%d", t)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", t)), nil
	case map[string]interface{}:
		return marshalObject(t)
	case []interface{}:
		return marshalArray(t)
	default:
		// Re-decode through encoding/json to normalize struct/slice/map
		// types we don't special-case above (keeps the API usable with
		// ordinary Go structs, not just map[string]interface{}).
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var generic interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, err
		}
		return marshalValue(generic)
	}
}

func marshalObject(m map[string]interface{}) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(marshalString(k))
		buf.WriteByte(':')
		vb, err := marshalValue(m[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalArray(a []interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := marshalValue(elem)
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}
