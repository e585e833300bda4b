package database

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// indexRow holds the index columns derived from a document.
type indexRow struct {
	lookup    string
	part      string
	sub       string
	sort      int64
	expiresAt int64
}

// encodeDocument marshals doc and derives its attribute map.
func encodeDocument(doc interface{}) ([]byte, map[string]interface{}, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	fields, err := decodeMap(body)
	if err != nil {
		return nil, nil, err
	}
	return body, fields, nil
}

func decodeMap(body []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("document is not a JSON object: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	return fields, nil
}

func indexFor(t Table, fields map[string]interface{}) indexRow {
	var idx indexRow
	if t.LookupField != "" {
		idx.lookup = stringValue(fields[t.LookupField])
	}
	if t.PartitionField != "" {
		idx.part = stringValue(fields[t.PartitionField])
	}
	if t.SubField != "" {
		idx.sub = stringValue(fields[t.SubField])
	}
	if t.SortField != "" {
		idx.sort, _ = int64Value(fields[t.SortField])
	}
	if t.TTLField != "" {
		idx.expiresAt, _ = int64Value(fields[t.TTLField])
	}
	return idx
}

func stringValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

// int64Value converts numbers, numeric strings and RFC 3339 timestamps to an integer.
// Floats are truncated toward zero.
func int64Value(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, true
		}
		if f, err := x.Float64(); err == nil {
			return int64(math.Trunc(f)), true
		}
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		return int64(math.Trunc(x)), true
	case string:
		if i, err := strconv.ParseInt(x, 10, 64); err == nil {
			return i, true
		}
		if ts, err := time.Parse(time.RFC3339, x); err == nil {
			return ts.Unix(), true
		}
	}
	return 0, false
}

// Decode unmarshals raw documents into a typed slice.
func Decode[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, item)
	}
	return out, nil
}

// Int64 reads a numeric attribute from a decoded document.
func Int64(fields map[string]interface{}, key string) int64 {
	v, _ := int64Value(fields[key])
	return v
}

// String reads a string attribute from a decoded document.
func String(fields map[string]interface{}, key string) string {
	return stringValue(fields[key])
}
