package database

import (
	"encoding/json"
	"fmt"
)

// Condition guards a write. existing is nil when the item is absent or expired.
type Condition func(existing map[string]interface{}) bool

// Filter selects scanned items.
type Filter func(item map[string]interface{}) bool

type removeMarker struct{}

// Remove deletes an attribute when used as a value in an Update set map.
var Remove = removeMarker{}

// NotExists holds when the item is absent.
func NotExists() Condition {
	return func(existing map[string]interface{}) bool { return existing == nil }
}

// Exists holds when the item is present.
func Exists() Condition {
	return func(existing map[string]interface{}) bool { return existing != nil }
}

// AttributeNotExists holds when the item is present and lacks field (or has it null, zero or empty).
func AttributeNotExists(field string) Condition {
	return func(existing map[string]interface{}) bool {
		if existing == nil {
			return false
		}
		return isEmptyValue(existing[field])
	}
}

// AttributeEquals holds when the item is present and field equals value.
func AttributeEquals(field string, value interface{}) Condition {
	return func(existing map[string]interface{}) bool {
		if existing == nil {
			return false
		}
		return fmt.Sprint(normalizeValue(existing[field])) == fmt.Sprint(normalizeValue(value))
	}
}

// AttributeLessThan holds when the item is present and numeric field is missing or below n.
func AttributeLessThan(field string, n int64) Condition {
	return func(existing map[string]interface{}) bool {
		if existing == nil {
			return false
		}
		v, ok := int64Value(existing[field])
		return !ok || v < n
	}
}

// And combines conditions.
func And(conds ...Condition) Condition {
	return func(existing map[string]interface{}) bool {
		for _, c := range conds {
			if c != nil && !c(existing) {
				return false
			}
		}
		return true
	}
}

func isEmptyValue(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case json.Number:
		n, err := x.Float64()
		return err == nil && n == 0
	case bool:
		return !x
	default:
		return false
	}
}

func normalizeValue(v interface{}) interface{} {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		return n.String()
	}
	return v
}
