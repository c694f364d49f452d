package client

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"
)

// KV is one entry of an Ordered parameter mapping.
type KV struct {
	Key   string
	Value any
}

// Ordered is a parameter mapping whose key order is significant on the wire,
// such as a multi-field sort order.
type Ordered []KV

// Get returns the value stored under key.
func (o Ordered) Get(key string) (any, bool) {
	for _, kv := range o {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return nil, false
}

// EncodeQuery renders params in the nested form the portal expects
// (filter[>ID]=5&select[0]=ID). Map keys are sorted so the output is
// deterministic; Ordered keeps its order. Nil values and empty containers are
// omitted, booleans render as 1/0.
func EncodeQuery(params map[string]any) (string, error) {
	var pairs []string
	keys := sortedKeys(params)
	for _, key := range keys {
		var err error
		pairs, err = appendPairs(pairs, key, params[key])
		if err != nil {
			return "", err
		}
	}
	return strings.Join(pairs, "&"), nil
}

func appendPairs(pairs []string, prefix string, value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return pairs, nil
	case Ordered:
		for _, kv := range v {
			var err error
			if pairs, err = appendPairs(pairs, prefix+"["+kv.Key+"]", kv.Value); err != nil {
				return nil, err
			}
		}
		return pairs, nil
	case map[string]any:
		for _, key := range sortedKeys(v) {
			var err error
			if pairs, err = appendPairs(pairs, prefix+"["+key+"]", v[key]); err != nil {
				return nil, err
			}
		}
		return pairs, nil
	case bool:
		if v {
			return append(pairs, url.QueryEscape(prefix)+"=1"), nil
		}
		return append(pairs, url.QueryEscape(prefix)+"=0"), nil
	case string, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return appendScalar(pairs, prefix, v)
	}

	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return pairs, nil
		}
		return appendPairs(pairs, prefix, rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
			return appendScalar(pairs, prefix, string(rv.Bytes()))
		}
		for i := 0; i < rv.Len(); i++ {
			var err error
			if pairs, err = appendPairs(pairs, prefix+"["+strconv.Itoa(i)+"]", rv.Index(i).Interface()); err != nil {
				return nil, err
			}
		}
		return pairs, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("encode %s: unsupported map key type %s", prefix, rv.Type().Key())
		}
		nested := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			nested[iter.Key().String()] = iter.Value().Interface()
		}
		return appendPairs(pairs, prefix, nested)
	case reflect.String:
		return appendScalar(pairs, prefix, rv.String())
	case reflect.Bool:
		return appendPairs(pairs, prefix, rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendScalar(pairs, prefix, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return appendScalar(pairs, prefix, rv.Uint())
	}
	return appendScalar(pairs, prefix, value)
}

func appendScalar(pairs []string, key string, value any) ([]string, error) {
	s, err := cast.ToStringE(value)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return append(pairs, url.QueryEscape(key)+"="+url.QueryEscape(s)), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// DecodeQuery parses a query produced by EncodeQuery (or any PHP-style form
// body) back into nested maps. Values are strings; indexed lists decode to
// maps keyed by position, which is how the portal sees them too.
func DecodeQuery(raw string) (map[string]any, error) {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}

	root := make(map[string]any)
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := splitKey(key)
		for _, v := range values[key] {
			if err := assign(root, path, v); err != nil {
				return nil, err
			}
		}
	}
	return root, nil
}

// splitKey turns filter[>ID] into [filter >ID]. A key with unbalanced
// brackets is kept whole.
func splitKey(key string) []string {
	open := strings.IndexByte(key, '[')
	if open <= 0 {
		return []string{key}
	}
	path := []string{key[:open]}
	rest := key[open:]
	for rest != "" {
		if rest[0] != '[' {
			return []string{key}
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return []string{key}
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return path
}

func assign(node map[string]any, path []string, value string) error {
	for i, seg := range path[:len(path)-1] {
		if seg == "" {
			seg = strconv.Itoa(len(node))
		}
		child, ok := node[seg].(map[string]any)
		if !ok {
			if _, exists := node[seg]; exists {
				return fmt.Errorf("decode query: %s is both a value and a container", strings.Join(path[:i+1], "."))
			}
			child = make(map[string]any)
			node[seg] = child
		}
		node = child
	}
	last := path[len(path)-1]
	if last == "" {
		last = strconv.Itoa(len(node))
	}
	node[last] = value
	return nil
}
