// Package testutil provides an in-memory Bitrix24 portal for tests: an entity
// store, a fake transport speaking the REST semantics the engine relies on, and
// an httptest server for exercising the real HTTP client.
package testutil

import (
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

// PageSize is the fixed page size of list methods.
const PageSize = 50

// Item is one stored entity. Values are kept the way the portal returns them,
// IDs included, as strings.
type Item map[string]any

// ID returns the numeric identifier of the item.
func (i Item) ID() int64 {
	return cast.ToInt64(i["ID"])
}

// ListRequest mirrors the parameters of a *.list call after form decoding.
type ListRequest struct {
	Filter map[string]any
	Order  map[string]any
	Select []string
	Start  int
}

// ListPage is the answer to a ListRequest.
type ListPage struct {
	Items []Item
	Total *int
	Next  *int
}

// Store holds the items of one entity type.
type Store struct {
	mu     sync.Mutex
	items  map[int64]Item
	nextID int64
}

// NewStore creates an empty store whose first ID is 1.
func NewStore() *Store {
	return &Store{items: make(map[int64]Item), nextID: 1}
}

// Add stores fields under the next free ID and returns the ID.
func (s *Store) Add(fields map[string]any) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	s.put(id, fields)
	return id
}

// Put stores fields under id, overwriting any existing item.
func (s *Store) Put(id int64, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.put(id, fields)
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

func (s *Store) put(id int64, fields map[string]any) {
	item := make(Item, len(fields)+1)
	for k, v := range fields {
		item[k] = stringify(v)
	}
	item["ID"] = strconv.FormatInt(id, 10)
	s.items[id] = item
}

// Get returns a copy of the item stored under id.
func (s *Store) Get(id int64) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, false
	}
	return maps.Clone(item), true
}

// Update merges fields into the item stored under id.
func (s *Store) Update(id int64, fields map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return false
	}
	for k, v := range fields {
		if k == "ID" {
			continue
		}
		item[k] = stringify(v)
	}
	return true
}

// Delete removes the item stored under id.
func (s *Store) Delete(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return false
	}
	delete(s.items, id)
	return true
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// IDs returns all stored IDs in ascending order.
func (s *Store) IDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := lo.Keys(s.items)
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// List filters, sorts, projects and pages the stored items.
// Start -1 disables the count: no Total and no Next are reported.
func (s *Store) List(req ListRequest) ListPage {
	s.mu.Lock()
	matched := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		if matchFilter(item, req.Filter) {
			matched = append(matched, maps.Clone(item))
		}
	}
	s.mu.Unlock()

	sortItems(matched, req.Order)

	start := req.Start
	if start < 0 {
		start = 0
	}
	end := min(start+PageSize, len(matched))
	var page []Item
	if start < len(matched) {
		page = matched[start:end]
	}
	page = lo.Map(page, func(item Item, _ int) Item { return project(item, req.Select) })

	out := ListPage{Items: page}
	if req.Start >= 0 {
		total := len(matched)
		out.Total = &total
		if end < len(matched) {
			next := end
			out.Next = &next
		}
	}
	return out
}

func stringify(v any) any {
	switch v.(type) {
	case map[string]any, []any:
		return v
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return v
}

// splitOperator separates a filter key such as ">=ID" into operator and field.
func splitOperator(key string) (string, string) {
	for _, op := range []string{">=", "<=", "!=", ">", "<", "=", "!"} {
		if strings.HasPrefix(key, op) {
			return op, key[len(op):]
		}
	}
	return "=", key
}

func matchFilter(item Item, filter map[string]any) bool {
	for key, want := range filter {
		op, field := splitOperator(key)
		got, ok := item[field]
		if !ok {
			return false
		}
		c := compare(got, want)
		var pass bool
		switch op {
		case ">=":
			pass = c >= 0
		case "<=":
			pass = c <= 0
		case ">":
			pass = c > 0
		case "<":
			pass = c < 0
		case "!", "!=":
			pass = c != 0
		default:
			pass = c == 0
		}
		if !pass {
			return false
		}
	}
	return true
}

// compare orders numerically when both values are numbers, as strings otherwise.
func compare(a, b any) int {
	fa, errA := cast.ToFloat64E(a)
	fb, errB := cast.ToFloat64E(b)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(cast.ToString(a), cast.ToString(b))
}

// sortItems applies the requested order, ID ascending by default. Multi-field
// specs are applied in key order since form decoding loses the wire order.
func sortItems(items []Item, order map[string]any) {
	fields := lo.Keys(order)
	sort.Strings(fields)
	if len(fields) == 0 {
		fields = []string{"ID"}
	}
	sort.SliceStable(items, func(i, j int) bool {
		for _, field := range fields {
			c := compare(items[i][field], items[j][field])
			if c == 0 {
				continue
			}
			if strings.EqualFold(cast.ToString(order[field]), "DESC") {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func project(item Item, selectFields []string) Item {
	if len(selectFields) == 0 || lo.Contains(selectFields, "*") {
		return item
	}
	out := make(Item, len(selectFields))
	for _, field := range selectFields {
		if v, ok := item[field]; ok {
			out[field] = v
		}
	}
	return out
}
