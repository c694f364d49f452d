package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(s *Store, ids ...int64) {
	for _, id := range ids {
		s.Put(id, map[string]any{"TITLE": "item"})
	}
}

func TestStore_AddUpdateDelete(t *testing.T) {
	s := NewStore()

	id := s.Add(map[string]any{"TITLE": "Deal", "OPPORTUNITY": 100})
	assert.Equal(t, int64(1), id)

	item, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "1", item["ID"])
	assert.Equal(t, "100", item["OPPORTUNITY"])

	assert.True(t, s.Update(id, map[string]any{"TITLE": "Renamed", "ID": "99"}))
	item, _ = s.Get(id)
	assert.Equal(t, "Renamed", item["TITLE"])
	assert.Equal(t, "1", item["ID"])

	assert.True(t, s.Delete(id))
	assert.False(t, s.Delete(id))
	assert.False(t, s.Update(id, map[string]any{"TITLE": "x"}))
}

func TestStore_PutAdvancesNextID(t *testing.T) {
	s := NewStore()
	s.Put(100, map[string]any{})
	assert.Equal(t, int64(101), s.Add(map[string]any{}))
}

func TestStore_List(t *testing.T) {
	s := NewStore()
	for id := int64(1); id <= 120; id++ {
		s.Put(id, map[string]any{"TITLE": "item"})
	}

	page := s.List(ListRequest{Start: 0})
	require.Len(t, page.Items, PageSize)
	assert.Equal(t, int64(1), page.Items[0].ID())
	require.NotNil(t, page.Total)
	assert.Equal(t, 120, *page.Total)
	require.NotNil(t, page.Next)
	assert.Equal(t, 50, *page.Next)

	page = s.List(ListRequest{Start: 100})
	assert.Len(t, page.Items, 20)
	assert.Nil(t, page.Next)

	page = s.List(ListRequest{Start: -1, Filter: map[string]any{">ID": "110"}})
	assert.Len(t, page.Items, 10)
	assert.Nil(t, page.Total)
	assert.Nil(t, page.Next)
}

func TestStore_ListFilterOrderSelect(t *testing.T) {
	s := NewStore()
	seed(s, 5, 9, 10, 11, 100)

	page := s.List(ListRequest{
		Filter: map[string]any{">=ID": "9", "<=ID": "11"},
		Order:  map[string]any{"ID": "DESC"},
		Select: []string{"ID"},
	})

	ids := make([]int64, 0, len(page.Items))
	for _, item := range page.Items {
		ids = append(ids, item.ID())
		assert.NotContains(t, item, "TITLE")
	}
	// numeric, not lexicographic, comparison
	assert.Equal(t, []int64{11, 10, 9}, ids)
}
