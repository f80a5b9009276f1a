package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

func testRegistry(t *testing.T) *catalog.Registry {
	t.Helper()
	r, err := catalog.Bootstrap([]*document.Document{
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewDatabaseEnabled(index.ByID(model.IndexTableID), nil)),
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewDatabaseEnabled(index.ByID("users"), nil)),
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewDatabaseEnabled(index.NewName("users", "by_name"), []document.FieldPath{"name"})),
	})
	require.NoError(t, err)
	return r
}

func user(id, name string) *document.Document {
	return document.New(model.DocumentID{Table: "users", ID: id}, 1, map[string]any{"name": name})
}

func seeded(t *testing.T) *InMemory {
	t.Helper()
	s := NewInMemory(10, testRegistry(t))
	require.NoError(t, s.Write(11, nil, user("a", "alice")))
	require.NoError(t, s.Write(12, nil, user("b", "bob")))
	require.NoError(t, s.Write(13, nil, user("z", "zack")))
	return s
}

func rangeOne(t *testing.T, s *InMemory, req index.RangeRequest) Result {
	t.Helper()
	results := s.RangeBatch(context.Background(), []index.RangeRequest{req})
	require.Len(t, results, 1)
	return results[0]
}

func names(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		v, _ := r.Doc.Get("name")
		out = append(out, v.(string))
	}
	return out
}

func TestInMemory_RangeAscDesc(t *testing.T) {
	s := seeded(t)

	res := rangeOne(t, s, index.RangeRequest{
		Name: index.NewName("users", "by_name"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"alice", "bob", "zack"}, names(res.Rows))
	assert.True(t, res.Cursor.IsEnd())
	assert.Equal(t, model.Timestamp(11), res.Rows[0].Ts)

	res = rangeOne(t, s, index.RangeRequest{
		Name: index.NewName("users", "by_name"), Interval: index.All(), Order: index.Desc, MaxRows: 10,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"zack", "bob", "alice"}, names(res.Rows))
}

func TestInMemory_FetchCursorOnFullPage(t *testing.T) {
	s := seeded(t)
	req := index.RangeRequest{
		Name: index.NewName("users", "by_name"), Interval: index.All(), Order: index.Asc, MaxRows: 2,
	}

	res := rangeOne(t, s, req)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"alice", "bob"}, names(res.Rows))
	require.False(t, res.Cursor.IsEnd())

	_, remaining := req.Interval.Split(res.Cursor, index.Asc)
	req.Interval = remaining
	res = rangeOne(t, s, req)
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"zack"}, names(res.Rows))
	assert.True(t, res.Cursor.IsEnd())
}

func TestInMemory_DeleteAndReplace(t *testing.T) {
	s := seeded(t)
	require.NoError(t, s.Write(14, user("b", "bob"), nil))
	require.NoError(t, s.Write(15, user("z", "zack"), user("z", "zoe")))

	res := rangeOne(t, s, index.RangeRequest{
		Name: index.NewName("users", "by_name"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"alice", "zoe"}, names(res.Rows))
	assert.Equal(t, model.Timestamp(15), s.Timestamp())
}

func TestInMemory_MissingIndexTolerance(t *testing.T) {
	s := seeded(t)

	// An unknown table's built-in index is just an empty table.
	res := rangeOne(t, s, index.RangeRequest{
		Name: index.ByID("orders"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Rows)
	assert.True(t, res.Cursor.IsEnd())

	// The catalog's own indexes must exist.
	res = rangeOne(t, s, index.RangeRequest{
		Name: index.NewName(model.IndexTableID, "by_missing"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	assert.Error(t, res.Err)
}

func TestInMemory_SubInterval(t *testing.T) {
	s := seeded(t)
	start, err := index.EncodeValuesPrefix([]any{"b"})
	require.NoError(t, err)
	end, err := index.EncodeValuesPrefix([]any{"y"})
	require.NoError(t, err)

	res := rangeOne(t, s, index.RangeRequest{
		Name: index.NewName("users", "by_name"), Interval: index.Range(start, end), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, res.Err)
	assert.Equal(t, []string{"bob"}, names(res.Rows))
}
