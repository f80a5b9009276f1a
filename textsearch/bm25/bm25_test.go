package bm25

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
	"github.com/hupe1980/docgo/textsearch"
)

func bioDoc(id, bio string, extra map[string]any) *document.Document {
	fields := map[string]any{"bio": bio}
	for k, v := range extra {
		fields[k] = v
	}
	return document.New(model.DocumentID{Table: "users", ID: id}, 1, fields)
}

func TestIndex_Search(t *testing.T) {
	in := New("bio")
	in.Add(bioDoc("1", "the quick brown fox", nil), model.Committed(1))
	in.Add(bioDoc("2", "jumped over the lazy dog", nil), model.Committed(2))
	in.Add(bioDoc("3", "quick brown dogs", nil), model.Committed(3))
	in.Add(bioDoc("4", "fox and dog", nil), model.Committed(4))

	results := in.Search(&textsearch.Query{Text: "fox"})
	found := map[string]bool{}
	for _, r := range results {
		found[r.ID.ID] = true
		assert.Positive(t, r.Score)
	}
	assert.True(t, found["1"])
	assert.True(t, found["4"])
	assert.False(t, found["2"])
}

func TestIndex_DeleteAndReplace(t *testing.T) {
	in := New("bio")
	in.Add(bioDoc("1", "test content", nil), model.Committed(1))
	in.Add(bioDoc("2", "other content", nil), model.Committed(1))

	assert.Len(t, in.Search(&textsearch.Query{Text: "test"}), 1)

	in.Delete(model.DocumentID{Table: "users", ID: "1"})
	assert.Empty(t, in.Search(&textsearch.Query{Text: "test"}))

	in.Add(bioDoc("1", "test content again", nil), model.Committed(2))
	assert.Len(t, in.Search(&textsearch.Query{Text: "test"}), 1)
}

func TestIndex_FiltersAndLimit(t *testing.T) {
	in := New("bio", "team")
	in.Add(bioDoc("1", "gopher gopher gopher", map[string]any{"team": "infra"}), model.Committed(1))
	in.Add(bioDoc("2", "gopher", map[string]any{"team": "search"}), model.Committed(1))
	in.Add(bioDoc("3", "gopher gopher", map[string]any{"team": "infra"}), model.Committed(1))

	results := in.Search(&textsearch.Query{
		Text:    "gopher",
		Filters: map[document.FieldPath]any{"team": "infra"},
	})
	require.Len(t, results, 2)
	// Higher term frequency scores first.
	assert.Equal(t, "1", results[0].ID.ID)

	results = in.Search(&textsearch.Query{Text: "gopher", Limit: 1})
	assert.Len(t, results, 1)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, textsearch.Tokenize("Hello, WORLD!  42"))
	assert.Empty(t, textsearch.Tokenize("--- ..."))
}

func textIndex(id model.IndexID) *catalog.Index {
	return &catalog.Index{
		ID:       id,
		Metadata: catalog.NewTextEnabled(index.NewName("users", "search_bio"), "bio", "team"),
	}
}

func TestSnapshot_SearchWithPendingOverlay(t *testing.T) {
	ctx := context.Background()
	idx := textIndex(model.NewIndexID())

	s := NewSnapshot()
	s.Add(idx, bioDoc("1", "committed fox", nil), 5)
	s.Add(idx, bioDoc("2", "committed dog", nil), 6)

	insert := bioDoc("3", "pending fox", nil)
	pending := []document.Update{
		{ID: insert.ID, New: insert},
		{ID: model.DocumentID{Table: "users", ID: "1"}, Old: bioDoc("1", "committed fox", nil)},
	}

	results, err := s.Search(ctx, idx, &textsearch.Query{Text: "fox"}, pending)
	require.NoError(t, err)
	require.Len(t, results.Revisions, 1)
	assert.Equal(t, "3", results.Revisions[0].ID.ID)
	assert.True(t, results.Revisions[0].Ts.IsPending())

	// The shared snapshot is untouched by the overlay.
	results, err = s.Search(ctx, idx, &textsearch.Query{Text: "fox"}, nil)
	require.NoError(t, err)
	require.Len(t, results.Revisions, 1)
	assert.Equal(t, "1", results.Revisions[0].ID.ID)
	ts, ok := results.Revisions[0].Ts.Timestamp()
	require.True(t, ok)
	assert.Equal(t, model.Timestamp(5), ts)
}

func TestSnapshot_SearchReturnsKeysAndReads(t *testing.T) {
	ctx := context.Background()
	idx := textIndex(model.NewIndexID())

	s := NewSnapshot()
	s.Add(idx, bioDoc("1", "committed fox", map[string]any{"team": "infra"}), 5)

	query := &textsearch.Query{
		Text:    "Committed FOX",
		Filters: map[document.FieldPath]any{"team": "infra"},
	}
	results, err := s.Search(ctx, idx, query, nil)
	require.NoError(t, err)
	require.Len(t, results.Revisions, 1)

	// Each candidate carries its key bytes in the index.
	wantKey, err := index.EncodeKey(nil, model.DocumentID{Table: "users", ID: "1"})
	require.NoError(t, err)
	assert.Equal(t, wantKey, results.Revisions[0].Key)

	// The backend reports what it consulted, filters included.
	assert.Equal(t, document.FieldPath("bio"), results.Reads.SearchField)
	assert.Equal(t, []string{"committed", "fox"}, results.Reads.Tokens)
	assert.Equal(t, query.Filters, results.Reads.Filters)
}

func TestSnapshot_SearchUnknownIndexIsEmpty(t *testing.T) {
	s := NewSnapshot()
	results, err := s.Search(context.Background(), textIndex(model.NewIndexID()), &textsearch.Query{Text: "fox"}, nil)
	require.NoError(t, err)
	assert.Empty(t, results.Revisions)
}
