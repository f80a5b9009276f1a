package txindex_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
	"github.com/hupe1980/docgo/reads"
	"github.com/hupe1980/docgo/snapshot"
	"github.com/hupe1980/docgo/textsearch"
	"github.com/hupe1980/docgo/textsearch/bm25"
	"github.com/hupe1980/docgo/txindex"
)

var (
	byID      = index.ByID("users")
	byName    = index.NewName("users", "by_name")
	searchBio = index.NewName("users", "search_bio")
)

func userDoc(id, name, bio string) *document.Document {
	return document.New(model.DocumentID{Table: "users", ID: id}, 1, map[string]any{
		"name": name,
		"bio":  bio,
		"team": "core",
	})
}

type fixture struct {
	registry *catalog.Registry
	snap     *snapshot.InMemory
	text     *bm25.Snapshot
	readSet  *reads.Set
	ti       *txindex.TransactionIndex
}

func newFixture(t *testing.T, opts ...txindex.Option) *fixture {
	t.Helper()
	registry, err := catalog.Bootstrap([]*document.Document{
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewDatabaseEnabled(index.ByID(model.IndexTableID), nil)),
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewDatabaseEnabled(byID, nil)),
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewDatabaseEnabled(byName, []document.FieldPath{"name"})),
		catalog.MetadataToDocument(model.NewIndexID(), 1,
			catalog.NewTextEnabled(searchBio, "bio", "team")),
	})
	require.NoError(t, err)

	snap := snapshot.NewInMemory(10, registry)
	text := bm25.NewSnapshot()
	textIdx := registry.GetEnabled(searchBio)
	require.NotNil(t, textIdx)

	seed := []struct {
		ts  model.Timestamp
		doc *document.Document
	}{
		{11, userDoc("alice", "alice", "quick brown fox")},
		{12, userDoc("bob", "bob", "lazy dog")},
		{13, userDoc("zack", "zack", "gopher fan")},
	}
	for _, s := range seed {
		require.NoError(t, snap.Write(s.ts, nil, s.doc))
		text.Add(textIdx, s.doc, s.ts)
	}

	readSet := reads.NewSet(reads.Limits{})
	return &fixture{
		registry: registry,
		snap:     snap,
		text:     text,
		readSet:  readSet,
		ti:       txindex.New(snap, registry, readSet, text, opts...),
	}
}

func (f *fixture) write(t *testing.T, old, new *document.Document) []catalog.KeyUpdate {
	t.Helper()
	prep, err := f.ti.BeginUpdate(old, new)
	require.NoError(t, err)
	return prep.Apply()
}

// insertDavidDeleteBob is the canonical pending state: one insert and one
// delete on top of the three committed users.
func (f *fixture) insertDavidDeleteBob(t *testing.T) {
	t.Helper()
	f.write(t, nil, userDoc("david", "david", "fox hunter"))
	f.write(t, userDoc("bob", "bob", "lazy dog"), nil)
}

func TestRange_MergesPendingWrites(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)

	rows, cursor, err := f.ti.Range(context.Background(), index.RangeRequest{
		Name: byID, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)
	assert.True(t, cursor.IsEnd())
	require.Len(t, rows, 3)

	assert.Equal(t, "alice", rows[0].Document.ID.ID)
	assert.Equal(t, model.Committed(11), rows[0].Write)

	assert.Equal(t, "david", rows[1].Document.ID.ID)
	assert.True(t, rows[1].Write.IsPending())

	assert.Equal(t, "zack", rows[2].Document.ID.ID)
	assert.Equal(t, model.Committed(13), rows[2].Write)
}

func TestRange_SecondaryIndexOrder(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)

	rows, _, err := f.ti.Range(context.Background(), index.RangeRequest{
		Name: byName, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "alice", rows[0].Document.ID.ID)
	assert.Equal(t, "david", rows[1].Document.ID.ID)
	assert.Equal(t, "zack", rows[2].Document.ID.ID)
}

func TestRangeBatch(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)

	results := f.ti.RangeBatch(context.Background(), []index.RangeRequest{
		{Name: byID, Interval: index.All(), Order: index.Asc, MaxRows: 10},
		{Name: index.ByID("orders"), Interval: index.All(), Order: index.Asc, MaxRows: 10},
		{Name: byName, Interval: index.All(), Order: index.Desc, MaxRows: 10},
	})
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Rows, 3)

	require.NoError(t, results[1].Err)
	assert.Empty(t, results[1].Rows)
	assert.True(t, results[1].Cursor.IsEnd())

	require.NoError(t, results[2].Err)
	require.Len(t, results[2].Rows, 3)
	assert.Equal(t, "zack", results[2].Rows[0].Document.ID.ID)
}

func TestRange_Desc(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)

	rows, cursor, err := f.ti.Range(context.Background(), index.RangeRequest{
		Name: byID, Interval: index.All(), Order: index.Desc, MaxRows: 10,
	})
	require.NoError(t, err)
	assert.True(t, cursor.IsEnd())
	require.Len(t, rows, 3)
	assert.Equal(t, "zack", rows[0].Document.ID.ID)
	assert.Equal(t, "david", rows[1].Document.ID.ID)
	assert.Equal(t, "alice", rows[2].Document.ID.ID)
}

func TestRange_Pagination(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)

	interval := index.All()
	var all []string
	pages := 0
	for {
		rows, cursor, err := f.ti.Range(context.Background(), index.RangeRequest{
			Name: byID, Interval: interval, Order: index.Asc, MaxRows: 2,
		})
		require.NoError(t, err)
		for _, r := range rows {
			all = append(all, r.Document.ID.ID)
		}
		pages++
		if cursor.IsEnd() {
			break
		}
		require.True(t, interval.ContainsCursor(cursor))
		_, interval = interval.Split(cursor, index.Asc)
	}

	assert.Equal(t, []string{"alice", "david", "zack"}, all)
	assert.GreaterOrEqual(t, pages, 2)
}

func TestRange_PendingReplacementWinsAtEqualKey(t *testing.T) {
	f := newFixture(t)
	f.write(t,
		userDoc("alice", "alice", "quick brown fox"),
		userDoc("alice", "alice", "retired fox"))

	rows, _, err := f.ti.Range(context.Background(), index.RangeRequest{
		Name: byID, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Write.IsPending())
	bio, _ := rows[0].Document.Get("bio")
	assert.Equal(t, "retired fox", bio)
}

func TestRange_ByteBudget(t *testing.T) {
	alice := userDoc("alice", "alice", "quick brown fox")

	// The byte check runs before a row is added, so the row that crosses
	// the budget is still returned and truncation starts after it.
	f2 := newFixture(t, txindex.WithMaxPageBytes(alice.Size()+1))
	f2.insertDavidDeleteBob(t)
	rows, cursor, err := f2.ti.Range(context.Background(), index.RangeRequest{
		Name: byID, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].Document.ID.ID)
	assert.Equal(t, "david", rows[1].Document.ID.ID)
	require.False(t, cursor.IsEnd())

	// A budget of one byte still returns one row per page, and paging
	// through yields every row exactly once.
	f3 := newFixture(t, txindex.WithMaxPageBytes(1))
	f3.insertDavidDeleteBob(t)
	interval := index.All()
	var all []string
	for {
		rows, cursor, err := f3.ti.Range(context.Background(), index.RangeRequest{
			Name: byID, Interval: interval, Order: index.Asc, MaxRows: 10,
		})
		require.NoError(t, err)
		require.LessOrEqual(t, len(rows), 1)
		for _, r := range rows {
			all = append(all, r.Document.ID.ID)
		}
		if cursor.IsEnd() {
			break
		}
		_, interval = interval.Split(cursor, index.Asc)
	}
	assert.Equal(t, []string{"alice", "david", "zack"}, all)
}

func TestRange_MissingIndexes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Built-in indexes of an unwritten table read as empty.
	rows, cursor, err := f.ti.Range(ctx, index.RangeRequest{
		Name: index.ByID("orders"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.True(t, cursor.IsEnd())

	// A named index that does not exist is an error.
	_, _, err = f.ti.Range(ctx, index.RangeRequest{
		Name: index.NewName("users", "by_missing"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	assert.ErrorIs(t, err, catalog.ErrIndexNotFound)

	// A backfilling index cannot serve reads.
	f.write(t, nil, catalog.MetadataToDocument(model.NewIndexID(), 1,
		catalog.NewDatabaseBackfilling(index.NewName("users", "by_age"), []document.FieldPath{"age"})))
	_, _, err = f.ti.Range(ctx, index.RangeRequest{
		Name: index.NewName("users", "by_age"), Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	assert.ErrorIs(t, err, catalog.ErrIndexBackfilling)
}

func TestRange_RecordsReads(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.ti.Range(context.Background(), index.RangeRequest{
		Name: byName, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)

	var sawCatalog, sawDirect bool
	for _, r := range f.readSet.Indexed() {
		switch r.Name {
		case index.ByID(model.IndexTableID):
			sawCatalog = true
		case byName:
			sawDirect = true
		}
	}
	assert.True(t, sawCatalog)
	assert.True(t, sawDirect)
	assert.Equal(t, 3, f.readSet.DocumentsRead())
}

type stuckSnapshot struct{}

func (stuckSnapshot) RangeBatch(_ context.Context, reqs []index.RangeRequest) []snapshot.Result {
	// Always claims there is more after the lowest possible key, so a
	// second fetch can never advance.
	results := make([]snapshot.Result, len(reqs))
	for i := range reqs {
		results[i] = snapshot.Result{Cursor: index.CursorAfter(index.KeyBytes{0x00})}
	}
	return results
}

func (stuckSnapshot) Timestamp() model.Timestamp { return 10 }

func TestRange_NotMakingProgressIsFatal(t *testing.T) {
	f := newFixture(t)
	ti := txindex.New(stuckSnapshot{}, f.registry, f.readSet, nil)

	_, _, err := ti.Range(context.Background(), index.RangeRequest{
		Name: byID, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	assert.ErrorIs(t, err, txindex.ErrNotMakingProgress)
}

func TestBeginUpdate_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.ti.BeginUpdate(nil, nil)
	assert.Error(t, err)

	_, err = f.ti.BeginUpdate(userDoc("a", "a", ""), userDoc("b", "b", ""))
	assert.Error(t, err)

	// A catalog violation fails validation and leaves nothing applied.
	dup := catalog.MetadataToDocument(model.NewIndexID(), 1,
		catalog.NewDatabaseEnabled(byName, []document.FieldPath{"name"}))
	_, err = f.ti.BeginUpdate(nil, dup)
	require.Error(t, err)

	rows, _, err := f.ti.Range(context.Background(), index.RangeRequest{
		Name: byName, Interval: index.All(), Order: index.Asc, MaxRows: 10,
	})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestApply_InterleavedPreparesCompose(t *testing.T) {
	f := newFixture(t)

	byAge := catalog.MetadataToDocument(model.NewIndexID(), 1,
		catalog.NewDatabaseBackfilling(index.NewName("users", "by_age"), []document.FieldPath{"age"}))
	byCity := catalog.MetadataToDocument(model.NewIndexID(), 1,
		catalog.NewDatabaseBackfilling(index.NewName("users", "by_city"), []document.FieldPath{"city"}))

	first, err := f.ti.BeginUpdate(nil, byAge)
	require.NoError(t, err)
	second, err := f.ti.BeginUpdate(nil, byCity)
	require.NoError(t, err)

	first.Apply()
	second.Apply()

	// Both catalog changes survive: applying the second prepared update
	// must not revert the first's.
	assert.NotNil(t, f.ti.GetPending(index.NewName("users", "by_age")))
	assert.NotNil(t, f.ti.GetPending(index.NewName("users", "by_city")))
}

func TestApply_ReturnsKeyDeltas(t *testing.T) {
	f := newFixture(t)

	deltas := f.write(t, nil, userDoc("david", "david", "fox hunter"))
	require.Len(t, deltas, 2)
	for _, d := range deltas {
		assert.False(t, d.Deleted)
		assert.Equal(t, "david", d.DocumentID.ID)
	}

	deltas = f.write(t, userDoc("david", "david", "fox hunter"), nil)
	require.Len(t, deltas, 2)
	for _, d := range deltas {
		assert.True(t, d.Deleted)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	results, err := f.ti.Search(ctx, searchBio, &textsearch.Query{
		Text:    "fox",
		Filters: map[document.FieldPath]any{"team": "core"},
	})
	require.NoError(t, err)
	require.Len(t, results.Revisions, 1)
	assert.Equal(t, "alice", results.Revisions[0].ID.ID)

	// Candidates carry their key bytes in the index.
	wantKey, err := index.EncodeKey(nil, model.DocumentID{Table: "users", ID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, wantKey, results.Revisions[0].Key)

	// Pending writes are visible: david matches, and deleting alice's
	// revision hides her committed match.
	f.insertDavidDeleteBob(t)
	f.write(t, userDoc("alice", "alice", "quick brown fox"), nil)

	results, err = f.ti.Search(ctx, searchBio, &textsearch.Query{Text: "fox"})
	require.NoError(t, err)
	require.Len(t, results.Revisions, 1)
	assert.Equal(t, "david", results.Revisions[0].ID.ID)
	assert.True(t, results.Revisions[0].Ts.IsPending())

	// The recorded search read is the backend's description of what it
	// consulted, filters included.
	require.Len(t, f.readSet.Searches(), 2)
	recorded := f.readSet.Searches()[0]
	assert.Equal(t, document.FieldPath("bio"), recorded.SearchField)
	assert.Equal(t, []string{"fox"}, recorded.Tokens)
	assert.Equal(t, "core", recorded.Filters["team"])
}

func TestSearch_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ti.Search(ctx, byName, &textsearch.Query{Text: "fox"})
	assert.Error(t, err)

	_, err = f.ti.Search(ctx, index.NewName("users", "search_missing"), &textsearch.Query{Text: "fox"})
	assert.ErrorIs(t, err, catalog.ErrIndexNotFound)

	// Changing an index definition bars further searches.
	f.write(t, nil, catalog.MetadataToDocument(model.NewIndexID(), 1,
		catalog.NewDatabaseBackfilling(index.NewName("users", "by_age"), []document.FieldPath{"age"})))
	_, err = f.ti.Search(ctx, searchBio, &textsearch.Query{Text: "fox"})
	assert.ErrorIs(t, err, txindex.ErrSearchAfterCatalogUpdate)
}

func TestSearch_Unavailable(t *testing.T) {
	f := newFixture(t)
	ti := txindex.New(f.snap, f.registry, f.readSet, nil)

	_, err := ti.Search(context.Background(), searchBio, &textsearch.Query{Text: "fox"})
	assert.ErrorIs(t, err, textsearch.ErrUnavailable)
}

func TestSearch_DocumentWritesDoNotBarSearch(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)

	_, err := f.ti.Search(context.Background(), searchBio, &textsearch.Query{Text: "gopher"})
	assert.NoError(t, err)
}

func TestPreload(t *testing.T) {
	f := newFixture(t)
	f.insertDavidDeleteBob(t)
	ctx := context.Background()

	pre, err := f.ti.Preload(ctx, byName)
	require.NoError(t, err)
	assert.Equal(t, 3, pre.Len())

	doc, err := pre.Get("alice")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "alice", doc.ID.ID)

	doc, err = pre.Get("david")
	require.NoError(t, err)
	require.NotNil(t, doc)

	// The tombstone hides bob.
	doc, err = pre.Get("bob")
	require.NoError(t, err)
	assert.Nil(t, doc)

	before := len(f.readSet.Indexed())
	_, err = pre.Get("zack")
	require.NoError(t, err)
	assert.Len(t, f.readSet.Indexed(), before+1)
}

func TestPreload_DuplicateValue(t *testing.T) {
	f := newFixture(t)
	f.write(t, nil, userDoc("alice2", "alice", "impostor"))

	_, err := f.ti.Preload(context.Background(), byName)
	assert.ErrorIs(t, err, txindex.ErrIndexNotUnique)
}

func TestPreload_RequiresSingleFieldDatabaseIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ti.Preload(ctx, searchBio)
	assert.Error(t, err)

	_, err = f.ti.Preload(ctx, byID)
	assert.Error(t, err)
}

func TestGetEnabledAndPending(t *testing.T) {
	f := newFixture(t)

	assert.NotNil(t, f.ti.GetEnabled(byName))
	assert.Nil(t, f.ti.GetEnabled(index.NewName("users", "nope")))
	assert.Nil(t, f.ti.GetPending(byName))

	f.write(t, nil, catalog.MetadataToDocument(model.NewIndexID(), 1,
		catalog.NewDatabaseBackfilling(index.NewName("users", "by_age"), []document.FieldPath{"age"})))
	assert.NotNil(t, f.ti.GetPending(index.NewName("users", "by_age")))

	// Every lookup records a catalog dependency.
	assert.NotEmpty(t, f.readSet.Indexed())
}
