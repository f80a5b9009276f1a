// Package bm25 is an in-memory text search backend scoring matches with
// BM25. Postings are roaring bitmaps over dense document ordinals; the
// bitmap union of the query's tokens is the candidate set, then each
// candidate is scored and filtered.
package bm25

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
	"github.com/hupe1980/docgo/textsearch"
)

const (
	k1 = 1.2
	b  = 0.75
)

type docEntry struct {
	id      model.DocumentID
	key     index.KeyBytes
	ts      model.WriteTimestamp
	length  int
	filters map[document.FieldPath]any
}

// Index is the BM25 index of one text index's documents.
type Index struct {
	mu sync.RWMutex

	searchField  document.FieldPath
	filterFields []document.FieldPath

	docs        map[uint32]*docEntry
	ordinals    map[model.DocumentID]uint32
	nextOrdinal uint32

	postings    map[string]*roaring.Bitmap
	freqs       map[string]map[uint32]int
	totalLength int64
}

// New creates an empty index over searchField, capturing filterFields for
// equality filtering at query time.
func New(searchField document.FieldPath, filterFields ...document.FieldPath) *Index {
	return &Index{
		searchField:  searchField,
		filterFields: filterFields,
		docs:         make(map[uint32]*docEntry),
		ordinals:     make(map[model.DocumentID]uint32),
		postings:     make(map[string]*roaring.Bitmap),
		freqs:        make(map[string]map[uint32]int),
	}
}

// SearchField returns the indexed field.
func (i *Index) SearchField() document.FieldPath { return i.searchField }

// Add indexes a document revision, replacing any previous revision of the
// same document. Documents without a string search field index as empty.
func (i *Index) Add(d *document.Document, ts model.WriteTimestamp) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleteLocked(d.ID)

	text, _ := d.Get(i.searchField)
	str, _ := text.(string)
	tokens := textsearch.Tokenize(str)

	ord := i.nextOrdinal
	i.nextOrdinal++

	entry := &docEntry{
		id:      d.ID,
		key:     identityKey(d.ID),
		ts:      ts,
		length:  len(tokens),
		filters: make(map[document.FieldPath]any, len(i.filterFields)),
	}
	for _, f := range i.filterFields {
		if v, ok := d.Get(f); ok {
			entry.filters[f] = v
		}
	}
	i.docs[ord] = entry
	i.ordinals[d.ID] = ord
	i.totalLength += int64(len(tokens))

	tf := make(map[string]int)
	for _, t := range tokens {
		tf[t]++
	}
	for t, count := range tf {
		bm, ok := i.postings[t]
		if !ok {
			bm = roaring.New()
			i.postings[t] = bm
			i.freqs[t] = make(map[uint32]int)
		}
		bm.Add(ord)
		i.freqs[t][ord] = count
	}
}

// Delete removes a document. Deleting an unknown id is a no-op.
func (i *Index) Delete(id model.DocumentID) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.deleteLocked(id)
}

func (i *Index) deleteLocked(id model.DocumentID) {
	ord, ok := i.ordinals[id]
	if !ok {
		return
	}
	entry := i.docs[ord]
	for t, bm := range i.postings {
		if bm.CheckedRemove(ord) {
			delete(i.freqs[t], ord)
			if bm.IsEmpty() {
				delete(i.postings, t)
				delete(i.freqs, t)
			}
		}
	}
	i.totalLength -= int64(entry.length)
	delete(i.docs, ord)
	delete(i.ordinals, id)
}

// Clone returns an independent copy. Query-time overlays apply a
// transaction's pending writes to a clone so the shared index stays fixed
// at its snapshot.
func (i *Index) Clone() *Index {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := New(i.searchField, i.filterFields...)
	out.nextOrdinal = i.nextOrdinal
	out.totalLength = i.totalLength
	for ord, e := range i.docs {
		filters := make(map[document.FieldPath]any, len(e.filters))
		for k, v := range e.filters {
			filters[k] = v
		}
		out.docs[ord] = &docEntry{id: e.id, key: e.key, ts: e.ts, length: e.length, filters: filters}
		out.ordinals[e.id] = ord
	}
	for t, bm := range i.postings {
		out.postings[t] = bm.Clone()
		fr := make(map[uint32]int, len(i.freqs[t]))
		for ord, c := range i.freqs[t] {
			fr[ord] = c
		}
		out.freqs[t] = fr
	}
	return out
}

// Search scores the query's tokens with BM25 and returns matches in
// descending score order, ties broken by document id.
func (i *Index) Search(q *textsearch.Query) []textsearch.CandidateRevision {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.docs) == 0 {
		return nil
	}
	tokens := textsearch.Tokenize(q.Text)
	candidates := roaring.New()
	for _, t := range tokens {
		if bm, ok := i.postings[t]; ok {
			candidates.Or(bm)
		}
	}

	avgLen := float64(i.totalLength) / float64(len(i.docs))
	var out []textsearch.CandidateRevision
	it := candidates.Iterator()
	for it.HasNext() {
		ord := it.Next()
		entry := i.docs[ord]
		if !i.matchesFilters(entry, q.Filters) {
			continue
		}
		var score float64
		for _, t := range tokens {
			count, ok := i.freqs[t][ord]
			if !ok {
				continue
			}
			idf := i.idf(int(i.postings[t].GetCardinality()))
			tf := float64(count)
			num := tf * (k1 + 1)
			denom := tf + k1*(1-b+b*(float64(entry.length)/avgLen))
			score += idf * (num / denom)
		}
		out = append(out, textsearch.CandidateRevision{ID: entry.id, Key: entry.key, Ts: entry.ts, Score: float32(score)})
	}

	sort.Slice(out, func(a, c int) bool {
		if out[a].Score != out[c].Score {
			return out[a].Score > out[c].Score
		}
		return out[a].ID.String() < out[c].ID.String()
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (i *Index) matchesFilters(entry *docEntry, filters map[document.FieldPath]any) bool {
	for f, want := range filters {
		if got, ok := entry.filters[f]; !ok || got != want {
			return false
		}
	}
	return true
}

// identityKey is the document's key bytes in the text index. Text indexes
// key candidates by document identity; encoding an id cannot fail.
func identityKey(id model.DocumentID) index.KeyBytes {
	key, err := index.EncodeKey(nil, id)
	if err != nil {
		panic(fmt.Sprintf("bm25: encode key for %s: %v", id, err))
	}
	return key
}

// idf follows log(1 + (N - n + 0.5) / (n + 0.5)), which stays positive for
// terms present in most documents.
func (i *Index) idf(df int) float64 {
	n := float64(len(i.docs))
	d := float64(df)
	return math.Log(1 + (n-d+0.5)/(d+0.5))
}
