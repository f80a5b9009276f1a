package bm25

import (
	"context"
	"sync"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/model"
	"github.com/hupe1980/docgo/textsearch"
)

// Snapshot holds the BM25 index of every text index at one committed
// timestamp and serves searches with a transaction's pending writes
// overlaid.
type Snapshot struct {
	mu      sync.RWMutex
	indexes map[model.IndexID]*Index
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{indexes: make(map[model.IndexID]*Index)}
}

// Add indexes a committed document revision into idx's BM25 index,
// creating the index from its metadata on first use.
func (s *Snapshot) Add(idx *catalog.Index, d *document.Document, ts model.Timestamp) {
	s.index(idx).Add(d, model.Committed(ts))
}

// Delete removes a committed document from idx's BM25 index.
func (s *Snapshot) Delete(idx *catalog.Index, id model.DocumentID) {
	s.index(idx).Delete(id)
}

func (s *Snapshot) index(idx *catalog.Index) *Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.indexes[idx.ID]
	if !ok {
		in = New(idx.Metadata.Config.SearchField, idx.Metadata.Config.FilterFields...)
		s.indexes[idx.ID] = in
	}
	return in
}

// Search runs the query against the committed index with pending writes
// applied on a private clone. The shared index never observes a
// transaction's uncommitted state.
func (s *Snapshot) Search(ctx context.Context, idx *catalog.Index, query *textsearch.Query, pending []document.Update) (*textsearch.QueryResults, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	in := s.indexes[idx.ID]
	s.mu.RUnlock()
	if in == nil {
		in = New(idx.Metadata.Config.SearchField, idx.Metadata.Config.FilterFields...)
	}

	if len(pending) > 0 {
		in = in.Clone()
		for _, u := range pending {
			if u.New != nil {
				in.Add(u.New, model.Pending())
				continue
			}
			in.Delete(u.ID)
		}
	}
	return &textsearch.QueryResults{
		Revisions: in.Search(query),
		Reads: textsearch.Reads{
			SearchField: idx.Metadata.Config.SearchField,
			Tokens:      textsearch.Tokenize(query.Text),
			Filters:     query.Filters,
		},
	}, nil
}
