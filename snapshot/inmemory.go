package snapshot

import (
	"context"
	"fmt"

	"github.com/google/btree"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

const (
	inMemoryDegree     = 16
	defaultConcurrency = 8
)

type entry struct {
	key index.KeyBytes
	ts  model.Timestamp
	doc document.Packed
}

func entryLess(a, b *entry) bool { return index.Compare(a.key, b.key) < 0 }

type options struct {
	codec       codec.Codec
	packer      document.Packer
	concurrency int
}

// Option configures an in-memory snapshot.
type Option func(*options)

// WithCodec selects the codec used to pack stored documents.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithPacker selects the compression applied to stored documents.
func WithPacker(p document.Packer) Option {
	return func(o *options) { o.packer = p }
}

// WithConcurrency bounds how many batch requests run at once.
func WithConcurrency(n int) Option {
	return func(o *options) { o.concurrency = n }
}

// InMemory holds every index of one committed snapshot as an ordered tree
// of packed documents. It owns a private clone of the registry so writes
// applied to it keep registry and trees in lockstep without affecting the
// caller's catalog.
type InMemory struct {
	ts       model.Timestamp
	registry *catalog.Registry
	indexes  map[model.IndexID]*btree.BTreeG[*entry]
	opts     options
}

// NewInMemory creates an empty snapshot at ts over the given catalog.
func NewInMemory(ts model.Timestamp, registry *catalog.Registry, opts ...Option) *InMemory {
	o := options{
		codec:       codec.Default,
		packer:      document.ZstdPacker{},
		concurrency: defaultConcurrency,
	}
	for _, fn := range opts {
		fn(&o)
	}
	return &InMemory{
		ts:       ts,
		registry: registry.Clone(),
		indexes:  make(map[model.IndexID]*btree.BTreeG[*entry]),
		opts:     o,
	}
}

// Timestamp returns the snapshot's commit timestamp: the highest timestamp
// of any write applied to it.
func (s *InMemory) Timestamp() model.Timestamp { return s.ts }

// Registry exposes the snapshot's view of the catalog.
func (s *InMemory) Registry() *catalog.Registry { return s.registry }

// Write applies one committed document change at ts: the catalog change if
// the document lives in the `_index` table, then the entry changes across
// every database index on the document's table.
func (s *InMemory) Write(ts model.Timestamp, old, new *document.Document) error {
	if _, err := s.registry.Update(old, new); err != nil {
		return err
	}
	updates, err := s.registry.IndexUpdates(old, new)
	if err != nil {
		return err
	}
	for _, u := range updates {
		tree, ok := s.indexes[u.IndexID]
		if !ok {
			tree = btree.NewG(inMemoryDegree, entryLess)
			s.indexes[u.IndexID] = tree
		}
		if u.Deleted {
			tree.Delete(&entry{key: u.Key})
			continue
		}
		packed, err := document.Pack(new, s.opts.codec, s.opts.packer)
		if err != nil {
			return err
		}
		tree.ReplaceOrInsert(&entry{key: u.Key, ts: ts, doc: packed})
	}
	if ts > s.ts {
		s.ts = ts
	}
	return nil
}

// RangeBatch serves the requests concurrently; results align by position.
func (s *InMemory) RangeBatch(ctx context.Context, reqs []index.RangeRequest) []Result {
	results := make([]Result, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = s.rangeOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *InMemory) rangeOne(ctx context.Context, req index.RangeRequest) Result {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	idx := s.registry.GetEnabled(req.Name)
	if idx == nil {
		// A snapshot taken before a table's first write has no tree for its
		// built-in indexes. That is an empty table, not a defect, except
		// for the catalog's own table which always exists.
		if req.Name.Table == model.IndexTableID {
			return Result{Err: fmt.Errorf("snapshot is missing system index %s", req.Name)}
		}
		return Result{Cursor: index.CursorEnd()}
	}
	tree, ok := s.indexes[idx.ID]
	if !ok {
		return Result{Cursor: index.CursorEnd()}
	}

	maxRows := req.MaxRows
	if maxRows < 1 {
		maxRows = 1
	}
	var (
		rows []Row
		err  error
	)
	visit := func(e *entry) bool {
		if len(rows) >= maxRows {
			return false
		}
		var doc *document.Document
		if doc, err = e.doc.Unpack(); err != nil {
			err = fmt.Errorf("snapshot read %s: %w", req.Name, err)
			return false
		}
		rows = append(rows, Row{Key: e.key.Clone(), Ts: e.ts, Doc: doc})
		return true
	}
	in := req.Interval
	if req.Order == index.Asc {
		tree.AscendGreaterOrEqual(&entry{key: in.Start}, func(e *entry) bool {
			if !in.Unbounded && index.Compare(e.key, in.End) >= 0 {
				return false
			}
			return visit(e)
		})
	} else {
		descend := func(e *entry) bool {
			if index.Compare(e.key, in.Start) < 0 {
				return false
			}
			if !in.Unbounded && index.Compare(e.key, in.End) >= 0 {
				return true
			}
			return visit(e)
		}
		if in.Unbounded {
			tree.Descend(descend)
		} else {
			tree.DescendLessOrEqual(&entry{key: in.End}, descend)
		}
	}
	if err != nil {
		return Result{Err: err}
	}

	// A full page may have more behind it; the caller resumes from the
	// fetch cursor. A short page proves the interval is exhausted.
	cursor := index.CursorEnd()
	if len(rows) >= maxRows {
		cursor = index.CursorAfter(rows[len(rows)-1].Key)
	}
	return Result{Rows: rows, Cursor: cursor}
}
