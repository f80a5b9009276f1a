// Package txindex gives a transaction a consistent view of every index:
// the committed base snapshot with the transaction's own uncommitted
// writes merged on top. Reads see the transaction's writes, deletes hide
// committed rows, and everything a caller observes lands in the read set
// for commit-time conflict detection.
package txindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
	"github.com/hupe1980/docgo/reads"
	"github.com/hupe1980/docgo/snapshot"
	"github.com/hupe1980/docgo/textsearch"
)

const (
	// defaultPageSize is how many rows each fetch against the base
	// snapshot asks for while merging.
	defaultPageSize = 100

	// defaultMaxPageBytes bounds the bytes one returned page may carry.
	defaultMaxPageBytes = 1 << 20

	// yieldEvery is how many merged rows are processed between
	// cooperative yields, so a large merge cannot monopolize a thread.
	yieldEvery = 64
)

type options struct {
	logger       *slog.Logger
	pageSize     int
	maxPageBytes int
}

// Option configures a TransactionIndex.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPageSize sets the base snapshot fetch size.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithMaxPageBytes sets the byte budget of one returned page.
func WithMaxPageBytes(n int) Option {
	return func(o *options) { o.maxPageBytes = n }
}

// TransactionIndex is one transaction's view of the database's indexes.
// It is not safe for concurrent use; a transaction is single-threaded.
type TransactionIndex struct {
	registry        *catalog.Registry
	registryUpdated bool

	base    snapshot.Reader
	text    textsearch.Snapshot
	readSet *reads.Set

	overlays    map[model.IndexID]*overlayMap
	textUpdates map[model.IndexID][]document.Update

	logger       *slog.Logger
	pageSize     int
	maxPageBytes int
}

// New creates a transaction view over the committed base snapshot. The
// registry must describe the catalog as of the snapshot's timestamp; the
// transaction works on a private clone of it. A nil text snapshot makes
// Search return textsearch.ErrUnavailable.
func New(base snapshot.Reader, registry *catalog.Registry, readSet *reads.Set, text textsearch.Snapshot, opts ...Option) *TransactionIndex {
	o := options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		pageSize:     defaultPageSize,
		maxPageBytes: defaultMaxPageBytes,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.pageSize < 1 {
		o.pageSize = 1
	}
	if o.maxPageBytes < 1 {
		o.maxPageBytes = defaultMaxPageBytes
	}
	if text == nil {
		text = textsearch.Unavailable{}
	}
	return &TransactionIndex{
		registry:     registry.Clone(),
		base:         base,
		text:         text,
		readSet:      readSet,
		overlays:     make(map[model.IndexID]*overlayMap),
		textUpdates:  make(map[model.IndexID][]document.Update),
		logger:       o.logger,
		pageSize:     o.pageSize,
		maxPageBytes: o.maxPageBytes,
	}
}

// BaseSnapshot exposes the committed snapshot underneath the overlay.
// Reads through it bypass the transaction's writes and the read set.
func (ti *TransactionIndex) BaseSnapshot() snapshot.Reader { return ti.base }

// Registry exposes the transaction's current view of the catalog.
func (ti *TransactionIndex) Registry() *catalog.Registry { return ti.registry }

// recordLookup records that the transaction's result depended on resolving
// name against the catalog. A hit depends on that one metadata document; a
// miss depends on the absence of any matching metadata, which only the
// whole catalog range can express.
func (ti *TransactionIndex) recordLookup(name index.Name) {
	metaName := index.ByID(model.IndexTableID)
	idx := ti.registry.GetEnabled(name)
	if idx == nil {
		idx = ti.registry.GetPending(name)
	}
	if idx == nil {
		ti.readSet.RecordIndexedDerived(metaName, nil, index.All())
		return
	}
	key, err := catalog.IdentityKey(idx.ID)
	if err != nil {
		ti.readSet.RecordIndexedDerived(metaName, nil, index.All())
		return
	}
	ti.readSet.RecordIndexedDerived(metaName, nil, index.Prefix(key))
}

// GetEnabled resolves name to an enabled index, or nil. The resolution is
// recorded as a catalog read either way.
func (ti *TransactionIndex) GetEnabled(name index.Name) *catalog.Index {
	ti.recordLookup(name)
	return ti.registry.GetEnabled(name)
}

// GetPending resolves name to a backfilling index, or nil.
func (ti *TransactionIndex) GetPending(name index.Name) *catalog.Index {
	ti.recordLookup(name)
	return ti.registry.GetPending(name)
}

// RequireEnabled resolves name to an enabled index, distinguishing a
// backfilling index from a missing one.
func (ti *TransactionIndex) RequireEnabled(name index.Name) (*catalog.Index, error) {
	ti.recordLookup(name)
	return ti.registry.RequireEnabled(name)
}

// RangeResult is the outcome of one request in a batch.
type RangeResult struct {
	Rows   []index.TaggedRow
	Cursor index.Cursor
	Err    error
}

// RangeBatch reads one page per request, each merged over the
// transaction's pending writes and bounded by the row and byte budgets.
// The first snapshot fetch is batched across all requests to amortize the
// fan-out. Results align with requests by position.
func (ti *TransactionIndex) RangeBatch(ctx context.Context, reqs []index.RangeRequest) []RangeResult {
	results := make([]RangeResult, len(reqs))
	resolved := make([]*catalog.Index, len(reqs))
	settled := make([]bool, len(reqs))

	creqs := make([]index.RangeRequest, len(reqs))
	copy(creqs, reqs)

	var (
		fetch    []index.RangeRequest
		fetchPos []int
	)
	for i := range creqs {
		if creqs[i].MaxRows < 1 {
			creqs[i].MaxRows = 1
		}
		idx, res, done := ti.resolveRange(creqs[i])
		if done {
			results[i] = res
			settled[i] = true
			continue
		}
		resolved[i] = idx
		fetch = append(fetch, index.RangeRequest{
			Name:     creqs[i].Name,
			Interval: creqs[i].Interval,
			Order:    creqs[i].Order,
			MaxRows:  ti.pageSize,
		})
		fetchPos = append(fetchPos, i)
	}

	first := make([]*snapshot.Result, len(reqs))
	if len(fetch) > 0 {
		batch := ti.base.RangeBatch(ctx, fetch)
		for j, pos := range fetchPos {
			res := batch[j]
			first[pos] = &res
		}
	}

	for i := range creqs {
		if settled[i] {
			continue
		}
		results[i] = ti.mergeRange(ctx, resolved[i], creqs[i], first[i])
	}
	return results
}

// Range reads a single bounded page.
func (ti *TransactionIndex) Range(ctx context.Context, req index.RangeRequest) ([]index.TaggedRow, index.Cursor, error) {
	if req.MaxRows < 1 {
		req.MaxRows = 1
	}
	idx, res, done := ti.resolveRange(req)
	if !done {
		res = ti.mergeRange(ctx, idx, req, nil)
	}
	return res.Rows, res.Cursor, res.Err
}

// resolveRange resolves the request's index and records the catalog read.
// done reports that res is final and no merge is needed.
func (ti *TransactionIndex) resolveRange(req index.RangeRequest) (*catalog.Index, RangeResult, bool) {
	idx, err := ti.RequireEnabled(req.Name)
	if err != nil {
		// The built-in indexes exist implicitly for every table, so a
		// missing one means the table has never been written: an empty
		// range, not an error.
		if errors.Is(err, catalog.ErrIndexNotFound) && req.Name.IsByIDOrCreationTime() {
			if derr := ti.readSet.RecordIndexedDirectly(req.Name, nil, req.Interval); derr != nil {
				return nil, RangeResult{Err: derr}, true
			}
			return nil, RangeResult{Cursor: index.CursorEnd()}, true
		}
		return nil, RangeResult{Err: err}, true
	}
	if idx.Metadata.Config.Type != catalog.TypeDatabase {
		return nil, RangeResult{Err: fmt.Errorf("index %s is not a database index", req.Name)}, true
	}
	return idx, RangeResult{}, false
}

// mergeRange merges one resolved request, applies the budgets and records
// the read. A prefetched first snapshot page may be handed in from a batch.
func (ti *TransactionIndex) mergeRange(ctx context.Context, idx *catalog.Index, req index.RangeRequest, first *snapshot.Result) RangeResult {
	maxRows := req.MaxRows

	rows, fetchCursor, err := ti.rangeNoDeps(ctx, idx, req, first)
	if err != nil {
		return RangeResult{Err: err}
	}

	// Byte budget. The row budget runs first; the byte check uses the
	// total before the current row, so the row that crosses the budget is
	// still included and truncation starts at the one after it.
	var (
		page       []index.TaggedRow
		totalBytes int
		truncated  bool
	)
	for _, row := range rows {
		if len(page) >= maxRows {
			truncated = true
			break
		}
		if totalBytes >= ti.maxPageBytes {
			truncated = true
			break
		}
		totalBytes += row.Document.Size()
		page = append(page, row)
	}

	cursor := fetchCursor
	if truncated && len(page) > 0 {
		cursor = index.CursorAfter(page[len(page)-1].Key)
	}
	if !req.Interval.ContainsCursor(cursor) {
		ti.logger.Error("range cursor escaped its interval",
			"index", req.Name.String(),
			"interval", req.Interval.String(),
			"cursor", cursor.String(),
		)
		return RangeResult{Err: fmt.Errorf("range of %s: cursor %s outside %s: %w",
			req.Name, cursor, req.Interval, ErrNotMakingProgress)}
	}

	readPart, _ := req.Interval.Split(cursor, req.Order)
	if err := ti.readSet.RecordIndexedDirectly(req.Name, idx.Metadata.Config.Fields, readPart); err != nil {
		return RangeResult{Err: err}
	}
	for _, row := range page {
		if err := ti.readSet.RecordReadDocument(row.Document.ID.Table, row.Document.Size()); err != nil {
			return RangeResult{Err: err}
		}
	}
	return RangeResult{Rows: page, Cursor: cursor}
}

// rangeNoDeps merges base snapshot pages with the index's pending overlay
// in key order, without touching the read set or the byte budget. At equal
// keys the pending write wins: a pending document replaces the committed
// row and a tombstone suppresses it.
func (ti *TransactionIndex) rangeNoDeps(ctx context.Context, idx *catalog.Index, req index.RangeRequest, first *snapshot.Result) ([]index.TaggedRow, index.Cursor, error) {
	var pending []*overlayEntry
	if ov := ti.overlays[idx.ID]; ov != nil {
		pending = ov.entries(req.Interval, req.Order)
	}

	cmp := func(a, b index.KeyBytes) int {
		c := index.Compare(a, b)
		if req.Order == index.Desc {
			c = -c
		}
		return c
	}

	var (
		rows      []index.TaggedRow
		processed int
	)
	step := func() {
		processed++
		if processed%yieldEvery == 0 {
			runtime.Gosched()
		}
	}
	full := func() bool { return len(rows) >= req.MaxRows }
	lastCursor := func() index.Cursor { return index.CursorAfter(rows[len(rows)-1].Key) }

	remaining := req.Interval
	pi := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, index.Cursor{}, err
		}
		var res snapshot.Result
		if first != nil {
			res, first = *first, nil
		} else {
			results := ti.base.RangeBatch(ctx, []index.RangeRequest{{
				Name:     req.Name,
				Interval: remaining,
				Order:    req.Order,
				MaxRows:  ti.pageSize,
			}})
			res = results[0]
		}
		if res.Err != nil {
			return nil, index.Cursor{}, res.Err
		}

		for _, base := range res.Rows {
			skipBase := false
			for pi < len(pending) {
				c := cmp(pending[pi].key, base.Key)
				if c > 0 {
					break
				}
				e := pending[pi]
				pi++
				step()
				if e.doc != nil {
					rows = append(rows, index.TaggedRow{Key: e.key, Document: e.doc, Write: model.Pending()})
				}
				if c == 0 {
					skipBase = true
				}
				if full() {
					return rows, lastCursor(), nil
				}
				if c == 0 {
					break
				}
			}
			if skipBase {
				continue
			}
			step()
			rows = append(rows, index.TaggedRow{Key: base.Key, Document: base.Doc, Write: model.Committed(base.Ts)})
			if full() {
				return rows, lastCursor(), nil
			}
		}

		if res.Cursor.IsEnd() {
			for pi < len(pending) {
				e := pending[pi]
				pi++
				step()
				if e.doc != nil {
					rows = append(rows, index.TaggedRow{Key: e.key, Document: e.doc, Write: model.Pending()})
					if full() {
						return rows, lastCursor(), nil
					}
				}
			}
			return rows, index.CursorEnd(), nil
		}

		key, _ := res.Cursor.After()
		if !remaining.Contains(key) {
			return nil, index.Cursor{}, fmt.Errorf("fetch of %s: cursor %s outside %s: %w",
				req.Name, res.Cursor, remaining, ErrNotMakingProgress)
		}
		_, remaining = remaining.Split(res.Cursor, req.Order)
	}
}

// Search runs a text query with the transaction's pending writes for that
// index overlaid on the committed search snapshot. The backend serves the
// base catalog, so a transaction that has changed an index definition can
// no longer search consistently and must commit first.
func (ti *TransactionIndex) Search(ctx context.Context, name index.Name, query *textsearch.Query) (*textsearch.QueryResults, error) {
	if ti.registryUpdated {
		return nil, fmt.Errorf("search %s: %w", name, ErrSearchAfterCatalogUpdate)
	}
	idx, err := ti.registry.RequireEnabled(name)
	if err != nil {
		return nil, err
	}
	if idx.Metadata.Config.Type != catalog.TypeText {
		return nil, fmt.Errorf("index %s is not a text index", name)
	}
	results, err := ti.text.Search(ctx, idx, query, ti.textUpdates[idx.ID])
	if err != nil {
		return nil, err
	}
	// The read description comes from the backend, not from re-tokenizing
	// here, so the read set always matches what was actually consulted.
	ti.readSet.RecordSearch(name, results.Reads.SearchField, results.Reads.Tokens, results.Reads.Filters)
	return results, nil
}

// PreparedUpdate is a validated document write that has not been applied
// yet. Validation happened against a clone of the catalog, so Apply cannot
// fail: it replays the verified change onto the live catalog and fans the
// write out to the overlays.
type PreparedUpdate struct {
	ti       *TransactionIndex
	old, new *document.Document
	deltas   []catalog.KeyUpdate
	applied  bool
}

// BeginUpdate validates a document write against the transaction's
// catalog. Nothing is visible to reads until Apply.
func (ti *TransactionIndex) BeginUpdate(old, new *document.Document) (*PreparedUpdate, error) {
	if old == nil && new == nil {
		return nil, fmt.Errorf("begin update: no document given")
	}
	if old != nil && new != nil && old.ID != new.ID {
		return nil, fmt.Errorf("begin update: document id changed from %s to %s", old.ID, new.ID)
	}
	clone := ti.registry.Clone()
	if _, err := clone.Update(old, new); err != nil {
		return nil, err
	}
	deltas, err := clone.IndexUpdates(old, new)
	if err != nil {
		return nil, err
	}
	return &PreparedUpdate{
		ti:     ti,
		old:    old.Clone(),
		new:    new.Clone(),
		deltas: deltas,
	}, nil
}

// Apply makes the write visible to the transaction's own reads: the
// verified change mutates the live catalog in place, every database index
// on the table gets an overlay entry (a tombstone where a key disappeared)
// and every text index on the table gets the update queued for query-time
// overlay. Vector indexes are append-only at commit and take no
// transaction-local state. It returns the per-index key changes for the
// commit log. Mutating in place keeps several outstanding prepared updates
// composable: applying one never reverts another's catalog change.
func (p *PreparedUpdate) Apply() []catalog.KeyUpdate {
	if p.applied {
		panic("txindex: update applied twice")
	}
	p.applied = true

	ti := p.ti
	modified := ti.registry.ApplyVerified(p.old, p.new)
	if modified {
		ti.registryUpdated = true
	}

	for _, u := range p.deltas {
		ov, ok := ti.overlays[u.IndexID]
		if !ok {
			ov = newOverlayMap()
			ti.overlays[u.IndexID] = ov
		}
		if u.Deleted {
			ov.set(u.Key, nil)
			continue
		}
		if p.new == nil || u.DocumentID != p.new.ID {
			panic(fmt.Sprintf("txindex: index update for %s does not match written document", u.DocumentID))
		}
		ov.set(u.Key, p.new)
	}

	id := p.old
	if p.new != nil {
		id = p.new
	}
	for _, textIdx := range ti.registry.TextIndexesByTable(id.ID.Table) {
		ti.textUpdates[textIdx.ID] = append(ti.textUpdates[textIdx.ID], document.Update{
			ID:  id.ID,
			Old: p.old,
			New: p.new,
		})
	}

	ti.logger.Debug("applied document write",
		"id", id.ID.String(),
		"deltas", len(p.deltas),
		"catalogChanged", modified,
	)
	return p.deltas
}
