package txindex

import (
	"context"
	"fmt"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
)

// preloadPageSize is the fixed fetch size while materializing an index.
const preloadPageSize = 256

// PreloadedRange is a fully materialized single-field unique index:
// every document keyed by its indexed value, with the transaction's
// pending writes already merged in. Building it records no interval read;
// only the point lookups made through Get land in the read set, so a
// transaction that consults two keys of a preloaded index conflicts on
// exactly those two keys.
type PreloadedRange struct {
	ti    *TransactionIndex
	name  index.Name
	field document.FieldPath
	docs  map[string]*document.Document
}

// Preload reads the whole index into memory. The index must be a database
// index over exactly one field and every document must have a distinct
// value for it.
func (ti *TransactionIndex) Preload(ctx context.Context, name index.Name) (*PreloadedRange, error) {
	idx, err := ti.RequireEnabled(name)
	if err != nil {
		return nil, err
	}
	if idx.Metadata.Config.Type != catalog.TypeDatabase {
		return nil, fmt.Errorf("preload %s: not a database index", name)
	}
	if len(idx.Metadata.Config.Fields) != 1 {
		return nil, fmt.Errorf("preload %s: index must cover exactly one field", name)
	}
	field := idx.Metadata.Config.Fields[0]

	docs := make(map[string]*document.Document)
	interval := index.All()
	for {
		rows, cursor, err := ti.rangeNoDeps(ctx, idx, index.RangeRequest{
			Name:     name,
			Interval: interval,
			Order:    index.Asc,
			MaxRows:  preloadPageSize,
		}, nil)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			v, ok := row.Document.Get(field)
			if !ok {
				v = nil
			}
			prefix, err := index.EncodeValuesPrefix([]any{v})
			if err != nil {
				return nil, fmt.Errorf("preload %s: %w", name, err)
			}
			if _, dup := docs[string(prefix)]; dup {
				return nil, fmt.Errorf("preload %s: duplicate value %v: %w", name, v, ErrIndexNotUnique)
			}
			docs[string(prefix)] = row.Document
		}
		if cursor.IsEnd() {
			break
		}
		if !interval.ContainsCursor(cursor) {
			return nil, fmt.Errorf("preload %s: cursor %s outside %s: %w", name, cursor, interval, ErrNotMakingProgress)
		}
		_, interval = interval.Split(cursor, index.Asc)
	}

	ti.logger.Debug("preloaded index", "index", name.String(), "documents", len(docs))
	return &PreloadedRange{ti: ti, name: name, field: field, docs: docs}, nil
}

// Get returns the document with the given indexed value, or nil. The
// lookup records a read of exactly the keys that carry this value.
func (p *PreloadedRange) Get(value any) (*document.Document, error) {
	prefix, err := index.EncodeValuesPrefix([]any{value})
	if err != nil {
		return nil, fmt.Errorf("preloaded lookup in %s: %w", p.name, err)
	}
	p.ti.readSet.RecordIndexedDerived(p.name, []document.FieldPath{p.field}, index.Prefix(prefix))
	return p.docs[string(prefix)], nil
}

// Len returns how many documents the index holds.
func (p *PreloadedRange) Len() int { return len(p.docs) }
