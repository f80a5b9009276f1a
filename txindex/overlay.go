package txindex

import (
	"github.com/google/btree"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
)

const overlayDegree = 8

// overlayEntry is one pending write in one index: the document at its key,
// or a tombstone (nil document) where the transaction deleted the key.
type overlayEntry struct {
	key index.KeyBytes
	doc *document.Document
}

func overlayLess(a, b *overlayEntry) bool {
	return index.Compare(a.key, b.key) < 0
}

// overlayMap is the ordered pending-write overlay of a single index.
// Later writes to the same key replace earlier ones, so the overlay always
// holds the transaction's net effect per key.
type overlayMap struct {
	tree *btree.BTreeG[*overlayEntry]
}

func newOverlayMap() *overlayMap {
	return &overlayMap{tree: btree.NewG(overlayDegree, overlayLess)}
}

// set upserts the key with doc, or a tombstone when doc is nil.
func (o *overlayMap) set(key index.KeyBytes, doc *document.Document) {
	o.tree.ReplaceOrInsert(&overlayEntry{key: key.Clone(), doc: doc})
}

// entries returns the overlay entries inside the interval, ordered for the
// requested direction. Overlays are small relative to ranges, so a page's
// worth is materialized up front rather than streamed.
func (o *overlayMap) entries(in index.Interval, order index.Order) []*overlayEntry {
	var out []*overlayEntry
	visit := func(e *overlayEntry) bool {
		out = append(out, e)
		return true
	}
	if order == index.Asc {
		o.tree.AscendGreaterOrEqual(&overlayEntry{key: in.Start}, func(e *overlayEntry) bool {
			if !in.Unbounded && index.Compare(e.key, in.End) >= 0 {
				return false
			}
			return visit(e)
		})
		return out
	}
	descend := func(e *overlayEntry) bool {
		if index.Compare(e.key, in.Start) < 0 {
			return false
		}
		if !in.Unbounded && index.Compare(e.key, in.End) >= 0 {
			return true
		}
		return visit(e)
	}
	if in.Unbounded {
		o.tree.Descend(descend)
	} else {
		o.tree.DescendLessOrEqual(&overlayEntry{key: in.End}, descend)
	}
	return out
}
