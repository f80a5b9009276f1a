package index

import (
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/model"
)

// RangeRequest asks for one bounded page of an index range.
type RangeRequest struct {
	Name     Name
	Interval Interval
	Order    Order
	// MaxRows bounds the page size. Values below one are treated as one so
	// a non-empty range always makes progress.
	MaxRows int
}

// TaggedRow is one merged row: its index key, the document, and whether it
// came from the committed base snapshot or this transaction's own writes.
type TaggedRow struct {
	Key      KeyBytes
	Document *document.Document
	Write    model.WriteTimestamp
}

// RangeResponse is one page plus the cursor to resume from. The cursor is
// End once the interval is exhausted.
type RangeResponse struct {
	Rows   []TaggedRow
	Cursor Cursor
}
