// Package snapshot reads committed index data as of a fixed timestamp. It
// is the base layer that a transaction's own writes are merged over: rows
// come back in key order with commit timestamps and a fetch cursor, and
// nothing here knows about pending writes.
package snapshot

import (
	"context"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

// Row is one committed index entry.
type Row struct {
	Key index.KeyBytes
	Ts  model.Timestamp
	Doc *document.Document
}

// Result is the outcome of one request in a batch. Cursor is After(last
// key) when the page filled up and more rows may remain, End when the
// interval is exhausted.
type Result struct {
	Rows   []Row
	Cursor index.Cursor
	Err    error
}

// Reader serves batched range reads against one committed snapshot.
// Requests in a batch are independent and may be served concurrently;
// results align with requests by position.
type Reader interface {
	RangeBatch(ctx context.Context, reqs []index.RangeRequest) []Result
	Timestamp() model.Timestamp
}
