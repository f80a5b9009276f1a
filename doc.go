// Package docgo is a transactional document index layer. A transaction
// reads a committed snapshot of every index while its own uncommitted
// writes are merged on top, so it always sees its writes, its deletes and
// the committed state in a single ordered view.
//
// The packages compose bottom-up:
//
//   - model, document, codec: documents, ids, timestamps and encoding.
//   - index: index names, order-preserving key bytes, intervals, cursors.
//   - catalog: the index registry, derived from the `_index` table.
//   - snapshot: committed index state as of one timestamp.
//   - reads: the transaction's read set and budgets.
//   - textsearch, textsearch/bm25: text search over snapshot plus
//     pending writes.
//   - blobstore (+ s3, minio): where text index segments live.
//   - txindex: the transaction view tying all of it together.
package docgo
