// Package document defines the document value model: plain documents,
// field-path traversal, the packed (compressed) representation stored by
// snapshot indexes, and the old/new update pair fanned out to indexes.
package document

import (
	"fmt"

	"github.com/hupe1980/docgo/model"
)

// Document is a single database document. Field values are the JSON value
// kinds produced by the codec package: nil, bool, float64, string,
// map[string]any and []any.
type Document struct {
	ID           model.DocumentID
	CreationTime model.Timestamp
	Fields       map[string]any
}

// New creates a document with the given fields.
func New(id model.DocumentID, creationTime model.Timestamp, fields map[string]any) *Document {
	if fields == nil {
		fields = map[string]any{}
	}
	return &Document{ID: id, CreationTime: creationTime, Fields: fields}
}

// Get resolves a field path against the document.
func (d *Document) Get(path FieldPath) (any, bool) {
	return path.Get(d.Fields)
}

// Size estimates the encoded size of the document in bytes. It is used for
// read budgets, so it only has to be stable and roughly proportional to the
// wire size.
func (d *Document) Size() int {
	return len(d.ID.ID) + len(d.ID.Table) + 8 + valueSize(d.Fields)
}

func valueSize(v any) int {
	switch v := v.(type) {
	case nil:
		return 4
	case bool:
		return 5
	case float64:
		return 8
	case string:
		return len(v) + 2
	case []any:
		n := 2
		for _, e := range v {
			n += valueSize(e) + 1
		}
		return n
	case map[string]any:
		n := 2
		for k, e := range v {
			n += len(k) + 3 + valueSize(e) + 1
		}
		return n
	default:
		// Unknown kinds are rejected at key-encoding time; count something
		// non-zero so budgets still make progress.
		return len(fmt.Sprint(v))
	}
}

// Clone returns a deep copy. Overlays hand documents back to callers, so
// stored documents must not alias caller-owned maps.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	return &Document{
		ID:           d.ID,
		CreationTime: d.CreationTime,
		Fields:       cloneValue(d.Fields).(map[string]any),
	}
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Update is one logical document write: an insert (Old nil), delete
// (New nil) or replacement. It is what the update protocol fans out to the
// per-index overlays and what text search backends receive as the pending
// change list.
type Update struct {
	ID  model.DocumentID
	Old *Document
	New *Document
}
