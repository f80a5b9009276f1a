// Package textsearch defines how a transaction talks to a text search
// backend. The backend sees the committed state; the transaction passes
// its own pending writes explicitly so results are deterministic for a
// given (snapshot, pending) pair and never depend on hidden backend state.
package textsearch

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

// ErrUnavailable is returned by deployments built without a text search
// backend.
var ErrUnavailable = errors.New("text search is not available")

// Query is one text search against a single text index.
type Query struct {
	// Text is tokenized with Tokenize before matching.
	Text string
	// Filters are equality conditions on the index's filter fields.
	Filters map[document.FieldPath]any
	// Limit caps the number of revisions returned. Zero means no cap.
	Limit int
}

// CandidateRevision is one scored match: the document, its key bytes in
// the text index, and a write tag distinguishing committed matches from
// the transaction's own pending writes.
type CandidateRevision struct {
	ID    model.DocumentID
	Key   index.KeyBytes
	Ts    model.WriteTimestamp
	Score float32
}

// Reads describes what the backend consulted to answer a query: the
// indexed field, the query's tokens and its filter conditions. The caller
// merges it into the transaction's read set, so it must come from the
// backend rather than be re-derived, or the two could disagree.
type Reads struct {
	SearchField document.FieldPath
	Tokens      []string
	Filters     map[document.FieldPath]any
}

// QueryResults are the scored matches in descending score order, ties
// broken by document id for determinism, plus the reads that produced
// them.
type QueryResults struct {
	Revisions []CandidateRevision
	Reads     Reads
}

// Snapshot is a text search backend fixed at one committed timestamp.
type Snapshot interface {
	Search(ctx context.Context, idx *catalog.Index, query *Query, pending []document.Update) (*QueryResults, error)
}

// Unavailable is the Snapshot for deployments without text search.
type Unavailable struct{}

func (Unavailable) Search(context.Context, *catalog.Index, *Query, []document.Update) (*QueryResults, error) {
	return nil, ErrUnavailable
}

// Tokenize lowercases the text and splits on anything that is not a
// letter or digit. Both indexing and querying use it, so the two sides
// always agree on token boundaries.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
