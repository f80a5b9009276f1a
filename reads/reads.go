// Package reads accumulates a transaction's read set: the index intervals,
// documents and search queries it observed. The read set is what commit
// time conflict detection runs against, so every code path that surfaces
// committed data to a caller must record here first. Budgets keep a single
// transaction from depending on an unbounded slice of the database.
package reads

import (
	"errors"
	"fmt"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

var (
	// ErrTooManyReads is returned once a transaction has read more
	// documents than its budget allows.
	ErrTooManyReads = errors.New("transaction read too many documents")

	// ErrReadTooLarge is returned once a transaction has read more bytes
	// than its budget allows.
	ErrReadTooLarge = errors.New("transaction read too many bytes")

	// ErrTooManyIntervals is returned once a transaction depends on more
	// index intervals than its budget allows.
	ErrTooManyIntervals = errors.New("transaction depends on too many index ranges")
)

// Default budgets. User-driven reads hit these; system bookkeeping reads
// are derived and exempt so internal lookups never fail a transaction that
// stayed within its own budget.
const (
	DefaultMaxDocumentsRead = 16384
	DefaultMaxBytesRead     = 8 << 20
	DefaultMaxIntervals     = 4096
)

// Limits bounds what one transaction may read. Zero fields fall back to
// the defaults.
type Limits struct {
	MaxDocumentsRead int
	MaxBytesRead     int
	MaxIntervals     int
}

func (l Limits) withDefaults() Limits {
	if l.MaxDocumentsRead == 0 {
		l.MaxDocumentsRead = DefaultMaxDocumentsRead
	}
	if l.MaxBytesRead == 0 {
		l.MaxBytesRead = DefaultMaxBytesRead
	}
	if l.MaxIntervals == 0 {
		l.MaxIntervals = DefaultMaxIntervals
	}
	return l
}

// IndexedRead is one interval a transaction observed in one index.
type IndexedRead struct {
	Name     index.Name
	Fields   []document.FieldPath
	Interval index.Interval
}

// SearchRead is one text search a transaction executed. Conflict detection
// re-evaluates the tokens and filters against committed writes, so the
// read records the whole query rather than an interval.
type SearchRead struct {
	Name        index.Name
	SearchField document.FieldPath
	Tokens      []string
	Filters     map[document.FieldPath]any
}

// Set is a transaction's accumulated read set. It is not safe for
// concurrent use; a transaction is single-threaded by construction.
type Set struct {
	limits Limits

	indexed  []IndexedRead
	searches []SearchRead

	userIntervals int
	docsRead      int
	bytesRead     int
}

// NewSet creates an empty read set with the given budgets.
func NewSet(limits Limits) *Set {
	return &Set{limits: limits.withDefaults()}
}

// RecordIndexedDirectly records an interval the caller asked to read. It
// counts against the interval budget.
func (s *Set) RecordIndexedDirectly(name index.Name, fields []document.FieldPath, in index.Interval) error {
	if s.userIntervals >= s.limits.MaxIntervals {
		return fmt.Errorf("recording range of %s: %w (limit %d)", name, ErrTooManyIntervals, s.limits.MaxIntervals)
	}
	s.userIntervals++
	s.indexed = append(s.indexed, IndexedRead{Name: name, Fields: fields, Interval: in})
	return nil
}

// RecordIndexedDerived records an interval the system read on the caller's
// behalf, such as the catalog lookup behind an index resolution. Derived
// reads participate in conflict detection but are exempt from the interval
// budget.
func (s *Set) RecordIndexedDerived(name index.Name, fields []document.FieldPath, in index.Interval) {
	s.indexed = append(s.indexed, IndexedRead{Name: name, Fields: fields, Interval: in})
}

// RecordReadDocument charges one returned document against the row and
// byte budgets. System tables are exempt from the row budget so catalog
// bookkeeping never starves user reads, but their bytes still count.
func (s *Set) RecordReadDocument(table model.TableID, size int) error {
	if !table.IsSystem() {
		if s.docsRead >= s.limits.MaxDocumentsRead {
			return fmt.Errorf("reading from %s: %w (limit %d)", table, ErrTooManyReads, s.limits.MaxDocumentsRead)
		}
		s.docsRead++
	}
	if s.bytesRead+size > s.limits.MaxBytesRead {
		return fmt.Errorf("reading from %s: %w (limit %d)", table, ErrReadTooLarge, s.limits.MaxBytesRead)
	}
	s.bytesRead += size
	return nil
}

// RecordSearch records one executed text search. Tokens and filters are
// copied so later caller mutations cannot rewrite the read set.
func (s *Set) RecordSearch(name index.Name, searchField document.FieldPath, tokens []string, filters map[document.FieldPath]any) {
	var fcopy map[document.FieldPath]any
	if len(filters) > 0 {
		fcopy = make(map[document.FieldPath]any, len(filters))
		for k, v := range filters {
			fcopy[k] = v
		}
	}
	s.searches = append(s.searches, SearchRead{
		Name:        name,
		SearchField: searchField,
		Tokens:      append([]string(nil), tokens...),
		Filters:     fcopy,
	})
}

// Indexed returns the recorded interval reads.
func (s *Set) Indexed() []IndexedRead { return s.indexed }

// Searches returns the recorded text searches.
func (s *Set) Searches() []SearchRead { return s.searches }

// DocumentsRead returns how many budget-counted documents were read.
func (s *Set) DocumentsRead() int { return s.docsRead }

// BytesRead returns the total bytes charged so far.
func (s *Set) BytesRead() int { return s.bytesRead }
