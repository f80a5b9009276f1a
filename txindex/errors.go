package txindex

import "errors"

var (
	// ErrNotMakingProgress means a range read produced a resumption cursor
	// outside the interval it was reading. Retrying would loop forever, so
	// this is a defect, not a transient condition.
	ErrNotMakingProgress = errors.New("paginated index read is not making progress")

	// ErrIndexNotUnique is returned when a preload finds two documents
	// with the same indexed value.
	ErrIndexNotUnique = errors.New("index is not unique")

	// ErrSearchAfterCatalogUpdate is returned when a transaction runs a
	// text search after changing an index definition. The search backend
	// is fixed at the base snapshot's catalog, so results after a
	// definition change could not reflect the transaction's own catalog.
	ErrSearchAfterCatalogUpdate = errors.New("cannot run text search after updating an index definition in the same transaction")
)
