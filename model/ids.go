// Package model holds the identifier and timestamp types shared by every
// layer of docgo. Keeping them in one small package avoids import cycles
// between the catalog, snapshot and transaction layers.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// TableID names a table. Table names are stable for the lifetime of the
// table and are used directly as identifiers; system tables are prefixed
// with an underscore.
type TableID string

// IndexTableID is the system table that stores index metadata documents.
// The catalog is a derived view of this table.
const IndexTableID TableID = "_index"

// IsSystem reports whether the table is a system table.
func (t TableID) IsSystem() bool {
	return len(t) > 0 && t[0] == '_'
}

// IndexID is the opaque identity of an index. All per-index transaction
// state (overlays, text update queues) is keyed by IndexID, never by name.
type IndexID string

// NewIndexID generates a fresh opaque index id.
func NewIndexID() IndexID {
	return IndexID(uuid.NewString())
}

// DocumentID identifies a document within a table.
type DocumentID struct {
	Table TableID
	ID    string
}

// NewDocumentID generates a fresh document id in the given table.
func NewDocumentID(table TableID) DocumentID {
	return DocumentID{Table: table, ID: uuid.NewString()}
}

func (d DocumentID) String() string {
	return fmt.Sprintf("%s/%s", d.Table, d.ID)
}

// IsZero reports whether the id is the zero value.
func (d DocumentID) IsZero() bool {
	return d.Table == "" && d.ID == ""
}
