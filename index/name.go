// Package index defines the value types shared by everything that touches
// index data: index names, order-preserving key bytes, intervals and
// cursors, and the range request/response pair.
package index

import (
	"fmt"

	"github.com/hupe1980/docgo/model"
)

// Descriptors of the built-in indexes every table carries.
const (
	ByIDDescriptor           = "by_id"
	ByCreationTimeDescriptor = "by_creation_time"
)

// Name is the durable, human-printable identity of an index: the table it
// indexes plus a descriptor unique within the table. Names are immutable
// for the lifetime of an index.
type Name struct {
	Table      model.TableID
	Descriptor string
}

// NewName builds an index name.
func NewName(table model.TableID, descriptor string) Name {
	return Name{Table: table, Descriptor: descriptor}
}

// ByID is the built-in primary-key index of a table.
func ByID(table model.TableID) Name {
	return Name{Table: table, Descriptor: ByIDDescriptor}
}

// ByCreationTime is the built-in creation-order index of a table.
func ByCreationTime(table model.TableID) Name {
	return Name{Table: table, Descriptor: ByCreationTimeDescriptor}
}

func (n Name) String() string {
	return fmt.Sprintf("%s.%s", n.Table, n.Descriptor)
}

// Less orders names by (table, descriptor).
func (n Name) Less(o Name) bool {
	if n.Table != o.Table {
		return n.Table < o.Table
	}
	return n.Descriptor < o.Descriptor
}

// IsByID reports whether this is a table's primary-key index.
func (n Name) IsByID() bool { return n.Descriptor == ByIDDescriptor }

// IsByIDOrCreationTime reports whether this is one of the built-in indexes
// that exist implicitly for every table. Range reads against these on a
// table with no rows yet yield an empty page instead of a missing-index
// error.
func (n Name) IsByIDOrCreationTime() bool {
	return n.Descriptor == ByIDDescriptor || n.Descriptor == ByCreationTimeDescriptor
}
