package model

import "fmt"

// Timestamp is the logical commit timestamp assigned by the committer.
// Within one snapshot all committed rows carry a Timestamp at or below the
// snapshot's timestamp.
type Timestamp uint64

// Succ returns the next timestamp.
func (t Timestamp) Succ() Timestamp { return t + 1 }

// WriteTimestamp tags a row with its provenance: either committed at a
// concrete timestamp in the base snapshot, or pending in the current
// transaction. Downstream conflict detection relies on the distinction.
type WriteTimestamp struct {
	ts      Timestamp
	pending bool
}

// Committed tags a row as committed at ts.
func Committed(ts Timestamp) WriteTimestamp {
	return WriteTimestamp{ts: ts}
}

// Pending tags a row as written by the current, uncommitted transaction.
func Pending() WriteTimestamp {
	return WriteTimestamp{pending: true}
}

// IsPending reports whether the row was written by the current transaction.
func (w WriteTimestamp) IsPending() bool { return w.pending }

// Timestamp returns the commit timestamp and true for committed rows, or
// zero and false for pending rows.
func (w WriteTimestamp) Timestamp() (Timestamp, bool) {
	if w.pending {
		return 0, false
	}
	return w.ts, true
}

func (w WriteTimestamp) String() string {
	if w.pending {
		return "pending"
	}
	return fmt.Sprintf("committed(%d)", w.ts)
}
