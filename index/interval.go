package index

import (
	"bytes"
	"fmt"
)

// Order is the direction of a range read.
type Order int

const (
	Asc Order = iota
	Desc
)

func (o Order) String() string {
	if o == Desc {
		return "desc"
	}
	return "asc"
}

// Cursor marks the resumption point of a paginated range read: either
// "after this key" or "the range is exhausted". The zero value is End.
type Cursor struct {
	afterKey KeyBytes
	after    bool
}

// CursorEnd is the cursor of a fully-consumed range.
func CursorEnd() Cursor { return Cursor{} }

// CursorAfter resumes strictly after key.
func CursorAfter(key KeyBytes) Cursor {
	return Cursor{afterKey: key.Clone(), after: true}
}

// IsEnd reports whether the range is exhausted.
func (c Cursor) IsEnd() bool { return !c.after }

// After returns the key the cursor resumes after, and false for End.
func (c Cursor) After() (KeyBytes, bool) {
	if !c.after {
		return nil, false
	}
	return c.afterKey, true
}

func (c Cursor) String() string {
	if !c.after {
		return "end"
	}
	return fmt.Sprintf("after(%x)", []byte(c.afterKey))
}

// Interval is a half-open key range [Start, End), optionally unbounded
// above. The set of key bytes has a minimum (the empty key) and every key
// has a successor, so inclusive-start/exclusive-end expresses every range
// this system needs.
type Interval struct {
	Start     KeyBytes // inclusive lower bound
	End       KeyBytes // exclusive upper bound; ignored when Unbounded
	Unbounded bool     // no upper bound
}

// All spans every key.
func All() Interval { return Interval{Unbounded: true} }

// Empty spans no keys.
func Empty() Interval { return Interval{} }

// Range builds [start, end).
func Range(start, end KeyBytes) Interval {
	return Interval{Start: start, End: end}
}

// Prefix spans exactly the keys that extend the given prefix (including
// the prefix itself).
func Prefix(prefix KeyBytes) Interval {
	end := keyAfterPrefix(prefix)
	if end == nil {
		return Interval{Start: prefix.Clone(), Unbounded: true}
	}
	return Interval{Start: prefix.Clone(), End: end}
}

// IsEmpty reports whether the interval contains no keys.
func (in Interval) IsEmpty() bool {
	return !in.Unbounded && bytes.Compare(in.Start, in.End) >= 0
}

// Contains reports whether the point lies inside the interval.
func (in Interval) Contains(point KeyBytes) bool {
	if bytes.Compare(point, in.Start) < 0 {
		return false
	}
	return in.Unbounded || bytes.Compare(point, in.End) < 0
}

// ContainsCursor reports whether the cursor is a valid resumption point for
// this interval: End always is; After(key) must point inside the interval.
func (in Interval) ContainsCursor(c Cursor) bool {
	key, ok := c.After()
	if !ok {
		return true
	}
	return in.Contains(key)
}

// Split divides the interval at the cursor when read in the given order,
// returning the part already read and the part remaining. An End cursor
// consumes the whole interval.
func (in Interval) Split(c Cursor, order Order) (read, remaining Interval) {
	key, ok := c.After()
	if !ok {
		return in, Empty()
	}
	switch order {
	case Asc:
		read = Interval{Start: in.Start, End: key.Successor()}
		remaining = Interval{Start: key.Successor(), End: in.End, Unbounded: in.Unbounded}
	default:
		read = Interval{Start: key.Clone(), End: in.End, Unbounded: in.Unbounded}
		remaining = Interval{Start: in.Start, End: key.Clone()}
	}
	return read, remaining
}

func (in Interval) String() string {
	if in.Unbounded {
		return fmt.Sprintf("[%x, +inf)", []byte(in.Start))
	}
	return fmt.Sprintf("[%x, %x)", []byte(in.Start), []byte(in.End))
}
