package document

import "strings"

// FieldPath addresses a (possibly nested) field of a document, with path
// segments separated by dots, e.g. "address.city".
type FieldPath string

// Segments splits the path into its components.
func (p FieldPath) Segments() []string {
	return strings.Split(string(p), ".")
}

func (p FieldPath) String() string { return string(p) }

// Get resolves the path against a field map. The second return is false if
// any segment is missing or a non-leaf segment is not an object.
func (p FieldPath) Get(fields map[string]any) (any, bool) {
	segs := p.Segments()
	cur := any(fields)
	for _, seg := range segs {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
