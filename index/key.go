package index

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/model"
)

// KeyBytes is the serialized, totally-ordered form of a document's indexed
// field values followed by its id. Lexicographic byte order on KeyBytes is
// the index's range order; no full key is a prefix of another.
type KeyBytes []byte

// Compare orders two keys lexicographically.
func Compare(a, b KeyBytes) int { return bytes.Compare(a, b) }

// Successor returns the smallest key greater than k. Because full index
// keys are never proper prefixes of each other, appending a zero byte is
// exact for resuming after a returned key.
func (k KeyBytes) Successor() KeyBytes {
	out := make(KeyBytes, len(k)+1)
	copy(out, k)
	return out
}

// Clone returns a copy of the key.
func (k KeyBytes) Clone() KeyBytes {
	return append(KeyBytes(nil), k...)
}

// Value kind tags. Tag order defines cross-kind ordering:
// null < false < true < numbers < strings.
const (
	tagNull   byte = 0x02
	tagFalse  byte = 0x03
	tagTrue   byte = 0x04
	tagNumber byte = 0x05
	tagString byte = 0x06
)

// EncodeKey serializes indexed field values plus the document id into key
// bytes. The id acts as the tiebreaker, making every key unique within an
// index. Supported value kinds are nil, bool, float64 and string; compound
// values cannot be indexed.
func EncodeKey(values []any, id model.DocumentID) (KeyBytes, error) {
	var buf bytes.Buffer
	for _, v := range values {
		if err := encodeValue(&buf, v); err != nil {
			return nil, err
		}
	}
	if err := encodeValue(&buf, id.String()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeValuesPrefix serializes field values without a document id. The
// result is a strict prefix of every full key sharing those values, which
// is what point lookups by value depend on.
func EncodeValuesPrefix(values []any) (KeyBytes, error) {
	var buf bytes.Buffer
	for _, v := range values {
		if err := encodeValue(&buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// KeyForDocument computes the document's key in an index over fields.
// Missing fields encode as null so sparse documents still sort.
func KeyForDocument(d *document.Document, fields []document.FieldPath) (KeyBytes, error) {
	values := make([]any, len(fields))
	for i, f := range fields {
		v, ok := d.Get(f)
		if !ok {
			v = nil
		}
		values[i] = v
	}
	key, err := EncodeKey(values, d.ID)
	if err != nil {
		return nil, fmt.Errorf("index key for %s: %w", d.ID, err)
	}
	return key, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch v := v.(type) {
	case nil:
		buf.WriteByte(tagNull)
	case bool:
		if v {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
	case float64:
		buf.WriteByte(tagNumber)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], orderedFloatBits(v))
		buf.Write(b[:])
	case string:
		buf.WriteByte(tagString)
		encodeString(buf, v)
	default:
		return fmt.Errorf("value of type %T cannot be indexed", v)
	}
	return nil
}

// orderedFloatBits maps float64 bit patterns to uint64s whose unsigned
// order matches numeric order: flip all bits of negatives, flip only the
// sign bit of non-negatives.
func orderedFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | 1<<63
}

// encodeString writes an order-preserving, self-terminating encoding:
// interior zero bytes escape to 0x00 0xFF and the string ends with
// 0x00 0x01, so a string always sorts before any of its extensions.
func encodeString(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		buf.WriteByte(c)
		if c == 0x00 {
			buf.WriteByte(0xFF)
		}
	}
	buf.WriteByte(0x00)
	buf.WriteByte(0x01)
}

// keyAfterPrefix returns the smallest key greater than every key with the
// given prefix, or nil if no such bound exists (prefix of all 0xFF bytes).
func keyAfterPrefix(prefix KeyBytes) KeyBytes {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xFF {
			out := append(KeyBytes(nil), prefix[:i+1]...)
			out[i]++
			return out
		}
	}
	return nil
}
