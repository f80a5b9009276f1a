package document

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/model"
)

// Packer compresses encoded document bytes. Compress and Decompress must be
// inverses and safe for concurrent use.
type Packer interface {
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
	Name() string
}

// PackerByName returns a built-in packer by its stable name.
func PackerByName(name string) (Packer, bool) {
	switch name {
	case "noop":
		return NoopPacker{}, true
	case "zstd":
		return ZstdPacker{}, true
	case "lz4":
		return LZ4Packer{}, true
	default:
		return nil, false
	}
}

// NoopPacker stores bytes uncompressed.
type NoopPacker struct{}

func (NoopPacker) Compress(src []byte) ([]byte, error)   { return src, nil }
func (NoopPacker) Decompress(src []byte) ([]byte, error) { return src, nil }
func (NoopPacker) Name() string                          { return "noop" }

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// ZstdPacker compresses with zstd at the fastest level. Documents are small;
// the win is memory held by long-lived snapshot indexes, not ratio records.
type ZstdPacker struct{}

func (ZstdPacker) Compress(src []byte) ([]byte, error) {
	return zstdEncoder.EncodeAll(src, nil), nil
}

func (ZstdPacker) Decompress(src []byte) ([]byte, error) {
	return zstdDecoder.DecodeAll(src, nil)
}

func (ZstdPacker) Name() string { return "zstd" }

// LZ4Packer compresses with the lz4 frame format.
type LZ4Packer struct{}

func (LZ4Packer) Compress(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (LZ4Packer) Decompress(src []byte) ([]byte, error) {
	return io.ReadAll(lz4.NewReader(bytes.NewReader(src)))
}

func (LZ4Packer) Name() string { return "lz4" }

// packedEnvelope is the wire form of a packed document.
type packedEnvelope struct {
	Table        string         `json:"t"`
	ID           string         `json:"i"`
	CreationTime uint64         `json:"c"`
	Fields       map[string]any `json:"f"`
}

// Packed is the compact, immutable form of a document held by long-lived
// structures such as snapshot indexes. It remembers which codec and packer
// produced it so it can always unpack itself.
type Packed struct {
	data   []byte
	codec  codec.Codec
	packer Packer
}

// Pack encodes and compresses a document. A nil codec or packer selects the
// defaults (codec.Default, zstd).
func Pack(d *Document, c codec.Codec, p Packer) (Packed, error) {
	if c == nil {
		c = codec.Default
	}
	if p == nil {
		p = ZstdPacker{}
	}
	env := packedEnvelope{
		Table:        string(d.ID.Table),
		ID:           d.ID.ID,
		CreationTime: uint64(d.CreationTime),
		Fields:       d.Fields,
	}
	encoded, err := c.Marshal(env)
	if err != nil {
		return Packed{}, fmt.Errorf("pack document %s: %w", d.ID, err)
	}
	data, err := p.Compress(encoded)
	if err != nil {
		return Packed{}, fmt.Errorf("pack document %s: %w", d.ID, err)
	}
	return Packed{data: data, codec: c, packer: p}, nil
}

// MustPack packs with the defaults and panics on failure. Documents built
// from codec value kinds always pack; this is for snapshot bootstrap and
// tests.
func MustPack(d *Document) Packed {
	p, err := Pack(d, nil, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// Unpack decodes the document.
func (p Packed) Unpack() (*Document, error) {
	encoded, err := p.packer.Decompress(p.data)
	if err != nil {
		return nil, fmt.Errorf("unpack document: %w", err)
	}
	var env packedEnvelope
	if err := p.codec.Unmarshal(encoded, &env); err != nil {
		return nil, fmt.Errorf("unpack document: %w", err)
	}
	return &Document{
		ID:           model.DocumentID{Table: model.TableID(env.Table), ID: env.ID},
		CreationTime: model.Timestamp(env.CreationTime),
		Fields:       env.Fields,
	}, nil
}

// PackedSize returns the compressed size in bytes.
func (p Packed) PackedSize() int { return len(p.data) }
