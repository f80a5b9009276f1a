package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/model"
)

func TestFieldPath_Get(t *testing.T) {
	fields := map[string]any{
		"name": "alice",
		"profile": map[string]any{
			"address": map[string]any{"city": "berlin"},
		},
	}

	v, ok := FieldPath("name").Get(fields)
	assert.True(t, ok)
	assert.Equal(t, "alice", v)

	v, ok = FieldPath("profile.address.city").Get(fields)
	assert.True(t, ok)
	assert.Equal(t, "berlin", v)

	_, ok = FieldPath("profile.missing").Get(fields)
	assert.False(t, ok)

	_, ok = FieldPath("name.deeper").Get(fields)
	assert.False(t, ok)
}

func TestDocument_Clone(t *testing.T) {
	d := New(model.DocumentID{Table: "users", ID: "a"}, 1, map[string]any{
		"tags": []any{"x"},
		"meta": map[string]any{"n": float64(1)},
	})
	c := d.Clone()
	c.Fields["meta"].(map[string]any)["n"] = float64(2)
	c.Fields["tags"].([]any)[0] = "y"

	assert.Equal(t, float64(1), d.Fields["meta"].(map[string]any)["n"])
	assert.Equal(t, "x", d.Fields["tags"].([]any)[0])
}

func TestPack_RoundTrip(t *testing.T) {
	d := New(model.DocumentID{Table: "users", ID: "a"}, 42, map[string]any{
		"name":  "alice",
		"score": float64(13.5),
		"tags":  []any{"x", "y"},
	})

	packers := []Packer{NoopPacker{}, ZstdPacker{}, LZ4Packer{}}
	for _, p := range packers {
		t.Run(p.Name(), func(t *testing.T) {
			packed, err := Pack(d, codec.Default, p)
			require.NoError(t, err)
			assert.Positive(t, packed.PackedSize())

			got, err := packed.Unpack()
			require.NoError(t, err)
			assert.Equal(t, d.ID, got.ID)
			assert.Equal(t, d.CreationTime, got.CreationTime)
			assert.Equal(t, d.Fields, got.Fields)
		})
	}
}

func TestPackerByName(t *testing.T) {
	for _, name := range []string{"noop", "zstd", "lz4"} {
		p, ok := PackerByName(name)
		require.True(t, ok)
		assert.Equal(t, name, p.Name())
	}
	_, ok := PackerByName("gzip")
	assert.False(t, ok)
}

func TestDocument_SizeGrowsWithContent(t *testing.T) {
	small := New(model.DocumentID{Table: "users", ID: "a"}, 1, map[string]any{"v": "x"})
	big := New(model.DocumentID{Table: "users", ID: "a"}, 1, map[string]any{
		"v": "a considerably longer value than the small document has",
	})
	assert.Greater(t, big.Size(), small.Size())
}
