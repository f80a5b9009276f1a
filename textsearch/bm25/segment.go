package bm25

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/hupe1980/docgo/blobstore"
	"github.com/hupe1980/docgo/catalog"
	"github.com/hupe1980/docgo/codec"
	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/model"
)

const manifestVersion = 1

// Manifest lists the segment blob behind each text index in a snapshot.
// The manifest itself is immutable; publishing a new one is the commit
// store's job.
type Manifest struct {
	Version int             `json:"version"`
	Indexes []ManifestEntry `json:"indexes"`
}

// ManifestEntry points one index at its segment blob.
type ManifestEntry struct {
	IndexID    string `json:"indexId"`
	SegmentKey string `json:"segmentKey"`
}

type docRecord struct {
	Ordinal uint32         `json:"o"`
	Table   string         `json:"t"`
	ID      string         `json:"i"`
	Ts      uint64         `json:"ts"`
	Length  int            `json:"l"`
	Filters map[string]any `json:"f,omitempty"`
}

type segment struct {
	SearchField  string                    `json:"searchField"`
	FilterFields []string                  `json:"filterFields,omitempty"`
	NextOrdinal  uint32                    `json:"nextOrdinal"`
	Docs         []docRecord               `json:"docs"`
	Postings     map[string][]byte         `json:"postings"`
	Freqs        map[string]map[uint32]int `json:"freqs"`
}

// Save writes every index as one segment blob under prefix and then the
// manifest that ties them together, returning the manifest's key. Nothing
// is overwritten; the caller publishes the returned key through a commit
// store to make the snapshot current.
func (s *Snapshot) Save(ctx context.Context, store blobstore.Store, prefix string, c codec.Codec) (string, error) {
	if c == nil {
		c = codec.Default
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	manifest := Manifest{Version: manifestVersion}
	for id, in := range s.indexes {
		key := path.Join(prefix, "segments", fmt.Sprintf("%s-%s.seg", id, uuid.NewString()))
		if err := writeSegment(ctx, store, key, c, in); err != nil {
			return "", fmt.Errorf("save segment for index %s: %w", id, err)
		}
		manifest.Indexes = append(manifest.Indexes, ManifestEntry{IndexID: string(id), SegmentKey: key})
	}

	data, err := c.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("save manifest: %w", err)
	}
	manifestKey := path.Join(prefix, fmt.Sprintf("MANIFEST-%s", uuid.NewString()))
	if err := store.Put(ctx, manifestKey, bytes.NewReader(data), int64(len(data))); err != nil {
		return "", fmt.Errorf("save manifest: %w", err)
	}
	return manifestKey, nil
}

// LoadSnapshot reads the manifest and every segment it names.
func LoadSnapshot(ctx context.Context, store blobstore.Store, manifestKey string, c codec.Codec) (*Snapshot, error) {
	if c == nil {
		c = codec.Default
	}
	blob, err := store.Open(ctx, manifestKey)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", manifestKey, err)
	}
	defer blob.Close()
	data, err := blobstore.ReadAll(ctx, blob)
	if err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", manifestKey, err)
	}
	var manifest Manifest
	if err := c.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("load manifest %q: %w", manifestKey, err)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("load manifest %q: unsupported version %d", manifestKey, manifest.Version)
	}

	s := NewSnapshot()
	for _, entry := range manifest.Indexes {
		in, err := readSegment(ctx, store, entry.SegmentKey, c)
		if err != nil {
			return nil, fmt.Errorf("load segment for index %s: %w", entry.IndexID, err)
		}
		s.indexes[model.IndexID(entry.IndexID)] = in
	}
	return s, nil
}

// HasIndex reports whether the snapshot holds a segment for idx.
func (s *Snapshot) HasIndex(idx *catalog.Index) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.indexes[idx.ID]
	return ok
}

func writeSegment(ctx context.Context, store blobstore.Store, key string, c codec.Codec, in *Index) error {
	in.mu.RLock()
	seg := segment{
		SearchField: string(in.searchField),
		NextOrdinal: in.nextOrdinal,
		Postings:    make(map[string][]byte, len(in.postings)),
		Freqs:       make(map[string]map[uint32]int, len(in.freqs)),
	}
	for _, f := range in.filterFields {
		seg.FilterFields = append(seg.FilterFields, string(f))
	}
	for ord, e := range in.docs {
		ts, ok := e.ts.Timestamp()
		if !ok {
			in.mu.RUnlock()
			return fmt.Errorf("document %s has a pending revision; snapshots hold committed state only", e.id)
		}
		rec := docRecord{
			Ordinal: ord,
			Table:   string(e.id.Table),
			ID:      e.id.ID,
			Ts:      uint64(ts),
			Length:  e.length,
		}
		if len(e.filters) > 0 {
			rec.Filters = make(map[string]any, len(e.filters))
			for f, v := range e.filters {
				rec.Filters[string(f)] = v
			}
		}
		seg.Docs = append(seg.Docs, rec)
	}
	for t, bm := range in.postings {
		data, err := bm.MarshalBinary()
		if err != nil {
			in.mu.RUnlock()
			return err
		}
		seg.Postings[t] = data
		seg.Freqs[t] = in.freqs[t]
	}
	in.mu.RUnlock()

	data, err := c.Marshal(seg)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func readSegment(ctx context.Context, store blobstore.Store, key string, c codec.Codec) (*Index, error) {
	blob, err := store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer blob.Close()
	data, err := blobstore.ReadAll(ctx, blob)
	if err != nil {
		return nil, err
	}
	var seg segment
	if err := c.Unmarshal(data, &seg); err != nil {
		return nil, err
	}

	filterFields := make([]document.FieldPath, 0, len(seg.FilterFields))
	for _, f := range seg.FilterFields {
		filterFields = append(filterFields, document.FieldPath(f))
	}
	in := New(document.FieldPath(seg.SearchField), filterFields...)
	in.nextOrdinal = seg.NextOrdinal
	for _, rec := range seg.Docs {
		id := model.DocumentID{Table: model.TableID(rec.Table), ID: rec.ID}
		entry := &docEntry{
			id:     id,
			key:    identityKey(id),
			ts:     model.Committed(model.Timestamp(rec.Ts)),
			length: rec.Length,
		}
		entry.filters = make(map[document.FieldPath]any, len(rec.Filters))
		for f, v := range rec.Filters {
			entry.filters[document.FieldPath(f)] = v
		}
		in.docs[rec.Ordinal] = entry
		in.ordinals[id] = rec.Ordinal
		in.totalLength += int64(rec.Length)
	}
	for t, raw := range seg.Postings {
		bm := roaring.New()
		if err := bm.UnmarshalBinary(raw); err != nil {
			return nil, fmt.Errorf("segment %q: postings for %q: %w", key, t, err)
		}
		in.postings[t] = bm
		fr := seg.Freqs[t]
		if fr == nil {
			fr = make(map[uint32]int)
		}
		in.freqs[t] = fr
	}
	return in, nil
}
