package catalog

import (
	"fmt"
	"sort"

	"github.com/google/btree"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

const registryDegree = 8

// Registry is the in-memory catalog of indexes, split by backfill state so
// enabled lookups never see a backfilling index. Both trees are
// copy-on-write: Clone is O(1) and mutations on the clone never touch the
// original, which is what lets a write be validated against a speculative
// catalog before it is applied.
type Registry struct {
	// metaIndexID identifies the `_index.by_id` index that the registry
	// itself is read through. Lookups on any index record a dependency on
	// this index's metadata document.
	metaIndexID model.IndexID

	enabled *btree.BTreeG[*Index]
	pending *btree.BTreeG[*Index]
}

func indexByName(a, b *Index) bool {
	return a.Metadata.Name.Less(b.Metadata.Name)
}

// Bootstrap builds a registry from the current contents of the `_index`
// table. The metadata document for `_index.by_id` must be present and
// enabled; it is the index through which all other metadata is read.
func Bootstrap(docs []*document.Document) (*Registry, error) {
	r := &Registry{
		enabled: btree.NewG(registryDegree, indexByName),
		pending: btree.NewG(registryDegree, indexByName),
	}
	for _, d := range docs {
		id, m, err := MetadataFromDocument(d)
		if err != nil {
			return nil, fmt.Errorf("bootstrap index registry: %w", err)
		}
		if m.Name == index.ByID(model.IndexTableID) {
			if !m.IsEnabled() {
				return nil, fmt.Errorf("bootstrap index registry: %s must be enabled", m.Name)
			}
			r.metaIndexID = id
		}
		idx := &Index{ID: id, Metadata: m}
		if m.IsEnabled() {
			r.enabled.ReplaceOrInsert(idx)
		} else {
			r.pending.ReplaceOrInsert(idx)
		}
	}
	if r.metaIndexID == "" {
		return nil, fmt.Errorf("bootstrap index registry: missing metadata for %s", index.ByID(model.IndexTableID))
	}
	return r, nil
}

// Clone returns an independent copy-on-write snapshot of the registry.
func (r *Registry) Clone() *Registry {
	return &Registry{
		metaIndexID: r.metaIndexID,
		enabled:     r.enabled.Clone(),
		pending:     r.pending.Clone(),
	}
}

// MetaIndexID returns the id of `_index.by_id`.
func (r *Registry) MetaIndexID() model.IndexID { return r.metaIndexID }

// GetEnabled returns the enabled index with the given name, or nil.
func (r *Registry) GetEnabled(name index.Name) *Index {
	idx, _ := r.enabled.Get(&Index{Metadata: &Metadata{Name: name}})
	return idx
}

// GetPending returns the backfilling index with the given name, or nil.
func (r *Registry) GetPending(name index.Name) *Index {
	idx, _ := r.pending.Get(&Index{Metadata: &Metadata{Name: name}})
	return idx
}

// RequireEnabled resolves a name to an enabled index, distinguishing a
// backfilling index from one that does not exist at all.
func (r *Registry) RequireEnabled(name index.Name) (*Index, error) {
	if idx := r.GetEnabled(name); idx != nil {
		return idx, nil
	}
	if r.GetPending(name) != nil {
		return nil, fmt.Errorf("index %s: %w", name, ErrIndexBackfilling)
	}
	return nil, fmt.Errorf("index %s: %w", name, ErrIndexNotFound)
}

// Update validates an `_index` document change against the registry and,
// if valid, applies it. It reports whether the registry was modified.
// Documents outside the `_index` table validate table invariants only and
// never modify the registry.
func (r *Registry) Update(old, new *document.Document) (bool, error) {
	if err := r.verifyUpdate(old, new); err != nil {
		return false, err
	}
	return r.applyVerifiedUpdate(old, new), nil
}

// VerifyUpdate checks a document change without applying it. Calling it on
// a clone of the registry validates a write speculatively.
func (r *Registry) VerifyUpdate(old, new *document.Document) error {
	return r.verifyUpdate(old, new)
}

// ApplyVerified mutates the registry with a change that was already
// validated against a clone. It reports whether the registry was modified.
// Several changes may be prepared against clones of the same registry and
// applied in sequence; each mutates the live registry in place, so none of
// them reverts the ones applied before it.
func (r *Registry) ApplyVerified(old, new *document.Document) bool {
	return r.applyVerifiedUpdate(old, new)
}

func (r *Registry) verifyUpdate(old, new *document.Document) error {
	if old == nil && new == nil {
		return fmt.Errorf("index registry update: no document given")
	}
	if old != nil && new != nil {
		if old.ID != new.ID {
			return fmt.Errorf("index registry update: id changed from %s to %s", old.ID, new.ID)
		}
		if old.ID.Table == model.IndexTableID {
			_, oldMeta, err := MetadataFromDocument(old)
			if err != nil {
				return err
			}
			_, newMeta, err := MetadataFromDocument(new)
			if err != nil {
				return err
			}
			if oldMeta.Name != newMeta.Name && oldMeta.Name.IsByIDOrCreationTime() {
				return fmt.Errorf("index registry update: cannot rename built-in index %s", oldMeta.Name)
			}
			if !oldMeta.Config.DefinitionEquals(newMeta.Config) {
				return fmt.Errorf("index registry update: cannot modify definition of %s", oldMeta.Name)
			}
		}
	}
	if old != nil {
		if r.GetEnabled(index.ByID(old.ID.Table)) == nil {
			return fmt.Errorf("index registry update: table %s has no %s index", old.ID.Table, index.ByIDDescriptor)
		}
		if old.ID.Table == model.IndexTableID {
			id, m, err := MetadataFromDocument(old)
			if err != nil {
				return err
			}
			existing := r.GetEnabled(m.Name)
			if !m.IsEnabled() {
				existing = r.GetPending(m.Name)
			}
			if existing == nil || existing.ID != id {
				return fmt.Errorf("index registry update: %s is not registered as %s", m.Name, m.Config.State)
			}
		}
	}
	if new != nil {
		if r.GetEnabled(index.ByID(new.ID.Table)) == nil {
			return fmt.Errorf("index registry update: table %s has no %s index", new.ID.Table, index.ByIDDescriptor)
		}
		if new.ID.Table == model.IndexTableID {
			id, m, err := MetadataFromDocument(new)
			if err != nil {
				return err
			}
			if m.Name.Table == model.IndexTableID && !m.Name.IsByID() {
				return fmt.Errorf("index registry update: only %s may index table %s", index.ByIDDescriptor, model.IndexTableID)
			}
			if m.Name.IsByID() && (m.Config.Type != TypeDatabase || !m.IsEnabled()) {
				return fmt.Errorf("index registry update: %s must be an enabled database index", m.Name)
			}
			existing := r.GetEnabled(m.Name)
			if !m.IsEnabled() {
				existing = r.GetPending(m.Name)
			}
			if existing != nil && existing.ID != id {
				return fmt.Errorf("index registry update: %s already registered as %s with a different id", m.Name, m.Config.State)
			}
		}
	}
	return nil
}

// applyVerifiedUpdate mutates the registry for a change that verifyUpdate
// already accepted, so inconsistencies here are registry corruption and
// panic rather than surface as errors from an infallible commit step.
func (r *Registry) applyVerifiedUpdate(old, new *document.Document) bool {
	modified := false
	if old != nil && old.ID.Table == model.IndexTableID {
		_, m, err := MetadataFromDocument(old)
		if err != nil {
			panic(fmt.Sprintf("index registry: verified document failed to parse: %v", err))
		}
		tree := r.enabled
		if !m.IsEnabled() {
			tree = r.pending
		}
		if _, ok := tree.Delete(&Index{Metadata: m}); !ok {
			panic(fmt.Sprintf("index registry: %s missing during verified delete", m.Name))
		}
		modified = true
	}
	if new != nil && new.ID.Table == model.IndexTableID {
		id, m, err := MetadataFromDocument(new)
		if err != nil {
			panic(fmt.Sprintf("index registry: verified document failed to parse: %v", err))
		}
		tree := r.enabled
		if !m.IsEnabled() {
			tree = r.pending
		}
		tree.ReplaceOrInsert(&Index{ID: id, Metadata: m})
		modified = true
	}
	return modified
}

// KeyUpdate is one index entry change produced by a document write.
type KeyUpdate struct {
	IndexID    model.IndexID
	Key        index.KeyBytes
	Deleted    bool
	DocumentID model.DocumentID
}

// IndexUpdates computes the index entry changes for a document write
// across every database index on the document's table, backfilling
// included. When old and new land on the same key in an index, the upsert
// wins and the pair collapses to a single update.
func (r *Registry) IndexUpdates(old, new *document.Document) ([]KeyUpdate, error) {
	table := model.TableID("")
	if old != nil {
		table = old.ID.Table
	} else if new != nil {
		table = new.ID.Table
	}

	type updateKey struct {
		indexID model.IndexID
		key     string
	}
	updates := make(map[updateKey]KeyUpdate)
	for _, idx := range r.databaseIndexesByTable(table) {
		if old != nil {
			key, err := idx.KeyFor(old)
			if err != nil {
				return nil, err
			}
			updates[updateKey{idx.ID, string(key)}] = KeyUpdate{
				IndexID: idx.ID, Key: key, Deleted: true, DocumentID: old.ID,
			}
		}
		if new != nil {
			key, err := idx.KeyFor(new)
			if err != nil {
				return nil, err
			}
			updates[updateKey{idx.ID, string(key)}] = KeyUpdate{
				IndexID: idx.ID, Key: key, DocumentID: new.ID,
			}
		}
	}

	out := make([]KeyUpdate, 0, len(updates))
	for _, u := range updates {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IndexID != out[j].IndexID {
			return out[i].IndexID < out[j].IndexID
		}
		return index.Compare(out[i].Key, out[j].Key) < 0
	})
	return out, nil
}

// TextIndexesByTable returns the enabled text indexes on a table, which a
// document write must keep up to date alongside the database indexes.
func (r *Registry) TextIndexesByTable(table model.TableID) []*Index {
	var out []*Index
	r.ascendTable(r.enabled, table, func(idx *Index) {
		if idx.Metadata.Config.Type == TypeText {
			out = append(out, idx)
		}
	})
	return out
}

func (r *Registry) databaseIndexesByTable(table model.TableID) []*Index {
	var out []*Index
	collect := func(idx *Index) {
		if idx.Metadata.Config.Type == TypeDatabase {
			out = append(out, idx)
		}
	}
	r.ascendTable(r.enabled, table, collect)
	r.ascendTable(r.pending, table, collect)
	return out
}

func (r *Registry) ascendTable(tree *btree.BTreeG[*Index], table model.TableID, fn func(*Index)) {
	pivot := &Index{Metadata: &Metadata{Name: index.NewName(table, "")}}
	tree.AscendGreaterOrEqual(pivot, func(idx *Index) bool {
		if idx.Metadata.Name.Table != table {
			return false
		}
		fn(idx)
		return true
	})
}

// KeyFor computes a document's key in this database index. The built-in
// indexes key on identity and creation order; neither value lives in the
// field map.
func (i *Index) KeyFor(d *document.Document) (index.KeyBytes, error) {
	switch i.Metadata.Name.Descriptor {
	case index.ByIDDescriptor:
		return index.EncodeKey(nil, d.ID)
	case index.ByCreationTimeDescriptor:
		return index.EncodeKey([]any{float64(d.CreationTime)}, d.ID)
	default:
		return index.KeyForDocument(d, i.Metadata.Config.Fields)
	}
}

// IdentityKey is the key of an index's own metadata document in
// `_index.by_id`. Reads that resolve an index by name take a dependency on
// this key so a later change to the index invalidates them.
func IdentityKey(id model.IndexID) (index.KeyBytes, error) {
	docID := model.DocumentID{Table: model.IndexTableID, ID: string(id)}
	return index.EncodeKey(nil, docID)
}
