// Package catalog maintains the index registry: which indexes exist, on
// which fields, and in what backfill state. The registry is a derived view
// of the documents in the `_index` system table and must stay consistent
// with a transaction's view of that table, so every document write flows
// through it. Clones are copy-on-write and cheap, which is what makes
// speculative validation affordable on every write.
package catalog

import (
	"fmt"
	"slices"

	"github.com/hupe1980/docgo/document"
	"github.com/hupe1980/docgo/index"
	"github.com/hupe1980/docgo/model"
)

// State is an index's backfill state. Only enabled indexes serve queries.
type State string

const (
	StateBackfilling State = "backfilling"
	StateEnabled     State = "enabled"
)

// Type discriminates the index kinds.
type Type string

const (
	TypeDatabase Type = "database"
	TypeText     Type = "text"
	TypeVector   Type = "vector"
)

// Config is an index definition plus its backfill state. The definition
// (everything except State) is immutable once the index exists.
type Config struct {
	Type  Type
	State State

	// Database indexes.
	Fields []document.FieldPath

	// Text indexes.
	SearchField  document.FieldPath
	FilterFields []document.FieldPath

	// Vector indexes.
	VectorField document.FieldPath
	Dimensions  int
}

// DefinitionEquals compares everything except backfill state.
func (c Config) DefinitionEquals(o Config) bool {
	return c.Type == o.Type &&
		slices.Equal(c.Fields, o.Fields) &&
		c.SearchField == o.SearchField &&
		slices.Equal(c.FilterFields, o.FilterFields) &&
		c.VectorField == o.VectorField &&
		c.Dimensions == o.Dimensions
}

// Metadata is the full description of one index.
type Metadata struct {
	Name   index.Name
	Config Config
}

// NewDatabaseEnabled describes an enabled ordered index over fields.
func NewDatabaseEnabled(name index.Name, fields []document.FieldPath) *Metadata {
	return &Metadata{Name: name, Config: Config{Type: TypeDatabase, State: StateEnabled, Fields: fields}}
}

// NewDatabaseBackfilling describes an ordered index that is still
// backfilling and must not serve queries.
func NewDatabaseBackfilling(name index.Name, fields []document.FieldPath) *Metadata {
	return &Metadata{Name: name, Config: Config{Type: TypeDatabase, State: StateBackfilling, Fields: fields}}
}

// NewTextEnabled describes an enabled text search index.
func NewTextEnabled(name index.Name, searchField document.FieldPath, filterFields ...document.FieldPath) *Metadata {
	return &Metadata{Name: name, Config: Config{
		Type: TypeText, State: StateEnabled, SearchField: searchField, FilterFields: filterFields,
	}}
}

// NewVectorEnabled describes an enabled vector index. Vector indexes are
// read-only within a transaction; the registry only tracks their metadata.
func NewVectorEnabled(name index.Name, vectorField document.FieldPath, dimensions int) *Metadata {
	return &Metadata{Name: name, Config: Config{
		Type: TypeVector, State: StateEnabled, VectorField: vectorField, Dimensions: dimensions,
	}}
}

// IsEnabled reports whether the index serves queries.
func (m *Metadata) IsEnabled() bool { return m.Config.State == StateEnabled }

// Index is a registered index: its opaque id plus metadata. Per-index
// transaction state is keyed by ID; resolution happens by Name.
type Index struct {
	ID       model.IndexID
	Metadata *Metadata
}

// Name returns the index's printable name.
func (i *Index) Name() index.Name { return i.Metadata.Name }

// MetadataToDocument converts index metadata into its document form in the
// `_index` table. The registry is bootstrapped from, and updated through,
// these documents.
func MetadataToDocument(id model.IndexID, creationTime model.Timestamp, m *Metadata) *document.Document {
	fields := map[string]any{
		"table":      string(m.Name.Table),
		"descriptor": m.Name.Descriptor,
		"type":       string(m.Config.Type),
		"state":      string(m.Config.State),
	}
	switch m.Config.Type {
	case TypeDatabase:
		fields["fields"] = pathsToAny(m.Config.Fields)
	case TypeText:
		fields["searchField"] = string(m.Config.SearchField)
		fields["filterFields"] = pathsToAny(m.Config.FilterFields)
	case TypeVector:
		fields["vectorField"] = string(m.Config.VectorField)
		fields["dimensions"] = float64(m.Config.Dimensions)
	}
	docID := model.DocumentID{Table: model.IndexTableID, ID: string(id)}
	return document.New(docID, creationTime, fields)
}

// MetadataFromDocument parses an `_index` table document back into
// metadata. The document's own id is the index's opaque id.
func MetadataFromDocument(d *document.Document) (model.IndexID, *Metadata, error) {
	if d.ID.Table != model.IndexTableID {
		return "", nil, fmt.Errorf("document %s is not an index metadata document", d.ID)
	}
	table, ok := stringField(d, "table")
	if !ok {
		return "", nil, fmt.Errorf("index metadata %s: missing table", d.ID)
	}
	descriptor, ok := stringField(d, "descriptor")
	if !ok {
		return "", nil, fmt.Errorf("index metadata %s: missing descriptor", d.ID)
	}
	typ, ok := stringField(d, "type")
	if !ok {
		return "", nil, fmt.Errorf("index metadata %s: missing type", d.ID)
	}
	state, ok := stringField(d, "state")
	if !ok {
		return "", nil, fmt.Errorf("index metadata %s: missing state", d.ID)
	}
	m := &Metadata{
		Name:   index.NewName(model.TableID(table), descriptor),
		Config: Config{Type: Type(typ), State: State(state)},
	}
	switch m.Config.Type {
	case TypeDatabase:
		m.Config.Fields = pathsFromAny(d.Fields["fields"])
	case TypeText:
		search, _ := stringField(d, "searchField")
		m.Config.SearchField = document.FieldPath(search)
		m.Config.FilterFields = pathsFromAny(d.Fields["filterFields"])
	case TypeVector:
		vector, _ := stringField(d, "vectorField")
		m.Config.VectorField = document.FieldPath(vector)
		if dims, ok := d.Fields["dimensions"].(float64); ok {
			m.Config.Dimensions = int(dims)
		}
	default:
		return "", nil, fmt.Errorf("index metadata %s: unknown type %q", d.ID, typ)
	}
	return model.IndexID(d.ID.ID), m, nil
}

func stringField(d *document.Document, name string) (string, bool) {
	s, ok := d.Fields[name].(string)
	return s, ok
}

func pathsToAny(paths []document.FieldPath) []any {
	out := make([]any, len(paths))
	for i, p := range paths {
		out[i] = string(p)
	}
	return out
}

func pathsFromAny(v any) []document.FieldPath {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]document.FieldPath, 0, len(list))
	for _, e := range list {
		if s, ok := e.(string); ok {
			out = append(out, document.FieldPath(s))
		}
	}
	return out
}
