// Package schema holds the per-type registry of TypeDescriptions: the
// immutable schema every record of a type is checked against and every
// index is derived from.
package schema

import "fmt"

// Kind is the declared data kind of a key value.
type Kind int

const (
	KindInt Kind = iota
	KindString
	KindDate // ticks: an integer count, compared and ordered as an int64
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindDate:
		return "date"
	default:
		return "unknown"
	}
}

// FieldDescriptor names one declared key of a type.
type FieldDescriptor struct {
	Name string
	Kind Kind
}

// IndexDescriptor names one declared secondary index.
type IndexDescriptor struct {
	Field    FieldDescriptor
	Ordered bool // also maintained in a sorted structure for range predicates
	List    bool // value is a set of scalars (contains-indexed), mutually exclusive with Ordered
}

// TypeDescription is the full, immutable schema for one registered type.
type TypeDescription struct {
	FullName   string
	PrimaryKey FieldDescriptor
	UniqueKeys []FieldDescriptor
	Indexes    []IndexDescriptor
}

// FieldByName returns the descriptor for name, searching primary, unique and
// index fields in that order, and whether it was found.
func (t TypeDescription) FieldByName(name string) (FieldDescriptor, bool) {
	if t.PrimaryKey.Name == name {
		return t.PrimaryKey, true
	}
	for _, f := range t.UniqueKeys {
		if f.Name == name {
			return f, true
		}
	}
	for _, idx := range t.Indexes {
		if idx.Field.Name == name {
			return idx.Field, true
		}
	}
	return FieldDescriptor{}, false
}

// IndexByName returns the index descriptor for name, if any.
func (t TypeDescription) IndexByName(name string) (IndexDescriptor, bool) {
	for _, idx := range t.Indexes {
		if idx.Field.Name == name {
			return idx, true
		}
	}
	return IndexDescriptor{}, false
}

// IsUnique reports whether name is a declared unique key.
func (t TypeDescription) IsUnique(name string) bool {
	for _, f := range t.UniqueKeys {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Equal reports structural equality between two descriptions, independent of
// unique-key and index declaration order (a client may re-declare the same
// schema with fields listed in a different order across a reconnect).
func (t TypeDescription) Equal(o TypeDescription) bool {
	if t.FullName != o.FullName || t.PrimaryKey != o.PrimaryKey {
		return false
	}
	if len(t.UniqueKeys) != len(o.UniqueKeys) || len(t.Indexes) != len(o.Indexes) {
		return false
	}
	if !sameFieldSet(t.UniqueKeys, o.UniqueKeys) {
		return false
	}
	return sameIndexSet(t.Indexes, o.Indexes)
}

func sameFieldSet(a, b []FieldDescriptor) bool {
	seen := make(map[FieldDescriptor]int, len(a))
	for _, f := range a {
		seen[f]++
	}
	for _, f := range b {
		seen[f]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

func sameIndexSet(a, b []IndexDescriptor) bool {
	seen := make(map[IndexDescriptor]int, len(a))
	for _, f := range a {
		seen[f]++
	}
	for _, f := range b {
		seen[f]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}

// Registry holds every registered TypeDescription, keyed by FullName.
// Descriptions are immutable once registered; the registry itself is the
// only mutable part, and is guarded by the caller (server.Server owns the lock
// that spans registration alongside per-type store creation).
type Registry struct {
	byName map[string]TypeDescription
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]TypeDescription)}
}

// ErrDifferentSchema is returned by Register when FullName is already bound
// to a structurally different TypeDescription.
type ErrDifferentSchema struct {
	FullName string
}

func (e *ErrDifferentSchema) Error() string {
	return fmt.Sprintf("type %q already registered with a different schema", e.FullName)
}

// Register adds desc to the registry. Re-registering an identical
// description is a no-op success, matching a client reconnecting and
// re-declaring its schema. Registering the same name with a structurally
// different description fails with ErrDifferentSchema.
func (r *Registry) Register(desc TypeDescription) error {
	existing, ok := r.byName[desc.FullName]
	if !ok {
		r.byName[desc.FullName] = desc
		return nil
	}
	if existing.Equal(desc) {
		return nil
	}
	return &ErrDifferentSchema{FullName: desc.FullName}
}

// Describe returns the TypeDescription registered under name, if any.
func (r *Registry) Describe(name string) (TypeDescription, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// Known returns every registered TypeDescription, order unspecified.
func (r *Registry) Known() []TypeDescription {
	out := make([]TypeDescription, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	return out
}
