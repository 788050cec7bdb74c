// Package record defines the Record and KeyValue types: an immutable
// snapshot of a typed object plus the key values extracted from it at
// Put time. The store never reflects on the client's original object;
// it only ever sees the payload bytes and the extracted KeyValues.
package record

import "github.com/cachalotdb/store/internal/schema"

// KeyRole distinguishes how a KeyValue participates in indexing.
type KeyRole int

const (
	RolePrimary KeyRole = iota
	RoleUnique
	RoleIndex
	RoleListIndex
)

// KeyValue is one tagged key extracted from a record: a name, a role, a
// declared kind, and the scalar value(s). List-index keys carry their
// element values in Elements; every other role carries a single scalar
// in Scalar.
type KeyValue struct {
	Name     string
	Role     KeyRole
	Kind     schema.Kind
	Scalar   Scalar
	Elements []Scalar // populated only when Role == RoleListIndex
}

// Scalar is a tagged union over the three declared key kinds. Exactly one
// of Int/Str is meaningful, selected by Kind (KindDate values are stored
// in Int, as ticks).
type Scalar struct {
	Kind schema.Kind
	Int  int64
	Str  string
}

// IntScalar builds an int/date scalar.
func IntScalar(kind schema.Kind, v int64) Scalar { return Scalar{Kind: kind, Int: v} }

// StrScalar builds a string scalar.
func StrScalar(v string) Scalar { return Scalar{Kind: schema.KindString, Str: v} }

// Less gives scalars of the same Kind a total order, used by the ordered
// index and by dump partitioning (primary-key order).
func (s Scalar) Less(o Scalar) bool {
	switch s.Kind {
	case schema.KindString:
		return s.Str < o.Str
	default: // KindInt, KindDate
		return s.Int < o.Int
	}
}

// Equal reports scalar equality.
func (s Scalar) Equal(o Scalar) bool {
	if s.Kind != o.Kind {
		return false
	}
	if s.Kind == schema.KindString {
		return s.Str == o.Str
	}
	return s.Int == o.Int
}

// Record is an immutable snapshot of a typed object at a given mutation.
// Payload is the opaque, client-supplied serialized object; KeyValues are
// the extracted fields the store indexes on.
type Record struct {
	TypeName  string
	Payload   []byte
	KeyValues map[string]KeyValue // keyed by KeyValue.Name
}

// Primary returns the record's primary-key KeyValue. Every valid Record
// (one that passed schema validation) has exactly one.
func (r Record) Primary() KeyValue {
	for _, kv := range r.KeyValues {
		if kv.Role == RolePrimary {
			return kv
		}
	}
	return KeyValue{}
}

// Get returns the named KeyValue, if the record carries it.
func (r Record) Get(name string) (KeyValue, bool) {
	kv, ok := r.KeyValues[name]
	return kv, ok
}

// Clone returns a deep-enough copy: payload and key values are copied so a
// caller mutating the returned Record cannot affect the store's view (spec
// §3 invariant: indexes and live records never show an intermediate state
// to readers).
func (r Record) Clone() Record {
	out := Record{TypeName: r.TypeName, KeyValues: make(map[string]KeyValue, len(r.KeyValues))}
	if r.Payload != nil {
		out.Payload = append([]byte(nil), r.Payload...)
	}
	for k, v := range r.KeyValues {
		if v.Elements != nil {
			v.Elements = append([]Scalar(nil), v.Elements...)
		}
		out.KeyValues[k] = v
	}
	return out
}
