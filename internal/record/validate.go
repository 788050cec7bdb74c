package record

import (
	"fmt"

	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/storeerr"
)

// Validate checks r against desc: the primary key must be present and of
// the declared kind, every carried key must be declared, each key's Role
// must match its declaration (unique, index or list-index), and scalar and
// list-element kinds must match the declared kind. The Elements field is
// not checked for presence or absence beyond that.
func Validate(desc schema.TypeDescription, r Record) error {
	primary, ok := r.Get(desc.PrimaryKey.Name)
	if !ok || primary.Role != RolePrimary {
		return storeerr.New(storeerr.SchemaMismatch, "Validate",
			fmt.Sprintf("record missing primary key %q", desc.PrimaryKey.Name))
	}
	if primary.Scalar.Kind != desc.PrimaryKey.Kind {
		return storeerr.New(storeerr.SchemaMismatch, "Validate",
			fmt.Sprintf("primary key %q: declared kind %s, got %s", desc.PrimaryKey.Name, desc.PrimaryKey.Kind, primary.Scalar.Kind))
	}

	for name, kv := range r.KeyValues {
		if name == desc.PrimaryKey.Name {
			continue
		}
		if desc.IsUnique(name) {
			if kv.Role != RoleUnique {
				return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q: expected unique role", name))
			}
			if f, _ := desc.FieldByName(name); kv.Scalar.Kind != f.Kind {
				return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q: declared kind %s, got %s", name, f.Kind, kv.Scalar.Kind))
			}
			continue
		}
		idx, ok := desc.IndexByName(name)
		if !ok {
			return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q is not declared on type %q", name, desc.FullName))
		}
		if idx.List {
			if kv.Role != RoleListIndex {
				return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q: expected list-index role", name))
			}
			for _, el := range kv.Elements {
				if el.Kind != idx.Field.Kind {
					return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q: element kind %s != declared %s", name, el.Kind, idx.Field.Kind))
				}
			}
			continue
		}
		if kv.Role != RoleIndex {
			return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q: expected index role", name))
		}
		if kv.Scalar.Kind != idx.Field.Kind {
			return storeerr.New(storeerr.SchemaMismatch, "Validate", fmt.Sprintf("key %q: declared kind %s, got %s", name, idx.Field.Kind, kv.Scalar.Kind))
		}
	}
	return nil
}
