package schema

import "testing"

func item() TypeDescription {
	return TypeDescription{
		FullName:   "Item",
		PrimaryKey: FieldDescriptor{Name: "pk", Kind: KindInt},
		UniqueKeys: []FieldDescriptor{{Name: "unique", Kind: KindInt}},
		Indexes: []IndexDescriptor{
			{Field: FieldDescriptor{Name: "folder", Kind: KindString}},
			{Field: FieldDescriptor{Name: "date", Kind: KindDate}, Ordered: true},
			{Field: FieldDescriptor{Name: "tags", Kind: KindString}, List: true},
		},
	}
}

func TestTypeDescriptionEqualIgnoresDeclarationOrder(t *testing.T) {
	a := item()
	b := item()
	b.UniqueKeys = []FieldDescriptor{{Name: "unique", Kind: KindInt}}
	b.Indexes = []IndexDescriptor{b.Indexes[2], b.Indexes[0], b.Indexes[1]}
	if !a.Equal(b) {
		t.Fatalf("expected equal descriptions regardless of declaration order")
	}
}

func TestTypeDescriptionEqualDetectsDifference(t *testing.T) {
	a := item()
	b := item()
	b.Indexes = b.Indexes[:2]
	if a.Equal(b) {
		t.Fatalf("expected descriptions with different index sets to differ")
	}
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(item()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(item()); err != nil {
		t.Fatalf("re-register identical schema should be a no-op: %v", err)
	}
}

func TestRegistryRegisterConflict(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(item()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	other := item()
	other.PrimaryKey = FieldDescriptor{Name: "differentPk", Kind: KindInt}
	err := r.Register(other)
	if err == nil {
		t.Fatalf("expected ErrDifferentSchema")
	}
	if _, ok := err.(*ErrDifferentSchema); !ok {
		t.Fatalf("expected *ErrDifferentSchema, got %T", err)
	}
}

func TestFieldByNameAndIndexByName(t *testing.T) {
	d := item()
	if _, ok := d.FieldByName("folder"); !ok {
		t.Fatalf("expected folder field to be found")
	}
	if _, ok := d.FieldByName("nope"); ok {
		t.Fatalf("expected unknown field to be absent")
	}
	idx, ok := d.IndexByName("date")
	if !ok || !idx.Ordered {
		t.Fatalf("expected date to be a known ordered index")
	}
	if !d.IsUnique("unique") || d.IsUnique("folder") {
		t.Fatalf("IsUnique classification wrong")
	}
}
