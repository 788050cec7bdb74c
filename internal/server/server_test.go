package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cachalotdb/store/internal/domaintracker"
	"github.com/cachalotdb/store/internal/query"
	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/storeerr"
)

func itemDesc() schema.TypeDescription {
	return schema.TypeDescription{
		FullName:   "Item",
		PrimaryKey: schema.FieldDescriptor{Name: "pk", Kind: schema.KindInt},
		UniqueKeys: []schema.FieldDescriptor{{Name: "unique", Kind: schema.KindInt}},
		Indexes: []schema.IndexDescriptor{
			{Field: schema.FieldDescriptor{Name: "folder", Kind: schema.KindString}},
		},
	}
}

func itemRecord(pk, unique int64, folder string) record.Record {
	return record.Record{
		TypeName: "Item",
		KeyValues: map[string]record.KeyValue{
			"pk":     {Name: "pk", Role: record.RolePrimary, Kind: schema.KindInt, Scalar: record.IntScalar(schema.KindInt, pk)},
			"unique": {Name: "unique", Role: record.RoleUnique, Kind: schema.KindInt, Scalar: record.IntScalar(schema.KindInt, unique)},
			"folder": {Name: "folder", Role: record.RoleIndex, Kind: schema.KindString, Scalar: record.StrScalar(folder)},
		},
	}
}

func eqFolder(folder string) query.Query {
	return query.Query{TypeName: "Item", Or: []query.AndBlock{{Predicates: []query.Predicate{
		{Field: "folder", Op: query.OpEq, Values: []record.Scalar{record.StrScalar(folder)}},
	}}}}
}

func newStartedServer(t *testing.T) *Server {
	t.Helper()
	s := New(nil, t.TempDir())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop(context.Background()) })
	if err := s.Register(itemDesc()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return s
}

// TestPutGetMatchesEvalQueryCardinality checks that EvalQuery's count always
// equals len(GetMany(...)) for the same query.
func TestPutGetMatchesEvalQueryCardinality(t *testing.T) {
	s := newStartedServer(t)
	if err := s.Put(itemRecord(1, 1001, "aaa")); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := s.Put(itemRecord(2, 1002, "aaa")); err != nil {
		t.Fatalf("put 2: %v", err)
	}

	many, err := s.GetMany("Item", eqFolder("aaa"))
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	_, count, err := s.EvalQuery("Item", eqFolder("aaa"))
	if err != nil {
		t.Fatalf("eval query: %v", err)
	}
	if count != len(many) {
		t.Fatalf("expected EvalQuery count %d to equal GetMany length %d", count, len(many))
	}
}

func TestRemoveUnknownPrimaryKeyIsNotFound(t *testing.T) {
	s := newStartedServer(t)
	err := s.Remove("Item", record.IntScalar(schema.KindInt, 99))
	if storeerr.KindOf(err) != storeerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestOperationsOnUnknownTypeReturnUnknownType(t *testing.T) {
	s := newStartedServer(t)
	_, _, err := s.GetOne("Ghost", "pk", record.IntScalar(schema.KindInt, 1))
	if storeerr.KindOf(err) != storeerr.UnknownType {
		t.Fatalf("expected UnknownType, got %v", err)
	}
}

// TestDeclareDomainMakesQueryAuthoritative covers spec scenario S3.
func TestDeclareDomainMakesQueryAuthoritative(t *testing.T) {
	s := newStartedServer(t)
	_ = s.Put(itemRecord(1, 1001, "aaa"))

	authoritative, _, err := s.EvalQuery("Item", eqFolder("aaa"))
	if err != nil {
		t.Fatalf("eval query: %v", err)
	}
	if authoritative {
		t.Fatalf("expected a query to be non-authoritative before any domain declaration")
	}

	desc := domaintracker.Description{Covered: []query.AndBlock{eqFolder("aaa").Or[0]}}
	if err := s.DeclareDomain("Item", desc, domaintracker.Add); err != nil {
		t.Fatalf("declare domain: %v", err)
	}
	authoritative, _, err = s.EvalQuery("Item", eqFolder("aaa"))
	if err != nil {
		t.Fatalf("eval query: %v", err)
	}
	if !authoritative {
		t.Fatalf("expected the declared folder to be authoritative")
	}
}

func TestDeleteManyRemovesMatchesAndJournals(t *testing.T) {
	s := newStartedServer(t)
	_ = s.Put(itemRecord(1, 1001, "aaa"))
	_ = s.Put(itemRecord(2, 1002, "aaa"))
	_ = s.Put(itemRecord(3, 1003, "bbb"))

	n, err := s.DeleteMany("Item", eqFolder("aaa"))
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 records removed, got %d", n)
	}
	many, err := s.GetMany("Item", eqFolder("bbb"))
	if err != nil || len(many) != 1 {
		t.Fatalf("expected 1 record left in folder bbb, got %d (err=%v)", len(many), err)
	}
}

func TestTruncateResetsTypeStats(t *testing.T) {
	s := newStartedServer(t)
	_ = s.Put(itemRecord(1, 1001, "aaa"))
	s.GetOne("Item", "pk", record.IntScalar(schema.KindInt, 1))

	if err := s.Truncate("Item"); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	stats := s.GetServerDescription()
	if len(stats) != 1 || stats[0].Count != 0 || stats[0].HitCount != 0 {
		t.Fatalf("expected truncate to zero count and hit count, got %+v", stats)
	}
}

func TestGenerateUniqueIdsIsMonotonic(t *testing.T) {
	s := newStartedServer(t)
	first, err := s.GenerateUniqueIds("orders", 5)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := s.GenerateUniqueIds("orders", 5)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first[len(first)-1] >= second[0] {
		t.Fatalf("expected the second batch to start strictly after the first, got %v then %v", first, second)
	}
}

// TestDumpAndInitializeFromDumpRoundTrip covers spec scenario S5: dump,
// start a fresh server over an empty data path, and import restores both
// records and the sequence high-water mark.
func TestDumpAndInitializeFromDumpRoundTrip(t *testing.T) {
	s := newStartedServer(t)
	_ = s.Put(itemRecord(1, 1001, "aaa"))
	_ = s.Put(itemRecord(2, 1002, "bbb"))
	if _, err := s.GenerateUniqueIds("orders", 10); err != nil {
		t.Fatalf("generate: %v", err)
	}

	dumpPath := filepath.Join(t.TempDir(), "dumps")
	if err := s.Dump(dumpPath); err != nil {
		t.Fatalf("dump: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(dumpPath, "*"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one dump day directory, got %v (err=%v)", entries, err)
	}

	s2 := New(nil, t.TempDir())
	if err := s2.Start(context.Background()); err != nil {
		t.Fatalf("start second server: %v", err)
	}
	defer s2.Stop(context.Background())
	if err := s2.Register(itemDesc()); err != nil {
		t.Fatalf("register on second server: %v", err)
	}
	if err := s2.InitializeFromDump(entries[0]); err != nil {
		t.Fatalf("initialize from dump: %v", err)
	}

	many, err := s2.GetMany("Item", eqFolder("aaa"))
	if err != nil || len(many) != 1 {
		t.Fatalf("expected restored folder aaa to carry 1 record, got %d (err=%v)", len(many), err)
	}
	ids, err := s2.GenerateUniqueIds("orders", 1)
	if err != nil {
		t.Fatalf("generate after restore: %v", err)
	}
	if ids[0] <= 10 {
		t.Fatalf("expected the restored sequence high-water mark to exceed 10, got %v", ids)
	}
}
