package domaintracker

import (
	"testing"

	"github.com/cachalotdb/store/internal/query"
	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
)

func eqBlock(field string, v int64) query.AndBlock {
	return query.AndBlock{Predicates: []query.Predicate{
		{Field: field, Op: query.OpEq, Values: []record.Scalar{record.IntScalar(schema.KindInt, v)}},
	}}
}

func TestFreshTrackerIsNotAuthoritative(t *testing.T) {
	tr := New()
	q := query.Query{Or: []query.AndBlock{eqBlock("folder", 1)}}
	if tr.Authoritative(q) {
		t.Fatalf("expected a fresh tracker to answer nothing authoritatively")
	}
}

func TestSetMarksFullyLoaded(t *testing.T) {
	tr := New()
	tr.Declare(Description{FullyLoaded: true}, Set)
	q := query.Query{Or: []query.AndBlock{eqBlock("folder", 1)}}
	if !tr.Authoritative(q) {
		t.Fatalf("expected fully-loaded tracker to answer every query authoritatively")
	}
}

// TestAddUnionsCoveredBlocks covers spec scenario S3: declaring coverage for
// folder=1 then folder=2 makes both individually authoritative but not a
// third, undeclared folder.
func TestAddUnionsCoveredBlocks(t *testing.T) {
	tr := New()
	tr.Declare(Description{Covered: []query.AndBlock{eqBlock("folder", 1)}}, Add)
	tr.Declare(Description{Covered: []query.AndBlock{eqBlock("folder", 2)}}, Add)

	if !tr.Authoritative(query.Query{Or: []query.AndBlock{eqBlock("folder", 1)}}) {
		t.Fatalf("expected folder=1 to be authoritative")
	}
	if !tr.Authoritative(query.Query{Or: []query.AndBlock{eqBlock("folder", 2)}}) {
		t.Fatalf("expected folder=2 to be authoritative")
	}
	if tr.Authoritative(query.Query{Or: []query.AndBlock{eqBlock("folder", 3)}}) {
		t.Fatalf("expected folder=3 to remain non-authoritative")
	}
}

func TestRemoveClearsFullyLoadedAndCoveredBlock(t *testing.T) {
	tr := New()
	tr.Declare(Description{FullyLoaded: true, Covered: []query.AndBlock{eqBlock("folder", 1)}}, Set)
	tr.Declare(Description{Covered: []query.AndBlock{eqBlock("folder", 1)}}, Remove)

	if tr.Authoritative(query.Query{Or: []query.AndBlock{eqBlock("folder", 1)}}) {
		t.Fatalf("expected Remove to clear both the fully-loaded flag and the covered block")
	}
}

func TestAuthoritativeRequiresEveryOrBlockCovered(t *testing.T) {
	tr := New()
	tr.Declare(Description{Covered: []query.AndBlock{eqBlock("folder", 1)}}, Add)
	q := query.Query{Or: []query.AndBlock{eqBlock("folder", 1), eqBlock("folder", 2)}}
	if tr.Authoritative(q) {
		t.Fatalf("expected a disjunction with an uncovered branch to be non-authoritative")
	}
}

func TestSubsumptionIgnoresExtraPredicatesInQuery(t *testing.T) {
	tr := New()
	tr.Declare(Description{Covered: []query.AndBlock{eqBlock("folder", 1)}}, Add)
	block := eqBlock("folder", 1)
	block.Predicates = append(block.Predicates, query.Predicate{
		Field: "unique", Op: query.OpEq, Values: []record.Scalar{record.IntScalar(schema.KindInt, 99)},
	})
	q := query.Query{Or: []query.AndBlock{block}}
	if !tr.Authoritative(q) {
		t.Fatalf("expected a covered predicate subset to subsume a more specific query")
	}
}
