// Package query defines the query tree (a disjunction of and-blocks of
// atomic predicates) and the evaluator that turns one into a set of record
// references against a recordstore.Store.
package query

import "github.com/cachalotdb/store/internal/record"

// Op is an atomic predicate's operator.
type Op int

const (
	OpEq Op = iota
	OpNeq
	OpLT
	OpLTE
	OpGT
	OpGTE
	OpIn
	OpContains
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNeq:
		return "!="
	case OpLT:
		return "<"
	case OpLTE:
		return "<="
	case OpGT:
		return ">"
	case OpGTE:
		return ">="
	case OpIn:
		return "in"
	case OpContains:
		return "contains"
	default:
		return "?"
	}
}

// Predicate is one atomic predicate: (keyName, op, operand(s)).
// Values holds one operand for Eq/Neq/LT/LTE/GT/GTE, two for a Between
// encoded as two chained GTE/LTE predicates by the caller (the evaluator
// does not special-case Between; see Evaluate), and one or more for
// In/Contains.
type Predicate struct {
	Field  string
	Op     Op
	Values []record.Scalar
}

// AndBlock is a conjunction of atomic predicates, all against the same type.
type AndBlock struct {
	Predicates []Predicate
}

// Query is a disjunction of and-blocks over a single type.
type Query struct {
	TypeName string
	Or       []AndBlock
}

// Canonical returns and-blocks sorted by field name, for use as a domain
// tracker covered sub-query key (subsumption comparison is order-independent).
func (a AndBlock) Canonical() AndBlock {
	preds := append([]Predicate(nil), a.Predicates...)
	for i := 1; i < len(preds); i++ {
		for j := i; j > 0 && preds[j-1].Field > preds[j].Field; j-- {
			preds[j-1], preds[j] = preds[j], preds[j-1]
		}
	}
	return AndBlock{Predicates: preds}
}
