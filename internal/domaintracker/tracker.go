// Package domaintracker implements a domain-completeness tracker: per
// type, a fully-loaded flag plus a set of covered sub-queries, used to
// answer whether a query's result is authoritative.
package domaintracker

import (
	"sync"

	"github.com/cachalotdb/store/internal/query"
)

// Mode selects how Declare combines a description with existing state.
type Mode int

const (
	Set Mode = iota
	Add
	Remove
)

// Description is the argument to Declare: the fully-loaded flag and the
// covered and-blocks it carries.
type Description struct {
	FullyLoaded bool
	Covered     []query.AndBlock
}

// Tracker holds one type's completeness state.
type Tracker struct {
	mu          sync.RWMutex
	fullyLoaded bool
	covered     map[string]query.AndBlock // keyed by a canonical string key
}

// New returns an empty tracker (nothing declared complete).
func New() *Tracker {
	return &Tracker{covered: make(map[string]query.AndBlock)}
}

// Declare applies desc to the tracker under mode:
//   - Set replaces both the flag and the covered set.
//   - Add unions desc's covered blocks into the existing set; FullyLoaded
//     becomes true if it already was, or if desc sets it.
//   - Remove clears FullyLoaded and removes the listed sub-queries.
func (t *Tracker) Declare(desc Description, mode Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch mode {
	case Set:
		t.fullyLoaded = desc.FullyLoaded
		t.covered = make(map[string]query.AndBlock, len(desc.Covered))
		for _, b := range desc.Covered {
			cb := b.Canonical()
			t.covered[key(cb)] = cb
		}
	case Add:
		if desc.FullyLoaded {
			t.fullyLoaded = true
		}
		for _, b := range desc.Covered {
			cb := b.Canonical()
			t.covered[key(cb)] = cb
		}
	case Remove:
		t.fullyLoaded = false
		for _, b := range desc.Covered {
			cb := b.Canonical()
			delete(t.covered, key(cb))
		}
	}
}

// Authoritative reports whether q is authoritative: either the type is
// fully loaded, or every and-block of q is subsumed by some covered block.
func (t *Tracker) Authoritative(q query.Query) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.fullyLoaded {
		return true
	}
	for _, block := range q.Or {
		if !t.subsumedByAny(block) {
			return false
		}
	}
	return true
}

func (t *Tracker) subsumedByAny(block query.AndBlock) bool {
	for _, covered := range t.covered {
		if subsumes(covered, block) {
			return true
		}
	}
	return false
}

// subsumes reports whether every predicate of covered appears verbatim
// (same field, operator, and operand values) in block.
func subsumes(covered, block query.AndBlock) bool {
	for _, cp := range covered.Predicates {
		found := false
		for _, bp := range block.Predicates {
			if samePredicate(cp, bp) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func samePredicate(a, b query.Predicate) bool {
	if a.Field != b.Field || a.Op != b.Op || len(a.Values) != len(b.Values) {
		return false
	}
	for i := range a.Values {
		if !a.Values[i].Equal(b.Values[i]) {
			return false
		}
	}
	return true
}

// key builds a stable map key for a canonicalized and-block.
func key(b query.AndBlock) string {
	s := ""
	for _, p := range b.Predicates {
		s += p.Field + "|" + p.Op.String() + "|"
		for _, v := range p.Values {
			s += v.Str + "|"
			s += itoa(v.Int) + "|"
		}
		s += ";"
	}
	return s
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
