package recordstore

import "github.com/cachalotdb/store/internal/record"

// recordID is a record's stable address inside the arena. Indexes store
// recordIDs rather than *record.Record pointers, so records and indexes
// never reference each other directly and cannot form an ownership cycle.
//
// recordID is a uint32 because every index bucket is a roaring.Bitmap,
// whose native element type is uint32; a single type's live record count
// is expected to stay well inside that range for an in-memory cache.
type recordID = uint32

// arena holds every live (and, briefly, retired) record of one type,
// addressed by recordID. IDs are never reused for a different record
// while an index might still reference them; Truncate is the only
// operation that resets the arena and its id space together.
type arena struct {
	slots     []record.Record // slots[id] is valid iff live[id]
	live      []bool
	free      []recordID
	next      recordID
	liveCount int
}

func newArena() *arena {
	return &arena{}
}

// put stores r and returns its new recordID.
func (a *arena) put(r record.Record) recordID {
	if n := len(a.free); n > 0 {
		id := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[id] = r
		a.live[id] = true
		a.liveCount++
		return id
	}
	id := a.next
	a.next++
	a.slots = append(a.slots, r)
	a.live = append(a.live, true)
	a.liveCount++
	return id
}

// get returns the record at id and whether it is still live.
func (a *arena) get(id recordID) (record.Record, bool) {
	if int(id) >= len(a.slots) || !a.live[id] {
		return record.Record{}, false
	}
	return a.slots[id], true
}

// retire marks id as free, releasing its slot for reuse.
func (a *arena) retire(id recordID) {
	if int(id) >= len(a.slots) || !a.live[id] {
		return
	}
	a.live[id] = false
	a.slots[id] = record.Record{}
	a.free = append(a.free, id)
	a.liveCount--
}

// count returns the number of currently live records.
func (a *arena) count() int {
	return a.liveCount
}

// reset clears the arena entirely, as Truncate requires.
func (a *arena) reset() {
	a.slots = nil
	a.live = nil
	a.free = nil
	a.next = 0
	a.liveCount = 0
}
