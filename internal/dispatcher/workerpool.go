package dispatcher

import (
	"sync"

	"github.com/google/uuid"
)

// workerPool is a dynamically adjustable semaphore with explicit ownership,
// gating how many dispatcher calls run concurrently. Each acquisition is
// tied to a request's correlation id, which lets the dispatcher report
// exactly which in-flight requests are holding a worker slot.
type workerPool struct {
	mu         sync.Mutex
	cond       *sync.Cond
	maxCap     int
	usage      int
	acquiredBy map[uuid.UUID]struct{}
}

// newWorkerPool initializes the pool with the given concurrency limit.
func newWorkerPool(max int) *workerPool {
	p := &workerPool{
		maxCap:     max,
		acquiredBy: make(map[uuid.UUID]struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// acquire blocks until usage < maxCap and registers id as the owner of the
// slot it takes.
func (p *workerPool) acquire(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, holds := p.acquiredBy[id]; holds {
		panic("workerPool: request id already holds a slot")
	}

	for p.usage >= p.maxCap {
		p.cond.Wait()
	}

	p.usage++
	p.acquiredBy[id] = struct{}{}
}

// release frees the slot owned by id.
func (p *workerPool) release(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, holds := p.acquiredBy[id]; !holds {
		panic("workerPool: release for non-owner request id")
	}

	delete(p.acquiredBy, id)
	p.usage--
	p.cond.Signal()
}

// inFlight returns the correlation ids currently holding a worker slot.
func (p *workerPool) inFlight() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]uuid.UUID, 0, len(p.acquiredBy))
	for id := range p.acquiredBy {
		out = append(out, id)
	}
	return out
}

// capacity returns the configured concurrency limit.
func (p *workerPool) capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxCap
}

// updateCapacity adjusts the configured concurrency limit at runtime.
func (p *workerPool) updateCapacity(newCap int) {
	if newCap < 0 {
		newCap = 0
	}
	p.mu.Lock()
	p.maxCap = newCap
	p.cond.Broadcast()
	p.mu.Unlock()
}
