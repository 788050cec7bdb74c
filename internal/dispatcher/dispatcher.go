// Package dispatcher provides the concurrency-gated entry point a wire
// transport adapter would call after decoding a request: a Dispatcher
// whose methods correspond 1:1 to the server's operations, each gated by
// a bounded worker pool and each taking a context.Context for
// cancellation. There is no wire transport here; callers reach
// Dispatcher in-process.
package dispatcher

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cachalotdb/store/internal/domaintracker"
	"github.com/cachalotdb/store/internal/query"
	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/server"
)

// Dispatcher wraps a *server.Server with a bounded pool of worker slots
// serving concurrent requests.
type Dispatcher struct {
	log  *zap.Logger
	srv  *server.Server
	pool *workerPool
}

// New returns a Dispatcher serving srv, allowing at most poolSize calls to
// run concurrently.
func New(log *zap.Logger, srv *server.Server, poolSize int) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if poolSize <= 0 {
		poolSize = 1
	}
	return &Dispatcher{
		log:  log.Named("dispatcher"),
		srv:  srv,
		pool: newWorkerPool(poolSize),
	}
}

// enter acquires a worker slot for a freshly minted request id, honoring
// ctx cancellation while waiting, and returns the release func to defer.
func (d *Dispatcher) enter(ctx context.Context) (uuid.UUID, func(), error) {
	id := uuid.New()
	acquired := make(chan struct{})
	go func() {
		d.pool.acquire(id)
		close(acquired)
	}()
	select {
	case <-acquired:
		return id, func() { d.pool.release(id) }, nil
	case <-ctx.Done():
		// The acquire goroutine above still completes eventually and takes
		// a slot it immediately releases, since acquire cannot be cancelled
		// mid-wait without tearing down the cond var; this keeps bookkeeping
		// simple at the cost of a slot being briefly claimed then freed.
		go func() { <-acquired; d.pool.release(id) }()
		return uuid.Nil, func() {}, ctx.Err()
	}
}

// Register implements the "Register type" operation.
func (d *Dispatcher) Register(ctx context.Context, desc schema.TypeDescription) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.Register(desc)
}

// Put implements the Put operation.
func (d *Dispatcher) Put(ctx context.Context, r record.Record) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.Put(r)
}

// Remove implements the Remove operation.
func (d *Dispatcher) Remove(ctx context.Context, typeName string, primaryKey record.Scalar) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.Remove(typeName, primaryKey)
}

// GetOne implements the GetOne operation.
func (d *Dispatcher) GetOne(ctx context.Context, typeName, keyName string, value record.Scalar) (record.Record, bool, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return record.Record{}, false, err
	}
	defer release()
	return d.srv.GetOne(typeName, keyName, value)
}

// EvalQuery implements the EvalQuery operation.
func (d *Dispatcher) EvalQuery(ctx context.Context, typeName string, q query.Query) (bool, int, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return false, 0, err
	}
	defer release()
	return d.srv.EvalQuery(typeName, q)
}

// GetMany implements the GetMany operation as a streamed result: the
// returned channel carries every matching record and is closed when the
// stream ends. The full result slice is fetched from the server before the
// first send, so the whole result set is held in memory while it streams.
// A context cancellation stops the send loop without leaking the
// producer goroutine.
func (d *Dispatcher) GetMany(ctx context.Context, typeName string, q query.Query) (<-chan record.Record, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}

	records, err := d.srv.GetMany(typeName, q)
	if err != nil {
		release()
		return nil, err
	}

	out := make(chan record.Record)
	go func() {
		defer release()
		defer close(out)
		for _, r := range records {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// AvailableItem is one streamed GetAvailableItems result: the found
// record paired with its progress through the requested key list.
type AvailableItem struct {
	Record      record.Record
	CurrentItem int
	TotalItems  int
}

// GetAvailableItems implements the GetAvailableItems operation: a stream of
// found records carrying (currentItem, totalItems) progress, plus an
// out-of-band list of keys that were not found.
func (d *Dispatcher) GetAvailableItems(ctx context.Context, typeName string, keys []record.Scalar, filter *query.Query) (<-chan AvailableItem, []record.Scalar, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return nil, nil, err
	}

	found, notFound, err := d.srv.GetAvailableItems(typeName, keys, filter)
	if err != nil {
		release()
		return nil, nil, err
	}

	out := make(chan AvailableItem)
	total := len(found)
	go func() {
		defer release()
		defer close(out)
		for i, r := range found {
			item := AvailableItem{Record: r, CurrentItem: i + 1, TotalItems: total}
			select {
			case out <- item:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, notFound, nil
}

// GetObjectDescriptions implements the GetObjectDescriptions operation.
func (d *Dispatcher) GetObjectDescriptions(ctx context.Context, typeName string, q query.Query) ([]server.ObjectDescription, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.srv.GetObjectDescriptions(typeName, q)
}

// Truncate implements the Truncate operation.
func (d *Dispatcher) Truncate(ctx context.Context, typeName string) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.Truncate(typeName)
}

// DeleteMany implements the DeleteMany operation.
func (d *Dispatcher) DeleteMany(ctx context.Context, typeName string, q query.Query) (int, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return d.srv.DeleteMany(typeName, q)
}

// DeclareDomain implements the DeclareDomain operation.
func (d *Dispatcher) DeclareDomain(ctx context.Context, typeName string, desc domaintracker.Description, mode domaintracker.Mode) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.DeclareDomain(typeName, desc, mode)
}

// GetKnownTypes implements the GetKnownTypes operation.
func (d *Dispatcher) GetKnownTypes(ctx context.Context) ([]schema.TypeDescription, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.srv.GetKnownTypes(), nil
}

// GetServerDescription implements the GetServerDescription operation.
func (d *Dispatcher) GetServerDescription(ctx context.Context) ([]server.TypeStats, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.srv.GetServerDescription(), nil
}

// GenerateUniqueIds implements the GenerateUniqueIds operation.
func (d *Dispatcher) GenerateUniqueIds(ctx context.Context, name string, n int) ([]int64, error) {
	_, release, err := d.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return d.srv.GenerateUniqueIds(name, n)
}

// Dump implements the Dump operation.
func (d *Dispatcher) Dump(ctx context.Context, path string) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.Dump(path)
}

// ImportDump implements the ImportDump operation.
func (d *Dispatcher) ImportDump(ctx context.Context, path string) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.ImportDump(path)
}

// InitializeFromDump implements the InitializeFromDump operation.
func (d *Dispatcher) InitializeFromDump(ctx context.Context, path string) error {
	_, release, err := d.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	return d.srv.InitializeFromDump(path)
}

// InFlight returns the correlation ids currently holding a worker slot, for
// diagnostics.
func (d *Dispatcher) InFlight() []uuid.UUID { return d.pool.inFlight() }

// WorkerPoolSize returns the dispatcher's current concurrency limit.
func (d *Dispatcher) WorkerPoolSize() int { return d.pool.capacity() }

// SetWorkerPoolSize adjusts the concurrency limit at runtime, waking any
// caller blocked in enter if the new size admits more work. Negative sizes
// are clamped to zero.
func (d *Dispatcher) SetWorkerPoolSize(n int) { d.pool.updateCapacity(n) }
