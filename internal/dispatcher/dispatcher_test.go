package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/cachalotdb/store/internal/query"
	"github.com/cachalotdb/store/internal/record"
	"github.com/cachalotdb/store/internal/schema"
	"github.com/cachalotdb/store/internal/server"
)

func itemDesc() schema.TypeDescription {
	return schema.TypeDescription{
		FullName:   "Item",
		PrimaryKey: schema.FieldDescriptor{Name: "pk", Kind: schema.KindInt},
		Indexes: []schema.IndexDescriptor{
			{Field: schema.FieldDescriptor{Name: "folder", Kind: schema.KindString}},
		},
	}
}

func itemRecord(pk int64, folder string) record.Record {
	return record.Record{
		TypeName: "Item",
		KeyValues: map[string]record.KeyValue{
			"pk":     {Name: "pk", Role: record.RolePrimary, Kind: schema.KindInt, Scalar: record.IntScalar(schema.KindInt, pk)},
			"folder": {Name: "folder", Role: record.RoleIndex, Kind: schema.KindString, Scalar: record.StrScalar(folder)},
		},
	}
}

func newDispatcherFixture(t *testing.T, poolSize int) *Dispatcher {
	t.Helper()
	srv := server.New(nil, t.TempDir())
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { srv.Stop(context.Background()) })
	if err := srv.Register(itemDesc()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return New(nil, srv, poolSize)
}

func TestPutAndGetOneRoundTrip(t *testing.T) {
	d := newDispatcherFixture(t, 4)
	ctx := context.Background()
	if err := d.Put(ctx, itemRecord(1, "aaa")); err != nil {
		t.Fatalf("put: %v", err)
	}
	r, ok, err := d.GetOne(ctx, "Item", "pk", record.IntScalar(schema.KindInt, 1))
	if err != nil || !ok {
		t.Fatalf("expected to find the put record, ok=%v err=%v", ok, err)
	}
	if r.Primary().Scalar.Int != 1 {
		t.Fatalf("unexpected record returned: %+v", r)
	}
}

func TestGetManyStreamsAllMatches(t *testing.T) {
	d := newDispatcherFixture(t, 4)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if err := d.Put(ctx, itemRecord(i, "aaa")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	q := query.Query{TypeName: "Item", Or: []query.AndBlock{{Predicates: []query.Predicate{
		{Field: "folder", Op: query.OpEq, Values: []record.Scalar{record.StrScalar("aaa")}},
	}}}}
	ch, err := d.GetMany(ctx, "Item", q)
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	count := 0
	for range ch {
		count++
	}
	if count != 5 {
		t.Fatalf("expected 5 streamed records, got %d", count)
	}
}

// TestGetManyStopsStreamingOnContextCancellation checks that cancelling
// the context closes the output channel rather than hanging, modeling a
// channel disconnect aborting an in-flight streaming response.
func TestGetManyStopsStreamingOnContextCancellation(t *testing.T) {
	d := newDispatcherFixture(t, 4)
	ctx := context.Background()
	for i := int64(1); i <= 50; i++ {
		if err := d.Put(ctx, itemRecord(i, "aaa")); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	q := query.Query{TypeName: "Item", Or: []query.AndBlock{{Predicates: []query.Predicate{
		{Field: "folder", Op: query.OpEq, Values: []record.Scalar{record.StrScalar("aaa")}},
	}}}}

	cancelCtx, cancel := context.WithCancel(context.Background())
	ch, err := d.GetMany(cancelCtx, "Item", q)
	if err != nil {
		t.Fatalf("get many: %v", err)
	}
	<-ch // consume exactly one record
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected the stream channel to close after cancellation")
	}
}

func TestEnterReturnsContextErrorWhenCancelledBeforeAcquire(t *testing.T) {
	d := newDispatcherFixture(t, 1)
	// Saturate the only slot so the next enter call must wait.
	id, release, err := d.enter(context.Background())
	if err != nil {
		t.Fatalf("enter: %v", err)
	}
	defer release()
	_ = id

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = d.enter(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestInFlightTracksHeldSlots(t *testing.T) {
	d := newDispatcherFixture(t, 2)
	ctx := context.Background()

	a, releaseA, err := d.enter(ctx)
	if err != nil {
		t.Fatalf("enter a: %v", err)
	}
	b, releaseB, err := d.enter(ctx)
	if err != nil {
		t.Fatalf("enter b: %v", err)
	}
	if len(d.InFlight()) != 2 {
		t.Fatalf("expected 2 in-flight slots held, got %d", len(d.InFlight()))
	}
	_ = a
	_ = b
	releaseA()
	releaseB()
	if len(d.InFlight()) != 0 {
		t.Fatalf("expected 0 in-flight slots after release, got %d", len(d.InFlight()))
	}
}
