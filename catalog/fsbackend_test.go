package catalog_test

import (
	"context"
	"testing"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/catalog"
)

func TestFSBackendPutGetDelete(t *testing.T) {
	b, err := catalog.NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBackend failed: %v", err)
	}
	ctx := context.Background()

	info := rs.RegionInfo{Table: "t1", StartKey: []byte(""), RegionID: rs.NewUUID()}
	row := catalog.Row{Info: info, Server: "host1:1234"}

	if err := b.Put(ctx, row); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := b.Get(ctx, info.Name())
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected row to be found")
	}
	if got.Server != "host1:1234" {
		t.Errorf("expected Server host1:1234, got %q", got.Server)
	}

	if err := b.Delete(ctx, info.Name()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, ok, err = b.Get(ctx, info.Name())
	if err != nil {
		t.Fatalf("Get after Delete failed: %v", err)
	}
	if ok {
		t.Fatal("expected row to be gone after Delete")
	}
}

func TestFSBackendListTableFiltersByTable(t *testing.T) {
	b, err := catalog.NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBackend failed: %v", err)
	}
	ctx := context.Background()

	row1 := catalog.Row{Info: rs.RegionInfo{Table: "t1", StartKey: []byte("a"), RegionID: rs.NewUUID()}}
	row2 := catalog.Row{Info: rs.RegionInfo{Table: "t1", StartKey: []byte("m"), RegionID: rs.NewUUID()}}
	row3 := catalog.Row{Info: rs.RegionInfo{Table: "t2", StartKey: []byte("a"), RegionID: rs.NewUUID()}}

	for _, row := range []catalog.Row{row1, row2, row3} {
		if err := b.Put(ctx, row); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	rows, err := b.ListTable(ctx, "t1")
	if err != nil {
		t.Fatalf("ListTable failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows for t1, got %d", len(rows))
	}
}

func TestFSBackendLockRejectsDoubleAcquire(t *testing.T) {
	b, err := catalog.NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBackend failed: %v", err)
	}
	ctx := context.Background()

	unlock, err := b.Lock(ctx, []string{"row1"}, time.Minute)
	if err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}
	if _, err := b.Lock(ctx, []string{"row1"}, time.Minute); err == nil {
		t.Fatal("expected second Lock over the same row to fail")
	}
	unlock()
	if _, err := b.Lock(ctx, []string{"row1"}, time.Minute); err != nil {
		t.Fatalf("expected Lock to succeed after unlock, got: %v", err)
	}
}

func TestSplitChildrenRoundTripThroughRow(t *testing.T) {
	b, err := catalog.NewFSBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSBackend failed: %v", err)
	}
	ctx := context.Background()

	info := rs.RegionInfo{Table: "t1", StartKey: []byte(""), RegionID: rs.NewUUID()}
	row := catalog.Row{
		Info:   info,
		SplitA: "t1,,childA",
		SplitB: "t1,,childB",
	}
	if err := b.Put(ctx, row); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := b.Get(ctx, info.Name())
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.SplitA != "t1,,childA" || got.SplitB != "t1,,childB" {
		t.Fatalf("expected split children names to round-trip, got %+v", got)
	}
}
