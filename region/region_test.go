package region_test

import (
	"context"
	"testing"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/region"
	"github.com/sharedcode/regionserver/scan"
	"github.com/sharedcode/regionserver/wal"
)

func openTestRegion(t *testing.T, families ...string) (*region.Region, rs.RegionInfo) {
	t.Helper()
	dir := t.TempDir()
	log, err := wal.Open(dir, "localhost", time.Now().UnixNano(), 9999)
	if err != nil {
		t.Fatalf("wal.Open failed: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	descs := make([]rs.FamilyDescriptor, 0, len(families))
	for _, f := range families {
		descs = append(descs, rs.NewFamilyDescriptor(f, 3, 0))
	}
	info := rs.RegionInfo{
		Table:    "test",
		StartKey: []byte(""),
		EndKey:   []byte(""),
		RegionID: rs.NewUUID(),
		Families: descs,
	}
	r := region.Open(dir, info, log)
	r.MarkOpen()
	return r, info
}

func putCell(t *testing.T, r *region.Region, row []byte, column string, value []byte) {
	t.Helper()
	ctx := context.Background()
	lockID, err := r.StartUpdate(ctx, row)
	if err != nil {
		t.Fatalf("StartUpdate failed: %v", err)
	}
	if err := r.Put(ctx, lockID, column, time.Now().UnixNano(), value); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := r.Commit(ctx, lockID); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	r, _ := openTestRegion(t, "info")
	putCell(t, r, []byte("row1"), "info:name", []byte("alice"))

	cell, err := r.Get(context.Background(), []byte("row1"), "info:name")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cell == nil || string(cell.Value) != "alice" {
		t.Fatalf("expected alice, got %+v", cell)
	}
}

func TestDeleteTombstonesNewerThanPut(t *testing.T) {
	r, _ := openTestRegion(t, "info")
	putCell(t, r, []byte("row1"), "info:name", []byte("alice"))

	ctx := context.Background()
	lockID, err := r.StartUpdate(ctx, []byte("row1"))
	if err != nil {
		t.Fatalf("StartUpdate failed: %v", err)
	}
	if err := r.Delete(ctx, lockID, "info:name", time.Now().Add(time.Second).UnixNano()); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := r.Commit(ctx, lockID); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	cell, err := r.Get(ctx, []byte("row1"), "info:name")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cell != nil {
		t.Fatalf("expected tombstoned cell to read as absent, got %+v", cell)
	}
}

func TestFlushAndCompactSurviveReads(t *testing.T) {
	r, _ := openTestRegion(t, "info")
	putCell(t, r, []byte("row1"), "info:name", []byte("v1"))
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush 1 failed: %v", err)
	}
	putCell(t, r, []byte("row2"), "info:name", []byte("v2"))
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush 2 failed: %v", err)
	}

	if err := r.Compact(context.Background(), 2); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	cell, err := r.Get(context.Background(), []byte("row1"), "info:name")
	if err != nil {
		t.Fatalf("Get row1 failed: %v", err)
	}
	if cell == nil || string(cell.Value) != "v1" {
		t.Fatalf("expected v1 to survive compaction, got %+v", cell)
	}
	cell, err = r.Get(context.Background(), []byte("row2"), "info:name")
	if err != nil {
		t.Fatalf("Get row2 failed: %v", err)
	}
	if cell == nil || string(cell.Value) != "v2" {
		t.Fatalf("expected v2 to survive compaction, got %+v", cell)
	}
}

func TestScannerOrdersAcrossRows(t *testing.T) {
	r, _ := openTestRegion(t, "info")
	putCell(t, r, []byte("row2"), "info:name", []byte("bob"))
	putCell(t, r, []byte("row1"), "info:name", []byte("alice"))

	sc, err := r.Scanner(context.Background(), nil, nil, nil, 1, nil)
	if err != nil {
		t.Fatalf("Scanner failed: %v", err)
	}
	defer sc.Close()

	cells, ok, err := sc.Next()
	if err != nil || !ok {
		t.Fatalf("Next 1 failed: ok=%v err=%v", ok, err)
	}
	if string(cells[0].Row) != "row1" {
		t.Fatalf("expected row1 first, got %+v", cells)
	}

	cells, ok, err = sc.Next()
	if err != nil || !ok {
		t.Fatalf("Next 2 failed: ok=%v err=%v", ok, err)
	}
	if string(cells[0].Row) != "row2" {
		t.Fatalf("expected row2 second, got %+v", cells)
	}

	_, ok, err = sc.Next()
	if err != nil {
		t.Fatalf("Next 3 failed: %v", err)
	}
	if ok {
		t.Fatal("expected scanner to be exhausted")
	}
}

func TestScannerAppliesFilter(t *testing.T) {
	r, _ := openTestRegion(t, "info")
	putCell(t, r, []byte("row1"), "info:name", []byte("alice"))
	putCell(t, r, []byte("row2"), "info:name", []byte("bob"))

	f, err := scan.NewFilter(`string(cell.value) == "alice"`)
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	sc, err := r.Scanner(context.Background(), nil, nil, nil, 1, []*scan.Filter{f})
	if err != nil {
		t.Fatalf("Scanner failed: %v", err)
	}
	defer sc.Close()

	var rows []string
	for {
		cells, ok, err := sc.Next()
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		rows = append(rows, string(cells[0].Row))
	}
	if len(rows) != 1 || rows[0] != "row1" {
		t.Fatalf("expected only row1 to survive the filter, got %v", rows)
	}
}

func TestCloseAndSplitProducesBoundedChildren(t *testing.T) {
	r, info := openTestRegion(t, "info")
	putCell(t, r, []byte("a"), "info:name", []byte("v1"))
	putCell(t, r, []byte("z"), "info:name", []byte("v2"))
	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	left, right, leftRefs, rightRefs, err := r.CloseAndSplit(context.Background(), []byte("m"))
	if err != nil {
		t.Fatalf("CloseAndSplit failed: %v", err)
	}
	if string(left.EndKey) != "m" || string(right.StartKey) != "m" {
		t.Fatalf("expected split bound \"m\", got left=%+v right=%+v", left, right)
	}
	if left.RegionID == info.RegionID || right.RegionID == info.RegionID {
		t.Fatal("expected children to get fresh region ids")
	}
	if len(leftRefs["info"]) == 0 || len(rightRefs["info"]) == 0 {
		t.Fatalf("expected both children to reference the parent's flushed file, got left=%v right=%v", leftRefs, rightRefs)
	}
	if r.State() != region.Closed {
		t.Fatalf("expected parent to end up CLOSED, got %v", r.State())
	}
}
