package storefile_test

import (
	"os"
	"path/filepath"
	"testing"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/storefile"
)

func sampleCells() []rs.Cell {
	return []rs.Cell{
		{Row: []byte("row1"), Column: "info:name", Timestamp: 2, Value: []byte("alice")},
		{Row: []byte("row1"), Column: "info:name", Timestamp: 1, Value: []byte("al")},
		{Row: []byte("row2"), Column: "info:name", Timestamp: 1, Value: []byte("bob")},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store1")

	f, err := storefile.Write(path, sampleCells(), false)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if f.Count != 3 {
		t.Errorf("expected Count 3, got %d", f.Count)
	}

	got, err := storefile.Read(path)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 cells, got %d", len(got))
	}
	// Read sorts by Cell.Less: row asc, column asc, timestamp desc.
	if string(got[0].Row) != "row1" || got[0].Timestamp != 2 {
		t.Errorf("expected newest row1 version first, got %+v", got[0])
	}
}

func TestVerifyRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := storefile.Verify(path); err == nil {
		t.Fatal("expected Verify to reject an empty store file")
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store1")
	if _, err := storefile.Write(path, sampleCells(), false); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := storefile.Delete(path); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := storefile.Delete(path); err != nil {
		t.Fatalf("second Delete on missing file should be a no-op, got: %v", err)
	}
}

func TestErasureCodedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store1")
	cfg := storefile.ErasureCodingConfig{DataShards: 2, ParityShards: 1}

	if err := storefile.WriteErasureCoded(path, sampleCells(), cfg); err != nil {
		t.Fatalf("WriteErasureCoded failed: %v", err)
	}

	got, err := storefile.ReadErasureCoded(path, cfg)
	if err != nil {
		t.Fatalf("ReadErasureCoded failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 cells, got %d", len(got))
	}

	f := &storefile.File{Path: path, Count: len(got), ErasureCoded: true}
	if err := storefile.DeleteFile(f, cfg); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, err := storefile.ReadErasureCoded(path, cfg); err == nil {
		t.Fatal("expected ReadErasureCoded to fail after DeleteFile removed the shard set")
	}
}

func TestFileRefBoundsAndMaterialize(t *testing.T) {
	ref := storefile.ReferenceParent("/parent/file1", storefile.RowBounds{UpperExclusive: []byte("m")})

	if !ref.InBounds([]byte("a")) {
		t.Error("expected row before UpperExclusive to be in bounds")
	}
	if ref.InBounds([]byte("z")) {
		t.Error("expected row at/after UpperExclusive to be out of bounds")
	}
	if ref.ActivePath() != "/parent/file1" {
		t.Errorf("expected ActivePath to resolve to PhysicalPathA initially, got %q", ref.ActivePath())
	}

	materialized := ref.Materialize("/child/file1")
	if materialized.ActivePath() != "/child/file1" {
		t.Errorf("expected ActivePath to resolve to the materialized path, got %q", materialized.ActivePath())
	}
	if materialized.Bounds != nil {
		t.Error("expected Materialize to clear Bounds")
	}
	if !materialized.InBounds([]byte("z")) {
		t.Error("expected an unbounded materialized reference to accept any row")
	}
}
