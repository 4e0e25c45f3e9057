package scan_test

import (
	"testing"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/scan"
)

func TestFilterMatch(t *testing.T) {
	f, err := scan.NewFilter(`cell.column == "info:name" && size(cell.value) > 0`)
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	match, err := f.Match(rs.Cell{Row: []byte("row1"), Column: "info:name", Value: []byte("alice")})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if !match {
		t.Errorf("expected match for info:name with a value")
	}

	match, err = f.Match(rs.Cell{Row: []byte("row1"), Column: "info:age", Value: []byte("30")})
	if err != nil {
		t.Fatalf("Match failed: %v", err)
	}
	if match {
		t.Errorf("expected no match for info:age")
	}
}

func TestNewFilterRejectsEmptyExpression(t *testing.T) {
	if _, err := scan.NewFilter(""); err == nil {
		t.Fatal("expected error for empty expression")
	}
}

func TestNewFilterRejectsBadSyntax(t *testing.T) {
	if _, err := scan.NewFilter("cell.column =="); err == nil {
		t.Fatal("expected compile error for malformed expression")
	}
}

func TestApplyAll(t *testing.T) {
	nameFilter, err := scan.NewFilter(`cell.column == "info:name"`)
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}
	valueFilter, err := scan.NewFilter(`size(cell.value) > 3`)
	if err != nil {
		t.Fatalf("NewFilter failed: %v", err)
	}

	cells := []rs.Cell{
		{Row: []byte("r1"), Column: "info:name", Value: []byte("al")},
		{Row: []byte("r2"), Column: "info:name", Value: []byte("alice")},
		{Row: []byte("r3"), Column: "info:age", Value: []byte("30")},
	}

	out, err := scan.ApplyAll(cells, []*scan.Filter{nameFilter, valueFilter})
	if err != nil {
		t.Fatalf("ApplyAll failed: %v", err)
	}
	if len(out) != 1 || string(out[0].Row) != "r2" {
		t.Fatalf("expected only r2 to survive both filters, got %+v", out)
	}
}

func TestApplyAllNoFilters(t *testing.T) {
	cells := []rs.Cell{{Row: []byte("r1")}}
	out, err := scan.ApplyAll(cells, nil)
	if err != nil {
		t.Fatalf("ApplyAll failed: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected cells unchanged when no filters given, got %+v", out)
	}
}
