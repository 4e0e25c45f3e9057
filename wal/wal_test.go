package wal_test

import (
	"context"
	"testing"
	"time"

	"github.com/sharedcode/regionserver/wal"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(dir, "host1", time.Now().UnixNano(), 1234)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	entries := []wal.Entry{
		{SequenceID: log.NextSequenceID(), Region: "t,,1", Row: []byte("row1"), Column: "info:name", Value: []byte("alice")},
		{SequenceID: log.NextSequenceID(), Region: "t,,1", Row: []byte("row2"), Column: "info:name", Value: []byte("bob")},
		{SequenceID: log.NextSequenceID(), Region: "t,,2", Row: []byte("row3"), Column: "info:name", Value: []byte("carol")},
	}
	if err := log.Append(ctx, entries); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if log.EntryCount() != 3 {
		t.Fatalf("expected EntryCount 3, got %d", log.EntryCount())
	}

	replayed, err := log.Replay(ctx, "t,,1", 0)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected 2 entries for region t,,1, got %d", len(replayed))
	}
	for _, e := range replayed {
		if e.Region != "t,,1" {
			t.Errorf("Replay leaked an entry from another region: %+v", e)
		}
	}
}

func TestReplaySkipsEntriesAtOrBeforeFromSeq(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(dir, "host1", time.Now().UnixNano(), 1234)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	seq1 := log.NextSequenceID()
	seq2 := log.NextSequenceID()
	entries := []wal.Entry{
		{SequenceID: seq1, Region: "t,,1", Row: []byte("row1"), Column: "info:name", Value: []byte("v1")},
		{SequenceID: seq2, Region: "t,,1", Row: []byte("row2"), Column: "info:name", Value: []byte("v2")},
	}
	if err := log.Append(ctx, entries); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	replayed, err := log.Replay(ctx, "t,,1", seq1)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != 1 || replayed[0].SequenceID != seq2 {
		t.Fatalf("expected only the entry past seq1, got %+v", replayed)
	}
}

func TestRoll(t *testing.T) {
	dir := t.TempDir()
	log, err := wal.Open(dir, "host1", time.Now().UnixNano(), 1234)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	if err := log.Append(ctx, []wal.Entry{{SequenceID: log.NextSequenceID(), Region: "t,,1", Row: []byte("r")}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := log.Roll(); err != nil {
		t.Fatalf("Roll failed: %v", err)
	}
	if log.EntryCount() != 0 {
		t.Fatalf("expected EntryCount 0 on a fresh generation, got %d", log.EntryCount())
	}

	if err := log.Append(ctx, []wal.Entry{{SequenceID: log.NextSequenceID(), Region: "t,,1", Row: []byte("r2")}}); err != nil {
		t.Fatalf("Append after Roll failed: %v", err)
	}
	replayed, err := log.Replay(ctx, "t,,1", 0)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(replayed) != 2 {
		t.Fatalf("expected Replay to read across generations, got %d entries", len(replayed))
	}
}
