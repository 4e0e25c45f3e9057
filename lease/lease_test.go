package lease_test

import (
	"context"
	"testing"
	"time"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/lease"
)

type fakeCursor struct{ closed bool }

func (f *fakeCursor) Close() error {
	f.closed = true
	return nil
}

func TestGrantRenewRelease(t *testing.T) {
	m := lease.NewManager(time.Minute, time.Minute)
	c := &fakeCursor{}

	id := m.Grant(c, 0)
	if id == rs.NilUUID {
		t.Fatal("expected a non-nil lease id")
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 leased cursor, got %d", m.Count())
	}

	got, err := m.Renew(id)
	if err != nil {
		t.Fatalf("Renew failed: %v", err)
	}
	if got != lease.Cursor(c) {
		t.Fatalf("expected Renew to return the same cursor")
	}

	if err := m.Release(id); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !c.closed {
		t.Error("expected Release to close the cursor")
	}
	if m.Count() != 0 {
		t.Fatalf("expected 0 leased cursors after Release, got %d", m.Count())
	}
}

func TestRenewUnknownIDFails(t *testing.T) {
	m := lease.NewManager(time.Minute, time.Minute)
	if _, err := m.Renew(rs.NewUUID()); err == nil {
		t.Fatal("expected Renew of an unregistered id to fail")
	}
}

func TestSweepExpiresUnrenewedLease(t *testing.T) {
	m := lease.NewManager(10*time.Millisecond, 5*time.Millisecond)
	c := &fakeCursor{}
	m.Grant(c, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	go m.Run(ctx)

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if m.Count() == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if m.Count() != 0 {
		t.Fatalf("expected lease to expire and be swept, count=%d", m.Count())
	}
	if !c.closed {
		t.Error("expected the swept cursor to be closed")
	}
}
