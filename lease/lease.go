// Package lease implements the region server's lease manager: a registry of
// TTL-renewable cursors (open scanners) keyed by a server-unique id, with a
// background thread that expires and closes cursors whose lease has not been
// renewed in time. Cursor state is held in a plain in-process map. Grounded on
// the teacher's generic MRU Cache[TK,TV] concept and the timeout/retry
// conventions in its retry helpers, generalized from B-Tree transaction locks
// to HBase-style scanner leases.
package lease

import (
	"context"
	log "log/slog"
	"sync"
	"time"

	rs "github.com/sharedcode/regionserver"
)

// Cursor is anything a lease can hold; the region server leases open scanners.
// Close is called once, either by the lease holder or by lease expiry.
type Cursor interface {
	Close() error
}

type entry struct {
	id       rs.UUID
	cursor   Cursor
	deadline time.Time
	ttl      time.Duration
}

// Manager tracks leased cursors and expires any that are not renewed within
// their TTL, mirroring hbase.regionserver.lease.period for scanners. The
// master report lease is tracked by master.Server itself, not here.
type Manager struct {
	mu      sync.Mutex
	entries map[rs.UUID]*entry

	defaultTTL time.Duration
	checkEvery time.Duration
}

// NewManager returns a Manager using defaultTTL for leases that don't specify
// their own, checking for expirations every checkEvery.
func NewManager(defaultTTL, checkEvery time.Duration) *Manager {
	return &Manager{
		entries:    make(map[rs.UUID]*entry),
		defaultTTL: defaultTTL,
		checkEvery: checkEvery,
	}
}

// Grant registers cursor under a new id with the given TTL (defaultTTL when
// ttl <= 0) and returns the id the caller hands back to its client.
func (m *Manager) Grant(cursor Cursor, ttl time.Duration) rs.UUID {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	id := rs.NewUUID()
	m.mu.Lock()
	m.entries[id] = &entry{id: id, cursor: cursor, ttl: ttl, deadline: time.Now().Add(ttl)}
	m.mu.Unlock()
	return id
}

// Renew pushes id's deadline forward by its TTL; returns UnknownScanner if
// the id is not (or no longer) registered, e.g. already expired.
func (m *Manager) Renew(id rs.UUID) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, rs.NewError(rs.UnknownScanner, nil, id.String())
	}
	e.deadline = time.Now().Add(e.ttl)
	return e.cursor, nil
}

// Get returns the cursor for id without renewing its lease, for a caller that
// wants to use it but renews separately (or not at all, e.g. a single Next call).
func (m *Manager) Get(id rs.UUID) (Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, rs.NewError(rs.UnknownScanner, nil, id.String())
	}
	return e.cursor, nil
}

// Release closes and deregisters id's cursor, the normal (non-expiry) close path.
func (m *Manager) Release(id rs.UUID) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return rs.NewError(rs.UnknownScanner, nil, id.String())
	}
	return e.cursor.Close()
}

// Run blocks, sweeping for and closing expired cursors every checkEvery,
// until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.checkEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := time.Now()
	var expired []*entry
	m.mu.Lock()
	for id, e := range m.entries {
		if now.After(e.deadline) {
			expired = append(expired, e)
			delete(m.entries, id)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		log.Info("lease: expiring cursor", "id", e.id.String())
		if err := e.cursor.Close(); err != nil {
			log.Warn("lease: error closing expired cursor", "id", e.id.String(), "error", err)
		}
	}
}

// Count returns the number of currently leased cursors, for the
// administrative surface's diagnostics.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
