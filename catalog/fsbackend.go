package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	rs "github.com/sharedcode/regionserver"
)

// FSBackend persists catalog rows as one JSON file per row under dir, guarded
// by an in-process lock map. Used for single-node operation and the offline
// merge tool, which per spec §4.7 must run with no region server or master
// holding the catalog, so a cluster-wide backend is unnecessary (and, for the
// "root" table merging itself, would be circular).
type FSBackend struct {
	dir string

	mu    sync.Mutex
	locks map[string]struct{}
}

// NewFSBackend returns a Backend rooted at dir, creating it if needed.
func NewFSBackend(dir string) (*FSBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, rs.NewError(rs.Io, err, dir)
	}
	return &FSBackend{dir: dir, locks: make(map[string]struct{})}, nil
}

func (b *FSBackend) path(name string) string {
	return filepath.Join(b.dir, rowFileName(name))
}

// rowFileName escapes a catalog row name (which contains commas and binary
// start keys) into a safe file name.
func rowFileName(name string) string {
	replacer := strings.NewReplacer("/", "_", ",", "__")
	return replacer.Replace(name) + ".json"
}

func (b *FSBackend) Get(ctx context.Context, name string) (Row, bool, error) {
	data, err := os.ReadFile(b.path(name))
	if os.IsNotExist(err) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, rs.NewError(rs.Io, err, name)
	}
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return Row{}, false, rs.NewError(rs.Io, err, name)
	}
	return row, true, nil
}

func (b *FSBackend) Put(ctx context.Context, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return rs.NewError(rs.Io, err, row.Info.Name())
	}
	path := b.path(row.Info.Name())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return rs.NewError(rs.Io, err, path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return rs.NewError(rs.Io, err, path)
	}
	return nil
}

func (b *FSBackend) Delete(ctx context.Context, name string) error {
	if err := os.Remove(b.path(name)); err != nil && !os.IsNotExist(err) {
		return rs.NewError(rs.Io, err, name)
	}
	return nil
}

func (b *FSBackend) ListTable(ctx context.Context, table string) ([]Row, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, rs.NewError(rs.Io, err, b.dir)
	}
	var rows []Row
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".tmp") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(b.dir, e.Name()))
		if err != nil {
			continue
		}
		var row Row
		if err := json.Unmarshal(data, &row); err != nil {
			continue
		}
		if row.Info.Table == table {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Info.Name() < rows[j].Info.Name() })
	return rows, nil
}

// Lock acquires an in-process, best-effort advisory lock over names. It does
// not enforce duration (no background expiry thread); duration is accepted
// to satisfy the Backend interface and document intent alongside the
// Cassandra backend, which does enforce a TTL.
func (b *FSBackend) Lock(ctx context.Context, names []string, duration time.Duration) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range names {
		if _, held := b.locks[n]; held {
			return nil, rs.NewError(rs.RegionServerRunning, nil, n)
		}
	}
	for _, n := range names {
		b.locks[n] = struct{}{}
	}
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, n := range names {
			delete(b.locks, n)
		}
	}, nil
}
