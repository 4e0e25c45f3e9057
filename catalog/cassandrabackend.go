package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gocql/gocql"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/cache"
)

// CassandraConfig names the cluster and keyspace the catalog tables live in,
// ported from the teacher's cassandra.Config (cluster hosts + keyspace), pared
// down to what the catalog needs.
type CassandraConfig struct {
	ClusterHosts []string
	Keyspace     string
	Table        string
}

// CassandraBackend is the cluster-visible catalog backend: every region
// server and the master read and write the same Cassandra table, so a region
// assignment is visible cluster-wide as soon as it commits. Row locking uses
// the Redis L2 cache the same way the teacher's Cassandra registry guards
// cross-partition updates with a Redis-based lock, here applied to catalog row names.
type CassandraBackend struct {
	session *gocql.Session
	table   string
	keyspace string
	locks   *cache.Connection
}

// NewCassandraBackend opens a session against cfg.ClusterHosts and wraps it
// with redisLocks for Lock/unlock.
func NewCassandraBackend(cfg CassandraConfig, redisLocks *cache.Connection) (*CassandraBackend, error) {
	cluster := gocql.NewCluster(cfg.ClusterHosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = gocql.Quorum
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, rs.NewError(rs.Remote, err, cfg.ClusterHosts)
	}
	table := cfg.Table
	if table == "" {
		table = "catalog_rows"
	}
	return &CassandraBackend{session: session, table: table, keyspace: cfg.Keyspace, locks: redisLocks}, nil
}

func (b *CassandraBackend) Get(ctx context.Context, name string) (Row, bool, error) {
	var payload string
	q := b.session.Query(
		"SELECT payload FROM "+b.keyspace+"."+b.table+" WHERE name = ?", name,
	).WithContext(ctx)
	if err := q.Scan(&payload); err != nil {
		if err == gocql.ErrNotFound {
			return Row{}, false, nil
		}
		return Row{}, false, rs.NewError(rs.Remote, err, name)
	}
	var row Row
	if err := json.Unmarshal([]byte(payload), &row); err != nil {
		return Row{}, false, rs.NewError(rs.Io, err, name)
	}
	return row, true, nil
}

func (b *CassandraBackend) Put(ctx context.Context, row Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return rs.NewError(rs.Io, err, row.Info.Name())
	}
	q := b.session.Query(
		"INSERT INTO "+b.keyspace+"."+b.table+" (name, table_name, payload) VALUES (?, ?, ?)",
		row.Info.Name(), row.Info.Table, string(payload),
	).WithContext(ctx)
	if err := q.Exec(); err != nil {
		return rs.NewError(rs.Remote, err, row.Info.Name())
	}
	return nil
}

func (b *CassandraBackend) Delete(ctx context.Context, name string) error {
	q := b.session.Query(
		"DELETE FROM "+b.keyspace+"."+b.table+" WHERE name = ?", name,
	).WithContext(ctx)
	if err := q.Exec(); err != nil {
		return rs.NewError(rs.Remote, err, name)
	}
	return nil
}

func (b *CassandraBackend) ListTable(ctx context.Context, table string) ([]Row, error) {
	iter := b.session.Query(
		"SELECT payload FROM "+b.keyspace+"."+b.table+" WHERE table_name = ? ALLOW FILTERING", table,
	).WithContext(ctx).Iter()

	var rows []Row
	var payload string
	for iter.Scan(&payload) {
		var row Row
		if err := json.Unmarshal([]byte(payload), &row); err == nil {
			rows = append(rows, row)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, rs.NewError(rs.Remote, err, table)
	}
	return rows, nil
}

// Lock claims a Redis key per row name with the given TTL; any already-held
// key fails the whole batch, mirroring the teacher's Cassandra registry
// Redis-backed cross-partition lock discipline.
func (b *CassandraBackend) Lock(ctx context.Context, names []string, duration time.Duration) (func(), error) {
	if duration <= 0 {
		duration = defaultLockDuration
	}
	claimed := make([]string, 0, len(names))
	for _, n := range names {
		ok, err := b.locks.SetNX(ctx, lockKey(n), "1", duration)
		if err != nil {
			b.unlockAll(ctx, claimed)
			return nil, rs.NewError(rs.Remote, err, n)
		}
		if !ok {
			b.unlockAll(ctx, claimed)
			return nil, rs.NewError(rs.RegionServerRunning, nil, n)
		}
		claimed = append(claimed, n)
	}
	return func() { b.unlockAll(context.Background(), claimed) }, nil
}

func (b *CassandraBackend) unlockAll(ctx context.Context, names []string) {
	for _, n := range names {
		_ = b.locks.Delete(ctx, lockKey(n))
	}
}

func lockKey(name string) string {
	return "catalog_lock:" + name
}
