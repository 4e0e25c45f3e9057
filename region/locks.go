package region

import (
	"sync"

	rs "github.com/sharedcode/regionserver"
)

// rowLockTable hands out one exclusive lock per row within a region, the way
// the teacher's B-Tree node commit serializes mutations to the same key — here
// applied to row keys instead of tree nodes. startUpdate acquires, commit/abort release.
type rowLockTable struct {
	mu    sync.Mutex
	held  map[string]rs.UUID
	cond  *sync.Cond
}

func newRowLockTable() *rowLockTable {
	t := &rowLockTable{held: make(map[string]rs.UUID)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// acquire blocks until row is free, then marks it held under lockID.
func (t *rowLockTable) acquire(row []byte, lockID rs.UUID) {
	key := string(row)
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		if _, busy := t.held[key]; !busy {
			t.held[key] = lockID
			return
		}
		t.cond.Wait()
	}
}

// release frees row if it is currently held by lockID; a mismatched lockID is
// a no-op, which is how an UnknownLock error path on the caller side is kept safe.
func (t *rowLockTable) release(row []byte, lockID rs.UUID) {
	key := string(row)
	t.mu.Lock()
	defer t.mu.Unlock()
	if held, ok := t.held[key]; ok && held == lockID {
		delete(t.held, key)
		t.cond.Broadcast()
	}
}

// owns reports whether lockID currently holds row's lock.
func (t *rowLockTable) owns(row []byte, lockID rs.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	held, ok := t.held[string(row)]
	return ok && held == lockID
}

// pendingUpdate is a buffered set of edits awaiting commit, keyed by the
// server-local lock id returned from startUpdate.
type pendingUpdate struct {
	row   []byte
	cells []rs.Cell
}

// txnTable buffers in-flight row updates between startUpdate and commit/abort,
// grounded on the teacher's two-phase commit transaction (assign id, buffer
// edits, then apply under lock) generalized from a whole-tree transaction to a
// single-row update.
type txnTable struct {
	mu      sync.Mutex
	pending map[rs.UUID]*pendingUpdate
}

func newTxnTable() *txnTable {
	return &txnTable{pending: make(map[rs.UUID]*pendingUpdate)}
}

func (t *txnTable) begin(row []byte) rs.UUID {
	id := rs.NewUUID()
	t.mu.Lock()
	t.pending[id] = &pendingUpdate{row: append([]byte(nil), row...)}
	t.mu.Unlock()
	return id
}

// row returns the row a pending update was started against, for callers (like
// DeleteAll) that need to read current state before appending more edits.
func (t *txnTable) row(lockID rs.UUID) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[lockID]
	if !ok {
		return nil, rs.NewError(rs.UnknownLock, nil, lockID.String())
	}
	return p.row, nil
}

func (t *txnTable) append(lockID rs.UUID, cells ...rs.Cell) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[lockID]
	if !ok {
		return rs.NewError(rs.UnknownLock, nil, lockID.String())
	}
	p.cells = append(p.cells, cells...)
	return nil
}

func (t *txnTable) take(lockID rs.UUID) (*pendingUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[lockID]
	if !ok {
		return nil, rs.NewError(rs.UnknownLock, nil, lockID.String())
	}
	delete(t.pending, lockID)
	return p, nil
}

// restore re-inserts a pendingUpdate previously removed by take, for the case
// where the caller found it could not durably commit the edits (a failed WAL
// append) and needs lockID to remain valid for a retried Commit or an Abort,
// rather than stranding the row's lock with no way to release it.
func (t *txnTable) restore(lockID rs.UUID, p *pendingUpdate) {
	t.mu.Lock()
	t.pending[lockID] = p
	t.mu.Unlock()
}
