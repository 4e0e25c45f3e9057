package region

import (
	"sort"

	rs "github.com/sharedcode/regionserver"
)

// memcache holds the most recently committed, not-yet-flushed cells for one
// store, kept sorted by Cell.Less (row asc, column asc, timestamp desc) so a
// snapshot can be written straight to a store file without re-sorting.
type memcache struct {
	cells []rs.Cell
	size  int64
}

func newMemcache() *memcache {
	return &memcache{}
}

// put inserts cells in sorted position, replacing an existing cell at the
// same (row, column, timestamp) coordinate — a re-put of the same version.
func (m *memcache) put(cells []rs.Cell) {
	for _, c := range cells {
		m.putOne(c)
	}
}

func (m *memcache) putOne(c rs.Cell) {
	i := sort.Search(len(m.cells), func(i int) bool { return !m.cells[i].Less(c) })
	if i < len(m.cells) && m.cells[i].SameCoordinate(c) && m.cells[i].Timestamp == c.Timestamp {
		m.size += int64(len(c.Value)) - int64(len(m.cells[i].Value))
		m.cells[i] = c
		return
	}
	m.cells = append(m.cells, rs.Cell{})
	copy(m.cells[i+1:], m.cells[i:])
	m.cells[i] = c
	m.size += cellSize(c)
}

func cellSize(c rs.Cell) int64 {
	return int64(len(c.Row) + len(c.Column) + len(c.Value) + 16)
}

// sizeBytes approximates the memcache's heap footprint for the Flusher chore.
func (m *memcache) sizeBytes() int64 {
	return m.size
}

// snapshot returns (and clears) the current contents, for an in-progress flush.
func (m *memcache) snapshot() []rs.Cell {
	out := m.cells
	m.cells = nil
	m.size = 0
	return out
}

// rawColumn returns every version of (row, column) held in the memcache,
// newest first, tombstones included. Callers that merge this with on-disk
// cells (region.GetFull) must apply tombstone suppression themselves once
// over the merged stream, the same way the on-disk side already does —
// suppressing here would hide a memcache tombstone from an older value that
// has already been flushed to a store file.
func (m *memcache) rawColumn(row []byte, column string) []rs.Cell {
	var out []rs.Cell
	for _, c := range m.cells {
		if string(c.Row) != string(row) || c.Column != column {
			if len(out) > 0 {
				break
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// raw returns every cell (every version, tombstones included) at or after
// startRow (and before endRow when non-empty), in the memcache's stored
// order (row asc, column asc, timestamp desc). Callers that merge this with
// per-file iterators (region.Scanner) rely on tombstones surviving here so
// the merge's own suppression logic can shadow older on-disk versions.
func (m *memcache) raw(startRow, endRow []byte) []rs.Cell {
	var out []rs.Cell
	for _, c := range m.cells {
		if string(c.Row) < string(startRow) {
			continue
		}
		if len(endRow) > 0 && string(c.Row) >= string(endRow) {
			break
		}
		out = append(out, c)
	}
	return out
}
