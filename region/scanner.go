package region

import (
	"container/heap"
	"context"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/scan"
	"github.com/sharedcode/regionserver/storefile"
)

// Scanner iterates a region's rows in ascending key order across every
// requested family, merging the memcache and store files of each the way the
// teacher's B-Tree cursor merges sibling node iterators into one ordered
// stream. Callers obtain one via Region.Scanner and drive it with Next; the
// lease package wraps the returned cursor with a server-unique id and TTL.
type Scanner struct {
	region    *Region
	families  []string
	endRow    []byte
	nVersions int
	filters   []*scan.Filter

	heap   cellHeap
	curRow []byte
	curCol string
}

type cellHeap []rs.Cell

func (h cellHeap) Len() int            { return len(h) }
func (h cellHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h cellHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *cellHeap) Push(x interface{}) { *h = append(*h, x.(rs.Cell)) }
func (h *cellHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Scanner opens a merged-read iterator over [startRow, endRow) across the
// given families (all families when empty), returning up to nVersions per
// cell coordinate (1 when nVersions <= 0). filters (may be nil) are applied
// inside Next after the nVersions cap: the newest nVersions of a coordinate
// are chosen first, then the ones failing a filter are dropped, so the caller
// need not post-filter Next's results.
func (r *Region) Scanner(ctx context.Context, startRow, endRow []byte, families []string, nVersions int, filters []*scan.Filter) (*Scanner, error) {
	if err := r.requireOpenForRead(); err != nil {
		return nil, err
	}
	if len(families) == 0 {
		r.mu.RLock()
		for fam := range r.stores {
			families = append(families, fam)
		}
		r.mu.RUnlock()
	}
	if nVersions <= 0 {
		nVersions = 1
	}

	var all []rs.Cell
	for _, fam := range families {
		s, err := r.store(fam)
		if err != nil {
			continue
		}
		s.mu.RLock()
		all = append(all, s.memcache.raw(startRow, endRow)...)
		files := s.fileHandles()
		s.mu.RUnlock()

		for _, f := range files {
			cells, err := storefileScan(f, startRow, endRow)
			if err != nil {
				return nil, err
			}
			all = append(all, cells...)
		}
	}

	h := make(cellHeap, 0, len(all))
	for _, c := range all {
		h = append(h, c)
	}
	heap.Init(&h)

	return &Scanner{region: r, families: families, endRow: endRow, nVersions: nVersions, filters: filters, heap: h}, nil
}

// Next returns the next (row, column) version group newest-first, up to
// nVersions entries, or ok=false once the range is exhausted. A group whose
// cells are all rejected by the scanner's filters is skipped in favor of the
// next coordinate, rather than returned empty.
func (s *Scanner) Next() ([]rs.Cell, bool, error) {
	for {
		cells, err := s.nextGroup()
		if err != nil {
			return nil, false, err
		}
		if cells == nil {
			return nil, false, nil
		}
		if len(s.filters) > 0 {
			cells, err = scan.ApplyAll(cells, s.filters)
			if err != nil {
				return nil, false, err
			}
			if len(cells) == 0 {
				continue
			}
		}
		return cells, true, nil
	}
}

// nextGroup pops one (row, column) coordinate's surviving versions off the
// heap, newest-first, resolving tombstones and the nVersions cap, without
// regard to filters.
func (s *Scanner) nextGroup() ([]rs.Cell, error) {
	var cells []rs.Cell
	for s.heap.Len() > 0 {
		c := heap.Pop(&s.heap).(rs.Cell)
		if len(cells) > 0 && !c.SameCoordinate(cells[0]) {
			// Different coordinate reached: push back, return what we have.
			heap.Push(&s.heap, c)
			break
		}
		if c.Tombstone {
			// A tombstone at this coordinate shadows all older versions still in the heap;
			// drain them before moving to the next coordinate.
			for s.heap.Len() > 0 && s.heap[0].SameCoordinate(c) {
				heap.Pop(&s.heap)
			}
			continue
		}
		cells = append(cells, c)
		if len(cells) >= s.nVersions {
			// Drain any remaining older versions of this coordinate beyond the limit.
			for s.heap.Len() > 0 && s.heap[0].SameCoordinate(c) {
				heap.Pop(&s.heap)
			}
			break
		}
	}
	return cells, nil
}

// Close releases resources held by the scanner. Currently a no-op since the
// heap holds plain values, kept for symmetry with the lease manager's cursor interface.
func (s *Scanner) Close() error {
	return nil
}

func storefileScan(f *storefileHandle, startRow, endRow []byte) ([]rs.Cell, error) {
	var all []rs.Cell
	var err error
	if f.erasureCoded {
		all, err = storefile.ReadErasureCoded(f.path, f.erasureCfg)
	} else {
		all, err = storefile.Read(f.path)
	}
	if err != nil {
		return nil, rs.NewError(rs.Io, err, f.path)
	}
	var out []rs.Cell
	for _, c := range all {
		if string(c.Row) < string(startRow) {
			continue
		}
		if len(endRow) > 0 && string(c.Row) >= string(endRow) {
			continue
		}
		if f.ref != nil && !f.ref.InBounds(c.Row) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}
