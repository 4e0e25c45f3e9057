package region

import (
	"context"

	rs "github.com/sharedcode/regionserver"
	"github.com/sharedcode/regionserver/storefile"
)

// CloseAndSplit stops accepting writes, flushes every family, and computes two
// child RegionInfo descriptors straddling splitKey. Children are described by
// storefile.FileRef references to the parent's store files rather than
// copies of their bytes. leftRefs/rightRefs (keyed by family name) are
// returned for the caller to persist into the catalog's new child rows
// (catalog.Row.ParentRefs). Opening a child region does not read these
// references, and no compaction turns them into child-owned files. The
// registry's SplitListener is notified Closing then Closed so the parent can
// be retired once in-flight reads drain.
func (r *Region) CloseAndSplit(ctx context.Context, splitKey []byte) (left, right rs.RegionInfo, leftRefs, rightRefs map[string][]storefile.FileRef, err error) {
	r.mu.Lock()
	if r.state != Open {
		r.mu.Unlock()
		return rs.RegionInfo{}, rs.RegionInfo{}, nil, nil, rs.NewError(rs.NotServingRegion, nil, r.Name())
	}
	r.state = Splitting
	info := r.info
	listener := r.splitListener
	r.mu.Unlock()

	if !info.Contains(splitKey) {
		r.mu.Lock()
		r.state = Open
		r.mu.Unlock()
		return rs.RegionInfo{}, rs.RegionInfo{}, nil, nil, rs.NewError(rs.Io, nil, "split key outside region range")
	}

	if listener != nil {
		listener.Closing(r.Name())
	}

	if err := r.Flush(ctx); err != nil {
		r.mu.Lock()
		r.state = Open
		r.mu.Unlock()
		return rs.RegionInfo{}, rs.RegionInfo{}, nil, nil, err
	}

	left = info
	left.RegionID = rs.NewUUID()
	left.EndKey = append([]byte(nil), splitKey...)

	right = info
	right.RegionID = rs.NewUUID()
	right.StartKey = append([]byte(nil), splitKey...)

	leftBounds, rightBounds := referenceBounds(info, splitKey)

	r.mu.RLock()
	leftRefs = make(map[string][]storefile.FileRef, len(r.stores))
	rightRefs = make(map[string][]storefile.FileRef, len(r.stores))
	for famName, s := range r.stores {
		s.mu.RLock()
		for _, f := range s.files {
			leftRefs[famName] = append(leftRefs[famName], storefile.ReferenceParent(f.Path, leftBounds))
			rightRefs[famName] = append(rightRefs[famName], storefile.ReferenceParent(f.Path, rightBounds))
		}
		s.mu.RUnlock()
	}
	r.mu.RUnlock()

	r.mu.Lock()
	r.info.Split = true
	r.info.Offline = true
	r.state = Closing
	r.mu.Unlock()

	if listener != nil {
		listener.Closed(r.Name())
	}

	r.mu.Lock()
	r.state = Closed
	r.mu.Unlock()

	return left, right, leftRefs, rightRefs, nil
}

// referenceBounds builds the two RowBounds a parent's store file is sliced
// into by a split at splitKey: [start, splitKey) for the left child, and
// [splitKey, end) for the right.
func referenceBounds(parent rs.RegionInfo, splitKey []byte) (leftBounds, rightBounds storefile.RowBounds) {
	leftBounds = storefile.RowBounds{
		LowerInclusive: parent.StartKey,
		UpperExclusive: splitKey,
	}
	rightBounds = storefile.RowBounds{
		LowerInclusive: splitKey,
		UpperExclusive: parent.EndKey,
	}
	return
}
