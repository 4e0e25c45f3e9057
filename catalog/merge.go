package catalog

import (
	"context"

	rs "github.com/sharedcode/regionserver"
)

// MergeOnline merges two adjacent, disabled regions of a user table into one,
// via meta: lock both rows, verify both are offline, write the merged row,
// remove the two source rows. Grounded on fs.StoreRepository's
// lock-list→read→mutate→write-tmp→finalize→unlock sequence, generalized from
// a store-name list to a two-row catalog merge. Returns TableNotDisabled if
// either input region is not marked offline.
func MergeOnline(ctx context.Context, meta Backend, leftName, rightName string) (Row, error) {
	unlock, err := meta.Lock(ctx, []string{leftName, rightName}, defaultLockDuration)
	if err != nil {
		return Row{}, err
	}
	defer unlock()

	left, ok, err := meta.Get(ctx, leftName)
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Row{}, rs.NewError(rs.NotServingRegion, nil, leftName)
	}
	right, ok, err := meta.Get(ctx, rightName)
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Row{}, rs.NewError(rs.NotServingRegion, nil, rightName)
	}
	if !left.Info.Offline || !right.Info.Offline {
		return Row{}, rs.NewError(rs.TableNotDisabled, nil, left.Info.Table)
	}
	if left.Info.Table != right.Info.Table {
		return Row{}, rs.NewError(rs.Io, nil, "merge candidates belong to different tables")
	}

	merged := mergeRows(left, right)
	if err := meta.Put(ctx, merged); err != nil {
		return Row{}, err
	}
	if err := meta.Delete(ctx, leftName); err != nil {
		return Row{}, err
	}
	if err := meta.Delete(ctx, rightName); err != nil {
		return Row{}, err
	}
	return merged, nil
}

// MergeOffline merges two rows of the root/meta table itself — used when meta
// has fragmented and must be repaired directly, per spec §4.7's requirement
// that this run with no region server or master holding the catalog (a
// filesystem Backend, not Cassandra, satisfies that precondition; the caller
// is responsible for ensuring no server process is attached to the target
// catalog directory before invoking this).
func MergeOffline(ctx context.Context, root Backend, leftName, rightName string) (Row, error) {
	unlock, err := root.Lock(ctx, []string{leftName, rightName}, defaultLockDuration)
	if err != nil {
		return Row{}, rs.NewError(rs.RegionServerRunning, err, "offline merge requires exclusive access to the catalog")
	}
	defer unlock()

	left, ok, err := root.Get(ctx, leftName)
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Row{}, rs.NewError(rs.NotServingRegion, nil, leftName)
	}
	right, ok, err := root.Get(ctx, rightName)
	if err != nil {
		return Row{}, err
	}
	if !ok {
		return Row{}, rs.NewError(rs.NotServingRegion, nil, rightName)
	}

	merged := mergeRows(left, right)
	if err := root.Put(ctx, merged); err != nil {
		return Row{}, err
	}
	if err := root.Delete(ctx, leftName); err != nil {
		return Row{}, err
	}
	if err := root.Delete(ctx, rightName); err != nil {
		return Row{}, err
	}
	return merged, nil
}

// mergeRows combines two adjacent regions' descriptors into one spanning both
// ranges, unions their families, and carries no server assignment (the merged
// region must be re-opened by whichever server the master assigns it to next).
func mergeRows(left, right Row) Row {
	lo, hi := left.Info, right.Info
	if string(hi.StartKey) < string(lo.StartKey) {
		lo, hi = hi, lo
	}
	merged := rs.RegionInfo{
		Table:    lo.Table,
		StartKey: lo.StartKey,
		EndKey:   hi.EndKey,
		RegionID: rs.NewUUID(),
		Families: unionFamilies(lo.Families, hi.Families),
	}
	return Row{Info: merged}
}

func unionFamilies(a, b []rs.FamilyDescriptor) []rs.FamilyDescriptor {
	seen := make(map[string]bool, len(a))
	out := make([]rs.FamilyDescriptor, 0, len(a)+len(b))
	for _, f := range a {
		seen[f.Name] = true
		out = append(out, f)
	}
	for _, f := range b {
		if !seen[f.Name] {
			out = append(out, f)
		}
	}
	return out
}
