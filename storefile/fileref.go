package storefile

import rs "github.com/sharedcode/regionserver"

// FileRef is a store file reference: a logical id a region's store uses to
// name a file, mapped to the physical path actually holding the bytes.
// Ported from the teacher's Handle dual-physical-id pattern (LogicalId,
// PhysicalIdA/B, IsActiveIdB) and generalized from "swap between two physical
// copies during a transaction" to "a split child keeps its own logical file
// id pointing initially at a parent's physical file, until Materialize
// repoints the reference at a copy of its own."
type FileRef struct {
	// LogicalID is the store-local, functional identity of the file.
	LogicalID rs.UUID
	// PhysicalPathA is the first of two physical locations this reference may point at.
	PhysicalPathA string
	// PhysicalPathB is the second; Materialize repoints the reference by recording the
	// new file in whichever of A/B is not active, then flipping IsActiveB.
	PhysicalPathB string
	// IsActiveB selects PhysicalPathB as the current physical location when true.
	IsActiveB bool
	// Bounds restricts the reference to a sub-range of the referenced file,
	// set when a split child references a slice of its parent's file.
	Bounds *RowBounds
}

// RowBounds is an inclusive/exclusive row-key bound applied when a child
// region reads a reference to its parent's (wider-ranged) store file.
type RowBounds struct {
	LowerInclusive []byte
	UpperExclusive []byte
}

// NewFileRef creates a reference whose active physical location is path.
func NewFileRef(path string) FileRef {
	return FileRef{
		LogicalID:     rs.NewUUID(),
		PhysicalPathA: path,
	}
}

// ReferenceParent creates a split child's initial reference to a slice of its
// parent's physical file; Materialize later repoints it at a child-owned copy.
func ReferenceParent(parentPath string, bounds RowBounds) FileRef {
	ref := NewFileRef(parentPath)
	ref.Bounds = &bounds
	return ref
}

// ActivePath returns the physical path the reference currently resolves to.
func (f FileRef) ActivePath() string {
	if f.IsActiveB {
		return f.PhysicalPathB
	}
	return f.PhysicalPathA
}

// Materialize repoints the reference at a newly-written physical file
// (produced when a child compacts its share of a parent's data) and drops
// the bounds, since the new file already contains only the child's range.
func (f FileRef) Materialize(newPath string) FileRef {
	out := f
	if out.IsActiveB {
		out.PhysicalPathA = newPath
		out.IsActiveB = false
	} else {
		out.PhysicalPathB = newPath
		out.IsActiveB = true
	}
	out.Bounds = nil
	return out
}

// InBounds reports whether row falls within the reference's bounds; always
// true when Bounds is nil (a reference with no slicing restriction).
func (f FileRef) InBounds(row []byte) bool {
	if f.Bounds == nil {
		return true
	}
	if f.Bounds.LowerInclusive != nil && string(row) < string(f.Bounds.LowerInclusive) {
		return false
	}
	if f.Bounds.UpperExclusive != nil && string(row) >= string(f.Bounds.UpperExclusive) {
		return false
	}
	return true
}
