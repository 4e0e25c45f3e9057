// Package storefile implements the region server's immutable on-disk store
// files: sorted runs of cells produced by a flush or compaction. Grounded on
// the teacher's direct-I/O file wrapper (fs.directIO, ncw/directio-backed
// aligned reads/writes) and the filesystem's blob store, generalized from
// arbitrary blob bytes to one store's sorted Cell stream.
package storefile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/ncw/directio"

	rs "github.com/sharedcode/regionserver"
)

// File is an immutable, sorted-by-Cell.Less run of cells persisted at Path.
type File struct {
	Path  string
	Count int
	// ErasureCoded marks a file written by WriteErasureCoded: Path names the
	// shard/meta file family (path.shard0.. + path.meta) rather than a single
	// JSON blob, and callers must use ReadErasureCoded and DeleteFile, the shard-aware forms.
	ErasureCoded bool
}

// Write persists cells (already sorted by the caller, e.g. a memcache
// snapshot or a compaction merge) to a new file at path. When useDirectIO is
// true the encoded payload is written through a sector-aligned direct I/O
// buffer (mirrors fs.directIO.writeAt over a directio.OpenFile handle);
// otherwise it falls back to a buffered os.File + Sync, the portable path for
// filesystems that reject O_DIRECT.
func Write(path string, cells []rs.Cell, useDirectIO bool) (*File, error) {
	payload, err := encode(cells)
	if err != nil {
		return nil, rs.NewError(rs.Io, err, path)
	}

	if useDirectIO {
		if err := writeDirectIO(path, payload); err != nil {
			return nil, rs.NewError(rs.Io, err, path)
		}
	} else {
		if err := writeBuffered(path, payload); err != nil {
			return nil, rs.NewError(rs.Io, err, path)
		}
	}

	return &File{Path: path, Count: len(cells)}, nil
}

// Read loads every cell from the store file, in on-disk (already sorted) order.
func Read(path string) ([]rs.Cell, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, rs.NewError(rs.Io, err, path)
	}
	return decode(b)
}

// Delete removes the store file, e.g. after compaction has subsumed it.
func Delete(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return rs.NewError(rs.Io, err, path)
	}
	return nil
}

// DeleteFile removes f, accounting for the shard/meta files an erasure-coded
// write produced instead of a single path.
func DeleteFile(f *File, cfg ErasureCodingConfig) error {
	if !f.ErasureCoded {
		return Delete(f.Path)
	}
	total := cfg.DataShards + cfg.ParityShards
	for i := 0; i < total; i++ {
		_ = Delete(shardPath(f.Path, i))
	}
	return Delete(metaPath(f.Path))
}

// Size reports f's on-disk footprint: the single file's size, or the sum of
// every shard plus its meta file when f is erasure coded. Used by the
// SplitOrCompactChecker chore's size-based split trigger (spec §4.4.2's
// "if any store's size > max.filesize").
func Size(f *File, cfg ErasureCodingConfig) (int64, error) {
	if !f.ErasureCoded {
		fi, err := os.Stat(f.Path)
		if err != nil {
			return 0, rs.NewError(rs.Io, err, f.Path)
		}
		return fi.Size(), nil
	}
	var total int64
	total += sizeOf(metaPath(f.Path))
	n := cfg.DataShards + cfg.ParityShards
	for i := 0; i < n; i++ {
		total += sizeOf(shardPath(f.Path, i))
	}
	return total, nil
}

func sizeOf(path string) int64 {
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}

func encode(cells []rs.Cell) ([]byte, error) {
	var buf []byte
	w := newBufWriter(&buf)
	enc := json.NewEncoder(w)
	for _, c := range cells {
		if err := enc.Encode(c); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf, nil
}

func decode(b []byte) ([]rs.Cell, error) {
	var cells []rs.Cell
	sc := newLineScanner(b)
	for sc.Scan() {
		var c rs.Cell
		if err := json.Unmarshal(sc.Bytes(), &c); err != nil {
			// Tolerate a torn trailing record the same way the WAL replay does:
			// stop at the first malformed line rather than failing the whole read.
			break
		}
		cells = append(cells, c)
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].Less(cells[j]) })
	return cells, nil
}

func writeBuffered(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(payload); err != nil {
		return err
	}
	return f.Sync()
}

// writeDirectIO writes payload through a sector-aligned buffer, padding the
// final block with zero bytes the way the teacher's direct I/O blob writer does.
func writeDirectIO(path string, payload []byte) error {
	f, err := directio.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	block := directio.AlignedBlock(directio.BlockSize)
	var offset int64
	for len(payload) > 0 {
		n := copy(block, payload)
		for i := n; i < len(block); i++ {
			block[i] = 0
		}
		if _, err := f.WriteAt(block, offset); err != nil {
			return err
		}
		offset += int64(len(block))
		if n >= len(payload) {
			break
		}
		payload = payload[n:]
	}
	return nil
}

type bufWriterTarget struct{ b *[]byte }

func (w *bufWriterTarget) Write(p []byte) (int, error) {
	*w.b = append(*w.b, p...)
	return len(p), nil
}

func newBufWriter(b *[]byte) *bufio.Writer {
	return bufio.NewWriter(&bufWriterTarget{b: b})
}

type lineScanner struct {
	lines [][]byte
	idx   int
}

func newLineScanner(b []byte) *lineScanner {
	var lines [][]byte
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, b[start:i])
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return &lineScanner{lines: lines, idx: -1}
}

func (s *lineScanner) Scan() bool {
	s.idx++
	return s.idx < len(s.lines) && len(s.lines[s.idx]) > 0
}

func (s *lineScanner) Bytes() []byte { return s.lines[s.idx] }

// Verify is a cheap sanity check: a store file must decode cleanly and be
// non-empty. Store compaction does not call it.
func Verify(path string) error {
	cells, err := Read(path)
	if err != nil {
		return err
	}
	if len(cells) == 0 {
		return rs.NewError(rs.Io, fmt.Errorf("empty store file"), path)
	}
	return nil
}
