package pmtiles

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
)

// EntryV3 is an entry in a PMTiles spec version 3 directory: either a tile
// entry (RunLength > 0, Offset/Length point into the tile data section) or a
// pointer to a leaf directory (RunLength == 0, Offset/Length point into the
// leaf directory section).
type EntryV3 struct {
	TileID    uint64
	Offset    uint64
	Length    uint32
	RunLength uint32
}

// IsLeaf reports whether the entry points at a leaf directory rather than tile data.
func (e EntryV3) IsLeaf() bool {
	return e.RunLength == 0
}

func serializeEntries(entries []EntryV3, c Compression) ([]byte, error) {
	var b bytes.Buffer
	tmp := make([]byte, binary.MaxVarintLen64)

	var n int
	n = binary.PutUvarint(tmp, uint64(len(entries)))
	b.Write(tmp[:n])

	lastID := uint64(0)
	for _, entry := range entries {
		n = binary.PutUvarint(tmp, entry.TileID-lastID)
		b.Write(tmp[:n])
		lastID = entry.TileID
	}

	for _, entry := range entries {
		n := binary.PutUvarint(tmp, uint64(entry.RunLength))
		b.Write(tmp[:n])
	}

	for _, entry := range entries {
		n := binary.PutUvarint(tmp, uint64(entry.Length))
		b.Write(tmp[:n])
	}

	for i, entry := range entries {
		var n int
		if i > 0 && entry.Offset == entries[i-1].Offset+uint64(entries[i-1].Length) {
			n = binary.PutUvarint(tmp, 0)
		} else {
			n = binary.PutUvarint(tmp, entry.Offset+1) // add 1 to not conflict with 0
		}
		b.Write(tmp[:n])
	}

	return compress(c, b.Bytes())
}

func deserializeEntries(data []byte, c Compression) ([]EntryV3, error) {
	raw, err := decompress(c, data)
	if err != nil {
		return nil, err
	}

	byteReader := bufio.NewReader(bytes.NewReader(raw))

	numEntries, err := binary.ReadUvarint(byteReader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
	}

	entries := make([]EntryV3, 0, numEntries)

	lastID := uint64(0)
	for i := uint64(0); i < numEntries; i++ {
		delta, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
		}
		lastID += delta
		entries = append(entries, EntryV3{TileID: lastID})
	}

	for i := uint64(0); i < numEntries; i++ {
		runLength, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
		}
		entries[i].RunLength = uint32(runLength)
	}

	for i := uint64(0); i < numEntries; i++ {
		length, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
		}
		entries[i].Length = uint32(length)
	}

	for i := uint64(0); i < numEntries; i++ {
		tmp, err := binary.ReadUvarint(byteReader)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDirectory, err)
		}
		if i > 0 && tmp == 0 {
			entries[i].Offset = entries[i-1].Offset + uint64(entries[i-1].Length)
		} else {
			entries[i].Offset = tmp - 1
		}
	}

	if err := validateEntries(entries); err != nil {
		return nil, err
	}

	return entries, nil
}

// validateEntries checks the invariants a well-formed directory must satisfy
// once its entries are rehydrated: every entry addresses at least one byte,
// and tile ID runs are strictly ascending with no overlap between
// consecutive entries. The delta encoding in serializeEntries only
// guarantees tile IDs are non-decreasing, so a zero delta (duplicate ID) or
// a delta smaller than the previous run's length both slip past the varint
// decode above and must be caught here.
func validateEntries(entries []EntryV3) error {
	for i, e := range entries {
		if e.Length == 0 {
			return fmt.Errorf("%w: entry %d has zero length", ErrInvalidDirectory, i)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		runEnd := prev.TileID + 1
		if !prev.IsLeaf() {
			runEnd = prev.TileID + uint64(prev.RunLength)
		}
		if e.TileID < runEnd {
			return fmt.Errorf("%w: entry %d tile id %d overlaps previous run ending at %d", ErrInvalidDirectory, i, e.TileID, runEnd)
		}
	}
	return nil
}

// findTile does a binary search for tileID among entries, returning the
// containing entry and true if found, following a run or descending into the
// best-match leaf candidate the caller is responsible for fetching.
func findTile(entries []EntryV3, tileID uint64) (EntryV3, bool) {
	m := 0
	n := len(entries) - 1
	for m <= n {
		k := (n + m) >> 1
		cmp := int64(tileID) - int64(entries[k].TileID)
		if cmp > 0 {
			m = k + 1
		} else if cmp < 0 {
			n = k - 1
		} else {
			return entries[k], true
		}
	}

	// at this point, m > n: n is the largest index with TileID <= tileID
	if n >= 0 {
		if entries[n].IsLeaf() {
			return entries[n], true
		}
		if tileID-entries[n].TileID < uint64(entries[n].RunLength) {
			return entries[n], true
		}
	}
	return EntryV3{}, false
}

// IterateEntries walks the directory tree rooted at header's root directory,
// calling callback on every tile (non-leaf) entry in ascending tile ID
// order. readDirectory fetches the raw bytes of a directory section given
// its absolute offset and length within the archive; it is supplied by the
// caller so this works identically over a local file or a remote byte
// source.
func IterateEntries(header HeaderV3, readDirectory func(offset uint64, length uint64) ([]byte, error), callback func(e EntryV3)) error {
	rootBytes, err := readDirectory(header.RootOffset, header.RootLength)
	if err != nil {
		return err
	}
	rootEntries, err := deserializeEntries(rootBytes, header.InternalCompression)
	if err != nil {
		return err
	}
	return iterateEntriesRecurse(header, rootEntries, readDirectory, callback)
}

func iterateEntriesRecurse(header HeaderV3, entries []EntryV3, readDirectory func(offset uint64, length uint64) ([]byte, error), callback func(e EntryV3)) error {
	for _, e := range entries {
		if e.IsLeaf() {
			leafBytes, err := readDirectory(header.LeafDirectoryOffset+e.Offset, uint64(e.Length))
			if err != nil {
				return err
			}
			leafEntries, err := deserializeEntries(leafBytes, header.InternalCompression)
			if err != nil {
				return err
			}
			if err := iterateEntriesRecurse(header, leafEntries, readDirectory, callback); err != nil {
				return err
			}
		} else {
			callback(e)
		}
	}
	return nil
}

func buildRootsLeaves(entries []EntryV3, leafSize int, c Compression) ([]byte, []byte, int, error) {
	rootEntries := make([]EntryV3, 0)
	leavesBytes := make([]byte, 0)
	numLeaves := 0

	for idx := 0; idx < len(entries); idx += leafSize {
		numLeaves++
		end := idx + leafSize
		if end > len(entries) {
			end = len(entries)
		}
		serialized, err := serializeEntries(entries[idx:end], c)
		if err != nil {
			return nil, nil, 0, err
		}

		rootEntries = append(rootEntries, EntryV3{entries[idx].TileID, uint64(len(leavesBytes)), uint32(len(serialized)), 0})
		leavesBytes = append(leavesBytes, serialized...)
	}

	rootBytes, err := serializeEntries(rootEntries, c)
	if err != nil {
		return nil, nil, 0, err
	}
	return rootBytes, leavesBytes, numLeaves, nil
}

// optimizeDirectories splits a flat directory into a root + leaf directories
// if it does not fit within targetRootLen on its own, growing the leaf size
// geometrically until the root does fit. A directory of 16384 or more
// entries is always split, without first trying it as a flat root.
func optimizeDirectories(entries []EntryV3, targetRootLen int, c Compression) ([]byte, []byte, int, error) {
	if len(entries) < 16384 {
		testRootBytes, err := serializeEntries(entries, c)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(testRootBytes) <= targetRootLen {
			return testRootBytes, make([]byte, 0), 0, nil
		}
	}

	// root directory ends up containing leaf pointers only; grow the leaf
	// size until the root of leaf pointers fits within budget.
	leafSize := float64(len(entries)) / 3500
	if leafSize < 4096 {
		leafSize = 4096
	}

	for {
		rootBytes, leavesBytes, numLeaves, err := buildRootsLeaves(entries, int(leafSize), c)
		if err != nil {
			return nil, nil, 0, err
		}
		if len(rootBytes) <= targetRootLen {
			return rootBytes, leavesBytes, numLeaves, nil
		}
		leafSize *= 1.2
	}
}
