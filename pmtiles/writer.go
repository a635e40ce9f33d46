package pmtiles

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/zeebo/blake3"
)

// Writer assembles a PMTiles v3 archive in memory from individually added
// tiles, deduplicating identical tile bytes and guaranteeing the resulting
// archive is clustered (tile-data offsets monotonically increasing in
// tile-ID order) regardless of the order AddTile was called in.
//
// Offsets are not assigned at AddTile time. Instead ToWriter performs a
// single pass over tile IDs in ascending order and assigns offsets there,
// which is what makes clustering a structural guarantee rather than a
// property of caller insertion order. This mirrors TileManager::finish in
// the original Rust implementation, which takes the same approach for the
// same reason.
type Writer struct {
	TileType        TileType
	TileCompression Compression
	MinZoom         uint8
	MaxZoom         uint8
	MinLonE7        int32
	MinLatE7        int32
	MaxLonE7        int32
	MaxLatE7        int32
	CenterZoom      uint8
	CenterLonE7     int32
	CenterLatE7     int32

	tileByID   map[uint64][16]byte
	dataByHash map[[16]byte][]byte
	idsByHash  map[[16]byte]map[uint64]struct{}
}

// NewWriter constructs an empty Writer for the given tile type and per-tile compression.
func NewWriter(tileType TileType, tileCompression Compression) *Writer {
	return &Writer{
		TileType:        tileType,
		TileCompression: tileCompression,
		MinLonE7:        -180 * 1e7,
		MinLatE7:        -85 * 1e7,
		MaxLonE7:        180 * 1e7,
		MaxLatE7:        85 * 1e7,
		tileByID:        make(map[uint64][16]byte),
		dataByHash:      make(map[[16]byte][]byte),
		idsByHash:       make(map[[16]byte]map[uint64]struct{}),
	}
}

func contentHash(data []byte) [16]byte {
	sum := blake3.Sum256(data)
	var h [16]byte
	copy(h[:], sum[:16])
	return h
}

// AddTile stores data for tileID. The tile payload is stored exactly as
// given (already compressed per w.TileCompression by the caller) and is
// never recompressed. Re-adding the same tile ID overwrites the previous
// bytes: last write wins, matching the original TileManager::add_tile,
// which calls remove_tile before inserting.
func (w *Writer) AddTile(tileID uint64, data []byte) error {
	if len(data) == 0 {
		return ErrEmptyTile
	}
	w.RemoveTile(tileID)

	hash := contentHash(data)
	if _, ok := w.dataByHash[hash]; !ok {
		w.dataByHash[hash] = data
		w.idsByHash[hash] = make(map[uint64]struct{})
	}
	w.idsByHash[hash][tileID] = struct{}{}
	w.tileByID[tileID] = hash
	return nil
}

// RemoveTile deletes any data previously added for tileID, if present.
func (w *Writer) RemoveTile(tileID uint64) {
	hash, ok := w.tileByID[tileID]
	if !ok {
		return
	}
	delete(w.idsByHash[hash], tileID)
	if len(w.idsByHash[hash]) == 0 {
		delete(w.idsByHash, hash)
		delete(w.dataByHash, hash)
	}
	delete(w.tileByID, tileID)
}

// NumTiles returns the count of distinct tile IDs currently addressed.
func (w *Writer) NumTiles() int {
	return len(w.tileByID)
}

// TileIDs returns the addressed tile IDs in ascending order.
func (w *Writer) TileIDs() []uint64 {
	ids := make([]uint64, 0, len(w.tileByID))
	for id := range w.tileByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetTile returns the bytes previously added for tileID, if any.
func (w *Writer) GetTile(tileID uint64) ([]byte, bool) {
	hash, ok := w.tileByID[tileID]
	if !ok {
		return nil, false
	}
	return w.dataByHash[hash], true
}

func pushEntry(entries []EntryV3, tileID, offset uint64, length uint32) []EntryV3 {
	return pushEntryRun(entries, tileID, offset, length, 1)
}

// pushEntryRun appends an entry covering a run of runLength tiles starting
// at tileID, coalescing it into the previous entry when the two runs are
// contiguous in both tile ID and offset.
func pushEntryRun(entries []EntryV3, tileID, offset uint64, length uint32, runLength uint32) []EntryV3 {
	if n := len(entries); n > 0 {
		last := &entries[n-1]
		if tileID == last.TileID+uint64(last.RunLength) && offset == last.Offset && length == last.Length {
			if uint64(last.RunLength)+uint64(runLength) > math.MaxUint32 {
				panic("pmtiles: run length exceeds 32 bits")
			}
			last.RunLength += runLength
			return entries
		}
	}
	return append(entries, EntryV3{TileID: tileID, Offset: offset, Length: length, RunLength: runLength})
}

// finish writes deduplicated tile data to dataWriter in ascending tile-ID
// order, assigning each distinct content hash its offset on first
// encounter, and returns the resulting directory entries plus byte counts
// needed to populate the header.
func (w *Writer) finish(dataWriter io.Writer) ([]EntryV3, uint64, uint64, error) {
	ids := w.TileIDs()
	entries := make([]EntryV3, 0, len(ids))

	assigned := make(map[[16]byte]EntryV3, len(w.dataByHash))
	var offset uint64

	for _, id := range ids {
		hash := w.tileByID[id]
		ol, seen := assigned[hash]
		if !seen {
			data := w.dataByHash[hash]
			if _, err := dataWriter.Write(data); err != nil {
				return nil, 0, 0, fmt.Errorf("%w: %v", ErrIO, err)
			}
			ol = EntryV3{Offset: offset, Length: uint32(len(data))}
			assigned[hash] = ol
			offset += uint64(len(data))
		}
		entries = pushEntry(entries, id, ol.Offset, ol.Length)
	}

	return entries, offset, uint64(len(assigned)), nil
}

// ToWriter assembles the full archive (header, root directory, metadata,
// leaf directories, tile data) and writes it to dst in the fixed section
// order the spec requires: header, root directory, metadata, leaf
// directories, tile data.
func (w *Writer) ToWriter(dst io.Writer, metadata map[string]interface{}) (HeaderV3, error) {
	var tileData bytes.Buffer
	entries, tileDataLen, numContents, err := w.finish(&tileData)
	if err != nil {
		return HeaderV3{}, err
	}

	metadataBytes, err := SerializeMetadata(metadata, Gzip)
	if err != nil {
		return HeaderV3{}, err
	}

	rootBytes, leavesBytes, _, err := optimizeDirectories(entries, 16384-HeaderV3LenBytes, Gzip)
	if err != nil {
		return HeaderV3{}, err
	}

	var addressed uint64
	for _, e := range entries {
		addressed += uint64(e.RunLength)
	}

	header := HeaderV3{
		SpecVersion:         3,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     w.TileCompression,
		TileType:            w.TileType,
		MinZoom:             w.MinZoom,
		MaxZoom:             w.MaxZoom,
		MinLonE7:            w.MinLonE7,
		MinLatE7:            w.MinLatE7,
		MaxLonE7:            w.MaxLonE7,
		MaxLatE7:            w.MaxLatE7,
		CenterZoom:          w.CenterZoom,
		CenterLonE7:         w.CenterLonE7,
		CenterLatE7:         w.CenterLatE7,
		AddressedTilesCount: addressed,
		TileEntriesCount:    uint64(len(entries)),
		TileContentsCount:   numContents,
	}

	header.RootOffset = HeaderV3LenBytes
	header.RootLength = uint64(len(rootBytes))
	header.MetadataOffset = header.RootOffset + header.RootLength
	header.MetadataLength = uint64(len(metadataBytes))
	header.LeafDirectoryOffset = header.MetadataOffset + header.MetadataLength
	header.LeafDirectoryLength = uint64(len(leavesBytes))
	header.TileDataOffset = header.LeafDirectoryOffset + header.LeafDirectoryLength
	header.TileDataLength = tileDataLen

	headerBytes := serializeHeader(header)

	for _, chunk := range [][]byte{headerBytes, rootBytes, metadataBytes, leavesBytes, tileData.Bytes()} {
		if _, err := dst.Write(chunk); err != nil {
			return HeaderV3{}, fmt.Errorf("%w: %v", ErrIO, err)
		}
	}

	return header, nil
}
