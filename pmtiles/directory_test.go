package pmtiles

import (
	"errors"
	"testing"
)

func TestFindTileEmpty(t *testing.T) {
	entries := []EntryV3{}
	_, ok := findTile(entries, 0)
	if ok {
		t.Fatalf("expected no match on empty directory")
	}
}

func TestFindTileFirstEntry(t *testing.T) {
	entries := []EntryV3{{TileID: 0, Offset: 0, Length: 5, RunLength: 1}}
	entry, ok := findTile(entries, 0)
	if !ok || entry.Offset != 0 || entry.Length != 5 {
		t.Fatalf("expected match on single entry, got %+v ok=%v", entry, ok)
	}
}

func TestFindTileRunLength(t *testing.T) {
	entries := []EntryV3{
		{TileID: 3, Offset: 0, Length: 10, RunLength: 5},
	}
	for _, id := range []uint64{3, 4, 5, 6, 7} {
		entry, ok := findTile(entries, id)
		if !ok || entry.TileID != 3 {
			t.Fatalf("tile %d: expected match inside run, got %+v ok=%v", id, entry, ok)
		}
	}
	if _, ok := findTile(entries, 8); ok {
		t.Fatalf("tile 8 should fall outside the run")
	}
	if _, ok := findTile(entries, 2); ok {
		t.Fatalf("tile 2 should fall before the run")
	}
}

func TestFindTileLeaf(t *testing.T) {
	entries := []EntryV3{
		{TileID: 100, Offset: 0, Length: 2000, RunLength: 0},
	}
	entry, ok := findTile(entries, 150)
	if !ok || !entry.IsLeaf() {
		t.Fatalf("expected a leaf match for any tile id >= the leaf's own TileID")
	}
}

func TestFindTileMultipleEntries(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 1, RunLength: 1},
		{TileID: 2, Offset: 1, Length: 1, RunLength: 1},
		{TileID: 5, Offset: 2, Length: 1, RunLength: 3},
		{TileID: 20, Offset: 3, Length: 1, RunLength: 1},
	}
	cases := map[uint64]bool{
		0: true, 1: false, 2: true, 3: false,
		5: true, 6: true, 7: true, 8: false,
		20: true, 21: false,
	}
	for id, want := range cases {
		_, ok := findTile(entries, id)
		if ok != want {
			t.Fatalf("tile %d: expected ok=%v, got %v", id, want, ok)
		}
	}
}

func roundtripEntries(t *testing.T, entries []EntryV3, c Compression) []EntryV3 {
	t.Helper()
	serialized, err := serializeEntries(entries, c)
	if err != nil {
		t.Fatalf("serializeEntries: %v", err)
	}
	result, err := deserializeEntries(serialized, c)
	if err != nil {
		t.Fatalf("deserializeEntries: %v", err)
	}
	return result
}

func TestSerializeDeserializeEntriesEmpty(t *testing.T) {
	result := roundtripEntries(t, []EntryV3{}, Gzip)
	if len(result) != 0 {
		t.Fatalf("expected empty directory roundtrip, got %d entries", len(result))
	}
}

func TestSerializeDeserializeEntriesSingle(t *testing.T) {
	entries := []EntryV3{{TileID: 0, Offset: 0, Length: 100, RunLength: 1}}
	result := roundtripEntries(t, entries, Gzip)
	if len(result) != 1 || result[0] != entries[0] {
		t.Fatalf("roundtrip mismatch: got %+v", result)
	}
}

func TestSerializeDeserializeEntriesContiguousOffsets(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 200, RunLength: 1},
		{TileID: 2, Offset: 300, Length: 50, RunLength: 2},
	}
	result := roundtripEntries(t, entries, Gzip)
	if len(result) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(result))
	}
	for i, e := range entries {
		if result[i] != e {
			t.Fatalf("entry %d mismatch: want %+v got %+v", i, e, result[i])
		}
	}
}

func TestSerializeDeserializeEntriesNonContiguousOffsets(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 5, Offset: 1000, Length: 200, RunLength: 1},
		{TileID: 10, Offset: 50, Length: 50, RunLength: 1},
	}
	result := roundtripEntries(t, entries, NoCompression)
	for i, e := range entries {
		if result[i] != e {
			t.Fatalf("entry %d mismatch: want %+v got %+v", i, e, result[i])
		}
	}
}

func TestSerializeDeserializeEntriesZstd(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 1, Offset: 10, Length: 20, RunLength: 3},
	}
	result := roundtripEntries(t, entries, Zstd)
	for i, e := range entries {
		if result[i] != e {
			t.Fatalf("entry %d mismatch: want %+v got %+v", i, e, result[i])
		}
	}
}

func TestOptimizeDirectoriesFlatFits(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 100, RunLength: 1},
		{TileID: 1, Offset: 100, Length: 100, RunLength: 1},
	}
	rootBytes, leavesBytes, numLeaves, err := optimizeDirectories(entries, 16384-HeaderV3LenBytes, Gzip)
	if err != nil {
		t.Fatalf("optimizeDirectories: %v", err)
	}
	if numLeaves != 0 {
		t.Fatalf("small directory should not need leaves, got numLeaves=%d", numLeaves)
	}
	if len(leavesBytes) != 0 {
		t.Fatalf("expected no leaf bytes, got %d", len(leavesBytes))
	}
	result, err := deserializeEntries(rootBytes, Gzip)
	if err != nil {
		t.Fatalf("deserializeEntries: %v", err)
	}
	if len(result) != len(entries) {
		t.Fatalf("expected %d entries in root, got %d", len(entries), len(result))
	}
}

func TestOptimizeDirectoriesSplitsWhenTooLarge(t *testing.T) {
	entries := make([]EntryV3, 0, 50000)
	for i := uint64(0); i < 50000; i++ {
		entries = append(entries, EntryV3{TileID: i, Offset: i * 7919 % 100000003, Length: 100, RunLength: 1})
	}
	rootBytes, leavesBytes, numLeaves, err := optimizeDirectories(entries, 16384-HeaderV3LenBytes, Gzip)
	if err != nil {
		t.Fatalf("optimizeDirectories: %v", err)
	}
	if numLeaves == 0 {
		t.Fatalf("expected directory of this size to split into leaves")
	}
	if len(leavesBytes) == 0 {
		t.Fatalf("expected non-empty leaf bytes")
	}
	rootEntries, err := deserializeEntries(rootBytes, Gzip)
	if err != nil {
		t.Fatalf("deserializeEntries(root): %v", err)
	}
	for _, e := range rootEntries {
		if !e.IsLeaf() {
			t.Fatalf("root entries should all be leaf pointers once split, got %+v", e)
		}
	}
	if len(rootBytes) > 16384-HeaderV3LenBytes {
		t.Fatalf("root directory exceeds target length: %d bytes", len(rootBytes))
	}
}

func TestHeaderRoundtrip(t *testing.T) {
	header := HeaderV3{
		SpecVersion:         3,
		RootOffset:          127,
		RootLength:          100,
		MetadataOffset:      227,
		MetadataLength:      50,
		LeafDirectoryOffset: 277,
		LeafDirectoryLength: 0,
		TileDataOffset:      277,
		TileDataLength:      123456,
		AddressedTilesCount: 1000,
		TileEntriesCount:    900,
		TileContentsCount:   850,
		Clustered:           true,
		InternalCompression: Gzip,
		TileCompression:     Brotli,
		TileType:            Mvt,
		MinZoom:             0,
		MaxZoom:             14,
		MinLonE7:            -180 * 1e7,
		MinLatE7:            -85 * 1e7,
		MaxLonE7:            180 * 1e7,
		MaxLatE7:            85 * 1e7,
		CenterZoom:          7,
		CenterLonE7:         0,
		CenterLatE7:         0,
	}
	serialized := serializeHeader(header)
	if len(serialized) != HeaderV3LenBytes {
		t.Fatalf("expected serialized header of %d bytes, got %d", HeaderV3LenBytes, len(serialized))
	}
	result, err := deserializeHeader(serialized)
	if err != nil {
		t.Fatalf("deserializeHeader: %v", err)
	}
	if result != header {
		t.Fatalf("header roundtrip mismatch:\nwant %+v\ngot  %+v", header, result)
	}
}

func TestDeserializeHeaderBadMagic(t *testing.T) {
	b := make([]byte, HeaderV3LenBytes)
	copy(b, "NOTPMTIL")
	if _, err := deserializeHeader(b); err == nil {
		t.Fatalf("expected an error for bad magic number")
	}
}

func TestDeserializeHeaderTooShort(t *testing.T) {
	if _, err := deserializeHeader(make([]byte, 10)); err == nil {
		t.Fatalf("expected an error for a too-short header buffer")
	}
}

func TestDeserializeHeaderUnsupportedVersion(t *testing.T) {
	b := make([]byte, HeaderV3LenBytes)
	copy(b, "PMTiles")
	b[7] = 9
	if _, err := deserializeHeader(b); err == nil {
		t.Fatalf("expected an error for an unsupported spec version")
	}
}

func TestDeserializeEntriesRejectsZeroLength(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 1},
		{TileID: 1, Offset: 10, Length: 0, RunLength: 1},
	}
	serialized, err := serializeEntries(entries, Gzip)
	if err != nil {
		t.Fatalf("serializeEntries: %v", err)
	}
	if _, err := deserializeEntries(serialized, Gzip); !errors.Is(err, ErrInvalidDirectory) {
		t.Fatalf("expected ErrInvalidDirectory for a zero-length entry, got %v", err)
	}
}

func TestDeserializeEntriesRejectsOverlappingRun(t *testing.T) {
	entries := []EntryV3{
		{TileID: 0, Offset: 0, Length: 10, RunLength: 5},
		{TileID: 3, Offset: 10, Length: 10, RunLength: 1},
	}
	serialized, err := serializeEntries(entries, Gzip)
	if err != nil {
		t.Fatalf("serializeEntries: %v", err)
	}
	if _, err := deserializeEntries(serialized, Gzip); !errors.Is(err, ErrInvalidDirectory) {
		t.Fatalf("expected ErrInvalidDirectory for an overlapping run, got %v", err)
	}
}

func TestDeserializeEntriesRejectsDuplicateTileID(t *testing.T) {
	entries := []EntryV3{
		{TileID: 5, Offset: 0, Length: 10, RunLength: 0},
		{TileID: 5, Offset: 10, Length: 10, RunLength: 0},
	}
	serialized, err := serializeEntries(entries, Gzip)
	if err != nil {
		t.Fatalf("serializeEntries: %v", err)
	}
	if _, err := deserializeEntries(serialized, Gzip); !errors.Is(err, ErrInvalidDirectory) {
		t.Fatalf("expected ErrInvalidDirectory for a duplicate leaf tile id, got %v", err)
	}
}
