package pmtiles

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Archive is a read-only view over a PMTiles v3 byte source: a local file,
// an HTTP range endpoint, or a cloud bucket object, anything satisfying
// io.ReaderAt. Header and root directory are read eagerly; leaf directories
// and tile data are fetched lazily. Leaf directories are cached once
// resolved; tile data is read again on every lookup.
type Archive struct {
	Header   HeaderV3
	Metadata map[string]interface{}

	source io.ReaderAt

	mu        sync.Mutex
	rootDir   []EntryV3
	leafCache map[uint64][]EntryV3 // keyed by leaf directory offset
}

// FromBytes parses a complete in-memory archive, eagerly loading the header,
// root directory and metadata.
func FromBytes(data []byte) (*Archive, error) {
	return FromReader(bytes.NewReader(data))
}

// FromReader parses header, root directory and metadata from r, the full
// eager load path used when the whole archive is cheaply addressable (a
// local file or in-memory buffer).
func FromReader(r io.ReaderAt) (*Archive, error) {
	a, err := FromReaderPartially(r)
	if err != nil {
		return nil, err
	}
	metadataBuf := make([]byte, a.Header.MetadataLength)
	if _, err := r.ReadAt(metadataBuf, int64(a.Header.MetadataOffset)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	metadata, err := DeserializeMetadata(bytes.NewReader(metadataBuf), a.Header.InternalCompression)
	if err != nil {
		return nil, err
	}
	a.Metadata = metadata
	return a, nil
}

// FromReaderPartially parses only the header and root directory; leaf
// directories are read on demand during lookups. The metadata section is
// not read: the returned Archive's Metadata is nil. This is the right
// entry point for a remote byte source, where reading the whole file up
// front would be wasteful.
func FromReaderPartially(r io.ReaderAt) (*Archive, error) {
	headerBuf := make([]byte, HeaderV3LenBytes)
	if _, err := r.ReadAt(headerBuf, 0); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	header, err := deserializeHeader(headerBuf)
	if err != nil {
		return nil, err
	}

	rootBuf := make([]byte, header.RootLength)
	if _, err := r.ReadAt(rootBuf, int64(header.RootOffset)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	rootEntries, err := deserializeEntries(rootBuf, header.InternalCompression)
	if err != nil {
		return nil, err
	}

	return &Archive{
		Header:    header,
		source:    r,
		rootDir:   rootEntries,
		leafCache: make(map[uint64][]EntryV3),
	}, nil
}

func (a *Archive) leafEntries(offset uint64, length uint32) ([]EntryV3, error) {
	a.mu.Lock()
	if cached, ok := a.leafCache[offset]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	buf := make([]byte, length)
	if _, err := a.source.ReadAt(buf, int64(a.Header.LeafDirectoryOffset+offset)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	entries, err := deserializeEntries(buf, a.Header.InternalCompression)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.leafCache[offset] = entries
	a.mu.Unlock()
	return entries, nil
}

// resolve walks the root/leaf directory tree for tileID, descending up to
// three leaf levels (matching the reference server's depth bound), and
// returns the tile entry if addressed.
func (a *Archive) resolve(tileID uint64) (EntryV3, bool, error) {
	entries := a.rootDir
	for depth := 0; depth <= 3; depth++ {
		entry, ok := findTile(entries, tileID)
		if !ok {
			return EntryV3{}, false, nil
		}
		if !entry.IsLeaf() {
			return entry, true, nil
		}
		next, err := a.leafEntries(entry.Offset, entry.Length)
		if err != nil {
			return EntryV3{}, false, err
		}
		entries = next
	}
	return EntryV3{}, false, nil
}

// GetTile returns the raw (still tile-compressed per Header.TileCompression)
// bytes for the tile at z/x/y, or ok=false if the archive does not address it.
func (a *Archive) GetTile(z uint8, x uint32, y uint32) (data []byte, ok bool, err error) {
	if z > 31 {
		return nil, false, ErrInvalidCoordinate
	}
	if z > 0 {
		maxCoord := uint32(1)<<z - 1
		if x > maxCoord || y > maxCoord {
			return nil, false, ErrInvalidCoordinate
		}
	}
	return a.GetTileByID(ZxyToID(z, x, y))
}

// GetTileByID is GetTile addressed directly by Hilbert tile ID.
func (a *Archive) GetTileByID(tileID uint64) ([]byte, bool, error) {
	entry, ok, err := a.resolve(tileID)
	if err != nil || !ok {
		return nil, ok, err
	}
	buf := make([]byte, entry.Length)
	if _, err := a.source.ReadAt(buf, int64(a.Header.TileDataOffset+entry.Offset)); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return buf, true, nil
}

// GetTilesByID resolves multiple tile IDs concurrently, bounded by
// golang.org/x/sync/errgroup, useful for callers fetching a batch (e.g. a
// viewport's worth of tiles) from a high-latency remote byte source.
func (a *Archive) GetTilesByID(ctx context.Context, tileIDs []uint64) ([][]byte, error) {
	results := make([][]byte, len(tileIDs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, id := range tileIDs {
		i, id := i, id
		g.Go(func() error {
			data, _, err := a.GetTileByID(id)
			results[i] = data
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
