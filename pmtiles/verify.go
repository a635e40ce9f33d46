package pmtiles

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/RoaringBitmap/roaring/roaring64"
)

// Verify checks that the archive at input is structurally well formed: the
// header decodes, the directory tree is reachable and internally
// consistent, and the AddressedTilesCount/TileEntriesCount/TileContentsCount
// counters the header advertises match what the directory actually
// contains. It does not attempt to validate tile content itself.
func Verify(logger *log.Logger, input string) error {
	file, err := os.Open(input)
	if err != nil {
		return err
	}
	defer file.Close()

	headerBuf := make([]byte, HeaderV3LenBytes)
	if _, err := file.ReadAt(headerBuf, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	header, err := deserializeHeader(headerBuf)
	if err != nil {
		return err
	}

	if header.MinZoom > header.MaxZoom {
		return fmt.Errorf("%w: min zoom %d greater than max zoom %d", ErrInvalidDirectory, header.MinZoom, header.MaxZoom)
	}

	readSection := func(offset uint64, length uint64) ([]byte, error) {
		return io.ReadAll(io.NewSectionReader(file, int64(offset), int64(length)))
	}

	metadataReader := io.NewSectionReader(file, int64(header.MetadataOffset), int64(header.MetadataLength))
	if _, err := DeserializeMetadata(metadataReader, header.InternalCompression); err != nil {
		return fmt.Errorf("metadata section: %w", err)
	}

	var (
		addressed       uint64
		entryCount      uint64
		minTileID       = ^uint64(0)
		maxTileID       uint64
		lastTileID      uint64
		lastOffsetEnd   uint64
		sawFirst        bool
		contentOffsets  = roaring64.New()
		monotonicBroken bool
	)

	err = IterateEntries(header, readSection, func(e EntryV3) {
		entryCount++
		addressed += uint64(e.RunLength)

		if e.TileID < minTileID {
			minTileID = e.TileID
		}
		last := e.TileID + uint64(e.RunLength) - 1
		if last > maxTileID {
			maxTileID = last
		}

		if sawFirst && e.TileID < lastTileID {
			monotonicBroken = true
		}
		lastTileID = e.TileID
		sawFirst = true

		if header.Clustered && !contentOffsets.Contains(e.Offset) {
			if e.Offset < lastOffsetEnd {
				monotonicBroken = true
			}
			lastOffsetEnd = e.Offset + uint64(e.Length)
		}
		contentOffsets.Add(e.Offset)
	})
	if err != nil {
		return fmt.Errorf("walking directory: %w", err)
	}

	if monotonicBroken {
		return fmt.Errorf("%w: archive claims Clustered but tile data offsets are not monotonically increasing", ErrInvalidDirectory)
	}

	if entryCount != header.TileEntriesCount {
		return fmt.Errorf("%w: header advertises %d tile entries, directory contains %d", ErrInvalidDirectory, header.TileEntriesCount, entryCount)
	}
	if addressed != header.AddressedTilesCount {
		return fmt.Errorf("%w: header advertises %d addressed tiles, directory sums to %d", ErrInvalidDirectory, header.AddressedTilesCount, addressed)
	}
	if contentOffsets.GetCardinality() != header.TileContentsCount {
		return fmt.Errorf("%w: header advertises %d distinct tile contents, directory contains %d", ErrInvalidDirectory, header.TileContentsCount, contentOffsets.GetCardinality())
	}

	if entryCount > 0 {
		minZ, _, _ := IDToZxy(minTileID)
		maxZ, _, _ := IDToZxy(maxTileID)
		if minZ < header.MinZoom || maxZ > header.MaxZoom {
			return fmt.Errorf("%w: directory contains zoom levels %d-%d outside header range %d-%d", ErrInvalidDirectory, minZ, maxZ, header.MinZoom, header.MaxZoom)
		}
	}

	logger.Printf("%s: OK (%d entries, %d addressed tiles, %d distinct contents)", input, entryCount, addressed, contentOffsets.GetCardinality())
	return nil
}
