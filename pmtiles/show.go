package pmtiles

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dustin/go-humanize"
)

// Show inspects a local or remote archive. With showTile false it writes a
// summary of the header and metadata through logger; with showTile true it
// instead fetches the single tile at z/x/y and writes its raw bytes to
// stdout, for piping into another tool.
func Show(logger *log.Logger, bucketURL string, path string, showTile bool, z int, x int, y int) error {
	ctx := context.Background()

	bucketURL, key, err := NormalizeBucketKey(bucketURL, "", path)
	if err != nil {
		return err
	}

	bucket, err := OpenBucket(ctx, bucketURL, "")
	if err != nil {
		return fmt.Errorf("failed to open bucket for %s, %w", path, err)
	}
	defer bucket.Close()

	headerReader, err := bucket.NewRangeReader(ctx, key, 0, HeaderV3LenBytes)
	if err != nil {
		return fmt.Errorf("failed to fetch header from %s, %w", path, err)
	}
	headerBuf, err := io.ReadAll(headerReader)
	headerReader.Close()
	if err != nil {
		return err
	}
	header, err := deserializeHeader(headerBuf)
	if err != nil {
		return err
	}

	if showTile {
		return showTileBytes(ctx, bucket, key, header, z, x, y)
	}

	metadataReader, err := bucket.NewRangeReader(ctx, key, int64(header.MetadataOffset), int64(header.MetadataLength))
	if err != nil {
		return fmt.Errorf("failed to fetch metadata from %s, %w", path, err)
	}
	defer metadataReader.Close()
	metadata, err := DeserializeMetadata(metadataReader, header.InternalCompression)
	if err != nil {
		return err
	}
	metadataBytes, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return err
	}

	logger.Println("pmtiles spec version:", header.SpecVersion)
	logger.Println("tile type:", header.TileType)
	logger.Println("tile compression:", header.TileCompression)
	logger.Println("min zoom:", header.MinZoom)
	logger.Println("max zoom:", header.MaxZoom)
	logger.Printf("bounds: %f, %f, %f, %f\n",
		float64(header.MinLonE7)/1e7, float64(header.MinLatE7)/1e7,
		float64(header.MaxLonE7)/1e7, float64(header.MaxLatE7)/1e7)
	logger.Printf("center: %f, %f, zoom %d\n",
		float64(header.CenterLonE7)/1e7, float64(header.CenterLatE7)/1e7, header.CenterZoom)
	logger.Println("clustered:", header.Clustered)
	logger.Println("addressed tiles count:", header.AddressedTilesCount)
	logger.Println("tile entries count:", header.TileEntriesCount)
	logger.Println("tile contents count:", header.TileContentsCount)
	logger.Println("directory size:", humanize.Bytes(header.RootLength+header.LeafDirectoryLength))
	logger.Println("tile data size:", humanize.Bytes(header.TileDataLength))
	logger.Println("metadata:", string(metadataBytes))

	return nil
}

func showTileBytes(ctx context.Context, bucket Bucket, key string, header HeaderV3, z int, x int, y int) error {
	if z < 0 || z > 31 {
		return ErrInvalidCoordinate
	}
	tileID := ZxyToID(uint8(z), uint32(x), uint32(y))

	readSection := func(offset uint64, length uint64) ([]byte, error) {
		r, err := bucket.NewRangeReader(ctx, key, int64(offset), int64(length))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	}

	entries, err := readSection(header.RootOffset, header.RootLength)
	if err != nil {
		return err
	}
	directory, err := deserializeEntries(entries, header.InternalCompression)
	if err != nil {
		return err
	}

	for depth := 0; depth <= 3; depth++ {
		entry, ok := findTile(directory, tileID)
		if !ok {
			return fmt.Errorf("tile %d/%d/%d not found in archive", z, x, y)
		}
		if !entry.IsLeaf() {
			data, err := readSection(header.TileDataOffset+entry.Offset, uint64(entry.Length))
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		}
		leafBytes, err := readSection(header.LeafDirectoryOffset+entry.Offset, uint64(entry.Length))
		if err != nil {
			return err
		}
		directory, err = deserializeEntries(leafBytes, header.InternalCompression)
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("tile %d/%d/%d not found in archive", z, x, y)
}
