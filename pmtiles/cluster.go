package pmtiles

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// Cluster rewrites an unclustered PMTiles archive in place so that tile data
// offsets are monotonically increasing in tile ID order, the arrangement the
// reference HTTP server relies on to serve byte ranges efficiently. Archives
// produced by Writer are already clustered by construction; Cluster exists
// for archives that were assembled some other way (a hand-built directory, a
// merge of several archives) and need this invariant restored afterward.
func Cluster(logger *log.Logger, inputPMTiles string, deduplicate bool) error {
	file, err := os.OpenFile(inputPMTiles, os.O_RDONLY, 0666)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, HeaderV3LenBytes)
	if _, err := file.ReadAt(buf, 0); err != nil {
		return err
	}
	header, err := deserializeHeader(buf)
	if err != nil {
		return err
	}
	if header.Clustered {
		return fmt.Errorf("archive is already clustered")
	}

	logger.Printf("total directory size %d", header.RootLength+header.LeafDirectoryLength)

	metadataReader := io.NewSectionReader(file, int64(header.MetadataOffset), int64(header.MetadataLength))
	metadata, err := DeserializeMetadata(metadataReader, header.InternalCompression)
	if err != nil {
		return err
	}

	resolver := newResolver(deduplicate, false)
	tmpfile, err := os.CreateTemp("", "pmtiles-cluster")
	if err != nil {
		return err
	}
	defer os.Remove(tmpfile.Name())

	bar := getProgressWriter().NewCountProgress(int64(header.TileEntriesCount), "reclustering")

	readSection := func(offset uint64, length uint64) ([]byte, error) {
		return io.ReadAll(io.NewSectionReader(file, int64(offset), int64(length)))
	}

	err = IterateEntries(header, readSection, func(e EntryV3) {
		data, readErr := io.ReadAll(io.NewSectionReader(file, int64(header.TileDataOffset+e.Offset), int64(e.Length)))
		if readErr != nil {
			return
		}
		if isNew, newData := resolver.AddTileIsNew(e.TileID, data, e.RunLength); isNew {
			tmpfile.Write(newData)
		}
		bar.Add(1)
	})
	if err != nil {
		return err
	}

	file.Close()

	newHeader, err := finalize(logger, resolver, header, tmpfile, inputPMTiles, metadata)
	if err != nil {
		return err
	}
	logger.Printf("total directory size %d (%.1f%% of original)", newHeader.RootLength+newHeader.LeafDirectoryLength,
		float64(newHeader.RootLength+newHeader.LeafDirectoryLength)/float64(header.RootLength+header.LeafDirectoryLength)*100)
	return nil
}

// finalize assembles a full archive from a resolver's accumulated directory
// entries plus a tile data file already written in ascending-offset order,
// and atomically replaces path with the result.
func finalize(logger *log.Logger, resolver *streamResolver, header HeaderV3, tileData *os.File, path string, metadata map[string]interface{}) (HeaderV3, error) {
	metadataBytes, err := SerializeMetadata(metadata, header.InternalCompression)
	if err != nil {
		return HeaderV3{}, err
	}

	rootBytes, leavesBytes, numLeaves, err := optimizeDirectories(resolver.entries, 16384-HeaderV3LenBytes, header.InternalCompression)
	if err != nil {
		return HeaderV3{}, err
	}
	if numLeaves > 0 {
		logger.Printf("split directory into %d leaves", numLeaves)
	}

	var addressed uint64
	for _, e := range resolver.entries {
		addressed += uint64(e.RunLength)
	}

	newHeader := header
	newHeader.Clustered = true
	newHeader.AddressedTilesCount = addressed
	newHeader.TileEntriesCount = uint64(len(resolver.entries))
	newHeader.TileContentsCount = resolver.numContents
	newHeader.RootOffset = HeaderV3LenBytes
	newHeader.RootLength = uint64(len(rootBytes))
	newHeader.MetadataOffset = newHeader.RootOffset + newHeader.RootLength
	newHeader.MetadataLength = uint64(len(metadataBytes))
	newHeader.LeafDirectoryOffset = newHeader.MetadataOffset + newHeader.MetadataLength
	newHeader.LeafDirectoryLength = uint64(len(leavesBytes))
	newHeader.TileDataOffset = newHeader.LeafDirectoryOffset + newHeader.LeafDirectoryLength
	newHeader.TileDataLength = resolver.offset

	outFile, err := os.CreateTemp(filepath.Dir(path), "pmtiles-finalize")
	if err != nil {
		return HeaderV3{}, err
	}

	for _, chunk := range [][]byte{serializeHeader(newHeader), rootBytes, metadataBytes, leavesBytes} {
		if _, err := outFile.Write(chunk); err != nil {
			outFile.Close()
			os.Remove(outFile.Name())
			return HeaderV3{}, err
		}
	}
	if _, err := tileData.Seek(0, io.SeekStart); err != nil {
		outFile.Close()
		os.Remove(outFile.Name())
		return HeaderV3{}, err
	}
	if _, err := io.Copy(outFile, tileData); err != nil {
		outFile.Close()
		os.Remove(outFile.Name())
		return HeaderV3{}, err
	}
	if err := outFile.Close(); err != nil {
		os.Remove(outFile.Name())
		return HeaderV3{}, err
	}

	if err := os.Rename(outFile.Name(), path); err != nil {
		os.Remove(outFile.Name())
		return HeaderV3{}, err
	}
	return newHeader, nil
}
