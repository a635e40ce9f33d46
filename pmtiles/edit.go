package pmtiles

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// Edit rewrites the header and/or metadata of an archive in place.
// newHeaderJSONFile, if non-empty, points at a JSON file decoding to
// HeaderJSON whose fields overwrite the corresponding archive header fields.
// newMetadataFile, if non-empty, points at a JSON file whose contents
// replace the archive's metadata section wholesale. Both are optional; at
// least one must be supplied.
func Edit(logger *log.Logger, inputArchive string, newHeaderJSONFile string, newMetadataFile string) error {
	if newHeaderJSONFile == "" && newMetadataFile == "" {
		return fmt.Errorf("edit requires at least one of --header-json or --metadata")
	}

	file, err := os.OpenFile(inputArchive, os.O_RDWR, 0666)
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

	if newHeaderJSONFile != "" {
		raw, err := os.ReadFile(newHeaderJSONFile)
		if err != nil {
			return err
		}
		var patch HeaderJSON
		if err := json.Unmarshal(raw, &patch); err != nil {
			return fmt.Errorf("parse header json: %w", err)
		}
		if err := applyHeaderPatch(&header, patch); err != nil {
			return err
		}
		if _, err := file.WriteAt(serializeHeader(header), 0); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		logger.Printf("rewrote header of %s", inputArchive)
	}

	if newMetadataFile != "" {
		raw, err := os.ReadFile(newMetadataFile)
		if err != nil {
			return err
		}
		var metadata map[string]interface{}
		if err := json.Unmarshal(raw, &metadata); err != nil {
			return fmt.Errorf("%w: %v", ErrMetadataNotObject, err)
		}
		metadataBytes, err := SerializeMetadata(metadata, header.InternalCompression)
		if err != nil {
			return err
		}
		if uint64(len(metadataBytes)) > header.MetadataLength {
			return fmt.Errorf("new metadata (%d bytes compressed) is larger than the existing metadata section (%d bytes); in-place edit cannot grow the archive", len(metadataBytes), header.MetadataLength)
		}
		if _, err := file.WriteAt(metadataBytes, int64(header.MetadataOffset)); err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if pad := header.MetadataLength - uint64(len(metadataBytes)); pad > 0 {
			zeroes := make([]byte, pad)
			if _, err := file.WriteAt(zeroes, int64(header.MetadataOffset)+int64(len(metadataBytes))); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			// shrink the metadata section to the real length and slide the
			// padding into the gap so DeserializeMetadata's gzip reader
			// doesn't choke on trailing zero bytes.
			header.MetadataLength = uint64(len(metadataBytes))
			if _, err := file.WriteAt(serializeHeader(header), 0); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
		logger.Printf("rewrote metadata of %s", inputArchive)
	}

	return nil
}

func applyHeaderPatch(header *HeaderV3, patch HeaderJSON) error {
	if patch.TileType != "" {
		tt := stringToTileType(patch.TileType)
		if tt == UnknownTileType {
			return fmt.Errorf("unknown tile_type %q", patch.TileType)
		}
		header.TileType = tt
	}
	if patch.TileCompression != "" {
		c := stringToCompression(patch.TileCompression)
		if c == UnknownCompression {
			return fmt.Errorf("unknown tile_compression %q", patch.TileCompression)
		}
		header.TileCompression = c
	}
	if patch.MinZoom != 0 || patch.MaxZoom != 0 {
		header.MinZoom = uint8(patch.MinZoom)
		header.MaxZoom = uint8(patch.MaxZoom)
	}
	if len(patch.Bounds) == 4 {
		header.MinLonE7 = int32(patch.Bounds[0] * 1e7)
		header.MinLatE7 = int32(patch.Bounds[1] * 1e7)
		header.MaxLonE7 = int32(patch.Bounds[2] * 1e7)
		header.MaxLatE7 = int32(patch.Bounds[3] * 1e7)
	}
	if len(patch.Center) == 3 {
		header.CenterLonE7 = int32(patch.Center[0] * 1e7)
		header.CenterLatE7 = int32(patch.Center[1] * 1e7)
		header.CenterZoom = uint8(patch.Center[2])
	}
	return nil
}
