package pmtiles

import (
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/roaring64"
	"zombiezen.com/go/sqlite"
)

// Convert reads an MBTiles sqlite archive at input and writes an equivalent
// PMTiles v3 archive to output, deduplicating identical tile content when
// deduplicate is set. tmpfile holds the deduplicated tile data stream while
// the directory is being assembled and is not closed by Convert.
func Convert(logger *log.Logger, input string, output string, deduplicate bool, tmpfile *os.File) error {
	start := time.Now()
	conn, err := sqlite.OpenConn(input, sqlite.OpenReadOnly)
	if err != nil {
		return fmt.Errorf("open mbtiles: %w", err)
	}
	defer conn.Close()

	mbtilesMetadata := make([]string, 0)
	{
		stmt, _, err := conn.PrepareTransient("SELECT name, value FROM metadata")
		if err != nil {
			return err
		}
		defer stmt.Finalize()
		for {
			row, err := stmt.Step()
			if err != nil {
				return err
			}
			if !row {
				break
			}
			mbtilesMetadata = append(mbtilesMetadata, stmt.ColumnText(0), stmt.ColumnText(1))
		}
	}

	header, jsonMetadata, err := mbtilesToHeaderJSON(mbtilesMetadata)
	if err != nil {
		return fmt.Errorf("parse mbtiles metadata: %w", err)
	}

	logger.Println("querying total tile count")
	var totalTiles int64
	{
		stmt, _, err := conn.PrepareTransient("SELECT count(*) FROM tiles")
		if err != nil {
			return err
		}
		defer stmt.Finalize()
		row, err := stmt.Step()
		if err != nil || !row {
			return fmt.Errorf("counting tiles: %w", err)
		}
		totalTiles = stmt.ColumnInt64(0)
	}

	logger.Println("pass 1: assembling tile id set")
	tileset := roaring64.New()
	{
		stmt, _, err := conn.PrepareTransient("SELECT zoom_level, tile_column, tile_row FROM tiles")
		if err != nil {
			return err
		}
		defer stmt.Finalize()

		bar := getProgressWriter().NewCountProgress(totalTiles, "assembling tile id set")
		for {
			row, err := stmt.Step()
			if err != nil {
				return err
			}
			if !row {
				break
			}
			z := uint8(stmt.ColumnInt64(0))
			x := uint32(stmt.ColumnInt64(1))
			y := uint32(stmt.ColumnInt64(2))
			flippedY := (uint32(1) << z) - 1 - y
			tileset.Add(ZxyToID(z, x, flippedY))
			bar.Add(1)
		}
	}

	logger.Println("pass 2: writing tiles")
	resolver := newResolver(deduplicate, false)
	{
		bar := getProgressWriter().NewCountProgress(int64(tileset.GetCardinality()), "writing tiles")
		it := tileset.Iterator()
		stmt := conn.Prep("SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?")

		for it.HasNext() {
			id := it.Next()
			z, x, y := IDToZxy(id)
			flippedY := (uint32(1) << z) - 1 - y

			stmt.BindInt64(1, int64(z))
			stmt.BindInt64(2, int64(x))
			stmt.BindInt64(3, int64(flippedY))

			hasRow, err := stmt.Step()
			if err != nil {
				return err
			}
			if !hasRow {
				return fmt.Errorf("missing row for tile %d/%d/%d", z, x, y)
			}

			data, err := io.ReadAll(stmt.ColumnReader(0))
			if err != nil {
				return err
			}
			compressed, err := compress(Gzip, data)
			if err != nil {
				return err
			}

			if len(compressed) > 0 {
				if isNew, newData := resolver.AddTileIsNew(id, compressed, 1); isNew {
					if _, err := tmpfile.Write(newData); err != nil {
						return err
					}
				}
			}

			stmt.ClearBindings()
			stmt.Reset()
			bar.Add(1)
		}
	}

	var addressed uint64
	for _, e := range resolver.entries {
		addressed += uint64(e.RunLength)
	}

	logger.Println("addressed tiles:", addressed)
	logger.Println("tile entries (after RLE):", len(resolver.entries))
	logger.Println("tile contents:", resolver.numContents)

	header.AddressedTilesCount = addressed
	header.TileEntriesCount = uint64(len(resolver.entries))
	header.TileContentsCount = resolver.numContents

	outfile, err := os.Create(output)
	if err != nil {
		return err
	}
	defer outfile.Close()

	rootBytes, leavesBytes, numLeaves, err := optimizeDirectories(resolver.entries, 16384-HeaderV3LenBytes, Gzip)
	if err != nil {
		return err
	}
	if numLeaves > 0 {
		logger.Printf("directory split into %d leaves, %d bytes total", numLeaves, len(rootBytes)+len(leavesBytes))
	} else {
		logger.Printf("directory fits in root, %d bytes", len(rootBytes))
	}

	metadataBytes, err := SerializeMetadata(jsonMetadata, Gzip)
	if err != nil {
		return err
	}

	header.Clustered = true
	header.InternalCompression = Gzip
	header.TileCompression = Gzip
	header.RootOffset = HeaderV3LenBytes
	header.RootLength = uint64(len(rootBytes))
	header.MetadataOffset = header.RootOffset + header.RootLength
	header.MetadataLength = uint64(len(metadataBytes))
	header.LeafDirectoryOffset = header.MetadataOffset + header.MetadataLength
	header.LeafDirectoryLength = uint64(len(leavesBytes))
	header.TileDataOffset = header.LeafDirectoryOffset + header.LeafDirectoryLength
	header.TileDataLength = resolver.offset

	for _, chunk := range [][]byte{serializeHeader(header), rootBytes, metadataBytes, leavesBytes} {
		if _, err := outfile.Write(chunk); err != nil {
			return err
		}
	}
	if _, err := tmpfile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.Copy(outfile, tmpfile); err != nil {
		return err
	}

	logger.Println("finished in", time.Since(start))
	return nil
}

func mbtilesToHeaderJSON(mbtilesMetadata []string) (HeaderV3, map[string]interface{}, error) {
	header := HeaderV3{}
	jsonResult := make(map[string]interface{})
	for i := 0; i < len(mbtilesMetadata); i += 2 {
		value := mbtilesMetadata[i+1]
		switch key := mbtilesMetadata[i]; key {
		case "format":
			switch value {
			case "pbf":
				header.TileType = Mvt
			case "png":
				header.TileType = Png
			case "jpg":
				header.TileType = Jpeg
			case "webp":
				header.TileType = Webp
			}
			jsonResult["format"] = value
		case "bounds":
			parts := strings.Split(value, ",")
			if len(parts) != 4 {
				return header, jsonResult, fmt.Errorf("%w: bounds must have 4 components", ErrInvalidDirectory)
			}
			bounds := make([]float64, 4)
			for i, part := range parts {
				f, err := strconv.ParseFloat(part, 64)
				if err != nil {
					return header, jsonResult, err
				}
				bounds[i] = f
			}
			header.MinLonE7 = int32(bounds[0] * 1e7)
			header.MinLatE7 = int32(bounds[1] * 1e7)
			header.MaxLonE7 = int32(bounds[2] * 1e7)
			header.MaxLatE7 = int32(bounds[3] * 1e7)
		case "center":
			parts := strings.Split(value, ",")
			if len(parts) != 3 {
				return header, jsonResult, fmt.Errorf("%w: center must have 3 components", ErrInvalidDirectory)
			}
			lon, err := strconv.ParseFloat(parts[0], 64)
			if err != nil {
				return header, jsonResult, err
			}
			lat, err := strconv.ParseFloat(parts[1], 64)
			if err != nil {
				return header, jsonResult, err
			}
			zoom, err := strconv.ParseInt(parts[2], 10, 8)
			if err != nil {
				return header, jsonResult, err
			}
			header.CenterLonE7 = int32(lon * 1e7)
			header.CenterLatE7 = int32(lat * 1e7)
			header.CenterZoom = uint8(zoom)
		case "minzoom":
			i, err := strconv.ParseInt(value, 10, 8)
			if err != nil {
				return header, jsonResult, err
			}
			header.MinZoom = uint8(i)
		case "maxzoom":
			i, err := strconv.ParseInt(value, 10, 8)
			if err != nil {
				return header, jsonResult, err
			}
			header.MaxZoom = uint8(i)
		case "json":
			parsed, err := DeserializeMetadata(strings.NewReader(value), NoCompression)
			if err != nil {
				return header, jsonResult, err
			}
			for k, v := range parsed {
				jsonResult[k] = v
			}
		case "compression":
			if value == "gzip" {
				header.TileCompression = Gzip
			}
			jsonResult["compression"] = value
		default:
			// name, attribution, description, type, version
			jsonResult[key] = value
		}
	}
	return header, jsonResult, nil
}
