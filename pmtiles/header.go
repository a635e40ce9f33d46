package pmtiles

import (
	"encoding/binary"
	"fmt"
)

// Compression is the compression algorithm applied to a section of the archive.
type Compression uint8

const (
	UnknownCompression Compression = 0
	NoCompression       Compression = 1
	Gzip                Compression = 2
	Brotli              Compression = 3
	Zstd                Compression = 4
)

func (c Compression) String() string {
	switch c {
	case NoCompression:
		return "none"
	case Gzip:
		return "gzip"
	case Brotli:
		return "brotli"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

func stringToCompression(s string) Compression {
	switch s {
	case "none":
		return NoCompression
	case "gzip":
		return Gzip
	case "brotli":
		return Brotli
	case "zstd":
		return Zstd
	default:
		return UnknownCompression
	}
}

// TileType is the format of individual tile contents in the archive.
type TileType uint8

const (
	UnknownTileType TileType = 0
	Mvt              TileType = 1
	Png              TileType = 2
	Jpeg             TileType = 3
	Webp             TileType = 4
	Avif             TileType = 5
)

func (t TileType) String() string {
	switch t {
	case Mvt:
		return "mvt"
	case Png:
		return "png"
	case Jpeg:
		return "jpg"
	case Webp:
		return "webp"
	case Avif:
		return "avif"
	default:
		return "unknown"
	}
}

func stringToTileType(s string) TileType {
	switch s {
	case "mvt":
		return Mvt
	case "png":
		return Png
	case "jpg", "jpeg":
		return Jpeg
	case "webp":
		return Webp
	case "avif":
		return Avif
	default:
		return UnknownTileType
	}
}

// HeaderV3LenBytes is the fixed-size binary header length.
const HeaderV3LenBytes = 127

// HeaderV3 is the fixed 127-byte binary header of a PMTiles spec version 3 archive.
type HeaderV3 struct {
	SpecVersion         uint8
	RootOffset          uint64
	RootLength          uint64
	MetadataOffset      uint64
	MetadataLength      uint64
	LeafDirectoryOffset uint64
	LeafDirectoryLength uint64
	TileDataOffset      uint64
	TileDataLength      uint64
	AddressedTilesCount uint64
	TileEntriesCount    uint64
	TileContentsCount   uint64
	Clustered           bool
	InternalCompression Compression
	TileCompression     Compression
	TileType            TileType
	MinZoom             uint8
	MaxZoom             uint8
	MinLonE7            int32
	MinLatE7            int32
	MaxLonE7            int32
	MaxLatE7            int32
	CenterZoom          uint8
	CenterLonE7         int32
	CenterLatE7         int32
}

// HeaderJSON is the human-editable JSON view of a subset of HeaderV3 fields,
// used by the edit CLI command to rewrite header fields in place.
type HeaderJSON struct {
	TileType        string    `json:"tile_type"`
	TileCompression string    `json:"tile_compression"`
	MinZoom         int       `json:"min_zoom"`
	MaxZoom         int       `json:"max_zoom"`
	Bounds          []float64 `json:"bounds"`
	Center          []float64 `json:"center"`
}

func headerContentType(header HeaderV3) (string, bool) {
	switch header.TileType {
	case Mvt:
		return "application/x-protobuf", true
	case Png:
		return "image/png", true
	case Jpeg:
		return "image/jpeg", true
	case Webp:
		return "image/webp", true
	case Avif:
		return "image/avif", true
	default:
		return "", false
	}
}

func headerExt(header HeaderV3) string {
	switch header.TileType {
	case Mvt:
		return ".mvt"
	case Png:
		return ".png"
	case Jpeg:
		return ".jpg"
	case Webp:
		return ".webp"
	case Avif:
		return ".avif"
	default:
		return ""
	}
}

func headerContentEncoding(compression Compression) (string, bool) {
	switch compression {
	case Gzip:
		return "gzip", true
	case Brotli:
		return "br", true
	default:
		return "", false
	}
}

func serializeHeader(header HeaderV3) []byte {
	b := make([]byte, HeaderV3LenBytes)
	copy(b[0:7], "PMTiles")

	b[7] = 3
	binary.LittleEndian.PutUint64(b[8:8+8], header.RootOffset)
	binary.LittleEndian.PutUint64(b[16:16+8], header.RootLength)
	binary.LittleEndian.PutUint64(b[24:24+8], header.MetadataOffset)
	binary.LittleEndian.PutUint64(b[32:32+8], header.MetadataLength)
	binary.LittleEndian.PutUint64(b[40:40+8], header.LeafDirectoryOffset)
	binary.LittleEndian.PutUint64(b[48:48+8], header.LeafDirectoryLength)
	binary.LittleEndian.PutUint64(b[56:56+8], header.TileDataOffset)
	binary.LittleEndian.PutUint64(b[64:64+8], header.TileDataLength)
	binary.LittleEndian.PutUint64(b[72:72+8], header.AddressedTilesCount)
	binary.LittleEndian.PutUint64(b[80:80+8], header.TileEntriesCount)
	binary.LittleEndian.PutUint64(b[88:88+8], header.TileContentsCount)
	if header.Clustered {
		b[96] = 0x1
	}
	b[97] = uint8(header.InternalCompression)
	b[98] = uint8(header.TileCompression)
	b[99] = uint8(header.TileType)
	b[100] = header.MinZoom
	b[101] = header.MaxZoom
	binary.LittleEndian.PutUint32(b[102:102+4], uint32(header.MinLonE7))
	binary.LittleEndian.PutUint32(b[106:106+4], uint32(header.MinLatE7))
	binary.LittleEndian.PutUint32(b[110:110+4], uint32(header.MaxLonE7))
	binary.LittleEndian.PutUint32(b[114:114+4], uint32(header.MaxLatE7))
	b[118] = header.CenterZoom
	binary.LittleEndian.PutUint32(b[119:119+4], uint32(header.CenterLonE7))
	binary.LittleEndian.PutUint32(b[123:123+4], uint32(header.CenterLatE7))
	return b
}

func deserializeHeader(d []byte) (HeaderV3, error) {
	h := HeaderV3{}
	if len(d) < HeaderV3LenBytes {
		return h, fmt.Errorf("%w: header too short", ErrInvalidMagic)
	}
	magicNumber := d[0:7]
	if string(magicNumber) != "PMTiles" {
		return h, ErrInvalidMagic
	}

	specVersion := d[7]
	if specVersion != uint8(3) {
		return h, fmt.Errorf("%w: spec version %d", ErrUnsupportedVersion, specVersion)
	}

	h.SpecVersion = specVersion
	h.RootOffset = binary.LittleEndian.Uint64(d[8 : 8+8])
	h.RootLength = binary.LittleEndian.Uint64(d[16 : 16+8])
	h.MetadataOffset = binary.LittleEndian.Uint64(d[24 : 24+8])
	h.MetadataLength = binary.LittleEndian.Uint64(d[32 : 32+8])
	h.LeafDirectoryOffset = binary.LittleEndian.Uint64(d[40 : 40+8])
	h.LeafDirectoryLength = binary.LittleEndian.Uint64(d[48 : 48+8])
	h.TileDataOffset = binary.LittleEndian.Uint64(d[56 : 56+8])
	h.TileDataLength = binary.LittleEndian.Uint64(d[64 : 64+8])
	h.AddressedTilesCount = binary.LittleEndian.Uint64(d[72 : 72+8])
	h.TileEntriesCount = binary.LittleEndian.Uint64(d[80 : 80+8])
	h.TileContentsCount = binary.LittleEndian.Uint64(d[88 : 88+8])
	h.Clustered = (d[96] == 0x1)
	h.InternalCompression = Compression(d[97])
	h.TileCompression = Compression(d[98])
	h.TileType = TileType(d[99])
	h.MinZoom = d[100]
	h.MaxZoom = d[101]
	h.MinLonE7 = int32(binary.LittleEndian.Uint32(d[102 : 102+4]))
	h.MinLatE7 = int32(binary.LittleEndian.Uint32(d[106 : 106+4]))
	h.MaxLonE7 = int32(binary.LittleEndian.Uint32(d[110 : 110+4]))
	h.MaxLatE7 = int32(binary.LittleEndian.Uint32(d[114 : 114+4]))
	h.CenterZoom = d[118]
	h.CenterLonE7 = int32(binary.LittleEndian.Uint32(d[119 : 119+4]))
	h.CenterLatE7 = int32(binary.LittleEndian.Uint32(d[123 : 123+4]))

	return h, nil
}
