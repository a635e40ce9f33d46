package pmtiles

import "errors"

// Sentinel errors for the conditions spec.md requires callers to be able to
// distinguish with errors.Is. Wrapping errors built with fmt.Errorf("...: %w", ...)
// should chain back to one of these where the cause matches.
var (
	// ErrInvalidMagic is returned when a byte stream does not begin with the "PMTiles" magic number.
	ErrInvalidMagic = errors.New("pmtiles: invalid magic number")
	// ErrUnsupportedVersion is returned for an archive whose spec_version is not 3.
	ErrUnsupportedVersion = errors.New("pmtiles: unsupported spec version")
	// ErrInvalidCoordinate is returned for a Z/X/Y triple outside the valid range for its zoom level.
	ErrInvalidCoordinate = errors.New("pmtiles: invalid tile coordinate")
	// ErrInvalidTileID names a tile ID that does not correspond to any valid Z/X/Y triple.
	// No function in this package returns it: IDToZxy has no error result.
	ErrInvalidTileID = errors.New("pmtiles: invalid tile id")
	// ErrEmptyTile is returned when AddTile is called with zero-length data.
	ErrEmptyTile = errors.New("pmtiles: tile data must not be empty")
	// ErrInvalidDirectory is returned when a serialized directory fails to decode or violates ordering.
	ErrInvalidDirectory = errors.New("pmtiles: invalid directory")
	// ErrMetadataNotObject is returned when the metadata section does not decode to a JSON object.
	ErrMetadataNotObject = errors.New("pmtiles: metadata must be a JSON object")
	// ErrUnsupportedCompression is returned for a Compression value this build cannot (de)code.
	ErrUnsupportedCompression = errors.New("pmtiles: unsupported compression")
	// ErrCompressionFailure wraps an underlying codec error during compress/decompress.
	ErrCompressionFailure = errors.New("pmtiles: compression failure")
	// ErrIO wraps an underlying I/O error encountered reading or writing an archive.
	ErrIO = errors.New("pmtiles: i/o failure")
)
