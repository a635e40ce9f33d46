package pmtiles

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
)

// logger is a shared discard logger for package tests that exercise
// functions requiring a *log.Logger but don't care about its output.
var logger = log.New(io.Discard, "", 0)

// truncateFile shrinks the file at path to n bytes, used to build
// deliberately corrupt archives for error-path tests.
func truncateFile(t *testing.T, path string, n int64) error {
	t.Helper()
	return os.Truncate(path, n)
}

// writeFixtureArchive builds a small, valid PMTiles v3 archive via Writer
// and writes it to name+".pmtiles" under t.TempDir(), returning the path.
// Tests use this instead of a checked-in binary fixture so the whole suite
// is self-contained.
func writeFixtureArchive(t *testing.T, name string) string {
	t.Helper()
	w := NewWriter(Mvt, Gzip)
	w.MinZoom = 0
	w.MaxZoom = 2
	w.MinLonE7 = -180 * 1e7
	w.MinLatE7 = -85 * 1e7
	w.MaxLonE7 = 180 * 1e7
	w.MaxLatE7 = 85 * 1e7

	tiles := []struct {
		z    uint8
		x, y uint32
		data string
	}{
		{0, 0, 0, "root tile payload"},
		{1, 0, 0, "tile 1,0,0"},
		{1, 1, 1, "tile 1,1,1"},
		{2, 2, 2, "tile 2,2,2"},
	}
	for _, tile := range tiles {
		id := ZxyToID(tile.z, tile.x, tile.y)
		if err := w.AddTile(id, []byte(tile.data)); err != nil {
			t.Fatalf("AddTile: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), name+".pmtiles")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture file: %v", err)
	}
	defer f.Close()

	metadata := map[string]interface{}{"name": "fixture", "description": "synthetic test archive"}
	if _, err := w.ToWriter(f, metadata); err != nil {
		t.Fatalf("ToWriter: %v", err)
	}
	return path
}

func makeFixtureCopy(t *testing.T, name string) string {
	return writeFixtureArchive(t, name)
}
