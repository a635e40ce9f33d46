package pmtiles

import (
	"bytes"
	"os"
	"testing"
)

// markUnclustered flips the Clustered byte of an on-disk archive's header to
// false, simulating an archive assembled by some means other than Writer
// (which always produces clustered output) so Cluster has something to do.
func markUnclustered(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteAt([]byte{0x0}, 96); err != nil {
		t.Fatalf("patch clustered flag: %v", err)
	}
}

func TestClusterRejectsAlreadyClustered(t *testing.T) {
	path := writeFixtureArchive(t, "already-clustered")
	if err := Cluster(logger, path, true); err == nil {
		t.Fatalf("expected an error clustering an archive already marked clustered")
	}
}

func TestClusterRewritesArchive(t *testing.T) {
	path := writeFixtureArchive(t, "to-cluster")
	markUnclustered(t, path)

	if err := Cluster(logger, path, true); err != nil {
		t.Fatalf("Cluster: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading clustered archive: %v", err)
	}
	archive, err := FromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if !archive.Header.Clustered {
		t.Fatalf("expected rewritten archive to be marked clustered")
	}

	got, ok, err := archive.GetTile(1, 1, 1)
	if err != nil || !ok || !bytes.Equal(got, []byte("tile 1,1,1")) {
		t.Fatalf("expected tile 1,1,1 to survive clustering, got %q ok=%v err=%v", got, ok, err)
	}
	got, ok, err = archive.GetTile(0, 0, 0)
	if err != nil || !ok || !bytes.Equal(got, []byte("root tile payload")) {
		t.Fatalf("expected root tile to survive clustering, got %q ok=%v err=%v", got, ok, err)
	}
}
