package pmtiles

import "testing"

func TestVerifyAcceptsWellFormedArchive(t *testing.T) {
	path := writeFixtureArchive(t, "verify-ok")
	if err := Verify(logger, path); err != nil {
		t.Fatalf("expected a well-formed archive to verify cleanly, got %v", err)
	}
}

func TestVerifyRejectsTruncatedFile(t *testing.T) {
	path := writeFixtureArchive(t, "verify-truncated")
	if err := truncateFile(t, path, 64); err != nil {
		t.Fatalf("truncateFile: %v", err)
	}
	if err := Verify(logger, path); err == nil {
		t.Fatalf("expected an error verifying a truncated archive")
	}
}
