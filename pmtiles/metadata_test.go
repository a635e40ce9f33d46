package pmtiles

import (
	"bytes"
	"testing"
)

func TestSerializeDeserializeMetadataRoundtrip(t *testing.T) {
	metadata := map[string]interface{}{
		"name":        "test archive",
		"description": "a test fixture",
		"vector_layers": []interface{}{
			map[string]interface{}{"id": "layer1"},
		},
	}
	serialized, err := SerializeMetadata(metadata, Gzip)
	if err != nil {
		t.Fatalf("SerializeMetadata: %v", err)
	}
	result, err := DeserializeMetadata(bytes.NewReader(serialized), Gzip)
	if err != nil {
		t.Fatalf("DeserializeMetadata: %v", err)
	}
	if result["name"] != "test archive" {
		t.Fatalf("expected name field to roundtrip, got %v", result["name"])
	}
}

func TestSerializeMetadataNilDefaultsToEmptyObject(t *testing.T) {
	serialized, err := SerializeMetadata(nil, NoCompression)
	if err != nil {
		t.Fatalf("SerializeMetadata: %v", err)
	}
	result, err := DeserializeMetadata(bytes.NewReader(serialized), NoCompression)
	if err != nil {
		t.Fatalf("DeserializeMetadata: %v", err)
	}
	if len(result) != 0 {
		t.Fatalf("expected an empty object, got %v", result)
	}
}

func TestDeserializeMetadataRejectsNonObject(t *testing.T) {
	serialized, err := compress(Gzip, []byte(`["not", "an", "object"]`))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	_, err = DeserializeMetadata(bytes.NewReader(serialized), Gzip)
	if err == nil {
		t.Fatalf("expected an error for a non-object metadata payload")
	}
}

func TestDeserializeMetadataRejectsInvalidJSON(t *testing.T) {
	serialized, err := compress(Gzip, []byte(`not json at all`))
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	_, err = DeserializeMetadata(bytes.NewReader(serialized), Gzip)
	if err == nil {
		t.Fatalf("expected an error for invalid JSON")
	}
}
