package pmtiles

import (
	"encoding/json"
	"fmt"
	"io"
)

// SerializeMetadata JSON-encodes metadata and compresses it with c, the
// on-disk form stored between the root directory and the leaf directories.
// metadata defaults to an empty JSON object when nil, matching the original
// reference writer's default of `json!({})` for an archive built with no
// metadata supplied.
func SerializeMetadata(metadata map[string]interface{}, c Compression) ([]byte, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return compress(c, raw)
}

// DeserializeMetadata decompresses and decodes a metadata section, rejecting
// anything that is not a JSON object per spec.
func DeserializeMetadata(r io.Reader, c Compression) (map[string]interface{}, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	decompressed, err := decompress(c, raw)
	if err != nil {
		return nil, err
	}

	var asObject map[string]interface{}
	if err := json.Unmarshal(decompressed, &asObject); err != nil {
		var asOther interface{}
		if jsonErr := json.Unmarshal(decompressed, &asOther); jsonErr == nil {
			return nil, ErrMetadataNotObject
		}
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return asObject, nil
}
