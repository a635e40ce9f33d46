package pmtiles

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// CreateTilejson builds a TileJSON 3.0.0 document for an archive, given its
// header, raw (decompressed) metadata bytes, and the fully-qualified tile
// endpoint URL clients should substitute {z}/{x}/{y} into.
func CreateTilejson(header HeaderV3, metadataBytes []byte, tileURL string) ([]byte, error) {
	var metadata map[string]interface{}
	if len(metadataBytes) > 0 {
		if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMetadataNotObject, err)
		}
	}

	bound := orb.Bound{
		Min: orb.Point{float64(header.MinLonE7) / 1e7, float64(header.MinLatE7) / 1e7},
		Max: orb.Point{float64(header.MaxLonE7) / 1e7, float64(header.MaxLatE7) / 1e7},
	}

	result := map[string]interface{}{
		"tilejson": "3.0.0",
		"scheme":   "xyz",
		"tiles":    []string{tileURL + "/{z}/{x}/{y}" + headerExt(header)},
		"minzoom":  header.MinZoom,
		"maxzoom":  header.MaxZoom,
		"bounds":   []float64{bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1]},
		"center": []float64{
			float64(header.CenterLonE7) / 1e7,
			float64(header.CenterLatE7) / 1e7,
			float64(header.CenterZoom),
		},
	}

	for _, key := range []string{"vector_layers", "attribution", "description", "name", "version"} {
		if v, ok := metadata[key]; ok {
			result[key] = v
		}
	}

	return json.Marshal(result)
}
