// Package geojson decodes and encodes the overlay's GeoJSON documents and
// defines feature identity for de-duplicating merges.
package geojson

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Decode parses a GeoJSON FeatureCollection. The document is decoded completely
// before it is returned, so a failure never yields a partial collection.
func Decode(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode feature collection: %w", err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("failed to decode feature collection: unexpected type %q", fc.Type)
	}
	return fc, nil
}

// Encode renders features as an indented FeatureCollection document.
func Encode(features []*geojson.Feature) ([]byte, error) {
	fc := geojson.NewFeatureCollection()
	for _, f := range features {
		if f == nil {
			continue
		}
		fc.Append(f)
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}

	return data, nil
}

// FeatureKey returns the identity of a feature. A GeoJSON "id" member wins, then an
// "id" property; features without either are identified by a digest of their
// geometry and properties.
func FeatureKey(f *geojson.Feature) string {
	if f == nil {
		return ""
	}
	if f.ID != nil {
		return fmt.Sprintf("id:%T:%v", f.ID, f.ID)
	}
	if id, ok := f.Properties["id"]; ok && id != nil {
		return fmt.Sprintf("prop:%T:%v", id, id)
	}
	return "sha256:" + contentDigest(f)
}

func contentDigest(f *geojson.Feature) string {
	h := sha256.New()

	if f.Geometry != nil {
		geom, err := json.Marshal(geojson.NewGeometry(f.Geometry))
		if err == nil {
			h.Write(geom)
		}
	}
	h.Write([]byte{0})

	// encoding/json sorts map keys, which keeps the digest stable.
	props, err := json.Marshal(f.Properties)
	if err == nil {
		h.Write(props)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// GeometryCounts tallies features by GeoJSON geometry type.
func GeometryCounts(features []*geojson.Feature) map[string]int {
	counts := make(map[string]int)
	for _, f := range features {
		if f == nil || f.Geometry == nil {
			counts["null"]++
			continue
		}
		counts[f.Geometry.GeoJSONType()]++
	}
	return counts
}

// Summary formats GeometryCounts as "Point: 1, Polygon: 3 (Total: 4)".
func Summary(features []*geojson.Feature) string {
	counts := GeometryCounts(features)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return fmt.Sprintf("%s (Total: %d)", strings.Join(parts, ", "), len(features))
}
