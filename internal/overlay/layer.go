// Package overlay holds the vector layer that country boundaries are merged into.
package overlay

import (
	"context"
	"sync"

	"github.com/MeKo-Tech/countrymap/internal/geojson"
	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/paulmach/orb"
	orbgeojson "github.com/paulmach/orb/geojson"
)

// Layer is a vector layer of GeoJSON features drawn above the basemap. It starts
// empty; features are appended by Merge and are never removed.
type Layer struct {
	name     string
	mu       sync.RWMutex
	features []*orbgeojson.Feature
	keys     map[string]struct{}
	viewport types.Viewport
	attached bool
}

// MergeStats reports what a Merge call did.
type MergeStats struct {
	Added      int
	Duplicates int
	Skipped    int // nil features
}

// New creates an empty overlay layer.
func New(name string) *Layer {
	return &Layer{
		name: name,
		keys: make(map[string]struct{}),
	}
}

// LayerName implements mapview.Layer.
func (l *Layer) LayerName() string {
	return l.name
}

// ViewportChanged implements mapview.Layer. Vector features need no fetching, so
// the layer only records the viewport and marks itself attached.
func (l *Layer) ViewportChanged(_ context.Context, v types.Viewport) {
	l.mu.Lock()
	l.viewport = v
	l.attached = true
	l.mu.Unlock()
}

// Attached reports whether the layer has been added to a map.
func (l *Layer) Attached() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.attached
}

// Merge appends the collection's features, skipping features whose identity was
// already present before this call. Features inside one collection are never
// collapsed, so a collection of N features adds N features on the first load.
func (l *Layer) Merge(fc *orbgeojson.FeatureCollection) MergeStats {
	var stats MergeStats
	if fc == nil {
		return stats
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Keys seen in this collection are recorded after the loop.
	added := make([]string, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			stats.Skipped++
			continue
		}
		key := geojson.FeatureKey(f)
		if _, dup := l.keys[key]; dup {
			stats.Duplicates++
			continue
		}
		added = append(added, key)
		l.features = append(l.features, f)
		stats.Added++
	}
	for _, key := range added {
		l.keys[key] = struct{}{}
	}

	return stats
}

// Len returns the number of features on the layer.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.features)
}

// Features returns a snapshot of the layer's features in merge order.
func (l *Layer) Features() []*orbgeojson.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*orbgeojson.Feature, len(l.features))
	copy(out, l.features)
	return out
}

// Visible returns the features whose bounds intersect the last viewport the layer
// was told about.
func (l *Layer) Visible() []*orbgeojson.Feature {
	l.mu.RLock()
	defer l.mu.RUnlock()

	vb := l.viewport.Bounds()
	view := orb.Bound{
		Min: orb.Point{vb.MinLon, vb.MinLat},
		Max: orb.Point{vb.MaxLon, vb.MaxLat},
	}

	var out []*orbgeojson.Feature
	for _, f := range l.features {
		if f.Geometry == nil {
			continue
		}
		if f.Geometry.Bound().Intersects(view) {
			out = append(out, f)
		}
	}
	return out
}

// Bounds returns the union of all feature bounds, and false when the layer is empty.
func (l *Layer) Bounds() (types.BoundingBox, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var b orb.Bound
	found := false
	for _, f := range l.features {
		if f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if !found {
			b = fb
			found = true
			continue
		}
		b = b.Union(fb)
	}
	if !found {
		return types.BoundingBox{}, false
	}

	return types.BoundingBox{
		MinLon: b.Min.Lon(),
		MinLat: b.Min.Lat(),
		MaxLon: b.Max.Lon(),
		MaxLat: b.Max.Lat(),
	}, true
}
