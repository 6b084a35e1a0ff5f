// Package mapview binds a map to a container on the rendering surface and keeps
// the attached layers informed about the viewport.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/MeKo-Tech/countrymap/internal/types"
)

// ErrContainerMissing is returned when the document has no container with the
// requested id. The map cannot be created without one.
var ErrContainerMissing = errors.New("map container not found")

// Layer is anything drawn inside a MapView. ViewportChanged is called once when the
// layer is added and again after every pan or zoom, in attach order.
type Layer interface {
	LayerName() string
	ViewportChanged(ctx context.Context, v types.Viewport)
}

// Options tune a MapView. Zero values fall back to the defaults of a world map.
// MinZoom and MaxZoom are used as given only when ZoomRangeSet is true, so a
// single-level range such as [0,0] can be expressed.
type Options struct {
	MinZoom      int
	MaxZoom      int
	ZoomRangeSet bool
	TileSize     int
	Logger       *slog.Logger
}

// MapView is a map bound to one container. It is safe for concurrent use.
type MapView struct {
	container Container
	logger    *slog.Logger
	minZoom   int
	maxZoom   int
	tileSize  int

	mu     sync.RWMutex
	center types.LatLng
	zoom   int
	layers []Layer
}

// New binds a map to the container with the given id, centered at center with
// the initial zoom. The zoom is clamped to the options' range.
func New(doc *Document, containerID string, center types.LatLng, zoom int, opts Options) (*MapView, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: %q (no document)", ErrContainerMissing, containerID)
	}
	c, ok := doc.Lookup(containerID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrContainerMissing, containerID)
	}
	if math.IsNaN(center.Lat) || math.IsNaN(center.Lng) {
		return nil, fmt.Errorf("invalid map center %s", center)
	}

	if !opts.ZoomRangeSet && opts.MaxZoom <= 0 {
		opts.MaxZoom = 18
	}
	if opts.MinZoom < 0 {
		opts.MinZoom = 0
	}
	if opts.MinZoom > opts.MaxZoom {
		return nil, fmt.Errorf("invalid zoom range [%d,%d]", opts.MinZoom, opts.MaxZoom)
	}
	if opts.TileSize <= 0 {
		opts.TileSize = types.DefaultTileSize
	}

	m := &MapView{
		container: c,
		logger:    opts.Logger,
		minZoom:   opts.MinZoom,
		maxZoom:   opts.MaxZoom,
		tileSize:  opts.TileSize,
		center:    center,
	}
	m.zoom = m.clampZoom(zoom)

	m.log().Debug("map view created",
		"container", c.ID,
		"center", center.String(),
		"zoom", m.zoom,
		"width", c.Width,
		"height", c.Height,
	)

	return m, nil
}

// Container returns the container the map is bound to.
func (m *MapView) Container() Container {
	return m.container
}

// Center returns the current map center.
func (m *MapView) Center() types.LatLng {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.center
}

// Zoom returns the current zoom level.
func (m *MapView) Zoom() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zoom
}

// Viewport returns the current visible extent.
func (m *MapView) Viewport() types.Viewport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.viewportLocked()
}

func (m *MapView) viewportLocked() types.Viewport {
	return types.Viewport{
		Center:   m.center,
		Zoom:     m.zoom,
		Width:    m.container.Width,
		Height:   m.container.Height,
		TileSize: m.tileSize,
	}
}

// Layers returns the attached layers in attach order.
func (m *MapView) Layers() []Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Layer, len(m.layers))
	copy(out, m.layers)
	return out
}

// AddLayer attaches a layer and immediately tells it the current viewport.
// Adding the same layer twice is a no-op.
func (m *MapView) AddLayer(ctx context.Context, l Layer) {
	m.mu.Lock()
	for _, existing := range m.layers {
		if existing == l {
			m.mu.Unlock()
			return
		}
	}
	m.layers = append(m.layers, l)
	v := m.viewportLocked()
	m.mu.Unlock()

	m.log().Debug("layer added", "layer", l.LayerName(), "viewport", v.String())
	l.ViewportChanged(ctx, v)
}

// SetView moves the map to center at zoom (clamped) and notifies every layer.
func (m *MapView) SetView(ctx context.Context, center types.LatLng, zoom int) types.Viewport {
	m.mu.Lock()
	m.center = center
	m.zoom = m.clampZoom(zoom)
	v := m.viewportLocked()
	layers := make([]Layer, len(m.layers))
	copy(layers, m.layers)
	m.mu.Unlock()

	m.log().Debug("viewport changed", "viewport", v.String())
	for _, l := range layers {
		l.ViewportChanged(ctx, v)
	}
	return v
}

// ZoomTo keeps the center and changes the zoom.
func (m *MapView) ZoomTo(ctx context.Context, zoom int) types.Viewport {
	return m.SetView(ctx, m.Center(), zoom)
}

// PanBy shifts the map by a pixel offset, the way a drag does.
func (m *MapView) PanBy(ctx context.Context, dx, dy float64) types.Viewport {
	v := m.Viewport()
	x, y := v.Project(v.Center)
	center := v.Unproject(x+dx, y+dy)

	// Keep longitudes in [-180,180) after dragging across the antimeridian.
	center.Lng = math.Mod(center.Lng+540, 360) - 180
	center.Lat = math.Max(-types.MaxLatitude, math.Min(types.MaxLatitude, center.Lat))

	return m.SetView(ctx, center, v.Zoom)
}

func (m *MapView) clampZoom(z int) int {
	if z < m.minZoom {
		return m.minZoom
	}
	if z > m.maxZoom {
		return m.maxZoom
	}
	return z
}

func (m *MapView) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}
