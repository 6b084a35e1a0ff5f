package types

import (
	"fmt"
	"math"
)

// DefaultTileSize is the edge length of a raster tile in pixels.
const DefaultTileSize = 256

// MaxLatitude is the northern edge of the Web Mercator world square.
const MaxLatitude = 85.0511287798

// LatLng is a WGS84 coordinate in degrees.
type LatLng struct {
	Lat float64
	Lng float64
}

// String returns "lat,lng" with six decimals.
func (ll LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", ll.Lat, ll.Lng)
}

// BoundingBox represents a geographic bounding box in WGS84 (EPSG:4326)
type BoundingBox struct {
	MinLon float64 // Western edge (degrees)
	MinLat float64 // Southern edge (degrees)
	MaxLon float64 // Eastern edge (degrees)
	MaxLat float64 // Northern edge (degrees)
}

// String returns a human-readable representation of the bounding box
func (b BoundingBox) String() string {
	return fmt.Sprintf("bbox(%.6f,%.6f,%.6f,%.6f)", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

// Center returns the center point of the bounding box
func (b BoundingBox) Center() LatLng {
	return LatLng{Lat: (b.MinLat + b.MaxLat) / 2, Lng: (b.MinLon + b.MaxLon) / 2}
}

// Contains reports whether the point lies inside the box, edges included.
func (b BoundingBox) Contains(ll LatLng) bool {
	return ll.Lat >= b.MinLat && ll.Lat <= b.MaxLat && ll.Lng >= b.MinLon && ll.Lng <= b.MaxLon
}

// Array returns [minLon, minLat, maxLon, maxLat], the order used by tile.TilesInBBox.
func (b BoundingBox) Array() [4]float64 {
	return [4]float64{b.MinLon, b.MinLat, b.MaxLon, b.MaxLat}
}

// Viewport is the visible extent of a map: a center, a zoom, and the pixel size of
// the container it is drawn into.
type Viewport struct {
	Center   LatLng
	Zoom     int
	Width    int
	Height   int
	TileSize int
}

func (v Viewport) tileSize() int {
	if v.TileSize <= 0 {
		return DefaultTileSize
	}
	return v.TileSize
}

// worldSize is the edge length of the world square in pixels at the viewport zoom.
func (v Viewport) worldSize() float64 {
	return math.Exp2(float64(v.Zoom)) * float64(v.tileSize())
}

// Project maps a coordinate to global pixel space at the viewport zoom.
func (v Viewport) Project(ll LatLng) (x, y float64) {
	size := v.worldSize()
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, ll.Lat))

	x = (ll.Lng + 180.0) / 360.0 * size

	latRad := lat * math.Pi / 180.0
	mercY := math.Log(math.Tan(math.Pi/4.0 + latRad/2.0))
	y = (1.0 - mercY/math.Pi) / 2.0 * size

	return x, y
}

// Unproject maps a global pixel position back to a coordinate.
func (v Viewport) Unproject(x, y float64) LatLng {
	size := v.worldSize()
	lng := x/size*360.0 - 180.0
	n := math.Pi * (1 - 2*y/size)
	lat := 180.0 / math.Pi * math.Atan(math.Sinh(n))
	return LatLng{Lat: lat, Lng: lng}
}

// Origin returns the global pixel position of the container's top-left corner.
func (v Viewport) Origin() (x, y float64) {
	cx, cy := v.Project(v.Center)
	return cx - float64(v.Width)/2, cy - float64(v.Height)/2
}

// LocalPixel maps a coordinate to pixel coordinates inside the container.
func (v Viewport) LocalPixel(ll LatLng) (x, y float64) {
	gx, gy := v.Project(ll)
	ox, oy := v.Origin()
	return gx - ox, gy - oy
}

// Bounds returns the geographic extent covered by the container. Latitudes are
// clamped to the Web Mercator range.
func (v Viewport) Bounds() BoundingBox {
	ox, oy := v.Origin()
	nw := v.Unproject(ox, oy)
	se := v.Unproject(ox+float64(v.Width), oy+float64(v.Height))

	return BoundingBox{
		MinLon: nw.Lng,
		MinLat: math.Max(se.Lat, -MaxLatitude),
		MaxLon: se.Lng,
		MaxLat: math.Min(nw.Lat, MaxLatitude),
	}
}

// String returns a compact description used in log lines.
func (v Viewport) String() string {
	return fmt.Sprintf("%s@z%d[%dx%d]", v.Center, v.Zoom, v.Width, v.Height)
}
