package tile

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level a Coords can address.
const MaxZoom = 18

// Coords represents a tile coordinate in the Web Mercator tile system (z/x/y)
type Coords struct {
	Z uint32 // Zoom level (0-18)
	X uint32 // X coordinate (column)
	Y uint32 // Y coordinate (row)
}

// String returns the tile coordinate as a string in format "z{zoom}_x{x}_y{y}"
func (c Coords) String() string {
	return fmt.Sprintf("z%d_x%d_y%d", c.Z, c.X, c.Y)
}

// Valid reports whether x and y address a tile that exists at zoom z.
func (c Coords) Valid() bool {
	if c.Z > MaxZoom {
		return false
	}
	n := uint32(1) << c.Z
	return c.X < n && c.Y < n
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bounds returns the geographic bounding box for this tile in WGS84 (EPSG:4326)
func (c Coords) Bounds() types.BoundingBox {
	bound := c.Tile().Bound()

	return types.BoundingBox{
		MinLon: bound.Min.Lon(),
		MinLat: bound.Min.Lat(),
		MaxLon: bound.Max.Lon(),
		MaxLat: bound.Max.Lat(),
	}
}

// Center returns the center point of the tile in WGS84
func (c Coords) Center() types.LatLng {
	return c.Bounds().Center()
}

// NewCoords creates a new Coords from zoom, x, y values
func NewCoords(z, x, y uint32) Coords {
	return Coords{Z: z, X: x, Y: y}
}

// ParseCoords parses a tile string like "z13_x4297_y2754" into Coords
func ParseCoords(s string) (Coords, error) {
	var c Coords
	_, err := fmt.Sscanf(s, "z%d_x%d_y%d", &c.Z, &c.X, &c.Y)
	if err != nil {
		return c, fmt.Errorf("invalid tile coordinate format: %s", s)
	}
	return c, nil
}

// Covering returns the tiles that intersect the viewport, row by row from the
// north-west corner. Columns wrap around the antimeridian and rows outside the
// world square are dropped, so every returned Coords is Valid and unique.
func Covering(v types.Viewport) []Coords {
	if v.Zoom < 0 || v.Zoom > MaxZoom || v.Width <= 0 || v.Height <= 0 {
		return nil
	}

	size := float64(v.TileSize)
	if size <= 0 {
		size = types.DefaultTileSize
	}

	ox, oy := v.Origin()
	minX := int64(math.Floor(ox / size))
	maxX := int64(math.Floor((ox + float64(v.Width) - 1) / size))
	minY := int64(math.Floor(oy / size))
	maxY := int64(math.Floor((oy + float64(v.Height) - 1) / size))

	n := int64(1) << uint(v.Zoom)
	if minY < 0 {
		minY = 0
	}
	if maxY > n-1 {
		maxY = n - 1
	}

	seen := make(map[Coords]struct{})
	var tiles []Coords
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			wx := ((x % n) + n) % n
			c := NewCoords(uint32(v.Zoom), uint32(wx), uint32(y))
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			tiles = append(tiles, c)
		}
	}

	return tiles
}

// TilesInBBox returns all tile coordinates within a bounding box across a zoom range.
// bbox: [minLon, minLat, maxLon, maxLat] in WGS84
// Calculates correct tile coordinates at each zoom level independently.
func TilesInBBox(bbox [4]float64, zoomMin, zoomMax int) []Coords {
	tiles := make([]Coords, 0, TileCount(bbox, zoomMin, zoomMax))

	for z := zoomMin; z <= zoomMax; z++ {
		minX, maxX, minY, maxY := bboxRange(bbox, maptile.Zoom(z))
		for x := minX; x <= maxX; x++ {
			for y := minY; y <= maxY; y++ {
				tiles = append(tiles, NewCoords(uint32(z), x, y))
			}
		}
	}

	return tiles
}

// TileCount returns the number of tiles in a bounding box across a zoom range.
// This is useful for progress estimation without allocating the full tile list.
func TileCount(bbox [4]float64, zoomMin, zoomMax int) int {
	count := 0
	for z := zoomMin; z <= zoomMax; z++ {
		minX, maxX, minY, maxY := bboxRange(bbox, maptile.Zoom(z))
		count += int(maxX-minX+1) * int(maxY-minY+1)
	}
	return count
}

func bboxRange(bbox [4]float64, zoom maptile.Zoom) (minX, maxX, minY, maxY uint32) {
	minTile := maptile.At(clampPoint(bbox[0], bbox[1]), zoom)
	maxTile := maptile.At(clampPoint(bbox[2], bbox[3]), zoom)

	// Y grows southwards, so the southern corner has the larger row.
	minX, maxX = minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY = minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	// A corner on lon=180 or on the southern edge lands one past the last tile.
	last := uint32(1)<<uint32(zoom) - 1
	minX, maxX = min(minX, last), min(maxX, last)
	minY, maxY = min(minY, last), min(maxY, last)
	return minX, maxX, minY, maxY
}

func clampPoint(lon, lat float64) orb.Point {
	return orb.Point{
		math.Max(-180, math.Min(180, lon)),
		math.Max(-types.MaxLatitude, math.Min(types.MaxLatitude, lat)),
	}
}
