package tile

import (
	"testing"

	"github.com/MeKo-Tech/countrymap/internal/types"
)

func TestCoordsString(t *testing.T) {
	tests := []struct {
		coords   Coords
		expected string
	}{
		{Coords{Z: 13, X: 4297, Y: 2754}, "z13_x4297_y2754"},
		{Coords{Z: 0, X: 0, Y: 0}, "z0_x0_y0"},
		{Coords{Z: 18, X: 12345, Y: 67890}, "z18_x12345_y67890"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.coords.String()
			if result != tt.expected {
				t.Errorf("String() = %s, want %s", result, tt.expected)
			}
		})
	}
}

func TestCoordsValid(t *testing.T) {
	tests := []struct {
		name   string
		coords Coords
		want   bool
	}{
		{"world tile", Coords{Z: 0, X: 0, Y: 0}, true},
		{"x out of range at z0", Coords{Z: 0, X: 1, Y: 0}, false},
		{"last tile at z3", Coords{Z: 3, X: 7, Y: 7}, true},
		{"y out of range at z3", Coords{Z: 3, X: 7, Y: 8}, false},
		{"max zoom", Coords{Z: 18, X: 262143, Y: 262143}, true},
		{"beyond max zoom", Coords{Z: 19, X: 0, Y: 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.coords.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCoordsBounds(t *testing.T) {
	coords := Coords{Z: 13, X: 4297, Y: 2754}
	bounds := coords.Bounds()

	t.Logf("Tile %s bounds: %s", coords.String(), bounds)

	if bounds.MinLon >= bounds.MaxLon {
		t.Errorf("minLon >= maxLon: %.6f >= %.6f", bounds.MinLon, bounds.MaxLon)
	}
	if bounds.MinLat >= bounds.MaxLat {
		t.Errorf("minLat >= maxLat: %.6f >= %.6f", bounds.MinLat, bounds.MaxLat)
	}

	world := Coords{}.Bounds()
	if world.MinLon != -180 || world.MaxLon != 180 {
		t.Errorf("world tile longitude span = [%.6f, %.6f]", world.MinLon, world.MaxLon)
	}
}

func TestCoordsCenter(t *testing.T) {
	coords := Coords{Z: 13, X: 4297, Y: 2754}
	center := coords.Center()

	if !coords.Bounds().Contains(center) {
		t.Errorf("Center %s is outside bounds %s", center, coords.Bounds())
	}
}

func TestParseCoords(t *testing.T) {
	tests := []struct {
		input    string
		expected Coords
		wantErr  bool
	}{
		{"z13_x4297_y2754", Coords{Z: 13, X: 4297, Y: 2754}, false},
		{"z0_x0_y0", Coords{Z: 0, X: 0, Y: 0}, false},
		{"z18_x262143_y262143", Coords{Z: 18, X: 262143, Y: 262143}, false},
		{"invalid", Coords{}, true},
		{"z13_x4297", Coords{}, true},
		{"13_4297_2754", Coords{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := ParseCoords(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseCoords(%s) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseCoords(%s) unexpected error: %v", tt.input, err)
				return
			}
			if result != tt.expected {
				t.Errorf("ParseCoords(%s) = %+v, want %+v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestCoveringWorldAtZoomZero(t *testing.T) {
	v := types.Viewport{Zoom: 0, Width: 1024, Height: 400}

	tiles := Covering(v)
	if len(tiles) != 1 || tiles[0] != NewCoords(0, 0, 0) {
		t.Fatalf("expected only z0_x0_y0, got %v", tiles)
	}
}

func TestCoveringLondonAtZoomThree(t *testing.T) {
	v := types.Viewport{
		Center: types.LatLng{Lat: 51.505, Lng: -0.09},
		Zoom:   3,
		Width:  1024,
		Height: 400,
	}

	tiles := Covering(v)

	// 1024px of a 2048px world: columns 1..5, rows 1..3.
	if len(tiles) == 0 {
		t.Fatal("expected tiles")
	}
	seen := make(map[Coords]bool)
	for _, c := range tiles {
		if !c.Valid() {
			t.Errorf("invalid tile %s", c)
		}
		if c.Z != 3 {
			t.Errorf("unexpected zoom in %s", c)
		}
		if seen[c] {
			t.Errorf("duplicate tile %s", c)
		}
		seen[c] = true
	}

	// The tile holding the center must be requested.
	if !seen[NewCoords(3, 3, 2)] {
		t.Errorf("center tile z3_x3_y2 missing from %v", tiles)
	}
}

func TestCoveringWrapsAntimeridian(t *testing.T) {
	v := types.Viewport{
		Center: types.LatLng{Lat: 0, Lng: 180},
		Zoom:   1,
		Width:  256,
		Height: 256,
	}

	tiles := Covering(v)
	for _, c := range tiles {
		if !c.Valid() {
			t.Fatalf("invalid wrapped tile %s", c)
		}
	}
	if len(tiles) != 4 {
		t.Fatalf("expected 4 tiles around the antimeridian, got %v", tiles)
	}
}

func TestCoveringRejectsBadViewport(t *testing.T) {
	if got := Covering(types.Viewport{Zoom: 19, Width: 10, Height: 10}); got != nil {
		t.Fatalf("expected nil for zoom 19, got %v", got)
	}
	if got := Covering(types.Viewport{Zoom: 2}); got != nil {
		t.Fatalf("expected nil for empty container, got %v", got)
	}
}

func TestTilesInBBox(t *testing.T) {
	bbox := Coords{Z: 13, X: 4297, Y: 2754}.Bounds()
	inner := types.BoundingBox{
		MinLon: bbox.MinLon + 1e-6,
		MinLat: bbox.MinLat + 1e-6,
		MaxLon: bbox.MaxLon - 1e-6,
		MaxLat: bbox.MaxLat - 1e-6,
	}

	tiles := TilesInBBox(inner.Array(), 13, 14)
	if len(tiles) != 1+4 {
		t.Fatalf("expected 5 tiles, got %d: %v", len(tiles), tiles)
	}
	if tiles[0] != NewCoords(13, 4297, 2754) {
		t.Errorf("first tile = %s", tiles[0])
	}
	if got := TileCount(inner.Array(), 13, 14); got != len(tiles) {
		t.Errorf("TileCount = %d, want %d", got, len(tiles))
	}
}

func TestTilesInBBoxAntimeridianEdge(t *testing.T) {
	world := [4]float64{-180, -85, 180, 85}

	tiles := TilesInBBox(world, 2, 2)
	if len(tiles) != 16 {
		t.Fatalf("expected 16 tiles at zoom 2, got %d: %v", len(tiles), tiles)
	}
	for _, c := range tiles {
		if !c.Valid() {
			t.Errorf("invalid tile %s", c)
		}
	}
	if got := TileCount(world, 2, 2); got != 16 {
		t.Errorf("TileCount = %d, want 16", got)
	}

	// Poles beyond the Web Mercator square clamp to the outer rows.
	if got := TileCount([4]float64{-180, -90, 180, 90}, 0, 3); got != 1+4+16+64 {
		t.Errorf("TileCount over full globe = %d, want 85", got)
	}
}
