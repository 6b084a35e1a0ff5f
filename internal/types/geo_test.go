package types

import (
	"math"
	"testing"
)

func almostEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestViewportProjectRoundTrip(t *testing.T) {
	v := Viewport{Zoom: 3, Width: 1024, Height: 400}

	points := []LatLng{
		{Lat: 0, Lng: 0},
		{Lat: 51.505, Lng: -0.09},
		{Lat: 37.78, Lng: -122.42},
		{Lat: 35.69, Lng: 139.69},
	}

	for _, p := range points {
		t.Run(p.String(), func(t *testing.T) {
			x, y := v.Project(p)
			got := v.Unproject(x, y)
			if !almostEqual(got.Lat, p.Lat, 1e-9) || !almostEqual(got.Lng, p.Lng, 1e-9) {
				t.Fatalf("round trip %s -> (%.3f, %.3f) -> %s", p, x, y, got)
			}
		})
	}
}

func TestViewportProjectNullIsland(t *testing.T) {
	v := Viewport{Zoom: 0}
	x, y := v.Project(LatLng{})
	if x != 128 || !almostEqual(y, 128, 1e-9) {
		t.Fatalf("expected (128,128), got (%.6f, %.6f)", x, y)
	}
}

func TestViewportLocalPixelCenter(t *testing.T) {
	v := Viewport{Center: LatLng{Lat: 51.505, Lng: -0.09}, Zoom: 3, Width: 1024, Height: 400}

	x, y := v.LocalPixel(v.Center)
	if !almostEqual(x, 512, 1e-9) || !almostEqual(y, 200, 1e-9) {
		t.Fatalf("expected center at (512,200), got (%.6f, %.6f)", x, y)
	}
}

func TestViewportBoundsContainsCenter(t *testing.T) {
	v := Viewport{Center: LatLng{Lat: 51.505, Lng: -0.09}, Zoom: 3, Width: 1024, Height: 400}
	b := v.Bounds()

	if !b.Contains(v.Center) {
		t.Fatalf("bounds %s do not contain center %s", b, v.Center)
	}
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		t.Fatalf("bounds not ordered: %s", b)
	}
}

func TestViewportBoundsClampLatitude(t *testing.T) {
	v := Viewport{Zoom: 0, Width: 2048, Height: 2048}
	b := v.Bounds()

	if b.MaxLat > MaxLatitude || b.MinLat < -MaxLatitude {
		t.Fatalf("latitude not clamped: %s", b)
	}
}
