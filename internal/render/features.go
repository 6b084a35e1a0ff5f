package render

import (
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

type canvasRenderer struct {
	dst         *image.NRGBA
	viewport    types.Viewport
	strokeWidth float64
	pointRadius float64
}

// renderFeature draws one feature and reports whether its geometry was drawable.
func (r *canvasRenderer) renderFeature(f *geojson.Feature, fill, stroke color.NRGBA) bool {
	return r.renderGeometry(f.Geometry, fill, stroke)
}

func (r *canvasRenderer) renderGeometry(g orb.Geometry, fill, stroke color.NRGBA) bool {
	switch g := g.(type) {
	case orb.Point:
		r.fillDiscs([]orb.Point{g}, stroke)
	case orb.MultiPoint:
		r.fillDiscs(g, stroke)
	case orb.LineString:
		r.strokeLines([]orb.LineString{g}, stroke)
	case orb.MultiLineString:
		r.strokeLines(g, stroke)
	case orb.Ring:
		r.fillPolygon(orb.Polygon{g}, fill)
	case orb.Polygon:
		r.fillPolygon(g, fill)
		r.strokeRings(g, stroke)
	case orb.MultiPolygon:
		for _, p := range g {
			r.fillPolygon(p, fill)
			r.strokeRings(p, stroke)
		}
	case orb.Collection:
		drawn := false
		for _, sub := range g {
			if r.renderGeometry(sub, fill, stroke) {
				drawn = true
			}
		}
		return drawn
	default:
		return false
	}
	return true
}

func (r *canvasRenderer) local(p orb.Point) (float64, float64) {
	return r.viewport.LocalPixel(types.LatLng{Lat: p.Lat(), Lng: p.Lon()})
}

// fillPolygon rasterizes all rings of a polygon in one path. The rasterizer
// cancels areas of opposite winding, so holes are traced against the outer
// ring's orientation whatever order the source file used.
func (r *canvasRenderer) fillPolygon(poly orb.Polygon, c color.NRGBA) {
	if len(poly) == 0 {
		return
	}
	b := r.dst.Bounds()
	ras := vector.NewRasterizer(b.Dx(), b.Dy())

	outer := poly[0].Orientation()
	for i, ring := range poly {
		if len(ring) < 3 {
			continue
		}
		r.traceRing(ras, ring, i > 0 && ring.Orientation() == outer)
	}

	ras.DrawOp = draw.Over
	ras.Draw(r.dst, b, image.NewUniform(c), image.Point{})
}

func (r *canvasRenderer) traceRing(ras *vector.Rasterizer, ring orb.Ring, reverse bool) {
	for i := range ring {
		pt := ring[i]
		if reverse {
			pt = ring[len(ring)-1-i]
		}
		x, y := r.local(pt)
		if i == 0 {
			ras.MoveTo(float32(x), float32(y))
		} else {
			ras.LineTo(float32(x), float32(y))
		}
	}
	ras.ClosePath()
}

func (r *canvasRenderer) strokeRings(poly orb.Polygon, c color.NRGBA) {
	lines := make([]orb.LineString, 0, len(poly))
	for _, ring := range poly {
		lines = append(lines, orb.LineString(ring))
	}
	r.strokeLines(lines, c)
}

// strokeLines stamps discs along each segment into a mask, then composites the
// mask once so overlapping stamps do not darken the line.
func (r *canvasRenderer) strokeLines(lines []orb.LineString, c color.NRGBA) {
	mask := image.NewAlpha(r.dst.Bounds())
	radius := r.strokeWidth / 2.0
	step := 0.75

	for _, ls := range lines {
		if len(ls) < 2 {
			continue
		}
		for i := 0; i < len(ls)-1; i++ {
			x0, y0 := r.local(ls[i])
			x1, y1 := r.local(ls[i+1])

			dx := x1 - x0
			dy := y1 - y0
			segLen := math.Hypot(dx, dy)
			if segLen == 0 {
				drawDisc(mask, x0, y0, radius)
				continue
			}

			steps := int(math.Ceil(segLen / step))
			for s := 0; s <= steps; s++ {
				t := float64(s) / float64(steps)
				drawDisc(mask, x0+dx*t, y0+dy*t, radius)
			}
		}
	}

	draw.DrawMask(r.dst, r.dst.Bounds(), image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func (r *canvasRenderer) fillDiscs(points []orb.Point, c color.NRGBA) {
	mask := image.NewAlpha(r.dst.Bounds())
	for _, p := range points {
		x, y := r.local(p)
		drawDisc(mask, x, y, r.pointRadius)
	}
	draw.DrawMask(r.dst, r.dst.Bounds(), image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func drawDisc(dst *image.Alpha, cx, cy float64, radius float64) {
	b := dst.Bounds()
	minX := int(math.Floor(cx - radius))
	maxX := int(math.Ceil(cx + radius))
	minY := int(math.Floor(cy - radius))
	maxY := int(math.Ceil(cy + radius))

	if minX < b.Min.X {
		minX = b.Min.X
	}
	if minY < b.Min.Y {
		minY = b.Min.Y
	}
	if maxX >= b.Max.X {
		maxX = b.Max.X - 1
	}
	if maxY >= b.Max.Y {
		maxY = b.Max.Y - 1
	}

	r2 := radius * radius
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			if dx*dx+dy*dy <= r2 {
				dst.Pix[dst.PixOffset(x, y)] = 255
			}
		}
	}
}
