// Package render draws what the page shows: the loaded basemap tiles for a
// viewport with the overlay features on top.
package render

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // tile decoding
	"image/png"
	"io"
	"math"

	"github.com/MeKo-Tech/countrymap/internal/tile"
	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/disintegration/gift"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/image/draw"
)

// Options control a snapshot.
type Options struct {
	// Background fills pixels no tile covers.
	Background color.Color
	// Palette colors overlay features in turn. Empty means a generated pastel palette.
	Palette []color.Color
	// FillAlpha is the opacity of polygon fills.
	FillAlpha uint8
	// StrokeWidth is the line width in pixels.
	StrokeWidth float64
	// PointRadius is the disc radius for point features.
	PointRadius float64
	// OutputWidth resizes the result, keeping the aspect ratio. Zero keeps the
	// viewport size.
	OutputWidth int
}

// DefaultOptions returns translucent pastel fills over a light grey background.
func DefaultOptions() Options {
	return Options{
		Background:  color.NRGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff},
		FillAlpha:   0x99,
		StrokeWidth: 1.5,
		PointRadius: 4,
	}
}

// Result is a rendered snapshot.
type Result struct {
	Image         *image.NRGBA
	TilesDrawn    int
	TilesSkipped  int // tiles that could not be decoded
	FeaturesDrawn int
}

// Snapshot composites the tiles covering v, then draws features over them.
// Tiles missing from the map leave the background visible.
func Snapshot(v types.Viewport, tiles map[tile.Coords][]byte, features []*geojson.Feature, opts Options) (*Result, error) {
	if v.Width <= 0 || v.Height <= 0 {
		return nil, fmt.Errorf("viewport size must be positive, got %dx%d", v.Width, v.Height)
	}
	if v.TileSize <= 0 {
		v.TileSize = types.DefaultTileSize
	}

	palette := opts.Palette
	if len(palette) == 0 {
		var err error
		palette, err = Palette(DefaultPaletteSize)
		if err != nil {
			return nil, err
		}
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, v.Width, v.Height))
	if opts.Background != nil {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(opts.Background), image.Point{}, draw.Src)
	}

	res := &Result{Image: canvas}
	drawTiles(canvas, v, tiles, res)

	c := &canvasRenderer{
		dst:         canvas,
		viewport:    v,
		strokeWidth: opts.StrokeWidth,
		pointRadius: opts.PointRadius,
	}
	if c.strokeWidth <= 0 {
		c.strokeWidth = 1
	}
	if c.pointRadius <= 0 {
		c.pointRadius = 3
	}

	for i, f := range features {
		if f == nil || f.Geometry == nil {
			continue
		}
		fill := withAlpha(palette[i%len(palette)], opts.FillAlpha)
		stroke := withAlpha(palette[i%len(palette)], 0xff)
		if c.renderFeature(f, fill, stroke) {
			res.FeaturesDrawn++
		}
	}

	if opts.OutputWidth > 0 && opts.OutputWidth != v.Width {
		res.Image = resize(canvas, opts.OutputWidth)
	}

	return res, nil
}

// drawTiles places every loaded tile at its position relative to the viewport
// origin. Columns repeat across the antimeridian the way tile.Covering wraps them.
func drawTiles(dst *image.NRGBA, v types.Viewport, tiles map[tile.Coords][]byte, res *Result) {
	if len(tiles) == 0 {
		return
	}

	size := float64(v.TileSize)
	ox, oy := v.Origin()
	minX := int64(math.Floor(ox / size))
	maxX := int64(math.Floor((ox + float64(v.Width) - 1) / size))
	minY := int64(math.Floor(oy / size))
	maxY := int64(math.Floor((oy + float64(v.Height) - 1) / size))
	n := int64(1) << uint(v.Zoom)

	decoded := make(map[tile.Coords]image.Image)
	for y := minY; y <= maxY; y++ {
		if y < 0 || y >= n {
			continue
		}
		for x := minX; x <= maxX; x++ {
			wx := ((x % n) + n) % n
			c := tile.NewCoords(uint32(v.Zoom), uint32(wx), uint32(y))

			img, ok := decoded[c]
			if !ok {
				data, found := tiles[c]
				if !found {
					continue
				}
				var err error
				img, _, err = image.Decode(bytes.NewReader(data))
				if err != nil {
					res.TilesSkipped++
					decoded[c] = nil
					continue
				}
				decoded[c] = img
			}
			if img == nil {
				continue
			}

			px := int(math.Round(float64(x)*size - ox))
			py := int(math.Round(float64(y)*size - oy))
			rect := image.Rect(px, py, px+v.TileSize, py+v.TileSize)

			if img.Bounds().Dx() == v.TileSize && img.Bounds().Dy() == v.TileSize {
				draw.Draw(dst, rect, img, img.Bounds().Min, draw.Over)
			} else {
				draw.CatmullRom.Scale(dst, rect, img, img.Bounds(), draw.Over, nil)
			}
			res.TilesDrawn++
		}
	}
}

func resize(src *image.NRGBA, width int) *image.NRGBA {
	height := int(math.Round(float64(src.Bounds().Dy()) * float64(width) / float64(src.Bounds().Dx())))
	if height < 1 {
		height = 1
	}
	g := gift.New(gift.Resize(width, height, gift.LanczosResampling))
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

// WritePNG encodes img as PNG.
func WritePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode png: %w", err)
	}
	return nil
}
