package render

import (
	"fmt"
	"image/color"

	"github.com/muesli/gamut"
)

// DefaultPaletteSize is the number of distinct overlay colors.
const DefaultPaletteSize = 12

// Palette generates n pastel colors.
func Palette(n int) ([]color.Color, error) {
	if n <= 0 {
		return nil, fmt.Errorf("palette size must be positive")
	}
	colors, err := gamut.Generate(n, gamut.PastelGenerator{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate palette: %w", err)
	}
	return colors, nil
}

func withAlpha(c color.Color, a uint8) color.NRGBA {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	n.A = a
	return n
}
