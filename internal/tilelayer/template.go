package tilelayer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/countrymap/internal/tile"
)

var placeholderRe = regexp.MustCompile(`\{[^{}]*\}`)

// Template is a parsed tile URL pattern such as /api/map/{z}/{x}/{y}/tile.png.
// {-y} addresses the TMS row instead of the XYZ row.
type Template struct {
	raw string
}

// ParseTemplate checks that s carries a zoom, a column and a row placeholder and
// nothing it cannot fill in.
func ParseTemplate(s string) (Template, error) {
	if strings.TrimSpace(s) == "" {
		return Template{}, fmt.Errorf("tile url template is empty")
	}

	seen := make(map[string]bool)
	for _, p := range placeholderRe.FindAllString(s, -1) {
		switch p {
		case "{z}", "{x}", "{y}", "{-y}":
			seen[p] = true
		default:
			return Template{}, fmt.Errorf("tile url template %q: unknown placeholder %s", s, p)
		}
	}

	if !seen["{z}"] || !seen["{x}"] || !(seen["{y}"] || seen["{-y}"]) {
		return Template{}, fmt.Errorf("tile url template %q must contain {z}, {x} and {y}", s)
	}

	return Template{raw: s}, nil
}

// String returns the pattern as written.
func (t Template) String() string {
	return t.raw
}

// Expand substitutes the tile coordinates.
func (t Template) Expand(c tile.Coords) string {
	tmsY := (uint32(1) << c.Z) - 1 - c.Y
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{y}", strconv.FormatUint(uint64(c.Y), 10),
		"{-y}", strconv.FormatUint(uint64(tmsY), 10),
	)
	return r.Replace(t.raw)
}
