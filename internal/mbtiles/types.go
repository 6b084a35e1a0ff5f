// Package mbtiles stores fetched basemap tiles in an MBTiles database so that a map
// can be redrawn without going back to the tile endpoint.
package mbtiles

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrTileNotFound is returned by ReadTile when the cache has no entry for a tile.
var ErrTileNotFound = errors.New("tile not found")

// Metadata contains MBTiles metadata fields.
type Metadata struct {
	Name        string // Human-readable tileset identifier
	Format      string // Tile data type (png, jpg, webp)
	Attribution string
	Description string
	Type        string // "baselayer" or "overlay"
	Version     string
	Source      string // URL template the tiles were fetched from
	Bounds      [4]float64
	Center      [3]float64
	MinZoom     int
	MaxZoom     int
}

// ToMap converts Metadata to a map for database insertion.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)

	set := func(key, value string) {
		if value != "" {
			result[key] = value
		}
	}
	set("name", m.Name)
	set("format", m.Format)
	set("attribution", m.Attribution)
	set("description", m.Description)
	set("type", m.Type)
	set("version", m.Version)
	set("source", m.Source)

	// minzoom 0 is meaningful for a world basemap, so it is always written.
	result["minzoom"] = strconv.Itoa(m.MinZoom)
	if m.MaxZoom > 0 {
		result["maxzoom"] = strconv.Itoa(m.MaxZoom)
	}
	if m.Bounds != [4]float64{} {
		result["bounds"] = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
			m.Bounds[0], m.Bounds[1], m.Bounds[2], m.Bounds[3])
	}
	if m.Center != [3]float64{} {
		result["center"] = fmt.Sprintf("%.6f,%.6f,%d",
			m.Center[0], m.Center[1], int(m.Center[2]))
	}

	return result
}

// metadataFromMap is the inverse of ToMap. Unparseable numeric fields are left at zero.
func metadataFromMap(values map[string]string) Metadata {
	meta := Metadata{
		Name:        values["name"],
		Format:      values["format"],
		Attribution: values["attribution"],
		Description: values["description"],
		Type:        values["type"],
		Version:     values["version"],
		Source:      values["source"],
	}

	if v, ok := values["minzoom"]; ok {
		meta.MinZoom, _ = strconv.Atoi(v)
	}
	if v, ok := values["maxzoom"]; ok {
		meta.MaxZoom, _ = strconv.Atoi(v)
	}

	// bounds: "minLon,minLat,maxLon,maxLat"
	if parts := splitFloats(values["bounds"], 4); parts != nil {
		copy(meta.Bounds[:], parts)
	}
	// center: "lon,lat,zoom"
	if parts := splitFloats(values["center"], 3); parts != nil {
		copy(meta.Center[:], parts)
	}

	return meta
}

func splitFloats(s string, n int) []float64 {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil
	}
	out := make([]float64, n)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil
		}
		out[i] = f
	}
	return out
}
