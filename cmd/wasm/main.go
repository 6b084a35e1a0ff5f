//go:build js && wasm
// +build js,wasm

package main

import (
	"encoding/json"
	"fmt"
	"syscall/js"

	"github.com/MeKo-Tech/countrymap/internal/tile"
	"github.com/MeKo-Tech/countrymap/internal/tilelayer"
	"github.com/MeKo-Tech/countrymap/internal/types"
)

// TileURLRequest asks for the address of one tile.
type TileURLRequest struct {
	Zoom int `json:"zoom"`
	X    int `json:"x"`
	Y    int `json:"y"`
}

// ViewportRequest asks for the tiles covering a viewport.
type ViewportRequest struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Zoom   int     `json:"zoom"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

type tileURL struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

var layer *tilelayer.Layer

// tileURLFor is called from JavaScript with a JSON TileURLRequest. Zoom levels
// outside the layer range return an error instead of a URL.
func tileURLFor(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return map[string]interface{}{"error": "missing arguments"}
	}

	var req TileURLRequest
	if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("failed to parse request: %v", err)}
	}
	if req.Zoom < 0 || req.X < 0 || req.Y < 0 {
		return map[string]interface{}{"error": "zoom/x/y must be non-negative"}
	}

	c := tile.NewCoords(uint32(req.Zoom), uint32(req.X), uint32(req.Y))
	u, err := layer.URL(c)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return map[string]interface{}{"key": c.String(), "url": u}
}

// visibleTiles is called from JavaScript with a JSON ViewportRequest and returns
// a JSON array of the tiles to request.
func visibleTiles(this js.Value, args []js.Value) interface{} {
	if len(args) < 1 {
		return map[string]interface{}{"error": "missing arguments"}
	}

	var req ViewportRequest
	if err := json.Unmarshal([]byte(args[0].String()), &req); err != nil {
		return map[string]interface{}{"error": fmt.Sprintf("failed to parse request: %v", err)}
	}

	v := types.Viewport{
		Center: types.LatLng{Lat: req.Lat, Lng: req.Lng},
		Zoom:   req.Zoom,
		Width:  req.Width,
		Height: req.Height,
	}
	if !layer.InZoomRange(v.Zoom) {
		return "[]"
	}

	var out []tileURL
	for _, c := range tile.Covering(v) {
		u, err := layer.URL(c)
		if err != nil {
			continue
		}
		out = append(out, tileURL{Key: c.String(), URL: u})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return string(data)
}

func main() {
	var err error
	layer, err = tilelayer.New(tilelayer.DefaultConfig(), nil, nil, nil)
	if err != nil {
		fmt.Println("countrymap: failed to create tile layer:", err)
		return
	}

	c := make(chan struct{})

	js.Global().Set("countrymapTileURL", js.FuncOf(tileURLFor))
	js.Global().Set("countrymapVisibleTiles", js.FuncOf(visibleTiles))

	fmt.Println("countrymap WASM module loaded")
	<-c
}
