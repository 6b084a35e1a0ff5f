package cmd

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageConfigDefaults(t *testing.T) {
	cfg, doc, err := pageConfig()
	require.NoError(t, err)

	assert.Equal(t, "map", cfg.ContainerID)
	assert.InDelta(t, 51.505, cfg.Center.Lat, 1e-9)
	assert.InDelta(t, -0.09, cfg.Center.Lng, 1e-9)
	assert.Equal(t, 3, cfg.Zoom)

	assert.Equal(t, "http://127.0.0.1:8000", cfg.Tiles.BaseURL)
	assert.Equal(t, "/api/map/{z}/{x}/{y}/tile.png", cfg.Tiles.URLTemplate)
	assert.Equal(t, 0, cfg.Tiles.MinZoom)
	assert.Equal(t, 18, cfg.Tiles.MaxZoom)
	assert.Equal(t, 4, cfg.Tiles.Workers)

	assert.Equal(t, "/static/countries.geo.json", cfg.Overlay.URL)
	assert.Equal(t, 3, cfg.Overlay.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Overlay.InitialBackoff)
	assert.Equal(t, 30*time.Second, cfg.Overlay.Timeout)

	c, ok := doc.Lookup("map")
	require.True(t, ok)
	assert.Equal(t, 1024, c.Width)
	assert.Equal(t, 400, c.Height)
}

func TestPageConfigOverrides(t *testing.T) {
	viper.Set("map.zoom", 7)
	viper.Set("tiles.max_zoom", 12)
	viper.Set("overlay.url", "/static/other.geo.json")
	t.Cleanup(func() {
		viper.Set("map.zoom", 3)
		viper.Set("tiles.max_zoom", 18)
		viper.Set("overlay.url", "/static/countries.geo.json")
	})

	cfg, _, err := pageConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Zoom)
	assert.Equal(t, 12, cfg.Tiles.MaxZoom)
	assert.Equal(t, "/static/other.geo.json", cfg.Overlay.URL)
}

func TestPageConfigRejectsBadZoomRange(t *testing.T) {
	viper.Set("tiles.min_zoom", 9)
	viper.Set("tiles.max_zoom", 4)
	t.Cleanup(func() {
		viper.Set("tiles.min_zoom", 0)
		viper.Set("tiles.max_zoom", 18)
	})

	_, _, err := pageConfig()
	assert.Error(t, err)
}
