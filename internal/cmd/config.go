package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/countrymap/internal/loader"
	"github.com/MeKo-Tech/countrymap/internal/mapview"
	"github.com/MeKo-Tech/countrymap/internal/page"
	"github.com/MeKo-Tech/countrymap/internal/tilelayer"
	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/spf13/viper"
)

// tileConfig reads the tiles.* keys.
func tileConfig() tilelayer.Config {
	cfg := tilelayer.DefaultConfig()
	cfg.BaseURL = viper.GetString("base-url")
	if s := viper.GetString("tiles.url_template"); s != "" {
		cfg.URLTemplate = s
	}
	cfg.MinZoom = viper.GetInt("tiles.min_zoom")
	cfg.MaxZoom = viper.GetInt("tiles.max_zoom")
	if w := viper.GetInt("tiles.workers"); w > 0 {
		cfg.Workers = w
	}
	return cfg
}

// pageConfig reads the map.*, tiles.* and overlay.* keys and the container the
// map is drawn into.
func pageConfig() (page.Config, *mapview.Document, error) {
	cfg := page.DefaultConfig()
	cfg.ContainerID = viper.GetString("map.container")
	cfg.Center = types.LatLng{
		Lat: viper.GetFloat64("map.center_lat"),
		Lng: viper.GetFloat64("map.center_lon"),
	}
	cfg.Zoom = viper.GetInt("map.zoom")
	cfg.Tiles = tileConfig()

	cfg.Overlay = loader.DefaultConfig()
	cfg.Overlay.BaseURL = viper.GetString("base-url")
	if s := viper.GetString("overlay.url"); s != "" {
		cfg.Overlay.URL = s
	}
	cfg.Overlay.MaxAttempts = viper.GetInt("overlay.max_attempts")
	cfg.Overlay.InitialBackoff = viper.GetDuration("overlay.initial_backoff")
	cfg.Overlay.Timeout = viper.GetDuration("overlay.timeout")

	if err := cfg.Tiles.Validate(); err != nil {
		return cfg, nil, fmt.Errorf("invalid tiles config: %w", err)
	}
	if cfg.Center.Lat < -90 || cfg.Center.Lat > 90 || cfg.Center.Lng < -180 || cfg.Center.Lng > 180 {
		return cfg, nil, fmt.Errorf("invalid map center %s", cfg.Center)
	}

	doc, err := mapview.NewDocument(mapview.Container{
		ID:     cfg.ContainerID,
		Width:  viper.GetInt("map.width"),
		Height: viper.GetInt("map.height"),
	})
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid map container: %w", err)
	}

	return cfg, doc, nil
}
