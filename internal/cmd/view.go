package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/geojson"
	"github.com/MeKo-Tech/countrymap/internal/mbtiles"
	"github.com/MeKo-Tech/countrymap/internal/page"
	"github.com/MeKo-Tech/countrymap/internal/render"
	"github.com/MeKo-Tech/countrymap/internal/tilelayer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Load the map page and report, snapshot or export what it shows",
	Long: `Bootstrap the map page: bind the map to its container, load the basemap tiles
for the initial viewport and fetch the country overlay.

With --snapshot the rendered viewport is written as PNG, with --export the
overlay features are written as a GeoJSON FeatureCollection.`,
	RunE: runView,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().String("container", "map", "Id of the container the map is bound to")
	viewCmd.Flags().Int("width", 1024, "Container width in pixels")
	viewCmd.Flags().Int("height", 400, "Container height in pixels")
	viewCmd.Flags().Float64("lat", 51.505, "Initial map center latitude")
	viewCmd.Flags().Float64("lon", -0.09, "Initial map center longitude")
	viewCmd.Flags().IntP("zoom", "z", 3, "Initial zoom level")

	viewCmd.Flags().String("overlay-url", "/static/countries.geo.json", "GeoJSON overlay resource")
	viewCmd.Flags().Int("overlay-max-attempts", 3, "Attempts for transient overlay fetch failures")
	viewCmd.Flags().Duration("overlay-initial-backoff", 500*time.Millisecond, "Backoff before the first overlay retry")
	viewCmd.Flags().Duration("overlay-timeout", 30*time.Second, "Timeout per overlay fetch attempt")

	viewCmd.Flags().String("snapshot", "", "Write a PNG snapshot of the viewport to this file")
	viewCmd.Flags().Int("snapshot-width", 0, "Resize the snapshot to this width (0 keeps the container size)")
	viewCmd.Flags().String("export", "", "Write the overlay features as GeoJSON to this file")
	viewCmd.Flags().Duration("timeout", 2*time.Minute, "Give up waiting for tiles and overlay after this long")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, viewCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("map.container", "container")
	mustBind("map.width", "width")
	mustBind("map.height", "height")
	mustBind("map.center_lat", "lat")
	mustBind("map.center_lon", "lon")
	mustBind("map.zoom", "zoom")
	mustBind("overlay.url", "overlay-url")
	mustBind("overlay.max_attempts", "overlay-max-attempts")
	mustBind("overlay.initial_backoff", "overlay-initial-backoff")
	mustBind("overlay.timeout", "overlay-timeout")
	mustBind("view.snapshot", "snapshot")
	mustBind("view.snapshot_width", "snapshot-width")
	mustBind("view.export", "export")
	mustBind("view.timeout", "timeout")
}

func runView(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	cfg, doc, err := pageConfig()
	if err != nil {
		return err
	}

	snapshotPath := viper.GetString("view.snapshot")
	exportPath := viper.GetString("view.export")
	timeout := viper.GetDuration("view.timeout")

	deps := page.Deps{Logger: logger}
	if cachePath := viper.GetString("tiles.cache"); cachePath != "" {
		store, err := openCache(cachePath, cfg.Tiles)
		if err != nil {
			return err
		}
		defer closeCache(store)
		deps.TileStore = store
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := page.Bootstrap(ctx, doc, cfg, deps)
	if err != nil {
		return err
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()
	overlayErr := p.Wait(waitCtx)
	if errors.Is(overlayErr, context.DeadlineExceeded) && waitCtx.Err() != nil {
		logger.Warn("gave up waiting for the page", "timeout", timeout)
	}

	stats := p.Tiles.Stats()
	logger.Info("page loaded",
		"viewport", p.Map.Viewport().String(),
		"tiles_loaded", stats.Loaded,
		"tiles_failed", stats.Failed,
		"tiles_cached", stats.CacheHits,
		"overlay_state", p.OverlayRequest().State().String(),
		"overlay", geojson.Summary(p.Overlay.Features()),
	)

	if snapshotPath != "" {
		if err := writeSnapshot(p, snapshotPath, viper.GetInt("view.snapshot_width")); err != nil {
			return err
		}
	}

	if exportPath != "" {
		data, err := geojson.Encode(p.Overlay.Features())
		if err != nil {
			return err
		}
		if err := os.WriteFile(exportPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		logger.Info("overlay exported", "path", exportPath, "features", p.Overlay.Len())
	}

	if overlayErr != nil {
		return fmt.Errorf("overlay not loaded: %w", overlayErr)
	}
	return nil
}

func writeSnapshot(p *page.Page, path string, width int) error {
	opts := render.DefaultOptions()
	opts.OutputWidth = width

	res, err := p.Snapshot(opts)
	if err != nil {
		return fmt.Errorf("failed to render snapshot: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	defer f.Close()

	if err := render.WritePNG(f, res.Image); err != nil {
		return err
	}

	logger.Info("snapshot written",
		"path", path,
		"tiles", res.TilesDrawn,
		"tiles_skipped", res.TilesSkipped,
		"features", res.FeaturesDrawn,
	)
	return nil
}

func openCache(path string, cfg tilelayer.Config) (*mbtiles.Store, error) {
	store, err := mbtiles.Open(path, mbtiles.Metadata{
		Name:        "countrymap basemap",
		Format:      "png",
		Type:        "baselayer",
		Version:     "1.0",
		Description: "Basemap tiles cached by countrymap",
		Source:      cfg.URLTemplate,
		MinZoom:     cfg.MinZoom,
		MaxZoom:     cfg.MaxZoom,
		Bounds:      [4]float64{-180, -85.0511, 180, 85.0511},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open tile cache: %w", err)
	}
	logger.Debug("tile cache opened", "path", path)
	return store, nil
}

func closeCache(store *mbtiles.Store) {
	if err := store.Close(); err != nil {
		logger.Error("failed to close tile cache", "path", store.Path(), "error", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
