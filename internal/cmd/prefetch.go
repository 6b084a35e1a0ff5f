package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/tile"
	"github.com/MeKo-Tech/countrymap/internal/tilelayer"
	"github.com/MeKo-Tech/countrymap/internal/worker"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Fetch basemap tiles into an MBTiles cache",
	Long: `Fetch every basemap tile inside a bounding box for a zoom range and store it in
an MBTiles file. The file can then be passed to "view --cache" so the map is
drawn without going back to the tile endpoint.`,
	RunE: runPrefetch,
}

func init() {
	rootCmd.AddCommand(prefetchCmd)

	prefetchCmd.Flags().String("bbox", "-180,-85,180,85", "Bounding box: minLon,minLat,maxLon,maxLat (e.g., \"9.7,52.3,9.9,52.4\")")
	prefetchCmd.Flags().Int("zoom-min", 0, "Minimum zoom level to fetch")
	prefetchCmd.Flags().Int("zoom-max", 3, "Maximum zoom level to fetch")
	prefetchCmd.Flags().String("output-file", "", "MBTiles file to write (defaults to --cache)")
	prefetchCmd.Flags().Bool("progress", true, "Show progress bar while fetching")
	prefetchCmd.Flags().Bool("allow-failures", false, "Exit successfully even if some tiles fail")

	bindFlags := []struct {
		key  string
		flag string
	}{
		{"prefetch.bbox", "bbox"},
		{"prefetch.zoom_min", "zoom-min"},
		{"prefetch.zoom_max", "zoom-max"},
		{"prefetch.output_file", "output-file"},
		{"prefetch.progress", "progress"},
		{"prefetch.allow_failures", "allow-failures"},
	}

	for _, bf := range bindFlags {
		if err := viper.BindPFlag(bf.key, prefetchCmd.Flags().Lookup(bf.flag)); err != nil {
			panic(fmt.Sprintf("failed to bind flag %s: %v", bf.flag, err))
		}
	}
}

func runPrefetch(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	bboxStr := viper.GetString("prefetch.bbox")
	outputFile := viper.GetString("prefetch.output_file")
	if outputFile == "" {
		outputFile = viper.GetString("tiles.cache")
	}
	if outputFile == "" {
		return fmt.Errorf("--output-file (or --cache) is required")
	}

	bbox, err := parseBBox(bboxStr)
	if err != nil {
		return fmt.Errorf("invalid bbox: %w", err)
	}

	cfg := tileConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid tiles config: %w", err)
	}

	zoomMin, zoomMax, err := clampZoomRange(viper.GetInt("prefetch.zoom_min"), viper.GetInt("prefetch.zoom_max"), cfg)
	if err != nil {
		return err
	}

	store, err := openCache(outputFile, cfg)
	if err != nil {
		return err
	}
	defer closeCache(store)

	layer, err := tilelayer.New(cfg, nil, store, logger)
	if err != nil {
		return err
	}

	tiles := tile.TilesInBBox(bbox, zoomMin, zoomMax)
	logger.Info("Starting tile prefetch",
		"bbox", bboxStr,
		"zoom_range", fmt.Sprintf("%d-%d", zoomMin, zoomMax),
		"tiles", len(tiles),
		"workers", cfg.Workers,
		"output_file", outputFile,
	)

	ctx, cancel := signalContext()
	defer cancel()

	progress := worker.NewProgress(worker.ProgressConfig{
		Total:     len(tiles),
		Enabled:   viper.GetBool("prefetch.progress"),
		Interval:  100 * time.Millisecond,
		CacheHits: func() int64 { return layer.Stats().CacheHits },
	})
	results := layer.Prefetch(ctx, tiles, progress.Callback())
	progress.Done()

	var failedCount int
	for _, r := range results {
		if r.Err != nil {
			failedCount++
			logger.Error("Tile fetch failed", "coords", r.Task.Coords.String(), "error", r.Err)
		}
	}

	logger.Info(progress.Summary())

	if err := store.Flush(); err != nil {
		return fmt.Errorf("failed to flush MBTiles: %w", err)
	}
	if n, err := store.Count(); err == nil {
		logger.Info("MBTiles prefetch complete", "output", outputFile, "tiles", n)
	}

	if failedCount > 0 {
		if !viper.GetBool("prefetch.allow_failures") {
			return fmt.Errorf("%d tiles failed to fetch", failedCount)
		}
		logger.Warn("Some tiles failed to fetch, but continuing due to --allow-failures flag", "failed_count", failedCount)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("prefetch interrupted: %w", err)
	}

	return nil
}

// clampZoomRange limits the requested range to the zoom levels the tile layer
// serves.
func clampZoomRange(zoomMin, zoomMax int, cfg tilelayer.Config) (int, int, error) {
	if zoomMin > zoomMax {
		return 0, 0, fmt.Errorf("--zoom-min (%d) must be <= --zoom-max (%d)", zoomMin, zoomMax)
	}
	if zoomMin < cfg.MinZoom {
		zoomMin = cfg.MinZoom
	}
	if zoomMax > cfg.MaxZoom {
		zoomMax = cfg.MaxZoom
	}
	if zoomMin > zoomMax {
		return 0, 0, fmt.Errorf("zoom range does not overlap [%d,%d]", cfg.MinZoom, cfg.MaxZoom)
	}
	return zoomMin, zoomMax, nil
}

// parseBBox parses a bounding box string "minLon,minLat,maxLon,maxLat" into [4]float64.
func parseBBox(s string) ([4]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return [4]float64{}, fmt.Errorf("expected 4 comma-separated values, got %d", len(parts))
	}

	var bbox [4]float64
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return [4]float64{}, fmt.Errorf("invalid number at position %d: %w", i, err)
		}
		bbox[i] = val
	}

	if bbox[0] >= bbox[2] {
		return [4]float64{}, fmt.Errorf("minLon (%.4f) must be < maxLon (%.4f)", bbox[0], bbox[2])
	}
	if bbox[1] >= bbox[3] {
		return [4]float64{}, fmt.Errorf("minLat (%.4f) must be < maxLat (%.4f)", bbox[1], bbox[3])
	}
	if bbox[0] < -180 || bbox[2] > 180 || bbox[1] < -90 || bbox[3] > 90 {
		return [4]float64{}, fmt.Errorf("bbox %v outside WGS84 range", bbox)
	}

	return bbox, nil
}
