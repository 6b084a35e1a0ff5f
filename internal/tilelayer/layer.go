// Package tilelayer implements the raster basemap layer. Tiles covering the
// viewport are requested from a URL template on a bounded worker pool, optionally
// through a persistent tile cache.
package tilelayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/countrymap/internal/tile"
	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/MeKo-Tech/countrymap/internal/worker"
)

// DefaultURLTemplate is the tile endpoint served next to the page.
const DefaultURLTemplate = "/api/map/{z}/{x}/{y}/tile.png"

// ErrZoomOutOfRange is returned for tiles outside the layer's zoom bounds.
var ErrZoomOutOfRange = errors.New("zoom out of range")

// Store is a tile cache. mbtiles.Store satisfies it.
type Store interface {
	ReadTile(z, x, y int) ([]byte, error)
	WriteTile(z, x, y int, data []byte) error
}

// Config configures a tile layer. It is immutable once the layer is built.
type Config struct {
	Name        string
	BaseURL     string
	URLTemplate string
	MinZoom     int
	MaxZoom     int
	TileSize    int
	Workers     int
}

// DefaultConfig returns the basemap settings: the local tile endpoint at zoom 0-18.
func DefaultConfig() Config {
	return Config{
		Name:        "basemap",
		URLTemplate: DefaultURLTemplate,
		MinZoom:     0,
		MaxZoom:     tile.MaxZoom,
		TileSize:    types.DefaultTileSize,
		Workers:     4,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if _, err := ParseTemplate(c.URLTemplate); err != nil {
		return err
	}
	if c.MinZoom < 0 || c.MaxZoom > tile.MaxZoom || c.MinZoom > c.MaxZoom {
		return fmt.Errorf("invalid zoom range [%d,%d], must lie within [0,%d]", c.MinZoom, c.MaxZoom, tile.MaxZoom)
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base url %q: %w", c.BaseURL, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base url %q must be absolute", c.BaseURL)
		}
	}
	return nil
}

// Stats counts what the layer has done so far.
type Stats struct {
	Requested  int64
	Loaded     int64
	Failed     int64
	CacheHits  int64
	Suppressed int64
}

// Layer is a raster tile layer.
type Layer struct {
	cfg      Config
	tmpl     Template
	base     *url.URL
	fetcher  worker.Fetcher
	store    Store
	pool     *worker.Pool
	logger   *slog.Logger
	loads    sync.WaitGroup
	mu       sync.Mutex
	loaded   map[tile.Coords][]byte
	inFlight map[tile.Coords]struct{}
	viewport types.Viewport

	requested  atomic.Int64
	loadedN    atomic.Int64
	failed     atomic.Int64
	cacheHits  atomic.Int64
	suppressed atomic.Int64
}

// New builds a tile layer. A nil fetcher downloads tiles over HTTP, a nil store
// disables caching.
func New(cfg Config, fetcher worker.Fetcher, store Store, logger *slog.Logger) (*Layer, error) {
	if cfg.Name == "" {
		cfg.Name = "basemap"
	}
	if cfg.TileSize <= 0 {
		cfg.TileSize = types.DefaultTileSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tile layer config: %w", err)
	}

	tmpl, err := ParseTemplate(cfg.URLTemplate)
	if err != nil {
		return nil, err
	}

	l := &Layer{
		cfg:      cfg,
		tmpl:     tmpl,
		store:    store,
		logger:   logger,
		loaded:   make(map[tile.Coords][]byte),
		inFlight: make(map[tile.Coords]struct{}),
	}
	if cfg.BaseURL != "" {
		l.base, _ = url.Parse(cfg.BaseURL)
	}
	if fetcher == nil {
		fetcher = NewHTTPFetcher(nil, l.URL)
	}
	l.fetcher = fetcher
	l.pool = worker.New(worker.Config{
		Workers: cfg.Workers,
		Fetcher: worker.FetcherFunc(l.fetchTile),
	})

	return l, nil
}

// Config returns the layer configuration.
func (l *Layer) Config() Config {
	return l.cfg
}

// LayerName implements mapview.Layer.
func (l *Layer) LayerName() string {
	return l.cfg.Name
}

// InZoomRange reports whether tiles at zoom z may be requested.
func (l *Layer) InZoomRange(z int) bool {
	return z >= l.cfg.MinZoom && z <= l.cfg.MaxZoom
}

// URL returns the address of a tile, resolved against the base URL when one is set.
func (l *Layer) URL(c tile.Coords) (string, error) {
	if !l.InZoomRange(int(c.Z)) {
		return "", fmt.Errorf("%w: tile %s outside [%d,%d]", ErrZoomOutOfRange, c, l.cfg.MinZoom, l.cfg.MaxZoom)
	}
	if !c.Valid() {
		return "", fmt.Errorf("invalid tile %s", c)
	}

	expanded := l.tmpl.Expand(c)
	if l.base == nil {
		return expanded, nil
	}
	ref, err := url.Parse(expanded)
	if err != nil {
		return "", fmt.Errorf("invalid tile url %q: %w", expanded, err)
	}
	return l.base.ResolveReference(ref).String(), nil
}

// ViewportChanged implements mapview.Layer. It starts loading the tiles covering
// v that are neither loaded nor in flight and returns without waiting. Viewports
// outside the zoom range issue no requests.
func (l *Layer) ViewportChanged(ctx context.Context, v types.Viewport) {
	l.mu.Lock()
	l.viewport = v
	l.mu.Unlock()

	if !l.InZoomRange(v.Zoom) {
		l.suppressed.Add(1)
		l.log().Debug("tile requests suppressed", "zoom", v.Zoom, "min_zoom", l.cfg.MinZoom, "max_zoom", l.cfg.MaxZoom)
		return
	}

	v.TileSize = l.cfg.TileSize
	tasks := l.claim(tile.Covering(v))
	if len(tasks) == 0 {
		return
	}

	l.log().Debug("loading tiles", "viewport", v.String(), "tiles", len(tasks))

	l.loads.Add(1)
	go func() {
		defer l.loads.Done()
		l.collect(tasks, l.pool.Run(ctx, tasks))
	}()
}

// Prefetch loads the given tiles synchronously, skipping tiles outside the zoom
// range. It is used to fill the cache ahead of time.
func (l *Layer) Prefetch(ctx context.Context, coords []tile.Coords, onProgress worker.ProgressFunc) []worker.Result {
	var inRange []tile.Coords
	for _, c := range coords {
		if l.InZoomRange(int(c.Z)) {
			inRange = append(inRange, c)
		} else {
			l.suppressed.Add(1)
		}
	}

	tasks := l.claim(inRange)
	pool := worker.New(worker.Config{
		Workers:    l.cfg.Workers,
		Fetcher:    worker.FetcherFunc(l.fetchTile),
		OnProgress: onProgress,
	})
	results := pool.Run(ctx, tasks)
	l.collect(tasks, results)
	return results
}

// claim marks tiles in flight and returns tasks for the ones nobody has loaded
// or is loading yet.
func (l *Layer) claim(coords []tile.Coords) []worker.Task {
	l.mu.Lock()
	defer l.mu.Unlock()

	var tasks []worker.Task
	for _, c := range coords {
		if _, ok := l.loaded[c]; ok {
			continue
		}
		if _, ok := l.inFlight[c]; ok {
			continue
		}
		l.inFlight[c] = struct{}{}
		tasks = append(tasks, worker.Task{Coords: c})
	}
	return tasks
}

// collect records results and releases every claimed tile, including tiles a
// cancelled run never reported, so the next viewport can claim them again.
func (l *Layer) collect(claimed []worker.Task, results []worker.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, task := range claimed {
		delete(l.inFlight, task.Coords)
	}
	for _, r := range results {
		c := r.Task.Coords
		if r.Err != nil {
			l.failed.Add(1)
			l.log().Warn("tile load failed", "tile", c.String(), "error", r.Err)
			continue
		}
		l.loaded[c] = r.Data
		l.loadedN.Add(1)
	}
}

func (l *Layer) fetchTile(ctx context.Context, c tile.Coords) ([]byte, error) {
	z, x, y := int(c.Z), int(c.X), int(c.Y)

	if l.store != nil {
		if data, err := l.store.ReadTile(z, x, y); err == nil {
			l.cacheHits.Add(1)
			return data, nil
		}
	}

	l.requested.Add(1)
	data, err := l.fetcher.Fetch(ctx, c)
	if err != nil {
		return nil, err
	}

	if l.store != nil {
		if err := l.store.WriteTile(z, x, y, data); err != nil {
			l.log().Warn("failed to cache tile", "tile", c.String(), "error", err)
		}
	}
	return data, nil
}

// Wait blocks until every load started by ViewportChanged has finished.
func (l *Layer) Wait() {
	l.loads.Wait()
}

// Tile returns a loaded tile's image bytes.
func (l *Layer) Tile(c tile.Coords) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, ok := l.loaded[c]
	return data, ok
}

// Tiles returns the loaded tiles covering v.
func (l *Layer) Tiles(v types.Viewport) map[tile.Coords][]byte {
	out := make(map[tile.Coords][]byte)
	if !l.InZoomRange(v.Zoom) {
		return out
	}
	v.TileSize = l.cfg.TileSize

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range tile.Covering(v) {
		if data, ok := l.loaded[c]; ok {
			out[c] = data
		}
	}
	return out
}

// Viewport returns the last viewport the layer was told about.
func (l *Layer) Viewport() types.Viewport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.viewport
}

// Stats returns a snapshot of the layer counters. Requested counts network
// requests only; cache hits are counted separately.
func (l *Layer) Stats() Stats {
	return Stats{
		Requested:  l.requested.Load(),
		Loaded:     l.loadedN.Load(),
		Failed:     l.failed.Load(),
		CacheHits:  l.cacheHits.Load(),
		Suppressed: l.suppressed.Load(),
	}
}

func (l *Layer) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}
