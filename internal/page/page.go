// Package page wires the map view, the basemap tile layer and the country
// overlay together and starts the overlay fetch.
package page

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MeKo-Tech/countrymap/internal/loader"
	"github.com/MeKo-Tech/countrymap/internal/mapview"
	"github.com/MeKo-Tech/countrymap/internal/overlay"
	"github.com/MeKo-Tech/countrymap/internal/render"
	"github.com/MeKo-Tech/countrymap/internal/tile"
	"github.com/MeKo-Tech/countrymap/internal/tilelayer"
	"github.com/MeKo-Tech/countrymap/internal/types"
	"github.com/MeKo-Tech/countrymap/internal/worker"
)

// Config describes the page.
type Config struct {
	ContainerID string
	Center      types.LatLng
	Zoom        int
	OverlayName string
	Tiles       tilelayer.Config
	Overlay     loader.Config
}

// DefaultConfig centers the map on London at zoom 3 in the "map" container.
func DefaultConfig() Config {
	return Config{
		ContainerID: "map",
		Center:      types.LatLng{Lat: 51.505, Lng: -0.09},
		Zoom:        3,
		OverlayName: "countries",
		Tiles:       tilelayer.DefaultConfig(),
		Overlay:     loader.DefaultConfig(),
	}
}

// Deps are the collaborators a page talks to. Every field is optional.
type Deps struct {
	TileFetcher worker.Fetcher
	TileStore   tilelayer.Store
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Page owns the objects created by Bootstrap.
type Page struct {
	Map     *mapview.MapView
	Tiles   *tilelayer.Layer
	Overlay *overlay.Layer

	loader *loader.Loader
	logger *slog.Logger

	mu      sync.Mutex
	request *loader.Request
}

// Bootstrap creates the map in the container, attaches the tile layer and the
// empty overlay, then issues the overlay fetch. It returns once the layers exist;
// the fetch completes in the background. A missing container is fatal and
// nothing is requested.
func Bootstrap(ctx context.Context, doc *mapview.Document, cfg Config, deps Deps) (*Page, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	m, err := mapview.New(doc, cfg.ContainerID, cfg.Center, cfg.Zoom, mapview.Options{
		MinZoom:      cfg.Tiles.MinZoom,
		MaxZoom:      cfg.Tiles.MaxZoom,
		ZoomRangeSet: true,
		TileSize:     cfg.Tiles.TileSize,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create map: %w", err)
	}

	var tiles *tilelayer.Layer
	fetcher := deps.TileFetcher
	if fetcher == nil && deps.HTTPClient != nil {
		fetcher = tilelayer.NewHTTPFetcher(deps.HTTPClient, func(c tile.Coords) (string, error) {
			return tiles.URL(c)
		})
	}
	tiles, err = tilelayer.New(cfg.Tiles, fetcher, deps.TileStore, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile layer: %w", err)
	}

	overlayCfg := cfg.Overlay
	if overlayCfg.Client == nil {
		overlayCfg.Client = deps.HTTPClient
	}
	if overlayCfg.Logger == nil {
		overlayCfg.Logger = logger
	}
	ld, err := loader.New(overlayCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay loader: %w", err)
	}

	name := cfg.OverlayName
	if name == "" {
		name = "countries"
	}

	p := &Page{
		Map:     m,
		Tiles:   tiles,
		Overlay: overlay.New(name),
		loader:  ld,
		logger:  logger,
	}

	m.AddLayer(ctx, p.Tiles)
	m.AddLayer(ctx, p.Overlay)
	p.request = ld.Load(ctx, p.Overlay)

	logger.Info("page bootstrapped",
		"container", cfg.ContainerID,
		"center", cfg.Center.String(),
		"zoom", m.Zoom(),
		"overlay_url", ld.URL(),
	)

	return p, nil
}

// OverlayRequest returns the latest overlay fetch.
func (p *Page) OverlayRequest() *loader.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.request
}

// ReloadOverlay fetches the overlay again. Features already on the layer are not
// duplicated.
func (p *Page) ReloadOverlay(ctx context.Context) *loader.Request {
	req := p.loader.Load(ctx, p.Overlay)
	p.mu.Lock()
	p.request = req
	p.mu.Unlock()
	return req
}

// Wait blocks until the overlay request and all tile loads have finished. It
// returns the overlay error, if any.
func (p *Page) Wait(ctx context.Context) error {
	tilesDone := make(chan struct{})
	go func() {
		p.Tiles.Wait()
		close(tilesDone)
	}()

	overlayErr := p.OverlayRequest().Wait(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	select {
	case <-tilesDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return overlayErr
}

// Snapshot renders the current viewport with whatever has loaded so far.
func (p *Page) Snapshot(opts render.Options) (*render.Result, error) {
	v := p.Map.Viewport()
	return render.Snapshot(v, p.Tiles.Tiles(v), p.Overlay.Visible(), opts)
}
