// Package loader fetches the country overlay asynchronously and merges it into a
// vector layer once the whole document has been decoded.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/geojson"
	"github.com/MeKo-Tech/countrymap/internal/overlay"
	"github.com/google/uuid"
	orbgeojson "github.com/paulmach/orb/geojson"
)

// DefaultURL is the static country boundary resource.
const DefaultURL = "/static/countries.geo.json"

// Target receives the decoded features. overlay.Layer satisfies it.
type Target interface {
	Merge(fc *orbgeojson.FeatureCollection) overlay.MergeStats
}

// Config configures a Loader.
type Config struct {
	// BaseURL resolves a relative URL. Empty means URL must be absolute.
	BaseURL string
	URL     string

	// MaxAttempts bounds the number of HTTP attempts for transient failures.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration

	Client *http.Client
	Logger *slog.Logger

	// OnComplete runs once per request after it reaches a terminal state. A panic
	// inside it is recovered and logged.
	OnComplete func(*Request)
}

// DefaultConfig returns the settings used by the page.
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Loader issues overlay requests.
type Loader struct {
	cfg    Config
	url    string
	client *http.Client
	logger *slog.Logger
}

// New validates cfg and resolves the resource URL.
func New(cfg Config) (*Loader, error) {
	if cfg.URL == "" {
		return nil, errors.New("overlay url must not be empty")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff < 0 {
		cfg.InitialBackoff = 0
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	resolved, err := resolve(cfg.BaseURL, cfg.URL)
	if err != nil {
		return nil, err
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &Loader{
		cfg:    cfg,
		url:    resolved,
		client: client,
		logger: cfg.Logger,
	}, nil
}

func resolve(base, ref string) (string, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid overlay url %q: %w", ref, err)
	}
	if base == "" {
		if !r.IsAbs() {
			return "", fmt.Errorf("overlay url %q is relative and no base url is set", ref)
		}
		return r.String(), nil
	}

	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", base, err)
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("base url %q must be absolute", base)
	}
	return b.ResolveReference(r).String(), nil
}

// URL returns the resolved resource address.
func (l *Loader) URL() string {
	return l.url
}

// Load starts fetching the overlay and returns immediately. The features are
// merged into target only after the body has been fully decoded; on any failure
// target is left untouched.
func (l *Loader) Load(ctx context.Context, target Target) *Request {
	req := newRequest(uuid.NewString(), l.url)
	req.start()

	logger := l.log().With("request_id", req.ID, "url", l.url)
	logger.Debug("overlay fetch issued")

	go l.run(ctx, req, target, logger)

	return req
}

func (l *Loader) run(ctx context.Context, req *Request, target Target, logger *slog.Logger) {
	var (
		stats overlay.MergeStats
		err   error
	)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("overlay load panicked: %v", r)
			logger.Error("overlay load panicked", "panic", r)
		}
		if req.complete(stats, err) {
			l.notify(req, logger)
		}
	}()

	body, err := l.fetch(ctx, req, logger)
	if err != nil {
		logger.Error("overlay fetch failed", "attempts", req.Attempts(), "error", err)
		return
	}

	fc, decodeErr := geojson.Decode(body)
	if decodeErr != nil {
		err = &ParseError{URL: l.url, Err: decodeErr}
		logger.Error("overlay parse failed", "bytes", len(body), "error", decodeErr)
		return
	}

	stats = target.Merge(fc)
	logger.Info("overlay loaded",
		"features", len(fc.Features),
		"added", stats.Added,
		"duplicates", stats.Duplicates,
		"attempts", req.Attempts(),
		"ms", req.Duration().Milliseconds(),
	)
}

func (l *Loader) notify(req *Request, logger *slog.Logger) {
	if l.cfg.OnComplete == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("overlay completion handler panicked", "panic", r)
		}
	}()
	l.cfg.OnComplete(req)
}

// fetch retries transient failures with exponential backoff while respecting
// context cancellation.
func (l *Loader) fetch(ctx context.Context, req *Request, logger *slog.Logger) ([]byte, error) {
	backoff := l.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= l.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, l.transportError(attempt-1, err)
		}

		req.setAttempts(attempt)
		body, err := l.fetchOnce(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !retryable(err) || attempt == l.cfg.MaxAttempts || ctx.Err() != nil {
			break
		}

		logger.Warn("overlay fetch failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, l.transportError(attempt, ctx.Err())
		case <-timer.C:
		}

		backoff *= 2
		if backoff > l.cfg.MaxBackoff {
			backoff = l.cfg.MaxBackoff
		}
	}

	return nil, l.transportError(req.Attempts(), lastErr)
}

func (l *Loader) transportError(attempts int, err error) *TransportError {
	te := &TransportError{URL: l.url, Attempts: attempts, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		te.StatusCode = se.Code
	}
	return te
}

func (l *Loader) fetchOnce(ctx context.Context) ([]byte, error) {
	if l.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.cfg.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &statusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (l *Loader) log() *slog.Logger {
	if l.logger != nil {
		return l.logger
	}
	return slog.Default()
}
