package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/overlay"
	"github.com/paulmach/orb"
	orbgeojson "github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onePoint = `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}]}`

func collectionJSON(n int) string {
	features := make([]string, n)
	for i := range features {
		features[i] = fmt.Sprintf(`{"type":"Feature","id":"c%d","geometry":{"type":"Point","coordinates":[%d,%d]},"properties":{"name":"country %d"}}`, i, i, i, i)
	}
	return `{"type":"FeatureCollection","features":[` + strings.Join(features, ",") + `]}`
}

func serve(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func geojsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(body))
	}
}

func testConfig(base string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = base
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 5 * time.Millisecond
	cfg.Timeout = 5 * time.Second
	return cfg
}

func load(t *testing.T, cfg Config, target Target) *Request {
	t.Helper()
	l, err := New(cfg)
	require.NoError(t, err)

	req := l.Load(context.Background(), target)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = req.Wait(ctx)
	require.True(t, req.State().Terminal(), "request did not complete")
	return req
}

func TestNewResolvesURL(t *testing.T) {
	l, err := New(Config{BaseURL: "http://127.0.0.1:8000/", URL: DefaultURL})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8000/static/countries.geo.json", l.URL())

	l, err = New(Config{URL: "https://example.com/c.geo.json"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/c.geo.json", l.URL())

	_, err = New(Config{URL: DefaultURL})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = New(Config{BaseURL: "relative/base", URL: DefaultURL})
	assert.Error(t, err)
}

func TestLoadMergesAllFeatures(t *testing.T) {
	srv := serve(t, geojsonHandler(collectionJSON(5)))
	layer := overlay.New("countries")

	req := load(t, testConfig(srv.URL), layer)

	require.NoError(t, req.Err())
	assert.Equal(t, CompletedSuccess, req.State())
	assert.Equal(t, 1, req.Attempts())
	assert.Equal(t, overlay.MergeStats{Added: 5}, req.Stats())
	require.Equal(t, 5, layer.Len())

	for i, f := range layer.Features() {
		assert.Equal(t, orb.Point{float64(i), float64(i)}, f.Geometry)
		assert.Equal(t, fmt.Sprintf("country %d", i), f.Properties["name"])
	}
}

func TestLoadKeepsFeaturesSharingAnID(t *testing.T) {
	body := `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","id":"-99","geometry":{"type":"Point","coordinates":[10,10]},"properties":{"name":"Northern Cyprus"}},` +
		`{"type":"Feature","id":"-99","geometry":{"type":"Point","coordinates":[20,20]},"properties":{"name":"Somaliland"}},` +
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}},` +
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]},"properties":{}}]}`
	srv := serve(t, geojsonHandler(body))
	layer := overlay.New("countries")

	req := load(t, testConfig(srv.URL), layer)

	require.NoError(t, req.Err())
	assert.Equal(t, overlay.MergeStats{Added: 4}, req.Stats())
	require.Equal(t, 4, layer.Len())
	assert.Equal(t, "Somaliland", layer.Features()[1].Properties["name"])
}

func TestLoadReturnsBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		geojsonHandler(onePoint)(w, r)
	})

	l, err := New(testConfig(srv.URL))
	require.NoError(t, err)
	layer := overlay.New("countries")

	req := l.Load(context.Background(), layer)
	assert.Equal(t, Requested, req.State())
	assert.NotEmpty(t, req.ID)
	assert.Zero(t, layer.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, req.Wait(ctx), context.DeadlineExceeded)
	cancel()

	close(release)
	<-req.Done()
	assert.Equal(t, CompletedSuccess, req.State())
	assert.Equal(t, 1, layer.Len())
}

func TestLoadMalformedBody(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature"`))
	})
	layer := overlay.New("countries")

	req := load(t, testConfig(srv.URL), layer)

	assert.Equal(t, CompletedFailure, req.State())
	assert.True(t, errors.Is(req.Err(), ErrParse))
	assert.False(t, errors.Is(req.Err(), ErrTransport))

	var pe *ParseError
	require.ErrorAs(t, req.Err(), &pe)
	assert.Equal(t, srv.URL+DefaultURL, pe.URL)

	assert.Zero(t, layer.Len())
	assert.Equal(t, int32(1), hits.Load(), "parse failures are not retried")
}

func TestLoadServerErrorIsRetriedThenFails(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	layer := overlay.New("countries")

	req := load(t, testConfig(srv.URL), layer)

	assert.Equal(t, CompletedFailure, req.State())
	require.ErrorIs(t, req.Err(), ErrTransport)

	var te *TransportError
	require.ErrorAs(t, req.Err(), &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Zero(t, layer.Len())
}

func TestLoadClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	})

	req := load(t, testConfig(srv.URL), overlay.New("countries"))

	var te *TransportError
	require.ErrorAs(t, req.Err(), &te)
	assert.Equal(t, http.StatusNotFound, te.StatusCode)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoadConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	cfg := testConfig(base)
	cfg.MaxAttempts = 2
	layer := overlay.New("countries")

	req := load(t, cfg, layer)

	assert.Equal(t, CompletedFailure, req.State())
	assert.ErrorIs(t, req.Err(), ErrTransport)
	assert.Equal(t, 2, req.Attempts())
	assert.Zero(t, layer.Len())
}

func TestLoadRetryDoesNotDuplicate(t *testing.T) {
	var hits atomic.Int32
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		geojsonHandler(collectionJSON(3))(w, r)
	})
	layer := overlay.New("countries")

	req := load(t, testConfig(srv.URL), layer)
	require.NoError(t, req.Err())
	assert.Equal(t, 2, req.Attempts())
	assert.Equal(t, 3, layer.Len())

	again := load(t, testConfig(srv.URL), layer)
	require.NoError(t, again.Err())
	assert.Equal(t, overlay.MergeStats{Duplicates: 3}, again.Stats())
	assert.Equal(t, 3, layer.Len())
}

func TestLoadCancelledDuringBackoff(t *testing.T) {
	srv := serve(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	})

	cfg := testConfig(srv.URL)
	cfg.InitialBackoff = time.Hour
	cfg.MaxBackoff = time.Hour
	l, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := l.Load(ctx, overlay.New("countries"))

	require.Eventually(t, func() bool { return req.Attempts() == 1 }, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case <-req.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("request did not complete after cancel")
	}
	assert.ErrorIs(t, req.Err(), ErrTransport)
	assert.ErrorIs(t, req.Err(), context.Canceled)
}

func TestOnCompletePanicIsRecovered(t *testing.T) {
	srv := serve(t, geojsonHandler(onePoint))

	var calls atomic.Int32
	cfg := testConfig(srv.URL)
	cfg.OnComplete = func(r *Request) {
		calls.Add(1)
		panic("handler bug")
	}

	req := load(t, cfg, overlay.New("countries"))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, CompletedSuccess, req.State())
	assert.NoError(t, req.Err())
}

type panickingTarget struct{}

func (panickingTarget) Merge(*orbgeojson.FeatureCollection) overlay.MergeStats {
	panic("merge exploded")
}

func TestTargetPanicCompletesWithFailure(t *testing.T) {
	srv := serve(t, geojsonHandler(onePoint))

	req := load(t, testConfig(srv.URL), panickingTarget{})
	assert.Equal(t, CompletedFailure, req.State())
	assert.Error(t, req.Err())
}

func TestOnePointEndToEnd(t *testing.T) {
	srv := serve(t, geojsonHandler(onePoint))
	layer := overlay.New("countries")

	req := load(t, testConfig(srv.URL), layer)
	require.NoError(t, req.Err())

	features := layer.Features()
	require.Len(t, features, 1)
	assert.Equal(t, orb.Point{0, 0}, features[0].Geometry)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "requested", Requested.String())
	assert.Equal(t, "completed_success", CompletedSuccess.String())
	assert.Equal(t, "completed_failure", CompletedFailure.String())
	assert.False(t, Requested.Terminal())
	assert.True(t, CompletedFailure.Terminal())
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&statusError{Code: 500}))
	assert.True(t, retryable(&statusError{Code: 429}))
	assert.False(t, retryable(&statusError{Code: 404}))
	assert.False(t, retryable(context.Canceled))
	assert.False(t, retryable(errors.New("plain")))
}
