package tilelayer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/countrymap/internal/tile"
)

// DefaultFetchTimeout bounds a single tile request when the client has no timeout.
const DefaultFetchTimeout = 15 * time.Second

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// StatusError is returned for a tile response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile request %s: unexpected status %d", e.URL, e.StatusCode)
}

// URLFunc resolves the request URL for a tile.
type URLFunc func(tile.Coords) (string, error)

// HTTPFetcher downloads tile images over HTTP.
type HTTPFetcher struct {
	client *http.Client
	urlFor URLFunc
}

// NewHTTPFetcher builds a fetcher. A nil client gets DefaultFetchTimeout.
func NewHTTPFetcher(client *http.Client, urlFor URLFunc) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultFetchTimeout}
	}
	return &HTTPFetcher{client: client, urlFor: urlFor}
}

// Fetch implements worker.Fetcher. It accepts a 2xx response carrying an image
// content type, or a PNG body when the server sends no usable content type.
func (f *HTTPFetcher) Fetch(ctx context.Context, c tile.Coords) ([]byte, error) {
	u, err := f.urlFor(c)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tile request: %w", err)
	}
	req.Header.Set("Accept", "image/png,image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile request %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: u, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile %s: %w", u, err)
	}

	if !isImage(resp.Header.Get("Content-Type"), data) {
		return nil, fmt.Errorf("tile %s: response is not an image (content type %q)", u, resp.Header.Get("Content-Type"))
	}

	return data, nil
}

func isImage(contentType string, data []byte) bool {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil && strings.HasPrefix(mediaType, "image/") {
			return true
		}
		if err == nil && mediaType != "application/octet-stream" {
			return false
		}
	}
	return bytes.HasPrefix(data, pngMagic)
}
