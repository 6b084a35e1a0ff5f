package tilelayer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MeKo-Tech/countrymap/internal/tile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 1, 1))))
	return buf.Bytes()
}

func fixedURL(u string) URLFunc {
	return func(tile.Coords) (string, error) { return u, nil }
}

func TestHTTPFetcher(t *testing.T) {
	body := pngBytes(t)

	tests := []struct {
		name        string
		status      int
		contentType string
		body        []byte
		wantErr     bool
		wantStatus  int
	}{
		{"png", http.StatusOK, "image/png", body, false, 0},
		{"no content type", http.StatusOK, "", body, false, 0},
		{"octet stream png", http.StatusOK, "application/octet-stream", body, false, 0},
		{"html", http.StatusOK, "text/html; charset=utf-8", []byte("<html></html>"), true, 0},
		{"not found", http.StatusNotFound, "text/plain", []byte("missing"), true, http.StatusNotFound},
		{"server error", http.StatusInternalServerError, "image/png", body, true, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.contentType != "" {
					w.Header().Set("Content-Type", tt.contentType)
				} else {
					w.Header()["Content-Type"] = nil
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write(tt.body)
			}))
			defer srv.Close()

			f := NewHTTPFetcher(srv.Client(), fixedURL(srv.URL+"/api/map/0/0/0/tile.png"))
			data, err := f.Fetch(context.Background(), tile.NewCoords(0, 0, 0))

			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.body, data)
				return
			}

			require.Error(t, err)
			var statusErr *StatusError
			if tt.wantStatus != 0 {
				require.True(t, errors.As(err, &statusErr))
				assert.Equal(t, tt.wantStatus, statusErr.StatusCode)
			} else {
				assert.False(t, errors.As(err, &statusErr))
			}
		})
	}
}

func TestHTTPFetcherConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := NewHTTPFetcher(nil, fixedURL(addr+"/tile.png"))
	_, err := f.Fetch(context.Background(), tile.NewCoords(0, 0, 0))
	assert.Error(t, err)
}
