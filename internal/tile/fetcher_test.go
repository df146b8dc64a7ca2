// internal/tile/fetcher_test.go - Unit tests for the HTTP fetcher
package tile

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/config"
)

const sampleDocument = `{"type":"FeatureCollection","features":[
	{"type":"Feature","geometry":{"type":"Point","coordinates":[2.2945,48.8584]},"properties":{"height":300,"name":"tower"}}
]}`

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Timeout:     5 * time.Second,
			MaxRetries:  2,
			URLTemplate: "{base_url}/{z}/{x}/{y}.json",
		},
		Local:   config.LocalConfig{Extension: ".geojson"},
		Source:  config.SourceConfig{Type: "auto", DefaultType: "http", AutoDetect: true},
		Batch:   config.BatchConfig{Concurrency: 4},
		Network: config.NetworkConfig{UserAgent: "test-agent", MaxIdleConns: 10},
		Extract: config.ExtractConfig{Extent: 4096, LayerName: "geojson"},
	}
}

func noBackoff(int) time.Duration { return 0 }

func TestHTTPFetcherFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("Expected user agent test-agent, got %s", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Expected bearer token, got %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Write([]byte(sampleDocument))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Server.BaseURL = server.URL
	cfg.Server.APIKey = "secret"
	fetcher := NewHTTPFetcher(cfg)

	resp, err := fetcher.Fetch(context.Background(), NewTileRequest(16, 33185, 22545, cfg.GetTileURL(16, 33185, 22545)))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(resp.Data) != sampleDocument {
		t.Errorf("Unexpected body: %s", resp.Data)
	}
}

func TestHTTPFetcherGzip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(sampleDocument))
		gz.Close()
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Server.BaseURL = server.URL
	fetcher := NewHTTPFetcher(cfg)

	resp, err := fetcher.Fetch(context.Background(), NewTileRequest(0, 0, 0, server.URL+"/0/0/0.json"))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(resp.Data) != sampleDocument {
		t.Errorf("Expected decompressed document, got %s", resp.Data)
	}
}

func TestHTTPFetcherRetry(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		expectedCalls int32
		expectedCode  string
	}{
		{"server error retries", http.StatusServiceUnavailable, 3, internal.ErrorCodeNetwork},
		{"not found is final", http.StatusNotFound, 1, internal.ErrorCodeNotFound},
		{"client error is final", http.StatusForbidden, 1, internal.ErrorCodeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			cfg := testConfig()
			cfg.Server.BaseURL = server.URL
			fetcher := NewHTTPFetcher(cfg)
			fetcher.backoff = noBackoff

			_, err := fetcher.FetchWithRetry(context.Background(), NewTileRequest(0, 0, 0, server.URL+"/0/0/0.json"))
			if err == nil {
				t.Fatal("Expected error but got none")
			}
			if got := atomic.LoadInt32(&calls); got != tt.expectedCalls {
				t.Errorf("Expected %d calls, got %d", tt.expectedCalls, got)
			}
			if !internal.HasCode(err, tt.expectedCode) {
				t.Errorf("Expected code %s, got %v", tt.expectedCode, err)
			}
		})
	}
}

func TestHTTPFetcherRetryRecovers(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleDocument))
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Server.BaseURL = server.URL
	fetcher := NewHTTPFetcher(cfg)
	fetcher.backoff = noBackoff

	resp, err := fetcher.FetchWithRetry(context.Background(), NewTileRequest(0, 0, 0, server.URL+"/0/0/0.json"))
	if err != nil {
		t.Fatalf("Expected recovery after retry, got %v", err)
	}
	if resp.Size != len(sampleDocument) {
		t.Errorf("Expected size %d, got %d", len(sampleDocument), resp.Size)
	}
}

func TestHTTPFetcherCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Server.BaseURL = server.URL
	fetcher := NewHTTPFetcher(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := fetcher.FetchWithRetry(ctx, NewTileRequest(0, 0, 0, server.URL+"/0/0/0.json")); err == nil {
		t.Error("Expected error for canceled context")
	}
}

func TestHTTPFetcherMissingURL(t *testing.T) {
	fetcher := NewHTTPFetcher(testConfig())

	_, err := fetcher.Fetch(context.Background(), NewTileRequest(1, 0, 0, ""))
	if !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("Expected VALIDATION_ERROR, got %v", err)
	}
}
