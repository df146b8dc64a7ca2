// internal/tile/fetcher.go - HTTP GeoJSON tile fetching
package tile

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/config"
)

// HTTPFetcher implements the Fetcher interface using HTTP requests
type HTTPFetcher struct {
	client    *http.Client
	config    *config.ServerConfig
	userAgent string
	backoff   func(attempt int) time.Duration
}

// NewHTTPFetcher creates a new HTTP-based tile fetcher
func NewHTTPFetcher(cfg *config.Config) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Network.MaxIdleConns,
		IdleConnTimeout:     cfg.Network.IdleConnTimeout,
		DisableKeepAlives:   cfg.Network.DisableKeepAlive,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     cfg.Batch.Concurrency,
	}

	if cfg.Network.ProxyURL != "" {
		if proxyURL, err := url.Parse(cfg.Network.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.Warn().Err(err).Str("proxy", cfg.Network.ProxyURL).Msg("ignoring invalid proxy URL")
		}
	}

	client := &http.Client{
		Timeout:   cfg.Server.Timeout,
		Transport: transport,
	}

	userAgent := cfg.Network.UserAgent
	if userAgent == "" {
		userAgent = "GeoJSONTiler/1.0"
	}

	return &HTTPFetcher{
		client:    client,
		config:    &cfg.Server,
		userAgent: userAgent,
		backoff:   quadraticBackoff,
	}
}

// Fetch retrieves a single GeoJSON tile from the configured server
func (f *HTTPFetcher) Fetch(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	start := time.Now()

	req, err := f.buildHTTPRequest(ctx, request)
	if err != nil {
		buildErr := internal.NewError(internal.ErrorCodeValidation, "failed to build HTTP request", err)
		return &TileResponse{Request: request, Error: buildErr}, buildErr
	}

	resp, err := f.client.Do(req)
	if err != nil {
		code := internal.ErrorCodeNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			code = internal.ErrorCodeTimeout
		}
		netErr := internal.NewError(code, "HTTP request failed", err)
		return &TileResponse{
			Request:   request,
			FetchTime: time.Since(start),
			Error:     netErr,
		}, netErr
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	compressed := strings.Contains(resp.Header.Get("Content-Encoding"), "gzip")
	if compressed {
		gzipReader, err := gzip.NewReader(resp.Body)
		if err != nil {
			gzErr := internal.NewError(internal.ErrorCodeProcessing, "failed to create gzip reader", err)
			return &TileResponse{
				Request:    request,
				StatusCode: resp.StatusCode,
				Headers:    resp.Header,
				FetchTime:  time.Since(start),
				Error:      gzErr,
			}, gzErr
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		readErr := internal.NewError(internal.ErrorCodeNetwork, "failed to read response body", err)
		return &TileResponse{
			Request:    request,
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
			FetchTime:  time.Since(start),
			Error:      readErr,
		}, readErr
	}

	response := &TileResponse{
		Request:    request,
		Data:       data,
		Headers:    resp.Header,
		StatusCode: resp.StatusCode,
		Size:       len(data),
		FetchTime:  time.Since(start),
	}

	if resp.StatusCode != http.StatusOK {
		code := internal.ErrorCodeNetwork
		if resp.StatusCode == http.StatusNotFound {
			code = internal.ErrorCodeNotFound
		}
		response.Error = internal.NewError(code, fmt.Sprintf("HTTP %d fetching %s", resp.StatusCode, request.URL), nil)
		return response, response.Error
	}

	return response, nil
}

// FetchWithRetry implements retry logic for failed tile requests
func (f *HTTPFetcher) FetchWithRetry(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	var lastResponse *TileResponse
	var lastErr error

	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Debug().Str("url", request.URL).Int("attempt", attempt).Msg("retrying tile fetch")
			if err := sleepContext(ctx, f.backoff(attempt)); err != nil {
				return lastResponse, internal.NewError(internal.ErrorCodeTimeout, "retry canceled", err)
			}
		}

		response, err := f.Fetch(ctx, request)
		if err == nil {
			return response, nil
		}

		lastResponse = response
		lastErr = err

		if !f.shouldRetry(response, err) {
			break
		}
	}

	return lastResponse, fmt.Errorf("failed after %d attempts: %w", f.config.MaxRetries+1, lastErr)
}

// buildHTTPRequest constructs an HTTP request from a tile request
func (f *HTTPFetcher) buildHTTPRequest(ctx context.Context, tileReq *TileRequest) (*http.Request, error) {
	if tileReq.URL == "" {
		return nil, fmt.Errorf("tile %d/%d/%d has no URL", tileReq.Z, tileReq.X, tileReq.Y)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tileReq.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	req.Header.Set("Accept", "application/geo+json, application/json")
	req.Header.Set("Accept-Encoding", "gzip")
	req.Header.Set("User-Agent", f.userAgent)

	if f.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.config.APIKey)
	}

	for key, value := range f.config.Headers {
		req.Header.Set(key, value)
	}

	for key, value := range tileReq.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

// shouldRetry determines whether a failed request should be retried
func (f *HTTPFetcher) shouldRetry(response *TileResponse, err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if internal.HasCode(err, internal.ErrorCodeValidation) || internal.HasCode(err, internal.ErrorCodeNotFound) {
		return false
	}

	if response == nil {
		return true
	}

	// Client errors (4xx) are final
	if response.StatusCode >= 400 && response.StatusCode < 500 {
		return false
	}

	return response.StatusCode >= 500 || response.StatusCode == 0
}

func quadraticBackoff(attempt int) time.Duration {
	return time.Duration(attempt*attempt) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
