// internal/tile/fetcher_factory.go - Fetcher factory implementation
package tile

import (
	"context"
	"fmt"
	"os"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/config"
)

// FetcherFactory creates appropriate fetchers based on configuration
type FetcherFactory struct {
	config *config.Config
}

// NewFetcherFactory creates a new fetcher factory
func NewFetcherFactory(cfg *config.Config) *FetcherFactory {
	return &FetcherFactory{
		config: cfg,
	}
}

// CreateFetcher creates the fetcher for the resolved source type, wrapped
// in the document cache when a cache TTL is configured
func (f *FetcherFactory) CreateFetcher() (Fetcher, error) {
	return f.CreateFetcherForType(f.config.DetermineSourceType())
}

// CreateFetcherForType creates a fetcher for a specific source type
func (f *FetcherFactory) CreateFetcherForType(sourceType internal.SourceType) (Fetcher, error) {
	if err := f.ValidateConfiguration(sourceType); err != nil {
		return nil, err
	}

	var fetcher Fetcher
	switch sourceType {
	case internal.SourceTypeHTTP:
		fetcher = NewHTTPFetcher(f.config)
	case internal.SourceTypeLocal:
		fetcher = NewLocalFetcher(f.config)
	default:
		return nil, fmt.Errorf("unsupported source type: %s", sourceType)
	}

	return f.withCache(fetcher), nil
}

// CreateDocumentFetcher creates a fetcher that answers every tile request
// with the same GeoJSON document. The document is read once and cached.
func (f *FetcherFactory) CreateDocumentFetcher(path string) (Fetcher, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("document not found: %s", path), err)
	}

	ttl := f.config.Extract.CacheTTL
	if ttl <= 0 {
		ttl = defaultDocumentTTL
	}

	return &DocumentFetcher{
		path:  path,
		inner: NewCachingFetcher(NewLocalFetcher(f.config), ttl),
	}, nil
}

// ValidateConfiguration validates that the configuration supports the requested source type
func (f *FetcherFactory) ValidateConfiguration(sourceType internal.SourceType) error {
	switch sourceType {
	case internal.SourceTypeHTTP:
		if f.config.Server.BaseURL == "" {
			return internal.NewError(internal.ErrorCodeConfig, "base_url is required for HTTP source", nil)
		}
	case internal.SourceTypeLocal:
		if f.config.Local.BasePath == "" {
			return internal.NewError(internal.ErrorCodeConfig, "base_path is required for local source", nil)
		}
		info, err := os.Stat(f.config.Local.BasePath)
		if err != nil {
			return internal.NewError(internal.ErrorCodeFileSystem, "cannot access base_path", err)
		}
		if !info.IsDir() {
			return internal.NewError(internal.ErrorCodeConfig, fmt.Sprintf("base_path is not a directory: %s", f.config.Local.BasePath), nil)
		}
	default:
		return fmt.Errorf("unsupported source type: %s", sourceType)
	}

	return nil
}

// RequestFor builds the tile request for a coordinate under the resolved source type
func (f *FetcherFactory) RequestFor(coord *TileCoordinate) *TileRequest {
	url := ""
	if f.config.DetermineSourceType() == internal.SourceTypeHTTP {
		url = f.config.GetTileURL(coord.Z, coord.X, coord.Y)
	}
	return NewTileRequest(coord.Z, coord.X, coord.Y, url)
}

func (f *FetcherFactory) withCache(fetcher Fetcher) Fetcher {
	if f.config.Extract.CacheTTL <= 0 {
		return fetcher
	}
	return NewCachingFetcher(fetcher, f.config.Extract.CacheTTL)
}

// DocumentFetcher serves one shared GeoJSON document for every tile
type DocumentFetcher struct {
	path  string
	inner Fetcher
}

// Fetch returns the shared document for the requested tile
func (d *DocumentFetcher) Fetch(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	return d.fetch(ctx, request, d.inner.Fetch)
}

// FetchWithRetry returns the shared document for the requested tile
func (d *DocumentFetcher) FetchWithRetry(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	return d.fetch(ctx, request, d.inner.FetchWithRetry)
}

func (d *DocumentFetcher) fetch(ctx context.Context, request *TileRequest, fetch func(context.Context, *TileRequest) (*TileResponse, error)) (*TileResponse, error) {
	docRequest := *request
	docRequest.URL = d.path

	response, err := fetch(ctx, &docRequest)
	if response != nil {
		shared := *response
		shared.Request = request
		response = &shared
	}
	return response, err
}
