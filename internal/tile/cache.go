// internal/tile/cache.go - TTL cache in front of a fetcher
package tile

import (
	"context"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// defaultDocumentTTL keeps a shared document for the length of a typical batch run
const defaultDocumentTTL = time.Hour

// CachingFetcher serves repeated document requests from an in-memory TTL cache.
// Only successful responses are cached.
type CachingFetcher struct {
	inner Fetcher
	cache *gocache.Cache
}

type cachedDocument struct {
	data    []byte
	headers http.Header
}

// NewCachingFetcher wraps a fetcher with a cache whose entries expire after ttl
func NewCachingFetcher(inner Fetcher, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Fetch returns a cached document or fetches it once from the wrapped fetcher
func (c *CachingFetcher) Fetch(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	return c.fetch(ctx, request, c.inner.Fetch)
}

// FetchWithRetry returns a cached document or fetches it with the wrapped fetcher's retry policy
func (c *CachingFetcher) FetchWithRetry(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	return c.fetch(ctx, request, c.inner.FetchWithRetry)
}

// Len returns the number of cached documents
func (c *CachingFetcher) Len() int {
	return c.cache.ItemCount()
}

func (c *CachingFetcher) fetch(ctx context.Context, request *TileRequest, fetch func(context.Context, *TileRequest) (*TileResponse, error)) (*TileResponse, error) {
	key := cacheKey(request)

	if v, ok := c.cache.Get(key); ok {
		doc := v.(*cachedDocument)
		log.Debug().Str("key", key).Msg("document cache hit")
		return &TileResponse{
			Request:    request,
			Data:       doc.data,
			Headers:    doc.headers,
			StatusCode: http.StatusOK,
			Size:       len(doc.data),
			Cached:     true,
		}, nil
	}

	response, err := fetch(ctx, request)
	if err != nil {
		return response, err
	}

	c.cache.SetDefault(key, &cachedDocument{data: response.Data, headers: response.Headers})
	return response, nil
}

func cacheKey(request *TileRequest) string {
	if request.URL != "" {
		return request.URL
	}
	return NewTileCoordinate(request.Z, request.X, request.Y).String()
}
