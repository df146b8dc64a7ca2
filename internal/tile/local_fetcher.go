// internal/tile/local_fetcher.go - Local GeoJSON file fetching
package tile

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/config"
)

// LocalFetcher implements the Fetcher interface for local file system access
type LocalFetcher struct {
	config     *config.Config
	maxRetries int
}

// NewLocalFetcher creates a new local file fetcher
func NewLocalFetcher(cfg *config.Config) *LocalFetcher {
	return &LocalFetcher{
		config:     cfg,
		maxRetries: 2,
	}
}

// Fetch reads a GeoJSON tile document from the local file system
func (f *LocalFetcher) Fetch(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		ctxErr := internal.NewError(internal.ErrorCodeTimeout, "fetch canceled", err)
		return &TileResponse{Request: request, Error: ctxErr}, ctxErr
	}

	filePath, err := f.buildFilePath(request)
	if err != nil {
		pathErr := internal.NewError(internal.ErrorCodeValidation, "failed to build file path", err)
		return &TileResponse{Request: request, Error: pathErr}, pathErr
	}

	data, compressed, err := readDocument(filePath)
	if err != nil {
		return &TileResponse{
			Request:   request,
			FetchTime: time.Since(start),
			Error:     err,
		}, err
	}

	response := &TileResponse{
		Request:    request,
		Data:       data,
		StatusCode: 200,
		Size:       len(data),
		FetchTime:  time.Since(start),
	}

	// Pseudo-headers keep responses uniform with the HTTP fetcher
	response.Headers = make(map[string][]string)
	response.Headers["Content-Type"] = []string{"application/geo+json"}
	response.Headers["Content-Length"] = []string{fmt.Sprintf("%d", len(data))}
	if compressed {
		response.Headers["Content-Encoding"] = []string{"gzip"}
	}

	return response, nil
}

// FetchWithRetry retries transient file system failures
func (f *LocalFetcher) FetchWithRetry(ctx context.Context, request *TileRequest) (*TileResponse, error) {
	var lastResponse *TileResponse
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, time.Duration(attempt*100)*time.Millisecond); err != nil {
				return lastResponse, internal.NewError(internal.ErrorCodeTimeout, "retry canceled", err)
			}
		}

		response, err := f.Fetch(ctx, request)
		if err == nil {
			return response, nil
		}

		lastResponse = response
		lastErr = err

		if !f.shouldRetry(err) {
			break
		}
	}

	return lastResponse, fmt.Errorf("failed after %d attempts: %w", f.maxRetries+1, lastErr)
}

// buildFilePath resolves the file for a request. An explicit URL is treated
// as a path, relative paths resolve against the base path.
func (f *LocalFetcher) buildFilePath(request *TileRequest) (string, error) {
	if request.URL != "" {
		if filepath.IsAbs(request.URL) || f.config.Local.BasePath == "" {
			return request.URL, nil
		}
		return filepath.Join(f.config.Local.BasePath, request.URL), nil
	}

	if f.config.Local.BasePath == "" {
		return "", fmt.Errorf("base_path is required for coordinate-based file paths")
	}

	if err := ValidateCoordinates(request.Z, request.X, request.Y); err != nil {
		return "", fmt.Errorf("invalid coordinates: %w", err)
	}

	return f.config.GetTilePath(request.Z, request.X, request.Y), nil
}

// shouldRetry determines if a failed local file access should be retried
func (f *LocalFetcher) shouldRetry(err error) bool {
	for _, code := range []string{
		internal.ErrorCodeNotFound,
		internal.ErrorCodePermission,
		internal.ErrorCodeValidation,
		internal.ErrorCodeProcessing,
		internal.ErrorCodeTimeout,
	} {
		if internal.HasCode(err, code) {
			return false
		}
	}
	return true
}

// ListAvailableTiles scans the local directory structure for z/x/y tile documents
func (f *LocalFetcher) ListAvailableTiles() ([]*TileCoordinate, error) {
	if f.config.Local.BasePath == "" {
		return nil, fmt.Errorf("base_path is required for tile listing")
	}

	var tiles []*TileCoordinate
	err := filepath.Walk(f.config.Local.BasePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		coords, err := f.parseCoordinatesFromPath(path)
		if err != nil {
			// Files outside the z/x/y layout are ignored
			return nil
		}

		tiles = append(tiles, coords)
		return nil
	})
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to scan tile directory", err)
	}

	return tiles, nil
}

// parseCoordinatesFromPath extracts tile coordinates from a file path
func (f *LocalFetcher) parseCoordinatesFromPath(filePath string) (*TileCoordinate, error) {
	relPath, err := filepath.Rel(f.config.Local.BasePath, filePath)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(filepath.ToSlash(relPath), "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid path structure: %s", relPath)
	}

	name := parts[2]
	extension := f.config.Local.Extension
	switch {
	case strings.HasSuffix(name, extension+".gz"):
		name = strings.TrimSuffix(name, extension+".gz")
	case strings.HasSuffix(name, extension):
		name = strings.TrimSuffix(name, extension)
	default:
		return nil, fmt.Errorf("unexpected extension: %s", parts[2])
	}

	return ParseTileCoordinate(parts[0] + "/" + parts[1] + "/" + name)
}

// readDocument reads a file, transparently gunzipping .gz files
func readDocument(filePath string) ([]byte, bool, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("tile file not found: %s", filePath), err)
		}
		if os.IsPermission(err) {
			return nil, false, internal.NewError(internal.ErrorCodePermission, fmt.Sprintf("cannot access tile file: %s", filePath), err)
		}
		return nil, false, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("cannot access tile file: %s", filePath), err)
	}

	if !fileInfo.Mode().IsRegular() {
		return nil, false, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("path is not a regular file: %s", filePath), nil)
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, false, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to open tile file: %s", filePath), err)
	}
	defer file.Close()

	var reader io.Reader = file
	compressed := strings.HasSuffix(strings.ToLower(filePath), ".gz")
	if compressed {
		gzipReader, err := gzip.NewReader(file)
		if err != nil {
			return nil, true, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to create gzip reader for: %s", filePath), err)
		}
		defer gzipReader.Close()
		reader = gzipReader
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, compressed, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to read tile file: %s", filePath), err)
	}
	return data, compressed, nil
}
