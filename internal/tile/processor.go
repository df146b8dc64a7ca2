// internal/tile/processor.go - GeoJSON tile extraction
package tile

import (
	"errors"
	"fmt"
	"time"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/pkg/geojson"
)

// GeoJSONProcessor implements the Processor interface by extracting fetched
// GeoJSON documents into tile-local layers
type GeoJSONProcessor struct {
	extractor *geojson.Extractor
	extent    uint32
}

// NewGeoJSONProcessor creates a processor with the default extractor and extent
func NewGeoJSONProcessor() *GeoJSONProcessor {
	return &GeoJSONProcessor{
		extractor: geojson.NewExtractor(),
		extent:    geojson.DefaultExtent,
	}
}

// NewGeoJSONProcessorWithExtractor creates a processor around a configured extractor
func NewGeoJSONProcessorWithExtractor(extractor *geojson.Extractor, extent uint32) (*GeoJSONProcessor, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if extent == 0 {
		return nil, fmt.Errorf("extent must be positive")
	}
	return &GeoJSONProcessor{
		extractor: extractor,
		extent:    extent,
	}, nil
}

// Extent returns the tile-local extent used for projection
func (p *GeoJSONProcessor) Extent() uint32 {
	return p.extent
}

// Process extracts a single fetched document for its tile
func (p *GeoJSONProcessor) Process(response *TileResponse) (*ProcessedTile, error) {
	start := time.Now()

	coordinate := &TileCoordinate{
		Z: response.Request.Z,
		X: response.Request.X,
		Y: response.Request.Y,
	}

	if response.Error != nil {
		return &ProcessedTile{
			Coordinate: coordinate,
			Error:      fmt.Errorf("tile fetch failed: %w", response.Error),
		}, response.Error
	}

	if len(response.Data) == 0 {
		emptyErr := internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("empty tile data for tile %s", coordinate), nil)
		return &ProcessedTile{Coordinate: coordinate, Error: emptyErr}, emptyErr
	}

	if err := ValidateCoordinates(coordinate.Z, coordinate.X, coordinate.Y); err != nil {
		coordErr := internal.NewError(internal.ErrorCodeValidation, "invalid tile coordinates", err)
		return &ProcessedTile{Coordinate: coordinate, Error: coordErr}, coordErr
	}

	tc := geojson.NewTileContext(coordinate.Tile(), p.extent)
	layer, err := p.extractor.ExtractDocument(response.Data, tc)
	if err != nil {
		code := internal.ErrorCodeProcessing
		if errors.Is(err, geojson.ErrMalformed) {
			code = internal.ErrorCodeMalformed
		}
		extractErr := internal.NewError(code, fmt.Sprintf("extraction failed for tile %s", coordinate), err)
		return &ProcessedTile{Coordinate: coordinate, Error: extractErr}, extractErr
	}

	return &ProcessedTile{
		Coordinate: coordinate,
		Layer:      layer,
		Metadata:   p.metadata(layer, response, time.Since(start)),
	}, nil
}

// ProcessBatch processes multiple tile responses, recording per-tile errors
// in the results instead of failing the batch
func (p *GeoJSONProcessor) ProcessBatch(responses []*TileResponse) ([]*ProcessedTile, error) {
	results := make([]*ProcessedTile, len(responses))

	for i, response := range responses {
		processed, err := p.Process(response)
		if err != nil && processed == nil {
			processed = &ProcessedTile{
				Coordinate: &TileCoordinate{
					Z: response.Request.Z,
					X: response.Request.X,
					Y: response.Request.Y,
				},
				Error: err,
			}
		}
		results[i] = processed
	}

	return results, nil
}

func (p *GeoJSONProcessor) metadata(layer *geojson.Layer, response *TileResponse, elapsed time.Duration) *TileMetadata {
	counts := layer.CountByType()
	return &TileMetadata{
		Layer:        layer.Name,
		FeatureCount: len(layer.Features),
		PointCount:   counts[geojson.GeometryPoints],
		LineCount:    counts[geojson.GeometryLines],
		PolygonCount: counts[geojson.GeometryPolygons],
		UnknownCount: counts[geojson.GeometryUnknown],
		VertexCount:  layer.VertexCount(),
		Size:         len(response.Data),
		ProcessTime:  elapsed,
		Extent:       p.extent,
		Compressed:   isCompressed(response.Headers),
		Cached:       response.Cached,
	}
}

// isCompressed checks if the document was compressed based on response headers
func isCompressed(headers map[string][]string) bool {
	if contentEncoding, exists := headers["Content-Encoding"]; exists {
		for _, encoding := range contentEncoding {
			if encoding == "gzip" || encoding == "deflate" {
				return true
			}
		}
	}
	return false
}
