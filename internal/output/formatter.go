// internal/output/formatter.go - Output formatting implementation
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	orbgeojson "github.com/paulmach/orb/geojson"

	"github.com/valpere/geojson_tiler/internal/tile"
	"github.com/valpere/geojson_tiler/pkg/geojson"
	"github.com/valpere/geojson_tiler/pkg/mvt"
)

// GeoJSONFormatter formats tiles as tile-local GeoJSON FeatureCollections
type GeoJSONFormatter struct {
	pretty       bool
	includeStats bool
}

// NewGeoJSONFormatter creates a new GeoJSON formatter
func NewGeoJSONFormatter(pretty, includeStats bool) *GeoJSONFormatter {
	return &GeoJSONFormatter{
		pretty:       pretty,
		includeStats: includeStats,
	}
}

// Format formats a single processed tile as GeoJSON
func (f *GeoJSONFormatter) Format(t *tile.ProcessedTile) ([]byte, error) {
	if t.Error != nil {
		return nil, fmt.Errorf("cannot format tile with error: %w", t.Error)
	}
	if t.Layer == nil {
		return nil, fmt.Errorf("tile %s has no layer", t.Coordinate)
	}

	fc := t.Layer.FeatureCollection()
	if f.includeStats && t.Metadata != nil {
		fc.ExtraMembers = map[string]interface{}{
			"_metadata": map[string]interface{}{
				"tile":          t.Coordinate.String(),
				"layer":         t.Metadata.Layer,
				"feature_count": t.Metadata.FeatureCount,
				"vertex_count":  t.Metadata.VertexCount,
				"size_bytes":    t.Metadata.Size,
				"process_time":  t.Metadata.ProcessTime.String(),
				"extent":        t.Metadata.Extent,
			},
		}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature collection: %w", err)
	}
	return f.indent(data)
}

// FormatBatch formats multiple tiles as a single FeatureCollection.
// Coordinates stay local to each feature's own tile.
func (f *GeoJSONFormatter) FormatBatch(tiles []*tile.ProcessedTile) ([]byte, error) {
	fc := orbgeojson.NewFeatureCollection()
	var failedTiles int

	for _, t := range tiles {
		if t.Error != nil || t.Layer == nil {
			failedTiles++
			continue
		}
		for _, feature := range t.Layer.FeatureCollection().Features {
			if f.includeStats {
				feature.Properties["_tile"] = t.Coordinate.String()
			}
			fc.Append(feature)
		}
	}

	if f.includeStats {
		fc.ExtraMembers = map[string]interface{}{
			"_metadata": map[string]interface{}{
				"total_tiles":     len(tiles),
				"processed_tiles": len(tiles) - failedTiles,
				"failed_tiles":    failedTiles,
				"total_features":  len(fc.Features),
				"generated_at":    time.Now().UTC(),
			},
		}
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feature collection: %w", err)
	}
	return f.indent(data)
}

// ContentType returns the MIME type for GeoJSON
func (f *GeoJSONFormatter) ContentType() string {
	return "application/geo+json"
}

// Extension returns the file extension for GeoJSON
func (f *GeoJSONFormatter) Extension() string {
	return ".geojson"
}

func (f *GeoJSONFormatter) indent(data []byte) ([]byte, error) {
	if !f.pretty {
		return data, nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JSONFormatter formats tiles as the extracted layer structure
type JSONFormatter struct {
	pretty       bool
	includeStats bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter(pretty, includeStats bool) *JSONFormatter {
	return &JSONFormatter{
		pretty:       pretty,
		includeStats: includeStats,
	}
}

type jsonFeature struct {
	GeometryType string             `json:"geometry_type"`
	Points       []orb.Point        `json:"points,omitempty"`
	Lines        []orb.LineString   `json:"lines,omitempty"`
	Polygons     []orb.Polygon      `json:"polygons,omitempty"`
	Properties   geojson.Properties `json:"properties"`
}

type jsonLayer struct {
	Name     string        `json:"name"`
	Features []jsonFeature `json:"features"`
}

type jsonTile struct {
	Coordinate *tile.TileCoordinate `json:"coordinate"`
	Layer      *jsonLayer           `json:"layer"`
	Metadata   *tile.TileMetadata   `json:"metadata,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func (f *JSONFormatter) toJSON(t *tile.ProcessedTile) *jsonTile {
	out := &jsonTile{Coordinate: t.Coordinate}
	if t.Error != nil {
		out.Error = t.Error.Error()
		return out
	}

	if t.Layer != nil {
		layer := &jsonLayer{Name: t.Layer.Name, Features: make([]jsonFeature, 0, len(t.Layer.Features))}
		for _, feat := range t.Layer.Features {
			layer.Features = append(layer.Features, jsonFeature{
				GeometryType: feat.GeometryType.String(),
				Points:       feat.Points,
				Lines:        feat.Lines,
				Polygons:     feat.Polygons,
				Properties:   feat.Props,
			})
		}
		out.Layer = layer
	}

	if f.includeStats {
		out.Metadata = t.Metadata
	}
	return out
}

// Format formats a single tile as a JSON object
func (f *JSONFormatter) Format(t *tile.ProcessedTile) ([]byte, error) {
	return f.marshal(f.toJSON(t))
}

// FormatBatch formats multiple tiles as a JSON array
func (f *JSONFormatter) FormatBatch(tiles []*tile.ProcessedTile) ([]byte, error) {
	output := make([]*jsonTile, 0, len(tiles))
	for _, t := range tiles {
		output = append(output, f.toJSON(t))
	}

	result := map[string]interface{}{
		"tiles": output,
	}

	if f.includeStats {
		var success, failed int
		for _, t := range tiles {
			if t.Error != nil {
				failed++
			} else {
				success++
			}
		}
		result["summary"] = map[string]interface{}{
			"total_tiles":   len(tiles),
			"success_tiles": success,
			"failed_tiles":  failed,
			"generated_at":  time.Now().UTC(),
		}
	}

	return f.marshal(result)
}

func (f *JSONFormatter) marshal(v interface{}) ([]byte, error) {
	if f.pretty {
		return json.MarshalIndent(v, "", "  ")
	}
	return json.Marshal(v)
}

// ContentType returns the MIME type for JSON
func (f *JSONFormatter) ContentType() string {
	return "application/json"
}

// Extension returns the file extension for JSON
func (f *JSONFormatter) Extension() string {
	return ".json"
}

// MVTFormatter formats tiles as Mapbox Vector Tiles
type MVTFormatter struct {
	encoder *mvt.Encoder
}

// NewMVTFormatter creates a new vector tile formatter
func NewMVTFormatter(extent uint32, options *mvt.EncodeOptions) (*MVTFormatter, error) {
	encoder, err := mvt.NewEncoderWithOptions(extent, options)
	if err != nil {
		return nil, err
	}
	return &MVTFormatter{encoder: encoder}, nil
}

// Format encodes a single tile's layer
func (f *MVTFormatter) Format(t *tile.ProcessedTile) ([]byte, error) {
	if t.Error != nil {
		return nil, fmt.Errorf("cannot format tile with error: %w", t.Error)
	}
	if t.Layer == nil {
		return nil, fmt.Errorf("tile %s has no layer", t.Coordinate)
	}
	return f.encoder.Encode(t.Layer)
}

// FormatBatch is unsupported since a vector tile covers exactly one tile
func (f *MVTFormatter) FormatBatch(tiles []*tile.ProcessedTile) ([]byte, error) {
	return nil, fmt.Errorf("mvt output cannot combine %d tiles into one file, write tiles separately", len(tiles))
}

// ContentType returns the MIME type for vector tiles
func (f *MVTFormatter) ContentType() string {
	return "application/vnd.mapbox-vector-tile"
}

// Extension returns the file extension for vector tiles
func (f *MVTFormatter) Extension() string {
	return ".mvt"
}

// NewFormatter creates a formatter based on the specified configuration
func NewFormatter(config *FormatterConfig) (Formatter, error) {
	switch config.Format {
	case FormatGeoJSON:
		return NewGeoJSONFormatter(config.Pretty, config.IncludeStats), nil
	case FormatJSON:
		return NewJSONFormatter(config.Pretty, config.IncludeStats), nil
	case FormatMVT:
		formatter, err := NewMVTFormatter(config.Extent, &mvt.EncodeOptions{
			SimplifyGeometry:  config.Simplify,
			SimplifyTolerance: config.SimplifyTolerance,
			RemoveEmpty:       config.Simplify,
			Gzip:              config.Gzip,
		})
		if err != nil {
			return nil, err
		}
		return formatter, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", config.Format)
	}
}

// FormatSingle is a convenience function to format a single tile
func FormatSingle(t *tile.ProcessedTile, format Format, pretty bool) ([]byte, error) {
	formatter, err := NewFormatter(&FormatterConfig{
		Format: format,
		Pretty: pretty,
		Extent: geojson.DefaultExtent,
	})
	if err != nil {
		return nil, err
	}

	return formatter.Format(t)
}
