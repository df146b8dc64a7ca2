// internal/tile/types.go - Tile processing types
package tile

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/valpere/geojson_tiler/pkg/geojson"
)

// MaxZoom is the deepest zoom level accepted for tile coordinates
const MaxZoom = 22

// TileRequest represents a request for a specific GeoJSON tile.
// URL is a remote address for HTTP sources and a file path for local sources.
type TileRequest struct {
	Z       int               `json:"z"`
	X       int               `json:"x"`
	Y       int               `json:"y"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// TileResponse represents the raw document returned for a tile request
type TileResponse struct {
	Request    *TileRequest  `json:"request"`
	Data       []byte        `json:"data"`
	Headers    http.Header   `json:"headers"`
	StatusCode int           `json:"status_code"`
	Size       int           `json:"size"`
	FetchTime  time.Duration `json:"fetch_time"`
	Cached     bool          `json:"cached"`
	Error      error         `json:"error,omitempty"`
}

// TileCoordinate represents a tile coordinate in the tile pyramid
type TileCoordinate struct {
	Z int `json:"z" yaml:"z"`
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// TileRange represents a range of tiles to be processed
type TileRange struct {
	MinZ int `json:"min_z" yaml:"min_z"`
	MaxZ int `json:"max_z" yaml:"max_z"`
	MinX int `json:"min_x" yaml:"min_x"`
	MaxX int `json:"max_x" yaml:"max_x"`
	MinY int `json:"min_y" yaml:"min_y"`
	MaxY int `json:"max_y" yaml:"max_y"`
}

// ProcessedTile represents a tile after extraction into tile-local geometry
type ProcessedTile struct {
	Coordinate *TileCoordinate `json:"coordinate"`
	Layer      *geojson.Layer  `json:"layer"`
	Metadata   *TileMetadata   `json:"metadata"`
	Error      error           `json:"error,omitempty"`
}

// TileMetadata contains metadata about the processed tile
type TileMetadata struct {
	Layer        string        `json:"layer"`
	FeatureCount int           `json:"feature_count"`
	PointCount   int           `json:"point_features"`
	LineCount    int           `json:"line_features"`
	PolygonCount int           `json:"polygon_features"`
	UnknownCount int           `json:"unknown_features"`
	VertexCount  int           `json:"vertex_count"`
	Size         int           `json:"size"`
	ProcessTime  time.Duration `json:"process_time"`
	Extent       uint32        `json:"extent"`
	Compressed   bool          `json:"compressed"`
	Cached       bool          `json:"cached"`
}

// Fetcher defines the interface for fetching GeoJSON tile documents
type Fetcher interface {
	Fetch(ctx context.Context, request *TileRequest) (*TileResponse, error)
	FetchWithRetry(ctx context.Context, request *TileRequest) (*TileResponse, error)
}

// Processor defines the interface for turning fetched documents into tile-local layers
type Processor interface {
	Process(response *TileResponse) (*ProcessedTile, error)
	ProcessBatch(responses []*TileResponse) ([]*ProcessedTile, error)
}

// NewTileRequest creates a new tile request with the specified coordinates
func NewTileRequest(z, x, y int, url string) *TileRequest {
	return &TileRequest{
		Z:       z,
		X:       x,
		Y:       y,
		URL:     url,
		Headers: make(map[string]string),
	}
}

// NewTileCoordinate creates a new tile coordinate
func NewTileCoordinate(z, x, y int) *TileCoordinate {
	return &TileCoordinate{
		Z: z,
		X: x,
		Y: y,
	}
}

// NewTileRange creates a new tile range
func NewTileRange(minZ, maxZ, minX, maxX, minY, maxY int) *TileRange {
	return &TileRange{
		MinZ: minZ,
		MaxZ: maxZ,
		MinX: minX,
		MaxX: maxX,
		MinY: minY,
		MaxY: maxY,
	}
}

// ParseTileCoordinate parses a "z/x/y" string
func ParseTileCoordinate(s string) (*TileCoordinate, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid tile format: %s (expected z/x/y)", s)
	}

	values := make([]int, 3)
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid tile component %q in %s", part, s)
		}
		values[i] = v
	}

	if err := ValidateCoordinates(values[0], values[1], values[2]); err != nil {
		return nil, err
	}
	return NewTileCoordinate(values[0], values[1], values[2]), nil
}

// String returns a string representation of the tile coordinate
func (tc *TileCoordinate) String() string {
	return fmt.Sprintf("%d/%d/%d", tc.Z, tc.X, tc.Y)
}

// Tile returns the coordinate as an orb map tile
func (tc *TileCoordinate) Tile() maptile.Tile {
	return maptile.New(uint32(tc.X), uint32(tc.Y), maptile.Zoom(tc.Z))
}

// Count returns the total number of tiles in the range
func (tr *TileRange) Count() int64 {
	var total int64
	for z := tr.MinZ; z <= tr.MaxZ; z++ {
		xRange := int64(tr.MaxX - tr.MinX + 1)
		yRange := int64(tr.MaxY - tr.MinY + 1)
		total += xRange * yRange
	}
	return total
}

// Coordinates enumerates the tiles of the range in z, x, y order
func (tr *TileRange) Coordinates() ([]*TileCoordinate, error) {
	coords := make([]*TileCoordinate, 0, tr.Count())
	for z := tr.MinZ; z <= tr.MaxZ; z++ {
		for x := tr.MinX; x <= tr.MaxX; x++ {
			for y := tr.MinY; y <= tr.MaxY; y++ {
				if err := ValidateCoordinates(z, x, y); err != nil {
					return nil, fmt.Errorf("invalid tile coordinates %d/%d/%d: %w", z, x, y, err)
				}
				coords = append(coords, NewTileCoordinate(z, x, y))
			}
		}
	}
	return coords, nil
}

// RangesForBound builds one range per zoom level covering a lon/lat bound.
// A nil bound covers the whole world.
func RangesForBound(bound *orb.Bound, minZoom, maxZoom int) ([]*TileRange, error) {
	if minZoom < 0 || maxZoom > MaxZoom || minZoom > maxZoom {
		return nil, fmt.Errorf("invalid zoom range %d..%d", minZoom, maxZoom)
	}

	var ranges []*TileRange
	for z := minZoom; z <= maxZoom; z++ {
		if bound == nil {
			maxTile := (1 << uint(z)) - 1
			ranges = append(ranges, NewTileRange(z, z, 0, maxTile, 0, maxTile))
			continue
		}

		// Tile y grows southward so the north-west corner holds the minimum.
		nw := maptile.At(orb.Point{bound.Min[0], bound.Max[1]}, maptile.Zoom(z))
		se := maptile.At(orb.Point{bound.Max[0], bound.Min[1]}, maptile.Zoom(z))
		ranges = append(ranges, NewTileRange(z, z,
			clampIndex(int(nw.X), z), clampIndex(int(se.X), z),
			clampIndex(int(nw.Y), z), clampIndex(int(se.Y), z)))
	}
	return ranges, nil
}

func clampIndex(v, z int) int {
	maxTile := (1 << uint(z)) - 1
	if v < 0 {
		return 0
	}
	if v > maxTile {
		return maxTile
	}
	return v
}

// ParseBound parses "min_lon,min_lat,max_lon,max_lat"
func ParseBound(s string) (*orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bounding box must have 4 values: min_lon,min_lat,max_lon,max_lat")
	}

	coords := make([]float64, 4)
	for i, part := range parts {
		val, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate value: %s", part)
		}
		coords[i] = val
	}

	if coords[0] > coords[2] || coords[1] > coords[3] {
		return nil, fmt.Errorf("bounding box minimum exceeds maximum")
	}

	return &orb.Bound{
		Min: orb.Point{coords[0], coords[1]},
		Max: orb.Point{coords[2], coords[3]},
	}, nil
}

// ValidateCoordinates ensures tile coordinates are within valid bounds
func ValidateCoordinates(z, x, y int) error {
	if z < 0 || z > MaxZoom {
		return fmt.Errorf("invalid zoom level %d: must be between 0 and %d", z, MaxZoom)
	}

	maxTile := 1 << uint(z)
	if x < 0 || x >= maxTile {
		return fmt.Errorf("invalid x coordinate %d for zoom %d: must be between 0 and %d", x, z, maxTile-1)
	}

	if y < 0 || y >= maxTile {
		return fmt.Errorf("invalid y coordinate %d for zoom %d: must be between 0 and %d", y, z, maxTile-1)
	}

	return nil
}

// CoordinateFromLocation extracts z/x/y from the last three segments of a
// URL or file path such as ".../14/8362/5956.geojson"
func CoordinateFromLocation(location string) (*TileCoordinate, error) {
	if i := strings.IndexAny(location, "?#"); i >= 0 {
		location = location[:i]
	}

	parts := strings.Split(strings.ReplaceAll(location, `\`, "/"), "/")
	if len(parts) < 3 {
		return nil, fmt.Errorf("no z/x/y coordinates in %s", location)
	}
	parts = parts[len(parts)-3:]

	name := parts[2]
	if i := strings.Index(name, "."); i >= 0 {
		name = name[:i]
	}
	return ParseTileCoordinate(parts[0] + "/" + parts[1] + "/" + name)
}
