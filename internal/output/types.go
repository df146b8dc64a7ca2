// internal/output/types.go - Output handling types
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/valpere/geojson_tiler/internal/tile"
)

// Format represents different output formats supported by the application
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatJSON    Format = "json"
	FormatMVT     Format = "mvt"
)

// Writer defines the interface for writing processed tiles to various destinations
type Writer interface {
	Write(tile *tile.ProcessedTile) error
	WriteBatch(tiles []*tile.ProcessedTile) error
	Close() error
}

// Formatter defines the interface for formatting processed tiles into different output formats
type Formatter interface {
	Format(tile *tile.ProcessedTile) ([]byte, error)
	FormatBatch(tiles []*tile.ProcessedTile) ([]byte, error)
	ContentType() string
	Extension() string
}

// Destination represents an output destination (file, stdout, etc.)
type Destination interface {
	io.WriteCloser
	Name() string
	Size() int64
}

// BatchWriteResult represents the result of a batch write operation
type BatchWriteResult struct {
	TotalTiles   int
	SuccessTiles int
	FailedTiles  int
	BytesWritten int64
	Duration     time.Duration
	Errors       []error
}

// WriterConfig contains configuration for creating writers
type WriterConfig struct {
	Format            Format
	Pretty            bool
	Compression       bool
	Metadata          bool
	Extent            uint32
	Simplify          bool
	SimplifyTolerance float64
}

// FormatterConfig contains configuration for creating formatters
type FormatterConfig struct {
	Format            Format
	Pretty            bool
	IncludeStats      bool
	Extent            uint32
	Simplify          bool
	SimplifyTolerance float64
	Gzip              bool
}

// NewWriterConfig creates a writer configuration with default values
func NewWriterConfig() *WriterConfig {
	return &WriterConfig{
		Format:            FormatGeoJSON,
		Pretty:            true,
		Extent:            4096,
		SimplifyTolerance: 1.0,
	}
}

// formatterConfig derives the formatter configuration of a writer
func (c *WriterConfig) formatterConfig() *FormatterConfig {
	return &FormatterConfig{
		Format:            c.Format,
		Pretty:            c.Pretty,
		IncludeStats:      c.Metadata,
		Extent:            c.Extent,
		Simplify:          c.Simplify,
		SimplifyTolerance: c.SimplifyTolerance,
	}
}

// Validate validates the writer configuration
func (c *WriterConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.Format == FormatMVT && c.Extent == 0 {
		return fmt.Errorf("extent must be positive for mvt output")
	}
	return nil
}

// String returns a string representation of the format
func (f Format) String() string {
	return string(f)
}

// IsValid checks if the format is supported
func (f Format) IsValid() bool {
	switch f {
	case FormatGeoJSON, FormatJSON, FormatMVT:
		return true
	default:
		return false
	}
}
