// internal/output/writer.go - Output writing implementation
package output

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/valpere/geojson_tiler/internal/tile"
)

// FileWriter writes output to a single file with optional compression
type FileWriter struct {
	formatter   Formatter
	destination Destination
	config      *WriterConfig
	mutex       sync.Mutex
}

// NewFileWriter creates a new file-based writer
func NewFileWriter(config *WriterConfig, destination string) (*FileWriter, error) {
	formatter, err := NewFormatter(config.formatterConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	dest, err := newFileDestination(destination, config.Compression)
	if err != nil {
		return nil, fmt.Errorf("failed to create file destination: %w", err)
	}

	return &FileWriter{
		formatter:   formatter,
		destination: dest,
		config:      config,
	}, nil
}

// Write writes a single processed tile to the output destination
func (w *FileWriter) Write(t *tile.ProcessedTile) error {
	data, err := w.formatter.Format(t)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, err := w.destination.Write(data); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	return nil
}

// WriteBatch writes multiple processed tiles as one combined document
func (w *FileWriter) WriteBatch(tiles []*tile.ProcessedTile) error {
	data, err := w.formatter.FormatBatch(tiles)
	if err != nil {
		return fmt.Errorf("batch formatting failed: %w", err)
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()
	if _, err := w.destination.Write(data); err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}
	return nil
}

// Close closes the writer and underlying destination
func (w *FileWriter) Close() error {
	return w.destination.Close()
}

// Name returns the path of the written file
func (w *FileWriter) Name() string {
	return w.destination.Name()
}

// StdoutWriter writes output to standard output
type StdoutWriter struct {
	formatter Formatter
	out       io.Writer
}

// NewStdoutWriter creates a new stdout-based writer
func NewStdoutWriter(config *WriterConfig) (*StdoutWriter, error) {
	formatterConfig := config.formatterConfig()
	formatterConfig.IncludeStats = false

	formatter, err := NewFormatter(formatterConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	return &StdoutWriter{formatter: formatter, out: os.Stdout}, nil
}

// Write writes a single tile to stdout
func (w *StdoutWriter) Write(t *tile.ProcessedTile) error {
	data, err := w.formatter.Format(t)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}
	return w.emit(data)
}

// WriteBatch writes multiple tiles to stdout
func (w *StdoutWriter) WriteBatch(tiles []*tile.ProcessedTile) error {
	data, err := w.formatter.FormatBatch(tiles)
	if err != nil {
		return fmt.Errorf("batch formatting failed: %w", err)
	}
	return w.emit(data)
}

func (w *StdoutWriter) emit(data []byte) error {
	if _, err := w.out.Write(data); err != nil {
		return fmt.Errorf("write to stdout failed: %w", err)
	}

	// Binary tiles are written as-is
	if _, ok := w.formatter.(*MVTFormatter); ok {
		return nil
	}
	_, err := w.out.Write([]byte("\n"))
	return err
}

// Close is a no-op for stdout writer
func (w *StdoutWriter) Close() error {
	return nil
}

// MultiFileWriter writes each tile to a separate z/x/y file
type MultiFileWriter struct {
	formatter Formatter
	baseDir   string
	config    *WriterConfig
}

// NewMultiFileWriter creates a writer that outputs each tile to a separate file
func NewMultiFileWriter(config *WriterConfig, baseDir string) (*MultiFileWriter, error) {
	formatter, err := NewFormatter(config.formatterConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &MultiFileWriter{
		formatter: formatter,
		baseDir:   baseDir,
		config:    config,
	}, nil
}

// Write writes a single tile to its own file
func (w *MultiFileWriter) Write(t *tile.ProcessedTile) error {
	path := w.Path(t.Coordinate)

	data, err := w.formatter.Format(t)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	dest, err := newFileDestination(path, w.config.Compression)
	if err != nil {
		return fmt.Errorf("failed to create file destination: %w", err)
	}

	if _, err := dest.Write(data); err != nil {
		dest.Close()
		return fmt.Errorf("write failed: %w", err)
	}
	return dest.Close()
}

// WriteBatch writes each successful tile in the batch to separate files
func (w *MultiFileWriter) WriteBatch(tiles []*tile.ProcessedTile) error {
	for _, t := range tiles {
		if t.Error != nil {
			continue
		}
		if err := w.Write(t); err != nil {
			return fmt.Errorf("failed to write tile %s: %w", t.Coordinate.String(), err)
		}
	}
	return nil
}

// Close is a no-op for multi-file writer
func (w *MultiFileWriter) Close() error {
	return nil
}

// Path returns the file a tile is written to
func (w *MultiFileWriter) Path(coord *tile.TileCoordinate) string {
	ext := w.formatter.Extension()
	if w.config.Compression {
		ext += ".gz"
	}
	return filepath.Join(w.baseDir, fmt.Sprintf("%d", coord.Z), fmt.Sprintf("%d", coord.X), fmt.Sprintf("%d%s", coord.Y, ext))
}

// fileDestination implements the Destination interface for file output
type fileDestination struct {
	file   *os.File
	writer io.WriteCloser
	name   string
	size   int64
}

// newFileDestination creates a new file destination with optional compression
func newFileDestination(path string, compression bool) (*fileDestination, error) {
	if compression && !strings.HasSuffix(path, ".gz") {
		path += ".gz"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	var writer io.WriteCloser = file
	if compression {
		writer = gzip.NewWriter(file)
	}

	return &fileDestination{
		file:   file,
		writer: writer,
		name:   path,
	}, nil
}

// Write implements io.Writer
func (d *fileDestination) Write(p []byte) (n int, err error) {
	n, err = d.writer.Write(p)
	d.size += int64(n)
	return n, err
}

// Close implements io.Closer
func (d *fileDestination) Close() error {
	if d.writer != d.file {
		if err := d.writer.Close(); err != nil {
			d.file.Close()
			return err
		}
	}
	return d.file.Close()
}

// Name returns the destination file path
func (d *fileDestination) Name() string {
	return d.name
}

// Size returns the number of bytes written
func (d *fileDestination) Size() int64 {
	return d.size
}

// NewWriter creates the appropriate writer based on configuration
func NewWriter(config *WriterConfig, destination string, multiFile bool) (Writer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if destination == "" || destination == "-" {
		return NewStdoutWriter(config)
	}

	if strings.HasSuffix(strings.ToLower(destination), ".mbtiles") {
		return NewMBTilesWriter(config, destination)
	}

	if multiFile {
		return NewMultiFileWriter(config, destination)
	}

	return NewFileWriter(config, destination)
}
