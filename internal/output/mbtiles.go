// internal/output/mbtiles.go - MBTiles archive writer
package output

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/rs/zerolog/log"

	"github.com/valpere/geojson_tiler/internal/tile"
)

// MBTilesWriter stores gzipped vector tiles in an MBTiles sqlite archive.
// Rows are stored in TMS order, so tile_row counts from the south.
type MBTilesWriter struct {
	db        *sql.DB
	formatter *MVTFormatter
	path      string

	mutex   sync.Mutex
	minZoom int
	maxZoom int
	layers  map[string]struct{}
	count   int64
}

// NewMBTilesWriter opens or creates an MBTiles archive at path
func NewMBTilesWriter(config *WriterConfig, path string) (*MBTilesWriter, error) {
	formatterConfig := config.formatterConfig()
	formatterConfig.Format = FormatMVT
	formatterConfig.Gzip = true

	formatter, err := NewFormatter(formatterConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create formatter: %w", err)
	}

	db, err := openMBTiles(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mbtiles %s: %w", path, err)
	}

	w := &MBTilesWriter{
		db:        db,
		formatter: formatter.(*MVTFormatter),
		path:      path,
		minZoom:   math.MaxInt32,
		maxZoom:   -1,
		layers:    make(map[string]struct{}),
	}
	if err := w.loadState(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read mbtiles %s: %w", path, err)
	}
	return w, nil
}

// loadState seeds the zoom range and layer set from tiles already in the
// archive, so reopening it keeps their metadata.
func (w *MBTilesWriter) loadState() error {
	var minZoom, maxZoom sql.NullInt64
	if err := w.db.QueryRow("select min(zoom_level), max(zoom_level) from tiles;").Scan(&minZoom, &maxZoom); err != nil {
		return err
	}
	if minZoom.Valid && maxZoom.Valid {
		w.minZoom = int(minZoom.Int64)
		w.maxZoom = int(maxZoom.Int64)
	}

	var value string
	err := w.db.QueryRow("select value from metadata where name = 'json';").Scan(&value)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}

	var doc struct {
		VectorLayers []struct {
			ID string `json:"id"`
		} `json:"vector_layers"`
	}
	if err := json.Unmarshal([]byte(value), &doc); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("ignoring unreadable mbtiles layer metadata")
		return nil
	}
	for _, layer := range doc.VectorLayers {
		if layer.ID != "" {
			w.layers[layer.ID] = struct{}{}
		}
	}
	return nil
}

func openMBTiles(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	statements := []string{
		"PRAGMA synchronous=0",
		"PRAGMA journal_mode=DELETE",
		"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
		"create table if not exists metadata (name text, value text);",
		"create unique index if not exists name on metadata (name);",
		"create unique index if not exists tile_index on tiles (zoom_level, tile_column, tile_row);",
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

// Write encodes and stores a single tile, replacing any previous version
func (w *MBTilesWriter) Write(t *tile.ProcessedTile) error {
	data, err := w.formatter.Format(t)
	if err != nil {
		return fmt.Errorf("formatting failed: %w", err)
	}

	c := t.Coordinate
	w.mutex.Lock()
	defer w.mutex.Unlock()

	_, err = w.db.Exec(
		"insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);",
		c.Z, c.X, TMSRow(c.Z, c.Y), data,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tile %s: %w", c, err)
	}

	if c.Z < w.minZoom {
		w.minZoom = c.Z
	}
	if c.Z > w.maxZoom {
		w.maxZoom = c.Z
	}
	if t.Layer != nil {
		w.layers[t.Layer.Name] = struct{}{}
	}
	w.count++
	return nil
}

// WriteBatch stores every successful tile of the batch
func (w *MBTilesWriter) WriteBatch(tiles []*tile.ProcessedTile) error {
	for _, t := range tiles {
		if t.Error != nil {
			continue
		}
		if err := w.Write(t); err != nil {
			return err
		}
	}
	return nil
}

// Close writes the archive metadata and closes the database
func (w *MBTilesWriter) Close() error {
	if err := w.writeMetadata(); err != nil {
		w.db.Close()
		return err
	}

	if _, err := w.db.Exec("ANALYZE;"); err != nil {
		log.Warn().Err(err).Str("path", w.path).Msg("mbtiles analyze failed")
	}
	return w.db.Close()
}

// Count returns the number of tiles written
func (w *MBTilesWriter) Count() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.count
}

func (w *MBTilesWriter) writeMetadata() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	names := make([]string, 0, len(w.layers))
	for name := range w.layers {
		names = append(names, name)
	}
	sort.Strings(names)

	vectorLayers := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		vectorLayers = append(vectorLayers, map[string]interface{}{
			"id":      name,
			"minzoom": w.minZoom,
			"maxzoom": w.maxZoom,
			"fields":  map[string]string{},
		})
	}
	layersJSON, err := json.Marshal(map[string]interface{}{"vector_layers": vectorLayers})
	if err != nil {
		return fmt.Errorf("failed to encode layer metadata: %w", err)
	}

	metadata := map[string]string{
		"name":   "geojson-tiler",
		"format": "pbf",
		"type":   "overlay",
		"json":   string(layersJSON),
	}
	if w.maxZoom >= 0 {
		metadata["minzoom"] = strconv.Itoa(w.minZoom)
		metadata["maxzoom"] = strconv.Itoa(w.maxZoom)
	}

	for name, value := range metadata {
		if _, err := w.db.Exec("insert or replace into metadata (name, value) values (?, ?);", name, value); err != nil {
			return fmt.Errorf("failed to write metadata %s: %w", name, err)
		}
	}
	return nil
}

// TMSRow converts an XYZ tile row into the TMS row used by MBTiles
func TMSRow(z, y int) int {
	return (1 << uint(z)) - 1 - y
}
