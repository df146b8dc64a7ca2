// cmd/extract.go - Single tile extraction command
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/config"
	"github.com/valpere/geojson_tiler/internal/output"
	"github.com/valpere/geojson_tiler/internal/tile"
	"github.com/valpere/geojson_tiler/pkg/geojson"
)

// extractCmd represents the extract command
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract a single GeoJSON tile into tile-local geometry",
	Long: `Extract a single GeoJSON tile document into tile-local geometry.

The document is fetched from a direct URL, a local file, or the configured
source using the tile coordinates. Projection always needs the tile's z/x/y;
with --url or --file they are read from the location's last three path
segments unless given explicitly.

Examples:
  # Extract using coordinates and base URL
  geojson-tiler extract --base-url "https://example.com/geojson" --z 14 --x 8362 --y 5956 --output tile.geojson

  # Extract using a direct URL
  geojson-tiler extract --url "https://example.com/geojson/14/8362/5956.json"

  # Extract a local file for an explicit tile
  geojson-tiler extract --file building.geojson --z 16 --x 33185 --y 22545 --metadata

  # Encode as a gzipped vector tile
  geojson-tiler extract --base-path /data/tiles --z 14 --x 8362 --y 5956 --format mvt --compression --output tile.mvt`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	// Tile source flags
	extractCmd.Flags().String("url", "", "direct URL to the GeoJSON document")
	extractCmd.Flags().String("file", "", "local GeoJSON document")
	extractCmd.Flags().Int("z", 0, "tile zoom level")
	extractCmd.Flags().Int("x", 0, "tile x coordinate")
	extractCmd.Flags().Int("y", 0, "tile y coordinate")

	// Output flags
	extractCmd.Flags().StringP("output", "o", "", "output file path (default: stdout)")
	extractCmd.Flags().Bool("metadata", false, "include tile metadata in output")

	extractCmd.MarkFlagsRequiredTogether("z", "x", "y")
	extractCmd.MarkFlagsMutuallyExclusive("url", "file")
}

func runExtract(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	url, _ := cmd.Flags().GetString("url")
	file, _ := cmd.Flags().GetString("file")
	outputPath, _ := cmd.Flags().GetString("output")
	metadata, _ := cmd.Flags().GetBool("metadata")

	coord, err := extractCoordinate(cmd, url, file)
	if err != nil {
		return err
	}

	var fetcher tile.Fetcher
	var request *tile.TileRequest
	switch {
	case file != "":
		fetcher = tile.NewLocalFetcher(cfg)
		request = tile.NewTileRequest(coord.Z, coord.X, coord.Y, file)
	case url != "":
		fetcher = tile.NewHTTPFetcher(cfg)
		request = tile.NewTileRequest(coord.Z, coord.X, coord.Y, url)
	default:
		factory := tile.NewFetcherFactory(cfg)
		fetcher, err = factory.CreateFetcher()
		if err != nil {
			return fmt.Errorf("failed to create fetcher: %w", err)
		}
		request = factory.RequestFor(coord)
	}

	processor, err := newProcessor(cfg)
	if err != nil {
		return err
	}

	logger := log.With().Str("tile", coord.String()).Logger()
	logger.Debug().Str("location", request.URL).Msg("fetching document")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stats := &internal.ProcessingStats{TotalTiles: 1, StartTime: time.Now()}

	response, err := fetcher.FetchWithRetry(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to fetch tile: %w", err)
	}

	processed, err := processor.Process(response)
	if err != nil {
		return fmt.Errorf("failed to extract tile: %w", err)
	}
	stats.ProcessedTiles = 1
	stats.TotalFeatures = int64(len(processed.Layer.Features))

	writer, err := output.NewWriter(newWriterConfig(cfg, metadata), outputPath, false)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	if err := writer.Write(processed); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write output: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close output: %w", err)
	}

	stats.Finish()
	m := processed.Metadata
	logger.Info().
		Str("output", describeOutput(outputPath)).
		Int("features", m.FeatureCount).
		Int("points", m.PointCount).
		Int("lines", m.LineCount).
		Int("polygons", m.PolygonCount).
		Int("vertices", m.VertexCount).
		Int("bytes", m.Size).
		Dur("elapsed", stats.EndTime.Sub(stats.StartTime)).
		Msg("tile extracted")

	return nil
}

// extractCoordinate resolves the tile either from flags or from the document location
func extractCoordinate(cmd *cobra.Command, url, file string) (*tile.TileCoordinate, error) {
	if cmd.Flags().Changed("z") {
		z, _ := cmd.Flags().GetInt("z")
		x, _ := cmd.Flags().GetInt("x")
		y, _ := cmd.Flags().GetInt("y")
		if err := tile.ValidateCoordinates(z, x, y); err != nil {
			return nil, fmt.Errorf("invalid tile coordinates: %w", err)
		}
		return tile.NewTileCoordinate(z, x, y), nil
	}

	location := url
	if file != "" {
		location = file
	}
	if location == "" {
		return nil, fmt.Errorf("either --url, --file or --z/--x/--y coordinates must be specified")
	}

	coord, err := tile.CoordinateFromLocation(location)
	if err != nil {
		return nil, fmt.Errorf("cannot derive tile coordinates, pass --z/--x/--y: %w", err)
	}
	return coord, nil
}

// newProcessor builds the GeoJSON processor from the extraction settings
func newProcessor(cfg *config.Config) (*tile.GeoJSONProcessor, error) {
	logger := log.With().Str("component", "extract").Logger()
	extractor, err := geojson.NewExtractorWithOptions(&geojson.ExtractOptions{
		NumericProperties: cfg.Extract.NumericProperties,
		LayerName:         cfg.Extract.LayerName,
		Logger:            &logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	processor, err := tile.NewGeoJSONProcessorWithExtractor(extractor, cfg.Extract.Extent)
	if err != nil {
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}
	return processor, nil
}

// newWriterConfig derives the writer settings from the output and extraction configuration
func newWriterConfig(cfg *config.Config, metadata bool) *output.WriterConfig {
	return &output.WriterConfig{
		Format:            output.Format(cfg.Output.Format),
		Pretty:            cfg.Output.Pretty,
		Compression:       cfg.Output.Compression,
		Metadata:          metadata,
		Extent:            cfg.Extract.Extent,
		Simplify:          cfg.Extract.Simplify,
		SimplifyTolerance: cfg.Extract.SimplifyTolerance,
	}
}

func describeOutput(path string) string {
	if path == "" || path == "-" {
		return "stdout"
	}
	return path
}
