// cmd/batch.go - Batch processing command
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/batch"
	"github.com/valpere/geojson_tiler/internal/config"
	"github.com/valpere/geojson_tiler/internal/output"
	"github.com/valpere/geojson_tiler/internal/tile"
)

// formatMBTiles marks jobs that write into an MBTiles archive
const formatMBTiles = "mbtiles"

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Batch extract many GeoJSON tiles",
	Long: `Batch extract GeoJSON tiles over zoom ranges, bounding boxes, or explicit tile lists.

Tiles are fetched and extracted concurrently in chunks. Job state is kept under
batch.state_dir so interrupted jobs with per-tile output (--output-dir or
--mbtiles) can be resumed; only unfinished tiles are processed again.

With --document a single GeoJSON file is projected into every requested tile.
For local sources without zoom or tile flags every document under base_path
is processed.

Examples:
  # Extract remote tiles for a bounding box into a directory tree
  geojson-tiler batch --base-url "https://example.com/geojson" --min-zoom 10 --max-zoom 12 --bbox "-74.0,40.7,-73.9,40.8" --output-dir ./tiles/

  # Extract every local tile
  geojson-tiler batch --base-path /data/tiles --output-dir ./output/

  # Cut one document into vector tiles stored in MBTiles
  geojson-tiler batch --document city.geojson --zoom 14 --bbox "-74.0,40.7,-73.9,40.8" --mbtiles city.mbtiles

  # Combine specific tiles into one file
  geojson-tiler batch --base-path /data/tiles --tiles "14/8362/5956,14/8363/5956" --single-file --output tiles.geojson

  # Resume an interrupted job
  geojson-tiler batch --resume --job-id job_20250101T120000.000`,
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	// Tile selection flags
	batchCmd.Flags().Int("zoom", 0, "single zoom level to process")
	batchCmd.Flags().Int("min-zoom", 0, "minimum zoom level")
	batchCmd.Flags().Int("max-zoom", 0, "maximum zoom level")
	batchCmd.Flags().String("bbox", "", "bounding box: 'min_lon,min_lat,max_lon,max_lat'")
	batchCmd.Flags().String("tiles", "", "specific tiles list: 'z/x/y,z/x/y,...'")
	batchCmd.Flags().String("document", "", "single GeoJSON document projected into every tile")

	// Output flags
	batchCmd.Flags().String("output-dir", "./output", "output directory for tiles")
	batchCmd.Flags().StringP("output", "o", "", "single output file (use with --single-file)")
	batchCmd.Flags().Bool("single-file", false, "combine all tiles into single file")
	batchCmd.Flags().String("mbtiles", "", "write vector tiles into an MBTiles archive")
	batchCmd.Flags().Bool("metadata", false, "include tile metadata in output")

	// Processing flags
	batchCmd.Flags().Int("chunk-size", 100, "number of tiles per processing chunk")
	batchCmd.Flags().Bool("fail-on-error", false, "stop processing on first error")
	batchCmd.Flags().Bool("resume", false, "resume previous batch job")
	batchCmd.Flags().String("job-id", "", "job ID (required with --resume)")
	batchCmd.Flags().Bool("progress", true, "show progress")

	batchCmd.MarkFlagsMutuallyExclusive("zoom", "min-zoom")
	batchCmd.MarkFlagsMutuallyExclusive("zoom", "max-zoom")
	batchCmd.MarkFlagsMutuallyExclusive("tiles", "bbox")
	batchCmd.MarkFlagsMutuallyExclusive("output-dir", "output")
	batchCmd.MarkFlagsMutuallyExclusive("single-file", "mbtiles")
	batchCmd.MarkFlagsMutuallyExclusive("output", "mbtiles")
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, closer, err := loadConfig()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := batch.NewFileJobStore(cfg.Batch.StateDir)
	if err != nil {
		return err
	}

	resume := cfg.Batch.Resume
	if cmd.Flags().Changed("resume") {
		resume, _ = cmd.Flags().GetBool("resume")
	}
	showProgress := cfg.Logging.Progress
	if cmd.Flags().Changed("progress") {
		showProgress, _ = cmd.Flags().GetBool("progress")
	}
	jobID, _ := cmd.Flags().GetString("job-id")
	metadata, _ := cmd.Flags().GetBool("metadata")

	var job *batch.Job
	if resume {
		if jobID == "" {
			return fmt.Errorf("--job-id is required with --resume")
		}
		job, err = store.LoadJob(jobID)
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}
		applyJobConfig(cfg, job.Config)
	} else {
		job, err = newBatchJob(cmd, cfg, jobID)
		if err != nil {
			return err
		}
	}

	var fetcher tile.Fetcher
	factory := tile.NewFetcherFactory(cfg)
	if job.Config.DocumentPath != "" {
		fetcher, err = factory.CreateDocumentFetcher(job.Config.DocumentPath)
	} else {
		fetcher, err = factory.CreateFetcher()
	}
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	processor, err := newProcessor(cfg)
	if err != nil {
		return err
	}

	writer, err := openJobWriter(cfg, job.Config, metadata)
	if err != nil {
		return fmt.Errorf("failed to create writer: %w", err)
	}

	var reporter batch.ProgressReporter
	if showProgress {
		reporter = NewConsoleProgressReporter(time.Second)
	}

	processorImpl := batch.NewBatchProcessor(fetcher, processor, writer, factory, reporter).WithStore(store)
	coordinator := batch.NewDefaultCoordinator(processorImpl, store)

	log.Info().
		Str("job", job.ID).
		Str("source", describeSource(cfg, job.Config)).
		Str("output", job.Config.OutputPath).
		Bool("resume", resume).
		Msg("starting batch job")

	if resume {
		var resumed *batch.Job
		if resumed, err = coordinator.Resume(ctx, job.ID); resumed != nil {
			job = resumed
		}
	} else {
		err = coordinator.Submit(ctx, job)
	}

	if closeErr := writer.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close output: %w", closeErr)
	}
	if err != nil {
		if job.CanResume() && job.Config.MultiFile {
			log.Warn().Str("job", job.ID).Msg("job interrupted, rerun with --resume --job-id to continue")
		}
		return fmt.Errorf("batch processing failed: %w", err)
	}

	p := job.Progress
	log.Info().
		Str("job", job.ID).
		Int64("processed", p.ProcessedTiles).
		Int64("success", p.SuccessTiles).
		Int64("failed", p.FailedTiles).
		Int64("skipped", p.SkippedTiles).
		Int64("features", p.TotalFeatures).
		Dur("duration", time.Since(p.StartTime)).
		Float64("throughput", p.Throughput).
		Msg("batch processing completed")

	return nil
}

// newBatchJob builds a job from the tile selection and output flags
func newBatchJob(cmd *cobra.Command, cfg *config.Config, jobID string) (*batch.Job, error) {
	documentPath, _ := cmd.Flags().GetString("document")
	outputDir, _ := cmd.Flags().GetString("output-dir")
	outputFile, _ := cmd.Flags().GetString("output")
	singleFile, _ := cmd.Flags().GetBool("single-file")
	mbtilesPath, _ := cmd.Flags().GetString("mbtiles")
	chunkSize, _ := cmd.Flags().GetInt("chunk-size")
	failOnError, _ := cmd.Flags().GetBool("fail-on-error")

	jobConfig := &batch.JobConfig{
		Concurrency:  cfg.Batch.Concurrency,
		ChunkSize:    chunkSize,
		Timeout:      cfg.Batch.Timeout,
		OutputFormat: cfg.Output.Format,
		DocumentPath: documentPath,
		FailOnError:  failOnError || cfg.Batch.FailOnError,
		Compression:  cfg.Output.Compression,
	}
	if !cmd.Flags().Changed("chunk-size") && cfg.Batch.ChunkSize > 0 {
		jobConfig.ChunkSize = cfg.Batch.ChunkSize
	}
	if !cmd.Flags().Changed("output-dir") && cfg.Output.Directory != "" {
		outputDir = cfg.Output.Directory
	}

	switch {
	case mbtilesPath != "":
		jobConfig.OutputPath = mbtilesPath
		jobConfig.OutputFormat = formatMBTiles
		jobConfig.MultiFile = true
	case singleFile:
		if outputFile == "" {
			return nil, fmt.Errorf("output file must be specified when using --single-file")
		}
		if output.Format(cfg.Output.Format) == output.FormatMVT {
			return nil, fmt.Errorf("mvt output cannot be combined into a single file, use --output-dir or --mbtiles")
		}
		jobConfig.OutputPath = outputFile
	default:
		jobConfig.OutputPath = outputDir
		jobConfig.MultiFile = true
	}

	ranges, tiles, err := selectTiles(cmd, cfg, documentPath)
	if err != nil {
		return nil, err
	}

	if jobID == "" {
		jobID = batch.NewJobID()
	}
	job := batch.NewJob(jobID, ranges, jobConfig)
	job.Tiles = tiles
	return job, nil
}

// selectTiles resolves the tiles to process from --tiles, the zoom flags, or
// the local tile tree
func selectTiles(cmd *cobra.Command, cfg *config.Config, documentPath string) ([]*tile.TileRange, []*tile.TileCoordinate, error) {
	tilesStr, _ := cmd.Flags().GetString("tiles")
	bboxStr, _ := cmd.Flags().GetString("bbox")
	zoom, _ := cmd.Flags().GetInt("zoom")
	minZoom, _ := cmd.Flags().GetInt("min-zoom")
	maxZoom, _ := cmd.Flags().GetInt("max-zoom")

	if tilesStr != "" {
		tiles, err := parseTilesList(tilesStr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse tiles list: %w", err)
		}
		return nil, tiles, nil
	}

	zoomSet := cmd.Flags().Changed("zoom") || cmd.Flags().Changed("min-zoom") || cmd.Flags().Changed("max-zoom")
	if zoomSet {
		if cmd.Flags().Changed("zoom") {
			minZoom, maxZoom = zoom, zoom
		}
		if !cmd.Flags().Changed("max-zoom") && !cmd.Flags().Changed("zoom") {
			maxZoom = minZoom
		}

		var bound *orb.Bound
		if bboxStr != "" {
			var err error
			bound, err = tile.ParseBound(bboxStr)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to parse bounding box: %w", err)
			}
		}

		ranges, err := tile.RangesForBound(bound, minZoom, maxZoom)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate tile ranges: %w", err)
		}
		return ranges, nil, nil
	}

	if documentPath == "" && cfg.DetermineSourceType() == internal.SourceTypeLocal {
		tiles, err := tile.NewLocalFetcher(cfg).ListAvailableTiles()
		if err != nil {
			return nil, nil, err
		}
		if len(tiles) == 0 {
			return nil, nil, fmt.Errorf("no tiles found under %s", cfg.Local.BasePath)
		}
		log.Info().Int("tiles", len(tiles)).Str("base_path", cfg.Local.BasePath).Msg("discovered local tiles")
		return nil, tiles, nil
	}

	return nil, nil, fmt.Errorf("zoom level(s) or --tiles must be specified")
}

// parseTilesList parses a comma-separated list of tile coordinates
func parseTilesList(tiles string) ([]*tile.TileCoordinate, error) {
	var coords []*tile.TileCoordinate
	for _, part := range strings.Split(tiles, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		coord, err := tile.ParseTileCoordinate(part)
		if err != nil {
			return nil, err
		}
		coords = append(coords, coord)
	}
	if len(coords) == 0 {
		return nil, fmt.Errorf("no tiles in list")
	}
	return coords, nil
}

// applyJobConfig restores the output settings a resumed job was started with
func applyJobConfig(cfg *config.Config, jobConfig *batch.JobConfig) {
	if jobConfig.OutputFormat != formatMBTiles {
		cfg.Output.Format = jobConfig.OutputFormat
	}
	cfg.Output.Compression = jobConfig.Compression
}

// openJobWriter opens the writer a job's output settings call for
func openJobWriter(cfg *config.Config, jobConfig *batch.JobConfig, metadata bool) (output.Writer, error) {
	writerConfig := newWriterConfig(cfg, metadata)
	if jobConfig.OutputFormat == formatMBTiles {
		writerConfig.Format = output.FormatMVT
		if err := writerConfig.Validate(); err != nil {
			return nil, err
		}
		return output.NewMBTilesWriter(writerConfig, jobConfig.OutputPath)
	}
	return output.NewWriter(writerConfig, jobConfig.OutputPath, jobConfig.MultiFile)
}

func describeSource(cfg *config.Config, jobConfig *batch.JobConfig) string {
	if jobConfig.DocumentPath != "" {
		return "document:" + jobConfig.DocumentPath
	}
	return cfg.Describe()
}

// ConsoleProgressReporter reports job progress through the logger
type ConsoleProgressReporter struct {
	interval   time.Duration
	lastUpdate time.Time
}

// NewConsoleProgressReporter creates a reporter that logs at most once per interval
func NewConsoleProgressReporter(interval time.Duration) *ConsoleProgressReporter {
	return &ConsoleProgressReporter{interval: interval}
}

// ReportProgress logs job progress
func (r *ConsoleProgressReporter) ReportProgress(job *batch.Job) error {
	if time.Since(r.lastUpdate) < r.interval {
		return nil
	}

	p := job.Progress
	log.Info().
		Str("job", job.ID).
		Str("progress", fmt.Sprintf("%.1f%%", p.CalculateProgress())).
		Int64("processed", p.ProcessedTiles).
		Int64("total", p.TotalTiles).
		Int("chunk", p.CurrentChunk).
		Int("chunks", p.TotalChunks).
		Float64("tiles_per_sec", p.Throughput).
		Msg("batch progress")

	r.lastUpdate = time.Now()
	return nil
}

// ReportChunkComplete reports chunk completion
func (r *ConsoleProgressReporter) ReportChunkComplete(job *batch.Job, chunk *batch.ChunkResult) error {
	if chunk.FailureCount > 0 {
		log.Warn().
			Str("job", job.ID).
			Int("chunk", chunk.ChunkID).
			Int("failed", chunk.FailureCount).
			Msg("chunk completed with failures")
	}
	return r.ReportProgress(job)
}

// ReportJobComplete reports job completion
func (r *ConsoleProgressReporter) ReportJobComplete(job *batch.Job) error {
	log.Info().Str("job", job.ID).Int64("processed", job.Progress.ProcessedTiles).Msg("batch progress 100%")
	return nil
}

// ReportJobFailed reports job failure
func (r *ConsoleProgressReporter) ReportJobFailed(job *batch.Job, err error) error {
	log.Error().Err(err).Str("job", job.ID).Str("status", job.Status.String()).Msg("batch job stopped")
	return nil
}
