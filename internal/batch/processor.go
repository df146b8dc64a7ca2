// internal/batch/processor.go - Batch processing implementation
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/valpere/geojson_tiler/internal/output"
	"github.com/valpere/geojson_tiler/internal/tile"
)

const defaultChunkConcurrency = 10

// BatchProcessor implements the Processor interface. Tiles are fetched and
// extracted chunk by chunk on a bounded goroutine pool.
type BatchProcessor struct {
	fetcher   tile.Fetcher
	processor tile.Processor
	writer    output.Writer
	requests  RequestBuilder
	reporter  ProgressReporter
	store     JobStore
	mutex     sync.Mutex
}

// NewBatchProcessor creates a new batch processor with the specified components
func NewBatchProcessor(fetcher tile.Fetcher, processor tile.Processor, writer output.Writer, requests RequestBuilder, reporter ProgressReporter) *BatchProcessor {
	return &BatchProcessor{
		fetcher:   fetcher,
		processor: processor,
		writer:    writer,
		requests:  requests,
		reporter:  reporter,
	}
}

// WithStore enables checkpointing of job state after every chunk
func (bp *BatchProcessor) WithStore(store JobStore) *BatchProcessor {
	bp.store = store
	return bp
}

// Process executes a complete batch job. Tiles recorded as completed are
// skipped. With MultiFile set each chunk is written as soon as it finishes;
// otherwise all tiles are written as one document at the end.
func (bp *BatchProcessor) Process(ctx context.Context, job *Job) error {
	if err := ValidateJob(job); err != nil {
		return err
	}

	if job.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Config.Timeout)
		defer cancel()
	}

	coords, err := job.Coordinates()
	if err != nil {
		bp.failJob(job, fmt.Errorf("failed to enumerate tiles: %w", err))
		return err
	}

	pending := make([]*tile.TileCoordinate, 0, len(coords))
	for _, c := range coords {
		if !job.IsTileCompleted(c) {
			pending = append(pending, c)
		}
	}

	bp.mutex.Lock()
	now := time.Now()
	job.Status = JobStatusRunning
	job.StartedAt = &now
	job.CompletedAt = nil
	job.Error = nil
	job.ErrorMessage = ""
	job.Progress = NewJobProgress()
	job.Progress.TotalTiles = int64(len(coords))
	job.Progress.SkippedTiles = int64(len(coords) - len(pending))
	job.Progress.TotalChunks = (len(pending) + job.Config.ChunkSize - 1) / job.Config.ChunkSize
	bp.mutex.Unlock()

	log.Info().
		Str("job", job.ID).
		Int("tiles", len(coords)).
		Int("pending", len(pending)).
		Int("chunks", job.Progress.TotalChunks).
		Msg("batch job started")

	bp.checkpoint(job)
	if bp.reporter != nil {
		bp.reporter.ReportProgress(job)
	}

	var deferred []*tile.ProcessedTile
	for chunkStart, chunkID := 0, 0; chunkStart < len(pending); chunkStart, chunkID = chunkStart+job.Config.ChunkSize, chunkID+1 {
		if err := ctx.Err(); err != nil {
			bp.abortJob(job, err)
			return err
		}

		chunkEnd := chunkStart + job.Config.ChunkSize
		if chunkEnd > len(pending) {
			chunkEnd = len(pending)
		}

		workItems := make([]*WorkItem, 0, chunkEnd-chunkStart)
		for i, c := range pending[chunkStart:chunkEnd] {
			workItems = append(workItems, NewWorkItem(bp.requests.RequestFor(c), chunkID, chunkStart+i))
		}

		bp.mutex.Lock()
		job.Progress.CurrentChunk = chunkID + 1
		bp.mutex.Unlock()

		chunkResult, tiles, err := bp.processChunk(ctx, workItems, job.Config.Concurrency, job.Config.MultiFile)
		if err != nil {
			bp.failJob(job, fmt.Errorf("chunk %d failed: %w", chunkID, err))
			return err
		}

		if job.Config.MultiFile {
			bp.markCompleted(job, tiles)
		} else {
			deferred = append(deferred, tiles...)
		}
		bp.updateJobProgress(job, chunkResult)
		bp.checkpoint(job)

		if bp.reporter != nil {
			bp.reporter.ReportChunkComplete(job, chunkResult)
		}

		if job.Config.FailOnError && chunkResult.FailureCount > 0 {
			err := firstError(chunkResult)
			bp.failJob(job, fmt.Errorf("tile extraction failed: %w", err))
			return err
		}
	}

	// Interrupted work leaves the job resumable
	if err := ctx.Err(); err != nil {
		bp.abortJob(job, err)
		return err
	}

	if !job.Config.MultiFile && len(deferred) > 0 {
		if err := bp.writer.WriteBatch(deferred); err != nil {
			err = fmt.Errorf("failed to write output: %w", err)
			bp.failJob(job, err)
			return err
		}
		bp.markCompleted(job, deferred)
	}

	bp.completeJob(job)
	if bp.reporter != nil {
		bp.reporter.ReportJobComplete(job)
	}
	return nil
}

// ProcessChunk extracts a chunk of work items concurrently and writes the
// successful tiles
func (bp *BatchProcessor) ProcessChunk(ctx context.Context, workItems []*WorkItem) (*ChunkResult, error) {
	result, _, err := bp.processChunk(ctx, workItems, defaultChunkConcurrency, true)
	return result, err
}

func (bp *BatchProcessor) processChunk(ctx context.Context, workItems []*WorkItem, concurrency int, write bool) (*ChunkResult, []*tile.ProcessedTile, error) {
	start := time.Now()
	chunkResult := &ChunkResult{}
	if len(workItems) == 0 {
		return chunkResult, nil, nil
	}
	chunkResult.ChunkID = workItems[0].ChunkID

	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(workItems) {
		concurrency = len(workItems)
	}

	p := pool.NewWithResults[*WorkResult]().WithContext(ctx).WithMaxGoroutines(concurrency)
	for _, item := range workItems {
		item := item
		p.Go(func(ctx context.Context) (*WorkResult, error) {
			return bp.processWorkItem(ctx, item), nil
		})
	}
	results, _ := p.Wait()

	// Keep output order stable regardless of completion order
	sort.Slice(results, func(i, j int) bool {
		return results[i].Item.ItemID < results[j].Item.ItemID
	})

	var tiles []*tile.ProcessedTile
	for _, result := range results {
		if result.Error != nil {
			chunkResult.FailureCount++
			log.Debug().
				Err(result.Error).
				Str("tile", tileKey(result.Item.Request)).
				Msg("tile failed")
			continue
		}
		chunkResult.SuccessCount++
		tiles = append(tiles, result.Tile)
	}
	chunkResult.Results = results

	if write && len(tiles) > 0 {
		if err := bp.writer.WriteBatch(tiles); err != nil {
			chunkResult.Duration = time.Since(start)
			return chunkResult, nil, fmt.Errorf("failed to write batch: %w", err)
		}
	}

	chunkResult.Duration = time.Since(start)
	return chunkResult, tiles, nil
}

// processWorkItem fetches and extracts a single tile. Retries are left to
// the fetcher.
func (bp *BatchProcessor) processWorkItem(ctx context.Context, item *WorkItem) *WorkResult {
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return &WorkResult{Item: item, Error: err}
	}

	response, err := bp.fetcher.FetchWithRetry(ctx, item.Request)
	if err != nil {
		return &WorkResult{Item: item, Error: fmt.Errorf("fetch failed: %w", err), Duration: time.Since(start)}
	}

	processed, err := bp.processor.Process(response)
	if err != nil {
		return &WorkResult{Item: item, Error: fmt.Errorf("process failed: %w", err), Duration: time.Since(start)}
	}

	return &WorkResult{
		Item:     item,
		Tile:     processed,
		Duration: time.Since(start),
	}
}

func (bp *BatchProcessor) markCompleted(job *Job, tiles []*tile.ProcessedTile) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	for _, t := range tiles {
		job.MarkCompleted(t.Coordinate)
		if t.Layer != nil {
			job.Progress.TotalFeatures += int64(len(t.Layer.Features))
		}
	}
}

// updateJobProgress updates job progress based on chunk results
func (bp *BatchProcessor) updateJobProgress(job *Job, chunkResult *ChunkResult) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	job.Progress.ProcessedTiles += int64(len(chunkResult.Results))
	job.Progress.SuccessTiles += int64(chunkResult.SuccessCount)
	job.Progress.FailedTiles += int64(chunkResult.FailureCount)
	job.Progress.UpdateThroughput()

	estimatedEnd := job.Progress.EstimateCompletion()
	job.Progress.EstimatedEnd = &estimatedEnd
}

func (bp *BatchProcessor) checkpoint(job *Job) {
	if bp.store == nil {
		return
	}
	bp.mutex.Lock()
	defer bp.mutex.Unlock()
	if err := bp.store.SaveJob(job); err != nil {
		log.Warn().Err(err).Str("job", job.ID).Msg("failed to checkpoint job")
	}
}

// completeJob marks the job as completed
func (bp *BatchProcessor) completeJob(job *Job) {
	bp.mutex.Lock()
	job.Status = JobStatusCompleted
	now := time.Now()
	job.CompletedAt = &now
	bp.mutex.Unlock()

	bp.checkpoint(job)
	log.Info().
		Str("job", job.ID).
		Int64("processed", job.Progress.ProcessedTiles).
		Int64("failed", job.Progress.FailedTiles).
		Int64("skipped", job.Progress.SkippedTiles).
		Msg("batch job completed")
}

// abortJob records an interruption, leaving the job resumable
func (bp *BatchProcessor) abortJob(job *Job, err error) {
	if errors.Is(err, context.Canceled) {
		bp.mutex.Lock()
		job.Status = JobStatusCanceled
		job.Error = err
		job.ErrorMessage = err.Error()
		now := time.Now()
		job.CompletedAt = &now
		bp.mutex.Unlock()

		bp.checkpoint(job)
		if bp.reporter != nil {
			bp.reporter.ReportJobFailed(job, err)
		}
		return
	}
	bp.failJob(job, err)
}

// failJob marks the job as failed
func (bp *BatchProcessor) failJob(job *Job, err error) {
	bp.mutex.Lock()
	job.Status = JobStatusFailed
	job.Error = err
	job.ErrorMessage = err.Error()
	now := time.Now()
	job.CompletedAt = &now
	bp.mutex.Unlock()

	bp.checkpoint(job)
	if bp.reporter != nil {
		bp.reporter.ReportJobFailed(job, err)
	}
}

// ValidateJob checks that a job is complete enough to run
func ValidateJob(job *Job) error {
	if job == nil {
		return fmt.Errorf("job is required")
	}
	if job.Config == nil {
		return fmt.Errorf("job configuration is required")
	}
	if len(job.TileRanges) == 0 && len(job.Tiles) == 0 {
		return fmt.Errorf("at least one tile range or tile is required")
	}
	if job.Config.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if job.Config.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if job.Config.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	for i, r := range job.TileRanges {
		if err := validateTileRange(r); err != nil {
			return fmt.Errorf("tile range %d is invalid: %w", i, err)
		}
	}
	return nil
}

func validateTileRange(r *tile.TileRange) error {
	if r.MinZ < 0 || r.MaxZ > tile.MaxZoom {
		return fmt.Errorf("zoom levels must be between 0 and %d", tile.MaxZoom)
	}
	if r.MinZ > r.MaxZ {
		return fmt.Errorf("min zoom (%d) cannot be greater than max zoom (%d)", r.MinZ, r.MaxZ)
	}
	if r.MinX > r.MaxX {
		return fmt.Errorf("min X (%d) cannot be greater than max X (%d)", r.MinX, r.MaxX)
	}
	if r.MinY > r.MaxY {
		return fmt.Errorf("min Y (%d) cannot be greater than max Y (%d)", r.MinY, r.MaxY)
	}

	for z := r.MinZ; z <= r.MaxZ; z++ {
		maxTile := 1 << uint(z)
		if r.MinX < 0 || r.MaxX >= maxTile {
			return fmt.Errorf("X coordinates for zoom %d must be between 0 and %d", z, maxTile-1)
		}
		if r.MinY < 0 || r.MaxY >= maxTile {
			return fmt.Errorf("Y coordinates for zoom %d must be between 0 and %d", z, maxTile-1)
		}
	}
	return nil
}

func firstError(chunk *ChunkResult) error {
	for _, r := range chunk.Results {
		if r.Error != nil {
			return r.Error
		}
	}
	return nil
}

func tileKey(r *tile.TileRequest) string {
	return fmt.Sprintf("%d/%d/%d", r.Z, r.X, r.Y)
}
