// internal/batch/types.go - Batch processing types
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/valpere/geojson_tiler/internal/tile"
)

// Job represents a batch extraction job
type Job struct {
	ID             string                 `json:"id" yaml:"id"`
	TileRanges     []*tile.TileRange      `json:"tile_ranges" yaml:"tile_ranges"`
	Tiles          []*tile.TileCoordinate `json:"tiles,omitempty" yaml:"tiles,omitempty"`
	Config         *JobConfig             `json:"config" yaml:"config"`
	Status         JobStatus              `json:"status" yaml:"status"`
	Progress       *JobProgress           `json:"progress" yaml:"progress"`
	CompletedTiles []string               `json:"completed_tiles,omitempty" yaml:"completed_tiles,omitempty"`
	CreatedAt      time.Time              `json:"created_at" yaml:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	ErrorMessage   string                 `json:"error,omitempty" yaml:"error,omitempty"`
	Error          error                  `json:"-" yaml:"-"`

	completed map[string]struct{}
}

// JobConfig contains configuration for a batch extraction job
type JobConfig struct {
	Concurrency  int           `json:"concurrency" yaml:"concurrency"`
	ChunkSize    int           `json:"chunk_size" yaml:"chunk_size"`
	Timeout      time.Duration `json:"timeout" yaml:"timeout"`
	Resume       bool          `json:"resume" yaml:"resume"`
	OutputPath   string        `json:"output_path" yaml:"output_path"`
	OutputFormat string        `json:"output_format" yaml:"output_format"`
	DocumentPath string        `json:"document_path,omitempty" yaml:"document_path,omitempty"`
	FailOnError  bool          `json:"fail_on_error" yaml:"fail_on_error"`
	MultiFile    bool          `json:"multi_file" yaml:"multi_file"`
	Compression  bool          `json:"compression" yaml:"compression"`
}

// JobStatus represents the current status of a batch job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
	JobStatusPaused    JobStatus = "paused"
)

// JobProgress tracks the progress of a batch job
type JobProgress struct {
	TotalTiles     int64      `json:"total_tiles" yaml:"total_tiles"`
	ProcessedTiles int64      `json:"processed_tiles" yaml:"processed_tiles"`
	FailedTiles    int64      `json:"failed_tiles" yaml:"failed_tiles"`
	SuccessTiles   int64      `json:"success_tiles" yaml:"success_tiles"`
	SkippedTiles   int64      `json:"skipped_tiles" yaml:"skipped_tiles"`
	TotalFeatures  int64      `json:"total_features" yaml:"total_features"`
	CurrentChunk   int        `json:"current_chunk" yaml:"current_chunk"`
	TotalChunks    int        `json:"total_chunks" yaml:"total_chunks"`
	StartTime      time.Time  `json:"start_time" yaml:"start_time"`
	EstimatedEnd   *time.Time `json:"estimated_end,omitempty" yaml:"estimated_end,omitempty"`
	Throughput     float64    `json:"throughput" yaml:"throughput"`
}

// WorkItem represents a single tile to extract
type WorkItem struct {
	Request *tile.TileRequest `json:"request"`
	ChunkID int               `json:"chunk_id"`
	ItemID  int               `json:"item_id"`
}

// WorkResult represents the result of processing a work item
type WorkResult struct {
	Item     *WorkItem           `json:"item"`
	Tile     *tile.ProcessedTile `json:"tile,omitempty"`
	Error    error               `json:"error,omitempty"`
	Duration time.Duration       `json:"duration"`
}

// ChunkResult represents the result of processing a chunk of work items
type ChunkResult struct {
	ChunkID      int           `json:"chunk_id"`
	Results      []*WorkResult `json:"results"`
	Duration     time.Duration `json:"duration"`
	SuccessCount int           `json:"success_count"`
	FailureCount int           `json:"failure_count"`
}

// Processor defines the interface for executing batch jobs
type Processor interface {
	Process(ctx context.Context, job *Job) error
	ProcessChunk(ctx context.Context, workItems []*WorkItem) (*ChunkResult, error)
}

// RequestBuilder turns a tile coordinate into a fetchable request
type RequestBuilder interface {
	RequestFor(coord *tile.TileCoordinate) *tile.TileRequest
}

// ProgressReporter defines the interface for reporting job progress
type ProgressReporter interface {
	ReportProgress(job *Job) error
	ReportChunkComplete(job *Job, chunk *ChunkResult) error
	ReportJobComplete(job *Job) error
	ReportJobFailed(job *Job, err error) error
}

// JobStore defines the interface for persisting job state
type JobStore interface {
	SaveJob(job *Job) error
	LoadJob(id string) (*Job, error)
	DeleteJob(id string) error
	ListJobs() ([]*Job, error)
}

// NewJob creates a new batch job
func NewJob(id string, ranges []*tile.TileRange, config *JobConfig) *Job {
	return &Job{
		ID:         id,
		TileRanges: ranges,
		Config:     config,
		Status:     JobStatusPending,
		Progress:   NewJobProgress(),
		CreatedAt:  time.Now(),
	}
}

// NewJobID derives a job identifier from the current time
func NewJobID() string {
	return fmt.Sprintf("job_%s", time.Now().UTC().Format("20060102T150405.000"))
}

// NewJobConfig creates a new job configuration with default values
func NewJobConfig() *JobConfig {
	return &JobConfig{
		Concurrency:  10,
		ChunkSize:    100,
		Timeout:      30 * time.Minute,
		OutputFormat: "geojson",
	}
}

// NewJobProgress creates a new job progress tracker
func NewJobProgress() *JobProgress {
	return &JobProgress{StartTime: time.Now()}
}

// NewWorkItem creates a new work item
func NewWorkItem(request *tile.TileRequest, chunkID, itemID int) *WorkItem {
	return &WorkItem{
		Request: request,
		ChunkID: chunkID,
		ItemID:  itemID,
	}
}

// Coordinates enumerates every tile of the job: ranges first, then explicit
// tiles, without duplicates.
func (j *Job) Coordinates() ([]*tile.TileCoordinate, error) {
	seen := make(map[string]struct{})
	var coords []*tile.TileCoordinate

	add := func(c *tile.TileCoordinate) {
		key := c.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		coords = append(coords, c)
	}

	for _, r := range j.TileRanges {
		rangeCoords, err := r.Coordinates()
		if err != nil {
			return nil, err
		}
		for _, c := range rangeCoords {
			add(c)
		}
	}

	for _, c := range j.Tiles {
		if err := tile.ValidateCoordinates(c.Z, c.X, c.Y); err != nil {
			return nil, fmt.Errorf("invalid tile %s: %w", c, err)
		}
		add(c)
	}

	return coords, nil
}

// IsTileCompleted reports whether a tile was already written by this job
func (j *Job) IsTileCompleted(coord *tile.TileCoordinate) bool {
	j.indexCompleted()
	_, ok := j.completed[coord.String()]
	return ok
}

// MarkCompleted records a tile as written
func (j *Job) MarkCompleted(coord *tile.TileCoordinate) {
	j.indexCompleted()
	key := coord.String()
	if _, ok := j.completed[key]; ok {
		return
	}
	j.completed[key] = struct{}{}
	j.CompletedTiles = append(j.CompletedTiles, key)
}

func (j *Job) indexCompleted() {
	if j.completed != nil {
		return
	}
	j.completed = make(map[string]struct{}, len(j.CompletedTiles))
	for _, key := range j.CompletedTiles {
		j.completed[key] = struct{}{}
	}
}

// IsComplete returns true if the job has finished (successfully or with error)
func (j *Job) IsComplete() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed || j.Status == JobStatusCanceled
}

// IsRunning returns true if the job is currently being processed
func (j *Job) IsRunning() bool {
	return j.Status == JobStatusRunning
}

// CanResume returns true if the job has unfinished tiles worth another run
func (j *Job) CanResume() bool {
	switch j.Status {
	case JobStatusPaused, JobStatusFailed, JobStatusCanceled, JobStatusRunning:
		return true
	default:
		return false
	}
}

// EstimateCompletion estimates when the job will complete based on current progress
func (p *JobProgress) EstimateCompletion() time.Time {
	if p.Throughput == 0 || p.ProcessedTiles == 0 {
		return time.Now().Add(time.Hour)
	}

	remaining := p.TotalTiles - p.ProcessedTiles - p.SkippedTiles
	if remaining <= 0 {
		return time.Now()
	}

	secondsRemaining := float64(remaining) / p.Throughput
	return time.Now().Add(time.Duration(secondsRemaining * float64(time.Second)))
}

// CalculateProgress calculates the completion percentage
func (p *JobProgress) CalculateProgress() float64 {
	if p.TotalTiles == 0 {
		return 0
	}
	return float64(p.ProcessedTiles+p.SkippedTiles) / float64(p.TotalTiles) * 100
}

// UpdateThroughput updates the processing throughput based on elapsed time
func (p *JobProgress) UpdateThroughput() {
	elapsed := time.Since(p.StartTime)
	if elapsed.Seconds() > 0 && p.ProcessedTiles > 0 {
		p.Throughput = float64(p.ProcessedTiles) / elapsed.Seconds()
	}
}

// String returns a string representation of the job status
func (s JobStatus) String() string {
	return string(s)
}

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed, JobStatusCanceled, JobStatusPaused:
		return true
	default:
		return false
	}
}
