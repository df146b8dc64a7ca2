// internal/batch/coordinator.go - Batch job coordination
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/valpere/geojson_tiler/internal"
)

// Coordinator defines the interface for managing batch jobs
type Coordinator interface {
	Submit(ctx context.Context, job *Job) error
	Resume(ctx context.Context, id string) (*Job, error)
	GetJob(id string) (*Job, error)
	ListJobs() ([]*Job, error)
	CleanupJob(id string) error
}

// DefaultCoordinator runs jobs through a processor and keeps their state
// in an optional store
type DefaultCoordinator struct {
	jobs      map[string]*Job
	processor Processor
	store     JobStore
	mutex     sync.RWMutex
}

// NewDefaultCoordinator creates a new batch coordinator
func NewDefaultCoordinator(processor Processor, store JobStore) *DefaultCoordinator {
	return &DefaultCoordinator{
		jobs:      make(map[string]*Job),
		processor: processor,
		store:     store,
	}
}

// Submit registers a new job and runs it to completion
func (c *DefaultCoordinator) Submit(ctx context.Context, job *Job) error {
	if job.ID == "" {
		return internal.NewError(internal.ErrorCodeValidation, "job ID is required", nil)
	}
	if err := ValidateJob(job); err != nil {
		return internal.NewError(internal.ErrorCodeValidation, "job validation failed", err)
	}

	c.mutex.Lock()
	if _, exists := c.jobs[job.ID]; exists {
		c.mutex.Unlock()
		return internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	job.Progress = NewJobProgress()
	job.CreatedAt = time.Now()
	job.Status = JobStatusPending
	c.jobs[job.ID] = job
	c.mutex.Unlock()

	if c.store != nil {
		if err := c.store.SaveJob(job); err != nil {
			c.mutex.Lock()
			delete(c.jobs, job.ID)
			c.mutex.Unlock()
			return internal.NewError(internal.ErrorCodeProcessing, "failed to persist job", err)
		}
	}

	return c.run(ctx, job)
}

// Resume loads an interrupted job and processes its remaining tiles.
// Only jobs with per-tile output can be resumed.
func (c *DefaultCoordinator) Resume(ctx context.Context, id string) (*Job, error) {
	job, err := c.GetJob(id)
	if err != nil {
		return nil, err
	}

	if !job.CanResume() {
		return job, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s is %s and cannot be resumed", id, job.Status), nil)
	}
	if job.Config == nil || !job.Config.MultiFile {
		return job, internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s wrote a single output file and cannot be resumed", id), nil)
	}

	job.Config.Resume = true
	return job, c.run(ctx, job)
}

// run processes the job and persists its final state, whatever the outcome
func (c *DefaultCoordinator) run(ctx context.Context, job *Job) error {
	processErr := c.processor.Process(ctx, job)

	var saveErr error
	if c.store != nil {
		saveErr = c.store.SaveJob(job)
	}

	if processErr != nil {
		return internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("job %s failed", job.ID), processErr)
	}
	if saveErr != nil {
		return internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to persist job %s", job.ID), saveErr)
	}
	return nil
}

// GetJob retrieves a job by its ID, falling back to the store
func (c *DefaultCoordinator) GetJob(id string) (*Job, error) {
	c.mutex.RLock()
	job, exists := c.jobs[id]
	c.mutex.RUnlock()
	if exists {
		return job, nil
	}

	if c.store == nil {
		return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("job %s not found", id), nil)
	}

	stored, err := c.store.LoadJob(id)
	if err != nil {
		return nil, err
	}

	c.mutex.Lock()
	c.jobs[id] = stored
	c.mutex.Unlock()
	return stored, nil
}

// ListJobs returns stored jobs merged with the ones known in memory
func (c *DefaultCoordinator) ListJobs() ([]*Job, error) {
	seen := make(map[string]struct{})
	var jobs []*Job

	if c.store != nil {
		stored, err := c.store.ListJobs()
		if err != nil {
			return nil, err
		}
		for _, job := range stored {
			seen[job.ID] = struct{}{}
			jobs = append(jobs, job)
		}
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	for id, job := range c.jobs {
		if _, ok := seen[id]; !ok {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// CleanupJob removes a finished job from memory and storage
func (c *DefaultCoordinator) CleanupJob(id string) error {
	job, err := c.GetJob(id)
	if err != nil {
		return err
	}

	if job.IsRunning() {
		return internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("job %s is still running", id), nil)
	}

	c.mutex.Lock()
	delete(c.jobs, id)
	c.mutex.Unlock()

	if c.store != nil {
		if err := c.store.DeleteJob(id); err != nil {
			return internal.NewError(internal.ErrorCodeProcessing, "failed to delete job from storage", err)
		}
	}
	return nil
}

// GetJobStatistics returns job counts per status
func (c *DefaultCoordinator) GetJobStatistics() (map[JobStatus]int, error) {
	jobs, err := c.ListJobs()
	if err != nil {
		return nil, err
	}

	stats := make(map[JobStatus]int)
	for _, job := range jobs {
		stats[job.Status]++
	}
	return stats, nil
}
