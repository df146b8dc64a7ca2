// internal/batch/store.go - YAML file job store
package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/valpere/geojson_tiler/internal"
)

const jobFileExtension = ".yaml"

// FileJobStore persists each job as a YAML document in a state directory
type FileJobStore struct {
	dir   string
	mutex sync.Mutex
}

// NewFileJobStore creates a store rooted at dir, creating it if needed
func NewFileJobStore(dir string) (*FileJobStore, error) {
	if dir == "" {
		return nil, internal.NewError(internal.ErrorCodeConfig, "job state directory is required", nil)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to create job state directory %s", dir), err)
	}
	return &FileJobStore{dir: dir}, nil
}

// Dir returns the state directory
func (s *FileJobStore) Dir() string {
	return s.dir
}

// SaveJob writes the job state, replacing any previous version
func (s *FileJobStore) SaveJob(job *Job) error {
	if err := validateJobID(job.ID); err != nil {
		return err
	}

	data, err := yaml.Marshal(job)
	if err != nil {
		return internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to encode job %s", job.ID), err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	// Write then rename so readers never see a partial document
	tmp, err := os.CreateTemp(s.dir, job.ID+".*.tmp")
	if err != nil {
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to create job state file", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to write job state", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to write job state", err)
	}
	if err := os.Rename(tmp.Name(), s.path(job.ID)); err != nil {
		os.Remove(tmp.Name())
		return internal.NewError(internal.ErrorCodeFileSystem, "failed to store job state", err)
	}
	return nil
}

// LoadJob reads a job by its ID
func (s *FileJobStore) LoadJob(id string) (*Job, error) {
	if err := validateJobID(id); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	data, err := os.ReadFile(s.path(id))
	s.mutex.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("job %s not found", id), err)
		}
		return nil, internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to read job %s", id), err)
	}

	var job Job
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, internal.NewError(internal.ErrorCodeProcessing, fmt.Sprintf("failed to decode job %s", id), err)
	}
	if job.Progress == nil {
		job.Progress = NewJobProgress()
	}
	return &job, nil
}

// DeleteJob removes a stored job
func (s *FileJobStore) DeleteJob(id string) error {
	if err := validateJobID(id); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return internal.NewError(internal.ErrorCodeNotFound, fmt.Sprintf("job %s not found", id), err)
		}
		return internal.NewError(internal.ErrorCodeFileSystem, fmt.Sprintf("failed to delete job %s", id), err)
	}
	return nil
}

// ListJobs returns all stored jobs, oldest first
func (s *FileJobStore) ListJobs() ([]*Job, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, internal.NewError(internal.ErrorCodeFileSystem, "failed to list job state directory", err)
	}

	var jobs []*Job
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, jobFileExtension) {
			continue
		}
		job, err := s.LoadJob(strings.TrimSuffix(name, jobFileExtension))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *FileJobStore) path(id string) string {
	return filepath.Join(s.dir, id+jobFileExtension)
}

func validateJobID(id string) error {
	if id == "" {
		return internal.NewError(internal.ErrorCodeValidation, "job ID is required", nil)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return internal.NewError(internal.ErrorCodeValidation, fmt.Sprintf("invalid job ID %q", id), nil)
	}
	return nil
}
