// internal/batch/store_test.go - Unit tests for the job store and coordinator
package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/valpere/geojson_tiler/internal"
	"github.com/valpere/geojson_tiler/internal/tile"
)

func TestFileJobStoreRoundTrip(t *testing.T) {
	store, err := NewFileJobStore(filepath.Join(t.TempDir(), "jobs"))
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	job := testJob(true)
	job.Config.Timeout = 90 * time.Second
	job.Config.DocumentPath = "city.geojson"
	job.Tiles = []*tile.TileCoordinate{tile.NewTileCoordinate(5, 3, 7)}
	job.MarkCompleted(tile.NewTileCoordinate(2, 1, 1))
	job.Status = JobStatusCanceled
	job.ErrorMessage = "context canceled"

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	loaded, err := store.LoadJob(job.ID)
	if err != nil {
		t.Fatalf("LoadJob failed: %v", err)
	}

	if loaded.Status != JobStatusCanceled {
		t.Errorf("Expected status canceled, got %s", loaded.Status)
	}
	if loaded.Config.Timeout != 90*time.Second {
		t.Errorf("Expected timeout 90s, got %v", loaded.Config.Timeout)
	}
	if loaded.Config.DocumentPath != "city.geojson" || !loaded.Config.MultiFile {
		t.Errorf("Unexpected config: %+v", loaded.Config)
	}
	if len(loaded.TileRanges) != 1 || loaded.TileRanges[0].MaxX != 3 {
		t.Errorf("Unexpected tile ranges: %+v", loaded.TileRanges)
	}
	if len(loaded.Tiles) != 1 || loaded.Tiles[0].String() != "5/3/7" {
		t.Errorf("Unexpected tiles: %+v", loaded.Tiles)
	}
	if !loaded.IsTileCompleted(tile.NewTileCoordinate(2, 1, 1)) {
		t.Error("Expected completed tile to survive the round trip")
	}
	if loaded.ErrorMessage != "context canceled" {
		t.Errorf("Expected error message, got %q", loaded.ErrorMessage)
	}
	if !loaded.CreatedAt.Equal(job.CreatedAt) {
		t.Errorf("Expected created at %v, got %v", job.CreatedAt, loaded.CreatedAt)
	}
}

func TestFileJobStoreNotFound(t *testing.T) {
	store, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	if _, err := store.LoadJob("missing"); !internal.HasCode(err, internal.ErrorCodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
	if err := store.DeleteJob("missing"); !internal.HasCode(err, internal.ErrorCodeNotFound) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestFileJobStoreInvalidID(t *testing.T) {
	store, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := store.LoadJob(id); !internal.HasCode(err, internal.ErrorCodeValidation) {
			t.Errorf("Expected VALIDATION_ERROR for %q, got %v", id, err)
		}
	}
}

func TestFileJobStoreListAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileJobStore(dir)
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	first := testJob(true)
	first.ID = "first"
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := testJob(true)
	second.ID = "second"

	for _, job := range []*Job{second, first} {
		if err := store.SaveJob(job); err != nil {
			t.Fatalf("SaveJob failed: %v", err)
		}
	}
	// Unrelated files are ignored
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "first" || jobs[1].ID != "second" {
		t.Fatalf("Expected jobs [first second], got %d jobs", len(jobs))
	}

	if err := store.DeleteJob("first"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	jobs, _ = store.ListJobs()
	if len(jobs) != 1 {
		t.Errorf("Expected 1 job after delete, got %d", len(jobs))
	}
}

func TestCoordinatorSubmitAndResume(t *testing.T) {
	store, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	fetcher := &fakeFetcher{fail: map[string]bool{"2/3/3": true}}
	bp := NewBatchProcessor(fetcher, tile.NewGeoJSONProcessor(), &recordingWriter{}, plainRequests{}, nil).WithStore(store)
	coordinator := NewDefaultCoordinator(bp, store)

	job := testJob(true)
	if err := coordinator.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := coordinator.Submit(context.Background(), job); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("Expected duplicate submission to be rejected, got %v", err)
	}

	// Simulate an interrupted run picked up by a fresh process
	stored, _ := store.LoadJob(job.ID)
	stored.Status = JobStatusFailed
	if err := store.SaveJob(stored); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	delete(fetcher.fail, "2/3/3")
	before := fetcher.count()

	fresh := NewDefaultCoordinator(bp, store)
	resumed, err := fresh.Resume(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}

	if fetcher.count()-before != 1 {
		t.Errorf("Expected only the failed tile to be refetched, got %d fetches", fetcher.count()-before)
	}
	if resumed.Status != JobStatusCompleted || len(resumed.CompletedTiles) != 16 {
		t.Errorf("Unexpected resumed job: status %s, %d completed", resumed.Status, len(resumed.CompletedTiles))
	}

	if _, err := fresh.Resume(context.Background(), job.ID); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("Expected completed job to be rejected, got %v", err)
	}
}

func TestCoordinatorResumeSingleFile(t *testing.T) {
	store, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	job := testJob(false)
	job.Status = JobStatusFailed
	if err := store.SaveJob(job); err != nil {
		t.Fatalf("SaveJob failed: %v", err)
	}

	bp := NewBatchProcessor(&fakeFetcher{}, tile.NewGeoJSONProcessor(), &recordingWriter{}, plainRequests{}, nil)
	coordinator := NewDefaultCoordinator(bp, store)
	if _, err := coordinator.Resume(context.Background(), job.ID); !internal.HasCode(err, internal.ErrorCodeValidation) {
		t.Errorf("Expected single-file job to be rejected, got %v", err)
	}
}

func TestCoordinatorCleanupAndStatistics(t *testing.T) {
	store, err := NewFileJobStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileJobStore failed: %v", err)
	}

	bp := NewBatchProcessor(&fakeFetcher{}, tile.NewGeoJSONProcessor(), &recordingWriter{}, plainRequests{}, nil)
	coordinator := NewDefaultCoordinator(bp, store)

	job := testJob(true)
	if err := coordinator.Submit(context.Background(), job); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	stats, err := coordinator.GetJobStatistics()
	if err != nil {
		t.Fatalf("GetJobStatistics failed: %v", err)
	}
	if stats[JobStatusCompleted] != 1 {
		t.Errorf("Expected 1 completed job, got %v", stats)
	}

	if err := coordinator.CleanupJob(job.ID); err != nil {
		t.Fatalf("CleanupJob failed: %v", err)
	}
	if _, err := coordinator.GetJob(job.ID); !internal.HasCode(err, internal.ErrorCodeNotFound) {
		t.Errorf("Expected NOT_FOUND after cleanup, got %v", err)
	}
}

func TestCoordinatorPersistsFinalStatus(t *testing.T) {
	tests := []struct {
		name        string
		fail        map[string]bool
		failOnError bool
		want        JobStatus
	}{
		{"completed", nil, false, JobStatusCompleted},
		{"failed", map[string]bool{"2/0/1": true}, true, JobStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewFileJobStore(t.TempDir())
			if err != nil {
				t.Fatalf("NewFileJobStore failed: %v", err)
			}

			// The processor has no store of its own, so only the coordinator saves
			bp := NewBatchProcessor(&fakeFetcher{fail: tt.fail}, tile.NewGeoJSONProcessor(), &recordingWriter{}, plainRequests{}, nil)
			coordinator := NewDefaultCoordinator(bp, store)

			job := testJob(true)
			job.Config.FailOnError = tt.failOnError
			coordinator.Submit(context.Background(), job)

			stored, err := store.LoadJob(job.ID)
			if err != nil {
				t.Fatalf("LoadJob failed: %v", err)
			}
			if stored.Status != tt.want {
				t.Errorf("Expected stored status %s, got %s", tt.want, stored.Status)
			}

			stats, err := NewDefaultCoordinator(bp, store).GetJobStatistics()
			if err != nil {
				t.Fatalf("GetJobStatistics failed: %v", err)
			}
			if stats[tt.want] != 1 {
				t.Errorf("Expected 1 %s job from the store, got %v", tt.want, stats)
			}
		})
	}
}
