// cmd/batch_test.go - Unit tests for batch command helpers
package cmd

import (
	"path/filepath"
	"testing"

	"github.com/valpere/geojson_tiler/internal/batch"
	"github.com/valpere/geojson_tiler/internal/config"
	"github.com/valpere/geojson_tiler/internal/output"
)

func testCommandConfig() *config.Config {
	return &config.Config{
		Output:  config.OutputConfig{Format: "geojson", Pretty: true},
		Extract: config.ExtractConfig{Extent: 4096},
	}
}

func TestParseTilesList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{"single", "14/8362/5956", []string{"14/8362/5956"}, false},
		{"several", "1/0/0, 1/1/0,1/1/1", []string{"1/0/0", "1/1/0", "1/1/1"}, false},
		{"trailing comma", "2/1/1,", []string{"2/1/1"}, false},
		{"empty", " , ", nil, true},
		{"out of range", "1/2/0", nil, true},
		{"garbage", "a/b/c", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coords, err := parseTilesList(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(coords) != len(tt.want) {
				t.Fatalf("Expected %d tiles, got %d", len(tt.want), len(coords))
			}
			for i, coord := range coords {
				if coord.String() != tt.want[i] {
					t.Errorf("Expected tile %s, got %s", tt.want[i], coord.String())
				}
			}
		})
	}
}

func TestOpenJobWriter(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		jobConfig *batch.JobConfig
		check     func(output.Writer) bool
	}{
		{
			"mbtiles without extension",
			&batch.JobConfig{OutputFormat: formatMBTiles, OutputPath: filepath.Join(dir, "archive.db"), MultiFile: true},
			func(w output.Writer) bool { _, ok := w.(*output.MBTilesWriter); return ok },
		},
		{
			"directory",
			&batch.JobConfig{OutputFormat: "geojson", OutputPath: filepath.Join(dir, "tiles"), MultiFile: true},
			func(w output.Writer) bool { _, ok := w.(*output.MultiFileWriter); return ok },
		},
		{
			"single file",
			&batch.JobConfig{OutputFormat: "geojson", OutputPath: filepath.Join(dir, "all.geojson")},
			func(w output.Writer) bool { _, ok := w.(*output.FileWriter); return ok },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writer, err := openJobWriter(testCommandConfig(), tt.jobConfig, false)
			if err != nil {
				t.Fatalf("openJobWriter failed: %v", err)
			}
			defer writer.Close()

			if !tt.check(writer) {
				t.Errorf("Unexpected writer type %T", writer)
			}
		})
	}
}

func TestApplyJobConfig(t *testing.T) {
	cfg := testCommandConfig()
	applyJobConfig(cfg, &batch.JobConfig{OutputFormat: "json", Compression: true})
	if cfg.Output.Format != "json" || !cfg.Output.Compression {
		t.Errorf("Expected json with compression, got %s/%v", cfg.Output.Format, cfg.Output.Compression)
	}

	cfg = testCommandConfig()
	applyJobConfig(cfg, &batch.JobConfig{OutputFormat: formatMBTiles})
	if cfg.Output.Format != "geojson" {
		t.Errorf("Expected mbtiles jobs to keep the configured format, got %s", cfg.Output.Format)
	}
}
