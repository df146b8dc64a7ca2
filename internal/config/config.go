// internal/config/config.go - Configuration management
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/valpere/geojson_tiler/internal"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Local   LocalConfig   `mapstructure:"local"`
	Source  SourceConfig  `mapstructure:"source"`
	Output  OutputConfig  `mapstructure:"output"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Network NetworkConfig `mapstructure:"network"`
	Logging LoggingConfig `mapstructure:"logging"`
	Extract ExtractConfig `mapstructure:"extract"`
}

// ServerConfig contains GeoJSON tile server configuration for HTTP sources
type ServerConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	APIKey      string            `mapstructure:"api_key"`
	Headers     map[string]string `mapstructure:"headers"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	MaxRetries  int               `mapstructure:"max_retries"`
	URLTemplate string            `mapstructure:"url_template"`
}

// LocalConfig contains configuration for local GeoJSON tile trees
type LocalConfig struct {
	BasePath     string `mapstructure:"base_path"`
	PathTemplate string `mapstructure:"path_template"`
	Extension    string `mapstructure:"extension"`
	Compressed   bool   `mapstructure:"compressed"`
}

// SourceConfig determines the data source type and behavior
type SourceConfig struct {
	Type        string `mapstructure:"type"`
	DefaultType string `mapstructure:"default_type"`
	AutoDetect  bool   `mapstructure:"auto_detect"`
}

// OutputConfig contains output formatting configuration
type OutputConfig struct {
	Format      string `mapstructure:"format"`
	Directory   string `mapstructure:"directory"`
	Compression bool   `mapstructure:"compression"`
	Pretty      bool   `mapstructure:"pretty"`
}

// BatchConfig contains batch processing configuration
type BatchConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	ChunkSize   int           `mapstructure:"chunk_size"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Resume      bool          `mapstructure:"resume"`
	FailOnError bool          `mapstructure:"fail_on_error"`
	StateDir    string        `mapstructure:"state_dir"`
}

// NetworkConfig contains network-related configuration
type NetworkConfig struct {
	ProxyURL         string        `mapstructure:"proxy_url"`
	UserAgent        string        `mapstructure:"user_agent"`
	KeepAlive        time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns     int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout  time.Duration `mapstructure:"idle_conn_timeout"`
	DisableKeepAlive bool          `mapstructure:"disable_keep_alive"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	File     string `mapstructure:"file"`
	Verbose  bool   `mapstructure:"verbose"`
	Progress bool   `mapstructure:"progress"`
}

// ExtractConfig controls how GeoJSON documents become tile-local layers
type ExtractConfig struct {
	Extent            uint32        `mapstructure:"extent"`
	NumericProperties []string      `mapstructure:"numeric_properties"`
	LayerName         string        `mapstructure:"layer_name"`
	Simplify          bool          `mapstructure:"simplify"`
	SimplifyTolerance float64       `mapstructure:"simplify_tolerance"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
}

// Load loads configuration from various sources
func Load() (*Config, error) {
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "failed to unmarshal configuration", err)
	}

	if err := Validate(&config); err != nil {
		return nil, internal.NewError(internal.ErrorCodeConfig, "configuration validation failed", err)
	}

	return &config, nil
}

// setDefaults configures default values for all configuration options
func setDefaults() {
	// Source defaults
	viper.SetDefault("source.type", "auto")
	viper.SetDefault("source.default_type", "http")
	viper.SetDefault("source.auto_detect", true)

	// Server defaults
	viper.SetDefault("server.timeout", 30*time.Second)
	viper.SetDefault("server.max_retries", 3)
	viper.SetDefault("server.url_template", "{base_url}/{z}/{x}/{y}.json")

	// Local file defaults
	viper.SetDefault("local.path_template", "{base_path}/{z}/{x}/{y}{ext}")
	viper.SetDefault("local.extension", ".geojson")
	viper.SetDefault("local.compressed", false)

	// Output defaults
	viper.SetDefault("output.format", "geojson")
	viper.SetDefault("output.pretty", true)
	viper.SetDefault("output.compression", false)
	viper.SetDefault("output.directory", "./output")

	// Batch defaults
	viper.SetDefault("batch.concurrency", 10)
	viper.SetDefault("batch.chunk_size", 100)
	viper.SetDefault("batch.timeout", 5*time.Minute)
	viper.SetDefault("batch.resume", false)
	viper.SetDefault("batch.fail_on_error", false)
	viper.SetDefault("batch.state_dir", ".geojson-tiler/jobs")

	// Network defaults
	viper.SetDefault("network.user_agent", "GeoJSONTiler/1.0")
	viper.SetDefault("network.keep_alive", 30*time.Second)
	viper.SetDefault("network.max_idle_conns", 100)
	viper.SetDefault("network.idle_conn_timeout", 90*time.Second)
	viper.SetDefault("network.disable_keep_alive", false)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stderr")
	viper.SetDefault("logging.verbose", false)
	viper.SetDefault("logging.progress", true)

	// Extraction defaults
	viper.SetDefault("extract.extent", 4096)
	viper.SetDefault("extract.numeric_properties", []string{"height", "min_height"})
	viper.SetDefault("extract.layer_name", "geojson")
	viper.SetDefault("extract.simplify", false)
	viper.SetDefault("extract.simplify_tolerance", 1.0)
	viper.SetDefault("extract.cache_ttl", 5*time.Minute)
}

// GetTileURL builds a tile URL using the configured template for HTTP sources
func (c *Config) GetTileURL(z, x, y int) string {
	if c.Server.BaseURL == "" {
		return ""
	}
	template := c.Server.URLTemplate
	if template == "" {
		template = "{base_url}/{z}/{x}/{y}.json"
	}
	return expandTemplate(template, map[string]string{
		"{base_url}": strings.TrimRight(c.Server.BaseURL, "/"),
	}, z, x, y)
}

// GetTilePath builds a local file path using the configured template for local sources
func (c *Config) GetTilePath(z, x, y int) string {
	if c.Local.BasePath == "" {
		return ""
	}
	extension := c.Local.Extension
	if c.Local.Compressed {
		extension += ".gz"
	}
	template := c.Local.PathTemplate
	if template == "" {
		template = "{base_path}/{z}/{x}/{y}{ext}"
	}
	return filepath.FromSlash(expandTemplate(template, map[string]string{
		"{base_path}": filepath.ToSlash(c.Local.BasePath),
		"{ext}":       extension,
	}, z, x, y))
}

func expandTemplate(template string, vars map[string]string, z, x, y int) string {
	pairs := []string{
		"{z}", strconv.Itoa(z),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	}
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// DetermineSourceType automatically determines the source type based on configuration
func (c *Config) DetermineSourceType() internal.SourceType {
	switch c.Source.Type {
	case string(internal.SourceTypeLocal):
		return internal.SourceTypeLocal
	case string(internal.SourceTypeHTTP):
		return internal.SourceTypeHTTP
	}

	if c.Source.AutoDetect {
		if c.Local.BasePath != "" && c.Server.BaseURL == "" {
			return internal.SourceTypeLocal
		}
		if c.Server.BaseURL != "" && c.Local.BasePath == "" {
			return internal.SourceTypeHTTP
		}
	}

	if c.Source.DefaultType == "local" {
		return internal.SourceTypeLocal
	}
	return internal.SourceTypeHTTP
}

// Describe returns a short human-readable description of the resolved source
func (c *Config) Describe() string {
	switch c.DetermineSourceType() {
	case internal.SourceTypeLocal:
		return fmt.Sprintf("local:%s", c.Local.BasePath)
	default:
		return fmt.Sprintf("http:%s", c.Server.BaseURL)
	}
}
