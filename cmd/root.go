// cmd/root.go - Root command implementation
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/valpere/geojson_tiler/internal/config"
	"github.com/valpere/geojson_tiler/internal/logging"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geojson-tiler",
	Short: "Convert GeoJSON documents into tile-local vector geometry",
	Long: `GeoJSON Tiler reads GeoJSON FeatureCollections for web map tiles and projects
their geometry into tile-local coordinates (0..extent, y pointing north), keeping
only an allow-list of numeric properties. Results are written as GeoJSON, a
structured JSON layer, Mapbox Vector Tiles, or an MBTiles archive.

Data Sources:
- Remote GeoJSON tile servers via HTTP/HTTPS
- Local z/x/y GeoJSON tile trees
- A single GeoJSON document shared by every tile

Examples:
  # Extract a single remote tile
  geojson-tiler extract --base-url "https://example.com/geojson" --z 14 --x 8362 --y 5956

  # Extract a local file, reading z/x/y from its path
  geojson-tiler extract --file "/data/tiles/14/8362/5956.geojson" --output tile.geojson

  # Encode a tile as a vector tile
  geojson-tiler extract --base-path /data/tiles --z 14 --x 8362 --y 5956 --format mvt --output tile.mvt

  # Batch process a bounding box into an MBTiles archive
  geojson-tiler batch --base-url "https://example.com/geojson" --min-zoom 12 --max-zoom 14 --bbox "-74.0,40.7,-73.9,40.8" --mbtiles city.mbtiles

  # Use a configuration file
  geojson-tiler extract --config config.yaml --z 14 --x 8362 --y 5956`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.geojson-tiler.yaml)")

	// Source configuration flags
	rootCmd.PersistentFlags().String("source-type", "auto", "data source type (auto, http, local)")
	rootCmd.PersistentFlags().String("base-url", "", "base URL for GeoJSON tile server (HTTP source)")
	rootCmd.PersistentFlags().String("base-path", "", "base path for local GeoJSON tiles (local source)")
	rootCmd.PersistentFlags().String("api-key", "", "API key for authentication (HTTP source)")

	// Output flags
	rootCmd.PersistentFlags().StringP("format", "f", "geojson", "output format (geojson, json, mvt)")
	rootCmd.PersistentFlags().Bool("pretty", true, "pretty print JSON output")
	rootCmd.PersistentFlags().Bool("compression", false, "compress output files")

	// Extraction flags
	rootCmd.PersistentFlags().Uint32("extent", 4096, "tile-local coordinate extent")
	rootCmd.PersistentFlags().StringSlice("properties", []string{"height", "min_height"}, "numeric properties to keep")

	// Processing flags
	rootCmd.PersistentFlags().Bool("verbose", false, "verbose output")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int("concurrency", 10, "number of concurrent requests")
	rootCmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout (HTTP source)")
	rootCmd.PersistentFlags().Int("retries", 3, "number of retry attempts")

	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"source.type":                "source-type",
		"server.base_url":            "base-url",
		"local.base_path":            "base-path",
		"server.api_key":             "api-key",
		"output.format":              "format",
		"output.pretty":              "pretty",
		"output.compression":         "compression",
		"extract.extent":             "extent",
		"extract.numeric_properties": "properties",
		"logging.verbose":            "verbose",
		"logging.level":              "log-level",
		"batch.concurrency":          "concurrency",
		"server.timeout":             "timeout",
		"server.max_retries":         "retries",
	})
}

// bindFlags binds each configuration key to its flag
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to bind flag %s: %w", name, err))
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".geojson-tiler" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".geojson-tiler")
	}

	viper.SetEnvPrefix("GEOJSON_TILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("using config file")
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration and installs the global logger. The
// returned closer releases the log destination.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	closer, err := logging.Setup(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	log.Debug().Str("source", cfg.Describe()).Msg("configuration loaded")
	return cfg, closer, nil
}
