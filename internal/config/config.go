// Package config loads the storscope YAML configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/storscope/config"
	"github.com/xtxerr/storscope/internal/errors"
)

// Config represents the complete storscope configuration.
type Config struct {
	// Analysis configures the statistics core and tree walk.
	Analysis AnalysisConfig `yaml:"analysis"`

	// Disk configures the extent/record scanner.
	Disk DiskConfig `yaml:"disk"`

	// Memory configures the page-residency sampler.
	Memory MemoryConfig `yaml:"memory"`

	// Output configures report encoding and exports.
	Output OutputConfig `yaml:"output"`

	// Logging configures the slog handler.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the prometheus textfile output.
	Metrics MetricsConfig `yaml:"metrics"`

	// Workers bounds concurrent per-extent analyses.
	Workers int `yaml:"workers"`
}

// AnalysisConfig configures the statistics core and tree walk.
type AnalysisConfig struct {
	// Quantiles is the number of interior quantiles tracked per summary.
	Quantiles int `yaml:"quantiles"`

	// QuantileBackend is the estimator: p2, ddsketch.
	QuantileBackend string `yaml:"quantile_backend"`

	// SketchAccuracy is the ddsketch relative accuracy (0.01 = 1% error).
	SketchAccuracy float64 `yaml:"sketch_accuracy"`

	// MaxTreeDepth bounds index tree recursion.
	MaxTreeDepth int `yaml:"max_tree_depth"`

	// DensityBins is the number of density bins per summary. 0 disables
	// them.
	DensityBins int `yaml:"density_bins"`
}

// DiskConfig configures the extent/record scanner.
type DiskConfig struct {
	// ChunkCount splits the analyzed range into this many chunks.
	// Takes precedence over ChunkSize when both are set.
	ChunkCount int `yaml:"chunk_count"`

	// ChunkSize is the chunk granularity in bytes.
	ChunkSize int64 `yaml:"chunk_size"`

	// CharacteristicField is the dotted document path averaged per chunk.
	CharacteristicField string `yaml:"characteristic_field"`

	// CharacteristicKind is numeric or objectid.
	CharacteristicKind string `yaml:"characteristic_kind"`

	// ShowRecords lists every record in the report.
	ShowRecords bool `yaml:"show_records"`
}

// MemoryConfig configures the page-residency sampler.
type MemoryConfig struct {
	// PageSize overrides the OS page size. Zero means query the OS.
	PageSize int `yaml:"page_size"`
}

// OutputConfig configures report encoding and exports.
type OutputConfig struct {
	// Format is the report encoding: json, yaml, bson, extjson, proto, text.
	Format string `yaml:"format"`

	// ExportDir receives parquet exports.
	ExportDir string `yaml:"export_dir"`

	// Compression is the parquet codec: snappy, zstd, gzip, none.
	Compression string `yaml:"compression"`

	// QueryMemoryLimit is the DuckDB memory limit for export queries.
	QueryMemoryLimit string `yaml:"query_memory_limit"`
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`

	// JSON switches to the JSON handler.
	JSON bool `yaml:"json"`
}

// MetricsConfig configures the prometheus textfile output.
type MetricsConfig struct {
	// Textfile is written after each command when set.
	Textfile string `yaml:"textfile"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NewNotFound("config file", path)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w: %w", err, errors.ErrInvalidConfig)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w: %w", err, errors.ErrInvalidConfig)
	}

	return config, nil
}

// LoadOrDefault loads path when it is non-empty and returns the defaults
// otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			Quantiles:       defaults.DefaultQuantiles,
			QuantileBackend: defaults.DefaultQuantileBackend,
			SketchAccuracy:  defaults.DefaultSketchAccuracy,
			MaxTreeDepth:    defaults.DefaultMaxTreeDepth,
			DensityBins:     defaults.DefaultDensityBins,
		},
		Disk: DiskConfig{
			ChunkCount:          defaults.DefaultChunkCount,
			CharacteristicField: defaults.DefaultCharacteristicField,
			CharacteristicKind:  defaults.DefaultCharacteristicKind,
		},
		Memory: MemoryConfig{
			PageSize: defaults.DefaultPageSize,
		},
		Output: OutputConfig{
			Format:           defaults.DefaultOutputFormat,
			ExportDir:        defaults.DefaultExportDir,
			Compression:      defaults.DefaultParquetCompression,
			QueryMemoryLimit: defaults.DefaultQueryMemoryLimit,
		},
		Logging: LoggingConfig{
			Level: defaults.DefaultLogLevel,
		},
		Workers: defaults.DefaultWorkers,
	}
}
