// Package config provides configuration defaults and utilities
// for the storscope application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via storscope.yaml or command line flags.
package config

// =============================================================================
// Analysis Defaults
// =============================================================================

const (
	// DefaultQuantiles is the number of interior quantiles each summary tracks.
	// 99 yields percentiles 1..99 plus min and max.
	// Override via config: analysis.quantiles
	DefaultQuantiles = 99

	// DefaultQuantileBackend selects the streaming quantile estimator.
	// "p2" is the extended P-square estimator, "ddsketch" trades memory for
	// a relative accuracy guarantee and mergeability.
	// Override via config: analysis.quantile_backend
	DefaultQuantileBackend = "p2"

	// DefaultSketchAccuracy is the relative accuracy of the ddsketch backend.
	// Override via config: analysis.sketch_accuracy
	DefaultSketchAccuracy = 0.01

	// DefaultMaxTreeDepth bounds index tree recursion. A walk deeper than
	// this is treated as a corrupt tree (a child pointer cycle).
	// Override via config: analysis.max_tree_depth
	DefaultMaxTreeDepth = 64

	// DefaultDensityBins is the number of equal-width density bins emitted
	// with each summary once its quantile grid is ready. 0 disables them.
	// Override via config: analysis.density_bins
	DefaultDensityBins = 10
)

// =============================================================================
// Disk Analysis Defaults
// =============================================================================

const (
	// DefaultChunkCount is used when neither chunk_size nor chunk_count is set.
	// Override via config: disk.chunk_count
	DefaultChunkCount = 100

	// DefaultCharacteristicField is the document path whose value is
	// averaged per chunk.
	// Override via config: disk.characteristic_field
	DefaultCharacteristicField = "_id"

	// DefaultCharacteristicKind interprets the characteristic field.
	// "objectid" reports the age in seconds derived from an ObjectID,
	// "numeric" uses the numeric value as is.
	// Override via config: disk.characteristic_kind
	DefaultCharacteristicKind = "objectid"
)

// =============================================================================
// Memory Analysis Defaults
// =============================================================================

const (
	// DefaultPageSize is the page size used when the OS cannot be asked.
	// Zero means "query the OS" (os.Getpagesize).
	// Override via config: memory.page_size
	DefaultPageSize = 0
)

// =============================================================================
// Output Defaults
// =============================================================================

const (
	// DefaultOutputFormat is the report encoding when stdout is not a
	// terminal. On a terminal the text tables are used instead.
	// Override via config: output.format or --format
	DefaultOutputFormat = "json"

	// DefaultExportDir receives parquet exports.
	// Override via config: output.export_dir
	DefaultExportDir = "./storscope-export"

	// DefaultParquetCompression is the codec for exported parquet files.
	// Override via config: output.compression
	DefaultParquetCompression = "zstd"

	// DefaultQueryMemoryLimit caps DuckDB memory when querying exports.
	// Override via config: output.query_memory_limit
	DefaultQueryMemoryLimit = "1GB"
)

// =============================================================================
// Runtime Defaults
// =============================================================================

const (
	// DefaultWorkers bounds concurrent per-extent analyses for --all-extents.
	// Each analysis itself is single threaded.
	// Override via config: workers
	DefaultWorkers = 4

	// DefaultLogLevel is the slog level name.
	// Override via config: logging.level or --log-level
	DefaultLogLevel = "info"
)

// =============================================================================
// Reference Data File Defaults
// =============================================================================

const (
	// DefaultGenDocuments is the number of documents `storscope gen` writes.
	DefaultGenDocuments = 10000

	// DefaultGenDeleteRatio is the fraction of generated documents removed
	// again so that free lists are populated.
	DefaultGenDeleteRatio = 0.1

	// DefaultGenSeed seeds the generator so fixture files are reproducible.
	DefaultGenSeed = 1
)

// =============================================================================
// Report Stream Defaults
// =============================================================================

const (
	// DefaultMaxMessageSize bounds one length-delimited report read back
	// from a proto stream (16 MiB).
	DefaultMaxMessageSize = 16 * 1024 * 1024
)
