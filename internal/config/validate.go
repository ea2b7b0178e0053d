package config

import (
	"errors"
	"fmt"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// Analysis
	if err := c.Analysis.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analysis: %w", err))
	}

	// Disk
	if err := c.Disk.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("disk: %w", err))
	}

	// Memory
	if c.Memory.PageSize < 0 {
		errs = append(errs, errors.New("memory: page_size must be non-negative"))
	} else if c.Memory.PageSize&(c.Memory.PageSize-1) != 0 {
		errs = append(errs, errors.New("memory: page_size must be a power of two"))
	}

	// Output
	if err := c.Output.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	// Logging
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"":      true, // Empty defaults to info
	}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, errors.New("logging: level must be one of: debug, info, warn, error"))
	}

	if c.Workers <= 0 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the analysis configuration.
func (c *AnalysisConfig) Validate() error {
	var errs []error

	if c.Quantiles < 1 {
		errs = append(errs, errors.New("quantiles must be at least 1"))
	}

	switch c.QuantileBackend {
	case "p2", "":
	case "ddsketch":
		if c.SketchAccuracy <= 0 || c.SketchAccuracy >= 1 {
			errs = append(errs, errors.New("sketch_accuracy must be between 0 and 1"))
		}
	default:
		errs = append(errs, errors.New("quantile_backend must be one of: p2, ddsketch"))
	}

	if c.MaxTreeDepth <= 0 {
		errs = append(errs, errors.New("max_tree_depth must be positive"))
	}

	if c.DensityBins < 0 {
		errs = append(errs, errors.New("density_bins must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the disk configuration.
func (c *DiskConfig) Validate() error {
	var errs []error

	if c.ChunkCount < 0 {
		errs = append(errs, errors.New("chunk_count must be non-negative"))
	}
	if c.ChunkSize < 0 {
		errs = append(errs, errors.New("chunk_size must be non-negative"))
	}
	if c.ChunkCount == 0 && c.ChunkSize == 0 {
		errs = append(errs, errors.New("one of chunk_count or chunk_size is required"))
	}

	if c.CharacteristicField == "" {
		errs = append(errs, errors.New("characteristic_field is required"))
	}

	switch c.CharacteristicKind {
	case "numeric", "objectid":
	default:
		errs = append(errs, errors.New("characteristic_kind must be one of: numeric, objectid"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the output configuration.
func (c *OutputConfig) Validate() error {
	var errs []error

	validFormats := map[string]bool{
		"json":    true,
		"yaml":    true,
		"bson":    true,
		"extjson": true,
		"proto":   true,
		"text":    true,
		"":        true, // Empty means auto-detect
	}
	if !validFormats[c.Format] {
		errs = append(errs, errors.New("format must be one of: json, yaml, bson, extjson, proto, text"))
	}

	validCodecs := map[string]bool{
		"snappy": true,
		"zstd":   true,
		"gzip":   true,
		"none":   true,
		"":       true, // Empty defaults to zstd
	}
	if !validCodecs[c.Compression] {
		errs = append(errs, errors.New("compression must be one of: snappy, zstd, gzip, none"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
