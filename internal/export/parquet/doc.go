// Package parquet exports analysis reports as Parquet tables.
//
// The package provides:
//   - Row types for disk chunks, residency chunks and index levels
//   - A generic Writer/Reader over those rows
//   - An Exporter laying tables out as <dir>/<table>/<analysis id>.parquet
//   - Support for multiple compression algorithms (snappy, zstd, lz4, gzip)
package parquet
