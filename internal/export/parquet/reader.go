package parquet

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/storscope/internal/errors"
)

// Reader reads rows of type T from a Parquet file.
type Reader[T any] struct {
	file   *os.File
	reader *parquet.GenericReader[T]
	path   string
}

// NewReader opens a Parquet file for reading.
func NewReader[T any](path string) (*Reader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound("export file", path)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}

	return &Reader[T]{
		file:   f,
		reader: parquet.NewGenericReader[T](f),
		path:   path,
	}, nil
}

// Read reads up to n rows. It returns io.EOF once the file is exhausted.
func (r *Reader[T]) Read(n int) ([]T, error) {
	rows := make([]T, n)
	count, err := r.reader.Read(rows)
	if err != nil && (!errors.Is(err, io.EOF) || count == 0) {
		return nil, err
	}
	return rows[:count], nil
}

// ReadAll reads every row of the file.
func (r *Reader[T]) ReadAll() ([]T, error) {
	rows := make([]T, r.reader.NumRows())

	n, err := r.reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows[:n], nil
}

// NumRows returns the total number of rows in the file.
func (r *Reader[T]) NumRows() int64 {
	return r.reader.NumRows()
}

// Close closes the reader.
func (r *Reader[T]) Close() error {
	if err := r.reader.Close(); err != nil {
		r.file.Close()
		return err
	}
	return r.file.Close()
}

// Path returns the file path.
func (r *Reader[T]) Path() string {
	return r.path
}
