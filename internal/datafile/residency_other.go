//go:build !linux

package datafile

import (
	"fmt"
	"runtime"

	"github.com/xtxerr/storscope/internal/errors"
)

// Resident is only implemented on linux.
func (f *File) Resident(off int64, pages int) ([]bool, error) {
	return nil, fmt.Errorf("%s: %w", f.describe(), errors.NewUnsupported("page residency query on", runtime.GOOS))
}

func (f *File) describe() string {
	if f.path == "" {
		return "in-memory image"
	}
	return f.path
}
