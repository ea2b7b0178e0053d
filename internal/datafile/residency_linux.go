//go:build linux

package datafile

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/xtxerr/storscope/internal/errors"
)

// Resident reports, for j in [0, pages), whether the OS page containing
// file offset off+j*PageSize() is resident in memory.
func (f *File) Resident(off int64, pages int) ([]bool, error) {
	if !f.mapped {
		return nil, fmt.Errorf("%s is not memory mapped: %w", f.describe(), errors.ErrResidencyQueryFailed)
	}
	if pages <= 0 {
		return nil, nil
	}

	size := int64(len(f.data))
	last := off + int64(pages-1)*int64(f.pageSize)
	if off < 0 || last >= size {
		return nil, fmt.Errorf("pages [%d,%d] outside file of %d bytes: %w", off, last, size, errors.ErrResidencyQueryFailed)
	}

	osPage := int64(os.Getpagesize())
	first := off / osPage * osPage
	end := min((last/osPage+1)*osPage, size)

	vec := make([]byte, (end-first+osPage-1)/osPage)
	_, _, errno := unix.Syscall(unix.SYS_MINCORE,
		uintptr(unsafe.Pointer(&f.data[first])),
		uintptr(end-first),
		uintptr(unsafe.Pointer(&vec[0])))
	if errno != 0 {
		return nil, fmt.Errorf("mincore at %d: %w: %w", first, errors.ErrResidencyQueryFailed, errno)
	}

	out := make([]bool, pages)
	for j := range out {
		addr := off + int64(j)*int64(f.pageSize)
		out[j] = vec[(addr-first)/osPage]&1 != 0
	}
	return out, nil
}

func (f *File) describe() string {
	if f.path == "" {
		return "in-memory image"
	}
	return f.path
}
