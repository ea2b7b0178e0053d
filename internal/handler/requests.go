package handler

import (
	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/validation"
)

// DiskRequest asks for the storage accounting of one extent, or of every
// extent of a collection.
type DiskRequest struct {
	Namespace  string
	Extent     int
	AllExtents bool

	// Chunking falls back to the configured chunk count when it names
	// neither a size nor a count.
	Chunking chunk.Request

	// CharactField is the dotted document path averaged per chunk. Empty
	// disables the characteristic. CharactKind defaults to numeric.
	CharactField string
	CharactKind  string

	ShowRecords bool
}

// Validate checks the request.
func (r *DiskRequest) Validate() error {
	v := errors.NewValidationErrors()
	if r.Namespace == "" {
		v.AddMissing("namespace")
	} else if _, err := validation.ParseNamespace(r.Namespace); err != nil {
		v.Add(err)
	}
	if !r.AllExtents && r.Extent < 0 {
		v.Add(errors.NewInvalidValue("extent", r.Extent, "must not be negative"))
	}
	if err := r.Chunking.Validate(); err != nil {
		v.Add(err)
	}
	if r.CharactKind != "" && r.CharactField == "" {
		v.AddField("charact_field", "must be set when a characteristic kind is given")
	}
	if r.CharactField != "" && r.CharactKind != "" {
		if _, err := datafile.ParseCharacteristicKind(r.CharactKind); err != nil {
			v.Add(err)
		}
	}
	return v.Err()
}

// MemRequest asks for the page residency of one extent, or of every extent
// of a collection.
type MemRequest struct {
	Namespace  string
	Extent     int
	AllExtents bool
	Chunking   chunk.Request
}

// Validate checks the request.
func (r *MemRequest) Validate() error {
	v := errors.NewValidationErrors()
	if r.Namespace == "" {
		v.AddMissing("namespace")
	} else if _, err := validation.ParseNamespace(r.Namespace); err != nil {
		v.Add(err)
	}
	if !r.AllExtents && r.Extent < 0 {
		v.Add(errors.NewInvalidValue("extent", r.Extent, "must not be negative"))
	}
	if err := r.Chunking.Validate(); err != nil {
		v.Add(err)
	}
	return v.Err()
}

// IndexRequest asks for the statistics of one index tree.
type IndexRequest struct {
	// Namespace is the index namespace, "<collection>.$<index>".
	Namespace string

	// Expand is the expansion path: child numbers from the root down.
	Expand []int

	// AnalyzeStorage adds the space accounting of the index's extents.
	AnalyzeStorage bool
}

// Validate checks the namespace syntax. The expansion path itself is
// checked by the tree walk options.
func (r *IndexRequest) Validate() error {
	_, err := validation.ParseNamespace(r.Namespace)
	return err
}

// withDefaultChunking fills an empty chunking request from the config.
func withDefaultChunking(req chunk.Request, count int, size int64) chunk.Request {
	if req.ChunkCount == 0 && req.ChunkSize == 0 {
		req.ChunkCount = count
		req.ChunkSize = size
	}
	return req
}
