package report

import (
	"bufio"
	"fmt"
	"io"
	"sync"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/storscope/config"
	"github.com/xtxerr/storscope/internal/errors"
)

// Reader reads length-delimited report messages from an io.Reader.
// It is safe for concurrent use.
type Reader struct {
	r  *bufio.Reader
	mu sync.Mutex
}

// NewReader creates a Reader wrapping the given io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Read reads and unmarshals the next report. It returns io.EOF at a clean
// end of stream.
func (r *Reader) Read() (*structpb.Struct, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := &structpb.Struct{}
	opts := protodelim.UnmarshalOptions{
		MaxSize: config.DefaultMaxMessageSize,
	}
	if err := opts.UnmarshalFrom(r.r, st); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read report: %w", err)
	}
	return st, nil
}

// Writer writes length-delimited report messages to an io.Writer.
// It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter creates a Writer wrapping the given io.Writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write converts v to a Struct and writes it with a length prefix.
func (w *Writer) Write(v any) error {
	st, ok := v.(*structpb.Struct)
	if !ok {
		var err error
		if st, err = ToStruct(v); err != nil {
			return err
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := protodelim.MarshalTo(w.w, st); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// =============================================================================
// Error Reports
// =============================================================================

// ErrorReport is written in place of a report when an analysis fails, so
// that a stream consumer sees every requested item.
type ErrorReport struct {
	Code    int    `json:"code" yaml:"code" bson:"code"`
	Kind    string `json:"kind" yaml:"kind" bson:"kind"`
	Message string `json:"error" yaml:"error" bson:"error"`
}

// NewErrorReport maps err to its error code.
func NewErrorReport(err error) *ErrorReport {
	code := errors.ErrorToCode(err)
	return &ErrorReport{
		Code:    code,
		Kind:    errors.CodeName(code),
		Message: err.Error(),
	}
}
