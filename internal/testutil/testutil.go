// Package testutil provides fixtures and goroutine helpers for storscope
// tests.
//
// Using t.Fatal or t.FailNow in a goroutine only exits that goroutine, so
// concurrent checks return errors to a GoroutineTest instead.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/storscope/internal/datafile"
)

// GenNow anchors generated ObjectIDs so that fixtures are reproducible.
var GenNow = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// =============================================================================
// Data File Fixtures
// =============================================================================

// DefaultGenOptions is a small file spanning several extents: 300 documents
// with 10% deleted in 64 KiB extents.
func DefaultGenOptions() datafile.GenOptions {
	return datafile.GenOptions{
		Documents:   300,
		DeleteRatio: 0.1,
		Seed:        7,
		ExtentSize:  64 << 10,
		Now:         GenNow,
	}
}

// GenPath writes a synthetic data file into a temporary directory and
// returns its path.
func GenPath(t *testing.T, opts datafile.GenOptions) string {
	t.Helper()
	if opts.Now.IsZero() {
		opts.Now = GenNow
	}
	path := filepath.Join(t.TempDir(), "test.0")
	if err := datafile.Generate(path, opts); err != nil {
		t.Fatalf("generate data file: %v", err)
	}
	return path
}

// GenFile generates and opens a synthetic data file. It is closed when the
// test ends.
func GenFile(t *testing.T, opts datafile.GenOptions) *datafile.File {
	t.Helper()
	f, err := datafile.Open(GenPath(t, opts))
	if err != nil {
		t.Fatalf("open data file: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest collects errors from goroutines and reports them on Wait.
//
//	gt := testutil.NewGoroutineTest(t, 10*time.Second)
//	for i := 0; i < 4; i++ {
//	    gt.Go(func(ctx context.Context) error {
//	        _, err := h.DiskStorage(ctx, req)
//	        return err
//	    })
//	}
//	gt.Wait()
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a GoroutineTest whose context expires after
// timeout.
func NewGoroutineTest(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs fn in a goroutine with the test context.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping error: %v", err)
			}
		}
	}()
}

// Wait waits for every goroutine and fails the test if any returned an
// error.
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var errs []error
	for err := range gt.errors {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		gt.t.Errorf("goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the test context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}
