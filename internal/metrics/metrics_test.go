package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/errors"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, OutcomeOK, Outcome(nil))
	assert.Equal(t, OutcomePartial, Outcome(fmt.Errorf("walk: %w", errors.ErrCancelled)))
	assert.Equal(t, OutcomePartial, Outcome(errors.ErrResidencyQueryFailed))
	assert.Equal(t, OutcomeError, Outcome(errors.NewNotFound("extent", "3")))
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveAnalysis(KindDisk, time.Now(), nil)
	m.ObserveAnalysis(KindDisk, time.Now(), errors.ErrCancelled)
	m.AddNodes(12)
	m.AddRecords(30, 4)
	m.AddPages(3, 10)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues(KindDisk, OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.analyses.WithLabelValues(KindDisk, OutcomePartial)))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.nodesVisited))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.recordsScanned.WithLabelValues("free")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.pagesSampled.WithLabelValues("absent")))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAnalysis(KindMem, time.Now(), nil)
		m.AddNodes(1)
		m.AddRecords(1, 1)
		m.AddPages(1, 1)
	})
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.AddNodes(5)

	path := filepath.Join(t.TempDir(), "storscope.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "storscope_index_nodes_visited_total 5")
}
