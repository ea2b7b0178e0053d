package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/errors"
)

func TestNodeFormatLayout(t *testing.T) {
	v0, err := FormatV0.Layout()
	require.NoError(t, err)
	assert.Equal(t, 18, v0.KeyNodeSize)
	assert.Equal(t, BucketSize-32, v0.BodySize())

	v1, err := FormatV1.Layout()
	require.NoError(t, err)
	assert.Equal(t, 16, v1.KeyNodeSize)
	assert.Equal(t, BucketSize-26, v1.BodySize())

	_, err = NodeFormat(7).Layout()
	assert.ErrorIs(t, err, errors.ErrUnsupportedFormat)
}

func TestBucketFor(t *testing.T) {
	assert.Equal(t, 0, BucketFor(0))
	assert.Equal(t, 0, BucketFor(31))
	assert.Equal(t, 1, BucketFor(32))
	assert.Equal(t, 8, BucketFor(4096))
	assert.Equal(t, NumBuckets-1, BucketFor(1<<30))
}

func TestLocString(t *testing.T) {
	assert.Equal(t, "null", NullLoc.String())
	assert.Equal(t, "0x1000", Loc(4096).String())
	assert.True(t, Loc(0).IsNull())
}
