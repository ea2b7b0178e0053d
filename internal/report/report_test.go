package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/storscope/internal/analyze/btree"
	"github.com/xtxerr/storscope/internal/analyze/extent"
	"github.com/xtxerr/storscope/internal/analyze/incore"
	"github.com/xtxerr/storscope/internal/chunk"
	"github.com/xtxerr/storscope/internal/datafile"
	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/stats"
)

func TestFromSummaryEmpty(t *testing.T) {
	s := FromSummary(stats.MustSummary(stats.Options{Quantiles: 3}))
	assert.Zero(t, s.Count)
	assert.Nil(t, s.Mean)
	assert.Nil(t, s.Stddev)
	assert.Nil(t, s.Min)
	assert.Nil(t, s.Max)
	assert.Nil(t, s.Quantiles)

	b, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":0}`, string(b))
}

func TestFromSummaryQuantiles(t *testing.T) {
	sum := stats.MustSummary(stats.Options{Quantiles: 3})
	for i := 1; i <= 100; i++ {
		sum.Observe(float64(i))
	}

	s := FromSummary(sum)
	assert.Equal(t, uint64(100), s.Count)
	require.NotNil(t, s.Mean)
	assert.InDelta(t, 50.5, *s.Mean, 1e-9)
	assert.Equal(t, 1.0, *s.Min)
	assert.Equal(t, 100.0, *s.Max)
	assert.Contains(t, s.Quantiles, "p50")
	assert.Contains(t, s.Quantiles, "p25")
	assert.Contains(t, s.Quantiles, "p75")
}

func TestFromSummaryDensity(t *testing.T) {
	sum := stats.MustSummary(stats.Options{Quantiles: 3, DensityBins: 5})
	for i := 1; i <= 100; i++ {
		sum.Observe(float64(i))
	}

	s := FromSummary(sum)
	require.Len(t, s.Density, 5)
	assert.Equal(t, 1.0, s.Density[0].Lower)
	assert.Equal(t, 100.0, s.Density[4].Upper)
	var mass float64
	for _, b := range s.Density {
		mass += b.Mass
	}
	assert.InDelta(t, 1.0, mass, 1e-9)

	assert.Nil(t, FromSummary(stats.MustSummary(stats.Options{Quantiles: 3})).Density)
}

func TestQuantileKey(t *testing.T) {
	assert.Equal(t, "p50", QuantileKey(0.5))
	assert.Equal(t, "p1", QuantileKey(0.01))
	assert.Equal(t, "p12.5", QuantileKey(0.125))
}

func TestKeyString(t *testing.T) {
	key, err := bson.Marshal(bson.D{{Key: "", Value: int64(42)}})
	require.NoError(t, err)
	assert.Equal(t, "42", KeyString(key))
	assert.Equal(t, "", KeyString(nil))
	assert.Equal(t, "0102", KeyString([]byte{1, 2}))
}

func TestParseFormat(t *testing.T) {
	for _, f := range Formats {
		got, err := ParseFormat(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	got, err := ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got)

	_, err = ParseFormat("xml")
	assert.True(t, errors.IsValidation(err))
}

func TestResolveFormat(t *testing.T) {
	f, err := ResolveFormat("", "yaml", true)
	require.NoError(t, err)
	assert.Equal(t, FormatText, f)

	f, err = ResolveFormat("", "yaml", false)
	require.NoError(t, err)
	assert.Equal(t, FormatYAML, f)

	f, err = ResolveFormat("bson", "yaml", true)
	require.NoError(t, err)
	assert.Equal(t, FormatBSON, f)
	assert.True(t, f.Binary())
}

// fixture scans the first extent and the _id index of a generated file.
type fixture struct {
	disk  *Disk
	mem   *Mem
	index *Index
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.db")
	require.NoError(t, datafile.Generate(path, datafile.GenOptions{Documents: 300, DeleteRatio: 0.1, Seed: 3}))

	f, err := datafile.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	ns, err := f.Collection(datafile.GenCollection)
	require.NoError(t, err)
	ext, err := f.Extent(ns, 0)
	require.NoError(t, err)

	opts := stats.Options{Quantiles: 9}
	ctx := context.Background()

	er, err := extent.Scan(ctx, ext, extent.Options{
		Chunking:    chunk.Request{ChunkCount: 4},
		DocSize:     datafile.DocSize,
		DocID:       datafile.DocumentID,
		ShowRecords: true,
		Stats:       opts,
	})
	require.NoError(t, err)

	mr, err := incore.Sample(ctx, ext, f, chunk.Request{ChunkCount: 4})
	require.NoError(t, err)

	tree, err := f.Index(datafile.GenCollection, "_id_")
	require.NoError(t, err)
	br, err := btree.Analyze(ctx, tree, btree.Options{Stats: opts, Expand: []int{0}})
	require.NoError(t, err)

	exts, err := f.Extents(tree.Namespace())
	require.NoError(t, err)
	regions := make([]engine.Region, len(exts))
	for i, e := range exts {
		regions[i] = e
	}
	sr, err := btree.AnalyzeStorage(ctx, regions)
	require.NoError(t, err)

	src := Source{Namespace: ns.Name, Extent: 0}
	return fixture{
		disk:  FromDisk(src, er),
		mem:   FromMem(src, mr),
		index: FromIndex(IndexSource{Name: "_id_", Namespace: ns.Name, KeyPattern: "{_id: 1}"}, br, sr),
	}
}

func TestFromDisk(t *testing.T) {
	fx := newFixture(t)
	d := fx.disk

	assert.Equal(t, datafile.GenCollection, d.Namespace)
	require.Len(t, d.Chunks, 4)
	assert.Len(t, d.FreeRecsPerBucket, engine.NumBuckets)

	var entries float64
	for _, c := range d.Chunks {
		entries += c.NumEntries
	}
	assert.InDelta(t, d.NumEntries, entries, 1e-6)
	assert.NotEmpty(t, d.Records)
	assert.Len(t, d.Records[0].ID, 24)
	assert.Nil(t, d.CharactSum, "no characteristic was extracted")
}

func TestFromMem(t *testing.T) {
	m := newFixture(t).mem
	require.Len(t, m.Chunks, 4)
	require.NotNil(t, m.InMem)
	for _, c := range m.Chunks {
		require.NotNil(t, c)
		assert.GreaterOrEqual(t, *c, 0.0)
	}
}

func TestNewMemSet(t *testing.T) {
	set := NewMemSet("test.a", []*Mem{
		{Extent: 0, Pages: 4, Resident: 1},
		{Extent: 1, Pages: 4, Resident: 3},
	})
	assert.Equal(t, 8, set.Pages)
	assert.Equal(t, 4, set.Resident)
	require.NotNil(t, set.InMem)
	assert.InDelta(t, 0.5, *set.InMem, 1e-12)
	assert.False(t, set.Partial)

	set = NewMemSet("test.a", []*Mem{{Pages: 2, Resident: 2}, nil})
	assert.True(t, set.Partial)
	assert.Equal(t, 2, set.Pages)
	assert.Len(t, set.Extents, 2)

	set = NewMemSet("test.a", nil)
	assert.Nil(t, set.InMem)
}

func TestFromIndex(t *testing.T) {
	ix := newFixture(t).index
	assert.Equal(t, 1, ix.Version)
	assert.Equal(t, ix.Depth, len(ix.PerLevel))
	assert.Greater(t, ix.Overall.NumBuckets, 0)

	var buckets int
	for _, lvl := range ix.PerLevel {
		buckets += lvl.NumBuckets
	}
	assert.Equal(t, ix.Overall.NumBuckets, buckets)

	require.NotEmpty(t, ix.Expanded)
	assert.Equal(t, 0, ix.Expanded[0].Depth)
	require.Len(t, ix.Expanded[0].Nodes, 1)
	assert.NotEmpty(t, ix.Expanded[0].Nodes[0].FirstKey)

	require.NotNil(t, ix.Storage)
	assert.Equal(t, ix.Overall.NumBuckets, ix.Storage.NumRecords)
}

func TestFromIndexKeepsChildPositions(t *testing.T) {
	opts := stats.Options{Quantiles: 3}
	area := &btree.AreaStats{
		KeyCount:     stats.MustSummary(opts),
		UsedKeyCount: stats.MustSummary(opts),
		FillRatio:    stats.MustSummary(opts),
		BSONRatio:    stats.MustSummary(opts),
		KeyNodeRatio: stats.MustSummary(opts),
	}
	res := &btree.Result{
		WholeTree: area,
		Branches: []*btree.Branch{
			{Subtrees: []*btree.AreaStats{area}, Nodes: []*btree.NodeInfo{{ChildNum: 0}}},
			{
				Subtrees: []*btree.AreaStats{area, nil, area},
				Nodes:    []*btree.NodeInfo{{ChildNum: 0, Depth: 1}, nil, {ChildNum: 2, Depth: 1}},
			},
		},
	}

	ix := FromIndex(IndexSource{Name: "n_1"}, res, nil)
	require.Len(t, ix.Expanded, 2)
	br := ix.Expanded[1]
	require.Len(t, br.Nodes, 3)
	require.Len(t, br.Subtrees, 3)
	assert.Nil(t, br.Nodes[1])
	assert.Nil(t, br.Subtrees[1])
	require.NotNil(t, br.Nodes[2])
	assert.Equal(t, 2, br.Nodes[2].ChildNum)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatText, ix))
	assert.Contains(t, buf.String(), "expanded level 1")
}

func TestEncodeFormats(t *testing.T) {
	fx := newFixture(t)

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatJSON, fx.disk))
		var back Disk
		require.NoError(t, json.Unmarshal(buf.Bytes(), &back))
		assert.Equal(t, fx.disk.NumEntries, back.NumEntries)
		assert.Equal(t, len(fx.disk.Chunks), len(back.Chunks))
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatYAML, fx.index))
		var back map[string]any
		require.NoError(t, yaml.Unmarshal(buf.Bytes(), &back))
		assert.Equal(t, "_id_", back["name"])
	})

	t.Run("bson", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatBSON, fx.mem))
		raw := bson.Raw(buf.Bytes())
		require.NoError(t, raw.Validate())
		assert.Equal(t, datafile.GenCollection, raw.Lookup("ns").StringValue())
	})

	t.Run("extjson", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatExtJSON, fx.mem))
		assert.Contains(t, buf.String(), `"ns":"test.docs"`)
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Encode(&buf, FormatText, fx.disk))
		assert.Contains(t, buf.String(), "total")
		buf.Reset()
		require.NoError(t, Encode(&buf, FormatText, fx.index))
		assert.Contains(t, buf.String(), "overall")
		buf.Reset()
		require.NoError(t, Encode(&buf, FormatText, fx.mem))
		assert.Contains(t, buf.String(), "resident")
	})
}

func TestProtoStream(t *testing.T) {
	fx := newFixture(t)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Write(fx.disk))
	require.NoError(t, w.Write(NewErrorReport(errors.NewNotFound("extent", "7"))))

	r := NewReader(&buf)
	st, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, "test.docs", st.Fields["ns"].GetStringValue())
	assert.Len(t, st.Fields["chunks"].GetListValue().GetValues(), 4)

	st, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, float64(errors.CodeNotFound), st.Fields["code"].GetNumberValue())
	assert.Equal(t, "NotFound", st.Fields["kind"].GetStringValue())

	_, err = r.Read()
	assert.ErrorIs(t, err, io.EOF)
}

func TestToStructDropsNaN(t *testing.T) {
	m := &Mem{Namespace: "x", Chunks: []*float64{num(0.5), num(math.NaN())}}
	st, err := ToStruct(m)
	require.NoError(t, err)
	vals := st.Fields["chunks"].GetListValue().GetValues()
	require.Len(t, vals, 2)
	assert.Equal(t, 0.5, vals[0].GetNumberValue())
	_, isNull := vals[1].Kind.(*structpb.Value_NullValue)
	assert.True(t, isNull)
	_, hasInMem := st.Fields["inMem"]
	assert.False(t, hasInMem)
}
