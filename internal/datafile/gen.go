package datafile

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/xtxerr/storscope/internal/engine"
	"github.com/xtxerr/storscope/internal/errors"
	"github.com/xtxerr/storscope/internal/logging"
)

// GenCollection is the collection Generate creates.
const GenCollection = "test.docs"

// GenOptions configures synthetic data generation.
type GenOptions struct {
	Documents   int
	DeleteRatio float64
	Seed        uint64
	ExtentSize  int64

	// Now anchors ObjectID timestamps. Documents are spread over the
	// 30 days before it. Zero means time.Now().
	Now time.Time
}

// Validate checks the generation options.
func (o GenOptions) Validate() error {
	if o.Documents < 0 {
		return errors.NewInvalidValue("documents", o.Documents, "must not be negative")
	}
	if o.DeleteRatio < 0 || o.DeleteRatio > 1 {
		return errors.NewInvalidValue("delete ratio", o.DeleteRatio, "must be between 0 and 1")
	}
	return nil
}

// Build generates the synthetic collection into a new builder. The
// collection gets an "_id_" index in v1 format and an "n_1" index in v0
// format.
func Build(opts GenOptions) (*Builder, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	b := NewBuilder(BuilderOptions{ExtentSize: opts.ExtentSize})

	coll, err := b.Collection(GenCollection, false)
	if err != nil {
		return nil, err
	}

	locs := make([]engine.Loc, 0, opts.Documents)
	for i := 0; i < opts.Documents; i++ {
		doc, err := bson.Marshal(bson.D{
			{Key: "_id", Value: genObjectID(rng, opts.Now)},
			{Key: "n", Value: int64(i)},
			{Key: "payload", Value: genPayload(rng)},
			{Key: "ts", Value: rng.Float64() * 1e6},
		})
		if err != nil {
			return nil, fmt.Errorf("encode document %d: %w", i, err)
		}
		loc, err := coll.InsertPadded(doc, rng.IntN(64))
		if err != nil {
			return nil, err
		}
		locs = append(locs, loc)
	}

	deletes := int(float64(len(locs)) * opts.DeleteRatio)
	for _, i := range rng.Perm(len(locs))[:deletes] {
		if err := coll.Delete(locs[i]); err != nil {
			return nil, err
		}
	}

	if err := coll.AddIndex(IndexSpec{Name: "_id_", Field: "_id", Format: engine.FormatV1}); err != nil {
		return nil, err
	}
	if err := coll.AddIndex(IndexSpec{Name: "n_1", Field: "n", Format: engine.FormatV0}); err != nil {
		return nil, err
	}

	logging.Component("datafile").Debug("generated collection",
		"collection", GenCollection,
		"documents", opts.Documents,
		"deleted", deletes,
	)
	return b, nil
}

// Generate writes a synthetic data file to path.
func Generate(path string, opts GenOptions) error {
	b, err := Build(opts)
	if err != nil {
		return err
	}
	return b.WriteFile(path)
}

func genObjectID(rng *rand.Rand, now time.Time) primitive.ObjectID {
	var oid primitive.ObjectID
	age := rng.Int64N(int64(30 * 24 * time.Hour / time.Second))
	binary.BigEndian.PutUint32(oid[0:4], uint32(now.Unix()-age))
	binary.BigEndian.PutUint64(oid[4:12], rng.Uint64())
	return oid
}

const payloadAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func genPayload(rng *rand.Rand) string {
	b := make([]byte, 20+rng.IntN(1981))
	for i := range b {
		b[i] = payloadAlphabet[rng.IntN(len(payloadAlphabet))]
	}
	return string(b)
}
