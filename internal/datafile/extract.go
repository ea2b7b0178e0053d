package datafile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/xtxerr/storscope/internal/errors"
)

// CharacteristicKind selects how a document field is turned into the
// per-record characteristic value.
type CharacteristicKind int

const (
	// KindNumeric reads double, int32, int64 and decimal128 fields.
	KindNumeric CharacteristicKind = iota

	// KindObjectID reads an ObjectID and yields its age in seconds.
	KindObjectID
)

// String implements fmt.Stringer.
func (k CharacteristicKind) String() string {
	switch k {
	case KindNumeric:
		return "numeric"
	case KindObjectID:
		return "objectid"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseCharacteristicKind parses "numeric" or "objectid".
func ParseCharacteristicKind(s string) (CharacteristicKind, error) {
	switch strings.ToLower(s) {
	case "numeric":
		return KindNumeric, nil
	case "objectid":
		return KindObjectID, nil
	default:
		return 0, errors.NewInvalidValue("characteristic kind", s, "must be numeric or objectid")
	}
}

// ExtractCharacteristic reads the dotted field path from doc. ok is false
// when the document is malformed, the field is missing or it has the wrong
// type for kind.
func ExtractCharacteristic(doc []byte, path string, kind CharacteristicKind, now time.Time) (float64, bool) {
	if path == "" {
		return 0, false
	}
	v, err := bson.Raw(doc[:DocSize(doc)]).LookupErr(strings.Split(path, ".")...)
	if err != nil {
		return 0, false
	}

	switch kind {
	case KindObjectID:
		oid, ok := v.ObjectIDOK()
		if !ok {
			return 0, false
		}
		return float64(now.Unix() - oid.Timestamp().Unix()), true
	default:
		return numericValue(v)
	}
}

// DocumentID returns the hex form of the document's _id when it is an
// ObjectID, or its canonical string form otherwise.
func DocumentID(doc []byte) string {
	v, err := bson.Raw(doc[:DocSize(doc)]).LookupErr("_id")
	if err != nil {
		return ""
	}
	if oid, ok := v.ObjectIDOK(); ok {
		return oid.Hex()
	}
	return v.String()
}

func numericValue(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bsontype.Double:
		return v.DoubleOK()
	case bsontype.Int32:
		n, ok := v.Int32OK()
		return float64(n), ok
	case bsontype.Int64:
		n, ok := v.Int64OK()
		return float64(n), ok
	case bsontype.Decimal128:
		d, ok := v.Decimal128OK()
		if !ok {
			return 0, false
		}
		f, err := strconv.ParseFloat(d.String(), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
