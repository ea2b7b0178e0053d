package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/storscope/internal/errors"
)

// Format is a report encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatBSON    Format = "bson"
	FormatExtJSON Format = "extjson"
	FormatProto   Format = "proto"
	FormatText    Format = "text"
)

// Formats lists every supported encoding.
var Formats = []Format{FormatJSON, FormatYAML, FormatBSON, FormatExtJSON, FormatProto, FormatText}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.NewInvalidValue("format", s, "must be one of json, yaml, bson, extjson, proto, text")
}

// Binary reports whether the encoding should not be written to a terminal.
func (f Format) Binary() bool {
	return f == FormatBSON || f == FormatProto
}

// ResolveFormat picks the encoding for an output stream. An explicit flag
// wins; otherwise terminals get text tables and everything else gets the
// configured format.
func ResolveFormat(flag, configured string, terminal bool) (Format, error) {
	switch {
	case flag != "":
		return ParseFormat(flag)
	case terminal:
		return FormatText, nil
	default:
		return ParseFormat(configured)
	}
}

// Encode writes v to w in format f.
func Encode(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		return enc.Close()

	case FormatBSON:
		b, err := bson.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode bson: %w", err)
		}
		_, err = w.Write(b)
		return err

	case FormatExtJSON:
		b, err := bson.MarshalExtJSON(v, false, false)
		if err != nil {
			return fmt.Errorf("encode extended json: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err

	case FormatProto:
		return NewWriter(w).Write(v)

	case FormatText:
		return RenderText(w, v)

	default:
		return errors.NewInvalidValue("format", string(f), "unknown")
	}
}

// ToStruct converts a report into a protobuf Struct through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	st := &structpb.Struct{}
	if err := protojson.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("convert to struct: %w", err)
	}
	return st, nil
}

// DecodeJSON renders a Struct read from a proto stream as indented JSON.
func DecodeJSON(w io.Writer, st *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
