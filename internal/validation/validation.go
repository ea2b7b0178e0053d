// Package validation provides centralized input validation for storscope
// names: collection and index namespaces and analysis ids.
//
// Every error wraps errors.ErrInvalidConfig so that callers map it to an
// invalid-request exit code.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/storscope/internal/errors"
)

// MaxNamespaceLength is the longest namespace name a data file stores.
const MaxNamespaceLength = 63

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
}

// AnalysisIDRules returns the rules for analysis ids. Ids become file names.
func AnalysisIDRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    64,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// CollectionRules returns the rules for the parts of a collection
// namespace.
func CollectionRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    MaxNamespaceLength,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// IndexRules returns the rules for index names.
func IndexRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    MaxNamespaceLength,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(field, name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return invalid(field, name, fmt.Sprintf("minimum %d characters required", rules.MinLength))
	}
	if len(name) > rules.MaxLength {
		return invalid(field, name, fmt.Sprintf("maximum %d bytes allowed", rules.MaxLength))
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return invalid(field, name, "cannot start or end with '.'")
	}
	if strings.Contains(name, "..") {
		return invalid(field, name, "cannot contain '..'")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return invalid(field, name, fmt.Sprintf("control character at position %d", i))
		}
		if r == '/' || r == '\\' {
			return invalid(field, name, fmt.Sprintf("path separator at position %d", i))
		}
		if !isAllowedNameChar(r, rules) {
			return invalid(field, name, fmt.Sprintf("invalid character '%c' at position %d", r, i))
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	}
	return false
}

func invalid(field, value, reason string) error {
	return errors.NewInvalidValue(field, value, reason)
}

// ValidateAnalysisID validates an analysis id.
func ValidateAnalysisID(id string) error {
	return ValidateName("analysis id", id, AnalysisIDRules())
}

// =============================================================================
// Namespace References
// =============================================================================

// NamespaceRef is a parsed namespace name: "<db>.<collection>" or
// "<db>.<collection>.$<index>".
type NamespaceRef struct {
	Database   string
	Collection string
	Index      string
}

// ParseNamespace parses and validates a collection or index namespace.
func ParseNamespace(ns string) (*NamespaceRef, error) {
	if ns == "" {
		return nil, errors.NewMissingField("namespace")
	}
	if len(ns) > MaxNamespaceLength {
		return nil, invalid("namespace", ns, fmt.Sprintf("maximum %d bytes allowed", MaxNamespaceLength))
	}

	coll, index, isIndex := strings.Cut(ns, ".$")
	db, rest, ok := strings.Cut(coll, ".")
	if !ok || db == "" || rest == "" {
		return nil, invalid("namespace", ns, "expected '<db>.<collection>'")
	}

	rules := CollectionRules()
	if err := ValidateName("database", db, NameRules{MinLength: 1, MaxLength: rules.MaxLength, AllowHyphens: true, AllowUnders: true}); err != nil {
		return nil, err
	}
	if err := ValidateName("collection", rest, rules); err != nil {
		return nil, err
	}

	ref := &NamespaceRef{Database: db, Collection: rest}
	if isIndex {
		if err := ValidateName("index", index, IndexRules()); err != nil {
			return nil, err
		}
		ref.Index = index
	}
	return ref, nil
}

// ValidateCollectionNamespace accepts "<db>.<collection>" only.
func ValidateCollectionNamespace(ns string) error {
	ref, err := ParseNamespace(ns)
	if err != nil {
		return err
	}
	if ref.IsIndex() {
		return invalid("collection namespace", ns, "names an index")
	}
	return nil
}

// IsIndex reports whether the reference names an index.
func (r *NamespaceRef) IsIndex() bool {
	return r.Index != ""
}

// CollectionNamespace returns "<db>.<collection>".
func (r *NamespaceRef) CollectionNamespace() string {
	return r.Database + "." + r.Collection
}

// String returns the namespace name.
func (r *NamespaceRef) String() string {
	if r.IsIndex() {
		return r.CollectionNamespace() + ".$" + r.Index
	}
	return r.CollectionNamespace()
}
