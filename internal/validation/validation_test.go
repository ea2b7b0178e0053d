package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/storscope/internal/errors"
)

func TestValidateName(t *testing.T) {
	rules := IndexRules()

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "n_1", false},
		{"id index", "_id_", false},
		{"with hyphen", "by-ts", false},
		{"numbers", "123", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"with dot", "a.b", true},
		{"slash", "a/b", true},
		{"backslash", "a\\b", true},
		{"control char", "a\x00b", true},
		{"dollar", "a$b", true},
		{"space", "a b", true},
		{"too long", strings.Repeat("x", MaxNamespaceLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName("index", tt.input, rules)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err), "%v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNameWithDots(t *testing.T) {
	rules := CollectionRules()
	assert.NoError(t, ValidateName("collection", "system.indexes", rules))
	assert.Error(t, ValidateName("collection", "a..b", rules))
	assert.Error(t, ValidateName("collection", "trailing.", rules))
}

func TestValidateAnalysisID(t *testing.T) {
	assert.NoError(t, ValidateAnalysisID("3f2a9c1d"))
	assert.NoError(t, ValidateAnalysisID("nightly-2024_06"))
	assert.Error(t, ValidateAnalysisID(""))
	assert.Error(t, ValidateAnalysisID("../etc"))
	assert.Error(t, ValidateAnalysisID("run.1"))
}

func TestParseNamespace(t *testing.T) {
	tests := []struct {
		input   string
		want    NamespaceRef
		wantErr bool
	}{
		{"test.docs", NamespaceRef{Database: "test", Collection: "docs"}, false},
		{"test.docs.$_id_", NamespaceRef{Database: "test", Collection: "docs", Index: "_id_"}, false},
		{"db.a.b", NamespaceRef{Database: "db", Collection: "a.b"}, false},
		{"db.a.b.$n_1", NamespaceRef{Database: "db", Collection: "a.b", Index: "n_1"}, false},
		{"", NamespaceRef{}, true},
		{"nodot", NamespaceRef{}, true},
		{".coll", NamespaceRef{}, true},
		{"db.", NamespaceRef{}, true},
		{"db.coll.$", NamespaceRef{}, true},
		{"db.coll.$a.b", NamespaceRef{}, true},
		{"d b.coll", NamespaceRef{}, true},
		{"db." + strings.Repeat("c", MaxNamespaceLength), NamespaceRef{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ref, err := ParseNamespace(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err), "%v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *ref)
			assert.Equal(t, tt.input, ref.String())
		})
	}
}

func TestNamespaceKinds(t *testing.T) {
	assert.NoError(t, ValidateCollectionNamespace("test.docs"))
	assert.Error(t, ValidateCollectionNamespace("test.docs.$_id_"))

	ref, err := ParseNamespace("test.docs.$_id_")
	require.NoError(t, err)
	assert.True(t, ref.IsIndex())
	assert.Equal(t, "test.docs", ref.CollectionNamespace())
}
