package validator

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
)

func titled(title string) document.Document {
	var d document.Document
	d.Set("title", document.String(title))
	return d
}

func TestValidateWriteAccepts(t *testing.T) {
	assert.NoError(t, ValidateWrite("news", []document.Document{titled("red car")}))
}

func TestValidateWriteRejects(t *testing.T) {
	metaOnly := document.Document{}
	metaOnly.Set("__source", document.String("x"))

	for name, tc := range map[string]struct {
		collection string
		docs       []document.Document
		field      string
	}{
		"missing collection": {"", []document.Document{titled("a")}, "collection"},
		"bad collection":     {"a/b", []document.Document{titled("a")}, "collection"},
		"long collection":    {strings.Repeat("c", MaxCollectionLength+1), []document.Document{titled("a")}, "collection"},
		"no documents":       {"news", nil, "documents"},
		"meta only":          {"news", []document.Document{titled("a"), metaOnly}, "documents[1]"},
	} {
		t.Run(name, func(t *testing.T) {
			err := ValidateWrite(tc.collection, tc.docs)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.Fields, tc.field)
		})
	}
}

func TestValidateWriteMessages(t *testing.T) {
	long := document.Document{}
	long.Set(strings.Repeat("k", MaxKeyLength+1), document.String("x"))

	err := ValidateWrite("two words", []document.Document{long})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "collection must not contain '/', '*' or whitespace", verr.Fields["collection"])
	assert.Equal(t, "field names must be 1 to 255 characters", verr.Fields["documents[0]"])

	err = ValidateWrite("news", make([]document.Document, MaxDocuments+1))
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "at most 10000 documents per request", verr.Fields["documents"])
	assert.Len(t, verr.Fields, 1)
}
