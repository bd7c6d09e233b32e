// Package validator checks write requests before they are queued.
package validator

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
)

const (
	MaxCollectionLength = 128
	MaxDocuments        = 10000
	MaxKeyLength        = 255
	MaxStringValue      = 1 << 20
)

// writeRequest is the part of a write request that has a fixed shape.
type writeRequest struct {
	Collection string              `validate:"required,max=128,collection"`
	Documents  []document.Document `validate:"required,min=1,max=10000"`
}

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("collection", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), func(r rune) bool {
			return r == '/' || r == '*' || r <= ' '
		})
	})
	return v
}

// ValidationError maps request locations to what is wrong with them.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

var messages = map[string]string{
	"collection.required":   "collection is required",
	"collection.max":        fmt.Sprintf("collection must be at most %d characters", MaxCollectionLength),
	"collection.collection": "collection must not contain '/', '*' or whitespace",
	"documents.required":    "at least one document is required",
	"documents.min":         "at least one document is required",
	"documents.max":         fmt.Sprintf("at most %d documents per request", MaxDocuments),
}

const keyTag = "required,max=255"

// ValidateWrite checks the collection name and every document.
func ValidateWrite(collection string, docs []document.Document) error {
	errs := make(map[string]string)

	var verrs validator.ValidationErrors
	if err := validate.Struct(writeRequest{Collection: collection, Documents: docs}); errors.As(err, &verrs) {
		for _, fe := range verrs {
			loc := strings.ToLower(fe.Field())
			if msg, ok := messages[loc+"."+fe.Tag()]; ok {
				errs[loc] = msg
			} else {
				errs[loc] = fmt.Sprintf("failed %q check", fe.Tag())
			}
		}
	}

	if len(docs) > MaxDocuments {
		docs = nil
	}
	for i, d := range docs {
		loc := fmt.Sprintf("documents[%d]", i)
		content := 0
		for _, f := range d.Fields {
			if validate.Var(f.Key, keyTag) != nil {
				errs[loc] = fmt.Sprintf("field names must be 1 to %d characters", MaxKeyLength)
				break
			}
			if s, ok := f.Value.Str(); ok && len(s) > MaxStringValue {
				errs[loc+"."+f.Key] = fmt.Sprintf("value must be at most %d bytes", MaxStringValue)
			}
			if !f.IsMeta() {
				content++
			}
		}
		if _, bad := errs[loc]; !bad && content == 0 {
			errs[loc] = "document has no indexable fields"
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
