// Package term defines the (field, token) pair used as dictionary and query
// key throughout the index.
package term

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// ErrEmptyField is returned when a term is constructed without a field.
var ErrEmptyField = errors.New("term field must not be empty")

// Term is immutable once constructed. Equality, hashing and ordering are all
// defined over the canonical "field:token" form.
type Term struct {
	field string
	token string
}

// New builds a term. The field must not be empty.
func New(field, token string) (Term, error) {
	if field == "" {
		return Term{}, fmt.Errorf("creating term for token %q: %w", token, ErrEmptyField)
	}
	return Term{field: field, token: token}, nil
}

// MustNew is New for literals known to be valid.
func MustNew(field, token string) Term {
	t, err := New(field, token)
	if err != nil {
		panic(err)
	}
	return t
}

func (t Term) Field() string { return t.field }

func (t Term) Token() string { return t.token }

func (t Term) String() string {
	return t.field + ":" + t.token
}

// Equal compares field and token.
func (t Term) Equal(other Term) bool {
	return t.String() == other.String()
}

// Hash is the xxhash of the term's string form.
func (t Term) Hash() uint64 {
	return xxhash.Sum64String(t.String())
}

// Compare orders terms by canonical string with the receiver on the right:
// it reports how other sorts relative to t, so a slice sorted with Compare
// is in descending canonical order.
func (t Term) Compare(other Term) int {
	return strings.Compare(other.String(), t.String())
}
