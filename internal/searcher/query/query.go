// Package query models boolean/phrase queries as a chain of (operator, term)
// nodes and parses them from line-oriented text and HTTP requests.
package query

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/term"
)

// Query is one node of a query chain. Exactly one of And, Or and Not is
// meaningful per node; Phrase marks nodes produced from a quoted value.
// Collection and Take are read from the head node.
type Query struct {
	Collection uint64
	And        bool
	Or         bool
	Not        bool
	Phrase     bool
	Term       term.Term
	Next       *Query
	Take       int
}

// New returns an OR node for field:token.
func New(field, token string) (*Query, error) {
	t, err := term.New(field, token)
	if err != nil {
		return nil, err
	}
	return &Query{Term: t, Or: true}, nil
}

// Operator is the node's prefix: "+" for AND, " " for OR, "-" for NOT.
func (q *Query) Operator() string {
	switch {
	case q.And:
		return "+"
	case q.Or:
		return " "
	default:
		return "-"
	}
}

// String renders the query in the line-per-clause text form.
func (q *Query) String() string {
	return q.Operator() + q.Term.String()
}

// Chain renders every node from q onwards, one per line.
func (q *Query) Chain() string {
	var b strings.Builder
	for n := q; n != nil; n = n.Next {
		if n != q {
			b.WriteByte('\n')
		}
		b.WriteString(n.String())
	}
	return b.String()
}

// Len counts the nodes from q onwards.
func (q *Query) Len() int {
	n := 0
	for ; q != nil; q = q.Next {
		n++
	}
	return n
}
