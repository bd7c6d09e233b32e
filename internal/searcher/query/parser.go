package query

import (
	"fmt"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/term"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

// LiteralPrefix marks keys whose values are matched as a single token,
// mirroring how they are indexed.
const LiteralPrefix = "_"

// Parser reads key/value boolean query text: one clause per line of the
// form [+|-]field:value. "+" is AND, "-" is NOT and anything else is OR.
// Quoted values are phrases. Each token of a value becomes a node carrying
// the clause's operator.
type Parser struct {
	Tokenizer tokenizer.Tokenizer
}

// NewParser splits clause text with tok.
func NewParser(tok tokenizer.Tokenizer) *Parser {
	if tok == nil {
		tok = tokenizer.Standard{}
	}
	return &Parser{Tokenizer: tok}
}

// Parse returns the head of the query chain, or nil when the text holds no
// searchable tokens.
func (p *Parser) Parse(text string) (*Query, error) {
	var head, tail *Query
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		clause := Query{Or: true}
		switch line[0] {
		case '+':
			clause = Query{And: true}
			line = line[1:]
		case '-':
			clause = Query{Not: true}
			line = line[1:]
		}
		field, value, ok := strings.Cut(line, ":")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("query line %d %q: expected field:value: %w", lineNo+1, line, apperrors.ErrInvalidInput)
		}
		value = strings.TrimSpace(value)
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			clause.Phrase = true
			value = value[1 : len(value)-1]
		}
		for _, token := range p.tokens(field, value) {
			t, err := term.New(field, token)
			if err != nil {
				return nil, err
			}
			node := clause
			node.Term = t
			if head == nil {
				head = &node
			} else {
				tail.Next = &node
			}
			tail = &node
		}
	}
	return head, nil
}

func (p *Parser) tokens(field, value string) []string {
	if strings.HasPrefix(field, LiteralPrefix) {
		if value == "" {
			return nil
		}
		return []string{value}
	}
	return tokenizer.Collect(p.Tokenizer.Tokenize(value))
}
