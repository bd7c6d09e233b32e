package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
)

// Placeholder is replaced by the raw query text in a format template.
const Placeholder = "{0}"

// DefaultFields are searched when a bare term names no field.
var DefaultFields = []string{"title", "body"}

// HTTPParser builds queries from request parameters: fields (repeatable or
// comma separated), format (a template containing {0}), q and take.
type HTTPParser struct {
	parser *Parser
	fields []string
}

// NewHTTPParser uses fields when a request names none; an empty list means
// DefaultFields.
func NewHTTPParser(parser *Parser, fields []string) *HTTPParser {
	if len(fields) == 0 {
		fields = DefaultFields
	}
	return &HTTPParser{parser: parser, fields: fields}
}

// Parse returns nil when q is missing or blank.
func (h *HTTPParser) Parse(collectionID uint64, params url.Values) (*Query, error) {
	q := params.Get("q")
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}

	format := params.Get("format")
	if format == "" {
		lines := make([]string, 0, len(h.fields))
		for _, field := range h.requestFields(params) {
			lines = append(lines, field+":"+Placeholder)
		}
		format = strings.Join(lines, "\n")
	}

	query, err := h.parser.Parse(strings.ReplaceAll(format, Placeholder, q))
	if err != nil || query == nil {
		return nil, err
	}
	query.Collection = collectionID
	query.Take, err = h.Take(params)
	if err != nil {
		return nil, err
	}
	return query, nil
}

// Take reads the take parameter; absent means zero.
func (h *HTTPParser) Take(params url.Values) (int, error) {
	take := params.Get("take")
	if take == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(take)
	if err != nil {
		return 0, fmt.Errorf("take %q: %w", take, apperrors.ErrInvalidInput)
	}
	return n, nil
}

func (h *HTTPParser) requestFields(params url.Values) []string {
	var fields []string
	for _, v := range params["fields"] {
		for f := range strings.SplitSeq(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
	}
	if len(fields) == 0 {
		return h.fields
	}
	return fields
}
