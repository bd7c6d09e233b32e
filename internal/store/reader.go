package store

import (
	"context"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
)

// Hit names a stored document and the score it was found with.
type Hit struct {
	DocumentID uint64
	Score      float64
}

// DocumentReader reads documents back for search results.
type DocumentReader struct {
	factory *SessionFactory
}

// NewDocumentReader reads documents through factory.
func NewDocumentReader(factory *SessionFactory) *DocumentReader {
	return &DocumentReader{factory: factory}
}

// ReadDocs returns the documents for hits in order, with ID and Score set.
// Hits whose document is missing are skipped.
func (r *DocumentReader) ReadDocs(ctx context.Context, collectionID uint64, hits []Hit) ([]document.Document, error) {
	c, err := r.factory.Collection(collectionID)
	if err != nil {
		return nil, err
	}
	docs := make([]document.Document, 0, len(hits))
	for _, h := range hits {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, ok, err := c.ReadDocument(h.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("reading document %d: %w", h.DocumentID, err)
		}
		if !ok {
			continue
		}
		doc.Score = h.Score
		docs = append(docs, doc)
	}
	return docs, nil
}
