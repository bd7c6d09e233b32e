// Package ingestion defines the write path's request types and the Kafka
// event schemas exchanged between the ingestion service, the indexer and
// the searchers.
package ingestion

import (
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
)

// WriteJob is one accepted write request, queued for indexing. Every job
// is indexed by its own session.
type WriteJob struct {
	ID          string              `json:"id"`
	Collection  string              `json:"collection"`
	Documents   []document.Document `json:"documents"`
	SubmittedAt time.Time           `json:"submitted_at"`
}

// WriteResponse acknowledges a queued WriteJob.
type WriteResponse struct {
	JobID      string `json:"job_id"`
	Collection string `json:"collection"`
	Documents  int    `json:"documents"`
	Status     string `json:"status"`
}

// IndexComplete is published after a job's trees are persisted and
// published by the indexer.
type IndexComplete struct {
	JobID        string    `json:"job_id"`
	Collection   string    `json:"collection"`
	CollectionID uint64    `json:"collection_id"`
	Version      int64     `json:"version"`
	Documents    int       `json:"documents"`
	Keys         []int64   `json:"keys"`
	CompletedAt  time.Time `json:"completed_at"`
}
