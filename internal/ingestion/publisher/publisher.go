// Package publisher queues write jobs on Kafka for the indexer.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
)

// Producer is the part of kafka.Producer the publisher needs.
type Producer interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Publisher sends write messages to the ingestion topic.
type Publisher struct {
	producer Producer
	logger   *slog.Logger
}

func New(producer Producer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Submit wraps docs in a WriteJob and publishes it keyed by collection, so
// jobs for one collection are indexed in submission order. A non-empty
// jobID is used as the job id; otherwise one is generated.
func (p *Publisher) Submit(ctx context.Context, jobID, collection string, docs []document.Document) (*ingestion.WriteResponse, error) {
	if jobID == "" {
		jobID = uuid.NewString()
	}
	job := ingestion.WriteJob{
		ID:          jobID,
		Collection:  collection,
		Documents:   docs,
		SubmittedAt: time.Now().UTC(),
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: collection, JobID: job.ID, Value: job}); err != nil {
		return nil, apperrors.New(apperrors.ErrUnavailable, 503, fmt.Sprintf("queueing write job %s: %v", jobID, err))
	}
	p.logger.Info("write job queued", "job_id", jobID, "collection", collection, "documents", len(docs))
	return &ingestion.WriteResponse{
		JobID:      jobID,
		Collection: collection,
		Documents:  len(docs),
		Status:     "QUEUED",
	}, nil
}
