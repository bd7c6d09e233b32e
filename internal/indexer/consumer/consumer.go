// Package consumer indexes write jobs read from Kafka. Every job is built
// by its own session, and an index.complete event is published once the
// session's trees are visible.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/session"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/tracing"
)

// Notifier publishes index.complete events. A nil Notifier disables them.
type Notifier interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Indexer turns write messages into indexing sessions, one per collection
// batch.
type Indexer struct {
	factory   *store.SessionFactory
	tokenizer tokenizer.Tokenizer
	opts      session.Options
	notifier  Notifier
	logger    *slog.Logger
}

// New returns an Indexer that opens sessions through factory.
func New(factory *store.SessionFactory, tok tokenizer.Tokenizer, opts session.Options, notifier Notifier) *Indexer {
	return &Indexer{
		factory:   factory,
		tokenizer: tok,
		opts:      opts,
		notifier:  notifier,
		logger:    slog.Default().With("component", "index-consumer"),
	}
}

// Handle returns the kafka.MessageHandler for the document ingest topic.
// Undecodable jobs and jobs whose content cannot be indexed are logged and
// committed; other failures are returned so the message is not committed.
func (ix *Indexer) Handle() kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		job, err := kafka.DecodeJSON[ingestion.WriteJob](msg.Value)
		if err != nil {
			ix.logger.Error("failed to decode write job",
				"error", err,
				"key", msg.Key,
				"job_id", msg.Headers[kafka.HeaderJobID],
				"offset", msg.Offset,
			)
			return nil
		}
		err = ix.Index(ctx, job)
		if errors.Is(err, vector.ErrInvalidToken) || errors.Is(err, apperrors.ErrInvalidInput) {
			ix.logger.Error("write job rejected",
				"job_id", job.ID,
				"collection", job.Collection,
				"error", err,
			)
			return nil
		}
		return err
	}
}

// Index runs one job through a session and waits for it to publish.
func (ix *Indexer) Index(ctx context.Context, job ingestion.WriteJob) (err error) {
	ctx, span := tracing.Start(ctx, "indexer.Index",
		attribute.String("job_id", job.ID),
		attribute.String("collection", job.Collection),
		attribute.Int("documents", len(job.Documents)),
	)
	defer func() { tracing.End(span, err) }()
	log := ix.logger.With("job_id", job.ID, "collection", job.Collection)
	collectionID := store.CollectionID(job.Collection)

	opts := ix.opts
	opts.Listeners = append(append([]session.Listener(nil), ix.opts.Listeners...), func(ctx context.Context, r session.Result) {
		ix.notify(ctx, log, ingestion.IndexComplete{
			JobID:        job.ID,
			Collection:   job.Collection,
			CollectionID: r.CollectionID,
			Version:      r.Version,
			Documents:    r.Documents,
			Keys:         r.Keys,
			CompletedAt:  time.Now().UTC(),
		})
	})

	s, err := session.New(ctx, collectionID, ix.factory, ix.tokenizer, opts)
	if err != nil {
		return err
	}
	log.Debug("indexing write job", "documents", len(job.Documents), "version", s.Version())
	if err := s.Write(ctx, session.AnalyzeJob{Documents: job.Documents}); err != nil {
		s.Close(ctx)
		return err
	}
	if err := s.Close(ctx); err != nil {
		return err
	}
	log.Info("write job indexed", "documents", len(job.Documents), "version", s.Version())
	return nil
}

func (ix *Indexer) notify(ctx context.Context, log *slog.Logger, event ingestion.IndexComplete) {
	if ix.notifier == nil {
		return
	}
	if err := ix.notifier.Publish(ctx, kafka.Event{Key: event.Collection, JobID: event.JobID, Value: event}); err != nil {
		log.Error("failed to publish index.complete", "version", event.Version, "error", err)
	}
}
