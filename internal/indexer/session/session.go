// Package session runs the two-stage index build for one collection.
// Documents written to a Session are analysed (stored and tokenized) by one
// worker and their tokens inserted into per-key trees by build workers.
// Flush persists every touched tree and publishes it to the registry.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/tracing"
)

const (
	DefaultWorkers   = 1
	DefaultQueueSize = 64
)

// Options tunes a Session. Zero values take the defaults.
type Options struct {
	Workers   int
	QueueSize int
	Metrics   *metrics.Metrics
	Listeners []Listener
}

// Result describes a successful flush.
type Result struct {
	CollectionID uint64
	Version      int64
	Documents    int
	Keys         []int64
	Nodes        int
	Elapsed      time.Duration
}

// Listener is told about every successful flush after its trees are
// published.
type Listener func(ctx context.Context, r Result)

// AnalyzeJob is one batch of documents handed to the analyze stage.
type AnalyzeJob struct {
	Documents []document.Document
}

type buildJob struct {
	docID  uint64
	keyID  int64
	tokens []string
	tree   *vector.Node
}

// Session indexes one batch of documents into a collection. Documents
// become searchable only when Close flushes every key and publishes the
// batch version; a failed flush leaves the published state untouched.
type Session struct {
	collectionID uint64
	factory      *store.SessionFactory
	collection   *store.Collection
	tokenizer    tokenizer.Tokenizer
	opts         Options
	version      int64
	release      func()
	logger       *slog.Logger
	started      time.Time

	cancel   context.CancelFunc
	group    *errgroup.Group
	groupCtx context.Context

	sendMu  sync.RWMutex
	closed  bool
	analyze chan AnalyzeJob
	build   []chan buildJob

	failMu  sync.Mutex
	failure error

	// owned by the analyze worker until the group finishes
	dirty     map[int64]*vector.Node
	documents int

	flushOnce sync.Once
	flushErr  error
	closeOnce sync.Once
	closeErr  error
}

// New takes the collection's writer lock, allocates a batch version and
// starts the pipeline workers.
func New(ctx context.Context, collectionID uint64, factory *store.SessionFactory, tok tokenizer.Tokenizer, opts Options) (*Session, error) {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if tok == nil {
		tok = tokenizer.Standard{}
	}
	if factory.Postings() == nil || factory.Tree() == nil || factory.Versions() == nil {
		return nil, fmt.Errorf("session factory lacks postings store, tree registry or version allocator: %w", apperrors.ErrInvalidInput)
	}

	release, err := factory.Lock(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	collection, err := factory.Collection(collectionID)
	if err != nil {
		release()
		return nil, err
	}
	version, err := factory.Versions().NextVersion(ctx, collectionID)
	if err != nil {
		release()
		return nil, fmt.Errorf("allocating batch version: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)
	s := &Session{
		collectionID: collectionID,
		factory:      factory,
		collection:   collection,
		tokenizer:    tok,
		opts:         opts,
		version:      version,
		release:      release,
		logger:       slog.Default().With("component", "index-session", "collection", collectionID, "version", version),
		started:      time.Now(),
		cancel:       cancel,
		group:        group,
		groupCtx:     groupCtx,
		analyze:      make(chan AnalyzeJob, opts.QueueSize),
		build:        make([]chan buildJob, opts.Workers),
		dirty:        make(map[int64]*vector.Node),
	}
	for i := range s.build {
		s.build[i] = make(chan buildJob, opts.QueueSize)
	}
	group.Go(s.runAnalyze)
	for i := range s.build {
		group.Go(func() error { return s.runBuild(s.build[i]) })
	}
	s.logger.Debug("session started", "workers", opts.Workers, "queue_size", opts.QueueSize)
	return s, nil
}

// CollectionID and Version identify the batch this session writes.
func (s *Session) CollectionID() uint64 { return s.collectionID }

func (s *Session) Version() int64 { return s.version }

// Write enqueues a batch for analysis, blocking while the analyze queue is
// full. It fails once the session has failed or been flushed.
func (s *Session) Write(ctx context.Context, job AnalyzeJob) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return fmt.Errorf("writing to collection %d: %w", s.collectionID, apperrors.ErrSessionClosed)
	}
	if s.groupCtx.Err() != nil {
		return s.failed()
	}
	select {
	case s.analyze <- job:
		return nil
	case <-s.groupCtx.Done():
		return s.failed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteDocuments is Write for a plain document slice.
func (s *Session) WriteDocuments(ctx context.Context, docs ...document.Document) error {
	return s.Write(ctx, AnalyzeJob{Documents: docs})
}

func (s *Session) fail(stage string, docID uint64, key string, err error) error {
	s.logger.Error("index stage failed", "stage", stage, "doc_id", docID, "key", key, "error", err)
	err = fmt.Errorf("%s document %d key %q: %w", stage, docID, key, err)
	s.failMu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.failMu.Unlock()
	return err
}

func (s *Session) failed() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if s.failure != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrSessionFailed, s.failure)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrSessionFailed, s.groupCtx.Err())
}

func (s *Session) runAnalyze() error {
	defer func() {
		for _, ch := range s.build {
			close(ch)
		}
	}()
	for {
		select {
		case <-s.groupCtx.Done():
			return s.groupCtx.Err()
		case job, ok := <-s.analyze:
			if !ok {
				return nil
			}
			for _, doc := range job.Documents {
				if err := s.analyzeDocument(doc); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Session) analyzeDocument(doc document.Document) error {
	docID, err := s.collection.WriteDocument(doc, s.version)
	if err != nil {
		return s.fail("analyze", doc.ID, "", err)
	}
	s.documents++
	s.opts.Metrics.DocAnalyzed()

	for _, f := range doc.Fields {
		if f.IsMeta() {
			continue
		}
		keyID, err := s.collection.Keys().Ensure(f.Key)
		if err != nil {
			return s.fail("analyze", docID, f.Key, err)
		}
		tokens := s.tokens(f)
		if len(tokens) == 0 {
			continue
		}
		job := buildJob{docID: docID, keyID: keyID, tokens: tokens, tree: s.dirtyTree(keyID)}
		select {
		case s.build[keyID%int64(len(s.build))] <- job:
		case <-s.groupCtx.Done():
			return s.groupCtx.Err()
		}
	}
	return nil
}

// tokens runs string fields through the tokenizer. Other values, and
// string fields whose key starts with "_", index as one literal token.
func (s *Session) tokens(f document.Field) []string {
	if text, ok := f.Value.Str(); ok && !strings.HasPrefix(f.Key, "_") {
		return tokenizer.Collect(s.tokenizer.Tokenize(text))
	}
	if lit := f.Value.Text(); lit != "" {
		return []string{lit}
	}
	return nil
}

// dirtyTree returns this session's private copy of the key's tree.
func (s *Session) dirtyTree(keyID int64) *vector.Node {
	if tree, ok := s.dirty[keyID]; ok {
		return tree
	}
	tree := vector.NewRoot()
	if published := s.factory.Tree().Get(s.collectionID, keyID); published != nil {
		tree = published.Clone()
	}
	s.dirty[keyID] = tree
	return tree
}

func (s *Session) runBuild(jobs <-chan buildJob) error {
	for job := range jobs {
		if s.groupCtx.Err() != nil {
			continue
		}
		for _, tok := range job.tokens {
			if err := job.tree.Add(vector.NewNode(tok, job.docID)); err != nil {
				key, _ := s.collection.Keys().Key(job.keyID)
				return s.fail("build", job.docID, key, err)
			}
		}
		s.opts.Metrics.TokensBuilt(len(job.tokens))
	}
	return nil
}

// Flush drains both stages, persists every touched tree and publishes it.
// Only the first call does any work; later calls return its result. A
// failed session publishes nothing.
func (s *Session) Flush(ctx context.Context) error {
	s.flushOnce.Do(func() {
		ctx, span := tracing.Start(ctx, "session.Flush",
			attribute.Int64("collection", int64(s.collectionID)),
			attribute.Int64("version", s.version),
		)
		s.flushErr = s.flush(ctx)
		span.SetAttributes(attribute.Int("documents", s.documents), attribute.Int("trees", len(s.dirty)))
		tracing.End(span, s.flushErr)
		status := "ok"
		if s.flushErr != nil {
			status = "failed"
		}
		s.opts.Metrics.SessionFlushed(status)
	})
	return s.flushErr
}

func (s *Session) flush(ctx context.Context) error {
	s.sendMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.analyze)
	}
	s.sendMu.Unlock()

	if err := s.group.Wait(); err != nil {
		return s.failed()
	}

	keys := make([]int64, 0, len(s.dirty))
	for keyID := range s.dirty {
		keys = append(keys, keyID)
	}
	slices.Sort(keys)

	// tree files stay staged until every key has persisted, so loaders
	// never pick up part of a failed flush
	nodes := 0
	staged := make([]vector.PendingFile, 0, len(keys))
	discard := func() {
		for _, p := range staged {
			p.Discard()
		}
	}
	for _, keyID := range keys {
		tree := s.dirty[keyID]
		if _, err := vector.Persist(ctx, s.factory.Postings(), s.collectionID, tree); err != nil {
			discard()
			return s.persistFailed(keyID, err)
		}
		p, err := vector.StageFile(s.factory.Dir(), s.collectionID, keyID, tree)
		if err != nil {
			discard()
			return s.persistFailed(keyID, err)
		}
		staged = append(staged, p)
		nodes += tree.Count()
	}
	if err := s.collection.Flush(); err != nil {
		discard()
		return s.persistFailed(-1, err)
	}
	for i, p := range staged {
		if err := p.Commit(); err != nil {
			discard()
			return s.persistFailed(keys[i], err)
		}
	}

	coll := strconv.FormatUint(s.collectionID, 10)
	for _, keyID := range keys {
		tree := s.dirty[keyID]
		s.factory.Tree().Add(s.collectionID, keyID, tree)
		s.opts.Metrics.TreePublished(coll, strconv.FormatInt(keyID, 10), tree.Count())
	}

	result := Result{
		CollectionID: s.collectionID,
		Version:      s.version,
		Documents:    s.documents,
		Keys:         keys,
		Nodes:        nodes,
		Elapsed:      time.Since(s.started),
	}
	s.logger.Info("session flushed", "documents", result.Documents, "trees", len(keys), "nodes", nodes, "elapsed", result.Elapsed)
	for _, l := range s.opts.Listeners {
		l(ctx, result)
	}
	return nil
}

func (s *Session) persistFailed(keyID int64, err error) error {
	s.logger.Error("persisting session failed", "key_id", keyID, "error", err)
	return fmt.Errorf("%w: persisting key %d: %w", apperrors.ErrSessionFailed, keyID, err)
}

// Close flushes the session if it has not been flushed and releases the
// collection's writer lock.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.Flush(ctx)
		s.cancel()
		s.release()
	})
	return s.closeErr
}
