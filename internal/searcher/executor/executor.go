// Package executor evaluates query chains against the published trees and
// reads the matching documents back from the stores.
package executor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/indexer/vector"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/score"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/tracing"
)

// Result is the ranked outcome of one query.
type Result struct {
	Query     string              `json:"query"`
	Total     int                 `json:"total"`
	Documents []document.Document `json:"documents"`
	Elapsed   time.Duration       `json:"-"`
}

// Options tunes term lookup.
type Options struct {
	// FuzzyThreshold enables approximate term matching: every node on the
	// lookup path at least this similar to the term contributes. Zero means
	// exact matching only.
	FuzzyThreshold float64
	Metrics        *metrics.Metrics
}

// Executor evaluates parsed queries against published collections.
type Executor struct {
	factory *store.SessionFactory
	reader  *store.DocumentReader
	opts    Options
	logger  *slog.Logger
}

// New returns an Executor reading through factory.
func New(factory *store.SessionFactory, opts Options) *Executor {
	return &Executor{
		factory: factory,
		reader:  store.NewDocumentReader(factory),
		opts:    opts,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Execute evaluates q left to right. A nil query, an unknown collection and
// unknown keys all give empty results.
func (e *Executor) Execute(ctx context.Context, q *query.Query) (_ *Result, err error) {
	start := time.Now()
	if q == nil {
		return &Result{Documents: []document.Document{}}, nil
	}
	ctx, span := tracing.Start(ctx, "executor.Execute",
		attribute.Int64("collection", int64(q.Collection)),
		attribute.Int("nodes", q.Len()),
		attribute.Int("take", q.Take),
	)
	defer func() { tracing.End(span, err) }()
	result := &Result{Query: q.Chain(), Documents: []document.Document{}}

	scores, err := e.Scores(ctx, q)
	if err != nil {
		e.opts.Metrics.QueryExecuted("error", time.Since(start))
		return nil, err
	}
	span.SetAttributes(attribute.Int("total", len(scores)))
	result.Total = len(scores)
	if q.Take > 0 && len(scores) > q.Take {
		scores = scores[:q.Take]
	}

	hits := make([]store.Hit, len(scores))
	for i, s := range scores {
		hits[i] = store.Hit{DocumentID: s.DocumentID, Score: s.Score}
	}
	if len(hits) > 0 {
		docs, err := e.reader.ReadDocs(ctx, q.Collection, hits)
		if err != nil {
			e.opts.Metrics.QueryExecuted("error", time.Since(start))
			return nil, fmt.Errorf("reading results: %w", err)
		}
		result.Documents = docs
	}

	result.Elapsed = time.Since(start)
	resultType := "hit"
	if result.Total == 0 {
		resultType = "empty"
	}
	e.opts.Metrics.QueryExecuted(resultType, result.Elapsed)
	e.logger.Debug("query executed",
		"collection", q.Collection,
		"nodes", q.Len(),
		"total", result.Total,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// Scores returns the ranked, version-deduplicated scores for q: highest
// score first, ties broken by ascending document id. Take is not applied.
func (e *Executor) Scores(ctx context.Context, q *query.Query) ([]score.DocumentScore, error) {
	if e.factory.Tree().GetIndex(q.Collection) == nil {
		return []score.DocumentScore{}, nil
	}
	c, err := e.factory.Collection(q.Collection)
	if err != nil {
		return nil, err
	}

	// NOT clauses ahead of the first positive clause exclude from the
	// final result.
	var acc, excluded []score.DocumentScore
	seeded := false
	for n := q; n != nil; n = n.Next {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list := e.lookup(c, n)
		switch {
		case !seeded && n.Not:
			excluded = append(excluded, list...)
			continue
		case !seeded:
			acc = list
		case n.Not:
			acc = score.Not(acc, list)
		case n.And && n.Phrase:
			acc = score.CombineAndPhrase(acc, list)
		case n.And:
			acc = score.CombineAnd(acc, list)
		case n.Phrase:
			acc = score.CombineOrPhrase(acc, list)
		default:
			acc = score.CombineOr(acc, list)
		}
		seeded = true
	}
	if len(excluded) > 0 {
		acc = score.Not(acc, excluded)
	}

	byVersion := make(map[int64][]score.DocumentScore)
	for _, s := range acc {
		rec, ok, err := c.DocRecord(s.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("reading doc record %d: %w", s.DocumentID, err)
		}
		if !ok {
			continue
		}
		s.DocHash = rec.Hash
		s.Batch.VersionID = rec.Version
		byVersion[s.Batch.VersionID] = append(byVersion[s.Batch.VersionID], s)
	}
	versions := make([]int64, 0, len(byVersion))
	for v := range byVersion {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	lists := make([][]score.DocumentScore, len(versions))
	for i, v := range versions {
		lists[i] = byVersion[v]
	}

	scores := score.CombineTakingLatestVersion(lists...)
	slices.SortStableFunc(scores, func(a, b score.DocumentScore) int {
		if byScore := cmp.Compare(b.Score, a.Score); byScore != 0 {
			return byScore
		}
		return cmp.Compare(a.DocumentID, b.DocumentID)
	})
	return scores, nil
}

// lookup scores the postings of the node(s) matching n's term as
// similarity times term count.
func (e *Executor) lookup(c *store.Collection, n *query.Query) []score.DocumentScore {
	keyID, ok := c.Keys().ID(n.Term.Field())
	if !ok {
		return []score.DocumentScore{}
	}
	root := e.factory.Tree().Get(c.ID(), keyID)
	if root == nil {
		return []score.DocumentScore{}
	}

	if e.opts.FuzzyThreshold <= 0 {
		node, sim := root.Find(n.Term.Token())
		if node == nil {
			return []score.DocumentScore{}
		}
		return scored(node, sim)
	}
	var lists [][]score.DocumentScore
	for _, m := range root.Near(n.Term.Token(), e.opts.FuzzyThreshold) {
		lists = append(lists, scored(m.Node, m.Similarity))
	}
	return score.Sum(lists...)
}

func scored(node *vector.Node, sim float64) []score.DocumentScore {
	postings := node.Postings()
	list := make([]score.DocumentScore, len(postings))
	for i, p := range postings {
		list[i] = score.DocumentScore{DocumentID: p.DocumentID, Score: sim * float64(p.Count)}
	}
	return list
}
