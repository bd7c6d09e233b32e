// Package handler exposes the search endpoint of the searcher service.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

// MaxQueryBytes caps a query request body.
const MaxQueryBytes = 1 << 20

// Executor runs a parsed query.
type Executor interface {
	Execute(ctx context.Context, q *query.Query) (*executor.Result, error)
}

// Response is the body of a search answer.
type Response struct {
	Collection string              `json:"collection"`
	Query      string              `json:"query"`
	Total      int                 `json:"total"`
	Documents  []document.Document `json:"documents"`
	CacheHit   bool                `json:"cache_hit"`
	TookMs     int64               `json:"took_ms"`
}

// Handler serves the search API.
type Handler struct {
	executor    Executor
	cache       *cache.QueryCache
	parser      *query.Parser
	httpParser  *query.HTTPParser
	defaultTake int
	maxTake     int
	logger      *slog.Logger
}

// New wires a handler. queryCache may be nil. Requests without take get
// defaultTake; larger takes are capped at maxTake when it is positive.
func New(exec Executor, queryCache *cache.QueryCache, parser *query.Parser, fields []string, defaultTake, maxTake int) *Handler {
	return &Handler{
		executor:    exec,
		cache:       queryCache,
		parser:      parser,
		httpParser:  query.NewHTTPParser(parser, fields),
		defaultTake: defaultTake,
		maxTake:     maxTake,
		logger:      slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the search routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /search/{collection}", h.Search)
	mux.HandleFunc("POST /search/{collection}", h.Search)
	mux.HandleFunc("POST /cache/invalidate/{collection}", h.Invalidate)
}

// Search answers GET with the q/fields/format/take parameters. POST accepts
// the same parameters form-encoded, or a text/plain body holding query
// lines in the [+|-]field:value form.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	collection := r.PathValue("collection")
	collectionID := store.CollectionID(collection)

	ctx = logger.With(ctx, "collection", collection)
	log := logger.FromContext(ctx)

	q, err := h.parse(w, r, collectionID)
	if err != nil {
		h.writeFailure(w, err, err.Error())
		return
	}
	resp := &Response{Collection: collection, Documents: []document.Document{}}
	if q == nil {
		resp.TookMs = time.Since(start).Milliseconds()
		h.writeJSON(w, http.StatusOK, resp)
		return
	}
	if q.Take <= 0 {
		q.Take = h.defaultTake
	}
	if h.maxTake > 0 && q.Take > h.maxTake {
		q.Take = h.maxTake
	}

	var result *executor.Result
	if h.cache != nil {
		result, resp.CacheHit, err = h.cache.GetOrCompute(ctx, q, func() (*executor.Result, error) {
			return h.executor.Execute(ctx, q)
		})
	} else {
		result, err = h.executor.Execute(ctx, q)
	}
	if err != nil {
		log.Error("search execution failed",
			"query", q.Chain(),
			"error", err,
			"status_code", apperrors.HTTPStatusCode(err),
		)
		h.writeFailure(w, err, "search failed")
		return
	}

	resp.Query = result.Query
	resp.Total = result.Total
	resp.Documents = result.Documents
	resp.TookMs = time.Since(start).Milliseconds()
	log.Info("search completed",
		"total", resp.Total,
		"returned", len(resp.Documents),
		"cache_hit", resp.CacheHit,
		"latency_ms", resp.TookMs,
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) parse(w http.ResponseWriter, r *http.Request, collectionID uint64) (*query.Query, error) {
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxQueryBytes))
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "reading query body: %v", err)
		}
		q, err := h.parser.Parse(string(body))
		if err != nil || q == nil {
			return nil, err
		}
		q.Collection = collectionID
		take, err := h.httpParser.Take(r.URL.Query())
		q.Take = take
		return q, err
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxQueryBytes)
	if err := r.ParseForm(); err != nil {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "parsing form: %v", err)
	}
	return h.httpParser.Parse(collectionID, r.Form)
}

// Invalidate drops cached results for the collection.
func (h *Handler) Invalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	collection := r.PathValue("collection")
	if err := h.cache.Invalidate(r.Context(), store.CollectionID(collection)); err != nil {
		logger.FromContext(r.Context()).Error("cache invalidation failed", "collection", collection, "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// writeFailure reports err's class alongside message, which is all the
// client sees of err.
func (h *Handler) writeFailure(w http.ResponseWriter, err error, message string) {
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{
		"error": message,
		"code":  apperrors.Code(err),
	})
}
