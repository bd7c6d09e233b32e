// Package handler exposes the write endpoint of the ingestion service.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/document"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/treeindex/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

const (
	MaxBodyBytes         = 64 << 20
	IdempotencyKeyHeader = "Idempotency-Key"
)

// Submitter queues documents for indexing.
type Submitter interface {
	Submit(ctx context.Context, jobID, collection string, docs []document.Document) (*ingestion.WriteResponse, error)
}

// Handler serves the document write API.
type Handler struct {
	submitter Submitter
	logger    *slog.Logger
}

// New returns a Handler that passes batches to submitter.
func New(submitter Submitter) *Handler {
	return &Handler{
		submitter: submitter,
		logger:    slog.Default().With("component", "ingestion-handler"),
	}
}

// Register mounts the write routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /write/{collection}", h.Write)
}

// Write accepts a JSON array of documents for the collection in the path
// and answers 202 once the job is queued.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	collection := r.PathValue("collection")

	var docs []document.Document
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&docs); err != nil {
		h.writeError(w, http.StatusBadRequest, "body must be a JSON array of flat objects: "+err.Error())
		return
	}
	if err := validator.ValidateWrite(collection, docs); err != nil {
		var validationErr *validator.ValidationError
		if errors.As(err, &validationErr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": validationErr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.submitter.Submit(ctx, r.Header.Get(IdempotencyKeyHeader), collection, docs)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("write submission failed",
			"collection", collection,
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "write submission failed")
		return
	}
	log.Info("write accepted",
		"job_id", resp.JobID,
		"collection", collection,
		"documents", resp.Documents,
	)
	h.writeJSON(w, http.StatusAccepted, resp)
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
