package postings

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/logger"
)

// MaxPayloadBytes bounds a single write request body.
const MaxPayloadBytes = 256 << 20

// Handler exposes a Store over HTTP:
//
//	POST /postings/{collection}        body: payload, response: offsets
//	GET  /postings/{collection}?id=N   response: stored bytes
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler serves store over HTTP.
func NewHandler(store Store) *Handler {
	return &Handler{
		store:  store,
		logger: slog.Default().With("component", "postings-handler"),
	}
}

// Register mounts the handler's routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /postings/{collection}", h.Write)
	mux.HandleFunc("GET /postings/{collection}", h.Read)
}

// Write appends the blocks of an EncodePayload body and answers with
// their ids.
func (h *Handler) Write(w http.ResponseWriter, r *http.Request) {
	collectionID, ok := h.collection(w, r)
	if !ok {
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}
	offsets, err := h.store.Write(r.Context(), collectionID, payload)
	if err != nil {
		h.fail(r.Context(), w, "write", collectionID, err)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(EncodeOffsets(offsets))
}

// Read answers with the block named by the id query parameter.
func (h *Handler) Read(w http.ResponseWriter, r *http.Request) {
	collectionID, ok := h.collection(w, r)
	if !ok {
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "query parameter 'id' must be an integer")
		return
	}
	data, err := h.store.Read(r.Context(), collectionID, id)
	if err != nil {
		h.fail(r.Context(), w, "read", collectionID, err)
		return
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) collection(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("collection"), 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "collection must be an unsigned integer id")
		return 0, false
	}
	return id, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, collectionID uint64, err error) {
	if errors.Is(err, ErrMalformedPayload) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.FromContext(ctx).Error("postings operation failed", "op", op, "collection", collectionID, "error", err)
	h.writeError(w, http.StatusInternalServerError, "postings "+op+" failed")
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
