package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/treeindex/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/treeindex/pkg/kafka"
)

type recordingProducer struct {
	mu     sync.Mutex
	events []kafka.Event
	err    error
}

func (p *recordingProducer) Publish(_ context.Context, events ...kafka.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func serve(t *testing.T, prod *recordingProducer, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	New(publisher.New(prod)).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestWriteQueuesJob(t *testing.T) {
	prod := &recordingProducer{}
	req := httptest.NewRequest(http.MethodPost, "/write/www",
		strings.NewReader(`[{"title":"red car","year":2024},{"title":"blue car"}]`))
	req.Header.Set(IdempotencyKeyHeader, "job-1")

	rec := serve(t, prod, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestion.WriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, 2, resp.Documents)
	assert.Equal(t, "QUEUED", resp.Status)

	require.Len(t, prod.events, 1)
	assert.Equal(t, "www", prod.events[0].Key)
	job := prod.events[0].Value.(ingestion.WriteJob)
	assert.Equal(t, "job-1", job.ID)
	require.Len(t, job.Documents, 2)
	title, _ := job.Documents[0].Get("title")
	assert.Equal(t, "red car", title.Text())
}

func TestWriteGeneratesJobID(t *testing.T) {
	prod := &recordingProducer{}
	rec := serve(t, prod, httptest.NewRequest(http.MethodPost, "/write/www", strings.NewReader(`[{"title":"x"}]`)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp ingestion.WriteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.JobID, 36)
}

func TestWriteRejectsBadBodies(t *testing.T) {
	for name, body := range map[string]string{
		"not json":  `nope`,
		"object":    `{"title":"x"}`,
		"nested":    `[{"title":{"a":1}}]`,
		"empty":     `[]`,
		"meta only": `[{"__source":"x"}]`,
	} {
		t.Run(name, func(t *testing.T) {
			prod := &recordingProducer{}
			rec := serve(t, prod, httptest.NewRequest(http.MethodPost, "/write/www", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, prod.events)
		})
	}
}

func TestWriteReportsQueueFailure(t *testing.T) {
	prod := &recordingProducer{err: errors.New("broker down")}
	rec := serve(t, prod, httptest.NewRequest(http.MethodPost, "/write/www", strings.NewReader(`[{"title":"x"}]`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
