package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/folio/internal/auth"
	"github.com/rpattn/folio/internal/domain"
)

func newTestRouter(t *testing.T, f *fixture, maxUpload int64) http.Handler {
	t.Helper()
	router := chi.NewRouter()
	router.Use(auth.CallerMiddleware)
	NewHTTPHandler(f.service, f.registry, maxUpload).Routes(router)
	return router
}

func doJSON(t *testing.T, h http.Handler, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(auth.CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerSubmitAndObserve(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, 0)

	body := submitRequest{Files: []submitFile{{Name: "basic.csv", Content: basicCSV, Encoding: "text"}}}
	rec := doJSON(t, router, http.MethodPost, "/imports", "alice", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var job domain.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, "alice", job.Caller)
	require.Len(t, job.Files, 1)
	assert.Equal(t, FileTypeCSV, job.Files[0].Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.registry.Wait(ctx, job.ID)
	require.NoError(t, err)

	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String(), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot domain.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, domain.ImportStatusCompleted, snapshot.Status)
	assert.Equal(t, 2, snapshot.CreatedCount)

	rec = doJSON(t, router, http.MethodGet, fmt.Sprintf("/imports/%s/events?since=1&limit=2", job.ID), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Events, 2)
	assert.EqualValues(t, 2, page.Events[0].Seq)
	assert.EqualValues(t, 3, page.Next)

	rec = doJSON(t, router, http.MethodGet, "/imports", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []domain.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed, 1)

	rec = doJSON(t, router, http.MethodGet, "/imports", "bob", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed)
}

func TestHandlerHidesOtherCallersJobs(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, 0)
	job := f.run(t, Request{Caller: "alice", Files: []FileInput{csvFile("basic.csv", basicCSV)}})

	rec := doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String(), "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/events", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, 256)

	rec := doJSON(t, router, http.MethodPost, "/imports", "", submitRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	big := submitRequest{Files: []submitFile{{Name: "a.csv", Content: string(bytes.Repeat([]byte("x"), 1024)), Encoding: "text"}}}
	rec = doJSON(t, router, http.MethodPost, "/imports", "", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/imports/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	job := f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})
	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/events?since=-4", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/events?wait=maybe", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLongPollReturnsWhenJobIsDone(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, 0)
	job := f.run(t, Request{Files: []FileInput{csvFile("basic.csv", basicCSV)}})

	_, next, _, err := f.registry.Events(context.Background(), job.ID, 0, 0, false)
	require.NoError(t, err)

	rec := doJSON(t, router, http.MethodGet, fmt.Sprintf("/imports/%s/events?since=%d&wait=true", job.ID, next), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Empty(t, page.Events)
	assert.Equal(t, domain.ImportStatusCompleted, page.Job.Status)
}

func TestHandlerAcceptsRawCSVWithoutEncoding(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, 0)

	body := submitRequest{Files: []submitFile{{Name: "basic.csv", Content: basicCSV}}}
	rec := doJSON(t, router, http.MethodPost, "/imports", "", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job domain.ImportJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done, err := f.registry.Wait(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ImportStatusCompleted, done.Status, done.Files)
	assert.Equal(t, 2, done.CreatedCount)
}

func TestHandlerListsPersistedRowFailures(t *testing.T) {
	f := newFixture(t)
	router := newTestRouter(t, f, 0)
	content := "Book Name,Sr No,Title\nLedger,,\n,1,One\n,1,Again\n,x,Bad\n"
	job := f.run(t, Request{Caller: "alice", Files: []FileInput{csvFile("dup.csv", content)}})
	require.Equal(t, 2, job.SkippedCount)

	rec := doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/logs", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []domain.IngestionLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	for _, entry := range entries {
		assert.Equal(t, job.ID, entry.JobID)
		assert.Equal(t, "dup.csv", entry.FileName)
		require.NotNil(t, entry.RowNumber)
	}

	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/logs?limit=1&offset=1", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/logs", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, router, http.MethodGet, "/imports/"+job.ID.String()+"/logs?offset=-1", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
