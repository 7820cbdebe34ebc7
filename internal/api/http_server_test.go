package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"trackresync/internal/config"
	"trackresync/internal/export"
	"trackresync/internal/models"
	"trackresync/internal/repository"
	"trackresync/internal/service"
	"trackresync/internal/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeScheduler struct {
	mu      sync.Mutex
	reasons []string
}

func (s *fakeScheduler) RequestRun(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, reason)
}

func (s *fakeScheduler) Status() worker.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := worker.Status{Active: true, Dispatched: int64(len(s.reasons))}
	if n := len(s.reasons); n > 0 {
		st.Pending = &worker.Request{ID: "req", Reason: s.reasons[n-1], Tag: models.ResyncJobTag}
	}
	return st
}

type fakeProgress struct {
	got models.TrackRecord
	err error
}

func (p *fakeProgress) RecordProgress(_ context.Context, record models.TrackRecord) (service.ProgressResult, error) {
	p.got = record
	if p.err != nil {
		return service.ProgressResult{}, p.err
	}
	return service.ProgressResult{ItemID: 7, Kind: models.KindAnime, Outcome: service.OutcomeDeferred}, nil
}

type testAPI struct {
	ts        *httptest.Server
	store     *repository.MemoryPendingStore
	scheduler *fakeScheduler
	progress  *fakeProgress
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := repository.NewMemoryPendingStore()
	a := &testAPI{store: store, scheduler: &fakeScheduler{}, progress: &fakeProgress{}}

	srv := NewHTTPServer(config.APIConfig{}, Deps{
		Pending:   store,
		Scheduler: a.scheduler,
		Progress:  a.progress,
		Export:    export.NewPendingReport(store),
	})
	a.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(a.ts.Close)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, a.ts.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDMetadataKey))
}

func TestResync(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/resync", `{"reason":"manual"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		Status  string          `json:"status"`
		Pending *worker.Request `json:"pending"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "queued", body.Status)
	require.NotNil(t, body.Pending)
	assert.Equal(t, "manual", body.Pending.Reason)

	resp = a.do(t, http.MethodPost, "/api/v1/resync", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, []string{"manual", "api"}, a.scheduler.reasons)

	resp = a.do(t, http.MethodGet, "/api/v1/resync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	a := newTestAPI(t)
	resp := a.do(t, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st worker.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.True(t, st.Active)
}

func TestPendingLifecycle(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/pending", `{"item_id":4,"kind":"manga"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"marker added"}, a.scheduler.reasons)

	resp = a.do(t, http.MethodPost, "/api/v1/pending", `{"item_id":5,"kind":"anime"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var list struct {
		Markers []models.PendingMarker `json:"markers"`
		Count   int                    `json:"count"`
	}
	resp = a.do(t, http.MethodGet, "/api/v1/pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Equal(t, 2, list.Count)

	resp = a.do(t, http.MethodGet, "/api/v1/pending?kind=anime", "")
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Equal(t, 1, list.Count)
	assert.Equal(t, int64(5), list.Markers[0].ItemID)

	resp = a.do(t, http.MethodDelete, "/api/v1/pending?kind=anime&item_id=5", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, a.store.Len())
}

func TestPendingValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name, method, path, body string
	}{
		{"bad kind filter", http.MethodGet, "/api/v1/pending?kind=novel", ""},
		{"bad json", http.MethodPost, "/api/v1/pending", `{`},
		{"unknown field", http.MethodPost, "/api/v1/pending", `{"item_id":1,"kind":"manga","x":1}`},
		{"bad kind", http.MethodPost, "/api/v1/pending", `{"item_id":1,"kind":"novel"}`},
		{"missing id", http.MethodPost, "/api/v1/pending", `{"kind":"manga"}`},
		{"delete without id", http.MethodDelete, "/api/v1/pending?kind=manga", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := a.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
	assert.Zero(t, a.store.Len())
}

func TestProgress(t *testing.T) {
	a := newTestAPI(t)

	resp := a.do(t, http.MethodPost, "/api/v1/progress/anime", `{"tracker_id":2,"media_id":9,"last_episode_seen":12}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	track, ok := a.progress.got.(*models.AnimeTrack)
	require.True(t, ok)
	assert.Equal(t, int64(2), track.TrackerID)
	assert.Equal(t, 12.0, track.LastEpisodeSeen)

	var result service.ProgressResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, service.OutcomeDeferred, result.Outcome)

	resp = a.do(t, http.MethodPost, "/api/v1/progress/novel", `{}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = a.do(t, http.MethodPost, "/api/v1/progress/manga", `{"media_id":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	a.progress.err = errors.New("db locked")
	resp = a.do(t, http.MethodPost, "/api/v1/progress/manga", `{"tracker_id":1}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestExport(t *testing.T) {
	a := newTestAPI(t)
	require.NoError(t, a.store.Add(context.Background(), 11, models.KindManga))

	resp := a.do(t, http.MethodGet, "/api/v1/pending/export", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "pending_")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	require.NoError(t, err)
	defer f.Close()

	v, err := f.GetCellValue("Manga", "A2")
	require.NoError(t, err)
	assert.Equal(t, "11", v)
}
