package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/state"
	"github.com/kasuboski/watchstate/internal/storage"
)

func TestServer_Healthz(t *testing.T) {
	s := Server{baseLogger: zap.NewNop().Sugar()}

	req, err := http.NewRequest("GET", "/healthz", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()

	s.Healthz().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("content-type"))

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Response)
}

type fakeJobStatusSource struct {
	snap map[string]time.Time
}

func (f fakeJobStatusSource) Snapshot() map[string]time.Time { return f.snap }

func TestServer_Status(t *testing.T) {
	jobs := fakeJobStatusSource{snap: map[string]time.Time{
		"sync:plex": time.Now().Add(-5 * time.Minute),
	}}

	mapperCounters := func() map[string]int { return map[string]int{"plex.movie.added": 3} }

	s := Server{
		baseLogger: zap.NewNop().Sugar(),
		jobs:       jobs,
		mapper:     counterSourceFunc(mapperCounters),
	}

	req, err := http.NewRequest("GET", "/api/v1/status", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()

	s.Status().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	raw, err := json.Marshal(resp.Response)
	require.NoError(t, err)
	var status StatusResponse
	require.NoError(t, json.Unmarshal(raw, &status))

	require.Len(t, status.Jobs, 1)
	assert.Equal(t, "sync:plex", status.Jobs[0].Key)
	assert.Equal(t, 3, status.MapperCounters["plex.movie.added"])
}

func TestServer_Activity(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	older := &state.State{Type: state.Movie, Watched: true, Updated: 100, Via: "A", Title: "Old", GUIDs: map[string]string{"imdb": "tt1"}}
	newer := &state.State{Type: state.Movie, Watched: true, Updated: 200, Via: "A", Title: "New", GUIDs: map[string]string{"imdb": "tt2"}}
	require.NoError(t, store.Insert(context.Background(), older))
	require.NoError(t, store.Insert(context.Background(), newer))

	s := Server{baseLogger: zap.NewNop().Sugar(), store: store}

	req, err := http.NewRequest("GET", "/api/v1/activity", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()

	s.Activity().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp GenericResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	raw, err := json.Marshal(resp.Response)
	require.NoError(t, err)
	var entries []ActivityEntry
	require.NoError(t, json.Unmarshal(raw, &entries))

	require.Len(t, entries, 2)
	assert.Equal(t, "New", entries[0].Title, "newest-updated entry should come first")
	assert.Equal(t, "Old", entries[1].Title)
}

func TestServer_RouterServesHealthz(t *testing.T) {
	store, err := storage.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	s := New(zap.NewNop().Sugar(), store, nil, nil, nil)

	req, err := http.NewRequest("GET", "/healthz", nil)
	require.NoError(t, err)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
