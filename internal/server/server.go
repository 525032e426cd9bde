// Package server exposes the minimal read-only status/log-viewer HTTP API
// SPEC_FULL.md §12.2 calls out as ambient infrastructure for a background
// job system: a health probe, a per-backend job status view, and a recent
// activity feed built from the Reconciliation Engine's own state table.
// The top-level spec explicitly scopes a deep log viewer out; this is the
// minimal surface the teacher's own `server/server.go` always carries.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/state"
	"github.com/kasuboski/watchstate/internal/storage"
)

// GenericResponse wraps every JSON body this API returns, matching the
// teacher's envelope shape.
type GenericResponse struct {
	Error    *string `json:"error,omitempty"`
	Response any     `json:"response"`
}

// CounterSource is anything that reports "{backend}.{type}.{outcome}"
// counters as a plain map. mapper.Mapper and export.Planner return their
// own named map types, so they are wrapped with AsCounterSource.
type CounterSource interface {
	Counters() map[string]int
}

// counterSourceFunc adapts a typed Counters() map[string]Outcome-keyed
// method (mapper.Counters/export.Counters are both map[string]int under
// the hood, but distinct named types) into CounterSource.
type counterSourceFunc func() map[string]int

func (f counterSourceFunc) Counters() map[string]int { return f() }

// AsCounterSource adapts any map[string]int-returning accumulator (e.g.
// mapper.Mapper.Counters or export.Planner.Counters) into a CounterSource.
func AsCounterSource[M ~map[string]int](counters func() M) CounterSource {
	return counterSourceFunc(func() map[string]int {
		out := make(map[string]int, len(counters()))
		for k, v := range counters() {
			out[k] = v
		}
		return out
	})
}

// JobStatusSource is satisfied by scheduler.Scheduler.
type JobStatusSource interface {
	Snapshot() map[string]time.Time
}

// Server houses the dependencies the status/activity/health endpoints read
// from — never anything they can mutate.
type Server struct {
	baseLogger *zap.SugaredLogger
	store      *storage.Storage
	jobs       JobStatusSource
	mapper     CounterSource
	export     CounterSource
}

// New constructs a Server. mapper/export may be nil if unavailable
// (e.g. a read-only status-only deployment).
func New(baseLogger *zap.SugaredLogger, store *storage.Storage, jobs JobStatusSource, mapperCounters, exportCounters CounterSource) Server {
	return Server{
		baseLogger: baseLogger,
		store:      store,
		jobs:       jobs,
		mapper:     mapperCounters,
		export:     exportCounters,
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	writeResponse(w, status, GenericResponse{Error: &msg})
}

func writeResponse(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("content-type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	w.Write(b)
}

// Router builds the mux.Router this API serves, without binding a port —
// split out from Serve so tests can exercise it with httptest.
func (s Server) Router() http.Handler {
	rtr := mux.NewRouter()
	rtr.Use(s.LogMiddleware())

	rtr.HandleFunc("/healthz", s.Healthz()).Methods(http.MethodGet)

	v1 := rtr.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.Status()).Methods(http.MethodGet)
	v1.HandleFunc("/activity", s.Activity()).Methods(http.MethodGet)

	return handlers.CORS(handlers.AllowedOrigins([]string{"*"}))(rtr)
}

// Serve starts the HTTP server on port and blocks until an interrupt
// signal, then shuts down gracefully.
func (s Server) Serve(port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}

	go func() {
		s.baseLogger.Infow("serving...", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.baseLogger.Errorw("server stopped", zap.Error(err))
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Healthz is a liveness probe.
func (s Server) Healthz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, http.StatusOK, GenericResponse{Response: "ok"})
	}
}

// JobStatus is one job type/backend pair's last-run summary.
type JobStatus struct {
	Key      string `json:"key"`
	LastRun  string `json:"last_run"`
	Relative string `json:"relative"`
}

// StatusResponse is /api/v1/status's payload: job run history plus the
// Reconciliation Engine's and Export Planner's accumulated counters.
type StatusResponse struct {
	Jobs           []JobStatus    `json:"jobs"`
	MapperCounters map[string]int `json:"mapper_counters,omitempty"`
	ExportCounters map[string]int `json:"export_counters,omitempty"`
}

// Status reports per-backend job history and the current counter totals.
func (s Server) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{}

		if s.jobs != nil {
			snap := s.jobs.Snapshot()
			keys := make([]string, 0, len(snap))
			for k := range snap {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			for _, k := range keys {
				t := snap[k]
				resp.Jobs = append(resp.Jobs, JobStatus{
					Key:      k,
					LastRun:  t.UTC().Format(time.RFC3339),
					Relative: humanize.Time(t),
				})
			}
		}

		if s.mapper != nil {
			resp.MapperCounters = s.mapper.Counters()
		}
		if s.export != nil {
			resp.ExportCounters = s.export.Counters()
		}

		writeResponse(w, http.StatusOK, GenericResponse{Response: resp})
	}
}

// ActivityEntry is one recently-touched canonical record, per §6's "log
// viewer" hint — enough to answer "what did the engine just do" without
// exposing full row internals.
type ActivityEntry struct {
	Title    string `json:"title"`
	Type     string `json:"type"`
	Watched  bool   `json:"watched"`
	Via      string `json:"via"`
	Updated  string `json:"updated"`
	Relative string `json:"relative"`
}

// Activity lists the most recently updated canonical records, newest
// first, capped at a `limit` query parameter (default 50, max 200).
func (s Server) Activity() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromCtx(r.Context())

		limit := parseLimit(r, 50, 200)

		rows, err := s.store.GetAll(r.Context(), nil)
		if err != nil {
			log.Errorw("failed to list activity", zap.Error(err))
			writeErrorResponse(w, http.StatusInternalServerError, err)
			return
		}

		sort.Slice(rows, func(i, j int) bool { return rows[i].Updated > rows[j].Updated })
		if len(rows) > limit {
			rows = rows[:limit]
		}

		entries := make([]ActivityEntry, 0, len(rows))
		for _, r := range rows {
			entries = append(entries, toActivityEntry(r))
		}

		writeResponse(w, http.StatusOK, GenericResponse{Response: entries})
	}
}

func toActivityEntry(e *state.State) ActivityEntry {
	when := time.Unix(e.Updated, 0)
	return ActivityEntry{
		Title:    e.Title,
		Type:     string(e.Type),
		Watched:  e.Watched,
		Via:      e.Via,
		Updated:  when.UTC().Format(time.RFC3339),
		Relative: humanize.Time(when),
	}
}

func parseLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}

	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
