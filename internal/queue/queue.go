// Package queue gives spec.md §6's "Queue contract" — add(request), with
// user_data describing the target entity for dispatch logging — a concrete
// in-process implementation: a bounded channel drained by a worker pool,
// each worker dispatching through a backend.Client. This is what exercises
// §5's "HTTP fan-out in the Export Planner is concurrent" requirement; a
// contract alone never would.
package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/backend"
	"github.com/kasuboski/watchstate/internal/logger"
)

// Action names the play-state change a Request asks a backend to make.
type Action string

const (
	ActionMarkPlayed   Action = "mark_played"
	ActionMarkUnplayed Action = "mark_unplayed"
)

// UserData describes the target entity; the intended state is the
// Request's Action. Its title is carried through to the dispatch log line.
type UserData struct {
	Title string
	Type  string
	Year  int
}

// Request is one outbound action the Export Planner enqueues.
type Request struct {
	Backend  string
	ItemID   string
	Action   Action
	Date     int64 // unix seconds; used only for ActionMarkPlayed
	UserData UserData

	// DatePlayed is the Jellyfin-family ATOM-formatted play date (spec.md
	// §4.4 step 7); empty for Plex and for ActionMarkUnplayed.
	DatePlayed string

	// CorrelationID ties a dispatch's log lines together; assigned by Add
	// when empty.
	CorrelationID string
}

// Queue is the collaborator contract the Export Planner depends on.
type Queue interface {
	Add(ctx context.Context, req Request) error
}

// ErrUnknownBackend is returned by Add when req.Backend has no registered client.
var ErrUnknownBackend = fmt.Errorf("queue: no client registered for backend")

// WorkerQueue is a bounded in-process Queue: Add enqueues onto a buffered
// channel; a fixed pool of goroutines drains it, each dispatching one
// request through the matching backend.Client.
type WorkerQueue struct {
	clients map[string]backend.Client
	pending chan dispatch
	wg      sync.WaitGroup
}

type dispatch struct {
	ctx context.Context
	req Request
}

// Option configures a WorkerQueue at construction.
type Option func(*WorkerQueue)

// WithCapacity sets the bounded channel's buffer size. Default 64.
func WithCapacity(n int) Option {
	return func(q *WorkerQueue) {
		q.pending = make(chan dispatch, n)
	}
}

// New builds a WorkerQueue dispatching against clients (keyed by
// backend.Client.Name()) and starts workers goroutines draining it.
// Callers must call Close to let in-flight work drain before exit.
func New(clients []backend.Client, workers int, opts ...Option) *WorkerQueue {
	q := &WorkerQueue{
		clients: make(map[string]backend.Client, len(clients)),
		pending: make(chan dispatch, 64),
	}
	for _, c := range clients {
		q.clients[c.Name()] = c
	}
	for _, opt := range opts {
		opt(q)
	}

	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}

	return q
}

// Add enqueues req for dispatch. It blocks if the queue is at capacity;
// callers needing a non-blocking enqueue should select on ctx.Done().
func (q *WorkerQueue) Add(ctx context.Context, req Request) error {
	if _, ok := q.clients[req.Backend]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, req.Backend)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	select {
	case q.pending <- dispatch{ctx: ctx, req: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new work and waits for in-flight dispatches to drain.
func (q *WorkerQueue) Close() {
	close(q.pending)
	q.wg.Wait()
}

func (q *WorkerQueue) worker() {
	defer q.wg.Done()

	for d := range q.pending {
		q.dispatch(d.ctx, d.req)
	}
}

func (q *WorkerQueue) dispatch(ctx context.Context, req Request) {
	log := logger.FromCtx(ctx,
		"correlation_id", req.CorrelationID,
		"backend", req.Backend,
		"item_id", req.ItemID,
		"action", string(req.Action),
		"title", req.UserData.Title,
		"date_played", req.DatePlayed,
	)

	client, ok := q.clients[req.Backend]
	if !ok {
		log.Errorw("dispatch failed: unknown backend")
		return
	}

	var err error
	switch req.Action {
	case ActionMarkPlayed:
		err = client.MarkPlayed(ctx, req.ItemID, req.Date)
	case ActionMarkUnplayed:
		err = client.MarkUnplayed(ctx, req.ItemID)
	default:
		err = fmt.Errorf("unrecognized action %q", req.Action)
	}

	if err != nil {
		log.Errorw("dispatch failed", zap.Error(err))
		return
	}
	log.Debugw("dispatch succeeded")
}
