// Package export implements the Export Planner (spec.md §4.4): the
// per-entity decision procedure that turns a canonical working set into
// the idempotent list of mark-played/mark-unplayed actions that converge
// one backend to canonical state.
package export

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kasuboski/watchstate/internal/backend"
	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/queue"
	"github.com/kasuboski/watchstate/internal/state"
)

// DefaultAllowedTimeDiff is EXPORT_ALLOWED_TIME_DIFF's spec.md default.
const DefaultAllowedTimeDiff = 10 * time.Second

// Options are the recognized config keys of spec.md §6 bearing on the
// Export Planner.
type Options struct {
	// After, when set, skips any entity not updated since — step 1.
	After *int64
	// AllowedTimeDiff is step 6's tolerance; zero means DefaultAllowedTimeDiff.
	AllowedTimeDiff time.Duration
	IgnoreDate      bool
	DryRun          bool
}

func (o Options) allowedTimeDiff() int64 {
	if o.AllowedTimeDiff <= 0 {
		return int64(DefaultAllowedTimeDiff.Seconds())
	}
	return int64(o.AllowedTimeDiff.Seconds())
}

// Planner runs the Export algorithm against one backend.Client at a time,
// dispatching converging actions through a queue.Queue. It never retries
// itself — failures are logged and counted, per spec.md §4.4.
type Planner struct {
	queue    queue.Queue
	options  Options
	counters Counters
}

func New(q queue.Queue, opts Options) *Planner {
	return &Planner{
		queue:    q,
		options:  opts,
		counters: make(Counters),
	}
}

func (p *Planner) Counters() Counters { return p.counters }

// Plan runs the algorithm against every entity in records for the given
// backend client, enqueuing the convergent action and counting the
// outcome. A planner run never aborts on one entity's failure.
func (p *Planner) Plan(ctx context.Context, client backend.Client, records []*state.State) error {
	for _, e := range records {
		outcome := p.planOne(ctx, client, e)
		p.counters.inc(client.Name(), string(e.Type), outcome)
	}
	return nil
}

func (p *Planner) planOne(ctx context.Context, client backend.Client, e *state.State) Outcome {
	log := logger.FromCtx(ctx, "backend", client.Name(), "title", e.Title, "updated", e.Updated)

	// Step 1: skip if the caller's sync horizon is newer than this entity.
	if p.options.After != nil && !p.options.IgnoreDate && *p.options.After > e.Updated {
		log.Debugw("export: skipping, not updated since sync horizon")
		return OutcomeSkippedNotUpdated
	}

	// Step 2: require the backend's own id for this entity.
	meta, ok := e.Metadata[client.Name()]
	if !ok || meta.ID == "" {
		log.Debugw("export: skipping, no backend id on record")
		return OutcomeSkippedNoBackendID
	}

	// Step 3: fetch the backend's current view.
	item, err := client.GetItem(ctx, meta.ID)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		log.Debugw("export: skipping, backend reports item not found", "item_id", meta.ID)
		return OutcomeSkippedNotFound
	case err != nil:
		log.Errorw("export: skipping, backend fetch failed", zap.Error(err), "item_id", meta.ID)
		return OutcomeSkippedFetchFailed
	}

	// Step 4: already converged.
	if item.Played == e.Watched {
		return OutcomeSkippedIdentical
	}

	// Step 5: the backend's own played date, or its creation date as a
	// played-date fallback when it reports unplayed.
	var backendDate int64
	switch {
	case item.Played && item.LastPlayed != nil:
		backendDate = *item.LastPlayed
	case item.Played:
		log.Debugw("export: skipping, backend reports played with no date")
		return OutcomeSkippedNoBackendDate
	default:
		backendDate = item.DateCreated
	}
	if backendDate == 0 {
		log.Debugw("export: skipping, backend reports no usable date")
		return OutcomeSkippedNoBackendDate
	}

	// Step 6: backend is newer than canonical ⇒ don't overwrite it.
	if backendDate >= e.Updated+p.options.allowedTimeDiff() {
		log.Debugw("export: skipping, backend is newer", "backend_date", backendDate)
		return OutcomeSkippedBackendNewer
	}

	// Step 7: enqueue the convergent action.
	req := queue.Request{
		Backend: client.Name(),
		ItemID:  meta.ID,
		UserData: queue.UserData{
			Title: e.Title,
			Type:  string(e.Type),
			Year:  e.Year,
		},
	}
	if e.Watched {
		req.Action = queue.ActionMarkPlayed
		req.Date = e.Updated
		if client.Kind().IsJellyfinFamily() {
			req.DatePlayed = time.Unix(e.Updated, 0).UTC().Format(time.RFC3339)
		}
	} else {
		req.Action = queue.ActionMarkUnplayed
	}

	if p.options.DryRun {
		log.Infow("export: dry run, would enqueue", "action", string(req.Action), "item_id", meta.ID)
		return OutcomeDryRun
	}

	if err := p.queue.Add(ctx, req); err != nil {
		log.Errorw("export: enqueue failed", zap.Error(err), "item_id", meta.ID)
		return OutcomeFailed
	}

	return OutcomeEnqueued
}
