// Package mapper implements the Reconciliation Engine (spec.md §4.3): the
// decision procedure that classifies every incoming observation as an
// add, an update, a metadata-only touch, a play-state transition, or a
// conflict to be re-processed, and the transactional commit of the
// resulting change set.
package mapper

import (
	"context"
	"strings"

	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/pointer"
	"github.com/kasuboski/watchstate/internal/state"
	"github.com/kasuboski/watchstate/internal/storage"
)

// Options are the recognized config keys of spec.md §6 that bear on the
// decision procedure.
type Options struct {
	ImportMetadataOnly   bool
	IgnoreDate           bool
	DryRun               bool
	DebugTrace           bool
	AlwaysUpdateMetadata bool
	DisableAutocommit    bool
	// DiffKeys overrides state.DefaultDiffKeys() for the general merge path.
	DiffKeys []string
}

// Mapper holds one reconciliation run's working set.
type Mapper struct {
	store   *storage.Storage
	index   *pointer.Index
	objects map[int64]*state.State
	changed map[int64]struct{}

	fullyLoaded bool
	options     Options
	counters    Counters

	nextTempKey int64
}

// New constructs an empty Mapper backed by store. The Pointer Index lazily
// loads from store whenever the working set isn't fully preloaded.
func New(store *storage.Storage, opts Options) *Mapper {
	m := &Mapper{
		store:       store,
		objects:     make(map[int64]*state.State),
		changed:     make(map[int64]struct{}),
		options:     opts,
		counters:    make(Counters),
		nextTempKey: -1,
	}

	m.index = pointer.New(func(ctx context.Context, p string) (int64, bool, error) {
		return m.lazyLoad(ctx, p)
	}, false)

	return m
}

// lazyLoad is the Pointer Index's fallback when the working set isn't
// fully preloaded: ask Storage directly, and if found, adopt the row into
// the working set so subsequent lookups are free (spec.md §4.2).
func (m *Mapper) lazyLoad(ctx context.Context, p string) (int64, bool, error) {
	found, err := m.store.FindByExternalID(ctx, probeFromPointer(p))
	if err == storage.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	key := *found.ID
	if _, exists := m.objects[key]; !exists {
		m.objects[key] = found
		m.index.Add(key, found)
	}
	return key, true, nil
}

// probeFromPointer can only reconstruct enough of a State to drive
// FindByExternalID for a GUID-form pointer ("ns://id/type"). A relative
// pointer reaching the loader does not end in a media type, so it falls
// through to the zero-value State below, which FindByExternalID simply
// won't match — Storage has no relative-pointer lookup path of its own, so
// an episode identified only by parent+season+episode and not yet preloaded
// into the Pointer Index can't be lazily resolved; it surfaces as not-found
// instead.
func probeFromPointer(p string) *state.State {
	ns, rest, ok := strings.Cut(p, "://")
	slash := strings.LastIndex(rest, "/")
	if !ok || ns == "" || slash <= 0 {
		return &state.State{}
	}
	id, typ := rest[:slash], state.MediaType(rest[slash+1:])
	if typ != state.Movie && typ != state.Episode {
		return &state.State{}
	}
	return &state.State{Type: typ, GUIDs: map[string]string{ns: id}}
}

func (m *Mapper) allocKey() int64 {
	k := m.nextTempKey
	m.nextTempKey--
	return k
}

// LoadData reads from Storage into the working set, registering pointers
// for every row. fullyLoaded becomes true only when since is nil —
// meaning every row in the table is now in memory and the Pointer Index
// never needs to fall back to Storage.
func (m *Mapper) LoadData(ctx context.Context, since *int64) error {
	rows, err := m.store.GetAll(ctx, since)
	if err != nil {
		return err
	}

	for _, row := range rows {
		key := *row.ID
		if _, exists := m.objects[key]; exists {
			continue // duplicate id, first wins
		}
		m.objects[key] = row
		m.index.Add(key, row)
	}

	m.fullyLoaded = since == nil
	if m.fullyLoaded {
		m.index = pointer.New(nil, true)
		for key, row := range m.objects {
			m.index.Add(key, row)
		}
	}

	return nil
}

// Remove locates entity via the Pointer Index, deletes it from Storage,
// and drops it from the working set.
func (m *Mapper) Remove(ctx context.Context, entity *state.State) error {
	key, ok, err := m.index.Lookup(ctx, entity)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}

	cur := m.objects[key]
	m.index.Remove(cur)

	if err := m.store.Remove(ctx, cur); err != nil {
		return err
	}

	delete(m.objects, key)
	delete(m.changed, key)
	return nil
}

// Commit persists the change set inside a single transaction and resets
// the working set. Under DryRun, counters still increment but no writes
// happen.
func (m *Mapper) Commit(ctx context.Context) (storage.CommitResult, error) {
	defer m.Reset()

	pending := make([]*state.State, 0, len(m.changed))
	for key := range m.changed {
		pending = append(pending, m.objects[key])
	}

	if m.options.DryRun {
		var result storage.CommitResult
		for _, e := range pending {
			counts := resultCounts(&result, e.Type)
			if e.ID == nil {
				counts.Added++
			} else {
				counts.Updated++
			}
		}
		return result, nil
	}

	return m.store.Commit(ctx, pending)
}

func resultCounts(r *storage.CommitResult, t state.MediaType) *storage.TypeCounts {
	if t == state.Movie {
		return &r.Movie
	}
	return &r.Episode
}

// Reset clears the working set. fullyLoaded reverts to false: the next
// LoadData call (or lazy pointer resolution) starts cold.
func (m *Mapper) Reset() {
	m.objects = make(map[int64]*state.State)
	m.changed = make(map[int64]struct{})
	m.fullyLoaded = false
	m.index = pointer.New(func(ctx context.Context, p string) (int64, bool, error) {
		return m.lazyLoad(ctx, p)
	}, false)
}

// Close implements the explicit teardown spec.md §9 asks for in place of
// destructor semantics: if autocommit isn't disabled and the change set is
// non-empty, it commits before returning.
func (m *Mapper) Close(ctx context.Context) error {
	if m.options.DisableAutocommit || len(m.changed) == 0 {
		return nil
	}

	_, err := m.Commit(ctx)
	return err
}

// Counters returns the accumulated per-decision counters (spec.md §7).
func (m *Mapper) Counters() Counters {
	return m.counters
}

// trace emits verbose per-decision detail only when DEBUG_TRACE is set;
// the one-line-per-decision outcome log always happens regardless, in Add.
func (m *Mapper) trace(ctx context.Context, msg string, fields ...any) {
	if !m.options.DebugTrace {
		return
	}
	logger.FromCtx(ctx).Debugw(msg, fields...)
}
