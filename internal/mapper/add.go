package mapper

import (
	"context"

	"github.com/kasuboski/watchstate/internal/logger"
	"github.com/kasuboski/watchstate/internal/state"
	"go.uber.org/zap"
)

// Add runs the decision procedure of spec.md §4.3 for a single incoming
// observation. after, when non-nil, is the caller's sync horizon and
// activates the time-gated path; pass nil to skip it entirely. The
// metadata-only and tainted paths are taken before the time gate, so they
// never reach it.
func (m *Mapper) Add(ctx context.Context, entity *state.State, after *int64) (Outcome, error) {
	return m.addInternal(ctx, entity, false, after)
}

func (m *Mapper) addInternal(ctx context.Context, entity *state.State, tainted bool, after *int64) (Outcome, error) {
	typ := string(entity.Type)

	if !entity.HasGUIDs() && !entity.HasRelativeGUID() {
		m.counters.inc(entity.Via, typ, OutcomeFailedNoGUID)
		m.decisionLog(ctx, entity, OutcomeFailedNoGUID, "no guids or relative pointer, rejecting")
		return OutcomeFailedNoGUID, nil
	}

	metadataOnly := m.options.ImportMetadataOnly

	key, found, err := m.index.Lookup(ctx, entity)
	if err != nil {
		return "", err
	}

	if !found {
		if metadataOnly {
			m.counters.inc(entity.Via, typ, OutcomeFailed)
			m.decisionLog(ctx, entity, OutcomeFailed, "no existing record, import-metadata-only skips creation")
			return OutcomeFailed, nil
		}

		clone := entity.Clone()
		clone.NormalizeUnwatched()
		newKey := m.allocKey()
		m.index.Add(newKey, clone)
		m.objects[newKey] = clone
		m.changed[newKey] = struct{}{}

		m.counters.inc(entity.Via, typ, OutcomeAdded)
		m.decisionLog(ctx, entity, OutcomeAdded, "no matching pointer, admitting new record")
		return OutcomeAdded, nil
	}

	cur := m.objects[key]

	if metadataOnly || tainted {
		return m.applyMetadataOnly(ctx, key, cur, entity, tainted)
	}

	if after != nil && !m.options.IgnoreDate && *after >= entity.Updated {
		return m.applyTimeGated(ctx, key, cur, entity, *after)
	}

	if cur.Watched && !entity.Watched {
		retaint, err := m.applyConflict(ctx, cur, entity)
		if err != nil {
			return "", err
		}
		if retaint {
			return m.addInternal(ctx, retaintedEntity(entity), true, after)
		}
		// hasMeta and dates disagree: known provenance, fall through to
		// the general merge to let it arbitrate normally.
	}

	return m.applyGeneralMerge(ctx, key, cur, entity)
}

// applyMetadataOnly applies only the metadata field. When tainted is true,
// entity.Metadata[entity.Via] was set explicitly by retaintedEntity (the
// played_at recorded to arbitrate a conflict) and is used verbatim rather
// than re-derived from entity's top-level watched/updated, which would
// overwrite that recorded played_at with nil.
func (m *Mapper) applyMetadataOnly(ctx context.Context, key int64, cur, entity *state.State, tainted bool) (Outcome, error) {
	typ := string(entity.Type)

	derived := entity.Metadata[entity.Via]
	if !tainted {
		derived = entity.DeriveBackendMetadata()
	}
	prev, had := cur.Metadata[entity.Via]

	if had && prev.Equal(derived) {
		m.counters.inc(entity.Via, typ, OutcomeIgnoredNoChange)
		m.decisionLog(ctx, entity, OutcomeIgnoredNoChange, "metadata-only or tainted path found no metadata change")
		return OutcomeIgnoredNoChange, nil
	}

	next := cur.Clone()
	if next.Metadata == nil {
		next.Metadata = make(map[string]state.BackendMetadata, 1)
	}
	next.Metadata[entity.Via] = derived
	for k, v := range entity.Extra {
		if next.Extra == nil {
			next.Extra = make(map[string]string, len(entity.Extra))
		}
		next.Extra[k] = v
	}

	m.replace(key, cur, next)
	m.counters.inc(entity.Via, typ, OutcomeUpdated)
	m.decisionLog(ctx, entity, OutcomeUpdated, "metadata-only or tainted path applied metadata")
	return OutcomeUpdated, nil
}

func (m *Mapper) applyTimeGated(ctx context.Context, key int64, cur, entity *state.State, after int64) (Outcome, error) {
	typ := string(entity.Type)

	if !entity.Watched && cur.ShouldMarkAsUnplayed(entity.Via, after) {
		next := cur.Clone()
		if next.Metadata == nil {
			next.Metadata = make(map[string]state.BackendMetadata, 1)
		}
		next.Metadata[entity.Via] = entity.DeriveBackendMetadata()
		next.Watched = false
		next.Updated = entity.Updated
		next.NormalizeUnwatched()

		m.replace(key, cur, next)
		m.counters.inc(entity.Via, typ, OutcomeUpdated)
		m.decisionLog(ctx, entity, OutcomeUpdated, "time-gated path marked unplayed")
		return OutcomeUpdated, nil
	}

	if m.options.AlwaysUpdateMetadata {
		derived := entity.DeriveBackendMetadata()
		prev, had := cur.Metadata[entity.Via]
		if !had || !prev.Equal(derived) {
			next := cur.Clone()
			if next.Metadata == nil {
				next.Metadata = make(map[string]state.BackendMetadata, 1)
			}
			next.Metadata[entity.Via] = derived
			m.replace(key, cur, next)
			m.counters.inc(entity.Via, typ, OutcomeUpdated)
			m.decisionLog(ctx, entity, OutcomeUpdated, "time-gated path refreshed metadata under always-update-meta")
			return OutcomeUpdated, nil
		}
	}

	m.counters.inc(entity.Via, typ, OutcomeIgnoredNotPlayedSinceLastSync)
	m.decisionLog(ctx, entity, OutcomeIgnoredNotPlayedSinceLastSync, "observation not newer than last sync")
	return OutcomeIgnoredNotPlayedSinceLastSync, nil
}

// applyConflict implements the play-state disagreement branch. When the
// incoming observation lacks corroborating provenance it returns
// retaint=true and the caller re-runs addInternal once, as a nested call,
// with a tainted copy. The tainted run always takes the metadata-only
// path, so the nesting never goes deeper than one level.
func (m *Mapper) applyConflict(ctx context.Context, cur, entity *state.State) (retaint bool, err error) {
	meta, hasMeta := entity.Metadata[entity.Via]
	hasSamePlayDate := hasMeta && meta.PlayedAt != nil && *meta.PlayedAt == entity.Updated

	if !hasMeta || hasSamePlayDate {
		m.trace(ctx, "conflict: no corroborating metadata, tainting for reprocessing",
			"via", entity.Via, "type", string(entity.Type))
		return true, nil
	}

	return false, nil
}

func retaintedEntity(entity *state.State) *state.State {
	tainted := entity.Clone()
	if tainted.Metadata == nil {
		tainted.Metadata = make(map[string]state.BackendMetadata, 1)
	}
	meta := tainted.Metadata[tainted.Via]
	played := tainted.Updated
	meta.PlayedAt = &played
	meta.Watched = "0"
	tainted.Metadata[tainted.Via] = meta
	return tainted
}

func (m *Mapper) applyGeneralMerge(ctx context.Context, key int64, cur, entity *state.State) (Outcome, error) {
	typ := string(entity.Type)

	keys := m.options.DiffKeys
	if len(keys) == 0 {
		keys = state.DefaultDiffKeys()
	}

	next, changedFields := state.Merge(cur, entity, keys)
	if len(changedFields) == 0 {
		m.counters.inc(entity.Via, typ, OutcomeIgnoredNoChange)
		m.decisionLog(ctx, entity, OutcomeIgnoredNoChange, "general merge produced no field changes")
		return OutcomeIgnoredNoChange, nil
	}

	m.replace(key, cur, next)
	m.counters.inc(entity.Via, typ, OutcomeUpdated)
	m.decisionLog(ctx, entity, OutcomeUpdated, "general merge applied changes",
		zap.Strings("changed", changedFields), zap.Bool("watched_toggled", cur.Watched != next.Watched))
	return OutcomeUpdated, nil
}

func (m *Mapper) replace(key int64, cur, next *state.State) {
	m.index.Replace(key, cur, next)
	m.objects[key] = next
	m.changed[key] = struct{}{}
}

func (m *Mapper) decisionLog(ctx context.Context, entity *state.State, outcome Outcome, msg string, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("via", entity.Via),
		zap.String("type", string(entity.Type)),
		zap.String("outcome", string(outcome)),
	}, extra...)
	logger.FromCtx(ctx).Desugar().Debug(msg, fields...)
}
