package state

// EntityKeys lists every field Merge is able to diff and apply. Season and
// episode are deliberately absent: they're part of an episode's identity,
// never a property a later observation revises in place.
var EntityKeys = []string{"watched", "updated", "via", "title", "year", "guids", "parent", "metadata", "extra"}

// EntityIgnoreDiffChanges lists fields Merge always applies but never
// reports in the changed set — "extra" is opaque per-backend trivia that
// shouldn't itself trigger a commit.
var EntityIgnoreDiffChanges = []string{"extra"}

// DefaultDiffKeys returns EntityKeys minus EntityIgnoreDiffChanges, the
// default key set used when callers don't pass their own.
func DefaultDiffKeys() []string {
	ignore := make(map[string]struct{}, len(EntityIgnoreDiffChanges))
	for _, k := range EntityIgnoreDiffChanges {
		ignore[k] = struct{}{}
	}

	keys := make([]string, 0, len(EntityKeys))
	for _, k := range EntityKeys {
		if _, skip := ignore[k]; !skip {
			keys = append(keys, k)
		}
	}
	return keys
}

// Merge clones cur, applies the fields of incoming named in keys, and
// reports which of them actually changed value (spec.md §9: "clone, apply,
// diff" in place of a dedicated has-changes pass per field). "extra" is
// always applied regardless of keys, matching the metadata-only path's
// "apply only the metadata field" carve-out: side information is copied
// forward even when it doesn't gate a commit.
func Merge(cur, incoming *State, keys []string) (next *State, changed []string) {
	next = cur.Clone()
	if next == nil {
		next = &State{}
	}

	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k] = struct{}{}
	}

	apply := func(key string, equal bool, set func()) {
		_, requested := want[key]
		if !requested {
			return
		}
		set()
		if !equal {
			changed = append(changed, key)
		}
	}

	apply("watched", next.Watched == incoming.Watched, func() { next.Watched = incoming.Watched })
	apply("updated", next.Updated == incoming.Updated, func() { next.Updated = incoming.Updated })
	apply("via", next.Via == incoming.Via, func() { next.Via = incoming.Via })
	apply("title", next.Title == incoming.Title, func() { next.Title = incoming.Title })
	apply("year", next.Year == incoming.Year, func() { next.Year = incoming.Year })
	apply("guids", mapsEqual(next.GUIDs, incoming.GUIDs), func() { next.GUIDs = cloneMap(incoming.GUIDs) })
	apply("parent", mapsEqual(next.Parent, incoming.Parent), func() { next.Parent = cloneMap(incoming.Parent) })

	if _, requested := want["metadata"]; requested {
		if next.Metadata == nil {
			next.Metadata = make(map[string]BackendMetadata, 2)
		}

		// The first time a second backend touches a record, cur's own
		// originating backend has never had a metadata sub-record of its
		// own — its play state has only ever lived in the top-level
		// fields. Backfill it from cur's pre-merge state so it isn't lost
		// once incoming's backend starts occupying the metadata map too.
		if cur.Via != "" && cur.Via != incoming.Via {
			if _, exists := next.Metadata[cur.Via]; !exists {
				next.Metadata[cur.Via] = cur.DeriveBackendMetadata()
			}
		}

		derived := incoming.DeriveBackendMetadata()
		prev, had := next.Metadata[incoming.Via]
		if !had && cur.Via == incoming.Via {
			// Same backend, no sub-record yet: its last report is the one
			// held in cur's top-level fields, so compare against that.
			prev, had = cur.DeriveBackendMetadata(), true
		}
		next.Metadata[incoming.Via] = derived
		if !had || !prev.Equal(derived) {
			changed = append(changed, "metadata")
		}
	}

	// extra is always carried forward, never diffed.
	if len(incoming.Extra) > 0 {
		if next.Extra == nil {
			next.Extra = make(map[string]string, len(incoming.Extra))
		}
		for k, v := range incoming.Extra {
			next.Extra[k] = v
		}
	}

	next.NormalizeUnwatched()

	return next, changed
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
