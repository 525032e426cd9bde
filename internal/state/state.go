// Package state defines WatchState's canonical entity model: the State
// record (spec.md §3.1), its per-backend metadata sub-record (§3.2), and
// the identity-key derivations (§3.3) the Pointer Index and Mapper rely on.
package state

import (
	"errors"
	"fmt"
	"maps"
)

type MediaType string

const (
	Movie   MediaType = "movie"
	Episode MediaType = "episode"
)

var (
	// ErrMissingIdentity is returned when a State has neither a usable GUID
	// nor a relative pointer — it cannot be admitted to a working set.
	ErrMissingIdentity = errors.New("state: no guids or relative pointer")
	// ErrInvalidType is returned for a type outside {movie, episode}.
	ErrInvalidType = errors.New("state: invalid type")
	// ErrEpisodeFieldsRequired is returned when an episode is missing
	// season/episode/parent.
	ErrEpisodeFieldsRequired = errors.New("state: episode requires season, episode and parent")
	// ErrMovieFieldsForbidden is returned when a movie carries episode-only fields.
	ErrMovieFieldsForbidden = errors.New("state: movie must not carry season/episode/parent")
	// ErrInvalidUpdated is returned when updated <= 0.
	ErrInvalidUpdated = errors.New("state: updated must be > 0")
)

// BackendMetadata is the only place a backend's own opinion of a title is
// retained verbatim (spec.md §3.2).
type BackendMetadata struct {
	ID       string            `json:"id,omitempty"`
	Watched  string            `json:"watched"` // "0" or "1"
	PlayedAt *int64            `json:"played_at,omitempty"`
	GUIDs    map[string]string `json:"guids,omitempty"`
	Parent   map[string]string `json:"parent,omitempty"`
}

func (m BackendMetadata) Equal(o BackendMetadata) bool {
	if m.ID != o.ID || m.Watched != o.Watched {
		return false
	}
	if (m.PlayedAt == nil) != (o.PlayedAt == nil) {
		return false
	}
	if m.PlayedAt != nil && *m.PlayedAt != *o.PlayedAt {
		return false
	}
	return mapsEqual(m.GUIDs, o.GUIDs) && mapsEqual(m.Parent, o.Parent)
}

func (m BackendMetadata) Clone() BackendMetadata {
	c := m
	if m.PlayedAt != nil {
		t := *m.PlayedAt
		c.PlayedAt = &t
	}
	c.GUIDs = maps.Clone(m.GUIDs)
	c.Parent = maps.Clone(m.Parent)
	return c
}

// State is the canonical record for one logical title, independent of
// which backend reported it (spec.md §3.1).
type State struct {
	ID      *int64
	Type    MediaType
	Watched bool
	Updated int64
	Via     string

	Title   string
	Year    int
	Season  *int
	Episode *int

	GUIDs    map[string]string
	Parent   map[string]string
	Metadata map[string]BackendMetadata
	Extra    map[string]string
}

// Clone returns a deep copy of s so mutation can happen on a scratch value
// before being committed to the working set (spec.md §9 "clone, apply, diff").
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}

	c := *s
	if s.ID != nil {
		id := *s.ID
		c.ID = &id
	}
	if s.Season != nil {
		v := *s.Season
		c.Season = &v
	}
	if s.Episode != nil {
		v := *s.Episode
		c.Episode = &v
	}

	c.GUIDs = maps.Clone(s.GUIDs)
	c.Parent = maps.Clone(s.Parent)
	c.Extra = maps.Clone(s.Extra)

	if s.Metadata != nil {
		c.Metadata = make(map[string]BackendMetadata, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v.Clone()
		}
	}

	return &c
}

// HasGUIDs reports whether s carries at least one external GUID.
func (s *State) HasGUIDs() bool {
	return len(s.GUIDs) > 0
}

// HasRelativeGUID reports whether s is an episode whose parent show GUIDs
// and season/episode numbers are established, even absent its own GUIDs.
func (s *State) HasRelativeGUID() bool {
	return s.Type == Episode && len(s.Parent) > 0 && s.Season != nil && s.Episode != nil
}

// Validate checks the invariants of spec.md §3.1.
func (s *State) Validate() error {
	switch s.Type {
	case Movie:
		if s.Season != nil || s.Episode != nil || len(s.Parent) > 0 {
			return ErrMovieFieldsForbidden
		}
	case Episode:
		if s.Season == nil || s.Episode == nil || len(s.Parent) == 0 {
			return ErrEpisodeFieldsRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidType, s.Type)
	}

	if !s.HasGUIDs() && !s.HasRelativeGUID() {
		return ErrMissingIdentity
	}

	if s.Updated <= 0 {
		return ErrInvalidUpdated
	}

	return nil
}

// DeriveBackendMetadata builds the per-backend metadata entry this
// observation contributes, preserving any backend-local ID already
// attached to s.Metadata[s.Via] (the one field the mapper never invents).
func (s *State) DeriveBackendMetadata() BackendMetadata {
	meta := s.Metadata[s.Via]
	meta.Watched = watchedFlag(s.Watched)
	if s.Watched {
		t := s.Updated
		meta.PlayedAt = &t
	} else {
		meta.PlayedAt = nil
	}
	meta.GUIDs = maps.Clone(s.GUIDs)
	meta.Parent = maps.Clone(s.Parent)
	return meta
}

// NormalizeUnwatched enforces the storage invariant: a record can't be
// unwatched while any backend's metadata claims it was played.
func (s *State) NormalizeUnwatched() {
	if s.Watched {
		return
	}

	for name, meta := range s.Metadata {
		meta.Watched = "0"
		meta.PlayedAt = nil
		s.Metadata[name] = meta
	}
}

// ShouldMarkAsUnplayed implements spec.md §4.3's shouldMarkAsUnplayed: never
// mark unplayed on first observation, and only when the named backend's own
// last-known play date precedes the caller's sync horizon.
func (s *State) ShouldMarkAsUnplayed(via string, after int64) bool {
	if !s.Watched {
		return false
	}

	meta, ok := s.Metadata[via]
	if !ok || meta.Watched != "1" || meta.PlayedAt == nil {
		return false
	}

	return *meta.PlayedAt < after
}

func watchedFlag(w bool) string {
	if w {
		return "1"
	}
	return "0"
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
