// Package backend defines the collaborator contract spec.md §6 calls out
// as external to the core: a per-backend HTTP client capable of listing a
// user's library, fetching a single item's current play state, and pushing
// play/unplay actions. WatchState's own Plex/Jellyfin/Emby clients satisfy
// this interface; the core (Mapper, Export Planner) only ever depends on it.
package backend

import (
	"context"
	"errors"

	"github.com/kasuboski/watchstate/internal/state"
)

// Kind names the wire protocol family a backend speaks. Jellyfin and Emby
// share a play-reporting API (including the DatePlayed field the Export
// Planner attaches per spec.md §4.4 step 7); Plex does not.
type Kind string

const (
	Plex     Kind = "plex"
	Jellyfin Kind = "jellyfin"
	Emby     Kind = "emby"
)

// IsJellyfinFamily reports whether k expects the Jellyfin-style
// /Users/{id}/PlayedItems/{itemId} payload with a DatePlayed field.
func (k Kind) IsJellyfinFamily() bool {
	return k == Jellyfin || k == Emby
}

var (
	// ErrNotFound is returned by GetItem for a 404 response.
	ErrNotFound = errors.New("backend: item not found")
	// ErrUnavailable is returned for any non-2xx, non-404 response.
	ErrUnavailable = errors.New("backend: non-2xx response")
)

// Item is a backend's own view of a single title, independent of our
// canonical State — the raw material state.State.DeriveBackendMetadata
// and the Export Planner's comparisons are built from.
type Item struct {
	ID          string
	Title       string
	Type        string // "movie" | "episode", backend-reported
	Played      bool
	LastPlayed  *int64 // unix seconds; nil if the backend has no record of one
	DateCreated int64  // unix seconds; used as a played-date fallback (spec.md §4.4 step 5)
	GUIDs       map[string]string
	Parent      map[string]string
	Season      *int
	Episode     *int
}

// ToState converts a backend's own view of an item into the observation a
// Mapper.Add call expects, tagging it with via so the Reconciliation
// Engine can attribute it (spec.md §3.2's metadata[backend]). Updated is
// the backend's own play date when it reports played, else its creation
// date — the closest thing a backend has to "when I last knew about this".
func (i Item) ToState(via string) *state.State {
	updated := i.DateCreated
	if i.Played && i.LastPlayed != nil {
		updated = *i.LastPlayed
	}

	typ := state.Movie
	if i.Type == string(state.Episode) {
		typ = state.Episode
	}

	return &state.State{
		Type:    typ,
		Watched: i.Played,
		Updated: updated,
		Via:     via,
		Title:   i.Title,
		Season:  i.Season,
		Episode: i.Episode,
		GUIDs:   i.GUIDs,
		Parent:  i.Parent,
		Metadata: map[string]state.BackendMetadata{
			via: {ID: i.ID},
		},
	}
}

// Client is the per-backend collaborator contract of spec.md §6. Every
// method takes the backend's own item ID, mirroring metadata[backend].id.
type Client interface {
	// Name returns the backend name used to tag observations ("via") and
	// key metadata[backend] sub-records.
	Name() string
	Kind() Kind

	// Discover returns a stable identifier for the server instance this
	// client points at (spec.md §6's "discovery method returning a stable
	// backend_id"), used to detect a reconfigured/replaced backend.
	Discover(ctx context.Context) (string, error)

	// ListItems enumerates the backend's library for import.
	ListItems(ctx context.Context) ([]Item, error)
	// GetItem fetches the current view of a single item. Returns
	// ErrNotFound on 404, ErrUnavailable on any other non-2xx.
	GetItem(ctx context.Context, id string) (Item, error)

	MarkPlayed(ctx context.Context, id string, date int64) error
	MarkUnplayed(ctx context.Context, id string) error
}
