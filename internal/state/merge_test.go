package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAppliesRequestedKeysAndReportsChanges(t *testing.T) {
	cur := &State{
		Type:    Movie,
		Watched: false,
		Updated: 10,
		Via:     "plex",
		Title:   "Fight Club",
		GUIDs:   map[string]string{"tmdb": "550"},
	}
	incoming := &State{
		Type:    Movie,
		Watched: true,
		Updated: 20,
		Via:     "plex",
		Title:   "Fight Club",
		GUIDs:   map[string]string{"tmdb": "550"},
	}

	next, changed := Merge(cur, incoming, DefaultDiffKeys())

	assert.True(t, next.Watched)
	assert.Equal(t, int64(20), next.Updated)
	assert.ElementsMatch(t, []string{"watched", "updated", "metadata"}, changed)
	// cur is untouched — merge never mutates its input.
	assert.False(t, cur.Watched)
}

func TestMergeNeverMutatesInputs(t *testing.T) {
	cur := &State{Type: Movie, Updated: 1, GUIDs: map[string]string{"tmdb": "1"}}
	incoming := &State{Type: Movie, Updated: 2, Via: "jellyfin", GUIDs: map[string]string{"tmdb": "1"}}

	_, _ = Merge(cur, incoming, DefaultDiffKeys())

	assert.Equal(t, int64(1), cur.Updated)
	assert.Equal(t, "", cur.Via)
}

func TestMergeRestrictedToKeySubsetIgnoresOthers(t *testing.T) {
	cur := &State{Type: Movie, Updated: 1, Title: "Old Title", GUIDs: map[string]string{"tmdb": "1"}}
	incoming := &State{Type: Movie, Updated: 2, Title: "New Title", Via: "plex", GUIDs: map[string]string{"tmdb": "1"}}

	next, changed := Merge(cur, incoming, []string{"metadata"})

	assert.Equal(t, "Old Title", next.Title, "title wasn't in the requested key set")
	assert.Equal(t, int64(1), next.Updated)
	assert.Contains(t, changed, "metadata")
	assert.NotContains(t, changed, "title")
}

func TestMergeExtraAlwaysAppliedNeverDiffed(t *testing.T) {
	cur := &State{Type: Movie, Updated: 1, GUIDs: map[string]string{"tmdb": "1"}}
	incoming := &State{
		Type:    Movie,
		Updated: 1,
		GUIDs:   map[string]string{"tmdb": "1"},
		Extra:   map[string]string{"library": "Movies"},
	}

	next, changed := Merge(cur, incoming, DefaultDiffKeys())

	require.Equal(t, "Movies", next.Extra["library"])
	assert.NotContains(t, changed, "extra")
}

func TestMergeForcesUnwatchedNormalization(t *testing.T) {
	played := int64(5)
	cur := &State{
		Type:    Movie,
		Watched: true,
		Updated: 1,
		GUIDs:   map[string]string{"tmdb": "1"},
		Metadata: map[string]BackendMetadata{
			"plex": {Watched: "1", PlayedAt: &played},
		},
	}
	incoming := &State{Type: Movie, Watched: false, Updated: 2, Via: "plex", GUIDs: map[string]string{"tmdb": "1"}}

	next, _ := Merge(cur, incoming, DefaultDiffKeys())

	assert.False(t, next.Watched)
	assert.Equal(t, "0", next.Metadata["plex"].Watched)
	assert.Nil(t, next.Metadata["plex"].PlayedAt)
}
