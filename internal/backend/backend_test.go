package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasuboski/watchstate/internal/state"
)

func TestIsJellyfinFamily(t *testing.T) {
	cases := map[Kind]bool{
		Plex:     false,
		Jellyfin: true,
		Emby:     true,
	}
	for kind, want := range cases {
		if got := kind.IsJellyfinFamily(); got != want {
			t.Errorf("%s.IsJellyfinFamily() = %v, want %v", kind, got, want)
		}
	}
}

func TestItemToStateUsesLastPlayedWhenPlayed(t *testing.T) {
	lastPlayed := int64(500)
	item := Item{
		ID:          "42",
		Title:       "The Matrix",
		Type:        "movie",
		Played:      true,
		LastPlayed:  &lastPlayed,
		DateCreated: 100,
		GUIDs:       map[string]string{"imdb": "tt0133093"},
	}

	got := item.ToState("plex")

	require.Equal(t, state.Movie, got.Type)
	assert.True(t, got.Watched)
	assert.EqualValues(t, 500, got.Updated)
	assert.Equal(t, "plex", got.Via)
	require.Contains(t, got.Metadata, "plex")
	assert.Equal(t, "42", got.Metadata["plex"].ID)
}

func TestItemToStateFallsBackToDateCreatedWhenUnplayed(t *testing.T) {
	item := Item{
		ID:          "7",
		Type:        "episode",
		Played:      false,
		DateCreated: 900,
		Parent:      map[string]string{"imdb": "tt9999"},
		Season:      intPtr(1),
		Episode:     intPtr(2),
	}

	got := item.ToState("jellyfin")

	assert.Equal(t, state.Episode, got.Type)
	assert.False(t, got.Watched)
	assert.EqualValues(t, 900, got.Updated)
}

func intPtr(v int) *int { return &v }
