package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Run("movie with guids is valid", func(t *testing.T) {
		s := &State{Type: Movie, Updated: 1, GUIDs: map[string]string{"tmdb": "1"}}
		require.NoError(t, s.Validate())
	})

	t.Run("movie rejects season", func(t *testing.T) {
		season := 1
		s := &State{Type: Movie, Updated: 1, GUIDs: map[string]string{"tmdb": "1"}, Season: &season}
		assert.ErrorIs(t, s.Validate(), ErrMovieFieldsForbidden)
	})

	t.Run("episode requires season/episode/parent", func(t *testing.T) {
		s := &State{Type: Episode, Updated: 1, GUIDs: map[string]string{"tvdb": "1"}}
		assert.ErrorIs(t, s.Validate(), ErrEpisodeFieldsRequired)
	})

	t.Run("episode with relative guid is valid without own guids", func(t *testing.T) {
		season, episode := 1, 2
		s := &State{
			Type:    Episode,
			Updated: 1,
			Parent:  map[string]string{"tvdb": "99"},
			Season:  &season,
			Episode: &episode,
		}
		require.NoError(t, s.Validate())
	})

	t.Run("rejects missing identity", func(t *testing.T) {
		s := &State{Type: Movie, Updated: 1}
		assert.ErrorIs(t, s.Validate(), ErrMissingIdentity)
	})

	t.Run("rejects zero updated", func(t *testing.T) {
		s := &State{Type: Movie, Updated: 0, GUIDs: map[string]string{"tmdb": "1"}}
		assert.ErrorIs(t, s.Validate(), ErrInvalidUpdated)
	})
}

func TestPointers(t *testing.T) {
	s := &State{Type: Movie, GUIDs: map[string]string{"tmdb": "603", "imdb": "tt0133093"}}
	ptrs := s.Pointers()
	assert.Equal(t, []string{"imdb://tt0133093/movie", "tmdb://603/movie"}, ptrs)
}

func TestRelativePointer(t *testing.T) {
	season, episode := 1, 5
	s := &State{
		Type:    Episode,
		Parent:  map[string]string{"tvdb": "121361"},
		Season:  &season,
		Episode: &episode,
	}

	got, ok := s.RelativePointer()
	require.True(t, ok)
	assert.Equal(t, "tvdb://121361/s01e05", got)
}

func TestLocalPointer(t *testing.T) {
	s := &State{Type: Movie}
	_, ok := s.LocalPointer()
	assert.False(t, ok, "unpersisted record has no local pointer")

	id := int64(42)
	s.ID = &id
	got, ok := s.LocalPointer()
	require.True(t, ok)
	assert.Equal(t, "local_db://42", got)
}

func TestShouldMarkAsUnplayed(t *testing.T) {
	t.Run("false when currently unwatched", func(t *testing.T) {
		s := &State{Watched: false}
		assert.False(t, s.ShouldMarkAsUnplayed("plex", 100))
	})

	t.Run("false with no recorded metadata for backend", func(t *testing.T) {
		s := &State{Watched: true, Metadata: map[string]BackendMetadata{}}
		assert.False(t, s.ShouldMarkAsUnplayed("plex", 100))
	})

	t.Run("true when backend's last play date precedes horizon", func(t *testing.T) {
		played := int64(50)
		s := &State{
			Watched: true,
			Metadata: map[string]BackendMetadata{
				"plex": {Watched: "1", PlayedAt: &played},
			},
		}
		assert.True(t, s.ShouldMarkAsUnplayed("plex", 100))
	})

	t.Run("false when backend's last play date is after horizon", func(t *testing.T) {
		played := int64(150)
		s := &State{
			Watched: true,
			Metadata: map[string]BackendMetadata{
				"plex": {Watched: "1", PlayedAt: &played},
			},
		}
		assert.False(t, s.ShouldMarkAsUnplayed("plex", 100))
	})
}

func TestNormalizeUnwatched(t *testing.T) {
	played := int64(10)
	s := &State{
		Watched: false,
		Metadata: map[string]BackendMetadata{
			"plex": {Watched: "1", PlayedAt: &played},
		},
	}
	s.NormalizeUnwatched()

	assert.Equal(t, "0", s.Metadata["plex"].Watched)
	assert.Nil(t, s.Metadata["plex"].PlayedAt)
}

func TestCloneIsIndependent(t *testing.T) {
	id := int64(1)
	s := &State{
		ID:       &id,
		Type:     Movie,
		GUIDs:    map[string]string{"tmdb": "1"},
		Metadata: map[string]BackendMetadata{"plex": {ID: "abc"}},
	}

	c := s.Clone()
	c.GUIDs["tmdb"] = "mutated"
	*c.ID = 2

	assert.Equal(t, "1", s.GUIDs["tmdb"])
	assert.Equal(t, int64(1), *s.ID)
}
