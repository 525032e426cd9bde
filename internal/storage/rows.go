package storage

import (
	"database/sql"

	"github.com/kasuboski/watchstate/internal/state"
)

const selectColumns = `id, type, watched, updated, via, title, year, season, episode, guids, parent, metadata, extra`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanState(row scanner) (*state.State, error) {
	var (
		id                          int64
		typ                         string
		watchedInt                  int
		updated                     int64
		via, title                  sql.NullString
		year, season, episode       sql.NullInt64
		guidsRaw, parentRaw         []byte
		metadataRaw, extraRaw       []byte
	)

	err := row.Scan(&id, &typ, &watchedInt, &updated, &via, &title, &year, &season, &episode,
		&guidsRaw, &parentRaw, &metadataRaw, &extraRaw)
	if err != nil {
		return nil, err
	}

	guids, err := unmarshalStringMap(guidsRaw)
	if err != nil {
		return nil, err
	}
	parent, err := unmarshalStringMap(parentRaw)
	if err != nil {
		return nil, err
	}
	metadata, err := unmarshalMetadata(metadataRaw)
	if err != nil {
		return nil, err
	}
	extra, err := unmarshalStringMap(extraRaw)
	if err != nil {
		return nil, err
	}

	s := &state.State{
		ID:       &id,
		Type:     state.MediaType(typ),
		Watched:  watchedInt != 0,
		Updated:  updated,
		Via:      via.String,
		Title:    title.String,
		GUIDs:    guids,
		Parent:   parent,
		Metadata: metadata,
		Extra:    extra,
	}

	if year.Valid {
		s.Year = int(year.Int64)
	}
	if season.Valid {
		v := int(season.Int64)
		s.Season = &v
	}
	if episode.Valid {
		v := int(episode.Int64)
		s.Episode = &v
	}

	return s, nil
}
