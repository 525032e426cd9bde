package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/kasuboski/watchstate/internal/state"
)

const insertSQL = `INSERT INTO "state" (type, watched, updated, via, title, year, season, episode, guids, parent, metadata, extra)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateSQL = `UPDATE "state" SET type=?, watched=?, updated=?, via=?, title=?, year=?, season=?, episode=?, guids=?, parent=?, metadata=?, extra=?
WHERE id=?`

// Insert persists s as a new row. s.ID must be nil.
func (s *Storage) Insert(ctx context.Context, e *state.State) error {
	if e.ID != nil {
		return ErrAlreadyPersisted
	}

	e.NormalizeUnwatched()

	args, err := insertArgs(e)
	if err != nil {
		return err
	}

	res, err := s.execPrepared(ctx, insertSQL, args...)
	if err != nil {
		return fmt.Errorf("storage: insert: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	e.ID = &id
	return nil
}

// Update persists changes to an existing row. s.ID must be set.
func (s *Storage) Update(ctx context.Context, e *state.State) error {
	if e.ID == nil {
		return ErrNoPrimaryKey
	}

	e.NormalizeUnwatched()

	args, err := insertArgs(e)
	if err != nil {
		return err
	}
	args = append(args, *e.ID)

	if _, err := s.execPrepared(ctx, updateSQL, args...); err != nil {
		return fmt.Errorf("storage: update: %w", err)
	}

	return nil
}

func insertArgs(e *state.State) ([]any, error) {
	guidsRaw, err := marshalStringMap(e.GUIDs)
	if err != nil {
		return nil, err
	}
	parentRaw, err := marshalStringMap(e.Parent)
	if err != nil {
		return nil, err
	}
	metadataRaw, err := marshalMetadata(e.Metadata)
	if err != nil {
		return nil, err
	}
	extraRaw, err := marshalStringMap(e.Extra)
	if err != nil {
		return nil, err
	}

	return []any{
		string(e.Type), boolToInt(e.Watched), e.Updated, e.Via, e.Title, e.Year,
		e.Season, e.Episode, string(guidsRaw), string(parentRaw), string(metadataRaw), string(extraRaw),
	}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Get resolves s by primary key if set, else by findByExternalId.
func (s *Storage) Get(ctx context.Context, e *state.State) (*state.State, error) {
	if e.ID != nil {
		return s.getByID(ctx, *e.ID)
	}
	return s.FindByExternalID(ctx, e)
}

func (s *Storage) getByID(ctx context.Context, id int64) (*state.State, error) {
	quoted := `"state"`
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? LIMIT 1`, selectColumns, quoted)

	row := s.execer(ctx).QueryRowContext(ctx, query, id)
	got, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return got, nil
}

// FindByExternalID implements spec.md §4.1's findByExternalId: a type
// filter, optional season/episode/parent filter for episodes, and an
// OR-disjunction over each non-empty GUID plus the backend-specific
// metadata[via].id. Returns ErrNotFound when nothing matches.
func (s *Storage) FindByExternalID(ctx context.Context, e *state.State) (*state.State, error) {
	and := []string{"type = ?"}
	args := []any{string(e.Type)}

	if e.Type == state.Episode {
		if e.Season != nil {
			and = append(and, "season = ?")
			args = append(args, *e.Season)
		}
		if e.Episode != nil {
			and = append(and, "episode = ?")
			args = append(args, *e.Episode)
		}
		for ns, id := range e.Parent {
			if !identifierRE.MatchString(ns) {
				continue
			}
			and = append(and, fmt.Sprintf(`JSON_EXTRACT(parent,'$.%s') = ?`, ns))
			args = append(args, id)
		}
	}

	var or []string
	for ns, id := range e.GUIDs {
		if id == "" || !identifierRE.MatchString(ns) {
			continue
		}
		or = append(or, fmt.Sprintf(`JSON_EXTRACT(guids,'$.%s') = ?`, ns))
		args = append(args, id)
	}

	if e.Via != "" && identifierRE.MatchString(e.Via) {
		if meta, ok := e.Metadata[e.Via]; ok && meta.ID != "" {
			or = append(or, fmt.Sprintf(`JSON_EXTRACT(metadata,'$.%s.id') = ?`, e.Via))
			args = append(args, meta.ID)
		}
	}

	if len(or) == 0 {
		return nil, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM "state" WHERE %s AND (%s) LIMIT 1`,
		selectColumns, strings.Join(and, " AND "), strings.Join(or, " OR "))

	row := s.execer(ctx).QueryRowContext(ctx, query, args...)
	got, err := scanState(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return got, nil
}

// GetAll enumerates every row, or only those changed after since when
// since is non-nil.
func (s *Storage) GetAll(ctx context.Context, since *int64) ([]*state.State, error) {
	query := fmt.Sprintf(`SELECT %s FROM "state"`, selectColumns)
	args := []any{}
	if since != nil {
		query += " WHERE updated > ?"
		args = append(args, *since)
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*state.State
	for rows.Next() {
		got, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, got)
	}

	return out, rows.Err()
}

// Remove deletes e by ID, resolving it via Get first if unset.
func (s *Storage) Remove(ctx context.Context, e *state.State) error {
	id := e.ID
	if id == nil {
		found, err := s.FindByExternalID(ctx, e)
		if err != nil {
			return err
		}
		id = found.ID
	}

	_, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM "state" WHERE id = ?`, *id)
	return err
}
