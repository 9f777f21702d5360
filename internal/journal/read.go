package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/signalbox/internal/ir"
)

// ReadSession returns the session with the given id. Returns sql.ErrNoRows
// if it does not exist.
func (j *Journal) ReadSession(ctx context.Context, id string) (Session, error) {
	var (
		s       Session
		initial sql.NullString
	)
	err := j.db.QueryRowContext(ctx, `
		SELECT id, initial_db, ir_version FROM sessions WHERE id = ?
	`, id).Scan(&s.ID, &initial, &s.IRVersion)
	if err != nil {
		return Session{}, err
	}
	if s.InitialDB, err = unmarshalOptional(initial); err != nil {
		return Session{}, fmt.Errorf("read session %s: initial db: %w", id, err)
	}
	return s, nil
}

// Sessions returns every session id. Session ids are UUIDv7 so binary
// order is creation order.
func (j *Journal) Sessions(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id FROM sessions ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return ids, nil
}

// LatestSession returns the most recent session id, or sql.ErrNoRows.
func (j *Journal) LatestSession(ctx context.Context) (string, error) {
	var id string
	err := j.db.QueryRowContext(ctx, `
		SELECT id FROM sessions ORDER BY id COLLATE BINARY DESC LIMIT 1
	`).Scan(&id)
	return id, err
}

// ReadEntries returns the entries of a session ordered by seq. Returns an
// empty slice, not nil, for a session with no entries.
func (j *Journal) ReadEntries(ctx context.Context, session string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, session_id, seq, event, outcome, error, db, remaining
		FROM events
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, session)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

// CountByEventID returns how many entries of a session have the given
// event id.
func (j *Journal) CountByEventID(ctx context.Context, session string, id ir.Keyword) (int, error) {
	var n int
	err := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM events WHERE session_id = ? AND event_id = ?
	`, session, id.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// LastSeq returns the highest seq of a session, or 0.
func (j *Journal) LastSeq(ctx context.Context, session string) (int64, error) {
	var seq sql.NullInt64
	err := j.db.QueryRowContext(ctx, `
		SELECT MAX(seq) FROM events WHERE session_id = ?
	`, session).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		eventJSON string
		outcome   string
		dbJSON    sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Session, &e.Seq, &eventJSON, &outcome, &e.Error, &dbJSON, &e.Remaining); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.Outcome = Outcome(outcome)

	if err := e.Event.UnmarshalJSON([]byte(eventJSON)); err != nil {
		return Entry{}, fmt.Errorf("entry %d: event: %w", e.Seq, err)
	}
	db, err := unmarshalOptional(dbJSON)
	if err != nil {
		return Entry{}, fmt.Errorf("entry %d: db: %w", e.Seq, err)
	}
	e.DB = db
	return e, nil
}

func unmarshalOptional(s sql.NullString) (ir.Value, error) {
	if !s.Valid {
		return nil, nil
	}
	return ir.UnmarshalCanonical([]byte(s.String))
}
