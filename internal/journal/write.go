package journal

import (
	"context"
	"fmt"

	"github.com/roach88/signalbox/internal/ir"
)

// Outcome is the result of processing one event.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Session is one recorded run of a runtime.
type Session struct {
	ID        string
	InitialDB ir.Value // nil when the store did not hold an ir.Value
	IRVersion string
}

// Entry is one journalled event.
type Entry struct {
	ID        string
	Session   string
	Seq       int64
	Event     ir.Vector
	Outcome   Outcome
	Error     string
	DB        ir.Value // nil when the store did not hold an ir.Value
	Remaining int
}

// NewEntry builds an entry with its content-addressed id.
func NewEntry(session string, seq int64, ev ir.Vector, err error, db any, remaining int) (Entry, error) {
	id, hashErr := ir.EventHash(session, ev, seq)
	if hashErr != nil {
		return Entry{}, fmt.Errorf("new entry: %w", hashErr)
	}
	e := Entry{
		ID:        id,
		Session:   session,
		Seq:       seq,
		Event:     ev,
		Outcome:   OutcomeOK,
		Remaining: remaining,
	}
	if err != nil {
		e.Outcome = OutcomeFailed
		e.Error = err.Error()
	}
	if v, ok := db.(ir.Value); ok {
		e.DB = v
	}
	return e, nil
}

// WriteSession inserts a session. Writing the same id twice is a no-op.
func (j *Journal) WriteSession(ctx context.Context, s Session) error {
	initial, err := marshalOptional(s.InitialDB)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	version := s.IRVersion
	if version == "" {
		version = IRVersion
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, initial_db, ir_version)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, s.ID, initial, version)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteEntry appends an entry. Duplicate ids are ignored so a retried write
// is harmless.
//
// The session must exist (foreign key constraint).
func (j *Journal) WriteEntry(ctx context.Context, e Entry) error {
	eventJSON, err := ir.MarshalCanonical(e.Event)
	if err != nil {
		return fmt.Errorf("write entry: event: %w", err)
	}
	eventID, err := ir.EventID(e.Event)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	dbJSON, err := marshalOptional(e.DB)
	if err != nil {
		return fmt.Errorf("write entry: db: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO events
		(id, session_id, seq, event_id, event, outcome, error, db, remaining)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		e.ID,
		e.Session,
		e.Seq,
		eventID.String(),
		string(eventJSON),
		string(e.Outcome),
		e.Error,
		dbJSON,
		e.Remaining,
	)
	if err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// marshalOptional encodes v canonically, or returns nil for a NULL column.
func marshalOptional(v ir.Value) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
