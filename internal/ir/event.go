package ir

import "errors"

var (
	// ErrEmptyEvent is returned for an event vector with no elements.
	ErrEmptyEvent = errors.New("event must be a non-empty vector")

	// ErrEventID is returned when the first element is not a keyword.
	ErrEventID = errors.New("event id must be a keyword")
)

// EventID returns the id of an event or query vector: its first element,
// which must be a Keyword.
func EventID(v Vector) (Keyword, error) {
	if len(v) == 0 {
		return "", ErrEmptyEvent
	}
	id, ok := v[0].(Keyword)
	if !ok || id == "" {
		return "", ErrEventID
	}
	return id, nil
}

// Args returns the elements after the id.
func Args(v Vector) Vector {
	if len(v) <= 1 {
		return nil
	}
	return v[1:]
}
