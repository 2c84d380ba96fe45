package roomkey

import (
	"errors"
)

// Separator joins the two participant ids in a room key. User ids are opaque
// identity-provider strings that never contain it.
const Separator = "-"

var (
	// ErrEmptyID is returned when either participant id is empty.
	ErrEmptyID = errors.New("participant id is empty")
	// ErrSameUser is returned when both participant ids are equal.
	// A one-participant room is refused rather than silently created.
	ErrSameUser = errors.New("cannot derive room key for a user with themselves")
)

// Derive maps an unordered pair of user ids to the canonical room key.
// It is a pure function: Derive(a, b) == Derive(b, a) for all a != b,
// so either participant resolves the same room without a registration step.
func Derive(a, b string) (string, error) {
	if a == "" || b == "" {
		return "", ErrEmptyID
	}
	if a == b {
		return "", ErrSameUser
	}
	if a > b {
		a, b = b, a
	}
	return a + Separator + b, nil
}
