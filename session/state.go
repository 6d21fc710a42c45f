package session

import (
	"github.com/tractionboard/traction-go/users"
)

// State is the observable session state consumed by the rest of the
// application. User is nil until a login or hydration succeeds; Error holds
// the user-visible message of the last failed credential operation.
type State struct {
	User      *users.User
	IsLoading bool
	Error     string
}

// Authenticated reports whether a user is hydrated.
func (s State) Authenticated() bool {
	return s.User != nil
}
