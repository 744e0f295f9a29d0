package presence

import "time"

// Event is a single presence-status transition for one user.
type Event struct {
	UserID   string
	Username string
	Previous Status
	Current  Status
	At       time.Time
}

// Opens reports whether the event crosses from the absent class into the
// present class.
func (e Event) Opens() bool {
	return e.Previous.Absent() && e.Current.Present()
}

// Closes reports whether the event crosses from the present class into the
// absent class.
func (e Event) Closes() bool {
	return e.Previous.Present() && e.Current.Absent()
}
