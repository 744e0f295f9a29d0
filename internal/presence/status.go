package presence

import "strings"

// Status is a user's reported availability state. External sources report
// statuses as free-form strings; Classify translates them into this closed
// set at the boundary so the rest of the system never sees raw strings.
type Status int

const (
	StatusOffline Status = iota
	StatusInvisible
	StatusOnline
	StatusIdle
	StatusDoNotDisturb
	// StatusOtherPresent covers any reported value we do not recognize.
	// Unknown statuses count as present: a user reporting anything at all
	// is not offline.
	StatusOtherPresent
)

// Classify translates a raw status string from an event source.
func Classify(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "offline", "":
		return StatusOffline
	case "invisible":
		return StatusInvisible
	case "online":
		return StatusOnline
	case "idle", "away":
		return StatusIdle
	case "dnd", "do-not-disturb", "do_not_disturb", "busy":
		return StatusDoNotDisturb
	default:
		return StatusOtherPresent
	}
}

// Absent reports whether the status belongs to the absent class. Only
// absent/present boundaries open or close sessions; transitions within the
// present class (online to idle, say) are not session boundaries.
func (s Status) Absent() bool {
	return s == StatusOffline || s == StatusInvisible
}

// Present is the complement of Absent.
func (s Status) Present() bool {
	return !s.Absent()
}

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusInvisible:
		return "invisible"
	case StatusOnline:
		return "online"
	case StatusIdle:
		return "idle"
	case StatusDoNotDisturb:
		return "dnd"
	case StatusOtherPresent:
		return "other"
	default:
		return "unknown"
	}
}
