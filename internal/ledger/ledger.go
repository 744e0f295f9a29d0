package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a row or cell is missing from the table.
var ErrNotFound = errors.New("ledger: not found")

// TransientError wraps a store failure that is worth retrying, such as a
// network error or timeout. Anything else fails the operation immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Transient() bool { return true }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return false
}

// Table is a header-keyed tabular store. Row 1 is the header; rows 2 and up
// hold one user each. Rows and columns are 1-based. Numeric cells are
// decimal-integer strings, blank means zero. Implementations do not need to
// be safe for concurrent writers to the same row; the Syncer serializes
// those.
type Table interface {
	// Header returns the header row. An empty (uninitialized) table
	// returns an empty slice, not an error.
	Header(ctx context.Context) ([]string, error)

	// AppendColumn adds a header cell after the last existing column and
	// returns the new column index.
	AppendColumn(ctx context.Context, label string) (int, error)

	// FindRow returns the index of the row whose first cell equals userID,
	// or ErrNotFound.
	FindRow(ctx context.Context, userID string) (int, error)

	// ReadCell returns the cell value at (row, col). Cells past the end of
	// a row read as blank.
	ReadCell(ctx context.Context, row, col int) (string, error)

	// WriteCell sets the cell value at (row, col).
	WriteCell(ctx context.Context, row, col int, value string) error

	// AppendRow adds a row after the last existing row.
	AppendRow(ctx context.Context, cells []string) error

	// Rows returns all rows including the header, each padded or truncated
	// as stored.
	Rows(ctx context.Context) ([][]string, error)
}

const (
	// Fixed leading columns of every ledger row.
	ColUserID   = 1
	ColUsername = 2

	dayLabelPrefix = "Total Minutes on "
	dayLayout      = "2006-01-02"
)

// HeaderBase is the header of a freshly initialized table, before any day
// column exists.
var HeaderBase = []string{"User ID", "Username"}

// DayLabel returns the header label of the column accumulating minutes for
// the given calendar day.
func DayLabel(day time.Time) string {
	return dayLabelPrefix + day.Format(dayLayout)
}

// ParseDayLabel extracts the calendar day from a header label, reporting
// false for the fixed leading columns or anything unrecognized.
func ParseDayLabel(label string) (time.Time, bool) {
	rest, ok := strings.CutPrefix(label, dayLabelPrefix)
	if !ok {
		return time.Time{}, false
	}
	day, err := time.Parse(dayLayout, rest)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// MinutesFor converts an elapsed duration into the integer minutes to
// store: round half up, never less than one for a positive duration. This
// is the single rounding policy for both session close and periodic flush.
func MinutesFor(elapsed time.Duration) int {
	if elapsed <= 0 {
		return 0
	}
	m := int(math.Round(elapsed.Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}

// ParseMinutes reads a stored cell value. Blank or unparseable cells count
// as zero; the ledger never trusts garbage to mean anything else.
func ParseMinutes(cell string) int {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return 0
	}
	n, err := strconv.Atoi(cell)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// FormatMinutes renders a minute total as "<H>h <M>m", omitting the hour
// part when it is zero.
func FormatMinutes(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	hours := minutes / 60
	rem := minutes % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, rem)
	}
	return fmt.Sprintf("%dm", rem)
}
