// Package report reads the ledger back out: per-user totals for the query
// surface and the once-a-day team report.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/ledger"
	"github.com/tickwise/presenced/internal/metrics"
)

// NoActivityMessage is emitted when the ledger has no column for the day.
const NoActivityMessage = "No activity recorded today!"

// Sessions exposes the still-open sessions whose elapsed time is not yet in
// the ledger. A nil Sessions means ledger values only.
type Sessions interface {
	OpenElapsed(now time.Time) map[string]time.Duration
	OpenSession(userID string, now time.Time) (time.Duration, bool)
}

// Entry is one user's line in a team report.
type Entry struct {
	UserID   string
	Username string
	Minutes  int
}

// Formatted renders the entry's total as "<H>h <M>m".
func (e Entry) Formatted() string {
	return ledger.FormatMinutes(e.Minutes)
}

// Reporter aggregates ledger rows with open-session time.
type Reporter struct {
	table    ledger.Table
	sessions Sessions
	clock    func() time.Time
	logger   zerolog.Logger
}

// New creates a reporter. sessions may be nil (CLI use, where no tracker is
// running in-process).
func New(table ledger.Table, sessions Sessions, logger zerolog.Logger) *Reporter {
	return &Reporter{
		table:    table,
		sessions: sessions,
		clock:    time.Now,
		logger:   logger.With().Str("component", "reporter").Logger(),
	}
}

// UserTotal returns the user's minutes for the day: the ledger value plus
// any open-session elapsed time.
func (r *Reporter) UserTotal(ctx context.Context, userID string, day time.Time) (int, error) {
	rows, err := r.table.Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("read ledger: %w", err)
	}

	total := 0
	if col := dayColumn(rows, day); col > 0 {
		for _, row := range rows[1:] {
			if len(row) >= ledger.ColUserID && row[ledger.ColUserID-1] == userID {
				if col <= len(row) {
					total = ledger.ParseMinutes(row[col-1])
				}
				break
			}
		}
	}

	if r.sessions != nil {
		if elapsed, ok := r.sessions.OpenSession(userID, r.clock()); ok {
			total += int(elapsed.Minutes())
		}
	}
	return total, nil
}

// TeamReport returns every user with a nonzero total for the day, ordered
// by minutes descending and username ascending. A nil slice means no day
// column exists yet, as opposed to a day with no nonzero totals.
func (r *Reporter) TeamReport(ctx context.Context, day time.Time) ([]Entry, error) {
	rows, err := r.table.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	col := dayColumn(rows, day)
	if col == 0 {
		return nil, nil
	}

	var open map[string]time.Duration
	if r.sessions != nil {
		open = r.sessions.OpenElapsed(r.clock())
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows[1:] {
		if len(row) < ledger.ColUsername {
			continue
		}
		userID := row[ledger.ColUserID-1]
		username := row[ledger.ColUsername-1]

		minutes := 0
		if col <= len(row) {
			minutes = ledger.ParseMinutes(row[col-1])
		}
		if elapsed, ok := open[userID]; ok {
			minutes += int(elapsed.Minutes())
		}
		if minutes == 0 {
			continue
		}
		entries = append(entries, Entry{UserID: userID, Username: username, Minutes: minutes})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Minutes != entries[j].Minutes {
			return entries[i].Minutes > entries[j].Minutes
		}
		return entries[i].Username < entries[j].Username
	})
	return entries, nil
}

// Render produces the daily report text block for the day.
func (r *Reporter) Render(ctx context.Context, day time.Time) (string, error) {
	entries, err := r.TeamReport(ctx, day)
	if err != nil {
		return "", err
	}
	if entries == nil {
		return NoActivityMessage, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Daily Status Report (%s)\n\n", day.Format("2006-01-02"))
	for _, e := range entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Username, e.Formatted())
	}
	return b.String(), nil
}

// UserStatusLine produces the single-user status text for the day.
func (r *Reporter) UserStatusLine(ctx context.Context, userID string, day time.Time) (string, error) {
	total, err := r.UserTotal(ctx, userID, day)
	if err != nil {
		return "", err
	}
	if total == 0 {
		return "No activity recorded yet!", nil
	}
	return fmt.Sprintf("You've been online for %s today!", ledger.FormatMinutes(total)), nil
}

// Emit renders the day's report and pushes it to the sink.
func (r *Reporter) Emit(ctx context.Context, day time.Time, sink Sink, trigger string) error {
	text, err := r.Render(ctx, day)
	if err != nil {
		return err
	}
	if err := sink.Emit(ctx, text); err != nil {
		return fmt.Errorf("emit report: %w", err)
	}
	metrics.ReportsGenerated.WithLabelValues(trigger).Inc()
	return nil
}

func dayColumn(rows [][]string, day time.Time) int {
	if len(rows) == 0 {
		return 0
	}
	label := ledger.DayLabel(day)
	for i, cell := range rows[0] {
		if cell == label {
			return i + 1
		}
	}
	return 0
}
