package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/ledger"
	"github.com/tickwise/presenced/internal/ledger/memory"
)

var day = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

type fakeSessions map[string]time.Duration

func (f fakeSessions) OpenElapsed(now time.Time) map[string]time.Duration {
	out := make(map[string]time.Duration, len(f))
	for id, d := range f {
		out[id] = d
	}
	return out
}

func (f fakeSessions) OpenSession(userID string, now time.Time) (time.Duration, bool) {
	d, ok := f[userID]
	return d, ok
}

func seedTable(t *testing.T, rows [][]string) *memory.Table {
	t.Helper()
	table := memory.New()
	for _, row := range rows {
		if err := table.AppendRow(context.Background(), row); err != nil {
			t.Fatalf("seed row: %v", err)
		}
	}
	return table
}

func TestUserTotalCombinesLedgerAndOpenSession(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
		{"u1", "alice", "40"},
	})
	r := New(table, fakeSessions{"u1": 25 * time.Minute}, zerolog.Nop())

	total, err := r.UserTotal(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("user total: %v", err)
	}
	if total != 65 {
		t.Fatalf("total = %d, want 65", total)
	}
}

func TestUserTotalUnknownUser(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
	})
	r := New(table, nil, zerolog.Nop())

	total, err := r.UserTotal(context.Background(), "u9", day)
	if err != nil {
		t.Fatalf("user total: %v", err)
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}

func TestTeamReportOrderingAndFiltering(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
		{"u1", "alice", "40"},
		{"u2", "bob", "125"},
		{"u3", "carol", "0"},
		{"u4", "dave", ""},
		{"u5", "erin", "40"},
	})
	r := New(table, nil, zerolog.Nop())

	entries, err := r.TeamReport(context.Background(), day)
	if err != nil {
		t.Fatalf("team report: %v", err)
	}

	want := []struct {
		username string
		minutes  int
	}{
		{"bob", 125},
		{"alice", 40},
		{"erin", 40},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d: %v", len(entries), len(want), entries)
	}
	for i, w := range want {
		if entries[i].Username != w.username || entries[i].Minutes != w.minutes {
			t.Errorf("entry %d = %s/%d, want %s/%d",
				i, entries[i].Username, entries[i].Minutes, w.username, w.minutes)
		}
	}
}

func TestTeamReportIncludesOpenSessions(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
		{"u1", "alice", "40"},
	})
	r := New(table, fakeSessions{"u1": 20 * time.Minute}, zerolog.Nop())

	entries, err := r.TeamReport(context.Background(), day)
	if err != nil {
		t.Fatalf("team report: %v", err)
	}
	if len(entries) != 1 || entries[0].Minutes != 60 {
		t.Fatalf("entries = %v, want alice with 60", entries)
	}
	if entries[0].Formatted() != "1h 0m" {
		t.Fatalf("formatted = %q, want 1h 0m", entries[0].Formatted())
	}
}

func TestRenderNoDayColumn(t *testing.T) {
	r := New(memory.New(), nil, zerolog.Nop())

	text, err := r.Render(context.Background(), day)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if text != NoActivityMessage {
		t.Fatalf("text = %q, want no-activity message", text)
	}
}

func TestRenderReportBlock(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
		{"u1", "alice", "125"},
		{"u2", "bob", "59"},
	})
	r := New(table, nil, zerolog.Nop())

	text, err := r.Render(context.Background(), day)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.HasPrefix(text, "Daily Status Report (2024-03-15)") {
		t.Fatalf("missing header: %q", text)
	}
	if !strings.Contains(text, "alice: 2h 5m") {
		t.Fatalf("missing alice line: %q", text)
	}
	if !strings.Contains(text, "bob: 59m") {
		t.Fatalf("missing bob line: %q", text)
	}
}

func TestUserStatusLine(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
		{"u1", "alice", "125"},
	})
	r := New(table, nil, zerolog.Nop())

	line, err := r.UserStatusLine(context.Background(), "u1", day)
	if err != nil {
		t.Fatalf("status line: %v", err)
	}
	if line != "You've been online for 2h 5m today!" {
		t.Fatalf("line = %q", line)
	}

	line, err = r.UserStatusLine(context.Background(), "u9", day)
	if err != nil {
		t.Fatalf("status line: %v", err)
	}
	if line != "No activity recorded yet!" {
		t.Fatalf("line = %q", line)
	}
}

func TestEmitWritesToSink(t *testing.T) {
	table := seedTable(t, [][]string{
		{"User ID", "Username", ledger.DayLabel(day)},
		{"u1", "alice", "5"},
	})
	r := New(table, nil, zerolog.Nop())

	var out strings.Builder
	if err := r.Emit(context.Background(), day, WriterSink{W: &out}, "test"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if !strings.Contains(out.String(), "alice: 5m") {
		t.Fatalf("sink got %q", out.String())
	}
}

func TestSchedulerNextFiring(t *testing.T) {
	r := New(memory.New(), nil, zerolog.Nop())
	s, err := NewScheduler(r, WriterSink{W: &strings.Builder{}}, "23:55", time.UTC, zerolog.Nop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	next := s.nextFiring(now)
	if !next.Equal(time.Date(2024, 3, 15, 23, 55, 0, 0, time.UTC)) {
		t.Fatalf("next = %v, want today 23:55", next)
	}

	now = time.Date(2024, 3, 15, 23, 56, 0, 0, time.UTC)
	next = s.nextFiring(now)
	if !next.Equal(time.Date(2024, 3, 16, 23, 55, 0, 0, time.UTC)) {
		t.Fatalf("next = %v, want tomorrow 23:55", next)
	}
}

func TestSchedulerRejectsBadTime(t *testing.T) {
	r := New(memory.New(), nil, zerolog.Nop())
	if _, err := NewScheduler(r, LogSink{}, "25:99", time.UTC, zerolog.Nop()); err == nil {
		t.Fatal("expected error for invalid time")
	}
}
