package ledger_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/ledger"
	"github.com/tickwise/presenced/internal/ledger/memory"
)

var testDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

func newTestSyncer(t *testing.T, table ledger.Table) *ledger.Syncer {
	t.Helper()
	return ledger.NewSyncer(table, ledger.SyncerConfig{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	}, zerolog.Nop())
}

func cellValue(t *testing.T, table *memory.Table, userID string, day time.Time) int {
	t.Helper()

	rows := table.Snapshot()
	if len(rows) == 0 {
		t.Fatalf("table is empty")
	}

	col := -1
	for i, label := range rows[0] {
		if label == ledger.DayLabel(day) {
			col = i
		}
	}
	if col < 0 {
		t.Fatalf("no column for %s", ledger.DayLabel(day))
	}

	for _, row := range rows[1:] {
		if len(row) > 0 && row[0] == userID {
			if col >= len(row) {
				return 0
			}
			return ledger.ParseMinutes(row[col])
		}
	}
	t.Fatalf("no row for user %s", userID)
	return 0
}

func TestAddMinutesBootstrapsHeaderAndRow(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 5); err != nil {
		t.Fatalf("add minutes: %v", err)
	}

	rows := table.Snapshot()
	wantHeader := []string{"User ID", "Username", ledger.DayLabel(testDay)}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Fatalf("header = %v, want %v", rows[0], wantHeader)
	}
	if got := cellValue(t, table, "u1", testDay); got != 5 {
		t.Fatalf("minutes = %d, want 5", got)
	}
}

func TestAddMinutesIsMonotonic(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	prev := 0
	for _, add := range []int{3, 0, 7, 1} {
		if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, add); err != nil {
			t.Fatalf("add %d minutes: %v", add, err)
		}
		got := cellValue(t, table, "u1", testDay)
		if got < prev {
			t.Fatalf("stored value decreased: %d -> %d", prev, got)
		}
		if got != prev+add {
			t.Fatalf("stored value = %d, want %d", got, prev+add)
		}
		prev = got
	}
}

func TestAddMinutesRejectsNegative(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, -4); err == nil {
		t.Fatal("expected error for negative minutes")
	}
	if rows := table.Snapshot(); len(rows) != 0 {
		t.Fatalf("table should be untouched, got %v", rows)
	}
}

func TestAddMinutesTreatsGarbageAsZero(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 2); err != nil {
		t.Fatalf("add minutes: %v", err)
	}
	// Corrupt the cell, then add again: the garbage reads as zero.
	if err := table.WriteCell(context.Background(), 2, 3, "bogus"); err != nil {
		t.Fatalf("write cell: %v", err)
	}
	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 4); err != nil {
		t.Fatalf("add minutes: %v", err)
	}
	if got := cellValue(t, table, "u1", testDay); got != 4 {
		t.Fatalf("minutes = %d, want 4", got)
	}
}

func TestConcurrentAllocationIsIdempotent(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 5); err != nil {
				t.Errorf("add minutes: %v", err)
			}
		}()
	}
	wg.Wait()

	rows := table.Snapshot()
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 user row, got %d rows", len(rows))
	}
	label := ledger.DayLabel(testDay)
	count := 0
	for _, cell := range rows[0] {
		if cell == label {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one day column, got %d", count)
	}
	if got := cellValue(t, table, "u1", testDay); got != 10 {
		t.Fatalf("combined minutes = %d, want 10", got)
	}
}

func TestConcurrentNewDayAllocatesOneColumn(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	users := []string{"u1", "u2", "u3", "u4"}
	var wg sync.WaitGroup
	for _, id := range users {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := s.AddMinutes(context.Background(), id, "user-"+id, testDay, 1); err != nil {
				t.Errorf("add minutes for %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	rows := table.Snapshot()
	label := ledger.DayLabel(testDay)
	count := 0
	for _, cell := range rows[0] {
		if cell == label {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one day column, got %d (header %v)", count, rows[0])
	}
	if len(rows) != 1+len(users) {
		t.Fatalf("expected %d rows, got %d", 1+len(users), len(rows))
	}
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	table.FailNext(2, &ledger.TransientError{Err: errors.New("connection reset")})
	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 6); err != nil {
		t.Fatalf("expected recovery within retry budget: %v", err)
	}
	if got := cellValue(t, table, "u1", testDay); got != 6 {
		t.Fatalf("minutes = %d, want 6", got)
	}
}

func TestRetryExhaustionLeavesLedgerUnchanged(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 6); err != nil {
		t.Fatalf("seed minutes: %v", err)
	}
	before := table.Snapshot()

	table.FailNext(100, &ledger.TransientError{Err: errors.New("timeout")})
	err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 4)
	if err == nil {
		t.Fatal("expected failure after retry exhaustion")
	}
	table.FailNext(0, nil)

	after := table.Snapshot()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("ledger changed across failed call:\nbefore %v\nafter  %v", before, after)
	}
}

func TestNonTransientFailureIsNotRetried(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	table.FailNext(1, errors.New("permission denied"))
	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 3); err == nil {
		t.Fatal("expected immediate failure")
	}
	// Only one failure was armed; a retry would have consumed it and
	// succeeded, so success here would mean the call was retried.
}

func TestSecondDayAppendsColumn(t *testing.T) {
	table := memory.New()
	s := newTestSyncer(t, table)

	day2 := testDay.AddDate(0, 0, 1)
	if err := s.AddMinutes(context.Background(), "u1", "alice", testDay, 5); err != nil {
		t.Fatalf("day 1: %v", err)
	}
	if err := s.AddMinutes(context.Background(), "u1", "alice", day2, 7); err != nil {
		t.Fatalf("day 2: %v", err)
	}

	rows := table.Snapshot()
	wantHeader := []string{"User ID", "Username", ledger.DayLabel(testDay), ledger.DayLabel(day2)}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Fatalf("header = %v, want %v", rows[0], wantHeader)
	}
	if got := cellValue(t, table, "u1", testDay); got != 5 {
		t.Fatalf("day 1 minutes = %d, want 5", got)
	}
	if got := cellValue(t, table, "u1", day2); got != 7 {
		t.Fatalf("day 2 minutes = %d, want 7", got)
	}
}
