package ledger

import (
	"testing"
	"time"
)

func TestDayLabel(t *testing.T) {
	day := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)
	if got := DayLabel(day); got != "Total Minutes on 2024-03-15" {
		t.Fatalf("DayLabel = %q", got)
	}

	parsed, ok := ParseDayLabel("Total Minutes on 2024-03-15")
	if !ok {
		t.Fatal("ParseDayLabel failed")
	}
	if !parsed.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("parsed day = %v", parsed)
	}

	for _, label := range []string{"User ID", "Username", "Total Minutes on yesterday", ""} {
		if _, ok := ParseDayLabel(label); ok {
			t.Errorf("ParseDayLabel(%q) should fail", label)
		}
	}
}

func TestMinutesFor(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		want    int
	}{
		{0, 0},
		{-time.Minute, 0},
		{10 * time.Second, 1},  // minimum-one-minute rule
		{59 * time.Second, 1},
		{90 * time.Second, 2},  // round half up
		{149 * time.Second, 2},
		{150 * time.Second, 3}, // 2.5 minutes
		{5 * time.Minute, 5},
		{12 * time.Minute, 12},
	}

	for _, c := range cases {
		if got := MinutesFor(c.elapsed); got != c.want {
			t.Errorf("MinutesFor(%v) = %d, want %d", c.elapsed, got, c.want)
		}
	}
}

func TestParseMinutes(t *testing.T) {
	cases := []struct {
		cell string
		want int
	}{
		{"", 0},
		{"  ", 0},
		{"0", 0},
		{"42", 42},
		{" 42 ", 42},
		{"-3", 0},
		{"12.5", 0},
		{"garbage", 0},
	}

	for _, c := range cases {
		if got := ParseMinutes(c.cell); got != c.want {
			t.Errorf("ParseMinutes(%q) = %d, want %d", c.cell, got, c.want)
		}
	}
}

func TestFormatMinutes(t *testing.T) {
	cases := []struct {
		minutes int
		want    string
	}{
		{0, "0m"},
		{59, "59m"},
		{60, "1h 0m"},
		{125, "2h 5m"},
		{600, "10h 0m"},
		{-5, "0m"},
	}

	for _, c := range cases {
		if got := FormatMinutes(c.minutes); got != c.want {
			t.Errorf("FormatMinutes(%d) = %q, want %q", c.minutes, got, c.want)
		}
	}
}
