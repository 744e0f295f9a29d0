package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler fires the daily report at a fixed time of day.
type Scheduler struct {
	reporter *Reporter
	sink     Sink
	at       time.Time // only hour and minute are used
	loc      *time.Location
	logger   zerolog.Logger
}

// NewScheduler creates a daily report scheduler. at is "HH:MM" in the given
// location.
func NewScheduler(reporter *Reporter, sink Sink, at string, loc *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		return nil, fmt.Errorf("invalid report time %q: %w", at, err)
	}
	if loc == nil {
		loc = time.Local
	}

	return &Scheduler{
		reporter: reporter,
		sink:     sink,
		at:       parsed,
		loc:      loc,
		logger:   logger.With().Str("component", "report-scheduler").Logger(),
	}, nil
}

// Run fires the report at the configured time each day until ctx is
// canceled. A failed report is logged and does not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.nextFiring(time.Now().In(s.loc))

		s.logger.Info().
			Time("next_report", next).
			Dur("wait", time.Until(next)).
			Msg("Scheduled next daily report")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			if err := s.reporter.Emit(ctx, next, s.sink, "daily"); err != nil {
				s.logger.Error().Err(err).Msg("Daily report failed")
			}
		}
	}
}

// nextFiring returns the next occurrence of the configured time of day.
func (s *Scheduler) nextFiring(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		s.at.Hour(), s.at.Minute(), 0, 0,
		s.loc,
	)
	if !now.Before(today) {
		return today.AddDate(0, 0, 1)
	}
	return today
}
