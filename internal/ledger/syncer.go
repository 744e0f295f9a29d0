package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/metrics"
)

const (
	// DefaultRetryAttempts is the total number of tries per upsert.
	DefaultRetryAttempts = 3

	// DefaultRetryDelay is the wait between tries.
	DefaultRetryDelay = 2 * time.Second
)

// Syncer performs idempotent minute upserts against a Table. The upsert is
// a non-atomic read-modify-write, so concurrent calls for the same user and
// day would race and lose updates; the Syncer serializes them with a keyed
// mutex. Transient store failures are retried a bounded number of times
// with a context-aware delay.
type Syncer struct {
	table    Table
	attempts int
	delay    time.Duration
	logger   zerolog.Logger

	mu   sync.Mutex
	keys map[string]*sync.Mutex

	// colMu serializes day-column allocation across all users, so two
	// first-flushes of a new day cannot both append the header cell.
	colMu sync.Mutex
}

// SyncerConfig holds retry policy overrides.
type SyncerConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewSyncer creates a Syncer over the given table.
func NewSyncer(table Table, config SyncerConfig, logger zerolog.Logger) *Syncer {
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = DefaultRetryAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	return &Syncer{
		table:    table,
		attempts: config.RetryAttempts,
		delay:    config.RetryDelay,
		logger:   logger.With().Str("component", "ledger-syncer").Logger(),
		keys:     make(map[string]*sync.Mutex),
	}
}

// AddMinutes adds minutes to the user's cell for the given day, creating
// the day column and the user row on first use. Re-invoking with the same
// arguments adds again; callers own at-most-once dispatch. A failed call
// leaves the stored value unchanged.
func (s *Syncer) AddMinutes(ctx context.Context, userID, username string, day time.Time, minutes int) error {
	if minutes < 0 {
		return fmt.Errorf("negative minutes for %s: %d", userID, minutes)
	}
	if minutes == 0 {
		return nil
	}

	key := userID + "|" + day.Format(dayLayout)
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		err := s.upsert(ctx, userID, username, day, minutes)
		if err == nil {
			if attempt > 1 {
				s.logger.Info().
					Str("user_id", userID).
					Int("attempt", attempt).
					Msg("Upsert succeeded after retry")
			}
			metrics.LedgerUpserts.WithLabelValues("success").Inc()
			return nil
		}

		lastErr = err
		if !IsTransient(err) {
			break
		}
		if attempt == s.attempts {
			break
		}

		s.logger.Warn().
			Err(err).
			Str("user_id", userID).
			Int("attempt", attempt).
			Dur("retry_in", s.delay).
			Msg("Transient ledger failure, retrying")
		metrics.LedgerRetries.Inc()

		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			metrics.LedgerUpserts.WithLabelValues("failure").Inc()
			return ctx.Err()
		}
	}

	metrics.LedgerUpserts.WithLabelValues("failure").Inc()
	return fmt.Errorf("upsert minutes for %s on %s: %w", userID, day.Format(dayLayout), lastErr)
}

// upsert is one attempt of the read-modify-write sequence.
func (s *Syncer) upsert(ctx context.Context, userID, username string, day time.Time, minutes int) error {
	col, err := s.ensureDayColumn(ctx, day)
	if err != nil {
		return err
	}

	row, err := s.table.FindRow(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return s.appendUserRow(ctx, userID, username, col, minutes)
	}
	if err != nil {
		return fmt.Errorf("find row: %w", err)
	}

	raw, err := s.table.ReadCell(ctx, row, col)
	if err != nil {
		return fmt.Errorf("read cell: %w", err)
	}

	total := ParseMinutes(raw) + minutes
	if err := s.table.WriteCell(ctx, row, col, strconv.Itoa(total)); err != nil {
		return fmt.Errorf("write cell: %w", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("username", username).
		Int("added", minutes).
		Int("total", total).
		Msg("Updated ledger minutes")

	return nil
}

// ensureDayColumn returns the column index for the day's label, appending
// the header cell (and bootstrapping the header row on an empty table) when
// absent. The re-read under colMu keeps allocation idempotent when several
// users hit a fresh day at once.
func (s *Syncer) ensureDayColumn(ctx context.Context, day time.Time) (int, error) {
	label := DayLabel(day)

	header, err := s.table.Header(ctx)
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if col := columnOf(header, label); col > 0 {
		return col, nil
	}

	s.colMu.Lock()
	defer s.colMu.Unlock()

	header, err = s.table.Header(ctx)
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	if col := columnOf(header, label); col > 0 {
		return col, nil
	}

	if len(header) == 0 {
		if err := s.table.AppendRow(ctx, HeaderBase); err != nil {
			return 0, fmt.Errorf("bootstrap header: %w", err)
		}
		s.logger.Info().Msg("Initialized empty ledger header")
	}

	col, err := s.table.AppendColumn(ctx, label)
	if err != nil {
		return 0, fmt.Errorf("append day column: %w", err)
	}

	s.logger.Info().Str("label", label).Int("column", col).Msg("Created new day column")
	return col, nil
}

// appendUserRow creates a first-ever row for the user: ID, username, blanks
// for all days before this one, then the minutes.
func (s *Syncer) appendUserRow(ctx context.Context, userID, username string, col, minutes int) error {
	cells := make([]string, col)
	cells[ColUserID-1] = userID
	cells[ColUsername-1] = username
	cells[col-1] = strconv.Itoa(minutes)

	if err := s.table.AppendRow(ctx, cells); err != nil {
		return fmt.Errorf("append user row: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("username", username).
		Int("minutes", minutes).
		Msg("Created new ledger row")

	return nil
}

func (s *Syncer) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.keys[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keys[key] = lock
	}
	return lock
}

func columnOf(header []string, label string) int {
	for i, cell := range header {
		if cell == label {
			return i + 1
		}
	}
	return 0
}
