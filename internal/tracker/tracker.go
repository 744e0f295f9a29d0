// Package tracker turns presence transitions into online sessions and
// periodically checkpoints their elapsed time into the ledger.
//
// A session's accounted interval is always [checkpoint, now): each flush
// commits only the delta since the previous checkpoint and re-anchors the
// checkpoint in the same critical section, so a crash loses at most one
// flush interval and nothing is ever counted twice.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tickwise/presenced/internal/directory"
	"github.com/tickwise/presenced/internal/ledger"
	"github.com/tickwise/presenced/internal/metrics"
	"github.com/tickwise/presenced/internal/presence"
)

// DefaultFlushInterval is the period between checkpoint flushes.
const DefaultFlushInterval = 2 * time.Minute

const closeQueueSize = 256

// session is one open interval of present-class status.
type session struct {
	username   string
	checkpoint time.Time
}

// closeRecord is a finished session's residual minutes, queued for the run
// loop so event handling never blocks on store I/O.
type closeRecord struct {
	userID   string
	username string
	day      time.Time
	minutes  int
}

// Tracker is the presence session tracker and flush scheduler.
type Tracker struct {
	syncer   *ledger.Syncer
	dir      directory.Resolver
	interval time.Duration
	loc      *time.Location
	clock    func() time.Time
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*session

	closes chan closeRecord
}

// Config holds tracker configuration.
type Config struct {
	FlushInterval time.Duration
	Location      *time.Location   // zone used to bucket minutes into days
	Clock         func() time.Time // test hook
}

// New creates a tracker.
func New(syncer *ledger.Syncer, dir directory.Resolver, config Config, logger zerolog.Logger) *Tracker {
	if config.FlushInterval <= 0 {
		config.FlushInterval = DefaultFlushInterval
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}

	return &Tracker{
		syncer:   syncer,
		dir:      dir,
		interval: config.FlushInterval,
		loc:      config.Location,
		clock:    config.Clock,
		logger:   logger.With().Str("component", "session-tracker").Logger(),
		sessions: make(map[string]*session),
		closes:   make(chan closeRecord, closeQueueSize),
	}
}

// HandleEvent applies one presence transition. Only absent/present
// boundaries matter: intra-present changes (online to idle) and
// intra-absent changes are no-ops. Ledger writes for closed sessions are
// handed to the run loop, preserving per-user event order.
func (t *Tracker) HandleEvent(ctx context.Context, ev presence.Event) {
	switch {
	case ev.Opens():
		t.open(ev)
	case ev.Closes():
		if rec, ok := t.close(ev); ok {
			select {
			case t.closes <- rec:
			case <-ctx.Done():
			}
		}
	}
}

func (t *Tracker) open(ev presence.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[ev.UserID]; exists {
		// Duplicate open, keep the original checkpoint.
		t.logger.Debug().Str("user_id", ev.UserID).Msg("Session already open, ignoring duplicate")
		return
	}

	t.sessions[ev.UserID] = &session{
		username:   ev.Username,
		checkpoint: ev.At,
	}
	metrics.SessionsOpened.Inc()
	metrics.SessionsActive.Set(float64(len(t.sessions)))

	t.logger.Info().
		Str("user_id", ev.UserID).
		Str("username", ev.Username).
		Time("at", ev.At).
		Msg("Session opened")
}

func (t *Tracker) close(ev presence.Event) (closeRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.sessions[ev.UserID]
	if !exists {
		return closeRecord{}, false
	}

	delete(t.sessions, ev.UserID)
	metrics.SessionsClosed.Inc()
	metrics.SessionsActive.Set(float64(len(t.sessions)))

	username := ev.Username
	if username == "" {
		username = s.username
	}

	minutes := ledger.MinutesFor(ev.At.Sub(s.checkpoint))
	t.logger.Info().
		Str("user_id", ev.UserID).
		Str("username", username).
		Int("minutes", minutes).
		Msg("Session closed")

	if minutes == 0 {
		return closeRecord{}, false
	}

	return closeRecord{
		userID:   ev.UserID,
		username: username,
		day:      ev.At.In(t.loc),
		minutes:  minutes,
	}, true
}

// Run drives the flush scheduler and commits queued session closes. It
// returns after ctx is canceled, once pending closes and a final flush have
// drained.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.logger.Info().Dur("interval", t.interval).Msg("Flush scheduler started")

	for {
		select {
		case <-ctx.Done():
			t.drain()
			return nil
		case rec := <-t.closes:
			t.commitClose(ctx, rec)
		case now := <-ticker.C:
			t.flush(ctx, now)
		}
	}
}

// drain commits outstanding closes and runs one final flush so shutdown
// loses nothing that was already computed. It uses a fresh context because
// the run context is gone by now.
func (t *Tracker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for {
		select {
		case rec := <-t.closes:
			t.commitClose(ctx, rec)
		default:
			t.flush(ctx, t.clock())
			t.logger.Info().Msg("Flush scheduler drained")
			return
		}
	}
}

func (t *Tracker) commitClose(ctx context.Context, rec closeRecord) {
	if err := t.syncer.AddMinutes(ctx, rec.userID, rec.username, rec.day, rec.minutes); err != nil {
		// Bounded retries are already behind us; the update is dropped.
		t.logger.Warn().
			Err(err).
			Str("user_id", rec.userID).
			Int("minutes", rec.minutes).
			Msg("Dropping close update after retry exhaustion")
		return
	}
	metrics.MinutesRecorded.WithLabelValues("close").Add(float64(rec.minutes))
}

// flush commits every open session's elapsed-since-checkpoint minutes and
// advances the checkpoints to now.
func (t *Tracker) flush(ctx context.Context, now time.Time) {
	type pending struct {
		userID   string
		username string
		minutes  int
	}

	t.mu.Lock()
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	t.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	// Resolve usernames before touching any checkpoint: a user the
	// directory cannot resolve is skipped this tick and stays unflushed.
	names := make(map[string]string, len(ids))
	for _, id := range ids {
		name, err := t.dir.Resolve(ctx, id)
		if err != nil {
			t.logger.Debug().Err(err).Str("user_id", id).Msg("Directory lookup failed, skipping flush")
			metrics.FlushSkipped.WithLabelValues("directory").Inc()
			continue
		}
		names[id] = name
	}

	// Compute deltas and advance checkpoints atomically with respect to
	// session closes, then write outside the lock.
	var updates []pending
	t.mu.Lock()
	for id, name := range names {
		s, exists := t.sessions[id]
		if !exists {
			// Closed since the snapshot; the close accounted for it.
			continue
		}
		minutes := ledger.MinutesFor(now.Sub(s.checkpoint))
		if minutes == 0 {
			continue
		}
		s.checkpoint = now
		updates = append(updates, pending{userID: id, username: name, minutes: minutes})
	}
	t.mu.Unlock()

	day := now.In(t.loc)
	for _, u := range updates {
		if err := t.syncer.AddMinutes(ctx, u.userID, u.username, day, u.minutes); err != nil {
			// The checkpoint already advanced: an attempted flush bounds
			// the loss to this one delta rather than risking double
			// counting on the next tick.
			t.logger.Warn().
				Err(err).
				Str("user_id", u.userID).
				Int("minutes", u.minutes).
				Msg("Dropping flush update after retry exhaustion")
			continue
		}
		metrics.MinutesRecorded.WithLabelValues("flush").Add(float64(u.minutes))
	}

	t.logger.Debug().Int("sessions", len(updates)).Time("at", now).Msg("Flush tick complete")
}

// OpenElapsed returns elapsed-since-checkpoint time for every open session.
func (t *Tracker) OpenElapsed(now time.Time) map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]time.Duration, len(t.sessions))
	for id, s := range t.sessions {
		elapsed := now.Sub(s.checkpoint)
		if elapsed < 0 {
			elapsed = 0
		}
		out[id] = elapsed
	}
	return out
}

// OpenSession returns the elapsed-since-checkpoint time for one user's open
// session, if any.
func (t *Tracker) OpenSession(userID string, now time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.sessions[userID]
	if !exists {
		return 0, false
	}
	elapsed := now.Sub(s.checkpoint)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}
