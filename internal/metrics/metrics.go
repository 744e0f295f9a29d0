package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "presenced_sessions_active",
			Help: "Number of currently open presence sessions",
		},
	)

	SessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_sessions_opened_total",
			Help: "Total presence sessions opened",
		},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_sessions_closed_total",
			Help: "Total presence sessions closed",
		},
	)

	// Ledger metrics
	MinutesRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presenced_minutes_recorded_total",
			Help: "Total online minutes written to the ledger",
		},
		[]string{"reason"},
	)

	LedgerUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presenced_ledger_upserts_total",
			Help: "Ledger upsert operations by outcome",
		},
		[]string{"outcome"},
	)

	LedgerRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "presenced_ledger_retries_total",
			Help: "Ledger upsert attempts retried after a transient failure",
		},
	)

	// Flush metrics
	FlushSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presenced_flush_skipped_total",
			Help: "Per-user flushes skipped, by reason",
		},
		[]string{"reason"},
	)

	// Report metrics
	ReportsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presenced_reports_generated_total",
			Help: "Reports generated, by trigger",
		},
		[]string{"trigger"},
	)

	// Event source metrics
	EventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presenced_events_received_total",
			Help: "Presence events received from the source, by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsActive,
		SessionsOpened,
		SessionsClosed,
		MinutesRecorded,
		LedgerUpserts,
		LedgerRetries,
		FlushSkipped,
		ReportsGenerated,
		EventsReceived,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener, typically from systemd socket
// activation.
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start begins serving metrics. It blocks until the server stops.
func (s *Server) Start() error {
	if s.listener != nil {
		s.logger.Info().Str("addr", s.listener.Addr().String()).Msg("Starting metrics server on activated socket")
		return s.server.Serve(s.listener)
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	return s.server.ListenAndServe()
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.server.Close()
}
