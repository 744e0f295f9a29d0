package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tickwise/presenced/internal/config"
	"github.com/tickwise/presenced/internal/directory"
	"github.com/tickwise/presenced/internal/ledger"
	ledgermemory "github.com/tickwise/presenced/internal/ledger/memory"
	ledgerredis "github.com/tickwise/presenced/internal/ledger/redis"
	ledgersheets "github.com/tickwise/presenced/internal/ledger/sheets"
	"github.com/tickwise/presenced/internal/metrics"
	"github.com/tickwise/presenced/internal/redisconn"
	"github.com/tickwise/presenced/internal/report"
	"github.com/tickwise/presenced/internal/source"
	"github.com/tickwise/presenced/internal/systemd"
	"github.com/tickwise/presenced/internal/tracker"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the presenced server",
	Long:  `Start the tracker: consume presence events, flush sessions to the ledger on a schedule, and emit the daily report.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting presenced")

	loc, err := loadLocation(cfg.Report.Timezone)
	if err != nil {
		return err
	}

	// The redis client backs the event source, and optionally the ledger
	// and the report sink.
	client, err := redisconn.Open(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close Redis client")
		}
	}()

	table, err := openTable(cmd.Context(), cfg, client)
	if err != nil {
		return fmt.Errorf("failed to open ledger backend: %w", err)
	}

	logger.Info().Str("backend", cfg.Ledger.Backend).Msg("Ledger initialized")

	syncer := ledger.NewSyncer(table, ledger.SyncerConfig{
		RetryAttempts: cfg.Ledger.RetryAttempts,
		RetryDelay:    parseDuration(cfg.Ledger.RetryDelay, ledger.DefaultRetryDelay),
	}, logger)

	resolver := buildResolver(cfg.Directory)

	trk := tracker.New(syncer, resolver, tracker.Config{
		FlushInterval: parseDuration(cfg.Tracker.FlushInterval, tracker.DefaultFlushInterval),
		Location:      loc,
	}, logger)

	reporter := report.New(table, trk, logger)

	var sink report.Sink
	switch cfg.Report.Sink {
	case "redis":
		sink = report.RedisSink{Client: client, Channel: cfg.Report.Channel}
	default:
		sink = report.LogSink{Logger: logger}
	}

	scheduler, err := report.NewScheduler(reporter, sink, cfg.Report.Time, loc, logger)
	if err != nil {
		return fmt.Errorf("failed to create report scheduler: %w", err)
	}

	src := source.NewRedis(client, cfg.Source.Channel, trk, logger)

	// Metrics server, optionally on a systemd-activated socket.
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := trk.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Tracker stopped with error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("Report scheduler stopped with error")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Presence source stopped with error")
			stop()
		}
	}()

	systemd.NotifyReady()
	logger.Info().Msg("presenced started")

	<-ctx.Done()
	logger.Info().Msg("Shutting down")
	systemd.NotifyStopping()

	// Let the loops drain (pending ledger writes included) before closing
	// anything they depend on.
	wg.Wait()

	if err := metricsServer.Close(); err != nil {
		logger.Error().Err(err).Msg("Failed to close metrics server")
	}
	if closer, ok := table.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close ledger backend")
		}
	}

	logger.Info().Msg("Shutdown complete")
	return nil
}

// openTable builds the configured ledger backend. The redis backend shares
// the server's client; sheets and memory stand alone.
func openTable(ctx context.Context, cfg *config.Config, client *redis.Client) (ledger.Table, error) {
	switch cfg.Ledger.Backend {
	case "memory":
		return ledgermemory.New(), nil
	case "redis":
		return ledgerredis.NewWithClient(client), nil
	case "sheets":
		return ledgersheets.Open(ctx, cfg.Sheets)
	default:
		return nil, fmt.Errorf("unknown ledger backend: %q", cfg.Ledger.Backend)
	}
}

func buildResolver(cfg config.DirectoryConfig) directory.Resolver {
	var resolver directory.Resolver = directory.Static(cfg.Users)
	if cfg.FallbackToID {
		resolver = directory.Fallback{Primary: resolver}
	}
	return directory.NewCached(resolver, cfg.CacheSize, parseDuration(cfg.CacheTTL, 10*time.Minute))
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}
	return loc, nil
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
