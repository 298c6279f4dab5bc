package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"promptd/internal/admission"
	"promptd/internal/common/fsutil"
	"promptd/internal/config"
	"promptd/internal/dispatch"
	"promptd/internal/httpapi"
	"promptd/internal/inference"
	"promptd/internal/scheduler"
	"promptd/internal/stats"
	"promptd/internal/stats/sqlite"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		cfgPath string
		cfg     config.Config
	)

	root := &cobra.Command{
		Use:           "promptd",
		Short:         "Priority-aware prompt admission and dispatch daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgPath != "" {
				fileCfg, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = mergeConfig(fileCfg, cfg)
			}
			applyDefaults(&cfg)
			return run(cfg)
		},
	}

	fl := root.Flags()
	fl.StringVar(&cfgPath, "config", envStr("PROMPTD_CONFIG", ""), "Path to a .yaml/.json/.toml config file")
	fl.StringVar(&cfg.Addr, "addr", envStr("PROMPTD_ADDR", ""), "HTTP listen address, e.g. :8080")
	fl.StringVar(&cfg.Endpoint, "endpoint", envStr("PROMPTD_ENDPOINT", ""), "Base URL of the OpenAI-compatible inference endpoint")
	fl.StringVar(&cfg.APIKey, "api-key", envStr("PROMPTD_API_KEY", ""), "Bearer token for the inference endpoint")
	fl.StringVar(&cfg.Model, "model", envStr("PROMPTD_MODEL", ""), "Model/deployment name sent with each call")
	fl.IntVar(&cfg.MaxConcurrent, "max-concurrent", envInt("PROMPTD_MAX_CONCURRENT", 0), "Direct-mode concurrency ceiling")
	fl.IntVar(&cfg.QueueMaxConcurrent, "queue-max-concurrent", envInt("PROMPTD_QUEUE_MAX_CONCURRENT", 0), "Queued-mode concurrency ceiling")
	fl.IntVar(&cfg.QueueCapacity, "queue-capacity", envInt("PROMPTD_QUEUE_CAPACITY", 0), "Total queued requests before enqueue refuses")
	fl.BoolVar(&cfg.SharedCeiling, "shared-ceiling", false, "Share one concurrency ceiling between both admission modes")
	fl.Float64Var(&cfg.RequestsPerSecond, "rps", 0, "Outbound requests per second (0 disables smoothing)")
	fl.StringVar(&cfg.StatsDB, "stats-db", envStr("PROMPTD_STATS_DB", ""), "SQLite stats database path (empty disables persistence)")
	fl.StringSliceVar(&cfg.CORSOrigins, "cors-origins", nil, "Allowed CORS origins (empty disables CORS)")
	fl.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", 0, "Maximum JSON request body size in bytes (0 keeps 1 MiB)")

	return root
}

func run(cfg config.Config) error {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "promptd").Logger()

	// Stats sink: SQLite when configured, console otherwise.
	var (
		sink     stats.Sink
		reporter stats.Reporter
		store    *sqlite.Store
	)
	if cfg.StatsDB != "" {
		path, err := fsutil.ExpandHome(cfg.StatsDB)
		if err != nil {
			return err
		}
		s, err := sqlite.New(path)
		if err != nil {
			log.Warn().Err(err).Msg("stats store unavailable; falling back to console sink")
			sink = stats.NewLoggerSink(log)
		} else {
			defer s.Close()
			store = s
			sink = s
			reporter = s
		}
	} else {
		sink = stats.NewLoggerSink(log)
	}

	client := inference.NewHTTPClient(cfg.Endpoint, cfg.APIKey, cfg.Model)
	defer client.Close()

	// One gate per mode, or a single shared one so the ceiling is not
	// doubled when both modes run in this process.
	directGate := admission.NewGate(cfg.MaxConcurrent)
	queueGate := directGate
	if !cfg.SharedCeiling {
		queueGate = admission.NewGate(cfg.QueueMaxConcurrent)
	}

	d := dispatch.New(client, sink, directGate, dispatch.Config{
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, log.With().Str("component", "dispatch").Logger())

	sched := scheduler.New(client, sink, queueGate, scheduler.Config{
		QueueCapacity: cfg.QueueCapacity,
	}, log.With().Str("component", "scheduler").Logger())

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	go sched.Run(baseCtx)
	if store != nil {
		go runRetention(baseCtx, store, log)
	}

	httpapi.SetLogger(log.With().Str("component", "http").Logger())
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	if len(cfg.CORSOrigins) > 0 {
		httpapi.SetCORSOptions(true, cfg.CORSOrigins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type", "Authorization", "X-Log-Level"})
	}
	mux := httpapi.NewMux(d, sched, reporter)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("endpoint", cfg.Endpoint).Msg("promptd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

// runRetention prunes the request log once a day until ctx is canceled. The
// same pruning is reachable on demand via DELETE /ai/cleanup-logs.
func runRetention(ctx context.Context, store *sqlite.Store, log zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Cleanup(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("stats retention cleanup failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("deleted", n).Msg("stats retention cleanup")
			}
		}
	}
}

// mergeConfig overlays flag/env values (b) on top of file values (a).
func mergeConfig(a, b config.Config) config.Config {
	out := a
	if b.Addr != "" {
		out.Addr = b.Addr
	}
	if b.Endpoint != "" {
		out.Endpoint = b.Endpoint
	}
	if b.APIKey != "" {
		out.APIKey = b.APIKey
	}
	if b.Model != "" {
		out.Model = b.Model
	}
	if b.MaxConcurrent != 0 {
		out.MaxConcurrent = b.MaxConcurrent
	}
	if b.QueueMaxConcurrent != 0 {
		out.QueueMaxConcurrent = b.QueueMaxConcurrent
	}
	if b.QueueCapacity != 0 {
		out.QueueCapacity = b.QueueCapacity
	}
	if b.SharedCeiling {
		out.SharedCeiling = true
	}
	if b.RequestsPerSecond != 0 {
		out.RequestsPerSecond = b.RequestsPerSecond
	}
	if b.StatsDB != "" {
		out.StatsDB = b.StatsDB
	}
	if len(b.CORSOrigins) > 0 {
		out.CORSOrigins = b.CORSOrigins
	}
	if b.MaxBodyBytes != 0 {
		out.MaxBodyBytes = b.MaxBodyBytes
	}
	return out
}

func applyDefaults(cfg *config.Config) {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://127.0.0.1:8000"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 20
	}
	if cfg.QueueMaxConcurrent <= 0 {
		cfg.QueueMaxConcurrent = 5
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 100
	}
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
