package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"intakewatch/internal/api"
	"intakewatch/internal/browser/chromedriver"
	"intakewatch/internal/intake/capture"
	"intakewatch/internal/intake/correlate"
	"intakewatch/internal/intake/listen"
	"intakewatch/internal/intake/metrics"
	"intakewatch/internal/intake/monitor"
	"intakewatch/internal/intake/sink"
	"intakewatch/internal/platform/config"
	"intakewatch/internal/platform/httpserver"
	"intakewatch/internal/platform/logger"
	"intakewatch/internal/platform/postgres"
)

// main wires the capture pipeline: a browser session feeding the monitor
// loop, the response listener feeding it identifiers, dual sinks behind a
// multi-sink, and the read API alongside. Business logic lives in the
// internal packages.
func main() {
	importLog := flag.Bool("import", false, "replay the JSON log into Postgres and exit")
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, *importLog); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("monitor exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger, importOnly bool) error {
	db, err := postgres.Open(ctx, cfg.DB.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	pgSink, err := sink.NewPostgres(db, sink.ConflictPolicy(cfg.ConflictPolicy))
	if err != nil {
		return fmt.Errorf("configure postgres sink: %w", err)
	}
	if err := pgSink.EnsureSchema(ctx); err != nil {
		return err
	}

	jsonLog, err := sink.NewJSONLog(cfg.JSONLogPath)
	if err != nil {
		return fmt.Errorf("open json log: %w", err)
	}
	defer jsonLog.Close()

	if importOnly {
		return importRecords(ctx, log, jsonLog, pgSink)
	}

	m := metrics.New()
	sinks := sink.NewMulti(log, func(name string) {
		m.SinkFailures.WithLabelValues(name).Inc()
	}, []string{"jsonlog", "postgres"}, jsonLog, pgSink)

	policies, err := config.NewPolicyLoader(cfg.PolicyPath)
	if err != nil {
		return fmt.Errorf("load correlation policy: %w", err)
	}
	stopWatch, err := policies.Watch()
	if err != nil {
		return fmt.Errorf("watch policy file: %w", err)
	}
	defer stopWatch()

	session, err := chromedriver.Dial(ctx, cfg.QueueURL, cfg.Headless, log)
	if err != nil {
		return fmt.Errorf("open browser session: %w", err)
	}
	defer session.Close()

	listener := listen.New(session.Responses(), log)
	loop := monitor.New(monitor.Config{
		Session:       session,
		Extractor:     capture.New(session, log),
		Identifiers:   listener.Events(),
		Correlator:    correlate.New(policies.Policy()),
		Sink:          sinks,
		Metrics:       m,
		Logger:        log,
		PolicyUpdates: policies.Updates(),
	})

	srv := httpserver.New(cfg.APIAddr, api.New(api.NewPostgresStore(db), log).Router())

	log.InfoContext(ctx, "starting intakewatch",
		"queue_url", cfg.QueueURL,
		"api_addr", cfg.APIAddr,
		"json_log", cfg.JSONLogPath,
		"on_conflict", cfg.ConflictPolicy,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return listener.Run(gctx)
	})
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// importRecords replays every record in the JSON log into Postgres. The
// upsert semantics make re-runs safe; records already present are skipped
// or refreshed according to the conflict policy.
func importRecords(ctx context.Context, log *slog.Logger, jsonLog *sink.JSONLog, pg *sink.Postgres) error {
	records, err := jsonLog.Load(ctx)
	if err != nil {
		return fmt.Errorf("load json log: %w", err)
	}

	var failed int
	for _, record := range records {
		if err := pg.Save(ctx, record); err != nil {
			failed++
			log.ErrorContext(ctx, "import record failed",
				"subject", record.Key().Subject,
				"captured_at", record.CapturedAt,
				"error", err,
			)
		}
	}

	log.InfoContext(ctx, "import finished", "total", len(records), "failed", failed)
	if failed > 0 {
		return fmt.Errorf("import: %d of %d records failed", failed, len(records))
	}
	return nil
}
