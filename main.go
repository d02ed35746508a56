package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"time"

	alarmapp "wakeguard/internal/alarms/application"
	alarmarchive "wakeguard/internal/alarms/infrastructure/badgerstore"
	alarmpg "wakeguard/internal/alarms/infrastructure/postgres"
	alarmhttp "wakeguard/internal/alarms/interfaces/http"
	alarmnotify "wakeguard/internal/alarms/notify"
	"wakeguard/internal/audio"
	"wakeguard/internal/auth"
	"wakeguard/internal/config"
	"wakeguard/internal/dismissal"
	"wakeguard/internal/eventing"
	"wakeguard/internal/notify"
	"wakeguard/internal/observability/metrics"
	"wakeguard/internal/permission"
	"wakeguard/internal/scheduler"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config error: %v", err)
	}

	location, err := cfg.Location()
	if err != nil {
		logger.Fatalf("timezone error: %v", err)
	}

	metrics.Init(logger)

	db, err := alarmarchive.Open(alarmarchive.Config{Path: cfg.DataDir, SyncWrites: true}, logger)
	if err != nil {
		logger.Fatalf("store open error: %v", err)
	}
	defer db.Close()

	alarmStore, err := alarmarchive.NewAlarmStore(db)
	if err != nil {
		logger.Fatalf("alarm store error: %v", err)
	}
	runStore, err := alarmarchive.NewRunStore(db)
	if err != nil {
		logger.Fatalf("run store error: %v", err)
	}
	chainIndex, err := alarmarchive.NewChainIndex(db)
	if err != nil {
		logger.Fatalf("chain index error: %v", err)
	}
	dismissed, err := alarmarchive.NewDismissedRegistry(db)
	if err != nil {
		logger.Fatalf("dismissed registry error: %v", err)
	}

	bus := eventing.NewInMemoryBus()
	permissions := permission.NewStaticService(true)

	center, err := notify.NewLocalCenter(permissions, bus, logger)
	if err != nil {
		logger.Fatalf("notification center error: %v", err)
	}
	guard, err := notify.NewLimitGuard(notify.DefaultLimitGuardConfig(), center, logger)
	if err != nil {
		logger.Fatalf("limit guard error: %v", err)
	}

	settings := cfg.ChainSettings(logger)
	chains, err := notify.NewChainedScheduler(center, guard, chainIndex, settings, logger)
	if err != nil {
		logger.Fatalf("chain scheduler error: %v", err)
	}
	detector, err := notify.NewActiveAlarmDetector(center, chainIndex, dismissed, alarmStore, settings, logger, nil)
	if err != nil {
		logger.Fatalf("active detector error: %v", err)
	}

	scheduling, err := scheduler.Select(nil, chains, chainIndex, detector, alarmStore, permissions, location, logger)
	if err != nil {
		logger.Fatalf("scheduling backend error: %v", err)
	}

	engine, err := audio.NewEngine(audio.LogSink{Logger: logger}, logger)
	if err != nil {
		logger.Fatalf("audio engine error: %v", err)
	}

	flow, err := dismissal.NewFlow(alarmStore, runStore, dismissed, chains, engine, cfg.Reliability(), permissions, bus, logger, dismissal.WithLocation(location))
	if err != nil {
		logger.Fatalf("dismissal flow error: %v", err)
	}

	broker := alarmhttp.NewSSEBroker()
	notifiers := []alarmapp.AlarmNotifier{broker}
	if cfg.Notify.WebhookURL != "" {
		webhook, err := buildWebhookNotifier(cfg.Notify)
		if err != nil {
			logger.Fatalf("webhook notifier error: %v", err)
		}
		notifiers = append(notifiers, webhook)
	}

	service, err := alarmapp.NewService(alarmStore, runStore, scheduling, chains, dismissed, logger, alarmapp.WithNotifier(alarmnotify.NewMultiNotifier(notifiers...)))
	if err != nil {
		logger.Fatalf("alarm service error: %v", err)
	}

	ctx := context.Background()

	// Resolve the undetermined notification permission before anything
	// tries to arm a chain; scheduling only reads the status afterwards.
	if err := scheduling.RequestAuthorizationIfNeeded(ctx); err != nil {
		logger.Fatalf("notification authorization error: %v", err)
	}

	if cfg.DatabaseURL != "" {
		pg, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("archive open error: %v", err)
		}
		defer pg.Close()
		if err := pg.Ping(); err != nil {
			logger.Fatalf("archive ping error: %v", err)
		}
		archive, err := alarmpg.NewRunArchive(pg)
		if err != nil {
			logger.Fatalf("run archive error: %v", err)
		}
		if err := archive.EnsureSchema(ctx); err != nil {
			logger.Fatalf("archive schema error: %v", err)
		}
		mirror, err := alarmpg.NewRunMirror(archive, runStore, logger)
		if err != nil {
			logger.Fatalf("run mirror error: %v", err)
		}
		mirror.Register(bus)
		logger.Printf("run archive enabled")
	}

	report, err := service.RunStartupMaintenance(ctx)
	if err != nil {
		logger.Fatalf("startup maintenance error: %v", err)
	}
	logger.Printf("startup maintenance: runs_swept=%d stale_chains=%d registry_expired=%d",
		report.RunsSwept, report.StaleChainsRemoved, report.RegistryExpired)

	alarmHandler, err := alarmhttp.NewHandler(service, flow)
	if err != nil {
		logger.Fatalf("alarm handler error: %v", err)
	}
	dismissalHandler, err := alarmhttp.NewDismissalHandler(flow)
	if err != nil {
		logger.Fatalf("dismissal handler error: %v", err)
	}
	exportHandler, err := alarmhttp.NewExportHandler(service)
	if err != nil {
		logger.Fatalf("export handler error: %v", err)
	}
	streamHandler := alarmhttp.NewStreamHandler(broker)

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/alarms", alarmHandler)
	mux.Handle("/api/v1/alarms/stream", streamHandler)
	mux.Handle("/api/v1/alarms/", alarmHandler)
	mux.Handle("/api/v1/dismissal", dismissalHandler)
	mux.Handle("/api/v1/dismissal/", dismissalHandler)
	mux.Handle("/api/v1/runs/export", exportHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: loggingMiddleware(authMiddleware.Wrap(mux), logger)}
	logger.Printf("listening on %s", cfg.HTTPAddr)
	logger.Fatal(server.ListenAndServe())
}

func buildWebhookNotifier(cfg config.NotifyConfig) (*alarmnotify.WebhookNotifier, error) {
	var template *alarmnotify.Template
	if cfg.Template != "" {
		parsed, err := alarmnotify.NewTemplate(cfg.Template)
		if err != nil {
			return nil, err
		}
		template = parsed
	}
	var opts []alarmnotify.Option
	if cfg.Cooldown.Std() > 0 {
		opts = append(opts, alarmnotify.WithCooldown(cfg.Cooldown.Std()))
	}
	if cfg.DedupeWindow.Std() > 0 {
		opts = append(opts, alarmnotify.WithDedupeWindow(cfg.DedupeWindow.Std()))
	}
	return alarmnotify.NewWebhookNotifier(cfg.WebhookURL, template, opts...)
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s", r.Method, r.URL.Path, resp.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
