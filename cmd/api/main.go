package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"bloodlink/api/internal/app"
	"bloodlink/api/internal/authpw"
	"bloodlink/api/internal/config"
	"bloodlink/api/internal/directory"
	"bloodlink/api/internal/email"
	"bloodlink/api/internal/events"
	"bloodlink/api/internal/identity"
	"bloodlink/api/internal/logging"
	"bloodlink/api/internal/realtime"
	"bloodlink/api/internal/search"
	"bloodlink/api/internal/session"
	"bloodlink/api/internal/sos"
	"bloodlink/api/internal/store"
	"github.com/sirupsen/logrus"
)

// backend is what both store drivers provide.
type backend interface {
	app.Store
	sos.Store
	directory.Store
	search.UserStore
	authpw.UserStore
	sessions
}

type sessions interface {
	authpw.SessionStore
	identity.RevocationChecker
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, closeStore := openBackend(ctx, cfg, logger)
	defer closeStore()

	var sessionStore sessions = data
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := session.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, keeping sessions in the primary store")
		} else {
			logger.Info("using redis for refresh sessions")
			defer redisStore.Close()
			sessionStore = redisStore
		}
	}

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, data, logger)
	if err := searchService.ReindexAll(ctx); err != nil {
		logger.WithError(err).Warn("initial user reindex failed")
	}
	dir := directory.New(data, searchService, logger)

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer producer.Close()
		publisher = producer
	}

	var notifier sos.Notifier
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		decisions := email.NewDecisionNotifier(mailer, data, logger)
		defer decisions.Wait()
		notifier = decisions
	} else {
		logger.Info("smtp not configured, decision emails disabled")
	}

	hub := realtime.NewHub(realtime.NewRegistry(), cfg.RealtimeLegacyAliases, logger)
	engine := sos.NewEngine(data, sos.Options{
		Dispatcher: hub,
		Directory:  dir,
		Publisher:  publisher,
		Notifier:   notifier,
		Logger:     logger,
	})
	go engine.RunCleanupLoop(ctx, cfg.CleanupInterval)

	gate := identity.NewGate([]byte(cfg.JWTSecret), sessionStore, data)
	service := app.NewService(app.Deps{
		Store:  data,
		Gate:   gate,
		Engine: engine,
		Auth: authpw.NewService(data, sessionStore, cfg.JWTSecret, authpw.Options{
			AccessTTL:  cfg.AccessTTL,
			RefreshTTL: cfg.RefreshTTL,
		}),
		Directory: dir,
		Search:    searchService,
		Logger:    logger,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	httpServer.MountRealtime(realtime.NewServer(hub, gate, realtime.RoleClassifier(dir), realtime.ServerOptions{
		SendBuffer: cfg.RealtimeSendBuffer,
	}, logger))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Addr).Info("bloodlink api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}

func openBackend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (backend, func()) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(), func() {}
	}

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("database connection failed")
	}
	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger)
	if err != nil {
		_ = db.Close()
		logger.WithError(err).Fatal("migrations failed")
	}
	if len(applied) > 0 {
		logger.WithField("migrations", applied).Info("migrations applied")
	}
	return store.NewPostgresStore(db), closer(db)
}

func closer(db *sql.DB) func() {
	return func() { _ = db.Close() }
}
