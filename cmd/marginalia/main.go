package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/marginalia-wiki/marginalia/internal/caching"
	"github.com/marginalia-wiki/marginalia/internal/email"
	"github.com/marginalia-wiki/marginalia/internal/sqlutil"
	"github.com/marginalia-wiki/marginalia/moderationapi/api"
	"github.com/marginalia-wiki/marginalia/moderationapi/builder"
	"github.com/marginalia-wiki/marginalia/moderationapi/consequence"
	"github.com/marginalia-wiki/marginalia/moderationapi/engine"
	"github.com/marginalia-wiki/marginalia/moderationapi/pipeline"
	"github.com/marginalia-wiki/marginalia/moderationapi/routing"
	"github.com/marginalia-wiki/marginalia/moderationapi/storage"
	"github.com/marginalia-wiki/marginalia/setup/config"
)

var configPath = flag.String("config", "marginalia.yaml", "The path to the config file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatalf("Failed to load config from %q", *configPath)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logrus.WithError(err).Fatalf("Unknown log level %q", cfg.Logging.Level)
	}
	logrus.SetLevel(level)

	if cfg.Global.Sentry.Enabled {
		logrus.Info("Setting up Sentry for debugging...")
		err = sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Global.Sentry.DSN,
			Environment:      cfg.Global.Sentry.Environment,
			AttachStacktrace: true,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to start Sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	caches, err := caching.NewRistrettoCache(cfg.Global.Cache.MaxSizeBytes, time.Hour, false)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create cache")
	}

	conMan := sqlutil.NewConnectionManager(cfg.Global.DatabaseOptions)
	db, err := storage.NewModerationDatabase(conMan, &cfg.ModerationAPI.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to moderation database")
	}

	var mailer email.Sender = email.NoopSender{}
	if cfg.ModerationAPI.Notifications.Enabled {
		mailer, err = email.NewSMTPSender(&cfg.ModerationAPI.Notifications)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to set up SMTP sender")
		}
	}

	var savePipeline api.SavePipeline = pipeline.Disabled{}
	var users api.UserResolver
	if cfg.ModerationAPI.PlatformURL != "" {
		client := pipeline.NewClient(cfg.ModerationAPI.PlatformURL)
		savePipeline = client
		users = client
	} else {
		logrus.Warn("No platform_url configured, approvals will fail until one is set")
	}

	deps := &consequence.Deps{
		DB:            db,
		Caches:        caches,
		Mailer:        mailer,
		Pipeline:      savePipeline,
		Notifications: &cfg.ModerationAPI.Notifications,
	}
	manager := consequence.NewLiveManager(deps)

	moderation := engine.NewEngine(db, manager, users, cfg.ModerationAPI.RejectedGrace())
	queueBuilder := builder.NewBuilder(db, manager)

	router := mux.NewRouter().SkipClean(true).UseEncodedPath()
	router.Handle("/metrics", promhttp.Handler())
	routing.Setup(router, &cfg.ModerationAPI, moderation, queueBuilder, db, caches)

	server := &http.Server{
		Addr:              cfg.Global.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("Listening on %s", cfg.Global.ListenAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to serve HTTP")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shut down cleanly")
	}
}
