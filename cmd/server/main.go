package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/keepup-email-engine/internal/api"
	"github.com/ignite/keepup-email-engine/internal/automation"
	"github.com/ignite/keepup-email-engine/internal/blast"
	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/deliverability"
	"github.com/ignite/keepup-email-engine/internal/events"
	"github.com/ignite/keepup-email-engine/internal/followup"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/suppression"
	"github.com/ignite/keepup-email-engine/internal/template"
	"github.com/ignite/keepup-email-engine/internal/webhook"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("load config failed", "path", configPath, "error", err.Error())
		os.Exit(1)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	jobsStore := jobs.NewStore(db)
	settingsStore := settings.NewStore(db)
	companyStore := company.NewStore(db)
	contactStore := contacts.NewStore(db)
	eventStore := events.NewStore(db)
	templateStore := template.NewStore(db)
	ruleStore := automation.NewStore(db)
	scheduleStore := followup.NewStore(db)
	blastStore := blast.NewStore(db)
	suppressionStore := suppression.NewStore(db)

	var alerter deliverability.Alerter
	if cfg.Alerts.WebhookURL != "" {
		alerter = deliverability.NewWebhookAlerter(cfg.Alerts.WebhookURL, cfg.Alerts.Channel)
	}
	monitor := deliverability.NewMonitor(companyStore, jobsStore, settingsStore, eventStore, alerter)

	codec := suppression.NewTokenCodec(cfg.Unsubscribe.Secret)
	if !codec.Configured() {
		logger.Warn("unsubscribe secret not set; blast jobs will hold until it is configured")
	}

	h := api.NewHandlers(api.HandlersDeps{
		Jobs:         jobsStore,
		Settings:     settingsStore,
		Companies:    companyStore,
		Contacts:     contactStore,
		Events:       eventStore,
		Templates:    templateStore,
		Rules:        ruleStore,
		Automation:   automation.NewEngine(ruleStore, contactStore, jobsStore),
		Installer:    automation.NewInstaller(ruleStore, templateStore),
		Schedules:    scheduleStore,
		Followup:     followup.NewEngine(scheduleStore, contactStore, jobsStore),
		Blasts:       blastStore,
		Renderer:     template.NewRenderer(),
		BlastSvc:     blast.NewService(blastStore, templateStore, settingsStore, blast.NewResolver(contactStore, suppressionStore), jobsStore),
		Monitor:      monitor,
		Ingestor:     webhook.NewIngestor(eventStore, jobsStore, suppressionStore, monitor),
		UnsubApplier: suppression.NewApplier(suppressionStore, contactStore),
		TokenCodec:   codec,
		UnsubURLs:    suppression.NewURLBuilder(codec, cfg.Unsubscribe.BaseURL),
		Sending:      cfg.Sending,
		WebhookToken: cfg.SendGrid.WebhookToken,
	})

	srv := api.NewServer(cfg.Server, h)
	go func() {
		logger.Info("api server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err.Error())
	}
	logger.Info("server stopped")
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is required (DATABASE_URL)")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
