package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/keepup-email-engine/internal/automation"
	"github.com/ignite/keepup-email-engine/internal/blast"
	"github.com/ignite/keepup-email-engine/internal/company"
	"github.com/ignite/keepup-email-engine/internal/config"
	"github.com/ignite/keepup-email-engine/internal/contacts"
	"github.com/ignite/keepup-email-engine/internal/jobs"
	"github.com/ignite/keepup-email-engine/internal/pkg/distlock"
	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
	"github.com/ignite/keepup-email-engine/internal/provider"
	"github.com/ignite/keepup-email-engine/internal/settings"
	"github.com/ignite/keepup-email-engine/internal/suppression"
	"github.com/ignite/keepup-email-engine/internal/template"
	"github.com/ignite/keepup-email-engine/internal/worker"
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

	limiter, err := worker.NewRateLimiterFromConfig(cfg.Redis, jobsStore)
	if err != nil {
		logger.Error("redis connection failed", "addr", cfg.Redis.Addr, "error", err.Error())
		os.Exit(1)
	}
	defer limiter.Close()

	sender := buildSender(cfg)
	logger.Info("send provider ready", "provider", sender.Name(),
		"sendingEnabled", cfg.Sending.Enabled)

	codec := suppression.NewTokenCodec(cfg.Unsubscribe.Secret)
	processor := worker.NewProcessor(worker.Deps{
		Jobs:         jobsStore,
		Contacts:     contacts.NewStore(db),
		Suppressions: suppression.NewStore(db),
		Settings:     settings.NewStore(db),
		Companies:    company.NewStore(db),
		Rules:        automation.NewStore(db),
		Blasts:       blast.NewStore(db),
		Templates:    template.NewStore(db),
		Renderer:     template.NewRenderer(),
		Unsubscribe:  suppression.NewURLBuilder(codec, cfg.Unsubscribe.BaseURL),
		Sender:       sender,
		Limiter:      limiter,
		Sending:      cfg.Sending,
		MaxAttempts:  cfg.Worker.MaxAttempts,
	})

	recoveryLock := distlock.NewLock(limiter.Redis(), db, "email-jobs-stale-recovery", 2*time.Minute)
	pool := worker.NewPool(processor, jobsStore, cfg.Worker, recoveryLock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	pool.Stop()
	logger.Info("worker stopped")
}

func buildSender(cfg *config.Config) provider.Sender {
	switch cfg.Sending.Provider {
	case "ses":
		return provider.NewSESSender(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	case "smtp":
		return provider.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
	case "mock":
		return provider.NewMockSender()
	default:
		return provider.NewSendGridSender(cfg.SendGrid.APIKey, cfg.SendGrid.BaseURL,
			time.Duration(cfg.SendGrid.TimeoutSeconds)*time.Second)
	}
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
