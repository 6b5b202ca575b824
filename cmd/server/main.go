// Command server runs the marketplace API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace/internal/auth"
	"marketplace/internal/cache"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
	"marketplace/internal/server"
	"marketplace/internal/storage"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log := observability.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(log)

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  cfg.ServiceName,
		Environment:  cfg.Env,
		Enabled:      cfg.TracingEnabled,
		Exporter:     cfg.TracingExporter,
		OTLPEndpoint: cfg.OTLPEndpoint,
		SamplerRatio: 1,
	})
	if err != nil {
		return err
	}

	db, err := database.Connect(cfg, log)
	if err != nil {
		return err
	}
	rdb := cache.InitRedis(ctx, cfg.RedisURL, log)

	provider, err := newProvider(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	uploader, err := storage.NewLocalUploader(cfg.UploadDir, cfg.UploadPublicPath, cfg.UploadMaxBytes)
	if err != nil {
		return err
	}

	srv, err := server.NewServerWithDeps(cfg, server.Deps{
		DB:       db,
		Redis:    rdb,
		Provider: provider,
		Uploader: uploader,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(srv.Shutdown(shutdownCtx), shutdownTracing(shutdownCtx))
}

func newMailer(cfg *config.Config, log *slog.Logger) auth.Mailer {
	if cfg.SMTPHost == "" {
		log.Warn("SMTP_HOST not set, mails are written to the log")
		return auth.LogMailer{Logger: log}
	}
	return auth.SMTPMailer{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}
}

func newProvider(ctx context.Context, cfg *config.Config, db *gorm.DB, log *slog.Logger) (auth.Provider, error) {
	mailer := newMailer(cfg, log)
	switch cfg.AuthProvider {
	case "firebase":
		p, err := auth.NewFirebaseProvider(ctx, auth.FirebaseConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
			APIKey:          cfg.FirebaseAPIKey,
		}, mailer)
		if err != nil {
			return nil, fmt.Errorf("firebase auth: %w", err)
		}
		log.Info("auth provider ready", "provider", "firebase")
		return p, nil
	default:
		log.Info("auth provider ready", "provider", "local")
		return auth.NewLocalProvider(repository.NewAccountRepository(db), mailer, auth.LocalConfig{
			Secret:         []byte(cfg.JWTSecret),
			SessionTTL:     time.Duration(cfg.SessionTTLHours) * time.Hour,
			SignupEnabled:  cfg.SignupEnabled,
			BaseURL:        cfg.PublicBaseURL,
			ResendInterval: time.Minute,
		}), nil
	}
}
