package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopfront/shopfront-api/internal/api"
	"github.com/shopfront/shopfront-api/internal/auth"
	"github.com/shopfront/shopfront-api/internal/db"
	"github.com/shopfront/shopfront-api/internal/events"
	"github.com/shopfront/shopfront-api/internal/logging"
	"github.com/shopfront/shopfront-api/internal/metrics"
	"github.com/shopfront/shopfront-api/internal/notify"
	"github.com/shopfront/shopfront-api/internal/services"
	"github.com/shopfront/shopfront-api/pkg/config"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	if err := run(cfg, logger); err != nil {
		os.Exit(stop(logger, err))
	}
	logger.Info("server exited")
}

// stop logs err and flushes the logger ahead of os.Exit.
// It returns the process exit code.
func stop(logger *zap.Logger, err error) int {
	logger.Error("server stopped", zap.Error(err))
	_ = logger.Sync()
	return 1
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize OpenTelemetry metrics
	appMetrics, shutdownMetrics, err := metrics.InitMetrics(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			logger.Error("error shutting down meter provider", zap.Error(err))
		}
	}()

	// Initialize database
	database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.InitSchema(ctx, db.Schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Email
	var mailer notify.Mailer = notify.NewLogMailer(logger)
	if cfg.EmailEnabled() {
		smtp, err := notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.EmailHost,
			Port:     cfg.EmailPort,
			Username: cfg.EmailUser,
			Password: cfg.EmailPassword,
			From:     cfg.EmailFrom,
		})
		if err != nil {
			return fmt.Errorf("failed to configure mailer: %w", err)
		}
		mailer = smtp
	} else {
		logger.Warn("EMAIL_HOST not set, emails are logged instead of sent")
	}
	dispatcher := notify.NewDispatcher(mailer, cfg.FrontendURL, logger, appMetrics)

	// Order events
	var publisher events.Publisher = events.Noop{}
	if cfg.AMQPURL != "" {
		rabbit, err := events.Dial(cfg.AMQPURL, logger, appMetrics)
		if err != nil {
			return fmt.Errorf("failed to connect to message broker: %w", err)
		}
		publisher = rabbit
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("error closing event publisher", zap.Error(err))
		}
	}()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTExpire, cfg.JWTActivationExpire, cfg.JWTResetPasswordExpire)

	// Initialize services
	productService := services.NewProductService(database, appMetrics, logger)
	cartService := services.NewCartService(database, appMetrics, logger)
	orderService := services.NewOrderService(database, appMetrics, logger, productService, publisher, dispatcher)
	userService := services.NewUserService(database, appMetrics, logger, tokens, dispatcher)
	adminService := services.NewAdminService(database, appMetrics, logger, userService, orderService)

	app := api.NewApp(cfg, database, appMetrics, logger, productService, cartService, orderService, userService, adminService)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("port", cfg.AppPort),
			zap.String("environment", cfg.Environment),
			zap.String("otlp_endpoint", cfg.OTELExporterOTLPEndpoint),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// let queued emails finish before the database and metrics close
	dispatcher.Wait()
	return nil
}
