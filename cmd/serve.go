package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/onurcolak/whatsapp-automation-service/environments"
	"github.com/onurcolak/whatsapp-automation-service/handlers"
	"github.com/onurcolak/whatsapp-automation-service/internal/middlewares"
	"github.com/onurcolak/whatsapp-automation-service/pkg/database"
	"github.com/onurcolak/whatsapp-automation-service/pkg/logger"
	"github.com/onurcolak/whatsapp-automation-service/pkg/metrics"
	"github.com/onurcolak/whatsapp-automation-service/pkg/validator"
	"github.com/onurcolak/whatsapp-automation-service/routes"
)

func newServeCmd() *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhooks and the job scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(loadConfig(), seed)
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", environments.GetEnvAsBool("SEED_DATA", false), "insert demo leads, jobs and rules on startup")
	return cmd
}

func requireSecrets(cfg *environments.Config) error {
	switch {
	case cfg.Auth.MessagesAPIKey == "":
		return errors.New("MESSAGES_API_KEY is required but not set")
	case cfg.Auth.SchedulerAPIKey == "":
		return errors.New("SCHEDULER_API_KEY is required but not set")
	case cfg.WhatsApp.VerifyToken == "":
		return errors.New("WHATSAPP_VERIFY_TOKEN is required but not set")
	}
	return nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(metrics.Middleware())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			middlewares.APIKeyHeader,
		},
	}))

	return e
}

func runServe(cfg *environments.Config, seed bool) error {
	if err := requireSecrets(cfg); err != nil {
		return err
	}

	logger.Infof("Starting WhatsApp automation service...")

	a, err := newApp(cfg)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer a.close()

	if seed {
		if err := database.SeedTestData(a.db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Cancelled on shutdown so in-flight scheduler passes stop early.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthHandler := a.healthHandler()
	webhookHandler := handlers.NewWebhookHandler(a.inbound, cfg.WhatsApp.VerifyToken)
	messageHandler := handlers.NewMessageHandler(a.tracker, a.retrier, cfg.Scheduler.RetryBatchSize, cfg.WhatsApp.DefaultRegion)
	schedulerHandler := handlers.NewSchedulerHandler(a.scheduler, ctx, cfg)

	if cfg.Scheduler.AutoStart {
		logger.Infof("Auto-starting scheduler...")
		if err := a.scheduler.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := newEcho()
	routes.RegisterRoutes(e, healthHandler, webhookHandler, messageHandler, schedulerHandler, cfg)

	serverErr := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Infof("Shutting down gracefully...")
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	}

	cancel()

	if a.scheduler.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- a.scheduler.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	logger.Infof("Graceful shutdown completed")
	return nil
}
