package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/docplus/portal/internal/config"
	"github.com/docplus/portal/internal/domain/chat"
	"github.com/docplus/portal/internal/platform/auth"
	"github.com/docplus/portal/internal/platform/db"
	"github.com/docplus/portal/internal/platform/middleware"
	"github.com/docplus/portal/internal/platform/notification"
	"github.com/docplus/portal/internal/realtime"
	"github.com/docplus/portal/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Patient portal messaging server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, migrations.Files).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, migrations.Files).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware on the REST API. The WebSocket endpoint authenticates
	// in-band with its own authenticate frame, so it stays outside this
	// group.
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware([]byte(cfg.JWTSecret)))
	}

	apiV1.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))

	// Email notifications. Without SMTP configuration email delivery is
	// disabled and notifications are only recorded in-memory.
	var emailSender notification.EmailSender
	if cfg.SMTPHost != "" {
		emailSender = notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
		logger.Info().Str("host", cfg.SMTPHost).Msg("SMTP email delivery enabled")
	} else {
		emailSender = &notification.MockEmailSender{}
		logger.Warn().Msg("SMTP_HOST not set; email delivery is disabled")
	}
	notifyMgr := notification.NewManager(emailSender, notification.NewTemplateEngine())

	// Chat persistence
	chatRepo := chat.NewMessageRepoPG(pool)
	chatSvc := chat.NewService(chatRepo)
	chatHandler := chat.NewHandler(chatSvc)
	chatHandler.RegisterRoutes(apiV1)

	// Realtime hub. The message store is wrapped so persistence triggers
	// on-call alerts for emergencies and missed-message email for offline
	// recipients.
	notifier := notification.NewChatRelayNotifier(chat.NewStore(chatSvc), notifyMgr, logger)
	notifier.OnCallEmail = cfg.OnCallEmail
	hub := realtime.NewHub(notifier, logger)
	notifier.Online = hub.Registry.IsOnline
	if cfg.NotifyDomain != "" {
		notifier.EmailFor = func(_ context.Context, userID string) (string, error) {
			return userID + "@" + cfg.NotifyDomain, nil
		}
	}

	wsHandler := realtime.NewHandler(hub, []byte(cfg.JWTSecret), logger)
	wsHandler.RegisterRoutes(e.Group(""))

	// Notification admin endpoints
	notifyHandler := notification.NewHandler(notifyMgr)
	notifyHandler.RegisterRoutes(apiV1.Group("", auth.RequireRole("admin")))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"version": "0.1.0",
			"online":  hub.Registry.OnlineCount(),
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting portal server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown: stop accepting requests, then close every live
	// socket so clients see a clean close frame.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	hub.Shutdown()
	logger.Info().Msg("shutdown complete")
	return nil
}
