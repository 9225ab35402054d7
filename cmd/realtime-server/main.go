// Package main provides the realtime server executable with HTTP API,
// WebSocket endpoint and database change-notification listener.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/coregx/realtime"
	"github.com/coregx/realtime/adapters/pglisten"
	relicaadapter "github.com/coregx/realtime/adapters/relica"
	"github.com/coregx/realtime/backoff"
	"github.com/coregx/realtime/cmd/realtime-server/internal/api"
	"github.com/coregx/realtime/cmd/realtime-server/internal/config"
	"github.com/coregx/realtime/cmd/realtime-server/internal/hub"
	"github.com/coregx/realtime/webhook"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ZerologLogger implements realtime.Logger on top of zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

func (l *ZerologLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}
func (l *ZerologLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}
func (l *ZerologLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}
func (l *ZerologLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}
func (l *ZerologLogger) Info(message string) {
	l.log.Info().Msg(message)
}

func newLogger() *ZerologLogger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if os.Getenv("LOG_FORMAT") == "text" {
		zlog.Logger = zlog.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	return &ZerologLogger{log: zlog.Logger}
}

func main() {
	logger := newLogger()
	logger.Info("Starting Realtime Server v0.1.0...")

	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger.Infof("Server: %s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("Database: %s (%s:%d)", cfg.Database.Driver, cfg.Database.Host, cfg.Database.Port)
	logger.Infof("Notification topic: %s", cfg.Realtime.Topic)

	// Connect to database
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.GetDSN())
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Errorf("Failed to close database: %v", closeErr)
		}
	}()

	// Test connection
	if err := db.Ping(); err != nil {
		logger.Errorf("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	logger.Info("Database connection established")

	// Create repositories using Relica adapters
	var repos *relicaadapter.Repositories
	if cfg.Database.Prefix != "" {
		repos = relicaadapter.NewRepositoriesWithPrefix(db, cfg.Database.Driver, cfg.Database.Prefix)
	} else {
		repos = relicaadapter.NewRepositories(db, cfg.Database.Driver)
	}
	logger.Info("Repositories initialized (Relica adapters)")

	// Create notification service
	var notificationService realtime.NotificationService
	if cfg.Realtime.EnableNotifications {
		notificationService = realtime.NewLoggingNotificationService(logger)
	} else {
		notificationService = &realtime.NoOpNotificationService{}
	}

	// Create ChannelService
	channels, err := realtime.NewChannelService(
		realtime.WithChannelRepository(repos.Channel),
		realtime.WithChannelServiceLogger(logger),
	)
	if err != nil {
		logger.Errorf("Failed to create channel service: %v", err)
		os.Exit(1)
	}

	// Create MessageService
	messages, err := realtime.NewMessageService(
		realtime.WithMessageRepositories(repos.Message, repos.Channel),
		realtime.WithMessageServiceLogger(logger),
	)
	if err != nil {
		logger.Errorf("Failed to create message service: %v", err)
		os.Exit(1)
	}

	// Create WebSocket hub (implements realtime.ConnectionRegistry)
	wsHub := hub.New(logger)

	// Create webhook sender
	sender := webhook.NewSender(
		webhook.WithTimeout(time.Duration(cfg.Realtime.WebhookTimeout) * time.Second),
	)

	// Create Dispatcher
	dispatcher, err := realtime.NewDispatcher(
		realtime.WithDispatcherRepositories(repos.Channel, repos.Message),
		realtime.WithDispatcherRegistry(wsHub),
		realtime.WithDispatcherWebhookSender(sender),
		realtime.WithDispatcherLogger(logger),
		realtime.WithDispatcherNotifications(notificationService),
	)
	if err != nil {
		logger.Errorf("Failed to create dispatcher: %v", err)
		os.Exit(1)
	}
	logger.Info("Dispatcher created")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create ChangeListener on drivers with LISTEN/NOTIFY support
	var listener *realtime.ChangeListener
	if cfg.Database.ListenerSupported() {
		strategy := backoff.DefaultStrategy()
		strategy.MaxAttempts = cfg.Realtime.ReconnectAttempts

		listener, err = realtime.NewChangeListener(
			realtime.WithListenerConnect(pglisten.Connector(cfg.Database.GetDSN())),
			realtime.WithListenerDispatcher(dispatcher),
			realtime.WithListenerRepositories(repos.Channel, repos.Message),
			realtime.WithListenerLogger(logger),
			realtime.WithListenerTopic(cfg.Realtime.Topic),
			realtime.WithListenerBackoff(strategy),
			realtime.WithListenerNotifications(notificationService),
		)
		if err != nil {
			logger.Errorf("Failed to create change listener: %v", err)
			os.Exit(1)
		}
		if err := listener.Initialize(ctx); err != nil {
			// The listener schedules its own reconnects; a failed first
			// attempt is not fatal
			logger.Warnf("Change listener initial connect failed: %v", err)
		}
		logger.Info("Change listener initialized")
	} else {
		logger.Warnf("Driver %s has no change notifications, system events will not be delivered live", cfg.Database.Driver)
	}

	// Periodic message cleanup
	if cfg.Realtime.CleanupDays > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(cfg.Realtime.CleanupInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if _, err := messages.Cleanup(ctx, cfg.Realtime.CleanupDays); err != nil {
						logger.Errorf("Message cleanup failed: %v", err)
					}
				}
			}
		}()
	}

	// Create API handler
	handler := api.NewHandler(channels, messages, dispatcher, listener, logger)

	// WebSocket subscribe handler
	wsHandler := &hub.Handler{
		Hub:      wsHub,
		Channels: channels,
		Logger:   logger,
	}

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/channels", handler.HandleCreateChannel)
	mux.HandleFunc("GET /api/v1/channels", handler.HandleListChannels)
	mux.HandleFunc("GET /api/v1/channels/{name}", handler.HandleGetChannel)
	mux.HandleFunc("PUT /api/v1/channels/{id}", handler.HandleUpdateChannel)
	mux.HandleFunc("DELETE /api/v1/channels/{id}", handler.HandleDeleteChannel)
	mux.HandleFunc("POST /api/v1/channels/{name}/publish", handler.HandlePublish)
	mux.HandleFunc("POST /api/v1/events", handler.HandleCreateEvent)
	mux.HandleFunc("GET /api/v1/messages", handler.HandleListMessages)
	mux.HandleFunc("GET /api/v1/messages/stats", handler.HandleMessageStats)
	mux.HandleFunc("GET /api/v1/health", handler.HandleHealth)
	mux.Handle("GET /realtime/{channel}", wsHandler)

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      loggingMiddleware(mux, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	go func() {
		logger.Infof("HTTP server listening on %s", addr)
		logger.Info("Realtime Server is ready")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Failed to start server: %v", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	if listener != nil {
		if err := listener.Close(); err != nil {
			logger.Errorf("Failed to close change listener: %v", err)
		}
	}
	wsHub.CloseAll()
	cancel()
	logger.Info("Server stopped gracefully")
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(next http.Handler, logger realtime.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger.Infof("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
		logger.Debugf("%s %s - %v", r.Method, r.URL.Path, time.Since(start))
	})
}
