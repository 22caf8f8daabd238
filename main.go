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

	"github.com/isdelr/alertflow/internal/api"
	"github.com/isdelr/alertflow/internal/api/handlers"
	"github.com/isdelr/alertflow/internal/auth"
	"github.com/isdelr/alertflow/internal/config"
	"github.com/isdelr/alertflow/internal/database"
	"github.com/isdelr/alertflow/internal/email"
	"github.com/isdelr/alertflow/internal/logger"
	"github.com/isdelr/alertflow/internal/monitoring"
	"github.com/isdelr/alertflow/internal/notify"
	"github.com/isdelr/alertflow/internal/pipeline"
	"github.com/isdelr/alertflow/internal/rules"
	"github.com/isdelr/alertflow/internal/services"
	"github.com/isdelr/alertflow/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize token manager")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Rule set, optionally extended from a file that is watched for changes
	registry := rules.NewRegistry(rules.DefaultRules()...)
	if cfg.RulesFile != "" {
		loaded, err := rules.LoadFile(cfg.RulesFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.RulesFile).Msg("Failed to load rules file")
		}
		registry.Replace(loaded)
		go func() {
			if err := rules.Watch(ctx, cfg.RulesFile, registry); err != nil {
				log.Error().Err(err).Msg("Rules watcher stopped")
			}
		}()
	}
	log.Info().Int("rules", len(registry.Rules())).Msg("Rule set loaded")

	// Set up WebSocket Hub
	hub := websocket.NewHub()

	// Set up services
	userService := services.NewUserService(db)
	eventService := services.NewEventService(db)
	entityService := services.NewEntityService(db)
	alertService := services.NewAlertService(db)
	preferenceService := services.NewPreferenceService(db)
	notificationService := services.NewNotificationService(db)

	// Email delivery
	dispatcher := email.NewDispatcher(newEmailRegistry(ctx, cfg.Email), email.DispatcherConfig{
		From:      fmt.Sprintf("%s <%s>", cfg.Email.FromName, cfg.Email.From),
		Workers:   cfg.Email.Workers,
		QueueSize: cfg.Email.QueueSize,
		Timeout:   cfg.Email.Timeout,
		Retry:     email.DefaultRetryConfig(),
	})
	dispatcher.Start()

	renderer, err := email.NewRenderer(cfg.Email.FromName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse email templates")
	}
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load default timezone")
	}

	router := notify.NewRouter(hub, dispatcher, userService, preferenceService, notificationService, renderer, notify.RouterConfig{
		Workers:   cfg.NotifyWorkers,
		QueueSize: cfg.NotifyQueueSize,
		Timeout:   cfg.NotifyTimeout,
		Location:  loc,
	})
	router.Start()

	processor := pipeline.NewProcessor(eventService, entityService, alertService, registry, router, pipeline.Config{
		Workers:      cfg.EvalWorkers,
		QueueSize:    cfg.EvalQueueSize,
		RecentWindow: cfg.RecentWindow,
		RecentLimit:  cfg.RecentLimit,
	})
	processor.Start()

	// Background jobs
	scheduler := monitoring.NewScheduler()
	slaMonitor := monitoring.NewSLAMonitor(alertService, router)
	if err := scheduler.Add("sla-sweep", cfg.SLASweepSpec, slaMonitor.Run, true); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule SLA sweep")
	}
	if err := scheduler.Add("pending-events", cfg.PendingSpec, processor.Sweep, false); err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule pending event sweep")
	}
	if cfg.DigestSpec != "" {
		digest := monitoring.NewDigestJob(userService, preferenceService, alertService, router)
		if err := scheduler.Add("daily-digest", cfg.DigestSpec, digest.Run, false); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule daily digest")
		}
	}
	scheduler.Start()

	hostSampler := monitoring.NewHostSampler(router, cfg.HostSampleEvery, cfg.HostCPUAlert)
	go hostSampler.Run()

	// Set up router
	httpRouter := api.NewRouter(api.Handlers{
		Users:         handlers.NewUserHandler(userService, tokens, cfg.Production),
		Events:        handlers.NewEventHandler(eventService, processor),
		Entities:      handlers.NewEntityHandler(entityService),
		Alerts:        handlers.NewAlertHandler(alertService, registry, router),
		Cases:         handlers.NewCaseHandler(router),
		Notifications: handlers.NewNotificationHandler(notificationService, preferenceService, router),
		System:        handlers.NewSystemHandler(db, hub, hostSampler, registry, dispatcher.Configured),
		WebSocket:     handlers.NewWebSocketHandler(hub, tokens, userService),
	}, tokens, cfg.AllowOrigins)

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop producers before consumers: no new events, then no new notices,
	// then flush mail.
	hostSampler.Stop()
	scheduler.Stop()
	processor.Stop()
	router.Stop()
	dispatcher.Stop()
	hub.CloseAll()
	cancel()

	log.Info().Msg("Server exiting")
}

// newEmailRegistry registers every provider and orders them by config.
// Providers without credentials stay registered but are skipped when sending.
func newEmailRegistry(ctx context.Context, cfg config.EmailConfig) *email.Registry {
	reg := email.NewRegistry()
	reg.Register(email.NewSMTPProvider(email.SMTPConfig{
		Host:        cfg.SMTPHost,
		Port:        cfg.SMTPPort,
		User:        cfg.SMTPUser,
		Password:    cfg.SMTPPassword,
		DialTimeout: cfg.Timeout,
	}))
	reg.Register(email.NewSESProvider(ctx, cfg.SESRegion))
	reg.Register(email.NewResendProvider(cfg.ResendAPIKey))

	if err := reg.SetPrimary(cfg.Provider); err != nil {
		log.Warn().Err(err).Msg("Invalid primary email provider")
	}
	if err := reg.SetFallback(cfg.Fallback...); err != nil {
		log.Warn().Err(err).Msg("Invalid email fallback list")
	}
	if !reg.IsConfigured() {
		log.Warn().Msg("No email provider configured, email notifications are disabled")
	}
	return reg
}
