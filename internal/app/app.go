// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/bissquit/notify-dispatch/internal/config"
	"github.com/bissquit/notify-dispatch/internal/notifications"
	"github.com/bissquit/notify-dispatch/internal/notifications/email"
	"github.com/bissquit/notify-dispatch/internal/notifications/push"
	"github.com/bissquit/notify-dispatch/internal/notifications/whatsapp"
	"github.com/bissquit/notify-dispatch/internal/pkg/ctxlog"
	"github.com/bissquit/notify-dispatch/internal/pkg/httputil"
	"github.com/bissquit/notify-dispatch/internal/pkg/logging"
	"github.com/bissquit/notify-dispatch/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	logCloser     io.Closer
	store         *store
	server        *http.Server
	metricsServer *http.Server
	bgCancel      context.CancelFunc
	sweeper       *notifications.Sweeper
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger, logCloser := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		FilePath:   cfg.Log.File.Path,
		MaxSizeMB:  cfg.Log.File.MaxSizeMB,
		MaxBackups: cfg.Log.File.MaxBackups,
		MaxAgeDays: cfg.Log.File.MaxAgeDays,
		Compress:   cfg.Log.File.Compress,
	})
	slog.SetDefault(logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())

	st, err := openStore(bgCtx, cfg)
	if err != nil {
		bgCancel()
		_ = logCloser.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	app := &App{
		config:    cfg,
		logger:    logger,
		logCloser: logCloser,
		store:     st,
		bgCancel:  bgCancel,
	}

	router, sweeper, err := app.setupRouter(bgCtx)
	if err != nil {
		st.close()
		bgCancel()
		_ = logCloser.Close()
		return nil, fmt.Errorf("setup router: %w", err)
	}
	app.sweeper = sweeper

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run serves the API and metrics listeners until both are shut down.
func (a *App) Run() error {
	a.logger.Info("starting servers",
		"addr", a.server.Addr,
		"metrics_addr", a.metricsServer.Addr,
		"version", version.Version,
	)

	var g errgroup.Group
	for name, srv := range a.servers() {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("listener failed", "server", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Shutdown stops the sweeper, drains both listeners, then releases the store
// and the log file. In-flight dispatches finish before their request returns.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	var errs []error
	for name, srv := range a.servers() {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
		}
	}

	a.bgCancel()
	a.store.close()

	if err := a.logCloser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}

	return errors.Join(errs...)
}

func (a *App) servers() map[string]*http.Server {
	return map[string]*http.Server{"api": a.server, "metrics": a.metricsServer}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Sweeper returns the scheduled delivery sweeper, or nil when disabled.
func (a *App) Sweeper() *notifications.Sweeper {
	return a.sweeper
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, *notifications.Sweeper, error) {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(httputil.CORSMiddleware(a.config.Server.CORSOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	senders, validToken, err := buildSenders(ctx, a.config.Notifications)
	if err != nil {
		return nil, nil, err
	}

	resolver := notifications.NewResolver(a.store.directory, validToken)
	dispatcher := notifications.NewDispatcher(notifications.DispatcherConfig{
		SweepBatchSize: a.config.Notifications.Sweep.BatchSize,
	}, a.store.repo, resolver, senders...)

	slog.Info("notifications configured",
		"storage", a.config.Storage.Driver,
		"channels", dispatcher.Channels(),
		"sweep_enabled", a.config.Notifications.Sweep.Enabled,
	)

	var sweeper *notifications.Sweeper
	if a.config.Notifications.Sweep.Enabled {
		sweeper = notifications.NewSweeper(notifications.SweeperConfig{
			Interval: a.config.Notifications.Sweep.Interval,
		}, dispatcher)
		sweeper.Start(ctx)
	}

	notificationsHandler := notifications.NewHandler(notifications.NewService(a.store.repo, dispatcher))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.APIKeyMiddleware(httputil.NewStaticAPIKey(a.config.Auth.APIKey, a.config.Auth.APIKeyHash)))
		notificationsHandler.RegisterRoutes(r)
	})

	return r, sweeper, nil
}

func buildSenders(ctx context.Context, cfg config.NotificationsConfig) ([]notifications.Sender, notifications.TokenValidator, error) {
	var (
		senders    []notifications.Sender
		validToken notifications.TokenValidator
	)

	if cfg.Push.Enabled {
		var provider push.Provider
		switch cfg.Push.Provider {
		case config.PushProviderFCM:
			fcm, err := push.NewFCMProvider(ctx, push.FCMConfig{
				ProjectID:       cfg.Push.FCM.ProjectID,
				CredentialsFile: cfg.Push.FCM.CredentialsFile,
			})
			if err != nil {
				return nil, nil, fmt.Errorf("create fcm provider: %w", err)
			}
			provider = fcm
		default:
			provider = push.NewExpoProvider(push.ExpoConfig{
				AccessToken: cfg.Push.Expo.AccessToken,
				URL:         cfg.Push.Expo.URL,
				Timeout:     cfg.Push.Expo.Timeout,
			})
		}
		pushSender := push.NewSender(provider)
		senders = append(senders, pushSender)
		validToken = pushSender.ValidToken
	} else {
		slog.Warn("push sender is disabled: push notifications will be rejected")
	}

	if cfg.WhatsApp.Enabled {
		waSender, err := whatsapp.NewSender(whatsapp.Config{
			Enabled:     true,
			AccountSID:  cfg.WhatsApp.AccountSID,
			AuthToken:   cfg.WhatsApp.AuthToken,
			From:        cfg.WhatsApp.From,
			RateLimit:   cfg.WhatsApp.RateLimit,
			Concurrency: cfg.WhatsApp.Concurrency,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create whatsapp sender: %w", err)
		}
		senders = append(senders, waSender)
	} else {
		slog.Warn("whatsapp sender is disabled: whatsapp notifications will be rejected")
	}

	if cfg.Email.Enabled {
		emailSender, err := email.NewSender(email.Config{
			Enabled:      true,
			SMTPHost:     cfg.Email.SMTPHost,
			SMTPPort:     cfg.Email.SMTPPort,
			SMTPUser:     cfg.Email.SMTPUser,
			SMTPPassword: cfg.Email.SMTPPassword,
			FromAddress:  cfg.Email.FromAddress,
			Concurrency:  cfg.Email.Concurrency,
			Insecure:     cfg.Email.Insecure,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("create email sender: %w", err)
		}
		senders = append(senders, emailSender)
	} else {
		slog.Warn("email sender is disabled: email notifications will be rejected")
	}

	return senders, validToken, nil
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}
