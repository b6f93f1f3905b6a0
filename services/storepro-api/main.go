package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"erp/ecommerce/storepro/internal/auth"
	"erp/ecommerce/storepro/internal/billing"
	"erp/ecommerce/storepro/internal/catalog"
	"erp/ecommerce/storepro/internal/config"
	"erp/ecommerce/storepro/internal/media"
	"erp/ecommerce/storepro/internal/notify"
	"erp/ecommerce/storepro/internal/orders"
	"erp/ecommerce/storepro/internal/payments"
	"erp/ecommerce/storepro/internal/platform/cache"
	"erp/ecommerce/storepro/internal/platform/dbx"
	"erp/ecommerce/storepro/internal/platform/httpx"
	"erp/ecommerce/storepro/internal/platform/telemetry"
	"erp/ecommerce/storepro/internal/storage"
	"erp/ecommerce/storepro/internal/storefront"
	"erp/ecommerce/storepro/internal/subscriptions"
)

const serviceName = "storepro-api"

// app holds the process-wide dependencies the router is built from.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	repo     storage.Repository
	cache    cache.Cache
	mail     *notify.Notifier
	gateway  billing.Gateway
	uploader media.Uploader
	limiter  *auth.RateLimiter
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)
	slog.SetDefault(logger)
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = uuid.NewString()
		logger.Warn("JWT_SECRET is not set, using an ephemeral secret; tokens will not survive a restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Stdout:       cfg.Telemetry.Stdout,
		Insecure:     cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	repo := openStorage(ctx, cfg, logger)
	defer repo.Close()
	listCache := openCache(ctx, cfg, logger)

	var mailer notify.Mailer = notify.LogMailer{Log: logger}
	if cfg.Email.Configured() {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:        cfg.Email.Host,
			Port:        cfg.Email.Port,
			User:        cfg.Email.User,
			Password:    cfg.Email.Password,
			FromName:    cfg.Email.FromName,
			FromAddress: cfg.Email.FromAddress,
			Timeout:     cfg.Email.Timeout,
		})
	} else {
		logger.Warn("EMAIL_HOST is not set, emails are logged instead of sent")
	}
	dispatcher := notify.NewDispatcher(mailer, logger, notify.Options{
		Workers:        cfg.Email.Workers,
		QueueSize:      cfg.Email.QueueSize,
		MaxAttempts:    cfg.Email.MaxAttempts,
		AttemptTimeout: cfg.Email.Timeout,
	})
	dispatcher.Start(ctx)
	notifier, err := notify.NewNotifier(dispatcher, logger, cfg.FrontendURL)
	if err != nil {
		return fmt.Errorf("email templates: %w", err)
	}

	uploader, err := media.NewCloudinary(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret, cfg.Cloudinary.Timeout)
	if err != nil {
		return err
	}
	if !cfg.Cloudinary.Configured() {
		logger.Warn("cloudinary is not configured, uploads will return 503")
	}
	if cfg.Stripe.SecretKey == "" {
		logger.Warn("STRIPE_SECRET_KEY is not set, checkout and subscriptions will return 503")
	}

	a := &app{
		cfg:      cfg,
		log:      logger,
		repo:     repo,
		cache:    listCache,
		mail:     notifier,
		gateway:  billing.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.Timeout),
		uploader: uploader,
		limiter:  auth.NewRateLimiter(cfg.Auth.LoginPerMinute, cfg.Auth.LoginBurst, httpx.Responder{Log: logger}),
	}
	go a.limiter.Run(ctx, time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           a.routes(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "env", cfg.Env, "mode", repo.Mode())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	err = errors.Join(
		srv.Shutdown(shutdownCtx),
		dispatcher.Close(shutdownCtx),
		shutdownTracing(shutdownCtx),
	)
	if c, ok := listCache.(interface{ Close() error }); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}

// openStorage connects to Postgres, falling back to the in-memory repository
// when no database is configured or reachable.
func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) storage.Repository {
	db, err := dbx.Open(ctx, cfg.Database.DSN(), dbx.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdle:     cfg.Database.ConnMaxIdle,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Warn("database unavailable, running in memory mode", "error", err)
		return storage.NewMemory()
	}
	repo, err := storage.NewPostgres(ctx, db)
	if err != nil {
		logger.Warn("schema setup failed, using memory mode", "error", err)
		_ = db.Close()
		return storage.NewMemory()
	}
	return repo
}

func openCache(ctx context.Context, cfg config.Config, logger *slog.Logger) cache.Cache {
	if cfg.Cache.TTL <= 0 {
		return cache.Nop{}
	}
	if cfg.Cache.RedisURL == "" {
		return cache.NewMemory(cfg.Cache.TTL)
	}
	rc, err := cache.NewRedis(ctx, cache.RedisOptions{
		URL:       cfg.Cache.RedisURL,
		Namespace: serviceName,
		TTL:       cfg.Cache.TTL,
		Logger:    logger,
	})
	if err != nil {
		logger.Warn("redis unavailable, using in-process cache", "error", err)
		return cache.NewMemory(cfg.Cache.TTL)
	}
	return rc
}

func (a *app) routes() http.Handler {
	rp := httpx.Responder{Log: a.log, Expose: a.cfg.Development()}
	tokens := auth.NewTokens(a.cfg.Auth.JWTSecret, a.cfg.Auth.JWTExpiresIn)
	guard := auth.NewGuard(tokens, a.repo, rp)

	authSvc := auth.NewService(a.repo, tokens, a.mail, a.cfg.Plans, a.log)
	catalogSvc := catalog.NewService(a.repo, a.cache, a.log)
	ordersSvc := orders.NewService(a.repo, a.mail, a.cache, a.log)
	paymentsSvc := payments.NewService(a.repo, ordersSvc, a.gateway, a.mail, a.cache, a.log, payments.Options{
		FrontendURL:   a.cfg.FrontendURL,
		WebhookSecret: a.cfg.Stripe.WebhookSecret,
	})
	subsSvc := subscriptions.NewService(a.repo, a.gateway, a.cfg.Plans, a.log, subscriptions.Options{
		FrontendURL:   a.cfg.FrontendURL,
		WebhookSecret: a.cfg.Stripe.SubscriptionWebhookSecret,
	})
	storefrontSvc := storefront.NewService(a.repo, a.cache, a.log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, telemetry.RequestLogger(a.log), middleware.Recoverer)
	r.Use(httpx.WithServerDefaults)
	r.Use(telemetry.HTTPMiddleware(serviceName, "/healthz"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.HTTP.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		rp.Fail(w, r, httpx.NotFound("router", "route not found"), "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "message": "method not allowed"})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"status":  "healthy",
			"service": serviceName,
			"mode":    a.repo.Mode(),
			"env":     a.cfg.Env,
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", auth.NewHandler(authSvc, guard, a.limiter, rp).Routes)
		r.Route("/products", catalog.NewHandler(catalogSvc, guard, rp).Routes)
		r.Route("/orders", orders.NewHandler(ordersSvc, guard, rp).Routes)
		r.Route("/payments", payments.NewHandler(paymentsSvc, guard, rp).Routes)
		r.Route("/subscriptions", subscriptions.NewHandler(subsSvc, guard, rp).Routes)
		r.Route("/public", storefront.NewHandler(storefrontSvc, rp).Routes)
		r.Route("/upload", media.NewHandler(a.uploader, guard, rp, a.log).Routes)
	})
	return r
}
