package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ms-reservations/internal/analytics"
	analytics_api "ms-reservations/internal/analytics/api"
	"ms-reservations/internal/auth"
	"ms-reservations/internal/bulk"
	"ms-reservations/internal/capacity"
	"ms-reservations/internal/checkin"
	"ms-reservations/internal/config"
	"ms-reservations/internal/database"
	"ms-reservations/internal/database/migrations"
	"ms-reservations/internal/events"
	"ms-reservations/internal/expiry"
	"ms-reservations/internal/kafka"
	"ms-reservations/internal/logger"
	"ms-reservations/internal/metrics"
	"ms-reservations/internal/notify"
	"ms-reservations/internal/pricing"
	"ms-reservations/internal/reservation"
	"ms-reservations/internal/reservation/reservation_api"
	"ms-reservations/internal/sse"
	"ms-reservations/internal/utils"
	"ms-reservations/internal/waitlist"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

func main() {
	log := logger.NewLogger("reservations")
	defer log.Close()

	log.Info("APP", "Starting Reservation Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
	if err := runner.RunMigrations(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", err.Error())
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Capacity locks: Redis when several instances share the database, else in-process.
	var locker capacity.Locker = capacity.NewLocalLocker()
	var sweepLock expiry.SweepLock
	if redisClient != nil {
		locker = capacity.NewRedisLocker(redisClient, cfg.Reservation.LockTTL, cfg.Reservation.LockRetries)
		sweepLock = capacity.NewRedisLocker(redisClient, cfg.Reservation.SweepLockTTL, 0)
		log.Info("CAPACITY", "Using Redis event locks")
	}

	catalog, pricingCache := buildCatalog(cfg, bunDB, redisClient, log)

	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.Notifications, cfg.Kafka.Topics.ConfigChanged, cfg.Kafka.Topics.StatusChanged}
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
	}

	m := metrics.New()

	dispatcher := notify.NewDispatcher(notify.NewTransport(cfg, log), notify.Options{
		Buffer:     cfg.Notifier.Buffer,
		Workers:    cfg.Notifier.Workers,
		MaxElapsed: cfg.Notifier.MaxElapsed,
	}, log)
	dispatcher.OnResult = m.NotificationResult
	dispatcher.Start(context.WithoutCancel(ctx))

	reservations := reservation.NewService(bunDB, locker, catalog, dispatcher, log, reservation.Config{
		OptionTTL:  cfg.Reservation.OptionTTL,
		MaxRetries: cfg.Reservation.MaxRetries,
		SweepBatch: cfg.Reservation.SweepBatch,
	})
	wl := waitlist.NewService(bunDB, reservations, dispatcher, log, cfg.Reservation.WaitlistOfferTTL)
	reservations.SetPromoter(wl)

	emitter := sse.NewCapacityEmitter()
	reservations.AddListener(emitter)
	reservations.AddListener(m)

	var statusProducer *kafka.Producer
	var statusEvents *events.StatusPublisher
	if cfg.Kafka.Enabled {
		statusProducer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.StatusChanged)
		statusEvents = events.NewStatusPublisher(statusProducer, log, cfg.Notifier.StatusQueue)
		statusEvents.Start()
		reservations.AddListener(statusEvents)
		log.Info("KAFKA", fmt.Sprintf("Publishing status changes to %s", cfg.Kafka.Topics.StatusChanged))

		if pricingCache != nil {
			consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ConfigChanged, cfg.Kafka.GroupID, log)
			go func() {
				if err := consumer.Run(ctx, events.PricingInvalidation(pricingCache, log)); err != nil {
					log.Error("KAFKA", fmt.Sprintf("Config change consumer stopped: %v", err))
				}
			}()
			defer consumer.Close()
		}
	}

	// The ledger is derived state; rebuild it before taking traffic.
	if drift, err := reservations.ReconcileAll(ctx); err != nil {
		log.Error("CAPACITY", fmt.Sprintf("Startup reconcile failed: %v", err))
	} else {
		log.Info("CAPACITY", fmt.Sprintf("Startup reconcile done for %d events", len(drift)))
	}

	scheduler := expiry.NewScheduler(reservations, wl, sweepLock, log, expiry.Options{
		Interval: cfg.Reservation.SweepInterval,
		Batch:    cfg.Reservation.SweepBatch,
	})
	scheduler.OnSweep = m.ObserveSweep
	if cfg.Reservation.SweepEnabled {
		scheduler.Start(ctx)
	} else {
		log.Info("SWEEP", "Periodic option sweep disabled, expecting an external option-sweeper run")
	}

	authMiddleware, err := buildAuth(ctx, cfg, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	handler := reservation_api.NewHandler(
		reservations,
		wl,
		bulk.NewCoordinator(reservations, reservations.Store(), log, cfg.Reservation.BulkParallelism),
		scheduler,
		checkin.NewQRGenerator(cfg.QR.Secret, cfg.QR.Size, reservations),
		emitter,
		log,
	)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(bunDB), log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(requestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/api", func(r chi.Router) {
		handler.RegisterPublicRoutes(r)
		log.Info("ROUTER", "Public reservation routes registered under /api")

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(auth.RequireRole(cfg.Auth.AdminRole, log))
			r.Route("/admin", func(r chi.Router) {
				handler.RegisterAdminRoutes(r)
				analyticsHandler.RegisterRoutes(r)
				r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
					workers := map[string]interface{}{
						"sweeper":  scheduler.GetStats(),
						"notifier": dispatcher.Stats(),
					}
					if statusEvents != nil {
						workers["status_events"] = statusEvents.Stats()
					}
					_ = utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Background workers", workers))
				})
			})
			log.Info("ROUTER", fmt.Sprintf("Admin routes registered under /api/admin (role %s)", cfg.Auth.AdminRole))
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		WriteTimeout: 0, // capacity streams stay open
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Reservation Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	scheduler.Stop()
	if err := dispatcher.Close(); err != nil {
		log.Error("NOTIFY", fmt.Sprintf("Dispatcher close: %v", err))
	}
	if statusEvents != nil {
		statusEvents.Close()
	}
	if statusProducer != nil {
		if err := statusProducer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Status producer close: %v", err))
		}
	}
	log.Info("APP", "Reservation Service shutdown complete")
}

func buildCatalog(cfg *config.Config, bunDB *bun.DB, redisClient *redis.Client, log *logger.Logger) (*pricing.Catalog, *pricing.CachedSource) {
	var source pricing.Source = &pricing.DBSource{Bun: bunDB}
	var cache *pricing.CachedSource
	if redisClient != nil {
		cache = pricing.NewCachedSource(source, redisClient, cfg.Pricing.CacheTTL, log)
		source = cache
	}

	rules := map[string]pricing.AddOnRule{}
	for key, a := range map[string]config.AddOnConfig{
		pricing.AddOnPreDrink:   cfg.Pricing.PreDrink,
		pricing.AddOnAfterParty: cfg.Pricing.AfterParty,
	} {
		price, err := decimal.NewFromString(a.PricePerPerson)
		if err != nil {
			log.Fatal("CONFIG", fmt.Sprintf("Invalid %s price %q: %v", key, a.PricePerPerson, err))
		}
		rules[key] = pricing.AddOnRule{PricePerPerson: price, MinPersons: a.MinPersons}
	}
	return pricing.NewCatalog(source, rules), cache
}

// buildAuth prefers OIDC, then HMAC tokens. AUTH_DISABLED treats every caller as an admin.
func buildAuth(ctx context.Context, cfg *config.Config, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	switch {
	case cfg.Auth.Disabled:
		log.Warn("AUTH", "Authentication disabled, all admin routes are open")
		return auth.Anonymous("anonymous", cfg.Auth.AdminRole), nil
	case cfg.Auth.OIDCIssuer != "":
		v, err := auth.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("oidc verifier: %w", err)
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens from %s", cfg.Auth.OIDCIssuer))
		return auth.Middleware(v, log), nil
	default:
		v, err := auth.NewHMACVerifier(cfg.Auth.JWTSecret)
		if err != nil {
			return nil, fmt.Errorf("hmac verifier: %w", err)
		}
		log.Info("AUTH", "Verifying HS256 tokens")
		return auth.Middleware(v, log), nil
	}
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.LogAPI(r.Method, r.URL.Path, strconv.Itoa(status), time.Since(start).String())
		})
	}
}
