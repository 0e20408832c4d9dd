package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vitalscore/internal/cache"
	"vitalscore/internal/cohort"
	"vitalscore/internal/config"
	"vitalscore/internal/db"
	"vitalscore/internal/handlers"
	"vitalscore/internal/metrics"
	mw "vitalscore/internal/middleware"
	"vitalscore/internal/scoring"
	"vitalscore/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	logger, err := cfg.Logger()
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET is required")
	}

	policy, err := cfg.Policy()
	if err != nil {
		logger.Fatal("failed to load scoring policy", zap.String("file", cfg.ScoringPolicyFile), zap.Error(err))
	}
	engine, err := scoring.NewEngine(policy, logger.Named("scoring"))
	if err != nil {
		logger.Fatal("invalid scoring policy", zap.Error(err))
	}

	sealer, err := cfg.NotesSealer()
	if err != nil {
		logger.Fatal("invalid notes key", zap.Error(err))
	}
	if sealer == nil {
		logger.Warn("NOTES_ENCRYPTION_KEY not set; check-in notes are stored as plaintext")
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var dbConn *sqlx.DB
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; scoring works but nothing is stored")
	} else {
		dbConn, err = sqlx.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to open db", zap.Error(err))
		}
		dbConn.SetMaxOpenConns(10)
		dbConn.SetConnMaxLifetime(2 * time.Hour)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err = dbConn.PingContext(ctx); err != nil {
			cancel()
			logger.Fatal("failed to ping db", zap.Error(err))
		}
		if err := db.RunMigrations(ctx, dbConn); err != nil {
			cancel()
			logger.Fatal("failed migrations", zap.Error(err))
		}
		cancel()
	}

	redisClient := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := cache.Ping(ctx, redisClient); err != nil {
			logger.Warn("redis unreachable; cohort reports will not be cached", zap.Error(err))
			redisClient = nil
		}
		cancel()
	}
	var reportCache *cache.ReportCache
	if redisClient != nil {
		reportCache = cache.NewReportCache(redisClient, cfg.ReportCacheTTL)
	}

	aggregator := cohort.NewAggregator(
		cohort.WithWorkers(cfg.CohortWorkers),
		cohort.WithTimeout(cfg.CohortTimeout),
		cohort.WithLogger(logger.Named("cohort")),
		cohort.WithMetrics(m),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(mw.RequestLogger(logger, "/healthz", "/metrics"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	authMW := mw.NewAuthMiddleware([]byte(cfg.JWTSecret))

	var (
		st          *store.Store
		assessments handlers.AssessmentStore
		pinger      handlers.Pinger
	)
	if dbConn != nil {
		st = store.New(dbConn).WithNotesSealer(sealer)
		assessments, pinger = st, dbConn
	}
	assessmentHandler := handlers.NewAssessmentHandler(engine, assessments, m, logger)

	r.Get("/healthz", handlers.Healthz(pinger))
	r.Route("/api", func(api chi.Router) {
		api.Use(authMW.RequireAuth)
		api.Post("/assessment/score", assessmentHandler.Score)
		api.Get("/assessment/latest", assessmentHandler.Latest)
		if st == nil {
			return
		}

		checkinHandler := handlers.NewCheckinHandler(st, logger)
		adherenceHandler := handlers.NewAdherenceHandler(st, m, logger)
		adminHandler := handlers.NewAdminHandler(st, aggregator, reportCache, m, logger)
		api.Post("/enroll", checkinHandler.Enroll)
		api.Post("/checkin", checkinHandler.Upsert)
		api.Delete("/checkin", checkinHandler.Delete)
		api.Get("/checkins", checkinHandler.List)
		api.Get("/adherence", adherenceHandler.Get)
		api.Group(func(admin chi.Router) {
			admin.Use(mw.RequireAdmin(st))
			admin.Get("/admin/cohort", adminHandler.Cohort)
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown initiated")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if dbConn != nil {
		_ = dbConn.Close()
	}
	logger.Info("server stopped")
}
