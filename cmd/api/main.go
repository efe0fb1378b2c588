package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"civy/internal/api"
	"civy/internal/auth"
	"civy/internal/config"
	"civy/internal/database"
	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/pdf"
	"civy/internal/raster"
	"civy/internal/service"
	"civy/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	log.Printf("api bootstrapped with db host=%s port=%d db=%s sslmode=%s",
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	log.Printf("database ready")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer asynqClient.Close()

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	authService, err := auth.NewAuthServiceFromFiles(
		cfg.Auth.PrivateKeyPath,
		cfg.Auth.PublicKeyPath,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	fallback, err := pdf.LoadFallbackFont(cfg.Fonts.FallbackPath)
	if err != nil {
		log.Fatalf("load fallback font: %v", err)
	}
	generator := pdf.NewGenerator(nil, pdf.WithFallbackFont(fallback))

	catalog, err := i18n.Load()
	if err != nil {
		log.Fatalf("load locales: %v", err)
	}
	catalog = catalog.Restrict(func(_ string, l pdf.Labels) bool { return generator.CanRender(l.Texts()...) })
	logger.Info("locales ready", slog.Any("languages", catalog.Languages()))
	html, err := htmlpreview.NewRenderer()
	if err != nil {
		log.Fatalf("init html renderer: %v", err)
	}
	rasterizer, err := raster.New(raster.WithFallbackFont(fallback))
	if err != nil {
		log.Fatalf("init rasterizer: %v", err)
	}

	resumes := service.NewResumeService(db, redisClient, cfg.Share.CacheTTL, service.Limits{
		FreeMaxResumes:    cfg.Limits.FreeMaxResumes,
		PremiumMaxResumes: cfg.Limits.PremiumMaxResumes,
	}, logger)
	billing := service.NewBillingService(db, service.Plans{
		Quarterly: cfg.Billing.PlanQuarterly,
		Yearly:    cfg.Billing.PlanYearly,
	}, logger)

	router := api.NewRouter(cfg, logger)
	api.RegisterRoutes(router, api.Deps{
		Config:      cfg,
		DB:          db,
		Redis:       redisClient,
		Queue:       asynqClient,
		Storage:     storageClient,
		Scanner:     api.NewClamdScanner(cfg.Clamd.Addr),
		AuthService: authService,
		Resumes:     resumes,
		Billing:     billing,
		Generator:   generator,
		HTML:        html,
		Rasterizer:  rasterizer,
		Catalog:     catalog,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start api server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", slog.Any("error", err))
	}
}
