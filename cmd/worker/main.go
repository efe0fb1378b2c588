package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"civy/internal/config"
	"civy/internal/database"
	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/metrics"
	"civy/internal/pdf"
	"civy/internal/service"
	"civy/internal/snapshot"
	"civy/internal/storage"
	"civy/internal/tasks"
	"civy/internal/worker"
)

func main() {
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	log.Println("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	log.Printf("storage client ready, bucket=%s", cfg.MinIO.Bucket)

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
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
	html, err := htmlpreview.NewRenderer()
	if err != nil {
		log.Fatalf("init html renderer: %v", err)
	}

	resumes := service.NewResumeService(db, redisClient, cfg.Share.CacheTTL, service.Limits{
		FreeMaxResumes:    cfg.Limits.FreeMaxResumes,
		PremiumMaxResumes: cfg.Limits.PremiumMaxResumes,
	}, logger)

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues:      map[string]int{"default": 1},
	})

	pdfHandler := worker.NewPDFTaskHandler(resumes, storageClient, generator, catalog, redisClient, logger)
	thumbHandler := worker.NewThumbnailHandler(
		resumes,
		storageClient,
		snapshot.NewChromium(snapshot.Options{BrowserBin: cfg.Worker.BrowserBin}),
		html,
		catalog,
		logger,
	)

	mux := asynq.NewServeMux()
	mux.Use(metrics.TaskMetrics())
	mux.Handle(tasks.TypePDFExport, pdfHandler)
	mux.Handle(tasks.TypeResumeThumbnail, thumbHandler)

	logger.Info("worker service started", slog.String("redis_addr", redisAddr))
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
