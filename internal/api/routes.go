package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"civy/internal/api/middleware"
	"civy/internal/auth"
	"civy/internal/config"
	"civy/internal/htmlpreview"
	"civy/internal/i18n"
	"civy/internal/preview"
	"civy/internal/service"
)

const webhookSecretHeader = "X-Webhook-Secret"

// Deps 汇总路由所需的全部依赖，由 cmd/api 组装。
type Deps struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       redis.UniversalClient
	Queue       TaskEnqueuer
	Storage     ObjectStore
	Scanner     VirusScanner
	AuthService *auth.AuthService
	Resumes     *service.ResumeService
	Billing     *service.BillingService
	Generator   Generator
	HTML        *htmlpreview.Renderer
	Rasterizer  preview.Rasterizer
	Catalog     *i18n.Catalog
	Logger      *slog.Logger
}

// RegisterRoutes 注册 API 路由，不包含 /api 前缀。
func RegisterRoutes(router *gin.Engine, d Deps) {
	cfg := d.Config
	origins := cfg.API.Origins()
	docs := &documents{generator: d.Generator, html: d.HTML, catalog: d.Catalog, objects: d.Storage}

	authHandler := NewAuthHandler(d.DB, d.AuthService, d.Redis, d.Logger, cfg.Auth, cfg.API.CookieDomain)
	resumeHandler := NewResumeHandler(d.Resumes, d.Queue, d.Storage, docs)
	publicHandler := NewPublicHandler(d.Resumes, docs)
	accountHandler := NewAccountHandler(d.Resumes, d.Billing)
	assetHandler := NewAssetHandler(d.Storage, d.Scanner, cfg.Limits.MaxUploadBytes)
	wsHandler := NewWsHandler(d.Redis, d.AuthService, d.Logger, origins)
	previewHandler := NewPreviewHandler(d.Resumes, docs, d.Rasterizer, d.AuthService, cfg.Preview, d.Logger, origins)

	authMiddleware := middleware.AuthMiddleware(d.AuthService)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()

	v1 := router.Group("/v1")
	{
		v1.GET("/ws", wsHandler.HandleConnection)
		v1.GET("/preview/ws", previewHandler.HandleConnection)

		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/register", authHandler.Register)
			authGroup.POST("/login", authHandler.Login)
			authGroup.POST("/refresh", authHandler.Refresh)
			authGroup.POST("/logout", authMiddleware, authHandler.Logout)
			authGroup.POST("/change-password", authMiddleware, authHandler.ChangePassword)
		}

		resumeGroup := v1.Group("/resumes")
		resumeGroup.Use(authMiddleware, passwordGate)
		{
			resumeGroup.GET("", resumeHandler.ListResumes)
			resumeGroup.POST("", resumeHandler.CreateResume)
			resumeGroup.GET("/:id", resumeHandler.GetResume)
			resumeGroup.PUT("/:id", resumeHandler.UpdateResume)
			resumeGroup.DELETE("/:id", resumeHandler.DeleteResume)
			resumeGroup.POST("/:id/duplicate", resumeHandler.DuplicateResume)
			resumeGroup.POST("/:id/visibility", resumeHandler.ToggleVisibility)
			resumeGroup.POST("/:id/slug", resumeHandler.RegenerateSlug)
			resumeGroup.GET("/:id/pdf", resumeHandler.RenderPDF)
			resumeGroup.GET("/:id/preview.html", resumeHandler.PreviewHTML)
			resumeGroup.POST("/:id/export", resumeHandler.ExportResume)
			resumeGroup.GET("/:id/download-link", resumeHandler.GetDownloadLink)
		}

		publicGroup := v1.Group("/p")
		publicGroup.Use(PublicRateLimit(d.Redis, cfg.Limits.PublicRequestsPerMin))
		{
			publicGroup.GET("/:slug", publicHandler.GetShared)
			publicGroup.GET("/:slug/pdf", publicHandler.SharedPDF)
			publicGroup.GET("/:slug/html", publicHandler.SharedHTML)
		}

		accountGroup := v1.Group("")
		accountGroup.Use(authMiddleware, passwordGate)
		{
			accountGroup.GET("/export", accountHandler.ExportData)
			accountGroup.POST("/billing/activate", accountHandler.Activate)
		}

		v1.POST("/webhooks/billing",
			middleware.SharedSecretMiddleware(webhookSecretHeader, cfg.Billing.WebhookSecret),
			accountHandler.Webhook,
		)

		assetGroup := v1.Group("/assets")
		assetGroup.Use(authMiddleware, passwordGate)
		{
			assetGroup.POST("/photo", assetHandler.UploadPhoto)
			assetGroup.GET("/view", assetHandler.GetAssetURL)
		}
	}
}
