// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/yourusername/pdf-toolkit/internal/auth"
	"github.com/yourusername/pdf-toolkit/internal/config"
	"github.com/yourusername/pdf-toolkit/internal/genimage"
	"github.com/yourusername/pdf-toolkit/internal/jobs"
	"github.com/yourusername/pdf-toolkit/internal/pdfengine"
	"github.com/yourusername/pdf-toolkit/internal/pipeline"
	"github.com/yourusername/pdf-toolkit/internal/raster"
	"github.com/yourusername/pdf-toolkit/internal/storage"
	"github.com/yourusername/pdf-toolkit/internal/users"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	// セッションストアの設定（クッキー署名鍵は必須）
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == gin.ReleaseMode,
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	// CORS許可オリジンを設定（カンマ区切りの文字列を配列に変換）
	origins := strings.Split(cfg.CORSAllowedOrigins, ",")
	corsConfig.AllowOrigins = origins
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	// フロントエンドがレスポンスヘッダーから CSRF トークンを読み取れるように公開
	corsConfig.ExposeHeaders = []string{"X-CSRF-Token"}
	router.Use(cors.New(corsConfig))

	// 依存コンポーネントの初期化
	redisOpt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		log.Fatalf("Failed to parse redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpt)

	userStore := users.NewStore(redisClient)
	if cfg.AdminUsername != "" && cfg.AdminPasswordHash != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := userStore.Seed(ctx, cfg.AdminUsername, cfg.AdminPasswordHash); err != nil {
			log.Printf("admin seed skipped: %v", err)
		}
		cancel()
	}

	local, err := storage.NewLocal(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to prepare data dir: %v", err)
	}

	svc := pipeline.NewService(
		cfg,
		local,
		pdfengine.New(),
		rasterEngine{r: raster.New()},
		genimage.New(cfg.GeminiAPIKey, cfg.GeminiModel),
		log.Default(),
	)

	manager, err := setupJobs(cfg, svc, redisClient)
	if err != nil {
		log.Fatalf("Failed to set up job queue: %v", err)
	}
	manager.StartWorkers()
	defer func() {
		_ = manager.Shutdown(context.Background())
	}()

	// ルーティングの設定
	authManager := auth.NewManager(cfg, userStore)
	setupRoutes(router, cfg, authManager, svc, manager)

	// サーバーの起動
	addr := ":" + cfg.Port
	log.Printf("Starting API server on %s (mode: %s)", addr, cfg.GinMode)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// rasterEngine は具象型を返す raster.Renderer をパイプラインの契約に合わせます。
type rasterEngine struct {
	r *raster.Renderer
}

func (e rasterEngine) Open(path string) (pipeline.RasterDocument, error) {
	return e.r.Open(path)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "pdf-toolkit-api",
		"version": "0.1.0",
	})
}

// setupRoutes は API グループと認証周りの配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, authManager *auth.Manager, svc *pipeline.Service, manager *jobs.Manager) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)

	api := router.Group("/api")
	{
		authRoutes := api.Group("/auth")
		{
			// ログイン時はセッション未生成なので CSRF 検証は不要
			authRoutes.POST("/login", authManager.Login)
			authRoutes.POST("/logout",
				authManager.RequireLogin(),
				authManager.VerifyCSRF(),
				authManager.Logout,
			)
			authRoutes.GET("/me", authManager.RequireLogin(), authManager.Me)
		}

		protected := api.Group("")
		protected.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
		{
			opts := pipeline.HandlerOptions{
				Scheduler:           manager,
				AsyncThresholdBytes: cfg.AsyncThresholdBytes,
				AsyncThresholdPages: cfg.AsyncThresholdPages,
			}

			protected.POST("/files", pipeline.UploadHandler(svc))
			protected.GET("/files", pipeline.ListFilesHandler(svc))
			protected.DELETE("/files", pipeline.ClearFilesHandler(svc))
			protected.GET("/files/archive", pipeline.ArchiveHandler(svc))
			protected.DELETE("/files/:id", pipeline.RemoveFileHandler(svc))
			protected.PUT("/files/:id/range", pipeline.PageSelectionHandler(svc))
			protected.POST("/files/:id/extract", pipeline.QuickExtractHandler(svc))
			protected.GET("/files/:id/download", pipeline.DownloadHandler(svc))

			protected.POST("/run", pipeline.RunHandler(svc, opts))
			protected.POST("/run/batch", pipeline.RunBatchHandler(svc))

			protected.GET("/jobs/:id", jobStatusHandler(manager))

			admin := protected.Group("/admin", authManager.RequireAdmin())
			{
				admin.GET("/users", authManager.ListUsers)
				admin.POST("/users", authManager.AddUser)
				admin.DELETE("/users/:username", authManager.DeleteUser)
				admin.PUT("/users/:username/password", authManager.ChangePassword)
				admin.PUT("/users/:username/permissions", authManager.UpdatePermissions)
			}
		}
	}
}
