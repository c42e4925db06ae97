package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"prompt-architect-backend/internal/config"
	"prompt-architect-backend/internal/handler"
	"prompt-architect-backend/internal/llm"
	"prompt-architect-backend/internal/service"
	"prompt-architect-backend/internal/storage"
	"prompt-architect-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// 初始化存储
	store := newStorage(cfg)
	defer store.Close()

	// 初始化模型
	generator, err := llm.New(cfg)
	if err != nil {
		logger.Fatalf("Failed to init generator: %v", err)
	}
	logger.Infof("使用模型服务: %s", generator.Name())

	// 初始化服务
	workspaceService := service.NewWorkspaceService(store, generator, cfg)
	if err := workspaceService.RecoverInterrupted(); err != nil {
		logger.Warnf("Failed to recover interrupted submissions: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go workspaceService.RunCleanup(ctx, cfg.Session.TTL, cfg.Session.CleanupInterval)

	// 初始化处理器
	workspaceHandler := handler.NewWorkspaceHandler(workspaceService, cfg.Upload.MaxFileBytes, cfg.Upload.MaxRequestBytes)

	var limiter *handler.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = handler.NewRateLimiter(cfg.RateLimit)
	}

	// 创建路由
	router := setupRouter(cfg, workspaceHandler, limiter)

	// 创建HTTP服务器
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("服务器关闭失败: %v", err)
	}

	if cfg.Storage.Type == "disk" {
		if err := store.Backup(); err != nil {
			logger.Errorf("存储备份失败: %v", err)
		}
	}
	logger.Info("服务器已关闭")
}

// newStorage 按配置创建存储，磁盘存储初始化失败时退回内存存储
func newStorage(cfg *config.Config) storage.Storage {
	var store storage.Storage

	if cfg.Storage.Type == "disk" {
		store = storage.NewDiskStorage(cfg.Storage.DataDir, cfg.Storage.CacheSize)
	} else {
		store = storage.NewMemoryStorage(cfg.Session.TTL, cfg.Session.CleanupInterval)
	}

	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage(cfg.Session.TTL, cfg.Session.CleanupInterval)
		if err := store.Init(); err != nil {
			logger.Fatalf("Failed to initialize memory storage: %v", err)
		}
	}
	return store
}

func setupRouter(cfg *config.Config, workspaceHandler *handler.WorkspaceHandler, limiter *handler.RateLimiter) *gin.Engine {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})

	// API路由
	handler.RegisterRoutes(router.Group("/api"), workspaceHandler, limiter)

	return router
}
