package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/IoavM/marcasagua/config"
	"github.com/IoavM/marcasagua/handler"
	"github.com/IoavM/marcasagua/middleware"
	"github.com/IoavM/marcasagua/service"
	"github.com/IoavM/marcasagua/service/opencv"
	"github.com/IoavM/marcasagua/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	BuildID   = "unknown"
	GitCommit = "unknown"
	GitBranch = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file")
	flag.Parse()

	// 加载配置
	cfg := config.NewFromPath(*configPath)

	// 初始化日志
	if err := utils.InitLogger(cfg.Server.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer utils.Sync()

	utils.Logger.Info("starting marcasagua server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("git_branch", GitBranch))

	// 初始化Redis结果缓存，不可用时关闭缓存
	var cache service.ResultCache
	if cfg.Redis.Enabled {
		redisService := service.NewRedisService(&cfg.Redis)
		defer redisService.Close()
		if err := redisService.Ping(context.Background()); err != nil {
			utils.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			utils.Logger.Info("redis connected successfully")
			cache = redisService
		}
	}

	// 初始化修复服务
	inpaintService, err := service.NewInpaintService(&cfg.Inpaint, opencv.NewInpainter(cfg.Inpaint.MaskDilation), cache)
	if err != nil {
		utils.Logger.Fatal("invalid inpaint config", zap.Error(err))
	}
	pipeline := service.NewPipeline(&cfg.Canvas, &cfg.Upload, inpaintService)
	store := service.NewSessionStore(&cfg.Session)

	// 初始化Handler
	sessionHandler := handler.NewSessionHandler(cfg, store, pipeline)

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 创建路由
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())
	r.MaxMultipartMemory = cfg.Upload.MaxSize

	// 静态文件服务
	r.Static("/static", "./static")
	r.StaticFile("/", "./static/index.html")

	// 健康检查和版本信息
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":   "ok",
			"version":  Version,
			"sessions": store.Len(),
			"cache":    cache != nil,
		})
	})

	r.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    Version,
			"build_time": BuildTime,
			"build_id":   BuildID,
			"git_commit": GitCommit,
			"git_branch": GitBranch,
		})
	})

	// API路由
	sessionHandler.Register(r.Group("/api/v1"))

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 启动服务器
	utils.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		utils.Logger.Fatal("failed to start server", zap.Error(err))
	}
}
