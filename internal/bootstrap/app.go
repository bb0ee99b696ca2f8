package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"impostor-game/internal/domain"
	httpHandler "impostor-game/internal/handler/http"
	wsHandler "impostor-game/internal/handler/websocket"
	"impostor-game/internal/hub"
	gormpersistence "impostor-game/internal/infra/persistence/gorm"
	"impostor-game/internal/infra/setup"
	redisstate "impostor-game/internal/infra/state/redis"
	"impostor-game/internal/middleware"
	"impostor-game/internal/service"
	"impostor-game/internal/tasks"
	"impostor-game/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Hub         *hub.Hub
	HttpServer  *http.Server
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger
	log := NewLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DBOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database initialized and migrated")

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	historyRepo := gormpersistence.NewGormHistoryRepository(db)
	statsRepo := gormpersistence.NewGormUserStatsRepository(db)
	wordRepo := gormpersistence.NewGormWordRepository(db)
	seedCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err = wordRepo.EnsureWords(seedCtx, domain.DefaultSecretWords)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("failed to seed secret words: %w", err)
	}

	roomStore := redisstate.NewRedisRoomStore(redisClient, cfg.KeyPrefix)
	presenceStore := redisstate.NewRedisPresenceStore(redisClient, cfg.KeyPrefix)
	locker := redisstate.NewRedisRoomLocker(redisClient, cfg.KeyPrefix, cfg.RoomLockTTL)
	log.Info("Repositories initialized")

	// 5. 初始化 Hub 和 Services。Hub 是服务的广播出口，服务又是 Hub 的入站处理者。
	hubInstance := hub.NewHub(redisClient, cfg.KeyPrefix)
	presenceService := service.NewPresenceService(roomStore, presenceStore, locker, hubInstance, cfg.PresenceConfig())
	gameService := service.NewGameService(roomStore, presenceStore, historyRepo, wordRepo, locker, hubInstance, cfg.GameConfig())
	gameService.SetFlushRetrier(tasks.NewFlushEnqueuer(asynqClient))
	replayService := service.NewReplayService(historyRepo, statsRepo)
	hubInstance.SetServices(presenceService, gameService)
	log.Info("Hub and services initialized")

	// 6. 初始化 Handlers
	roomHandler := httpHandler.NewRoomHandler(presenceService)
	historyHandler := httpHandler.NewHistoryHandler(replayService)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, presenceService, cfg.CORSAllowedOrigin)

	// 7. 初始化 Worker Server
	workerServer := worker.NewWorkerServer(redisClientOpt, gameService, roomStore, gameService, cfg.SweepSchedule, log)

	// 8. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(log))
	router.Use(CORSMiddleware(cfg.CORSAllowedOrigin))

	api := router.Group("/api")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	{
		api.POST("/rooms", roomHandler.CreateRoom)
		api.GET("/rooms/:roomId/players", roomHandler.ListPlayers)

		api.GET("/users/:username/history", historyHandler.ListUserGames)
		api.GET("/users/:username/stats", historyHandler.UserStats)

		api.GET("/games/:gameId", historyHandler.FullGame)
		api.GET("/games/:gameId/next", historyHandler.NextAny)
		api.GET("/games/:gameId/next-significant", historyHandler.NextSignificant)
		api.GET("/games/:gameId/checkpoints", historyHandler.Checkpoints)
	}

	wsRoutes := router.Group("/ws")
	if cfg.JWTSecret != "" {
		wsRoutes.Use(middleware.Auth(cfg.JWTSecret))
	} else {
		log.Warn("JWT_SECRET not set, websocket connections are not authenticated")
	}
	wsRoutes.GET("/room/:roomId", websocketHandler.HandleConnection)

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong", "localRooms": len(hubInstance.LocalRooms())})
	})
	log.Info("Router setup complete")

	// 9. 组装 App 对象
	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Hub:         hubInstance,
		HttpServer: &http.Server{
			Addr:              ":" + cfg.ServerPort,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	log.Info("Application assembled successfully")
	return app, nil
}

// NewLogger 按运行环境创建 logrus Logger，并同步设置全局 logger。
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// 服务层和仓库层使用全局 logrus
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	go a.AsynqServer.Start()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	// 2. 停止 Hub 和 Redis 订阅
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 3. 优雅关闭 Worker Server 和调度器
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	// 4. 关闭 Asynq Client
	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}

	// 5. 关闭 Redis 连接
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}

	// 6. 关闭数据库连接池
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}

	a.Log.Info("Application shutdown complete.")
}
