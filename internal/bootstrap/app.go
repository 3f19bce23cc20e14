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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/lsiswin/RecyclingApi-sub001/internal/handler/http"
	wsHandler "github.com/lsiswin/RecyclingApi-sub001/internal/handler/websocket"
	"github.com/lsiswin/RecyclingApi-sub001/internal/hub"
	"github.com/lsiswin/RecyclingApi-sub001/internal/infra/mq/rabbitmq"
	gormpersistence "github.com/lsiswin/RecyclingApi-sub001/internal/infra/persistence/gorm"
	"github.com/lsiswin/RecyclingApi-sub001/internal/infra/setup"
	redisstate "github.com/lsiswin/RecyclingApi-sub001/internal/infra/state/redis"
	"github.com/lsiswin/RecyclingApi-sub001/internal/metrics"
	"github.com/lsiswin/RecyclingApi-sub001/internal/middleware"
	"github.com/lsiswin/RecyclingApi-sub001/internal/service"
	"github.com/lsiswin/RecyclingApi-sub001/internal/tasks"
	"github.com/lsiswin/RecyclingApi-sub001/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *worker.Scheduler
	Hub         *hub.Hub
	HttpServer  *http.Server

	events *rabbitmq.EventPublisher // 未配置 RabbitMQ 时为 nil
	cancel context.CancelFunc       // 停止 Hub 心跳与转发订阅
}

// NewApp 创建并初始化应用的所有组件
func NewApp() (*App, error) {
	// 1. 加载配置
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	// 2. 初始化 Logger。各包使用 logrus 的全局 Logger，因此直接配置它。
	log := logrus.StandardLogger()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, ForceColors: true})
	}
	logLevel, _ := logrus.ParseLevel(cfg.LogLevel) // cfg.LogLevel 已被 LoadConfig 验证
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)
	log.WithFields(logrus.Fields{"level": logLevel.String(), "node_id": cfg.NodeID}).Info("Logger initialized")

	// 3. 初始化基础设施
	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}
	log.Info("Database migrated")

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
	log.Info("Asynq client initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	var (
		eventPublisher service.EventPublisher = service.NopEventPublisher{}
		rabbit         *rabbitmq.EventPublisher
	)
	if cfg.RabbitMQURL != "" {
		rabbit, err = rabbitmq.NewEventPublisher(cfg.RabbitMQURL, cfg.RabbitExchange)
		if err != nil {
			// 集成事件不影响聊天主流程
			log.WithError(err).Warn("RabbitMQ unavailable, integration events disabled")
		} else {
			eventPublisher = rabbit
		}
	}
	log.Info("Infrastructure initialized successfully")

	// 4. 初始化 Repositories
	sessionRepo := gormpersistence.NewGormSessionRepository(db)
	messageRepo := gormpersistence.NewGormMessageRepository(db)
	staffRepo := gormpersistence.NewGormStaffRepository(db)
	stateRepo := redisstate.NewRedisStateRepository(redisClient, cfg.KeyPrefix)
	log.Info("Repositories initialized")

	// 5. 初始化 Services
	chatService := service.NewChatService(
		sessionRepo,
		messageRepo,
		staffRepo,
		stateRepo,
		stateRepo,
		tasks.NewMessageEnqueuer(asynqClient),
		metrics.NewCountingPublisher(eventPublisher, collector),
		cfg.Chat,
	)
	statsService := service.NewStatsService(sessionRepo, staffRepo, stateRepo, stateRepo, cfg.Chat)
	log.Info("Services initialized")

	// 6. 初始化 Hub
	hubInstance := hub.NewHub(chatService, redisstate.NewRedisRelay(redisClient, cfg.KeyPrefix), hub.Options{
		NodeID:            cfg.NodeID,
		MessageRate:       cfg.MessageRate,
		MessageBurst:      cfg.MessageBurst,
		HeartbeatInterval: chatService.Options().PresenceTTL / 3,
		Metrics:           collector,
	})
	log.Info("Hub initialized")

	// 7. 初始化 Handlers
	chatHandler := httpHandler.NewChatHandler(chatService, statsService, hubInstance)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, cfg.CORSOrigin)

	// 8. 初始化 Worker Server 与周期任务
	workerServer := worker.NewWorkerServer(
		redisClientOpt,
		10,
		worker.NewMessagePersistenceHandler(messageRepo, sessionRepo, collector),
		worker.NewSessionSweepHandler(chatService, hubInstance, collector),
		log,
	)
	scheduler := worker.NewScheduler(redisClientOpt, cfg.SweepInterval.String(), tasks.NewSessionSweepTask(cfg.SweepInterval), log)
	log.Info("Worker server initialized")

	// 9. 初始化 Gin Engine 和路由
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(collector))
	router.Use(middleware.CORS(cfg.CORSOrigin))

	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler(registry)))

	api := router.Group("/api/chat")
	api.Use(middleware.RateLimit(redisClient, cfg.KeyPrefix, cfg.RateLimitMax, cfg.RateLimitWindow))
	api.GET("/availability", chatHandler.Availability)

	staffRoutes := api.Group("")
	staffRoutes.Use(middleware.Auth(cfg.JWTSecret), middleware.RequireStaff(staffRepo))
	{
		staffRoutes.GET("/stats", chatHandler.Stats)
		staffRoutes.GET("/staff/online", chatHandler.OnlineStaff)
		staffRoutes.GET("/sessions", chatHandler.ListSessions)
		staffRoutes.GET("/sessions/:id", chatHandler.GetSession)
		staffRoutes.GET("/sessions/:id/messages", chatHandler.History)
		staffRoutes.POST("/sessions/:id/accept", chatHandler.Accept)
		staffRoutes.POST("/sessions/:id/close", chatHandler.Close)
		staffRoutes.POST("/sessions/:id/transfer", chatHandler.Transfer)
	}

	wsRoutes := router.Group("/ws/chat")
	{
		wsRoutes.GET("/visitor", websocketHandler.VisitorConnection)
		wsRoutes.GET("/staff", middleware.Auth(cfg.JWTSecret), middleware.RequireStaff(staffRepo), websocketHandler.StaffConnection)
	}
	log.Info("Router setup complete")

	// 10. 初始化 HTTP Server
	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Scheduler:   scheduler,
		Hub:         hubInstance,
		HttpServer:  httpServer,
		events:      rabbit,
	}, nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() error {
	a.Log.Info("Starting application background routines...")
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.Hub.Run()
	if err := a.Hub.StartRelay(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start relay: %w", err)
	}
	go a.Hub.RunHeartbeat(ctx)
	a.Log.Info("Hub routines started")

	go a.AsynqServer.Start()
	if err := a.Scheduler.Start(); err != nil {
		a.Log.WithError(err).Error("Could not start session sweep scheduler")
	}

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
	return nil
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新请求
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 关闭 WebSocket 连接、心跳与转发订阅
	if a.cancel != nil {
		a.cancel()
	}
	if a.Hub != nil {
		a.Hub.Stop()
	}

	// 3. 关闭调度器与 Worker，等待进行中的落库任务
	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.Log.Errorf("Error closing RabbitMQ publisher: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			a.Log.Errorf("Error closing database connection: %v", err)
		}
	}

	a.Log.Info("Application shutdown complete.")
}
