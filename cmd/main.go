package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SIRI-bit-tech/bidforge-sub000/application/usecases/messaging"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/channel"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/config"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/logger"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/notify"
	repositories "github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/persistence/repository"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/ratelimit"
	"github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/security"
	ws "github.com/SIRI-bit-tech/bidforge-sub000/infrastructure/websocket"
	wsCtrl "github.com/SIRI-bit-tech/bidforge-sub000/presentation/controllers/websocket"
	"github.com/SIRI-bit-tech/bidforge-sub000/presentation/middlewares"
)

func main() {
	cfg := config.GetConfig()

	var loggerInstance *logger.Logger
	var err error
	if cfg.IsProduction() {
		loggerInstance, err = logger.NewProductionLogger()
	} else {
		loggerInstance, err = logger.NewDevelopmentLogger()
	}
	if err != nil {
		log.Fatal(fmt.Errorf("error initializing logger: %w", err))
	}
	defer func() {
		_ = loggerInstance.Log.Sync()
	}()

	loggerInstance.Info("Starting BidForge messaging gateway")

	dbPool, err := pgxpool.New(context.Background(), cfg.GetPostgresConnectionString())
	if err != nil {
		loggerInstance.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(context.Background()); err != nil {
		loggerInstance.Fatal("Failed to ping database", zap.Error(err))
	}
	loggerInstance.Info("Database connection established")

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddress(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Db,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	})
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		loggerInstance.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	loggerInstance.Info("Redis connection established")

	messageRepo := repositories.NewMessageRepository(rdb)
	authRepo := repositories.NewAuthorizationRepository(dbPool, loggerInstance)

	messagingUC := messaging.NewMessagingUseCase(messageRepo, authRepo, loggerInstance, cfg.Gateway.MaxMessageLength)

	channels := channel.NewService(rdb, cfg.Gateway.ChannelRetention, loggerInstance)
	notifier := notify.NewNotifier(rdb, loggerInstance)
	verifier := security.NewTokenVerifier(cfg.JWT)
	limiter := ratelimit.NewLimiter()

	roomMgr := ws.NewRoomManager()
	core := ws.NewCore(roomMgr, messagingUC, channels, limiter, notifier, cfg.Gateway, loggerInstance)

	coreCtx, coreCancel := context.WithCancel(context.Background())
	defer coreCancel()
	go core.Run(coreCtx)

	janitorStop := make(chan struct{})
	defer close(janitorStop)
	go limiter.RunJanitor(janitorStop, time.Minute)

	switch cfg.Server.RunMode {
	case "release", "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middlewares.GinLogger(loggerInstance))
	router.Use(middlewares.CorsMiddleware(cfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	controller := wsCtrl.NewWebSocketController(cfg.Gateway, verifier, limiter, roomMgr, core, loggerInstance)
	router.GET("/ws", controller.HandleConnection)

	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	go func() {
		loggerInstance.Info("Server starting",
			zap.String("port", cfg.Server.Port),
			zap.String("mode", cfg.Server.RunMode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			loggerInstance.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	loggerInstance.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		loggerInstance.Error("Server forced to shutdown", zap.Error(err))
	}

	core.Shutdown()
	loggerInstance.Info("Server exited")
}
