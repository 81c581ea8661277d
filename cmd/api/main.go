package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/eeredondo/pqrsd/api/swagger"
	"github.com/eeredondo/pqrsd/internal/handler"
	"github.com/eeredondo/pqrsd/internal/middleware"
	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/internal/notify"
	"github.com/eeredondo/pqrsd/internal/realtime"
	"github.com/eeredondo/pqrsd/internal/repository"
	"github.com/eeredondo/pqrsd/internal/service"
	"github.com/eeredondo/pqrsd/internal/workdays"
	"github.com/eeredondo/pqrsd/pkg/cache"
	"github.com/eeredondo/pqrsd/pkg/config"
	"github.com/eeredondo/pqrsd/pkg/database"
	"github.com/eeredondo/pqrsd/pkg/logger"
	"github.com/eeredondo/pqrsd/pkg/mail"
	corsmiddleware "github.com/eeredondo/pqrsd/pkg/middleware/cors"
	reqidmiddleware "github.com/eeredondo/pqrsd/pkg/middleware/requestid"
	"github.com/eeredondo/pqrsd/pkg/storage"
)

// @title PQRSD API
// @version 1.0.0
// @description Citizen request tracking workflow backend
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	rdb, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer rdb.Close() //nolint:errcheck

	store, err := storage.NewLocalStorage(cfg.Storage.UploadsDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Storage.SignedURLSecret, cfg.Storage.SignedURLTTL)

	calc, err := workdays.NewCalculator(cfg.Workdays.Holidays)
	if err != nil {
		logr.Sugar().Fatalw("invalid holiday calendar", "error", err)
	}

	requestRepo := repository.NewRequestRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	var hub *realtime.Hub
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(rdb, cfg.Realtime.Channel, logr)
		go hub.Run(ctx)
	}

	mailer := mail.NewMailer(cfg.SMTP)
	notifier := notify.NewNotifier(mailer, hubEmitter(hub), userRepo, store, notify.Config{
		Enabled:    cfg.Notifications.Enabled,
		Workers:    cfg.Notifications.WorkerConcurrency,
		MaxRetries: cfg.Notifications.WorkerRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)
	notifier.Start(ctx)
	defer notifier.Stop()

	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)
	requestSvc := service.NewRequestService(requestRepo, auditRepo, userRepo, store, notifier, calc, cfg.Workdays.DefaultTermDays, validate, logr)
	metricsSvc := service.NewMetricsService()

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, signer, metricsSvc, cfg.Storage.MaxFileSizeBytes)
	fileHandler := handler.NewFileHandler(store, signer)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.Storage.MaxFileSizeBytes
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/requests", requestHandler.Submit)
		api.GET("/files/download", fileHandler.Download)
	}

	auth := api.Group("", middleware.JWT(authSvc))
	{
		auth.GET("/users/me", userHandler.Me)
		auth.GET("/users", userHandler.List)
		auth.POST("/users", middleware.RequireRoles(), userHandler.Create)

		auth.GET("/requests", requestHandler.List)
		auth.GET("/requests/:id", requestHandler.Get)
		auth.GET("/requests/:id/history", requestHandler.History)
		auth.GET("/requests/:id/files/:kind", requestHandler.FileLink)
		auth.GET("/requests/assigned/:userId", requestHandler.ListAssigned)

		auth.POST("/requests/:id/assign/:userId", middleware.RequireRoles(models.RoleAssigner), requestHandler.Assign)
		auth.POST("/requests/:id/respond", middleware.RequireRoles(models.RoleHandler), requestHandler.Respond)
		auth.POST("/requests/:id/review", middleware.RequireRoles(models.RoleReviewer), requestHandler.Review)
		auth.POST("/requests/:id/sign", middleware.RequireRoles(models.RoleSigner), requestHandler.Sign)
		auth.POST("/requests/:id/finalize", middleware.RequireRoles(models.RoleHandler), requestHandler.Finalize)
		auth.DELETE("/requests/:id", middleware.RequireRoles(), requestHandler.Delete)

		if hub != nil {
			auth.GET("/ws", hub.ServeWS)
		}
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}

// hubEmitter avoids handing the notifier a typed nil when realtime is off.
func hubEmitter(hub *realtime.Hub) interface{ Emit(string, interface{}) } {
	if hub == nil {
		return nil
	}
	return hub
}
