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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/auth-api/api/swagger"
	"github.com/noah-isme/auth-api/internal/handler"
	"github.com/noah-isme/auth-api/internal/middleware"
	"github.com/noah-isme/auth-api/internal/models"
	"github.com/noah-isme/auth-api/internal/repository"
	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/pkg/cache"
	"github.com/noah-isme/auth-api/pkg/config"
	"github.com/noah-isme/auth-api/pkg/database"
	"github.com/noah-isme/auth-api/pkg/logger"
	"github.com/noah-isme/auth-api/pkg/mailer"
	corsmiddleware "github.com/noah-isme/auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/auth-api/pkg/middleware/requestid"
	"github.com/noah-isme/auth-api/pkg/secrets"
	"github.com/noah-isme/auth-api/pkg/token"
	"github.com/noah-isme/auth-api/pkg/validation"
)

// @title Auth API
// @version 1.0.0
// @description Token-based session and credential-lifecycle service
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Rate limiting fails open without Redis; the API stays up.
		logr.Sugar().Warnw("redis unavailable, rate limiting disabled", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsSvc := service.NewMetricsService()

	smtpMailer := mailer.NewSMTPMailer(cfg.SMTP, cfg.Mail)
	dispatcher := mailer.NewDispatcher(smtpMailer, mailer.DispatcherConfig{
		Workers:    cfg.Mail.Workers,
		BufferSize: cfg.Mail.BufferSize,
		MaxRetries: cfg.Mail.MaxRetries,
		RetryDelay: cfg.Mail.RetryDelay,
		Logger:     logr,
		OnEnqueue:  metricsSvc.ObserveMailDispatched,
	})
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	validate := validation.New()
	codec := token.NewCodec(token.Config{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		AccessExpiry:  cfg.JWT.AccessExpiry,
		RefreshExpiry: cfg.JWT.RefreshExpiry,
		Issuer:        cfg.JWT.Issuer,
	})
	issuer := secrets.NewIssuer()

	userRepo := repository.NewUserRepository(db)
	authSvc := service.NewAuthService(userRepo, codec, issuer, dispatcher, validate, logr, service.AuthConfig{
		VerifyTokenTTL: cfg.Secrets.VerifyTokenTTL,
		ResetTokenTTL:  cfg.Secrets.ResetTokenTTL,
	})
	userSvc := service.NewUserService(userRepo, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc, metricsSvc)
	userHandler := handler.NewUserHandler(userSvc)
	limiter := middleware.NewRateLimiter(redisClient, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(metricsSvc.GinMiddleware())
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	if cfg.RateLimit.Enabled {
		r.Use(limiter.Limit("general", cfg.RateLimit.GeneralLimit, cfg.RateLimit.GeneralWindow))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	authLimit := limiter.Limit("auth", cfg.RateLimit.AuthLimit, cfg.RateLimit.AuthWindow)
	resetLimit := limiter.Limit("password", cfg.RateLimit.PasswordLimit, cfg.RateLimit.PasswordWindow)
	if !cfg.RateLimit.Enabled {
		passthrough := func(c *gin.Context) { c.Next() }
		authLimit, resetLimit = passthrough, passthrough
	}

	auth := api.Group("/auth")
	{
		auth.POST("/register", authLimit, authHandler.Register)
		auth.GET("/verify-email/:token", authHandler.VerifyEmail)
		auth.POST("/resend-verification", authLimit, authHandler.ResendVerification)
		auth.POST("/login", authLimit, authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authHandler.Logout)
		auth.POST("/forgot-password", resetLimit, authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
		auth.POST("/logout-all", middleware.JWT(authSvc), authHandler.LogoutAll)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	users := api.Group("/users", middleware.JWT(authSvc))
	{
		users.GET("/profile", userHandler.GetProfile)
		users.PATCH("/profile", userHandler.UpdateProfile)
		users.DELETE("/profile", userHandler.DeleteOwnAccount)

		admin := users.Group("", middleware.RequireRoles(models.RoleAdmin))
		{
			admin.GET("", userHandler.List)
			admin.GET("/:id", userHandler.Get)
			admin.PATCH("/:id/role", userHandler.UpdateRole)
			admin.DELETE("/:id", userHandler.Delete)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
	logr.Sugar().Infow("server stopped")
}
