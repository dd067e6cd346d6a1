package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openroster/roster-api/internal/handler"
	"github.com/openroster/roster-api/internal/middleware"
	"github.com/openroster/roster-api/internal/repository"
	"github.com/openroster/roster-api/internal/service"
	"github.com/openroster/roster-api/internal/token"
	"github.com/openroster/roster-api/pkg/cache"
	"github.com/openroster/roster-api/pkg/config"
	"github.com/openroster/roster-api/pkg/database"
	"github.com/openroster/roster-api/pkg/jobs"
	"github.com/openroster/roster-api/pkg/logger"
	corsmiddleware "github.com/openroster/roster-api/pkg/middleware/cors"
	reqidmiddleware "github.com/openroster/roster-api/pkg/middleware/requestid"
	"github.com/openroster/roster-api/pkg/storage"
)

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
		logr.Sugar().Warnw("redis unavailable, permission cache disabled", "error", err)
		redisClient = nil
	}

	uploads, err := storage.NewLocalStorage(cfg.Storage.UploadDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init upload storage", "error", err)
	}

	validate := validator.New()
	codec := token.NewCodec(cfg.Token)

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	roleSvc := service.NewRoleService(roleRepo, cacheRepo, cfg.Sessions.PermissionTTL, validate, logr)
	authSvc := service.NewAuthService(userRepo, sessionRepo, roleRepo, codec, validate, logr, metricsSvc)
	userSvc := service.NewUserService(userRepo, uploads, validate, logr)

	authHandler := handler.NewAuthHandler(authSvc, cfg)
	userHandler := handler.NewUserHandler(userSvc)
	roleHandler := handler.NewRoleHandler(roleSvc)

	// Expired session rows are swept in the background rather than on the
	// request path.
	sweeper := jobs.NewQueue("session-cleanup", func(ctx context.Context, job jobs.Job) error {
		removed, err := sessionRepo.DeleteExpired(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if removed > 0 {
			logr.Sugar().Infow("expired sessions removed", "count", removed)
		}
		return nil
	}, jobs.QueueConfig{Workers: 1, Logger: logr})
	sweeper.Start(context.Background())
	defer sweeper.Stop()

	go func() {
		ticker := time.NewTicker(cfg.Sessions.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			if err := sweeper.Enqueue(jobs.Job{ID: uuid.NewString(), Type: "session-cleanup"}); err != nil {
				logr.Warn("failed to enqueue session cleanup", zap.Error(err))
				return
			}
		}
	}()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))
	r.Static("/static", uploads.BaseDir())

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", authHandler.Register)
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh-token", authHandler.Refresh)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/profile", middleware.Auth(codec), authHandler.Profile)
	auth.POST("/change-password", middleware.Auth(codec), authHandler.ChangePassword)

	protected := api.Group("", middleware.Auth(codec))

	users := protected.Group("/users")
	users.GET("", middleware.Authorize(roleSvc, middleware.Policy{RequirePermission: "read", RestrictStudents: true, RestrictInstructors: true}), userHandler.List)
	users.GET("/:id", middleware.Authorize(roleSvc, middleware.Policy{RequirePermission: "read", SelfOnly: true}), userHandler.Get)
	users.PUT("/:id", middleware.Authorize(roleSvc, middleware.Policy{RequirePermission: "update", SelfOnly: true}), userHandler.Update)
	users.POST("/:id/avatar", middleware.Authorize(roleSvc, middleware.Policy{RequirePermission: "update", SelfOnly: true}), userHandler.UploadAvatar)
	users.DELETE("/:id", middleware.Authorize(roleSvc, middleware.Policy{RequirePermission: "delete", RestrictStudents: true, RestrictInstructors: true}), userHandler.Delete)

	adminOnly := func(perm string) gin.HandlerFunc {
		return middleware.Authorize(roleSvc, middleware.Policy{RequirePermission: perm, RestrictStudents: true, RestrictInstructors: true})
	}

	roles := protected.Group("/roles")
	roles.GET("", adminOnly("read"), roleHandler.ListRoles)
	roles.POST("", adminOnly("create"), roleHandler.CreateRole)
	roles.PUT("/:id", adminOnly("update"), roleHandler.UpdateRole)
	roles.DELETE("/:id", adminOnly("delete"), roleHandler.DeleteRole)
	roles.PUT("/:id/permissions", adminOnly("update"), roleHandler.AssignPermissions)

	permissions := protected.Group("/permissions")
	permissions.GET("", adminOnly("read"), roleHandler.ListPermissions)
	permissions.POST("", adminOnly("create"), roleHandler.CreatePermission)
	permissions.DELETE("/:id", adminOnly("delete"), roleHandler.DeletePermission)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
