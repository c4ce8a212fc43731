package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/taskhub/internal/auth"
	"github.com/geocoder89/taskhub/internal/config"
	"github.com/geocoder89/taskhub/internal/http/handlers"
	"github.com/geocoder89/taskhub/internal/http/middlewares"
	"github.com/geocoder89/taskhub/internal/observability"
	"github.com/geocoder89/taskhub/internal/repo/postgres"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *gin.Engine {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	r.Use(RequestID())
	r.Use(RequestLogger(log))
	r.Use(otelgin.Middleware("taskhub"))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORSMiddleware(cfg.CORSAllowedOrigins))
	r.Use(middlewares.MaxBodyBytes(1 << 20))

	// metrics
	prom := observability.NewProm(prometheus.DefaultRegisterer)
	r.Use(prom.GinHandleMiddleware())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// health
	ping := func() error {
		if pool == nil {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		return pool.Ping(ctx)
	}

	h := handlers.NewHealthHandler(ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	// wire up repositories
	usersRepo := postgres.NewUsersRepo(pool, prom)
	tasksRepo := postgres.NewTasksRepo(pool, prom)

	jwtManager := auth.NewManager(cfg.JWTSecret, cfg.AccessTTL, cfg.RefreshTTL)
	authMiddleware := middlewares.NewAuthMiddleware(jwtManager, usersRepo)

	// wire up handlers
	authHandler := handlers.NewAuthHandler(usersRepo, usersRepo, jwtManager)
	tasksHandler := handlers.NewTasksHandler(tasksRepo)

	// public routes
	r.POST("/register", middlewares.RequireJSON(), authHandler.Register)
	r.POST("/token", authHandler.Token)

	// authenticated routes
	authed := r.Group("/", authMiddleware.RequireAuth())
	authed.GET("/users/me", authHandler.Me)

	tasks := authed.Group("/tasks", middlewares.RequireJSON())
	tasks.POST("", tasksHandler.CreateTask)
	tasks.GET("", tasksHandler.ListTasks)
	// register before :id so the path does not get captured as a task id
	tasks.GET("/stats/summary", tasksHandler.TaskSummary)
	tasks.GET("/:id", tasksHandler.GetTask)
	tasks.PUT("/:id", tasksHandler.UpdateTask)
	tasks.DELETE("/:id", tasksHandler.DeleteTask)

	return r
}
