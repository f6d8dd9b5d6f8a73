package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tripsync/auth"
	"tripsync/trip"
)

type ServiceConfig struct {
	IsDev     bool
	Port      string
	RateLimit int64 // requests per hour per client IP
}

type Deps struct {
	Service  *trip.Service
	JWT      *auth.JWTManager
	Registry *prometheus.Registry
	Logger   *slog.Logger
}

func setupMiddlewares(r *gin.Engine, cfg ServiceConfig, deps Deps, metrics *httpMetrics) {
	if cfg.RateLimit > 0 {
		r.Use(limiterMiddleWare(cfg.RateLimit))
	}
	r.Use(gin.Recovery())
	r.Use(requestLogger(deps.Logger))
	r.Use(metrics.middleware())
	r.Use(cors.New(CorsConfig()))
	r.Use(secureMiddleware(cfg.IsDev))
}

// NewRouter wires every route onto a fresh gin engine.
func NewRouter(cfg ServiceConfig, deps Deps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if !cfg.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	setupMiddlewares(r, cfg, deps, newHTTPMetrics(deps.Registry))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	h := &handlers{svc: deps.Service}
	api := r.Group("/api",
		gzip.Gzip(gzip.DefaultCompression),
		AuthMiddleware(deps.JWT),
		DocDataLoaderInjectionMiddleware(deps.Service.Store().DB()),
	)
	{
		api.GET("/members", h.listMembers)
		api.POST("/members", h.addMember)

		api.GET("/expenses", h.listExpenses)
		api.POST("/expenses", h.addExpense)
		api.PUT("/expenses/:id", h.editExpense)
		api.DELETE("/expenses", h.clearExpenses)
		api.GET("/expenses/:id/form", h.expenseForm)
		api.DELETE("/expenses/:id", h.deleteExpense)

		api.GET("/balances", h.balances)
		api.GET("/summary", h.summary)
		api.GET("/export", h.export)

		api.GET("/trips/:tripID/playlist", h.listSongs)
		api.POST("/trips/:tripID/playlist", h.addSong)
		api.DELETE("/trips/:tripID/playlist/:songID", h.removeSong)
		api.POST("/trips/:tripID/playlist/:songID/vote", h.toggleVote)
	}

	ws := &wsHandler{store: deps.Service.Store(), logger: deps.Logger.With("component", "ws")}
	r.GET("/ws/docs", AuthMiddleware(deps.JWT), ws.watch)

	return r
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, cfg ServiceConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr, "dev", cfg.IsDev)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	slog.Info("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
