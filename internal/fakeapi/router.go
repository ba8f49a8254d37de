// Package fakeapi is an in-process backend speaking the REST and realtime
// protocol the client consumes. It backs the end-to-end tests and the
// `lostfound fakeapi` command.
package fakeapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/go-lostfound-client/internal/config"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/handlers"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/middleware"
	"github.com/tbourn/go-lostfound-client/internal/fakeapi/store"
)

// APIBasePath prefixes every versioned route.
const APIBasePath = "/api/v1"

// RegisterRoutes attaches middleware and endpoints to r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (credentials redacted)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Gzip (the websocket path is excluded)
//  8. CORS and security headers
//
// Rate limiting runs per group, after authentication on protected routes so
// buckets are keyed by user.
func RegisterRoutes(r *gin.Engine, st *store.Store, hub *handlers.Hub, cfg config.FakeAPIConfig, serviceName string) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(1 << 20))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{APIBasePath + "/ws"})))

	// The refresh cookie needs credentialed CORS, so "allow all" reflects the
	// request origin instead of sending "*".
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))
	r.Use(middleware.SecurityHeaders(APIBasePath + "/auth"))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(st, APIBasePath+"/auth", false)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())

	api := r.Group(APIBasePath)

	public := api.Group("", rl.Handler())
	{
		public.POST("/auth/register", h.Register)
		public.POST("/auth/login", h.Login)
		public.POST("/auth/refresh", h.Refresh)
		public.POST("/auth/logout", h.Logout)
		public.GET("/items", h.ListItems)
	}

	authed := api.Group("", middleware.RequireAuth(st), rl.Handler())
	{
		authed.GET("/auth/me", h.Me)

		authed.GET("/chat/threads", h.ListThreads)
		authed.POST("/chat/thread", h.EnsureThread)
		authed.POST("/chat/threads/:id/close", h.CloseThread)
		authed.GET("/chat/threads/:id/messages", h.ListMessages)

		authed.POST("/items", h.CreateItem)
		authed.GET("/items/:id/similar", h.SimilarItems)

		authed.GET("/ws", hub.Serve)
	}
}

// limitBody caps request bodies at maxBytes.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
