package server

import (
	"net/http"
	"time"

	"directchat/internal/auth"
	"directchat/internal/config"
	"directchat/internal/metrics"
	"directchat/internal/mw"
	"directchat/internal/realtime"
	"directchat/internal/service"
	"directchat/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由需要注入的依赖。
type Deps struct {
	Store   store.Store
	Hub     *realtime.Hub
	Limiter *mw.Limiter
}

// SetupRouter 统一初始化 Gin 中间件、REST API、WebSocket 端点以及运维路由。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	userSvc := service.NewUserService(d.Store, d.Store, cfg)
	msgSvc := service.NewMessageService(d.Store, d.Store, d.Hub)
	h := NewHandler(userSvc, msgSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", realtime.Serve(d.Hub, d.Store, msgSvc, cfg.JWTSecret))

	api := r.Group("/api")
	if d.Limiter != nil {
		api.Use(d.Limiter.Middleware())
	}

	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(cfg.JWTSecret, d.Store))

	authed.POST("/chat", h.SendMessage)
	authed.GET("/chat/:userId", h.History)

	authed.GET("/users/me", h.Me)
	authed.PUT("/users/update", h.UpdateProfile)
	authed.GET("/users", h.ListUsers)
	authed.GET("/users/online", h.OnlineUsers)

	r.NoRoute(func(c *gin.Context) { fail(c, http.StatusNotFound, "Route not found") })
	return r
}
