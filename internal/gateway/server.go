package gateway

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"hirehub/internal/infra/config"
	"hirehub/internal/infra/obs"
)

// NewServer assembles the gin engine and returns the HTTP server.
func NewServer(cfg config.Config, obsMW obs.Middleware, health obs.HealthHandlers, h *Handler) *http.Server {
	mode := configureGinMode(cfg.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		MaxAge: 12 * time.Hour,
	}))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	router.GET("/ws", h.WS)

	api := router.Group("/api/v1")
	api.Use(h.AuthMiddleware())
	{
		api.GET("/conversations", h.ListConversations)
		api.POST("/conversations", h.CreateConversation)
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/participants", h.AddParticipant)
		api.POST("/conversations/:id/read", h.MarkRead)
	}

	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func configureGinMode(env string) string {
	mode := gin.ReleaseMode
	if env == "dev" || env == "local" {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)
	return mode
}
