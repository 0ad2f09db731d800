package app

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"wa-relay/internal/config"
	"wa-relay/internal/logger"
	"wa-relay/internal/messagelog"
	"wa-relay/internal/middleware"
	"wa-relay/internal/relay/handler"
)

func setupHTTP(cfg config.Config, relay handler.Relay, infra *Infra, verifier middleware.TokenVerifier) *gin.Engine {

	// ----------------------------
	// Dependencies
	// ----------------------------

	var history handler.History
	if infra.DB != nil {
		history = messagelog.NewPostgresLog(infra.DB)
	}

	relayHandler := handler.NewHandler(relay, history)
	authMiddleware := middleware.NewAuthMiddleware(cfg.APITokenHash, verifier)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:   []string{middleware.RequestIDHeader},
	}))

	// ----------------------------
	// Public Routes
	// ----------------------------

	router.GET("/health", relayHandler.Health)

	// ----------------------------
	// Session API
	// ----------------------------

	api := router.Group("/")
	api.Use(middleware.GinRequireAuth(authMiddleware))
	relayHandler.RegisterRoutes(api)

	if !authMiddleware.Enabled() {
		logger.Warn("api authentication not configured, session routes are open", nil)
	}

	for _, route := range router.Routes() {
		logger.Debug("route registered", map[string]any{
			"method": route.Method,
			"path":   route.Path,
		})
	}

	return router
}
