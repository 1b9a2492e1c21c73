package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/user/routing-gateway/internal/api/handler"
	"github.com/user/routing-gateway/internal/api/middleware"
	"github.com/user/routing-gateway/internal/api/openapi"
)

// Server wraps the configured HTTP router.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
}

// ServerDeps holds the gateway's route-level dependencies.
type ServerDeps struct {
	Gateway   *handler.GatewayHandler
	RateLimit *middleware.RateLimitConfig
	Logger    *zap.Logger
}

// NewServer builds the gin engine for the routing gateway: the single
// chat-completions entrypoint plus a health probe, behind the ambient
// middleware chain.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.RateLimit(deps.RateLimit))

	validator, err := middleware.NewSchemaValidator(openapi.Spec)
	if err != nil {
		logger.Fatal("invalid embedded openapi spec", zap.Error(err))
	}
	r.Use(validator.Validate(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	{
		v1.POST("/chat/completions", deps.Gateway.ChatCompletions)
	}

	return &Server{router: r, logger: logger}
}

// Handler returns the underlying http.Handler for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}
