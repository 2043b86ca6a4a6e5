// Package httpapi exposes the song request service over HTTP with gin.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/songrequests/internal/events"
	"github.com/MarkoPoloResearchLab/songrequests/pkg/djrequest"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const defaultShutdownTimeout = 5 * time.Second

// Config carries the settings the router needs.
type Config struct {
	AllowedOrigins      []string
	JWTSigningKey       string
	JWTIssuer           string
	PublicBaseURL       string
	StripeWebhookSecret string
}

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	service  *djrequest.Service
	hub      *events.Hub
	logger   *zap.Logger
	cfg      Config
	upgrader websocket.Upgrader
}

// NewServer wires handlers. hub may be nil, in which case the live feed is unavailable.
func NewServer(service *djrequest.Service, hub *events.Hub, logger *zap.Logger, cfg Config) (*Server, error) {
	if service == nil {
		return nil, errors.New("httpapi: service is nil")
	}
	if len(cfg.JWTSigningKey) == 0 {
		return nil, errors.New("httpapi: jwt signing key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &Server{
		service: service,
		hub:     hub,
		logger:  logger,
		cfg:     cfg,
	}
	server.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     server.checkOrigin,
	}
	return server, nil
}

// Router builds the gin engine with every route mounted.
func (server *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	// cors.New panics when no origin is allowed.
	if len(server.cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     server.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.POST("/djs", server.handleRegisterDJ)

	public := api.Group("/events/:code")
	public.POST("/requests", server.handleSubmitRequest)
	public.GET("/requests", server.handlePublicRequests)
	public.GET("/queue", server.handlePublicQueue)
	public.GET("/live", server.handleLive)

	dj := api.Group("/dj")
	dj.Use(bearerAuth([]byte(server.cfg.JWTSigningKey), server.cfg.JWTIssuer))
	dj.GET("/requests", server.handleListRequests)
	dj.POST("/requests/:id/accept", server.handleAcceptRequest)
	dj.POST("/requests/:id/reject", server.handleRejectRequest)
	dj.GET("/queue", server.handleQueue)
	dj.PUT("/queue/order", server.handleReorder)
	dj.POST("/queue/:id/now-playing", server.handleNowPlaying)
	dj.POST("/queue/:id/played", server.handleMarkPlayed)
	dj.POST("/queue/:id/skip", server.handleSkip)
	dj.POST("/event/end", server.handleEndEvent)
	dj.POST("/event/rotate", server.handleRotateEvent)
	dj.GET("/event/qr", server.handleEventQR)
	dj.GET("/event/summaries", server.handleSummaries)
	dj.GET("/event/stats", server.handleStats)
	dj.GET("/settings", server.handleGetSettings)
	dj.PUT("/settings", server.handleUpdateSettings)

	webhooks := router.Group("/webhooks")
	webhooks.POST("/stripe", server.handleStripeWebhook)
	webhooks.POST("/paypal", server.handlePayPalWebhook)
	webhooks.POST("/satispay", server.handleSatispayWebhook)

	return router
}

// Run serves handler on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *zap.Logger) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = defaultShutdownTimeout
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("songrequestd listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (server *Server) checkOrigin(request *http.Request) bool {
	origin := request.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range server.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
