package api

import (
	"net/http"
	"time"

	"spot-accumulator/internal/engine"
	"spot-accumulator/internal/events"
	"spot-accumulator/internal/monitor"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the pair engines and the event bus.
type Server struct {
	Router       *gin.Engine
	Engine       engine.Service
	Bus          *events.Bus
	Metrics      *monitor.SystemMetrics
	JWTSecret    string
	PasswordHash string
	Meta         SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	DryRun  bool     `json:"dry_run"`
	Venue   string   `json:"venue"`
	Pairs   []string `json:"pairs"`
	Store   string   `json:"store"`
	Version string   `json:"version"`
}

// Options carry the collaborators of a Server.
type Options struct {
	Engine  engine.Service
	Bus     *events.Bus
	Metrics *monitor.SystemMetrics
	Meta    SystemMeta
	// JWTSecret signs operator tokens; PasswordHash is the bcrypt hash of
	// the operator password. An empty hash disables login.
	JWTSecret    string
	PasswordHash string
}

func NewServer(opts Options) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())        // Panic recovery (first)
	r.Use(RequestIDMiddleware()) // Request ID tracking
	r.Use(RequestLogger())       // Request logging (after ID is set)
	r.Use(RateLimitMiddleware()) // Rate limiting
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware()) // CORS (last before routes)

	s := &Server{
		Router:       r,
		Engine:       opts.Engine,
		Bus:          opts.Bus,
		Metrics:      opts.Metrics,
		JWTSecret:    opts.JWTSecret,
		PasswordHash: opts.PasswordHash,
		Meta:         opts.Meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Metrics != nil && s.Metrics.Prom != nil {
		s.Router.GET("/metrics", gin.WrapH(s.Metrics.Prom.Handler()))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/login", s.login)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/pairs", s.listPairs)
			protected.GET("/pairs/:pair/status", s.getPairStatus)
			protected.GET("/pairs/:pair/trades", s.getTrades)
			protected.GET("/pairs/:pair/orders", s.getOrders)

			// Engine commands
			protected.POST("/pairs/:pair/start", s.startPair)
			protected.POST("/pairs/:pair/stop", s.stopPair)
			protected.PUT("/pairs/:pair/config", s.updateConfig)
			protected.POST("/pairs/:pair/clean", s.cleanLedger)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler returns the router for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
