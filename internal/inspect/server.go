package inspect

import (
	"net/http"
	"time"

	"github.com/danmuck/ctlwire/internal/auth"
	"github.com/danmuck/ctlwire/internal/observability"
	"github.com/danmuck/ctlwire/internal/protocol"
	"github.com/danmuck/ctlwire/internal/protocol/frame"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server exposes the control packet codec over HTTP for debugging peers.
type Server struct {
	addr      string
	ser       protocol.Serializer
	limits    frame.Limits
	logger    zerolog.Logger
	router    *gin.Engine
	startedAt time.Time
	validator auth.Validator
}

// Option configures a Server.
type Option func(*Server)

// WithValidator requires a bearer token on the /v1 routes.
func WithValidator(v auth.Validator) Option {
	return func(s *Server) {
		s.validator = v
	}
}

func NewServer(addr string, corsOrigins []string, ser protocol.Serializer, limits frame.Limits, logger zerolog.Logger, opts ...Option) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.AccessLog(logger))
	r.Use(observability.AccessMetrics())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		addr:      addr,
		ser:       ser,
		limits:    limits,
		logger:    logger,
		router:    r,
		startedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Serve() error {
	s.logger.Info().Str("addr", s.addr).Msg("inspect api listening")
	return s.router.Run(s.addr)
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
