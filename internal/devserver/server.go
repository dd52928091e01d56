// Package devserver is a small in-memory chat server speaking the same
// REST and WebSocket protocol as the production backend. The client tests
// and local development run against it.
package devserver

import (
	"context"
	"net/http"
	"time"

	"blinkchat-client/internal/auth"
	"blinkchat-client/internal/config"
	"blinkchat-client/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Server wires the store, the hub and the HTTP routes together.
type Server struct {
	users    UserStore
	messages MessageStore
	hub      *Hub
	issuer   *auth.Issuer
	cost     int
	log      zerolog.Logger
}

// Option customises a Server.
type Option func(*Server)

// WithPasswordCost sets the bcrypt cost used for new accounts.
func WithPasswordCost(cost int) Option {
	return func(s *Server) { s.cost = cost }
}

func New(cfg config.DevServerConfig, logger zerolog.Logger, opts ...Option) *Server {
	store := NewMemoryStore()
	s := &Server{
		users:    store,
		messages: store,
		issuer:   auth.NewIssuer(cfg.JWTSecret, cfg.TokenMaxAge),
		cost:     auth.DefaultCost,
		log:      logger.With().Str("component", "devserver").Logger(),
	}
	s.hub = NewHub(store, store, logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// Run runs the hub until ctx ends.
func (s *Server) Run(ctx context.Context) {
	s.hub.Run(ctx)
}

// CreateUser adds an account with a bcrypt-hashed password.
func (s *Server) CreateUser(ctx context.Context, username, email, password string) (*models.User, error) {
	hashed, err := auth.HashPassword(password, s.cost)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	user := &models.User{
		ID:             uuid.New(),
		Username:       username,
		Email:          email,
		HashedPassword: hashed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// IssueToken signs a token for userID.
func (s *Server) IssueToken(userID uuid.UUID) (string, error) {
	return s.issuer.Generate(userID)
}

// Seed creates the demo accounts alice and bob, both with password
// "password".
func (s *Server) Seed(ctx context.Context) error {
	for _, name := range []string{"alice", "bob"} {
		if _, err := s.CreateUser(ctx, name, name+"@example.com", "password"); err != nil {
			return err
		}
	}
	s.log.Info().Msg("seeded demo users alice@example.com and bob@example.com")
	return nil
}

// Router builds the gin engine.
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/ws", s.HandleWebSocketConnection)

	apiV1 := r.Group("/api/v1")
	{
		publicAuthRoutes := apiV1.Group("/auth")
		{
			publicAuthRoutes.POST("/register", s.Register)
			publicAuthRoutes.POST("/login", s.Login)
		}

		protected := apiV1.Group("/")
		protected.Use(s.AuthMiddleware())
		{
			protected.GET("/users", s.ListUsers)
			protected.GET("/messages", s.GetMessages)
		}
	}
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}
