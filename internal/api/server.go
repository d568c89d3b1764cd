// Package api serves the meal log over HTTP and a WebSocket live feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/mealog/internal/auth"
	"github.com/vietddude/mealog/internal/core/domain"
	"github.com/vietddude/mealog/internal/livequery"
	"github.com/vietddude/mealog/internal/meal"
)

// Authenticator signs users in and verifies their tokens.
type Authenticator interface {
	SignUp(ctx context.Context, email, password string) (*auth.Token, error)
	SignIn(ctx context.Context, email, password string) (*auth.Token, error)
	SignInAnonymously(ctx context.Context) (*auth.Token, error)
	SignInWithToken(ctx context.Context, customToken string) (*auth.Token, error)
	SignOut(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// Meals performs meal operations for an owner.
type Meals interface {
	Add(ctx context.Context, owner domain.OwnerID, in meal.Input) (string, error)
	Update(ctx context.Context, owner domain.OwnerID, id string, in meal.Input) error
	Delete(ctx context.Context, owner domain.OwnerID, id string) error
	List(ctx context.Context, owner domain.OwnerID, date civil.Date) ([]domain.MealRecord, error)
	Watcher(cfg livequery.WatcherConfig) *livequery.Watcher
}

// Config holds server settings.
type Config struct {
	Port int

	// Location decides which calendar day "today" is for requests without a date.
	Location *time.Location

	// PingInterval is how often the live feed pings clients.
	PingInterval time.Duration
}

// Server is the HTTP API.
type Server struct {
	cfg     Config
	auth    Authenticator
	meals   Meals
	monitor *Monitor
	log     *slog.Logger
	engine  *gin.Engine
	server  *http.Server

	// closed on shutdown so live connections, which Shutdown does not track, end too.
	shutdown chan struct{}
}

// NewServer creates a new API server.
func NewServer(cfg Config, authn Authenticator, meals Meals, monitor *Monitor, log *slog.Logger) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if monitor == nil {
		monitor = NewMonitor()
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		auth:     authn,
		meals:    meals,
		monitor:  monitor,
		log:      log,
		shutdown: make(chan struct{}),
	}
	s.engine = s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	var once sync.Once
	s.server.RegisterOnShutdown(func() { once.Do(func() { close(s.shutdown) }) })
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.handleHealth)
	r.GET("/health/detailed", s.handleHealthDetailed)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public auth routes
	a := r.Group("/auth")
	{
		a.POST("/signup", s.handleSignUp)
		a.POST("/signin", s.handleSignIn)
		a.POST("/anonymous", s.handleAnonymous)
		a.POST("/token", s.handleCustomToken)
		a.POST("/signout", s.handleSignOut)
	}

	// The live feed authenticates over the socket itself.
	r.GET("/meals/live", s.handleLive)

	// Protected meal routes
	m := r.Group("/meals")
	m.Use(s.requireAuth())
	{
		m.GET("", s.handleListMeals)
		m.POST("", s.handleAddMeal)
		m.PUT("/:id", s.handleUpdateMeal)
		m.DELETE("/:id", s.handleDeleteMeal)
	}

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	s.log.Info("API server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) today() civil.Date {
	return domain.DateIn(time.Now(), s.cfg.Location)
}
