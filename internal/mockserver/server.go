package mockserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"github.com/mlvik/coursekit/internal/domain"
	"github.com/mlvik/coursekit/internal/infrastructure/uuid"
	"github.com/mlvik/coursekit/internal/infrastructure/validate"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// sessionCookieName cookie carrying the mock session id
const sessionCookieName = "mock_session"

// contextUserKey authenticated user id in echo context
const contextUserKey = "mock_uid"

// Config options for the mock backend
type Config struct {
	TokenHeader string        // security token header name
	TokenTTL    time.Duration // issued token lifetime
	JWTMethod   string
	JWTSecret   string
	IDLength    int // generated session id length
	APM         bool
}

// Server the offline/alternate backend: a faithful stand-in for the canonical
// content backend with cookie sessions, rotating security tokens, union and
// strict course query modes and product entitlements. All state is in-memory
// and seeded from fixtures.
type Server struct {
	app         *echo.Echo
	issuer      *TokenIssuer
	tokenHeader string
	validator   *validate.PlaygroundV10
	idGen       uuid.Generator
	logger      *zap.Logger

	mu       sync.Mutex
	users    map[string]*mockUser
	sessions map[string]int64
	progress map[int64]domain.CompletionSet
	catalog  []*domain.CourseDetail
	owned    map[int64][]int64
	products map[int64][]int64
	grants   map[int64][]int64
}

// New create a mock backend instance
func New(cfg *Config, logger *zap.Logger) *Server {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = domain.DefaultTokenTTL
	}
	idLength := cfg.IDLength
	if idLength <= 0 {
		idLength = 24
	}
	secret := cfg.JWTSecret
	if secret == "" {
		secret = "mock-only-secret"
	}
	idGen := uuid.NewNanoIDGenerator(idLength)
	s := &Server{
		issuer:      NewTokenIssuer(cfg.JWTMethod, secret, ttl, idGen),
		tokenHeader: cfg.TokenHeader,
		validator:   validate.NewValidator(),
		idGen:       idGen,
		logger:      logger,
		users:       seedUsers(),
		sessions:    make(map[string]int64),
		progress:    make(map[int64]domain.CompletionSet),
		catalog:     seedCatalog(),
		owned:       seedOwnership(),
		products:    seedProducts(),
		grants:      seedGrants(),
	}

	app := echo.New()
	app.HideBanner = true
	app.HidePort = true
	app.Use(echo_middleware.RequestID())
	app.Use(Logging(logger))
	if cfg.APM {
		app.Use(apmechov4.Middleware())
	}
	s.registerRoutes(app)
	s.app = app
	return s
}

func (s *Server) registerRoutes(app *echo.Echo) {
	app.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	api := app.Group("/api/v1")
	api.POST("/user/login", s.handleLogin)
	api.POST("/auth/login", s.handleLogin)
	api.GET("/auth/token", s.handleToken)
	api.GET("/user/token", s.handleToken)
	api.POST("/auth/refresh", s.handleToken)
	api.GET("/user/me", s.handleWhoAmI)

	protected := api.Group("", s.verifyToken)
	protected.GET("/courses", s.handleCourses)
	protected.GET("/courses/:id", s.handleCourseDetail)
	protected.GET("/user/products", s.handleProducts)
	protected.GET("/products/:id/courses", s.handleProductCourses)
	protected.GET("/courses/:id/progress", s.handleGetProgress)
	protected.POST("/courses/:id/progress", s.handleSetProgress)
}

// Handler the http handler, used to mount the mock backend on httptest
func (s *Server) Handler() http.Handler {
	return s.app
}

// Start serve on the given address, blocking
func (s *Server) Start(addr string) error {
	return s.app.Start(addr)
}

// Shutdown stop serving
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}
