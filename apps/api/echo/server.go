package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/qa"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/services/ratelimit"
)

type Deps struct {
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator
	Metrics    prometheus.Registerer // optional
	Limiter    ratelimit.Limiter     // optional

	UserSvc         user.Service
	CourseSvc       course.Service
	CouponSvc       coupon.Service
	EnrollmentSvc   enrollment.Service
	CartSvc         cart.Service
	Gate            accessChecker
	QASvc           qa.Service
	NotificationSvc notification.Service
}

type Server struct {
	deps     *Deps
	app      *echo.Echo
	shutdown chan os.Signal
	errors   chan error
}

var _ http.Handler = (*Server)(nil)

func NewServer(deps *Deps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		shutdown: make(chan os.Signal, 1),
		errors:   make(chan error, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	reg := s.deps.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	s.app.Use(newMetrics(reg).middleware())

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	g := s.app.Group("/api")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))
	limit := rateLimitMiddleware(s.deps.Limiter, s.deps.Logger)

	registerUserAPI(g, jwt, conf, s.deps.UserSvc, s.deps.Validate)
	registerEnrollmentAPI(g, jwt, limit, s.deps.EnrollmentSvc, s.deps.Gate, s.deps.Validate)
	registerCouponAPI(g, jwt, s.deps.CouponSvc, s.deps.CourseSvc, s.deps.Validate)
	registerCartAPI(g, jwt, optionalJWT(conf), limit, s.deps.CartSvc, s.deps.Validate)
	registerQAAPI(g, jwt, limit, s.deps.QASvc, s.deps.Validate)
	registerNotificationAPI(g, jwt, s.deps.NotificationSvc, s.deps.Validate)
}

// Start blocks serving requests; failures are sent to Errors.
func (s *Server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
		s.errors <- err
	}
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return respond(ctx, http.StatusOK, "Welcome to Academia API!", nil)
}
