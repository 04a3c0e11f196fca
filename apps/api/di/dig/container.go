package dig_container

import (
	"fmt"
	"log"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/access"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/core/qa"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/services/broker"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	omisepay "github.com/trezcool/academia/services/payment/omise"
	sandboxpay "github.com/trezcool/academia/services/payment/sandbox"
	"github.com/trezcool/academia/services/ratelimit"
	"github.com/trezcool/academia/storage/database"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

const engineInMemory = "inmem"

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

// Storage is every repository of the app, all backed by the same engine.
type Storage struct {
	dig.Out
	Tx            core.Transactor
	Users         user.Repository
	Courses       course.Repository
	Coupons       coupon.Repository
	Enrollments   enrollment.Repository
	Payments      payment.Repository
	QA            qa.Repository
	Notifications notification.Repository
	Carts         cart.Repository
	Closer        StorageCloser
}

// StorageCloser releases the database connections.
type StorageCloser func() error

func newZap(conf *core.Config) (*zap.Logger, error) {
	zl, err := logsvc.NewZap(conf)
	return zl, errors.Wrap(err, "building zap logger")
}

func newLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newDBLogger(zl *zap.Logger, conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	return logger
}

func newStorage(conf *core.Config, loggerParam DBLoggerParam) (Storage, error) {
	if conf.Database.Engine == engineInMemory {
		loggerParam.Logger.Warn("using the in-memory store, data is lost on exit")
		db := inmemdb.Open()
		return Storage{
			Tx:            db,
			Users:         inmemdb.NewUserRepository(db),
			Courses:       inmemdb.NewCourseRepository(db),
			Coupons:       inmemdb.NewCouponRepository(db),
			Enrollments:   inmemdb.NewEnrollmentRepository(db),
			Payments:      inmemdb.NewPaymentRepository(db),
			QA:            inmemdb.NewQARepository(db),
			Notifications: inmemdb.NewNotificationRepository(db),
			Carts:         inmemdb.NewCartRepository(db),
			Closer:        func() error { return nil },
		}, nil
	}

	setUp := func() (*sqlx.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Error(fmt.Sprintf("setting up database: %v", err), err)
		return Storage{}, errors.Wrap(err, "setting up database")
	}
	return Storage{
		Tx:            database.NewTransactor(db),
		Users:         sqlxrepos.NewUserRepository(db),
		Courses:       sqlxrepos.NewCourseRepository(db),
		Coupons:       sqlxrepos.NewCouponRepository(db),
		Enrollments:   sqlxrepos.NewEnrollmentRepository(db),
		Payments:      sqlxrepos.NewPaymentRepository(db),
		QA:            sqlxrepos.NewQARepository(db),
		Notifications: sqlxrepos.NewNotificationRepository(db),
		Carts:         sqlxrepos.NewCartRepository(db),
		Closer:        db.Close,
	}, nil
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

func newPaymentGateway(conf *core.Config) (payment.Gateway, error) {
	if conf.Payment.Gateway == "omise" {
		return omisepay.NewGateway(conf)
	}
	return sandboxpay.NewGateway(conf), nil
}

// Broker holds the notification publisher, if one is configured.
type Broker struct {
	Publisher *broker.Publisher // nil without a broker URL
}

func newBroker(conf *core.Config, logger core.Logger) (Broker, error) {
	if conf.Broker.URL == "" {
		logger.Info("no broker configured, notifications are not published")
		return Broker{}, nil
	}
	pub, err := broker.NewPublisher(conf.Broker.URL, conf.Broker.Exchange)
	if err != nil {
		return Broker{}, errors.Wrap(err, "connecting to broker")
	}
	return Broker{Publisher: pub}, nil
}

// Close closes the publisher, if any.
func (b Broker) Close() error {
	if b.Publisher == nil {
		return nil
	}
	return b.Publisher.Close()
}

func newLimiter(conf *core.Config) ratelimit.Limiter {
	if conf.RateLimit.Requests <= 0 {
		return nil
	}
	if conf.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     conf.Redis.Addr,
			Password: conf.Redis.Password,
			DB:       conf.Redis.DB,
		})
		return ratelimit.NewRedisLimiter(rdb, "academia:ratelimit", conf.RateLimit.Requests, conf.RateLimit.Window)
	}
	return ratelimit.NewMemoryLimiter(conf.RateLimit.Requests, conf.RateLimit.Window)
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

func newNotificationService(
	conf *core.Config,
	repo notification.Repository,
	users user.Service,
	mailSvc core.EmailService,
	brk Broker,
	logger core.Logger,
) notification.Service {
	deps := notification.Deps{Repo: repo, UserSvc: users, MailSvc: mailSvc, Logger: logger}
	if brk.Publisher != nil { // keep the interface nil otherwise
		deps.Publisher = brk.Publisher
	}
	return notification.NewService(deps, conf)
}

type enrollmentParams struct {
	dig.In
	Conf          *core.Config
	Repo          enrollment.Repository
	Payments      payment.Repository
	CourseRepo    course.Repository
	Courses       course.Service
	Coupons       coupon.Service
	Gateway       payment.Gateway
	Tx            core.Transactor
	Notifications notification.Service
	Logger        core.Logger
}

func newEnrollmentService(p enrollmentParams) enrollment.Service {
	return enrollment.NewService(enrollment.Deps{
		Repo:        p.Repo,
		PaymentRepo: p.Payments,
		Courses:     p.Courses,
		Coupons:     p.Coupons,
		Gateway:     p.Gateway,
		Provisioner: enrollment.NewProgressProvisioner(p.CourseRepo),
		Tx:          p.Tx,
		Notifier:    p.Notifications,
		Logger:      p.Logger,
	}, p.Conf)
}

func newQAService(
	repo qa.Repository,
	courses course.Service,
	gate *access.Gate,
	tx core.Transactor,
	notifications notification.Service,
	logger core.Logger,
) qa.Service {
	return qa.NewService(qa.Deps{Repo: repo, Courses: courses, Access: gate, Tx: tx, Notifier: notifications, Logger: logger})
}

type cartParams struct {
	dig.In
	Conf        *core.Config
	Repo        cart.Repository
	Courses     course.Service
	Coupons     coupon.Service
	Enrollments enrollment.Service
	Tx          core.Transactor
	Logger      core.Logger
}

func newCartService(p cartParams) cart.Service {
	return cart.NewService(cart.Deps{
		Repo:        p.Repo,
		Courses:     p.Courses,
		Coupons:     p.Coupons,
		Enrollments: p.Enrollments,
		Tx:          p.Tx,
		Logger:      p.Logger,
	}, p.Conf)
}

type serverParams struct {
	dig.In
	Conf          *core.Config
	Logger        core.Logger
	Validate      *validator.Validate
	Translator    ut.Translator
	Users         user.Service
	Courses       course.Service
	Coupons       coupon.Service
	Enrollments   enrollment.Service
	Carts         cart.Service
	Gate          *access.Gate
	QA            qa.Service
	Notifications notification.Service
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(&echoapi.Deps{
		Conf:            p.Conf,
		Logger:          p.Logger,
		Validate:        p.Validate,
		Translator:      p.Translator,
		Metrics:         prometheus.DefaultRegisterer,
		Limiter:         newLimiter(p.Conf),
		UserSvc:         p.Users,
		CourseSvc:       p.Courses,
		CouponSvc:       p.Coupons,
		EnrollmentSvc:   p.Enrollments,
		CartSvc:         p.Carts,
		Gate:            p.Gate,
		QASvc:           p.QA,
		NotificationSvc: p.Notifications,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newStorage))
	must(c.Provide(newEmailService))
	must(c.Provide(newPaymentGateway))
	must(c.Provide(newBroker))
	must(c.Provide(validator.New))
	must(c.Provide(newTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(course.NewService))
	must(c.Provide(coupon.NewService))
	must(c.Provide(func(repo enrollment.Repository) *access.Gate { return access.NewGate(repo) }))
	must(c.Provide(newNotificationService))
	must(c.Provide(newEnrollmentService))
	must(c.Provide(newQAService))
	must(c.Provide(newCartService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
