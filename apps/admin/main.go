package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/core/user"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	sandboxpay "github.com/trezcool/academia/services/payment/sandbox"
	"github.com/trezcool/academia/storage/database"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	zl, err := logsvc.NewZap(conf)
	if err != nil {
		log.Fatal(err)
	}
	logger := logsvc.NewRollbarLogger(zl.Named("admin"), conf)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")
	defer func() { _ = logger.Sync() }()

	translator, _ := ut.New(en.New()).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	var (
		db *sqlx.DB
		tx core.Transactor
		s  stores
	)
	if conf.Database.Engine == "inmem" {
		mem := inmemdb.Open()
		tx = mem
		s = stores{
			users:         inmemdb.NewUserRepository(mem),
			courses:       inmemdb.NewCourseRepository(mem),
			coupons:       inmemdb.NewCouponRepository(mem),
			enrollments:   inmemdb.NewEnrollmentRepository(mem),
			payments:      inmemdb.NewPaymentRepository(mem),
			notifications: inmemdb.NewNotificationRepository(mem),
			carts:         inmemdb.NewCartRepository(mem),
		}
	} else {
		if db, err = database.Open(conf); err != nil {
			logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
		}
		defer func() { _ = db.Close() }()
		tx = database.NewTransactor(db)
		s = stores{
			users:         sqlxrepos.NewUserRepository(db),
			courses:       sqlxrepos.NewCourseRepository(db),
			coupons:       sqlxrepos.NewCouponRepository(db),
			enrollments:   sqlxrepos.NewEnrollmentRepository(db),
			payments:      sqlxrepos.NewPaymentRepository(db),
			notifications: sqlxrepos.NewNotificationRepository(db),
			carts:         sqlxrepos.NewCartRepository(db),
		}
	}

	// start CLI
	cli := newCommandLine(conf, db, tx, s, validate, logger)
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
		}
		_ = logger.Sync()
		os.Exit(1)
	}
}

type stores struct {
	users         user.Repository
	courses       course.Repository
	coupons       coupon.Repository
	enrollments   enrollment.Repository
	payments      payment.Repository
	notifications notification.Repository
	carts         cart.Repository
}

func newCommandLine(conf *core.Config, db *sqlx.DB, tx core.Transactor, s stores, validate *validator.Validate, logger core.Logger) *commandLine {
	usrSvc := user.NewService(s.users)
	courses := course.NewService(s.courses)
	coupons := coupon.NewService(s.coupons)
	notifications := notification.NewService(notification.Deps{
		Repo:    s.notifications,
		UserSvc: usrSvc,
		MailSvc: emailsvc.NewConsoleService(conf, logger),
		Logger:  logger,
	}, conf)
	enrollments := enrollment.NewService(enrollment.Deps{
		Repo:        s.enrollments,
		PaymentRepo: s.payments,
		Courses:     courses,
		Coupons:     coupons,
		Gateway:     sandboxpay.NewGateway(conf), // the CLI never charges
		Provisioner: enrollment.NewProgressProvisioner(s.courses),
		Tx:          tx,
		Notifier:    notifications,
		Logger:      logger,
	}, conf)
	carts := cart.NewService(cart.Deps{
		Repo:        s.carts,
		Courses:     courses,
		Coupons:     coupons,
		Enrollments: enrollments,
		Tx:          tx,
		Logger:      logger,
	}, conf)

	return &commandLine{
		db:            db,
		validate:      validate,
		usrSvc:        usrSvc,
		courses:       courses,
		coupons:       coupons,
		enrollments:   enrollments,
		notifications: notifications,
		carts:         carts,
	}
}
