// Package testutil wires the services on the in-memory store for tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

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
	appfs "github.com/trezcool/academia/fs"
	emailsvc "github.com/trezcool/academia/services/email"
	logsvc "github.com/trezcool/academia/services/logger"
	sandboxpay "github.com/trezcool/academia/services/payment/sandbox"
	inmemdb "github.com/trezcool/academia/storage/database/inmem"
)

// Stack holds every service of the app, backed by one in-memory store.
type Stack struct {
	Conf      *core.Config
	DB        *inmemdb.DB
	Logger    core.Logger
	Validate  *validator.Validate
	Outbox    *emailsvc.Outbox
	Gateway   payment.Gateway
	Publisher *Publisher

	UserRepo         user.Repository
	CourseRepo       course.Repository
	CouponRepo       coupon.Repository
	EnrollmentRepo   enrollment.Repository
	PaymentRepo      payment.Repository
	QARepo           qa.Repository
	NotificationRepo notification.Repository
	CartRepo         cart.Repository

	Users         user.Service
	Courses       course.Service
	Coupons       coupon.Service
	Gate          *access.Gate
	Notifications notification.Service
	Enrollments   enrollment.Service
	QA            qa.Service
	Carts         cart.Service
}

func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(zap.NewNop(), conf)
}

func NewValidator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	return validate, translator
}

func NewStack(t *testing.T) *Stack {
	t.Helper()

	conf := core.NewTestConfig()
	logger := NewLogger(conf)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, true, logger)
	validate, _ := NewValidator()
	db := inmemdb.Open()

	s := &Stack{
		Conf:             conf,
		DB:               db,
		Logger:           logger,
		Validate:         validate,
		Outbox:           emailsvc.NewOutbox(conf, logger),
		Gateway:          sandboxpay.NewGateway(conf),
		Publisher:        new(Publisher),
		UserRepo:         inmemdb.NewUserRepository(db),
		CourseRepo:       inmemdb.NewCourseRepository(db),
		CouponRepo:       inmemdb.NewCouponRepository(db),
		EnrollmentRepo:   inmemdb.NewEnrollmentRepository(db),
		PaymentRepo:      inmemdb.NewPaymentRepository(db),
		QARepo:           inmemdb.NewQARepository(db),
		NotificationRepo: inmemdb.NewNotificationRepository(db),
		CartRepo:         inmemdb.NewCartRepository(db),
	}
	s.Users = user.NewService(s.UserRepo)
	s.Courses = course.NewService(s.CourseRepo)
	s.Coupons = coupon.NewService(s.CouponRepo)
	s.Gate = access.NewGate(s.EnrollmentRepo)
	s.Notifications = notification.NewService(notification.Deps{
		Repo:      s.NotificationRepo,
		UserSvc:   s.Users,
		MailSvc:   s.Outbox,
		Publisher: s.Publisher,
		Logger:    logger,
	}, conf)
	s.Enrollments = enrollment.NewService(s.EnrollmentDeps(), conf)
	s.QA = qa.NewService(s.QADeps())
	s.Carts = cart.NewService(s.CartDeps(), conf)
	t.Cleanup(s.Notifications.Wait)
	return s
}

// QADeps returns the Q&A dependencies of the stack.
func (s *Stack) QADeps() qa.Deps {
	return qa.Deps{
		Repo:     s.QARepo,
		Courses:  s.Courses,
		Access:   s.Gate,
		Tx:       s.DB,
		Notifier: s.Notifications,
		Logger:   s.Logger,
	}
}

func (s *Stack) CartDeps() cart.Deps {
	return cart.Deps{
		Repo:        s.CartRepo,
		Courses:     s.Courses,
		Coupons:     s.Coupons,
		Enrollments: s.Enrollments,
		Tx:          s.DB,
		Logger:      s.Logger,
	}
}

// EnrollmentDeps returns the enrollment dependencies of the stack, for tests swapping one of them.
func (s *Stack) EnrollmentDeps() enrollment.Deps {
	return enrollment.Deps{
		Repo:        s.EnrollmentRepo,
		PaymentRepo: s.PaymentRepo,
		Courses:     s.Courses,
		Coupons:     s.Coupons,
		Gateway:     s.Gateway,
		Provisioner: enrollment.NewProgressProvisioner(s.CourseRepo),
		Tx:          s.DB,
		Notifier:    s.Notifications,
		Logger:      s.Logger,
	}
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

// CreateStudent is CreateUser for an active student named after uname.
func CreateStudent(t *testing.T, repo user.Repository, uname string) user.User {
	t.Helper()
	return CreateUser(t, repo, "Student "+uname, uname, uname+"@example.com", "", []string{user.RoleStudent}, true)
}

func CreateCourse(t *testing.T, svc course.Service, title string, price int64, published bool, instructorID ...string) course.Course {
	t.Helper()
	nc := course.NewCourse{Title: title, Price: price, Currency: "USD", IsPublished: published}
	if len(instructorID) > 0 {
		nc.InstructorID = instructorID[0]
	}
	crs, err := svc.Create(context.Background(), nc)
	if err != nil {
		t.Fatalf("createCourse() failed: %v", err)
	}
	return crs
}

func CreateCoupon(t *testing.T, svc coupon.Service, nc coupon.NewCoupon) coupon.Coupon {
	t.Helper()
	if nc.UsageLimitPerUser == 0 {
		nc.UsageLimitPerUser = 1
	}
	cpn, err := svc.Create(context.Background(), nc)
	if err != nil {
		t.Fatalf("createCoupon() failed: %v", err)
	}
	return cpn
}

// Enroll registers actor in a free course and returns the active enrollment.
func Enroll(t *testing.T, s *Stack, actor core.Actor, courseID string) enrollment.Enrollment {
	t.Helper()
	res, err := s.Enrollments.Register(context.Background(), actor, enrollment.RegisterRequest{
		CourseID: courseID,
		FullName: "Test Student",
		Email:    "student@example.com",
	})
	if err != nil {
		t.Fatalf("enroll() failed: %v", err)
	}
	return res.Enrollment
}
