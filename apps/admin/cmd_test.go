package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/core/user"
	appfs "github.com/trezcool/academia/fs"
	"github.com/trezcool/academia/testutil"
)

func setup(t *testing.T) (*commandLine, *testutil.Stack) {
	s := testutil.NewStack(t)
	validate, translator := testutil.NewValidator()
	user.InitValidators(validate, translator)

	// start CLI
	return &commandLine{
		validate:      validate,
		usrSvc:        s.Users,
		courses:       s.Courses,
		coupons:       s.Coupons,
		enrollments:   s.Enrollments,
		notifications: s.Notifications,
		carts:         s.Carts,
	}, s
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.ErrorIs(t, err, tt.wantErr)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), tt.wantErrStr)
		}
	default:
		assert.NoError(t, err)
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli, _ := setup(t)

	err := cli.run([]string{"admin", "migrate", "up"})
	assert.ErrorIs(t, err, errNoDatabase)

	db, err := sqlx.Open("postgres", "postgres://academia@localhost/academia_test?sslmode=disable") // never dialed
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	cli.db = db

	gooseRunFunc = func(command string, db *sql.DB, dir string, args ...string) error {
		if _, err := fs.Stat(appfs.FS, dir); err != nil {
			return err
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "reviews", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	cli, s := setup(t)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-username", "ada"}, extra: extra{pwd: "pwd"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "-username", "ada", "-email", "ada@test.cd"}, wantErr: errHelp},
		{
			name: "unknown role", args: []string{"adduser", "-username", "ada", "-email", "ada@test.cd", "-role", "wizard:"},
			extra: extra{pwd: "pwd"}, wantErrStr: "unknown role",
		},
		{
			name: "instructor", args: []string{"adduser", "-username", "Ada", "-email", "ada@test.cd", "-name", "Ada L", "-role", "instructor:"},
			extra: extra{pwd: "pwd"},
		},
		{name: "promoted to admin", args: []string{"adduser", "-username", "ada", "-email", "ada@test.cd", "-admin"}, extra: extra{pwd: "pwd2"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}

	usr, err := s.Users.GetByUsernameOrEmail(context.Background(), "ada")
	require.NoError(t, err)
	assert.Equal(t, "Ada L", usr.Name)
	assert.ElementsMatch(t, user.AllRoles, usr.Roles)
	assert.True(t, usr.Active())
	assert.NoError(t, usr.CheckPassword("pwd2"))
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli, s := setup(t)

	usr := testutil.CreateUser(t, s.UserRepo, "User", "awe", "awe@test.cd", "mdr", nil, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "-username", "lol"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-username", "lol"}, extra: extra{pwd: "lol"}, wantErr: user.ErrNotFound},
		{name: "reset with username", args: []string{"resetpassword", "-username", usr.Username}, extra: extra{pwd: "lol"}},
		{name: "reset with email", args: []string{"resetpassword", "-username", usr.Email}, extra: extra{pwd: "lmao"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		readPasswordFunc = func(fd int) ([]byte, error) {
			if extra, ok := tt.extra.(extra); ok {
				return []byte(extra.pwd), nil
			}
			return nil, nil
		}

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err == nil {
				refreshed, err := s.Users.GetByID(context.Background(), usr.ID)
				require.NoError(t, err)
				assert.NoError(t, refreshed.CheckPassword(tt.extra.(extra).pwd))
			}
		})
	}
}

func Test_commandLine_addCourseAndCoupon(t *testing.T) {
	cli, s := setup(t)
	ctx := context.Background()

	tests := []cliTest{
		{name: "course: no title", args: []string{"addcourse"}, wantErr: errHelp},
		{name: "course: bad currency", args: []string{"addcourse", "-title", "Go", "-currency", "dollars"}, wantErrStr: "currency"},
		{name: "course", args: []string{"addcourse", "-title", "Concurrency in Go", "-price", "49900", "-published"}},
		{name: "coupon: no value", args: []string{"addcoupon", "-code", "SAVE10"}, wantErr: errHelp},
		{name: "coupon: above 100%", args: []string{"addcoupon", "-code", "SAVE150", "-name", "Too much", "-value", "150"}, wantErrStr: "100"},
		{name: "coupon", args: []string{"addcoupon", "-code", "save10", "-name", "Save 10", "-value", "10", "-limit", "100"}},
		{name: "coupon: duplicate", args: []string{"addcoupon", "-code", "SAVE10", "-name", "Save 10", "-value", "10"}, wantErr: coupon.ErrCodeExists},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}

	crss, err := s.Courses.Query(ctx, course.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, crss, 1)
	assert.Equal(t, int64(49900), crss[0].Price)
	assert.True(t, crss[0].IsPublished)

	cpns, err := s.Coupons.Query(ctx, coupon.QueryFilter{})
	require.NoError(t, err)
	require.Len(t, cpns, 1)
	assert.Equal(t, "SAVE10", cpns[0].Code)
	if assert.NotNil(t, cpns[0].UsageLimit) {
		assert.Equal(t, 100, *cpns[0].UsageLimit)
	}
}

func Test_commandLine_maintenance(t *testing.T) {
	cli, s := setup(t)
	ctx := context.Background()

	usr := testutil.CreateStudent(t, s.UserRepo, "jane")
	crs := testutil.CreateCourse(t, s.Courses, "Concurrency in Go", 0, true)
	enr := testutil.Enroll(t, s, usr.Actor(), crs.ID)

	// active enrollments have nothing to reset
	err := cli.run([]string{"admin", "resetactivation", "-enrollment", enr.ID})
	assert.ErrorIs(t, err, enrollment.ErrInvalidState)
	assert.ErrorIs(t, cli.run([]string{"admin", "resetactivation", "-enrollment", "nope"}), enrollment.ErrNotFound)
	assert.ErrorIs(t, cli.run([]string{"admin", "resetactivation"}), errHelp)

	// one vote notification, expired
	now := time.Now()
	notification.NowFunc = func() time.Time { return now.Add(-2 * s.Conf.Notification.VoteTTL) }
	t.Cleanup(func() { notification.NowFunc = time.Now })
	s.Notifications.Emit(ctx, notification.Event{
		Type: notification.TypeQuestionVoted, RecipientID: usr.ID, ActorID: "someone",
		Data: map[string]interface{}{"question_id": "q1", "question_title": "Why?", "direction": "up"},
	})
	notification.NowFunc = time.Now

	require.NoError(t, cli.run([]string{"admin", "purgenotifications"}))
	n, err := s.NotificationRepo.PurgeExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, n, "already purged")
}

func Test_commandLine_reconcilePayments(t *testing.T) {
	cli, s := setup(t)
	ctx := context.Background()

	usr := testutil.CreateStudent(t, s.UserRepo, "jane")
	crs := testutil.CreateCourse(t, s.Courses, "Concurrency in Go", 1000, true)
	res, err := s.Enrollments.Register(ctx, usr.Actor(), enrollment.RegisterRequest{
		CourseID: crs.ID, FullName: "Jane Doe", Email: "jane@example.com",
	})
	require.NoError(t, err)
	_, err = s.PaymentRepo.CreatePayment(ctx, payment.Payment{
		EnrollmentID: res.Enrollment.ID,
		UserID:       usr.ID,
		Method:       payment.MethodCard,
		Status:       payment.StatusPending,
		Amount:       1000,
		CreatedAt:    time.Now().Add(-time.Hour).UTC(),
	})
	require.NoError(t, err)

	require.NoError(t, cli.run([]string{"admin", "reconcilepayments"}))
	_, err = s.PaymentRepo.GetPendingPayment(ctx, res.Enrollment.ID)
	assert.ErrorIs(t, err, payment.ErrNotFound)
}

func Test_commandLine_purgeCarts(t *testing.T) {
	cli, s := setup(t)
	ctx := context.Background()

	crs := testutil.CreateCourse(t, s.Courses, "Concurrency in Go", 1000, true)
	stale := cart.Owner{SessionID: "stale"}
	_, err := s.Carts.AddItem(ctx, stale, cart.AddItemRequest{CourseID: crs.ID})
	require.NoError(t, err)

	later := time.Now().Add(s.Conf.Cart.TTL + time.Hour)
	cart.NowFunc = func() time.Time { return later }
	defer func() { cart.NowFunc = time.Now }()

	fresh := cart.Owner{SessionID: "fresh"}
	_, err = s.Carts.AddItem(ctx, fresh, cart.AddItemRequest{CourseID: crs.ID})
	require.NoError(t, err)

	require.NoError(t, cli.run([]string{"admin", "purgecarts"}))
	_, err = s.CartRepo.GetActiveCart(ctx, stale, false)
	assert.ErrorIs(t, err, cart.ErrNotFound)
	c, err := s.CartRepo.GetActiveCart(ctx, fresh, false)
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}
