package sqlxrepos_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/course"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/notification"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/storage/database"
	sqlxrepos "github.com/trezcool/academia/storage/database/sqlx"
	"github.com/trezcool/academia/testutil"
)

func TestUserRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	repo := sqlxrepos.NewUserRepository(db)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Ada", "ada", "ada@test.cd", "pwd", []string{user.RoleInstructor}, true)

	tests := []struct {
		name    string
		filter  user.GetFilter
		wantErr error
	}{
		{name: "by id", filter: user.GetFilter{ID: usr.ID}},
		{name: "by username", filter: user.GetFilter{Username: "ada"}},
		{name: "by username or email", filter: user.GetFilter{UsernameOrEmail: []string{"ada@test.cd"}}},
		{name: "bogus id", filter: user.GetFilter{ID: "nope"}, wantErr: user.ErrNotFound},
		{name: "unknown", filter: user.GetFilter{Email: "bob@test.cd"}, wantErr: user.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.GetUser(ctx, tt.filter)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, usr.ID, got.ID)
			assert.Equal(t, []string{user.RoleInstructor}, got.Roles)
			assert.NoError(t, got.CheckPassword("pwd"))
		})
	}

	assert.ErrorIs(t, repo.CheckUniqueness(ctx, "ada", "other@test.cd", nil), user.ErrUsernameExists)
	assert.NoError(t, repo.CheckUniqueness(ctx, "ada", "ada@test.cd", []user.User{usr}))
}

func TestEnrollmentFlow(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	tx := database.NewTransactor(db)
	users := sqlxrepos.NewUserRepository(db)
	courses := sqlxrepos.NewCourseRepository(db)
	coupons := sqlxrepos.NewCouponRepository(db)
	enrollments := sqlxrepos.NewEnrollmentRepository(db)
	payments := sqlxrepos.NewPaymentRepository(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	student := testutil.CreateStudent(t, users, "jane")
	crs, err := courses.CreateCourse(ctx, course.Course{Title: "Concurrency in Go", Price: 299000, Currency: "USD", IsPublished: true, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	cpn := coupon.Coupon{
		Code: "SAVE10", Name: "Save 10", Type: coupon.TypePercentage, Value: decimal.NewFromInt(10),
		UsageLimitPerUser: 1, ValidFrom: now.Add(-time.Hour), Status: coupon.StatusActive, CreatedAt: now, UpdatedAt: now,
	}
	_, err = coupons.CreateCoupon(ctx, cpn)
	require.NoError(t, err)
	_, err = coupons.CreateCoupon(ctx, cpn)
	assert.ErrorIs(t, err, coupon.ErrCodeExists)

	code := cpn.Code
	enr := enrollment.Enrollment{
		UserID: student.ID, CourseID: crs.ID, FullName: "Jane Doe", Email: "jane@test.cd",
		Status: enrollment.StatusPaymentPending, PaymentStatus: payment.StatusPending,
		PaymentAmount: 299000, DiscountAmount: 29900, DiscountCode: &code, FinalAmount: 269100, Currency: "USD",
		EnrolledAt: now, MaxRetries: 3, CreatedAt: now, UpdatedAt: now,
	}
	enr, err = enrollments.CreateEnrollment(ctx, enr)
	require.NoError(t, err)

	_, err = enrollments.CreateEnrollment(ctx, enrollment.Enrollment{
		UserID: student.ID, CourseID: crs.ID, FullName: "Jane Doe", Email: "jane@test.cd",
		Status: enrollment.StatusPending, PaymentStatus: payment.StatusPending, Currency: "USD",
		EnrolledAt: now, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, enrollment.ErrAlreadyEnrolled)

	// payment and status change commit together
	err = tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		locked, err := enrollments.GetEnrollment(ctx, enr.ID, true, exec)
		if err != nil {
			return err
		}
		if _, err = payments.CreatePayment(ctx, payment.Payment{
			EnrollmentID: locked.ID, Amount: locked.FinalAmount, Currency: locked.Currency,
			UserID: student.ID, Method: payment.MethodCard, Status: payment.StatusCompleted, CreatedAt: now, UpdatedAt: now,
		}, exec); err != nil {
			return err
		}
		locked.Status = enrollment.StatusEnrolled
		locked.PaymentStatus = payment.StatusCompleted
		_, err = enrollments.UpdateEnrollment(ctx, locked, exec)
		return err
	})
	require.NoError(t, err)

	got, err := enrollments.GetEnrollment(ctx, enr.ID, false)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusEnrolled, got.Status)
	if assert.NotNil(t, got.DiscountCode) {
		assert.Equal(t, "SAVE10", *got.DiscountCode)
	}
	pmts, err := payments.QueryPayments(ctx, enr.ID)
	require.NoError(t, err)
	require.Len(t, pmts, 1)
	assert.Equal(t, int64(269100), pmts[0].Amount)

	// a failed unit of work leaves nothing behind
	err = tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
		locked, err := enrollments.GetEnrollment(ctx, enr.ID, true, exec)
		if err != nil {
			return err
		}
		locked.Status = enrollment.StatusCancelled
		if _, err = enrollments.UpdateEnrollment(ctx, locked, exec); err != nil {
			return err
		}
		return enrollment.ErrInvalidState
	})
	assert.ErrorIs(t, err, enrollment.ErrInvalidState)
	got, err = enrollments.GetEnrollment(ctx, enr.ID, false)
	require.NoError(t, err)
	assert.Equal(t, enrollment.StatusEnrolled, got.Status)

	_, err = enrollments.GetEnrollment(ctx, "nope", false)
	assert.ErrorIs(t, err, enrollment.ErrNotFound)
}

func TestCouponUsageLimit_Concurrent(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	tx := database.NewTransactor(db)
	coupons := coupon.NewService(sqlxrepos.NewCouponRepository(db))

	limit := 3
	now := time.Now().UTC()
	_, err := sqlxrepos.NewCouponRepository(db).CreateCoupon(ctx, coupon.Coupon{
		Code: "FIRST3", Name: "First three", Type: coupon.TypePercentage, Value: decimal.NewFromInt(50),
		UsageLimit: &limit, UsageLimitPerUser: 1, ValidFrom: now.Add(-time.Hour), Status: coupon.StatusActive,
		CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tx.WithinTx(ctx, func(ctx context.Context, exec core.DBExecutor) error {
				_, err := coupons.Apply(ctx, coupon.ApplyRequest{
					Code:         "FIRST3",
					OrderAmount:  10000,
					UserID:       uuid.New().String(),
					EnrollmentID: uuid.New().String(),
				}, exec)
				return err
			})
		}(i)
	}
	wg.Wait()

	var ok, exceeded int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, coupon.ErrLimitExceeded):
			exceeded++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, limit, ok)
	assert.Equal(t, n-limit, exceeded)

	cpn, err := sqlxrepos.NewCouponRepository(db).GetCoupon(ctx, "FIRST3", false)
	require.NoError(t, err)
	assert.Equal(t, limit, cpn.TotalUsed)
}

func TestNotificationRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	repo := sqlxrepos.NewNotificationRepository(db)
	usr := testutil.CreateStudent(t, sqlxrepos.NewUserRepository(db), "jane")

	now := time.Now().UTC().Truncate(time.Microsecond)
	expired := now.Add(-time.Hour)
	for _, ntf := range []notification.Notification{
		{Type: notification.TypeQuestionAnswered, Title: "New answer"},
		{Type: notification.TypeCommentAdded, Title: "New comment"},
		{Type: notification.TypeQuestionVoted, Title: "Vote", ExpiresAt: &expired},
	} {
		ntf.RecipientID = usr.ID
		ntf.Data = map[string]interface{}{"question_id": "q1"}
		ntf.CreatedAt, ntf.UpdatedAt = now, now
		_, err := repo.CreateNotification(ctx, ntf)
		require.NoError(t, err)
	}

	stats, err := repo.Stats(ctx, usr.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Unread)

	n, err := repo.MarkAllRead(ctx, usr.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	unread, err := repo.CountUnread(ctx, usr.ID, now)
	require.NoError(t, err)
	assert.Zero(t, unread)

	n, err = repo.PurgeExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCartRepository(t *testing.T) {
	db := testutil.PrepareDB(t)
	ctx := context.Background()
	users := sqlxrepos.NewUserRepository(db)
	courses := sqlxrepos.NewCourseRepository(db)
	repo := sqlxrepos.NewCartRepository(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	student := testutil.CreateStudent(t, users, "jane")
	crs, err := courses.CreateCourse(ctx, course.Course{Title: "Concurrency in Go", Price: 299000, Currency: "USD", IsPublished: true, CreatedAt: now, UpdatedAt: now})
	require.NoError(t, err)

	newCart := func(owner cart.Owner, expiresAt time.Time) cart.Cart {
		return cart.Cart{UserID: owner.UserID, SessionID: owner.SessionID, Status: cart.StatusActive, CreatedAt: now, UpdatedAt: now, ExpiresAt: expiresAt}
	}

	guest := cart.Owner{SessionID: "guest-1"}
	gc, err := repo.CreateCart(ctx, newCart(guest, now.Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.CreateCart(ctx, newCart(guest, now.Add(time.Hour)))
	assert.ErrorIs(t, err, cart.ErrExists, "one active cart per session")

	it, err := repo.AddItem(ctx, cart.Item{CartID: gc.ID, CourseID: crs.ID, CourseTitle: crs.Title, Price: crs.Price, Currency: crs.Currency, AddedAt: now})
	require.NoError(t, err)
	_, err = repo.AddItem(ctx, cart.Item{CartID: gc.ID, CourseID: crs.ID, CourseTitle: crs.Title, Price: crs.Price, Currency: crs.Currency, AddedAt: now})
	assert.ErrorIs(t, err, cart.ErrItemExists)

	got, err := repo.GetActiveCart(ctx, guest, true)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, it.ID, got.Items[0].ID)
	assert.Equal(t, crs.ID, got.Items[0].CourseID)
	assert.True(t, now.Equal(got.Items[0].AddedAt))
	assert.Nil(t, got.DiscountCode)

	// the guest cart becomes the user's
	code := "SAVE10"
	got.UserID, got.SessionID, got.DiscountCode = student.ID, "", &code
	_, err = repo.UpdateCart(ctx, got)
	require.NoError(t, err)
	_, err = repo.GetActiveCart(ctx, guest, false)
	assert.ErrorIs(t, err, cart.ErrNotFound)
	got, err = repo.GetActiveCart(ctx, cart.Owner{UserID: student.ID}, false)
	require.NoError(t, err)
	assert.Equal(t, gc.ID, got.ID)
	require.NotNil(t, got.DiscountCode)
	assert.Equal(t, code, *got.DiscountCode)

	_, err = repo.CreateCart(ctx, newCart(cart.Owner{UserID: student.ID}, now.Add(time.Hour)))
	assert.ErrorIs(t, err, cart.ErrExists, "one active cart per user")

	assert.ErrorIs(t, repo.DeleteItem(ctx, gc.ID, "nope"), cart.ErrItemNotFound)
	assert.ErrorIs(t, repo.DeleteItem(ctx, gc.ID, uuid.New().String()), cart.ErrItemNotFound)
	require.NoError(t, repo.DeleteItem(ctx, gc.ID, it.ID))

	expired, err := repo.CreateCart(ctx, newCart(cart.Owner{SessionID: "guest-2"}, now.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = repo.AddItem(ctx, cart.Item{CartID: expired.ID, CourseID: crs.ID, CourseTitle: crs.Title, Price: crs.Price, Currency: crs.Currency, AddedAt: now})
	require.NoError(t, err)

	n, err := repo.PurgeCarts(ctx, now, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = repo.GetActiveCart(ctx, cart.Owner{SessionID: "guest-2"}, false)
	assert.ErrorIs(t, err, cart.ErrNotFound)
}
