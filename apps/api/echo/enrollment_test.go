package echoapi_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/access"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/core/enrollment"
	"github.com/trezcool/academia/core/payment"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/testutil"
)

var (
	validCard = payment.Details{CardNumber: "4242424242424242", ExpiryMonth: 12, ExpiryYear: 2099, CVV: "123", HolderName: "Jane Doe"}
	poorCard  = payment.Details{CardNumber: "4111111111140011", ExpiryMonth: 12, ExpiryYear: 2099, CVV: "123", HolderName: "Jane Doe"}
)

func registerBody(t *testing.T, courseID, code string) []byte {
	return marshalObj(t, enrollment.RegisterRequest{CourseID: courseID, FullName: "Jane Doe", Email: "jane@example.com", DiscountCode: code})
}

func Test_enrollmentApi_freeCourse(t *testing.T) {
	app := newTestApp(t)
	student := testutil.CreateStudent(t, app.UserRepo, "jane")
	token := app.token(t, student)
	crs := testutil.CreateCourse(t, app.Courses, "Go Basics", 0, true)

	env := app.run(t, httpTest{
		method: http.MethodPost, path: "/api/enrollments/register", token: token,
		body: registerBody(t, crs.ID, ""), wantCode: http.StatusCreated,
	})
	var res enrollment.RegisterResult
	decode(t, env, &res)
	assert.True(t, res.AccessImmediate)
	assert.False(t, res.PaymentRequired)
	assert.Equal(t, enrollment.StatusActive, res.Enrollment.Status)

	env = app.run(t, httpTest{path: "/api/enrollments/check-access/" + crs.ID, token: token})
	var d access.Decision
	decode(t, env, &d)
	assert.True(t, d.HasAccess)
	assert.Equal(t, res.Enrollment.ID, d.EnrollmentID)

	// enrolling twice
	app.run(t, httpTest{
		method: http.MethodPost, path: "/api/enrollments/register", token: token,
		body: registerBody(t, crs.ID, ""), wantCode: http.StatusConflict, wantReason: "already_enrolled",
	})

	env = app.run(t, httpTest{path: "/api/enrollments/my-courses?status=active", token: token})
	var list enrollment.ListResult
	decode(t, env, &list)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Pagination.TotalItems)

	app.run(t, httpTest{path: "/api/enrollments/my-courses?status=bogus", token: token, wantCode: http.StatusBadRequest, wantErrors: []string{"status"}})
}

func Test_enrollmentApi_paidCourse(t *testing.T) {
	app := newTestApp(t)
	student := testutil.CreateStudent(t, app.UserRepo, "jane")
	token := app.token(t, student)
	crs := testutil.CreateCourse(t, app.Courses, "Distributed Systems", 299000, true)
	testutil.CreateCoupon(t, app.Coupons, coupon.NewCoupon{Code: "SAVE10", Name: "Save 10", Type: coupon.TypePercentage, Value: "10"})

	env := app.run(t, httpTest{
		method: http.MethodPost, path: "/api/enrollments/register", token: token,
		body: registerBody(t, crs.ID, "save10"), wantCode: http.StatusCreated,
	})
	var reg enrollment.RegisterResult
	decode(t, env, &reg)
	require.True(t, reg.PaymentRequired)
	assert.NotEmpty(t, reg.PaymentURL)
	assert.Equal(t, int64(269100), reg.Enrollment.FinalAmount)
	enrID := reg.Enrollment.ID

	env = app.run(t, httpTest{path: "/api/enrollments/check-access/" + crs.ID, token: token})
	var d access.Decision
	decode(t, env, &d)
	assert.False(t, d.HasAccess)
	assert.Equal(t, access.ReasonPaymentPending, d.Reason)

	payBody := func(details payment.Details) []byte {
		return marshalObj(t, enrollment.PaymentRequest{EnrollmentID: enrID, Method: payment.MethodCard, Details: details})
	}
	tests := []httpTest{
		{
			name: "required fields", body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantErrors: []string{"enrollment_id", "method"},
		},
		{
			name: "card details required", body: marshalObj(t, enrollment.PaymentRequest{EnrollmentID: enrID, Method: payment.MethodCard}),
			wantCode: http.StatusBadRequest,
		},
		{name: "declined card", body: payBody(poorCard), wantCode: http.StatusPaymentRequired, wantReason: "insufficient_fund"},
		{name: "paid", body: payBody(validCard)},
		{name: "paid twice", body: payBody(validCard), wantCode: http.StatusConflict, wantReason: "invalid_state"},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/enrollments/payment"
		tt.token = token

		t.Run(tt.name, func(t *testing.T) {
			env := app.run(t, tt)
			switch tt.name {
			case "declined card":
				assert.True(t, env.Retryable)
			case "paid":
				var res enrollment.PaymentResult
				decode(t, env, &res)
				assert.Equal(t, payment.StatusCompleted, res.Payment.Status)
				assert.Equal(t, enrollment.StatusEnrolled, res.Enrollment.Status)
			}
		})
	}

	env = app.run(t, httpTest{method: http.MethodPost, path: "/api/enrollments/" + enrID + "/activate", token: token})
	var enr enrollment.Enrollment
	decode(t, env, &enr)
	assert.Equal(t, enrollment.StatusActive, enr.Status)
	assert.True(t, enr.AccessGranted)

	env = app.run(t, httpTest{path: "/api/enrollments/" + enrID, token: token})
	var detail enrollment.Detail
	decode(t, env, &detail)
	assert.Len(t, detail.Payments, 2)
}

func Test_enrollmentApi_permissions(t *testing.T) {
	app := newTestApp(t)
	owner := testutil.CreateStudent(t, app.UserRepo, "jane")
	other := testutil.CreateStudent(t, app.UserRepo, "john")
	admin := testutil.CreateUser(t, app.UserRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)
	crs := testutil.CreateCourse(t, app.Courses, "Distributed Systems", 299000, true)
	enr := testutil.Enroll(t, app.Stack, owner.Actor(), crs.ID)

	tests := []httpTest{
		{name: "auth required", path: "/api/enrollments/" + enr.ID, wantCode: http.StatusUnauthorized},
		{name: "owner", path: "/api/enrollments/" + enr.ID, token: app.token(t, owner)},
		{name: "not the owner", path: "/api/enrollments/" + enr.ID, token: app.token(t, other), wantCode: http.StatusForbidden, wantReason: "permission_denied"},
		{name: "admin", path: "/api/enrollments/" + enr.ID, token: app.token(t, admin)},
		{name: "unknown", path: "/api/enrollments/nope", token: app.token(t, owner), wantCode: http.StatusNotFound, wantReason: "enrollment_not_found"},
		{
			name: "reset requires admin", method: http.MethodPost, path: "/api/enrollments/" + enr.ID + "/reset-activation",
			token: app.token(t, owner), wantCode: http.StatusForbidden,
		},
		{
			name: "unpaid cannot be activated", method: http.MethodPost, path: "/api/enrollments/" + enr.ID + "/activate",
			token: app.token(t, owner), wantCode: http.StatusConflict,
		},
		{name: "cancel", method: http.MethodPost, path: "/api/enrollments/" + enr.ID + "/cancel", token: app.token(t, owner)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app.run(t, tt)
		})
	}
}
