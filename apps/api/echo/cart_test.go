package echoapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core/cart"
	"github.com/trezcool/academia/core/coupon"
	"github.com/trezcool/academia/testutil"
)

// guestDo sends a request on behalf of the guest session sid, if any.
func (app *testApp) guestDo(t *testing.T, method, path, sid string, data ...[]byte) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req, rec := newRequest(method, path, data...)
	if sid != "" {
		req.Header.Set("X-Session-ID", sid)
	}
	app.server.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func Test_cartApi_guest(t *testing.T) {
	app := newTestApp(t)
	crs := testutil.CreateCourse(t, app.Courses, "Distributed Systems", 10000, true)
	testutil.CreateCoupon(t, app.Coupons, coupon.NewCoupon{Code: "SAVE10", Name: "Save 10", Type: coupon.TypePercentage, Value: "10"})

	// a guest without a session is issued one
	rec, env := app.guestDo(t, http.MethodGet, "/api/cart", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sid := rec.Header().Get("X-Session-ID")
	require.NotEmpty(t, sid)
	var d cart.Detail
	decode(t, env, &d)
	assert.Equal(t, sid, d.SessionID)

	rec, env = app.guestDo(t, http.MethodPost, "/api/cart/items", sid, marshalObj(t, cart.AddItemRequest{CourseID: crs.ID}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	decode(t, env, &d)
	require.Len(t, d.Items, 1)

	rec, env = app.guestDo(t, http.MethodPost, "/api/cart/apply-coupon", sid, []byte(`{"code": "nope"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "coupon_not_found", env.Reason)
	assert.Contains(t, env.Errors, "code")

	rec, env = app.guestDo(t, http.MethodPost, "/api/cart/apply-coupon", sid, []byte(`{"code": "save10"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, env, &d)
	assert.EqualValues(t, 1000, d.DiscountAmount)
	assert.EqualValues(t, 9000, d.FinalAmount)

	rec, _ = app.guestDo(t, http.MethodDelete, "/api/cart/items/"+d.Items[0].ID, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code, "no session, no cart")

	rec, env = app.guestDo(t, http.MethodDelete, "/api/cart/items/"+d.Items[0].ID, sid)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, env, &d)
	assert.Empty(t, d.Items)

	rec, env = app.guestDo(t, http.MethodPost, "/api/cart/checkout", sid, []byte(`{}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "guests sign in to check out")
	assert.False(t, env.Success)
}

func Test_cartApi_user(t *testing.T) {
	app := newTestApp(t)
	usr := testutil.CreateStudent(t, app.UserRepo, "jane")
	token := app.token(t, usr)
	paid := testutil.CreateCourse(t, app.Courses, "Distributed Systems", 10000, true)
	free := testutil.CreateCourse(t, app.Courses, "Welcome", 0, true)

	// the guest fills a cart before signing in
	rec, _ := app.guestDo(t, http.MethodPost, "/api/cart/items", "guest-1", marshalObj(t, cart.AddItemRequest{CourseID: paid.ID}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	req, rec := newAuthRequest(http.MethodPost, "/api/cart/merge", token)
	req.Header.Set("X-Session-ID", "guest-1")
	app.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	var d cart.Detail
	decode(t, env, &d)
	assert.Equal(t, usr.ID, d.UserID)
	require.Len(t, d.Items, 1)

	tests := []httpTest{
		{name: "merge without session", method: http.MethodPost, path: "/api/cart/merge", wantCode: http.StatusBadRequest, wantErrors: []string{"session_id"}},
		{
			name: "add free course", method: http.MethodPost, path: "/api/cart/items", wantCode: http.StatusCreated,
			body: marshalObj(t, cart.AddItemRequest{CourseID: free.ID}),
		},
		{name: "add requires course", method: http.MethodPost, path: "/api/cart/items", body: []byte(`{}`), wantCode: http.StatusBadRequest, wantErrors: []string{"course_id"}},
		{
			name: "checkout requires buyer", method: http.MethodPost, path: "/api/cart/checkout", body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantErrors: []string{"full_name", "email"},
		},
	}
	for _, tt := range tests {
		tt.token = token

		t.Run(tt.name, func(t *testing.T) {
			app.run(t, tt)
		})
	}

	env = app.run(t, httpTest{
		method: http.MethodPost, path: "/api/cart/checkout", token: token,
		body: marshalObj(t, cart.CheckoutRequest{FullName: "Jane Doe", Email: "jane@example.com"}),
	})
	var res cart.CheckoutResult
	decode(t, env, &res)
	require.Len(t, res.Lines, 2)
	assert.Nil(t, res.Cart)
	for _, l := range res.Lines {
		require.NotNil(t, l.Enrollment, l.Error)
		assert.Equal(t, l.CourseID == paid.ID, l.Enrollment.PaymentRequired)
	}

	app.run(t, httpTest{method: http.MethodPost, path: "/api/cart/checkout", token: token, wantCode: http.StatusConflict, wantReason: "cart_empty",
		body: marshalObj(t, cart.CheckoutRequest{FullName: "Jane Doe", Email: "jane@example.com"}),
	})
}
