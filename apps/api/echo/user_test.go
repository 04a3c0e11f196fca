package echoapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/academia/apps/api/echo"
	"github.com/trezcool/academia/core/user"
	"github.com/trezcool/academia/testutil"
)

const testPassword = "s3cure-passw0rd!"

func Test_userApi_login(t *testing.T) {
	app := newTestApp(t)

	testutil.CreateUser(t, app.UserRepo, "Hero", "hero", "hero@test.cd", testPassword, []string{user.RoleStudent}, true)
	testutil.CreateUser(t, app.UserRepo, "N Dog", "ndog", "ndog@test.cd", testPassword, []string{user.RoleStudent}, false)

	tests := []httpTest{
		{name: "required fields", body: []byte(`{}`), wantCode: http.StatusBadRequest, wantReason: "validation_error", wantErrors: []string{"username", "password"}},
		{name: "malformed body", body: []byte(`{"username":`), wantCode: http.StatusBadRequest, wantReason: "validation_error"},
		{
			name: "unknown user", body: marshalObj(t, echoapi.LoginRequest{Username: "nobody", Password: testPassword}),
			wantCode: http.StatusUnauthorized, wantReason: "unauthorized",
		},
		{
			name: "wrong password", body: marshalObj(t, echoapi.LoginRequest{Username: "hero", Password: "wrong"}),
			wantCode: http.StatusUnauthorized, wantReason: "unauthorized",
		},
		{
			name: "inactive user", body: marshalObj(t, echoapi.LoginRequest{Username: "ndog", Password: testPassword}),
			wantCode: http.StatusForbidden, wantReason: "permission_denied",
		},
		{name: "by username", body: marshalObj(t, echoapi.LoginRequest{Username: " HERO ", Password: testPassword})},
		{name: "by email", body: marshalObj(t, echoapi.LoginRequest{Username: "hero@test.cd", Password: testPassword})},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/login"

		t.Run(tt.name, func(t *testing.T) {
			env := app.run(t, tt)
			if tt.wantCode == 0 {
				var res echoapi.LoginResponse
				decode(t, env, &res)
				assert.NotEmpty(t, res.Token)
			}
		})
	}

	usr, err := app.Users.GetByUsernameOrEmail(context.Background(), "hero")
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())
}

func Test_userApi_refreshToken(t *testing.T) {
	app := newTestApp(t)

	naughty := testutil.CreateUser(t, app.UserRepo, "N Dog", "ndog", "ndog@test.cd", "", []string{user.RoleStudent}, false)
	student := testutil.CreateStudent(t, app.UserRepo, "hero")

	stale := time.Now().Add(-2 * app.Conf.Server.JWTRefreshExpirationDelta).Unix()
	staleToken, err := echoapi.GenerateToken(app.Conf, echoapi.GetUserClaims(app.Conf, student, stale))
	require.NoError(t, err)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantReason: "unauthorized"},
		{name: "garbage token", token: "not-a-jwt", wantCode: http.StatusUnauthorized, wantReason: "unauthorized"},
		{name: "inactive user not allowed", token: app.token(t, naughty), wantCode: http.StatusForbidden},
		{name: "refresh period expired", token: staleToken, wantCode: http.StatusForbidden},
		{name: "token refreshed", token: app.token(t, student)},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/api/auth/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			env := app.run(t, tt)
			if tt.wantCode == 0 {
				var res echoapi.LoginResponse
				decode(t, env, &res)
				assert.NotEmpty(t, res.Token) // cannot guess the new token
			}
		})
	}
}

func Test_userApi_me(t *testing.T) {
	app := newTestApp(t)

	student := testutil.CreateStudent(t, app.UserRepo, "hero")
	admin := testutil.CreateUser(t, app.UserRepo, "Admin", "admin", "admin@test.cd", "", []string{user.RoleAdmin}, true)

	env := app.run(t, httpTest{path: "/api/users/me", token: app.token(t, student)})
	var me user.User
	decode(t, env, &me)
	assert.Equal(t, student.ID, me.ID)
	assert.Equal(t, "hero", me.Username)

	app.run(t, httpTest{path: "/api/users/roles", token: app.token(t, student), wantCode: http.StatusForbidden, wantReason: "permission_denied"})
	app.run(t, httpTest{path: "/api/users/roles", token: app.token(t, admin)})

	req, rec := newRequest(http.MethodGet, "/api/users/me")
	app.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
