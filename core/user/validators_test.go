package user

import (
	"context"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/academia/core"
	appfs "github.com/trezcool/academia/fs"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

type uniqueSvc struct {
	Service
	err error
}

func (svc uniqueSvc) CheckUniqueness(context.Context, string, string, ...User) error { return svc.err }

func newValidator() *validator.Validate {
	validate := validator.New()
	translator, _ := ut.New(en.New(), en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	InitValidators(validate, translator)
	return validate
}

func TestCheckPassword(t *testing.T) {
	LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsPath, nopLogger{})

	tests := []struct {
		name    string
		pwd     string
		wantTag string
	}{
		{name: "too short", pwd: "Ab1!", wantTag: pwdMinLenTag},
		{name: "whitespace", pwd: "Abc 123!xyz", wantTag: pwdNoSpaceTag},
		{name: "all numeric", pwd: "1234567890", wantTag: pwdNotAllNumTag},
		{name: "no special", pwd: "Abcdefg123", wantTag: pwdComplexityTag},
		{name: "no upper", pwd: "abcdefg123!", wantTag: pwdComplexityTag},
		{name: "similar to username", pwd: "Jdoe1234!", wantTag: pwdAttrSimTag},
		{name: "common", pwd: "P@ssw0rd1", wantTag: pwdNoCommonTag},
		{name: "valid", pwd: "x7!Lq#v9Tz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantTag, checkPassword(tt.pwd, "John Doe", "jdoe1234", "john@doe.test"))
		})
	}
}

func TestNewUser_Validate(t *testing.T) {
	validate := newValidator()
	valid := func() NewUser {
		return NewUser{
			Name:            "Jane Learner",
			Username:        "jane_learner",
			Email:           "Jane@Example.com ",
			Password:        "x7!Lq#v9Tz",
			PasswordConfirm: "x7!Lq#v9Tz",
			Roles:           []string{RoleStudent},
		}
	}

	tests := []struct {
		name    string
		mutate  func(nu *NewUser)
		svcErr  error
		wantErr bool
	}{
		{name: "valid", mutate: func(nu *NewUser) {}},
		{name: "missing name", mutate: func(nu *NewUser) { nu.Name = " " }, wantErr: true},
		{name: "no username nor email", mutate: func(nu *NewUser) { nu.Username, nu.Email = "", "" }, wantErr: true},
		{name: "password mismatch", mutate: func(nu *NewUser) { nu.PasswordConfirm = "other" }, wantErr: true},
		{name: "unknown role", mutate: func(nu *NewUser) { nu.Roles = []string{"wizard:"} }, wantErr: true},
		{name: "duplicate", mutate: func(nu *NewUser) {}, svcErr: core.NewValidationError(ErrEmailExists), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nu := valid()
			tt.mutate(&nu)
			err := nu.Validate(context.Background(), validate, uniqueSvc{err: tt.svcErr})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "jane@example.com", nu.Email)
		})
	}
}

func TestMaxRolePriority(t *testing.T) {
	assert.Equal(t, 30, MaxRolePriority([]string{RoleStudent, RoleAdminOwner}))
	assert.Equal(t, 15, MaxRolePriority([]string{RoleTA, RoleInstructor}))
	assert.Equal(t, 0, MaxRolePriority(nil))
}
