package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/academia/core"
	"github.com/trezcool/academia/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(name, uname, email, pwd string, isAdmin bool, roles ...string) error {
	ctx := context.Background()
	usr := user.User{
		Name:     core.CleanString(name),
		Username: uname,
		Email:    email,
		Roles:    roles,
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}
	if len(usr.Roles) == 0 {
		usr.Roles = []string{user.RoleStudent}
	}
	for _, r := range usr.Roles {
		if user.RolePriority(r) == 0 {
			return fmt.Errorf("unknown role %q", r)
		}
	}
	usr.SetActive(true)
	if err := usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	if _, err := cli.usrSvc.UpdateOrCreate(ctx, usr); err != nil {
		return errors.Wrap(err, "saving user")
	}
	return nil
}
