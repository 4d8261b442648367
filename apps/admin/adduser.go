package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/user"
)

// addUser updates or creates a user.User
func (cli *commandLine) addUser(orgID, name, uname, email, pwd string, isAdmin bool) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if name = core.CleanString(name); name == "" {
		name = uname
	}

	lookup := uname
	if lookup == "" {
		lookup = email
	}
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, lookup)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			return errors.Wrap(err, "finding user")
		}
		usr = user.User{OrganizationID: orgID, Username: uname, Email: email, Roles: []string{user.RoleMember}}
		if err = cli.usrSvc.CheckUniqueness(ctx, uname, email); err != nil {
			return err
		}
	} else if usr.OrganizationID != orgID {
		return errors.Errorf("user %q belongs to another organization", lookup)
	}
	usr.Name = name
	if isAdmin {
		usr.Roles = []string{user.RoleOwner}
	}
	usr.SetActive(true)

	if err = passwordError(pwd, usr); err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}
	if _, err = cli.usrSvc.Save(ctx, usr); err != nil {
		return errors.Wrap(err, "saving user")
	}
	return nil
}
