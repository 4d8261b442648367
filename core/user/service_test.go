package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/orgpanel/core"
	"github.com/trezcool/orgpanel/core/user"
	"github.com/trezcool/orgpanel/storage/database/inmem"
)

func newService(t *testing.T) *user.Service {
	t.Helper()
	return user.NewService(inmemdb.NewUserRepository(inmemdb.Open()))
}

func createUser(t *testing.T, svc *user.Service, name, uname, email string, roles ...string) user.User {
	t.Helper()
	usr, err := svc.Create(context.Background(), user.NewUser{
		OrganizationID: "org1",
		Name:           name,
		Username:       uname,
		Email:          email,
		Password:       "Gr8-Forest-Walk",
		Roles:          roles,
	})
	require.NoError(t, err)
	return usr
}

func TestService_Create(t *testing.T) {
	svc := newService(t)

	usr := createUser(t, svc, "Joseph", "joseph", "joseph@test.cd")
	assert.NotEmpty(t, usr.ID)
	assert.Equal(t, "org1", usr.OrganizationID)
	assert.Equal(t, []string{user.RoleMember}, usr.Roles)
	assert.True(t, usr.Active())
	assert.NoError(t, usr.CheckPassword("Gr8-Forest-Walk"))
	assert.Error(t, usr.CheckPassword("nope"))

	got, err := svc.GetByUsernameOrEmail(context.Background(), "  JOSEPH@test.cd ")
	require.NoError(t, err)
	assert.Equal(t, usr.ID, got.ID)

	_, err = svc.GetByID(context.Background(), "unknown")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func TestService_CheckUniqueness(t *testing.T) {
	svc := newService(t)
	usr := createUser(t, svc, "Joseph", "joseph", "joseph@test.cd")

	tests := []struct {
		name      string
		uname     string
		email     string
		excluded  []string
		wantField string
	}{
		{name: "free", uname: "marie", email: "marie@test.cd"},
		{name: "username taken", uname: "joseph", email: "marie@test.cd", wantField: "username"},
		{name: "email taken", uname: "marie", email: "joseph@test.cd", wantField: "email"},
		{name: "excluded", uname: "joseph", email: "joseph@test.cd", excluded: []string{usr.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckUniqueness(context.Background(), tt.uname, tt.email, tt.excluded...)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Contains(t, verr.FieldMap(), tt.wantField)
		})
	}
}

func TestService_Query(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	createUser(t, svc, "Joseph", "joseph", "joseph@test.cd", user.RoleAdmin)
	time.Sleep(time.Millisecond)
	createUser(t, svc, "Marie", "marie", "marie@test.cd", user.RoleTeamLeader)
	time.Sleep(time.Millisecond)
	paul := createUser(t, svc, "Paul", "paul", "paul@test.cd")
	paul.SetActive(false)
	paul, err := svc.Save(ctx, paul)
	require.NoError(t, err)

	ids := func(users []user.User) []string {
		res := make([]string, 0, len(users))
		for _, u := range users {
			res = append(res, u.Username)
		}
		return res
	}

	tests := []struct {
		name     string
		filter   user.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "all, newest first", filter: user.QueryFilter{OrganizationID: "org1"}, want: []string{"paul", "marie", "joseph"}},
		{name: "other org", filter: user.QueryFilter{OrganizationID: "org2"}, want: []string{}},
		{name: "search", filter: user.QueryFilter{Search: "MAR"}, want: []string{"marie"}},
		{name: "role", filter: user.QueryFilter{Roles: []string{user.RoleAdmin, user.RoleTeamLeader}}, want: []string{"marie", "joseph"}},
		{name: "inactive", filter: user.QueryFilter{IsActive: core.BoolPtr(false)}, want: []string{"paul"}},
		{name: "ordering", ordering: []core.DBOrdering{{Field: "name", Ascending: true}}, want: []string{"joseph", "marie", "paul"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := svc.Query(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(users))
		})
	}
}

func TestService_SetPasswordAndLastLogin(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	usr := createUser(t, svc, "Joseph", "joseph", "")

	usr, err := svc.SetPassword(ctx, usr, "N3w-Password!")
	require.NoError(t, err)
	assert.NoError(t, usr.CheckPassword("N3w-Password!"))

	usr, err = svc.SetLastLogin(ctx, usr)
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())

	require.NoError(t, svc.Delete(ctx, usr.ID))
	_, err = svc.GetByID(ctx, usr.ID)
	assert.Equal(t, user.ErrNotFound, err)
}
