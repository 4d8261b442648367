package tests

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/orgpanel/apps/api/echo"
	"github.com/trezcool/orgpanel/core/user"
)

func usernames(users []user.User) []string {
	names := make([]string, 0, len(users))
	for _, usr := range users {
		names = append(names, usr.Username)
	}
	return names
}

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	joseph := env.createUser(t, "org1", "joseph", []string{user.RoleAdmin}, true)
	env.createUser(t, "org1", "naughty", nil, false)

	tests := []struct {
		name     string
		data     LoginRequest
		wantCode int
		wantErr  string
	}{
		{name: "missing fields", data: LoginRequest{}, wantCode: http.StatusBadRequest},
		{name: "unknown user", data: LoginRequest{Username: "nobody", Password: testPassword}, wantCode: http.StatusBadRequest, wantErr: "authentication failed"},
		{name: "wrong password", data: LoginRequest{Username: "joseph", Password: "nope"}, wantCode: http.StatusBadRequest, wantErr: "authentication failed"},
		{name: "deactivated", data: LoginRequest{Username: "naughty", Password: testPassword}, wantCode: http.StatusForbidden, wantErr: "account deactivated"},
		{name: "by username", data: LoginRequest{Username: " JOSEPH ", Password: testPassword}, wantCode: http.StatusOK},
		{name: "by email", data: LoginRequest{Username: "joseph@test.cd", Password: testPassword}, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/users/login", "", tt.data)
			checkCode(t, rec, tt.wantCode)
			if tt.wantErr != "" {
				var herr httpErr
				decode(t, rec, &herr)
				assert.Equal(t, tt.wantErr, herr.Error)
			}
			if tt.wantCode != http.StatusOK {
				return
			}

			var resp LoginResponse
			decode(t, rec, &resp)
			claims := new(Claims)
			_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(env.conf.SecretKey), nil
			})
			require.NoError(t, err)
			assert.Equal(t, joseph.ID, claims.Subject)
			assert.Equal(t, "org1", claims.OrganizationID)
			assert.True(t, claims.IsAdmin)
		})
	}

	usr, err := env.usrSvc.GetByID(env.ctx, joseph.ID)
	require.NoError(t, err)
	assert.False(t, usr.LastLogin.IsZero())
}

func Test_userApi_refreshToken(t *testing.T) {
	env := setup(t)
	joseph := env.createUser(t, "org1", "joseph", nil, true)

	rec := env.do(t, http.MethodPost, "/v1/users/token-refresh", "", nil)
	checkCode(t, rec, http.StatusUnauthorized)
	var herr httpErr
	decode(t, rec, &herr)
	assert.Equal(t, errMissingToken, herr)

	rec = env.do(t, http.MethodPost, "/v1/users/token-refresh", env.token(t, joseph), nil)
	checkCode(t, rec, http.StatusOK)
	var resp LoginResponse
	decode(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)

	naughty := env.createUser(t, "org1", "naughty", nil, false)
	rec = env.do(t, http.MethodPost, "/v1/users/token-refresh", env.token(t, naughty), nil)
	checkCode(t, rec, http.StatusForbidden)
}

func Test_userApi_query(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "org1", "admin", []string{user.RoleAdmin}, true)
	leader := env.createUser(t, "org1", "leader", []string{user.RoleTeamLeader}, true)
	env.createUser(t, "org1", "naughty", nil, false)
	env.createUser(t, "org2", "stranger", []string{user.RoleAdmin}, true)

	path := func(params map[string][]string) string {
		return "/v1/users?" + url.Values(params).Encode()
	}

	tests := []struct {
		name     string
		path     string
		token    string
		wantCode int
		want     []string
	}{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized},
		{name: "admin required", path: "/v1/users", token: env.token(t, leader), wantCode: http.StatusForbidden},
		{name: "own organization only", path: "/v1/users", token: env.token(t, admin), wantCode: http.StatusOK, want: []string{"admin", "leader", "naughty"}},
		{name: "search", path: path(map[string][]string{"search": {"LEAD"}}), token: env.token(t, admin), wantCode: http.StatusOK, want: []string{"leader"}},
		{name: "roles", path: path(map[string][]string{"role": {user.RoleAdmin, user.RoleTeamLeader}}), token: env.token(t, admin), wantCode: http.StatusOK, want: []string{"admin", "leader"}},
		{name: "inactive", path: path(map[string][]string{"is_active": {"false"}}), token: env.token(t, admin), wantCode: http.StatusOK, want: []string{"naughty"}},
		{name: "unknown role", path: path(map[string][]string{"role": {"lol"}}), token: env.token(t, admin), wantCode: http.StatusOK, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.path, tt.token, nil)
			checkCode(t, rec, tt.wantCode)
			if tt.wantCode != http.StatusOK {
				return
			}
			var users []user.User
			decode(t, rec, &users)
			assert.ElementsMatch(t, tt.want, usernames(users))
		})
	}

	t.Run("ordering", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, path(map[string][]string{"ordering": {"-username"}}), env.token(t, admin), nil)
		checkCode(t, rec, http.StatusOK)
		var users []user.User
		decode(t, rec, &users)
		assert.Equal(t, []string{"naughty", "leader", "admin"}, usernames(users))
	})
}

func Test_userApi_create(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "org1", "admin", []string{user.RoleAdmin}, true)
	leader := env.createUser(t, "org1", "leader", []string{user.RoleTeamLeader}, true)

	newUser := func(uname string, roles ...string) user.NewUser {
		return user.NewUser{
			Name:            "New " + uname,
			Username:        uname,
			Password:        testPassword,
			PasswordConfirm: testPassword,
			Roles:           roles,
		}
	}

	tests := []struct {
		name       string
		token      string
		data       user.NewUser
		wantCode   int
		wantFields []string
	}{
		{name: "admin required", token: env.token(t, leader), data: newUser("marie"), wantCode: http.StatusForbidden},
		{name: "invalid", token: env.token(t, admin), data: user.NewUser{}, wantCode: http.StatusBadRequest, wantFields: []string{"name", "password", "password_confirm", "username", "email"}},
		{name: "username taken", token: env.token(t, admin), data: newUser("leader"), wantCode: http.StatusBadRequest, wantFields: []string{"username"}},
		{name: "role above own", token: env.token(t, admin), data: newUser("marie", user.RoleOwner), wantCode: http.StatusBadRequest, wantFields: []string{"roles"}},
		{name: "ok", token: env.token(t, admin), data: newUser("marie", user.RoleZoneManager), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/v1/users/register", tt.token, tt.data)
			checkCode(t, rec, tt.wantCode)

			switch tt.wantCode {
			case http.StatusBadRequest:
				var flds map[string]string
				decode(t, rec, &flds)
				fields := make([]string, 0, len(flds))
				for f := range flds {
					fields = append(fields, f)
				}
				assert.ElementsMatch(t, tt.wantFields, fields)
			case http.StatusCreated:
				var usr user.User
				decode(t, rec, &usr)
				assert.Equal(t, "org1", usr.OrganizationID)
				assert.Equal(t, []string{user.RoleZoneManager}, usr.Roles)
				assert.True(t, usr.Active())
			}
		})
	}
}

func Test_userApi_retrieve(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "org1", "admin", []string{user.RoleAdmin}, true)
	member := env.createUser(t, "org1", "member", nil, true)
	other := env.createUser(t, "org1", "other", nil, true)
	stranger := env.createUser(t, "org2", "stranger", nil, true)

	tests := []struct {
		name     string
		token    string
		id       string
		wantCode int
	}{
		{name: "self", token: env.token(t, member), id: member.ID, wantCode: http.StatusOK},
		{name: "other user", token: env.token(t, member), id: other.ID, wantCode: http.StatusNotFound},
		{name: "admin", token: env.token(t, admin), id: other.ID, wantCode: http.StatusOK},
		{name: "admin, other organization", token: env.token(t, admin), id: stranger.ID, wantCode: http.StatusNotFound},
		{name: "unknown", token: env.token(t, admin), id: "nope", wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/v1/users/"+tt.id, tt.token, nil)
			checkCode(t, rec, tt.wantCode)
			if tt.wantCode == http.StatusOK {
				var usr user.User
				decode(t, rec, &usr)
				assert.Equal(t, tt.id, usr.ID)
			}
		})
	}
}

func Test_userApi_destroy(t *testing.T) {
	env := setup(t)
	admin := env.createUser(t, "org1", "admin", []string{user.RoleAdmin}, true)
	member := env.createUser(t, "org1", "member", nil, true)
	other := env.createUser(t, "org1", "other", nil, true)
	stranger := env.createUser(t, "org2", "stranger", nil, true)

	tests := []struct {
		name     string
		token    string
		id       string
		wantCode int
	}{
		{name: "member, self", token: env.token(t, member), id: member.ID, wantCode: http.StatusForbidden},
		{name: "member, other user", token: env.token(t, member), id: other.ID, wantCode: http.StatusNotFound},
		{name: "admin, self", token: env.token(t, admin), id: admin.ID, wantCode: http.StatusBadRequest},
		{name: "admin, other organization", token: env.token(t, admin), id: stranger.ID, wantCode: http.StatusNotFound},
		{name: "admin, unknown", token: env.token(t, admin), id: "nope", wantCode: http.StatusNotFound},
		{name: "admin", token: env.token(t, admin), id: other.ID, wantCode: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodDelete, "/v1/users/"+tt.id, tt.token, nil)
			checkCode(t, rec, tt.wantCode)
		})
	}

	rec := env.do(t, http.MethodGet, "/v1/users/"+other.ID, env.token(t, admin), nil)
	checkCode(t, rec, http.StatusNotFound)
	_, err := env.usrSvc.GetByID(env.ctx, stranger.ID)
	assert.NoError(t, err)
}

func Test_userApi_queryRoles(t *testing.T) {
	env := setup(t)
	member := env.createUser(t, "org1", "member", nil, true)

	rec := env.do(t, http.MethodGet, "/v1/users/roles", env.token(t, member), nil)
	checkCode(t, rec, http.StatusOK)
	var roles []user.Role
	decode(t, rec, &roles)
	assert.Equal(t, user.Roles, roles)
}
